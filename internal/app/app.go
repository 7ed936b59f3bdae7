// Package app wires a workspace store: open, migrate and seed the
// reference-task catalog.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"smartrust/internal/config"
	"smartrust/internal/db"
	"smartrust/internal/domain"
	"smartrust/internal/migrate"
	"smartrust/internal/repo"
)

// Open opens the configured store, applies migrations and seeds the catalog
// when it is empty.
func Open(ctx context.Context, workspace string, cfg *config.Config) (*sql.DB, db.Dialect, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	dbCfg := db.Config{Workspace: workspace, Driver: cfg.Store.Driver, DSN: cfg.Store.DSN}
	conn, err := db.Open(dbCfg)
	if err != nil {
		return nil, "", err
	}
	dialect := dbCfg.Dialect()
	if err := migrate.Migrate(conn, dialect); err != nil {
		conn.Close()
		return nil, "", fmt.Errorf("migrate: %w", err)
	}
	r := repo.Repo{DB: conn, Dialect: dialect}
	n, err := r.CountRefTasks(ctx)
	if err != nil {
		conn.Close()
		return nil, "", err
	}
	if n == 0 {
		if _, err := SeedCatalog(ctx, r); err != nil {
			conn.Close()
			return nil, "", fmt.Errorf("seed catalog: %w", err)
		}
	}
	return conn, dialect, nil
}

// SeedCatalog inserts the default reference tasks. Entries that already
// exist by name are kept as they are. It returns the catalog size afterwards.
func SeedCatalog(ctx context.Context, r repo.Repo) (int, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	for _, t := range DefaultCatalog() {
		if err := r.InsertRefTask(ctx, tx, t); err != nil {
			return 0, fmt.Errorf("%s: %w", t.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return r.CountRefTasks(ctx)
}

func ref(order int, name, owner, buyerTodo, buyerDone, sellerTodo, sellerDone string) domain.RefTask {
	return domain.RefTask{
		Name:            name,
		Originator:      "system",
		TaskOwner:       owner,
		BuyerTodoLabel:  buyerTodo,
		BuyerDoneLabel:  buyerDone,
		SellerTodoLabel: sellerTodo,
		SellerDoneLabel: sellerDone,
		DisplayOrder:    order,
	}
}

// DefaultCatalog is the reference-task catalog a fresh store starts with.
func DefaultCatalog() []domain.RefTask {
	return []domain.RefTask{
		ref(1, "Identify a partner", "initiator",
			"Find a provider for the project", "Provider found",
			"Find a client for the project", "Client found"),
		ref(2, "Send invitation to partner", "initiator",
			"Invite the provider to the contract", "Provider invited",
			"Invite the client to the contract", "Client invited"),
		ref(3, "Invite counterparty to join and view contract", "initiator",
			"Invite the provider to join and view the contract", "Provider has joined",
			"Invite the client to join and view the contract", "Client has joined"),
		ref(4, "Review and finalize contract", "both",
			"Review and finalize the contract", "Contract finalized",
			"Review and finalize the contract", "Contract finalized"),
		ref(5, "Define and deploy escrow terms", "buyer",
			"Define the escrow terms", "Escrow terms defined",
			"Agree on the escrow terms", "Escrow terms agreed"),
		ref(6, "Deploy escrow smart contract", "buyer",
			"Deploy the escrow smart contract", "Escrow deployed",
			"Wait for the escrow smart contract", "Escrow deployed"),
		ref(7, "Fund escrow", "buyer",
			"Fund the escrow", "Escrow funded",
			"Wait for the escrow to be funded", "Escrow funded"),
		ref(8, "Sign contract (both parties)", "both",
			"Sign the contract", "Contract signed",
			"Sign the contract", "Contract signed"),
		ref(9, "Start delivering contracted services", "seller",
			"Wait for delivery to start", "Delivery started",
			"Start delivering the contracted services", "Delivery started"),
		ref(10, "Review and approve milestones", "buyer",
			"Review and approve milestones", "Milestones approved",
			"Submit milestones for approval", "Milestones approved"),
		ref(11, "Release milestone payment", "buyer",
			"Release the milestone payment", "Milestone payment released",
			"Wait for the milestone payment", "Milestone payment received"),
		ref(12, "Complete final review", "both",
			"Complete the final review", "Final review complete",
			"Complete the final review", "Final review complete"),
		ref(13, "Custom task", "both", "", "", "", ""),
	}
}
