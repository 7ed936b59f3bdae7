package repo

import (
	"context"
	"database/sql"

	"smartrust/internal/domain"
)

const contractColumns = `id,description,dashboard_state,owner,nominal_value,currency,stage,metadata,created_at`

func scanContract(row interface{ Scan(...any) error }) (domain.Contract, error) {
	var c domain.Contract
	var meta sql.NullString
	err := row.Scan(&c.ID, &c.Description, &c.DashboardState, &c.Owner, &c.NominalValue, &c.Currency, &c.Stage, &meta, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if meta.Valid && meta.String != "" {
		c.Metadata = []byte(meta.String)
	}
	return c, err
}

// InsertContract stores a contract row and returns its generated id.
func (r Repo) InsertContract(ctx context.Context, tx *sql.Tx, c domain.Contract) (int64, error) {
	if c.CreatedAt == "" {
		c.CreatedAt = nowString()
	}
	var meta any
	if len(c.Metadata) > 0 {
		meta = string(c.Metadata)
	}
	var id int64
	err := r.conn(tx).QueryRowContext(ctx, r.q(`INSERT INTO contracts(description,dashboard_state,owner,nominal_value,currency,stage,metadata,created_at)
VALUES (?,?,?,?,?,?,?,?) RETURNING id`),
		c.Description, c.DashboardState, c.Owner, c.NominalValue, c.Currency, c.Stage, meta, c.CreatedAt).Scan(&id)
	if err != nil {
		return 0, Classify(err)
	}
	return id, nil
}

func (r Repo) GetContract(ctx context.Context, id int64) (domain.Contract, error) {
	return scanContract(r.DB.QueryRowContext(ctx, r.q(`SELECT `+contractColumns+` FROM contracts WHERE id=?`), id))
}

// ListContractsForUser returns contracts the user owns or was invited to, newest first.
func (r Repo) ListContractsForUser(ctx context.Context, userID int64, email string) ([]domain.Contract, error) {
	rows, err := r.DB.QueryContext(ctx, r.q(`SELECT `+contractColumns+` FROM contracts
WHERE owner=? OR id IN (SELECT contract_id FROM invite_user WHERE email=?)
ORDER BY created_at DESC, id DESC`), userID, normalizeEmail(email))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// ContractVisibleTo reports whether a user owns or was invited to a contract.
func (r Repo) ContractVisibleTo(ctx context.Context, contractID, userID int64, email string) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, r.q(`SELECT 1 FROM contracts WHERE id=? AND (owner=? OR id IN (SELECT contract_id FROM invite_user WHERE email=?)) LIMIT 1`),
		contractID, userID, normalizeEmail(email)).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}
