package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"smartrust/internal/domain"
	"smartrust/internal/events"
	"smartrust/internal/identity"
	"smartrust/internal/matcher"
	"smartrust/internal/repo"
	"smartrust/internal/wizard"
)

const maxDescriptionLen = 255

// SavedContract is the result of persisting a wizard.
type SavedContract struct {
	Contract domain.Contract `json:"contract"`
	Tasks    []domain.Task   `json:"tasks"`
}

// ContractView is a dashboard row. The contract columns are listed
// explicitly so the type carries no promoted methods.
type ContractView struct {
	ID             int64           `json:"id"`
	Description    string          `json:"description"`
	DashboardState string          `json:"dashboard_state" enum:"draft,active,completed,disputed"`
	Owner          int64           `json:"owner"`
	NominalValue   float64         `json:"nominal_value"`
	Currency       string          `json:"currency"`
	Stage          int             `json:"stage"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	CreatedAt      string          `json:"created_at" format:"date-time"`
	DisplayName    string          `json:"display_name"`
	TaskCounts     map[string]int  `json:"task_counts,omitempty"`
}

// NewContractView builds the dashboard row of c.
func NewContractView(c domain.Contract, counts map[string]int) ContractView {
	return ContractView{
		ID:             c.ID,
		Description:    c.Description,
		DashboardState: c.DashboardState,
		Owner:          c.Owner,
		NominalValue:   c.NominalValue,
		Currency:       c.Currency,
		Stage:          c.Stage,
		Metadata:       c.Metadata,
		CreatedAt:      c.CreatedAt,
		DisplayName:    c.DisplayName(),
		TaskCounts:     counts,
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// SaveContract stores the contract produced by a wizard and derives its
// tasks. When the contract is written but its tasks are not, the saved
// contract is returned together with a *TaskCreationWarning.
func (e Engine) SaveContract(ctx context.Context, p *identity.Principal, state *wizard.State, markdown string) (SavedContract, error) {
	if err := requireUser(p); err != nil {
		return SavedContract{}, err
	}
	if strings.TrimSpace(markdown) == "" {
		return SavedContract{}, ErrNoDraft
	}
	if !state.Role.Valid() {
		return SavedContract{}, &wizard.ValidationError{Field: "role", Message: "choose a role first"}
	}

	var owner domain.User
	var catalog []domain.RefTask
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		u, err := e.Repo.GetUser(gctx, p.UserID)
		if err != nil {
			return fmt.Errorf("load owner: %w", err)
		}
		owner = u
		return nil
	})
	g.Go(func() error {
		c, err := e.Repo.ListRefTasks(gctx)
		if err != nil {
			return fmt.Errorf("load reference tasks: %w", err)
		}
		catalog = c
		return nil
	})
	if err := g.Wait(); err != nil {
		return SavedContract{}, mapStoreError(err)
	}

	meta, err := state.Metadata()
	if err != nil {
		return SavedContract{}, err
	}
	value, currency := wizard.ExtractMoney(state.ProjectInput)
	contract := domain.Contract{
		Description:    truncate(markdown, maxDescriptionLen),
		DashboardState: "draft",
		Owner:          owner.ID,
		NominalValue:   value,
		Currency:       currency,
		Stage:          1,
		Metadata:       meta,
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return SavedContract{}, err
	}
	defer tx.Rollback()
	id, err := e.Repo.InsertContract(ctx, tx, contract)
	if err != nil {
		e.logger().Error("contract insert failed", zap.Int64("owner", owner.ID), zap.Error(err))
		return SavedContract{}, mapStoreError(err)
	}
	contract.ID = id
	if err := e.Events.Append(ctx, tx, events.ContractCreated, id, "contract", fmt.Sprint(id), actorID(p), events.EventPayload{
		"role":          state.Role,
		"nominal_value": value,
		"currency":      currency,
	}); err != nil {
		return SavedContract{}, err
	}
	if err := tx.Commit(); err != nil {
		return SavedContract{}, mapStoreError(err)
	}
	saved, err := e.Repo.GetContract(ctx, id)
	if err == nil {
		contract = saved
	}

	matches := matcher.MatchAll(matcher.Phrases(state.HasCounterparty(), state.PartnerName), catalog)
	tasks := matcher.Tasks(id, state.Role, matches)
	if len(tasks) == 0 {
		return SavedContract{Contract: contract, Tasks: []domain.Task{}}, nil
	}
	inserted, err := e.Repo.InsertTasks(ctx, tasks)
	if err != nil {
		e.logger().Error("task creation failed", zap.Int64("contract_id", id), zap.Error(err))
		return SavedContract{Contract: contract, Tasks: []domain.Task{}}, &TaskCreationWarning{ContractID: id, Expected: len(tasks), Err: err}
	}
	e.appendEvent(ctx, events.TasksCreated, id, "contract", fmt.Sprint(id), p, events.EventPayload{"count": len(inserted)})
	return SavedContract{Contract: contract, Tasks: inserted}, nil
}

// ListContracts returns the contracts owned by or shared with the caller.
func (e Engine) ListContracts(ctx context.Context, p *identity.Principal) ([]ContractView, error) {
	if err := requireUser(p); err != nil {
		return nil, err
	}
	contracts, err := e.Repo.ListContractsForUser(ctx, p.UserID, p.Email)
	if err != nil {
		return nil, err
	}
	out := make([]ContractView, 0, len(contracts))
	for _, c := range contracts {
		out = append(out, NewContractView(c, nil))
	}
	return out, nil
}

// GetContract returns a contract visible to the caller with its board totals.
// Contracts the caller cannot see are reported as not found.
func (e Engine) GetContract(ctx context.Context, p *identity.Principal, id int64) (ContractView, error) {
	if err := e.checkVisible(ctx, p, id); err != nil {
		return ContractView{}, err
	}
	c, err := e.Repo.GetContract(ctx, id)
	if err != nil {
		return ContractView{}, err
	}
	counts, err := e.Repo.CountTasksByStatus(ctx, id)
	if err != nil {
		return ContractView{}, err
	}
	return NewContractView(c, counts), nil
}

func (e Engine) checkVisible(ctx context.Context, p *identity.Principal, contractID int64) error {
	if err := requireUser(p); err != nil {
		return err
	}
	ok, err := e.Repo.ContractVisibleTo(ctx, contractID, p.UserID, p.Email)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("contract %d: %w", contractID, repo.ErrNotFound)
	}
	return nil
}

// RefTasks returns the reference-task catalog.
func (e Engine) RefTasks(ctx context.Context) ([]domain.RefTask, error) {
	return e.Repo.ListRefTasks(ctx)
}
