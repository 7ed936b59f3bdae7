package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"smartrust/internal/board"
	"smartrust/internal/config"
	"smartrust/internal/db"
	"smartrust/internal/events"
	"smartrust/internal/generation"
	"smartrust/internal/identity"
	"smartrust/internal/repo"
	"smartrust/internal/wizard"
)

var (
	// ErrUnauthenticated means the operation needs a signed-in caller.
	ErrUnauthenticated    = errors.New("sign in required")
	ErrDuplicateContract  = errors.New("a contract with this identifier already exists")
	ErrMissingReference   = errors.New("referenced data is missing")
	ErrGenerationInFlight = errors.New("a generation request is already running for this wizard")
	ErrNoDraft            = errors.New("no generated contract to save")
)

// TaskCreationWarning accompanies a saved contract whose derived tasks could
// not all be written. The contract itself is persisted.
type TaskCreationWarning struct {
	ContractID int64
	Expected   int
	Err        error
}

func (w *TaskCreationWarning) Error() string {
	return fmt.Sprintf("contract %d saved, but there was an issue creating %d tasks: %v", w.ContractID, w.Expected, w.Err)
}

func (w *TaskCreationWarning) Unwrap() error { return w.Err }

// Generator produces clarifying questions and contract drafts.
type Generator interface {
	ClarifyingQuestions(ctx context.Context, req generation.QuestionsRequest) ([]string, error)
	ContractDraft(ctx context.Context, req generation.DraftRequest) (string, error)
}

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Config    *config.Config
	Generator Generator
	Boards    *board.Service
	Quota     *wizard.Quota
	Wizards   *Registry
	Log       *zap.Logger
	Now       func() time.Time
}

func New(conn *sql.DB, dialect db.Dialect, cfg *config.Config, gen Generator, log *zap.Logger) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = zap.NewNop()
	}
	r := repo.Repo{DB: conn, Dialect: dialect}
	return Engine{
		DB:        conn,
		Repo:      r,
		Events:    events.Writer{DB: conn, Dialect: dialect},
		Config:    cfg,
		Generator: gen,
		Boards:    board.NewService(r, board.Options{ResyncOnFailure: cfg.Board.ResyncOnFailure, Log: log.Named("board")}),
		Quota:     wizard.NewQuota(cfg.Quota.FreeGenerations),
		Wizards:   NewRegistry(),
		Log:       log,
		Now:       time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *zap.Logger {
	if e.Log != nil {
		return e.Log
	}
	return zap.NewNop()
}

func requireUser(p *identity.Principal) error {
	if p == nil || p.UserID == 0 {
		return ErrUnauthenticated
	}
	return nil
}

func actorID(p *identity.Principal) string {
	if p == nil {
		return "anonymous"
	}
	return fmt.Sprintf("user:%d", p.UserID)
}

// mapStoreError turns store constraint failures into the engine's conditions.
func mapStoreError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repo.ErrDuplicate):
		return fmt.Errorf("%w: %v", ErrDuplicateContract, err)
	case errors.Is(err, repo.ErrMissingReference):
		return fmt.Errorf("%w: %v", ErrMissingReference, err)
	}
	return err
}

// appendEvent writes an audit event outside any transaction. Failures are
// logged and never fail the operation that produced the event.
func (e Engine) appendEvent(ctx context.Context, evtType string, contractID int64, kind, entityID string, p *identity.Principal, payload events.EventPayload) {
	if err := e.Events.Append(ctx, nil, evtType, contractID, kind, entityID, actorID(p), payload); err != nil {
		e.logger().Warn("event not recorded", zap.String("type", evtType), zap.Int64("contract_id", contractID), zap.Error(err))
	}
}
