package board

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"smartrust/internal/domain"
	"smartrust/internal/repo"
)

// UserCreatedRefTask marks tasks added directly on the board.
const UserCreatedRefTask = "User created task"

// Store is the persistence the board needs.
type Store interface {
	ListTasksByContract(ctx context.Context, contractID int64) ([]domain.Task, error)
	UpdateTaskPosition(ctx context.Context, id int64, status domain.TaskStatus, displayOrder int) error
	UpsertTaskOrders(ctx context.Context, orders []repo.TaskOrder) error
	InsertTask(ctx context.Context, t domain.Task) (domain.Task, error)
}

// PersistenceError reports a failed board write. When Resynced is set, Lanes
// holds the board as re-read from the store after the failure and replaces any
// optimistic state.
type PersistenceError struct {
	Op         string
	ContractID int64
	Err        error
	Lanes      []Lane
	Resynced   bool
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s contract %d: %v", e.Op, e.ContractID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

type Options struct {
	ResyncOnFailure bool
	Log             *zap.Logger
}

// Service applies moves and creations to contract boards. Writes for one
// contract are serialized: a move waits until the previous write for the same
// contract has finished.
type Service struct {
	store  Store
	resync bool
	log    *zap.Logger

	mu    sync.Mutex
	slots map[int64]*slot
}

type slot struct {
	sem   chan struct{}
	users int
	lanes []Lane
}

func NewService(store Store, opts Options) *Service {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &Service{store: store, resync: opts.ResyncOnFailure, log: opts.Log, slots: map[int64]*slot{}}
}

func (s *Service) acquire(ctx context.Context, contractID int64) (*slot, error) {
	s.mu.Lock()
	sl, ok := s.slots[contractID]
	if !ok {
		sl = &slot{sem: make(chan struct{}, 1)}
		s.slots[contractID] = sl
	}
	sl.users++
	s.mu.Unlock()
	select {
	case sl.sem <- struct{}{}:
		return sl, nil
	case <-ctx.Done():
		s.release(contractID, sl, false)
		return nil, ctx.Err()
	}
}

func (s *Service) release(contractID int64, sl *slot, held bool) {
	if held {
		<-sl.sem
	}
	s.mu.Lock()
	sl.users--
	if sl.users == 0 {
		delete(s.slots, contractID)
	}
	s.mu.Unlock()
}

func (s *Service) publish(sl *slot, lanes []Lane) {
	s.mu.Lock()
	sl.lanes = lanes
	s.mu.Unlock()
}

// Snapshot returns the board currently shown for a contract while a write is
// in flight, including optimistic changes not yet persisted.
func (s *Service) Snapshot(contractID int64) ([]Lane, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[contractID]
	if !ok || sl.lanes == nil {
		return nil, false
	}
	return clone(sl.lanes), true
}

// Lanes fetches the authoritative board for a contract.
func (s *Service) Lanes(ctx context.Context, contractID int64) ([]Lane, error) {
	tasks, err := s.store.ListTasksByContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	return Build(tasks), nil
}

// Move applies a drop and persists it. The returned lanes are the board after
// the move. On a failed write the error is a *PersistenceError.
func (s *Service) Move(ctx context.Context, contractID int64, m Move) ([]Lane, Plan, error) {
	sl, err := s.acquire(ctx, contractID)
	if err != nil {
		return nil, Plan{}, err
	}
	defer s.release(contractID, sl, true)

	current, err := s.Lanes(ctx, contractID)
	if err != nil {
		return nil, Plan{}, err
	}
	next, plan, err := Apply(current, m)
	if err != nil {
		return current, Plan{}, err
	}
	if plan.Empty() {
		return next, plan, nil
	}
	s.publish(sl, next)
	defer s.publish(sl, nil)

	if err := s.persist(ctx, plan); err != nil {
		s.log.Warn("board move not persisted",
			zap.Int64("contract_id", contractID), zap.Int64("task_id", plan.Moved.ID), zap.Error(err))
		return nil, plan, s.failure(ctx, "move task", contractID, err)
	}
	return next, plan, nil
}

func (s *Service) persist(ctx context.Context, plan Plan) error {
	if plan.Moved != nil {
		if err := s.store.UpdateTaskPosition(ctx, plan.Moved.ID, plan.Moved.Status, plan.Moved.DisplayOrder); err != nil {
			return err
		}
	}
	return s.store.UpsertTaskOrders(ctx, plan.Orders)
}

func (s *Service) failure(ctx context.Context, op string, contractID int64, cause error) error {
	perr := &PersistenceError{Op: op, ContractID: contractID, Err: cause}
	if !s.resync {
		return perr
	}
	lanes, err := s.Lanes(context.WithoutCancel(ctx), contractID)
	if err != nil {
		s.log.Warn("board resync failed", zap.Int64("contract_id", contractID), zap.Error(err))
		return perr
	}
	perr.Lanes = lanes
	perr.Resynced = true
	return perr
}

// Create appends a user task to the end of a lane. The board only changes
// once the write has succeeded.
func (s *Service) Create(ctx context.Context, contractID int64, status domain.TaskStatus, label string) (domain.Task, []Lane, error) {
	if !status.Valid() {
		return domain.Task{}, nil, fmt.Errorf("%w: unknown lane %q", ErrInvalidMove, status)
	}
	label = strings.TrimSpace(label)
	if label == "" {
		return domain.Task{}, nil, ErrEmptyLabel
	}
	sl, err := s.acquire(ctx, contractID)
	if err != nil {
		return domain.Task{}, nil, err
	}
	defer s.release(contractID, sl, true)

	lanes, err := s.Lanes(ctx, contractID)
	if err != nil {
		return domain.Task{}, nil, err
	}
	li := laneIndex(lanes, status)
	task, err := s.store.InsertTask(ctx, domain.Task{
		Contract:     contractID,
		RefTaskName:  UserCreatedRefTask,
		Label:        label,
		Status:       status,
		DisplayOrder: len(lanes[li].Tasks),
	})
	if err != nil {
		s.log.Warn("board task not created", zap.Int64("contract_id", contractID), zap.Error(err))
		return domain.Task{}, nil, s.failure(ctx, "create task", contractID, err)
	}
	lanes[li].Tasks = append(lanes[li].Tasks, task)
	return task, lanes, nil
}
