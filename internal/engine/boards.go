package engine

import (
	"context"
	"fmt"

	"smartrust/internal/board"
	"smartrust/internal/domain"
	"smartrust/internal/events"
	"smartrust/internal/identity"
)

// Board returns the lanes of a contract visible to the caller.
func (e Engine) Board(ctx context.Context, p *identity.Principal, contractID int64) ([]board.Lane, error) {
	if err := e.checkVisible(ctx, p, contractID); err != nil {
		return nil, err
	}
	return e.Boards.Lanes(ctx, contractID)
}

// MoveTask applies a drag-and-drop move. On a failed write the returned
// *board.PersistenceError carries the resynced lanes when available.
func (e Engine) MoveTask(ctx context.Context, p *identity.Principal, contractID int64, m board.Move) ([]board.Lane, error) {
	if err := e.checkVisible(ctx, p, contractID); err != nil {
		return nil, err
	}
	lanes, plan, err := e.Boards.Move(ctx, contractID, m)
	if err != nil {
		return lanes, err
	}
	if plan.Moved != nil {
		e.appendEvent(ctx, events.TaskMoved, contractID, "task", fmt.Sprint(plan.Moved.ID), p, events.EventPayload{
			"from":          m.SourceLane,
			"to":            plan.Moved.Status,
			"display_order": plan.Moved.DisplayOrder,
			"reordered":     len(plan.Orders),
		})
	}
	return lanes, nil
}

// CreateTask adds a user task at the end of a lane.
func (e Engine) CreateTask(ctx context.Context, p *identity.Principal, contractID int64, status domain.TaskStatus, label string) (domain.Task, []board.Lane, error) {
	if err := e.checkVisible(ctx, p, contractID); err != nil {
		return domain.Task{}, nil, err
	}
	task, lanes, err := e.Boards.Create(ctx, contractID, status, label)
	if err != nil {
		return task, lanes, err
	}
	e.appendEvent(ctx, events.TaskCreated, contractID, "task", fmt.Sprint(task.ID), p, events.EventPayload{
		"status": task.Status,
		"label":  task.Label,
	})
	return task, lanes, nil
}
