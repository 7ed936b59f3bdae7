// Package board projects a contract's tasks into status lanes and applies
// drag-and-drop moves to them.
package board

import (
	"errors"
	"fmt"
	"sort"

	"smartrust/internal/domain"
	"smartrust/internal/repo"
)

var (
	ErrInvalidMove = errors.New("invalid move")
	// ErrStaleMove means the task at the source position is not the one the
	// caller meant to move; its view of the board is out of date.
	ErrStaleMove  = errors.New("board changed since it was fetched")
	ErrEmptyLabel = errors.New("task label is required")
)

type Lane struct {
	ID    domain.TaskStatus `json:"id"`
	Title string            `json:"title"`
	Tasks []domain.Task     `json:"tasks"`
}

// Move describes one drop. TaskID is optional; when set it must name the task
// found at the source position.
type Move struct {
	TaskID           int64             `json:"task_id,omitempty"`
	SourceLane       domain.TaskStatus `json:"source_lane"`
	SourceIndex      int               `json:"source_index"`
	DestinationLane  domain.TaskStatus `json:"destination_lane"`
	DestinationIndex int               `json:"destination_index"`
}

func (m Move) noop() bool {
	return m.SourceLane == m.DestinationLane && m.SourceIndex == m.DestinationIndex
}

// Plan lists the writes that make the store match a board after a move: the
// moved task first, then display_order for every other task in the touched lanes.
type Plan struct {
	Moved  *domain.Task     `json:"moved,omitempty"`
	Orders []repo.TaskOrder `json:"orders"`
}

func (p Plan) Empty() bool {
	return p.Moved == nil && len(p.Orders) == 0
}

// Build groups tasks into the three fixed lanes, ordered by display_order.
// Tasks with an unknown status are left out.
func Build(tasks []domain.Task) []Lane {
	lanes := make([]Lane, 0, 3)
	for _, s := range domain.Statuses() {
		lanes = append(lanes, Lane{ID: s, Title: s.Title(), Tasks: []domain.Task{}})
	}
	for _, t := range tasks {
		if i := laneIndex(lanes, t.Status); i >= 0 {
			lanes[i].Tasks = append(lanes[i].Tasks, t)
		}
	}
	for i := range lanes {
		sort.SliceStable(lanes[i].Tasks, func(a, b int) bool {
			ta, tb := lanes[i].Tasks[a], lanes[i].Tasks[b]
			if ta.DisplayOrder != tb.DisplayOrder {
				return ta.DisplayOrder < tb.DisplayOrder
			}
			return ta.ID < tb.ID
		})
	}
	return lanes
}

func laneIndex(lanes []Lane, id domain.TaskStatus) int {
	for i, l := range lanes {
		if l.ID == id {
			return i
		}
	}
	return -1
}

func clone(lanes []Lane) []Lane {
	out := make([]Lane, len(lanes))
	for i, l := range lanes {
		out[i] = Lane{ID: l.ID, Title: l.Title, Tasks: append([]domain.Task{}, l.Tasks...)}
	}
	return out
}

// Apply performs a drop on a copy of lanes and returns the new lanes with the
// writes needed to persist them. The input is never modified. A drop onto the
// source position returns the lanes unchanged and an empty plan.
func Apply(lanes []Lane, m Move) ([]Lane, Plan, error) {
	src := laneIndex(lanes, m.SourceLane)
	dst := laneIndex(lanes, m.DestinationLane)
	if src < 0 || dst < 0 {
		return nil, Plan{}, fmt.Errorf("%w: unknown lane", ErrInvalidMove)
	}
	if m.SourceIndex < 0 || m.SourceIndex >= len(lanes[src].Tasks) {
		return nil, Plan{}, fmt.Errorf("%w: source index %d out of range", ErrInvalidMove, m.SourceIndex)
	}
	if m.TaskID != 0 && lanes[src].Tasks[m.SourceIndex].ID != m.TaskID {
		return nil, Plan{}, ErrStaleMove
	}
	limit := len(lanes[dst].Tasks)
	if src == dst {
		limit--
	}
	if m.DestinationIndex < 0 || m.DestinationIndex > limit {
		return nil, Plan{}, fmt.Errorf("%w: destination index %d out of range", ErrInvalidMove, m.DestinationIndex)
	}
	if m.noop() {
		return clone(lanes), Plan{}, nil
	}

	out := clone(lanes)
	task := out[src].Tasks[m.SourceIndex]
	out[src].Tasks = append(out[src].Tasks[:m.SourceIndex], out[src].Tasks[m.SourceIndex+1:]...)
	task.Status = out[dst].ID
	rest := out[dst].Tasks[m.DestinationIndex:]
	out[dst].Tasks = append(out[dst].Tasks[:m.DestinationIndex:m.DestinationIndex], append([]domain.Task{task}, rest...)...)

	var plan Plan
	touched := []int{src}
	if dst != src {
		touched = append(touched, dst)
	}
	for _, li := range touched {
		for pos := range out[li].Tasks {
			t := &out[li].Tasks[pos]
			t.DisplayOrder = pos
			if t.ID == task.ID {
				moved := *t
				plan.Moved = &moved
				continue
			}
			plan.Orders = append(plan.Orders, repo.TaskOrder{ID: t.ID, DisplayOrder: pos})
		}
	}
	return out, plan, nil
}

// Find returns the lane and position of a task.
func Find(lanes []Lane, taskID int64) (domain.TaskStatus, int, bool) {
	for _, l := range lanes {
		for i, t := range l.Tasks {
			if t.ID == taskID {
				return l.ID, i, true
			}
		}
	}
	return "", 0, false
}
