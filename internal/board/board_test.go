package board

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartrust/internal/domain"
	"smartrust/internal/repo"
)

func task(id int64, status domain.TaskStatus, order int) domain.Task {
	return domain.Task{ID: id, Contract: 1, Label: "t", Status: status, DisplayOrder: order}
}

func ids(l Lane) []int64 {
	out := []int64{}
	for _, t := range l.Tasks {
		out = append(out, t.ID)
	}
	return out
}

func orders(l Lane) []int {
	out := []int{}
	for _, t := range l.Tasks {
		out = append(out, t.DisplayOrder)
	}
	return out
}

func sample() []Lane {
	return Build([]domain.Task{
		task(1, domain.StatusTodo, 0),
		task(2, domain.StatusTodo, 1),
		task(3, domain.StatusTodo, 2),
		task(4, domain.StatusTodo, 3),
		task(5, domain.StatusInProgress, 0),
		task(6, domain.StatusDone, 0),
	})
}

func TestBuildGroupsAndSorts(t *testing.T) {
	lanes := Build([]domain.Task{
		task(3, domain.StatusTodo, 5),
		task(1, domain.StatusTodo, 2),
		task(2, domain.StatusDone, 0),
		task(9, domain.TaskStatus("archived"), 0),
		task(4, domain.StatusTodo, 2),
	})
	require.Len(t, lanes, 3)
	assert.Equal(t, []string{"To Do", "In Progress", "Done"}, []string{lanes[0].Title, lanes[1].Title, lanes[2].Title})
	assert.Equal(t, []int64{1, 4, 3}, ids(lanes[0]))
	assert.Empty(t, lanes[1].Tasks)
	assert.NotNil(t, lanes[1].Tasks)
	assert.Equal(t, []int64{2}, ids(lanes[2]))
}

func TestApplyAcrossLanes(t *testing.T) {
	before := sample()
	after, plan, err := Apply(before, Move{TaskID: 3, SourceLane: domain.StatusTodo, SourceIndex: 2, DestinationLane: domain.StatusDone, DestinationIndex: 0})
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 2, 4}, ids(after[0]))
	assert.Equal(t, []int{0, 1, 2}, orders(after[0]))
	assert.Equal(t, []int64{3, 6}, ids(after[2]))
	assert.Equal(t, []int{0, 1}, orders(after[2]))

	require.NotNil(t, plan.Moved)
	assert.Equal(t, int64(3), plan.Moved.ID)
	assert.Equal(t, domain.StatusDone, plan.Moved.Status)
	assert.Equal(t, 0, plan.Moved.DisplayOrder)
	want := []repo.TaskOrder{{ID: 1, DisplayOrder: 0}, {ID: 2, DisplayOrder: 1}, {ID: 4, DisplayOrder: 2}, {ID: 6, DisplayOrder: 1}}
	if diff := cmp.Diff(want, plan.Orders); diff != "" {
		t.Fatalf("orders (-want +got):\n%s", diff)
	}

	assert.Equal(t, []int64{1, 2, 3, 4}, ids(before[0]), "input lanes must not change")
	assert.Equal(t, domain.StatusTodo, before[0].Tasks[2].Status)
}

func TestApplyWithinLane(t *testing.T) {
	after, plan, err := Apply(sample(), Move{SourceLane: domain.StatusTodo, SourceIndex: 0, DestinationLane: domain.StatusTodo, DestinationIndex: 3})
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3, 4, 1}, ids(after[0]))
	assert.Equal(t, []int{0, 1, 2, 3}, orders(after[0]))
	assert.Equal(t, 3, plan.Moved.DisplayOrder)
	assert.Len(t, plan.Orders, 3)
	assert.Equal(t, []int64{5}, ids(after[1]))
}

func TestApplyNoop(t *testing.T) {
	before := sample()
	after, plan, err := Apply(before, Move{SourceLane: domain.StatusTodo, SourceIndex: 1, DestinationLane: domain.StatusTodo, DestinationIndex: 1})
	require.NoError(t, err)
	assert.True(t, plan.Empty())
	if diff := cmp.Diff(before, after); diff != "" {
		t.Fatalf("no-op changed lanes:\n%s", diff)
	}
}

func TestApplyRejectsBadMoves(t *testing.T) {
	cases := map[string]Move{
		"unknown lane":          {SourceLane: "backlog", DestinationLane: domain.StatusDone},
		"source out of range":   {SourceLane: domain.StatusDone, SourceIndex: 1, DestinationLane: domain.StatusTodo},
		"negative destination":  {SourceLane: domain.StatusTodo, DestinationLane: domain.StatusDone, DestinationIndex: -1},
		"destination past end":  {SourceLane: domain.StatusTodo, DestinationLane: domain.StatusDone, DestinationIndex: 2},
		"same lane past its end": {SourceLane: domain.StatusTodo, DestinationLane: domain.StatusTodo, DestinationIndex: 4},
	}
	for name, m := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := Apply(sample(), m)
			assert.True(t, errors.Is(err, ErrInvalidMove), "got %v", err)
		})
	}
	_, _, err := Apply(sample(), Move{TaskID: 99, SourceLane: domain.StatusTodo, DestinationLane: domain.StatusDone})
	assert.ErrorIs(t, err, ErrStaleMove)
}

func TestApplyToEndOfOtherLane(t *testing.T) {
	after, _, err := Apply(sample(), Move{SourceLane: domain.StatusInProgress, SourceIndex: 0, DestinationLane: domain.StatusDone, DestinationIndex: 1})
	require.NoError(t, err)
	assert.Empty(t, after[1].Tasks)
	assert.Equal(t, []int64{6, 5}, ids(after[2]))
	lane, pos, ok := Find(after, 5)
	require.True(t, ok)
	assert.Equal(t, domain.StatusDone, lane)
	assert.Equal(t, 1, pos)
}
