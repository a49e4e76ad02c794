package boardstate

import (
	"fmt"
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskboard-live/backend/internal/model"
)

const (
	q = model.ColumnQueue
	p = model.ColumnInProgress
	d = model.ColumnDone
)

func task(id string, status model.TaskStatus) *model.Task {
	return &model.Task{ID: id, Title: "task " + id, Status: status, Priority: model.TaskPriorityMedium}
}

// newStore builds a store whose queue column holds ids, in order.
func newStore(ids ...string) *Store {
	board := model.NewBoard("b1")
	board.Column(q).TaskIDs = append([]string{}, ids...)
	tasks := make([]*model.Task, 0, len(ids))
	for _, id := range ids {
		tasks = append(tasks, task(id, model.TaskStatusQueue))
	}
	return New(board, tasks)
}

func TestMoveTask_AcrossColumns(t *testing.T) {
	s := newStore("t1", "t2")

	require.NoError(t, s.MoveTask("t1", q, 0, d, 0))

	assert.Equal(t, []string{"t2"}, s.Column(q))
	assert.Equal(t, []string{"t1"}, s.Column(d))
}

func TestMoveTask_SameColumnUsesPostRemovalIndex(t *testing.T) {
	s := newStore("a", "b", "c")

	require.NoError(t, s.MoveTask("a", q, 0, q, 2))
	assert.Equal(t, []string{"b", "c", "a"}, s.Column(q))

	require.NoError(t, s.MoveTask("a", q, 2, q, 0))
	assert.Equal(t, []string{"a", "b", "c"}, s.Column(q))

	require.NoError(t, s.MoveTask("a", q, 0, q, 1))
	assert.Equal(t, []string{"b", "a", "c"}, s.Column(q))
}

func TestMoveTask_ClampsIndex(t *testing.T) {
	s := newStore("a", "b")

	require.NoError(t, s.MoveTask("a", q, 0, d, 99))
	require.NoError(t, s.MoveTask("b", q, 0, d, -4))
	assert.Equal(t, []string{"b", "a"}, s.Column(d))
	assert.Empty(t, s.Column(q))
}

func TestMoveTask_Errors(t *testing.T) {
	s := newStore("a")

	assert.ErrorIs(t, s.MoveTask("a", q, 0, "archive", 0), model.ErrUnknownColumn)
	assert.ErrorIs(t, s.MoveTask("ghost", q, 0, d, 0), model.ErrTaskNotFound)
	assert.Equal(t, []string{"a"}, s.Column(q))
}

func TestMoveTask_ReplayIsIdempotent(t *testing.T) {
	s := newStore("t1", "t2", "t3")

	require.NoError(t, s.MoveTask("t2", q, 1, p, 0))
	first := s.Snapshot()
	require.NoError(t, s.MoveTask("t2", q, 1, p, 0))

	assert.Equal(t, first.Board.Columns, s.Snapshot().Board.Columns)
}

func TestConfirmedOps_ReplayIsIdempotent(t *testing.T) {
	s := newStore("t1")

	nt := task("t2", model.TaskStatusDone)
	require.NoError(t, s.AddTask(nt))
	require.NoError(t, s.AddTask(nt))
	assert.Equal(t, []string{"t2"}, s.Column(d))

	up := task("t2", model.TaskStatusDone)
	up.Title = "renamed"
	require.NoError(t, s.UpdateTask(up))
	require.NoError(t, s.UpdateTask(up))
	assert.Equal(t, "renamed", s.Task("t2").Title)
	assert.Equal(t, []string{"t2"}, s.Column(d))

	s.DeleteTask("t2")
	s.DeleteTask("t2")
	assert.Nil(t, s.Task("t2"))
	assert.Empty(t, s.Column(d))
}

func TestMoveTask_PreservesTaskMultisetProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)
	columns := []string{q, p, d}

	properties.Property("moves never duplicate or lose a task", prop.ForAll(
		func(taskIdx, destCol, destIdx []int) bool {
			s := newStore("t0", "t1", "t2", "t3", "t4")

			n := len(taskIdx)
			if len(destCol) < n {
				n = len(destCol)
			}
			if len(destIdx) < n {
				n = len(destIdx)
			}
			for i := 0; i < n; i++ {
				id := fmt.Sprintf("t%d", taskIdx[i])
				if err := s.MoveTask(id, "", 0, columns[destCol[i]], destIdx[i]); err != nil {
					return false
				}
			}

			var all []string
			for _, col := range s.Snapshot().Board.Columns {
				all = append(all, col.TaskIDs...)
			}
			sort.Strings(all)
			return fmt.Sprint(all) == fmt.Sprint([]string{"t0", "t1", "t2", "t3", "t4"})
		},
		gen.SliceOfN(30, gen.IntRange(0, 4)),
		gen.SliceOfN(30, gen.IntRange(0, 2)),
		gen.SliceOfN(30, gen.IntRange(-1, 6)),
	))

	properties.TestingRun(t)
}

func TestOptimisticMove_RollbackRestoresColumns(t *testing.T) {
	s := newStore("t1", "t2", "t3")
	before := s.Snapshot()

	_, err := s.OptimisticMoveTask("t2", q, 1, d, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"t2"}, s.Column(d))

	assert.True(t, s.Rollback())
	assert.Equal(t, before.Board.Columns, s.Snapshot().Board.Columns)
	assert.Equal(t, before.Board.ColumnOrder, s.Snapshot().Board.ColumnOrder)

	assert.False(t, s.Rollback(), "a snapshot is consumed by rollback")
}

func TestOptimisticMove_FailureKeepsPriorSnapshot(t *testing.T) {
	s := newStore("t1")
	tok, err := s.OptimisticDeleteTask("t1")
	require.NoError(t, err)

	_, err = s.OptimisticMoveTask("t1", q, 0, "archive", 0)
	require.Error(t, err)

	assert.True(t, s.RollbackTo(tok))
	assert.NotNil(t, s.Task("t1"))
}

func TestOptimisticAdd_ThenConfirm(t *testing.T) {
	s := newStore()
	a := task("A", model.TaskStatusQueue)
	a.IsOptimistic = true

	_, err := s.OptimisticAddTask(a)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, s.PendingOptimistic())

	confirmed := task("A", model.TaskStatusQueue)
	confirmed.IsOptimistic = false
	require.NoError(t, s.AddTask(confirmed))

	snap := s.Snapshot()
	require.Len(t, snap.Tasks, 1)
	assert.False(t, snap.Tasks["A"].IsOptimistic)
	assert.Equal(t, []string{"A"}, s.Column(q), "exactly one column entry")
	assert.Empty(t, s.PendingOptimistic())
}

func TestOptimisticAdd_PlacesByStatus(t *testing.T) {
	s := newStore("t1")

	_, err := s.OptimisticAddTask(task("n1", model.TaskStatusQueue))
	require.NoError(t, err)
	_, err = s.OptimisticAddTask(task("n2", model.TaskStatusInProgress))
	require.NoError(t, err)

	assert.Equal(t, []string{"n1", "t1"}, s.Column(q), "new tasks go to the head")
	assert.Equal(t, []string{"n2"}, s.Column(p))
}

func TestOptimisticAdd_Rollback(t *testing.T) {
	s := newStore("t1")
	tok, err := s.OptimisticAddTask(task("n1", model.TaskStatusQueue))
	require.NoError(t, err)

	assert.True(t, s.RollbackTo(tok))
	assert.Nil(t, s.Task("n1"))
	assert.Equal(t, []string{"t1"}, s.Column(q))
}

func TestOptimisticUpdate_Rollback(t *testing.T) {
	s := newStore("t1")
	edit := task("t1", model.TaskStatusQueue)
	edit.Title = "edited"
	edit.Tags = []string{"x"}

	tok, err := s.OptimisticUpdateTask(edit)
	require.NoError(t, err)
	got := s.Task("t1")
	assert.Equal(t, "edited", got.Title)
	assert.True(t, got.IsOptimistic)

	assert.True(t, s.RollbackTo(tok))
	got = s.Task("t1")
	assert.Equal(t, "task t1", got.Title)
	assert.False(t, got.IsOptimistic)
	assert.Nil(t, got.Tags)

	_, err = s.OptimisticUpdateTask(task("ghost", model.TaskStatusQueue))
	assert.ErrorIs(t, err, model.ErrTaskNotFound)
}

func TestOptimisticDelete_Rollback(t *testing.T) {
	s := newStore("t1", "t2")
	tok, err := s.OptimisticDeleteTask("t1")
	require.NoError(t, err)
	assert.Nil(t, s.Task("t1"))
	assert.Equal(t, []string{"t2"}, s.Column(q))

	assert.True(t, s.RollbackTo(tok))
	assert.NotNil(t, s.Task("t1"))
	assert.Equal(t, []string{"t1", "t2"}, s.Column(q), "original position restored")
}

func TestSecondOptimisticOpDiscardsFirstUndo(t *testing.T) {
	s := newStore("t1", "t2")

	first, err := s.OptimisticMoveTask("t1", q, 0, d, 0)
	require.NoError(t, err)
	afterFirst := s.Snapshot()

	second, err := s.OptimisticMoveTask("t2", q, 0, p, 0)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	// The first operation can no longer be undone.
	assert.False(t, s.RollbackTo(first))

	// Rollback restores only the state before the second operation.
	assert.True(t, s.Rollback())
	assert.Equal(t, afterFirst.Board.Columns, s.Snapshot().Board.Columns)
	assert.Equal(t, []string{"t1"}, s.Column(d), "first move stays applied")
	assert.False(t, s.Rollback())
}

func TestSettle_ProtectsConfirmedState(t *testing.T) {
	s := newStore("t1")
	tok, err := s.OptimisticMoveTask("t1", q, 0, d, 0)
	require.NoError(t, err)
	require.NoError(t, s.MoveTask("t1", q, 0, d, 0))

	s.Settle(tok)
	assert.False(t, s.HasPending())
	assert.False(t, s.Rollback())
	assert.Equal(t, []string{"t1"}, s.Column(d))

	// Settling a stale token keeps the newer snapshot.
	newer, err := s.OptimisticMoveTask("t1", d, 0, q, 0)
	require.NoError(t, err)
	s.Settle(tok)
	assert.True(t, s.HasPending())
	assert.True(t, s.RollbackTo(newer))
}

func TestAbandon_ClearsOptimisticState(t *testing.T) {
	s := newStore("t1")

	_, err := s.OptimisticAddTask(task("n1", model.TaskStatusQueue))
	require.NoError(t, err)
	edit := task("t1", model.TaskStatusQueue)
	edit.Title = "edited"
	_, err = s.OptimisticUpdateTask(edit)
	require.NoError(t, err)

	// The add's snapshot is gone; abandoning removes the unconfirmed task.
	assert.True(t, s.Abandon("n1"))
	assert.Nil(t, s.Task("n1"))
	assert.Equal(t, []string{"t1"}, s.Column(q))

	// A confirmed task only loses its flag.
	assert.True(t, s.Abandon("t1"))
	assert.False(t, s.Task("t1").IsOptimistic)
	assert.Empty(t, s.PendingOptimistic())

	assert.False(t, s.Abandon("t1"))
}

func TestLoad_ResetsState(t *testing.T) {
	s := newStore("t1")
	_, err := s.OptimisticDeleteTask("t1")
	require.NoError(t, err)

	board := model.NewBoard("b2")
	board.Column(d).TaskIDs = []string{"x"}
	s.Load(board, []*model.Task{task("x", model.TaskStatusDone)})

	assert.Equal(t, "b2", s.BoardID())
	assert.False(t, s.HasPending())
	assert.Equal(t, []string{"x"}, s.Column(d))
	assert.Nil(t, s.Column("nope"))
}

func TestSnapshot_IsDeepCopy(t *testing.T) {
	s := newStore("t1")
	snap := s.Snapshot()
	snap.Board.Columns[0].TaskIDs[0] = "mutated"
	snap.Tasks["t1"].Title = "mutated"

	assert.Equal(t, []string{"t1"}, s.Column(q))
	assert.Equal(t, "task t1", s.Task("t1").Title)
}

func TestOptimisticAdd_RollbackKeepsConfirmedMove(t *testing.T) {
	s := newStore("t1", "t2")
	tok, err := s.OptimisticAddTask(task("t9", model.TaskStatusQueue))
	require.NoError(t, err)

	// A remote move lands before the add fails.
	require.NoError(t, s.MoveTask("t1", q, 1, d, 0))

	assert.True(t, s.RollbackTo(tok))
	assert.Nil(t, s.Task("t9"))
	assert.Equal(t, []string{"t2"}, s.Column(q))
	assert.Equal(t, []string{"t1"}, s.Column(d))
}

func TestOptimisticAdd_RollbackKeepsConfirmedAdd(t *testing.T) {
	s := newStore("t1")
	tok, err := s.OptimisticAddTask(task("t9", model.TaskStatusQueue))
	require.NoError(t, err)

	require.NoError(t, s.AddTask(task("r1", model.TaskStatusInProgress)))

	assert.True(t, s.RollbackTo(tok))
	assert.Nil(t, s.Task("t9"))
	assert.NotNil(t, s.Task("r1"))
	assert.Equal(t, []string{"r1"}, s.Column(p))
	assert.Equal(t, []string{"t1"}, s.Column(q))
}

func TestOptimisticMove_RollbackYieldsToRemoteMove(t *testing.T) {
	s := newStore("t1", "t2")
	tok, err := s.OptimisticMoveTask("t1", q, 0, d, 0)
	require.NoError(t, err)

	require.NoError(t, s.MoveTask("t1", d, 0, p, 0))

	assert.True(t, s.RollbackTo(tok))
	assert.Equal(t, []string{"t1"}, s.Column(p), "the remote move wins")
	assert.Equal(t, []string{"t2"}, s.Column(q))
	assert.Empty(t, s.Column(d))
}

func TestOptimisticMove_RollbackOnlyTouchesMovedTask(t *testing.T) {
	s := newStore("t1", "t2", "t3")
	tok, err := s.OptimisticMoveTask("t1", q, 0, d, 0)
	require.NoError(t, err)

	require.NoError(t, s.MoveTask("t3", q, 1, p, 0))

	assert.True(t, s.RollbackTo(tok))
	assert.Equal(t, []string{"t1", "t2"}, s.Column(q))
	assert.Equal(t, []string{"t3"}, s.Column(p))
	assert.Empty(t, s.Column(d))
}

func TestOptimisticDelete_RollbackAfterConfirmedDelete(t *testing.T) {
	s := newStore("t1", "t2")
	tok, err := s.OptimisticDeleteTask("t1")
	require.NoError(t, err)

	s.DeleteTask("t1")

	assert.True(t, s.RollbackTo(tok))
	assert.Nil(t, s.Task("t1"))
	assert.Equal(t, []string{"t2"}, s.Column(q))
}

func TestRollback_ClearsFlagOfConfirmedTask(t *testing.T) {
	s := newStore()
	addTok, err := s.OptimisticAddTask(task("A", model.TaskStatusQueue))
	require.NoError(t, err)

	edit := task("A", model.TaskStatusQueue)
	edit.Title = "edited"
	editTok, err := s.OptimisticUpdateTask(edit)
	require.NoError(t, err)

	// The add is confirmed while the edit is still pending.
	require.NoError(t, s.AddTask(task("A", model.TaskStatusQueue)))
	s.Settle(addTok)

	assert.True(t, s.RollbackTo(editTok))
	got := s.Task("A")
	require.NotNil(t, got)
	assert.Equal(t, "task A", got.Title)
	assert.False(t, got.IsOptimistic)
	assert.Empty(t, s.PendingOptimistic())
	assert.Equal(t, []string{"A"}, s.Column(q))
}
