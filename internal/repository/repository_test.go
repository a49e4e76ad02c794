package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskboard-live/backend/internal/db"
	"github.com/taskboard-live/backend/internal/model"
)

func newTestRepos(t *testing.T) (*BoardRepository, *TaskRepository) {
	t.Helper()
	testDB, err := db.NewTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { testDB.Close() })
	return NewBoardRepository(testDB), NewTaskRepository(testDB)
}

func newBoard(name string) *model.Board {
	b := model.NewBoard(uuid.New().String())
	b.Name = name
	now := time.Now().UTC().Truncate(time.Second)
	b.CreatedAt = now
	b.UpdatedAt = now
	return b
}

func TestBoardRepository_RoundTrip(t *testing.T) {
	boards, _ := newTestRepos(t)
	ctx := context.Background()

	b := newBoard("Sprint 1")
	b.Columns[0].TaskIDs = []string{"t1", "t2"}
	require.NoError(t, boards.Create(ctx, b))

	got, err := boards.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "Sprint 1", got.Name)
	assert.Equal(t, b.Columns, got.Columns)
	assert.Equal(t, b.ColumnOrder, got.ColumnOrder)

	got.Name = "Sprint 2"
	got.Columns[0].TaskIDs = []string{"t2"}
	require.NoError(t, boards.Update(ctx, got))

	again, err := boards.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "Sprint 2", again.Name)
	assert.Equal(t, []string{"t2"}, again.Columns[0].TaskIDs)

	list, err := boards.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	exists, err := boards.Exists(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestBoardRepository_NotFound(t *testing.T) {
	boards, _ := newTestRepos(t)
	ctx := context.Background()

	_, err := boards.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrBoardNotFound)
	assert.ErrorIs(t, boards.Delete(ctx, "missing"), model.ErrBoardNotFound)
	assert.ErrorIs(t, boards.Update(ctx, newBoard("x")), model.ErrBoardNotFound)

	exists, err := boards.Exists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestBoardRepository_DeleteCascadesToTasks(t *testing.T) {
	boards, tasks := newTestRepos(t)
	ctx := context.Background()

	b := newBoard("Doomed")
	require.NoError(t, boards.Create(ctx, b))
	require.NoError(t, tasks.Create(ctx, &model.Task{
		ID: "t1", BoardID: b.ID, Title: "a", Status: model.TaskStatusQueue, Priority: model.TaskPriorityLow,
	}))

	require.NoError(t, boards.Delete(ctx, b.ID))
	count, err := tasks.CountByBoard(ctx, b.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestTaskRepository_CRUD(t *testing.T) {
	boards, tasks := newTestRepos(t)
	ctx := context.Background()

	b := newBoard("Work")
	require.NoError(t, boards.Create(ctx, b))

	task := &model.Task{
		ID:       "t1",
		BoardID:  b.ID,
		Title:    "Write docs",
		Status:   model.TaskStatusQueue,
		Priority: model.TaskPriorityHigh,
		Tags:     []string{"docs", "q3"},
	}
	require.NoError(t, tasks.Create(ctx, task))

	got, err := tasks.GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"docs", "q3"}, got.Tags)
	assert.Equal(t, model.TaskPriorityHigh, got.Priority)
	assert.False(t, got.IsOptimistic)

	got.Title = "Write better docs"
	got.Tags = nil
	require.NoError(t, tasks.Update(ctx, got))
	require.NoError(t, tasks.UpdateStatus(ctx, "t1", model.TaskStatusDone))

	got, err = tasks.GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "Write better docs", got.Title)
	assert.Nil(t, got.Tags)
	assert.Equal(t, model.TaskStatusDone, got.Status)

	list, err := tasks.List(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, tasks.Delete(ctx, "t1"))
	_, err = tasks.GetByID(ctx, "t1")
	assert.ErrorIs(t, err, model.ErrTaskNotFound)
	assert.ErrorIs(t, tasks.Delete(ctx, "t1"), model.ErrTaskNotFound)
}

func TestTaskRepository_RequiresBoard(t *testing.T) {
	_, tasks := newTestRepos(t)
	err := tasks.Create(context.Background(), &model.Task{ID: "t1", BoardID: "nope", Title: "a"})
	assert.Error(t, err)
}

func TestTaskRepository_QueryFailure(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	repo := NewTaskRepository(sqlx.NewDb(mockDB, "sqlmock"))
	mock.ExpectQuery("SELECT (.+) FROM tasks WHERE board_id").
		WithArgs("b1").
		WillReturnError(errors.New("disk I/O error"))

	_, err = repo.List(context.Background(), "b1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list tasks")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBoardRepository_InsertFailure(t *testing.T) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer mockDB.Close()

	repo := NewBoardRepository(sqlx.NewDb(mockDB, "sqlmock"))
	mock.ExpectExec("INSERT INTO boards").
		WithArgs(sqlmock.AnyArg(), "Broken", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(errors.New("database is locked"))

	err = repo.Create(context.Background(), newBoard("Broken"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create board")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskCreationIntegrityProperty(t *testing.T) {
	boards, tasks := newTestRepos(t)
	ctx := context.Background()

	b := newBoard("Property")
	require.NoError(t, boards.Create(ctx, b))

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	nonEmptyString := gen.AlphaString().SuchThat(func(s string) bool {
		return len(s) > 0 && len(s) <= 100
	})
	statuses := gen.OneConstOf(model.TaskStatusQueue, model.TaskStatusInProgress, model.TaskStatusDone)

	properties.Property("created tasks can be retrieved unchanged", prop.ForAll(
		func(title, assignee string, status model.TaskStatus, tags []string) bool {
			task := &model.Task{
				ID:       uuid.New().String(),
				BoardID:  b.ID,
				Title:    title,
				Assignee: assignee,
				Status:   status,
				Priority: model.TaskPriorityMedium,
				Tags:     tags,
			}
			if len(task.Tags) == 0 {
				task.Tags = nil
			}
			if err := tasks.Create(ctx, task); err != nil {
				t.Logf("create failed: %v", err)
				return false
			}

			got, err := tasks.GetByID(ctx, task.ID)
			if err != nil {
				return false
			}
			if got.Title != title || got.Assignee != assignee || got.Status != status {
				return false
			}
			return assert.ObjectsAreEqual(task.Tags, got.Tags)
		},
		nonEmptyString,
		gen.AlphaString(),
		statuses,
		gen.SliceOf(nonEmptyString),
	))

	properties.TestingRun(t)
}
