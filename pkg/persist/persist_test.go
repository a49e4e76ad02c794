package persist

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskboard-live/backend/internal/model"
	"github.com/taskboard-live/backend/pkg/protocol"
)

func TestClient_CreateTask(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/tasks", r.URL.Path)

		var in model.Task
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.False(t, in.IsOptimistic, "optimistic flag never leaves the client")

		in.CreatedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(in)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	got, err := c.CreateTask(context.Background(), &model.Task{
		ID: "t1", BoardID: "b1", Title: "Write docs", IsOptimistic: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "t1", got.ID)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestClient_MoveTaskPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tasks/t1/move", r.URL.Path)

		var req MoveRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "done", req.DestID)
		assert.Equal(t, 2, req.DestIndex)

		_ = json.NewEncoder(w).Encode(model.NewBoard(req.BoardID))
	}))
	defer srv.Close()

	b, err := NewClient(srv.URL).MoveTask(context.Background(), MoveRequest{
		BoardID: "b1", TaskID: "t1", SourceID: "queue", DestID: "done", DestIndex: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, "b1", b.ID)
}

func TestClient_ErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"TASK_NOT_FOUND","message":"Task t9 not found"}}`))
	}))
	defer srv.Close()

	err := NewClient(srv.URL).DeleteTask(context.Background(), "t9")
	require.Error(t, err)

	var perr *protocol.PersistenceError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "delete_task", perr.Op)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "TASK_NOT_FOUND", apiErr.Code)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestClient_BreakerOpensOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := c.ListBoards(ctx)
		require.Error(t, err)
	}
	assert.Equal(t, "open", c.BreakerState())

	_, err := c.ListBoards(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCircuitOpen))
	assert.Equal(t, int32(5), hits.Load(), "open breaker does not reach the server")
}

func TestClient_ClientErrorsKeepBreakerClosed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	for i := 0; i < 10; i++ {
		_, err := c.GetBoard(context.Background(), "b1")
		require.Error(t, err)
	}
	assert.Equal(t, "closed", c.BreakerState())
}

func TestClient_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url).ListTasks(context.Background(), "b1")
	var perr *protocol.PersistenceError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "list_tasks", perr.Op)
}

func TestMemory_TaskLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.PutBoard(model.NewBoard("b1"))

	created, err := m.CreateTask(ctx, &model.Task{BoardID: "b1", Title: "a", IsOptimistic: true})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.False(t, created.IsOptimistic)
	assert.Equal(t, model.TaskStatusQueue, created.Status)

	b, err := m.MoveTask(ctx, MoveRequest{BoardID: "b1", TaskID: created.ID, SourceID: "queue", DestID: "done"})
	require.NoError(t, err)
	assert.Empty(t, b.Column("queue").TaskIDs)
	assert.Equal(t, []string{created.ID}, b.Column("done").TaskIDs)

	require.NoError(t, m.DeleteTask(ctx, created.ID))
	err = m.DeleteTask(ctx, created.ID)
	assert.True(t, errors.Is(err, ErrNotFound))

	assert.Equal(t, []string{"create_task", "move_task", "delete_task", "delete_task"}, m.Calls())
}

func TestMemory_FailNext(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	boom := errors.New("boom")
	m.FailNext(boom)

	_, err := m.CreateTask(ctx, &model.Task{Title: "a"})
	var perr *protocol.PersistenceError
	require.True(t, errors.As(err, &perr))
	assert.ErrorIs(t, err, boom)

	_, err = m.CreateTask(ctx, &model.Task{Title: "a"})
	assert.NoError(t, err)
}
