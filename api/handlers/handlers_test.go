package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskboard-live/backend/internal/boards"
	"github.com/taskboard-live/backend/internal/db"
	"github.com/taskboard-live/backend/internal/model"
	"github.com/taskboard-live/backend/internal/presence"
	"github.com/taskboard-live/backend/internal/repository"
	"github.com/taskboard-live/backend/internal/ws"
	"github.com/taskboard-live/backend/pkg/persist"
	"github.com/taskboard-live/backend/pkg/protocol"
)

type testAPI struct {
	engine   *gin.Engine
	manager  *boards.Manager
	registry *presence.Registry
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	testDB, err := db.NewTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { testDB.Close() })

	manager, err := boards.NewManager(repository.NewBoardRepository(testDB), repository.NewTaskRepository(testDB), boards.Config{})
	require.NoError(t, err)

	registry := presence.NewRegistry(nil)
	server := ws.NewServer(ws.Config{}, registry, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		server.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	r := gin.New()
	api := r.Group("/api")
	NewBoardHandler(manager).RegisterRoutes(api)
	NewTaskHandler(manager).RegisterRoutes(api)
	NewWebSocketHandler(ws.NewHandler(server, nil), registry).RegisterRoutes(r, api)

	return &testAPI{engine: r, manager: manager, registry: registry}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestBoardHandler_Lifecycle(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodGet, "/api/boards", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = a.do(t, http.MethodPost, "/api/boards", model.CreateBoardRequest{Name: "Sprint"})
	require.Equal(t, http.StatusCreated, w.Code)
	board := decode[model.Board](t, w)
	assert.Equal(t, model.DefaultColumnOrder(), board.ColumnOrder)

	w = a.do(t, http.MethodPut, "/api/boards/"+board.ID, model.UpdateBoardRequest{Name: "Renamed"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Renamed", decode[model.Board](t, w).Name)

	cols := model.CloneColumns(board.Columns)
	cols[2].Title = "Shipped"
	w = a.do(t, http.MethodPatch, "/api/boards/"+board.ID+"/columns", UpdateColumnsRequest{Columns: cols})
	require.Equal(t, http.StatusOK, w.Code)
	patched := decode[model.Board](t, w)
	assert.Equal(t, "Shipped", patched.Column(model.ColumnDone).Title)

	w = a.do(t, http.MethodGet, "/api/boards/"+board.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, http.MethodDelete, "/api/boards/"+board.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = a.do(t, http.MethodGet, "/api/boards/"+board.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "BOARD_NOT_FOUND", decode[ErrorResponse](t, w).Error.Code)
}

func TestBoardHandler_Validation(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodPost, "/api/boards", model.CreateBoardRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", decode[ErrorResponse](t, w).Error.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/boards", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	a.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	w = a.do(t, http.MethodPatch, "/api/boards/x/columns", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTaskHandler_Lifecycle(t *testing.T) {
	a := newTestAPI(t)
	board, err := a.manager.CreateBoard(context.Background(), &model.CreateBoardRequest{Name: "Sprint"})
	require.NoError(t, err)

	w := a.do(t, http.MethodPost, "/api/tasks", model.Task{BoardID: board.ID, Title: "Write docs"})
	require.Equal(t, http.StatusCreated, w.Code)
	task := decode[model.Task](t, w)
	assert.Equal(t, model.TaskStatusQueue, task.Status)
	assert.Equal(t, model.TaskPriorityMedium, task.Priority)

	w = a.do(t, http.MethodGet, "/api/tasks?boardId="+board.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]model.Task](t, w), 1)

	task.Title = "Write better docs"
	w = a.do(t, http.MethodPut, "/api/tasks/"+task.ID, task)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Write better docs", decode[model.Task](t, w).Title)

	w = a.do(t, http.MethodPatch, "/api/tasks/"+task.ID+"/move", boards.MoveRequest{
		SourceID: model.ColumnQueue, DestID: model.ColumnInProgress,
	})
	require.Equal(t, http.StatusOK, w.Code)
	moved := decode[model.Board](t, w)
	assert.Equal(t, []string{task.ID}, moved.Column(model.ColumnInProgress).TaskIDs)

	w = a.do(t, http.MethodGet, "/api/tasks/"+task.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.TaskStatusInProgress, decode[model.Task](t, w).Status)

	w = a.do(t, http.MethodDelete, "/api/tasks/"+task.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = a.do(t, http.MethodDelete, "/api/tasks/"+task.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "TASK_NOT_FOUND", decode[ErrorResponse](t, w).Error.Code)
}

func TestTaskHandler_Errors(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodPost, "/api/tasks", model.Task{Title: "orphan"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodPost, "/api/tasks", model.Task{BoardID: "missing", Title: "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = a.do(t, http.MethodPost, "/api/tasks/x/move", map[string]any{"destIndex": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code, "destColumnId is required")
}

func TestPresence(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodGet, "/api/boards/b1/presence", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	_, err := a.registry.Join(context.Background(), "b1", model.Participant{ConnectionID: "c1", Name: "Ada"})
	require.NoError(t, err)

	w = a.do(t, http.MethodGet, "/api/boards/b1/presence", nil)
	require.Equal(t, http.StatusOK, w.Code)
	roster := decode[[]model.Participant](t, w)
	require.Len(t, roster, 1)
	assert.Equal(t, "c1", roster[0].ConnectionID)
}

func TestWebSocketAttach(t *testing.T) {
	a := newTestAPI(t)
	srv := httptest.NewServer(a.engine)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := protocol.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, protocol.EventConnected, msg.Event)
}

// The SDK's REST client speaks the same JSON as these handlers.
func TestPersistClientRoundTrip(t *testing.T) {
	a := newTestAPI(t)
	srv := httptest.NewServer(a.engine)
	defer srv.Close()

	ctx := context.Background()
	client := persist.NewClient(srv.URL)

	board, err := client.CreateBoard(ctx, &model.CreateBoardRequest{Name: "Round trip"})
	require.NoError(t, err)

	task, err := client.CreateTask(ctx, &model.Task{ID: "t-1", BoardID: board.ID, Title: "first", IsOptimistic: true})
	require.NoError(t, err)
	assert.Equal(t, "t-1", task.ID)

	task.Title = "renamed"
	_, err = client.UpdateTask(ctx, task)
	require.NoError(t, err)

	layout, err := client.MoveTask(ctx, persist.MoveRequest{
		BoardID: board.ID, TaskID: task.ID, SourceID: model.ColumnQueue, DestID: model.ColumnDone,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"t-1"}, layout.Column(model.ColumnDone).TaskIDs)

	tasks, err := client.ListTasks(ctx, board.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "renamed", tasks[0].Title)
	assert.Equal(t, model.TaskStatusDone, tasks[0].Status)

	require.NoError(t, client.DeleteTask(ctx, task.ID))
	err = client.DeleteTask(ctx, task.ID)
	assert.True(t, errors.Is(err, persist.ErrNotFound))

	require.NoError(t, client.DeleteBoard(ctx, board.ID))
	_, err = client.GetBoard(ctx, board.ID)
	assert.ErrorIs(t, err, persist.ErrNotFound)
}
