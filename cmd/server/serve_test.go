package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskboard-live/backend/internal/boards"
	"github.com/taskboard-live/backend/internal/config"
	"github.com/taskboard-live/backend/internal/db"
	"github.com/taskboard-live/backend/internal/presence"
	"github.com/taskboard-live/backend/internal/repository"
	"github.com/taskboard-live/backend/internal/ws"
)

func testRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	testDB, err := db.NewTestDB()
	require.NoError(t, err)
	t.Cleanup(func() { testDB.Close() })

	manager, err := boards.NewManager(repository.NewBoardRepository(testDB), repository.NewTaskRepository(testDB), boards.Config{})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	registry := presence.NewRegistry(nil)
	server := ws.NewServer(ws.Config{}, registry, ws.NewMetrics(ws.WithMetricsRegistry(reg)), nil)
	cfg := &config.Config{WS: config.WSConfig{AllowedOrigins: []string{"http://localhost:3000"}}}
	return newRouter(cfg, manager, registry, ws.NewHandler(server, cfg.WS.AllowedOrigins), reg)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	r := testRouter(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "taskboard_")
}

func TestRouter_CORS(t *testing.T) {
	r := testRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/boards", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/boards", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestNewPresenceStore_ClearsStaleRosters(t *testing.T) {
	m := miniredis.RunT(t)
	require.NoError(t, m.Set("taskboard:presence:b1", `[{"connectionId":"gone"}]`))
	require.NoError(t, m.Set("unrelated", "kept"))

	cfg := &config.Config{
		Presence: config.PresenceConfig{Backend: config.PresenceRedis},
		Redis:    config.RedisConfig{Addr: m.Addr(), Prefix: "taskboard:presence:"},
	}
	store, closeStore, err := newPresenceStore(context.Background(), cfg)
	require.NoError(t, err)
	defer closeStore()

	assert.False(t, m.Exists("taskboard:presence:b1"))
	assert.True(t, m.Exists("unrelated"))

	roster, err := store.Load(context.Background(), "b1")
	require.NoError(t, err)
	assert.Empty(t, roster)
}
