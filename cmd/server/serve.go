package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/taskboard-live/backend/api/handlers"
	"github.com/taskboard-live/backend/internal/boards"
	"github.com/taskboard-live/backend/internal/config"
	"github.com/taskboard-live/backend/internal/db"
	"github.com/taskboard-live/backend/internal/journal"
	"github.com/taskboard-live/backend/internal/logging"
	"github.com/taskboard-live/backend/internal/presence"
	"github.com/taskboard-live/backend/internal/repository"
	"github.com/taskboard-live/backend/internal/ws"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the REST API and the realtime websocket endpoint",
		Long: `Start the board server.

Examples:
  taskboard-server serve
  PORT=4000 PRESENCE_BACKEND=redis REDIS_ADDR=localhost:6379 taskboard-server serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return err
			}
			if err := logging.Setup(cfg.Log.Level, cfg.Log.Format); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg)
		},
	}
	return cmd
}

// runServe wires the application and blocks until ctx is cancelled.
func runServe(ctx context.Context, cfg *config.Config) error {
	// Ensure data directories exist
	if err := os.MkdirAll(filepath.Dir(cfg.DB.Path), 0o755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	database, err := db.InitDB(cfg.DB.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.CloseDB()

	manager, err := boards.NewManager(
		repository.NewBoardRepository(database),
		repository.NewTaskRepository(database),
		boards.Config{CacheSize: cfg.Server.BoardCacheSize},
	)
	if err != nil {
		return err
	}

	store, closeStore, err := newPresenceStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	registry := presence.NewRegistry(store)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := ws.NewMetrics(ws.WithMetricsRegistry(reg))

	var recorder ws.Recorder
	if cfg.Journal.Dir != "" {
		j, err := journal.New(cfg.Journal.Dir)
		if err != nil {
			return err
		}
		defer j.Close()
		recorder = j
		log.WithField("dir", cfg.Journal.Dir).Info("Room journal enabled")
	}

	server := ws.NewServer(ws.Config{
		SendBuffer:  cfg.WS.SendBuffer,
		TypingRate:  cfg.WS.TypingRate,
		TypingBurst: cfg.WS.TypingBurst,
		StepTimeout: cfg.WS.StepTimeout,
	}, registry, metrics, recorder)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		server.Run(ctx)
	}()

	router := newRouter(cfg, manager, registry, ws.NewHandler(server, cfg.WS.AllowedOrigins), reg)
	httpServer := &http.Server{
		Addr:    cfg.Addr(),
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", httpServer.Addr).Info("Starting server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	}

	log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP shutdown incomplete")
	}
	<-loopDone
	return nil
}

// newPresenceStore returns the configured roster store and its cleanup.
func newPresenceStore(ctx context.Context, cfg *config.Config) (presence.Store, func(), error) {
	if cfg.Presence.Backend != config.PresenceRedis {
		store := presence.NewMemoryStore()
		return store, func() { store.Close() }, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
	}
	store := presence.NewRedisStore(client, presence.WithRedisPrefix(cfg.Redis.Prefix))
	removed, err := store.Reset(ctx)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to clear stale rosters: %w", err)
	}
	log.WithFields(log.Fields{
		"addr":          cfg.Redis.Addr,
		"stale_rosters": removed,
	}).Info("Presence backed by redis")
	return store, func() { client.Close() }, nil
}

// newRouter builds the gin engine with the REST API, the websocket
// endpoint, health and metrics.
func newRouter(cfg *config.Config, manager *boards.Manager, registry *presence.Registry, wsHandler *ws.Handler, gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.New()
	r.Use(gin.LoggerWithWriter(logging.Writer(log.InfoLevel)), gin.Recovery())
	r.Use(corsMiddleware(cfg.WS.AllowedOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/api")
	{
		handlers.NewBoardHandler(manager).RegisterRoutes(api)
		handlers.NewTaskHandler(manager).RegisterRoutes(api)
		handlers.NewWebSocketHandler(wsHandler, registry).RegisterRoutes(r, api)
	}
	return r
}

// corsMiddleware allows the configured browser origins.
func corsMiddleware(allowed []string) gin.HandlerFunc {
	origins := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		origins[o] = true
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case origins["*"]:
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && origins[origin]:
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Vary", "Origin")
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, PATCH, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
