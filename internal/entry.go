// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/starford/cqsync/internal/api"
	"github.com/starford/cqsync/internal/mcpserver"
	"github.com/starford/cqsync/internal/metrics"
	"github.com/starford/cqsync/internal/notify"
	"github.com/starford/cqsync/internal/remote"
	"github.com/starford/cqsync/internal/render"
	"github.com/starford/cqsync/internal/scheduler"
	"github.com/starford/cqsync/internal/sse"
	"github.com/starford/cqsync/internal/state"
	"github.com/starford/cqsync/internal/storage"
	"github.com/starford/cqsync/internal/syncer"
	"github.com/starford/cqsync/internal/syncservice"
	"github.com/starford/cqsync/internal/watcher"
)

// Run starts the application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// stdout carries the MCP protocol in MCP mode.
	var out io.Writer = os.Stdout
	if app.mcp {
		out = os.Stderr
	}
	logger := newLogger(cfg.App, out)
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("remote", cfg.Remote.BaseURL),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Ensure vault directory exists.
	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return fmt.Errorf("create vault dir: %w", err)
	}

	store, err := storage.NewFS(cfg.Vault.Path)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	db, err := state.Open(cfg.SQLite.Path)
	if err != nil {
		return fmt.Errorf("init state: %w", err)
	}
	defer db.Close()

	if err := db.SeedSettings(ctx, cfg.Sync.Settings()); err != nil {
		return fmt.Errorf("seed settings: %w", err)
	}
	if cfg.Sync.TemplateFile != "" {
		if _, err := watcher.ApplyFile(ctx, cfg.Sync.TemplateFile, db); err != nil {
			logger.Warn("template file not loaded", slog.String("file", cfg.Sync.TemplateFile), slog.String("error", err.Error()))
		}
	}
	settings, err := db.LoadSettings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	// Bring the document index in line with the vault.
	if err := state.Reconcile(ctx, db, store, settings.RootDirectory(), logger); err != nil {
		logger.Warn("initial reconcile failed", slog.String("error", err.Error()))
	}

	renderer, err := render.NewRenderer(logger, render.DefaultCacheSize)
	if err != nil {
		return fmt.Errorf("init renderer: %w", err)
	}

	client := remote.NewClient(remote.Config{
		BaseURL:           cfg.Remote.BaseURL,
		Timeout:           cfg.Remote.Timeout,
		RequestsPerSecond: cfg.Remote.RequestsPerSecond,
		BreakerFailures:   cfg.Remote.BreakerFailures,
		BreakerCooldown:   cfg.Remote.BreakerCooldown,
		Logger:            logger,
	})

	collector := metrics.New()
	tracker := notify.NewTracker()
	broker := sse.NewBroker(30 * time.Second)
	defer broker.Close()
	notifier := notify.Multi(notify.Log(logger), tracker, broker)

	orch := syncer.New(syncer.Deps{
		Fetcher:  client,
		Store:    store,
		Renderer: renderer,
		Settings: db,
		Recorder: db,
		Notifier: notifier,
		Metrics:  collector,
		Logger:   logger,
		PageSize: cfg.Remote.PageSize,
	})

	if app.once {
		res, err := orch.Run(ctx, syncer.TriggerManual)
		if err != nil {
			return fmt.Errorf("%s: %w", res.Message, err)
		}
		logger.Info("Sync finished", slog.String("message", res.Message))
		return nil
	}

	sched := scheduler.New(orch, notifier, collector, logger)
	svc := syncservice.NewService(sched, db, db, store, tracker)
	interval := time.Duration(settings.IntervalMinutes) * time.Minute

	if app.mcp {
		mcpCtx, cancel := context.WithCancel(ctx)
		wait := startTemplateWatcher(mcpCtx, cfg.Sync.TemplateFile, db, logger)
		defer func() {
			cancel()
			wait()
		}()
		sched.Start(mcpCtx, interval)
		defer sched.Stop()
		if settings.SyncOnStartup {
			sched.TriggerAsync(syncer.TriggerStartup)
		}
		logger.Info("Serving MCP over stdio")
		return mcpserver.New(svc).ServeStdio()
	}

	apiRouter := api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)
	r := newRouter(apiRouter, collector, db)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Scheduler: periodic timer plus the optional startup run.
	sched.Start(gCtx, interval)
	if settings.SyncOnStartup {
		sched.TriggerAsync(syncer.TriggerStartup)
	}

	// Reload the template when its file changes.
	g.Go(func() error {
		startTemplateWatcher(gCtx, cfg.Sync.TemplateFile, db, logger)()
		return nil
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Shut down on signal or when another goroutine fails.
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return nil
	})

	err = g.Wait()
	sched.Stop()
	if err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// startTemplateWatcher reloads the template file into sink until ctx is
// done. The returned func blocks until the watcher has exited. An empty file
// disables watching.
func startTemplateWatcher(ctx context.Context, file string, sink watcher.TemplateSink, logger *slog.Logger) (wait func()) {
	done := make(chan struct{})
	if file == "" {
		close(done)
		return func() { <-done }
	}
	go func() {
		defer close(done)
		err := watcher.Watch(ctx, file, sink, logger, func(string) {
			logger.Info("template reloaded", slog.String("file", file))
		})
		if err != nil {
			logger.Warn("template watcher stopped", slog.String("error", err.Error()))
		}
	}()
	return func() { <-done }
}

// newLogger builds the JSON logger, teeing into a rotated file when one is
// configured.
func newLogger(cfg ApplicationConfig, out io.Writer) *slog.Logger {
	if cfg.LogFile != "" {
		out = io.MultiWriter(out, &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		})
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
}

// pinger reports whether the state store is reachable.
type pinger interface {
	Ping() error
}

// newRouter mounts the API, health probes and metrics on one chi router.
func newRouter(apiRouter http.Handler, collector *metrics.Collector, db pinger) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := db.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Handle("/metrics", collector.Handler())

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	return r
}
