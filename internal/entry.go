// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorhill/cronexpr"
	"golang.org/x/sync/errgroup"

	"github.com/halloran/daybook/internal/activity"
	"github.com/halloran/daybook/internal/api"
	"github.com/halloran/daybook/internal/batch"
	"github.com/halloran/daybook/internal/habits"
	"github.com/halloran/daybook/internal/index"
	"github.com/halloran/daybook/internal/journal"
	"github.com/halloran/daybook/internal/pagecache"
	"github.com/halloran/daybook/internal/saver"
	"github.com/halloran/daybook/internal/scanner"
	"github.com/halloran/daybook/internal/settings"
	"github.com/halloran/daybook/internal/sse"
	"github.com/halloran/daybook/internal/storage"
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

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("journal_path", cfg.Journal.Path),
		slog.String("index_path", cfg.SQLite.IndexPath),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Ensure journal directory exists.
	if err := os.MkdirAll(cfg.Journal.Path, 0o755); err != nil {
		return fmt.Errorf("create journal dir: %w", err)
	}

	// Initialize storage.
	store, err := storage.NewFS(cfg.Journal.Path)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	// Initialize SQLite index.
	db, err := index.Open(cfg.SQLite.IndexPath)
	if err != nil {
		return fmt.Errorf("init index: %w", err)
	}
	defer db.Close()

	// Habit completions store.
	hb, err := habits.Open(cfg.SQLite.HabitsPath)
	if err != nil {
		return fmt.Errorf("init habits: %w", err)
	}
	defer hb.Close()

	// User settings (activity repositories).
	st, err := settings.Open(cfg.Settings.Path)
	if err != nil {
		return fmt.Errorf("init settings: %w", err)
	}

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	// Core collaborators.
	sc := scanner.New(store, cfg.Journal.MaxFileSize, cfg.Journal.Ignore, batch.Options{
		Concurrency: cfg.Scan.Concurrency,
		Size:        cfg.Scan.BatchSize,
		Pause:       cfg.Scan.BatchPause,
	}, logger)

	sv := saver.New(store, cfg.Save.Debounce, broker.PublishSaveResult, logger)
	defer sv.Close()

	cache := pagecache.New(store, pagecache.Config{
		PageSize:    cfg.Cache.PageSize,
		MaxResident: cfg.Cache.MaxResident,
		Overscan:    cfg.Cache.Overscan,
	}, sv, logger)

	// Activity sources come from the settings file plus the habits store,
	// resolved per fetch so settings edits take effect without restart.
	provider := activity.SourceProviderFunc(func() []activity.Source {
		repos := st.Get().Repos
		sources := make([]activity.Source, 0, len(repos)+1)
		for _, repo := range repos {
			sources = append(sources, activity.NewGitSource(repo))
		}
		sources = append(sources, hb.AsSource())
		return sources
	})

	agg := activity.New(provider, cfg.Activity.QueryTimeout, logger)

	svc := journal.New(store, sc, cache, sv, agg, provider, db, hb, logger)

	// Initial scan so the first /entries call is served from memory.
	if _, err := svc.Rescan(ctx); err != nil {
		logger.Warn("initial scan failed", slog.String("error", err.Error()))
	}

	apiRouter := api.NewRouter(svc, st, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
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
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Watch the settings file so repository edits take effect live.
	g.Go(func() error {
		err := st.Watch(gCtx, logger, func(settings.Values) {
			svc.RefreshActivity(gCtx)
			broker.PublishActivityUpdated()
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("settings watch stopped", slog.String("error", err.Error()))
		}
		return nil
	})

	// Periodic activity refresh on a cron schedule.
	if cfg.Activity.RefreshCron != "" {
		expr := cronexpr.MustParse(cfg.Activity.RefreshCron)
		g.Go(func() error {
			for {
				next := expr.Next(time.Now())
				if next.IsZero() {
					return nil
				}
				timer := time.NewTimer(time.Until(next))
				select {
				case <-gCtx.Done():
					timer.Stop()
					return nil
				case <-timer.C:
					svc.RefreshActivity(gCtx)
					broker.PublishActivityUpdated()
				}
			}
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}
