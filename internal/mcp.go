package internal

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/halloran/daybook/internal/activity"
	"github.com/halloran/daybook/internal/batch"
	"github.com/halloran/daybook/internal/habits"
	"github.com/halloran/daybook/internal/index"
	"github.com/halloran/daybook/internal/journal"
	"github.com/halloran/daybook/internal/mcpserver"
	"github.com/halloran/daybook/internal/pagecache"
	"github.com/halloran/daybook/internal/saver"
	"github.com/halloran/daybook/internal/scanner"
	"github.com/halloran/daybook/internal/settings"
	"github.com/halloran/daybook/internal/sse"
	"github.com/halloran/daybook/internal/storage"
)

// RunMCP wires the data access core without the HTTP server and serves MCP
// tools over stdio. Logs go to stderr so stdout stays a clean transport.
func RunMCP(ctx context.Context, opts ...Option) error {
	app := &application{}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	cfg := app.config

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	store, err := storage.NewFS(cfg.Journal.Path)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	db, err := index.Open(cfg.SQLite.IndexPath)
	if err != nil {
		return fmt.Errorf("init index: %w", err)
	}
	defer db.Close()

	hb, err := habits.Open(cfg.SQLite.HabitsPath)
	if err != nil {
		return fmt.Errorf("init habits: %w", err)
	}
	defer hb.Close()

	st, err := settings.Open(cfg.Settings.Path)
	if err != nil {
		return fmt.Errorf("init settings: %w", err)
	}

	broker := sse.NewBroker(0)
	defer broker.Close()

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

	if _, err := svc.Rescan(ctx); err != nil {
		logger.Warn("initial scan failed", slog.String("error", err.Error()))
	}

	logger.Info("MCP server starting on stdio")
	return mcpserver.New(svc).ServeStdio()
}
