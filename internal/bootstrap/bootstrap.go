package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"podcast-illustrator/internal/catalog"
	"podcast-illustrator/internal/config"
	"podcast-illustrator/internal/events"
	"podcast-illustrator/internal/migrate"
	"podcast-illustrator/internal/pipeline"
	"podcast-illustrator/internal/retention"
	"podcast-illustrator/internal/store"
	"podcast-illustrator/internal/transcoder"
)

// App holds the collaborators shared by the API server and the operator
// CLI. Catalog and Redis are nil when not configured.
type App struct {
	Config       *config.Config
	Logger       *slog.Logger
	Store        *store.Store
	FFmpeg       *transcoder.FFmpeg
	Orchestrator *pipeline.Orchestrator
	Catalog      *catalog.Catalog
	Redis        *redis.Client
}

// NewLogger builds the process logger from the log section.
func NewLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Build wires storage, the transcoder, and the pipeline, plus the catalog
// and event publisher when their connection strings are set. Catalog
// migrations are applied before the catalog is used. It is idempotent and
// safe to run multiple times against the same database.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: nil config")
	}
	if logger == nil {
		logger = slog.Default()
	}

	app := &App{
		Config: cfg,
		Logger: logger,
		Store:  store.New(cfg.Storage.Root),
		FFmpeg: transcoder.New(cfg.Transcoder.FFmpegPath,
			transcoder.WithTimeout(cfg.TranscodeTimeout()),
			transcoder.WithLogger(logger),
		),
	}

	var observers []pipeline.Observer

	if dsn := strings.TrimSpace(cfg.Database.DSN); dsn != "" {
		db, err := catalog.Open(dsn)
		if err != nil {
			return nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("bootstrap: ping database: %w", err)
		}
		if err := migrate.Up(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("bootstrap: migrations failed: %w", err)
		}
		app.Catalog = catalog.New(db)
		observers = append(observers, app.Catalog)
		logger.Info("catalog enabled")
	}

	if url := strings.TrimSpace(cfg.Redis.URL); url != "" {
		opt, err := redis.ParseURL(url)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("bootstrap: parse redis url: %w", err)
		}
		app.Redis = redis.NewClient(opt)
		observers = append(observers, events.NewPublisher(app.Redis, events.DefaultChannel))
		logger.Info("redis enabled", "addr", opt.Addr)
	}

	app.Orchestrator = pipeline.New(app.Store, app.FFmpeg,
		pipeline.WithSegmentDuration(cfg.SegmentDuration()),
		pipeline.WithObservers(observers...),
		pipeline.WithLogger(logger),
	)
	return app, nil
}

// Pruner returns the catalog as a retention pruner, or nil without one.
func (a *App) Pruner() retention.Pruner {
	if a.Catalog == nil {
		return nil
	}
	return a.Catalog
}

// Close releases database and Redis connections.
func (a *App) Close() error {
	var errs []error
	if a.Catalog != nil {
		errs = append(errs, a.Catalog.DB.Close())
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	return errors.Join(errs...)
}
