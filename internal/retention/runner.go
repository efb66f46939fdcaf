package retention

import (
	"context"
	"log/slog"
	"time"

	"podcast-illustrator/internal/config"
	"podcast-illustrator/internal/store"
)

// Runner periodically applies TTL cleanup to the job store.
type Runner struct {
	cfg     *config.Config
	store   *store.Store
	reserve Reserve
	pruner  Pruner
	logger  *slog.Logger
}

// NewRunner constructs a Runner. A nil reserve deletes without claiming
// jobs; pruner may be nil when no catalog is configured.
func NewRunner(cfg *config.Config, st *store.Store, reserve Reserve, pruner Pruner, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cfg:     cfg,
		store:   st,
		reserve: reserve,
		pruner:  pruner,
		logger:  logger,
	}
}

// Start runs the cleanup loop in the current goroutine until ctx is done.
// Callers typically run this in its own goroutine.
func (r *Runner) Start(ctx context.Context) {
	if !r.cfg.Retention.Enabled {
		return
	}
	interval := time.Duration(r.cfg.Retention.CleanupIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		_ = CleanupExpired(ctx, r.cfg, r.store, r.reserve, r.pruner, r.logger)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
