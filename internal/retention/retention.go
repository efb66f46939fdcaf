package retention

import (
	"context"
	"log/slog"
	"time"

	"podcast-illustrator/internal/config"
	"podcast-illustrator/internal/jobs"
	"podcast-illustrator/internal/metrics"
	"podcast-illustrator/internal/store"
)

// Stats captures the number of jobs deleted by TTL cleanup, keyed by the
// status they were in.
type Stats struct {
	JobsDeleted map[string]int64 `json:"jobsDeleted"`
}

// Total returns the number of jobs deleted across all statuses.
func (s Stats) Total() int64 {
	var n int64
	for _, v := range s.JobsDeleted {
		n += v
	}
	return n
}

// Pruner removes secondary records of a deleted job, such as catalog rows.
type Pruner interface {
	DeleteJob(ctx context.Context, id string) error
}

// Reserve claims a job so that no run can start on it until release is
// called. ok is false when the job is running or queued.
type Reserve func(id string) (release func(), ok bool)

// CleanupExpired deletes job areas whose last status change is older than
// the TTL configured for that status. Processing jobs and jobs that reserve
// refuses are never touched, and the expiry is checked again while the
// reservation is held.
func CleanupExpired(ctx context.Context, cfg *config.Config, st *store.Store, reserve Reserve, pruner Pruner, logger *slog.Logger) Stats {
	if logger == nil {
		logger = slog.Default()
	}
	now := time.Now().UTC()
	stats := Stats{JobsDeleted: make(map[string]int64)}

	infos, err := st.ListJobs()
	if err != nil {
		logger.Error("retention: list jobs failed", "error", err)
		return stats
	}

	for _, info := range infos {
		if ctx.Err() != nil {
			break
		}
		if !expired(cfg.Retention.Jobs, info.Record, now) {
			continue
		}
		id := info.Dir.ID
		status, ok := removeReserved(st, info.Dir, reserve, cfg.Retention.Jobs, now, logger)
		if !ok {
			continue
		}
		if pruner != nil {
			if err := pruner.DeleteJob(ctx, id); err != nil {
				logger.Warn("retention: prune job record failed", "job_id", id, "error", err)
			}
		}
		stats.JobsDeleted[string(status)]++
	}

	for status, n := range stats.JobsDeleted {
		metrics.RecordRetentionJobs(status, n)
	}
	if total := stats.Total(); total > 0 {
		logger.Info("retention: deleted expired jobs", "count", total)
	}
	return stats
}

func expired(ttl config.JobTTLConfig, rec jobs.Record, now time.Time) bool {
	if rec.Status == jobs.StatusProcessing {
		return false
	}
	days := ttlDays(ttl, rec.Status)
	if days <= 0 {
		return false
	}
	return rec.Timestamp.Before(now.AddDate(0, 0, -days))
}

// removeReserved deletes dir while holding its reservation, after
// confirming the job did not change since it was listed.
func removeReserved(st *store.Store, dir store.JobDir, reserve Reserve, ttl config.JobTTLConfig, now time.Time, logger *slog.Logger) (jobs.Status, bool) {
	if reserve != nil {
		release, ok := reserve(dir.ID)
		if !ok {
			return "", false
		}
		defer release()
	}
	rec, err := st.ReadStatus(dir)
	if err != nil || !expired(ttl, rec, now) {
		return "", false
	}
	if err := st.RemoveJob(dir); err != nil {
		logger.Warn("retention: remove job failed", "job_id", dir.ID, "error", err)
		return "", false
	}
	return rec.Status, true
}

// ttlDays returns the effective TTL for a status, falling back to
// DefaultDays when no specific value is set.
func ttlDays(ttl config.JobTTLConfig, status jobs.Status) int {
	specific := 0
	switch status {
	case jobs.StatusUploaded:
		specific = ttl.UploadedDays
	case jobs.StatusCompleted:
		specific = ttl.CompletedDays
	case jobs.StatusFailed:
		specific = ttl.FailedDays
	}
	if specific > 0 {
		return specific
	}
	return ttl.DefaultDays
}
