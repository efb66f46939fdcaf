package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sqlc-dev/pqtype"

	"podcast-illustrator/internal/jobs"
	"podcast-illustrator/internal/pipeline"
)

// ErrNotFound is returned when the catalog has no row for a job.
var ErrNotFound = errors.New("job not in catalog")

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Job is one catalog row. The status record on disk stays authoritative;
// the catalog is a queryable copy kept in step by the pipeline.
type Job struct {
	ID        string
	Filename  string
	FileSize  int64
	Status    jobs.Status
	Progress  int
	Message   string
	Segments  []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Catalog mirrors job metadata and status into Postgres.
type Catalog struct {
	DB *sql.DB
}

// Open creates a pooled *sql.DB for dsn using the pgx driver.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// New creates a Catalog that uses a shared *sql.DB with pooling.
func New(db *sql.DB) *Catalog {
	return &Catalog{DB: db}
}

func (c *Catalog) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

// JobAccepted inserts the row of a freshly accepted job.
func (c *Catalog) JobAccepted(ctx context.Context, u pipeline.Upload) error {
	id, err := uuid.Parse(u.JobID)
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	_, err = c.DB.ExecContext(ctx, `
		INSERT INTO jobs (id, filename, file_size, status, progress, message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		id, u.Filename, u.Size, string(u.Record.Status), u.Record.Progress, u.Record.Message,
		u.CreatedAt, u.Record.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("catalog insert %s: %w", u.JobID, err)
	}
	return nil
}

// JobUpdated copies a persisted status change. A nil segments slice keeps
// the stored list.
func (c *Catalog) JobUpdated(ctx context.Context, jobID string, rec jobs.Record, segments []string) error {
	id, err := uuid.Parse(jobID)
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	segs, err := encodeSegments(segments)
	if err != nil {
		return err
	}
	_, err = c.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = $2, progress = $3, message = $4, updated_at = $5,
		    segments = COALESCE($6, segments)
		WHERE id = $1`,
		id, string(rec.Status), rec.Progress, rec.Message, rec.Timestamp, segs,
	)
	if err != nil {
		return fmt.Errorf("catalog update %s: %w", jobID, err)
	}
	return nil
}

const selectColumns = `id, filename, file_size, status, progress, message, segments, created_at, updated_at`

// List returns the most recently created jobs first.
func (c *Catalog) List(ctx context.Context, limit int) ([]Job, error) {
	limit = clampLimit(limit)
	rows, err := c.DB.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM jobs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("catalog list: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// Get returns one catalog row.
func (c *Catalog) Get(ctx context.Context, jobID string) (Job, error) {
	id, err := uuid.Parse(jobID)
	if err != nil {
		return Job{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	row := c.DB.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	return job, err
}

// DeleteJob removes the row of a job whose storage was deleted.
func (c *Catalog) DeleteJob(ctx context.Context, jobID string) error {
	id, err := uuid.Parse(jobID)
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	if _, err := c.DB.ExecContext(ctx, `DELETE FROM jobs WHERE id = $1`, id); err != nil {
		return fmt.Errorf("catalog delete %s: %w", jobID, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (Job, error) {
	var (
		job    Job
		id     uuid.UUID
		status string
		segs   pqtype.NullRawMessage
	)
	if err := s.Scan(&id, &job.Filename, &job.FileSize, &status, &job.Progress, &job.Message, &segs, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return Job{}, err
	}
	job.ID = id.String()
	job.Status = jobs.Status(status)
	names, err := decodeSegments(segs)
	if err != nil {
		return Job{}, err
	}
	job.Segments = names
	return job, nil
}

// encodeSegments stores segment file names, not host paths.
func encodeSegments(paths []string) (pqtype.NullRawMessage, error) {
	if paths == nil {
		return pqtype.NullRawMessage{}, nil
	}
	names := make([]string, len(paths))
	for i, p := range paths {
		names[i] = filepath.Base(p)
	}
	raw, err := json.Marshal(names)
	if err != nil {
		return pqtype.NullRawMessage{}, fmt.Errorf("encode segments: %w", err)
	}
	return pqtype.NullRawMessage{RawMessage: raw, Valid: true}, nil
}

func decodeSegments(raw pqtype.NullRawMessage) ([]string, error) {
	if !raw.Valid || len(raw.RawMessage) == 0 {
		return nil, nil
	}
	var names []string
	if err := json.Unmarshal(raw.RawMessage, &names); err != nil {
		return nil, fmt.Errorf("decode segments: %w", err)
	}
	return names, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
