package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"podcast-illustrator/internal/formats"
	"podcast-illustrator/internal/jobs"
	"podcast-illustrator/internal/metrics"
	"podcast-illustrator/internal/store"
	"podcast-illustrator/internal/transcoder"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrNoInputFile       = errors.New("no input audio file in job storage")
	ErrAlreadyProcessing = errors.New("job is already processing")
	ErrJobFinished       = errors.New("job already finished")
)

// Progress checkpoints reported while a job runs.
const (
	ProgressSegmenting = 10
	ProgressSegmented  = 30
)

const interruptedMessage = "interrupted: service restarted during processing"

// Segmenter splits one input file into ordered segment files.
type Segmenter interface {
	Segment(ctx context.Context, inputPath string, target time.Duration, outputDir string) ([]string, error)
}

// Observer is told about every persisted change. The status record on disk
// stays authoritative, so observer errors are logged and otherwise ignored.
type Observer interface {
	JobAccepted(ctx context.Context, u Upload) error
	JobUpdated(ctx context.Context, jobID string, rec jobs.Record, segments []string) error
}

// Upload describes an accepted input file and its freshly created job.
type Upload struct {
	JobID     string
	Filename  string
	Path      string
	Size      int64
	CreatedAt time.Time
	Record    jobs.Record
}

// Result is the outcome of one Process call. Record is the last persisted
// status, also on failure.
type Result struct {
	JobID    string
	Record   jobs.Record
	Segments []string
}

// Orchestrator drives a job from upload to a terminal status. It is the
// only caller of the job state machine.
type Orchestrator struct {
	store     *store.Store
	segmenter Segmenter
	target    time.Duration
	locks     *jobLocks
	observers []Observer
	logger    *slog.Logger
	newID     func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSegmentDuration sets the target segment length.
func WithSegmentDuration(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.target = d
		}
	}
}

// WithObservers registers observers notified after each persisted change.
func WithObservers(obs ...Observer) Option {
	return func(o *Orchestrator) {
		for _, ob := range obs {
			if ob != nil {
				o.observers = append(o.observers, ob)
			}
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// New constructs an Orchestrator over st and seg.
func New(st *store.Store, seg Segmenter, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     st,
		segmenter: seg,
		target:    600 * time.Second,
		locks:     newJobLocks(),
		logger:    slog.Default(),
		newID:     newJobID,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// newJobID prefers time-ordered v7 ids and falls back to v4.
func newJobID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}

// Accept validates and stores an uploaded file and initializes its job in
// the uploaded state. Nothing is left on disk when it fails.
func (o *Orchestrator) Accept(ctx context.Context, filename string, r io.Reader) (Upload, error) {
	if r == nil {
		return Upload{}, fmt.Errorf("%w: no audio file provided", ErrInvalidInput)
	}
	name, err := formats.ValidateUploadName(filename)
	if err != nil {
		return Upload{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	id := o.newID()
	dir, err := o.store.CreateJob(id)
	if err != nil {
		return Upload{}, err
	}

	path, size, err := o.store.SaveInput(dir, name, r)
	if err != nil {
		o.discard(dir)
		return Upload{}, err
	}
	if size == 0 {
		o.discard(dir)
		return Upload{}, fmt.Errorf("%w: uploaded file is empty", ErrInvalidInput)
	}

	createdAt := time.Now().UTC()
	if err := o.store.WriteMeta(dir, store.Meta{ID: id, Filename: name, Size: size, CreatedAt: createdAt}); err != nil {
		o.discard(dir)
		return Upload{}, err
	}

	m := jobs.NewMachine(id, o.store.Writer())
	rec, err := m.Init("File uploaded successfully")
	if err != nil {
		o.discard(dir)
		return Upload{}, err
	}
	metrics.RecordUpload(size)
	metrics.RecordTransition(string(rec.Status))

	u := Upload{JobID: id, Filename: name, Path: path, Size: size, CreatedAt: createdAt, Record: rec}
	o.logger.Info("job accepted", "job_id", id, "filename", name, "size", size)
	for _, ob := range o.observers {
		if err := ob.JobAccepted(ctx, u); err != nil {
			o.logger.Warn("observer failed", "job_id", id, "event", "accepted", "error", err)
		}
	}
	return u, nil
}

func (o *Orchestrator) discard(dir store.JobDir) {
	if err := o.store.RemoveJob(dir); err != nil {
		o.logger.Error("failed to discard job storage", "job_id", dir.ID, "error", err)
	}
}

// Status reads the persisted status record of a job.
func (o *Orchestrator) Status(id string) (jobs.Record, error) {
	dir, err := o.store.Dir(id)
	if err != nil {
		return jobs.Record{}, err
	}
	return o.store.ReadStatus(dir)
}

// Segments lists a job's segment files in playback order.
func (o *Orchestrator) Segments(id string) ([]string, error) {
	dir, err := o.store.Dir(id)
	if err != nil {
		return nil, err
	}
	return o.store.ListSegments(dir)
}

// CheckReady reports whether Process would start work for id, without
// starting it.
func (o *Orchestrator) CheckReady(id string) error {
	dir, err := o.store.Dir(id)
	if err != nil {
		return err
	}
	if o.locks.Held(id) {
		return ErrAlreadyProcessing
	}
	if _, err := o.ready(dir); err != nil {
		return err
	}
	_, err = o.findInput(dir)
	return err
}

func (o *Orchestrator) ready(dir store.JobDir) (jobs.Record, error) {
	rec, err := o.store.ReadStatus(dir)
	if err != nil {
		return rec, err
	}
	switch {
	case rec.Status == jobs.StatusProcessing:
		return rec, ErrAlreadyProcessing
	case rec.Status.Terminal():
		return rec, fmt.Errorf("%w: status is %s", ErrJobFinished, rec.Status)
	}
	return rec, nil
}

func (o *Orchestrator) findInput(dir store.JobDir) (string, error) {
	input, ok, err := o.store.FindInput(dir)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNoInputFile
	}
	return input, nil
}

// Process segments the job's input and drives its status to completed or
// failed. It blocks until the transcoder exits. A job already running in
// this process, or recorded as processing, is rejected.
func (o *Orchestrator) Process(ctx context.Context, id string) (Result, error) {
	dir, err := o.store.Dir(id)
	if err != nil {
		return Result{JobID: id}, err
	}
	if !o.locks.TryLock(id) {
		return Result{JobID: id}, ErrAlreadyProcessing
	}
	defer o.locks.Unlock(id)

	rec, err := o.ready(dir)
	if err != nil {
		return Result{JobID: id, Record: rec}, err
	}
	input, err := o.findInput(dir)
	if err != nil {
		return Result{JobID: id, Record: rec}, err
	}

	m := jobs.Resume(id, rec, o.store.Writer())
	log := o.logger.With("job_id", id)

	rec, err = o.transition(ctx, m, jobs.StatusProcessing, ProgressSegmenting, "segmenting", nil)
	if err != nil {
		return Result{JobID: id, Record: rec}, err
	}
	log.Info("segmenting", "input", input, "segment_seconds", int(o.target/time.Second))

	if err := o.store.ResetSegments(dir); err != nil {
		return o.fail(ctx, m, err)
	}

	start := time.Now()
	segments, err := o.segmenter.Segment(ctx, input, o.target, o.store.SegmentsDir(dir))
	elapsed := time.Since(start)
	if err != nil {
		metrics.RecordTranscode(transcodeOutcome(err), elapsed.Milliseconds(), 0)
		return o.fail(ctx, m, err)
	}
	metrics.RecordTranscode("success", elapsed.Milliseconds(), len(segments))

	msg := fmt.Sprintf("segmented into %d files", len(segments))
	if rec, err = o.transition(ctx, m, jobs.StatusProcessing, ProgressSegmented, msg, segments); err != nil {
		return Result{JobID: id, Record: rec}, err
	}

	msg = fmt.Sprintf("completed: %d segments", len(segments))
	if rec, err = o.transition(ctx, m, jobs.StatusCompleted, 100, msg, segments); err != nil {
		return Result{JobID: id, Record: rec}, err
	}
	log.Info("job completed", "segments", len(segments), "elapsed_ms", elapsed.Milliseconds())

	return Result{JobID: id, Record: rec, Segments: segments}, nil
}

// fail records cause as the job's failure and returns it to the caller.
func (o *Orchestrator) fail(ctx context.Context, m *jobs.Machine, cause error) (Result, error) {
	id := m.JobID()
	o.logger.Warn("job failed", "job_id", id, "error", cause)

	rec, err := o.transition(ctx, m, jobs.StatusFailed, 0, cause.Error(), nil)
	if err != nil {
		o.logger.Error("failed to record job failure", "job_id", id, "error", err)
		return Result{JobID: id, Record: rec}, errors.Join(cause, err)
	}
	return Result{JobID: id, Record: rec}, cause
}

func (o *Orchestrator) transition(ctx context.Context, m *jobs.Machine, status jobs.Status, progress int, msg string, segments []string) (jobs.Record, error) {
	rec, err := m.TransitionTo(status, progress, msg)
	if err != nil {
		return rec, err
	}
	metrics.RecordTransition(string(status))
	for _, ob := range o.observers {
		if err := ob.JobUpdated(ctx, m.JobID(), rec, segments); err != nil {
			o.logger.Warn("observer failed", "job_id", m.JobID(), "event", "updated", "error", err)
		}
	}
	return rec, nil
}

func transcodeOutcome(err error) string {
	if errors.Is(err, transcoder.ErrTimeout) {
		return "timeout"
	}
	return "failed"
}

// RecoverInterrupted fails jobs recorded as processing that no writer in
// this process owns. It is meant to run once at startup, before requests
// are served, and returns how many jobs it closed.
func (o *Orchestrator) RecoverInterrupted(ctx context.Context) (int, error) {
	infos, err := o.store.ListJobs()
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, info := range infos {
		if info.Record.Status != jobs.StatusProcessing {
			continue
		}
		id := info.Dir.ID
		if !o.locks.TryLock(id) {
			continue
		}
		m := jobs.Resume(id, info.Record, o.store.Writer())
		_, err := o.transition(ctx, m, jobs.StatusFailed, 0, interruptedMessage, nil)
		o.locks.Unlock(id)
		if err != nil {
			o.logger.Error("failed to recover job", "job_id", id, "error", err)
			continue
		}
		o.logger.Warn("recovered interrupted job", "job_id", id)
		recovered++
	}
	return recovered, nil
}

// Jobs lists all jobs on disk, newest first.
func (o *Orchestrator) Jobs() ([]store.JobInfo, error) {
	return o.store.ListJobs()
}

// Job returns the stored description and status of one job.
func (o *Orchestrator) Job(id string) (store.JobInfo, error) {
	dir, err := o.store.Dir(id)
	if err != nil {
		return store.JobInfo{}, err
	}
	rec, err := o.store.ReadStatus(dir)
	if err != nil {
		return store.JobInfo{}, err
	}
	meta, err := o.store.ReadMeta(dir)
	if err != nil {
		meta = store.Meta{ID: id, CreatedAt: rec.Timestamp}
	}
	return store.JobInfo{Dir: dir, Meta: meta, Record: rec}, nil
}

// Reserve claims id with the lock Process takes, so no run can start on
// the job until release is called. ok is false while a run holds it.
func (o *Orchestrator) Reserve(id string) (release func(), ok bool) {
	if !o.locks.TryLock(id) {
		return nil, false
	}
	return func() { o.locks.Unlock(id) }, true
}
