package jobs

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrInvalidTransition signals an orchestration bug: a caller attempted a
// move the lifecycle does not allow.
var ErrInvalidTransition = errors.New("invalid transition")

// StatusWriter persists a job's status record. The segment store
// implements it; the write must replace any prior record atomically.
type StatusWriter interface {
	WriteStatus(jobID string, rec Record) error
}

// Machine owns the status record of one job and is its single writer.
type Machine struct {
	mu      sync.Mutex
	jobID   string
	current Record
	started bool
	writer  StatusWriter
	now     func() time.Time
}

// NewMachine returns a machine for a job that has not been initialized yet.
func NewMachine(jobID string, w StatusWriter) *Machine {
	return &Machine{jobID: jobID, writer: w, now: utcNow}
}

// Resume rebuilds a machine from a previously persisted record.
func Resume(jobID string, rec Record, w StatusWriter) *Machine {
	return &Machine{jobID: jobID, current: rec, started: true, writer: w, now: utcNow}
}

func utcNow() time.Time { return time.Now().UTC() }

// Init writes the initial uploaded record. It may only be called once per job.
func (m *Machine) Init(message string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return m.current, fmt.Errorf("%w: job %s already initialized as %s", ErrInvalidTransition, m.jobID, m.current.Status)
	}

	rec := Record{
		Status:    StatusUploaded,
		Progress:  0,
		Message:   message,
		Timestamp: m.now(),
	}
	if err := m.writer.WriteStatus(m.jobID, rec); err != nil {
		return m.current, err
	}
	m.current = rec
	m.started = true
	return rec, nil
}

// TransitionTo validates and persists a move to status. A processing to
// processing move is a progress update and must not lower progress.
// Failed always records progress 0 and completed always records 100.
func (m *Machine) TransitionTo(status Status, progress int, message string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return Record{}, fmt.Errorf("%w: job %s has no status yet", ErrInvalidTransition, m.jobID)
	}
	from := m.current.Status
	if !isValidTransition(from, status) {
		return m.current, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, status)
	}

	switch status {
	case StatusFailed:
		progress = 0
	case StatusCompleted:
		progress = 100
	case StatusProcessing:
		if progress < 0 || progress > 100 {
			return m.current, fmt.Errorf("%w: progress %d out of range", ErrInvalidTransition, progress)
		}
		if from == StatusProcessing && progress < m.current.Progress {
			return m.current, fmt.Errorf("%w: progress %d -> %d", ErrInvalidTransition, m.current.Progress, progress)
		}
	}

	rec := Record{
		Status:    status,
		Progress:  progress,
		Message:   message,
		Timestamp: m.now(),
	}
	if err := m.writer.WriteStatus(m.jobID, rec); err != nil {
		return m.current, err
	}
	m.current = rec
	return rec, nil
}

// Current returns a snapshot of the last persisted record.
func (m *Machine) Current() Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// JobID returns the identifier this machine writes for.
func (m *Machine) JobID() string { return m.jobID }

// isValidTransition enforces the allowed job state machine edges.
func isValidTransition(from, to Status) bool {
	switch from {
	case StatusUploaded:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusProcessing || to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}
