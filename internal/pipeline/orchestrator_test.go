package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"podcast-illustrator/internal/formats"
	"podcast-illustrator/internal/jobs"
	"podcast-illustrator/internal/store"
	"podcast-illustrator/internal/transcoder"
)

// fakeSegmenter simulates transcoder outcomes.
type fakeSegmenter struct {
	segment func(ctx context.Context, input string, target time.Duration, out string) ([]string, error)
}

func (f *fakeSegmenter) Segment(ctx context.Context, input string, target time.Duration, out string) ([]string, error) {
	return f.segment(ctx, input, target, out)
}

// writing emulates a successful run producing n segment files.
func writing(n int) *fakeSegmenter {
	return &fakeSegmenter{segment: func(_ context.Context, _ string, _ time.Duration, out string) ([]string, error) {
		if err := os.MkdirAll(out, 0o755); err != nil {
			return nil, err
		}
		var segs []string
		for i := 0; i < n; i++ {
			p := filepath.Join(out, fmt.Sprintf("segment_%06d.mp3", i))
			if err := os.WriteFile(p, []byte("mp3"), 0o644); err != nil {
				return nil, err
			}
			segs = append(segs, p)
		}
		return segs, nil
	}}
}

type recordingObserver struct {
	mu       sync.Mutex
	accepted []string
	statuses []jobs.Status
	err      error
}

func (r *recordingObserver) JobAccepted(_ context.Context, u Upload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accepted = append(r.accepted, u.JobID)
	return r.err
}

func (r *recordingObserver) JobUpdated(_ context.Context, _ string, rec jobs.Record, _ []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, rec.Status)
	return r.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newOrchestrator(t *testing.T, seg Segmenter, opts ...Option) (*Orchestrator, *store.Store) {
	t.Helper()
	st := store.New(filepath.Join(t.TempDir(), "jobs"))
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	return New(st, seg, opts...), st
}

func accept(t *testing.T, o *Orchestrator) Upload {
	t.Helper()
	u, err := o.Accept(context.Background(), "episode.mp3", strings.NewReader("ID3 fake audio"))
	if err != nil {
		t.Fatalf("Accept error: %v", err)
	}
	return u
}

func TestAccept_InitializesUploadedJob(t *testing.T) {
	o, st := newOrchestrator(t, writing(1))
	obs := &recordingObserver{}
	o.observers = append(o.observers, obs)

	u := accept(t, o)
	if _, err := uuid.Parse(u.JobID); err != nil {
		t.Fatalf("job id is not a uuid: %q", u.JobID)
	}
	if u.Size != int64(len("ID3 fake audio")) {
		t.Fatalf("unexpected size %d", u.Size)
	}
	if u.Record.Status != jobs.StatusUploaded || u.Record.Progress != 0 {
		t.Fatalf("unexpected record %+v", u.Record)
	}

	rec, err := o.Status(u.JobID)
	if err != nil {
		t.Fatalf("Status error: %v", err)
	}
	if rec.Status != jobs.StatusUploaded || rec.Message != "File uploaded successfully" {
		t.Fatalf("unexpected persisted record %+v", rec)
	}
	dir, _ := st.Dir(u.JobID)
	meta, err := st.ReadMeta(dir)
	if err != nil || meta.Filename != "episode.mp3" {
		t.Fatalf("expected meta for episode.mp3, got %+v, %v", meta, err)
	}
	if len(obs.accepted) != 1 || obs.accepted[0] != u.JobID {
		t.Fatalf("observer not notified: %v", obs.accepted)
	}
}

func TestAccept_RejectsBadInputWithoutLeftovers(t *testing.T) {
	o, st := newOrchestrator(t, writing(1))

	_, err := o.Accept(context.Background(), "notes.txt", strings.NewReader("hello"))
	if !errors.Is(err, ErrInvalidInput) || !errors.Is(err, formats.ErrUnsupportedFormat) {
		t.Fatalf("expected invalid input / unsupported format, got %v", err)
	}
	if _, err := o.Accept(context.Background(), "", strings.NewReader("x")); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for empty name, got %v", err)
	}
	if _, err := o.Accept(context.Background(), "empty.wav", strings.NewReader("")); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for empty payload, got %v", err)
	}

	entries, err := os.ReadDir(st.Root())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("read root: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no job directories, found %d", len(entries))
	}
}

// TestProcess_CompletesWithOrderedSegments covers a twenty minute upload
// split at 600s into two segments.
func TestAccept_HiddenNameStaysProcessable(t *testing.T) {
	o, _ := newOrchestrator(t, writing(1))

	u, err := o.Accept(context.Background(), ".mp3", strings.NewReader("ID3 fake audio"))
	if err != nil {
		t.Fatalf("Accept error: %v", err)
	}
	if u.Filename != "audio.mp3" {
		t.Fatalf("expected stored name audio.mp3, got %q", u.Filename)
	}
	res, err := o.Process(context.Background(), u.JobID)
	if err != nil {
		t.Fatalf("Process error: %v", err)
	}
	if res.Record.Status != jobs.StatusCompleted {
		t.Fatalf("expected completed, got %+v", res.Record)
	}
}

func TestProcess_CompletesWithOrderedSegments(t *testing.T) {
	var gotTarget time.Duration
	seg := writing(2)
	inner := seg.segment
	seg.segment = func(ctx context.Context, in string, target time.Duration, out string) ([]string, error) {
		gotTarget = target
		return inner(ctx, in, target, out)
	}
	obs := &recordingObserver{}
	o, _ := newOrchestrator(t, seg, WithSegmentDuration(600*time.Second), WithObservers(obs))
	u := accept(t, o)

	res, err := o.Process(context.Background(), u.JobID)
	if err != nil {
		t.Fatalf("Process error: %v", err)
	}
	if gotTarget != 600*time.Second {
		t.Fatalf("target = %s, want 600s", gotTarget)
	}
	if len(res.Segments) != 2 {
		t.Fatalf("expected 2 segments, got %v", res.Segments)
	}
	if res.Record.Status != jobs.StatusCompleted || res.Record.Progress != 100 {
		t.Fatalf("unexpected result record %+v", res.Record)
	}

	rec, _ := o.Status(u.JobID)
	if rec.Status != jobs.StatusCompleted || rec.Progress != 100 || !strings.Contains(rec.Message, "2 segments") {
		t.Fatalf("unexpected persisted record %+v", rec)
	}
	segs, err := o.Segments(u.JobID)
	if err != nil || len(segs) != 2 || filepath.Base(segs[0]) != "segment_000000.mp3" {
		t.Fatalf("unexpected segments %v, %v", segs, err)
	}

	want := []jobs.Status{jobs.StatusProcessing, jobs.StatusProcessing, jobs.StatusCompleted}
	if fmt.Sprint(obs.statuses) != fmt.Sprint(want) {
		t.Fatalf("observer saw %v, want %v", obs.statuses, want)
	}
}

func TestProcess_NoInputFileLeavesUploaded(t *testing.T) {
	o, st := newOrchestrator(t, writing(1))
	id := uuid.NewString()
	if _, err := st.CreateJob(id); err != nil {
		t.Fatalf("CreateJob error: %v", err)
	}
	if _, err := jobs.NewMachine(id, st.Writer()).Init("File uploaded successfully"); err != nil {
		t.Fatalf("Init error: %v", err)
	}

	if err := o.CheckReady(id); !errors.Is(err, ErrNoInputFile) {
		t.Fatalf("CheckReady: expected ErrNoInputFile, got %v", err)
	}
	if _, err := o.Process(context.Background(), id); !errors.Is(err, ErrNoInputFile) {
		t.Fatalf("expected ErrNoInputFile, got %v", err)
	}
	rec, _ := o.Status(id)
	if rec.Status != jobs.StatusUploaded {
		t.Fatalf("status changed to %s", rec.Status)
	}
}

func TestProcess_TranscoderFailureMarksFailed(t *testing.T) {
	seg := &fakeSegmenter{segment: func(context.Context, string, time.Duration, string) ([]string, error) {
		return nil, &transcoder.Error{ExitCode: 1, Output: "episode.mp3: invalid data found when processing input", Err: errors.New("exit status 1")}
	}}
	o, _ := newOrchestrator(t, seg)
	u := accept(t, o)

	res, err := o.Process(context.Background(), u.JobID)
	var tErr *transcoder.Error
	if !errors.As(err, &tErr) {
		t.Fatalf("expected transcoder error, got %v", err)
	}
	if res.Record.Status != jobs.StatusFailed {
		t.Fatalf("result status = %s", res.Record.Status)
	}

	rec, _ := o.Status(u.JobID)
	if rec.Status != jobs.StatusFailed || rec.Progress != 0 {
		t.Fatalf("unexpected record %+v", rec)
	}
	if !strings.Contains(rec.Message, "invalid data found") {
		t.Fatalf("message lacks diagnostics: %q", rec.Message)
	}

	if _, err := o.Process(context.Background(), u.JobID); !errors.Is(err, ErrJobFinished) {
		t.Fatalf("expected ErrJobFinished on retry, got %v", err)
	}
}

func TestProcess_TimeoutMarksFailed(t *testing.T) {
	seg := &fakeSegmenter{segment: func(context.Context, string, time.Duration, string) ([]string, error) {
		return nil, &transcoder.Error{ExitCode: -1, Err: transcoder.ErrTimeout}
	}}
	o, _ := newOrchestrator(t, seg)
	u := accept(t, o)

	if _, err := o.Process(context.Background(), u.JobID); !errors.Is(err, transcoder.ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	rec, _ := o.Status(u.JobID)
	if rec.Status != jobs.StatusFailed || !strings.Contains(rec.Message, "timed out") {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestProcess_UnknownJob(t *testing.T) {
	o, _ := newOrchestrator(t, writing(1))
	if _, err := o.Process(context.Background(), uuid.NewString()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := o.Status(uuid.NewString()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from Status, got %v", err)
	}
	if _, err := o.Status("not-a-job"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for malformed id, got %v", err)
	}
}

func TestProcess_RejectsConcurrentTrigger(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	seg := writing(1)
	inner := seg.segment
	seg.segment = func(ctx context.Context, in string, target time.Duration, out string) ([]string, error) {
		close(started)
		<-release
		return inner(ctx, in, target, out)
	}
	o, _ := newOrchestrator(t, seg)
	u := accept(t, o)

	done := make(chan error, 1)
	go func() {
		_, err := o.Process(context.Background(), u.JobID)
		done <- err
	}()
	<-started

	if _, err := o.Process(context.Background(), u.JobID); !errors.Is(err, ErrAlreadyProcessing) {
		t.Fatalf("expected ErrAlreadyProcessing, got %v", err)
	}
	if err := o.CheckReady(u.JobID); !errors.Is(err, ErrAlreadyProcessing) {
		t.Fatalf("CheckReady: expected ErrAlreadyProcessing, got %v", err)
	}
	if !o.locks.Held(u.JobID) {
		t.Fatalf("expected job to be busy")
	}
	rec, _ := o.Status(u.JobID)
	if rec.Status != jobs.StatusProcessing || rec.Progress != ProgressSegmenting {
		t.Fatalf("unexpected in-flight record %+v", rec)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first Process error: %v", err)
	}
	if o.locks.Held(u.JobID) {
		t.Fatalf("lock must be released after Process")
	}
}

func TestProcess_ObserverErrorsAreNotFatal(t *testing.T) {
	o, _ := newOrchestrator(t, writing(1), WithObservers(&recordingObserver{err: errors.New("broker down")}))
	u := accept(t, o)
	if _, err := o.Process(context.Background(), u.JobID); err != nil {
		t.Fatalf("Process error: %v", err)
	}
}

func TestReserve_BlocksProcessingUntilReleased(t *testing.T) {
	o, _ := newOrchestrator(t, writing(1))
	u := accept(t, o)

	release, ok := o.Reserve(u.JobID)
	if !ok {
		t.Fatalf("expected reservation to succeed")
	}
	if _, ok := o.Reserve(u.JobID); ok {
		t.Fatalf("expected second reservation to fail")
	}
	if _, err := o.Process(context.Background(), u.JobID); !errors.Is(err, ErrAlreadyProcessing) {
		t.Fatalf("expected ErrAlreadyProcessing while reserved, got %v", err)
	}
	if rec, _ := o.Status(u.JobID); rec.Status != jobs.StatusUploaded {
		t.Fatalf("reserved job must stay uploaded, got %+v", rec)
	}

	release()
	res, err := o.Process(context.Background(), u.JobID)
	if err != nil || res.Record.Status != jobs.StatusCompleted {
		t.Fatalf("expected completion after release, got %+v, %v", res.Record, err)
	}
}

func TestRecoverInterrupted_FailsOrphanedJobs(t *testing.T) {
	o, st := newOrchestrator(t, writing(1))
	orphan := accept(t, o)
	idle := accept(t, o)

	dir, _ := st.Dir(orphan.JobID)
	if err := st.WriteStatus(dir, jobs.Record{Status: jobs.StatusProcessing, Progress: 10, Message: "segmenting", Timestamp: time.Now().UTC()}); err != nil {
		t.Fatalf("WriteStatus error: %v", err)
	}

	n, err := o.RecoverInterrupted(context.Background())
	if err != nil {
		t.Fatalf("RecoverInterrupted error: %v", err)
	}
	if n != 1 {
		t.Fatalf("recovered %d jobs, want 1", n)
	}
	rec, _ := o.Status(orphan.JobID)
	if rec.Status != jobs.StatusFailed || rec.Progress != 0 || !strings.Contains(rec.Message, "interrupted") {
		t.Fatalf("unexpected record %+v", rec)
	}
	rec, _ = o.Status(idle.JobID)
	if rec.Status != jobs.StatusUploaded {
		t.Fatalf("idle job touched: %+v", rec)
	}
}
