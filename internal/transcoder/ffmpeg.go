package transcoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Segment naming. The fixed-width index makes lexicographic order equal
// playback order.
const (
	SegmentPrefix  = "segment_"
	SegmentExt     = ".mp3"
	OutputPattern  = SegmentPrefix + "%06d" + SegmentExt
	AudioCodec     = "libmp3lame"
	AudioBitrate   = "128k"
	SampleRate     = 44100
	ChannelCount   = 2
	defaultBinary  = "ffmpeg"
	versionTimeout = 5 * time.Second

	// MaxSegments is the count the fixed-width index can name while
	// keeping lexicographic and playback order equal.
	MaxSegments = 1000000
)

var (
	// ErrTimeout marks a run that was killed because its deadline expired.
	ErrTimeout = errors.New("transcode timed out")
	// ErrNoSegments marks a run that exited cleanly but wrote nothing.
	ErrNoSegments = errors.New("transcoder produced no segments")
	// ErrTooManySegments marks output that overflows the segment index width.
	ErrTooManySegments = errors.New("transcoder produced more segments than the index width allows")
)

// Error is a failed ffmpeg run. Output holds the tool's diagnostics verbatim.
type Error struct {
	ExitCode int
	Output   string
	Err      error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if errors.Is(e.Err, ErrTimeout) {
		if e.Output != "" {
			return fmt.Sprintf("%v: %s", ErrTimeout, e.Output)
		}
		return ErrTimeout.Error()
	}
	if errors.Is(e.Err, ErrTooManySegments) {
		return fmt.Sprintf("%v: %s", ErrTooManySegments, e.Output)
	}
	if e.Output == "" {
		return fmt.Sprintf("ffmpeg exited with status %d: %v", e.ExitCode, e.Err)
	}
	return fmt.Sprintf("ffmpeg exited with status %d: %s", e.ExitCode, e.Output)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

// Run executes one command and captures stdout/stderr and exit code.
func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: 0,
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}

	return result, nil
}

// FFmpeg splits audio files into fixed-duration mp3 segments with one
// blocking ffmpeg invocation per call. It never retries.
type FFmpeg struct {
	binary      string
	timeout     time.Duration
	maxSegments int
	runner      commandRunner
	logger      *slog.Logger
}

// Option configures an FFmpeg invoker.
type Option func(*FFmpeg)

// WithTimeout bounds each run. Zero or negative disables the deadline.
func WithTimeout(d time.Duration) Option {
	return func(f *FFmpeg) {
		if d > 0 {
			f.timeout = d
		} else {
			f.timeout = 0
		}
	}
}

// WithLogger sets the logger used for run diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(f *FFmpeg) {
		if l != nil {
			f.logger = l
		}
	}
}

func withRunner(r commandRunner) Option {
	return func(f *FFmpeg) { f.runner = r }
}

func withMaxSegments(n int) Option {
	return func(f *FFmpeg) { f.maxSegments = n }
}

// New constructs an invoker for the ffmpeg binary at path (looked up on
// PATH when it has no separator).
func New(path string, opts ...Option) *FFmpeg {
	if strings.TrimSpace(path) == "" {
		path = defaultBinary
	}
	f := &FFmpeg{
		binary:      path,
		maxSegments: MaxSegments,
		runner:      &execRunner{},
		logger:      slog.New(slog.NewTextHandler(os.Stderr, nil)),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Segment runs ffmpeg over inputPath and returns the produced segments in
// order. The target duration is advisory: boundaries follow the encoder's
// frame alignment. On failure, segments already on disk are left in place.
func (f *FFmpeg) Segment(ctx context.Context, inputPath string, target time.Duration, outputDir string) ([]string, error) {
	if strings.TrimSpace(inputPath) == "" {
		return nil, fmt.Errorf("input path is required")
	}
	if target < time.Second {
		return nil, fmt.Errorf("segment duration must be at least 1s, got %s", target)
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create segment directory: %w", err)
	}

	runCtx := ctx
	if f.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	args := buildSegmentArgs(inputPath, target, outputDir)
	start := time.Now()
	res, runErr := f.runner.Run(runCtx, f.binary, args...)
	elapsed := time.Since(start)

	if runErr != nil {
		out := diagnostic(res)
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			f.logger.Warn("ffmpeg timed out", "input", inputPath, "timeout", f.timeout, "elapsed_ms", elapsed.Milliseconds())
			return nil, &Error{ExitCode: res.ExitCode, Output: out, Err: ErrTimeout}
		}
		f.logger.Warn("ffmpeg failed", "input", inputPath, "exit_code", res.ExitCode, "elapsed_ms", elapsed.Milliseconds())
		return nil, &Error{ExitCode: res.ExitCode, Output: out, Err: runErr}
	}

	segments, err := listSegments(outputDir)
	if err != nil {
		return nil, err
	}
	if len(segments) == 0 {
		return nil, &Error{ExitCode: res.ExitCode, Output: diagnostic(res), Err: ErrNoSegments}
	}
	if len(segments) > f.maxSegments {
		f.logger.Warn("ffmpeg produced too many segments", "input", inputPath, "segments", len(segments), "max", f.maxSegments)
		return nil, &Error{ExitCode: res.ExitCode, Output: fmt.Sprintf("%d segments, at most %d allowed", len(segments), f.maxSegments), Err: ErrTooManySegments}
	}

	f.logger.Debug("ffmpeg segmented input", "input", inputPath, "segments", len(segments), "elapsed_ms", elapsed.Milliseconds())
	return segments, nil
}

// Version returns the first line of `ffmpeg -version`.
func (f *FFmpeg) Version(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()

	res, err := f.runner.Run(ctx, f.binary, "-hide_banner", "-version")
	if err != nil {
		return "", &Error{ExitCode: res.ExitCode, Output: diagnostic(res), Err: err}
	}
	line, _, _ := strings.Cut(strings.TrimSpace(res.Stdout), "\n")
	return strings.TrimSpace(line), nil
}

// diagnostic prefers stderr, where ffmpeg writes its errors.
func diagnostic(res commandResult) string {
	if out := strings.TrimSpace(res.Stderr); out != "" {
		return out
	}
	return strings.TrimSpace(res.Stdout)
}

// buildSegmentArgs builds the fixed-shape segmentation command line.
func buildSegmentArgs(inputPath string, target time.Duration, outputDir string) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-loglevel", "error",
		"-y",
		"-i", inputPath,
		"-map", "0:a",
		"-f", "segment",
		"-segment_time", strconv.Itoa(int(target / time.Second)),
		"-reset_timestamps", "1",
		"-c:a", AudioCodec,
		"-b:a", AudioBitrate,
		"-ar", strconv.Itoa(SampleRate),
		"-ac", strconv.Itoa(ChannelCount),
		filepath.Join(outputDir, OutputPattern),
	}
}

// listSegments returns produced segment files in lexicographic order.
func listSegments(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.Type().IsRegular() && strings.HasPrefix(name, SegmentPrefix) && strings.HasSuffix(name, SegmentExt) {
			out = append(out, filepath.Join(dir, name))
		}
	}
	sort.Strings(out)
	return out, nil
}
