package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"podcast-illustrator/internal/formats"
	"podcast-illustrator/internal/jobs"
)

const (
	statusFile    = "status.json"
	metaFile      = "job.json"
	segmentsDir   = "segments"
	SegmentPrefix = "segment_"
	SegmentExt    = ".mp3"
)

// ErrNotFound is returned when a job directory or its status record is absent.
var ErrNotFound = errors.New("not found")

// StorageError wraps filesystem failures while creating, reading or
// writing a job's storage area.
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// JobDir is the isolated storage area of one job.
type JobDir struct {
	ID   string
	Path string
}

// Store manages the on-disk layout of jobs under a single root:
//
//	<root>/<job id>/<input file>
//	<root>/<job id>/job.json
//	<root>/<job id>/status.json
//	<root>/<job id>/segments/segment_000000.mp3
type Store struct {
	root string
}

// New creates a Store rooted at root. The directory is created on demand.
func New(root string) *Store {
	return &Store{root: root}
}

// Root returns the directory holding all job areas.
func (s *Store) Root() string { return s.root }

func (s *Store) jobPath(id string) (string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("invalid job id %q: %w", id, ErrNotFound)
	}
	return filepath.Join(s.root, id), nil
}

// CreateJob allocates the storage area for a new job.
func (s *Store) CreateJob(id string) (JobDir, error) {
	path, err := s.jobPath(id)
	if err != nil {
		return JobDir{}, err
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return JobDir{}, &StorageError{Op: "create", Path: path, Err: err}
	}
	return JobDir{ID: id, Path: path}, nil
}

// Dir resolves the storage area of an existing job.
func (s *Store) Dir(id string) (JobDir, error) {
	path, err := s.jobPath(id)
	if err != nil {
		return JobDir{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return JobDir{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
		}
		return JobDir{}, &StorageError{Op: "stat", Path: path, Err: err}
	}
	if !info.IsDir() {
		return JobDir{}, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return JobDir{ID: id, Path: path}, nil
}

// SaveInput streams the uploaded payload into the job area under filename
// and returns the stored path and byte count. The file only appears under
// its final name once fully written.
func (s *Store) SaveInput(dir JobDir, filename string, r io.Reader) (string, int64, error) {
	name := filepath.Base(filename)
	if name == "." || name == string(filepath.Separator) || name == statusFile || name == metaFile || strings.HasPrefix(name, ".") {
		return "", 0, &StorageError{Op: "save", Path: filename, Err: fmt.Errorf("invalid file name")}
	}
	if err := os.MkdirAll(dir.Path, 0o755); err != nil {
		return "", 0, &StorageError{Op: "save", Path: dir.Path, Err: err}
	}

	dst := filepath.Join(dir.Path, name)
	size, err := writeAtomic(dir.Path, ".upload-*.tmp", dst, func(w io.Writer) (int64, error) {
		return io.Copy(w, r)
	})
	if err != nil {
		return "", 0, &StorageError{Op: "save", Path: dst, Err: err}
	}
	return dst, size, nil
}

// WriteStatus persists rec as the job's status record, replacing any prior
// value atomically so that concurrent readers never see a partial record.
func (s *Store) WriteStatus(dir JobDir, rec jobs.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return &StorageError{Op: "write status", Path: dir.Path, Err: err}
	}

	dst := filepath.Join(dir.Path, statusFile)
	if _, err := writeAtomic(dir.Path, ".status-*.tmp", dst, func(w io.Writer) (int64, error) {
		n, err := w.Write(payload)
		return int64(n), err
	}); err != nil {
		return &StorageError{Op: "write status", Path: dst, Err: err}
	}
	return nil
}

// ReadStatus loads the job's status record.
func (s *Store) ReadStatus(dir JobDir) (jobs.Record, error) {
	path := filepath.Join(dir.Path, statusFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return jobs.Record{}, fmt.Errorf("status for job %s: %w", dir.ID, ErrNotFound)
		}
		return jobs.Record{}, &StorageError{Op: "read status", Path: path, Err: err}
	}

	var rec jobs.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return jobs.Record{}, &StorageError{Op: "read status", Path: path, Err: err}
	}
	return rec, nil
}

// FindInput returns the first recognized audio file in the job area, in
// directory-listing order. ok is false when none is present.
func (s *Store) FindInput(dir JobDir) (path string, ok bool, err error) {
	entries, err := os.ReadDir(dir.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("job %s: %w", dir.ID, ErrNotFound)
		}
		return "", false, &StorageError{Op: "list", Path: dir.Path, Err: err}
	}
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if formats.IsAudio(e.Name()) {
			return filepath.Join(dir.Path, e.Name()), true, nil
		}
	}
	return "", false, nil
}

// SegmentsDir returns the directory segments of dir are written to.
func (s *Store) SegmentsDir(dir JobDir) string {
	return filepath.Join(dir.Path, segmentsDir)
}

// ResetSegments discards whatever an earlier, incomplete attempt left
// behind and recreates an empty segments directory.
func (s *Store) ResetSegments(dir JobDir) error {
	path := s.SegmentsDir(dir)
	if err := os.RemoveAll(path); err != nil {
		return &StorageError{Op: "reset segments", Path: path, Err: err}
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return &StorageError{Op: "reset segments", Path: path, Err: err}
	}
	return nil
}

// ListSegments returns segment paths ordered by their zero-padded index,
// which is also playback order.
func (s *Store) ListSegments(dir JobDir) ([]string, error) {
	return ListSegmentFiles(s.SegmentsDir(dir))
}

// ListSegmentFiles lists segment files in a directory in lexicographic order.
// A missing directory yields an empty list.
func ListSegmentFiles(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, &StorageError{Op: "list segments", Path: path, Err: err}
	}

	out := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if !e.Type().IsRegular() || !strings.HasPrefix(name, SegmentPrefix) || !strings.HasSuffix(name, SegmentExt) {
			continue
		}
		out = append(out, filepath.Join(path, name))
	}
	sort.Strings(out)
	return out, nil
}

// Meta is the immutable description of a job written once at upload time.
type Meta struct {
	ID        string    `json:"id"`
	Filename  string    `json:"filename"`
	Size      int64     `json:"file_size"`
	CreatedAt time.Time `json:"created_at"`
}

// WriteMeta persists the job's upload metadata.
func (s *Store) WriteMeta(dir JobDir, meta Meta) error {
	payload, err := json.Marshal(meta)
	if err != nil {
		return &StorageError{Op: "write meta", Path: dir.Path, Err: err}
	}
	dst := filepath.Join(dir.Path, metaFile)
	if _, err := writeAtomic(dir.Path, ".meta-*.tmp", dst, func(w io.Writer) (int64, error) {
		n, err := w.Write(payload)
		return int64(n), err
	}); err != nil {
		return &StorageError{Op: "write meta", Path: dst, Err: err}
	}
	return nil
}

// ReadMeta loads the job's upload metadata.
func (s *Store) ReadMeta(dir JobDir) (Meta, error) {
	path := filepath.Join(dir.Path, metaFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Meta{}, fmt.Errorf("meta for job %s: %w", dir.ID, ErrNotFound)
		}
		return Meta{}, &StorageError{Op: "read meta", Path: path, Err: err}
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return Meta{}, &StorageError{Op: "read meta", Path: path, Err: err}
	}
	return meta, nil
}

// JobInfo describes one job area found on disk.
type JobInfo struct {
	Dir    JobDir
	Meta   Meta
	Record jobs.Record
}

// ListJobs scans the root for job areas that have a status record, newest
// first. Directories without a readable record are skipped.
func (s *Store) ListJobs() ([]JobInfo, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, &StorageError{Op: "list jobs", Path: s.root, Err: err}
	}

	out := make([]JobInfo, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir, err := s.Dir(e.Name())
		if err != nil {
			continue
		}
		rec, err := s.ReadStatus(dir)
		if err != nil {
			continue
		}
		meta, err := s.ReadMeta(dir)
		if err != nil {
			meta = Meta{ID: dir.ID, CreatedAt: rec.Timestamp}
		}
		out = append(out, JobInfo{Dir: dir, Meta: meta, Record: rec})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Meta.CreatedAt.Equal(out[j].Meta.CreatedAt) {
			return out[i].Meta.CreatedAt.After(out[j].Meta.CreatedAt)
		}
		return out[i].Dir.ID > out[j].Dir.ID
	})
	return out, nil
}

// RemoveJob deletes the job's entire storage area.
func (s *Store) RemoveJob(dir JobDir) error {
	if err := os.RemoveAll(dir.Path); err != nil {
		return &StorageError{Op: "remove", Path: dir.Path, Err: err}
	}
	return nil
}

// Writer adapts the store to jobs.StatusWriter, which addresses records by id.
func (s *Store) Writer() jobs.StatusWriter {
	return statusWriter{s}
}

type statusWriter struct{ s *Store }

func (w statusWriter) WriteStatus(jobID string, rec jobs.Record) error {
	dir, err := w.s.Dir(jobID)
	if err != nil {
		return err
	}
	return w.s.WriteStatus(dir, rec)
}

// writeAtomic writes to a temp file in dir, syncs it and renames it to dst.
func writeAtomic(dir, pattern, dst string, fill func(io.Writer) (int64, error)) (int64, error) {
	tmp, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	n, err := fill(tmp)
	if err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return 0, err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return 0, err
	}
	return n, nil
}
