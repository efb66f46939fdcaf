package catalog

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"podcast-illustrator/internal/jobs"
	"podcast-illustrator/internal/migrate"
	"podcast-illustrator/internal/pipeline"
)

func TestEncodeSegments_StoresBaseNames(t *testing.T) {
	raw, err := encodeSegments([]string{"/data/jobs/x/segments/segment_000000.mp3", "/data/jobs/x/segments/segment_000001.mp3"})
	if err != nil {
		t.Fatalf("encodeSegments error: %v", err)
	}
	if !raw.Valid {
		t.Fatalf("expected a valid value")
	}
	if string(raw.RawMessage) != `["segment_000000.mp3","segment_000001.mp3"]` {
		t.Fatalf("unexpected json %s", raw.RawMessage)
	}

	names, err := decodeSegments(raw)
	if err != nil || len(names) != 2 || names[1] != "segment_000001.mp3" {
		t.Fatalf("decode mismatch: %v, %v", names, err)
	}
}

func TestEncodeSegments_NilKeepsColumn(t *testing.T) {
	raw, err := encodeSegments(nil)
	if err != nil {
		t.Fatalf("encodeSegments error: %v", err)
	}
	if raw.Valid {
		t.Fatalf("nil segments must encode as SQL NULL")
	}
	names, err := decodeSegments(raw)
	if err != nil || names != nil {
		t.Fatalf("expected nil names, got %v, %v", names, err)
	}
}

func TestClampLimit(t *testing.T) {
	cases := map[int]int{0: DefaultListLimit, -3: DefaultListLimit, 10: 10, 10000: MaxListLimit}
	for in, want := range cases {
		if got := clampLimit(in); got != want {
			t.Fatalf("clampLimit(%d) = %d, want %d", in, got, want)
		}
	}
}

// TestCatalog_Postgres runs against a real database when
// PODCAST_ILLUSTRATOR_TEST_DSN is set.
func TestCatalog_Postgres(t *testing.T) {
	dsn := os.Getenv("PODCAST_ILLUSTRATOR_TEST_DSN")
	if dsn == "" {
		t.Skip("PODCAST_ILLUSTRATOR_TEST_DSN not set")
	}
	db, err := Open(dsn)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer db.Close()
	if err := migrate.Up(db); err != nil {
		t.Fatalf("migrate error: %v", err)
	}

	ctx := context.Background()
	c := New(db)
	id := uuid.NewString()
	now := time.Now().UTC().Truncate(time.Millisecond)
	u := pipeline.Upload{
		JobID:     id,
		Filename:  "episode.mp3",
		Size:      42,
		CreatedAt: now,
		Record:    jobs.Record{Status: jobs.StatusUploaded, Message: "File uploaded successfully", Timestamp: now},
	}
	if err := c.JobAccepted(ctx, u); err != nil {
		t.Fatalf("JobAccepted error: %v", err)
	}
	done := jobs.Record{Status: jobs.StatusCompleted, Progress: 100, Message: "completed: 1 segments", Timestamp: now.Add(time.Second)}
	if err := c.JobUpdated(ctx, id, done, []string{"/x/segment_000000.mp3"}); err != nil {
		t.Fatalf("JobUpdated error: %v", err)
	}

	got, err := c.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.Status != jobs.StatusCompleted || got.Progress != 100 || len(got.Segments) != 1 {
		t.Fatalf("unexpected row %+v", got)
	}

	if err := c.DeleteJob(ctx, id); err != nil {
		t.Fatalf("DeleteJob error: %v", err)
	}
	if _, err := c.Get(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
