package migrate

import (
	"strings"
	"testing"
)

func TestFiles_EmbeddedInOrder(t *testing.T) {
	names, err := Files()
	if err != nil {
		t.Fatalf("Files error: %v", err)
	}
	if len(names) == 0 {
		t.Fatalf("expected embedded migrations")
	}
	if names[0] != "00001_create_jobs.sql" {
		t.Fatalf("first migration = %q", names[0])
	}
	for _, n := range names {
		if !strings.HasSuffix(n, ".sql") {
			t.Fatalf("unexpected file %q", n)
		}
	}
}

func TestMigrations_HaveGooseAnnotations(t *testing.T) {
	data, err := migrations.ReadFile("migrations/00001_create_jobs.sql")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	s := string(data)
	if !strings.Contains(s, "-- +goose Up") || !strings.Contains(s, "-- +goose Down") {
		t.Fatalf("migration lacks goose annotations")
	}
}
