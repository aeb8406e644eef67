package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/michaelbrown/pyexec/internal/storage"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("opening memory db: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndGetRun(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	run := &storage.Run{
		ID:          "abc12345-0000-0000-0000-000000000000",
		Outcome:     "success",
		DurationMs:  42,
		ScriptBytes: 31,
		StdoutBytes: 5,
	}
	if err := s.RecordRun(ctx, run); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Outcome != "success" {
		t.Errorf("outcome = %q, want %q", got.Outcome, "success")
	}
	if got.DurationMs != 42 || got.ScriptBytes != 31 || got.StdoutBytes != 5 {
		t.Errorf("sizes = %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Error("created_at should not be zero")
	}
}

func TestRecordRunRequiresID(t *testing.T) {
	s := testStore(t)
	if err := s.RecordRun(context.Background(), &storage.Run{Outcome: "success"}); err == nil {
		t.Fatal("expected error for empty ID")
	}
}

func TestRecordRunRejectsUnknownOutcome(t *testing.T) {
	s := testStore(t)
	err := s.RecordRun(context.Background(), &storage.Run{ID: "x", Outcome: "validation_error"})
	if err == nil {
		t.Fatal("expected CHECK constraint failure")
	}
}

func TestGetRunByPrefix(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	run := &storage.Run{ID: "abc12345-0000-0000-0000-000000000000", Outcome: "timeout"}
	if err := s.RecordRun(ctx, run); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	got, err := s.GetRun(ctx, "abc12345")
	if err != nil {
		t.Fatalf("GetRun by prefix: %v", err)
	}
	if got.ID != run.ID {
		t.Errorf("got ID %q, want %q", got.ID, run.ID)
	}
}

func TestGetRunAmbiguousPrefix(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, id := range []string{"abc-1", "abc-2"} {
		if err := s.RecordRun(ctx, &storage.Run{ID: id, Outcome: "success"}); err != nil {
			t.Fatalf("RecordRun: %v", err)
		}
	}

	if _, err := s.GetRun(ctx, "abc"); !errors.Is(err, storage.ErrAmbiguous) {
		t.Fatalf("err = %v, want ErrAmbiguous", err)
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := testStore(t)

	for _, id := range []string{"nope", "", "%"} {
		_, err := s.GetRun(context.Background(), id)
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("GetRun(%q) err = %v, want ErrNotFound", id, err)
		}
	}
}

func TestListRuns(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	runs := []storage.Run{
		{ID: "r1", Outcome: "success", CreatedAt: base},
		{ID: "r2", Outcome: "timeout", CreatedAt: base.Add(time.Second)},
		{ID: "r3", Outcome: "success", CreatedAt: base.Add(2 * time.Second)},
	}
	for i := range runs {
		if err := s.RecordRun(ctx, &runs[i]); err != nil {
			t.Fatalf("RecordRun: %v", err)
		}
	}

	all, err := s.ListRuns(ctx, storage.RunListOptions{})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(all) != 3 || all[0].ID != "r3" || all[2].ID != "r1" {
		t.Fatalf("unexpected order: %+v", all)
	}

	successes, err := s.ListRuns(ctx, storage.RunListOptions{Outcome: "success"})
	if err != nil {
		t.Fatalf("ListRuns filtered: %v", err)
	}
	if len(successes) != 2 {
		t.Errorf("got %d successes, want 2", len(successes))
	}

	page, err := s.ListRuns(ctx, storage.RunListOptions{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("ListRuns paged: %v", err)
	}
	if len(page) != 1 || page[0].ID != "r2" {
		t.Errorf("page = %+v, want r2", page)
	}
}

func TestOpenFileDatabasePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	ctx := context.Background()

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.RecordRun(ctx, &storage.Run{ID: "keep", Outcome: "internal_error"}); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	if _, err := s.GetRun(ctx, "keep"); err != nil {
		t.Fatalf("GetRun after reopen: %v", err)
	}
}
