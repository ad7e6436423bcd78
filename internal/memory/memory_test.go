package memory

import (
	"testing"
	"time"

	"github.com/kalambet/dayplan/internal/storage"
)

func newTestStore(t *testing.T) (*Store, *time.Time) {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	now := time.Date(2024, 2, 7, 9, 0, 0, 0, time.UTC)
	s := New(db, 24*time.Hour)
	s.now = func() time.Time { return now }
	return s, &now
}

func TestHistory_EmptyForNewSession(t *testing.T) {
	s, _ := newTestStore(t)
	turns, err := s.History("fresh")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("len(turns) = %d, want 0", len(turns))
	}
}

func TestAppendThenHistory(t *testing.T) {
	s, _ := newTestStore(t)

	if err := s.Append("sess", "schedule standup", "done"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	turns, err := s.History("sess")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("len(turns) = %d, want 1", len(turns))
	}
	if turns[0].Input != "schedule standup" || turns[0].Output != "done" {
		t.Errorf("turn = %+v", turns[0])
	}
}

func TestHistory_NonEmptyFromSecondTurn(t *testing.T) {
	s, _ := newTestStore(t)

	if err := s.Append("sess", "first", "reply one"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	// Before handling turn 2, the preceding turn must be visible.
	turns, err := s.History("sess")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(turns) == 0 {
		t.Fatal("history empty on turn 2")
	}
	if turns[len(turns)-1].Input != "first" {
		t.Errorf("last turn input = %q, want %q", turns[len(turns)-1].Input, "first")
	}
}

func TestHistory_ExpiredSessionBehavesLikeNew(t *testing.T) {
	s, now := newTestStore(t)

	if err := s.Append("sess", "old news", "ack"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	*now = now.Add(25 * time.Hour)
	turns, err := s.History("sess")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(turns) != 0 {
		t.Errorf("len(turns) = %d, want 0 for expired session", len(turns))
	}
}

func TestAppend_AfterExpiryStartsFresh(t *testing.T) {
	s, now := newTestStore(t)

	if err := s.Append("sess", "old secret plans", "ack"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	// Resume the session past retention but before any sweep ran.
	*now = now.Add(25 * time.Hour)
	if err := s.Append("sess", "hello again", "hi"); err != nil {
		t.Fatalf("Append() after expiry error = %v", err)
	}

	turns, err := s.History("sess")
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("len(turns) = %d, want only the post-expiry turn", len(turns))
	}
	if turns[0].Input != "hello again" {
		t.Errorf("turn input = %q, want %q", turns[0].Input, "hello again")
	}
}

func TestSweep(t *testing.T) {
	s, now := newTestStore(t)

	if err := s.Append("stale", "hello", "hi"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	*now = now.Add(25 * time.Hour)
	if err := s.Append("live", "hello", "hi"); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	removed, err := s.Sweep()
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	turns, err := s.History("live")
	if err != nil {
		t.Fatalf("History(live) error = %v", err)
	}
	if len(turns) != 1 {
		t.Errorf("live history lost, len = %d", len(turns))
	}
}
