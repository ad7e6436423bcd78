// Package memory is the per-session conversation log supplied as context
// to the model on every turn. Sessions expire after a retention window;
// an expired or unknown session behaves exactly like a first-ever
// conversation.
package memory

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/dayplan/internal/storage"
)

const (
	// DefaultRetention is how long an idle session survives.
	DefaultRetention = 24 * time.Hour

	// historyLimit bounds how many prior turns are supplied as context.
	historyLimit = 20
)

// Turn is one (input, output) pair from a prior exchange.
type Turn struct {
	Input  string
	Output string
}

// Store gives sessions their working memory. Mutations are append-only
// within a session's lifetime; concurrent appends to the same session are
// last-write-wins by design.
type Store struct {
	db        *storage.Store
	retention time.Duration
	now       func() time.Time
}

// New creates a memory store over the given storage. A non-positive
// retention falls back to DefaultRetention.
func New(db *storage.Store, retention time.Duration) *Store {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Store{db: db, retention: retention, now: time.Now}
}

// History returns the most recent turns for a session in chronological
// order. Unknown and expired sessions return an empty history.
func (s *Store) History(sessionID string) ([]Turn, error) {
	sess, err := s.db.GetSession(sessionID)
	if err == storage.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if s.now().Sub(sess.LastActiveAt) > s.retention {
		return nil, nil
	}

	stored, err := s.db.RecentTurns(sessionID, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("loading turns: %w", err)
	}
	turns := make([]Turn, len(stored))
	for i, t := range stored {
		turns[i] = Turn{Input: t.Input, Output: t.Output}
	}
	return turns, nil
}

// Append records one completed exchange, creating the session on first
// use and refreshing its activity timestamp. Appending to an expired
// session first drops the session and its old turns: resumed activity
// must start a genuinely fresh conversation, not revive pre-expiry
// context that History already stopped serving.
func (s *Store) Append(sessionID, input, output string) error {
	now := s.now()
	if sess, err := s.db.GetSession(sessionID); err == nil && now.Sub(sess.LastActiveAt) > s.retention {
		if err := s.db.DeleteSession(sessionID); err != nil {
			return fmt.Errorf("resetting expired session: %w", err)
		}
	}
	if err := s.db.TouchSession(sessionID, now); err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	if err := s.db.AppendTurn(sessionID, input, output, now); err != nil {
		return fmt.Errorf("appending turn: %w", err)
	}
	return nil
}

// Sweep removes sessions idle past the retention window and reports how
// many were dropped.
func (s *Store) Sweep() (int, error) {
	removed, err := s.db.DeleteSessionsIdleSince(s.now().Add(-s.retention))
	if err != nil {
		return 0, fmt.Errorf("sweeping sessions: %w", err)
	}
	if removed > 0 {
		slog.Info("expired sessions removed", "count", removed)
	}
	return removed, nil
}
