package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for sessions, turns, and
// scheduled events.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used
// by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "dayplan.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// --- Sessions ---

// TouchSession inserts the session if it is new and bumps last_active_at
// either way.
func (s *Store) TouchSession(id string, now time.Time) error {
	ts := now.UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, created_at, last_active_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET last_active_at = excluded.last_active_at`,
		id, ts, ts,
	)
	return err
}

func (s *Store) GetSession(id string) (Session, error) {
	var sess Session
	var createdAt, lastActiveAt string
	err := s.db.QueryRow(`SELECT id, created_at, last_active_at FROM sessions WHERE id = ?`, id).
		Scan(&sess.ID, &createdAt, &lastActiveAt)
	if err == sql.ErrNoRows {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}
	if sess.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Session{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if sess.LastActiveAt, err = time.Parse(time.RFC3339, lastActiveAt); err != nil {
		return Session{}, fmt.Errorf("parsing last_active_at: %w", err)
	}
	return sess, nil
}

// DeleteSession removes a session and, via cascade, its turns. Deleting
// an unknown session is a no-op.
func (s *Store) DeleteSession(id string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	return err
}

// DeleteSessionsIdleSince removes sessions whose last activity is strictly
// before cutoff, along with their turns, and reports how many sessions
// were removed.
func (s *Store) DeleteSessionsIdleSince(cutoff time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM sessions WHERE last_active_at < ?`,
		cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) CountSessions() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM sessions`).Scan(&n)
	return n, err
}

// RecentSessions returns the most recently active sessions with their turn
// counts, newest first.
func (s *Store) RecentSessions(limit int) ([]Session, map[string]int, error) {
	rows, err := s.db.Query(`
		SELECT id, created_at, last_active_at FROM sessions
		ORDER BY last_active_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		var createdAt, lastActiveAt string
		if err := rows.Scan(&sess.ID, &createdAt, &lastActiveAt); err != nil {
			return nil, nil, err
		}
		if sess.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if sess.LastActiveAt, err = time.Parse(time.RFC3339, lastActiveAt); err != nil {
			return nil, nil, fmt.Errorf("parsing last_active_at: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	counts := make(map[string]int, len(sessions))
	for _, sess := range sessions {
		var n int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM turns WHERE session_id = ?`, sess.ID).Scan(&n); err != nil {
			return nil, nil, err
		}
		counts[sess.ID] = n
	}
	return sessions, counts, nil
}

// --- Turns ---

func (s *Store) AppendTurn(sessionID, input, output string, now time.Time) error {
	_, err := s.db.Exec(`
		INSERT INTO turns (session_id, input, output, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, input, output, now.UTC().Format(time.RFC3339),
	)
	return err
}

// RecentTurns returns the most recent limit turns for a session in
// chronological order. Unknown sessions yield an empty slice.
func (s *Store) RecentTurns(sessionID string, limit int) ([]Turn, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, input, output, created_at FROM turns
		WHERE session_id = ? ORDER BY id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		var createdAt string
		if err := rows.Scan(&t.ID, &t.SessionID, &t.Input, &t.Output, &createdAt); err != nil {
			return nil, err
		}
		if t.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into chronological order.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// --- Scheduled events ---

func (s *Store) SaveScheduledEvent(ev ScheduledEvent) error {
	status := ev.Status
	if status == "" {
		status = "pending"
	}
	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.Exec(`
		INSERT INTO scheduled_events (id, session_id, title, description, start_time, end_time, status, calendar_event_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.SessionID, ev.Title, ev.Description, ev.StartTime, ev.EndTime,
		status, ev.CalendarEventID, createdAt.UTC().Format(time.RFC3339),
	)
	return err
}

// MarkEventScheduled flips a pending event to scheduled and records the id
// the external calendar assigned.
func (s *Store) MarkEventScheduled(id, calendarEventID string) error {
	res, err := s.db.Exec(`
		UPDATE scheduled_events SET status = 'scheduled', calendar_event_id = ? WHERE id = ?`,
		calendarEventID, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) ListScheduledEvents(sessionID string, limit int) ([]ScheduledEvent, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, title, description, start_time, end_time, status, calendar_event_id, created_at
		FROM scheduled_events WHERE session_id = ? ORDER BY created_at DESC LIMIT ?`,
		sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []ScheduledEvent
	for rows.Next() {
		var ev ScheduledEvent
		var createdAt string
		if err := rows.Scan(&ev.ID, &ev.SessionID, &ev.Title, &ev.Description,
			&ev.StartTime, &ev.EndTime, &ev.Status, &ev.CalendarEventID, &createdAt); err != nil {
			return nil, err
		}
		if ev.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
