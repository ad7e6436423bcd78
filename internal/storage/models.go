package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Session is one server-tracked conversation, bounded by the retention
// window. LastActiveAt advances on every appended turn.
type Session struct {
	ID           string
	CreatedAt    time.Time
	LastActiveAt time.Time
}

// Turn is one user utterance and the raw output produced for it.
type Turn struct {
	ID        int64
	SessionID string
	Input     string
	Output    string
	CreatedAt time.Time
}

// ScheduledEvent is the audit record of a task handed to the external
// calendar: pending while the insert is in flight, scheduled once the
// calendar assigned an id.
type ScheduledEvent struct {
	ID              string
	SessionID       string
	Title           string
	Description     string
	StartTime       string // RFC 3339 with offset
	EndTime         string
	Status          string
	CalendarEventID string
	CreatedAt       time.Time
}
