// Package calendar is the thin layer over the Google Calendar API.
// Callers hold the user's OAuth access token; nothing here persists
// credentials.
package calendar

import (
	"context"
	"time"
)

// Event is the subset of a calendar event the assistant works with.
type Event struct {
	ID          string
	Summary     string
	Description string
	Start       time.Time
	End         time.Time
}

// Service lists and creates events on the user's primary calendar.
type Service interface {
	ListEvents(ctx context.Context, accessToken string, min, max time.Time) ([]Event, error)
	InsertEvent(ctx context.Context, accessToken string, ev Event) (Event, error)
}
