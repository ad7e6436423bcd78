package calendar

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

const (
	primaryCalendar = "primary"
	maxListResults  = 10
)

// GoogleCalendar talks to the Google Calendar API on behalf of whoever
// owns the access token passed to each call.
type GoogleCalendar struct{}

// NewGoogle creates a Google-backed calendar service.
func NewGoogle() *GoogleCalendar {
	return &GoogleCalendar{}
}

func (g *GoogleCalendar) service(ctx context.Context, accessToken string) (*gcal.Service, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	svc, err := gcal.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("creating calendar service: %w", err)
	}
	return svc, nil
}

// ListEvents returns up to maxListResults events from the primary
// calendar within [min, max), expanded and ordered by start time.
func (g *GoogleCalendar) ListEvents(ctx context.Context, accessToken string, min, max time.Time) ([]Event, error) {
	svc, err := g.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	resp, err := svc.Events.List(primaryCalendar).
		TimeMin(min.Format(time.RFC3339)).
		TimeMax(max.Format(time.RFC3339)).
		MaxResults(maxListResults).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}

	events := make([]Event, 0, len(resp.Items))
	for _, item := range resp.Items {
		events = append(events, Event{
			ID:          item.Id,
			Summary:     item.Summary,
			Description: item.Description,
			Start:       eventTime(item.Start),
			End:         eventTime(item.End),
		})
	}
	return events, nil
}

// InsertEvent creates an event on the primary calendar with default
// reminders and returns it with the server-assigned ID.
func (g *GoogleCalendar) InsertEvent(ctx context.Context, accessToken string, ev Event) (Event, error) {
	svc, err := g.service(ctx, accessToken)
	if err != nil {
		return Event{}, err
	}

	zone := offsetZone(ev.Start)
	created, err := svc.Events.Insert(primaryCalendar, &gcal.Event{
		Summary:     ev.Summary,
		Description: ev.Description,
		Start:       &gcal.EventDateTime{DateTime: ev.Start.Format(time.RFC3339), TimeZone: zone},
		End:         &gcal.EventDateTime{DateTime: ev.End.Format(time.RFC3339), TimeZone: zone},
		Reminders:   &gcal.EventReminders{UseDefault: true},
	}).Context(ctx).Do()
	if err != nil {
		return Event{}, fmt.Errorf("inserting event: %w", err)
	}

	ev.ID = created.Id
	return ev, nil
}

// offsetZone labels an event's timezone from the UTC offset of its start
// instant. Both start and end carry the same label so the calendar
// renders the event in the zone the user spoke in.
func offsetZone(t time.Time) string {
	if _, offset := t.Zone(); offset == 0 {
		return "UTC"
	}
	return t.Format("-07:00")
}

// eventTime resolves a calendar timestamp: timed events carry DateTime,
// all-day events carry only Date.
func eventTime(dt *gcal.EventDateTime) time.Time {
	if dt == nil {
		return time.Time{}
	}
	if dt.DateTime != "" {
		if t, err := time.Parse(time.RFC3339, dt.DateTime); err == nil {
			return t
		}
	}
	if dt.Date != "" {
		if t, err := time.Parse("2006-01-02", dt.Date); err == nil {
			return t
		}
	}
	return time.Time{}
}
