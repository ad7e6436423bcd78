package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/dayplan/internal/calendar"
	"github.com/kalambet/dayplan/internal/pipeline"
	"github.com/kalambet/dayplan/internal/storage"
	"github.com/kalambet/dayplan/internal/task"
)

// fakeCalendar implements calendar.Service for testing.
type fakeCalendar struct {
	events    []calendar.Event
	listErr   error
	insertErr error
	inserted  []calendar.Event
}

func (f *fakeCalendar) ListEvents(ctx context.Context, token string, min, max time.Time) ([]calendar.Event, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.events, nil
}

func (f *fakeCalendar) InsertEvent(ctx context.Context, token string, ev calendar.Event) (calendar.Event, error) {
	if f.insertErr != nil {
		return calendar.Event{}, f.insertErr
	}
	ev.ID = fmt.Sprintf("cal-%d", len(f.inserted)+1)
	f.inserted = append(f.inserted, ev)
	return ev, nil
}

var refNow = time.Date(2024, 2, 7, 8, 0, 0, 0, time.UTC)

func newTestExecutor(t *testing.T, cal calendar.Service) (*Executor, *storage.Store) {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	e := New(cal, db, time.UTC)
	e.now = func() time.Time { return refNow }
	return e, db
}

func call(name string, args map[string]any) task.FunctionCall {
	raw := make(map[string]json.RawMessage, len(args))
	for k, v := range args {
		b, _ := json.Marshal(v)
		raw[k] = b
	}
	return task.FunctionCall{Name: name, Arguments: raw}
}

func TestExecute_NoTokenAsksForLogin(t *testing.T) {
	cal := &fakeCalendar{}
	e, _ := newTestExecutor(t, cal)

	got := e.Execute(context.Background(), "sess", "", call(task.FuncCheckCalendar, map[string]any{"timeframe": "today"}))

	if got.State != pipeline.StateActionExecuted {
		t.Errorf("State = %q", got.State)
	}
	if got.Response.Message != "I need access to your Google Calendar to check your schedule. Please log in first." {
		t.Errorf("Message = %q", got.Response.Message)
	}
	if len(got.Response.SuggestedActions) != 1 || got.Response.SuggestedActions[0].Type != task.ActionInfo {
		t.Errorf("SuggestedActions = %+v", got.Response.SuggestedActions)
	}
	if len(cal.inserted) != 0 {
		t.Error("calendar touched without a token")
	}
}

func TestExecute_CheckCalendarEmpty(t *testing.T) {
	e, _ := newTestExecutor(t, &fakeCalendar{})

	got := e.Execute(context.Background(), "sess", "tok", call(task.FuncCheckCalendar, map[string]any{"timeframe": "today"}))

	if got.Response.Message != "I checked your calendar and you have no events scheduled for today." {
		t.Errorf("Message = %q", got.Response.Message)
	}
	if len(got.Response.SuggestedActions) != 1 ||
		got.Response.SuggestedActions[0].Description != "Schedule a new event for today" {
		t.Errorf("SuggestedActions = %+v", got.Response.SuggestedActions)
	}
}

func TestExecute_CheckCalendarListsEvents(t *testing.T) {
	cal := &fakeCalendar{events: []calendar.Event{
		{
			Summary: "Standup",
			Start:   time.Date(2024, 2, 7, 9, 0, 0, 0, time.UTC),
			End:     time.Date(2024, 2, 7, 9, 30, 0, 0, time.UTC),
		},
		{
			Summary: "Review",
			Start:   time.Date(2024, 2, 7, 14, 0, 0, 0, time.UTC),
			End:     time.Date(2024, 2, 7, 15, 0, 0, 0, time.UTC),
		},
	}}
	e, _ := newTestExecutor(t, cal)

	got := e.Execute(context.Background(), "sess", "tok", call(task.FuncCheckCalendar, map[string]any{"timeframe": "today"}))

	msg := got.Response.Message
	if !strings.HasPrefix(msg, "Here are your events for today:\n") {
		t.Errorf("Message = %q", msg)
	}
	if !strings.Contains(msg, "• Standup (9:00 AM - 9:30 AM)") {
		t.Errorf("missing first event line: %q", msg)
	}
	if !strings.Contains(msg, "• Review (2:00 PM - 3:00 PM)") {
		t.Errorf("missing second event line: %q", msg)
	}
}

func TestExecute_CheckCalendarFailure(t *testing.T) {
	e, _ := newTestExecutor(t, &fakeCalendar{listErr: fmt.Errorf("api quota exceeded")})

	got := e.Execute(context.Background(), "sess", "tok", call(task.FuncCheckCalendar, map[string]any{"timeframe": "week"}))

	if got.Response.Message != "I encountered an error while working with your calendar. Please try again later." {
		t.Errorf("Message = %q", got.Response.Message)
	}
}

func TestExecute_ScheduleEvent(t *testing.T) {
	cal := &fakeCalendar{}
	e, db := newTestExecutor(t, cal)

	got := e.Execute(context.Background(), "sess", "tok", call(task.FuncScheduleEvent, map[string]any{
		"title":       "Team lunch",
		"description": "At the new place",
		"startTime":   "2024-02-07T12:00:00Z",
		"duration":    90,
	}))

	want := `Great! I've scheduled "Team lunch" for February 7, 2024, 12:00 PM with the description: At the new place. The event has been added to your calendar.`
	if got.Response.Message != want {
		t.Errorf("Message = %q\nwant      %q", got.Response.Message, want)
	}
	if len(got.Response.SuggestedActions) != 2 {
		t.Errorf("SuggestedActions = %+v", got.Response.SuggestedActions)
	}

	if len(cal.inserted) != 1 {
		t.Fatalf("inserted = %d events", len(cal.inserted))
	}
	ev := cal.inserted[0]
	if ev.Summary != "Team lunch" || !ev.End.Equal(ev.Start.Add(90*time.Minute)) {
		t.Errorf("inserted event = %+v", ev)
	}

	stored, err := db.ListScheduledEvents("sess", 10)
	if err != nil {
		t.Fatalf("ListScheduledEvents() error = %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("stored = %d events", len(stored))
	}
	if stored[0].Status != "scheduled" || stored[0].CalendarEventID == "" {
		t.Errorf("stored event = %+v", stored[0])
	}
}

func TestExecute_ScheduleEventKeepsUTCOffset(t *testing.T) {
	cal := &fakeCalendar{}
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	e := New(cal, db, time.FixedZone("EST", -5*3600))
	e.now = func() time.Time { return refNow }

	got := e.Execute(context.Background(), "sess", "tok", call(task.FuncScheduleEvent, map[string]any{
		"title":     "Standup",
		"startTime": "2024-02-07T09:00:00-05:00",
		"duration":  30,
	}))

	if !strings.Contains(got.Response.Message, `"Standup" for February 7, 2024, 9:00 AM`) {
		t.Errorf("Message = %q", got.Response.Message)
	}

	if len(cal.inserted) != 1 {
		t.Fatalf("inserted = %d events", len(cal.inserted))
	}
	if end := cal.inserted[0].End.Format(time.RFC3339); end != "2024-02-07T09:30:00-05:00" {
		t.Errorf("inserted end = %q, want offset preserved", end)
	}

	stored, err := db.ListScheduledEvents("sess", 10)
	if err != nil {
		t.Fatalf("ListScheduledEvents() error = %v", err)
	}
	if len(stored) != 1 {
		t.Fatalf("stored = %d events", len(stored))
	}
	if stored[0].StartTime != "2024-02-07T09:00:00-05:00" || stored[0].EndTime != "2024-02-07T09:30:00-05:00" {
		t.Errorf("stored times = %q - %q, want offset preserved", stored[0].StartTime, stored[0].EndTime)
	}
}

func TestExecute_ScheduleEventWithoutDescription(t *testing.T) {
	e, _ := newTestExecutor(t, &fakeCalendar{})

	got := e.Execute(context.Background(), "sess", "tok", call(task.FuncScheduleEvent, map[string]any{
		"title":     "Gym",
		"startTime": "2024-02-07T18:00:00Z",
		"duration":  60,
	}))

	if strings.Contains(got.Response.Message, "description") {
		t.Errorf("Message mentions missing description: %q", got.Response.Message)
	}
}

func TestExecute_ScheduleEventDefaultDuration(t *testing.T) {
	cal := &fakeCalendar{}
	e, _ := newTestExecutor(t, cal)

	e.Execute(context.Background(), "sess", "tok", call(task.FuncScheduleEvent, map[string]any{
		"title":     "Sync",
		"startTime": "2024-02-07T10:00:00Z",
	}))

	if len(cal.inserted) != 1 {
		t.Fatalf("inserted = %d events", len(cal.inserted))
	}
	if got := cal.inserted[0].End.Sub(cal.inserted[0].Start); got != time.Hour {
		t.Errorf("duration = %v, want 1h", got)
	}
}

func TestExecute_ScheduleEventBadStart(t *testing.T) {
	cal := &fakeCalendar{}
	e, db := newTestExecutor(t, cal)

	got := e.Execute(context.Background(), "sess", "tok", call(task.FuncScheduleEvent, map[string]any{
		"title":     "Broken",
		"startTime": "next tuesday-ish",
		"duration":  30,
	}))

	if got.Response.Message != "I encountered an error while working with your calendar. Please try again later." {
		t.Errorf("Message = %q", got.Response.Message)
	}
	if len(cal.inserted) != 0 {
		t.Error("event inserted despite bad start time")
	}
	stored, _ := db.ListScheduledEvents("sess", 10)
	if len(stored) != 0 {
		t.Error("event recorded despite bad start time")
	}
}

func TestExecute_ScheduleEventInsertFailureKeepsPendingRecord(t *testing.T) {
	e, db := newTestExecutor(t, &fakeCalendar{insertErr: fmt.Errorf("backend unavailable")})

	got := e.Execute(context.Background(), "sess", "tok", call(task.FuncScheduleEvent, map[string]any{
		"title":     "Doomed",
		"startTime": "2024-02-07T10:00:00Z",
		"duration":  30,
	}))

	if !strings.Contains(got.Response.Message, "error while working with your calendar") {
		t.Errorf("Message = %q", got.Response.Message)
	}
	stored, err := db.ListScheduledEvents("sess", 10)
	if err != nil {
		t.Fatalf("ListScheduledEvents() error = %v", err)
	}
	if len(stored) != 1 || stored[0].Status != "pending" {
		t.Errorf("stored = %+v, want one pending record", stored)
	}
}

func TestExecute_SuggestMeetingTimeFindsGap(t *testing.T) {
	cal := &fakeCalendar{events: []calendar.Event{
		{
			Summary: "Standup",
			Start:   time.Date(2024, 2, 7, 9, 0, 0, 0, time.UTC),
			End:     time.Date(2024, 2, 7, 10, 0, 0, 0, time.UTC),
		},
	}}
	e, _ := newTestExecutor(t, cal)

	got := e.Execute(context.Background(), "sess", "tok", call(task.FuncSuggestMeetingTime, map[string]any{
		"timeframe":  "today",
		"preference": "morning",
		"duration":   60,
	}))

	if !strings.Contains(got.Response.Message, "free today at 10:00 AM") {
		t.Errorf("Message = %q", got.Response.Message)
	}
}

func TestExecute_SuggestMeetingTimeFullyBooked(t *testing.T) {
	cal := &fakeCalendar{events: []calendar.Event{
		{
			Summary: "Offsite",
			Start:   time.Date(2024, 2, 7, 9, 0, 0, 0, time.UTC),
			End:     time.Date(2024, 2, 7, 13, 0, 0, 0, time.UTC),
		},
	}}
	e, _ := newTestExecutor(t, cal)

	got := e.Execute(context.Background(), "sess", "tok", call(task.FuncSuggestMeetingTime, map[string]any{
		"timeframe":  "today",
		"preference": "morning",
		"duration":   60,
	}))

	if !strings.Contains(got.Response.Message, "fully booked") {
		t.Errorf("Message = %q", got.Response.Message)
	}
}

func TestExecute_UnknownFunction(t *testing.T) {
	e, _ := newTestExecutor(t, &fakeCalendar{})

	got := e.Execute(context.Background(), "sess", "tok", call("delete_everything", nil))

	if !strings.Contains(got.Response.Message, "error while working with your calendar") {
		t.Errorf("Message = %q", got.Response.Message)
	}
}
