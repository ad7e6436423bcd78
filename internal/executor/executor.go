// Package executor runs the calendar actions the model selects. Every
// outcome is a user-facing reply: calendar failures are logged and
// swallowed into a fixed apology, never surfaced as errors.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/dayplan/internal/calendar"
	"github.com/kalambet/dayplan/internal/pipeline"
	"github.com/kalambet/dayplan/internal/storage"
	"github.com/kalambet/dayplan/internal/task"
	"github.com/kalambet/dayplan/internal/timeparse"
)

const (
	loginRequired    = "I need access to your Google Calendar to check your schedule. Please log in first."
	calendarFailure  = "I encountered an error while working with your calendar. Please try again later."
	defaultDuration  = 60 * time.Minute
	suggestionWindow = 4 * time.Hour
)

// Executor carries out pending calendar actions.
type Executor struct {
	cal calendar.Service
	db  *storage.Store
	loc *time.Location
	now func() time.Time
}

// New wires an executor. A nil location defaults to UTC.
func New(cal calendar.Service, db *storage.Store, loc *time.Location) *Executor {
	if loc == nil {
		loc = time.UTC
	}
	return &Executor{cal: cal, db: db, loc: loc, now: time.Now}
}

// Execute runs one selected action for a session and always produces a
// presentable result.
func (e *Executor) Execute(ctx context.Context, sessionID, accessToken string, fc task.FunctionCall) pipeline.TurnResult {
	if accessToken == "" {
		return executed(task.ChatResponse{
			Message: loginRequired,
			SuggestedActions: []task.SuggestedAction{
				{Type: task.ActionInfo, Description: "Log in with Google"},
			},
		})
	}

	switch fc.Name {
	case task.FuncCheckCalendar:
		return e.checkCalendar(ctx, accessToken, fc)
	case task.FuncScheduleEvent:
		return e.scheduleEvent(ctx, sessionID, accessToken, fc)
	case task.FuncSuggestMeetingTime:
		return e.suggestMeetingTime(ctx, accessToken, fc)
	default:
		slog.Warn("unknown calendar action", "function", fc.Name)
		return executed(task.ChatResponse{Message: calendarFailure})
	}
}

func (e *Executor) checkCalendar(ctx context.Context, accessToken string, fc task.FunctionCall) pipeline.TurnResult {
	timeframe := fc.GetString("timeframe")
	r, err := timeparse.DayRange(timeframe, e.now(), e.loc)
	if err != nil {
		slog.Warn("invalid timeframe", "timeframe", timeframe, "error", err)
		return executed(task.ChatResponse{Message: calendarFailure})
	}

	events, err := e.cal.ListEvents(ctx, accessToken, r.Start, r.End)
	if err != nil {
		slog.Error("listing calendar events failed", "timeframe", timeframe, "error", err)
		return executed(task.ChatResponse{Message: calendarFailure})
	}

	var msg string
	if len(events) == 0 {
		msg = fmt.Sprintf("I checked your calendar and you have no events scheduled for %s.", timeframe)
	} else {
		var b strings.Builder
		fmt.Fprintf(&b, "Here are your events for %s:\n", timeframe)
		for _, ev := range events {
			fmt.Fprintf(&b, "\n• %s (%s - %s)", ev.Summary, e.clock(ev.Start), e.clock(ev.End))
		}
		msg = b.String()
	}

	return executed(task.ChatResponse{
		Message: msg,
		SuggestedActions: []task.SuggestedAction{
			{Type: task.ActionSchedule, Description: fmt.Sprintf("Schedule a new event for %s", timeframe)},
		},
	})
}

func (e *Executor) scheduleEvent(ctx context.Context, sessionID, accessToken string, fc task.FunctionCall) pipeline.TurnResult {
	start, err := time.Parse(time.RFC3339, fc.GetString("startTime"))
	if err != nil {
		slog.Warn("unparseable event start", "startTime", fc.GetString("startTime"), "error", err)
		return executed(task.ChatResponse{Message: calendarFailure})
	}

	duration := time.Duration(fc.GetNumber("duration")) * time.Minute
	if duration <= 0 {
		duration = defaultDuration
	}
	end := start.Add(duration)

	t, err := task.Validate(task.Task{
		Title:       fc.GetString("title"),
		Description: fc.GetString("description"),
		StartTime:   start.Format(time.RFC3339),
		EndTime:     end.Format(time.RFC3339),
	})
	if err != nil {
		slog.Warn("rejected event", "error", err)
		return executed(task.ChatResponse{Message: calendarFailure})
	}

	stored := storage.ScheduledEvent{
		ID:          uuid.NewString(),
		SessionID:   sessionID,
		Title:       t.Title,
		Description: t.Description,
		StartTime:   t.StartTime,
		EndTime:     t.EndTime,
	}
	if err := e.db.SaveScheduledEvent(stored); err != nil {
		slog.Error("recording scheduled event failed", "error", err)
		return executed(task.ChatResponse{Message: calendarFailure})
	}

	created, err := e.cal.InsertEvent(ctx, accessToken, calendar.Event{
		Summary:     t.Title,
		Description: t.Description,
		Start:       start,
		End:         end,
	})
	if err != nil {
		slog.Error("inserting calendar event failed", "title", t.Title, "error", err)
		return executed(task.ChatResponse{Message: calendarFailure})
	}
	if err := e.db.MarkEventScheduled(stored.ID, created.ID); err != nil {
		slog.Warn("marking event scheduled failed", "id", stored.ID, "error", err)
	}

	msg := fmt.Sprintf("Great! I've scheduled %q for %s", t.Title, start.In(e.loc).Format("January 2, 2006, 3:04 PM"))
	if t.Description != "" {
		msg += fmt.Sprintf(" with the description: %s", t.Description)
	}
	msg += ". The event has been added to your calendar."

	return executed(task.ChatResponse{
		Message: msg,
		SuggestedActions: []task.SuggestedAction{
			{Type: task.ActionInfo, Description: "Check my schedule"},
			{Type: task.ActionSchedule, Description: "Schedule another event"},
		},
	})
}

// suggestMeetingTime finds the first free slot of the requested length
// inside the preferred part of the day.
func (e *Executor) suggestMeetingTime(ctx context.Context, accessToken string, fc task.FunctionCall) pipeline.TurnResult {
	timeframe := fc.GetString("timeframe")
	if timeframe == "" {
		timeframe = "today"
	}
	day, err := timeparse.DayRange(timeframe, e.now(), e.loc)
	if err != nil {
		slog.Warn("invalid timeframe", "timeframe", timeframe, "error", err)
		return executed(task.ChatResponse{Message: calendarFailure})
	}

	preference := fc.GetString("preference")
	hour, ok := timeparse.AnchorHour(preference)
	if !ok {
		preference, hour = "morning", 9
	}
	windowStart := time.Date(day.Start.Year(), day.Start.Month(), day.Start.Day(), hour, 0, 0, 0, e.loc)
	windowEnd := windowStart.Add(suggestionWindow)

	duration := time.Duration(fc.GetNumber("duration")) * time.Minute
	if duration <= 0 {
		duration = defaultDuration
	}

	events, err := e.cal.ListEvents(ctx, accessToken, windowStart, windowEnd)
	if err != nil {
		slog.Error("listing calendar events failed", "timeframe", timeframe, "error", err)
		return executed(task.ChatResponse{Message: calendarFailure})
	}

	slot, found := firstFreeSlot(events, windowStart, windowEnd, duration)
	if !found {
		return executed(task.ChatResponse{
			Message: fmt.Sprintf("Your %s %s looks fully booked. Would you like me to look at a different time of day?", timeframe, preference),
			SuggestedActions: []task.SuggestedAction{
				{Type: task.ActionInfo, Description: "Check my schedule"},
			},
		})
	}

	return executed(task.ChatResponse{
		Message: fmt.Sprintf("You're free %s at %s. Would you like me to schedule something then?", timeframe, e.clock(slot)),
		SuggestedActions: []task.SuggestedAction{
			{Type: task.ActionSchedule, Description: fmt.Sprintf("Schedule an event at %s", e.clock(slot))},
		},
	})
}

// firstFreeSlot walks booked intervals in start order and returns the
// first gap that fits the duration.
func firstFreeSlot(events []calendar.Event, windowStart, windowEnd time.Time, duration time.Duration) (time.Time, bool) {
	sorted := make([]calendar.Event, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	cursor := windowStart
	for _, ev := range sorted {
		if ev.Start.After(cursor) && ev.Start.Sub(cursor) >= duration {
			return cursor, true
		}
		if ev.End.After(cursor) {
			cursor = ev.End
		}
	}
	if windowEnd.Sub(cursor) >= duration {
		return cursor, true
	}
	return time.Time{}, false
}

func (e *Executor) clock(t time.Time) string {
	return t.In(e.loc).Format("3:04 PM")
}

func executed(resp task.ChatResponse) pipeline.TurnResult {
	return pipeline.TurnResult{State: pipeline.StateActionExecuted, Response: resp}
}
