package calendar

import (
	"testing"
	"time"

	gcal "google.golang.org/api/calendar/v3"
)

func TestOffsetZone(t *testing.T) {
	tests := []struct {
		name string
		at   time.Time
		want string
	}{
		{"utc", time.Date(2024, 2, 7, 9, 0, 0, 0, time.UTC), "UTC"},
		{"eastern", time.Date(2024, 2, 7, 9, 0, 0, 0, time.FixedZone("", -5*3600)), "-05:00"},
		{"half hour", time.Date(2024, 2, 7, 9, 0, 0, 0, time.FixedZone("", 5*3600+1800)), "+05:30"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := offsetZone(tt.at); got != tt.want {
				t.Errorf("offsetZone(%v) = %q, want %q", tt.at, got, tt.want)
			}
		})
	}
}

func TestEventTime(t *testing.T) {
	timed := eventTime(&gcal.EventDateTime{DateTime: "2024-02-07T09:00:00-05:00"})
	want := time.Date(2024, 2, 7, 9, 0, 0, 0, time.FixedZone("", -5*3600))
	if !timed.Equal(want) {
		t.Errorf("eventTime(timed) = %v, want %v", timed, want)
	}

	allDay := eventTime(&gcal.EventDateTime{Date: "2024-02-07"})
	if allDay.IsZero() {
		t.Error("eventTime(all-day) is zero")
	}

	if !eventTime(nil).IsZero() {
		t.Error("eventTime(nil) not zero")
	}
}
