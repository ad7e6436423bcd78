// Package timeparse turns natural-language time expressions into absolute
// instants. It is deliberately rule-driven rather than model-driven: the
// same rule table is reproduced in the orchestrator's system prompt, and
// this package is the deterministic authority when model output needs a
// backstop.
package timeparse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Range is an absolute [Start, End) interval.
type Range struct {
	Start time.Time
	End   time.Time
}

// Dimension names what an ambiguous expression is missing.
type Dimension string

const (
	DimensionTime     Dimension = "time-of-day"
	DimensionDate     Dimension = "date"
	DimensionDuration Dimension = "duration"
)

// AmbiguityError signals that an expression lacks enough information to
// resolve without guessing.
type AmbiguityError struct {
	Missing Dimension
}

func (e *AmbiguityError) Error() string {
	return fmt.Sprintf("expression is ambiguous: missing %s", e.Missing)
}

const (
	defaultDuration = 60 * time.Minute
	shortDuration   = 30 * time.Minute
	longDuration    = 2 * time.Hour
	defaultHour     = 9 // date-only expressions start at 09:00
)

var namedAnchors = map[string]int{
	"morning":   9,
	"afternoon": 14,
	"evening":   18,
	"night":     20,
	"noon":      12,
	"midnight":  0,
}

// AnchorHour returns the clock hour for a named time-of-day anchor.
func AnchorHour(name string) (int, bool) {
	h, ok := namedAnchors[strings.ToLower(strings.TrimSpace(name))]
	return h, ok
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

var (
	meridiemRe = regexp.MustCompile(`\b(\d{1,2})(?::([0-5]\d))?\s*(am|pm|a\.m\.|p\.m\.)`)
	bareTimeRe = regexp.MustCompile(`\b(?:at|by|around)\s+(\d{1,2})(?::([0-5]\d))?\b`)
	clockRe    = regexp.MustCompile(`\b(\d{1,2}):([0-5]\d)\b`)
	weekdayRe  = regexp.MustCompile(`\b(?:(next|this)\s+)?(sunday|monday|tuesday|wednesday|thursday|friday|saturday)\b`)
	durationRe = regexp.MustCompile(`\b(\d+)\s*(minutes?|mins?|hours?|hrs?)\b`)
	vagueRe    = regexp.MustCompile(`\b(sometime|later|soon|whenever|eventually)\b`)
)

// Normalize resolves a natural-language time expression against a reference
// "now" in the given location. Rules apply in fixed precedence and the
// first match wins; see the package comment. Identical inputs always yield
// identical output. An irreducibly ambiguous expression returns an
// *AmbiguityError naming the missing dimension instead of a guess.
func Normalize(expression string, now time.Time, loc *time.Location) (Range, error) {
	expr := strings.ToLower(strings.TrimSpace(expression))
	if loc == nil {
		loc = time.UTC
	}
	now = now.In(loc)

	day, hasDay := parseDay(expr, now)
	hour, minute, hasTime := parseClock(expr)
	if !hasTime {
		hour, hasTime = parseAnchor(expr)
	}

	switch {
	case hasTime && !hasDay:
		day = now
	case !hasTime && hasDay:
		// Date only: default start of the working day.
		hour, minute = defaultHour, 0
	case !hasTime && !hasDay:
		if vagueRe.MatchString(expr) {
			return Range{}, &AmbiguityError{Missing: DimensionTime}
		}
		return Range{}, &AmbiguityError{Missing: DimensionDate}
	}

	start := time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, loc)
	return Range{Start: start, End: start.Add(parseDuration(expr))}, nil
}

// parseClock finds an explicit clock time. A bare hour without AM/PM is
// interpreted as 1-6 => PM, 7-11 => AM, 12 => PM; 24-hour values pass
// through unchanged. Any mentioned time is always the start time.
func parseClock(expr string) (hour, minute int, ok bool) {
	if m := meridiemRe.FindStringSubmatch(expr); m != nil {
		hour, _ = strconv.Atoi(m[1])
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		if hour > 12 {
			return 0, 0, false
		}
		pm := strings.HasPrefix(m[3], "p")
		if pm && hour != 12 {
			hour += 12
		}
		if !pm && hour == 12 {
			hour = 0
		}
		return hour, minute, true
	}

	if m := bareTimeRe.FindStringSubmatch(expr); m != nil {
		hour, _ = strconv.Atoi(m[1])
		if m[2] != "" {
			minute, _ = strconv.Atoi(m[2])
		}
		if hour > 23 {
			return 0, 0, false
		}
		return inferMeridiem(hour), minute, true
	}

	if m := clockRe.FindStringSubmatch(expr); m != nil {
		hour, _ = strconv.Atoi(m[1])
		minute, _ = strconv.Atoi(m[2])
		if hour > 23 {
			return 0, 0, false
		}
		return inferMeridiem(hour), minute, true
	}

	return 0, 0, false
}

// inferMeridiem applies the bare-hour rule: 1-6 PM, 7-11 AM, 12 PM.
// Hours already in 24-hour form (0, 13-23) are left alone.
func inferMeridiem(hour int) int {
	switch {
	case hour >= 1 && hour <= 6:
		return hour + 12
	case hour == 12:
		return 12
	default:
		return hour
	}
}

func parseAnchor(expr string) (hour int, ok bool) {
	// noon and midnight are exact times, check them before the fuzzy anchors
	for _, name := range []string{"noon", "midnight", "morning", "afternoon", "evening", "night"} {
		if strings.Contains(expr, name) {
			return namedAnchors[name], true
		}
	}
	return 0, false
}

// parseDay resolves relative day anchors. "tomorrow" is now + 1 calendar
// day; "next <weekday>" is the next future occurrence; "this <weekday>" is
// this week's occurrence if still upcoming, otherwise next week's.
func parseDay(expr string, now time.Time) (time.Time, bool) {
	if strings.Contains(expr, "tomorrow") {
		return now.AddDate(0, 0, 1), true
	}
	if strings.Contains(expr, "today") || strings.Contains(expr, "tonight") {
		return now, true
	}

	if m := weekdayRe.FindStringSubmatch(expr); m != nil {
		target := weekdays[m[2]]
		delta := (int(target) - int(now.Weekday()) + 7) % 7
		if m[1] == "next" && delta == 0 {
			delta = 7
		}
		return now.AddDate(0, 0, delta), true
	}

	return time.Time{}, false
}

func parseDuration(expr string) time.Duration {
	if m := durationRe.FindStringSubmatch(expr); m != nil {
		n, _ := strconv.Atoi(m[1])
		if strings.HasPrefix(m[2], "h") {
			return time.Duration(n) * time.Hour
		}
		return time.Duration(n) * time.Minute
	}
	if strings.Contains(expr, "half an hour") || strings.Contains(expr, "half hour") {
		return shortDuration
	}
	if strings.Contains(expr, "an hour") {
		return defaultDuration
	}
	if strings.Contains(expr, "quick") || strings.Contains(expr, "brief") {
		return shortDuration
	}
	if strings.Contains(expr, "long") {
		return longDuration
	}
	return defaultDuration
}

// DayRange maps a check_calendar timeframe to a concrete [start, end)
// range: "today" is start of today to start of tomorrow, "tomorrow" the
// following calendar day, and "week" is now to now + 7 days.
func DayRange(timeframe string, now time.Time, loc *time.Location) (Range, error) {
	if loc == nil {
		loc = time.UTC
	}
	now = now.In(loc)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	switch strings.ToLower(strings.TrimSpace(timeframe)) {
	case "today":
		return Range{Start: midnight, End: midnight.AddDate(0, 0, 1)}, nil
	case "tomorrow":
		return Range{Start: midnight.AddDate(0, 0, 1), End: midnight.AddDate(0, 0, 2)}, nil
	case "week":
		return Range{Start: now, End: now.AddDate(0, 0, 7)}, nil
	default:
		return Range{}, fmt.Errorf("unknown timeframe %q", timeframe)
	}
}
