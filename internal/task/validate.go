package task

import (
	"fmt"
	"time"
	"unicode/utf8"
)

const (
	maxTitleRunes       = 100
	maxDescriptionRunes = 1000
)

// ValidationKind identifies which check a candidate failed.
type ValidationKind string

const (
	EmptyTitle                    ValidationKind = "empty_title"
	TitleTooLong                  ValidationKind = "title_too_long"
	DescriptionTooLong            ValidationKind = "description_too_long"
	BadStartTime                  ValidationKind = "bad_start_time"
	BadEndTime                    ValidationKind = "bad_end_time"
	InvalidTimeOrder              ValidationKind = "invalid_time_order"
	ConfidenceOutOfRange          ValidationKind = "confidence_out_of_range"
	MissingClarificationQuestions ValidationKind = "missing_clarification_questions"
)

// ValidationError reports the first check a candidate failed.
type ValidationError struct {
	Kind    ValidationKind
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func fail(kind ValidationKind, format string, args ...any) error {
	return &ValidationError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// checkTextLimits enforces the title and description length caps. Split
// out because clarification-mode candidates skip the rest of Validate
// but still honor the caps.
func checkTextLimits(t Task) error {
	if utf8.RuneCountInString(t.Title) > maxTitleRunes {
		return fail(TitleTooLong, "title is too long (max %d characters)", maxTitleRunes)
	}
	if utf8.RuneCountInString(t.Description) > maxDescriptionRunes {
		return fail(DescriptionTooLong, "description is too long (max %d characters)", maxDescriptionRunes)
	}
	return nil
}

// Validate checks a candidate task. Checks run in a fixed order (title,
// description, start time, end time, time order) and the first violation
// wins; no partial Task is returned on failure. The returned Task has
// its times re-serialized in RFC 3339 so downstream consumers always
// see explicit offsets.
func Validate(t Task) (Task, error) {
	if t.Title == "" {
		return Task{}, fail(EmptyTitle, "title cannot be empty")
	}
	if err := checkTextLimits(t); err != nil {
		return Task{}, err
	}

	start, err := time.Parse(time.RFC3339, t.StartTime)
	if err != nil {
		return Task{}, fail(BadStartTime, "invalid start time %q", t.StartTime)
	}
	end, err := time.Parse(time.RFC3339, t.EndTime)
	if err != nil {
		return Task{}, fail(BadEndTime, "invalid end time %q", t.EndTime)
	}
	if !end.After(start) {
		return Task{}, fail(InvalidTimeOrder, "end time must be after start time")
	}

	out := t
	out.StartTime = start.Format(time.RFC3339)
	out.EndTime = end.Format(time.RFC3339)
	if out.Status == "" {
		out.Status = StatusPending
	}
	return out, nil
}

// ValidateProcessed checks a full single-shot extraction result. Task
// checks run first in the same order as Validate, then confidence range,
// then the clarification invariant. When needsClarification is set the
// task title and times are allowed to be missing, but the length caps
// still apply and the questions list must not be empty.
func ValidateProcessed(p ProcessedTask) (ProcessedTask, error) {
	if p.NeedsClarification {
		if err := checkTextLimits(p.Task); err != nil {
			return ProcessedTask{}, err
		}
		if p.Confidence < 0 || p.Confidence > 1 {
			return ProcessedTask{}, fail(ConfidenceOutOfRange, "confidence %v is outside [0,1]", p.Confidence)
		}
		if len(p.ClarificationQuestions) == 0 {
			return ProcessedTask{}, fail(MissingClarificationQuestions, "clarification requested without questions")
		}
		return p, nil
	}

	validated, err := Validate(p.Task)
	if err != nil {
		return ProcessedTask{}, err
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return ProcessedTask{}, fail(ConfidenceOutOfRange, "confidence %v is outside [0,1]", p.Confidence)
	}
	out := p
	out.Task = validated
	return out, nil
}
