package task

import "encoding/json"

// Task statuses.
const (
	StatusPending   = "pending"
	StatusScheduled = "scheduled"
	StatusCompleted = "completed"
)

// Suggested action types.
const (
	ActionSchedule = "schedule"
	ActionModify   = "modify"
	ActionInfo     = "info"
)

// Callable function names the model may select.
const (
	FuncCheckCalendar      = "check_calendar"
	FuncScheduleEvent      = "schedule_event"
	FuncSuggestMeetingTime = "suggest_meeting_time"
)

// Task is a calendar task extracted from user intent. Times are RFC 3339
// instants with explicit offsets. ID is assigned by the external calendar
// once the task is persisted.
type Task struct {
	ID          string `json:"id,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	StartTime   string `json:"startTime"`
	EndTime     string `json:"endTime"`
	Status      string `json:"status"`
}

// ProcessedTask is the legacy single-shot extraction result: a candidate
// task plus the model's confidence and any clarification it needs before
// the task can be scheduled.
type ProcessedTask struct {
	Task                   Task     `json:"task"`
	Confidence             float64  `json:"confidence"`
	NeedsClarification     bool     `json:"needsClarification"`
	ClarificationQuestions []string `json:"clarificationQuestions,omitempty"`
}

// SuggestedAction is a follow-up the UI can offer after a reply.
type SuggestedAction struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

// FunctionCall names a callable action the model selected instead of
// replying in text. It exists only between the orchestrator's output and
// the executor's consumption within a single request.
type FunctionCall struct {
	Name      string                     `json:"name"`
	Arguments map[string]json.RawMessage `json:"arguments"`
}

// GetString returns the string value of an argument, or "" if absent or
// not a JSON string.
func (fc FunctionCall) GetString(key string) string {
	raw, ok := fc.Arguments[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// GetNumber returns the numeric value of an argument, or 0 if absent or
// not a JSON number.
func (fc FunctionCall) GetNumber(key string) float64 {
	raw, ok := fc.Arguments[key]
	if !ok {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0
	}
	return f
}

// ChatResponse is one conversational reply: a message for the user, any
// suggested follow-up actions, and an optional pending function call the
// caller is expected to execute.
type ChatResponse struct {
	Message          string            `json:"message"`
	SuggestedActions []SuggestedAction `json:"suggestedActions,omitempty"`
	FunctionCall     *FunctionCall     `json:"functionCall,omitempty"`
}
