// Package pipeline orchestrates one conversational turn: input
// validation, history loading, the model call with registered calendar
// functions, and tolerant parsing of whatever the model answers.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"github.com/tidwall/gjson"

	"github.com/kalambet/dayplan/internal/composer"
	"github.com/kalambet/dayplan/internal/llm"
	"github.com/kalambet/dayplan/internal/memory"
	"github.com/kalambet/dayplan/internal/task"
)

const (
	// DefaultTimeout bounds a whole turn, model call included.
	DefaultTimeout = 30 * time.Second

	maxInputLength   = 500
	chatTemperature  = 0.7
	interimCalendar  = "Let me check your calendar..."
	interimSchedule  = "Let me add that to your calendar..."
	fallbackResponse = "I'm sorry, I couldn't process that request. Please try again."
)

// TurnState tells the caller what a finished turn needs next.
type TurnState string

const (
	// StateReply is a plain conversational answer; nothing left to do.
	StateReply TurnState = "reply"

	// StateActionPending means the model selected a calendar action that
	// still has to be executed against the user's calendar.
	StateActionPending TurnState = "action_pending"

	// StateActionExecuted marks a result produced by running a pending
	// action; the executor sets it, never the processor.
	StateActionExecuted TurnState = "action_executed"
)

// TurnResult is the outcome of one processed turn.
type TurnResult struct {
	State    TurnState
	Response task.ChatResponse
}

// ValidationError rejects input before any model call. The message is
// safe to show to the user.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// TimeoutError signals the turn exceeded its processing deadline.
type TimeoutError struct {
	Limit time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("processing exceeded %s", e.Limit)
}

// ProcessingError wraps a model or parsing failure whose detail must not
// reach the user.
type ProcessingError struct {
	Err error
}

func (e *ProcessingError) Error() string { return fmt.Sprintf("processing turn: %v", e.Err) }
func (e *ProcessingError) Unwrap() error { return e.Err }

// Chatter is the model client the processor talks to.
type Chatter interface {
	Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResult, error)
}

// Processor runs conversational turns.
type Processor struct {
	client  Chatter
	mem     *memory.Store
	model   string
	loc     *time.Location
	timeout time.Duration
	now     func() time.Time
}

// NewProcessor wires a processor. A nil location defaults to UTC and a
// non-positive timeout to DefaultTimeout.
func NewProcessor(client Chatter, mem *memory.Store, model string, loc *time.Location, timeout time.Duration) *Processor {
	if loc == nil {
		loc = time.UTC
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Processor{
		client:  client,
		mem:     mem,
		model:   model,
		loc:     loc,
		timeout: timeout,
		now:     time.Now,
	}
}

var invalidInputRe = regexp.MustCompile(`[<>{}]`)

// Process handles one user turn for a session. It returns a
// *ValidationError for rejectable input, a *TimeoutError when the model
// does not answer in time, and a *ProcessingError for everything else
// that goes wrong downstream of validation.
func (p *Processor) Process(ctx context.Context, sessionID, input string) (TurnResult, error) {
	if err := validateInput(input); err != nil {
		return TurnResult{}, err
	}

	history, err := p.mem.History(sessionID)
	if err != nil {
		slog.Warn("loading conversation history failed", "session", sessionID, "error", err)
		history = nil
	}

	result, err := p.chatWithDeadline(ctx, history, input)
	if err != nil {
		return TurnResult{}, err
	}

	turn, raw := p.interpret(result)
	if err := p.mem.Append(sessionID, input, raw); err != nil {
		slog.Warn("persisting turn failed", "session", sessionID, "error", err)
	}
	return turn, nil
}

// Functions returns the calendar actions registered with the model on
// every conversational call.
func Functions() []llm.FunctionDef {
	return []llm.FunctionDef{
		{
			Name:        task.FuncCheckCalendar,
			Description: "Check the user's calendar for events in a given timeframe",
			Parameters: llm.Schema{
				Type: "object",
				Properties: map[string]llm.SchemaProperty{
					"timeframe": {
						Type:        "string",
						Description: "The timeframe to check",
						Enum:        []string{"today", "tomorrow", "week"},
					},
				},
				Required: []string{"timeframe"},
			},
		},
		{
			Name:        task.FuncScheduleEvent,
			Description: "Schedule a new event on the user's calendar",
			Parameters: llm.Schema{
				Type: "object",
				Properties: map[string]llm.SchemaProperty{
					"title":       {Type: "string", Description: "Event title"},
					"description": {Type: "string", Description: "Optional event details"},
					"startTime":   {Type: "string", Description: "Event start in ISO 8601 format with timezone offset"},
					"duration":    {Type: "number", Description: "Event length in minutes"},
				},
				Required: []string{"title", "startTime", "duration"},
			},
		},
	}
}

func validateInput(input string) error {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return &ValidationError{Message: "Text input is required"}
	}
	if len([]rune(trimmed)) > maxInputLength {
		return &ValidationError{Message: fmt.Sprintf("Input must be %d characters or fewer", maxInputLength)}
	}
	if invalidInputRe.MatchString(trimmed) {
		return &ValidationError{Message: "Input contains invalid characters"}
	}
	return nil
}

// chatWithDeadline races the model call against the turn deadline. The
// call's context is cancelled when the deadline fires so the request
// does not linger.
func (p *Processor) chatWithDeadline(ctx context.Context, history []memory.Turn, input string) (llm.ChatResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	type chatOutcome struct {
		result llm.ChatResult
		err    error
	}
	done := make(chan chatOutcome, 1)
	go func() {
		result, err := p.client.Chat(callCtx, llm.ChatRequest{
			Model:       p.model,
			Messages:    composer.Compose(history, input, p.now(), p.loc),
			Functions:   Functions(),
			Temperature: chatTemperature,
		})
		done <- chatOutcome{result, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			if callCtx.Err() == context.DeadlineExceeded {
				return llm.ChatResult{}, &TimeoutError{Limit: p.timeout}
			}
			return llm.ChatResult{}, &ProcessingError{Err: out.err}
		}
		return out.result, nil
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return llm.ChatResult{}, ctx.Err()
		}
		return llm.ChatResult{}, &TimeoutError{Limit: p.timeout}
	}
}

// interpret turns the model's answer into a TurnResult plus the raw text
// stored as the assistant side of the turn.
func (p *Processor) interpret(result llm.ChatResult) (TurnResult, string) {
	if result.FunctionCall != nil {
		fc, err := parseFunctionCall(result.FunctionCall)
		if err != nil {
			slog.Warn("unparseable function call arguments",
				"function", result.FunctionCall.Name, "error", err)
			return TurnResult{
				State:    StateReply,
				Response: task.ChatResponse{Message: fallbackResponse},
			}, fallbackResponse
		}

		msg := interimCalendar
		if fc.Name == task.FuncScheduleEvent {
			msg = interimSchedule
		}
		return TurnResult{
			State: StateActionPending,
			Response: task.ChatResponse{
				Message:      msg,
				FunctionCall: &fc,
			},
		}, msg
	}

	resp := parseChatResponse(result.Content)
	return TurnResult{State: StateReply, Response: resp}, result.Content
}

func parseFunctionCall(raw *llm.FunctionCallRaw) (task.FunctionCall, error) {
	args := raw.Arguments
	if args == "" {
		args = "{}"
	}

	var parsed map[string]json.RawMessage
	if err := json.Unmarshal([]byte(args), &parsed); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(args)
		if repairErr != nil {
			return task.FunctionCall{}, fmt.Errorf("repairing arguments: %w", repairErr)
		}
		if err := json.Unmarshal([]byte(repaired), &parsed); err != nil {
			return task.FunctionCall{}, fmt.Errorf("decoding arguments: %w", err)
		}
	}
	return task.FunctionCall{Name: raw.Name, Arguments: parsed}, nil
}

// parseChatResponse decodes the model's structured text answer and falls
// back to a cleaned plain-text message when the shape never appears,
// even after repair.
func parseChatResponse(content string) task.ChatResponse {
	cleaned := stripFences(content)

	candidate := cleaned
	if !gjson.Get(candidate, "message").Exists() {
		repaired, err := jsonrepair.JSONRepair(candidate)
		if err == nil && gjson.Get(repaired, "message").Exists() {
			candidate = repaired
		} else {
			return task.ChatResponse{Message: stripNoise(content)}
		}
	}

	var resp task.ChatResponse
	if err := json.Unmarshal([]byte(candidate), &resp); err != nil || resp.Message == "" {
		return task.ChatResponse{Message: stripNoise(content)}
	}
	return resp
}

var (
	fenceRe = regexp.MustCompile("```json\n?|```")
	noiseRe = regexp.MustCompile(`[{}\[\]"']`)
)

func stripFences(s string) string {
	return strings.TrimSpace(fenceRe.ReplaceAllString(s, ""))
}

// stripNoise drops structural punctuation from an answer that was meant
// to be JSON but never parsed, leaving readable text.
func stripNoise(s string) string {
	return strings.TrimSpace(noiseRe.ReplaceAllString(stripFences(s), ""))
}
