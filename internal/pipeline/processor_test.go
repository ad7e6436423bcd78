package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/dayplan/internal/llm"
	"github.com/kalambet/dayplan/internal/memory"
	"github.com/kalambet/dayplan/internal/storage"
	"github.com/kalambet/dayplan/internal/task"
)

// mockChatter implements Chatter for testing.
type mockChatter struct {
	result  llm.ChatResult
	err     error
	delay   time.Duration
	lastReq llm.ChatRequest
}

func (m *mockChatter) Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResult, error) {
	m.lastReq = req
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return llm.ChatResult{}, ctx.Err()
		}
	}
	return m.result, m.err
}

func newTestProcessor(t *testing.T, mock *mockChatter, timeout time.Duration) *Processor {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewProcessor(mock, memory.New(db, 0), "gpt-4o", time.UTC, timeout)
}

func TestProcess_PlainReply(t *testing.T) {
	mock := &mockChatter{
		result: llm.ChatResult{Content: `{"message":"You have a free morning.","suggestedActions":[{"type":"schedule","description":"Schedule a new event"}]}`},
	}
	p := newTestProcessor(t, mock, 0)

	got, err := p.Process(context.Background(), "sess", "how does my morning look")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if got.State != StateReply {
		t.Errorf("State = %q, want %q", got.State, StateReply)
	}
	if got.Response.Message != "You have a free morning." {
		t.Errorf("Message = %q", got.Response.Message)
	}
	if len(got.Response.SuggestedActions) != 1 || got.Response.SuggestedActions[0].Type != task.ActionSchedule {
		t.Errorf("SuggestedActions = %+v", got.Response.SuggestedActions)
	}
}

func TestProcess_FunctionCallIsPending(t *testing.T) {
	mock := &mockChatter{
		result: llm.ChatResult{FunctionCall: &llm.FunctionCallRaw{
			Name:      task.FuncCheckCalendar,
			Arguments: `{"timeframe":"today"}`,
		}},
	}
	p := newTestProcessor(t, mock, 0)

	got, err := p.Process(context.Background(), "sess", "what's on my calendar today")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if got.State != StateActionPending {
		t.Fatalf("State = %q, want %q", got.State, StateActionPending)
	}
	if got.Response.Message != "Let me check your calendar..." {
		t.Errorf("Message = %q", got.Response.Message)
	}
	fc := got.Response.FunctionCall
	if fc == nil || fc.Name != task.FuncCheckCalendar {
		t.Fatalf("FunctionCall = %+v", fc)
	}
	if fc.GetString("timeframe") != "today" {
		t.Errorf("timeframe = %q", fc.GetString("timeframe"))
	}
}

func TestProcess_RepairsFunctionCallArguments(t *testing.T) {
	mock := &mockChatter{
		result: llm.ChatResult{FunctionCall: &llm.FunctionCallRaw{
			Name:      task.FuncScheduleEvent,
			Arguments: `{'title': 'Standup', 'startTime': '2024-02-07T14:00:00Z', 'duration': 30,}`,
		}},
	}
	p := newTestProcessor(t, mock, 0)

	got, err := p.Process(context.Background(), "sess", "schedule standup at 2pm")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if got.State != StateActionPending {
		t.Fatalf("State = %q", got.State)
	}
	fc := got.Response.FunctionCall
	if fc.GetString("title") != "Standup" {
		t.Errorf("title = %q", fc.GetString("title"))
	}
	if fc.GetNumber("duration") != 30 {
		t.Errorf("duration = %v", fc.GetNumber("duration"))
	}
}

func TestProcess_FencedResponseParsed(t *testing.T) {
	mock := &mockChatter{
		result: llm.ChatResult{Content: "```json\n{\"message\":\"All clear today.\"}\n```"},
	}
	p := newTestProcessor(t, mock, 0)

	got, err := p.Process(context.Background(), "sess", "am I busy")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if got.Response.Message != "All clear today." {
		t.Errorf("Message = %q", got.Response.Message)
	}
}

func TestProcess_UnstructuredReplyDegrades(t *testing.T) {
	mock := &mockChatter{
		result: llm.ChatResult{Content: `{"message": "You have "three" meetings`},
	}
	p := newTestProcessor(t, mock, 0)

	got, err := p.Process(context.Background(), "sess", "am I busy")
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if got.State != StateReply {
		t.Errorf("State = %q", got.State)
	}
	if got.Response.Message == "" {
		t.Error("degraded message is empty")
	}
	if strings.ContainsAny(got.Response.Message, `{}[]"'`) {
		t.Errorf("degraded message keeps JSON noise: %q", got.Response.Message)
	}
}

func TestProcess_EmptyInputRejected(t *testing.T) {
	p := newTestProcessor(t, &mockChatter{}, 0)

	_, err := p.Process(context.Background(), "sess", "   ")
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want *ValidationError", err)
	}
}

func TestProcess_OverlongInputRejected(t *testing.T) {
	p := newTestProcessor(t, &mockChatter{}, 0)

	_, err := p.Process(context.Background(), "sess", strings.Repeat("a", 501))
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want *ValidationError", err)
	}
}

func TestProcess_SuspiciousCharactersRejected(t *testing.T) {
	p := newTestProcessor(t, &mockChatter{}, 0)

	for _, input := range []string{"hello <script>", "inject {payload}"} {
		_, err := p.Process(context.Background(), "sess", input)
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("Process(%q) error = %v, want *ValidationError", input, err)
		}
	}
}

func TestProcess_Timeout(t *testing.T) {
	mock := &mockChatter{
		result: llm.ChatResult{Content: `{"message":"late"}`},
		delay:  200 * time.Millisecond,
	}
	p := newTestProcessor(t, mock, 20*time.Millisecond)

	_, err := p.Process(context.Background(), "sess", "hello")
	var terr *TimeoutError
	if !errors.As(err, &terr) {
		t.Fatalf("error = %v, want *TimeoutError", err)
	}
}

func TestProcess_ChatFailureIsProcessingError(t *testing.T) {
	mock := &mockChatter{err: fmt.Errorf("upstream unavailable")}
	p := newTestProcessor(t, mock, 0)

	_, err := p.Process(context.Background(), "sess", "hello")
	var perr *ProcessingError
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v, want *ProcessingError", err)
	}
}

func TestProcess_TurnPersistedAndReplayed(t *testing.T) {
	mock := &mockChatter{
		result: llm.ChatResult{Content: `{"message":"Noted."}`},
	}
	p := newTestProcessor(t, mock, 0)

	if _, err := p.Process(context.Background(), "sess", "remember the milk"); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if _, err := p.Process(context.Background(), "sess", "what did I say"); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	// Second call must carry the first exchange as history.
	var sawHistory bool
	for _, m := range mock.lastReq.Messages {
		if m.Role == "user" && m.Content == "remember the milk" {
			sawHistory = true
		}
	}
	if !sawHistory {
		t.Error("second turn did not include first turn as history")
	}
}

func TestProcess_FunctionsRegistered(t *testing.T) {
	mock := &mockChatter{result: llm.ChatResult{Content: `{"message":"hi"}`}}
	p := newTestProcessor(t, mock, 0)

	if _, err := p.Process(context.Background(), "sess", "hello"); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	names := make(map[string]bool)
	for _, f := range mock.lastReq.Functions {
		names[f.Name] = true
	}
	if !names[task.FuncCheckCalendar] || !names[task.FuncScheduleEvent] {
		t.Errorf("registered functions = %v", names)
	}
}
