// Package extract turns a free-text request into a structured task in a
// single model call. It is the non-conversational path: no function
// calling, one prompt, one JSON answer.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"

	"github.com/kalambet/dayplan/internal/composer"
	"github.com/kalambet/dayplan/internal/llm"
	"github.com/kalambet/dayplan/internal/memory"
	"github.com/kalambet/dayplan/internal/task"
	"github.com/kalambet/dayplan/internal/timeparse"
)

const extractionTemperature = 0.3

// Chatter is the model client the extractor talks to.
type Chatter interface {
	Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResult, error)
}

// Extractor asks the model for a structured task and backstops its time
// fields with the deterministic normalizer.
type Extractor struct {
	client Chatter
	model  string
	loc    *time.Location
	now    func() time.Time
}

// NewExtractor creates an Extractor using the given client, model name,
// and the user's timezone.
func NewExtractor(client Chatter, model string, loc *time.Location) *Extractor {
	if loc == nil {
		loc = time.UTC
	}
	return &Extractor{client: client, model: model, loc: loc, now: time.Now}
}

// Extract analyses the input and returns a structured task. Model output
// that fails to parse even after repair degrades to a clarification
// request rather than an error; only transport failures are errors.
func (e *Extractor) Extract(ctx context.Context, input string, history []memory.Turn) (task.ProcessedTask, error) {
	messages := composer.ComposeExtraction(history, input, e.now(), e.loc)

	result, err := e.client.Chat(ctx, llm.ChatRequest{
		Model:       e.model,
		Messages:    messages,
		Temperature: extractionTemperature,
	})
	if err != nil {
		return task.ProcessedTask{}, fmt.Errorf("extraction chat: %w", err)
	}

	parsed, ok := parseProcessedTask(result.Content)
	if !ok {
		slog.Warn("unparseable extraction output", "response", result.Content)
		return clarify("I couldn't understand the task details. Could you rephrase your request?"), nil
	}

	parsed = e.backstopTimes(parsed, input)

	validated, err := task.ValidateProcessed(parsed)
	if err != nil {
		slog.Warn("extracted task failed validation", "error", err)
		return clarify("Could you confirm when this should happen, including the time?"), nil
	}
	return validated, nil
}

// backstopTimes re-derives the time window from the raw input. The
// deterministic normalizer wins over the model whenever it can read the
// input; an ambiguous input flips the result to a clarification request.
func (e *Extractor) backstopTimes(p task.ProcessedTask, input string) task.ProcessedTask {
	if p.NeedsClarification {
		return p
	}

	r, err := timeparse.Normalize(input, e.now(), e.loc)
	if err == nil {
		p.Task.StartTime = r.Start.Format(time.RFC3339)
		p.Task.EndTime = r.End.Format(time.RFC3339)
		return p
	}

	var ambig *timeparse.AmbiguityError
	if errors.As(err, &ambig) && !modelTimesValid(p.Task) {
		p.Task.StartTime = ""
		p.Task.EndTime = ""
		p.NeedsClarification = true
		p.ClarificationQuestions = append(p.ClarificationQuestions, ambiguityQuestion(ambig.Missing))
	}
	return p
}

func modelTimesValid(t task.Task) bool {
	start, err := time.Parse(time.RFC3339, t.StartTime)
	if err != nil {
		return false
	}
	end, err := time.Parse(time.RFC3339, t.EndTime)
	if err != nil {
		return false
	}
	return end.After(start)
}

func ambiguityQuestion(missing timeparse.Dimension) string {
	switch missing {
	case timeparse.DimensionTime:
		return "What time should this be scheduled for?"
	case timeparse.DimensionDate:
		return "Which day should this be scheduled for?"
	default:
		return "When should this be scheduled?"
	}
}

func clarify(question string) task.ProcessedTask {
	return task.ProcessedTask{
		NeedsClarification:     true,
		ClarificationQuestions: []string{question},
	}
}

// parseProcessedTask decodes the model's JSON answer, stripping code
// fences and repairing malformed JSON before giving up.
func parseProcessedTask(content string) (task.ProcessedTask, bool) {
	cleaned := stripFences(content)

	var p task.ProcessedTask
	if err := json.Unmarshal([]byte(cleaned), &p); err == nil {
		return p, true
	}

	repaired, err := jsonrepair.JSONRepair(cleaned)
	if err != nil {
		return task.ProcessedTask{}, false
	}
	if err := json.Unmarshal([]byte(repaired), &p); err != nil {
		return task.ProcessedTask{}, false
	}
	return p, true
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if after, ok := strings.CutPrefix(s, "```json"); ok {
		s = after
	} else if after, ok := strings.CutPrefix(s, "```"); ok {
		s = after
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
