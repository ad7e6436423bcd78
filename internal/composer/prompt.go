// Package composer assembles the message lists sent to the model: fixed
// system instructions carrying the scheduling rule table, bounded
// conversation history, and the current user turn.
package composer

import (
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/dayplan/internal/llm"
	"github.com/kalambet/dayplan/internal/memory"
)

const chatSystemPrompt = `You are an AI assistant that helps users plan and manage their tasks and schedule.
Your job is to help users understand their schedule, plan their day, and manage their time effectively.

Guidelines for responses:
1. Be conversational and helpful
2. When discussing times, be specific and clear
3. Offer suggestions when appropriate
4. Help users plan their day effectively

When users ask about their schedule or availability:
- Use the check_calendar function to fetch their calendar events

When users want to schedule something:
- Use the schedule_event function to create calendar events
- Make sure to specify the title, start time, and duration
- Add a description if provided by the user

When you reply in text rather than calling a function, answer with a JSON object:
{"message": string, "suggestedActions": [{"type": "schedule"|"modify"|"info", "description": string}]}

%s

Current time: %s
User's timezone: %s`

const extractionSystemPrompt = `You are an AI assistant that helps users schedule tasks.
Your job is to extract task information from user input and format it properly.

%s

VALIDATION:
1. If user says "at X:XX", the startTime MUST be X:XX
2. The endTime MUST be later than startTime
3. The difference between endTime and startTime MUST match the duration rules above

Always return times in ISO 8601 format with timezone offset.
If time is ambiguous or missing, set needsClarification to true and ask specific questions.

Respond with a single JSON object:
{"task": {"title": string, "description": string, "startTime": string, "endTime": string},
 "confidence": number between 0 and 1,
 "needsClarification": boolean,
 "clarificationQuestions": [string]}

Current time: %s
User's timezone: %s`

// schedulingRules is the rule table the model must follow. It mirrors
// the timeparse package rule for rule; the two must not drift apart.
const schedulingRules = `CRITICAL SCHEDULING RULES:
- ANY TIME MENTIONED IS THE START TIME, NEVER THE END TIME
- For "meeting at 2pm", startTime MUST BE 2:00 PM
- For "call at 3pm", startTime MUST BE 3:00 PM
- ALWAYS calculate endTime by adding duration to startTime

When handling dates and times:
1. Start Time Rules:
   - MENTIONED TIME = START TIME (ALWAYS)
   - If only a date is mentioned (e.g., "tomorrow"), default to 9:00 AM
   - For "morning", use 9:00 AM
   - For "afternoon", use 2:00 PM
   - For "evening", use 6:00 PM
   - For "night", use 8:00 PM

2. Time Interpretation:
   - For times without AM/PM:
     * 1-6 means PM (13:00-18:00)
     * 7-11 means AM (07:00-11:00)
     * 12 means PM (12:00)
   - "Noon" = 12:00 PM
   - "Midnight" = 00:00

3. Date Handling:
   - "Tomorrow" = next day from current time
   - "Next [day]" = next occurrence of that day
   - Always use the current time as reference point

4. Duration:
   - If no duration specified, default to 1 hour
   - "Quick" meetings = 30 minutes
   - "Brief" meetings = 30 minutes
   - "Long" meetings = 2 hours`

// Compose builds the conversational message list: system instructions,
// prior turns oldest first as alternating user/assistant messages, then
// the current user input.
func Compose(history []memory.Turn, input string, now time.Time, loc *time.Location) []llm.Message {
	msgs := make([]llm.Message, 0, 2*len(history)+2)
	msgs = append(msgs, llm.Message{
		Role:    "system",
		Content: fmt.Sprintf(chatSystemPrompt, schedulingRules, formatNow(now, loc), locationName(loc)),
	})
	for _, turn := range history {
		msgs = append(msgs,
			llm.Message{Role: "user", Content: turn.Input},
			llm.Message{Role: "assistant", Content: turn.Output},
		)
	}
	return append(msgs, llm.Message{Role: "user", Content: input})
}

// ComposeExtraction builds the single-shot extraction prompt. History is
// folded into the system message as plain context; the extraction call
// carries no conversational persona.
func ComposeExtraction(history []memory.Turn, input string, now time.Time, loc *time.Location) []llm.Message {
	system := fmt.Sprintf(extractionSystemPrompt, schedulingRules, formatNow(now, loc), locationName(loc))
	if len(history) > 0 {
		var b strings.Builder
		b.WriteString("\n\nPrevious conversation:\n")
		for _, turn := range history {
			fmt.Fprintf(&b, "user: %s\nassistant: %s\n", turn.Input, turn.Output)
		}
		system += b.String()
	}
	return []llm.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: input},
	}
}

func formatNow(now time.Time, loc *time.Location) string {
	if loc != nil {
		now = now.In(loc)
	}
	return now.Format("Monday, January 2, 2006 3:04 PM (-07:00)")
}

func locationName(loc *time.Location) string {
	if loc == nil {
		return time.UTC.String()
	}
	return loc.String()
}
