package nlp

import (
	"context"
	"encoding/json"
	"fmt"
)

// TaskType enumerates IntentClassification.TaskType.
type TaskType string

const (
	TaskReminder  TaskType = "reminder"
	TaskEvent     TaskType = "event"
	TaskRecurring TaskType = "recurring"
	TaskList      TaskType = "list"
	TaskQuery     TaskType = "query"
	TaskMedia     TaskType = "media"
	TaskGeneral   TaskType = "general"
)

// EntityType enumerates Entity.Type.
type EntityType string

const (
	EntityDatetime   EntityType = "datetime"
	EntityItemName   EntityType = "item_name"
	EntityCategory   EntityType = "category"
	EntityLocation   EntityType = "location"
	EntityPerson     EntityType = "person"
	EntityMediaTitle EntityType = "media_title"
	EntityQuantity   EntityType = "quantity"
	EntityRecurrence EntityType = "recurrence"
)

// Entity is one typed span the classifier extracted.
type Entity struct {
	Type  EntityType `json:"type"`
	Value string     `json:"value"`
}

// IntentClassification is the parser LLM's structured verdict on a
// free-form analytic message.
type IntentClassification struct {
	TaskType              TaskType `json:"task_type"`
	Confidence            float64  `json:"confidence"`
	Entities              []Entity `json:"entities"`
	RequiresClarification bool     `json:"requires_clarification"`
	FollowUpSuggestion    string   `json:"follow_up_suggestion,omitempty"`
}

// clarificationThreshold is the confidence floor below which the agent
// must ask a clarifying question instead of acting.
const clarificationThreshold = 0.7

// ClassifierJudge delegates the actual model call; implemented by the
// agent package against the parser profile.
type ClassifierJudge func(ctx context.Context, prompt string) (string, error)

// classifyPrompt is the instruction the parser profile is given; it must
// reply with nothing but a JSON object matching IntentClassification.
const classifyPrompt = `Classify the following message for a reminders-and-lists assistant.
Return strictly a JSON object with fields:
  task_type: one of reminder, event, recurring, list, query, media, general
  confidence: 0.0-1.0
  entities: array of {type, value} where type is one of datetime, item_name, category, location, person, media_title, quantity, recurrence
  follow_up_suggestion: optional short suggestion (e.g. propose a shopping list alongside a reminder)

Message: %q`

// Classify asks judge to classify text and parses its JSON reply.
// confidence below the threshold forces RequiresClarification, even if
// the model didn't set it explicitly.
func Classify(ctx context.Context, judge ClassifierJudge, text string) (IntentClassification, error) {
	raw, err := judge(ctx, fmt.Sprintf(classifyPrompt, text))
	if err != nil {
		return IntentClassification{}, err
	}

	var out IntentClassification
	if err := json.Unmarshal([]byte(extractJSON(raw)), &out); err != nil {
		return IntentClassification{}, fmt.Errorf("nlp: parse classification: %w", err)
	}
	if out.Confidence < clarificationThreshold {
		out.RequiresClarification = true
	}
	return out, nil
}

// extractJSON trims any prose the model wrapped the JSON object in.
func extractJSON(s string) string {
	start := -1
	depth := 0
	for i, r := range s {
		switch r {
		case '{':
			if start == -1 {
				start = i
			}
			depth++
		case '}':
			depth--
			if depth == 0 && start != -1 {
				return s[start : i+1]
			}
		}
	}
	return s
}
