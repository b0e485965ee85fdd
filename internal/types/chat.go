package types

import "github.com/go-playground/validator/v10"

// ChatIntent classifies what the user asked for
type ChatIntent string

// Chat intents
const (
	IntentQuestion        ChatIntent = "question"
	IntentScheduleRequest ChatIntent = "schedule_request"
	IntentGeneral         ChatIntent = "general"
	IntentStatus          ChatIntent = "status"
)

// ParseIntent maps model output onto a known intent; unknown values become general
func ParseIntent(s string) ChatIntent {
	switch ChatIntent(s) {
	case IntentQuestion, IntentScheduleRequest, IntentStatus:
		return ChatIntent(s)
	case "scheduling":
		return IntentScheduleRequest
	default:
		return IntentGeneral
	}
}

// ChatMessage is one turn in a conversation
type ChatMessage struct {
	Role    string `json:"role" validate:"required,oneof=user assistant"`
	Content string `json:"content"`
}

// ChatRequest is a user message with its surrounding context
type ChatRequest struct {
	Message   string        `json:"message" validate:"required"`
	History   []ChatMessage `json:"history,omitempty" validate:"dive"`
	Findings  []Finding     `json:"findings,omitempty"`
	UserEmail string        `json:"user_email,omitempty" validate:"omitempty,email"`
	VIN       string        `json:"vin,omitempty"`
}

// Validate validates the ChatRequest using the validator.
func (r *ChatRequest) Validate() error {
	validate := validator.New()
	return validate.Struct(r)
}

// ChatResponse is the assistant's reply
type ChatResponse struct {
	Message          string     `json:"message"`
	Intent           ChatIntent `json:"intent"`
	ExtractedDate    string     `json:"extracted_date,omitempty"`
	SuggestedActions []string   `json:"suggested_actions,omitempty"`
}
