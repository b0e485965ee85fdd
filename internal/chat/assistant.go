// Package chat answers questions about findings through the inference service.
package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jonathan/fleet-diagnostics/internal/llm"
	"github.com/jonathan/fleet-diagnostics/internal/pipeline"
	"github.com/jonathan/fleet-diagnostics/internal/prompts"
	"github.com/jonathan/fleet-diagnostics/internal/schemas"
	"github.com/jonathan/fleet-diagnostics/internal/streaming"
	"github.com/jonathan/fleet-diagnostics/internal/types"
)

// HistoryLimit is how many earlier turns are replayed to the model
const HistoryLimit = 10

// Options configures an Assistant
type Options struct {
	Tier     llm.ModelTier
	Deadline time.Duration
	MinChunk int
	Now      func() time.Time
}

// Assistant produces conversational replies
type Assistant struct {
	client llm.Client
	opts   Options
}

// New creates an assistant. Zero options fall back to package defaults.
func New(client llm.Client, opts Options) *Assistant {
	if opts.Tier == "" {
		opts.Tier = llm.TierLite
	}
	if opts.Deadline <= 0 {
		opts.Deadline = streaming.DefaultDeadline
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Assistant{client: client, opts: opts}
}

// BuildPrompt renders the conversation prompt for req
func (a *Assistant) BuildPrompt(req types.ChatRequest) (string, error) {
	system, err := prompts.Get("chat.json", "assistant-system")
	if err != nil {
		return "", err
	}
	rules, err := prompts.Get("chat.json", "assistant-instructions")
	if err != nil {
		return "", err
	}
	background, err := findingsContext(req)
	if err != nil {
		return "", err
	}

	now := a.opts.Now().UTC()
	conversation, err := prompts.Render("chat.json", "assistant-conversation", map[string]string{
		"Context": background,
		"Today":   now.Format("Monday, January 2, 2006"),
		"Now":     now.Format(time.RFC3339),
		"History": history(req.History),
		"Message": req.Message,
	})
	if err != nil {
		return "", err
	}

	schema := llm.ChatReplySchema(system)
	schema.Instructions = append(schema.Instructions, strings.Split(rules, "\n")...)
	return llm.BuildExtractionPrompt(schema, conversation), nil
}

// Reply streams an answer to req. Token events are emitted as it arrives.
func (a *Assistant) Reply(ctx context.Context, req types.ChatRequest, emit types.EmitFunc) (*types.ChatResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, types.NewStageError(types.ErrInputInvalid, "invalid chat request", err)
	}

	prompt, err := a.BuildPrompt(req)
	if err != nil {
		return nil, types.NewStageError(types.ErrInternal, "failed to build chat prompt", err)
	}

	text, err := streaming.Consume(ctx, streaming.FromClient(a.client, prompt, a.opts.Tier), emit, streaming.Options{
		Stage:    types.StageConversational,
		Deadline: a.opts.Deadline,
		MinChunk: a.opts.MinChunk,
	})
	if err != nil {
		return nil, err
	}
	return ParseReply(text), nil
}

// Stage binds one chat request as the on-demand conversational stage
func (a *Assistant) Stage(req types.ChatRequest) pipeline.Stage {
	return pipeline.NewStage(types.StageConversational, func(ctx context.Context, _ *pipeline.State, emit types.EmitFunc) pipeline.StageResult[*types.ChatResponse] {
		emit(types.NewEvent(types.KindProgress, types.StageConversational,
			fmt.Sprintf("Answering with %d finding(s) in context", len(req.Findings))))

		resp, err := a.Reply(ctx, req, emit)
		if err != nil {
			return pipeline.Fail[*types.ChatResponse](err)
		}
		summary := map[string]any{"intent": resp.Intent}
		if resp.ExtractedDate != "" {
			summary["extracted_date"] = resp.ExtractedDate
		}
		return pipeline.Succeed(resp, summary)
	})
}

// FallbackReply is the reply shown when the assistant could not answer
func FallbackReply() *types.ChatResponse {
	msg, err := prompts.Get("chat.json", "assistant-error")
	if err != nil {
		msg = "Sorry, something went wrong."
	}
	return &types.ChatResponse{Message: msg, Intent: types.IntentGeneral}
}

type reply struct {
	Message          *string  `json:"message"`
	Response         *string  `json:"response"`
	Intent           *string  `json:"intent"`
	ExtractedDate    *string  `json:"extractedDate"`
	SuggestedActions []string `json:"suggestedActions"`
}

// ParseReply reads the model's JSON reply. Text without a usable JSON
// object is returned verbatim as a general message.
func ParseReply(text string) *types.ChatResponse {
	raw := strings.TrimSpace(text)
	fallback := &types.ChatResponse{Message: raw, Intent: types.IntentGeneral}

	payload, err := llm.ExtractJSON(text)
	if err != nil {
		return fallback
	}
	if err := schemas.Validate(schemas.ChatReply, payload); err != nil {
		return fallback
	}
	var r reply
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return fallback
	}

	resp := &types.ChatResponse{
		Message:          firstNonEmpty(r.Response, r.Message, &raw),
		Intent:           types.ParseIntent(value(r.Intent)),
		ExtractedDate:    value(r.ExtractedDate),
		SuggestedActions: r.SuggestedActions,
	}
	if strings.EqualFold(resp.ExtractedDate, "null") {
		resp.ExtractedDate = ""
	}
	return resp
}

func findingsContext(req types.ChatRequest) (string, error) {
	var sb strings.Builder
	if len(req.Findings) > 0 {
		sb.WriteString("Detected Anomalies:\n")
		for _, f := range req.Findings {
			sb.WriteString(fmt.Sprintf("- %s (%s severity): %s\n", f.Type, f.Severity, f.Description))
			if f.Recommendation != "" {
				sb.WriteString(fmt.Sprintf("  Recommendation: %s\n", f.Recommendation))
			}
		}
	}
	if req.VIN != "" {
		sb.WriteString(fmt.Sprintf("\nVehicle Information:\n- VIN: %s\n", req.VIN))
	}
	if sb.Len() == 0 {
		return prompts.Get("chat.json", "assistant-no-findings")
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// history renders the most recent turns, oldest first
func history(turns []types.ChatMessage) string {
	if len(turns) > HistoryLimit {
		turns = turns[len(turns)-HistoryLimit:]
	}
	if len(turns) == 0 {
		return "No previous conversation"
	}
	lines := make([]string, 0, len(turns))
	for _, m := range turns {
		speaker := "Assistant"
		if m.Role == "user" {
			speaker = "User"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", speaker, m.Content))
	}
	return strings.Join(lines, "\n")
}

func firstNonEmpty(values ...*string) string {
	for _, v := range values {
		if s := value(v); s != "" {
			return s
		}
	}
	return ""
}

func value(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
