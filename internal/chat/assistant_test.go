package chat

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/fleet-diagnostics/internal/llm/llmtest"
	"github.com/jonathan/fleet-diagnostics/internal/pipeline"
	"github.com/jonathan/fleet-diagnostics/internal/types"
)

var fixedNow = time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

func chatRequest(msg string) types.ChatRequest {
	return types.ChatRequest{
		Message: msg,
		Findings: []types.Finding{{
			Type:           "High Engine Temperature",
			Severity:       types.SeverityCritical,
			Description:    "410F exceeds 220F",
			Recommendation: "Stop driving",
		}},
		UserEmail: "ops@example.com",
		VIN:       "1HGCM82633A004352",
	}
}

func TestBuildPrompt(t *testing.T) {
	a := New(&llmtest.Stub{}, Options{Now: func() time.Time { return fixedNow }})
	req := chatRequest("Can I still drive it?")
	for i := 0; i < 12; i++ {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		req.History = append(req.History, types.ChatMessage{Role: role, Content: fmt.Sprintf("turn %d", i)})
	}

	prompt, err := a.BuildPrompt(req)

	require.NoError(t, err)
	assert.Contains(t, prompt, "- High Engine Temperature (critical severity): 410F exceeds 220F")
	assert.Contains(t, prompt, "Recommendation: Stop driving")
	assert.Contains(t, prompt, "VIN: 1HGCM82633A004352")
	assert.Contains(t, prompt, "Current Date: Wednesday, October 14, 2026")
	assert.Contains(t, prompt, "User: Can I still drive it?")
	assert.NotContains(t, prompt, "turn 1\n")
	assert.Contains(t, prompt, "User: turn 2")
	assert.Contains(t, prompt, "Assistant: turn 11")
	assert.Contains(t, prompt, "extractedDate")
	assert.Contains(t, prompt, "- Explain technical terms when necessary.")
}

func TestBuildPrompt_NoContext(t *testing.T) {
	prompt, err := New(&llmtest.Stub{}, Options{}).BuildPrompt(types.ChatRequest{Message: "hello"})

	require.NoError(t, err)
	assert.Contains(t, prompt, "No anomalies detected yet.")
	assert.Contains(t, prompt, "No previous conversation")
}

func TestParseReply(t *testing.T) {
	tests := []struct {
		name string
		text string
		want types.ChatResponse
	}{
		{
			name: "fenced",
			text: "```json\n{\"message\": \"Booked soon.\", \"intent\": \"schedule_request\", \"extractedDate\": \"2026-10-20T10:00:00Z\"}\n```",
			want: types.ChatResponse{Message: "Booked soon.", Intent: types.IntentScheduleRequest, ExtractedDate: "2026-10-20T10:00:00Z"},
		},
		{
			name: "response field wins",
			text: `{"response": "from response", "message": "from message", "intent": "question", "suggestedActions": ["Schedule service"]}`,
			want: types.ChatResponse{Message: "from response", Intent: types.IntentQuestion, SuggestedActions: []string{"Schedule service"}},
		},
		{
			name: "legacy scheduling intent and null date",
			text: `Sure! {"message": "When works?", "intent": "scheduling", "extractedDate": "null"}`,
			want: types.ChatResponse{Message: "When works?", Intent: types.IntentScheduleRequest},
		},
		{
			name: "plain text",
			text: "  Your brakes look fine.  ",
			want: types.ChatResponse{Message: "Your brakes look fine.", Intent: types.IntentGeneral},
		},
		{
			name: "wrong types fall back to raw",
			text: `{"message": 42}`,
			want: types.ChatResponse{Message: `{"message": 42}`, Intent: types.IntentGeneral},
		},
		{
			name: "json without message uses raw text",
			text: `{"intent": "status"}`,
			want: types.ChatResponse{Message: `{"intent": "status"}`, Intent: types.IntentStatus},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, *ParseReply(tt.text))
		})
	}
}

func TestReply_Streams(t *testing.T) {
	body := `{"message": "Please book a service soon. It is critical.", "intent": "question"}`
	stub := &llmtest.Stub{Tokens: llmtest.Chunked(body, 4)}
	var tokens strings.Builder

	resp, err := New(stub, Options{MinChunk: 12}).Reply(context.Background(), chatRequest("Is it bad?"), func(ev types.Event) {
		assert.Equal(t, types.StageConversational, ev.Stage)
		tokens.WriteString(ev.Message)
	})

	require.NoError(t, err)
	assert.Equal(t, types.IntentQuestion, resp.Intent)
	assert.Equal(t, body, tokens.String())
}

func TestReply_InvalidRequest(t *testing.T) {
	stub := &llmtest.Stub{}
	_, err := New(stub, Options{}).Reply(context.Background(), types.ChatRequest{}, nil)

	assert.Equal(t, types.ErrInputInvalid, types.KindOf(err))
	assert.Empty(t, stub.Prompts())
}

func TestReply_Timeout(t *testing.T) {
	stub := &llmtest.Stub{Hang: true}

	_, err := New(stub, Options{Deadline: 20 * time.Millisecond}).Reply(context.Background(), chatRequest("hi"), nil)

	assert.Equal(t, types.ErrUpstreamTimeout, types.KindOf(err))
}

func TestStage(t *testing.T) {
	stub := &llmtest.Stub{Tokens: []string{`{"message": "Booking now.", "intent": "schedule_request", "extractedDate": "2026-10-20"}`}}
	o := pipeline.NewWithState(pipeline.Stages{
		types.StageConversational: New(stub, Options{}).Stage(chatRequest("Book me on the 20th")),
	}, nil, pipeline.NewState(uuid.New()))

	v, err := o.RunStage(context.Background(), types.StageConversational)

	require.NoError(t, err)
	resp := v.(*types.ChatResponse)
	assert.Equal(t, "2026-10-20", resp.ExtractedDate)
	assert.Equal(t, "2026-10-20", o.State().Summary(types.StageConversational)["extracted_date"])
	assert.NoError(t, types.ValidateSequence(o.Events()))
}

func TestFallbackReply(t *testing.T) {
	r := FallbackReply()
	assert.Contains(t, r.Message, "rephrase")
	assert.Equal(t, types.IntentGeneral, r.Intent)
}
