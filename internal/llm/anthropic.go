package llm

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

// AnthropicClient implements Client for the Anthropic Messages API
type AnthropicClient struct {
	client *anthropic.Client
	config *Config
}

// NewAnthropicClient creates a new Anthropic client
func NewAnthropicClient(config *Config, apiKey string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicClient{client: &client, config: config}, nil
}

func (c *AnthropicClient) params(prompt string, tier ModelTier) (anthropic.MessageNewParams, error) {
	modelName := c.config.GetModel(tier)
	if modelName == "" {
		return anthropic.MessageNewParams{}, fmt.Errorf("no model configured for tier %s", tier)
	}
	maxTokens := c.config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return anthropic.MessageNewParams{
		Model:       anthropic.Model(modelName),
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(float64(c.config.Temperature)),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}, nil
}

// GenerateContent generates text content using the specified model tier
func (c *AnthropicClient) GenerateContent(ctx context.Context, prompt string, tier ModelTier) (string, error) {
	params, err := c.params(prompt, tier)
	if err != nil {
		return "", err
	}
	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic api error: %w", err)
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}
	return sb.String(), nil
}

// StreamContent streams generated text using the specified model tier
func (c *AnthropicClient) StreamContent(ctx context.Context, prompt string, tier ModelTier) (TokenStream, error) {
	params, err := c.params(prompt, tier)
	if err != nil {
		return nil, err
	}
	return &anthropicStream{stream: c.client.Messages.NewStreaming(ctx, params)}, nil
}

// GetModel returns the model name for a tier
func (c *AnthropicClient) GetModel(tier ModelTier) string {
	return c.config.GetModel(tier)
}

// Close releases resources held by the client
func (c *AnthropicClient) Close() error {
	return nil
}

type anthropicStream struct {
	stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
}

func (s *anthropicStream) Next() (string, error) {
	for s.stream.Next() {
		event := s.stream.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				return delta.Text, nil
			}
		case anthropic.MessageStopEvent:
			return "", io.EOF
		}
	}
	if err := s.stream.Err(); err != nil {
		return "", fmt.Errorf("anthropic streaming error: %w", err)
	}
	return "", io.EOF
}

func (s *anthropicStream) Close() error {
	return s.stream.Close()
}
