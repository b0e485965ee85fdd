package llm

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
)

// OpenAIClient implements Client for the OpenAI Chat Completions API
type OpenAIClient struct {
	client *openai.Client
	config *Config
}

// NewOpenAIClient creates a new OpenAI client
func NewOpenAIClient(config *Config, apiKey string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &OpenAIClient{client: &client, config: config}, nil
}

func (c *OpenAIClient) params(prompt string, tier ModelTier) (openai.ChatCompletionNewParams, error) {
	modelName := c.config.GetModel(tier)
	if modelName == "" {
		return openai.ChatCompletionNewParams{}, fmt.Errorf("no model configured for tier %s", tier)
	}
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(modelName),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(float64(c.config.Temperature)),
	}
	if c.config.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(c.config.MaxTokens)
	}
	return params, nil
}

// GenerateContent generates text content using the specified model tier
func (c *OpenAIClient) GenerateContent(ctx context.Context, prompt string, tier ModelTier) (string, error) {
	params, err := c.params(prompt, tier)
	if err != nil {
		return "", err
	}
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai api error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

// StreamContent streams generated text using the specified model tier
func (c *OpenAIClient) StreamContent(ctx context.Context, prompt string, tier ModelTier) (TokenStream, error) {
	params, err := c.params(prompt, tier)
	if err != nil {
		return nil, err
	}
	return &openAIStream{stream: c.client.Chat.Completions.NewStreaming(ctx, params)}, nil
}

// GetModel returns the model name for a tier
func (c *OpenAIClient) GetModel(tier ModelTier) string {
	return c.config.GetModel(tier)
}

// Close releases resources held by the client
func (c *OpenAIClient) Close() error {
	return nil
}

type openAIStream struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
}

func (s *openAIStream) Next() (string, error) {
	for s.stream.Next() {
		chunk := s.stream.Current()
		var sb strings.Builder
		for _, choice := range chunk.Choices {
			sb.WriteString(choice.Delta.Content)
		}
		if sb.Len() > 0 {
			return sb.String(), nil
		}
	}
	if err := s.stream.Err(); err != nil {
		return "", fmt.Errorf("openai streaming error: %w", err)
	}
	return "", io.EOF
}

func (s *openAIStream) Close() error {
	return s.stream.Close()
}
