// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonathan/fleet-diagnostics/internal/llm"
)

// Stub replays scripted tokens. The zero value streams nothing and ends immediately.
type Stub struct {
	Tokens    []string                    // fragments returned in order
	Respond   func(prompt string) []string // overrides Tokens when set
	Delay     time.Duration               // pause before each fragment
	Hang      bool                        // after the last fragment, block until cancelled
	OpenDelay time.Duration               // pause before StreamContent returns
	HangOpen  bool                        // StreamContent blocks until cancelled
	OpenErr   error                       // returned by StreamContent
	StreamErr error                       // returned by Next after the last fragment

	mu      sync.Mutex
	prompts []string
	closed  atomic.Int32
}

var _ llm.Client = (*Stub)(nil)

// Chunked splits text into fragments of size bytes
func Chunked(text string, size int) []string {
	if size <= 0 {
		size = 1
	}
	var out []string
	for len(text) > size {
		out = append(out, text[:size])
		text = text[size:]
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}

func (s *Stub) tokensFor(prompt string) []string {
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.mu.Unlock()
	if s.Respond != nil {
		return s.Respond(prompt)
	}
	return s.Tokens
}

// GenerateContent returns every scripted fragment joined
func (s *Stub) GenerateContent(_ context.Context, prompt string, _ llm.ModelTier) (string, error) {
	if s.OpenErr != nil {
		return "", s.OpenErr
	}
	return strings.Join(s.tokensFor(prompt), ""), nil
}

// StreamContent returns a stream over the scripted fragments
func (s *Stub) StreamContent(ctx context.Context, prompt string, _ llm.ModelTier) (llm.TokenStream, error) {
	if s.HangOpen {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if s.OpenDelay > 0 {
		select {
		case <-time.After(s.OpenDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	return &stubStream{ctx: ctx, stub: s, tokens: s.tokensFor(prompt)}, nil
}

// GetModel returns a fixed model name
func (s *Stub) GetModel(llm.ModelTier) string { return "stub" }

// Close is a no-op
func (s *Stub) Close() error { return nil }

// Prompts returns every prompt received so far
func (s *Stub) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

// StreamsClosed returns how many streams were closed by their consumer
func (s *Stub) StreamsClosed() int {
	return int(s.closed.Load())
}

type stubStream struct {
	ctx    context.Context
	stub   *Stub
	tokens []string
	pos    int
}

func (st *stubStream) Next() (string, error) {
	if err := st.ctx.Err(); err != nil {
		return "", err
	}
	if st.pos < len(st.tokens) {
		if st.stub.Delay > 0 {
			select {
			case <-time.After(st.stub.Delay):
			case <-st.ctx.Done():
				return "", st.ctx.Err()
			}
		}
		tok := st.tokens[st.pos]
		st.pos++
		return tok, nil
	}
	if st.stub.StreamErr != nil {
		return "", st.stub.StreamErr
	}
	if st.stub.Hang {
		<-st.ctx.Done()
		return "", st.ctx.Err()
	}
	return "", io.EOF
}

func (st *stubStream) Close() error {
	st.stub.closed.Add(1)
	return nil
}
