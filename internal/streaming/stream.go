// Package streaming consumes token streams from the inference service under a
// hard deadline, relaying partial output as token events.
package streaming

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/jonathan/fleet-diagnostics/internal/llm"
	"github.com/jonathan/fleet-diagnostics/internal/types"
)

// DefaultDeadline bounds a consumption when Options.Deadline is unset
const DefaultDeadline = 30 * time.Second

// Opener starts a token stream bound to ctx. Cancelling ctx must abandon the stream.
type Opener func(ctx context.Context) (llm.TokenStream, error)

// Options configures one consumption
type Options struct {
	Stage    types.StageID
	Deadline time.Duration
	MinChunk int
}

// FromClient returns an Opener that streams prompt from client at tier
func FromClient(client llm.Client, prompt string, tier llm.ModelTier) Opener {
	return func(ctx context.Context) (llm.TokenStream, error) {
		return client.StreamContent(ctx, prompt, tier)
	}
}

// Consume reads the stream opened by open to completion and returns the
// accumulated text. Token events are emitted from the calling goroutine only,
// so emit is never called after Consume returns.
//
// If the deadline elapses first the stream is cancelled and closed, and the
// error is an upstream_timeout StageError. Cancelling ctx yields cancelled.
// Open and read failures are upstream_unavailable. The deadline also
// covers opening the stream.
func Consume(ctx context.Context, open Opener, emit types.EmitFunc, opts Options) (string, error) {
	deadline := opts.Deadline
	if deadline <= 0 {
		deadline = DefaultDeadline
	}

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := openRaced(ctx, streamCtx, cancel, open, timer.C, deadline)
	if err != nil {
		return "", err
	}

	var closeOnce sync.Once
	closeStream := func() {
		closeOnce.Do(func() { _ = stream.Close() })
	}
	defer closeStream()

	fragments := make(chan string)
	done := make(chan error, 1)
	go read(streamCtx, stream, fragments, done)

	var buf strings.Builder
	chunker := NewChunker(opts.MinChunk)
	relay := func(piece string) {
		if emit != nil && piece != "" {
			emit(types.NewEvent(types.KindToken, opts.Stage, piece))
		}
	}

	for {
		select {
		case frag := <-fragments:
			buf.WriteString(frag)
			for _, piece := range chunker.Push(frag) {
				relay(piece)
			}
		case err := <-done:
			if err != nil {
				if ctx.Err() != nil {
					return buf.String(), contextError(ctx)
				}
				return buf.String(), types.NewStageError(types.ErrUpstreamUnavailable, "inference stream failed", err)
			}
			relay(chunker.Flush())
			return buf.String(), nil
		case <-timer.C:
			cancel()
			closeStream()
			return buf.String(), timeoutError(deadline)
		case <-ctx.Done():
			cancel()
			closeStream()
			return buf.String(), contextError(ctx)
		}
	}
}

// openRaced runs open under the same deadline as the reads. A stream that
// opens after the race is lost is closed once it arrives.
func openRaced(ctx, streamCtx context.Context, cancel context.CancelFunc, open Opener, expired <-chan time.Time, deadline time.Duration) (llm.TokenStream, error) {
	type opened struct {
		stream llm.TokenStream
		err    error
	}
	result := make(chan opened, 1)
	go func() {
		stream, err := open(streamCtx)
		result <- opened{stream, err}
	}()

	abandon := func() {
		cancel()
		go func() {
			if o := <-result; o.stream != nil {
				_ = o.stream.Close()
			}
		}()
	}

	select {
	case o := <-result:
		if o.err != nil {
			if ctx.Err() != nil {
				return nil, contextError(ctx)
			}
			return nil, types.NewStageError(types.ErrUpstreamUnavailable, "failed to open inference stream", o.err)
		}
		return o.stream, nil
	case <-expired:
		abandon()
		return nil, timeoutError(deadline)
	case <-ctx.Done():
		abandon()
		return nil, contextError(ctx)
	}
}

// read pulls fragments until end of stream. It sends on fragments unbuffered,
// so done is only signalled after every fragment has been received.
func read(ctx context.Context, stream llm.TokenStream, fragments chan<- string, done chan<- error) {
	for {
		frag, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			done <- err
			return
		}
		select {
		case fragments <- frag:
		case <-ctx.Done():
			done <- ctx.Err()
			return
		}
	}
}

func timeoutError(deadline time.Duration) error {
	return types.NewStageError(types.ErrUpstreamTimeout,
		fmt.Sprintf("inference did not finish within %s", deadline), context.DeadlineExceeded)
}

func contextError(ctx context.Context) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewStageError(types.ErrUpstreamTimeout, "request deadline exceeded", err)
	}
	return types.NewStageError(types.ErrCancelled, "inference cancelled", err)
}
