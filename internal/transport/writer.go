package transport

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonathan/fleet-diagnostics/internal/types"
)

// Writer defaults
const (
	DefaultQueueSize    = 1024
	DefaultWriteTimeout = 10 * time.Second
	DefaultDrainTimeout = 15 * time.Second
)

// ErrDrainTimeout is returned by Close when queued frames were not written in time
var ErrDrainTimeout = errors.New("timed out draining stream")

// errQueueFull marks a receiver too slow to keep up
var errQueueFull = errors.New("frame queue full")

// WriterOptions configures a StreamWriter
type WriterOptions struct {
	QueueSize    int
	WriteTimeout time.Duration
	DrainTimeout time.Duration
	// SetWriteDeadline bounds each write when set, typically from
	// http.ResponseController.
	SetWriteDeadline func(time.Time) error
}

// StreamWriter serializes events onto one connection. Emit never blocks:
// frames go onto a bounded queue drained in order by a single goroutine.
// The first write failure or queue overflow marks the connection dead and
// every later frame is discarded.
type StreamWriter struct {
	w     io.Writer
	flush func()
	opts  WriterOptions

	mu     sync.Mutex
	closed bool
	queue  chan []byte
	done   chan struct{}

	dead     atomic.Bool
	deadOnce sync.Once
	written  atomic.Int64
}

// NewStreamWriter starts a writer over w. If w is an http.Flusher every
// frame is flushed as soon as it is written.
func NewStreamWriter(w io.Writer, opts WriterOptions) *StreamWriter {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = DefaultDrainTimeout
	}
	s := &StreamWriter{
		w:     w,
		flush: func() {},
		opts:  opts,
		queue: make(chan []byte, opts.QueueSize),
		done:  make(chan struct{}),
	}
	if f, ok := w.(http.Flusher); ok {
		s.flush = f.Flush
	}
	go s.drain()
	return s
}

// PrepareSSE sets the event-stream response headers
func PrepareSSE(w http.ResponseWriter) error {
	if _, ok := w.(http.Flusher); !ok {
		return fmt.Errorf("streaming not supported")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	return nil
}

// Emit queues ev as a stage frame. It is safe to use as a types.EmitFunc.
func (s *StreamWriter) Emit(ev types.Event) {
	frame, err := EncodeEvent(ev)
	if err != nil {
		log.Printf("[transport] dropping %s/%s event: %v", ev.Stage, ev.Kind, err)
		return
	}
	s.enqueue(frame)
}

func (s *StreamWriter) enqueue(frame []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.dead.Load() {
		return
	}
	select {
	case s.queue <- frame:
	default:
		s.markDead(errQueueFull)
	}
}

// Close writes the terminal frame and waits for the queue to drain.
// Calling Close more than once is a no-op returning nil.
func (s *StreamWriter) Close(name FrameName, v any) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	frame, err := EncodeFrame(name, v)
	if err != nil {
		log.Printf("[transport] %v", err)
		frame, _ = EncodeFrame(FrameError, map[string]any{
			"success":    false,
			"message":    "failed to encode final result",
			"error_kind": types.ErrInternal,
		})
	}

	timer := time.NewTimer(s.opts.DrainTimeout)
	defer timer.Stop()

	select {
	case s.queue <- frame:
	case <-timer.C:
		s.markDead(ErrDrainTimeout)
		close(s.queue)
		return ErrDrainTimeout
	}
	close(s.queue)

	select {
	case <-s.done:
	case <-timer.C:
		s.markDead(ErrDrainTimeout)
		return ErrDrainTimeout
	}
	if s.dead.Load() {
		return fmt.Errorf("stream closed before every frame was written")
	}
	return nil
}

// Alive reports whether frames are still being delivered
func (s *StreamWriter) Alive() bool {
	return !s.dead.Load()
}

// Written returns how many frames reached the connection
func (s *StreamWriter) Written() int64 {
	return s.written.Load()
}

func (s *StreamWriter) drain() {
	defer close(s.done)
	for frame := range s.queue {
		if s.dead.Load() {
			continue
		}
		if err := s.write(frame); err != nil {
			s.markDead(err)
			continue
		}
		s.written.Add(1)
	}
}

func (s *StreamWriter) write(frame []byte) error {
	if s.opts.SetWriteDeadline != nil {
		if err := s.opts.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
	}
	if _, err := s.w.Write(frame); err != nil {
		return err
	}
	s.flush()
	return nil
}

func (s *StreamWriter) markDead(err error) {
	s.dead.Store(true)
	s.deadOnce.Do(func() {
		log.Printf("[transport] connection marked dead, discarding further frames: %v", err)
	})
}
