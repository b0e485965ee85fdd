package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
)

// ErrStreamTruncated is returned when a stream ends without a terminal frame
var ErrStreamTruncated = errors.New("stream closed without a terminal frame")

// Decoder reassembles frames from arbitrarily split input
type Decoder struct {
	buf      []byte
	terminal bool
	skipped  int
}

// NewDecoder creates an empty decoder
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends chunk and returns every frame it completed, in order.
// A trailing partial frame stays buffered for the next call. Undecodable
// frames are logged and skipped.
func (d *Decoder) Feed(chunk []byte) []Frame {
	d.buf = append(d.buf, chunk...)
	if bytes.IndexByte(d.buf, '\r') >= 0 {
		d.buf = normalizeNewlines(d.buf)
	}

	var frames []Frame
	for {
		i := bytes.Index(d.buf, delimiter)
		if i < 0 {
			break
		}
		block := string(d.buf[:i])
		d.buf = d.buf[i+len(delimiter):]

		frame, ok, err := parseBlock(block)
		switch {
		case err != nil:
			d.skipped++
			log.Printf("[transport] skipping undecodable frame: %v", err)
			continue
		case !ok:
			continue
		case d.terminal:
			d.skipped++
			log.Printf("[transport] skipping %s frame after terminal frame", frame.Name)
			continue
		}
		if frame.Name.Terminal() {
			d.terminal = true
		}
		frames = append(frames, frame)
	}
	return frames
}

// Terminated reports whether a terminal frame has been decoded
func (d *Decoder) Terminated() bool {
	return d.terminal
}

// Skipped returns how many frames were dropped
func (d *Decoder) Skipped() int {
	return d.skipped
}

// Close ends the stream. It returns ErrStreamTruncated unless a terminal
// frame was decoded.
func (d *Decoder) Close() error {
	if len(bytes.TrimSpace(d.buf)) > 0 && !d.terminal {
		log.Printf("[transport] discarding %d bytes of partial frame", len(d.buf))
	}
	d.buf = nil
	if !d.terminal {
		return ErrStreamTruncated
	}
	return nil
}

// normalizeNewlines turns CRLF into LF, leaving a trailing CR buffered
// in case its LF arrives with the next chunk.
func normalizeNewlines(b []byte) []byte {
	trailing := len(b) > 0 && b[len(b)-1] == '\r'
	if trailing {
		b = b[:len(b)-1]
	}
	b = bytes.ReplaceAll(b, []byte("\r\n"), []byte("\n"))
	if trailing {
		b = append(b, '\r')
	}
	return b
}

// parseBlock reads one frame. ok is false for comment-only blocks.
func parseBlock(block string) (Frame, bool, error) {
	var (
		name    string
		data    []string
		sawLine bool
	)
	for _, line := range strings.Split(block, "\n") {
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		sawLine = true
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = value
		case "data":
			data = append(data, value)
		}
	}
	if !sawLine {
		return Frame{}, false, nil
	}

	frame := Frame{Name: FrameName(name), Data: []byte(strings.Join(data, "\n"))}
	switch frame.Name {
	case FrameStage:
		if _, err := frame.Event(); err != nil {
			return Frame{}, false, err
		}
	case FrameComplete, FrameError:
		if len(data) == 0 {
			return Frame{}, false, fmt.Errorf("%s frame has no data", name)
		}
		var probe any
		if err := frame.Decode(&probe); err != nil {
			return Frame{}, false, fmt.Errorf("%s frame: %w", name, err)
		}
	default:
		return Frame{}, false, fmt.Errorf("unknown frame name %q", name)
	}
	return frame, true, nil
}

// ReadStream decodes frames from r until EOF, calling fn for each.
// It returns ErrStreamTruncated if r ends before a terminal frame, or
// the first error from fn or the reader.
func ReadStream(ctx context.Context, r io.Reader, fn func(Frame) error) error {
	dec := NewDecoder()
	buf := make([]byte, 4096)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		if n > 0 {
			for _, frame := range dec.Feed(buf[:n]) {
				if ferr := fn(frame); ferr != nil {
					return ferr
				}
			}
		}
		if errors.Is(err, io.EOF) {
			return dec.Close()
		}
		if err != nil {
			if dec.Terminated() {
				return nil
			}
			return fmt.Errorf("%w: %v", ErrStreamTruncated, err)
		}
	}
}
