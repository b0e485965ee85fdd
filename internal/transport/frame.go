// Package transport relays pipeline events over a single long-lived
// response as Server-Sent Events frames and decodes them on the client.
//
// A frame is
//
//	event: <name>\n
//	data: <compact JSON>\n
//	\n
//
// Compact JSON escapes every newline inside strings, so the blank-line
// delimiter never occurs within a payload.
package transport

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/jonathan/fleet-diagnostics/internal/schemas"
	"github.com/jonathan/fleet-diagnostics/internal/types"
)

// FrameName identifies what a frame carries
type FrameName string

// Frame names
const (
	FrameStage    FrameName = "stage"    // one Event
	FrameComplete FrameName = "complete" // final aggregate of a successful run
	FrameError    FrameName = "error"    // final aggregate of a failed run
)

// Terminal reports whether the frame name closes a stream
func (n FrameName) Terminal() bool {
	return n == FrameComplete || n == FrameError
}

// Frame is one decoded transport unit
type Frame struct {
	Name FrameName
	Data json.RawMessage
}

// Event decodes a stage frame. The payload must satisfy the event schema.
func (f Frame) Event() (types.Event, error) {
	var ev types.Event
	if f.Name != FrameStage {
		return ev, fmt.Errorf("frame %q does not carry an event", f.Name)
	}
	if err := schemas.Validate(schemas.Event, string(f.Data)); err != nil {
		return ev, err
	}
	if err := json.Unmarshal(f.Data, &ev); err != nil {
		return ev, fmt.Errorf("failed to decode event: %w", err)
	}
	return ev, nil
}

// Decode unmarshals the frame data into v
func (f Frame) Decode(v any) error {
	return json.Unmarshal(f.Data, v)
}

var delimiter = []byte("\n\n")

// EncodeFrame serializes v as one frame
func EncodeFrame(name FrameName, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s frame: %w", name, err)
	}
	if bytes.Contains(data, delimiter) {
		return nil, fmt.Errorf("encoded %s frame contains the frame delimiter", name)
	}

	var buf bytes.Buffer
	buf.Grow(len(name) + len(data) + 16)
	fmt.Fprintf(&buf, "event: %s\n", name)
	fmt.Fprintf(&buf, "data: %s\n\n", data)
	return buf.Bytes(), nil
}

// EncodeEvent serializes ev as a stage frame
func EncodeEvent(ev types.Event) ([]byte, error) {
	return EncodeFrame(FrameStage, ev)
}
