package ingestion

import "fmt"

// ParseError describes why an upload could not be read as a table
type ParseError struct {
	Line    int
	Message string
	Cause   error
}

func (e *ParseError) Error() string {
	msg := e.Message
	if e.Line > 0 {
		msg = fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("CSV parse error: %s: %v", msg, e.Cause)
	}
	return fmt.Sprintf("CSV parse error: %s", msg)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}
