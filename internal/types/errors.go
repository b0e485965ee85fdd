package types

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind is the machine-readable classification of a failure
type ErrorKind string

// Error kinds surfaced to callers
const (
	ErrInputInvalid        ErrorKind = "input_invalid"
	ErrUpstreamTimeout     ErrorKind = "upstream_timeout"
	ErrUpstreamMalformed   ErrorKind = "upstream_malformed"
	ErrUpstreamUnavailable ErrorKind = "upstream_unavailable"
	ErrPersistencePartial  ErrorKind = "persistence_partial"
	ErrCancelled           ErrorKind = "cancelled"
	ErrInternal            ErrorKind = "internal"
)

// StageError is a classified failure of one stage
type StageError struct {
	Kind    ErrorKind `json:"kind"`
	Stage   StageID   `json:"stage,omitempty"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

func (e *StageError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *StageError) Unwrap() error {
	return e.Cause
}

// NewStageError creates a classified error
func NewStageError(kind ErrorKind, message string, cause error) *StageError {
	return &StageError{Kind: kind, Message: message, Cause: cause}
}

// KindOf classifies err. Unclassified errors are ErrInternal, and context
// errors map to ErrCancelled or ErrUpstreamTimeout.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	if errors.Is(err, context.Canceled) {
		return ErrCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrUpstreamTimeout
	}
	return ErrInternal
}

// AsStageError returns err as a *StageError attributed to stage,
// wrapping unclassified errors as ErrInternal with the original message.
func AsStageError(stage StageID, err error) *StageError {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		out := *se
		if out.Stage == "" {
			out.Stage = stage
		}
		return &out
	}
	return &StageError{Kind: KindOf(err), Stage: stage, Message: err.Error(), Cause: err}
}
