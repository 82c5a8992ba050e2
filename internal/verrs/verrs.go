// Package verrs provides structured error types for the viewhub engine.
package verrs

import (
	"strconv"
	"strings"
)

// Code identifies an engine error category.
type Code string

const (
	// CodeUnknownView indicates a view-id absent from the registry.
	CodeUnknownView Code = "unknown_view"
	// CodeNotConfigured indicates a required configuration callback is unset.
	CodeNotConfigured Code = "not_configured"
	// CodeProviderError indicates a failure inside a View's Data or Relevant call.
	CodeProviderError Code = "provider_error"
	// CodeSendError indicates a failure inside the send callback.
	CodeSendError Code = "send_error"
	// CodeQueueFull indicates the refresh queue rejected an offer because it is at capacity.
	CodeQueueFull Code = "queue_full"
	// CodeDuplicate indicates a refresh queue offer was discarded as a duplicate.
	CodeDuplicate Code = "duplicate"
	// CodeInterrupted indicates a blocking call observed the shutdown signal.
	CodeInterrupted Code = "interrupted"
	// CodeInvalid indicates invalid input supplied by a caller.
	CodeInvalid Code = "invalid_request"
	// CodeUnavailable indicates the engine cannot service the request right now.
	CodeUnavailable Code = "unavailable"
)

// E captures structured error information produced across the engine.
type E struct {
	Op      string
	Code    Code
	Message string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the operation and error code.
func New(op string, code Code, opts ...Option) *E {
	e := &E{
		Op:   strings.TrimSpace(op),
		Code: code,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	op := strings.TrimSpace(e.Op)
	if op == "" {
		op = "viewhub"
	}
	parts = append(parts, "op="+op)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// Is reports whether err carries the given code, unwrapping chained errors.
func Is(err error, code Code) bool {
	for err != nil {
		if e, ok := err.(*E); ok {
			if e.Code == code {
				return true
			}
			err = e.cause
			continue
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
