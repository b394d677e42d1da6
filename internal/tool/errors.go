package tool

import (
	"errors"
	"fmt"

	"iara/internal/services"
)

// Kind classifies a failed call on the wire.
type Kind string

const (
	KindMalformedRequest Kind = "MalformedRequest"
	KindUnknownTool      Kind = "UnknownTool"
	KindInvalidArguments Kind = "InvalidArguments"
	KindBackendFailure   Kind = "BackendFailure"
	KindTimeout          Kind = "Timeout"
	KindSkipped          Kind = "Skipped"
)

// Error is the structured failure carried by a Result.
type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Errorf builds an Error of the given kind.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// InvalidArgument reports a bad value for a named field.
func InvalidArgument(field, format string, args ...any) *Error {
	return &Error{Kind: KindInvalidArguments, Message: fmt.Sprintf(format, args...), Field: field}
}

// KindOf classifies any error into the wire taxonomy. Errors that carry no
// recognizable marker are backend failures.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	switch {
	case services.IsTimeout(err):
		return KindTimeout
	case errors.Is(err, services.ErrValidation):
		return KindInvalidArguments
	default:
		return KindBackendFailure
	}
}

// AsError converts err into a structured Error, preserving its message.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return &Error{Kind: KindOf(err), Message: err.Error()}
}
