package logging

import (
	"context"
	"log/slog"

	"iara/internal/services"
)

const (
	// FieldComponent is the standardized structured logging key for component names.
	FieldComponent = "component"
	// FieldCallID identifies a single tool call across transport, cache, and workflow logs.
	FieldCallID = "call_id"
	// FieldTool is the registered tool name.
	FieldTool = "tool"
	// FieldStep is the workflow step name.
	FieldStep = "step"
	// FieldTransport is the binding (pipe, http, sse) that received the call.
	FieldTransport = "transport"
	// FieldEventType categorizes warnings and errors for filtering.
	FieldEventType = "event_type"
	// FieldErrorHint suggests a next step to the operator.
	FieldErrorHint = "error_hint"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if id, ok := services.CallIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCallID, id))
	}
	if tool, ok := services.ToolFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldTool, tool))
	}
	if step, ok := services.StepFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldStep, step))
	}
	if transport, ok := services.TransportFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldTransport, transport))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return slog.New(logger.Handler().WithAttrs(fields))
}
