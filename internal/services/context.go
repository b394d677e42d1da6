package services

import "context"

type contextKey string

const (
	callIDKey    contextKey = "call_id"
	toolKey      contextKey = "tool"
	stepKey      contextKey = "step"
	transportKey contextKey = "transport"
	progressKey  contextKey = "progress"
)

// WithCallID annotates context with the identifier of the tool call being served.
func WithCallID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, callIDKey, id)
}

// CallIDFromContext extracts the call identifier if present.
func CallIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(callIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithTool annotates context with the tool name.
func WithTool(ctx context.Context, tool string) context.Context {
	if tool == "" {
		return ctx
	}
	return context.WithValue(ctx, toolKey, tool)
}

// ToolFromContext returns the tool name if present.
func ToolFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(toolKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithStep annotates context with the workflow step name.
func WithStep(ctx context.Context, step string) context.Context {
	if step == "" {
		return ctx
	}
	return context.WithValue(ctx, stepKey, step)
}

// StepFromContext returns the step name if present.
func StepFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(stepKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithTransport annotates context with the transport binding (pipe, http, sse).
func WithTransport(ctx context.Context, transport string) context.Context {
	if transport == "" {
		return ctx
	}
	return context.WithValue(ctx, transportKey, transport)
}

// TransportFromContext returns the transport binding if present.
func TransportFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(transportKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
