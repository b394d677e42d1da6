package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"iara/internal/ledger"
	"iara/internal/logging"
	"iara/internal/services"
	"iara/internal/tool"
)

// Response is the envelope written for every call.
type Response struct {
	CallID string
	Result tool.Result
}

// MarshalJSON prepends call_id to the result's own encoding.
func (r Response) MarshalJSON() ([]byte, error) {
	body, err := json.Marshal(r.Result)
	if err != nil {
		return nil, err
	}
	if r.CallID == "" {
		return body, nil
	}
	id, err := json.Marshal(r.CallID)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.Grow(len(body) + len(id) + 12)
	buf.WriteString(`{"call_id":`)
	buf.Write(id)
	if len(body) > 2 {
		buf.WriteByte(',')
	}
	buf.Write(body[1:])
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts the form produced by MarshalJSON.
func (r *Response) UnmarshalJSON(data []byte) error {
	var head struct {
		CallID string `json:"call_id"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	var res tool.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return err
	}
	r.CallID = head.CallID
	r.Result = res
	return nil
}

// Options configures a Dispatcher.
type Options struct {
	// Transport names the binding in logs and the ledger.
	Transport string
	// Ledger is optional.
	Ledger *ledger.Store
	Logger *slog.Logger
}

// Dispatcher turns decoded requests into responses.
type Dispatcher struct {
	reg       *tool.Registry
	ledger    *ledger.Store
	transport string
	logger    *slog.Logger
}

// NewDispatcher builds a dispatcher over reg.
func NewDispatcher(reg *tool.Registry, opts Options) *Dispatcher {
	return &Dispatcher{
		reg:       reg,
		ledger:    opts.Ledger,
		transport: opts.Transport,
		logger:    logging.NewComponentLogger(opts.Logger, "transport"),
	}
}

// Registry exposes the registry for catalog endpoints.
func (d *Dispatcher) Registry() *tool.Registry {
	return d.reg
}

// request is the wire form of a call. Arguments stay raw so a non-object
// value is reported as malformed rather than as a decode panic downstream.
type request struct {
	ToolID    string          `json:"tool_id"`
	Arguments json.RawMessage `json:"arguments"`
	CallID    string          `json:"call_id"`
}

// Decode parses one request body. A failure carries whatever call_id could
// be recovered so the caller can still correlate the error.
func Decode(data []byte) (tool.Call, *tool.Error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return tool.Call{}, tool.Errorf(tool.KindMalformedRequest, "empty request")
	}
	var req request
	if err := json.Unmarshal(data, &req); err != nil {
		return tool.Call{}, tool.Errorf(tool.KindMalformedRequest, "request is not a JSON object: %v", err)
	}
	call := tool.Call{ToolID: strings.TrimSpace(req.ToolID), CallID: strings.TrimSpace(req.CallID)}
	if call.ToolID == "" {
		return call, tool.Errorf(tool.KindMalformedRequest, "request is missing tool_id")
	}
	args, err := decodeArguments(req.Arguments)
	if err != nil {
		return call, err
	}
	call.Arguments = args
	return call, nil
}

func decodeArguments(raw json.RawMessage) (map[string]any, *tool.Error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, tool.Errorf(tool.KindMalformedRequest, "arguments must be a JSON object")
	}
	return args, nil
}

// Handle decodes and dispatches one request body.
func (d *Dispatcher) Handle(ctx context.Context, data []byte) Response {
	call, derr := Decode(data)
	if derr != nil {
		return d.reject(ctx, call.CallID, derr)
	}
	return d.Dispatch(ctx, call)
}

// Dispatch runs a decoded call. It never returns a zero Response.
func (d *Dispatcher) Dispatch(ctx context.Context, call tool.Call) Response {
	if call.CallID == "" {
		call.CallID = uuid.NewString()
	}
	ctx = services.WithCallID(ctx, call.CallID)
	ctx = services.WithTool(ctx, call.ToolID)
	if d.transport != "" {
		ctx = services.WithTransport(ctx, d.transport)
	}
	ctx, stats := services.WithCallStats(ctx)
	logger := logging.WithContext(ctx, d.logger)

	logger.Info("call started", logging.Int("arguments", len(call.Arguments)))
	start := time.Now()
	result := d.reg.Invoke(ctx, call)
	elapsed := time.Since(start)

	cached := stats.ServedFromCache()
	if result.OK() {
		logger.Info("call finished",
			logging.Bool("ok", true),
			logging.Bool("cached", cached),
			logging.Duration("duration", elapsed),
		)
	} else if failure := result.Err(); services.IsCanceled(ctx.Err()) {
		logger.Info("call abandoned by caller",
			logging.String("error_kind", string(failure.Kind)),
			logging.Duration("duration", elapsed),
		)
	} else {
		logging.WarnWithContext(logger, "call failed", "tool_call_failed",
			logging.String("error_kind", string(failure.Kind)),
			logging.String("error", failure.Message),
			logging.Duration("duration", elapsed),
			logging.String(logging.FieldErrorHint, errorHint(failure.Kind)),
		)
	}
	d.record(ctx, call, result, cached, start, elapsed)
	return Response{CallID: call.CallID, Result: result}
}

func (d *Dispatcher) reject(ctx context.Context, callID string, err *tool.Error) Response {
	if callID == "" {
		callID = uuid.NewString()
	}
	ctx = services.WithCallID(ctx, callID)
	if d.transport != "" {
		ctx = services.WithTransport(ctx, d.transport)
	}
	logging.WarnWithContext(logging.WithContext(ctx, d.logger), "request rejected", "malformed_request",
		logging.String("error", err.Message),
		logging.String(logging.FieldErrorHint, "send one JSON object with tool_id and an arguments object"),
	)
	return Response{CallID: callID, Result: tool.Fail(err)}
}

// record stores the call for performance_stats. Unknown tools are skipped
// so typos do not add rows for names that were never registered.
func (d *Dispatcher) record(ctx context.Context, call tool.Call, result tool.Result, cached bool, start time.Time, elapsed time.Duration) {
	if d.ledger == nil {
		return
	}
	entry := ledger.Call{
		CallID:    call.CallID,
		Tool:      call.ToolID,
		Transport: d.transport,
		OK:        result.OK(),
		Cached:    cached,
		Duration:  elapsed,
		StartedAt: start,
	}
	if failure := result.Err(); failure != nil {
		if failure.Kind == tool.KindUnknownTool {
			return
		}
		entry.ErrorKind = string(failure.Kind)
	}
	if err := d.ledger.Record(context.WithoutCancel(ctx), entry); err != nil {
		logging.WithContext(ctx, d.logger).Debug("ledger record failed", logging.Error(err))
	}
}

func errorHint(kind tool.Kind) string {
	switch kind {
	case tool.KindUnknownTool:
		return "list tools with `iara tools` or GET /tools"
	case tool.KindInvalidArguments:
		return "check the argument named in the error against the tool's input_schema"
	case tool.KindTimeout:
		return "repeat the call; the computation continues and its result will be cached"
	case tool.KindBackendFailure:
		return "run `iara check` to confirm the analysis backends are installed"
	default:
		return ""
	}
}

// encodeLine renders a response followed by a newline. A payload that
// cannot be encoded becomes a BackendFailure for the same call.
func encodeLine(resp Response) []byte {
	data, err := json.Marshal(resp)
	if err != nil {
		resp.Result = tool.Fail(tool.Errorf(tool.KindBackendFailure, "encode result: %v", err))
		data, _ = json.Marshal(resp)
	}
	return append(data, '\n')
}
