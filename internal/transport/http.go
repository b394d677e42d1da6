package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"iara/internal/logging"
	"iara/internal/tool"
)

// HTTPOptions configures the HTTP and SSE bindings.
type HTTPOptions struct {
	MaxRequestBytes int64
	Version         string
	// Streaming answers call endpoints with server-sent events instead of a
	// single JSON body.
	Streaming bool
	// KeepAlive is the SSE comment interval. Zero uses 15s.
	KeepAlive time.Duration
	Logger    *slog.Logger
}

type httpBinding struct {
	d         *Dispatcher
	maxBytes  int64
	version   string
	streaming bool
	keepAlive time.Duration
	logger    *slog.Logger
}

// NewHandler returns the HTTP surface:
//
//	GET  /healthz      liveness and version
//	GET  /tools        catalog with input schemas
//	POST /call         {"tool_id","arguments","call_id"}
//	POST /tools/{id}   {"arguments","call_id"}; an empty body means no arguments
func NewHandler(d *Dispatcher, opts HTTPOptions) http.Handler {
	if opts.MaxRequestBytes <= 0 {
		opts.MaxRequestBytes = 1 << 20
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 15 * time.Second
	}
	component := "http"
	if opts.Streaming {
		component = "sse"
	}
	h := &httpBinding{
		d:         d,
		maxBytes:  opts.MaxRequestBytes,
		version:   opts.Version,
		streaming: opts.Streaming,
		keepAlive: opts.KeepAlive,
		logger:    logging.NewComponentLogger(opts.Logger, component),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.HandleFunc("GET /tools", h.handleCatalog)
	mux.HandleFunc("POST /call", h.handleCall)
	mux.HandleFunc("POST /tools/{id}", h.handleToolCall)
	return mux
}

// Serve runs an HTTP server on ln until ctx ends, then shuts it down within
// grace. WriteTimeout stays zero because calls and event streams can hold a
// response open for as long as a separation runs.
func Serve(ctx context.Context, ln net.Listener, handler http.Handler, grace time.Duration, logger *slog.Logger) error {
	logger = logging.NewComponentLogger(logger, "http-server")
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	logger.Info("listening", logging.String("address", ln.Addr().String()))

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	if grace <= 0 {
		grace = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.WarnWithContext(logger, "graceful shutdown incomplete", "http_shutdown_timeout",
			logging.Error(err),
			logging.Duration("grace", grace),
			logging.String(logging.FieldErrorHint, "raise server.shutdown_timeout if long calls are routinely cut off"),
		)
		_ = srv.Close()
	}
	logger.Info("stopped")
	return nil
}

func (h *httpBinding) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": h.version,
		"tools":   len(h.d.Registry().Names()),
	})
}

func (h *httpBinding) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.logger, http.StatusOK, map[string]any{"tools": h.d.Registry().Catalog()})
}

func (h *httpBinding) handleCall(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	call, derr := Decode(body)
	if derr != nil {
		h.writeResponse(w, h.d.reject(r.Context(), call.CallID, derr))
		return
	}
	h.run(w, r, call)
}

func (h *httpBinding) handleToolCall(w http.ResponseWriter, r *http.Request) {
	body, ok := h.readBody(w, r)
	if !ok {
		return
	}
	call, derr := decodeToolRequest(body, r.PathValue("id"))
	if derr != nil {
		h.writeResponse(w, h.d.reject(r.Context(), call.CallID, derr))
		return
	}
	h.run(w, r, call)
}

func (h *httpBinding) run(w http.ResponseWriter, r *http.Request, call tool.Call) {
	if h.streaming {
		h.stream(w, r, call)
		return
	}
	h.writeResponse(w, h.d.Dispatch(r.Context(), call))
}

// readBody enforces the size limit. Oversized bodies are answered here.
func (h *httpBinding) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		msg := fmt.Sprintf("read request body: %v", err)
		if errors.As(err, &tooLarge) {
			msg = fmt.Sprintf("request exceeds %d bytes", h.maxBytes)
		}
		h.writeResponse(w, h.d.reject(r.Context(), "", tool.Errorf(tool.KindMalformedRequest, "%s", msg)))
		return nil, false
	}
	return body, true
}

func decodeToolRequest(data []byte, id string) (tool.Call, *tool.Error) {
	call := tool.Call{ToolID: strings.TrimSpace(id)}
	var req request
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			return call, tool.Errorf(tool.KindMalformedRequest, "request is not a JSON object: %v", err)
		}
	}
	call.CallID = strings.TrimSpace(req.CallID)
	if req.ToolID != "" && strings.TrimSpace(req.ToolID) != call.ToolID {
		return call, tool.Errorf(tool.KindMalformedRequest, "tool_id %q in body does not match path %q", req.ToolID, call.ToolID)
	}
	args, derr := decodeArguments(req.Arguments)
	if derr != nil {
		return call, derr
	}
	call.Arguments = args
	return call, nil
}

func (h *httpBinding) writeResponse(w http.ResponseWriter, resp Response) {
	writeJSON(w, h.logger, statusFor(resp.Result), resp)
}

// statusFor maps a result onto an HTTP status. The body carries the same
// envelope either way.
func statusFor(result tool.Result) int {
	if result.OK() {
		return http.StatusOK
	}
	switch result.Err().Kind {
	case tool.KindMalformedRequest, tool.KindInvalidArguments:
		return http.StatusBadRequest
	case tool.KindUnknownTool:
		return http.StatusNotFound
	case tool.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Error("failed to encode response", logging.Error(err))
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(data, '\n'))
}
