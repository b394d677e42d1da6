package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"iara/internal/logging"
	"iara/internal/services"
	"iara/internal/tool"
)

// SSE event names.
const (
	EventStarted = "started"
	EventStep    = "step"
	EventResult  = "result"
)

// StepEvent is the data of a step event.
type StepEvent struct {
	CallID string `json:"call_id"`
	services.Progress
}

// stream answers one call as an event stream: started, zero or more step
// events, then exactly one result. The call runs on the request context, so
// a disconnecting client stops waiting while cached work continues.
func (h *httpBinding) stream(w http.ResponseWriter, r *http.Request, call tool.Call) {
	if call.CallID == "" {
		call.CallID = uuid.NewString()
	}
	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	es := &eventStream{w: w, rc: http.NewResponseController(w), id: call.CallID}
	defer es.close()
	es.send(EventStarted, map[string]string{"call_id": call.CallID, "tool_id": call.ToolID})

	ctx := services.WithProgress(r.Context(), func(p services.Progress) {
		es.send(EventStep, StepEvent{CallID: call.CallID, Progress: p})
	})
	done := make(chan Response, 1)
	go func() {
		done <- h.d.Dispatch(ctx, call)
	}()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case resp := <-done:
			if err := es.send(EventResult, resp); err != nil {
				logging.WithContext(services.WithCallID(r.Context(), call.CallID), h.logger).
					Debug("result not delivered", logging.Error(err))
			}
			return
		case <-ticker.C:
			es.comment("keepalive")
		}
	}
}

// eventStream serializes writes from the handler and from progress
// callbacks running on workflow goroutines.
type eventStream struct {
	mu     sync.Mutex
	w      http.ResponseWriter
	rc     *http.ResponseController
	id     string
	seq    int
	closed bool
}

func (s *eventStream) send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("stream closed before %s event", event)
	}
	s.seq++
	if _, err := fmt.Fprintf(s.w, "id: %s-%d\nevent: %s\ndata: %s\n\n", s.id, s.seq, event, data); err != nil {
		return err
	}
	return s.flush()
}

func (s *eventStream) comment(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err == nil {
		_ = s.flush()
	}
}

func (s *eventStream) flush() error {
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}

// close stops late progress callbacks from touching a finished response.
func (s *eventStream) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
