package transport_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"iara/internal/transport"
)

type sseEvent struct {
	id    string
	event string
	data  string
}

func readEvents(t *testing.T, resp *http.Response) ([]sseEvent, int) {
	t.Helper()
	var (
		events   []sseEvent
		current  sseEvent
		comments int
	)
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if current.event != "" {
				events = append(events, current)
			}
			current = sseEvent{}
		case strings.HasPrefix(line, ":"):
			comments++
		case strings.HasPrefix(line, "id: "):
			current.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			current.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			current.data = strings.TrimPrefix(line, "data: ")
		}
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("read stream: %v", err)
	}
	return events, comments
}

func TestSSEStreamsProgressBeforeResult(t *testing.T) {
	srv := httptest.NewServer(transport.NewHandler(newDispatcher(t, nil), transport.HTTPOptions{Streaming: true}))
	t.Cleanup(srv.Close)

	resp, err := http.Post(srv.URL+"/call", "application/json", strings.NewReader(`{"tool_id":"steps","call_id":"s-1"}`))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	events, _ := readEvents(t, resp)

	var names []string
	for _, e := range events {
		names = append(names, e.event)
	}
	if strings.Join(names, ",") != "started,step,step,result" {
		t.Fatalf("unexpected event order %v", names)
	}
	if events[0].id != "s-1-1" || events[3].id != "s-1-4" {
		t.Fatalf("unexpected event ids %q %q", events[0].id, events[3].id)
	}

	var step transport.StepEvent
	if err := json.Unmarshal([]byte(events[2].data), &step); err != nil {
		t.Fatalf("decode step: %v", err)
	}
	if step.CallID != "s-1" || step.Step != "first" || step.Status != "completed" || step.Millis != 20 {
		t.Fatalf("unexpected step event %+v", step)
	}

	var result transport.Response
	if err := json.Unmarshal([]byte(events[3].data), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result.CallID != "s-1" || !result.Result.OK() || result.Result.Payload() != "done" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestSSEErrorsUseTheSameEnvelope(t *testing.T) {
	srv := httptest.NewServer(transport.NewHandler(newDispatcher(t, nil), transport.HTTPOptions{Streaming: true}))
	t.Cleanup(srv.Close)

	resp, err := http.Post(srv.URL+"/tools/nope", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer resp.Body.Close()
	events, _ := readEvents(t, resp)
	if len(events) != 2 || events[1].event != "result" {
		t.Fatalf("expected started and result, got %+v", events)
	}
	if errorKind(decodeEnvelope(t, []byte(events[1].data))) != "UnknownTool" {
		t.Fatalf("unexpected result %s", events[1].data)
	}

	malformed, err := http.Post(srv.URL+"/call", "application/json", strings.NewReader("nope"))
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	defer malformed.Body.Close()
	if malformed.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed requests are answered before the stream opens, got %d", malformed.StatusCode)
	}
}

func TestSSESendsKeepAlives(t *testing.T) {
	srv := httptest.NewServer(transport.NewHandler(newDispatcher(t, nil), transport.HTTPOptions{
		Streaming: true,
		KeepAlive: 10 * time.Millisecond,
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/call", strings.NewReader(`{"tool_id":"block"}`))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if scanner.Text() == ": keepalive" {
			return
		}
	}
	t.Fatal("no keepalive comment before the client gave up")
}
