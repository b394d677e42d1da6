package transport_test

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"iara/internal/tool"
	"iara/internal/transport"
)

func TestPipeAnswersEachLineInOrder(t *testing.T) {
	d := newDispatcher(t, nil)
	input := strings.Join([]string{
		`{"tool_id":"echo","arguments":{"text":"one"},"call_id":"1"}`,
		``,
		`not json`,
		`{"tool_id":"nope","call_id":"3"}`,
		`{"tool_id":"echo","arguments":{"text":"four"},"call_id":"4"}`,
	}, "\n")
	var out bytes.Buffer

	if err := transport.NewPipe(d, 0, nil).Serve(context.Background(), strings.NewReader(input), &out); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected four responses, got %d:\n%s", len(lines), out.String())
	}
	first := decodeEnvelope(t, []byte(lines[0]))
	if first["call_id"] != "1" || first["ok"] != true {
		t.Fatalf("unexpected first response %s", lines[0])
	}
	if errorKind(decodeEnvelope(t, []byte(lines[1]))) != "MalformedRequest" {
		t.Fatalf("expected malformed response, got %s", lines[1])
	}
	if errorKind(decodeEnvelope(t, []byte(lines[2]))) != "UnknownTool" {
		t.Fatalf("expected unknown tool response, got %s", lines[2])
	}
	if last := decodeEnvelope(t, []byte(lines[3])); last["call_id"] != "4" {
		t.Fatalf("expected the pipe to keep serving after errors, got %s", lines[3])
	}
}

func TestPipeRejectsOversizedLines(t *testing.T) {
	d := newDispatcher(t, nil)
	big := `{"tool_id":"echo","arguments":{"text":"` + strings.Repeat("x", 512) + `"}}`
	input := big + "\n" + `{"tool_id":"echo","arguments":{"text":"ok"},"call_id":"after"}` + "\n"
	var out bytes.Buffer

	if err := transport.NewPipe(d, 128, nil).Serve(context.Background(), strings.NewReader(input), &out); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two responses, got %q", out.String())
	}
	if errorKind(decodeEnvelope(t, []byte(lines[0]))) != "MalformedRequest" {
		t.Fatalf("expected oversized line to be rejected, got %s", lines[0])
	}
	if decodeEnvelope(t, []byte(lines[1]))["call_id"] != "after" {
		t.Fatalf("expected the next line to be served, got %s", lines[1])
	}
}

func TestPipeOverIOPipe(t *testing.T) {
	d := newDispatcher(t, nil)
	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()
	done := make(chan error, 1)
	go func() {
		done <- transport.NewPipe(d, 0, nil).Serve(context.Background(), reqR, respW)
		_ = respW.Close()
	}()

	responses := bufio.NewScanner(respR)
	for _, text := range []string{"a", "b"} {
		if _, err := io.WriteString(reqW, `{"tool_id":"echo","arguments":{"text":"`+text+`"}}`+"\n"); err != nil {
			t.Fatalf("write request: %v", err)
		}
		if !responses.Scan() {
			t.Fatalf("no response for %s: %v", text, responses.Err())
		}
		env := decodeEnvelope(t, responses.Bytes())
		if env["result"].(map[string]any)["text"] != text {
			t.Fatalf("unexpected response %s", responses.Bytes())
		}
	}
	_ = reqW.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after input closed")
	}
}

func TestPipeStopsWhenContextEnds(t *testing.T) {
	d := newDispatcher(t, nil)
	reqR, reqW := io.Pipe()
	t.Cleanup(func() { _ = reqW.Close() })
	var out bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- transport.NewPipe(d, 0, nil).Serve(ctx, reqR, &out)
	}()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve ignored context cancellation")
	}
}

type brokenWriter struct{ writes int }

func (w *brokenWriter) Write([]byte) (int, error) {
	w.writes++
	return 0, errors.New("broken pipe")
}

func TestPipeWriteFailureCancelsCallAndStops(t *testing.T) {
	var seen []context.Context
	reg := tool.NewRegistry()
	reg.MustRegister(tool.Spec{
		Name: "remember",
		Handler: func(ctx context.Context, _ tool.Arguments) (any, error) {
			seen = append(seen, ctx)
			return "ok", nil
		},
	})
	d := transport.NewDispatcher(reg, transport.Options{Transport: "test"})
	input := `{"tool_id":"remember","call_id":"c-1"}` + "\n" + `{"tool_id":"remember","call_id":"c-2"}` + "\n"
	w := &brokenWriter{}

	err := transport.NewPipe(d, 0, nil).Serve(context.Background(), strings.NewReader(input), w)
	if err == nil || !strings.Contains(err.Error(), "c-1") || !strings.Contains(err.Error(), "broken pipe") {
		t.Fatalf("expected the write error for c-1, got %v", err)
	}
	if len(seen) != 1 || w.writes != 1 {
		t.Fatalf("expected serving to stop after the failed write, got %d calls and %d writes", len(seen), w.writes)
	}
	if !errors.Is(seen[0].Err(), context.Canceled) {
		t.Fatalf("expected the call context to be canceled, got %v", seen[0].Err())
	}
}

func TestPipeAnswersBufferedCallsAtEOF(t *testing.T) {
	d := newDispatcher(t, nil)
	// No trailing newline: the last line is only terminated by EOF.
	input := `{"tool_id":"echo","arguments":{"text":"a"}}` + "\n" + `{"tool_id":"echo","arguments":{"text":"b"},"call_id":"last"}`
	var out bytes.Buffer
	if err := transport.NewPipe(d, 0, nil).Serve(context.Background(), strings.NewReader(input), &out); err != nil {
		t.Fatalf("Serve: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 || decodeEnvelope(t, []byte(lines[1]))["call_id"] != "last" {
		t.Fatalf("expected both calls answered before returning, got %q", out.String())
	}
}
