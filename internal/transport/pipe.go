package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"iara/internal/logging"
	"iara/internal/tool"
)

// Pipe serves line-delimited calls, one at a time.
type Pipe struct {
	d        *Dispatcher
	maxBytes int64
	logger   *slog.Logger
}

// NewPipe builds a pipe binding. Lines longer than maxBytes are rejected as
// malformed without being buffered.
func NewPipe(d *Dispatcher, maxBytes int64, logger *slog.Logger) *Pipe {
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	return &Pipe{d: d, maxBytes: maxBytes, logger: logging.NewComponentLogger(logger, "pipe")}
}

type inputLine struct {
	data     []byte
	oversize bool
	err      error
}

// Serve answers each request line from r with one response line on w, one
// call at a time.
//
// EOF on r is a clean shutdown: calls already read are still run and
// answered before Serve returns nil. Canceling ctx also returns nil; it
// cancels the call in flight and drops lines not yet read. A failed response
// write cancels that call's context and returns the write error. The reader
// goroutine may stay blocked in r.Read until the caller closes r.
func (p *Pipe) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan inputLine)
	go p.read(ctx, r, lines)
	p.logger.Info("pipe transport ready", logging.Int64("max_request_bytes", p.maxBytes))

	served := 0
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipe transport stopped", logging.Int("calls", served))
			return nil
		case ln, ok := <-lines:
			if !ok {
				p.logger.Info("input closed", logging.Int("calls", served))
				return nil
			}
			if ln.err != nil {
				return fmt.Errorf("read request: %w", ln.err)
			}
			if err := p.serveLine(ctx, ln, w); err != nil {
				return err
			}
			served++
		}
	}
}

// serveLine runs one call under its own context and writes the answer. The
// context ends once the answer is written or the write fails.
func (p *Pipe) serveLine(ctx context.Context, ln inputLine, w io.Writer) error {
	callCtx, cancelCall := context.WithCancel(ctx)
	defer cancelCall()

	var resp Response
	if ln.oversize {
		resp = p.d.reject(callCtx, "", tool.Errorf(tool.KindMalformedRequest, "request exceeds %d bytes", p.maxBytes))
	} else {
		resp = p.d.Handle(callCtx, ln.data)
	}
	if _, err := w.Write(encodeLine(resp)); err != nil {
		cancelCall()
		logging.ErrorWithContext(p.logger, "response write failed", "pipe_write_failed",
			logging.String(logging.FieldCallID, resp.CallID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "the client closed its end of the pipe"),
		)
		return fmt.Errorf("write response for call %s: %w", resp.CallID, err)
	}
	return nil
}

// read splits r into lines and closes out at EOF. Blank lines are skipped.
func (p *Pipe) read(ctx context.Context, r io.Reader, out chan<- inputLine) {
	defer close(out)
	br := bufio.NewReaderSize(r, 64*1024)
	for {
		ln, err := p.readLine(br)
		if len(bytes.TrimSpace(ln.data)) > 0 || ln.oversize {
			select {
			case out <- ln:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				select {
				case out <- inputLine{err: err}:
				case <-ctx.Done():
				}
			}
			return
		}
	}
}

// readLine returns one line without its terminator. Bytes past maxBytes are
// discarded and the line is marked oversize.
func (p *Pipe) readLine(br *bufio.Reader) (inputLine, error) {
	var ln inputLine
	for {
		chunk, err := br.ReadSlice('\n')
		if !ln.oversize {
			if int64(len(ln.data)+len(chunk)) > p.maxBytes+1 {
				ln.oversize = true
				ln.data = nil
			} else {
				ln.data = append(ln.data, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		ln.data = bytes.TrimRight(ln.data, "\r\n")
		return ln, err
	}
}
