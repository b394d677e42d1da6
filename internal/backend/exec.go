package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"iara/internal/services"
)

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string) ([]byte, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, binary string, args []string) ([]byte, error)

func (f ExecutorFunc) Run(ctx context.Context, binary string, args []string) ([]byte, error) {
	return f(ctx, binary, args)
}

// Option configures an exec-backed backend.
type Option func(*options)

type options struct {
	exec Executor
}

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(e Executor) Option {
	return func(o *options) {
		if e != nil {
			o.exec = e
		}
	}
}

func applyOptions(opts []Option) options {
	o := options{exec: commandExecutor{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// maxStderrTail bounds how much stderr is carried into an error message.
const maxStderrTail = 2048

// maxArtifactBytes bounds a stem or image read back from a backend's scratch
// directory.
const maxArtifactBytes = 1 << 30

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", binary, ctxErr)
		}
		tail := strings.TrimSpace(stderr.String())
		if len(tail) > maxStderrTail {
			tail = "..." + tail[len(tail)-maxStderrTail:]
		}
		if tail != "" {
			return nil, fmt.Errorf("%s: %w: %s", binary, err, tail)
		}
		return nil, fmt.Errorf("%s: %w", binary, err)
	}
	return stdout.Bytes(), nil
}

// runTool executes binary and tags failures as external tool errors, leaving
// deadline and cancellation markers intact for classification.
func runTool(ctx context.Context, e Executor, stage, operation, binary string, args []string) ([]byte, error) {
	if strings.TrimSpace(binary) == "" {
		return nil, services.Wrap(services.ErrUnavailable, stage, operation, "binary not configured", nil)
	}
	out, err := e.Run(ctx, binary, args)
	if err == nil {
		return out, nil
	}
	if errors.Is(err, exec.ErrNotFound) {
		return nil, services.Wrap(services.ErrUnavailable, stage, operation, fmt.Sprintf("%s not installed", binary), err)
	}
	return nil, services.Wrap(services.ErrExternalTool, stage, operation, "command failed", err)
}
