package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"iara/internal/logging"
	"iara/internal/services"
	"iara/internal/tool"
)

// Options configures an Orchestrator.
type Options struct {
	Logger *slog.Logger
	// MaxParallel caps concurrently running steps within a layer. Zero means
	// no cap; one runs steps sequentially.
	MaxParallel int
}

// Orchestrator executes plans. It holds no per-plan state and is safe for
// concurrent use.
type Orchestrator struct {
	logger      *slog.Logger
	maxParallel int
}

// New constructs an Orchestrator.
func New(opts Options) *Orchestrator {
	return &Orchestrator{
		logger:      logging.NewComponentLogger(opts.Logger, "workflow"),
		maxParallel: opts.MaxParallel,
	}
}

type stepResult struct {
	value any
	err   error
}

// Run executes plan and returns one outcome per step. The error is non-nil
// only when the plan itself is invalid; step failures live in the report.
func (o *Orchestrator) Run(ctx context.Context, plan *Plan) (*Report, error) {
	layers, err := plan.Layers()
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "workflow", "plan", "invalid workflow plan", err)
	}

	start := time.Now()
	logger := logging.WithContext(ctx, o.logger)
	logger.Debug("workflow started",
		logging.Strings("steps", plan.Names()),
		logging.Int("layers", len(layers)),
	)

	report := &Report{
		Order: plan.Names(),
		Steps: make(map[string]Outcome, len(plan.Steps)),
	}
	for _, layer := range layers {
		// Steps in a layer only read outcomes of earlier layers; each writes its
		// own slot and the layer is merged into the report after Wait.
		outcomes := make([]Outcome, len(layer))
		var g errgroup.Group
		if o.maxParallel > 0 {
			g.SetLimit(o.maxParallel)
		}
		for i, idx := range layer {
			step := plan.Steps[idx]
			if blocker, blocked := upstreamBlocker(step, report.Steps); blocked {
				outcomes[i] = Outcome{
					Status: StatusSkipped,
					Err:    tool.Errorf(tool.KindSkipped, "not run: upstream step %s did not complete", blocker),
				}
				services.ReportProgress(ctx, services.Progress{Step: step.Name, Status: string(StatusSkipped)})
				continue
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				outcomes[i] = Outcome{
					Status: StatusFailed,
					Err:    &tool.Error{Kind: tool.KindOf(ctxErr), Message: fmt.Sprintf("not started: %v", ctxErr)},
				}
				continue
			}
			in := Inputs{outcomes: dependencyOutcomes(step, report.Steps)}
			g.Go(func() error {
				outcomes[i] = o.runStep(ctx, step, in)
				return nil
			})
		}
		_ = g.Wait()
		for i, idx := range layer {
			report.Steps[plan.Steps[idx].Name] = outcomes[i]
		}
	}

	report.Duration = time.Since(start)
	logger.Info("workflow finished",
		logging.Int("completed", report.Count(StatusCompleted)),
		logging.Int("failed", report.Count(StatusFailed)),
		logging.Int("skipped", report.Count(StatusSkipped)),
		logging.Duration("duration", report.Duration),
	)
	return report, nil
}

// upstreamBlocker finds a dependency that prevents step from running: a
// fatal step that failed, or a dependency that was itself skipped.
func upstreamBlocker(step Step, outcomes map[string]Outcome) (string, bool) {
	for _, dep := range step.DependsOn {
		o := outcomes[dep]
		switch o.Status {
		case StatusSkipped:
			return dep, true
		case StatusFailed:
			if o.fatal {
				return dep, true
			}
		}
	}
	return "", false
}

func dependencyOutcomes(step Step, outcomes map[string]Outcome) map[string]Outcome {
	out := make(map[string]Outcome, len(step.DependsOn))
	for _, dep := range step.DependsOn {
		out[dep] = outcomes[dep]
	}
	return out
}

func (o *Orchestrator) runStep(parent context.Context, step Step, in Inputs) Outcome {
	ctx := services.WithStep(parent, step.Name)
	if step.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, step.Timeout)
		defer cancel()
	}
	logger := logging.WithContext(ctx, o.logger)
	logger.Debug("step started", logging.String(logging.FieldEventType, "step_start"))
	services.ReportProgress(parent, services.Progress{Step: step.Name, Status: "started"})

	start := time.Now()
	done := make(chan stepResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- stepResult{err: fmt.Errorf("step %s panicked: %v", step.Name, r)}
			}
		}()
		value, err := step.Run(ctx, in)
		done <- stepResult{value: value, err: err}
	}()

	var res stepResult
	select {
	case res = <-done:
	case <-ctx.Done():
		// The step keeps running in its goroutine; only its delivery is abandoned.
		res = stepResult{err: ctx.Err()}
	}
	elapsed := time.Since(start)

	outcome := Outcome{Duration: elapsed, fatal: step.Fatal}
	if res.err == nil {
		outcome.Status = StatusCompleted
		outcome.Value = res.value
		logger.Info("step completed", logging.Duration("duration", elapsed))
		services.ReportProgress(parent, services.Progress{Step: step.Name, Status: string(StatusCompleted), Duration: elapsed})
		return outcome
	}

	outcome.Status = StatusFailed
	outcome.Err = stepError(ctx, parent, step, res.err)
	logger.Warn("step failed",
		logging.String(logging.FieldEventType, "step_failed"),
		logging.String("error_kind", string(outcome.Err.Kind)),
		logging.Bool("fatal", step.Fatal),
		logging.Error(res.err),
	)
	services.ReportProgress(parent, services.Progress{
		Step:     step.Name,
		Status:   string(StatusFailed),
		Message:  outcome.Err.Message,
		Duration: elapsed,
	})
	return outcome
}

func stepError(ctx, parent context.Context, step Step, err error) *tool.Error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && parent.Err() == nil && step.Timeout > 0 {
		return tool.Errorf(tool.KindTimeout, "step %s exceeded its %s deadline", step.Name, step.Timeout)
	}
	te := tool.AsError(err)
	if te.Kind == tool.KindSkipped {
		// A step cannot report itself as skipped; only the orchestrator does.
		te = &tool.Error{Kind: tool.KindBackendFailure, Message: te.Message}
	}
	return te
}
