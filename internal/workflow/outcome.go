package workflow

import (
	"encoding/json"
	"time"

	"iara/internal/tool"
)

// Status is the terminal state of a step.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Outcome is the result of one step.
type Outcome struct {
	Status Status
	Value  any
	// Err is set for failed and skipped steps. Skipped steps carry KindSkipped.
	Err      *tool.Error
	Duration time.Duration

	fatal bool
}

// Completed reports whether the step produced a value.
func (o Outcome) Completed() bool { return o.Status == StatusCompleted }

type outcomeWire struct {
	Status     Status      `json:"status"`
	Value      any         `json:"value,omitempty"`
	Error      *tool.Error `json:"error,omitempty"`
	DurationMS int64       `json:"duration_ms"`
}

func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(outcomeWire{
		Status:     o.Status,
		Value:      o.Value,
		Error:      o.Err,
		DurationMS: o.Duration.Milliseconds(),
	})
}

// Report aggregates every step outcome of one plan run.
type Report struct {
	Order    []string
	Steps    map[string]Outcome
	Duration time.Duration
}

// Outcome returns the outcome for the named step.
func (r *Report) Outcome(name string) (Outcome, bool) {
	o, ok := r.Steps[name]
	return o, ok
}

// Count returns how many steps ended in status.
func (r *Report) Count(status Status) int {
	n := 0
	for _, o := range r.Steps {
		if o.Status == status {
			n++
		}
	}
	return n
}

// Succeeded reports whether every step completed.
func (r *Report) Succeeded() bool {
	return r.Count(StatusCompleted) == len(r.Order)
}

type reportWire struct {
	Order      []string           `json:"order"`
	Steps      map[string]Outcome `json:"steps"`
	Summary    map[Status]int     `json:"summary"`
	DurationMS int64              `json:"duration_ms"`
}

func (r *Report) MarshalJSON() ([]byte, error) {
	return json.Marshal(reportWire{
		Order: r.Order,
		Steps: r.Steps,
		Summary: map[Status]int{
			StatusCompleted: r.Count(StatusCompleted),
			StatusFailed:    r.Count(StatusFailed),
			StatusSkipped:   r.Count(StatusSkipped),
		},
		DurationMS: r.Duration.Milliseconds(),
	})
}

// Inputs gives a running step access to its dependencies' outcomes.
type Inputs struct {
	outcomes map[string]Outcome
}

// Value returns the value of a completed dependency.
func (in Inputs) Value(name string) (any, bool) {
	o, ok := in.outcomes[name]
	if !ok || o.Status != StatusCompleted {
		return nil, false
	}
	return o.Value, true
}

// Outcome returns the full outcome of a dependency.
func (in Inputs) Outcome(name string) (Outcome, bool) {
	o, ok := in.outcomes[name]
	return o, ok
}
