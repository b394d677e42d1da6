package workflow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// StepFunc computes a step value. in exposes the outcomes of the step's
// dependencies.
type StepFunc func(ctx context.Context, in Inputs) (any, error)

// Step is one node of a Plan.
type Step struct {
	Name      string
	DependsOn []string
	// Fatal steps cause every transitive dependent to be skipped when they fail.
	Fatal bool
	// Timeout is the soft deadline for this step. Zero means no step deadline.
	Timeout time.Duration
	Run     StepFunc
}

// Plan is an ordered set of steps.
type Plan struct {
	Steps []Step
}

var (
	ErrEmptyPlan     = errors.New("workflow plan has no steps")
	ErrCycle         = errors.New("workflow plan has a dependency cycle")
	ErrUnknownStep   = errors.New("workflow step depends on an unknown step")
	ErrDuplicateStep = errors.New("workflow step name is duplicated")
)

// Add appends a step and returns the plan for chaining.
func (p *Plan) Add(step Step) *Plan {
	p.Steps = append(p.Steps, step)
	return p
}

// Names lists step names in declaration order.
func (p *Plan) Names() []string {
	names := make([]string, 0, len(p.Steps))
	for _, step := range p.Steps {
		names = append(names, step.Name)
	}
	return names
}

// Validate checks names, references and acyclicity.
func (p *Plan) Validate() error {
	_, err := p.Layers()
	return err
}

// Layers groups step indexes into topological layers. Every step in layer N
// depends only on steps in layers before N. Within a layer steps keep their
// declaration order.
func (p *Plan) Layers() ([][]int, error) {
	if p == nil || len(p.Steps) == 0 {
		return nil, ErrEmptyPlan
	}
	index := make(map[string]int, len(p.Steps))
	for i, step := range p.Steps {
		name := strings.TrimSpace(step.Name)
		if name == "" {
			return nil, fmt.Errorf("step %d: name is required", i)
		}
		if _, dup := index[name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateStep, name)
		}
		if step.Run == nil {
			return nil, fmt.Errorf("step %s: run function is required", name)
		}
		index[name] = i
	}

	indegree := make([]int, len(p.Steps))
	dependents := make([][]int, len(p.Steps))
	for i, step := range p.Steps {
		seen := make(map[string]struct{}, len(step.DependsOn))
		for _, dep := range step.DependsOn {
			j, ok := index[dep]
			if !ok {
				return nil, fmt.Errorf("%w: %s -> %s", ErrUnknownStep, step.Name, dep)
			}
			if j == i {
				return nil, fmt.Errorf("%w: %s depends on itself", ErrCycle, step.Name)
			}
			if _, dup := seen[dep]; dup {
				continue
			}
			seen[dep] = struct{}{}
			indegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	var layers [][]int
	var current []int
	for i, d := range indegree {
		if d == 0 {
			current = append(current, i)
		}
	}
	placed := 0
	for len(current) > 0 {
		layers = append(layers, current)
		placed += len(current)
		var next []int
		for _, i := range current {
			for _, j := range dependents[i] {
				indegree[j]--
				if indegree[j] == 0 {
					next = append(next, j)
				}
			}
		}
		slices.Sort(next)
		current = next
	}
	if placed != len(p.Steps) {
		var stuck []string
		for i, d := range indegree {
			if d > 0 {
				stuck = append(stuck, p.Steps[i].Name)
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrCycle, strings.Join(stuck, ", "))
	}
	return layers, nil
}

// LayerNames is Layers expressed with step names.
func (p *Plan) LayerNames() ([][]string, error) {
	layers, err := p.Layers()
	if err != nil {
		return nil, err
	}
	out := make([][]string, len(layers))
	for i, layer := range layers {
		for _, idx := range layer {
			out[i] = append(out[i], p.Steps[idx].Name)
		}
	}
	return out, nil
}
