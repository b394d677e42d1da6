package tool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Effect is a tool's side-effect profile.
type Effect string

const (
	EffectReadOnly          Effect = "read_only"
	EffectArtifactProducing Effect = "artifact_producing"
	// EffectStateMutating changes server state shared by every caller.
	EffectStateMutating Effect = "state_mutating"
)

// Handler runs a tool against validated arguments.
type Handler func(ctx context.Context, args Arguments) (any, error)

// Spec describes one tool. A non-empty Unavailable reason replaces Handler
// with one that always fails, so availability is decided once at
// registration.
type Spec struct {
	Name        string
	Description string
	Schema      Schema
	Effect      Effect
	Handler     Handler
	Unavailable string

	validator *Validator
}

// Descriptor is the catalog view of a registered tool.
type Descriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema Schema `json:"input_schema"`
	Effect      Effect `json:"effect"`
	Available   bool   `json:"available"`
	Reason      string `json:"unavailable_reason,omitempty"`
}

// ErrDuplicateTool is returned by Register for a name already in the table.
var ErrDuplicateTool = errors.New("tool already registered")

// Registry stores registered tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Spec
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Spec)}
}

// Register adds a tool. Duplicate names are an error; callers treat that as
// fatal at startup.
func (r *Registry) Register(spec Spec) error {
	name := strings.TrimSpace(spec.Name)
	if name == "" {
		return errors.New("register tool: empty name")
	}
	if spec.Schema.Type == "" {
		spec.Schema = Object(nil)
	}
	if spec.Effect == "" {
		spec.Effect = EffectReadOnly
	}
	if spec.Unavailable != "" {
		spec.Handler = UnavailableHandler(spec.Unavailable)
	}
	if spec.Handler == nil {
		return fmt.Errorf("register tool %q: nil handler", name)
	}
	spec.Name = name
	validator, err := spec.Schema.Compile()
	if err != nil {
		return fmt.Errorf("register tool %q: %w", name, err)
	}
	spec.validator = validator

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("register tool %q: %w", name, ErrDuplicateTool)
	}
	r.tools[name] = spec
	return nil
}

// MustRegister registers every spec and panics on the first failure.
func (r *Registry) MustRegister(specs ...Spec) {
	for _, spec := range specs {
		if err := r.Register(spec); err != nil {
			panic(err)
		}
	}
}

// Resolve returns the spec for name or an UnknownTool error.
func (r *Registry) Resolve(name string) (Spec, *Error) {
	r.mu.RLock()
	spec, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return Spec{}, &Error{Kind: KindUnknownTool, Message: fmt.Sprintf("unknown tool %q", name)}
	}
	return spec, nil
}

// Validate checks args for the named tool and returns them with defaults.
func (r *Registry) Validate(name string, args map[string]any) (Arguments, *Error) {
	spec, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	return spec.validator.Check(args)
}

// Invoke resolves, validates, and runs a call. Handler panics and errors are
// converted into failed Results.
func (r *Registry) Invoke(ctx context.Context, call Call) Result {
	spec, rerr := r.Resolve(call.ToolID)
	if rerr != nil {
		return Fail(rerr)
	}
	args, verr := spec.validator.Check(call.Arguments)
	if verr != nil {
		return Fail(verr)
	}
	payload, err := runHandler(ctx, spec, args)
	if err != nil {
		return FromError(err)
	}
	return Ok(payload)
}

func runHandler(ctx context.Context, spec Spec, args Arguments) (payload any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &Error{
				Kind:    KindBackendFailure,
				Message: fmt.Sprintf("tool %s panicked: %v", spec.Name, rec),
			}
		}
	}()
	return spec.Handler(ctx, args)
}

// Catalog lists every tool sorted by name.
func (r *Registry) Catalog() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.tools))
	for _, spec := range r.tools {
		out = append(out, Descriptor{
			Name:        spec.Name,
			Description: spec.Description,
			InputSchema: spec.Schema,
			Effect:      spec.Effect,
			Available:   spec.Unavailable == "",
			Reason:      spec.Unavailable,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns registered tool names, sorted.
func (r *Registry) Names() []string {
	catalog := r.Catalog()
	names := make([]string, len(catalog))
	for i, d := range catalog {
		names[i] = d.Name
	}
	return names
}

// UnavailableHandler returns a handler that fails every call with a
// BackendFailure whose message starts with "Unavailable".
func UnavailableHandler(reason string) Handler {
	msg := "Unavailable: " + strings.TrimSpace(reason)
	return func(context.Context, Arguments) (any, error) {
		return nil, &Error{Kind: KindBackendFailure, Message: msg}
	}
}
