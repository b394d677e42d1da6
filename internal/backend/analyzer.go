package backend

import (
	"context"
	"encoding/json"
	"fmt"

	"iara/internal/services"
)

// AnalyzeOptions selects the analysis depth.
type AnalyzeOptions struct {
	Type string
}

// Analysis is the decoded analyzer output. Features holds the type-specific
// groups: basic_features for basic, temporal/spectral/harmonic/rhythmic for
// complete.
type Analysis struct {
	SampleRate      int            `json:"sample_rate"`
	DurationSeconds float64        `json:"duration_seconds"`
	Features        map[string]any `json:"features"`
}

// Analyzer extracts audio features.
type Analyzer interface {
	Analyze(ctx context.Context, path string, opts AnalyzeOptions) (Analysis, error)
}

// ExecAnalyzer runs a feature extraction program that prints JSON.
type ExecAnalyzer struct {
	binary string
	exec   Executor
}

// NewExecAnalyzer builds an analyzer around binary.
func NewExecAnalyzer(binary string, opts ...Option) *ExecAnalyzer {
	o := applyOptions(opts)
	return &ExecAnalyzer{binary: binary, exec: o.exec}
}

func (a *ExecAnalyzer) Analyze(ctx context.Context, path string, opts AnalyzeOptions) (Analysis, error) {
	kind := opts.Type
	if kind == "" {
		kind = AnalysisBasic
	}
	if !known(AnalysisTypes, kind) {
		return Analysis{}, services.Wrap(services.ErrValidation, "analyzer", "analyze", fmt.Sprintf("unsupported analysis type %q", kind), nil)
	}
	out, err := runTool(ctx, a.exec, "analyzer", "analyze", a.binary, []string{"--type", kind, "--format", "json", path})
	if err != nil {
		return Analysis{}, err
	}
	var result Analysis
	if err := json.Unmarshal(out, &result); err != nil {
		return Analysis{}, services.Wrap(services.ErrExternalTool, "analyzer", "decode output", "invalid JSON from analyzer", err)
	}
	if result.Features == nil {
		return Analysis{}, services.Wrap(services.ErrExternalTool, "analyzer", "decode output", "analyzer returned no features", nil)
	}
	return result, nil
}
