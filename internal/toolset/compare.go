package toolset

import (
	"context"
	"slices"
	"strings"

	"iara/internal/backend"
	"iara/internal/tool"
	"iara/internal/workflow"
)

var defaultComparedModels = []any{"htdemucs_ft", "htdemucs"}

// ModelRun is one model's result in a comparison. Completeness is the share
// of the expected stems the model produced.
type ModelRun struct {
	Model                 string      `json:"model"`
	Success               bool        `json:"success"`
	ProcessingTimeSeconds float64     `json:"processing_time_seconds"`
	Stems                 []string    `json:"stems,omitempty"`
	OutputBytes           int         `json:"output_bytes,omitempty"`
	Completeness          float64     `json:"completeness"`
	Error                 *tool.Error `json:"error,omitempty"`
}

// ComparisonSummary picks winners among the successful runs. BestQuality is
// the highest ranked model in the catalog that produced every stem.
type ComparisonSummary struct {
	BestQuality    string  `json:"best_quality,omitempty"`
	Fastest        string  `json:"fastest"`
	FastestSeconds float64 `json:"fastest_seconds"`
	Recommendation string  `json:"recommendation"`
}

// ModelComparison is the payload of compare_models.
type ModelComparison struct {
	FileInfo FileInfo            `json:"file_info"`
	Models   []string            `json:"compared_models"`
	Results  map[string]ModelRun `json:"results"`
	Summary  *ComparisonSummary  `json:"summary,omitempty"`
}

func (t *Toolset) compareSpec() tool.Spec {
	return tool.Spec{
		Name:        "compare_models",
		Description: "Separate one file with several Demucs models and compare their speed and stem output.",
		Schema: tool.Object(map[string]*tool.Property{
			"file_path": tool.StringProperty("Path to the audio file"),
			"models":    tool.ArrayProperty("Demucs models to compare", tool.EnumProperty("", backend.ModelNames()...)).WithDefault(defaultComparedModels),
		}, "file_path"),
		Effect:      tool.EffectArtifactProducing,
		Unavailable: t.unavailable(backendDemucs),
		Handler:     t.handleCompare,
	}
}

func (t *Toolset) handleCompare(ctx context.Context, args tool.Arguments) (any, error) {
	path := strings.TrimSpace(args.String("file_path"))
	models := dedupe(args.Strings("models"))
	if len(models) == 0 {
		return nil, tool.InvalidArgument("models", "at least one model is required")
	}
	info, err := requireFile(path)
	if err != nil {
		return nil, err
	}

	// Every model is its own non-fatal step so one failure leaves the rest.
	plan := &workflow.Plan{}
	for _, model := range models {
		plan.Add(workflow.Step{
			Name:    model,
			Timeout: t.d.Deadlines.Separation,
			Run: func(ctx context.Context, _ workflow.Inputs) (any, error) {
				return t.separate(ctx, path, separateParams{Model: model, Format: "wav"})
			},
		})
	}
	run, err := t.d.Orchestrator.Run(ctx, plan)
	if err != nil {
		return nil, err
	}

	out := ModelComparison{FileInfo: info, Models: models, Results: make(map[string]ModelRun, len(models))}
	for _, model := range models {
		out.Results[model] = modelRun(run, model)
	}
	out.Summary = summarizeComparison(models, out.Results)
	return out, nil
}

func modelRun(run *workflow.Report, model string) ModelRun {
	r := ModelRun{Model: model}
	sep, err := stepValue[SeparationResult](run, model)
	if err != nil {
		r.Error = tool.AsError(err)
		if o, ok := run.Outcome(model); ok {
			r.ProcessingTimeSeconds = seconds(o.Duration)
		}
		return r
	}
	r.Success = true
	r.ProcessingTimeSeconds = sep.Metadata.ProcessingTimeSeconds
	produced := 0
	for name, ref := range sep.Stems {
		r.Stems = append(r.Stems, name)
		r.OutputBytes += ref.SizeBytes
		if slices.Contains(backend.Stems, name) {
			produced++
		}
	}
	slices.Sort(r.Stems)
	r.Completeness = float64(produced) / float64(len(backend.Stems))
	return r
}

// summarizeComparison recommends the best quality model when one produced
// every stem and the fastest model otherwise. Nil when nothing succeeded.
func summarizeComparison(models []string, results map[string]ModelRun) *ComparisonSummary {
	s := &ComparisonSummary{}
	for _, model := range models {
		r := results[model]
		if !r.Success {
			continue
		}
		if s.Fastest == "" || r.ProcessingTimeSeconds < s.FastestSeconds {
			s.Fastest = model
			s.FastestSeconds = r.ProcessingTimeSeconds
		}
	}
	if s.Fastest == "" {
		return nil
	}
	for _, m := range backend.SeparationModels {
		if r, ok := results[m.Name]; ok && r.Success && r.Completeness >= 1 {
			s.BestQuality = m.Name
			break
		}
	}
	s.Recommendation = s.Fastest
	if s.BestQuality != "" {
		s.Recommendation = s.BestQuality
	}
	return s
}
