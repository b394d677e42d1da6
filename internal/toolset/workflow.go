package toolset

import (
	"context"
	"slices"
	"strings"

	"iara/internal/backend"
	"iara/internal/tool"
	"iara/internal/workflow"
)

// Workflow operations.
const (
	opAnalysis       = "analysis"
	opSeparation     = "separation"
	opClassification = "classification"
	opVisualization  = "visualization"
)

var workflowOperations = []string{opAnalysis, opSeparation, opClassification, opVisualization}

// WorkflowResult is the payload of workflow.
type WorkflowResult struct {
	FilePath   string           `json:"file_path"`
	Operations []string         `json:"operations"`
	Parallel   bool             `json:"parallel"`
	Report     *workflow.Report `json:"report"`
}

func (t *Toolset) workflowSpec() tool.Spec {
	return tool.Spec{
		Name:        "workflow",
		Description: "Run several operations on one file as a dependency graph. Each step reports completed, failed or skipped.",
		Schema: tool.Object(map[string]*tool.Property{
			"file_path":     tool.StringProperty("Path to the audio file"),
			"operations":    tool.ArrayProperty("Operations to run", tool.EnumProperty("", workflowOperations...)).WithDefault([]any{opAnalysis, opClassification}),
			"parallel":      tool.BooleanProperty("Run independent steps concurrently").WithDefault(true),
			"analysis_type": tool.EnumProperty("Depth of the analysis step", backend.AnalysisTypes...).WithDefault(backend.AnalysisBasic),
			"model":         tool.EnumProperty("Demucs model for the separation step", backend.ModelNames()...).WithDefault(backend.DefaultModel),
			"plot_kind":     tool.EnumProperty("Visualization for the visualization step", backend.PlotKindNames()...).WithDefault("mel_spectrogram"),
		}, "file_path"),
		Effect:  tool.EffectArtifactProducing,
		Handler: t.handleWorkflow,
	}
}

func (t *Toolset) handleWorkflow(ctx context.Context, args tool.Arguments) (any, error) {
	path := strings.TrimSpace(args.String("file_path"))
	ops := dedupe(args.Strings("operations"))
	if len(ops) == 0 {
		return nil, tool.InvalidArgument("operations", "at least one operation is required")
	}
	if _, err := requireFile(path); err != nil {
		return nil, err
	}

	plan := t.buildPlan(path, ops, args)
	orch := t.d.Orchestrator
	if !args.Bool("parallel") {
		orch = workflow.New(workflow.Options{Logger: t.d.Logger, MaxParallel: 1})
	}
	report, err := orch.Run(ctx, plan)
	if err != nil {
		return nil, err
	}
	return WorkflowResult{
		FilePath:   path,
		Operations: ops,
		Parallel:   args.Bool("parallel"),
		Report:     report,
	}, nil
}

// buildPlan wires the requested operations. Classification consumes the
// separated stems when separation is also requested, which makes separation
// fatal for it; otherwise every step is independent.
func (t *Toolset) buildPlan(path string, ops []string, args tool.Arguments) *workflow.Plan {
	want := func(op string) bool { return slices.Contains(ops, op) }
	dl := t.d.Deadlines
	plan := &workflow.Plan{}

	if want(opAnalysis) {
		analysisType := args.String("analysis_type")
		plan.Add(workflow.Step{
			Name:    opAnalysis,
			Timeout: dl.Analysis,
			Run: func(ctx context.Context, _ workflow.Inputs) (any, error) {
				return t.analyze(ctx, path, analysisType)
			},
		})
	}
	if want(opSeparation) {
		params := separateParams{Model: args.String("model"), Format: "wav"}
		plan.Add(workflow.Step{
			Name:    opSeparation,
			Fatal:   want(opClassification),
			Timeout: dl.Separation,
			Run: func(ctx context.Context, _ workflow.Inputs) (any, error) {
				return t.separate(ctx, path, params)
			},
		})
	}
	if want(opClassification) {
		step := workflow.Step{Name: opClassification, Timeout: dl.Classification}
		if want(opSeparation) {
			step.DependsOn = []string{opSeparation}
			step.Run = func(ctx context.Context, in workflow.Inputs) (any, error) {
				v, ok := in.Value(opSeparation)
				if !ok {
					return nil, tool.Errorf(tool.KindBackendFailure, "separation produced no stems")
				}
				return t.classifyStems(ctx, v.(SeparationResult), classifyParams{})
			}
		} else {
			step.Run = func(ctx context.Context, _ workflow.Inputs) (any, error) {
				return t.classify(ctx, path, classifyParams{})
			}
		}
		plan.Add(step)
	}
	if want(opVisualization) {
		kind := args.String("plot_kind")
		plan.Add(workflow.Step{
			Name:    opVisualization,
			Timeout: dl.Visualization,
			Run: func(ctx context.Context, _ workflow.Inputs) (any, error) {
				return t.plot(ctx, path, plotParams{Kind: kind})
			},
		})
	}
	return plan
}

func dedupe(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}
