package toolset

import (
	"context"
	"strings"

	"iara/internal/artifact"
	"iara/internal/backend"
	"iara/internal/resultcache"
	"iara/internal/tool"
	"iara/internal/workflow"
)

// StemPlots is the payload of plot_stems. Failed names the stems whose plot
// could not be rendered.
type StemPlots struct {
	FileInfo FileInfo               `json:"file_info"`
	Model    string                 `json:"model"`
	Kind     string                 `json:"plot_type"`
	Plots    map[string]PlotResult  `json:"plots"`
	Failed   map[string]*tool.Error `json:"failed,omitempty"`
}

func (t *Toolset) stemPlotsSpec() tool.Spec {
	return tool.Spec{
		Name:        "plot_stems",
		Description: "Separate a mix and render the same visualization for every stem, to judge separation quality.",
		Schema: tool.Object(map[string]*tool.Property{
			"file_path": tool.StringProperty("Path to the audio file"),
			"model":     tool.EnumProperty("Demucs model", backend.ModelNames()...).WithDefault(backend.DefaultModel),
			"kind":      tool.EnumProperty("Visualization to render per stem", backend.PlotKindNames()...).WithDefault("waveform"),
		}, "file_path"),
		Effect:      tool.EffectArtifactProducing,
		Unavailable: t.unavailable(backendDemucs, backendPlotter),
		Handler:     t.handleStemPlots,
	}
}

func stemPlotStep(stem string) string { return "plot_" + stem }

func (t *Toolset) handleStemPlots(ctx context.Context, args tool.Arguments) (any, error) {
	path := strings.TrimSpace(args.String("file_path"))
	info, err := requireFile(path)
	if err != nil {
		return nil, err
	}
	model := args.String("model")
	params := plotParams{Kind: args.String("kind")}
	params.normalize()
	dl := t.d.Deadlines

	plan := &workflow.Plan{}
	plan.Add(workflow.Step{
		Name:    opSeparation,
		Fatal:   true,
		Timeout: dl.Separation,
		Run: func(ctx context.Context, _ workflow.Inputs) (any, error) {
			return t.separate(ctx, path, separateParams{Model: model, Format: "wav"})
		},
	})
	for _, stem := range backend.Stems {
		plan.Add(workflow.Step{
			Name:      stemPlotStep(stem),
			DependsOn: []string{opSeparation},
			Timeout:   dl.Visualization,
			Run: func(ctx context.Context, in workflow.Inputs) (any, error) {
				v, ok := in.Value(opSeparation)
				if !ok {
					return nil, tool.Errorf(tool.KindBackendFailure, "separation produced no stems")
				}
				sep := v.(SeparationResult)
				ref, ok := sep.Stems[stem]
				if !ok {
					return nil, tool.Errorf(tool.KindBackendFailure, "separation produced no %s stem", stem)
				}
				return t.plotStem(ctx, path, sep, stem, ref, params)
			},
		})
	}
	run, err := t.d.Orchestrator.Run(ctx, plan)
	if err != nil {
		return nil, err
	}
	sep, err := stepValue[SeparationResult](run, opSeparation)
	if err != nil {
		return nil, err
	}

	out := StemPlots{FileInfo: info, Model: sep.Metadata.ModelUsed, Kind: params.Kind, Plots: map[string]PlotResult{}}
	for _, stem := range backend.Stems {
		res, err := stepValue[PlotResult](run, stemPlotStep(stem))
		if err != nil {
			if out.Failed == nil {
				out.Failed = map[string]*tool.Error{}
			}
			out.Failed[stem] = tool.AsError(err)
			continue
		}
		out.Plots[stem] = res
	}
	return out, nil
}

// plotStem renders one separated stem. The cache key follows the separation
// rather than the staged copy, which changes name on every call.
func (t *Toolset) plotStem(ctx context.Context, source string, sep SeparationResult, stem string, ref artifact.Ref, params plotParams) (any, error) {
	if err := t.requireBackend(backendPlotter); err != nil {
		return nil, err
	}
	key, err := resultcache.Key("plot_stem", nil, map[string]any{
		"separation": sep.Key,
		"stem":       stem,
		"params":     params,
	})
	if err != nil {
		return nil, err
	}
	return t.cached(ctx, key, func(ctx context.Context) (any, error) {
		input, release, err := t.stageRef(stem, ref)
		if err != nil {
			return nil, err
		}
		defer release()
		info := FileInfo{Name: ref.Name, Format: "WAV", SizeBytes: int64(ref.SizeBytes)}
		if ref.Kind == artifact.KindPath {
			info.Path = ref.Value
		}
		return t.renderPlot(ctx, input, info, artifact.Artifact{
			Source:    source,
			Operation: "plot_stems",
			Label:     stem + "_" + params.Kind,
		}, params)
	})
}
