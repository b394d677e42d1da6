package toolset

import (
	"context"
	"strings"
	"time"

	"iara/internal/backend"
	"iara/internal/resultcache"
	"iara/internal/textutil"
	"iara/internal/tool"
	"iara/internal/workerpool"
)

// AnalysisMetadata describes one analysis run.
type AnalysisMetadata struct {
	FileInfo              FileInfo `json:"file_info"`
	AnalysisType          string   `json:"analysis_type"`
	SampleRate            int      `json:"sample_rate"`
	DurationSeconds       float64  `json:"duration_seconds"`
	DurationFormatted     string   `json:"duration_formatted"`
	ProcessingTimeSeconds float64  `json:"processing_time_seconds"`
}

// AnalysisResult is the payload of analyze.
type AnalysisResult struct {
	Metadata AnalysisMetadata `json:"metadata"`
	Features map[string]any   `json:"features"`
}

func (t *Toolset) analyzeSpec() tool.Spec {
	return tool.Spec{
		Name:        "analyze",
		Description: "Extract tempo, spectral, harmonic and rhythmic features from an audio file.",
		Schema: tool.Object(map[string]*tool.Property{
			"file_path":     tool.StringProperty("Path to the audio file"),
			"analysis_type": tool.EnumProperty("basic returns summary features; complete adds temporal, spectral, harmonic and rhythmic groups", backend.AnalysisTypes...).WithDefault(backend.AnalysisBasic),
		}, "file_path"),
		Effect:      tool.EffectReadOnly,
		Unavailable: t.unavailable(backendAnalyzer),
		Handler: func(ctx context.Context, args tool.Arguments) (any, error) {
			ctx, cancel := withDeadline(ctx, t.d.Deadlines.Analysis)
			defer cancel()
			res, err := t.analyze(ctx, args.String("file_path"), args.String("analysis_type"))
			return res, deadlineError("analyze", t.d.Deadlines.Analysis, err)
		},
	}
}

// analyze is shared by the analyze tool and the workflow analysis step.
func (t *Toolset) analyze(ctx context.Context, path, analysisType string) (any, error) {
	if err := t.requireBackend(backendAnalyzer); err != nil {
		return nil, err
	}
	path = strings.TrimSpace(path)
	info, err := requireFile(path)
	if err != nil {
		return nil, err
	}
	if analysisType == "" {
		analysisType = backend.AnalysisBasic
	}
	key, err := resultcache.KeyForFiles("analyze", map[string]any{"analysis_type": analysisType}, path)
	if err != nil {
		return nil, err
	}
	return t.cached(ctx, key, func(ctx context.Context) (any, error) {
		return workerpool.Do(ctx, t.d.Pool, workerpool.CPU, func(ctx context.Context) (any, error) {
			start := time.Now()
			out, err := t.d.Backends.Analyzer.Analyze(ctx, path, backend.AnalyzeOptions{Type: analysisType})
			if err != nil {
				return nil, err
			}
			return AnalysisResult{
				Metadata: AnalysisMetadata{
					FileInfo:              info,
					AnalysisType:          analysisType,
					SampleRate:            out.SampleRate,
					DurationSeconds:       out.DurationSeconds,
					DurationFormatted:     textutil.FormatClock(out.DurationSeconds),
					ProcessingTimeSeconds: seconds(time.Since(start)),
				},
				Features: out.Features,
			}, nil
		})
	})
}
