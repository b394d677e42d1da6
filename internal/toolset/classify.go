package toolset

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"iara/internal/artifact"
	"iara/internal/backend"
	"iara/internal/resultcache"
	"iara/internal/tool"
	"iara/internal/workerpool"
)

// ClassificationResult is the payload of classify.
type ClassificationResult struct {
	FileInfo              FileInfo               `json:"file_info"`
	StemType              string                 `json:"stem_type,omitempty"`
	Classification        backend.Classification `json:"classification"`
	ProcessingTimeSeconds float64                `json:"processing_time_seconds"`
}

type classifyParams struct {
	Threshold float64 `json:"confidence_threshold"`
	Method    string  `json:"method"`
	StemType  string  `json:"stem_type,omitempty"`
}

func (t *Toolset) classifySpec() tool.Spec {
	return tool.Spec{
		Name:        "classify",
		Description: "Identify the instruments present in an audio file or a separated stem.",
		Schema: tool.Object(map[string]*tool.Property{
			"file_path":            tool.StringProperty("Path to the audio file or stem"),
			"confidence_threshold": tool.NumberProperty("Minimum confidence for a detection").Between(0, 1).WithDefault(backend.DefaultConfidenceThreshold),
			"method":               tool.EnumProperty("Detection strategy", backend.ClassificationMethods...).WithDefault(backend.MethodHeuristic),
			"stem_type":            tool.EnumProperty("Stem the file was separated as, if any", backend.Stems...),
		}, "file_path"),
		Effect:      tool.EffectReadOnly,
		Unavailable: t.unavailable(backendClassifier),
		Handler: func(ctx context.Context, args tool.Arguments) (any, error) {
			ctx, cancel := withDeadline(ctx, t.d.Deadlines.Classification)
			defer cancel()
			res, err := t.classify(ctx, args.String("file_path"), classifyParams{
				Threshold: args.Float("confidence_threshold"),
				Method:    args.String("method"),
				StemType:  args.String("stem_type"),
			})
			return res, deadlineError("classify", t.d.Deadlines.Classification, err)
		},
	}
}

func (p *classifyParams) normalize() {
	if p.Threshold <= 0 {
		p.Threshold = backend.DefaultConfidenceThreshold
	}
	if p.Method == "" {
		p.Method = backend.MethodHeuristic
	}
}

func (t *Toolset) classify(ctx context.Context, path string, params classifyParams) (any, error) {
	if err := t.requireBackend(backendClassifier); err != nil {
		return nil, err
	}
	path = strings.TrimSpace(path)
	info, err := requireFile(path)
	if err != nil {
		return nil, err
	}
	params.normalize()
	key, err := resultcache.KeyForFiles("classify", params, path)
	if err != nil {
		return nil, err
	}
	return t.cached(ctx, key, func(ctx context.Context) (any, error) {
		return t.runClassifier(ctx, path, info, params)
	})
}

func (t *Toolset) runClassifier(ctx context.Context, path string, info FileInfo, params classifyParams) (any, error) {
	return workerpool.Do(ctx, t.d.Pool, workerpool.CPU, func(ctx context.Context) (any, error) {
		start := time.Now()
		out, err := t.d.Backends.Classifier.Classify(ctx, path, backend.ClassifyOptions{
			Threshold: params.Threshold,
			Method:    params.Method,
			StemHint:  params.StemType,
		})
		if err != nil {
			return nil, err
		}
		return ClassificationResult{
			FileInfo:              info,
			StemType:              params.StemType,
			Classification:        out,
			ProcessingTimeSeconds: seconds(time.Since(start)),
		}, nil
	})
}

// classifyStems classifies every stem of a separation concurrently. Stem
// content comes from the artifact refs, so it works for both deployment
// modes; inline stems are staged in the work directory for the classifier.
func (t *Toolset) classifyStems(ctx context.Context, sep SeparationResult, params classifyParams) (map[string]any, error) {
	if err := t.requireBackend(backendClassifier); err != nil {
		return nil, err
	}
	params.normalize()

	var mu sync.Mutex
	results := make(map[string]any, len(sep.Stems))
	g, gctx := errgroup.WithContext(ctx)
	for name, ref := range sep.Stems {
		stemParams := params
		stemParams.StemType = name
		g.Go(func() error {
			key, err := resultcache.Key("classify_stem", nil, map[string]any{
				"separation": sep.Key,
				"stem":       name,
				"params":     stemParams,
			})
			if err != nil {
				return err
			}
			v, err := t.cached(gctx, key, func(ctx context.Context) (any, error) {
				return t.classifyRef(ctx, name, ref, stemParams)
			})
			if err != nil {
				return fmt.Errorf("classify %s stem: %w", name, err)
			}
			mu.Lock()
			results[name] = v
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (t *Toolset) classifyRef(ctx context.Context, stem string, ref artifact.Ref, params classifyParams) (any, error) {
	path, release, err := t.stageRef(stem, ref)
	if err != nil {
		return nil, err
	}
	defer release()
	info, err := requireFile(path)
	if err != nil {
		return nil, err
	}
	if ref.Kind == artifact.KindInline {
		// The staged copy is gone once this returns; report the stem name instead.
		info.Path = ""
		info.Name = ref.Name
	}
	return t.runClassifier(ctx, path, info, params)
}

// stageRef returns a filesystem path holding the content of ref. Inline refs
// are written to the work directory and release removes the copy.
func (t *Toolset) stageRef(stem string, ref artifact.Ref) (string, func(), error) {
	if ref.Kind != artifact.KindInline {
		return ref.Value, func() {}, nil
	}
	data, err := ref.Bytes()
	if err != nil {
		return "", nil, fmt.Errorf("decode %s stem: %w", stem, err)
	}
	if err := os.MkdirAll(t.d.WorkDir, 0o755); err != nil {
		return "", nil, fmt.Errorf("prepare work dir: %w", err)
	}
	tmp, err := os.CreateTemp(t.d.WorkDir, "stem-*-"+ref.Name)
	if err != nil {
		return "", nil, fmt.Errorf("stage %s stem: %w", stem, err)
	}
	release := func() { _ = os.Remove(tmp.Name()) }
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		release()
		return "", nil, fmt.Errorf("stage %s stem: %w", stem, err)
	}
	if err := tmp.Close(); err != nil {
		release()
		return "", nil, fmt.Errorf("stage %s stem: %w", stem, err)
	}
	return tmp.Name(), release, nil
}
