package toolset

import (
	"context"
	"strings"
	"time"

	"iara/internal/artifact"
	"iara/internal/backend"
	"iara/internal/resultcache"
	"iara/internal/tool"
	"iara/internal/workerpool"
)

// SeparationMetadata describes one separation run.
type SeparationMetadata struct {
	FileInfo              FileInfo `json:"file_info"`
	ModelUsed             string   `json:"model_used"`
	ModelDescription      string   `json:"model_description"`
	Device                string   `json:"device"`
	OutputFormat          string   `json:"output_format"`
	ProcessingTimeSeconds float64  `json:"processing_time_seconds"`
}

// SeparationResult is the payload of separate. Stems maps each stem name to
// its artifact ref.
type SeparationResult struct {
	Metadata SeparationMetadata      `json:"metadata"`
	Method   string                  `json:"method"`
	Stems    map[string]artifact.Ref `json:"stems"`
	// Key is the cache key of this separation; derived results use it as
	// their input identity.
	Key string `json:"-"`
}

type separateParams struct {
	Model  string `json:"model"`
	Format string `json:"format"`
	Device string `json:"device"`
}

func (t *Toolset) separateSpec() tool.Spec {
	return tool.Spec{
		Name:        "separate",
		Description: "Split a mix into drums, bass, other and vocals stems with Demucs.",
		Schema: tool.Object(map[string]*tool.Property{
			"file_path": tool.StringProperty("Path to the audio file"),
			"model":     tool.EnumProperty("Demucs model", backend.ModelNames()...).WithDefault(backend.DefaultModel),
			"format":    tool.EnumProperty("Stem encoding", backend.StemFormats...).WithDefault("wav"),
		}, "file_path"),
		Effect:      tool.EffectArtifactProducing,
		Unavailable: t.unavailable(backendDemucs),
		Handler: func(ctx context.Context, args tool.Arguments) (any, error) {
			ctx, cancel := withDeadline(ctx, t.d.Deadlines.Separation)
			defer cancel()
			res, err := t.separate(ctx, args.String("file_path"), separateParams{
				Model:  args.String("model"),
				Format: args.String("format"),
			})
			if err != nil {
				return nil, deadlineError("separate", t.d.Deadlines.Separation, err)
			}
			return res, nil
		},
	}
}

func (t *Toolset) separate(ctx context.Context, path string, params separateParams) (SeparationResult, error) {
	if err := t.requireBackend(backendDemucs); err != nil {
		return SeparationResult{}, err
	}
	path = strings.TrimSpace(path)
	info, err := requireFile(path)
	if err != nil {
		return SeparationResult{}, err
	}
	if params.Model == "" {
		params.Model = backend.DefaultModel
	}
	if params.Format == "" {
		params.Format = "wav"
	}
	params.Device = t.d.Backends.Device
	key, err := resultcache.KeyForFiles("separate", params, path)
	if err != nil {
		return SeparationResult{}, err
	}
	v, err := t.cached(ctx, key, func(ctx context.Context) (any, error) {
		return workerpool.Do(ctx, t.d.Pool, t.poolClass(), func(ctx context.Context) (any, error) {
			start := time.Now()
			out, err := t.d.Backends.Separator.Separate(ctx, path, backend.SeparateOptions{
				Model:  params.Model,
				Format: params.Format,
				Device: params.Device,
			})
			if err != nil {
				return nil, err
			}
			artifacts := make([]artifact.Artifact, 0, len(out.Stems))
			for _, stem := range out.Stems {
				artifacts = append(artifacts, artifact.Artifact{
					Source:    path,
					Operation: "separate",
					Label:     stem.Name,
					Extension: stem.Extension,
					MediaType: backend.StemMediaType(stem.Extension),
					Data:      stem.Data,
				})
			}
			refs, err := t.d.Resolver.ResolveAll(ctx, artifacts)
			if err != nil {
				return nil, err
			}
			return SeparationResult{
				Metadata: SeparationMetadata{
					FileInfo:              info,
					ModelUsed:             out.Model,
					ModelDescription:      modelDescription(out.Model),
					Device:                out.Device,
					OutputFormat:          out.Format,
					ProcessingTimeSeconds: seconds(time.Since(start)),
				},
				Method: "demucs",
				Stems:  refs,
				Key:    key,
			}, nil
		})
	})
	if err != nil {
		return SeparationResult{}, err
	}
	return v.(SeparationResult), nil
}

func modelDescription(name string) string {
	for _, m := range backend.SeparationModels {
		if m.Name == name {
			return m.Description
		}
	}
	return ""
}
