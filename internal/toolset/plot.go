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

// PlotResult is the payload of plot.
type PlotResult struct {
	FileInfo              FileInfo     `json:"file_info"`
	Kind                  string       `json:"plot_type"`
	Description           string       `json:"description"`
	Plot                  artifact.Ref `json:"plot"`
	ProcessingTimeSeconds float64      `json:"processing_time_seconds"`
}

type plotParams struct {
	Kind      string `json:"kind"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	HopLength int    `json:"hop_length"`
	NFFT      int    `json:"n_fft"`
}

func (t *Toolset) plotSpec() tool.Spec {
	return tool.Spec{
		Name:        "plot",
		Description: "Render a waveform, spectrogram or feature overview of an audio file as a PNG.",
		Schema: tool.Object(map[string]*tool.Property{
			"file_path":  tool.StringProperty("Path to the audio file"),
			"kind":       tool.EnumProperty("Visualization to render", backend.PlotKindNames()...).WithDefault("mel_spectrogram"),
			"width":      tool.IntegerProperty("Image width in pixels").Between(200, 8000),
			"height":     tool.IntegerProperty("Image height in pixels").Between(200, 8000),
			"hop_length": tool.IntegerProperty("STFT hop length in samples").Between(64, 16384).WithDefault(backend.DefaultHopLength),
			"n_fft":      tool.IntegerProperty("FFT window size in samples").Between(128, 32768).WithDefault(backend.DefaultNFFT),
		}, "file_path"),
		Effect:      tool.EffectArtifactProducing,
		Unavailable: t.unavailable(backendPlotter),
		Handler: func(ctx context.Context, args tool.Arguments) (any, error) {
			ctx, cancel := withDeadline(ctx, t.d.Deadlines.Visualization)
			defer cancel()
			res, err := t.plot(ctx, args.String("file_path"), plotParams{
				Kind:      args.String("kind"),
				Width:     args.Int("width"),
				Height:    args.Int("height"),
				HopLength: args.Int("hop_length"),
				NFFT:      args.Int("n_fft"),
			})
			return res, deadlineError("plot", t.d.Deadlines.Visualization, err)
		},
	}
}

func (t *Toolset) plot(ctx context.Context, path string, params plotParams) (any, error) {
	if err := t.requireBackend(backendPlotter); err != nil {
		return nil, err
	}
	path = strings.TrimSpace(path)
	info, err := requireFile(path)
	if err != nil {
		return nil, err
	}
	params.normalize()
	key, err := resultcache.KeyForFiles("plot", params, path)
	if err != nil {
		return nil, err
	}
	return t.cached(ctx, key, func(ctx context.Context) (any, error) {
		return t.renderPlot(ctx, path, info, artifact.Artifact{Source: path, Operation: "plot", Label: params.Kind}, params)
	})
}

func (p *plotParams) normalize() {
	if p.Kind == "" {
		p.Kind = "mel_spectrogram"
	}
	if p.HopLength <= 0 {
		p.HopLength = backend.DefaultHopLength
	}
	if p.NFFT <= 0 {
		p.NFFT = backend.DefaultNFFT
	}
	if p.Width <= 0 || p.Height <= 0 {
		p.Width, p.Height = 0, 0
	}
}

// renderPlot draws input and resolves the image as out, which carries the
// naming fields of the artifact.
func (t *Toolset) renderPlot(ctx context.Context, input string, info FileInfo, out artifact.Artifact, params plotParams) (any, error) {
	return workerpool.Do(ctx, t.d.Pool, workerpool.CPU, func(ctx context.Context) (any, error) {
		start := time.Now()
		img, err := t.d.Backends.Plotter.Plot(ctx, input, backend.PlotOptions{
			Kind:      params.Kind,
			Width:     params.Width,
			Height:    params.Height,
			HopLength: params.HopLength,
			NFFT:      params.NFFT,
		})
		if err != nil {
			return nil, err
		}
		out.Extension = "png"
		out.MediaType = img.MediaType
		out.Data = img.Data
		ref, err := t.d.Resolver.Resolve(ctx, out)
		if err != nil {
			return nil, err
		}
		return PlotResult{
			FileInfo:              info,
			Kind:                  params.Kind,
			Description:           plotDescription(params.Kind),
			Plot:                  ref,
			ProcessingTimeSeconds: seconds(time.Since(start)),
		}, nil
	})
}

func plotDescription(kind string) string {
	for _, k := range backend.PlotKinds {
		if k.Name == kind {
			return k.Description
		}
	}
	return ""
}
