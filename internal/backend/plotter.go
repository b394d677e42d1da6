package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"iara/internal/fileutil"
	"iara/internal/services"
)

// PlotOptions configures one rendering.
type PlotOptions struct {
	Kind      string
	Width     int
	Height    int
	HopLength int
	NFFT      int
}

// Image is a rendered plot.
type Image struct {
	Kind      string
	MediaType string
	Data      []byte
}

// Plotter renders visualizations.
type Plotter interface {
	Plot(ctx context.Context, path string, opts PlotOptions) (Image, error)
}

// ExecPlotter runs a plotting program that writes a PNG to --output.
type ExecPlotter struct {
	binary  string
	workDir string
	exec    Executor
}

// NewExecPlotter builds a plotter writing scratch images under workDir.
func NewExecPlotter(binary, workDir string, opts ...Option) *ExecPlotter {
	o := applyOptions(opts)
	return &ExecPlotter{binary: binary, workDir: workDir, exec: o.exec}
}

func (p *ExecPlotter) Plot(ctx context.Context, path string, opts PlotOptions) (Image, error) {
	if !known(PlotKindNames(), opts.Kind) {
		return Image{}, services.Wrap(services.ErrValidation, "plotter", "plot", fmt.Sprintf("unsupported plot kind %q", opts.Kind), nil)
	}
	if opts.HopLength <= 0 {
		opts.HopLength = DefaultHopLength
	}
	if opts.NFFT <= 0 {
		opts.NFFT = DefaultNFFT
	}
	if err := os.MkdirAll(p.workDir, 0o755); err != nil {
		return Image{}, fmt.Errorf("prepare work dir: %w", err)
	}
	scratch, err := os.MkdirTemp(p.workDir, "plot-")
	if err != nil {
		return Image{}, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)
	output := filepath.Join(scratch, opts.Kind+".png")

	args := []string{
		"--kind", opts.Kind,
		"--hop-length", strconv.Itoa(opts.HopLength),
		"--n-fft", strconv.Itoa(opts.NFFT),
		"--output", output,
	}
	if opts.Width > 0 && opts.Height > 0 {
		args = append(args, "--width", strconv.Itoa(opts.Width), "--height", strconv.Itoa(opts.Height))
	}
	args = append(args, path)

	if _, err := runTool(ctx, p.exec, "plotter", "plot", p.binary, args); err != nil {
		return Image{}, err
	}
	data, err := fileutil.ReadFileLimited(output, maxArtifactBytes)
	if err != nil {
		return Image{}, services.Wrap(services.ErrExternalTool, "plotter", "collect image", "plot image was not produced", err)
	}
	return Image{Kind: opts.Kind, MediaType: "image/png", Data: data}, nil
}
