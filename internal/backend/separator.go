package backend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"iara/internal/fileutil"
	"iara/internal/services"
)

// SeparateOptions configures one Demucs run.
type SeparateOptions struct {
	Model  string
	Format string
	// Device is auto, cpu, cuda or mps. Auto lets Demucs decide.
	Device string
}

// Stem is one separated source, held in memory until the artifact resolver
// decides its representation.
type Stem struct {
	Name      string
	Extension string
	Data      []byte
}

// Separation is the set of stems produced for one input.
type Separation struct {
	Model  string
	Format string
	Device string
	Stems  []Stem
}

// Separator splits a mix into stems.
type Separator interface {
	Separate(ctx context.Context, path string, opts SeparateOptions) (Separation, error)
}

// DemucsSeparator shells out to the demucs CLI.
type DemucsSeparator struct {
	binary  string
	workDir string
	exec    Executor
}

// NewDemucsSeparator builds a separator writing scratch output under workDir.
func NewDemucsSeparator(binary, workDir string, opts ...Option) *DemucsSeparator {
	o := applyOptions(opts)
	return &DemucsSeparator{binary: binary, workDir: workDir, exec: o.exec}
}

// DemucsArgs builds the demucs command line.
func DemucsArgs(path, outDir string, opts SeparateOptions) []string {
	args := []string{"-n", opts.Model, "-o", outDir}
	switch opts.Format {
	case "mp3":
		args = append(args, "--mp3")
	case "flac":
		args = append(args, "--flac")
	}
	if opts.Device != "" && opts.Device != "auto" {
		args = append(args, "-d", opts.Device)
	}
	return append(args, path)
}

func (s *DemucsSeparator) Separate(ctx context.Context, path string, opts SeparateOptions) (Separation, error) {
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.Format == "" {
		opts.Format = "wav"
	}
	if !known(ModelNames(), opts.Model) {
		return Separation{}, services.Wrap(services.ErrValidation, "demucs", "separate", fmt.Sprintf("unsupported model %q", opts.Model), nil)
	}
	if !known(StemFormats, opts.Format) {
		return Separation{}, services.Wrap(services.ErrValidation, "demucs", "separate", fmt.Sprintf("unsupported format %q", opts.Format), nil)
	}
	if err := os.MkdirAll(s.workDir, 0o755); err != nil {
		return Separation{}, fmt.Errorf("prepare work dir: %w", err)
	}
	outDir, err := os.MkdirTemp(s.workDir, "separate-")
	if err != nil {
		return Separation{}, fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(outDir)

	if _, err := runTool(ctx, s.exec, "demucs", "separate", s.binary, DemucsArgs(path, outDir, opts)); err != nil {
		return Separation{}, err
	}

	// demucs writes <out>/<model>/<input base>/<stem>.<ext>
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	stemDir := filepath.Join(outDir, opts.Model, base)
	result := Separation{Model: opts.Model, Format: opts.Format, Device: opts.Device}
	for _, name := range Stems {
		data, err := fileutil.ReadFileLimited(filepath.Join(stemDir, name+"."+opts.Format), maxArtifactBytes)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Separation{}, services.Wrap(services.ErrExternalTool, "demucs", "collect stems", fmt.Sprintf("stem %s was not produced", name), err)
			}
			return Separation{}, fmt.Errorf("read stem %s: %w", name, err)
		}
		result.Stems = append(result.Stems, Stem{Name: name, Extension: opts.Format, Data: data})
	}
	return result, nil
}
