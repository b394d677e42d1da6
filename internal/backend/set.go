package backend

import (
	"iara/internal/config"
	"iara/internal/media/ffprobe"
)

// Set bundles one implementation of every backend concern.
type Set struct {
	Analyzer   Analyzer
	Separator  Separator
	Classifier Classifier
	Plotter    Plotter
	Inspector  Inspector
	// Device is the configured accelerator: auto, cpu, cuda or mps.
	Device string
}

// NewSet builds exec-backed implementations from configuration.
func NewSet(cfg *config.Config, runner ffprobe.Runner, opts ...Option) *Set {
	b := cfg.Backends
	return &Set{
		Analyzer:   NewExecAnalyzer(b.Analyzer, opts...),
		Separator:  NewDemucsSeparator(b.Demucs, b.WorkDir, opts...),
		Classifier: NewExecClassifier(b.Classifier, opts...),
		Plotter:    NewExecPlotter(b.Plotter, b.WorkDir, opts...),
		Inspector:  NewFFprobeInspector(b.FFprobe, runner),
		Device:     b.Device,
	}
}

// PrefersGPU reports whether separation should ask the pool for a GPU slot.
func (s *Set) PrefersGPU() bool {
	return s.Device != "cpu"
}
