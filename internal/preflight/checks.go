package preflight

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"iara/internal/config"
	"iara/internal/deps"
)

// Backend names as reported by CheckSystemDeps.
const (
	BackendFFprobe    = "FFprobe"
	BackendAnalyzer   = "Analyzer"
	BackendDemucs     = "Demucs"
	BackendClassifier = "Classifier"
	BackendPlotter    = "Plotter"
	BackendNvidiaSMI  = "nvidia-smi"
)

// CheckDirectoryAccess verifies that path exists, is a directory, and is
// readable, writable, and traversable by the current user.
func CheckDirectoryAccess(name, path string) Result {
	if path == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckSystemDeps evaluates every backend command for the given config. All
// backends are optional: the server starts without them and the affected
// tools report Unavailable.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	if cfg == nil {
		return nil
	}
	requirements := []deps.Requirement{
		{
			Name:        BackendFFprobe,
			Command:     cfg.Backends.FFprobe,
			Description: "Audio validation and stream inspection",
			Optional:    true,
		},
		{
			Name:        BackendAnalyzer,
			Command:     cfg.Backends.Analyzer,
			Description: "Feature extraction (tempo, key, spectral)",
			Optional:    true,
		},
		{
			Name:        BackendDemucs,
			Command:     cfg.Backends.Demucs,
			Description: "Stem separation",
			Optional:    true,
		},
		{
			Name:        BackendClassifier,
			Command:     cfg.Backends.Classifier,
			Description: "Instrument classification",
			Optional:    true,
		},
		{
			Name:        BackendPlotter,
			Command:     cfg.Backends.Plotter,
			Description: "Waveform and spectrogram rendering",
			Optional:    true,
		},
	}
	if cfg.Backends.Device == "cuda" {
		requirements = append(requirements, deps.Requirement{
			Name:        BackendNvidiaSMI,
			Command:     "nvidia-smi",
			Description: "CUDA device visibility for separation",
			Optional:    true,
		})
	}
	return deps.CheckBinaries(requirements)
}
