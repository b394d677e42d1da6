package toolset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"iara/internal/artifact"
	"iara/internal/backend"
	"iara/internal/config"
	"iara/internal/deps"
	"iara/internal/ledger"
	"iara/internal/logging"
	"iara/internal/preflight"
	"iara/internal/resultcache"
	"iara/internal/services"
	"iara/internal/tool"
	"iara/internal/workerpool"
	"iara/internal/workflow"
)

// Deps are the shared components the tools run on.
type Deps struct {
	Backends     *backend.Set
	Cache        *resultcache.Cache[any]
	Pool         *workerpool.Pool
	Resolver     *artifact.Resolver
	Orchestrator *workflow.Orchestrator
	// Ledger is optional; performance_stats omits per-tool timing without it.
	Ledger    *ledger.Store
	Deadlines config.Deadlines
	// Statuses reports backend availability, decided once at startup.
	Statuses  []deps.Status
	Transport string
	Version   string
	WorkDir   string
	Logger    *slog.Logger
}

// Toolset holds the handlers.
type Toolset struct {
	d         Deps
	available map[string]deps.Status
	logger    *slog.Logger
	started   time.Time
}

// New validates deps and builds a toolset.
func New(d Deps) (*Toolset, error) {
	switch {
	case d.Backends == nil:
		return nil, errors.New("toolset requires backends")
	case d.Cache == nil:
		return nil, errors.New("toolset requires a result cache")
	case d.Pool == nil:
		return nil, errors.New("toolset requires a worker pool")
	case d.Resolver == nil:
		return nil, errors.New("toolset requires an artifact resolver")
	case d.Orchestrator == nil:
		return nil, errors.New("toolset requires a workflow orchestrator")
	}
	if d.Version == "" {
		d.Version = "dev"
	}
	if d.WorkDir == "" {
		d.WorkDir = os.TempDir()
	}
	return &Toolset{
		d:         d,
		available: deps.Index(d.Statuses),
		logger:    logging.NewComponentLogger(d.Logger, "toolset"),
		started:   time.Now(),
	}, nil
}

// Register adds every tool to reg.
func (t *Toolset) Register(reg *tool.Registry) error {
	specs := []tool.Spec{
		t.statusSpec(),
		t.validateSpec(),
		t.analyzeSpec(),
		t.separateSpec(),
		t.separationModelsSpec(),
		t.classifySpec(),
		t.classifierInfoSpec(),
		t.plotSpec(),
		t.plotTypesSpec(),
		t.exploreSpec(),
		t.workflowSpec(),
		t.reportSpec(),
		t.compareSpec(),
		t.stemPlotsSpec(),
		t.profileSpec(),
		t.purgeSpec(),
		t.performanceSpec(),
	}
	for _, spec := range specs {
		if err := reg.Register(spec); err != nil {
			return err
		}
	}
	return nil
}

// unavailable returns the reason the first missing backend cannot serve
// calls, or "".
func (t *Toolset) unavailable(backendNames ...string) string {
	for _, name := range backendNames {
		status, ok := t.available[name]
		if !ok || status.Available {
			continue
		}
		if status.Detail != "" {
			return fmt.Sprintf("%s backend is not installed (%s)", name, status.Detail)
		}
		return fmt.Sprintf("%s backend is not installed", name)
	}
	return ""
}

// requireBackend fails with the same message an unavailable tool gives, for
// workflow steps that reach a missing backend.
func (t *Toolset) requireBackend(backendName string) error {
	if reason := t.unavailable(backendName); reason != "" {
		return tool.Errorf(tool.KindBackendFailure, "Unavailable: %s", reason)
	}
	return nil
}

// FileInfo describes an input file in results.
type FileInfo struct {
	Path      string `json:"path"`
	Name      string `json:"name"`
	Format    string `json:"format,omitempty"`
	SizeBytes int64  `json:"size_bytes"`
}

// requireFile confirms path is an existing regular file.
func requireFile(path string) (FileInfo, error) {
	path = strings.TrimSpace(path)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return FileInfo{}, services.Wrap(services.ErrNotFound, "input", "stat", fmt.Sprintf("file not found: %s", path), nil)
		}
		return FileInfo{}, services.Wrap(services.ErrExternalTool, "input", "stat", "cannot read input", err)
	}
	if info.IsDir() {
		return FileInfo{}, services.Wrap(services.ErrNotFound, "input", "stat", fmt.Sprintf("%s is a directory", path), nil)
	}
	fi := FileInfo{Path: path, Name: filepath.Base(path), SizeBytes: info.Size()}
	if f, ok := backend.FormatForPath(path); ok {
		fi.Format = f.Name
	}
	return fi, nil
}

// cached runs compute under key through the shared cache.
func (t *Toolset) cached(ctx context.Context, key string, compute func(context.Context) (any, error)) (any, error) {
	return t.d.Cache.GetOrCompute(ctx, key, compute)
}

// withDeadline bounds how long a standalone tool call waits.
func withDeadline(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// deadlineError rewrites a soft deadline expiry into a Timeout that tells the
// caller the work is still running.
func deadlineError(operation string, limit time.Duration, err error) error {
	if err == nil || !services.IsTimeout(err) {
		return err
	}
	return tool.Errorf(tool.KindTimeout, "%s did not finish within %s; the computation continues and a repeated call will be served from cache", operation, limit)
}

// poolClass picks the slot family for separation.
func (t *Toolset) poolClass() workerpool.Class {
	if t.d.Backends.PrefersGPU() {
		return workerpool.GPU
	}
	return workerpool.CPU
}

func seconds(d time.Duration) float64 {
	return float64(d.Round(time.Millisecond)) / float64(time.Second)
}

// backend names as reported by preflight.CheckSystemDeps.
const (
	backendFFprobe    = preflight.BackendFFprobe
	backendAnalyzer   = preflight.BackendAnalyzer
	backendDemucs     = preflight.BackendDemucs
	backendClassifier = preflight.BackendClassifier
	backendPlotter    = preflight.BackendPlotter
)
