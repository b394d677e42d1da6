package artifact

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"iara/internal/config"
	"iara/internal/fileutil"
	"iara/internal/logging"
	"iara/internal/services"
	"iara/internal/textutil"
)

// Kind is the representation of a resolved artifact.
type Kind string

const (
	KindPath   Kind = "path"
	KindInline Kind = "inline"
)

const lockFileName = ".iara-artifacts.lock"

// Environment is the process-wide deployment setting.
type Environment struct {
	Mode       string
	OutputRoot string
}

// EnvironmentFromConfig extracts the deployment environment.
func EnvironmentFromConfig(cfg *config.Config) Environment {
	if cfg == nil {
		return Environment{Mode: config.ModeRemote}
	}
	return Environment{Mode: cfg.Deployment.Mode, OutputRoot: cfg.Deployment.OutputRoot}
}

// Artifact is a produced file awaiting a representation decision.
type Artifact struct {
	// Source is the input file the artifact was derived from.
	Source string
	// Operation names the producing tool, e.g. "separate" or "plot".
	Operation string
	// Label distinguishes siblings from one operation, e.g. the stem name.
	Label     string
	Extension string
	MediaType string
	Data      []byte
}

// Ref is the caller-facing handle to an artifact. Value is a filesystem path
// for KindPath and base64 data for KindInline.
type Ref struct {
	Kind      Kind   `json:"kind"`
	Value     string `json:"value"`
	Name      string `json:"name"`
	MediaType string `json:"media_type,omitempty"`
	SizeBytes int    `json:"size_bytes"`
}

// Bytes returns the artifact content for either representation.
func (r Ref) Bytes() ([]byte, error) {
	switch r.Kind {
	case KindInline:
		return base64.StdEncoding.DecodeString(r.Value)
	case KindPath:
		return os.ReadFile(r.Value)
	default:
		return nil, fmt.Errorf("unknown artifact kind %q", r.Kind)
	}
}

// Resolver turns artifacts into refs according to its environment.
type Resolver struct {
	env    Environment
	logger *slog.Logger

	// mu serializes writers inside the process; the file lock covers other
	// processes sharing the output root.
	mu   sync.Mutex
	lock *flock.Flock
}

// NewResolver validates env and builds a resolver.
func NewResolver(env Environment, logger *slog.Logger) (*Resolver, error) {
	env.Mode = strings.ToLower(strings.TrimSpace(env.Mode))
	env.OutputRoot = strings.TrimSpace(env.OutputRoot)
	r := &Resolver{env: env, logger: logging.NewComponentLogger(logger, "artifact")}
	switch env.Mode {
	case config.ModeRemote:
	case config.ModeLocal:
		if env.OutputRoot == "" {
			return nil, services.Wrap(services.ErrConfiguration, "artifact", "new resolver", "local mode requires an output root", nil)
		}
		root, err := filepath.Abs(env.OutputRoot)
		if err != nil {
			return nil, fmt.Errorf("resolve output root: %w", err)
		}
		r.env.OutputRoot = root
		r.lock = flock.New(filepath.Join(root, lockFileName))
	default:
		return nil, services.Wrap(services.ErrConfiguration, "artifact", "new resolver", fmt.Sprintf("unsupported deployment mode %q", env.Mode), nil)
	}
	return r, nil
}

// Environment returns the resolver's fixed environment.
func (r *Resolver) Environment() Environment {
	return r.env
}

// Resolve returns the ref for a single artifact.
func (r *Resolver) Resolve(ctx context.Context, a Artifact) (Ref, error) {
	if len(a.Data) == 0 {
		return Ref{}, errors.New("artifact has no content")
	}
	name := FileName(a)
	if r.env.Mode == config.ModeRemote {
		return Ref{
			Kind:      KindInline,
			Value:     base64.StdEncoding.EncodeToString(a.Data),
			Name:      name,
			MediaType: a.MediaType,
			SizeBytes: len(a.Data),
		}, nil
	}

	path, err := r.writeLocal(ctx, a, name)
	if err != nil {
		return Ref{}, err
	}
	return Ref{
		Kind:      KindPath,
		Value:     path,
		Name:      name,
		MediaType: a.MediaType,
		SizeBytes: len(a.Data),
	}, nil
}

// ResolveAll resolves a set of labelled artifacts, keyed by label.
func (r *Resolver) ResolveAll(ctx context.Context, artifacts []Artifact) (map[string]Ref, error) {
	refs := make(map[string]Ref, len(artifacts))
	for _, a := range artifacts {
		ref, err := r.Resolve(ctx, a)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", a.Label, err)
		}
		refs[a.Label] = ref
	}
	return refs, nil
}

func (r *Resolver) writeLocal(ctx context.Context, a Artifact, name string) (string, error) {
	dir := filepath.Join(r.env.OutputRoot, textutil.SanitizeToken(a.Operation))
	path := filepath.Join(dir, name)

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(r.env.OutputRoot, 0o755); err != nil {
		return "", fmt.Errorf("create output root: %w", err)
	}
	locked, err := r.lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return "", fmt.Errorf("lock output root: %w", err)
	}
	if !locked {
		return "", errors.New("lock output root: not acquired")
	}
	defer func() {
		if err := r.lock.Unlock(); err != nil {
			r.logger.Warn("failed to release artifact lock", logging.Error(err))
		}
	}()

	// Names embed a content hash, so an existing file already holds these bytes.
	if info, err := os.Stat(path); err == nil && info.Size() == int64(len(a.Data)) {
		return path, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}
	if err := fileutil.WriteFileAtomic(path, a.Data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	logging.WithContext(ctx, r.logger).Debug("artifact written",
		logging.String("path", path),
		logging.Int("size_bytes", len(a.Data)),
	)
	return path, nil
}

// FileName derives a collision-resistant name from the source file, the
// operation, the label and the content hash:
// <source>-<operation>[-<label>]-<hash10>.<ext>
func FileName(a Artifact) string {
	parts := []string{textutil.BaseToken(a.Source), textutil.SanitizeToken(a.Operation)}
	if strings.TrimSpace(a.Label) != "" {
		parts = append(parts, textutil.SanitizeToken(a.Label))
	}
	digest := fileutil.HashBytes([]byte(a.Source + "\x00" + a.Operation + "\x00" + a.Label + "\x00" + fileutil.HashBytes(a.Data)))
	parts = append(parts, digest[:10])
	name := strings.Join(parts, "-")
	if ext := strings.TrimPrefix(strings.TrimSpace(a.Extension), "."); ext != "" {
		name += "." + textutil.SanitizeToken(ext)
	}
	return name
}
