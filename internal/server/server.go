package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gofrs/flock"

	"iara/internal/artifact"
	"iara/internal/backend"
	"iara/internal/config"
	"iara/internal/deps"
	"iara/internal/ledger"
	"iara/internal/logging"
	"iara/internal/preflight"
	"iara/internal/resultcache"
	"iara/internal/tool"
	"iara/internal/toolset"
	"iara/internal/transport"
	"iara/internal/workerpool"
	"iara/internal/workflow"
)

// Options configures App construction.
type Options struct {
	Version string
	Logger  *slog.Logger
	// Backends replaces the exec-backed backend set.
	Backends *backend.Set
	// Statuses replaces the startup binary checks.
	Statuses []deps.Status
}

// App is a fully wired server.
type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	version    string
	Registry   *tool.Registry
	Dispatcher *transport.Dispatcher
	Cache      *resultcache.Cache[any]
	Pool       *workerpool.Pool
	Ledger     *ledger.Store
	lock       *flock.Flock
}

// New builds every component. The caller must Close the App.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	statuses := opts.Statuses
	if statuses == nil {
		statuses = preflight.CheckSystemDeps(cfg)
	}
	logDependencySnapshot(logger, statuses)

	backends := opts.Backends
	if backends == nil {
		backends = backend.NewSet(cfg, nil)
	}
	deadlines := cfg.SoftDeadlines()

	cache, err := resultcache.New[any](resultcache.Options{
		MaxEntries: cfg.Cache.MaxEntries,
		MaxBytes:   cfg.CacheMaxBytes(),
		HardLimit:  deadlines.HardLimit,
		Logger:     logger,
	}, resultcache.JSONSize)
	if err != nil {
		return nil, fmt.Errorf("create result cache: %w", err)
	}
	pool := workerpool.New(cfg.Workers.CPUSlots, cfg.Workers.GPUSlots, logger)
	resolver, err := artifact.NewResolver(artifact.EnvironmentFromConfig(cfg), logger)
	if err != nil {
		return nil, fmt.Errorf("create artifact resolver: %w", err)
	}
	led, err := ledger.Open(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("open call ledger: %w", err)
	}

	version := opts.Version
	if version == "" {
		version = "dev"
	}
	ts, err := toolset.New(toolset.Deps{
		Backends:     backends,
		Cache:        cache,
		Pool:         pool,
		Resolver:     resolver,
		Orchestrator: workflow.New(workflow.Options{Logger: logger}),
		Ledger:       led,
		Deadlines:    deadlines,
		Statuses:     statuses,
		Transport:    cfg.Server.Transport,
		Version:      version,
		WorkDir:      cfg.Backends.WorkDir,
		Logger:       logger,
	})
	if err != nil {
		_ = led.Close()
		return nil, err
	}
	reg := tool.NewRegistry()
	if err := ts.Register(reg); err != nil {
		_ = led.Close()
		return nil, fmt.Errorf("register tools: %w", err)
	}

	return &App{
		cfg:      cfg,
		logger:   logger,
		version:  version,
		Registry: reg,
		Dispatcher: transport.NewDispatcher(reg, transport.Options{
			Transport: cfg.Server.Transport,
			Ledger:    led,
			Logger:    logger,
		}),
		Cache:  cache,
		Pool:   pool,
		Ledger: led,
		lock:   flock.New(filepath.Join(cfg.Backends.WorkDir, "iara-server.lock")),
	}, nil
}

// Serve runs the configured binding until ctx ends or, for pipe, input
// closes. stdin and stdout are only used by the pipe binding.
func (a *App) Serve(ctx context.Context, stdin io.Reader, stdout io.Writer) error {
	switch a.cfg.Server.Transport {
	case config.TransportPipe:
		return transport.NewPipe(a.Dispatcher, a.cfg.Server.MaxRequestBytes, a.logger).Serve(ctx, stdin, stdout)
	case config.TransportHTTP, config.TransportSSE:
		if err := a.lockInstance(); err != nil {
			return err
		}
		ln, err := net.Listen("tcp", a.cfg.ListenAddress())
		if err != nil {
			return fmt.Errorf("listen on %s: %w", a.cfg.ListenAddress(), err)
		}
		handler := transport.NewHandler(a.Dispatcher, transport.HTTPOptions{
			MaxRequestBytes: a.cfg.Server.MaxRequestBytes,
			Version:         a.version,
			Streaming:       a.cfg.Server.Transport == config.TransportSSE,
			Logger:          a.logger,
		})
		return transport.Serve(ctx, ln, handler, a.cfg.ShutdownGrace(), a.logger)
	default:
		return fmt.Errorf("unsupported transport %q", a.cfg.Server.Transport)
	}
}

func (a *App) lockInstance() error {
	ok, err := a.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire server lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("another iara server is already using %s", a.cfg.Backends.WorkDir)
	}
	return nil
}

// Close releases the ledger and the instance lock.
func (a *App) Close() error {
	if a.lock.Locked() {
		if err := a.lock.Unlock(); err != nil {
			a.logger.Warn("failed to release server lock",
				logging.Error(err),
				logging.String(logging.FieldEventType, "server_lock_release_failed"),
				logging.String(logging.FieldErrorHint, "remove "+a.lock.Path()+" if the next start reports a running server"),
			)
		}
	}
	return a.Ledger.Close()
}

// Run loads logging, builds the App, and serves on stdin/stdout or the
// network until SIGINT or SIGTERM.
func Run(ctx context.Context, cfg *config.Config, version string) error {
	if cfg == nil {
		return errors.New("config is required")
	}
	signalCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	app, err := New(signalCtx, cfg, Options{Version: version, Logger: logger})
	if err != nil {
		return err
	}
	defer app.Close()

	logger.Info("iara starting",
		logging.String("version", app.version),
		logging.String("transport", cfg.Server.Transport),
		logging.String("deployment_mode", cfg.Deployment.Mode),
		logging.Int("tools", len(app.Registry.Names())),
	)
	if err := app.Serve(signalCtx, os.Stdin, os.Stdout); err != nil {
		logging.ErrorWithContext(logger, "server stopped", "server_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the listen address and the work directory lock"),
		)
		return err
	}
	logger.Info("iara shutting down")
	return nil
}

func logDependencySnapshot(logger *slog.Logger, statuses []deps.Status) {
	available := 0
	for _, s := range statuses {
		if s.Available {
			available++
			continue
		}
		logging.WarnWithContext(logger, "backend unavailable", "backend_unavailable",
			logging.String("backend", s.Name),
			logging.String("command", s.Command),
			logging.String("detail", s.Detail),
			logging.String(logging.FieldErrorHint, "install the command or set its path under [backends]; dependent tools answer Unavailable"),
		)
	}
	logger.Info("dependency snapshot",
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.Int("available", available),
		logging.Int("total", len(statuses)),
	)
}
