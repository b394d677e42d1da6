package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Server selects the transport binding and where it listens.
type Server struct {
	Transport       string `toml:"transport"`
	ListenHost      string `toml:"listen_host"`
	ListenPort      int    `toml:"listen_port"`
	ShutdownTimeout int    `toml:"shutdown_timeout"`
	MaxRequestBytes int64  `toml:"max_request_bytes"`
}

// Deployment describes where produced artifacts end up.
type Deployment struct {
	Mode       string `toml:"mode"`
	OutputRoot string `toml:"output_root"`
}

// Cache bounds the in-memory result cache.
type Cache struct {
	MaxEntries int `toml:"max_entries"`
	MaxMiB     int `toml:"max_mib"`
}

// Workers sizes the backend worker pool.
type Workers struct {
	CPUSlots int `toml:"cpu_slots"`
	GPUSlots int `toml:"gpu_slots"`
}

// Timeouts holds soft deadlines (seconds) per backend operation. HardLimit
// bounds how long a detached computation may keep running after every caller
// stopped waiting for it.
type Timeouts struct {
	Analysis       int `toml:"analysis"`
	Separation     int `toml:"separation"`
	Classification int `toml:"classification"`
	Visualization  int `toml:"visualization"`
	Inspection     int `toml:"inspection"`
	HardLimit      int `toml:"hard_limit"`
}

// Backends names the external commands that implement the audio operations.
type Backends struct {
	FFprobe    string `toml:"ffprobe"`
	Analyzer   string `toml:"analyzer"`
	Demucs     string `toml:"demucs"`
	Classifier string `toml:"classifier"`
	Plotter    string `toml:"plotter"`
	Device     string `toml:"device"`
	WorkDir    string `toml:"work_dir"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
	File   string `toml:"file"`
}

// Config encapsulates all configuration values for iara.
//
// Configuration sections by subsystem:
//   - Server: transport binding (pipe, http, sse) and listen address
//   - Deployment: local vs remote artifact representation
//   - Cache: result cache entry and byte budgets
//   - Workers: CPU/GPU slots for backend computations
//   - Timeouts: soft deadlines per operation
//   - Backends: external command names
//   - Logging: log format, level, and optional file
type Config struct {
	Server     Server     `toml:"server"`
	Deployment Deployment `toml:"deployment"`
	Cache      Cache      `toml:"cache"`
	Workers    Workers    `toml:"workers"`
	Timeouts   Timeouts   `toml:"timeouts"`
	Backends   Backends   `toml:"backends"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/iara/config.toml")
}

// SampleConfig returns the annotated sample configuration.
func SampleConfig() string {
	return sampleConfig
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("iara.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories the server writes into. The
// output root is only created in local mode; a remote deployment never
// touches it.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Backends.WorkDir}
	if c.Deployment.Mode == ModeLocal {
		dirs = append(dirs, c.Deployment.OutputRoot)
	}
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// ListenAddress joins the configured host and port.
func (c *Config) ListenAddress() string {
	return net.JoinHostPort(c.Server.ListenHost, strconv.Itoa(c.Server.ListenPort))
}

// CacheMaxBytes converts the configured MiB budget into bytes. Zero disables
// the byte bound.
func (c *Config) CacheMaxBytes() int64 {
	return int64(c.Cache.MaxMiB) * 1024 * 1024
}

// ShutdownGrace returns the HTTP shutdown timeout.
func (c *Config) ShutdownGrace() time.Duration {
	return seconds(c.Server.ShutdownTimeout)
}

// SoftDeadlines converts the per-operation timeouts into durations.
func (c *Config) SoftDeadlines() Deadlines {
	return Deadlines{
		Analysis:       seconds(c.Timeouts.Analysis),
		Separation:     seconds(c.Timeouts.Separation),
		Classification: seconds(c.Timeouts.Classification),
		Visualization:  seconds(c.Timeouts.Visualization),
		Inspection:     seconds(c.Timeouts.Inspection),
		HardLimit:      seconds(c.Timeouts.HardLimit),
	}
}

// Deadlines is the duration form of Timeouts.
type Deadlines struct {
	Analysis       time.Duration
	Separation     time.Duration
	Classification time.Duration
	Visualization  time.Duration
	Inspection     time.Duration
	HardLimit      time.Duration
}

func seconds(v int) time.Duration {
	return time.Duration(v) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

func defaultWorkDir() string {
	if base, ok := os.LookupEnv("XDG_CACHE_HOME"); ok && strings.TrimSpace(base) != "" {
		return filepath.Join(base, "iara", "work")
	}
	return "~/.cache/iara/work"
}
