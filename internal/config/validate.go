package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateDeployment(); err != nil {
		return err
	}
	if err := c.validateCache(); err != nil {
		return err
	}
	if err := c.validateTimeouts(); err != nil {
		return err
	}
	if err := c.validateBackends(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateServer() error {
	switch c.Server.Transport {
	case TransportPipe, TransportHTTP, TransportSSE:
	default:
		return fmt.Errorf("server.transport: unsupported value %q (want pipe, http, or sse)", c.Server.Transport)
	}
	if c.Server.Transport == TransportPipe {
		return nil
	}
	if c.Server.ListenPort < 0 || c.Server.ListenPort > 65535 {
		return fmt.Errorf("server.listen_port: %d is out of range", c.Server.ListenPort)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("server.shutdown_timeout must be positive (seconds)")
	}
	return nil
}

func (c *Config) validateDeployment() error {
	switch c.Deployment.Mode {
	case ModeLocal:
		if strings.TrimSpace(c.Deployment.OutputRoot) == "" {
			return errors.New("deployment.output_root must be set when deployment.mode is local")
		}
	case ModeRemote:
	default:
		return fmt.Errorf("deployment.mode: unsupported value %q (want local or remote)", c.Deployment.Mode)
	}
	return nil
}

func (c *Config) validateCache() error {
	if c.Cache.MaxEntries < 0 {
		return errors.New("cache.max_entries must not be negative")
	}
	if c.Cache.MaxMiB < 0 {
		return errors.New("cache.max_mib must not be negative")
	}
	if c.Cache.MaxEntries == 0 && c.Cache.MaxMiB == 0 {
		return errors.New("cache.max_entries and cache.max_mib cannot both be zero; set at least one bound")
	}
	return nil
}

func (c *Config) validateTimeouts() error {
	if err := ensurePositiveMap(map[string]int{
		"timeouts.analysis":       c.Timeouts.Analysis,
		"timeouts.separation":     c.Timeouts.Separation,
		"timeouts.classification": c.Timeouts.Classification,
		"timeouts.visualization":  c.Timeouts.Visualization,
		"timeouts.inspection":     c.Timeouts.Inspection,
		"timeouts.hard_limit":     c.Timeouts.HardLimit,
	}); err != nil {
		return err
	}
	longest := max(c.Timeouts.Analysis, c.Timeouts.Separation, c.Timeouts.Classification, c.Timeouts.Visualization, c.Timeouts.Inspection)
	if c.Timeouts.HardLimit < longest {
		return errors.New("timeouts.hard_limit must be at least as long as every soft deadline")
	}
	return nil
}

func (c *Config) validateBackends() error {
	switch c.Backends.Device {
	case "auto", "cpu", "cuda", "mps":
	default:
		return fmt.Errorf("backends.device: unsupported value %q (want auto, cpu, cuda, or mps)", c.Backends.Device)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
