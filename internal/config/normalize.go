package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizeServer(); err != nil {
		return err
	}
	if err := c.normalizeDeployment(); err != nil {
		return err
	}
	if err := c.normalizeBackends(); err != nil {
		return err
	}
	c.normalizeWorkers()
	if err := c.normalizeLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) normalizeServer() error {
	if value, ok := os.LookupEnv("IARA_TRANSPORT"); ok && strings.TrimSpace(value) != "" {
		c.Server.Transport = value
	}
	c.Server.Transport = strings.ToLower(strings.TrimSpace(c.Server.Transport))
	if c.Server.Transport == "" {
		c.Server.Transport = defaultTransport
	}
	// stdio is accepted as an alias.
	if c.Server.Transport == "stdio" {
		c.Server.Transport = TransportPipe
	}
	c.Server.ListenHost = strings.TrimSpace(c.Server.ListenHost)
	if c.Server.ListenHost == "" {
		c.Server.ListenHost = defaultListenHost
	}
	if value, ok := os.LookupEnv("IARA_LISTEN_PORT"); ok && strings.TrimSpace(value) != "" {
		port, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("IARA_LISTEN_PORT: %w", err)
		}
		c.Server.ListenPort = port
	}
	if c.Server.MaxRequestBytes <= 0 {
		c.Server.MaxRequestBytes = defaultMaxRequestBytes
	}
	return nil
}

func (c *Config) normalizeDeployment() error {
	if value, ok := os.LookupEnv("IARA_DEPLOYMENT_MODE"); ok && strings.TrimSpace(value) != "" {
		c.Deployment.Mode = value
	}
	c.Deployment.Mode = strings.ToLower(strings.TrimSpace(c.Deployment.Mode))
	if c.Deployment.Mode == "" {
		c.Deployment.Mode = defaultDeploymentMode
	}
	if value, ok := os.LookupEnv("IARA_OUTPUT_ROOT"); ok && strings.TrimSpace(value) != "" {
		c.Deployment.OutputRoot = value
	}
	c.Deployment.OutputRoot = strings.TrimSpace(c.Deployment.OutputRoot)
	if c.Deployment.Mode == ModeLocal && c.Deployment.OutputRoot == "" {
		c.Deployment.OutputRoot = defaultOutputRoot
	}
	var err error
	if c.Deployment.OutputRoot, err = expandPath(c.Deployment.OutputRoot); err != nil {
		return fmt.Errorf("deployment.output_root: %w", err)
	}
	return nil
}

func (c *Config) normalizeBackends() error {
	trim := func(value, fallback string) string {
		value = strings.TrimSpace(value)
		if value == "" {
			return fallback
		}
		return value
	}
	c.Backends.FFprobe = trim(c.Backends.FFprobe, defaultFFprobe)
	c.Backends.Analyzer = strings.TrimSpace(c.Backends.Analyzer)
	c.Backends.Demucs = strings.TrimSpace(c.Backends.Demucs)
	c.Backends.Classifier = strings.TrimSpace(c.Backends.Classifier)
	c.Backends.Plotter = strings.TrimSpace(c.Backends.Plotter)
	c.Backends.Device = strings.ToLower(trim(c.Backends.Device, defaultDevice))
	if strings.TrimSpace(c.Backends.WorkDir) == "" {
		c.Backends.WorkDir = defaultWorkDir()
	}
	var err error
	if c.Backends.WorkDir, err = expandPath(c.Backends.WorkDir); err != nil {
		return fmt.Errorf("backends.work_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeWorkers() {
	if c.Workers.CPUSlots <= 0 {
		c.Workers.CPUSlots = runtime.NumCPU()
	}
	if c.Workers.GPUSlots < 0 {
		c.Workers.GPUSlots = 0
	}
}

func (c *Config) normalizeLogging() error {
	if value, ok := os.LookupEnv("IARA_LOG_LEVEL"); ok && strings.TrimSpace(value) != "" {
		c.Logging.Level = value
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.File = strings.TrimSpace(c.Logging.File); c.Logging.File != "" {
		var err error
		if c.Logging.File, err = expandPath(c.Logging.File); err != nil {
			return fmt.Errorf("logging.file: %w", err)
		}
	}
	return nil
}
