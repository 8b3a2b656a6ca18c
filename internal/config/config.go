// Package config provides configuration management for mpifleet.
//
// Config file locations (priority order):
//  1. $MPIFLEET_CONFIG
//  2. ./mpifleet.yaml
//  3. $XDG_CONFIG_HOME/mpifleet/config.yaml
//  4. ~/.config/mpifleet/config.yaml
//  5. /etc/mpifleet/config.yaml
//
// Missing fields take defaults; command line flags override the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"mpifleet/internal/adapter"
	"mpifleet/internal/service"
)

// Load finds and loads the config file, or returns defaults if none found
func Load() (*Config, string, error) {
	path := FindConfigPath()

	if path == "" {
		// No config found - return defaults
		return DefaultConfig(), "", nil
	}

	return LoadFromPath(path)
}

// LoadFromPath loads config from a specific path
func LoadFromPath(path string) (*Config, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, path, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, path, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return &cfg, path, nil
}

// Save writes config to the specified path
func (c *Config) Save(path string) error {
	if err := EnsureConfigDir(path); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0644)
}

// DefaultConfig returns sensible defaults for a home or lab network
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in missing values with defaults
func (c *Config) applyDefaults() {
	if c.Version == 0 {
		c.Version = 1
	}

	if c.Scan.Base == "" {
		c.Scan.Base = BaseAuto
	}
	if c.Scan.Count == 0 {
		c.Scan.Count = 10
	}
	if c.Scan.MaxConcurrent == 0 {
		c.Scan.MaxConcurrent = adapter.DefaultSweepConfig().MaxConcurrent
	}

	if c.Probe.Method == "" {
		c.Probe.Method = ProbeMethodTCP
	}
	if c.Probe.Timeout == 0 {
		c.Probe.Timeout = Duration(adapter.DefaultSweepConfig().Timeout)
	}

	if c.Inspect.Timeout == 0 {
		c.Inspect.Timeout = Duration(adapter.DefaultInspectorConfig().Timeout)
	}
	if c.Inspect.MaxConcurrent == 0 {
		c.Inspect.MaxConcurrent = service.DefaultConfig().InspectConcurrency
	}

	if c.Install.Command == "" {
		c.Install.Command = service.DefaultInstallCommand
	}
	if c.Install.Timeout == 0 {
		c.Install.Timeout = Duration(service.DefaultConfig().InstallTimeout)
	}
	if c.Install.MaxConcurrent == 0 {
		c.Install.MaxConcurrent = service.DefaultConfig().InstallConcurrency
	}

	if c.SSH.User == "" {
		c.SSH.User = os.Getenv("USER")
	}
	if c.SSH.Port == 0 {
		c.SSH.Port = 22
	}
	if c.SSH.DialTimeout == 0 {
		c.SSH.DialTimeout = Duration(5 * time.Second)
	}

	if c.NATS.Subject == "" {
		c.NATS.Subject = "mpifleet.events"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = LogFormatConsole
	}
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var errs []error

	if c.Scan.Base != BaseAuto {
		if _, err := adapter.Candidates(c.Scan.Base, max(c.Scan.Count, 0)); err != nil {
			errs = append(errs, fmt.Errorf("scan.base: %w", err))
		}
	}
	if c.Scan.Count < 0 {
		errs = append(errs, fmt.Errorf("scan.count: must not be negative, got %d", c.Scan.Count))
	}
	if c.Scan.MaxConcurrent < 0 {
		errs = append(errs, fmt.Errorf("scan.max_concurrent: must not be negative"))
	}

	switch c.Probe.Method {
	case ProbeMethodTCP, ProbeMethodNmap:
	default:
		errs = append(errs, fmt.Errorf("probe.method: unknown method %q", c.Probe.Method))
	}
	for _, port := range c.Probe.Ports {
		if port < 1 || port > 65535 {
			errs = append(errs, fmt.Errorf("probe.ports: %d out of range", port))
		}
	}

	for name, d := range map[string]Duration{
		"probe.timeout":    c.Probe.Timeout,
		"inspect.timeout":  c.Inspect.Timeout,
		"install.timeout":  c.Install.Timeout,
		"ssh.dial_timeout": c.SSH.DialTimeout,
	} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s: must not be negative", name))
		}
	}

	if c.SSH.Port < 1 || c.SSH.Port > 65535 {
		errs = append(errs, fmt.Errorf("ssh.port: %d out of range", c.SSH.Port))
	}

	switch c.Log.Format {
	case LogFormatConsole, LogFormatJSON:
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}

	return errors.Join(errs...)
}

// OrchestratorConfig maps the file settings onto the orchestrator
func (c *Config) OrchestratorConfig() service.Config {
	return service.Config{
		Sweep: adapter.SweepConfig{
			Timeout:       c.Probe.Timeout.Duration(),
			MaxConcurrent: c.Scan.MaxConcurrent,
		},
		Inspect: adapter.InspectorConfig{
			Timeout: c.Inspect.Timeout.Duration(),
		},
		InspectConcurrency: c.Inspect.MaxConcurrent,
		InstallCommand:     c.Install.Command,
		InstallTimeout:     c.Install.Timeout.Duration(),
		InstallConcurrency: c.Install.MaxConcurrent,
	}
}

// SSHExecutorConfig maps the ssh section onto the executor settings.
// The key itself is read by the caller.
func (c *Config) SSHExecutorConfig() adapter.SSHConfig {
	return adapter.SSHConfig{
		User:           c.SSH.User,
		Port:           c.SSH.Port,
		KnownHostsPath: ExpandHome(c.SSH.KnownHosts),
		DialTimeout:    c.SSH.DialTimeout.Duration(),
	}
}

// Summary returns a human-readable config summary
func (c *Config) Summary() string {
	summary := fmt.Sprintf("Scan: base=%s count=%d concurrency=%d\n", c.Scan.Base, c.Scan.Count, c.Scan.MaxConcurrent)
	summary += fmt.Sprintf("Probe: %s timeout=%s\n", c.Probe.Method, c.Probe.Timeout.Duration())
	summary += fmt.Sprintf("Inspect: timeout=%s concurrency=%d\n", c.Inspect.Timeout.Duration(), c.Inspect.MaxConcurrent)
	summary += fmt.Sprintf("Install: timeout=%s concurrency=%d command=%q\n", c.Install.Timeout.Duration(), c.Install.MaxConcurrent, c.Install.Command)
	summary += fmt.Sprintf("SSH: %s@:%d", c.SSH.User, c.SSH.Port)
	return summary
}
