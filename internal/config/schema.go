package config

import (
	"time"
)

// Probe methods
const (
	ProbeMethodTCP  = "tcp"
	ProbeMethodNmap = "nmap"
)

// Log formats
const (
	LogFormatConsole = "console"
	LogFormatJSON    = "json"
)

// BaseAuto asks for the base address to be derived from the local interface
const BaseAuto = "auto"

// Config is the complete mpifleet configuration
type Config struct {
	Version int           `yaml:"version"`
	Scan    ScanConfig    `yaml:"scan"`
	Probe   ProbeConfig   `yaml:"probe"`
	Inspect InspectConfig `yaml:"inspect"`
	Install InstallConfig `yaml:"install"`
	SSH     SSHConfig     `yaml:"ssh"`
	Storage StorageConfig `yaml:"storage"`
	NATS    NATSConfig    `yaml:"nats"`
	HTTP    HTTPConfig    `yaml:"http"`
	Log     LogConfig     `yaml:"log"`
}

// ScanConfig controls the address sweep
type ScanConfig struct {
	Base          string `yaml:"base"`  // Dotted quad or "auto"
	Count         int    `yaml:"count"` // Candidates after base
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// ProbeConfig controls reachability checks
type ProbeConfig struct {
	Method     string   `yaml:"method"`
	Ports      []int    `yaml:"ports,omitempty"`
	Timeout    Duration `yaml:"timeout"`
	NmapPath   string   `yaml:"nmap_path,omitempty"`
	Privileged bool     `yaml:"privileged,omitempty"`
}

// InspectConfig controls host inspection
type InspectConfig struct {
	Timeout       Duration `yaml:"timeout"`
	MaxConcurrent int      `yaml:"max_concurrent"`
}

// InstallConfig controls the provisioning step
type InstallConfig struct {
	Command       string   `yaml:"command"`
	Timeout       Duration `yaml:"timeout"`
	MaxConcurrent int      `yaml:"max_concurrent"`
}

// SSHConfig holds remote execution settings
type SSHConfig struct {
	User        string   `yaml:"user"`
	KeyPath     string   `yaml:"key_path,omitempty"`
	Port        int      `yaml:"port"`
	KnownHosts  string   `yaml:"known_hosts,omitempty"` // Empty disables host key checks
	DialTimeout Duration `yaml:"dial_timeout"`
}

// StorageConfig holds snapshot persistence settings
type StorageConfig struct {
	Path string `yaml:"path,omitempty"` // Empty disables persistence
}

// NATSConfig holds event publishing settings
type NATSConfig struct {
	URL     string `yaml:"url,omitempty"` // Empty disables publishing
	Subject string `yaml:"subject"`
}

// HTTPConfig holds API server settings
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration wraps time.Duration for YAML unmarshaling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}
