package config

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	// EnvConfigPath is the environment variable for explicit config path
	EnvConfigPath = "MPIFLEET_CONFIG"
	// ConfigFileName is the default config file name
	ConfigFileName = "mpifleet.yaml"
	// ConfigDirName is the config directory name under XDG
	ConfigDirName = "mpifleet"
)

// FindConfigPath searches for config file in priority order:
// 1. $MPIFLEET_CONFIG (explicit path)
// 2. ./mpifleet.yaml (working directory)
// 3. $XDG_CONFIG_HOME/mpifleet/config.yaml
// 4. ~/.config/mpifleet/config.yaml
// 5. /etc/mpifleet/config.yaml
//
// Returns empty string if no config file found
func FindConfigPath() string {
	// 1. Explicit environment variable
	if path := os.Getenv(EnvConfigPath); path != "" {
		if fileExists(path) {
			return path
		}
	}

	// 2. Working directory
	if fileExists(ConfigFileName) {
		if abs, err := filepath.Abs(ConfigFileName); err == nil {
			return abs
		}
		return ConfigFileName
	}

	// 3. XDG config home
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		path := filepath.Join(xdgHome, ConfigDirName, "config.yaml")
		if fileExists(path) {
			return path
		}
	}

	// 4. Default XDG location (~/.config)
	if home := os.Getenv("HOME"); home != "" {
		path := filepath.Join(home, ".config", ConfigDirName, "config.yaml")
		if fileExists(path) {
			return path
		}
	}

	// 5. System-wide
	systemPath := filepath.Join("/etc", ConfigDirName, "config.yaml")
	if fileExists(systemPath) {
		return systemPath
	}

	return ""
}

// DefaultConfigPath returns the preferred location for a new config file
func DefaultConfigPath() string {
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		return filepath.Join(xdgHome, ConfigDirName, "config.yaml")
	}
	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".config", ConfigDirName, "config.yaml")
	}
	return ConfigFileName
}

// DefaultKeyPath returns the first private key found in ~/.ssh, preferring
// ed25519, or an empty string
func DefaultKeyPath() string {
	home := os.Getenv("HOME")
	if home == "" {
		return ""
	}
	for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
		path := filepath.Join(home, ".ssh", name)
		if fileExists(path) {
			return path
		}
	}
	return ""
}

// ExpandHome replaces a leading ~/ with $HOME
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home := os.Getenv("HOME")
	if home == "" {
		return path
	}
	return filepath.Join(home, path[2:])
}

// EnsureConfigDir creates the config directory if it doesn't exist
func EnsureConfigDir(configPath string) error {
	dir := filepath.Dir(configPath)
	return os.MkdirAll(dir, 0755)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
