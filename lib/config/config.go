// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for thyone.
type Config struct {
	// Kernel configures kernel discovery and session behavior.
	Kernel KernelConfig `yaml:"kernel"`

	// History configures the execution history database.
	History HistoryConfig `yaml:"history"`

	// Notebook configures notebook checkpointing.
	Notebook NotebookConfig `yaml:"notebook"`

	// UI configures the terminal interface.
	UI UIConfig `yaml:"ui"`
}

// KernelConfig configures kernel discovery and session behavior.
type KernelConfig struct {
	// Default is the kernelspec name used when --kernel is not given.
	// Default: python3
	Default string `yaml:"default"`

	// SearchPaths overrides the kernelspec search path. When empty the
	// standard Jupyter locations are searched.
	SearchPaths []string `yaml:"search_paths"`

	// RuntimeDir is where connection files are written. When empty,
	// $XDG_RUNTIME_DIR/thyone is used.
	RuntimeDir string `yaml:"runtime_dir"`

	// Codec selects the wire serialization: "json" or "cbor".
	// Default: json
	Codec string `yaml:"codec"`

	// StartupTimeout is how long to wait for a launched kernel to
	// answer its first heartbeat. Default: 30s
	StartupTimeout string `yaml:"startup_timeout"`

	// LaunchAttempts is how many times to launch before giving up.
	// Default: 3
	LaunchAttempts int `yaml:"launch_attempts"`

	// HeartbeatInterval is the ping cadence on the heartbeat channel.
	// Default: 1s
	HeartbeatInterval string `yaml:"heartbeat_interval"`

	// HeartbeatMisses is how many consecutive missed heartbeats mark
	// the kernel dead. Default: 3
	HeartbeatMisses int `yaml:"heartbeat_misses"`

	// QueueLimit bounds the pending execution queue. Zero means the
	// built-in default; a negative value removes the bound.
	QueueLimit int `yaml:"queue_limit"`

	// ShutdownGrace is how long a shutdown request may run before the
	// kernel process is killed. Default: 5s
	ShutdownGrace string `yaml:"shutdown_grace"`
}

// HistoryConfig configures the execution history database.
type HistoryConfig struct {
	// Disable turns off history recording entirely.
	Disable bool `yaml:"disable"`

	// Path is the sqlite database location. When empty,
	// $XDG_DATA_HOME/thyone/history.db is used.
	Path string `yaml:"path"`
}

// NotebookConfig configures notebook checkpointing.
type NotebookConfig struct {
	// CheckpointKeep is how many checkpoints to retain per notebook.
	// Zero means the built-in default; negative keeps all.
	CheckpointKeep int `yaml:"checkpoint_keep"`

	// CheckpointCompression selects the checkpoint payload codec:
	// "zstd", "lz4", or "none". Default: zstd
	CheckpointCompression string `yaml:"checkpoint_compression"`
}

// UIConfig configures the terminal interface.
type UIConfig struct {
	// Theme selects the color theme: "dark" or "light".
	// Default: dark
	Theme string `yaml:"theme"`
}

// Default returns the default configuration. Every field has a working
// value; a config file only needs to name what it changes.
func Default() *Config {
	return &Config{
		Kernel: KernelConfig{
			Default:           "python3",
			Codec:             "json",
			StartupTimeout:    "30s",
			LaunchAttempts:    3,
			HeartbeatInterval: "1s",
			HeartbeatMisses:   3,
			ShutdownGrace:     "5s",
		},
		History: HistoryConfig{
			Path: "${XDG_DATA_HOME:-${HOME}/.local/share}/thyone/history.db",
		},
		Notebook: NotebookConfig{
			CheckpointKeep:        10,
			CheckpointCompression: "zstd",
		},
		UI: UIConfig{
			Theme: "dark",
		},
	}
}

// Load resolves and loads the configuration.
//
// The file is taken from the first source that exists: the explicit
// path (empty means not given), the THYONE_CONFIG environment
// variable, then the per-user config directory. A missing file at the
// per-user location yields the defaults; a missing explicit or
// THYONE_CONFIG path is an error.
func Load(explicitPath string) (*Config, error) {
	if explicitPath != "" {
		return LoadFile(explicitPath)
	}

	if envPath := os.Getenv("THYONE_CONFIG"); envPath != "" {
		cfg, err := LoadFile(envPath)
		if err != nil {
			return nil, fmt.Errorf("config: THYONE_CONFIG: %w", err)
		}
		return cfg, nil
	}

	path := DefaultPath()
	if _, err := os.Stat(path); err != nil {
		cfg := Default()
		cfg.expandVariables()
		return cfg, nil
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path.
//
// The file is the single source of truth: environment variables do not
// override config values. The only expansion performed is ${HOME} and
// similar path variables for portability.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// DefaultPath returns the per-user config file location:
// $XDG_CONFIG_HOME/thyone/config.yaml, falling back to
// ~/.config/thyone/config.yaml.
func DefaultPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "thyone", "config.yaml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "thyone", "config.yaml")
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in path
// fields.
func (c *Config) expandVariables() {
	c.Kernel.RuntimeDir = expandVars(c.Kernel.RuntimeDir)
	for i, p := range c.Kernel.SearchPaths {
		c.Kernel.SearchPaths[i] = expandVars(p)
	}
	c.History.Path = expandVars(c.History.Path)
}

var varPattern = regexp.MustCompile(`\$\{([^}:$]+)(?::-([^}$]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns from the
// environment. Expansion repeats so a default may itself contain a
// variable, as in ${XDG_DATA_HOME:-${HOME}/.local/share}.
func expandVars(s string) string {
	for range 4 {
		expanded := varPattern.ReplaceAllStringFunc(s, func(match string) string {
			parts := varPattern.FindStringSubmatch(match)
			if len(parts) < 2 {
				return match
			}
			if value := os.Getenv(parts[1]); value != "" {
				return value
			}
			if len(parts) >= 3 {
				return parts[2]
			}
			return ""
		})
		if expanded == s {
			break
		}
		s = expanded
	}
	return s
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	switch c.Kernel.Codec {
	case "", "json", "cbor":
	default:
		errs = append(errs, fmt.Errorf("kernel.codec must be json or cbor, got %q", c.Kernel.Codec))
	}

	if c.Kernel.LaunchAttempts < 0 {
		errs = append(errs, fmt.Errorf("kernel.launch_attempts must not be negative, got %d", c.Kernel.LaunchAttempts))
	}
	if c.Kernel.HeartbeatMisses < 0 {
		errs = append(errs, fmt.Errorf("kernel.heartbeat_misses must not be negative, got %d", c.Kernel.HeartbeatMisses))
	}

	for _, field := range []struct {
		name, value string
	}{
		{"kernel.startup_timeout", c.Kernel.StartupTimeout},
		{"kernel.heartbeat_interval", c.Kernel.HeartbeatInterval},
		{"kernel.shutdown_grace", c.Kernel.ShutdownGrace},
	} {
		if field.value == "" {
			continue
		}
		if _, err := time.ParseDuration(field.value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field.name, err))
		}
	}

	switch c.Notebook.CheckpointCompression {
	case "", "none", "lz4", "zstd":
	default:
		errs = append(errs, fmt.Errorf("notebook.checkpoint_compression must be none, lz4, or zstd, got %q",
			c.Notebook.CheckpointCompression))
	}

	switch c.UI.Theme {
	case "", "dark", "light":
	default:
		errs = append(errs, fmt.Errorf("ui.theme must be dark or light, got %q", c.UI.Theme))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// StartupTimeoutDuration returns the parsed startup timeout, or zero
// when unset so the session default applies.
func (k KernelConfig) StartupTimeoutDuration() time.Duration {
	return parseDuration(k.StartupTimeout)
}

// HeartbeatIntervalDuration returns the parsed heartbeat interval, or
// zero when unset so the session default applies.
func (k KernelConfig) HeartbeatIntervalDuration() time.Duration {
	return parseDuration(k.HeartbeatInterval)
}

// ShutdownGraceDuration returns the parsed shutdown grace, or zero
// when unset so the session default applies.
func (k KernelConfig) ShutdownGraceDuration() time.Duration {
	return parseDuration(k.ShutdownGrace)
}

// parseDuration returns the parsed duration, or zero for empty or
// malformed input. Validate reports malformed values; a caller that
// skipped Validate falls back to the session defaults.
func parseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
