// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if got, want := cfg.Kernel.Default, "python3"; got != want {
		t.Errorf("kernel.default = %q, want %q", got, want)
	}
	if got, want := cfg.Kernel.Codec, "json"; got != want {
		t.Errorf("kernel.codec = %q, want %q", got, want)
	}
	if got, want := cfg.Notebook.CheckpointKeep, 10; got != want {
		t.Errorf("notebook.checkpoint_keep = %d, want %d", got, want)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() = %v, want nil", err)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
kernel:
  default: julia
  codec: cbor
  startup_timeout: 1m
history:
  disable: true
ui:
  theme: light
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if got, want := cfg.Kernel.Default, "julia"; got != want {
		t.Errorf("kernel.default = %q, want %q", got, want)
	}
	if got, want := cfg.Kernel.Codec, "cbor"; got != want {
		t.Errorf("kernel.codec = %q, want %q", got, want)
	}
	if !cfg.History.Disable {
		t.Error("history.disable = false, want true")
	}
	if got, want := cfg.UI.Theme, "light"; got != want {
		t.Errorf("ui.theme = %q, want %q", got, want)
	}
	// Fields the file does not name keep their defaults.
	if got, want := cfg.Kernel.HeartbeatMisses, 3; got != want {
		t.Errorf("kernel.heartbeat_misses = %d, want %d", got, want)
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("LoadFile on a missing path succeeded, want error")
	}
}

func TestLoadExplicitPathWins(t *testing.T) {
	explicit := writeConfig(t, "kernel:\n  default: rust\n")
	envPath := writeConfig(t, "kernel:\n  default: julia\n")
	t.Setenv("THYONE_CONFIG", envPath)

	cfg, err := Load(explicit)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, want := cfg.Kernel.Default, "rust"; got != want {
		t.Errorf("kernel.default = %q, want %q", got, want)
	}
}

func TestLoadHonorsEnvironmentVariable(t *testing.T) {
	path := writeConfig(t, "kernel:\n  default: julia\n")
	t.Setenv("THYONE_CONFIG", path)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, want := cfg.Kernel.Default, "julia"; got != want {
		t.Errorf("kernel.default = %q, want %q", got, want)
	}
}

func TestLoadEnvironmentPathMissing(t *testing.T) {
	t.Setenv("THYONE_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))

	if _, err := Load(""); err == nil {
		t.Fatal("Load with a bad THYONE_CONFIG succeeded, want error")
	}
}

func TestLoadFallsBackToDefaults(t *testing.T) {
	t.Setenv("THYONE_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, want := cfg.Kernel.Default, "python3"; got != want {
		t.Errorf("kernel.default = %q, want %q", got, want)
	}
}

func TestLoadReadsUserConfigDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("THYONE_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", dir)

	if err := os.MkdirAll(filepath.Join(dir, "thyone"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	content := "kernel:\n  default: julia\n"
	if err := os.WriteFile(filepath.Join(dir, "thyone", "config.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, want := cfg.Kernel.Default, "julia"; got != want {
		t.Errorf("kernel.default = %q, want %q", got, want)
	}
}

func TestExpandVariables(t *testing.T) {
	t.Setenv("THYONE_TEST_DIR", "/opt/kernels")
	t.Setenv("THYONE_TEST_UNSET", "")

	path := writeConfig(t, `
kernel:
  runtime_dir: ${THYONE_TEST_DIR}/runtime
  search_paths:
    - ${THYONE_TEST_UNSET:-/usr/share}/jupyter/kernels
history:
  path: ${THYONE_TEST_UNSET:-${THYONE_TEST_DIR}}/history.db
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if got, want := cfg.Kernel.RuntimeDir, "/opt/kernels/runtime"; got != want {
		t.Errorf("kernel.runtime_dir = %q, want %q", got, want)
	}
	if got, want := cfg.Kernel.SearchPaths[0], "/usr/share/jupyter/kernels"; got != want {
		t.Errorf("kernel.search_paths[0] = %q, want %q", got, want)
	}
	// The default arm may itself contain a variable.
	if got, want := cfg.History.Path, "/opt/kernels/history.db"; got != want {
		t.Errorf("history.path = %q, want %q", got, want)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Kernel.Codec = "xml"
	cfg.Kernel.StartupTimeout = "soon"
	cfg.Kernel.LaunchAttempts = -1
	cfg.Notebook.CheckpointCompression = "gzip"
	cfg.UI.Theme = "solarized"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate accepted a bad config")
	}
	for _, want := range []string{
		"kernel.codec",
		"kernel.startup_timeout",
		"kernel.launch_attempts",
		"notebook.checkpoint_compression",
		"ui.theme",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate error missing %q: %v", want, err)
		}
	}
}

func TestDurationAccessors(t *testing.T) {
	t.Parallel()

	k := KernelConfig{
		StartupTimeout:    "45s",
		HeartbeatInterval: "250ms",
	}
	if got, want := k.StartupTimeoutDuration(), 45*time.Second; got != want {
		t.Errorf("StartupTimeoutDuration = %v, want %v", got, want)
	}
	if got, want := k.HeartbeatIntervalDuration(), 250*time.Millisecond; got != want {
		t.Errorf("HeartbeatIntervalDuration = %v, want %v", got, want)
	}
	// Unset and malformed both yield zero so session defaults apply.
	if got := k.ShutdownGraceDuration(); got != 0 {
		t.Errorf("ShutdownGraceDuration = %v, want 0", got)
	}
	k.ShutdownGrace = "whenever"
	if got := k.ShutdownGraceDuration(); got != 0 {
		t.Errorf("ShutdownGraceDuration = %v, want 0", got)
	}
}
