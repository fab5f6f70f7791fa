// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the thyone
// binaries.
//
// Configuration is resolved from the first source that exists: an
// explicit path (the --config flag), the THYONE_CONFIG environment
// variable, then $XDG_CONFIG_HOME/thyone/config.yaml (falling back to
// ~/.config/thyone/config.yaml). A missing file is not an error; the
// defaults cover every field.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${VAR}, and ${VAR:-default} patterns are expanded. No
// other environment variables override config values.
//
// Key exports:
//
//   - [Config] -- the whole tree: Kernel, History, Notebook, UI
//   - [Default] -- a Config with working defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//
// This package depends on no other Thyone packages.
package config
