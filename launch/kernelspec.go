// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

// Package launch finds installed kernelspecs and runs kernel processes
// for sessions to connect to.
package launch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tidwall/jsonc"
)

// Spec describes one installed kernel: the command to run it and the
// metadata shown when choosing it. It is the parsed kernel.json plus
// the directory it came from.
type Spec struct {
	// Name is the kernelspec's directory name, which identifies it in
	// configuration and on the command line.
	Name string `json:"-"`

	// Dir is the resource directory holding kernel.json.
	Dir string `json:"-"`

	// Argv is the launch command. The {connection_file} placeholder is
	// replaced with the path of the connection file; {resource_dir}
	// with Dir.
	Argv []string `json:"argv"`

	DisplayName string `json:"display_name"`
	Language    string `json:"language"`

	// InterruptMode is "signal" (SIGINT to the process group, the
	// default) or "message" (interrupt_request on the control channel).
	InterruptMode string `json:"interrupt_mode,omitempty"`

	// Env is added to the kernel's environment at launch.
	Env map[string]string `json:"env,omitempty"`
}

// NotFoundError reports that no searched directory holds the named
// kernelspec.
type NotFoundError struct {
	Name     string
	Searched []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("launch: kernelspec %q not found in %s", e.Name, strings.Join(e.Searched, ", "))
}

// SearchPaths returns the kernelspec directories to scan, most
// specific first: each $JUPYTER_PATH entry, the user's data directory,
// then the system-wide locations. Missing directories are fine; they
// are skipped during scanning.
func SearchPaths() []string {
	var paths []string
	if env := os.Getenv("JUPYTER_PATH"); env != "" {
		for _, entry := range filepath.SplitList(env) {
			if entry != "" {
				paths = append(paths, filepath.Join(entry, "kernels"))
			}
		}
	}
	if data := os.Getenv("XDG_DATA_HOME"); data != "" {
		paths = append(paths, filepath.Join(data, "jupyter", "kernels"))
	} else if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".local", "share", "jupyter", "kernels"))
	}
	paths = append(paths,
		"/usr/local/share/jupyter/kernels",
		"/usr/share/jupyter/kernels",
	)
	return paths
}

// List scans the given directories (SearchPaths() when nil) and
// returns every loadable kernelspec, sorted by name. The first
// directory providing a name wins; entries that are missing a
// kernel.json or fail to parse are skipped.
func List(paths []string) []Spec {
	if paths == nil {
		paths = SearchPaths()
	}
	byName := make(map[string]Spec)
	for _, dir := range paths {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			name := strings.ToLower(entry.Name())
			if !validSpecName(name) {
				continue
			}
			if _, taken := byName[name]; taken {
				continue
			}
			spec, err := loadSpec(name, filepath.Join(dir, entry.Name()))
			if err != nil {
				continue
			}
			byName[name] = spec
		}
	}

	specs := make([]Spec, 0, len(byName))
	for _, spec := range byName {
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Find locates the named kernelspec in the given directories
// (SearchPaths() when nil). Names are case-insensitive.
func Find(name string, paths []string) (Spec, error) {
	if paths == nil {
		paths = SearchPaths()
	}
	name = strings.ToLower(name)
	if !validSpecName(name) {
		return Spec{}, fmt.Errorf("launch: invalid kernelspec name %q", name)
	}
	for _, dir := range paths {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() && strings.EqualFold(entry.Name(), name) {
				return loadSpec(name, filepath.Join(dir, entry.Name()))
			}
		}
	}
	return Spec{}, &NotFoundError{Name: name, Searched: paths}
}

// loadSpec parses dir/kernel.json. Comments and trailing commas are
// tolerated, same as every other JSON file Thyone reads.
func loadSpec(name, dir string) (Spec, error) {
	data, err := os.ReadFile(filepath.Join(dir, "kernel.json"))
	if err != nil {
		return Spec{}, fmt.Errorf("launch: reading kernelspec %q: %w", name, err)
	}
	var spec Spec
	if err := json.Unmarshal(jsonc.ToJSON(data), &spec); err != nil {
		return Spec{}, fmt.Errorf("launch: parsing kernelspec %q: %w", name, err)
	}
	if len(spec.Argv) == 0 {
		return Spec{}, fmt.Errorf("launch: kernelspec %q has an empty argv", name)
	}
	switch spec.InterruptMode {
	case "", "signal", "message":
	default:
		return Spec{}, fmt.Errorf("launch: kernelspec %q has unknown interrupt_mode %q", name, spec.InterruptMode)
	}
	spec.Name = name
	spec.Dir = dir
	if spec.DisplayName == "" {
		spec.DisplayName = name
	}
	return spec, nil
}

// CommandLine expands the argv placeholders against a concrete
// connection file. The command must reference {connection_file}
// somewhere or the kernel would have no way to find its ports.
func (s Spec) CommandLine(connectionFile string) ([]string, error) {
	argv := make([]string, len(s.Argv))
	sawConnectionFile := false
	for i, arg := range s.Argv {
		if strings.Contains(arg, "{connection_file}") {
			sawConnectionFile = true
			arg = strings.ReplaceAll(arg, "{connection_file}", connectionFile)
		}
		arg = strings.ReplaceAll(arg, "{resource_dir}", s.Dir)
		argv[i] = arg
	}
	if !sawConnectionFile {
		return nil, fmt.Errorf("launch: kernelspec %q argv never references {connection_file}", s.Name)
	}
	return argv, nil
}

func validSpecName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
		default:
			return false
		}
	}
	return true
}
