// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the shared exit path for Thyone binaries.
package process

import (
	"fmt"
	"os"
)

// Fatal prints err to stderr and exits with status 1. Binaries route
// every fatal error through here so failures look the same everywhere.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", Name(), err)
	os.Exit(1)
}

// Name returns the invoked binary name, for error and usage output.
func Name() string {
	if len(os.Args) == 0 || os.Args[0] == "" {
		return "thyone"
	}
	name := os.Args[0]
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '/' {
			return name[i+1:]
		}
	}
	return name
}
