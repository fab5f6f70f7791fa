// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

// Package version exposes build metadata injected by the release
// linker flags:
//
//	-ldflags "-X github.com/thyone-project/thyone/lib/version.Version=0.3.0 \
//	          -X github.com/thyone-project/thyone/lib/version.GitCommit=$(git rev-parse HEAD)"
package version

var (
	// Version is the semantic version of the build. Development builds
	// keep the default.
	Version = "0.0.0-dev"

	// GitCommit is the full revision the build was produced from, or
	// empty when built outside a checkout.
	GitCommit = ""
)

// Short returns just the version string.
func Short() string { return Version }

// Full returns the version with an abbreviated commit when one is
// known, for example "0.3.0 (1a2b3c4)".
func Full() string {
	if GitCommit == "" {
		return Version
	}
	commit := GitCommit
	if len(commit) > 7 {
		commit = commit[:7]
	}
	return Version + " (" + commit + ")"
}
