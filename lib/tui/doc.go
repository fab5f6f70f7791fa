// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

// Package tui provides shared terminal user interface building blocks
// for thyone's interactive views. Built on bubbletea (Elm
// architecture), it holds the pieces that recur across views: the
// color theme, fuzzy matching for pickers, and scrollbar rendering.
//
// View-specific models (the console transcript, the notebook cell
// list, the kernel picker) live in notebookui and import this package
// for consistent look and behavior.
package tui
