// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

// Package notebook is the document model: cells, their outputs, and
// the mapping from kernel traffic onto both. Serialization to the
// on-disk ipynb format lives in this package too, so every consumer
// sees one notebook type.
package notebook

import (
	"strings"

	"github.com/google/uuid"

	"github.com/thyone-project/thyone/wire"
)

// CellType discriminates the three cell kinds.
type CellType string

const (
	CellCode     CellType = "code"
	CellMarkdown CellType = "markdown"
	CellRaw      CellType = "raw"
)

// Cell is one notebook cell. Outputs and ExecutionCount are only
// meaningful for code cells.
type Cell struct {
	Type CellType

	// ID is the cell identifier required since nbformat 4.5. NewCell
	// assigns one; cells read from disk keep theirs.
	ID string

	Source string

	// ExecutionCount mirrors the kernel's counter from the last run of
	// this cell. Zero means never executed.
	ExecutionCount int

	Outputs []Output

	// Metadata carries nbformat cell metadata verbatim.
	Metadata map[string]any

	// clearPending defers output clearing until the next output
	// arrives, which is how clear_output(wait=true) avoids flicker.
	clearPending bool
}

// NewCell returns an empty cell of the given type with a fresh ID.
func NewCell(cellType CellType) Cell {
	return Cell{Type: cellType, ID: newCellID()}
}

// newCellID generates a short nbformat-legal cell identifier.
func newCellID() string {
	return uuid.NewString()[:8]
}

// Notebook is an in-memory notebook document.
type Notebook struct {
	Cells []Cell

	// Kernelspec records which kernel the notebook was authored
	// against.
	Kernelspec KernelspecMeta

	// LanguageInfo mirrors the kernel's reported language block.
	LanguageInfo wire.LanguageInfo

	// Metadata carries any notebook-level metadata beyond the typed
	// fields, preserved across load and save.
	Metadata map[string]any
}

// KernelspecMeta is the notebook-level kernelspec record.
type KernelspecMeta struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Language    string `json:"language,omitempty"`
}

// New returns an empty notebook with a single code cell, the shape an
// editor expects to open with.
func New() *Notebook {
	return &Notebook{Cells: []Cell{NewCell(CellCode)}}
}

// CellByID finds a cell by its identifier.
func (nb *Notebook) CellByID(id string) *Cell {
	for i := range nb.Cells {
		if nb.Cells[i].ID == id {
			return &nb.Cells[i]
		}
	}
	return nil
}

// InsertCell inserts cell at index, clamped to the valid range.
func (nb *Notebook) InsertCell(index int, cell Cell) {
	if index < 0 {
		index = 0
	}
	if index > len(nb.Cells) {
		index = len(nb.Cells)
	}
	nb.Cells = append(nb.Cells, Cell{})
	copy(nb.Cells[index+1:], nb.Cells[index:])
	nb.Cells[index] = cell
}

// RemoveCell removes the cell at index. The last remaining cell is
// replaced with a fresh empty one instead, so a notebook is never
// empty.
func (nb *Notebook) RemoveCell(index int) {
	if index < 0 || index >= len(nb.Cells) {
		return
	}
	if len(nb.Cells) == 1 {
		nb.Cells[0] = NewCell(CellCode)
		return
	}
	nb.Cells = append(nb.Cells[:index], nb.Cells[index+1:]...)
}

// SourceLines returns the cell source split into lines, without
// trailing newlines. Rendering works line by line.
func (c *Cell) SourceLines() []string {
	if c.Source == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(c.Source, "\n"), "\n")
}

// ResetOutputs discards outputs and the execution counter, the state
// of a cell about to be re-run.
func (c *Cell) ResetOutputs() {
	c.Outputs = nil
	c.ExecutionCount = 0
	c.clearPending = false
}
