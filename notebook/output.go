// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package notebook

import (
	"github.com/thyone-project/thyone/wire"
)

// OutputType discriminates the four nbformat output kinds.
type OutputType string

const (
	OutputStream        OutputType = "stream"
	OutputDisplayData   OutputType = "display_data"
	OutputExecuteResult OutputType = "execute_result"
	OutputError         OutputType = "error"
)

// Output is one cell output. Which fields are meaningful depends on
// Type, mirroring the nbformat output union.
type Output struct {
	Type OutputType

	// StreamName and Text for stream outputs.
	StreamName string
	Text       string

	// Data and Metadata for display_data and execute_result outputs.
	Data     wire.MIMEBundle
	Metadata wire.MIMEBundle

	// DisplayID ties a display_data output to later updates.
	DisplayID string

	// ExecutionCount for execute_result outputs.
	ExecutionCount int

	// Error fields for error outputs.
	ErrorName  string
	ErrorValue string
	Traceback  []string
}

// OutputFromWire maps broadcast content onto a cell output. The second
// return is false for content that does not produce an output
// (statuses, execute_input, comm traffic).
func OutputFromWire(content wire.Content) (Output, bool) {
	switch c := content.(type) {
	case wire.Stream:
		return Output{Type: OutputStream, StreamName: c.Name, Text: c.Text}, true
	case wire.DisplayData:
		return Output{Type: OutputDisplayData, Data: c.Data, Metadata: c.Metadata, DisplayID: c.DisplayID}, true
	case wire.ExecuteResult:
		return Output{Type: OutputExecuteResult, Data: c.Data, Metadata: c.Metadata, ExecutionCount: c.ExecutionCount}, true
	case wire.RuntimeError:
		return Output{Type: OutputError, ErrorName: c.Name, ErrorValue: c.Value, Traceback: c.Traceback}, true
	default:
		return Output{}, false
	}
}

// AppendOutput adds an output to the cell, applying a pending clear
// first and coalescing consecutive stream chunks with the same name
// into one output, the way notebooks store them.
func (c *Cell) AppendOutput(output Output) {
	if c.clearPending {
		c.Outputs = nil
		c.clearPending = false
	}
	if output.Type == OutputStream && len(c.Outputs) > 0 {
		last := &c.Outputs[len(c.Outputs)-1]
		if last.Type == OutputStream && last.StreamName == output.StreamName {
			last.Text += output.Text
			return
		}
	}
	c.Outputs = append(c.Outputs, output)
}

// ClearOutputs implements clear_output: immediate when wait is false,
// deferred until the next output otherwise.
func (c *Cell) ClearOutputs(wait bool) {
	if wait {
		c.clearPending = true
		return
	}
	c.Outputs = nil
	c.clearPending = false
}

// UpdateDisplay replaces the data of every display output carrying
// the given display ID. It reports whether anything matched; unmatched
// updates are dropped, since the target may live in another cell that
// was since cleared.
func (c *Cell) UpdateDisplay(displayID string, data, metadata wire.MIMEBundle) bool {
	if displayID == "" {
		return false
	}
	updated := false
	for i := range c.Outputs {
		out := &c.Outputs[i]
		if out.Type == OutputDisplayData && out.DisplayID == displayID {
			out.Data = data
			out.Metadata = metadata
			updated = true
		}
	}
	return updated
}

// ApplyMessage routes one broadcast onto the cell: outputs are
// appended, clear_output and update_display_data get their special
// handling, execute_input refreshes the execution counter. Content
// that does not affect the cell is ignored and reported false.
func (c *Cell) ApplyMessage(content wire.Content) bool {
	switch m := content.(type) {
	case wire.ClearOutput:
		c.ClearOutputs(m.Wait)
		return true
	case wire.UpdateDisplayData:
		return c.UpdateDisplay(m.DisplayID, m.Data, m.Metadata)
	case wire.ExecuteInput:
		c.ExecutionCount = m.ExecutionCount
		return true
	case wire.ExecuteResult:
		if m.ExecutionCount > 0 {
			c.ExecutionCount = m.ExecutionCount
		}
	}
	output, ok := OutputFromWire(content)
	if !ok {
		return false
	}
	c.AppendOutput(output)
	return true
}
