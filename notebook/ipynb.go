// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package notebook

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/thyone-project/thyone/wire"
)

// The written format revision. Cell IDs require minor version 5.
const (
	formatMajor = 4
	formatMinor = 5
)

// Read parses an ipynb document.
func Read(data []byte) (*Notebook, error) {
	var file struct {
		Cells         []rawCell                  `json:"cells"`
		Metadata      map[string]json.RawMessage `json:"metadata"`
		Nbformat      int                        `json:"nbformat"`
		NbformatMinor int                        `json:"nbformat_minor"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("notebook: parsing ipynb: %w", err)
	}
	if file.Nbformat != formatMajor {
		return nil, fmt.Errorf("notebook: unsupported nbformat %d (want %d)", file.Nbformat, formatMajor)
	}

	nb := &Notebook{}
	for key, raw := range file.Metadata {
		switch key {
		case "kernelspec":
			if err := json.Unmarshal(raw, &nb.Kernelspec); err != nil {
				return nil, fmt.Errorf("notebook: parsing kernelspec metadata: %w", err)
			}
		case "language_info":
			if err := json.Unmarshal(raw, &nb.LanguageInfo); err != nil {
				return nil, fmt.Errorf("notebook: parsing language_info metadata: %w", err)
			}
		default:
			var value any
			if err := json.Unmarshal(raw, &value); err != nil {
				return nil, fmt.Errorf("notebook: parsing metadata %q: %w", key, err)
			}
			if nb.Metadata == nil {
				nb.Metadata = make(map[string]any)
			}
			nb.Metadata[key] = value
		}
	}

	for i, raw := range file.Cells {
		cell, err := raw.toCell()
		if err != nil {
			return nil, fmt.Errorf("notebook: cell %d: %w", i, err)
		}
		nb.Cells = append(nb.Cells, cell)
	}
	return nb, nil
}

// ReadFile loads an ipynb document from disk.
func ReadFile(path string) (*Notebook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("notebook: reading %s: %w", path, err)
	}
	nb, err := Read(data)
	if err != nil {
		return nil, fmt.Errorf("notebook: %s: %w", filepath.Base(path), err)
	}
	return nb, nil
}

// Write serializes the notebook as nbformat 4.5 JSON. Keys are sorted
// and the layout fixed, so the same document always produces the same
// bytes and diffs stay reviewable.
func (nb *Notebook) Write() ([]byte, error) {
	metadata := make(map[string]any, len(nb.Metadata)+2)
	for key, value := range nb.Metadata {
		metadata[key] = value
	}
	if nb.Kernelspec != (KernelspecMeta{}) {
		metadata["kernelspec"] = nb.Kernelspec
	}
	if nb.LanguageInfo != (wire.LanguageInfo{}) {
		metadata["language_info"] = nb.LanguageInfo
	}

	cells := make([]map[string]any, len(nb.Cells))
	for i := range nb.Cells {
		cells[i] = cellToMap(&nb.Cells[i])
	}

	document := map[string]any{
		"cells":          cells,
		"metadata":       metadata,
		"nbformat":       formatMajor,
		"nbformat_minor": formatMinor,
	}
	data, err := json.MarshalIndent(document, "", " ")
	if err != nil {
		return nil, fmt.Errorf("notebook: encoding ipynb: %w", err)
	}
	return append(data, '\n'), nil
}

// WriteFile saves the notebook atomically: temp file in the target
// directory, then rename. A crash mid-save never truncates the
// notebook.
func (nb *Notebook) WriteFile(path string) error {
	data, err := nb.Write()
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("notebook: creating temporary file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("notebook: writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("notebook: closing temporary file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("notebook: installing %s: %w", path, err)
	}
	return nil
}

type rawCell struct {
	CellType       string         `json:"cell_type"`
	ID             string         `json:"id"`
	ExecutionCount *int           `json:"execution_count"`
	Metadata       map[string]any `json:"metadata"`
	Outputs        []rawOutput    `json:"outputs"`
	Source         any            `json:"source"`
}

type rawOutput struct {
	OutputType     string         `json:"output_type"`
	Name           string         `json:"name"`
	Text           any            `json:"text"`
	Data           map[string]any `json:"data"`
	Metadata       map[string]any `json:"metadata"`
	ExecutionCount *int           `json:"execution_count"`
	Ename          string         `json:"ename"`
	Evalue         string         `json:"evalue"`
	Traceback      []string       `json:"traceback"`
}

func (raw rawCell) toCell() (Cell, error) {
	cell := Cell{
		ID:       raw.ID,
		Source:   joinLines(raw.Source),
		Metadata: raw.Metadata,
	}
	if cell.ID == "" {
		cell.ID = newCellID()
	}
	switch raw.CellType {
	case "code":
		cell.Type = CellCode
	case "markdown":
		cell.Type = CellMarkdown
	case "raw":
		cell.Type = CellRaw
	default:
		return Cell{}, fmt.Errorf("unknown cell_type %q", raw.CellType)
	}
	if raw.ExecutionCount != nil {
		cell.ExecutionCount = *raw.ExecutionCount
	}
	for i, rawOut := range raw.Outputs {
		output, err := rawOut.toOutput()
		if err != nil {
			return Cell{}, fmt.Errorf("output %d: %w", i, err)
		}
		cell.Outputs = append(cell.Outputs, output)
	}
	return cell, nil
}

func (raw rawOutput) toOutput() (Output, error) {
	switch raw.OutputType {
	case "stream":
		return Output{Type: OutputStream, StreamName: raw.Name, Text: joinLines(raw.Text)}, nil
	case "display_data":
		return Output{Type: OutputDisplayData, Data: bundleFromRaw(raw.Data), Metadata: bundleFromRaw(raw.Metadata)}, nil
	case "execute_result":
		output := Output{Type: OutputExecuteResult, Data: bundleFromRaw(raw.Data), Metadata: bundleFromRaw(raw.Metadata)}
		if raw.ExecutionCount != nil {
			output.ExecutionCount = *raw.ExecutionCount
		}
		return output, nil
	case "error":
		return Output{Type: OutputError, ErrorName: raw.Ename, ErrorValue: raw.Evalue, Traceback: raw.Traceback}, nil
	default:
		return Output{}, fmt.Errorf("unknown output_type %q", raw.OutputType)
	}
}

func cellToMap(cell *Cell) map[string]any {
	id := cell.ID
	if id == "" {
		id = newCellID()
	}
	metadata := cell.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	m := map[string]any{
		"cell_type": string(cell.Type),
		"id":        id,
		"metadata":  metadata,
		"source":    splitLines(cell.Source),
	}
	if cell.Type != CellCode {
		return m
	}

	if cell.ExecutionCount > 0 {
		m["execution_count"] = cell.ExecutionCount
	} else {
		m["execution_count"] = nil
	}
	outputs := make([]map[string]any, len(cell.Outputs))
	for i := range cell.Outputs {
		outputs[i] = outputToMap(&cell.Outputs[i])
	}
	m["outputs"] = outputs
	return m
}

func outputToMap(output *Output) map[string]any {
	switch output.Type {
	case OutputStream:
		return map[string]any{
			"name":        output.StreamName,
			"output_type": "stream",
			"text":        splitLines(output.Text),
		}
	case OutputDisplayData:
		return map[string]any{
			"data":        bundleToRaw(output.Data),
			"metadata":    bundleToRaw(output.Metadata),
			"output_type": "display_data",
		}
	case OutputExecuteResult:
		var count any
		if output.ExecutionCount > 0 {
			count = output.ExecutionCount
		}
		return map[string]any{
			"data":            bundleToRaw(output.Data),
			"execution_count": count,
			"metadata":        bundleToRaw(output.Metadata),
			"output_type":     "execute_result",
		}
	default:
		traceback := output.Traceback
		if traceback == nil {
			traceback = []string{}
		}
		return map[string]any{
			"ename":       output.ErrorName,
			"evalue":      output.ErrorValue,
			"output_type": "error",
			"traceback":   traceback,
		}
	}
}

// joinLines normalizes the string-or-line-list representation the
// format allows for source and stream text.
func joinLines(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case []any:
		var b strings.Builder
		for _, line := range v {
			if s, ok := line.(string); ok {
				b.WriteString(s)
			}
		}
		return b.String()
	default:
		return ""
	}
}

// splitLines renders a string as the line list the format stores, each
// line keeping its newline.
func splitLines(s string) []string {
	if s == "" {
		return []string{}
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// bundleFromRaw joins line-list MIME values into strings; everything
// else passes through.
func bundleFromRaw(raw map[string]any) wire.MIMEBundle {
	if raw == nil {
		return nil
	}
	bundle := make(wire.MIMEBundle, len(raw))
	for mime, value := range raw {
		if list, ok := value.([]any); ok && allStrings(list) {
			bundle[mime] = joinLines(list)
			continue
		}
		bundle[mime] = value
	}
	return bundle
}

// bundleToRaw splits multi-line string values into line lists, the
// format's diff-friendly representation.
func bundleToRaw(bundle wire.MIMEBundle) map[string]any {
	raw := make(map[string]any, len(bundle))
	for mime, value := range bundle {
		if s, ok := value.(string); ok && strings.Contains(s, "\n") {
			raw[mime] = splitLines(s)
			continue
		}
		raw[mime] = value
	}
	return raw
}

func allStrings(list []any) bool {
	for _, v := range list {
		if _, ok := v.(string); !ok {
			return false
		}
	}
	return true
}
