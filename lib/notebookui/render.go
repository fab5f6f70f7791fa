// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package notebookui

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2/quick"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"

	"github.com/thyone-project/thyone/lib/tui"
	"github.com/thyone-project/thyone/notebook"
	"github.com/thyone-project/thyone/wire"
)

// HighlightSource syntax-highlights source code for terminal display
// using chroma's terminal256 formatter and the theme's chroma style.
// Unknown languages and highlighter errors fall back to faint plain
// text.
func HighlightSource(code, language string, theme tui.Theme) string {
	if language == "" {
		return faintStyle(theme).Render(code)
	}
	var buffer strings.Builder
	if err := quick.Highlight(&buffer, code, language, "terminal256", theme.ChromaStyle); err != nil {
		return faintStyle(theme).Render(code)
	}
	return buffer.String()
}

func faintStyle(theme tui.Theme) lipgloss.Style {
	return ansiRenderer().NewStyle().Foreground(theme.FaintText)
}

// ansiRenderer returns a lipgloss renderer pinned to ANSI256 so
// rendering is identical with or without a detected TTY.
func ansiRenderer() *lipgloss.Renderer {
	renderer := lipgloss.NewRenderer(os.Stderr, termenv.WithProfile(termenv.ANSI256))
	renderer.SetColorProfile(termenv.ANSI256)
	return renderer
}

// bundleOrder is the preference order when a display bundle carries
// several representations of one value. Richer terminal renderings
// first.
var bundleOrder = []string{
	"text/markdown",
	"text/plain",
	"text/html",
	"application/json",
}

// RenderBundle renders the richest representation a MIME bundle
// offers. Images and other binary types render as a placeholder
// naming the type, the way a text terminal has to.
func RenderBundle(bundle wire.MIMEBundle, theme tui.Theme, width int) string {
	for _, mimeType := range bundleOrder {
		value, ok := bundle[mimeType]
		if !ok {
			continue
		}
		switch mimeType {
		case "text/markdown":
			if text, ok := value.(string); ok {
				return RenderMarkdown(text, theme, width)
			}
		case "text/plain":
			if text, ok := value.(string); ok {
				return ansi.Wrap(strings.TrimRight(text, "\n"), width, "")
			}
		case "text/html":
			if text, ok := value.(string); ok {
				stripped := strings.TrimSpace(stripHTMLTags(text))
				return ansi.Wrap(stripped, width, " ")
			}
		case "application/json":
			pretty, err := json.MarshalIndent(value, "", "  ")
			if err == nil {
				return string(pretty)
			}
		}
	}

	// Nothing textual. Name the first type so the user knows what
	// the kernel sent.
	for mimeType, value := range bundle {
		size := ""
		if text, ok := value.(string); ok {
			size = fmt.Sprintf(", %d bytes", len(text))
		}
		return faintStyle(theme).Render("[" + mimeType + size + "]")
	}
	return ""
}

// RenderOutput renders one cell output as ANSI terminal text at the
// given width. The result has no trailing newline.
func RenderOutput(output notebook.Output, theme tui.Theme, width int) string {
	switch output.Type {
	case notebook.OutputStream:
		text := strings.TrimRight(output.Text, "\n")
		if output.StreamName == "stderr" {
			style := ansiRenderer().NewStyle().Foreground(theme.StderrText)
			lines := strings.Split(text, "\n")
			for i, line := range lines {
				lines[i] = style.Render(line)
			}
			return strings.Join(lines, "\n")
		}
		return text

	case notebook.OutputDisplayData, notebook.OutputExecuteResult:
		return RenderBundle(output.Data, theme, width)

	case notebook.OutputError:
		return renderTraceback(output, theme, width)

	default:
		return ""
	}
}

// renderTraceback renders an error output. Kernels embed their own
// ANSI coloring in traceback lines, which passes through untouched;
// when the traceback is empty the name/value pair renders instead.
func renderTraceback(output notebook.Output, theme tui.Theme, width int) string {
	if len(output.Traceback) > 0 {
		lines := make([]string, len(output.Traceback))
		for i, line := range output.Traceback {
			lines[i] = ansi.Truncate(line, width, "…")
		}
		return strings.Join(lines, "\n")
	}
	style := ansiRenderer().NewStyle().Foreground(theme.ErrorText)
	return style.Render(output.ErrorName + ": " + output.ErrorValue)
}

// RenderCell renders a full notebook cell: the prompt gutter, the
// highlighted source, and every output.
func RenderCell(cell notebook.Cell, language string, theme tui.Theme, width int) string {
	var parts []string

	switch cell.Type {
	case notebook.CellMarkdown:
		parts = append(parts, RenderMarkdown(cell.Source, theme, width))
	case notebook.CellRaw:
		parts = append(parts, faintStyle(theme).Render(strings.TrimRight(cell.Source, "\n")))
	default:
		prompt := RenderPrompt("In", cell.ExecutionCount, theme)
		source := HighlightSource(strings.TrimRight(cell.Source, "\n"), language, theme)
		parts = append(parts, prompt+"\n"+source)
		for _, output := range cell.Outputs {
			rendered := RenderOutput(output, theme, width)
			if output.Type == notebook.OutputExecuteResult {
				rendered = RenderPrompt("Out", output.ExecutionCount, theme) + "\n" + rendered
			}
			if rendered != "" {
				parts = append(parts, rendered)
			}
		}
	}

	return strings.Join(parts, "\n")
}

// RenderPrompt renders a jupyter-style In[n]/Out[n] gutter label.
// A zero count renders as a blank slot.
func RenderPrompt(label string, count int, theme tui.Theme) string {
	renderer := ansiRenderer()
	promptStyle := renderer.NewStyle().Foreground(theme.PromptText)
	counterStyle := renderer.NewStyle().Foreground(theme.CounterText)

	slot := " "
	if count > 0 {
		slot = fmt.Sprintf("%d", count)
	}
	return promptStyle.Render(label+"[") + counterStyle.Render(slot) + promptStyle.Render("]:")
}
