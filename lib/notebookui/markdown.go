// Copyright 2026 The Thyone Authors
// SPDX-License-Identifier: Apache-2.0

package notebookui

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
	"github.com/muesli/termenv"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"github.com/thyone-project/thyone/lib/tui"
)

// markdownParserInstance is initialized once and reused. The parser
// configuration never changes and the goldmark Parser is safe to
// share; parsing creates per-call state via Parse(reader).
var (
	markdownParserInstance goldmark.Markdown
	markdownParserOnce     sync.Once
)

func getMarkdownParser() goldmark.Markdown {
	markdownParserOnce.Do(func() {
		markdownParserInstance = goldmark.New(
			goldmark.WithExtensions(extension.GFM),
		)
	})
	return markdownParserInstance
}

// RenderMarkdown parses markdown text and renders it as styled
// terminal output. Soft line breaks (single newlines within
// paragraphs) become spaces so hard-wrapped source reflows at any
// terminal width. Code fences, lists, and tables keep their
// structure.
func RenderMarkdown(input string, theme tui.Theme, width int) string {
	if input == "" {
		return ""
	}
	source := []byte(input)
	document := getMarkdownParser().Parser().Parse(text.NewReader(source))

	// Force the ANSI256 color profile: this output is always for a
	// bubbletea TUI, so auto-detection (which sees no TTY in tests)
	// would strip all color. SetColorProfile is needed because
	// lipgloss re-detects from the environment otherwise.
	lipRenderer := lipgloss.NewRenderer(os.Stderr, termenv.WithProfile(termenv.ANSI256))
	lipRenderer.SetColorProfile(termenv.ANSI256)

	walker := &markdownWalker{
		source:      source,
		theme:       theme,
		width:       width,
		lipRenderer: lipRenderer,
	}
	ast.Walk(document, walker.walk)

	return strings.TrimRight(walker.output.String(), "\n")
}

// markdownWalker walks a goldmark AST and produces styled terminal
// text. A direct ast.Walk fits terminal rendering better than
// goldmark's renderer interface: paragraph inline content collects in
// a buffer and gets word-wrapped as a unit when the paragraph closes.
type markdownWalker struct {
	source []byte
	theme  tui.Theme
	width  int

	output strings.Builder

	// Inline accumulator, flushed with word-wrap when the containing
	// block closes.
	inline strings.Builder

	// Prefix stack for nested containers (blockquotes, list items).
	prefixStack     []prefixLevel
	linePrefix      string
	linePrefixWidth int

	// pendingBullet replaces linePrefix for the very next emitted
	// line, then clears. Carries list item bullets and numbers.
	pendingBullet string

	// Inline style counters. Counters rather than booleans so nested
	// emphasis unwinds correctly.
	boldCount          int
	italicCount        int
	strikethroughCount int

	listStack []listState

	lipRenderer *lipgloss.Renderer

	trailingNewlines int
}

type prefixLevel struct {
	text  string
	width int
}

type listState struct {
	ordered bool
	counter int
	tight   bool
}

func (w *markdownWalker) newStyle() lipgloss.Style {
	return w.lipRenderer.NewStyle()
}

// currentWidth is the content width left after nesting prefixes,
// clamped so degenerate terminal sizes still wrap sanely.
func (w *markdownWalker) currentWidth() int {
	width := w.width - w.linePrefixWidth
	if width < 10 {
		width = 10
	}
	return width
}

func (w *markdownWalker) pushPrefix(text string, visibleWidth int) {
	w.prefixStack = append(w.prefixStack, prefixLevel{text: text, width: visibleWidth})
	w.linePrefix += text
	w.linePrefixWidth += visibleWidth
}

func (w *markdownWalker) popPrefix() {
	if len(w.prefixStack) == 0 {
		return
	}
	top := w.prefixStack[len(w.prefixStack)-1]
	w.prefixStack = w.prefixStack[:len(w.prefixStack)-1]
	w.linePrefix = w.linePrefix[:len(w.linePrefix)-len(top.text)]
	w.linePrefixWidth -= top.width
}

func (w *markdownWalker) inTightList() bool {
	if len(w.listStack) == 0 {
		return false
	}
	return w.listStack[len(w.listStack)-1].tight
}

func (w *markdownWalker) writeOutput(s string) {
	if s == "" {
		return
	}
	w.output.WriteString(s)

	trailing := 0
	entirelyNewlines := true
	for index := len(s) - 1; index >= 0; index-- {
		if s[index] == '\n' {
			trailing++
		} else {
			entirelyNewlines = false
			break
		}
	}
	if entirelyNewlines {
		w.trailingNewlines += trailing
	} else {
		w.trailingNewlines = trailing
	}
}

func (w *markdownWalker) ensureNewline() {
	if w.trailingNewlines < 1 {
		w.writeOutput("\n")
	}
}

func (w *markdownWalker) ensureBlankLine() {
	for w.trailingNewlines < 2 {
		w.writeOutput("\n")
	}
}

// consumeLinePrefix returns the prefix for the current line: the
// pending bullet for the first line of a list item, the regular
// prefix otherwise.
func (w *markdownWalker) consumeLinePrefix() string {
	if w.pendingBullet != "" {
		bullet := w.pendingBullet
		w.pendingBullet = ""
		return bullet
	}
	return w.linePrefix
}

func (w *markdownWalker) applyPrefixes(content string) string {
	lines := strings.Split(content, "\n")
	var result strings.Builder
	for index, line := range lines {
		if index == 0 {
			result.WriteString(w.consumeLinePrefix())
		} else {
			result.WriteString(w.linePrefix)
		}
		result.WriteString(line)
		if index < len(lines)-1 {
			result.WriteString("\n")
		}
	}
	return result.String()
}

// flushInline word-wraps the accumulated inline content to the
// current width, applies line prefixes, and resets the buffer.
func (w *markdownWalker) flushInline() string {
	content := w.inline.String()
	w.inline.Reset()
	if content == "" {
		return ""
	}
	return w.applyPrefixes(ansi.Wrap(content, w.currentWidth(), " ,.;-+|"))
}

func (w *markdownWalker) styledText(content string) string {
	style := w.newStyle().Foreground(w.theme.NormalText)
	if w.boldCount > 0 {
		style = style.Bold(true)
	}
	if w.italicCount > 0 {
		style = style.Italic(true)
	}
	if w.strikethroughCount > 0 {
		style = style.Strikethrough(true)
	}
	return style.Render(content)
}

// renderInlineContent walks a node's children into a string, saving
// and restoring the inline buffer and style counters around the walk.
func (w *markdownWalker) renderInlineContent(node ast.Node) string {
	savedInline := w.inline.String()
	savedBold, savedItalic, savedStrike := w.boldCount, w.italicCount, w.strikethroughCount

	w.inline.Reset()
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		ast.Walk(child, w.walk)
	}
	result := w.inline.String()

	w.inline.Reset()
	w.inline.WriteString(savedInline)
	w.boldCount, w.italicCount, w.strikethroughCount = savedBold, savedItalic, savedStrike

	return result
}

func (w *markdownWalker) walk(node ast.Node, entering bool) (ast.WalkStatus, error) {
	switch node.Kind() {

	case ast.KindDocument:

	case ast.KindParagraph, ast.KindTextBlock:
		if entering {
			w.inline.Reset()
		} else {
			flushed := w.flushInline()
			if flushed != "" {
				w.writeOutput(flushed)
				w.ensureNewline()
				if !w.inTightList() {
					w.ensureBlankLine()
				}
			}
		}

	case ast.KindHeading:
		if entering {
			w.inline.Reset()
		} else {
			w.leaveHeading(node.(*ast.Heading))
		}

	case ast.KindFencedCodeBlock:
		if entering {
			w.renderFencedCodeBlock(node.(*ast.FencedCodeBlock))
			return ast.WalkSkipChildren, nil
		}

	case ast.KindCodeBlock:
		if entering {
			w.renderCodeBlock(node.(*ast.CodeBlock))
			return ast.WalkSkipChildren, nil
		}

	case ast.KindBlockquote:
		if entering {
			w.pushPrefix("│ ", 2)
		} else {
			w.popPrefix()
			w.ensureBlankLine()
		}

	case ast.KindList:
		if entering {
			w.enterList(node.(*ast.List))
		} else {
			w.leaveList()
		}

	case ast.KindListItem:
		if entering {
			w.enterListItem()
		} else {
			w.leaveListItem()
		}

	case ast.KindThematicBreak:
		if entering {
			w.renderThematicBreak()
		}

	case ast.KindHTMLBlock:
		if entering {
			w.renderHTMLBlock(node.(*ast.HTMLBlock))
			return ast.WalkSkipChildren, nil
		}

	case ast.KindText:
		if entering {
			w.handleText(node.(*ast.Text))
		}

	case ast.KindString:
		if entering {
			str := node.(*ast.String)
			w.inline.WriteString(w.styledText(string(str.Value)))
		}

	case ast.KindEmphasis:
		w.handleEmphasis(node.(*ast.Emphasis), entering)

	case ast.KindCodeSpan:
		if entering {
			w.renderCodeSpan(node)
			return ast.WalkSkipChildren, nil
		}

	case ast.KindLink:
		if entering {
			w.renderLink(node.(*ast.Link))
			return ast.WalkSkipChildren, nil
		}

	case ast.KindAutoLink:
		if entering {
			url := string(node.(*ast.AutoLink).URL(w.source))
			w.inline.WriteString(w.newStyle().Foreground(w.theme.FaintText).Render(url))
		}

	case ast.KindImage:
		if entering {
			w.renderImage(node.(*ast.Image))
			return ast.WalkSkipChildren, nil
		}

	case ast.KindRawHTML:
		if entering {
			w.renderRawHTML(node.(*ast.RawHTML))
		}

	case extast.KindStrikethrough:
		if entering {
			w.strikethroughCount++
		} else {
			w.strikethroughCount--
		}

	case extast.KindTable:
		if entering {
			w.renderTable(node)
			return ast.WalkSkipChildren, nil
		}

	case extast.KindTaskCheckBox:
		if entering {
			checkbox := node.(*extast.TaskCheckBox)
			if checkbox.IsChecked {
				done := w.newStyle().Foreground(w.theme.StateIdle)
				w.inline.WriteString(done.Render("[x]") + " ")
			} else {
				w.inline.WriteString(w.styledText("[ ] "))
			}
		}
	}

	return ast.WalkContinue, nil
}

func (w *markdownWalker) leaveHeading(heading *ast.Heading) {
	// Strip inline styling; the heading has its own style.
	content := ansi.Strip(w.inline.String())
	w.inline.Reset()
	if content == "" {
		return
	}

	style := w.newStyle().Bold(true)
	if heading.Level <= 2 {
		style = style.Foreground(w.theme.HeaderForeground)
	} else {
		style = style.Foreground(w.theme.NormalText)
	}

	wrapped := ansi.Wrap(style.Render(content), w.currentWidth(), " ,.;-+|")
	w.ensureBlankLine()
	w.writeOutput(w.applyPrefixes(wrapped))
	w.ensureNewline()
	w.ensureBlankLine()
}

func (w *markdownWalker) blockLines(lines *text.Segments) string {
	var content strings.Builder
	for index := 0; index < lines.Len(); index++ {
		segment := lines.At(index)
		content.Write(segment.Value(w.source))
	}
	return content.String()
}

func (w *markdownWalker) renderFencedCodeBlock(node *ast.FencedCodeBlock) {
	language := string(node.Language(w.source))
	highlighted := HighlightSource(w.blockLines(node.Lines()), language, w.theme)
	w.writeCodeLines(highlighted)
}

func (w *markdownWalker) renderCodeBlock(node *ast.CodeBlock) {
	faint := w.newStyle().Foreground(w.theme.FaintText)
	var styled []string
	for _, line := range strings.Split(strings.TrimRight(w.blockLines(node.Lines()), "\n"), "\n") {
		styled = append(styled, faint.Render(line))
	}
	w.writeCodeLines(strings.Join(styled, "\n"))
}

func (w *markdownWalker) writeCodeLines(code string) {
	w.ensureBlankLine()
	for _, line := range strings.Split(strings.TrimRight(code, "\n"), "\n") {
		w.writeOutput(w.consumeLinePrefix() + line)
		w.ensureNewline()
	}
	w.ensureBlankLine()
}

func (w *markdownWalker) enterList(list *ast.List) {
	startNumber := 0
	if list.IsOrdered() {
		startNumber = list.Start
	}
	w.listStack = append(w.listStack, listState{
		ordered: list.IsOrdered(),
		counter: startNumber,
		tight:   list.IsTight,
	})
}

func (w *markdownWalker) leaveList() {
	if len(w.listStack) > 0 {
		w.listStack = w.listStack[:len(w.listStack)-1]
	}
	if !w.inTightList() {
		w.ensureBlankLine()
	}
}

func (w *markdownWalker) enterListItem() {
	if len(w.listStack) == 0 {
		return
	}
	top := &w.listStack[len(w.listStack)-1]

	var bullet string
	if top.ordered {
		bullet = fmt.Sprintf("%d. ", top.counter)
		top.counter++
	} else {
		bullet = "- "
	}

	bulletWidth := len(bullet) // ASCII bullets: byte length == visual width.
	// The pending bullet carries the current prefix so it replaces
	// the whole prefix on the item's first line.
	w.pendingBullet = w.linePrefix + bullet
	w.pushPrefix(strings.Repeat(" ", bulletWidth), bulletWidth)
}

func (w *markdownWalker) leaveListItem() {
	w.popPrefix()
	if !w.inTightList() {
		w.ensureBlankLine()
	} else {
		w.ensureNewline()
	}
}

func (w *markdownWalker) renderThematicBreak() {
	rule := strings.Repeat("─", w.currentWidth())
	style := w.newStyle().Foreground(w.theme.BorderColor)
	w.ensureBlankLine()
	w.writeOutput(w.applyPrefixes(style.Render(rule)))
	w.ensureNewline()
	w.ensureBlankLine()
}

func (w *markdownWalker) renderHTMLBlock(node *ast.HTMLBlock) {
	stripped := strings.TrimSpace(stripHTMLTags(w.blockLines(node.Lines())))
	if stripped == "" {
		return
	}
	faint := w.newStyle().Foreground(w.theme.FaintText)
	w.writeOutput(w.applyPrefixes(faint.Render(stripped)))
	w.ensureNewline()
	w.ensureBlankLine()
}

func (w *markdownWalker) handleText(node *ast.Text) {
	value := string(node.Segment.Value(w.source))
	w.inline.WriteString(w.styledText(value))

	if node.SoftLineBreak() {
		// Soft line breaks become spaces so hard-wrapped source
		// reflows at any terminal width.
		w.inline.WriteString(" ")
	}
	if node.HardLineBreak() {
		w.inline.WriteString("\n")
	}
}

func (w *markdownWalker) handleEmphasis(node *ast.Emphasis, entering bool) {
	if node.Level >= 2 {
		if entering {
			w.boldCount++
		} else {
			w.boldCount--
		}
	} else {
		if entering {
			w.italicCount++
		} else {
			w.italicCount--
		}
	}
}

func (w *markdownWalker) renderCodeSpan(node ast.Node) {
	var code strings.Builder
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		switch typed := child.(type) {
		case *ast.Text:
			code.Write(typed.Segment.Value(w.source))
		case *ast.String:
			code.Write(typed.Value)
		}
	}
	style := w.newStyle().Foreground(w.theme.CounterText)
	w.inline.WriteString(style.Render(code.String()))
}

func (w *markdownWalker) renderLink(node *ast.Link) {
	// renderInlineContent already styles the link text; write as-is.
	w.inline.WriteString(w.renderInlineContent(node))
	if url := string(node.Destination); url != "" {
		style := w.newStyle().Foreground(w.theme.FaintText)
		w.inline.WriteString(" " + style.Render("("+url+")"))
	}
}

func (w *markdownWalker) renderImage(node *ast.Image) {
	altText := w.renderInlineContent(node)
	faint := w.newStyle().Foreground(w.theme.FaintText)
	w.inline.WriteString(faint.Render("[" + altText + "]"))
	if url := string(node.Destination); url != "" {
		w.inline.WriteString(" " + faint.Render("("+url+")"))
	}
}

func (w *markdownWalker) renderRawHTML(node *ast.RawHTML) {
	var html strings.Builder
	for index := 0; index < node.Segments.Len(); index++ {
		segment := node.Segments.At(index)
		html.Write(segment.Value(w.source))
	}
	if stripped := stripHTMLTags(html.String()); stripped != "" {
		faint := w.newStyle().Foreground(w.theme.FaintText)
		w.inline.WriteString(faint.Render(stripped))
	}
}

func (w *markdownWalker) renderTable(node ast.Node) {
	table := node.(*extast.Table)
	alignments := table.Alignments

	var headerCells []string
	var bodyRows [][]string
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		switch child.Kind() {
		case extast.KindTableHeader:
			headerCells = w.collectTableRow(child)
		case extast.KindTableRow:
			bodyRows = append(bodyRows, w.collectTableRow(child))
		}
	}

	columnCount := len(headerCells)
	if columnCount == 0 && len(bodyRows) > 0 {
		columnCount = len(bodyRows[0])
	}
	if columnCount == 0 {
		return
	}

	columnWidths := make([]int, columnCount)
	measure := func(row []string) {
		for index, cell := range row {
			if index < columnCount {
				if width := lipgloss.Width(cell); width > columnWidths[index] {
					columnWidths[index] = width
				}
			}
		}
	}
	measure(headerCells)
	for _, row := range bodyRows {
		measure(row)
	}

	w.ensureBlankLine()

	if len(headerCells) > 0 {
		bold := w.newStyle().Bold(true).Foreground(w.theme.NormalText)
		w.writeOutput(w.consumeLinePrefix() + w.formatTableRow(headerCells, columnWidths, alignments, bold))
		w.ensureNewline()

		var parts []string
		for _, width := range columnWidths {
			parts = append(parts, strings.Repeat("─", width))
		}
		border := w.newStyle().Foreground(w.theme.BorderColor)
		w.writeOutput(w.linePrefix + border.Render(strings.Join(parts, "  ")))
		w.ensureNewline()
	}

	for _, row := range bodyRows {
		w.writeOutput(w.linePrefix + w.formatTableRow(row, columnWidths, alignments, w.newStyle()))
		w.ensureNewline()
	}

	w.ensureBlankLine()
}

func (w *markdownWalker) collectTableRow(row ast.Node) []string {
	var cells []string
	for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
		if cell.Kind() == extast.KindTableCell {
			cells = append(cells, w.renderInlineContent(cell))
		}
	}
	return cells
}

func (w *markdownWalker) formatTableRow(
	cells []string,
	columnWidths []int,
	alignments []extast.Alignment,
	baseStyle lipgloss.Style,
) string {
	var parts []string
	for index, width := range columnWidths {
		var cell string
		if index < len(cells) {
			cell = cells[index]
		}

		visibleWidth := lipgloss.Width(cell)
		if visibleWidth > width {
			cell = ansi.Truncate(cell, width, "…")
			visibleWidth = lipgloss.Width(cell)
		}
		padding := width - visibleWidth
		if padding < 0 {
			padding = 0
		}

		var alignment extast.Alignment
		if index < len(alignments) {
			alignment = alignments[index]
		}
		switch alignment {
		case extast.AlignRight:
			cell = strings.Repeat(" ", padding) + cell
		case extast.AlignCenter:
			left := padding / 2
			cell = strings.Repeat(" ", left) + cell + strings.Repeat(" ", padding-left)
		default:
			cell = cell + strings.Repeat(" ", padding)
		}
		parts = append(parts, cell)
	}
	return baseStyle.Render(strings.Join(parts, "  "))
}

// stripHTMLTags drops angle-bracketed tags, keeping text content.
func stripHTMLTags(html string) string {
	var result strings.Builder
	inTag := false
	for _, character := range html {
		switch {
		case character == '<':
			inTag = true
		case character == '>':
			inTag = false
		case !inTag:
			result.WriteRune(character)
		}
	}
	return result.String()
}
