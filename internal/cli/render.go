// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"strings"
	"sync"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	chromaStyles "github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/glamour"
)

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

var (
	markdownRenderer     *glamour.TermRenderer
	markdownRendererOnce sync.Once
)

// renderMarkdown renders a reply for the terminal. The unrendered content is
// returned when the renderer cannot be built or fails.
func renderMarkdown(content string) string {
	markdownRendererOnce.Do(func() {
		style := glamour.WithAutoStyle()
		if !ColorsEnabled() {
			style = glamour.WithStandardStyle("notty")
		}
		r, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(GetTerminalWidth()-4))
		if err == nil {
			markdownRenderer = r
		}
	})
	if markdownRenderer == nil {
		return content
	}

	rendered, err := markdownRenderer.Render(content)
	if err != nil {
		return content
	}
	return rendered
}

// =============================================================================
// SYNTAX HIGHLIGHTING
// =============================================================================

// highlightFile highlights file content for the terminal, choosing the
// lexer from the file name and falling back to content analysis.
func highlightFile(name, content string) string {
	lexer := lexers.Match(name)
	if lexer == nil {
		lexer = lexers.Analyse(content)
	}
	if lexer == nil {
		return content
	}
	lexer = chroma.Coalesce(lexer)

	style := chromaStyles.Get("monokai")
	if style == nil {
		style = chromaStyles.Fallback
	}

	formatter := formatters.Get("terminal256")
	if formatter == nil {
		formatter = formatters.Fallback
	}

	iterator, err := lexer.Tokenise(nil, content)
	if err != nil {
		return content
	}

	var buf strings.Builder
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return content
	}
	return buf.String()
}
