// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter exports conversations to Markdown format.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// Export converts a conversation to Markdown.
func (e *MarkdownExporter) Export(doc Document) ([]byte, error) {
	if err := doc.validate(); err != nil {
		return nil, err
	}
	conv := doc.Conversation

	var sb strings.Builder

	// YAML frontmatter
	if e.options.IncludeMetadata {
		sb.WriteString("---\n")
		sb.WriteString(fmt.Sprintf("title: %s\n", escapeYAML(conv.GetTitle())))
		sb.WriteString(fmt.Sprintf("id: %s\n", conv.ID))
		sb.WriteString(fmt.Sprintf("model: %s\n", escapeYAML(conv.Model)))
		sb.WriteString(fmt.Sprintf("date: %s\n", conv.CreatedAt.Format(time.RFC3339)))
		sb.WriteString(fmt.Sprintf("updated: %s\n", conv.UpdatedAt.Format(time.RFC3339)))
		sb.WriteString(fmt.Sprintf("messages: %d\n", len(conv.Messages)))
		if total := conv.PromptTokens + conv.CompletionTokens; total > 0 {
			sb.WriteString(fmt.Sprintf("tokens: %d\n", total))
		}
		sb.WriteString("generator: studio\n")
		sb.WriteString("---\n\n")
	}

	sb.WriteString(fmt.Sprintf("# %s\n\n", escapeMarkdown(conv.GetTitle())))

	if e.options.IncludeMetadata {
		sb.WriteString(fmt.Sprintf("- **Model**: %s\n", conv.Model))
		sb.WriteString(fmt.Sprintf("- **Created**: %s\n", formatTimestamp(conv.CreatedAt)))
		sb.WriteString(fmt.Sprintf("- **Messages**: %d\n", len(conv.Messages)))
		if conv.CompletionTokens > 0 {
			sb.WriteString(fmt.Sprintf("- **Tokens**: %d prompt / %d completion\n", conv.PromptTokens, conv.CompletionTokens))
		}
		sb.WriteString("\n---\n\n")
	}

	for i, msg := range conv.Messages {
		if e.options.IncludeTimestamps {
			sb.WriteString(fmt.Sprintf("### %s <sub>%s</sub>\n\n", msg.Role.DisplayName(), formatShortTimestamp(msg.Timestamp)))
		} else {
			sb.WriteString(fmt.Sprintf("### %s\n\n", msg.Role.DisplayName()))
		}

		sb.WriteString(strings.TrimSpace(msg.Content))
		sb.WriteString("\n\n")

		if results := doc.ResultsFor(msg.ID); len(results) > 0 {
			sb.WriteString("**File commands**\n\n")
			for _, res := range results {
				line := fmt.Sprintf("- %s `%s`", resultMarker(res), res.Label)
				if res.Detail != "" {
					line += " " + res.Detail
				}
				sb.WriteString(line + "\n")
			}
			sb.WriteString("\n")
		}

		if i < len(conv.Messages)-1 {
			sb.WriteString("---\n\n")
		}
	}

	sb.WriteString("\n---\n\n")
	sb.WriteString(fmt.Sprintf("*Exported from studio on %s*\n", e.options.now().Format("January 2, 2006 at 3:04 PM")))

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// MimeType returns the MIME type for Markdown.
func (e *MarkdownExporter) MimeType() string {
	return "text/markdown"
}

// =============================================================================
// ESCAPING HELPERS
// =============================================================================

// escapeMarkdown escapes characters that would break a heading.
func escapeMarkdown(s string) string {
	r := strings.NewReplacer("#", `\#`, "*", `\*`, "_", `\_`, "[", `\[`, "]", `\]`)
	return r.Replace(s)
}

// escapeYAML quotes a frontmatter value when it contains YAML syntax.
func escapeYAML(s string) string {
	if strings.ContainsAny(s, ":#|>@`\"'[]{}!%&*\n\r\\") || strings.HasPrefix(s, " ") || strings.HasSuffix(s, " ") {
		s = strings.ReplaceAll(s, `\`, `\\`)
		s = strings.ReplaceAll(s, `"`, `\"`)
		s = strings.ReplaceAll(s, "\n", `\n`)
		s = strings.ReplaceAll(s, "\r", `\r`)
		return `"` + s + `"`
	}
	return s
}
