// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/jeranaias/studio/internal/filecmd"
	"github.com/jeranaias/studio/internal/model"
)

// =============================================================================
// HTML EXPORTER
// =============================================================================

// HTMLExporter exports conversations to a self-contained HTML page.
// Message content is escaped and shown preformatted; no markdown is
// interpreted.
type HTMLExporter struct {
	options *Options
}

// NewHTMLExporter creates a new HTML exporter.
func NewHTMLExporter(opts *Options) *HTMLExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &HTMLExporter{options: opts}
}

// Export converts a conversation to HTML.
func (e *HTMLExporter) Export(doc Document) ([]byte, error) {
	if err := doc.validate(); err != nil {
		return nil, err
	}
	conv := doc.Conversation
	theme := e.options.Theme
	if theme != "light" {
		theme = "dark"
	}

	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n<html lang=\"en\">\n<head>\n")
	sb.WriteString("    <meta charset=\"UTF-8\">\n")
	sb.WriteString("    <meta name=\"viewport\" content=\"width=device-width, initial-scale=1.0\">\n")
	sb.WriteString(fmt.Sprintf("    <title>%s</title>\n", html.EscapeString(conv.GetTitle())))
	sb.WriteString("    <meta name=\"generator\" content=\"studio\">\n")
	sb.WriteString(fmt.Sprintf("    <meta name=\"date\" content=\"%s\">\n", conv.CreatedAt.Format(time.RFC3339)))
	sb.WriteString(pageCSS)
	sb.WriteString("</head>\n")
	sb.WriteString(fmt.Sprintf("<body class=\"%s-theme\">\n    <div class=\"container\">\n", theme))

	sb.WriteString("        <header class=\"header\">\n")
	sb.WriteString(fmt.Sprintf("            <h1>%s</h1>\n", html.EscapeString(conv.GetTitle())))
	if e.options.IncludeMetadata {
		sb.WriteString("            <div class=\"metadata\">\n")
		sb.WriteString(fmt.Sprintf("                <span><strong>Model:</strong> %s</span>\n", html.EscapeString(conv.Model)))
		sb.WriteString(fmt.Sprintf("                <span><strong>Created:</strong> %s</span>\n", formatTimestamp(conv.CreatedAt)))
		sb.WriteString(fmt.Sprintf("                <span><strong>Messages:</strong> %d</span>\n", len(conv.Messages)))
		if conv.CompletionTokens > 0 {
			sb.WriteString(fmt.Sprintf("                <span><strong>Tokens:</strong> %d / %d</span>\n", conv.PromptTokens, conv.CompletionTokens))
		}
		sb.WriteString("            </div>\n")
	}
	sb.WriteString("        </header>\n")

	sb.WriteString("        <main class=\"conversation\">\n")
	for _, msg := range conv.Messages {
		sb.WriteString(e.renderMessage(msg, doc.ResultsFor(msg.ID)))
	}
	sb.WriteString("        </main>\n")

	sb.WriteString("        <footer class=\"footer\">\n")
	sb.WriteString(fmt.Sprintf("            <p>Exported from <strong>studio</strong> on %s</p>\n",
		e.options.now().Format("January 2, 2006 at 3:04 PM")))
	sb.WriteString("        </footer>\n    </div>\n</body>\n</html>\n")

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for HTML.
func (e *HTMLExporter) FileExtension() string {
	return ".html"
}

// MimeType returns the MIME type for HTML.
func (e *HTMLExporter) MimeType() string {
	return "text/html"
}

func (e *HTMLExporter) renderMessage(msg model.Message, results []filecmd.CommandResult) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("            <div class=\"message %s-message\">\n", html.EscapeString(msg.Role.String())))
	sb.WriteString("                <div class=\"message-header\">\n")
	sb.WriteString(fmt.Sprintf("                    <span class=\"role-label\">%s</span>\n", html.EscapeString(msg.Role.DisplayName())))
	if e.options.IncludeTimestamps {
		sb.WriteString(fmt.Sprintf("                    <span class=\"timestamp\">%s</span>\n", formatShortTimestamp(msg.Timestamp)))
	}
	sb.WriteString("                </div>\n")
	sb.WriteString(fmt.Sprintf("                <div class=\"message-content\">%s</div>\n", html.EscapeString(strings.TrimSpace(msg.Content))))

	if len(results) > 0 {
		sb.WriteString("                <ul class=\"results\">\n")
		for _, res := range results {
			class := "ok"
			if res.Status != filecmd.StatusSuccess {
				class = "fail"
			}
			sb.WriteString(fmt.Sprintf("                    <li class=\"%s\">%s <code>%s</code> %s</li>\n",
				class, resultMarker(res), html.EscapeString(res.Label), html.EscapeString(res.Detail)))
		}
		sb.WriteString("                </ul>\n")
	}

	sb.WriteString("            </div>\n")
	return sb.String()
}

const pageCSS = `    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        .dark-theme { --bg: #1a1b26; --card: #24283b; --fg: #c0caf5; --muted: #565f89; --accent: #7aa2f7; --ok: #9ece6a; --fail: #f7768e; }
        .light-theme { --bg: #f5f5f5; --card: #ffffff; --fg: #1a1b26; --muted: #6b7280; --accent: #2563eb; --ok: #15803d; --fail: #b91c1c; }
        body { background: var(--bg); color: var(--fg); font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif; line-height: 1.6; }
        .container { max-width: 900px; margin: 0 auto; padding: 2rem 1rem; }
        .header { margin-bottom: 2rem; }
        .header h1 { color: var(--accent); margin-bottom: 0.5rem; }
        .metadata { display: flex; flex-wrap: wrap; gap: 1rem; color: var(--muted); font-size: 0.9rem; }
        .message { background: var(--card); border-radius: 8px; padding: 1rem; margin-bottom: 1rem; }
        .message-header { display: flex; justify-content: space-between; margin-bottom: 0.5rem; }
        .role-label { font-weight: 600; color: var(--accent); }
        .timestamp { color: var(--muted); font-size: 0.85rem; }
        .message-content { white-space: pre-wrap; word-wrap: break-word; font-family: "SF Mono", Monaco, "Fira Code", monospace; font-size: 0.9rem; }
        .results { list-style: none; margin-top: 0.75rem; font-size: 0.85rem; }
        .results .ok { color: var(--ok); }
        .results .fail { color: var(--fail); }
        .footer { text-align: center; color: var(--muted); font-size: 0.85rem; margin-top: 2rem; }
    </style>
`
