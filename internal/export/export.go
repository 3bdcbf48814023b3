// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export renders saved conversations as Markdown, HTML or JSON,
// including the file command results recorded against each reply.
package export

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/studio/internal/filecmd"
	"github.com/jeranaias/studio/internal/model"
	"github.com/jeranaias/studio/internal/storage"
)

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter converts a conversation to one output format.
type Exporter interface {
	// Export converts a document to the target format.
	Export(doc Document) ([]byte, error)

	// FileExtension returns the file extension, e.g. ".md".
	FileExtension() string

	// MimeType returns the MIME type of the output.
	MimeType() string
}

// Document is a conversation together with its recorded command results.
type Document struct {
	Conversation *model.Conversation
	Results      []storage.CommandRecord
}

// ResultsFor returns the command results recorded for one message.
func (d Document) ResultsFor(messageID string) []filecmd.CommandResult {
	var out []filecmd.CommandResult
	for _, r := range d.Results {
		if r.MessageID == messageID {
			out = append(out, r.Result)
		}
	}
	return out
}

func (d Document) validate() error {
	if d.Conversation == nil {
		return errors.New("conversation is nil")
	}
	if d.Conversation.CreatedAt.IsZero() {
		return errors.New("conversation has invalid creation timestamp")
	}
	return nil
}

// =============================================================================
// EXPORT OPTIONS
// =============================================================================

// Options configures export behavior.
type Options struct {
	// IncludeMetadata adds a header with model, dates and token totals.
	IncludeMetadata bool

	// IncludeTimestamps adds per-message times.
	IncludeTimestamps bool

	// Theme for HTML export ("light" or "dark").
	Theme string

	// Now stamps the footer; zero uses time.Now.
	Now time.Time
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{
		IncludeMetadata:   true,
		IncludeTimestamps: true,
		Theme:             "dark",
	}
}

func (o *Options) now() time.Time {
	if o.Now.IsZero() {
		return time.Now()
	}
	return o.Now
}

// Formats lists the accepted format names.
var Formats = []string{"markdown", "html", "json"}

// ForFormat returns the exporter for a format name: "markdown" (or "md"),
// "html" or "json".
func ForFormat(format string, opts *Options) (Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "md", "markdown":
		return NewMarkdownExporter(opts), nil
	case "html", "htm":
		return NewHTMLExporter(opts), nil
	case "json":
		return NewJSONExporter(opts), nil
	}
	return nil, fmt.Errorf("unknown export format %q (use %s)", format, strings.Join(Formats, ", "))
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// Filename returns a default output name for conv,
// "conversation_<title>_<yyyymmdd_hhmmss><ext>".
func Filename(conv *model.Conversation, exporter Exporter, now time.Time) string {
	return fmt.Sprintf("conversation_%s_%s%s",
		sanitizeFilename(conv.GetTitle()),
		now.Format("20060102_150405"),
		exporter.FileExtension(),
	)
}

// sanitizeFilename removes or replaces characters that are invalid in filenames.
func sanitizeFilename(s string) string {
	const maxLen = 50
	runes := []rune(s)
	if len(runes) > maxLen {
		runes = runes[:maxLen]
	}

	result := make([]rune, 0, len(runes))
	for _, r := range runes {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r):
			result = append(result, '-')
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			result = append(result, '_')
		case r < 32 || r == 127:
			result = append(result, '-')
		default:
			result = append(result, r)
		}
	}

	if len(result) == 0 {
		return "conversation"
	}
	return string(result)
}

// resultMarker is the textual status of a command result.
func resultMarker(res filecmd.CommandResult) string {
	if res.Status == filecmd.StatusSuccess {
		return "[OK]"
	}
	return "[FAIL]"
}

func formatTimestamp(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatShortTimestamp(t time.Time) string {
	return t.Local().Format("15:04:05")
}
