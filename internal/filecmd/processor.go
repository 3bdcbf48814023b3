// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package filecmd

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jeranaias/studio/internal/sandbox"
)

// =============================================================================
// RESULTS
// =============================================================================

// Status is the outcome of one directive.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// CommandResult records one executed directive.
type CommandResult struct {
	Label  string `json:"label"`
	Status Status `json:"status"`
	Detail string `json:"detail"`
}

// Result is the rewritten text and the per-directive outcomes, write
// directive first.
type Result struct {
	Text    string
	Results []CommandResult
}

// Failed returns the number of directives that failed.
func (r Result) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.Status == StatusError {
			n++
		}
	}
	return n
}

// =============================================================================
// PROCESSOR
// =============================================================================

// FileStore is the subset of the sandbox the processor drives.
type FileStore interface {
	Read(rel string) (string, error)
	Write(rel, content string, mode sandbox.WriteMode) error
	List(rel string) ([]sandbox.Entry, error)
	CreateDir(rel string) error
}

// Processor executes the directives of a finished model response against
// a sandbox and rewrites them into readable result blocks.
type Processor struct {
	store FileStore
	label string
}

// NewProcessor creates a processor. label names the sandbox root in
// listings of ".", typically the root directory's base name.
func NewProcessor(store FileStore, label string) *Processor {
	if label == "" {
		label = "WorkFolder"
	}
	return &Processor{store: store, label: label}
}

// Process runs every directive in text and returns the rewritten text.
//
// The write directive runs first, then the others in source order. Every
// directive is replaced, by its result block on success or an inline error
// on failure; a failing directive never stops the ones after it. Text
// without directives is returned unchanged with no results.
func (p *Processor) Process(text string) Result {
	tokens := Tokenize(text)
	replacements := make([]string, len(tokens))
	results := make([]CommandResult, 0)

	for i, tok := range tokens {
		if tok.Kind == TokenDirective && tok.Command.Kind == KindWrite {
			replacements[i], results = p.execute(tok.Command, results)
		}
	}
	for i, tok := range tokens {
		if tok.Kind == TokenDirective && tok.Command.Kind != KindWrite {
			replacements[i], results = p.execute(tok.Command, results)
		}
	}

	if len(results) == 0 {
		return Result{Text: text, Results: results}
	}

	var sb strings.Builder
	sb.Grow(len(text))
	for i, tok := range tokens {
		if tok.Kind == TokenDirective {
			sb.WriteString(replacements[i])
		} else {
			sb.WriteString(tok.Text)
		}
	}
	return Result{Text: sb.String(), Results: results}
}

func (p *Processor) execute(cmd Command, results []CommandResult) (string, []CommandResult) {
	replacement, detail, err := p.run(cmd)
	if err != nil {
		results = append(results, CommandResult{Label: cmd.Label(), Status: StatusError, Detail: err.Error()})
		if cmd.Kind == KindWrite {
			return fmt.Sprintf("\n❌ Error creating file: %v\n", err), results
		}
		return fmt.Sprintf("\n❌ Error: %v\n", err), results
	}
	results = append(results, CommandResult{Label: cmd.Label(), Status: StatusSuccess, Detail: detail})
	return replacement, results
}

// run performs one directive and returns its replacement block and the
// result detail.
func (p *Processor) run(cmd Command) (string, string, error) {
	switch cmd.Kind {
	case KindWrite:
		if err := p.store.Write(cmd.Path, cmd.Content, sandbox.Overwrite); err != nil {
			return "", "", err
		}
		chars := utf8.RuneCountInString(cmd.Content)
		return fmt.Sprintf("\n✅ File created: %s\n", cmd.Path),
			fmt.Sprintf("File saved: %s (%d characters)", cmd.Path, chars), nil

	case KindRead:
		content, err := p.store.Read(cmd.Path)
		if err != nil {
			return "", "", err
		}
		return fmt.Sprintf("\n━━━━━ FILE READ: %s ━━━━━\n%s\n━━━━━ END OF FILE ━━━━━\n", cmd.Path, content),
			fmt.Sprintf("File read (%d characters)", utf8.RuneCountInString(content)), nil

	case KindList:
		entries, err := p.store.List(cmd.Path)
		if err != nil {
			return "", "", err
		}
		return p.formatListing(cmd.Path, entries), fmt.Sprintf("%d items found", len(entries)), nil

	case KindCreateDir:
		if err := p.store.CreateDir(cmd.Path); err != nil {
			return "", "", err
		}
		return fmt.Sprintf("\n✅ Folder created: %s\n", cmd.Path), "Directory created", nil
	}
	return "", "", fmt.Errorf("unsupported directive %s", cmd.Kind.Name())
}

func (p *Processor) formatListing(path string, entries []sandbox.Entry) string {
	display := path
	if display == "" || display == "." || display == "/" {
		display = p.label
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "\n━━━━━ FILES IN: %s ━━━━━\n", display)
	if len(entries) == 0 {
		sb.WriteString("  (empty folder)\n")
	}
	for _, e := range entries {
		if e.IsDir() {
			fmt.Fprintf(&sb, "  📄 %s/\n", e.Name)
			continue
		}
		fmt.Fprintf(&sb, "  📄 %s (%d bytes)\n", e.Name, e.Size)
	}
	fmt.Fprintf(&sb, "━━━━━ TOTAL: %d files ━━━━━\n", len(entries))
	return sb.String()
}
