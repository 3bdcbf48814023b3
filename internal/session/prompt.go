// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"fmt"
	"strings"

	"github.com/jeranaias/studio/internal/filecmd"
	"github.com/jeranaias/studio/internal/model"
	"github.com/jeranaias/studio/internal/ollama"
)

const (
	standardPersona = "You are a helpful and concise assistant. You answer directly and precisely."

	criticalPersona = `You are a highly precise and meticulous assistant in EXHAUSTIVE REVIEW MODE.

CRITICAL INSTRUCTIONS:
1. VERIFY every claim before answering
2. CITE sources whenever possible
3. STATE your level of certainty (100%, ~90%, possibly, etc.)
4. FLAG whether something is an assumption or a verified fact
5. CHECK the logic of your reasoning
6. ADMIT when you are not sure about something
7. PRIORITIZE accuracy over speed
8. QUESTION your own conclusions before answering

If web search is active, use the sources provided and cite them explicitly.
If you have no verifiable information, say so clearly.`
)

// PromptBuilder assembles the message list sent with each request.
type PromptBuilder struct {
	// ContextSize is the number of most recent non-system messages kept
	ContextSize  int
	GlobalPrompt string
	Critical     bool
	// Keywords trigger the file-capability block; nil uses the defaults
	Keywords    []string
	SandboxName string
}

// Persona returns the system persona for the current mode.
func (b PromptBuilder) Persona() string {
	if b.Critical {
		return criticalPersona
	}
	return standardPersona
}

// Extra returns the additional system text for an input: the file
// capability block when the input mentions files, then the global prompt.
func (b PromptBuilder) Extra(input string) string {
	var parts []string
	if filecmd.MentionsFiles(input, b.Keywords) {
		parts = append(parts, filecmd.SystemPromptAddition(b.SandboxName))
	}
	if g := strings.TrimSpace(b.GlobalPrompt); g != "" {
		parts = append(parts, g)
	}
	return strings.Join(parts, "\n\n")
}

// Build returns the outgoing messages for history, whose last element is
// the new user message. System messages in history are kept in order and
// only the last ContextSize other messages are sent. Without a system
// message in history the persona leads, carrying the extra text; otherwise
// the extra text follows as its own system message. searchContext, when
// non-empty, is added as a further system message.
func (b PromptBuilder) Build(history []model.Message, input, searchContext string) []ollama.Message {
	var system, rest []ollama.Message
	for _, m := range history {
		msg := ollama.Message{Role: m.Role.String(), Content: m.Content}
		if m.Role == model.RoleSystem {
			system = append(system, msg)
		} else {
			rest = append(rest, msg)
		}
	}

	size := b.ContextSize
	if size <= 0 {
		size = 6
	}
	if len(rest) > size {
		rest = rest[len(rest)-size:]
	}

	extra := b.Extra(input)
	out := make([]ollama.Message, 0, len(system)+len(rest)+2)
	if len(system) == 0 {
		persona := b.Persona()
		if extra != "" {
			persona += "\n\n" + extra
		}
		out = append(out, ollama.NewSystemMessage(persona))
	} else {
		out = append(out, system...)
		if extra != "" {
			out = append(out, ollama.NewSystemMessage(extra))
		}
	}
	if searchContext != "" {
		out = append(out, ollama.NewSystemMessage(searchContext))
	}
	return append(out, rest...)
}

// SearchContext wraps formatted search results for the model.
func SearchContext(query, engine, formatted string) string {
	return fmt.Sprintf("The user asked: %q\n\nWeb search results (%s):\n%s\n\n"+
		"Use this information to answer accurately and with current facts. "+
		"IMPORTANT: cite the relevant sources in your answer.", query, engine, formatted)
}
