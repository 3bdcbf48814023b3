// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package filecmd

import (
	"regexp"
	"strings"
)

// =============================================================================
// COMMANDS
// =============================================================================

// Kind identifies a file directive.
type Kind int

const (
	KindRead Kind = iota
	KindWrite
	KindList
	KindCreateDir
)

// Name returns the directive keyword, e.g. "FILE_READ".
func (k Kind) Name() string {
	switch k {
	case KindWrite:
		return "FILE_WRITE"
	case KindList:
		return "FILE_LIST"
	case KindCreateDir:
		return "FILE_CREATE_DIR"
	default:
		return "FILE_READ"
	}
}

// Command is one parsed directive.
type Command struct {
	Kind    Kind
	Path    string // trimmed, as written by the model
	Content string // FILE_WRITE body with surrounding whitespace trimmed
}

// Label names the command in results, e.g. "FILE_WRITE: notes.txt".
func (c Command) Label() string {
	return c.Kind.Name() + ": " + c.Path
}

// =============================================================================
// TOKENS
// =============================================================================

// TokenKind separates plain text from directives.
type TokenKind int

const (
	TokenLiteral TokenKind = iota
	TokenDirective
)

// Token is a span of the model output: either literal text or a directive
// together with its exact source text.
type Token struct {
	Kind    TokenKind
	Text    string
	Command Command // set for TokenDirective
}

var (
	// The write body may span lines; the path may not.
	writePattern = regexp.MustCompile(`\[FILE_WRITE:\s*(.+?)\]\s*((?s:.*?))\s*\[END_FILE_WRITE\]`)
	otherPattern = regexp.MustCompile(`\[FILE_(READ|LIST|CREATE_DIR):\s*(.+?)\]`)
)

// Tokenize splits text into literal and directive tokens in source order.
//
// Only the first complete FILE_WRITE ... END_FILE_WRITE block becomes a
// directive; any later write block stays literal text. FILE_READ,
// FILE_LIST and FILE_CREATE_DIR directives are recognised everywhere except
// inside the consumed write block, whose body is file content.
//
// Concatenating the Text of all tokens yields the input unchanged.
func Tokenize(text string) []Token {
	loc := writePattern.FindStringSubmatchIndex(text)
	if loc == nil {
		return scanOthers(text)
	}

	tokens := scanOthers(text[:loc[0]])
	tokens = append(tokens, Token{
		Kind: TokenDirective,
		Text: text[loc[0]:loc[1]],
		Command: Command{
			Kind:    KindWrite,
			Path:    strings.TrimSpace(text[loc[2]:loc[3]]),
			Content: strings.TrimSpace(text[loc[4]:loc[5]]),
		},
	})
	return append(tokens, scanOthers(text[loc[1]:])...)
}

func scanOthers(text string) []Token {
	var tokens []Token
	last := 0
	for _, m := range otherPattern.FindAllStringSubmatchIndex(text, -1) {
		if m[0] > last {
			tokens = append(tokens, Token{Kind: TokenLiteral, Text: text[last:m[0]]})
		}
		tokens = append(tokens, Token{
			Kind: TokenDirective,
			Text: text[m[0]:m[1]],
			Command: Command{
				Kind: kindFromKeyword(text[m[2]:m[3]]),
				Path: strings.TrimSpace(text[m[4]:m[5]]),
			},
		})
		last = m[1]
	}
	if last < len(text) {
		tokens = append(tokens, Token{Kind: TokenLiteral, Text: text[last:]})
	}
	return tokens
}

func kindFromKeyword(kw string) Kind {
	switch kw {
	case "LIST":
		return KindList
	case "CREATE_DIR":
		return KindCreateDir
	default:
		return KindRead
	}
}

// Commands returns the directives of text in execution order: the write
// directive first, then the others left to right.
func Commands(text string) []Command {
	var write []Command
	var others []Command
	for _, tok := range Tokenize(text) {
		if tok.Kind != TokenDirective {
			continue
		}
		if tok.Command.Kind == KindWrite {
			write = append(write, tok.Command)
		} else {
			others = append(others, tok.Command)
		}
	}
	return append(write, others...)
}
