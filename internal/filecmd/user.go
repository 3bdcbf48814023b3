// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package filecmd

import (
	"fmt"
	"regexp"
	"strings"
)

// defaultReadPrompt replaces an input that held nothing but the command.
const defaultReadPrompt = "Analyze the file I just read"

var userReadPattern = regexp.MustCompile(`@read\s+(\S+)\s*`)

// Reader reads a sandbox file.
type Reader interface {
	Read(rel string) (string, error)
}

// UserExpansion is the outcome of an operator "@read <path>" command.
type UserExpansion struct {
	HasCommand bool
	Path       string
	Block      string // file content block or inline error, empty without a command
	Input      string // the input with the command removed
	Err        error
}

// Message joins the block and the remaining input into the text sent to
// the model as the user message.
func (u UserExpansion) Message() string {
	if !u.HasCommand {
		return u.Input
	}
	if u.Input == "" {
		return u.Block
	}
	return u.Block + "\n" + u.Input
}

// ExpandUserInput handles "@read <path>" typed by the operator: the file
// is read from the sandbox and inlined so the model sees the real content
// instead of being asked to fetch it. Only the first command is expanded.
func ExpandUserInput(store Reader, input string) UserExpansion {
	m := userReadPattern.FindStringSubmatchIndex(input)
	if m == nil {
		return UserExpansion{Input: input}
	}

	path := input[m[2]:m[3]]
	cleaned := strings.TrimSpace(input[:m[0]] + input[m[1]:])

	content, err := store.Read(path)
	if err != nil {
		return UserExpansion{
			HasCommand: true,
			Path:       path,
			Block:      fmt.Sprintf("\n❌ Error reading %s: %v\n", path, err),
			Input:      cleaned,
			Err:        err,
		}
	}

	if cleaned == "" {
		cleaned = defaultReadPrompt
	}
	return UserExpansion{
		HasCommand: true,
		Path:       path,
		Block:      fmt.Sprintf("\n📄 **Contents of %s:**\n```\n%s\n```\n", path, content),
		Input:      cleaned,
	}
}
