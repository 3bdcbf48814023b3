// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package filecmd implements the in-band file protocol between the model
// and the sandbox.
//
// A model reply may contain directives:
//
//	[FILE_WRITE: path]
//	content
//	[END_FILE_WRITE]
//	[FILE_READ: path]
//	[FILE_LIST: path]
//	[FILE_CREATE_DIR: path]
//
// Tokenize splits a reply into literal and directive tokens; Processor
// executes the directives once the reply is complete and replaces each one
// with a result block the operator can read.
//
// # Key Types
//
//   - Token, Command: tokenizer output
//   - Processor: executes directives against a FileStore
//   - CommandResult: per-directive outcome
//
// The package also holds the operator-side "@read" shortcut and the system
// prompt block that teaches the model the syntax.
package filecmd
