// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session runs chat generations against a transcript.
//
// A generation moves through Idle, Requesting, Streaming and Completing and
// back to Idle; Cancel from Requesting or Streaming passes through
// Cancelled instead. While streaming, each delta is tracked for reasoning
// segments, appended to the transcript and reported through Hooks. When the
// stream ends the file directives of the full reply are executed once and
// the reply is replaced with the rewritten text.
//
// # Key Types
//
//   - Session: one generation at a time, cancellable from another goroutine
//   - PromptBuilder: context window, personas and system prompt additions
//   - Reply: status, final text, directive results and statistics
//
// # Usage
//
//	s := session.New(session.ClientOpener{Client: client}, processor, session.Options{
//	    Model:  "deepseek-r1:14b",
//	    Effort: config.EffortStandard,
//	    Hooks:  session.Hooks{OnDelta: func(d string) { fmt.Print(d) }},
//	})
//	reply, err := s.Send(ctx, "List the files in my folder")
package session
