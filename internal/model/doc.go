// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for conversations and messages.
//
// # Key Types
//
//   - Conversation: ordered transcript plus token totals and metadata
//   - Message: single message with role, content and timestamp
//   - Role: user, assistant or system
//
// # Usage
//
//	conv := model.NewConversation("deepseek-r1:14b")
//	conv.Append(model.NewUserMessage("Hello!"))
//	conv.Append(model.NewAssistantMessage(""))
//	conv.AppendToLast("Hi")
package model
