// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/studio/internal/ollama"
)

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation is the ordered transcript of one chat.
//
// During a generation the last message is the assistant reply being
// streamed: AppendToLast grows it and ReplaceLast swaps in the final text.
// Conversation is not safe for concurrent use; the session owning it
// serialises access.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Messages []Message `json:"messages"`

	// Token totals across all generations
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// NewConversation creates an empty conversation with a generated ID.
func NewConversation(modelName string) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        uuid.NewString(),
		Model:     modelName,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  make([]Message, 0),
	}
}

// =============================================================================
// MESSAGE MANAGEMENT
// =============================================================================

// Append adds a message to the end of the transcript.
func (c *Conversation) Append(msg Message) {
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = time.Now()
	if c.Title == "" && msg.Role == RoleUser {
		c.Title = msg.Preview(50)
	}
}

// AppendToLast appends text to the last message. It does nothing on an
// empty transcript.
func (c *Conversation) AppendToLast(text string) {
	if len(c.Messages) == 0 {
		return
	}
	c.Messages[len(c.Messages)-1].Content += text
}

// ReplaceLast sets the content of the last message.
func (c *Conversation) ReplaceLast(content string) {
	if len(c.Messages) == 0 {
		return
	}
	c.Messages[len(c.Messages)-1].Content = content
	c.UpdatedAt = time.Now()
}

// Last returns the last message and false when the transcript is empty.
func (c *Conversation) Last() (Message, bool) {
	if len(c.Messages) == 0 {
		return Message{}, false
	}
	return c.Messages[len(c.Messages)-1], true
}

// AddUsage accumulates token counts reported by the server.
func (c *Conversation) AddUsage(prompt, completion int) {
	c.PromptTokens += prompt
	c.CompletionTokens += completion
}

// Clear removes all messages and resets the token totals.
func (c *Conversation) Clear() {
	c.Messages = c.Messages[:0]
	c.PromptTokens = 0
	c.CompletionTokens = 0
	c.Title = ""
	c.UpdatedAt = time.Now()
}

// Len returns the number of messages.
func (c *Conversation) Len() int {
	return len(c.Messages)
}

// Snapshot returns a copy of the conversation that shares no message
// storage with the original.
func (c *Conversation) Snapshot() *Conversation {
	clone := *c
	clone.Messages = append([]Message(nil), c.Messages...)
	return &clone
}

// ToOllamaMessages converts the transcript to API messages.
func (c *Conversation) ToOllamaMessages() []ollama.Message {
	out := make([]ollama.Message, 0, len(c.Messages))
	for _, m := range c.Messages {
		out = append(out, ollama.Message{Role: m.Role.String(), Content: m.Content})
	}
	return out
}

// =============================================================================
// METADATA
// =============================================================================

// GetTitle returns the conversation title or a default.
func (c *Conversation) GetTitle() string {
	if c.Title != "" {
		return c.Title
	}
	return "New Conversation"
}

// ConversationMeta holds lightweight metadata for listing.
type ConversationMeta struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Model        string    `json:"model"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Meta returns metadata about the conversation.
func (c *Conversation) Meta() ConversationMeta {
	return ConversationMeta{
		ID:           c.ID,
		Title:        c.GetTitle(),
		Model:        c.Model,
		MessageCount: len(c.Messages),
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}
