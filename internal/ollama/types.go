// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"fmt"
	"time"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// Message represents a chat message in the conversation.
type Message struct {
	Role    string `json:"role"`    // "user", "assistant", "system"
	Content string `json:"content"` // The message content
}

// ChatRequest is the request body for /api/chat endpoint.
type ChatRequest struct {
	Model    string    `json:"model"`             // Model name (e.g., "deepseek-r1:14b")
	Messages []Message `json:"messages"`          // Conversation history
	Stream   bool      `json:"stream"`            // Enable streaming
	Options  *Options  `json:"options,omitempty"` // Model parameters
}

// Options contains model parameters for inference.
type Options struct {
	Temperature float64  `json:"temperature,omitempty"` // 0.0-2.0, default 0.8
	TopP        float64  `json:"top_p,omitempty"`       // 0.0-1.0, default 0.9
	NumCtx      int      `json:"num_ctx,omitempty"`     // Context window size
	NumPredict  int      `json:"num_predict,omitempty"` // Max tokens to generate, -1 for unlimited
	Stop        []string `json:"stop,omitempty"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// chatLine is one newline-delimited object of a streamed /api/chat body.
type chatLine struct {
	Model   string `json:"model"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done               bool   `json:"done"`
	DoneReason         string `json:"done_reason,omitempty"`
	TotalDuration      int64  `json:"total_duration,omitempty"`       // nanoseconds
	LoadDuration       int64  `json:"load_duration,omitempty"`        // nanoseconds
	PromptEvalCount    int    `json:"prompt_eval_count,omitempty"`    // tokens in prompt
	PromptEvalDuration int64  `json:"prompt_eval_duration,omitempty"` // nanoseconds
	EvalCount          int    `json:"eval_count,omitempty"`           // tokens generated
	EvalDuration       int64  `json:"eval_duration,omitempty"`        // nanoseconds
	Error              string `json:"error,omitempty"`
}

// ModelInfo contains information about a model.
type ModelInfo struct {
	Name       string       `json:"name"`
	ModifiedAt time.Time    `json:"modified_at"`
	Size       int64        `json:"size"`
	Digest     string       `json:"digest"`
	Details    ModelDetails `json:"details,omitempty"`
}

// ModelDetails contains detailed information about a model.
type ModelDetails struct {
	Format            string   `json:"format"`
	Family            string   `json:"family"`
	Families          []string `json:"families"`
	ParameterSize     string   `json:"parameter_size"`
	QuantizationLevel string   `json:"quantization_level"`
}

// ListModelsResponse is the response from /api/tags endpoint.
type ListModelsResponse struct {
	Models []ModelInfo `json:"models"`
}

// OllamaError represents an error body from the Ollama API.
type OllamaError struct {
	Error string `json:"error"`
}

// =============================================================================
// STREAMING TYPES
// =============================================================================

// StreamEvent is one decoded unit of a streamed chat response. A content
// event carries Content; the final event has Final set and carries the
// statistics reported by the server.
type StreamEvent struct {
	Content string
	Final   bool

	Model      string
	DoneReason string

	// Timing information (only populated on the final event)
	TotalDuration      time.Duration
	LoadDuration       time.Duration
	PromptEvalDuration time.Duration
	EvalDuration       time.Duration

	// Token counts (only populated on the final event)
	PromptTokens     int
	CompletionTokens int

	// Err holds an in-band error object sent by the server mid-stream.
	Err string
}

// TokensPerSecond calculates the generation speed reported by the server.
func (e StreamEvent) TokensPerSecond() float64 {
	if e.EvalDuration <= 0 {
		return 0
	}
	return float64(e.CompletionTokens) / e.EvalDuration.Seconds()
}

// =============================================================================
// HELPER METHODS
// =============================================================================

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: "assistant", Content: content}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) Message {
	return Message{Role: "system", Content: content}
}

// FormatSize formats the model size in human-readable form.
func (m *ModelInfo) FormatSize() string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case m.Size >= GB:
		return fmt.Sprintf("%.1f GB", float64(m.Size)/GB)
	case m.Size >= MB:
		return fmt.Sprintf("%.1f MB", float64(m.Size)/MB)
	case m.Size >= KB:
		return fmt.Sprintf("%.1f KB", float64(m.Size)/KB)
	default:
		return fmt.Sprintf("%d B", m.Size)
	}
}
