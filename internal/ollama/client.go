// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with Ollama API.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// ClientError represents an error from the Ollama client.
type ClientError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// Is matches sentinel errors by type so wrapped variants still compare equal.
func (e *ClientError) Is(target error) bool {
	t, ok := target.(*ClientError)
	if !ok {
		return false
	}
	return t.Type == e.Type && (t.Message == "" || t.Message == e.Message)
}

// ErrorType categorizes client errors for handling.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeNotRunning
	ErrTypeTimeout
	ErrTypeModelNotFound
	ErrTypeConnection
	ErrTypeInvalidResponse
	ErrTypeUpstream
)

// Sentinel errors for easy checking.
var (
	ErrNotRunning    = &ClientError{Type: ErrTypeNotRunning, Message: "Ollama is not running"}
	ErrTimeout       = &ClientError{Type: ErrTypeTimeout, Message: "request timed out"}
	ErrModelNotFound = &ClientError{Type: ErrTypeModelNotFound, Message: "model not found"}
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// DefaultBaseURL is the address of a local Ollama install.
const DefaultBaseURL = "http://localhost:11434"

// DefaultModel is used when a request names no model.
const DefaultModel = "deepseek-r1:14b"

// ClientConfig holds configuration options for the Ollama client.
type ClientConfig struct {
	// BaseURL is the Ollama API base URL (default: http://localhost:11434)
	BaseURL string

	// APIKey is sent as a bearer token when set (hosted Ollama endpoints).
	APIKey string

	// Timeout for non-streaming requests (default: 30s). Streaming
	// requests have no read timeout and are bounded by their context.
	Timeout time.Duration

	// DefaultModel to use if none specified (default: "deepseek-r1:14b")
	DefaultModel string
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:      DefaultBaseURL,
		Timeout:      30 * time.Second,
		DefaultModel: DefaultModel,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client handles communication with the Ollama API.
//
// The Client is safe for concurrent use.
type Client struct {
	mu           sync.RWMutex
	config       *ClientConfig
	httpClient   *http.Client
	streamClient *http.Client
}

// NewClient creates a new Ollama client with default configuration.
func NewClient() *Client {
	return NewClientWithConfig(DefaultConfig())
}

// NewClientWithConfig creates a new Ollama client with custom configuration.
func NewClientWithConfig(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultConfig()
	}

	// Fill in defaults for any zero values
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.DefaultModel == "" {
		config.DefaultModel = DefaultModel
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		// No timeout: long generations are bounded by the caller's context.
		streamClient: &http.Client{},
	}
}

// newRequest builds a request against the API and attaches the bearer
// token when one is configured.
func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, body)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeConnection, Message: "failed to create request", Cause: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	return req, nil
}

// transportError maps an http.Client error onto the client taxonomy.
// Cancellation is passed through untouched so callers can tell it apart
// from a failing server.
func transportError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &ClientError{Type: ErrTypeTimeout, Message: ErrTimeout.Message, Cause: err}
	}
	return &ClientError{Type: ErrTypeNotRunning, Message: ErrNotRunning.Message, Cause: err}
}

// statusError converts a non-200 response into a ClientError, preferring
// the server's own error message.
func statusError(resp *http.Response, what string) error {
	if resp.StatusCode == http.StatusNotFound {
		return ErrModelNotFound
	}

	var ollamaErr OllamaError
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&ollamaErr); err == nil && ollamaErr.Error != "" {
		return &ClientError{Type: ErrTypeUpstream, Message: ollamaErr.Error}
	}
	return &ClientError{Type: ErrTypeUpstream, Message: what + " failed: " + resp.Status}
}

// =============================================================================
// HEALTH CHECK
// =============================================================================

// CheckRunning verifies that Ollama is reachable and running.
func (c *Client) CheckRunning(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(ctx, err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &ClientError{
			Type:    ErrTypeConnection,
			Message: "unexpected status from Ollama: " + resp.Status,
		}
	}

	return nil
}

// =============================================================================
// MODEL OPERATIONS
// =============================================================================

// ListModels retrieves all available models from Ollama.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, &ClientError{
			Type:    ErrTypeInvalidResponse,
			Message: "failed to list models: " + resp.Status,
		}
	}

	var result ListModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}

	return result.Models, nil
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// OpenChatStream sends a streaming chat request and returns once the
// response headers have arrived. The returned Stream must be closed.
func (c *Client) OpenChatStream(ctx context.Context, chatReq ChatRequest) (*Stream, error) {
	if chatReq.Model == "" {
		chatReq.Model = c.GetDefaultModel()
	}
	chatReq.Stream = true

	body, err := json.Marshal(chatReq)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer drainAndClose(resp.Body)
		return nil, statusError(resp, "stream request")
	}

	return NewStream(ctx, resp.Body), nil
}

// =============================================================================
// PASS-THROUGH
// =============================================================================

// Forward relays a raw request to the API, used by the file proxy server
// to expose /api/chat and /api/tags. The caller owns the response body.
// Streaming responses are not subject to the client timeout.
func (c *Client) Forward(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, transportError(ctx, err)
	}
	return resp, nil
}

// =============================================================================
// UTILITY METHODS
// =============================================================================

// GetConfig returns the client configuration.
func (c *Client) GetConfig() *ClientConfig {
	return c.config
}

// SetModel updates the model used by requests that name none.
func (c *Client) SetModel(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config.DefaultModel = model
}

// GetDefaultModel returns the current default model.
func (c *Client) GetDefaultModel() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config.DefaultModel
}

// IsModelNotFound checks if an error is a model not found error.
func IsModelNotFound(err error) bool {
	return isType(err, ErrTypeModelNotFound)
}

// IsNotRunning checks if an error indicates Ollama is not running.
func IsNotRunning(err error) bool {
	return isType(err, ErrTypeNotRunning)
}

// IsTimeout checks if an error is a timeout error.
func IsTimeout(err error) bool {
	return isType(err, ErrTypeTimeout)
}

// IsUpstream reports whether err came from the model server or the
// transport to it, as opposed to cancellation.
func IsUpstream(err error) bool {
	var clientErr *ClientError
	return errors.As(err, &clientErr)
}

func isType(err error, t ErrorType) bool {
	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Type == t
	}
	return false
}

// Helper to drain response body
func drainAndClose(r io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r, 64*1024))
	r.Close()
}
