// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestMessageHelpers(t *testing.T) {
	tests := []struct {
		msg  Message
		role string
	}{
		{NewUserMessage("Hello"), "user"},
		{NewAssistantMessage("Response"), "assistant"},
		{NewSystemMessage("You are a helpful assistant"), "system"},
	}

	for _, tc := range tests {
		if tc.msg.Role != tc.role {
			t.Errorf("Role = %q, want %q", tc.msg.Role, tc.role)
		}
	}
}

func TestModelInfo_FormatSize(t *testing.T) {
	tests := []struct {
		size int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
		{9 * 1024 * 1024 * 1024, "9.0 GB"},
	}

	for _, tc := range tests {
		m := ModelInfo{Size: tc.size}
		if got := m.FormatSize(); got != tc.want {
			t.Errorf("FormatSize(%d) = %q, want %q", tc.size, got, tc.want)
		}
	}
}

// =============================================================================
// CLIENT TESTS
// =============================================================================

func TestNewClientWithConfig_Defaults(t *testing.T) {
	c := NewClientWithConfig(&ClientConfig{BaseURL: "http://example.test/"})
	cfg := c.GetConfig()

	if cfg.BaseURL != "http://example.test" {
		t.Errorf("BaseURL = %q, want trailing slash trimmed", cfg.BaseURL)
	}
	if cfg.DefaultModel != DefaultModel {
		t.Errorf("DefaultModel = %q, want %q", cfg.DefaultModel, DefaultModel)
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", cfg.Timeout)
	}
}

func TestClient_ListModels(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		auth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{"models":[{"name":"deepseek-r1:14b","size":9000000000},{"name":"llama3:8b"}]}`)
	}))
	defer srv.Close()

	c := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL, APIKey: "secret"})
	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}

	if len(models) != 2 || models[0].Name != "deepseek-r1:14b" {
		t.Errorf("models = %+v", models)
	}
	if auth != "Bearer secret" {
		t.Errorf("Authorization = %q, want bearer token", auth)
	}
}

func TestClient_NoAuthHeaderWithoutKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := r.Header["Authorization"]; ok {
			t.Error("Authorization header sent without API key")
		}
		fmt.Fprint(w, `{"models":[]}`)
	}))
	defer srv.Close()

	c := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL})
	if _, err := c.ListModels(context.Background()); err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}
}

func TestClient_NotRunning(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClientWithConfig(&ClientConfig{BaseURL: url})
	err := c.CheckRunning(context.Background())
	if !IsNotRunning(err) {
		t.Errorf("CheckRunning() error = %v, want not running", err)
	}
	if !IsUpstream(err) {
		t.Error("IsUpstream should be true for a transport failure")
	}
}

// drain reads a chat stream to the end the way the session does, calling
// onEvent for each event.
func drain(ctx context.Context, c *Client, req ChatRequest, onEvent func(StreamEvent)) ([]StreamEvent, error) {
	stream, err := c.OpenChatStream(ctx, req)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var events []StreamEvent
	for {
		ev, err := stream.Next()
		if err == io.EOF {
			return events, nil
		}
		if err != nil {
			return events, err
		}
		events = append(events, ev)
		if onEvent != nil {
			onEvent(ev)
		}
	}
}

func TestClient_OpenChatStream(t *testing.T) {
	var got ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		flusher := w.(http.Flusher)
		for _, part := range []string{"Hel", "lo"} {
			fmt.Fprintf(w, `{"message":{"role":"assistant","content":%q},"done":false}`+"\n", part)
			flusher.Flush()
		}
		fmt.Fprint(w, `{"done":true,"prompt_eval_count":5,"eval_count":2}`+"\n")
	}))
	defer srv.Close()

	c := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL})
	var sb strings.Builder
	var final StreamEvent
	_, err := drain(context.Background(), c, ChatRequest{
		Messages: []Message{NewUserMessage("hi")},
		Options:  &Options{NumCtx: 4096},
	}, func(ev StreamEvent) {
		sb.WriteString(ev.Content)
		if ev.Final {
			final = ev
		}
	})
	if err != nil {
		t.Fatalf("stream error = %v", err)
	}

	if sb.String() != "Hello" {
		t.Errorf("content = %q, want 'Hello'", sb.String())
	}
	if final.PromptTokens != 5 || final.CompletionTokens != 2 {
		t.Errorf("final = %+v", final)
	}
	if !got.Stream || got.Model != DefaultModel || got.Options.NumCtx != 4096 {
		t.Errorf("request = %+v", got)
	}
}

func TestClient_ChatStreamModelNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":"model 'nope' not found"}`)
	}))
	defer srv.Close()

	c := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL})
	_, err := c.OpenChatStream(context.Background(), ChatRequest{Model: "nope"})
	if !IsModelNotFound(err) {
		t.Errorf("error = %v, want model not found", err)
	}
	if !errors.Is(err, ErrModelNotFound) {
		t.Error("errors.Is(err, ErrModelNotFound) should be true")
	}
}

func TestClient_ChatStreamServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":"out of memory"}`)
	}))
	defer srv.Close()

	c := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL})
	_, err := c.OpenChatStream(context.Background(), ChatRequest{})
	if err == nil || err.Error() != "out of memory" {
		t.Errorf("error = %v, want server message", err)
	}
}

func TestClient_ChatStreamInBandError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"message":{"content":"par"}}`+"\n"+`{"error":"runner crashed"}`+"\n")
	}))
	defer srv.Close()

	c := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL})
	events, err := drain(context.Background(), c, ChatRequest{}, nil)
	if err != nil {
		t.Fatalf("stream error = %v", err)
	}
	if len(events) != 2 || events[0].Content != "par" || events[1].Err != "runner crashed" {
		t.Errorf("events = %+v, want content then in-band error", events)
	}
}

func TestClient_ChatStreamCancelled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"message":{"content":"first"}}`+"\n")
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	c := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL})

	_, err := drain(ctx, c, ChatRequest{}, func(ev StreamEvent) {
		if ev.Content == "first" {
			cancel()
		}
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if IsUpstream(err) {
		t.Error("cancellation must not be reported as an upstream error")
	}
}

func TestClient_Forward(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		fmt.Fprintf(w, "%s %s %s", r.Method, r.URL.Path, body)
	}))
	defer srv.Close()

	c := NewClientWithConfig(&ClientConfig{BaseURL: srv.URL})
	resp, err := c.Forward(context.Background(), http.MethodPost, "/api/chat", strings.NewReader("payload"))
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "POST /api/chat payload" {
		t.Errorf("body = %q", body)
	}
}

func TestEstimateTokens(t *testing.T) {
	msgs := []Message{NewSystemMessage("You are helpful."), NewUserMessage("Hello there, how are you?")}
	n := EstimateTokens(msgs)
	if n < 10 || n > 40 {
		t.Errorf("EstimateTokens() = %d, want a small positive estimate", n)
	}
	if EstimateTokens(nil) != 0 {
		t.Error("EstimateTokens(nil) should be 0")
	}
}
