// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// =============================================================================
// TYPES
// =============================================================================

// Result is a single search hit.
type Result struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
}

// Engine runs a web search.
type Engine interface {
	Name() string
	Search(ctx context.Context, query string) ([]Result, error)
}

// ErrMissingKey is returned when an engine that needs an API key has none.
var ErrMissingKey = errors.New("API key not configured")

const (
	maxResults     = 5
	defaultTimeout = 15 * time.Second
)

// Options configures New.
type Options struct {
	Engine    string
	TavilyKey string
	BingKey   string
	// HTTPClient defaults to a client with a 15s timeout
	HTTPClient *http.Client
	// BaseURL overrides the engine endpoint, used by tests
	BaseURL string
}

// New returns the engine named by opts.Engine. Unknown names fall back to
// DuckDuckGo.
func New(opts Options) Engine {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	switch strings.ToLower(opts.Engine) {
	case "tavily":
		return &Tavily{key: opts.TavilyKey, client: client, endpoint: orDefault(opts.BaseURL, "https://api.tavily.com/search")}
	case "bing":
		return &Bing{key: opts.BingKey, client: client, endpoint: orDefault(opts.BaseURL, "https://api.bing.microsoft.com/v7.0/search")}
	case "google":
		return Google{}
	default:
		return &DuckDuckGo{client: client, endpoint: orDefault(opts.BaseURL, "https://api.duckduckgo.com/")}
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// FormatResults renders results as numbered blocks separated by rules.
func FormatResults(results []Result) string {
	if len(results) == 0 {
		return "No search results found."
	}
	blocks := make([]string, 0, len(results))
	for i, r := range results {
		blocks = append(blocks, fmt.Sprintf("[%d] %s\n%s\nSource: %s", i+1, r.Title, r.Snippet, r.URL))
	}
	return strings.Join(blocks, "\n\n---\n\n")
}

// =============================================================================
// DUCKDUCKGO
// =============================================================================

// DuckDuckGo uses the free Instant Answer API.
type DuckDuckGo struct {
	client   *http.Client
	endpoint string
}

func (d *DuckDuckGo) Name() string { return "duckduckgo" }

type ddgResponse struct {
	Heading       string `json:"Heading"`
	AbstractText  string `json:"AbstractText"`
	AbstractURL   string `json:"AbstractURL"`
	RelatedTopics []struct {
		Text     string `json:"Text"`
		FirstURL string `json:"FirstURL"`
	} `json:"RelatedTopics"`
}

// Search returns the abstract plus up to four related topics. An empty
// answer yields a single pointer to the web results page.
func (d *DuckDuckGo) Search(ctx context.Context, query string) ([]Result, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("no_html", "1")
	params.Set("skip_disambig", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("duckduckgo: %w", err)
	}

	var body ddgResponse
	if err := do(d.client, req, &body); err != nil {
		return nil, fmt.Errorf("duckduckgo: %w", err)
	}

	fallback := "https://duckduckgo.com/?q=" + url.QueryEscape(query)
	var results []Result
	if body.AbstractText != "" {
		results = append(results, Result{
			Title:   orDefault(body.Heading, "DuckDuckGo"),
			Snippet: body.AbstractText,
			URL:     orDefault(body.AbstractURL, fallback),
		})
	}
	for i, topic := range body.RelatedTopics {
		if i >= maxResults-1 {
			break
		}
		if topic.Text == "" || topic.FirstURL == "" {
			continue
		}
		title, _, _ := strings.Cut(topic.Text, " - ")
		results = append(results, Result{Title: title, Snippet: topic.Text, URL: topic.FirstURL})
	}

	if len(results) == 0 {
		results = append(results, Result{
			Title:   "DuckDuckGo search",
			Snippet: "No direct results found. Try more specific terms.",
			URL:     fallback,
		})
	}
	return results, nil
}

// =============================================================================
// TAVILY
// =============================================================================

// Tavily uses the Tavily search API.
type Tavily struct {
	key      string
	client   *http.Client
	endpoint string
}

func (t *Tavily) Name() string { return "tavily" }

type tavilyRequest struct {
	APIKey        string `json:"api_key"`
	Query         string `json:"query"`
	MaxResults    int    `json:"max_results"`
	IncludeAnswer bool   `json:"include_answer"`
}

type tavilyResponse struct {
	Results []struct {
		Title       string `json:"title"`
		Content     string `json:"content"`
		Description string `json:"description"`
		URL         string `json:"url"`
	} `json:"results"`
}

func (t *Tavily) Search(ctx context.Context, query string) ([]Result, error) {
	if strings.TrimSpace(t.key) == "" {
		return nil, fmt.Errorf("tavily: %w", ErrMissingKey)
	}

	payload, err := json.Marshal(tavilyRequest{APIKey: t.key, Query: query, MaxResults: maxResults, IncludeAnswer: true})
	if err != nil {
		return nil, fmt.Errorf("tavily: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, strings.NewReader(string(payload)))
	if err != nil {
		return nil, fmt.Errorf("tavily: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	var body tavilyResponse
	if err := do(t.client, req, &body); err != nil {
		return nil, fmt.Errorf("tavily: %w", err)
	}

	results := make([]Result, 0, len(body.Results))
	for _, r := range body.Results {
		results = append(results, Result{Title: r.Title, Snippet: orDefault(r.Content, r.Description), URL: r.URL})
	}
	return results, nil
}

// =============================================================================
// BING
// =============================================================================

// Bing uses the Bing Web Search v7 API.
type Bing struct {
	key      string
	client   *http.Client
	endpoint string
}

func (b *Bing) Name() string { return "bing" }

type bingResponse struct {
	WebPages struct {
		Value []struct {
			Name    string `json:"name"`
			Snippet string `json:"snippet"`
			URL     string `json:"url"`
		} `json:"value"`
	} `json:"webPages"`
}

func (b *Bing) Search(ctx context.Context, query string) ([]Result, error) {
	if strings.TrimSpace(b.key) == "" {
		return nil, fmt.Errorf("bing: %w", ErrMissingKey)
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("count", fmt.Sprint(maxResults))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("bing: %w", err)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", b.key)

	var body bingResponse
	if err := do(b.client, req, &body); err != nil {
		return nil, fmt.Errorf("bing: %w", err)
	}

	results := make([]Result, 0, len(body.WebPages.Value))
	for _, r := range body.WebPages.Value {
		results = append(results, Result{Title: r.Name, Snippet: r.Snippet, URL: r.URL})
	}
	return results, nil
}

// =============================================================================
// GOOGLE
// =============================================================================

// Google is not usable without a custom search engine ID.
type Google struct{}

func (Google) Name() string { return "google" }

func (Google) Search(context.Context, string) ([]Result, error) {
	return nil, errors.New("google: custom search requires a search engine ID, which is not supported")
}

// =============================================================================
// HELPERS
// =============================================================================

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.Code)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Body)
}

func do(client *http.Client, req *http.Request, out interface{}) error {
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
