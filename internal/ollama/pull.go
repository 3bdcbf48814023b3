// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// =============================================================================
// MODEL MANAGEMENT
// =============================================================================

// PullProgress is one status line of a model download.
type PullProgress struct {
	Status    string `json:"status"`
	Digest    string `json:"digest,omitempty"`
	Total     int64  `json:"total,omitempty"`
	Completed int64  `json:"completed,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Percent returns the download progress of the current layer, or -1 when
// the line carries no size information.
func (p PullProgress) Percent() int {
	if p.Total <= 0 {
		return -1
	}
	pct := int(p.Completed * 100 / p.Total)
	if pct > 100 {
		pct = 100
	}
	return pct
}

// Success reports whether this is the final line of a completed pull.
func (p PullProgress) Success() bool {
	return p.Status == "success"
}

// PullCallback receives each progress line in wire order. Returning an
// error stops the pull.
type PullCallback func(p PullProgress) error

// errNoModelName is returned when a pull or delete names no model.
var errNoModelName = errors.New("model name is required")

// maxPullLine bounds one NDJSON progress line.
const maxPullLine = 1 << 20

// PullModel downloads a model through /api/pull, reporting progress as it
// streams. An in-band error line fails the pull with an upstream error,
// and a stream that ends without a success line is an invalid response.
func (c *Client) PullModel(ctx context.Context, name string, callback PullCallback) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errNoModelName
	}

	body, err := json.Marshal(map[string]interface{}{"name": name, "model": name, "stream": true})
	if err != nil {
		return &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/pull", bytes.NewReader(body))
	if err != nil {
		return err
	}

	// Downloads run for minutes; the caller's context bounds them.
	resp, err := c.streamClient.Do(req)
	if err != nil {
		return transportError(ctx, err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return statusError(resp, "pull "+name)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxPullLine)

	succeeded := false
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var p PullProgress
		if err := json.Unmarshal(line, &p); err != nil {
			// Skip malformed lines
			continue
		}
		if p.Error != "" {
			return &ClientError{Type: ErrTypeUpstream, Message: p.Error}
		}
		if callback != nil {
			if err := callback(p); err != nil {
				return err
			}
		}
		if p.Success() {
			succeeded = true
		}
	}
	if err := scanner.Err(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &ClientError{Type: ErrTypeConnection, Message: "pull interrupted", Cause: err}
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if !succeeded {
		return &ClientError{Type: ErrTypeInvalidResponse, Message: "pull of " + name + " ended without success"}
	}
	return nil
}

// DeleteModel removes an installed model through /api/delete. A model
// the server does not know yields ErrModelNotFound.
func (c *Client) DeleteModel(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errNoModelName
	}

	body, err := json.Marshal(map[string]string{"name": name, "model": name})
	if err != nil {
		return &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to marshal request", Cause: err}
	}
	req, err := c.newRequest(ctx, http.MethodDelete, "/api/delete", bytes.NewReader(body))
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(ctx, err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return statusError(resp, "delete "+name)
	}
	return nil
}
