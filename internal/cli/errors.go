// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// errors.go - Error classification and exit codes.
//
// Commands always return errors; Execute prints them once and maps them
// to an exit code.

package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/jeranaias/studio/internal/config"
	"github.com/jeranaias/studio/internal/ollama"
	"github.com/jeranaias/studio/internal/sandbox"
	"github.com/jeranaias/studio/internal/storage"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	ExitSuccess       = 0
	ExitGeneralError  = 1
	ExitUsageError    = 2
	ExitConfigError   = 3
	ExitNetworkError  = 5
	ExitSandboxError  = 6
	ExitNotFoundError = 7
	ExitTimeoutError  = 8
)

// =============================================================================
// ERROR TYPES
// =============================================================================

// UsageError reports invalid arguments or flag values.
type UsageError struct {
	Field   string
	Value   string
	Reason  string
	Example string
}

func (e *UsageError) Error() string {
	msg := fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	if e.Value != "" {
		msg += fmt.Sprintf(" (got: %s)", e.Value)
	}
	if e.Example != "" {
		msg += fmt.Sprintf("\nExample: %s", e.Example)
	}
	return msg
}

func usageError(field, value, reason string) error {
	return &UsageError{Field: field, Value: value, Reason: reason}
}

// =============================================================================
// EXIT CODE MAPPING
// =============================================================================

// GetExitCode maps an error onto a process exit code.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var usage *UsageError
	if errors.As(err, &usage) {
		return ExitUsageError
	}

	var cfgErrs config.ValidateErrors
	var cfgErr config.ValidationError
	if errors.As(err, &cfgErrs) || errors.As(err, &cfgErr) {
		return ExitConfigError
	}

	if errors.Is(err, storage.ErrConversationNotFound) || errors.Is(err, sandbox.ErrNotFound) ||
		ollama.IsModelNotFound(err) {
		return ExitNotFoundError
	}

	if errors.Is(err, sandbox.ErrPathRejected) {
		return ExitSandboxError
	}

	if ollama.IsTimeout(err) {
		return ExitTimeoutError
	}

	if ollama.IsNotRunning(err) || ollama.IsUpstream(err) {
		return ExitNetworkError
	}

	return ExitGeneralError
}

// DisplayError prints an error in the shared format. In JSON mode the
// error is written as a JSON response instead.
func DisplayError(w io.Writer, err error, jsonMode bool) {
	if err == nil {
		return
	}
	if jsonMode {
		NewJSONErrorResponse("", err).Write(w)
		return
	}
	fmt.Fprintf(w, "%s %s\n", ErrorStyle.Render("[ERROR]"), err.Error())
	if ollama.IsNotRunning(err) {
		fmt.Fprintln(w, DimStyle.Render("Start it with `ollama serve` or set ollama.url with `studio config set`."))
	}
}
