// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// styles.go - Shared styling for all studio commands.
//
// Colors are disabled for non-TTY output and when NO_COLOR is set;
// FORCE_COLOR overrides the TTY check.

package cli

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/studio/internal/filecmd"
	"github.com/jeranaias/studio/internal/reasoning"
)

func init() {
	lipgloss.SetColorProfile(GetColorProfile())
}

// =============================================================================
// SHARED STYLES
// =============================================================================

var (
	// TitleStyle is used for command titles and banners
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")) // Cyan

	// LabelStyle is used for field labels in key/value output
	LabelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Width(18)

	// ValueStyle is used for regular values
	ValueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	SuccessStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	// DimStyle is used for hints and secondary information
	DimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("242"))

	SeparatorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	InfoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("75"))

	// PromptStyle colours the chat prompt
	PromptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	// ThinkStyle renders reasoning log lines
	ThinkStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("141")).
			Italic(true)
)

// =============================================================================
// HELPERS
// =============================================================================

// RenderSeparator renders a horizontal rule, 70 columns unless a width is given.
func RenderSeparator(width ...int) string {
	w := 70
	if len(width) > 0 && width[0] > 0 {
		w = width[0]
	}
	return SeparatorStyle.Render(strings.Repeat("─", w))
}

// RenderStatus renders a bracketed status tag.
func RenderStatus(status string) string {
	switch strings.ToLower(status) {
	case "ok", "success", "completed":
		return SuccessStyle.Render("[OK]")
	case "error", "fail", "failed":
		return ErrorStyle.Render("[FAIL]")
	case "warning", "warn", "cancelled":
		return WarningStyle.Render("[WARN]")
	default:
		return DimStyle.Render("[" + strings.ToUpper(status) + "]")
	}
}

// RenderLabel renders "label:" padded to the label width.
func RenderLabel(label string) string {
	return LabelStyle.Render(label + ":")
}

// RenderKV renders one aligned key/value line.
func RenderKV(label, value string) string {
	return RenderLabel(label) + " " + ValueStyle.Render(value)
}

// logLevelStyle picks the style for a generation log line.
func logLevelStyle(level reasoning.Level) lipgloss.Style {
	switch level {
	case reasoning.LevelThink:
		return ThinkStyle
	case reasoning.LevelWarn:
		return WarningStyle
	case reasoning.LevelError:
		return ErrorStyle
	case reasoning.LevelDone:
		return SuccessStyle
	case reasoning.LevelDebug:
		return DimStyle
	default:
		return InfoStyle
	}
}

// RenderLogLine renders "[LEVEL] text" with the level's colour.
func RenderLogLine(line reasoning.LogLine) string {
	return logLevelStyle(line.Level).Render("["+string(line.Level)+"]") + " " + line.Text
}

// RenderCommandResult renders one executed file directive.
func RenderCommandResult(res filecmd.CommandResult) string {
	line := RenderStatus(string(res.Status)) + " " + res.Label
	if res.Detail != "" {
		line += DimStyle.Render(" - " + res.Detail)
	}
	return line
}
