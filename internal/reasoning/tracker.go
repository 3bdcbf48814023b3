// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package reasoning

import "strings"

// =============================================================================
// LOG LINES
// =============================================================================

// Level tags a terminal log line.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelDebug Level = "DEBUG"
	LevelWarn  Level = "WARN"
	LevelThink Level = "THINK"
	LevelDone  Level = "DONE"
	LevelError Level = "ERROR"
)

// LogLine is one line for the operator's terminal view.
type LogLine struct {
	Level Level
	Text  string
}

// String renders the line as "[LEVEL] text".
func (l LogLine) String() string {
	return "[" + string(l.Level) + "] " + l.Text
}

// Info, Debug, Warn and Done build lines for the other stages of a generation.
func Info(text string) LogLine  { return LogLine{Level: LevelInfo, Text: text} }
func Debug(text string) LogLine { return LogLine{Level: LevelDebug, Text: text} }
func Warn(text string) LogLine  { return LogLine{Level: LevelWarn, Text: text} }
func Done(text string) LogLine  { return LogLine{Level: LevelDone, Text: text} }

// =============================================================================
// TRACKER
// =============================================================================

const (
	openTag  = "<think>"
	closeTag = "</think>"
)

// Messages emitted at segment boundaries.
const (
	StartedText   = "reasoning started"
	CompletedText = "reasoning complete"
)

// State is the tracker position relative to a reasoning segment.
type State int

const (
	Outside State = iota
	Inside
)

// Tracker scans content deltas for <think>...</think> segments. It never
// modifies the deltas; the tags stay in the transcript.
//
// A Tracker is not safe for concurrent use.
type Tracker struct {
	state   State
	pending strings.Builder
}

// NewTracker returns a tracker in the Outside state.
func NewTracker() *Tracker {
	return &Tracker{}
}

// State returns the current state.
func (t *Tracker) State() State {
	return t.state
}

// Observe processes one delta and returns the log lines it produced.
//
// An opening tag switches to Inside. While Inside, text accumulates until a
// newline completes one or more lines, each emitted with the tags stripped.
// A closing tag emits the completion line, switches back to Outside and
// discards any partial line.
func (t *Tracker) Observe(delta string) []LogLine {
	var lines []LogLine

	if strings.Contains(delta, openTag) {
		t.state = Inside
		lines = append(lines, LogLine{Level: LevelThink, Text: StartedText})
	}

	if t.state == Inside {
		t.pending.WriteString(delta)
		buffered := t.pending.String()
		if idx := strings.LastIndexByte(buffered, '\n'); idx >= 0 {
			for _, raw := range strings.Split(buffered[:idx], "\n") {
				if text := cleanLine(raw); text != "" {
					lines = append(lines, LogLine{Level: LevelThink, Text: text})
				}
			}
			t.pending.Reset()
			t.pending.WriteString(buffered[idx+1:])
		}
	}

	if strings.Contains(delta, closeTag) {
		t.state = Outside
		t.pending.Reset()
		lines = append(lines, LogLine{Level: LevelThink, Text: CompletedText})
	}

	return lines
}

func cleanLine(s string) string {
	s = strings.ReplaceAll(s, openTag, "")
	s = strings.ReplaceAll(s, closeTag, "")
	return strings.TrimSpace(s)
}
