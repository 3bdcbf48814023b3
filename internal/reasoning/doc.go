// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package reasoning follows <think> segments in a streamed model response
// and turns them into terminal log lines.
//
// # Key Types
//
//   - Tracker: two-state scanner fed one content delta at a time
//   - LogLine: a pre-formatted "[LEVEL] text" line
//
// # Usage
//
//	tracker := reasoning.NewTracker()
//	for _, delta := range deltas {
//	    for _, line := range tracker.Observe(delta) {
//	        fmt.Fprintln(os.Stderr, line)
//	    }
//	}
package reasoning
