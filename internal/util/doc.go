// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across the studio.
//
// # Key Functions
//
//   - AtomicWriteFile: crash-safe file writing with fsync
//   - CopyFile: permission-preserving file copy
//   - TruncateRunes, TruncateWidth: UTF-8 safe truncation for display
//   - PadRight, StringWidth: column layout for terminal listings
//
// # Usage
//
//	err := util.AtomicWriteFile(path, data, 0644)
//	cell := util.PadRight(util.TruncateWidth(name, 30), 30)
package util
