// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sandbox confines file operations to one root directory, the
// WorkFolder shared by the operator and the model.
//
// Every path is interpreted relative to the root. Resolve rejects any path
// that would leave the root after cleaning or through a symlink, and all
// operations go through it, so a rejected path never touches the disk.
//
// # Key Types
//
//   - Store: list, read, write, delete, create directories, import, find
//   - Entry: one item of a directory listing
//   - Error: failure tagged with a Kind (PathRejected, NotFound, IOFailure)
//   - Watcher: debounced fsnotify change feed for the whole tree
//
// # Usage
//
//	store, err := sandbox.New("./WorkFolder")
//	if err != nil {
//	    return err
//	}
//	if err := store.Write("notes/todo.md", "- ship it\n", sandbox.Overwrite); err != nil {
//	    return err
//	}
//	entries, err := store.List("notes")
package sandbox
