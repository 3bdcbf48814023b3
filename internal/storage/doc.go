// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists conversations in a SQLite database.
//
// # Key Types
//
//   - ConversationStore: save, load, list, search and delete transcripts
//   - ConversationMeta: lightweight metadata for listing
//   - CommandRecord: a file directive outcome attached to a reply
//
// # Usage
//
//	store, err := storage.Open(path)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	err = store.Save(ctx, conv)
//	metas, err := store.List(ctx)
//	conv, err := store.Load(ctx, metas[0].ID)
//
// # Storage Location
//
// The database lives at ~/.studio/history.db unless configured otherwise.
package storage
