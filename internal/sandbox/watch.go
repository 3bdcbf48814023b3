// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sandbox

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Change reports a filesystem change inside the sandbox.
type Change struct {
	Op   string // "create", "write", "remove", "rename" or "chmod"
	Path string // relative to the root
}

// Watcher delivers debounced changes to files under the sandbox root,
// including directories created after the watch started.
type Watcher struct {
	store    *Store
	fw       *fsnotify.Watcher
	debounce time.Duration
	changes  chan Change
	errs     chan error

	mu      sync.Mutex
	pending map[string]pendingChange
}

type pendingChange struct {
	op   string
	seen time.Time
}

// Watch starts watching the sandbox. Changes to the same path within the
// debounce window are reported once, with the latest operation. The
// watcher stops and closes its channels when ctx is done.
func (s *Store) Watch(ctx context.Context, debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}

	w := &Watcher{
		store:    s,
		fw:       fw,
		debounce: debounce,
		changes:  make(chan Change, 64),
		errs:     make(chan error, 8),
		pending:  make(map[string]pendingChange),
	}
	if err := w.addRecursive(s.root); err != nil {
		fw.Close()
		return nil, err
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		w.processEvents(ctx)
	}()
	go func() {
		defer wg.Done()
		w.processPending(ctx)
	}()
	go func() {
		wg.Wait()
		fw.Close()
		close(w.changes)
		close(w.errs)
	}()

	return w, nil
}

// Changes returns the channel of debounced changes.
func (w *Watcher) Changes() <-chan Change {
	return w.changes
}

// Errors returns watcher errors. Errors are dropped when nobody reads them.
func (w *Watcher) Errors() <-chan error {
	return w.errs
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip unreadable entries
		}
		if !d.IsDir() {
			return nil
		}
		return w.fw.Add(path)
	})
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			op := opName(event.Op)
			if op == "" {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.addRecursive(event.Name)
				}
			}

			w.mu.Lock()
			w.pending[event.Name] = pendingChange{op: op, seen: time.Now()}
			w.mu.Unlock()

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			select {
			case w.errs <- err:
			default:
			}
		}
	}
}

func (w *Watcher) processPending(ctx context.Context) {
	tick := w.debounce / 2
	if tick <= 0 {
		tick = time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			now := time.Now()

			w.mu.Lock()
			var ready []Change
			for path, p := range w.pending {
				if now.Sub(p.seen) >= w.debounce {
					ready = append(ready, Change{Op: p.op, Path: w.store.Rel(path)})
					delete(w.pending, path)
				}
			}
			w.mu.Unlock()

			for _, c := range ready {
				select {
				case w.changes <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func opName(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Create):
		return "create"
	case op.Has(fsnotify.Write):
		return "write"
	case op.Has(fsnotify.Remove):
		return "remove"
	case op.Has(fsnotify.Rename):
		return "rename"
	case op.Has(fsnotify.Chmod):
		return "chmod"
	}
	return ""
}
