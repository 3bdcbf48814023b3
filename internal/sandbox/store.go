// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jeranaias/studio/internal/util"
)

// =============================================================================
// TYPES
// =============================================================================

// EntryKind is the type of a directory entry.
type EntryKind string

const (
	KindFile      EntryKind = "file"
	KindDirectory EntryKind = "directory"
)

// Entry describes one item of a directory listing.
type Entry struct {
	Name     string    `json:"name"`
	Kind     EntryKind `json:"type"`
	Path     string    `json:"path"` // relative to the root, "/"-separated
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// IsDir reports whether the entry is a directory.
func (e Entry) IsDir() bool {
	return e.Kind == KindDirectory
}

// WriteMode selects how Write treats an existing file.
type WriteMode int

const (
	Overwrite WriteMode = iota
	Append
)

// ParseWriteMode maps the wire names "write" and "append" to a WriteMode.
// An empty string means Overwrite.
func ParseWriteMode(s string) (WriteMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "write", "overwrite":
		return Overwrite, nil
	case "append":
		return Append, nil
	}
	return Overwrite, fmt.Errorf("unknown write mode %q", s)
}

// =============================================================================
// STORE
// =============================================================================

// Store confines file operations to a single root directory.
//
// Every operation takes a path relative to the root and resolves it with
// Resolve before touching the filesystem; a path that would land outside
// the root fails with ErrPathRejected and nothing is modified.
//
// Store holds no mutable state and is safe for concurrent use, but
// operations on the same path are not serialised.
type Store struct {
	root string
}

// New opens a sandbox rooted at dir, creating the directory if needed.
// The root is made absolute and its symlinks are resolved once, so
// containment checks compare canonical paths.
func New(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("sandbox root is empty")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox root: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("create sandbox root: %w", err)
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox root: %w", err)
	}
	info, err := os.Stat(real)
	if err != nil {
		return nil, fmt.Errorf("stat sandbox root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("sandbox root %s is not a directory", real)
	}
	return &Store{root: real}, nil
}

// Root returns the absolute, canonical root directory.
func (s *Store) Root() string {
	return s.root
}

// Name returns the base name of the root, used as a display label.
func (s *Store) Name() string {
	return filepath.Base(s.root)
}

// Resolve maps a caller path onto an absolute path inside the root.
//
// "", "." and "/" name the root itself. Leading slashes and backslashes are
// stripped, so "/notes.txt" is the root's notes.txt. The remainder is
// joined onto the root and cleaned; the result must be the root or lie
// beneath root plus a separator. The deepest existing ancestor is also
// resolved through symlinks and must stay inside the root.
func (s *Store) Resolve(rel string) (string, error) {
	if strings.ContainsRune(rel, 0) {
		return "", rejected("resolve", rel)
	}

	trimmed := strings.TrimLeft(strings.TrimSpace(rel), `/\`)
	if trimmed == "" || trimmed == "." {
		return s.root, nil
	}
	if filepath.VolumeName(trimmed) != "" {
		return "", rejected("resolve", rel)
	}

	joined := filepath.Join(s.root, trimmed)
	if !isPathWithinDir(joined, s.root) {
		return "", rejected("resolve", rel)
	}

	real, err := resolveExisting(joined)
	if err != nil {
		return "", ioFailure("resolve", rel, err)
	}
	if !isPathWithinDir(real, s.root) {
		return "", rejected("resolve", rel)
	}

	return joined, nil
}

// Rel converts an absolute path inside the root back to the "/"-separated
// relative form used in listings. The root itself is ".".
func (s *Store) Rel(abs string) string {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil || rel == "." {
		return "."
	}
	return filepath.ToSlash(rel)
}

// List returns the entries of a directory, sorted by name.
func (s *Store) List(rel string) ([]Entry, error) {
	dir, err := s.Resolve(rel)
	if err != nil {
		return nil, err
	}

	items, err := os.ReadDir(dir)
	if err != nil {
		return nil, s.fail("list", rel, err)
	}

	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		info, err := item.Info()
		if err != nil {
			// Removed between ReadDir and Info
			continue
		}
		kind := KindFile
		if info.IsDir() {
			kind = KindDirectory
		}
		entries = append(entries, Entry{
			Name:     item.Name(),
			Kind:     kind,
			Path:     s.Rel(filepath.Join(dir, item.Name())),
			Size:     info.Size(),
			Modified: info.ModTime().UTC(),
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Read returns the content of a file as text.
func (s *Store) Read(rel string) (string, error) {
	path, err := s.Resolve(rel)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", s.fail("read", rel, err)
	}
	if info.IsDir() {
		return "", ioFailure("read", rel, errors.New("is a directory"))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", s.fail("read", rel, err)
	}
	return string(data), nil
}

// Write stores content at rel, creating parent directories as needed.
// Overwrite replaces the file atomically; Append adds to the end, creating
// the file when it does not exist.
func (s *Store) Write(rel, content string, mode WriteMode) error {
	path, err := s.Resolve(rel)
	if err != nil {
		return err
	}
	if path == s.root {
		return ioFailure("write", rel, errors.New("is a directory"))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return s.fail("write", rel, err)
	}

	if mode == Append {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return s.fail("write", rel, err)
		}
		if _, err := f.WriteString(content); err != nil {
			f.Close()
			return s.fail("write", rel, err)
		}
		if err := f.Close(); err != nil {
			return s.fail("write", rel, err)
		}
		return nil
	}

	if err := util.AtomicWriteFile(path, []byte(content), 0644); err != nil {
		return s.fail("write", rel, err)
	}
	return nil
}

// Delete removes a file or an empty directory. The root cannot be deleted.
func (s *Store) Delete(rel string) error {
	path, err := s.Resolve(rel)
	if err != nil {
		return err
	}
	if path == s.root {
		return rejected("delete", rel)
	}
	if err := os.Remove(path); err != nil {
		return s.fail("delete", rel, err)
	}
	return nil
}

// CreateDir creates a directory and any missing parents.
func (s *Store) CreateDir(rel string) error {
	path, err := s.Resolve(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return s.fail("create_dir", rel, err)
	}
	return nil
}

// Stat returns the entry for a single path.
func (s *Store) Stat(rel string) (Entry, error) {
	path, err := s.Resolve(rel)
	if err != nil {
		return Entry{}, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return Entry{}, s.fail("stat", rel, err)
	}
	kind := KindFile
	if info.IsDir() {
		kind = KindDirectory
	}
	return Entry{
		Name:     info.Name(),
		Kind:     kind,
		Path:     s.Rel(path),
		Size:     info.Size(),
		Modified: info.ModTime().UTC(),
	}, nil
}

// fail wraps a filesystem error, separating missing paths from other
// failures.
func (s *Store) fail(op, rel string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return notFound(op, rel, err)
	}
	return ioFailure(op, rel, err)
}

// =============================================================================
// PATH HELPERS
// =============================================================================

// isPathWithinDir reports whether path is dir or lies beneath it. The
// separator boundary keeps /srv/WorkFolderEVIL from matching /srv/WorkFolder.
func isPathWithinDir(path, dir string) bool {
	path = filepath.Clean(path)
	dir = filepath.Clean(dir)
	if path == dir {
		return true
	}
	prefix := dir
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(path, prefix)
}

// maxLinkDepth bounds the dangling-symlink chain followed by resolveExisting.
const maxLinkDepth = 40

// resolveExisting resolves symlinks on the nearest existing ancestor of
// path and re-attaches the missing suffix. A dangling symlink is followed
// to its target so a later create cannot be redirected outside the root.
func resolveExisting(path string) (string, error) {
	return resolveExistingDepth(path, 0)
}

func resolveExistingDepth(path string, depth int) (string, error) {
	if depth > maxLinkDepth {
		return "", errors.New("too many levels of symbolic links")
	}

	current := path
	var missing []string
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err != nil && errors.Is(err, fs.ErrNotExist) {
			if info, lerr := os.Lstat(current); lerr == nil && info.Mode()&fs.ModeSymlink != 0 {
				target, rerr := os.Readlink(current)
				if rerr != nil {
					return "", rerr
				}
				if !filepath.IsAbs(target) {
					target = filepath.Join(filepath.Dir(current), target)
				}
				resolved, err = resolveExistingDepth(target, depth+1)
			}
		}
		if err == nil {
			for i := len(missing) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, missing[i])
			}
			return resolved, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}

		parent := filepath.Dir(current)
		if parent == current {
			return "", err
		}
		missing = append(missing, filepath.Base(current))
		current = parent
	}
}
