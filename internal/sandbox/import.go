// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/jeranaias/studio/internal/util"
)

// =============================================================================
// IMPORT
// =============================================================================

// ImportFile moves an uploaded temporary file into the sandbox under
// destName and returns its relative path. The temporary file is removed
// whenever the import does not complete, including when destName is
// rejected.
func (s *Store) ImportFile(tempPath, destName string) (string, error) {
	dest, err := s.Resolve(destName)
	if err != nil {
		os.Remove(tempPath)
		return "", err
	}
	if dest == s.root {
		os.Remove(tempPath)
		return "", ioFailure("import", destName, errors.New("destination name is empty"))
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		os.Remove(tempPath)
		return "", s.fail("import", destName, err)
	}

	if err := os.Rename(tempPath, dest); err != nil {
		// Upload directories often sit on another filesystem.
		copyErr := util.CopyFile(tempPath, dest)
		os.Remove(tempPath)
		if copyErr != nil {
			return "", s.fail("import", destName, copyErr)
		}
	}

	return s.Rel(dest), nil
}

// ImportDirectory copies the directory tree at src (an absolute host path)
// into the sandbox under destName. It returns the relative destination
// and the number of files copied. Symlinks inside src are skipped, and
// every destination path is resolved so a link already present under the
// destination cannot redirect the copy.
func (s *Store) ImportDirectory(src, destName string) (string, int, error) {
	if !filepath.IsAbs(src) {
		return "", 0, ioFailure("import_dir", src, errors.New("source path must be absolute"))
	}
	info, err := os.Stat(src)
	if err != nil {
		return "", 0, s.fail("import_dir", src, err)
	}
	if !info.IsDir() {
		return "", 0, ioFailure("import_dir", src, errors.New("source is not a directory"))
	}

	if strings.TrimSpace(destName) == "" {
		destName = filepath.Base(src)
	}
	dest, err := s.Resolve(destName)
	if err != nil {
		return "", 0, err
	}
	if dest == s.root {
		return "", 0, ioFailure("import_dir", destName, errors.New("destination name is empty"))
	}

	srcReal, err := filepath.EvalSymlinks(src)
	if err != nil {
		return "", 0, s.fail("import_dir", src, err)
	}
	if isPathWithinDir(dest, srcReal) {
		return "", 0, ioFailure("import_dir", destName, errors.New("destination is inside the source"))
	}

	destRel := s.Rel(dest)
	files := 0
	err = filepath.WalkDir(srcReal, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.Type()&fs.ModeSymlink != 0 || !(d.IsDir() || d.Type().IsRegular()) {
			return nil
		}
		rel, err := filepath.Rel(srcReal, path)
		if err != nil {
			return err
		}
		target, err := s.importTarget(filepath.Join(destRel, rel))
		if err != nil {
			return err
		}

		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if err := util.CopyFile(path, target); err != nil {
			return err
		}
		files++
		return nil
	})
	if err != nil {
		var serr *Error
		if errors.As(err, &serr) {
			return "", files, err
		}
		return "", files, ioFailure("import_dir", destName, fmt.Errorf("copy from %s: %w", src, err))
	}

	return s.Rel(dest), files, nil
}

// importTarget resolves one path of a directory import. Existing symlinks
// under the destination are refused even when they point inside the root.
func (s *Store) importTarget(rel string) (string, error) {
	target, err := s.Resolve(rel)
	if err != nil {
		return "", err
	}
	if info, err := os.Lstat(target); err == nil && info.Mode()&fs.ModeSymlink != 0 {
		return "", rejected("import_dir", filepath.ToSlash(rel))
	}
	return target, nil
}

// =============================================================================
// FIND
// =============================================================================

// Find returns the relative paths matching a doublestar pattern such as
// "**/*.md" or "notes/{a,b}.txt", sorted in walk order.
func (s *Store) Find(pattern string) ([]string, error) {
	pattern = strings.TrimLeft(filepath.ToSlash(strings.TrimSpace(pattern)), "/")
	if pattern == "" {
		pattern = "**"
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, ioFailure("find", pattern, doublestar.ErrBadPattern)
	}

	matches, err := doublestar.Glob(os.DirFS(s.root), pattern, doublestar.WithNoFollow())
	if err != nil {
		return nil, ioFailure("find", pattern, err)
	}

	// A link matched by name may still point outside the root.
	kept := matches[:0]
	for _, m := range matches {
		if _, err := s.Resolve(m); err == nil {
			kept = append(kept, m)
		}
	}
	return kept, nil
}
