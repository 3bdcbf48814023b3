// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"os"
	"path/filepath"
	"testing"
)

// =============================================================================
// ATOMIC WRITE TESTS
// =============================================================================

func TestAtomicWriteFile_Basic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.txt")
	data := []byte("hello, world!")

	if err := AtomicWriteFile(path, data, 0644); err != nil {
		t.Fatalf("AtomicWriteFile failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file: %v", err)
	}
	if string(content) != string(data) {
		t.Errorf("Content mismatch: got %q, want %q", string(content), string(data))
	}
}

func TestAtomicWriteFile_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subdir", "deep", "test.txt")

	if err := AtomicWriteFile(path, []byte("test data"), 0644); err != nil {
		t.Fatalf("AtomicWriteFile failed: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("File not created: %v", err)
	}
}

func TestAtomicWriteFile_OverwritesWithoutTempLeftovers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.txt")

	if err := AtomicWriteFile(path, []byte("initial"), 0644); err != nil {
		t.Fatalf("First write failed: %v", err)
	}
	if err := AtomicWriteFile(path, []byte("updated"), 0644); err != nil {
		t.Fatalf("Second write failed: %v", err)
	}

	content, _ := os.ReadFile(path)
	if string(content) != "updated" {
		t.Errorf("Content = %q, want 'updated'", content)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want 1 (temp file left behind?)", len(entries))
	}
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.sh")
	dst := filepath.Join(dir, "nested", "dst.sh")

	if err := os.WriteFile(src, []byte("#!/bin/sh\necho hi\n"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := CopyFile(src, dst); err != nil {
		t.Fatalf("CopyFile failed: %v", err)
	}

	content, _ := os.ReadFile(dst)
	if string(content) != "#!/bin/sh\necho hi\n" {
		t.Errorf("Content = %q", content)
	}
	info, _ := os.Stat(dst)
	if info.Mode().Perm()&0100 == 0 {
		t.Errorf("Mode = %v, want executable bit preserved", info.Mode())
	}
}

func TestCopyFile_MissingSource(t *testing.T) {
	dir := t.TempDir()
	if err := CopyFile(filepath.Join(dir, "nope"), filepath.Join(dir, "out")); err == nil {
		t.Error("CopyFile should fail for a missing source")
	}
}

// =============================================================================
// STRING TESTS
// =============================================================================

func TestTruncateRunes(t *testing.T) {
	testCases := []struct {
		input    string
		max      int
		expected string
	}{
		{"hello", 10, "hello"},
		{"hello world", 8, "hello..."},
		{"hello", 0, ""},
		{"hello", 2, "he"},
		{"日本語のテキスト", 5, "日本..."},
	}

	for _, tc := range testCases {
		if got := TruncateRunes(tc.input, tc.max); got != tc.expected {
			t.Errorf("TruncateRunes(%q, %d) = %q, want %q", tc.input, tc.max, got, tc.expected)
		}
	}
}

func TestTruncateWidth(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		maxWidth int
		expected string
	}{
		{"ascii short", "hello", 10, "hello"},
		{"ascii exact", "hello", 5, "hello"},
		{"ascii truncate", "hello world", 8, "hello..."},
		{"cjk truncate", "日本語テキスト", 7, "日本..."},
		{"zero width", "hello", 0, ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := TruncateWidth(tc.input, tc.maxWidth)
			if got != tc.expected {
				t.Errorf("TruncateWidth(%q, %d) = %q, want %q", tc.input, tc.maxWidth, got, tc.expected)
			}
			if StringWidth(got) > tc.maxWidth {
				t.Errorf("width %d exceeds %d", StringWidth(got), tc.maxWidth)
			}
		})
	}
}

func TestStringWidthAndPad(t *testing.T) {
	if w := StringWidth("日本"); w != 4 {
		t.Errorf("StringWidth = %d, want 4", w)
	}
	if got := PadRight("日本", 6); got != "日本  " {
		t.Errorf("PadRight = %q, want two trailing spaces", got)
	}
}
