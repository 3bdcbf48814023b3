// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sandbox

import (
	"errors"
	"fmt"
)

// Kind classifies sandbox failures.
type Kind int

const (
	// KindIOFailure is any filesystem failure other than a missing path.
	KindIOFailure Kind = iota
	// KindPathRejected means the path would resolve outside the root.
	KindPathRejected
	// KindNotFound means the path does not exist.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindPathRejected:
		return "path_rejected"
	case KindNotFound:
		return "not_found"
	default:
		return "io_failure"
	}
}

// Sentinel errors for errors.Is checks.
var (
	ErrPathRejected = errors.New("path is outside the sandbox")
	ErrNotFound     = errors.New("no such file or directory")
)

// Error describes a failed sandbox operation.
type Error struct {
	Op   string // "read", "write", "list", ...
	Path string // path as given by the caller
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindPathRejected:
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, ErrPathRejected)
	case KindNotFound:
		return fmt.Sprintf("%s %s: %v", e.Op, e.Path, ErrNotFound)
	}
	if e.Err == nil {
		return e.Op + " " + e.Path + ": failed"
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the sentinels by kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrPathRejected:
		return e.Kind == KindPathRejected
	case ErrNotFound:
		return e.Kind == KindNotFound
	}
	return false
}

// KindOf returns the kind of a sandbox error, or KindIOFailure for any
// other error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindIOFailure
}

func rejected(op, path string) error {
	return &Error{Op: op, Path: path, Kind: KindPathRejected}
}

func notFound(op, path string, err error) error {
	return &Error{Op: op, Path: path, Kind: KindNotFound, Err: err}
}

func ioFailure(op, path string, err error) error {
	return &Error{Op: op, Path: path, Kind: KindIOFailure, Err: err}
}
