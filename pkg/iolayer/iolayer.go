/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package iolayer wraps the directory/file primitives the transfer
// controller needs, grounded on IO.cpp's listDirectory/isDirectory/
// isHidden helpers.
package iolayer

import (
	"os"
	"path/filepath"
	"strings"
)

// IsDirectory reports whether path exists and is a directory.
func IsDirectory(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// IsHidden reports whether a file or directory's base name begins with
// a dot, the Unix convention the original's recursive sender filters
// on regardless of host platform.
func IsHidden(name string) bool {
	return strings.HasPrefix(filepath.Base(name), ".")
}

// Entry is one item returned by ListDirectory.
type Entry struct {
	Name  string
	IsDir bool
}

// ListDirectory lists the immediate children of dir, skipping nothing
// itself; hidden-file filtering is the caller's responsibility (send.go
// applies it while recursing, matching the original's call site).
func ListDirectory(dir string) ([]Entry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, Entry{Name: e.Name(), IsDir: e.IsDir()})
	}
	return out, nil
}

// EnsureDir creates dir and all missing parents, mirroring the
// original's recursive mkdir performed before opening a fresh output
// stream.
func EnsureDir(dir string) error {
	if dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
