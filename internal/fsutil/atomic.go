// Package fsutil implements the write-then-replace primitive shared by the
// counter file and the card documents.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// TempSuffix marks in-flight files. Directory scans must skip names ending in it.
const TempSuffix = ".tmp"

// CheckFunc inspects the fully written temp file before it replaces the
// target. A non-nil error aborts the replace.
type CheckFunc func(tmpPath string) error

// TempPath returns a unique temp file name in path's directory. Uniqueness
// keeps concurrent writers to the same target from sharing a temp file.
func TempPath(path string) string {
	return fmt.Sprintf("%s.%s%s", path, uuid.NewString(), TempSuffix)
}

// WriteAtomic replaces path with data so that readers observe either the old
// or the new content in full:
//
//  1. write data to a temp file in the same directory
//  2. fsync and close it
//  3. run check (if any) against the temp file
//  4. rename the temp file over path
//  5. fsync the directory
//
// The temp file is removed on every failure path. A failed check leaves path
// untouched and returns the check's error unwrapped, so callers can tell it
// apart from I/O errors.
func WriteAtomic(path string, data []byte, perm os.FileMode, check CheckFunc) (err error) {
	tmp := TempPath(path)

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}

	if check != nil {
		if err := check(tmp); err != nil {
			return err
		}
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	SyncDir(filepath.Dir(path))
	return nil
}

// SyncDir flushes a directory entry so a completed rename survives a crash.
// Best-effort: not every platform can fsync a directory.
func SyncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

// IsTemp reports whether name is an in-flight temp file.
func IsTemp(name string) bool {
	return filepath.Ext(name) == TempSuffix
}
