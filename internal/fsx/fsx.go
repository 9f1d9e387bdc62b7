// Package fsx is the filesystem write discipline every materialized
// artifact goes through: temp file in the destination directory, fsync,
// then rename into place. Adapted from AVMC's internal/infra/fsx, which
// enforces the same temp-then-rename shape but treats sidecars (nfo,
// poster) as write-once and refuses to overwrite them.
//
// This system's materialization is idempotent and user-resettable
// (spec.md §9's reset-and-re-run escape hatch): a field that previously
// succeeded can be asked to run again and must overwrite its prior
// output, so every write here replaces rather than refuses.
package fsx

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
)

// renameFunc is a function variable so tests can simulate EXDEV and
// permission failures without real cross-device mounts.
var renameFunc = os.Rename

// PathTypeConflictError means the destination path exists but is the
// wrong type (a directory where a file is expected, or vice versa).
type PathTypeConflictError struct {
	Path string
	Want string
	Got  string
}

func (e *PathTypeConflictError) Error() string {
	return fmt.Sprintf("path type conflict at %q: want %s, got %s", e.Path, e.Want, e.Got)
}

// IsPathTypeConflict reports whether err is a *PathTypeConflictError.
func IsPathTypeConflict(err error) bool {
	var e *PathTypeConflictError
	return errors.As(err, &e)
}

// CrossDeviceError wraps an EXDEV rename failure. Per spec.md §4.3 this
// is a hard failure, not a fallback to copy+delete: moving the root_path
// of a subscription across filesystems is a misconfiguration the user
// must fix, not something to silently paper over.
type CrossDeviceError struct {
	Src string
	Dst string
	Err error
}

func (e *CrossDeviceError) Error() string {
	return fmt.Sprintf("cross-device rename %q -> %q: %v (this tool never falls back to copy+delete)", e.Src, e.Dst, e.Err)
}

func (e *CrossDeviceError) Unwrap() error { return e.Err }

// IsCrossDevice reports whether err is a *CrossDeviceError.
func IsCrossDevice(err error) bool {
	var e *CrossDeviceError
	return errors.As(err, &e)
}

// Rename wraps os.Rename, classifying EXDEV into a CrossDeviceError.
func Rename(src, dst string) error {
	if err := renameFunc(src, dst); err != nil {
		if isEXDEV(err) {
			return &CrossDeviceError{Src: src, Dst: dst, Err: err}
		}
		return err
	}
	return nil
}

// WriteFileAtomic writes data to dir/name via a same-directory temp
// file, fsync, then rename-over — replacing any existing file at that
// path. The temp file's prefix keeps it hidden from a media server's
// directory scan while the write is in flight.
func WriteFileAtomic(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	dst := filepath.Join(dir, name)

	if fi, err := os.Lstat(dst); err == nil && fi.IsDir() {
		return &PathTypeConflictError{Path: dst, Want: "file", Got: "dir"}
	}

	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if err := writeAll(tmp, data); err != nil {
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := Rename(tmpName, dst); err != nil {
		return err
	}
	_ = syncDirBestEffort(dir)
	return nil
}

// CreateTempForWrite opens a same-directory temp file ready to receive
// chunked, out-of-order writes (the Chunked Downloader writes at
// arbitrary offsets via WriteAt as ranges complete). Truncating to size
// up front avoids sparse-file surprises on filesystems that don't
// support holes well and lets every chunk writer proceed independently.
func CreateTempForWrite(dir, name string, size int64) (*os.File, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", err
	}
	tmp, err := os.CreateTemp(dir, "."+name+".part-*")
	if err != nil {
		return nil, "", err
	}
	if size > 0 {
		if err := tmp.Truncate(size); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
			return nil, "", err
		}
	}
	return tmp, tmp.Name(), nil
}

// FinalizeTemp fsyncs and closes f, then atomically renames tmpName
// into dir/name, replacing any existing file.
func FinalizeTemp(f *os.File, tmpName, dir, name string) error {
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	dst := filepath.Join(dir, name)
	if err := Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	_ = syncDirBestEffort(dir)
	return nil
}

// AbandonTemp removes a temp file created by CreateTempForWrite after a
// download attempt fails permanently.
func AbandonTemp(tmpName string) {
	_ = os.Remove(tmpName)
}

func writeAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

func syncDirBestEffort(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
