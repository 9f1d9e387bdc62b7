package mux

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/bilisync/bilisync/internal/bilierr"
)

// fakeScript writes a shell script standing in for the muxer binary so
// these tests don't depend on ffmpeg being installed.
func fakeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake shell script harness is unix-only")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-muxer")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write fake script: %v", err)
	}
	return path
}

func TestMuxSucceedsOnZeroExit(t *testing.T) {
	bin := fakeScript(t, "exit 0\n")
	m := New(bin)
	if err := m.Mux(context.Background(), "video.m4s", "audio.m4s", "out.mp4"); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
}

func TestMuxReturnsMuxFailedOnNonZeroExit(t *testing.T) {
	bin := fakeScript(t, "echo 'boom' 1>&2\nexit 3\n")
	m := New(bin)
	err := m.Mux(context.Background(), "video.m4s", "audio.m4s", "out.mp4")
	if err == nil {
		t.Fatalf("expected failure")
	}
	var mf *bilierr.MuxFailed
	if !errors.As(err, &mf) {
		t.Fatalf("expected *bilierr.MuxFailed, got %T: %v", err, err)
	}
	if got := err.Error(); got == "" {
		t.Fatalf("expected non-empty error message")
	}
}

func TestCheckAvailableFailsForMissingBinary(t *testing.T) {
	m := New("definitely-not-a-real-binary-xyz")
	if err := m.CheckAvailable(); err == nil {
		t.Fatalf("expected error for missing binary")
	}
}
