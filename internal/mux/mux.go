// Package mux wraps an external muxing subprocess (ffmpeg by default)
// that combines a video-only and audio-only stream into one playable
// file, per spec.md §4.6's mux_required handling for pages whose
// selected stream tracks arrived as separate video/audio elementary
// streams.
//
// Grounded on marcohefti-yt-vod-manager/internal/ytdlp's runCommand:
// exec.LookPath to fail fast when the binary is missing, captured
// stdout/stderr, and a non-zero exit mapped to a typed error rather than
// a bare fmt.Errorf.
package mux

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/bilisync/bilisync/internal/bilierr"
)

// Muxer invokes binary to combine separate video/audio streams.
type Muxer struct {
	binary string
}

// New constructs a Muxer. An empty binary defaults to "ffmpeg".
func New(binary string) *Muxer {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &Muxer{binary: binary}
}

// CheckAvailable reports whether the muxer binary is on PATH, so
// materialization can fail a page's media field immediately rather than
// discover the missing dependency mid-mux.
func (m *Muxer) CheckAvailable() error {
	if _, err := exec.LookPath(m.binary); err != nil {
		return fmt.Errorf("mux: %s not found on PATH: %w", m.binary, err)
	}
	return nil
}

// Mux combines videoPath and audioPath into destPath, re-muxing the
// existing codecs without re-encoding (-c copy), overwriting any
// pre-existing file at destPath. Returns *bilierr.MuxFailed on a
// non-zero exit, carrying the captured stderr for diagnostics.
func (m *Muxer) Mux(ctx context.Context, videoPath, audioPath, destPath string) error {
	cmd := exec.CommandContext(ctx, m.binary,
		"-y",
		"-i", videoPath,
		"-i", audioPath,
		"-c", "copy",
		destPath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if asExitError(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return &bilierr.MuxFailed{ExitCode: exitCode, Stderr: stderr.String()}
	}
	return nil
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}
