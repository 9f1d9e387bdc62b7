// Package config generalizes AVMC's internal/config (FileConfig +
// EffectiveConfig, merged with explicit CLI > file > default precedence,
// and a structured *Error carrying an error_code) into spec.md §4.10's
// Versioned Config: an immutable snapshot behind an atomic pointer, with
// change notification for schedule re-arming.
package config

import (
	"fmt"
	"strings"

	"github.com/bilisync/bilisync/internal/bilierr"
)

// QualityPreference drives the stream-selection policy of spec.md §4.5:
// Enrichment picks the track maximizing (quality_rank, codec_rank,
// hdr_allowed, dolby_allowed, hi-res_allowed) against these toggles.
type QualityPreference struct {
	PreferredQualityRank int
	PreferredCodecRank   int
	AllowHDR             bool
	AllowDolby           bool
	AllowHiRes           bool
}

// ConcurrencyLimits mirrors governor.Limits at the config layer so this
// package stays free of an import cycle (governor does not import config;
// cmd/bilisync converts one into the other when it wires both together).
type ConcurrencyLimits struct {
	GlobalHTTP    int64
	VideosPerSub  int64
	PagesPerVideo int64
	ChunksPerFile int64
}

// DefaultConcurrencyLimits mirrors spec.md §4.7's recommended defaults.
func DefaultConcurrencyLimits() ConcurrencyLimits {
	return ConcurrencyLimits{GlobalHTTP: 32, VideosPerSub: 4, PagesPerVideo: 2, ChunksPerFile: 4}
}

// Snapshot is the immutable settings capture a cycle reads once at start
// (spec.md §3's "Config snapshot").
type Snapshot struct {
	ConfigDir string

	Credential string // opaque bearer handed to the client.Client implementation

	Concurrency ConcurrencyLimits
	Quality     QualityPreference

	// MaxRetry mirrors statuscode.MaxRetry but is config-sourced so it
	// can be tuned without a rebuild; the codec itself stays a pure
	// constant (spec.md recommends >= 7, default 9).
	MaxRetry uint8

	// ChunkSizeBytes and ChunkRetries feed the Chunked Downloader
	// (spec.md §4.3).
	ChunkSizeBytes   int64
	ChunkRetries     int

	// RiskControlCooldownSeconds is the minimum delay (spec.md §4.8 step
	// 5, default >= 1800) before the Task Manager reschedules a
	// subscription whose cycle was tripped by the circuit breaker.
	RiskControlCooldownSeconds int

	// AttemptDeadlineSmallSeconds / AttemptDeadlineChunkSeconds are the
	// per-attempt HTTP deadlines of spec.md §5 (defaults 30 / 300).
	AttemptDeadlineSmallSeconds int
	AttemptDeadlineChunkSeconds int
}

// DefaultSnapshot returns the recommended defaults from spec.md, used
// when no persisted config row exists yet.
func DefaultSnapshot(configDir string) Snapshot {
	return Snapshot{
		ConfigDir:                   configDir,
		Concurrency:                 DefaultConcurrencyLimits(),
		MaxRetry:                    9,
		ChunkSizeBytes:              4 << 20, // 4 MiB
		ChunkRetries:                3,
		RiskControlCooldownSeconds:  1800,
		AttemptDeadlineSmallSeconds: 30,
		AttemptDeadlineChunkSeconds: 300,
	}
}

// Validate enforces the structural constraints a snapshot must satisfy
// before it can be published (spec.md §7's ConfigInvalid recovery: the
// cycle refuses to run rather than operate on nonsense limits).
func (s Snapshot) Validate() error {
	if strings.TrimSpace(s.ConfigDir) == "" {
		return &bilierr.ConfigInvalid{Field: "config_dir", Reason: "must not be empty"}
	}
	if s.Concurrency.GlobalHTTP < 1 {
		return &bilierr.ConfigInvalid{Field: "concurrency.global_http", Reason: "must be >= 1"}
	}
	if s.Concurrency.VideosPerSub < 1 || s.Concurrency.PagesPerVideo < 1 || s.Concurrency.ChunksPerFile < 1 {
		return &bilierr.ConfigInvalid{Field: "concurrency", Reason: "every tier must be >= 1"}
	}
	if s.MaxRetry < 7 {
		return &bilierr.ConfigInvalid{Field: "max_retry", Reason: fmt.Sprintf("must be >= 7 per spec, got %d", s.MaxRetry)}
	}
	if s.ChunkSizeBytes < 1 {
		return &bilierr.ConfigInvalid{Field: "chunk_size_bytes", Reason: "must be >= 1"}
	}
	if s.RiskControlCooldownSeconds < 1 {
		return &bilierr.ConfigInvalid{Field: "risk_control_cooldown_seconds", Reason: "must be >= 1"}
	}
	return nil
}
