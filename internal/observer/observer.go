// Package observer decouples progress/result reporting from the engine's
// core control flow, the same separation AVMC draws between
// internal/app/run (which only emits events) and cmd/avmc (which decides
// how to render them). Progress and results reach the terminal through
// cmd/bilisync's sink implementation; the scheduler additionally writes
// one log line per fire through the standard log package.
package observer

import (
	"time"

	"github.com/bilisync/bilisync/internal/domain"
)

// Observer receives cycle-scoped events. Implementations must be safe for
// concurrent use: events can arrive from many goroutines at once, since
// Materialization fans out across videos and pages.
type Observer interface {
	// OnCycleStart fires once, as early as possible, when a cycle begins.
	OnCycleStart(subscriptionID int64, subscriptionTitle string)
	// OnPhaseDone fires when discovery, enrichment, or materialization
	// completes for the cycle, with free-form stats for that phase.
	OnPhaseDone(phase string, fields map[string]any, dur time.Duration)
	// OnTaskDone fires once per (entity, field) task attempt.
	OnTaskDone(t TaskResult)
	// OnCycleDone fires once, with the finalized report.
	OnCycleDone(report CycleReport)
}

// TaskResult describes the outcome of a single Materialization task
// (video-level or page-level field attempt).
type TaskResult struct {
	VideoID   int64
	PageID    int64 // 0 for video-level tasks
	Field     string
	Succeeded bool
	ErrorCode string
	ErrorMsg  string
	Dur       time.Duration
}

// Status mirrors the classification spec.md §7 asks every terminal
// failure to surface through "the UI status column", independent of the
// raw statuscode.Class so report consumers don't need to import it.
type Status string

const (
	StatusProcessed Status = "processed"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
	StatusInvalid   Status = "invalid"
	StatusCancelled Status = "cancelled"
)

// VideoResult is one video's outcome within a CycleReport.
type VideoResult struct {
	VideoID   int64
	BVID      string
	Title     string
	Status    Status
	ErrorCode string
	ErrorMsg  string
	Tasks     []TaskResult
}

// CycleReport is the structured, JSON-serializable summary of one
// subscription cycle — the analogue of AVMC's domain.RunReport.
type CycleReport struct {
	SubscriptionID    int64     `json:"subscription_id"`
	SubscriptionTitle string    `json:"subscription_title"`
	StartedAt         time.Time `json:"started_at"`
	FinishedAt        time.Time `json:"finished_at"`

	Discovered int `json:"discovered"`

	Videos []VideoResult `json:"videos"`

	RiskControlTripped bool `json:"risk_control_tripped"`
	Cancelled          bool `json:"cancelled"`

	Summary Summary `json:"summary"`
}

// Summary is computed by Finalize, never set directly by callers.
type Summary struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
	Invalid   int `json:"invalid"`
	Cancelled int `json:"cancelled"`
}

// Finalize normalizes timestamps to UTC and (re)computes Summary from
// Videos, the same responsibility AVMC's RunReport.Finalize carries.
func (r *CycleReport) Finalize() {
	r.StartedAt = r.StartedAt.UTC()
	r.FinishedAt = r.FinishedAt.UTC()

	var s Summary
	for _, v := range r.Videos {
		switch v.Status {
		case StatusProcessed:
			s.Processed++
		case StatusSkipped:
			s.Skipped++
		case StatusFailed:
			s.Failed++
		case StatusInvalid:
			s.Invalid++
		case StatusCancelled:
			s.Cancelled++
		}
	}
	r.Summary = s
}

// NullObserver implements Observer with no-ops; used wherever a caller
// doesn't need progress reporting (unit tests, one-shot scripts).
type NullObserver struct{}

func (NullObserver) OnCycleStart(int64, string)             {}
func (NullObserver) OnPhaseDone(string, map[string]any, time.Duration) {}
func (NullObserver) OnTaskDone(TaskResult)                   {}
func (NullObserver) OnCycleDone(CycleReport)                 {}

var _ Observer = NullObserver{}

// videoStatusFor derives the report-facing Status for a domain.Video once
// its materialization tasks have all run.
func videoStatusFor(v domain.Video, cancelled bool) Status {
	if cancelled {
		return StatusCancelled
	}
	if !v.Valid {
		return StatusInvalid
	}
	return StatusProcessed
}

// VideoStatusFor is the exported form of videoStatusFor, used by cycle
// and materialize to keep the classification centralized.
func VideoStatusFor(v domain.Video, cancelled bool) Status {
	return videoStatusFor(v, cancelled)
}
