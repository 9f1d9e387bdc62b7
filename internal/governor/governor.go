// Package governor implements the Concurrency Governor of spec.md §4.7:
// a fixed tree of semaphores bounding parallelism at four tiers (global
// HTTP in-flight, videos per subscription, pages per video, chunks per
// file). Acquisition proceeds strictly outer-to-inner to preclude
// deadlock, exactly as spec.md §4.7 requires.
//
// AVMC's own run.go uses a single flat worker pool (one jobs channel,
// N goroutines) — sufficient for its one-tier "items in parallel"
// workload. This module generalizes that exact producer/consumer shape
// into four nested tiers using golang.org/x/sync/semaphore's weighted
// semaphore, since a plain channel-based pool can't compose across tiers
// without either over- or under-counting global in-flight requests.
package governor

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Limits holds the per-tier caps; cmd/bilisync converts them from the
// config snapshot's Concurrency field (config.ConcurrencyLimits).
type Limits struct {
	GlobalHTTP        int64
	VideosPerSub      int64
	PagesPerVideo     int64
	ChunksPerFile     int64
}

// DefaultLimits returns spec.md §4.7's recommended defaults.
func DefaultLimits() Limits {
	return Limits{
		GlobalHTTP:    32,
		VideosPerSub:  4,
		PagesPerVideo: 2,
		ChunksPerFile: 4,
	}
}

// Governor owns the global tier; per-subscription and per-video tiers are
// created on demand via NewSubscriptionGate/AcquireVideo, since their cardinality is
// unbounded (one per active subscription/video) while the global tier is
// a true process-wide singleton.
type Governor struct {
	limits Limits
	global *semaphore.Weighted
}

// New constructs a Governor with the global HTTP tier sized per limits.
func New(limits Limits) *Governor {
	return &Governor{
		limits: limits,
		global: semaphore.NewWeighted(limits.GlobalHTTP),
	}
}

// AcquireGlobal blocks (respecting ctx) until a global HTTP permit is
// free. Every outbound HTTP call — listing, detail, manifest, chunk GET —
// must acquire exactly one global permit for its duration.
func (g *Governor) AcquireGlobal(ctx context.Context) error {
	return g.global.Acquire(ctx, 1)
}

// ReleaseGlobal releases one global HTTP permit.
func (g *Governor) ReleaseGlobal() {
	g.global.Release(1)
}

// SubscriptionGate bounds videos-in-flight for one subscription's cycle.
type SubscriptionGate struct {
	g   *Governor
	sem *semaphore.Weighted
}

// NewSubscriptionGate creates a fresh per-cycle videos-in-flight gate.
// Callers create exactly one per cycle (the tier's cardinality is
// "one per active subscription cycle", matching spec.md §4.7's table).
func (g *Governor) NewSubscriptionGate() *SubscriptionGate {
	return &SubscriptionGate{g: g, sem: semaphore.NewWeighted(g.limits.VideosPerSub)}
}

// AcquireVideo blocks until a video-in-flight permit is free for this
// subscription. Callers must acquire this BEFORE any per-page gate or
// global permit for that video's work, per the outer-to-inner ordering
// rule.
func (s *SubscriptionGate) AcquireVideo(ctx context.Context) (*VideoGate, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return &VideoGate{parent: s, sem: semaphore.NewWeighted(s.g.limits.PagesPerVideo)}, nil
}

// VideoGate bounds pages-in-flight for one video, and releases its
// parent's video-in-flight permit when Release is called.
type VideoGate struct {
	parent   *SubscriptionGate
	sem      *semaphore.Weighted
	released bool
}

// AcquirePage blocks until a page-in-flight permit is free for this
// video.
func (v *VideoGate) AcquirePage(ctx context.Context) (*PageGate, error) {
	if err := v.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return &PageGate{video: v}, nil
}

// Release returns this video's permit to its owning subscription gate.
// Safe to call multiple times; only the first call has effect, so a
// deferred Release composes safely with an early-return acquire failure.
func (v *VideoGate) Release() {
	if v.released {
		return
	}
	v.released = true
	v.parent.sem.Release(1)
}

// PageGate represents one acquired page-in-flight permit. NewChunkLimiter
// creates the innermost per-file chunk tier for this page's media
// download.
type PageGate struct {
	video    *VideoGate
	released bool
}

// NewChunkLimiter returns a weighted semaphore sized for this page's
// chunked download (spec.md §4.7's innermost tier: chunks in flight per
// file). It is independent of the page gate's own permit, since a single
// page download fans out into many chunk GETs each of which also needs a
// global HTTP permit.
func (p *PageGate) NewChunkLimiter() *semaphore.Weighted {
	return semaphore.NewWeighted(p.video.parent.g.limits.ChunksPerFile)
}

// Release returns this page's permit to its owning video gate.
func (p *PageGate) Release() {
	if p.released {
		return
	}
	p.released = true
	p.video.sem.Release(1)
}
