// Package cycle drives one subscription through the three stages spec.md
// §5 pins into a strict order — discovery completes before enrichment
// touches the rows it just inserted, and a video's enrichment completes
// before its own materialization starts — while letting different
// videos' materialization overlap freely.
//
// Grounded on AVMC's internal/app/run.Run: one function that walks
// fetch -> parse -> persist for a batch of items and folds the outcomes
// into a single report struct. This package generalizes that into three
// stages instead of one, and swaps AVMC's flat worker pool for the
// Concurrency Governor's per-tier gates.
package cycle

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bilisync/bilisync/internal/bilierr"
	"github.com/bilisync/bilisync/internal/client"
	"github.com/bilisync/bilisync/internal/config"
	"github.com/bilisync/bilisync/internal/domain"
	"github.com/bilisync/bilisync/internal/downloader"
	"github.com/bilisync/bilisync/internal/enrich"
	"github.com/bilisync/bilisync/internal/governor"
	"github.com/bilisync/bilisync/internal/materialize"
	"github.com/bilisync/bilisync/internal/mux"
	"github.com/bilisync/bilisync/internal/observer"
	"github.com/bilisync/bilisync/internal/repository"
	"github.com/bilisync/bilisync/internal/riskcontrol"
	"github.com/bilisync/bilisync/internal/source"
)

// Deps bundles the collaborators one cycle needs. Client should already
// be wrapped with governor.GateClient by whoever builds Deps (cmd/bilisync's
// deps factory, which internal/scheduler calls once per cycle),
// the same way Downloader/HTTPClient are expected to route through
// governor.GatedTransport — this package only owns the per-subscription
// and per-video tiers, not the global one.
type Deps struct {
	Repo       *repository.Repository
	Client     client.Client
	Governor   *governor.Governor
	Downloader *downloader.Downloader
	Muxer      *mux.Muxer
	HTTPClient *http.Client
	Observer   observer.Observer
	Cfg        config.Snapshot
}

// Run executes one full cycle for sub: discovery, then enrichment of
// every video still lacking page details, then materialization of every
// video with an outstanding field. Every failure, a failing repository
// call included, is reported through the Observer's phase fields and the
// returned CycleReport rather than propagated; the returned error is
// always nil, so a caller (the Task Manager) never needs its own error
// classification for a single subscription's run.
func Run(ctx context.Context, deps Deps, sub domain.Subscription) (observer.CycleReport, error) {
	report := observer.CycleReport{
		SubscriptionID:    sub.ID,
		SubscriptionTitle: sub.Title,
		StartedAt:         time.Now(),
	}
	deps.Observer.OnCycleStart(sub.ID, sub.Title)

	breaker := riskcontrol.New(ctx, time.Duration(deps.Cfg.RiskControlCooldownSeconds)*time.Second)

	discovered := runDiscovery(ctx, deps, breaker, sub)
	report.Discovered = discovered

	runEnrichment(ctx, deps, breaker, sub)

	runMaterialization(ctx, deps, breaker, sub, &report)

	report.RiskControlTripped = breaker.Tripped()
	report.Cancelled = ctx.Err() != nil
	report.FinishedAt = time.Now()
	report.Finalize()
	deps.Observer.OnCycleDone(report)
	return report, nil
}

func tripOnRiskControl(breaker *riskcontrol.Breaker, err error) {
	var rc *bilierr.RiskControl
	if errors.As(err, &rc) {
		breaker.Trip()
	}
}

// runDiscovery fetches sub's Source, persists newly discovered videos,
// and advances the watermark. A discovery failure doesn't abort the
// cycle: enrichment and materialization still work through whatever
// backlog already exists, matching spec.md §5's "each stage's failure is
// local to its own scope" posture.
func runDiscovery(ctx context.Context, deps Deps, breaker *riskcontrol.Breaker, sub domain.Subscription) int {
	start := time.Now()
	if err := breaker.Guard(); err != nil {
		deps.Observer.OnPhaseDone("discovery", map[string]any{"error": err.Error()}, time.Since(start))
		return 0
	}

	src, err := source.For(sub)
	if err != nil {
		deps.Observer.OnPhaseDone("discovery", map[string]any{"error": err.Error()}, time.Since(start))
		return 0
	}

	result, err := src.Discover(ctx, deps.Client, sub)
	if err != nil {
		tripOnRiskControl(breaker, err)
		deps.Observer.OnPhaseDone("discovery", map[string]any{"error": err.Error()}, time.Since(start))
		return 0
	}

	if len(result.Videos) > 0 {
		if err := deps.Repo.UpsertVideos(sub, result.Videos); err != nil {
			deps.Observer.OnPhaseDone("discovery", map[string]any{"error": err.Error()}, time.Since(start))
			return 0
		}
	}
	if result.NewWatermark.After(sub.LatestRowAt) {
		_ = deps.Repo.AdvanceWatermark(sub, result.NewWatermark)
	}

	deps.Observer.OnPhaseDone("discovery", map[string]any{"discovered": len(result.Videos)}, time.Since(start))
	return len(result.Videos)
}

// runEnrichment enriches every video deps.Repo.SelectUnenriched still lists,
// bounded by the same videos-per-subscription concurrency the governor
// applies to materialization (spec.md §4.7's VideosPerSub tier is a
// property of the subscription, not of which stage is running).
func runEnrichment(ctx context.Context, deps Deps, breaker *riskcontrol.Breaker, sub domain.Subscription) {
	start := time.Now()
	pending, err := deps.Repo.SelectUnenriched(sub)
	if err != nil || len(pending) == 0 {
		fields := map[string]any{"enriched": 0}
		if err != nil {
			fields["error"] = err.Error()
		}
		deps.Observer.OnPhaseDone("enrichment", fields, time.Since(start))
		return
	}

	var ok, failed, invalidated int64
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(int(deps.Cfg.Concurrency.VideosPerSub))
	for _, v := range pending {
		v := v
		g.Go(func() error {
			if err := breaker.Guard(); err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			enriched, err := enrich.One(gctx, breaker, deps.Client, deps.Repo, deps.Cfg, sub.Filter, v)
			mu.Lock()
			switch {
			case err != nil:
				failed++
			case !enriched.Valid:
				invalidated++
			default:
				ok++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	deps.Observer.OnPhaseDone("enrichment", map[string]any{
		"enriched":    ok,
		"failed":      failed,
		"invalidated": invalidated,
	}, time.Since(start))
}

// runMaterialization runs Materialization for every video deps.Repo.SelectPending
// still lists, one goroutine per video acquired against a fresh
// per-cycle SubscriptionGate, and folds each video's task results into
// report.Videos.
func runMaterialization(ctx context.Context, deps Deps, breaker *riskcontrol.Breaker, sub domain.Subscription, report *observer.CycleReport) []domain.Video {
	start := time.Now()
	pending, err := deps.Repo.SelectPending(sub)
	if err != nil {
		deps.Observer.OnPhaseDone("materialization", map[string]any{"error": err.Error()}, time.Since(start))
		return nil
	}

	matDeps := materialize.Deps{
		Repo:       deps.Repo,
		Client:     deps.Client,
		Downloader: deps.Downloader,
		Muxer:      deps.Muxer,
		HTTPClient: deps.HTTPClient,
		Breaker:    breaker,
		Cfg:        deps.Cfg,
		Observer:   deps.Observer,
	}

	subGate := deps.Governor.NewSubscriptionGate()
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out []domain.Video
	)
	for _, v := range pending {
		v := v
		vg, err := subGate.AcquireVideo(ctx)
		if err != nil {
			// Breaker tripped or the cycle's context was cancelled: the
			// remaining backlog simply waits for the next cycle.
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer vg.Release()

			tasks, verr := materialize.Video(ctx, matDeps, vg, sub, v)
			final := v
			if reloaded, gerr := deps.Repo.GetVideo(v.ID); gerr == nil {
				final = reloaded
			}
			vr := observer.VideoResult{
				VideoID: final.ID,
				BVID:    final.BVID,
				Title:   final.Title,
				Status:  classifyVideo(final, breaker.Tripped(), tasks),
				Tasks:   tasks,
			}
			if verr != nil {
				vr.ErrorCode = bilierr.ErrorCode(verr)
				vr.ErrorMsg = verr.Error()
			}

			mu.Lock()
			report.Videos = append(report.Videos, vr)
			out = append(out, final)
			mu.Unlock()
		}()
	}
	wg.Wait()

	deps.Observer.OnPhaseDone("materialization", map[string]any{"videos": len(out)}, time.Since(start))
	return out
}

// classifyVideo derives a VideoResult's report-facing Status from the
// video's final validity plus its task outcomes: invalid beats
// cancelled beats failed beats processed, matching the priority spec.md
// §7 gives the UI status column.
func classifyVideo(v domain.Video, breakerTripped bool, tasks []observer.TaskResult) observer.Status {
	base := observer.VideoStatusFor(v, false)
	if base == observer.StatusInvalid {
		return base
	}
	anyCancelled := false
	anyFailed := false
	for _, t := range tasks {
		if t.Succeeded {
			continue
		}
		if t.ErrorCode == "cancelled" {
			anyCancelled = true
			continue
		}
		anyFailed = true
	}
	switch {
	case anyCancelled && breakerTripped:
		return observer.StatusCancelled
	case anyFailed:
		return observer.StatusFailed
	default:
		return observer.StatusProcessed
	}
}
