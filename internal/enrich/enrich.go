// Package enrich implements the Enrichment Stage of spec.md §4.5: for
// every discovered video that still lacks page details, fetch the full
// detail + stream-manifest metadata, apply the subscription's filter
// rule, and flag invalid videos so Materialization never touches them.
//
// Grounded on AVMC's internal/provider.FetchParse + internal/app/run's
// scrape() helper: "call the abstract collaborator, classify what comes
// back into a small set of typed outcomes, let the caller decide what
// to persist". The type of collaborator differs (client.Client vs.
// provider.Provider) but the shape — one fetch, one classification
// switch, one persistence call — is the same.
package enrich

import (
	"context"
	"errors"

	"github.com/bilisync/bilisync/internal/bilierr"
	"github.com/bilisync/bilisync/internal/client"
	"github.com/bilisync/bilisync/internal/config"
	"github.com/bilisync/bilisync/internal/domain"
	"github.com/bilisync/bilisync/internal/repository"
	"github.com/bilisync/bilisync/internal/riskcontrol"
)

// One enriches a single video: fetches its detail and per-page stream
// manifests, applies invalidation and filter rules, and persists the
// resulting Page rows. Returns the (possibly now-invalid) video; a
// non-nil error means the attempt itself failed (network, risk control,
// cancellation) and the video remains unenriched for the next cycle —
// spec.md §4.5 gives Enrichment no status-word field of its own, so
// SelectUnenriched's "no page rows yet" check is the only retry signal
// it needs.
func One(ctx context.Context, breaker *riskcontrol.Breaker, cl client.Client, repo *repository.Repository, cfg config.Snapshot, rule domain.FilterRule, video domain.Video) (domain.Video, error) {
	if err := breaker.Guard(); err != nil {
		return video, err
	}

	detail, err := cl.VideoDetail(ctx, video.BVID)
	if err != nil {
		if isInvalidatingError(err) && invalidateVideo(repo, video.ID) {
			video.Valid = false
			return video, nil
		}
		tripOnRiskControl(breaker, err)
		return video, err
	}

	if detail.RedirectTo != "" {
		if err := repo.SetValid(video.ID, false); err != nil {
			return video, err
		}
		video.Valid = false
		return video, nil
	}

	if rule.MinDurationSeconds > 0 && totalDuration(detail.Pages) < rule.MinDurationSeconds {
		if err := repo.SetValid(video.ID, false); err != nil {
			return video, err
		}
		video.Valid = false
		return video, nil
	}

	video.Category = domain.CategorySinglePage
	if len(detail.Pages) > 1 {
		video.Category = domain.CategoryMultiPage
	}
	video.CoverURL = detail.CoverURL
	video.Tags = detail.Tags
	if err := repo.SetVideoMeta(video.ID, video.CoverURL, video.Tags); err != nil {
		return video, err
	}

	pages := make([]domain.Page, 0, len(detail.Pages))
	for _, pd := range detail.Pages {
		if err := breaker.Guard(); err != nil {
			return video, err
		}
		manifest, merr := cl.StreamManifest(ctx, video.BVID, pd.CID)
		if merr != nil {
			tripOnRiskControl(breaker, merr)
			return video, merr
		}
		pages = append(pages, buildPage(pd, manifest, cfg.Quality))
	}

	if err := repo.UpsertPages(video.ID, pages); err != nil {
		return video, err
	}
	return video, nil
}

// isInvalidatingError reports whether err is one of the two kinds
// spec.md §4.5 says mark a video invalid without tripping the breaker:
// UpstreamNotFound (HTTP 404 / application code -404) or
// UpstreamRedirect. Anti-abuse code -352 is deliberately NOT included
// here — it surfaces as *bilierr.RiskControl and must trip the breaker
// instead (handled by tripOnRiskControl, never by invalidation).
func isInvalidatingError(err error) bool {
	var nf *bilierr.UpstreamNotFound
	var rd *bilierr.UpstreamRedirect
	return errors.As(err, &nf) || errors.As(err, &rd)
}

// invalidateVideo is a small helper so One's control flow reads as one
// expression; it is only reached once isInvalidatingError has accepted
// the fetch error, and SetValid's error is swallowed so the bookkeeping
// write never replaces that classification.
func invalidateVideo(repo *repository.Repository, videoID int64) bool {
	_ = repo.SetValid(videoID, false)
	return true
}

func tripOnRiskControl(breaker *riskcontrol.Breaker, err error) {
	var rc *bilierr.RiskControl
	if errors.As(err, &rc) {
		breaker.Trip()
	}
}

func totalDuration(pages []client.PageDetail) int {
	total := 0
	for _, p := range pages {
		total += p.DurationSeconds
	}
	return total
}

func buildPage(pd client.PageDetail, manifest client.StreamManifest, pref config.QualityPreference) domain.Page {
	page := domain.Page{
		Index:           pd.Index,
		Title:           pd.Title,
		CID:             pd.CID,
		DurationSeconds: pd.DurationSeconds,
		ThumbnailURL:    pd.ThumbnailURL,
	}

	if manifest.Mixed {
		track, _ := selectTrack(manifest.MixedTracks, pref)
		page.VideoStreamURL = track.URL
		page.VideoMirrorURLs = track.MirrorURLs
		page.MuxRequired = false
		return page
	}

	vt, _ := selectTrack(manifest.VideoTracks, pref)
	at, _ := selectTrack(manifest.AudioTracks, pref)
	page.VideoStreamURL = vt.URL
	page.VideoMirrorURLs = vt.MirrorURLs
	page.AudioStreamURL = at.URL
	page.AudioMirrorURLs = at.MirrorURLs
	page.MuxRequired = true
	return page
}
