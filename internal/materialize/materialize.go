package materialize

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/bilisync/bilisync/internal/bilierr"
	"github.com/bilisync/bilisync/internal/client"
	"github.com/bilisync/bilisync/internal/config"
	"github.com/bilisync/bilisync/internal/domain"
	"github.com/bilisync/bilisync/internal/downloader"
	"github.com/bilisync/bilisync/internal/fsx"
	"github.com/bilisync/bilisync/internal/governor"
	"github.com/bilisync/bilisync/internal/imgx"
	"github.com/bilisync/bilisync/internal/mux"
	"github.com/bilisync/bilisync/internal/nfo"
	"github.com/bilisync/bilisync/internal/observer"
	"github.com/bilisync/bilisync/internal/repository"
	"github.com/bilisync/bilisync/internal/riskcontrol"
	"github.com/bilisync/bilisync/internal/statuscode"
)

// bilibiliReferer and bilibiliUserAgent are set on every direct CDN fetch
// this stage issues (poster, thumbnail, avatar, media, subtitle bodies).
// client.Client's own listing/detail/manifest calls carry whatever headers
// its out-of-scope implementation needs; this stage only owns the raw
// byte-fetching half of the pipeline.
const (
	bilibiliReferer   = "https://www.bilibili.com/"
	bilibiliUserAgent = "bilisync/1.0"
)

func mediaHeaders() map[string]string {
	return map[string]string{"Referer": bilibiliReferer, "User-Agent": bilibiliUserAgent}
}

// Deps bundles every collaborator a materialization task can call. One
// Deps is built per cycle by the caller (internal/cycle)
// and passed down unchanged to every video and page it processes.
type Deps struct {
	Repo       *repository.Repository
	Client     client.Client
	Downloader *downloader.Downloader
	Muxer      *mux.Muxer
	HTTPClient *http.Client
	Breaker    *riskcontrol.Breaker
	Cfg        config.Snapshot
	Observer   observer.Observer
}

func smallDeadline(cfg config.Snapshot) time.Duration {
	return time.Duration(cfg.AttemptDeadlineSmallSeconds) * time.Second
}

func chunkDeadline(cfg config.Snapshot) time.Duration {
	return time.Duration(cfg.AttemptDeadlineChunkSeconds) * time.Second
}

func tripOnRiskControl(breaker *riskcontrol.Breaker, err error) {
	var rc *bilierr.RiskControl
	if errors.As(err, &rc) {
		breaker.Trip()
	}
}

func writeAtomicWrapped(dest string, data []byte) error {
	if err := fsx.WriteFileAtomic(filepath.Dir(dest), filepath.Base(dest), data); err != nil {
		return &bilierr.FilesystemFailed{Path: dest, Err: err}
	}
	return nil
}

// downloadTo fetches url into destPath through the Chunked Downloader. A
// weight-1 chunk limiter is enough for these small, single-file transfers
// (poster, thumbnail, publisher avatar) — none of them warrant the page
// gate's own per-file chunk tier, which is reserved for actual media.
func downloadTo(ctx context.Context, deps Deps, url, destPath string) error {
	return deps.Downloader.Download(ctx, deps.Breaker, downloader.Request{
		URL:             url,
		Headers:         mediaHeaders(),
		DestDir:         filepath.Dir(destPath),
		DestName:        filepath.Base(destPath),
		ChunkSizeBytes:  deps.Cfg.ChunkSizeBytes,
		MaxChunkRetries: deps.Cfg.ChunkRetries,
		AttemptDeadline: smallDeadline(deps.Cfg),
		ChunkLimiter:    semaphore.NewWeighted(1),
	})
}

func fetchSmall(ctx context.Context, deps Deps, url string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, smallDeadline(deps.Cfg))
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("materialize: build subtitle request: %w", err)
	}
	httpReq.Header.Set("Referer", bilibiliReferer)
	httpReq.Header.Set("User-Agent", bilibiliUserAgent)

	resp, err := deps.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, &bilierr.NetworkTransient{Op: "subtitle", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if rcErr := riskcontrol.ClassifyResponse("subtitle", resp, body); rcErr != nil {
			return nil, rcErr
		}
		return nil, &bilierr.NetworkPermanent{Op: "subtitle", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	return io.ReadAll(resp.Body)
}

// --- video-level task bodies -------------------------------------------

func posterWork(ctx context.Context, deps Deps, sub domain.Subscription, v domain.Video) error {
	if v.Category != domain.CategoryMultiPage {
		return nil
	}
	if v.CoverURL == "" {
		return &bilierr.FilesystemFailed{Path: PosterPath(sub, v), Err: fmt.Errorf("video has no cover url yet")}
	}
	posterPath := PosterPath(sub, v)
	if err := downloadTo(ctx, deps, v.CoverURL, posterPath); err != nil {
		return err
	}
	posterBytes, err := os.ReadFile(posterPath)
	if err != nil {
		return &bilierr.FilesystemFailed{Path: posterPath, Err: err}
	}
	fanart, err := imgx.FanartFromPosterJPEG(posterBytes)
	if err != nil {
		return err
	}
	return writeAtomicWrapped(FanartPath(sub, v), fanart)
}

func seriesNFOWork(sub domain.Subscription, v domain.Video) error {
	if v.Category != domain.CategoryMultiPage {
		return nil
	}
	data, err := nfo.EncodeTVShow(v, v.Tags)
	if err != nil {
		return err
	}
	return writeAtomicWrapped(TVShowNFOPath(sub, v), data)
}

// publisherAvatarWork and publisherNFOWork target a path shared across
// every subscription that references the same publisher (spec.md §6's
// {upper_root}/{publisher_id}/ layout). Two videos from different
// subscriptions racing to write it is safe: the source URL/content is the
// same publisher identity either way, and fsx's atomic rename means a
// concurrent reader never observes a half-written file.
func publisherAvatarWork(ctx context.Context, deps Deps, sub domain.Subscription, v domain.Video) error {
	if v.Publisher.AvatarURL == "" {
		return nil
	}
	return downloadTo(ctx, deps, v.Publisher.AvatarURL, PublisherFolderJPGPath(sub, v))
}

func publisherNFOWork(sub domain.Subscription, v domain.Video) error {
	data, err := nfo.EncodePerson(v.Publisher)
	if err != nil {
		return err
	}
	return writeAtomicWrapped(PublisherNFOPath(sub, v), data)
}

// --- page-level task bodies ----------------------------------------------

func thumbnailWork(ctx context.Context, deps Deps, sub domain.Subscription, v domain.Video, p domain.Page) error {
	if v.Category != domain.CategoryMultiPage {
		return nil
	}
	if p.ThumbnailURL == "" {
		return nil
	}
	return downloadTo(ctx, deps, p.ThumbnailURL, ThumbPath(sub, v, p))
}

func mediaWork(ctx context.Context, deps Deps, pg *governor.PageGate, sub domain.Subscription, v domain.Video, p domain.Page) error {
	dest := MediaPath(sub, v, p)
	limiter := pg.NewChunkLimiter()

	if !p.MuxRequired {
		return deps.Downloader.Download(ctx, deps.Breaker, downloader.Request{
			URL:             p.VideoStreamURL,
			MirrorURLs:      p.VideoMirrorURLs,
			Headers:         mediaHeaders(),
			DestDir:         filepath.Dir(dest),
			DestName:        filepath.Base(dest),
			ChunkSizeBytes:  deps.Cfg.ChunkSizeBytes,
			MaxChunkRetries: deps.Cfg.ChunkRetries,
			AttemptDeadline: chunkDeadline(deps.Cfg),
			ChunkLimiter:    limiter,
		})
	}

	videoPart := dest + ".video.part"
	audioPart := dest + ".audio.part"
	defer os.Remove(videoPart)
	defer os.Remove(audioPart)

	if err := deps.Downloader.Download(ctx, deps.Breaker, downloader.Request{
		URL:             p.VideoStreamURL,
		MirrorURLs:      p.VideoMirrorURLs,
		Headers:         mediaHeaders(),
		DestDir:         filepath.Dir(videoPart),
		DestName:        filepath.Base(videoPart),
		ChunkSizeBytes:  deps.Cfg.ChunkSizeBytes,
		MaxChunkRetries: deps.Cfg.ChunkRetries,
		AttemptDeadline: chunkDeadline(deps.Cfg),
		ChunkLimiter:    limiter,
	}); err != nil {
		return err
	}
	if err := deps.Downloader.Download(ctx, deps.Breaker, downloader.Request{
		URL:             p.AudioStreamURL,
		MirrorURLs:      p.AudioMirrorURLs,
		Headers:         mediaHeaders(),
		DestDir:         filepath.Dir(audioPart),
		DestName:        filepath.Base(audioPart),
		ChunkSizeBytes:  deps.Cfg.ChunkSizeBytes,
		MaxChunkRetries: deps.Cfg.ChunkRetries,
		AttemptDeadline: chunkDeadline(deps.Cfg),
		ChunkLimiter:    limiter,
	}); err != nil {
		return err
	}
	if err := deps.Muxer.Mux(ctx, videoPart, audioPart, dest); err != nil {
		return err
	}
	return nil
}

func episodeNFOWork(sub domain.Subscription, v domain.Video, p domain.Page) error {
	var data []byte
	var err error
	if v.Category == domain.CategoryMultiPage {
		data, err = nfo.EncodeEpisode(v, p)
	} else {
		data, err = nfo.EncodeMovie(v, p.DurationSeconds, v.Tags)
	}
	if err != nil {
		return err
	}
	return writeAtomicWrapped(NFOPath(sub, v, p), data)
}

func danmakuWork(ctx context.Context, deps Deps, sub domain.Subscription, v domain.Video, p domain.Page) error {
	stream, err := deps.Client.Danmaku(ctx, p.CID)
	if err != nil {
		return err
	}
	ass, err := EncodeDanmakuASS(stream.XML)
	if err != nil {
		return err
	}
	return writeAtomicWrapped(DanmakuPath(sub, v, p), ass)
}

func subtitlesWork(ctx context.Context, deps Deps, sub domain.Subscription, v domain.Video, p domain.Page) error {
	if v.Category != domain.CategoryMultiPage {
		return nil
	}
	tracks, err := deps.Client.Subtitles(ctx, v.BVID, p.CID)
	if err != nil {
		return err
	}
	for _, t := range tracks {
		body, err := fetchSmall(ctx, deps, t.URL)
		if err != nil {
			return err
		}
		srt, err := EncodeSubtitleSRT(body)
		if err != nil {
			return err
		}
		if err := writeAtomicWrapped(SubtitlePath(sub, v, p, t.Lang), srt); err != nil {
			return err
		}
	}
	return nil
}

// --- status-gated attempt wrappers ---------------------------------------

// attemptVideoField runs work only if field is still eligible on status,
// guards it against the circuit breaker, and — unless work was skipped or
// cancelled — advances the persisted status word. It never returns an
// error: every outcome, including "task not attempted", is expressed as
// the returned *observer.TaskResult (nil meaning "not attempted, not
// reportable").
func attemptVideoField(deps Deps, videoID int64, status statuscode.Word, field int, work func() error) (statuscode.Word, *observer.TaskResult) {
	if !statuscode.ShouldRun(status, field) {
		return status, nil
	}
	name := statuscode.VideoFieldNames[field]

	if err := deps.Breaker.Guard(); err != nil {
		return status, &observer.TaskResult{VideoID: videoID, Field: name, Succeeded: false, ErrorCode: bilierr.ErrorCode(err), ErrorMsg: err.Error()}
	}

	start := time.Now()
	err := work()
	dur := time.Since(start)

	var cancelled *bilierr.Cancelled
	if errors.As(err, &cancelled) {
		return status, &observer.TaskResult{VideoID: videoID, Field: name, Succeeded: false, ErrorCode: bilierr.ErrorCode(err), ErrorMsg: err.Error(), Dur: dur}
	}

	tripOnRiskControl(deps.Breaker, err)
	succeeded := err == nil
	next := statuscode.Advance(status, field, succeeded)
	_ = deps.Repo.UpdateStatus(videoID, field, succeeded)

	tr := observer.TaskResult{VideoID: videoID, Field: name, Succeeded: succeeded, Dur: dur}
	if err != nil {
		tr.ErrorCode = bilierr.ErrorCode(err)
		tr.ErrorMsg = err.Error()
	}
	return next, &tr
}

// attemptPageField is attemptVideoField's page-level twin.
func attemptPageField(deps Deps, videoID, pageID int64, status statuscode.Word, field int, work func() error) (statuscode.Word, *observer.TaskResult) {
	if !statuscode.ShouldRun(status, field) {
		return status, nil
	}
	name := statuscode.PageFieldNames[field]

	if err := deps.Breaker.Guard(); err != nil {
		return status, &observer.TaskResult{VideoID: videoID, PageID: pageID, Field: name, Succeeded: false, ErrorCode: bilierr.ErrorCode(err), ErrorMsg: err.Error()}
	}

	start := time.Now()
	err := work()
	dur := time.Since(start)

	var cancelled *bilierr.Cancelled
	if errors.As(err, &cancelled) {
		return status, &observer.TaskResult{VideoID: videoID, PageID: pageID, Field: name, Succeeded: false, ErrorCode: bilierr.ErrorCode(err), ErrorMsg: err.Error(), Dur: dur}
	}

	tripOnRiskControl(deps.Breaker, err)
	succeeded := err == nil
	next := statuscode.Advance(status, field, succeeded)
	_ = deps.Repo.UpdatePageStatus(pageID, field, succeeded)

	tr := observer.TaskResult{VideoID: videoID, PageID: pageID, Field: name, Succeeded: succeeded, Dur: dur}
	if err != nil {
		tr.ErrorCode = bilierr.ErrorCode(err)
		tr.ErrorMsg = err.Error()
	}
	return next, &tr
}

// Page executes every eligible field task for one page. The five fields
// are bit-independent (statuscode.ShouldRun never depends on a sibling
// field's outcome), so they run concurrently against the same status
// snapshot rather than being serialized.
func Page(ctx context.Context, deps Deps, pg *governor.PageGate, sub domain.Subscription, v domain.Video, p domain.Page) []observer.TaskResult {
	fields := []struct {
		field int
		work  func() error
	}{
		{statuscode.PageThumbnail, func() error { return thumbnailWork(ctx, deps, sub, v, p) }},
		{statuscode.PageMedia, func() error { return mediaWork(ctx, deps, pg, sub, v, p) }},
		{statuscode.PageEpisodeNFO, func() error { return episodeNFOWork(sub, v, p) }},
		{statuscode.PageDanmaku, func() error { return danmakuWork(ctx, deps, sub, v, p) }},
		{statuscode.PageSubtitles, func() error { return subtitlesWork(ctx, deps, sub, v, p) }},
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make([]observer.TaskResult, 0, len(fields))
	)
	for _, f := range fields {
		f := f
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, tr := attemptPageField(deps, v.ID, p.ID, p.Status, f.field, f.work)
			if tr == nil {
				return
			}
			deps.Observer.OnTaskDone(*tr)
			mu.Lock()
			results = append(results, *tr)
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

// Video executes every eligible video-level field task in sequence (they
// share PublisherDir/VideoRoot writes closely enough that running them
// concurrently would buy nothing), then fans its pages out concurrently
// under vg's page-in-flight tier, and finally rolls the pages_downloaded
// field up from their terminal state.
func Video(ctx context.Context, deps Deps, vg *governor.VideoGate, sub domain.Subscription, v domain.Video) ([]observer.TaskResult, error) {
	if !v.Valid {
		// Repository.SelectPending already excludes invalid videos; this
		// guard is a second line of defense so a caller feeding Video
		// straight from GetVideo can never materialize a 404'd video's
		// artifacts (spec.md §4.5).
		return nil, nil
	}

	var results []observer.TaskResult
	status := v.Status

	runVideoField := func(field int, work func() error) {
		next, tr := attemptVideoField(deps, v.ID, status, field, work)
		status = next
		if tr != nil {
			deps.Observer.OnTaskDone(*tr)
			results = append(results, *tr)
		}
	}

	runVideoField(statuscode.VideoPoster, func() error { return posterWork(ctx, deps, sub, v) })
	runVideoField(statuscode.VideoSeriesNFO, func() error { return seriesNFOWork(sub, v) })
	runVideoField(statuscode.VideoPublisherAvatar, func() error { return publisherAvatarWork(ctx, deps, sub, v) })
	runVideoField(statuscode.VideoPublisherNFO, func() error { return publisherNFOWork(sub, v) })

	pages, err := deps.Repo.ListPages(v.ID)
	if err != nil {
		return results, err
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, p := range pages {
		p := p
		pg, err := vg.AcquirePage(ctx)
		if err != nil {
			// Breaker tripped or ctx cancelled: remaining pages are simply
			// not attempted this cycle, same as any other Guard failure.
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer pg.Release()
			pageResults := Page(ctx, deps, pg, sub, v, p)
			mu.Lock()
			results = append(results, pageResults...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if err := deps.Repo.RefreshPagesDownloaded(v.ID); err != nil {
		return results, err
	}
	return results, nil
}
