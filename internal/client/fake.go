package client

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/bilisync/bilisync/internal/bilierr"
)

// Fake is a deterministic in-memory Client, grounded in AVMC's own test
// posture: small hand-written fakes behind the real interface rather than
// a mocking library (internal/provider's javdb/javbus tests construct
// httptest servers or golden fixtures, never gomock). Fake lets
// internal/source, internal/enrich, internal/materialize, and
// internal/cycle tests exercise the full Client surface without a real
// bilibili endpoint.
//
// Listings are keyed by numeric id, Details by BVID, and the per-page
// maps as their field comments say. mu guards Errs, the only map a call
// mutates; the other maps are only read once a test has populated them,
// so Materialization's page fan-out can share one Fake across goroutines.
type Fake struct {
	mu sync.Mutex

	PageSize int // defaults to 20 when zero

	Favorites         map[int64][]ListingDescriptor
	Collections       map[int64][]ListingDescriptor
	SubmissionsLegacy map[int64][]ListingDescriptor
	SubmissionsCursor map[int64][]ListingDescriptor
	WatchLater        []ListingDescriptor

	Details        map[string]VideoDetail
	Manifests      map[string]StreamManifest // key: bvid + "#" + cid (decimal)
	DanmakuStreams map[int64]DanmakuStream
	SubtitleTracks map[string][]SubtitleTrack // key: bvid + "#" + cid

	WhoamiErr error

	// Errs injects a one-shot error for a given operation key (e.g.
	// "detail:BV1xx", "manifest:BV1xx#10"), consumed and cleared on
	// first match so a test can simulate exactly one failed attempt
	// before a subsequent retry succeeds (scenario 2 of spec.md §8).
	Errs map[string]error
}

// NewFake returns a Fake with every map initialized, ready for a test to
// populate.
func NewFake() *Fake {
	return &Fake{
		PageSize:          20,
		Favorites:         map[int64][]ListingDescriptor{},
		Collections:       map[int64][]ListingDescriptor{},
		SubmissionsLegacy: map[int64][]ListingDescriptor{},
		SubmissionsCursor: map[int64][]ListingDescriptor{},
		Details:           map[string]VideoDetail{},
		Manifests:         map[string]StreamManifest{},
		DanmakuStreams:    map[int64]DanmakuStream{},
		SubtitleTracks:    map[string][]SubtitleTrack{},
		Errs:              map[string]error{},
	}
}

func (f *Fake) takeErr(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.Errs[key]; ok {
		delete(f.Errs, key)
		return err
	}
	return nil
}

// Whoami satisfies Client.Whoami, returning WhoamiErr verbatim (nil by
// default, i.e. "credential still valid").
func (f *Fake) Whoami(ctx context.Context) error {
	return f.WhoamiErr
}

func pageSlice(items []ListingDescriptor, page, size int) ([]ListingDescriptor, bool) {
	start := (page - 1) * size
	if start >= len(items) {
		return nil, false
	}
	end := start + size
	if end > len(items) {
		end = len(items)
	}
	return items[start:end], end < len(items)
}

func (f *Fake) ListFavorites(ctx context.Context, mediaID int64, page int) ([]ListingDescriptor, bool, error) {
	if err := f.takeErr("list_favorites"); err != nil {
		return nil, false, err
	}
	items, hasMore := pageSlice(f.Favorites[mediaID], page, f.pageSize())
	return items, hasMore, nil
}

func (f *Fake) ListCollection(ctx context.Context, collectionID, mid int64, page int) ([]ListingDescriptor, bool, error) {
	if err := f.takeErr("list_collection"); err != nil {
		return nil, false, err
	}
	items, hasMore := pageSlice(f.Collections[collectionID], page, f.pageSize())
	return items, hasMore, nil
}

func (f *Fake) ListSubmissionsLegacy(ctx context.Context, mid int64, page int) ([]ListingDescriptor, bool, error) {
	if err := f.takeErr("list_submissions_legacy"); err != nil {
		return nil, false, err
	}
	items, hasMore := pageSlice(f.SubmissionsLegacy[mid], page, f.pageSize())
	return items, hasMore, nil
}

// ListSubmissionsCursor returns every item newer than cursor, newest
// first, in one page-sized batch; the caller (source.submissionsSource)
// re-invokes with the oldest returned PublishedAt as the next cursor
// until nothing new comes back.
func (f *Fake) ListSubmissionsCursor(ctx context.Context, mid int64, cursor time.Time) ([]ListingDescriptor, bool, error) {
	if err := f.takeErr("list_submissions_cursor"); err != nil {
		return nil, false, err
	}
	all := f.SubmissionsCursor[mid]
	var out []ListingDescriptor
	for _, d := range all {
		if d.PublishedAt.After(cursor) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PublishedAt.After(out[j].PublishedAt) })
	size := f.pageSize()
	hasMore := false
	if len(out) > size {
		out = out[:size]
		hasMore = true
	}
	return out, hasMore, nil
}

func (f *Fake) ListWatchLater(ctx context.Context) ([]ListingDescriptor, error) {
	if err := f.takeErr("list_watch_later"); err != nil {
		return nil, err
	}
	return f.WatchLater, nil
}

func (f *Fake) VideoDetail(ctx context.Context, bvid string) (VideoDetail, error) {
	if err := f.takeErr("detail:" + bvid); err != nil {
		return VideoDetail{}, err
	}
	d, ok := f.Details[bvid]
	if !ok {
		return VideoDetail{}, &bilierr.UpstreamNotFound{Resource: bvid}
	}
	return d, nil
}

func (f *Fake) StreamManifest(ctx context.Context, bvid string, cid int64) (StreamManifest, error) {
	key := manifestKey(bvid, cid)
	if err := f.takeErr("manifest:" + key); err != nil {
		return StreamManifest{}, err
	}
	m, ok := f.Manifests[key]
	if !ok {
		return StreamManifest{}, &bilierr.UpstreamNotFound{Resource: key}
	}
	return m, nil
}

func (f *Fake) Danmaku(ctx context.Context, cid int64) (DanmakuStream, error) {
	if err := f.takeErr("danmaku"); err != nil {
		return DanmakuStream{}, err
	}
	return f.DanmakuStreams[cid], nil
}

func (f *Fake) Subtitles(ctx context.Context, bvid string, cid int64) ([]SubtitleTrack, error) {
	key := manifestKey(bvid, cid)
	if err := f.takeErr("subtitles:" + key); err != nil {
		return nil, err
	}
	return f.SubtitleTracks[key], nil
}

func (f *Fake) pageSize() int {
	if f.PageSize <= 0 {
		return 20
	}
	return f.PageSize
}

func manifestKey(bvid string, cid int64) string {
	return bvid + "#" + strconv.FormatInt(cid, 10)
}

var _ Client = (*Fake)(nil)
