package materialize

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/bilisync/bilisync/internal/client"
	"github.com/bilisync/bilisync/internal/config"
	"github.com/bilisync/bilisync/internal/domain"
	"github.com/bilisync/bilisync/internal/downloader"
	"github.com/bilisync/bilisync/internal/governor"
	"github.com/bilisync/bilisync/internal/mux"
	"github.com/bilisync/bilisync/internal/observer"
	"github.com/bilisync/bilisync/internal/repository"
	"github.com/bilisync/bilisync/internal/riskcontrol"
	"github.com/bilisync/bilisync/internal/statuscode"
)

func newTestRepo(t *testing.T) *repository.Repository {
	t.Helper()
	repo, err := repository.Open("file::memory:?cache=shared&_test=" + t.Name())
	if err != nil {
		t.Fatalf("open repo: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func newAssetServer(t *testing.T, body map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		content, ok := body[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(content)))
			return
		}
		_, _ = w.Write([]byte(content))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestDeps(t *testing.T, repo *repository.Repository, cl client.Client, srv *httptest.Server, rootDir string) Deps {
	t.Helper()
	return Deps{
		Repo:       repo,
		Client:     cl,
		Downloader: downloader.New(srv.Client()),
		Muxer:      mux.New(""),
		HTTPClient: srv.Client(),
		Breaker:    riskcontrol.New(context.Background(), time.Minute),
		Cfg:        config.DefaultSnapshot(rootDir),
		Observer:   observer.NullObserver{},
	}
}

func taskResult(results []observer.TaskResult, field string, pageID int64) (observer.TaskResult, bool) {
	for _, r := range results {
		if r.Field == field && r.PageID == pageID {
			return r, true
		}
	}
	return observer.TaskResult{}, false
}

func TestVideoMaterializesSinglePageVideo(t *testing.T) {
	repo := newTestRepo(t)
	root := t.TempDir()

	srv := newAssetServer(t, map[string]string{
		"/avatar.jpg": "avatar-bytes",
		"/media.mp4":  "media-bytes",
	})

	sub := domain.Subscription{ID: 1, Kind: domain.KindFavorites, FavoritesMediaID: 1, RootPath: root + "/sub", Enabled: true}
	video := domain.Video{
		BVID:        "BV1single",
		AID:         1,
		Title:       "a single page video",
		Publisher:   domain.Publisher{Mid: 42, Name: "uploader", AvatarURL: srv.URL + "/avatar.jpg"},
		PublishedAt: time.Unix(1_700_000_000, 0),
		Valid:       true,
		Category:    domain.CategorySinglePage,
		Tags:        []string{"tag-a"},
	}
	if err := repo.UpsertVideos(sub, []domain.Video{video}); err != nil {
		t.Fatalf("upsert video: %v", err)
	}
	pending, err := repo.SelectPending(sub)
	if err != nil || len(pending) != 1 {
		t.Fatalf("select pending: %v (n=%d)", err, len(pending))
	}
	video = pending[0]

	page := domain.Page{
		Index:           1,
		Title:           "the whole video",
		CID:             999,
		DurationSeconds: 120,
		VideoStreamURL:  srv.URL + "/media.mp4",
		MuxRequired:     false,
	}
	if err := repo.UpsertPages(video.ID, []domain.Page{page}); err != nil {
		t.Fatalf("upsert pages: %v", err)
	}

	fake := client.NewFake()
	fake.DanmakuStreams[999] = client.DanmakuStream{XML: []byte(`<i><d p="1.0,1,25,16777215,0,0,0,0">hello</d></i>`)}

	deps := newTestDeps(t, repo, fake, srv, root)
	gov := governor.New(governor.DefaultLimits())
	vg, err := gov.NewSubscriptionGate().AcquireVideo(context.Background())
	if err != nil {
		t.Fatalf("acquire video gate: %v", err)
	}
	defer vg.Release()

	results, err := Video(context.Background(), deps, vg, sub, video)
	if err != nil {
		t.Fatalf("materialize video: %v", err)
	}

	for _, field := range []string{"poster", "series_nfo", "publisher_avatar", "publisher_nfo"} {
		tr, ok := taskResult(results, field, 0)
		if !ok {
			t.Fatalf("missing video-level task result for %s", field)
		}
		if !tr.Succeeded {
			t.Fatalf("expected %s to succeed, got error %s: %s", field, tr.ErrorCode, tr.ErrorMsg)
		}
	}

	pages, err := repo.ListPages(video.ID)
	if err != nil || len(pages) != 1 {
		t.Fatalf("list pages: %v (n=%d)", err, len(pages))
	}
	pageID := pages[0].ID
	for _, field := range []string{"thumbnail", "media", "episode_nfo", "danmaku", "subtitles"} {
		tr, ok := taskResult(results, field, pageID)
		if !ok {
			t.Fatalf("missing page task result for %s", field)
		}
		if !tr.Succeeded {
			t.Fatalf("expected page field %s to succeed, got error %s: %s", field, tr.ErrorCode, tr.ErrorMsg)
		}
	}

	// Single-page videos never get poster.jpg/fanart.jpg/tvshow.nfo — those
	// fields succeed trivially without writing anything.
	if _, err := os.Stat(PosterPath(sub, video)); !os.IsNotExist(err) {
		t.Fatalf("expected no poster.jpg for a single-page video, stat err=%v", err)
	}

	if _, err := os.Stat(PublisherFolderJPGPath(sub, video)); err != nil {
		t.Fatalf("expected publisher avatar on disk: %v", err)
	}
	if _, err := os.Stat(PublisherNFOPath(sub, video)); err != nil {
		t.Fatalf("expected publisher nfo on disk: %v", err)
	}
	mediaBytes, err := os.ReadFile(MediaPath(sub, video, pages[0]))
	if err != nil {
		t.Fatalf("read media file: %v", err)
	}
	if string(mediaBytes) != "media-bytes" {
		t.Fatalf("unexpected media content %q", mediaBytes)
	}
	ass, err := os.ReadFile(DanmakuPath(sub, video, pages[0]))
	if err != nil {
		t.Fatalf("read danmaku file: %v", err)
	}
	if !strings.Contains(string(ass), "Dialogue:") {
		t.Fatalf("expected an ASS dialogue line, got %q", ass)
	}

	reloaded, err := repo.GetVideo(video.ID)
	if err != nil {
		t.Fatalf("reload video: %v", err)
	}
	if statuscode.AnyShouldRun(reloaded.Status) {
		t.Fatalf("expected every video field to be terminal, word=%v", reloaded.Status)
	}
	reloadedPages, err := repo.ListPages(video.ID)
	if err != nil {
		t.Fatalf("reload pages: %v", err)
	}
	if statuscode.AnyShouldRun(reloadedPages[0].Status) {
		t.Fatalf("expected every page field to be terminal, word=%v", reloadedPages[0].Status)
	}
}

func TestVideoSkipsInvalidVideoEntirely(t *testing.T) {
	repo := newTestRepo(t)
	root := t.TempDir()

	srv := newAssetServer(t, map[string]string{
		"/avatar.jpg": "avatar-bytes",
		"/media.mp4":  "media-bytes",
	})

	sub := domain.Subscription{ID: 3, Kind: domain.KindFavorites, FavoritesMediaID: 3, RootPath: root + "/sub3", Enabled: true}
	video := domain.Video{
		BVID:        "BV1gone",
		AID:         3,
		Title:       "taken down after discovery",
		Publisher:   domain.Publisher{Mid: 9, Name: "uploader", AvatarURL: srv.URL + "/avatar.jpg"},
		PublishedAt: time.Unix(1_700_000_900, 0),
		Valid:       false,
		Category:    domain.CategorySinglePage,
	}
	if err := repo.UpsertVideos(sub, []domain.Video{video}); err != nil {
		t.Fatalf("upsert video: %v", err)
	}
	videos, err := repo.SelectPending(sub)
	if err != nil {
		t.Fatalf("select pending: %v", err)
	}
	if len(videos) != 0 {
		t.Fatalf("expected an invalid video to never be selected, got %+v", videos)
	}

	// Even if a caller feeds Video() an invalid row directly (bypassing
	// SelectPending), it must still write nothing.
	fake := client.NewFake()
	deps := newTestDeps(t, repo, fake, srv, root)
	gov := governor.New(governor.DefaultLimits())
	vg, err := gov.NewSubscriptionGate().AcquireVideo(context.Background())
	if err != nil {
		t.Fatalf("acquire video gate: %v", err)
	}
	defer vg.Release()

	invalid := video
	invalid.ID = 1

	results, err := Video(context.Background(), deps, vg, sub, invalid)
	if err != nil {
		t.Fatalf("materialize invalid video: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no task results for an invalid video, got %+v", results)
	}
	if _, err := os.Stat(PublisherFolderJPGPath(sub, invalid)); !os.IsNotExist(err) {
		t.Fatalf("expected no publisher avatar written for an invalid video, stat err=%v", err)
	}
}

func TestVideoMultiPageWritesPosterSeriesNFOAndSubtitles(t *testing.T) {
	repo := newTestRepo(t)
	root := t.TempDir()

	// A minimal 1x1 transparent PNG — imgx.FanartFromPosterJPEG decodes
	// either JPEG or PNG source covers, matching what bilibili's own
	// detail responses can return.
	tinyPNG, err := base64.StdEncoding.DecodeString("iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAAEklEQVR4nAAFAPr/AgAAAAADAAAPAANCp/UOAAAAAElFTkSuQmCC")
	if err != nil {
		t.Fatalf("decode fixture png: %v", err)
	}
	srv := newAssetServer(t, map[string]string{
		"/cover.jpg":    string(tinyPNG),
		"/avatar.jpg":   "avatar-bytes",
		"/media1.mp4":   "media-1-bytes",
		"/thumb1.jpg":   "thumb-1-bytes",
		"/sub.srt.json": `{"body":[{"from":0,"to":1.5,"content":"line one"}]}`,
	})

	sub := domain.Subscription{ID: 2, Kind: domain.KindFavorites, FavoritesMediaID: 2, RootPath: root + "/sub2", Enabled: true}
	video := domain.Video{
		BVID:        "BV1multi",
		AID:         2,
		Title:       "a multi page show",
		Publisher:   domain.Publisher{Mid: 7, Name: "studio", AvatarURL: srv.URL + "/avatar.jpg"},
		PublishedAt: time.Unix(1_700_000_500, 0),
		Valid:       true,
		Category:    domain.CategoryMultiPage,
		SeasonTitle: "Season One",
		CoverURL:    srv.URL + "/cover.jpg",
		Tags:        []string{"tag-b"},
	}
	if err := repo.UpsertVideos(sub, []domain.Video{video}); err != nil {
		t.Fatalf("upsert video: %v", err)
	}
	pending, err := repo.SelectPending(sub)
	if err != nil || len(pending) != 1 {
		t.Fatalf("select pending: %v (n=%d)", err, len(pending))
	}
	video = pending[0]
	if err := repo.SetVideoMeta(video.ID, video.CoverURL, video.Tags); err != nil {
		t.Fatalf("set video meta: %v", err)
	}
	video, err = repo.GetVideo(video.ID)
	if err != nil {
		t.Fatalf("reload video: %v", err)
	}

	page := domain.Page{
		Index:           1,
		Title:           "episode one",
		CID:             111,
		DurationSeconds: 300,
		VideoStreamURL:  srv.URL + "/media1.mp4",
		ThumbnailURL:    srv.URL + "/thumb1.jpg",
		MuxRequired:     false,
	}
	if err := repo.UpsertPages(video.ID, []domain.Page{page}); err != nil {
		t.Fatalf("upsert pages: %v", err)
	}

	fake := client.NewFake()
	fake.DanmakuStreams[111] = client.DanmakuStream{XML: []byte(`<i></i>`)}
	fake.SubtitleTracks["BV1multi#111"] = []client.SubtitleTrack{{Lang: "zh-CN", URL: srv.URL + "/sub.srt.json"}}

	deps := newTestDeps(t, repo, fake, srv, root)
	gov := governor.New(governor.DefaultLimits())
	vg, err := gov.NewSubscriptionGate().AcquireVideo(context.Background())
	if err != nil {
		t.Fatalf("acquire video gate: %v", err)
	}
	defer vg.Release()

	results, err := Video(context.Background(), deps, vg, sub, video)
	if err != nil {
		t.Fatalf("materialize video: %v", err)
	}

	posterResult, ok := taskResult(results, "poster", 0)
	if !ok || !posterResult.Succeeded {
		t.Fatalf("expected poster to succeed: %+v ok=%v", posterResult, ok)
	}
	if _, err := os.Stat(FanartPath(sub, video)); err != nil {
		t.Fatalf("expected fanart derived from poster: %v", err)
	}
	if _, err := os.Stat(TVShowNFOPath(sub, video)); err != nil {
		t.Fatalf("expected tvshow.nfo: %v", err)
	}

	pages, err := repo.ListPages(video.ID)
	if err != nil || len(pages) != 1 {
		t.Fatalf("list pages: %v (n=%d)", err, len(pages))
	}
	if _, err := os.Stat(ThumbPath(sub, video, pages[0])); err != nil {
		t.Fatalf("expected per-page thumbnail for multi-page video: %v", err)
	}
	if _, err := os.Stat(SubtitlePath(sub, video, pages[0], "zh-CN")); err != nil {
		t.Fatalf("expected zh-CN subtitle: %v", err)
	}
}
