package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/bilisync/bilisync/internal/bilierr"
	"github.com/bilisync/bilisync/internal/riskcontrol"
)

const apiBase = "https://api.bilibili.com"

// HTTPClient is the real Client, talking to bilibili's public web API the
// way original_source's bili_sync/src/bilibili module does: a SESSDATA
// cookie carried on every request, a {code,message,data} JSON envelope,
// and -352/HTML-interstitial responses classified as risk control rather
// than a generic failure (internal/riskcontrol.ClassifyResponse, grounded
// on the same distinction AVMC's provider package draws between a normal
// 404 and a "driver-verify" block page).
type HTTPClient struct {
	http       *http.Client
	baseURL    string
	credential string // SESSDATA cookie value; empty means anonymous/unauthenticated access
	retries    uint64
}

var _ Client = (*HTTPClient)(nil)

// New builds an HTTPClient. httpClient is expected to already carry
// whatever RoundTripper decoration the caller wants (governor.GatedTransport
// for the global HTTP tier); this package never wraps its own transport.
func New(httpClient *http.Client, credential string) *HTTPClient {
	return &HTTPClient{http: httpClient, baseURL: apiBase, credential: credential, retries: 3}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// get performs one authenticated GET, retrying NetworkTransient failures
// with exponential backoff (mirroring internal/downloader's chunk retry
// policy) and unwrapping bilibili's response envelope. RiskControl and
// UpstreamNotFound are never retried.
func (c *HTTPClient) get(ctx context.Context, op, rawURL string, query url.Values) (json.RawMessage, error) {
	var data json.RawMessage

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL+"?"+query.Encode(), nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("client: build request for %s: %w", op, err))
		}
		req.Header.Set("User-Agent", "Mozilla/5.0 (bilisync)")
		req.Header.Set("Referer", "https://www.bilibili.com/")
		if c.credential != "" {
			req.Header.Set("Cookie", "SESSDATA="+c.credential)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return &bilierr.NetworkTransient{Op: op, Err: err}
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return &bilierr.NetworkTransient{Op: op, Err: err}
		}

		if resp.StatusCode == http.StatusNotFound {
			return backoff.Permanent(&bilierr.UpstreamNotFound{Resource: rawURL})
		}
		if rcErr := riskcontrol.ClassifyResponse(op, resp, body); rcErr != nil {
			return backoff.Permanent(rcErr)
		}
		if resp.StatusCode >= 500 {
			return &bilierr.NetworkTransient{Op: op, Err: fmt.Errorf("status %d", resp.StatusCode)}
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(&bilierr.NetworkPermanent{Op: op, Err: fmt.Errorf("status %d", resp.StatusCode)})
		}

		var env envelope
		if err := json.Unmarshal(body, &env); err != nil {
			return backoff.Permanent(&bilierr.NetworkPermanent{Op: op, Err: fmt.Errorf("decode envelope: %w", err)})
		}
		switch env.Code {
		case 0:
			data = env.Data
			return nil
		case -352:
			return backoff.Permanent(&bilierr.RiskControl{Op: op})
		case -404:
			return backoff.Permanent(&bilierr.UpstreamNotFound{Resource: rawURL})
		default:
			return backoff.Permanent(&bilierr.NetworkPermanent{Op: op, Err: fmt.Errorf("api code %d: %s", env.Code, env.Message)})
		}
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.retries)
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		if permanent, ok := err.(*backoff.PermanentError); ok {
			return nil, permanent.Unwrap()
		}
		return nil, err
	}
	return data, nil
}

// Whoami confirms SESSDATA is still valid via the nav endpoint (grounded
// on original_source's me.rs pattern of failing fast on an empty mid,
// supplemented here to actually round-trip against bilibili rather than
// only checking a local field).
func (c *HTTPClient) Whoami(ctx context.Context) error {
	data, err := c.get(ctx, "whoami", c.baseURL+"/x/web-interface/nav", url.Values{})
	if err != nil {
		return err
	}
	var nav struct {
		IsLogin bool `json:"isLogin"`
	}
	if err := json.Unmarshal(data, &nav); err != nil {
		return &bilierr.NetworkPermanent{Op: "whoami", Err: err}
	}
	if !nav.IsLogin {
		return &bilierr.RiskControl{Op: "whoami"}
	}
	return nil
}

type wireListing struct {
	BVID   string `json:"bvid"`
	AID    int64  `json:"aid"`
	Title  string `json:"title"`
	PubDate int64 `json:"pubtime"`
	Upper  struct {
		Mid  int64  `json:"mid"`
		Name string `json:"name"`
		Face string `json:"face"`
	} `json:"upper"`
}

func (w wireListing) toDescriptor() ListingDescriptor {
	return ListingDescriptor{
		BVID:        w.BVID,
		AID:         w.AID,
		Title:       w.Title,
		PublishedAt: time.Unix(w.PubDate, 0),
		Publisher:   Publisher{Mid: w.Upper.Mid, Name: w.Upper.Name, AvatarURL: w.Upper.Face},
	}
}

// ListFavorites pages through a favorites folder (spec.md §4.4's
// Favorites Source), grounded on the /x/v3/fav/resource/list shape.
func (c *HTTPClient) ListFavorites(ctx context.Context, mediaID int64, page int) ([]ListingDescriptor, bool, error) {
	q := url.Values{
		"media_id": {strconv.FormatInt(mediaID, 10)},
		"pn":       {strconv.Itoa(page)},
		"ps":       {"20"},
		"platform": {"web"},
	}
	data, err := c.get(ctx, "list_favorites", c.baseURL+"/x/v3/fav/resource/list", q)
	if err != nil {
		return nil, false, err
	}
	var out struct {
		Medias  []wireListing `json:"medias"`
		HasMore bool          `json:"has_more"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, false, &bilierr.NetworkPermanent{Op: "list_favorites", Err: err}
	}
	return mapListings(out.Medias), out.HasMore, nil
}

// ListCollection pages a series or season (spec.md §4.4's Collection
// Source), grounded on /x/polymer/space/seasons_archives_list.
func (c *HTTPClient) ListCollection(ctx context.Context, collectionID, mid int64, page int) ([]ListingDescriptor, bool, error) {
	q := url.Values{
		"mid":       {strconv.FormatInt(mid, 10)},
		"season_id": {strconv.FormatInt(collectionID, 10)},
		"page_num":  {strconv.Itoa(page)},
		"page_size": {"20"},
	}
	data, err := c.get(ctx, "list_collection", c.baseURL+"/x/polymer/space/seasons_archives_list", q)
	if err != nil {
		return nil, false, err
	}
	var out struct {
		Archives []wireListing `json:"archives"`
		Page     struct {
			PageNum  int `json:"page_num"`
			PageSize int `json:"page_size"`
			Total    int `json:"total"`
		} `json:"page"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, false, &bilierr.NetworkPermanent{Op: "list_collection", Err: err}
	}
	hasMore := out.Page.PageNum*out.Page.PageSize < out.Page.Total
	return mapListings(out.Archives), hasMore, nil
}

// ListSubmissionsLegacy pages a creator's uploads by offset (spec.md
// §4.4's legacy Submissions flavor), grounded on /x/space/arc/search.
func (c *HTTPClient) ListSubmissionsLegacy(ctx context.Context, mid int64, page int) ([]ListingDescriptor, bool, error) {
	q := url.Values{
		"mid":   {strconv.FormatInt(mid, 10)},
		"pn":    {strconv.Itoa(page)},
		"ps":    {"30"},
		"order": {"pubdate"},
	}
	data, err := c.get(ctx, "list_submissions_legacy", c.baseURL+"/x/space/arc/search", q)
	if err != nil {
		return nil, false, err
	}
	var out struct {
		List struct {
			Vlist []wireListing `json:"vlist"`
		} `json:"list"`
		Page struct {
			PageNum  int `json:"pn"`
			PageSize int `json:"ps"`
			Count    int `json:"count"`
		} `json:"page"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, false, &bilierr.NetworkPermanent{Op: "list_submissions_legacy", Err: err}
	}
	hasMore := out.Page.PageNum*out.Page.PageSize < out.Page.Count
	return mapListings(out.List.Vlist), hasMore, nil
}

// ListSubmissionsCursor pages a creator's uploads backward from cursor by
// publish time (spec.md §4.4's cursor Submissions flavor), grounded on
// the same /x/space/arc/search endpoint with a max publish-time filter
// rather than an offset.
func (c *HTTPClient) ListSubmissionsCursor(ctx context.Context, mid int64, cursor time.Time) ([]ListingDescriptor, bool, error) {
	q := url.Values{
		"mid":      {strconv.FormatInt(mid, 10)},
		"pn":       {"1"},
		"ps":       {"30"},
		"order":    {"pubdate"},
		"max_time": {strconv.FormatInt(cursor.Unix(), 10)},
	}
	data, err := c.get(ctx, "list_submissions_cursor", c.baseURL+"/x/space/arc/search", q)
	if err != nil {
		return nil, false, err
	}
	var out struct {
		List struct {
			Vlist []wireListing `json:"vlist"`
		} `json:"list"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, false, &bilierr.NetworkPermanent{Op: "list_submissions_cursor", Err: err}
	}
	// The cursor flavor terminates when a page returns nothing older than
	// the watermark rather than via a total count, so has_more mirrors
	// "did this page return anything at all".
	return mapListings(out.List.Vlist), len(out.List.Vlist) > 0, nil
}

// ListWatchLater fetches the account's entire watch-later queue in one
// call (spec.md §4.4's Watch Later Source has no pagination cursor),
// grounded on /x/v2/history/toview.
func (c *HTTPClient) ListWatchLater(ctx context.Context) ([]ListingDescriptor, error) {
	data, err := c.get(ctx, "list_watch_later", c.baseURL+"/x/v2/history/toview", url.Values{})
	if err != nil {
		return nil, err
	}
	var out struct {
		List []wireListing `json:"list"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &bilierr.NetworkPermanent{Op: "list_watch_later", Err: err}
	}
	return mapListings(out.List), nil
}

func mapListings(in []wireListing) []ListingDescriptor {
	out := make([]ListingDescriptor, len(in))
	for i, w := range in {
		out[i] = w.toDescriptor()
	}
	return out
}

// VideoDetail fetches per-video metadata including the page list and the
// redirect marker bilibili's view endpoint carries for licensed or
// unavailable content, grounded on /x/web-interface/view.
func (c *HTTPClient) VideoDetail(ctx context.Context, bvid string) (VideoDetail, error) {
	data, err := c.get(ctx, "video_detail", c.baseURL+"/x/web-interface/view", url.Values{"bvid": {bvid}})
	if err != nil {
		return VideoDetail{}, err
	}
	var out struct {
		RedirectURL string `json:"redirect_url"`
		SeasonTitle string `json:"season_title"`
		Pic         string `json:"pic"`
		Tag         string `json:"tag_name"`
		Pages       []struct {
			Page     int    `json:"page"`
			Part     string `json:"part"`
			Duration int    `json:"duration"`
			CID      int64  `json:"cid"`
			FirstFrame string `json:"first_frame"`
		} `json:"pages"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return VideoDetail{}, &bilierr.NetworkPermanent{Op: "video_detail", Err: err}
	}
	if out.RedirectURL != "" {
		return VideoDetail{}, &bilierr.UpstreamRedirect{Resource: bvid, Target: out.RedirectURL}
	}
	detail := VideoDetail{
		SeasonTitle: out.SeasonTitle,
		CoverURL:    out.Pic,
		Tags:        splitNonEmpty(out.Tag),
	}
	for _, p := range out.Pages {
		detail.Pages = append(detail.Pages, PageDetail{
			Index:           p.Page,
			Title:           p.Part,
			DurationSeconds: p.Duration,
			CID:             p.CID,
			ThumbnailURL:    p.FirstFrame,
		})
	}
	return detail, nil
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}

// StreamManifest fetches the DASH candidate track list for one page,
// grounded on /x/player/playurl with fnval=4048 (the DASH-format
// request flag the original implementation's player module also sets).
func (c *HTTPClient) StreamManifest(ctx context.Context, bvid string, cid int64) (StreamManifest, error) {
	q := url.Values{
		"bvid":  {bvid},
		"cid":   {strconv.FormatInt(cid, 10)},
		"fnval": {"4048"},
	}
	data, err := c.get(ctx, "stream_manifest", c.baseURL+"/x/player/playurl", q)
	if err != nil {
		return StreamManifest{}, err
	}
	var out struct {
		Dash struct {
			Video []wireTrack `json:"video"`
			Audio []wireTrack `json:"audio"`
		} `json:"dash"`
		Durl []wireTrack `json:"durl"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return StreamManifest{}, &bilierr.NetworkPermanent{Op: "stream_manifest", Err: err}
	}
	if len(out.Durl) > 0 {
		return StreamManifest{Mixed: true, MixedTracks: mapTracks(out.Durl)}, nil
	}
	return StreamManifest{
		VideoTracks: mapTracks(out.Dash.Video),
		AudioTracks: mapTracks(out.Dash.Audio),
	}, nil
}

type wireTrack struct {
	BaseURL   string   `json:"base_url"`
	URL       string   `json:"url"`
	BackupURL []string `json:"backup_url"`
	ID        int      `json:"id"`
	Codecid   int      `json:"codecid"`
	Size      int64    `json:"size"`
}

func mapTracks(in []wireTrack) []StreamTrack {
	out := make([]StreamTrack, len(in))
	for i, w := range in {
		u := w.BaseURL
		if u == "" {
			u = w.URL
		}
		out[i] = StreamTrack{
			URL:           u,
			MirrorURLs:    w.BackupURL,
			QualityRank:   w.ID,
			CodecRank:     w.Codecid,
			ContentLength: w.Size,
		}
	}
	return out
}

// Danmaku fetches the XML comment stream for one page, grounded on
// /x/v1/dm/list.so.
func (c *HTTPClient) Danmaku(ctx context.Context, cid int64) (DanmakuStream, error) {
	rawURL := c.baseURL + "/x/v1/dm/list.so?oid=" + strconv.FormatInt(cid, 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return DanmakuStream{}, &bilierr.NetworkPermanent{Op: "danmaku", Err: err}
	}
	if c.credential != "" {
		req.Header.Set("Cookie", "SESSDATA="+c.credential)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return DanmakuStream{}, &bilierr.NetworkTransient{Op: "danmaku", Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return DanmakuStream{}, &bilierr.NetworkTransient{Op: "danmaku", Err: err}
	}
	if resp.StatusCode == http.StatusNotFound {
		return DanmakuStream{}, &bilierr.UpstreamNotFound{Resource: rawURL}
	}
	if rcErr := riskcontrol.ClassifyResponse("danmaku", resp, body); rcErr != nil {
		return DanmakuStream{}, rcErr
	}
	return DanmakuStream{XML: body}, nil
}

// Subtitles fetches whichever community/CC subtitle tracks the player
// endpoint advertises for one page, grounded on /x/player/v2.
func (c *HTTPClient) Subtitles(ctx context.Context, bvid string, cid int64) ([]SubtitleTrack, error) {
	q := url.Values{"bvid": {bvid}, "cid": {strconv.FormatInt(cid, 10)}}
	data, err := c.get(ctx, "subtitles", c.baseURL+"/x/player/v2", q)
	if err != nil {
		return nil, err
	}
	var out struct {
		Subtitle struct {
			Subtitles []struct {
				Lan        string `json:"lan"`
				SubtitleURL string `json:"subtitle_url"`
			} `json:"subtitles"`
		} `json:"subtitle"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &bilierr.NetworkPermanent{Op: "subtitles", Err: err}
	}
	tracks := make([]SubtitleTrack, 0, len(out.Subtitle.Subtitles))
	for _, s := range out.Subtitle.Subtitles {
		tracks = append(tracks, SubtitleTrack{Lang: s.Lan, URL: s.SubtitleURL})
	}
	return tracks, nil
}
