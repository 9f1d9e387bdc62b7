// Package client defines the abstract upstream collaborator spec.md §6
// places out of scope: the platform's HTTP/JSON surface including
// authentication, request signing, and credential refresh. The engine
// only ever depends on this interface, the same way AVMC's core flow only
// depends on provider.Provider and never imports javdb/javbus directly
// from internal/app/run.
package client

import (
	"context"
	"time"
)

// ListingDescriptor is the shallow metadata a Subscription Source's
// page_feed yields for one remote item (spec.md §4.4): just enough to
// decide should_take/should_filter and to upsert a Video row.
type ListingDescriptor struct {
	BVID        string
	AID         int64
	Title       string
	Publisher   Publisher
	PublishedAt time.Time
}

// Publisher mirrors domain.Publisher at the wire layer, kept separate so
// this package has no dependency on internal/domain.
type Publisher struct {
	Mid       int64
	Name      string
	AvatarURL string
}

// PageDetail is one segment returned by the detail endpoint, before stream
// selection has chosen tracks (that's Enrichment's job).
type PageDetail struct {
	Index           int
	Title           string
	DurationSeconds int
	CID             int64
	ThumbnailURL    string
}

// VideoDetail is the full per-video metadata returned by the detail
// endpoint (spec.md §6): pages, tags, and the redirect marker used to
// flag unavailable/licensed content.
type VideoDetail struct {
	Pages       []PageDetail
	Tags        []string
	RedirectTo  string // non-empty => UpstreamRedirect
	SeasonTitle string // populated for Collection/Season sources
	CoverURL    string
}

// StreamTrack is one candidate video or audio track from the stream
// manifest, carrying the quality/codec tags Enrichment's selection policy
// (spec.md §4.5) ranks against config preferences.
type StreamTrack struct {
	URL          string
	MirrorURLs   []string
	QualityRank  int
	CodecRank    int
	HDR          bool
	Dolby        bool
	HiRes        bool
	ContentLength int64
}

// StreamManifest is the set of candidate tracks for one page. Mixed means
// a single stream carries both audio and video (no mux required);
// otherwise VideoTracks/AudioTracks are selected independently.
type StreamManifest struct {
	Mixed       bool
	MixedTracks []StreamTrack
	VideoTracks []StreamTrack
	AudioTracks []StreamTrack
}

// DanmakuStream and SubtitleTrack describe the sidecar asset endpoints.
type DanmakuStream struct {
	XML []byte
}

type SubtitleTrack struct {
	Lang string
	URL  string
}

// Client is the abstract upstream collaborator. Every method may return
// the error kinds of internal/bilierr: NetworkTransient, NetworkPermanent,
// UpstreamNotFound, UpstreamRedirect, RiskControl.
type Client interface {
	// Whoami confirms the current credential is still valid; used by the
	// WatchLater source to fail fast rather than silently treat an
	// expired credential as "no new items" (supplemented from
	// original_source's me.rs).
	Whoami(ctx context.Context) error

	ListFavorites(ctx context.Context, mediaID int64, page int) ([]ListingDescriptor, bool, error)
	ListCollection(ctx context.Context, collectionID, mid int64, page int) ([]ListingDescriptor, bool, error)
	ListSubmissionsLegacy(ctx context.Context, mid int64, page int) ([]ListingDescriptor, bool, error)
	ListSubmissionsCursor(ctx context.Context, mid int64, cursor time.Time) ([]ListingDescriptor, bool, error)
	ListWatchLater(ctx context.Context) ([]ListingDescriptor, error)

	VideoDetail(ctx context.Context, bvid string) (VideoDetail, error)
	StreamManifest(ctx context.Context, bvid string, cid int64) (StreamManifest, error)
	Danmaku(ctx context.Context, cid int64) (DanmakuStream, error)
	Subtitles(ctx context.Context, bvid string, cid int64) ([]SubtitleTrack, error)
}
