package domain

import (
	"time"

	"github.com/bilisync/bilisync/internal/statuscode"
)

// VideoCategory discriminates single-page vs multi-page layout (spec.md
// §3). A video's page count can only grow during Enrichment; the category
// is fixed once assigned.
type VideoCategory int

const (
	CategorySinglePage VideoCategory = iota
	CategoryMultiPage
)

// Publisher is the numeric id + display name + avatar URL identity
// attached to every Video (spec.md §3).
type Publisher struct {
	Mid       int64
	Name      string
	AvatarURL string
}

// Video is one row per remote video (spec.md §3). Exactly one of the
// subscription foreign keys on the owning Subscription is populated;
// Video itself only needs the single SubscriptionID, since the
// four-nullable-column layout is a storage-layer concern of the
// Repository, not something in-memory code should branch on.
type Video struct {
	ID int64

	SubscriptionID int64

	BVID    string
	AID     int64
	Title   string

	Publisher   Publisher
	PublishedAt time.Time

	Valid bool

	Status statuscode.Word

	Category VideoCategory

	// SeasonTitle is populated by Collection/Season sources only; empty
	// otherwise. Used to name tvshow.nfo/Season directories.
	SeasonTitle string

	// CoverURL and Tags are filled in by Enrichment from the detail
	// response (client.VideoDetail); they are the only two pieces of
	// enrichment output that don't map onto a Page, so they're stored on
	// the Video row itself for Materialization's poster/fanart/nfo tasks
	// to read back without re-fetching detail.
	CoverURL string
	Tags     []string
}

// Page is one row per segment within a Video (spec.md §3). Single-page
// videos own exactly one Page.
type Page struct {
	ID int64

	VideoID int64

	Index int // 1-based
	Title string
	// CID is bilibili's numeric segment identifier, needed to fetch this
	// page's danmaku and subtitle sidecar assets independent of the
	// stream manifest that resolved VideoStreamURL/AudioStreamURL.
	CID int64

	DurationSeconds int

	VideoStreamURL  string
	VideoMirrorURLs []string
	AudioStreamURL  string
	AudioMirrorURLs []string
	MuxRequired     bool

	ThumbnailURL string

	Status statuscode.Word
}
