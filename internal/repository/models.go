// Package repository is the typed persistence layer of spec.md §4.2,
// backed by GORM over a SQLite file at {config_dir}/data.sqlite (spec.md
// §6). It replaces AVMC's internal/infra/cache (a flat provider-HTML/JSON
// file cache keyed by code) with a real relational store, but keeps the
// same discipline AVMC applies to writes: every mutation goes through one
// narrow, purpose-built method, never an ad hoc query built by the
// caller.
package repository

import "time"

// FavoriteRow backs the `favorite` table (spec.md §6).
type FavoriteRow struct {
	ID          int64 `gorm:"primaryKey"`
	MediaID     int64 `gorm:"uniqueIndex"`
	Title       string
	RootPath    string
	LatestRowAt time.Time
	Enabled     bool
	MinDurationSeconds int
	TitleRegex         string
	ScheduleExpr       string
}

func (FavoriteRow) TableName() string { return "favorite" }

// CollectionRow backs the `collection` table.
type CollectionRow struct {
	ID             int64 `gorm:"primaryKey"`
	CollectionID   int64
	Mid            int64
	Kind           int // domain.CollectionKind
	Title          string
	RootPath       string
	LatestRowAt    time.Time
	Enabled        bool
	MinDurationSeconds int
	TitleRegex         string
	ScheduleExpr       string
}

func (CollectionRow) TableName() string { return "collection" }

// SubmissionRow backs the `submission` table.
type SubmissionRow struct {
	ID             int64 `gorm:"primaryKey"`
	Mid            int64 `gorm:"uniqueIndex"`
	Flavor         int // domain.SubmissionsFlavor
	Title          string
	RootPath       string
	LatestRowAt    time.Time
	Enabled        bool
	MinDurationSeconds int
	TitleRegex         string
	ScheduleExpr       string
}

func (SubmissionRow) TableName() string { return "submission" }

// WatchLaterRow backs the `watch_later` table — a singleton, id always 1
// (spec.md §6).
type WatchLaterRow struct {
	ID          int64 `gorm:"primaryKey"`
	RootPath    string
	LatestRowAt time.Time
	Enabled     bool
	MinDurationSeconds int
	TitleRegex         string
	ScheduleExpr       string
}

func (WatchLaterRow) TableName() string { return "watch_later" }

// VideoRow backs the `video` table. Exactly one of the four FK columns is
// non-null (invariant V1); enforced by Repository.UpsertVideos, never by
// the caller constructing this struct directly.
type VideoRow struct {
	ID int64 `gorm:"primaryKey"`

	FavoriteID   *int64 `gorm:"index"`
	CollectionID *int64 `gorm:"index"`
	SubmissionID *int64 `gorm:"index"`
	WatchLaterID *int64 `gorm:"index"`

	BVID  string `gorm:"column:bvid;uniqueIndex"`
	AID   int64  `gorm:"column:aid"`
	Title string

	PublisherMid       int64
	PublisherName      string
	PublisherAvatarURL string

	PublishedAt time.Time

	Valid bool

	DownloadStatus uint32

	Category int // domain.VideoCategory

	SeasonTitle string

	CoverURL string
	TagsRaw  string `gorm:"column:tags_raw"` // JSON-encoded []string
}

func (VideoRow) TableName() string { return "video" }

// PageRow backs the `page` table; VideoID is mandatory (spec.md §6).
type PageRow struct {
	ID int64 `gorm:"primaryKey"`

	VideoID int64 `gorm:"uniqueIndex:idx_page_video_index;not null"`

	Index int `gorm:"uniqueIndex:idx_page_video_index;column:index"`
	Title string
	CID   int64 `gorm:"column:cid"`

	DurationSeconds int

	VideoStreamURL     string
	VideoMirrorURLsRaw string `gorm:"column:video_mirror_urls_raw"` // JSON-encoded []string
	AudioStreamURL     string
	AudioMirrorURLsRaw string `gorm:"column:audio_mirror_urls_raw"` // JSON-encoded []string
	MuxRequired        bool
	ThumbnailURL       string

	DownloadStatus uint32
}

func (PageRow) TableName() string { return "page" }

// ConfigRow backs the `config` table: a single-row key/value persisted
// snapshot of user-tunable settings (spec.md §3's Config snapshot, §6's
// `config` table). Stored as one JSON blob under a fixed key rather than
// one column per setting, matching AVMC's FileConfig's own "one JSON
// document" shape.
type ConfigRow struct {
	ID       int64  `gorm:"primaryKey"`
	Key      string `gorm:"uniqueIndex"`
	ValueRaw string // JSON-encoded config.Snapshot
}

func (ConfigRow) TableName() string { return "config" }
