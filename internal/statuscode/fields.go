package statuscode

// Video-level field indices (spec.md §4.6). Order matches the
// series-level-first execution ordering: poster/nfo/avatar/publisher-nfo
// are series-level, pages_downloaded is the rollup of every page.
const (
	VideoPoster = iota
	VideoSeriesNFO
	VideoPublisherAvatar
	VideoPublisherNFO
	VideoPagesDownloaded
)

// Page-level field indices (spec.md §4.6).
const (
	PageThumbnail = iota
	PageMedia
	PageEpisodeNFO
	PageDanmaku
	PageSubtitles
)

// VideoFieldNames maps a video-level field index to its name, for logging
// and report rendering.
var VideoFieldNames = [FieldCount]string{
	VideoPoster:           "poster",
	VideoSeriesNFO:        "series_nfo",
	VideoPublisherAvatar:  "publisher_avatar",
	VideoPublisherNFO:     "publisher_nfo",
	VideoPagesDownloaded:  "pages_downloaded",
}

// PageFieldNames maps a page-level field index to its name.
var PageFieldNames = [FieldCount]string{
	PageThumbnail:  "thumbnail",
	PageMedia:      "media",
	PageEpisodeNFO: "episode_nfo",
	PageDanmaku:    "danmaku",
	PageSubtitles:  "subtitles",
}
