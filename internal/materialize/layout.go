package materialize

import (
	"fmt"
	"path/filepath"

	"github.com/bilisync/bilisync/internal/domain"
)

// VideoRoot is the "{root}" spec.md §6's layout diagram uses per video:
// the subscription's root directly for single-page videos (their files
// sit flat, side by side with every other single-page video in the same
// subscription), or a per-show subdirectory — named after the season
// title if one is set, the video's own title otherwise — for
// multi-page videos, since those own a poster.jpg/tvshow.nfo/Season 1
// that must not collide with a sibling video's.
func VideoRoot(sub domain.Subscription, v domain.Video) string {
	if v.Category != domain.CategoryMultiPage {
		return sub.RootPath
	}
	name := v.SeasonTitle
	if name == "" {
		name = v.Title
	}
	return filepath.Join(sub.RootPath, SanitizeName(name))
}

// PageDir is the directory one page's own artifacts are written into:
// VideoRoot itself for single-page videos, VideoRoot's "Season 1"
// subdirectory for multi-page ones.
func PageDir(sub domain.Subscription, v domain.Video) string {
	root := VideoRoot(sub, v)
	if v.Category == domain.CategoryMultiPage {
		return SeasonDir(root)
	}
	return root
}

// baseName is the {name} (or "{name} - S01ENN") fragment a page's
// artifacts share, chosen by video category.
func baseName(v domain.Video, p domain.Page) string {
	if v.Category == domain.CategoryMultiPage {
		return EpisodeBaseName(v, p)
	}
	return SingleBaseName(v)
}

// PosterPath / FanartPath / TVShowNFOPath are the three video-level
// artifacts spec.md §6 places only for multi-page videos.
func PosterPath(sub domain.Subscription, v domain.Video) string {
	return filepath.Join(VideoRoot(sub, v), "poster.jpg")
}

func FanartPath(sub domain.Subscription, v domain.Video) string {
	return filepath.Join(VideoRoot(sub, v), "fanart.jpg")
}

func TVShowNFOPath(sub domain.Subscription, v domain.Video) string {
	return filepath.Join(VideoRoot(sub, v), "tvshow.nfo")
}

// MediaPath is the primary video file for one page.
func MediaPath(sub domain.Subscription, v domain.Video, p domain.Page) string {
	return filepath.Join(PageDir(sub, v), baseName(v, p)+".mp4")
}

// NFOPath is the per-page (or, for single-page videos, per-video)
// metadata sidecar: movie-shaped for single-page videos, episode-shaped
// for multi-page ones (see internal/nfo).
func NFOPath(sub domain.Subscription, v domain.Video, p domain.Page) string {
	return filepath.Join(PageDir(sub, v), baseName(v, p)+".nfo")
}

// ThumbPath is only ever written for multi-page videos (spec.md §6 lists
// "-thumb.jpg" only inside the Season 1/ block, not in the flat
// single-page layout).
func ThumbPath(sub domain.Subscription, v domain.Video, p domain.Page) string {
	return filepath.Join(PageDir(sub, v), baseName(v, p)+"-thumb.jpg")
}

// DanmakuPath is the rendered-as-subtitle danmaku overlay track, written
// for every page regardless of category.
func DanmakuPath(sub domain.Subscription, v domain.Video, p domain.Page) string {
	return filepath.Join(PageDir(sub, v), baseName(v, p)+".zh-CN.default.ass")
}

// SubtitlePath is only written for multi-page videos, one per language
// track the manifest returned.
func SubtitlePath(sub domain.Subscription, v domain.Video, p domain.Page, lang string) string {
	return filepath.Join(PageDir(sub, v), fmt.Sprintf("%s.%s.srt", baseName(v, p), lang))
}

// PublisherFolderJPGPath / PublisherNFOPath are the shared,
// cross-subscription publisher asset paths spec.md §6 places at
// {upper_root}/{publisher_id}/.
func PublisherFolderJPGPath(sub domain.Subscription, v domain.Video) string {
	return filepath.Join(PublisherDir(sub.RootPath, v.Publisher.Mid), "folder.jpg")
}

func PublisherNFOPath(sub domain.Subscription, v domain.Video) string {
	return filepath.Join(PublisherDir(sub.RootPath, v.Publisher.Mid), "person.nfo")
}
