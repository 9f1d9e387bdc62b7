package nfo

import (
	"encoding/xml"

	"github.com/bilisync/bilisync/internal/domain"
)

type tvshow struct {
	XMLName xml.Name `xml:"tvshow"`

	Title     string `xml:"title"`
	SortTitle string `xml:"sorttitle"`
	UniqueID  string `xml:"uniqueid"`

	Premiered string `xml:"premiered,omitempty"`
	Year      int    `xml:"year,omitempty"`

	Studio string `xml:"studio,omitempty"`

	Poster string `xml:"poster,omitempty"`
	Fanart string `xml:"fanart,omitempty"`

	Tags []string `xml:"tag,omitempty"`
}

// EncodeTVShow renders tvshow.nfo for a multi-page video (a Collection
// Series/Season or a multi-part Favorites/Submissions entry), using the
// video's SeasonTitle when set, falling back to its own title.
func EncodeTVShow(v domain.Video, tags []string) ([]byte, error) {
	title := v.SeasonTitle
	if title == "" {
		title = v.Title
	}
	t := tvshow{
		Title:     title,
		SortTitle: title,
		UniqueID:  v.BVID,
		Premiered: v.PublishedAt.Format("2006-01-02"),
		Year:      v.PublishedAt.Year(),
		Studio:    v.Publisher.Name,
		Poster:    "poster.jpg",
		Fanart:    "fanart.jpg",
		Tags:      normList(tags),
	}
	return marshal(t)
}

type episodeDetails struct {
	XMLName xml.Name `xml:"episodedetails"`

	Title       string `xml:"title"`
	ShowTitle   string `xml:"showtitle"`
	Season      int    `xml:"season"`
	Episode     int    `xml:"episode"`
	UniqueID    string `xml:"uniqueid"`
	Aired       string `xml:"aired,omitempty"`
	Runtime     int    `xml:"runtime,omitempty"`
	Thumb       string `xml:"thumb,omitempty"`
}

// EncodeEpisode renders the episode-level NFO for one page of a
// multi-page video. Season is always 1 (spec.md §6's layout has a
// single `Season 1/` directory per video; bilibili's own season/episode
// numbering inside a Collection is represented by which Video a page
// belongs to, not by season numbers on individual pages).
func EncodeEpisode(v domain.Video, p domain.Page) ([]byte, error) {
	e := episodeDetails{
		Title:     p.Title,
		ShowTitle: v.Title,
		Season:    1,
		Episode:   p.Index,
		UniqueID:  v.BVID,
		Aired:     v.PublishedAt.Format("2006-01-02"),
		Runtime:   p.DurationSeconds / 60,
		Thumb:     "thumb.jpg",
	}
	return marshal(e)
}
