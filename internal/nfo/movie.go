package nfo

import (
	"encoding/xml"

	"github.com/bilisync/bilisync/internal/domain"
)

type movie struct {
	XMLName xml.Name `xml:"movie"`

	Title     string `xml:"title"`
	SortTitle string `xml:"sorttitle"`
	UniqueID  string `xml:"uniqueid"`

	Premiered string `xml:"premiered,omitempty"`
	Year      int    `xml:"year,omitempty"`
	Runtime   int    `xml:"runtime,omitempty"`

	Studio string `xml:"studio,omitempty"`

	Poster string `xml:"poster,omitempty"`
	Fanart string `xml:"fanart,omitempty"`

	Tags []string `xml:"tag,omitempty"`

	Director string `xml:"director,omitempty"`
}

// EncodeMovie renders movie.nfo for a single-page video (domain.Video
// with Category == CategorySinglePage), using the publisher as director
// the same way AVMC folds its single "studio" identity into one field.
func EncodeMovie(v domain.Video, durationSeconds int, tags []string) ([]byte, error) {
	m := movie{
		Title:     v.Title,
		SortTitle: v.Title,
		UniqueID:  v.BVID,
		Premiered: v.PublishedAt.Format("2006-01-02"),
		Year:      v.PublishedAt.Year(),
		Runtime:   durationSeconds / 60,
		Studio:    v.Publisher.Name,
		Poster:    "poster.jpg",
		Fanart:    "fanart.jpg",
		Tags:      normList(tags),
		Director:  v.Publisher.Name,
	}
	return marshal(m)
}
