package nfo

import (
	"encoding/xml"
	"testing"
	"time"

	"github.com/bilisync/bilisync/internal/domain"
)

func sampleVideo() domain.Video {
	return domain.Video{
		BVID:        "BV1xx411c7XD",
		Title:       "a cool video",
		Publisher:   domain.Publisher{Mid: 42, Name: "some uploader"},
		PublishedAt: time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC),
	}
}

func TestEncodeMovieRoundTrip(t *testing.T) {
	v := sampleVideo()
	b, err := EncodeMovie(v, 600, []string{"a", "a", "b"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var out struct {
		Title    string   `xml:"title"`
		UniqueID string   `xml:"uniqueid"`
		Year     int      `xml:"year"`
		Runtime  int      `xml:"runtime"`
		Tags     []string `xml:"tag"`
	}
	if err := xml.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Title != v.Title {
		t.Fatalf("got title %q", out.Title)
	}
	if out.UniqueID != v.BVID {
		t.Fatalf("got uniqueid %q", out.UniqueID)
	}
	if out.Year != 2025 {
		t.Fatalf("got year %d", out.Year)
	}
	if out.Runtime != 10 {
		t.Fatalf("expected runtime in minutes, got %d", out.Runtime)
	}
	if len(out.Tags) != 2 {
		t.Fatalf("expected deduped tags, got %v", out.Tags)
	}
}

func TestEncodeTVShowUsesSeasonTitleWhenSet(t *testing.T) {
	v := sampleVideo()
	v.SeasonTitle = "Season Title Override"
	b, err := EncodeTVShow(v, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var out struct {
		Title string `xml:"title"`
	}
	if err := xml.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Title != "Season Title Override" {
		t.Fatalf("got %q", out.Title)
	}
}

func TestEncodeTVShowFallsBackToVideoTitle(t *testing.T) {
	v := sampleVideo()
	b, err := EncodeTVShow(v, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var out struct {
		Title string `xml:"title"`
	}
	if err := xml.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Title != v.Title {
		t.Fatalf("got %q", out.Title)
	}
}

func TestEncodeEpisodeAlwaysSeasonOne(t *testing.T) {
	v := sampleVideo()
	p := domain.Page{Index: 3, Title: "part three", DurationSeconds: 120}
	b, err := EncodeEpisode(v, p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var out struct {
		Season  int `xml:"season"`
		Episode int `xml:"episode"`
	}
	if err := xml.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Season != 1 {
		t.Fatalf("expected season 1, got %d", out.Season)
	}
	if out.Episode != 3 {
		t.Fatalf("expected episode 3, got %d", out.Episode)
	}
}

func TestEncodePerson(t *testing.T) {
	b, err := EncodePerson(domain.Publisher{Mid: 42, Name: "some uploader"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var out struct {
		Name string `xml:"name"`
	}
	if err := xml.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Name != "some uploader" {
		t.Fatalf("got %q", out.Name)
	}
}
