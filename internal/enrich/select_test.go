package enrich

import (
	"testing"

	"github.com/bilisync/bilisync/internal/client"
	"github.com/bilisync/bilisync/internal/config"
)

func TestSelectTrackPrefersHigherQualityWithinCap(t *testing.T) {
	tracks := []client.StreamTrack{
		{URL: "480p", QualityRank: 2},
		{URL: "1080p", QualityRank: 5},
		{URL: "4k", QualityRank: 8},
	}
	pref := config.QualityPreference{PreferredQualityRank: 5}
	got, ok := selectTrack(tracks, pref)
	if !ok || got.URL != "1080p" {
		t.Fatalf("expected 1080p capped selection, got %+v ok=%v", got, ok)
	}
}

func TestSelectTrackUncappedTakesHighest(t *testing.T) {
	tracks := []client.StreamTrack{
		{URL: "1080p", QualityRank: 5},
		{URL: "4k", QualityRank: 8},
	}
	got, ok := selectTrack(tracks, config.QualityPreference{})
	if !ok || got.URL != "4k" {
		t.Fatalf("expected uncapped 4k selection, got %+v ok=%v", got, ok)
	}
}

func TestSelectTrackTiebreaksOnHDRDolbyHiRes(t *testing.T) {
	tracks := []client.StreamTrack{
		{URL: "plain", QualityRank: 5, CodecRank: 1},
		{URL: "hdr", QualityRank: 5, CodecRank: 1, HDR: true},
		{URL: "dolby", QualityRank: 5, CodecRank: 1, HDR: true, Dolby: true},
	}
	pref := config.QualityPreference{AllowHDR: true, AllowDolby: true}
	got, ok := selectTrack(tracks, pref)
	if !ok || got.URL != "dolby" {
		t.Fatalf("expected dolby to win the tiebreak, got %+v ok=%v", got, ok)
	}
}

func TestSelectTrackIgnoresDisallowedHDR(t *testing.T) {
	tracks := []client.StreamTrack{
		{URL: "plain", QualityRank: 5, CodecRank: 1},
		{URL: "hdr", QualityRank: 5, CodecRank: 1, HDR: true},
	}
	got, ok := selectTrack(tracks, config.QualityPreference{AllowHDR: false})
	if !ok || got.URL != "plain" {
		t.Fatalf("expected hdr bonus to be ignored when not allowed, got %+v ok=%v", got, ok)
	}
}

func TestSelectTrackEmptyReturnsFalse(t *testing.T) {
	if _, ok := selectTrack(nil, config.QualityPreference{}); ok {
		t.Fatalf("expected ok=false for empty candidate list")
	}
}
