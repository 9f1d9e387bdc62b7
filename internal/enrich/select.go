package enrich

import (
	"github.com/bilisync/bilisync/internal/client"
	"github.com/bilisync/bilisync/internal/config"
)

// trackKey is the lexicographic preference tuple spec.md §4.5 ranks
// candidate tracks by: (quality_rank, codec_rank, hdr_allowed,
// dolby_allowed, hi-res_allowed). Quality/codec are capped at the
// config's preferred rank so a viewer who asked for 1080p never gets
// upsold to 4K just because the manifest offers it; a preferred rank of
// zero means "no cap, take whatever the manifest ranks highest".
type trackKey struct {
	quality int
	codec   int
	hdr     bool
	dolby   bool
	hires   bool
}

func capRank(trackRank, preferred int) int {
	if preferred <= 0 || trackRank <= preferred {
		return trackRank
	}
	return preferred
}

func keyFor(t client.StreamTrack, pref config.QualityPreference) trackKey {
	return trackKey{
		quality: capRank(t.QualityRank, pref.PreferredQualityRank),
		codec:   capRank(t.CodecRank, pref.PreferredCodecRank),
		hdr:     t.HDR && pref.AllowHDR,
		dolby:   t.Dolby && pref.AllowDolby,
		hires:   t.HiRes && pref.AllowHiRes,
	}
}

// less reports whether a ranks strictly below b under the tuple's
// lexicographic order.
func (a trackKey) less(b trackKey) bool {
	if a.quality != b.quality {
		return a.quality < b.quality
	}
	if a.codec != b.codec {
		return a.codec < b.codec
	}
	if a.hdr != b.hdr {
		return !a.hdr
	}
	if a.dolby != b.dolby {
		return !a.dolby
	}
	if a.hires != b.hires {
		return !a.hires
	}
	return false
}

// selectTrack picks the single candidate maximizing keyFor's tuple,
// per spec.md §4.5's stream selection policy. Returns (zero, false) for
// an empty candidate list — callers treat that as "manifest offered
// nothing usable" and leave the corresponding URL field empty.
func selectTrack(tracks []client.StreamTrack, pref config.QualityPreference) (client.StreamTrack, bool) {
	if len(tracks) == 0 {
		return client.StreamTrack{}, false
	}
	aboveCap := func(t client.StreamTrack) bool {
		return (pref.PreferredQualityRank > 0 && t.QualityRank > pref.PreferredQualityRank) ||
			(pref.PreferredCodecRank > 0 && t.CodecRank > pref.PreferredCodecRank)
	}
	best := tracks[0]
	bestKey := keyFor(best, pref)
	for _, t := range tracks[1:] {
		k := keyFor(t, pref)
		// A track above the cap ties with one at the cap; the tie goes to
		// the track within the cap so listing order cannot upsell.
		if bestKey.less(k) || (k == bestKey && aboveCap(best) && !aboveCap(t)) {
			best, bestKey = t, k
		}
	}
	return best, true
}
