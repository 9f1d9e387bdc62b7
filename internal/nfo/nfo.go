// Package nfo renders the Kodi/Jellyfin/Emby-compatible sidecar XML
// files spec.md §6 requires alongside downloaded media: a movie.nfo for
// single-page videos, a tvshow.nfo plus per-page episode NFOs for
// multi-page videos, and a person.nfo for each publisher.
//
// Adapted from AVMC's internal/nfo, which encodes exactly one of these
// (a single movie.nfo per title) via encoding/xml. This package keeps
// the same marshal-then-prefix-header technique but generalizes it to
// the four NFO shapes bilibili's video/publisher model actually needs.
package nfo

import "encoding/xml"

const xmlHeader = `<?xml version="1.0" encoding="UTF-8" standalone="yes" ?>` + "\n"

func marshal(v any) ([]byte, error) {
	b, err := xml.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xmlHeader), b...), nil
}

func normList(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
