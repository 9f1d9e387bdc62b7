// Package source implements the four Subscription Sources of spec.md
// §4.4: one page_feed/should_take/filter_expr combination per
// SubscriptionKind, dispatched at compile time rather than through an
// open plugin registry (spec.md's closed-variant-set design note).
//
// Grounded on AVMC's provider.Provider abstraction (internal/provider's
// javdb/javbus implementations of one shared interface, selected by
// code prefix) — generalized here from "one active provider, selected
// by configuration" to "one Source per subscription row, selected by
// its Kind".
package source

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/bilisync/bilisync/internal/client"
	"github.com/bilisync/bilisync/internal/domain"
)

// Result is one discovery pass's output: the videos accepted by the
// subscription's should_take/should_filter rules, and the new watermark
// to persist once the caller commits them (spec.md §4.4).
type Result struct {
	Videos       []domain.Video
	NewWatermark time.Time
}

// Source is implemented once per domain.SubscriptionKind.
type Source interface {
	Discover(ctx context.Context, c client.Client, sub domain.Subscription) (Result, error)
}

// For returns the Source implementation for sub.Kind.
func For(sub domain.Subscription) (Source, error) {
	switch sub.Kind {
	case domain.KindFavorites:
		return favoritesSource{}, nil
	case domain.KindCollection:
		return collectionSource{}, nil
	case domain.KindSubmissions:
		return submissionsSource{}, nil
	case domain.KindWatchLater:
		return watchLaterSource{}, nil
	default:
		return nil, fmt.Errorf("source: unknown subscription kind %v", sub.Kind)
	}
}

// passesFilter applies a subscription's FilterRule title constraint at
// discovery time (spec.md §4.5's filter_expr); MinDurationSeconds can't
// be evaluated yet since bilibili only reports a video's duration once
// its pages are fetched, so Enrichment re-applies it there.
func passesFilter(title string, rule domain.FilterRule) bool {
	if rule.TitleRegex == "" {
		return true
	}
	re, err := regexp.Compile(rule.TitleRegex)
	if err != nil {
		// An unparsable user-supplied regex must not silently admit
		// everything; treat it as "filters out everything" instead.
		return false
	}
	return re.MatchString(title)
}

func toDomainVideo(d client.ListingDescriptor) domain.Video {
	return domain.Video{
		BVID:        d.BVID,
		AID:         d.AID,
		Title:       d.Title,
		Publisher:   domain.Publisher{Mid: d.Publisher.Mid, Name: d.Publisher.Name, AvatarURL: d.Publisher.AvatarURL},
		PublishedAt: d.PublishedAt,
		Valid:       true,
		Category:    domain.CategorySinglePage, // refined by Enrichment once page count is known
	}
}

// accumulate applies should_take (stop once items are no newer than the
// watermark) and should_filter (the title rule) to one page of
// descriptors, returning accepted videos and whether the feed should
// keep paginating (it stops early once it reaches already-seen items,
// since every feed this package reads is newest-first).
func accumulate(items []client.ListingDescriptor, watermark time.Time, rule domain.FilterRule) (accepted []domain.Video, keepGoing bool, newest time.Time) {
	newest = watermark
	keepGoing = true
	for _, d := range items {
		if !d.PublishedAt.After(watermark) {
			keepGoing = false
			continue
		}
		if d.PublishedAt.After(newest) {
			newest = d.PublishedAt
		}
		if !passesFilter(d.Title, rule) {
			continue
		}
		accepted = append(accepted, toDomainVideo(d))
	}
	return accepted, keepGoing, newest
}

// pageFetcher is one page of a page-number-paginated listing endpoint:
// ListFavorites, ListCollection, and ListSubmissionsLegacy all share this
// shape (items, hasMore, error).
type pageFetcher func(page int) ([]client.ListingDescriptor, bool, error)

// discoverPaged drives a page-number-paginated Subscription Source:
// fetch page 1, 2, ... applying accumulate's should_take/should_filter
// logic to each page, stopping as soon as a page's oldest item is no
// newer than the watermark (spec.md §4.4: "iteration stops" -> steady
// state is O(new items), not O(total)) or the endpoint reports no more
// pages.
func discoverPaged(watermark time.Time, rule domain.FilterRule, fetch pageFetcher) (Result, error) {
	var accepted []domain.Video
	newest := watermark
	for page := 1; ; page++ {
		items, hasMore, err := fetch(page)
		if err != nil {
			return Result{}, err
		}
		if len(items) == 0 {
			break
		}
		got, keepGoing, pageNewest := accumulate(items, watermark, rule)
		accepted = append(accepted, got...)
		if pageNewest.After(newest) {
			newest = pageNewest
		}
		if !keepGoing || !hasMore {
			break
		}
	}
	return Result{Videos: accepted, NewWatermark: newest}, nil
}

// NormalizeSeasonTitle trims noise bilibili sometimes includes in a
// Collection/Season's display title (a trailing "合集" suffix and
// surrounding whitespace; other suffixes are kept), so the same logical
// season doesn't produce
// different tvshow.nfo titles across videos discovered at different
// times. Supplemented from original_source's season-title handling,
// which the distilled spec.md doesn't mention.
func NormalizeSeasonTitle(raw string) string {
	t := strings.TrimSpace(raw)
	t = strings.TrimSuffix(t, "合集")
	t = strings.TrimSpace(t)
	return t
}
