package source

import (
	"context"
	"time"

	"github.com/bilisync/bilisync/internal/client"
	"github.com/bilisync/bilisync/internal/domain"
)

// submissionsSource discovers a creator's uploads, via whichever of
// bilibili's two listing endpoints the subscription's SubmissionsFlavor
// selects (spec.md §3's Submissions variant).
type submissionsSource struct{}

func (submissionsSource) Discover(ctx context.Context, c client.Client, sub domain.Subscription) (Result, error) {
	switch sub.SubmissionsFlavor {
	case domain.SubmissionsCursor:
		return discoverCursor(sub.LatestRowAt, sub.Filter, func(cursor time.Time) ([]client.ListingDescriptor, bool, error) {
			return c.ListSubmissionsCursor(ctx, sub.SubmissionsMid, cursor)
		})
	default:
		return discoverPaged(sub.LatestRowAt, sub.Filter, func(page int) ([]client.ListingDescriptor, bool, error) {
			return c.ListSubmissionsLegacy(ctx, sub.SubmissionsMid, page)
		})
	}
}

// cursorFetcher is one batch of a publish-time-cursor-paginated listing
// endpoint: ListSubmissionsCursor returns every item newer than cursor,
// newest first, plus whether more remain beyond what was returned.
type cursorFetcher func(cursor time.Time) ([]client.ListingDescriptor, bool, error)

// discoverCursor is discoverPaged's twin for endpoints paginated by
// publish timestamp rather than page number: each batch's oldest item
// becomes the next cursor, so the loop naturally converges on the
// watermark without ever re-requesting an already-seen item.
func discoverCursor(watermark time.Time, rule domain.FilterRule, fetch cursorFetcher) (Result, error) {
	var accepted []domain.Video
	newest := watermark
	cursor := watermark
	for {
		items, hasMore, err := fetch(cursor)
		if err != nil {
			return Result{}, err
		}
		if len(items) == 0 {
			break
		}
		got, keepGoing, batchNewest := accumulate(items, watermark, rule)
		accepted = append(accepted, got...)
		if batchNewest.After(newest) {
			newest = batchNewest
		}
		if !keepGoing || !hasMore {
			break
		}
		cursor = items[len(items)-1].PublishedAt
	}
	return Result{Videos: accepted, NewWatermark: newest}, nil
}
