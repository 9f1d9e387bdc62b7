package source

import (
	"context"
	"sync"

	"github.com/bilisync/bilisync/internal/client"
	"github.com/bilisync/bilisync/internal/domain"
)

// seasonTitleCache memoizes NormalizeSeasonTitle(sub.Title) per
// subscription id so a multi-page discovery pass normalizes the title
// once instead of once per accepted video. Supplemented from
// original_source's bangumi adapter, which caches a collection's
// resolved season title in a process-wide map for the same reason
// (avoid refetching/recomputing it once per listing page).
var seasonTitleCache sync.Map // map[int64]string, keyed by Subscription.ID

// collectionSource discovers videos belonging to a curated collection
// (spec.md §3's Collection variant, covering both the Series and Season
// sub-variants — they share one listing shape, differing only in how
// the resulting video's SeasonTitle is used downstream by Materialization).
type collectionSource struct{}

func (collectionSource) Discover(ctx context.Context, c client.Client, sub domain.Subscription) (Result, error) {
	res, err := discoverPaged(sub.LatestRowAt, sub.Filter, func(page int) ([]client.ListingDescriptor, bool, error) {
		return c.ListCollection(ctx, sub.CollectionID, sub.CollectionMid, page)
	})
	if err != nil {
		return Result{}, err
	}

	if sub.CollectionKind == domain.CollectionSeason {
		title := cachedSeasonTitle(sub)
		for i := range res.Videos {
			res.Videos[i].SeasonTitle = title
		}
	}
	return res, nil
}

func cachedSeasonTitle(sub domain.Subscription) string {
	if v, ok := seasonTitleCache.Load(sub.ID); ok {
		return v.(string)
	}
	title := NormalizeSeasonTitle(sub.Title)
	seasonTitleCache.Store(sub.ID, title)
	return title
}
