package source

import (
	"context"

	"github.com/bilisync/bilisync/internal/client"
	"github.com/bilisync/bilisync/internal/domain"
)

// favoritesSource discovers videos saved to a single bilibili "favorites"
// (media list) folder, page-paginated newest-first (spec.md §3's
// Favorites variant).
type favoritesSource struct{}

func (favoritesSource) Discover(ctx context.Context, c client.Client, sub domain.Subscription) (Result, error) {
	return discoverPaged(sub.LatestRowAt, sub.Filter, func(page int) ([]client.ListingDescriptor, bool, error) {
		return c.ListFavorites(ctx, sub.FavoritesMediaID, page)
	})
}
