package source

import (
	"context"

	"github.com/bilisync/bilisync/internal/bilierr"
	"github.com/bilisync/bilisync/internal/client"
	"github.com/bilisync/bilisync/internal/domain"
)

// watchLaterSource discovers the authenticated account's "watch later"
// queue (spec.md §3's singleton WatchLater variant). Unlike the other
// three variants it has no page_feed cursor of its own: the endpoint
// returns the whole queue in one call, so should_take/should_filter is
// applied to that single batch.
type watchLaterSource struct{}

func (watchLaterSource) Discover(ctx context.Context, c client.Client, sub domain.Subscription) (Result, error) {
	// Supplemented from original_source's me.rs: confirm the credential
	// is still valid before trusting the queue contents, so an expired
	// credential surfaces as a config problem rather than silently
	// looking like "watch later is empty" every cycle from now on.
	if err := c.Whoami(ctx); err != nil {
		return Result{}, &bilierr.ConfigInvalid{Field: "credential", Reason: "watch later: " + err.Error()}
	}

	items, err := c.ListWatchLater(ctx)
	if err != nil {
		return Result{}, err
	}
	accepted, _, newest := accumulate(items, sub.LatestRowAt, sub.Filter)
	return Result{Videos: accepted, NewWatermark: newest}, nil
}
