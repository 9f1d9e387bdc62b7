package repository

import (
	"testing"

	"github.com/bilisync/bilisync/internal/domain"
)

func TestCreateFavoriteThenListSubscriptions(t *testing.T) {
	r := openTest(t)
	id, err := r.CreateFavorite(domain.Subscription{
		FavoritesMediaID: 555,
		Title:            "gaming clips",
		RootPath:         "/media/gaming",
		Enabled:          true,
		ScheduleExpr:     "@every 15m",
	})
	if err != nil {
		t.Fatalf("create favorite: %v", err)
	}
	if id == 0 {
		t.Fatalf("expected a nonzero id")
	}

	subs, err := r.ListSubscriptions()
	if err != nil {
		t.Fatalf("list subscriptions: %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("expected 1 subscription, got %d", len(subs))
	}
	if subs[0].ScheduleExpr != "@every 15m" {
		t.Fatalf("expected schedule to round trip, got %q", subs[0].ScheduleExpr)
	}
}

func TestCreateCollectionAndSubmission(t *testing.T) {
	r := openTest(t)
	if _, err := r.CreateCollection(domain.Subscription{
		CollectionID:   9001,
		CollectionMid:  42,
		CollectionKind: domain.CollectionSeason,
		Title:          "a series",
		RootPath:       "/media/series",
		Enabled:        true,
	}); err != nil {
		t.Fatalf("create collection: %v", err)
	}
	if _, err := r.CreateSubmission(domain.Subscription{
		SubmissionsMid:    77,
		SubmissionsFlavor: domain.SubmissionsCursor,
		Title:             "a creator",
		RootPath:          "/media/creator",
		Enabled:           true,
	}); err != nil {
		t.Fatalf("create submission: %v", err)
	}

	subs, err := r.ListSubscriptions()
	if err != nil {
		t.Fatalf("list subscriptions: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("expected 2 subscriptions, got %d", len(subs))
	}
}

func TestEnsureWatchLaterIsIdempotent(t *testing.T) {
	r := openTest(t)
	sub := domain.Subscription{Kind: domain.KindWatchLater, RootPath: "/media/watch-later", Enabled: true}
	if err := r.EnsureWatchLater(sub); err != nil {
		t.Fatalf("ensure watch later: %v", err)
	}
	sub.RootPath = "/media/watch-later-renamed"
	if err := r.EnsureWatchLater(sub); err != nil {
		t.Fatalf("ensure watch later again: %v", err)
	}

	subs, err := r.ListSubscriptions()
	if err != nil {
		t.Fatalf("list subscriptions: %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("expected the singleton row, got %d", len(subs))
	}
	if subs[0].RootPath != "/media/watch-later-renamed" {
		t.Fatalf("expected second call to overwrite, got %q", subs[0].RootPath)
	}
}

func TestListAllSubscriptionsIncludesDisabled(t *testing.T) {
	r := openTest(t)
	id, err := r.CreateFavorite(domain.Subscription{FavoritesMediaID: 1, Title: "x", RootPath: "/x", Enabled: false})
	if err != nil {
		t.Fatalf("create favorite: %v", err)
	}

	enabled, err := r.ListSubscriptions()
	if err != nil {
		t.Fatalf("list subscriptions: %v", err)
	}
	if len(enabled) != 0 {
		t.Fatalf("expected a disabled subscription to be excluded, got %d", len(enabled))
	}

	all, err := r.ListAllSubscriptions()
	if err != nil {
		t.Fatalf("list all subscriptions: %v", err)
	}
	if len(all) != 1 || all[0].ID != id {
		t.Fatalf("expected the disabled subscription in the unfiltered list, got %+v", all)
	}
}

func TestSetSubscriptionEnabledAndDelete(t *testing.T) {
	r := openTest(t)
	id, err := r.CreateFavorite(domain.Subscription{FavoritesMediaID: 1, Title: "x", RootPath: "/x", Enabled: true})
	if err != nil {
		t.Fatalf("create favorite: %v", err)
	}
	sub := domain.Subscription{ID: id, Kind: domain.KindFavorites}

	if err := r.SetSubscriptionEnabled(sub, false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	subs, err := r.ListSubscriptions()
	if err != nil {
		t.Fatalf("list subscriptions: %v", err)
	}
	if len(subs) != 0 {
		t.Fatalf("expected disabled subscription to be excluded, got %d", len(subs))
	}

	if err := r.SetSubscriptionEnabled(sub, true); err != nil {
		t.Fatalf("re-enable: %v", err)
	}
	if err := r.UpdateSchedule(sub, "@every 5m"); err != nil {
		t.Fatalf("update schedule: %v", err)
	}
	subs, err = r.ListSubscriptions()
	if err != nil {
		t.Fatalf("list subscriptions: %v", err)
	}
	if len(subs) != 1 || subs[0].ScheduleExpr != "@every 5m" {
		t.Fatalf("expected re-enabled subscription with new schedule, got %+v", subs)
	}

	if err := r.DeleteSubscription(sub); err != nil {
		t.Fatalf("delete: %v", err)
	}
	subs, err = r.ListSubscriptions()
	if err != nil {
		t.Fatalf("list subscriptions: %v", err)
	}
	if len(subs) != 0 {
		t.Fatalf("expected no subscriptions after delete, got %d", len(subs))
	}
}
