package repository

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/bilisync/bilisync/internal/domain"
)

// ListSubscriptions loads every enabled row from all four subscription
// tables and maps each back to the polymorphic domain.Subscription the
// rest of the system operates on (spec.md §2's tagged-union model).
func (r *Repository) ListSubscriptions() ([]domain.Subscription, error) {
	return r.listSubscriptions(true)
}

// ListAllSubscriptions loads every row regardless of Enabled, for
// management surfaces (the CLI's list/enable/disable commands) that need
// to see and re-enable a currently-disabled subscription — a case
// ListSubscriptions deliberately excludes since the Task Manager should
// never schedule one.
func (r *Repository) ListAllSubscriptions() ([]domain.Subscription, error) {
	return r.listSubscriptions(false)
}

func (r *Repository) listSubscriptions(enabledOnly bool) ([]domain.Subscription, error) {
	var out []domain.Subscription

	favQuery := r.db.Model(&FavoriteRow{})
	if enabledOnly {
		favQuery = favQuery.Where("enabled = ?", true)
	}
	var favs []FavoriteRow
	if err := favQuery.Find(&favs).Error; err != nil {
		return nil, fmt.Errorf("repository: list favorites: %w", err)
	}
	for _, f := range favs {
		out = append(out, domain.Subscription{
			ID:               f.ID,
			Kind:             domain.KindFavorites,
			FavoritesMediaID: f.MediaID,
			Title:            f.Title,
			RootPath:         f.RootPath,
			LatestRowAt:      f.LatestRowAt,
			Enabled:          f.Enabled,
			Filter:           domain.FilterRule{MinDurationSeconds: f.MinDurationSeconds, TitleRegex: f.TitleRegex},
			ScheduleExpr:     f.ScheduleExpr,
		})
	}

	colQuery := r.db.Model(&CollectionRow{})
	if enabledOnly {
		colQuery = colQuery.Where("enabled = ?", true)
	}
	var cols []CollectionRow
	if err := colQuery.Find(&cols).Error; err != nil {
		return nil, fmt.Errorf("repository: list collections: %w", err)
	}
	for _, c := range cols {
		out = append(out, domain.Subscription{
			ID:             c.ID,
			Kind:           domain.KindCollection,
			CollectionID:   c.CollectionID,
			CollectionMid:  c.Mid,
			CollectionKind: domain.CollectionKind(c.Kind),
			Title:          c.Title,
			RootPath:       c.RootPath,
			LatestRowAt:    c.LatestRowAt,
			Enabled:        c.Enabled,
			Filter:         domain.FilterRule{MinDurationSeconds: c.MinDurationSeconds, TitleRegex: c.TitleRegex},
			ScheduleExpr:   c.ScheduleExpr,
		})
	}

	subQuery := r.db.Model(&SubmissionRow{})
	if enabledOnly {
		subQuery = subQuery.Where("enabled = ?", true)
	}
	var subs []SubmissionRow
	if err := subQuery.Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("repository: list submissions: %w", err)
	}
	for _, s := range subs {
		out = append(out, domain.Subscription{
			ID:                s.ID,
			Kind:              domain.KindSubmissions,
			SubmissionsMid:    s.Mid,
			SubmissionsFlavor: domain.SubmissionsFlavor(s.Flavor),
			Title:             s.Title,
			RootPath:          s.RootPath,
			LatestRowAt:       s.LatestRowAt,
			Enabled:           s.Enabled,
			Filter:            domain.FilterRule{MinDurationSeconds: s.MinDurationSeconds, TitleRegex: s.TitleRegex},
			ScheduleExpr:      s.ScheduleExpr,
		})
	}

	var wl WatchLaterRow
	err := r.db.First(&wl, 1).Error
	if err == nil && (wl.Enabled || !enabledOnly) {
		out = append(out, domain.Subscription{
			ID:           wl.ID,
			Kind:         domain.KindWatchLater,
			Title:        "Watch Later",
			RootPath:     wl.RootPath,
			LatestRowAt:  wl.LatestRowAt,
			Enabled:      wl.Enabled,
			Filter:       domain.FilterRule{MinDurationSeconds: wl.MinDurationSeconds, TitleRegex: wl.TitleRegex},
			ScheduleExpr: wl.ScheduleExpr,
		})
	} else if err != nil && err != gorm.ErrRecordNotFound {
		return nil, fmt.Errorf("repository: load watch_later: %w", err)
	}

	return out, nil
}

// AdvanceWatermark persists the new LatestRowAt for sub after a
// discovery pass completes (spec.md §4.4's watermark advancement),
// routed to whichever table owns sub.Kind.
func (r *Repository) AdvanceWatermark(sub domain.Subscription, newest time.Time) error {
	var err error
	switch sub.Kind {
	case domain.KindFavorites:
		err = r.db.Model(&FavoriteRow{}).Where("id = ?", sub.ID).Update("latest_row_at", newest).Error
	case domain.KindCollection:
		err = r.db.Model(&CollectionRow{}).Where("id = ?", sub.ID).Update("latest_row_at", newest).Error
	case domain.KindSubmissions:
		err = r.db.Model(&SubmissionRow{}).Where("id = ?", sub.ID).Update("latest_row_at", newest).Error
	case domain.KindWatchLater:
		err = r.db.Model(&WatchLaterRow{}).Where("id = ?", sub.ID).Update("latest_row_at", newest).Error
	default:
		return fmt.Errorf("repository: advance watermark: unknown kind %v", sub.Kind)
	}
	if err != nil {
		return fmt.Errorf("repository: advance watermark: %w", err)
	}
	return nil
}
