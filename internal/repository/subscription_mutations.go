package repository

import (
	"fmt"

	"github.com/bilisync/bilisync/internal/domain"
)

// CreateFavorite inserts a new favorites subscription and returns its id.
func (r *Repository) CreateFavorite(sub domain.Subscription) (int64, error) {
	row := FavoriteRow{
		MediaID:            sub.FavoritesMediaID,
		Title:              sub.Title,
		RootPath:           sub.RootPath,
		Enabled:            sub.Enabled,
		MinDurationSeconds: sub.Filter.MinDurationSeconds,
		TitleRegex:         sub.Filter.TitleRegex,
		ScheduleExpr:       sub.ScheduleExpr,
	}
	if err := r.db.Create(&row).Error; err != nil {
		return 0, fmt.Errorf("repository: create favorite: %w", err)
	}
	return row.ID, nil
}

// CreateCollection inserts a new collection (series or season) subscription.
func (r *Repository) CreateCollection(sub domain.Subscription) (int64, error) {
	row := CollectionRow{
		CollectionID:       sub.CollectionID,
		Mid:                sub.CollectionMid,
		Kind:               int(sub.CollectionKind),
		Title:              sub.Title,
		RootPath:           sub.RootPath,
		Enabled:            sub.Enabled,
		MinDurationSeconds: sub.Filter.MinDurationSeconds,
		TitleRegex:         sub.Filter.TitleRegex,
		ScheduleExpr:       sub.ScheduleExpr,
	}
	if err := r.db.Create(&row).Error; err != nil {
		return 0, fmt.Errorf("repository: create collection: %w", err)
	}
	return row.ID, nil
}

// CreateSubmission inserts a new per-creator submissions subscription.
func (r *Repository) CreateSubmission(sub domain.Subscription) (int64, error) {
	row := SubmissionRow{
		Mid:                sub.SubmissionsMid,
		Flavor:             int(sub.SubmissionsFlavor),
		Title:              sub.Title,
		RootPath:           sub.RootPath,
		Enabled:            sub.Enabled,
		MinDurationSeconds: sub.Filter.MinDurationSeconds,
		TitleRegex:         sub.Filter.TitleRegex,
		ScheduleExpr:       sub.ScheduleExpr,
	}
	if err := r.db.Create(&row).Error; err != nil {
		return 0, fmt.Errorf("repository: create submission: %w", err)
	}
	return row.ID, nil
}

// EnsureWatchLater upserts the singleton watch_later row (id=1, spec.md
// §6) with sub's settings, creating it on first use.
func (r *Repository) EnsureWatchLater(sub domain.Subscription) error {
	row := WatchLaterRow{
		ID:                 1,
		RootPath:           sub.RootPath,
		Enabled:            sub.Enabled,
		MinDurationSeconds: sub.Filter.MinDurationSeconds,
		TitleRegex:         sub.Filter.TitleRegex,
		ScheduleExpr:       sub.ScheduleExpr,
	}
	if err := r.db.Save(&row).Error; err != nil {
		return fmt.Errorf("repository: ensure watch_later: %w", err)
	}
	return nil
}

// subscriptionTable returns the GORM model pointer owning sub.Kind, for
// the handful of mutations (schedule, enabled, delete) that apply
// uniformly across all four kinds.
func (r *Repository) subscriptionTable(kind domain.SubscriptionKind) (any, error) {
	switch kind {
	case domain.KindFavorites:
		return &FavoriteRow{}, nil
	case domain.KindCollection:
		return &CollectionRow{}, nil
	case domain.KindSubmissions:
		return &SubmissionRow{}, nil
	case domain.KindWatchLater:
		return &WatchLaterRow{}, nil
	default:
		return nil, fmt.Errorf("repository: unknown subscription kind %v", kind)
	}
}

// UpdateSchedule persists a new cron expression for sub (spec.md §4.9's
// per-subscription override of the default poll interval).
func (r *Repository) UpdateSchedule(sub domain.Subscription, expr string) error {
	model, err := r.subscriptionTable(sub.Kind)
	if err != nil {
		return err
	}
	if err := r.db.Model(model).Where("id = ?", sub.ID).Update("schedule_expr", expr).Error; err != nil {
		return fmt.Errorf("repository: update schedule: %w", err)
	}
	return nil
}

// SetSubscriptionEnabled flips sub's enabled flag, the switch the
// scheduler's Reload consults to add or remove its cron entry.
func (r *Repository) SetSubscriptionEnabled(sub domain.Subscription, enabled bool) error {
	model, err := r.subscriptionTable(sub.Kind)
	if err != nil {
		return err
	}
	if err := r.db.Model(model).Where("id = ?", sub.ID).Update("enabled", enabled).Error; err != nil {
		return fmt.Errorf("repository: set subscription enabled: %w", err)
	}
	return nil
}

// DeleteSubscription removes sub's row. Video and page rows discovered
// under it are left in place — deleting a subscription stops tracking
// it, it does not delete already-downloaded files or their bookkeeping
// (spec.md §9 draws the same line for status resets).
func (r *Repository) DeleteSubscription(sub domain.Subscription) error {
	model, err := r.subscriptionTable(sub.Kind)
	if err != nil {
		return err
	}
	if err := r.db.Where("id = ?", sub.ID).Delete(model).Error; err != nil {
		return fmt.Errorf("repository: delete subscription: %w", err)
	}
	return nil
}
