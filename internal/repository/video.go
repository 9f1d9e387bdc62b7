package repository

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bilisync/bilisync/internal/domain"
	"github.com/bilisync/bilisync/internal/statuscode"
)

// fkColumn returns the FK column name owned by sub.Kind and the row ID
// to store in it, enforcing invariant V1 (exactly one non-null
// subscription FK per video).
func fkColumn(sub domain.Subscription) (string, int64, error) {
	switch sub.Kind {
	case domain.KindFavorites:
		return "favorite_id", sub.ID, nil
	case domain.KindCollection:
		return "collection_id", sub.ID, nil
	case domain.KindSubmissions:
		return "submission_id", sub.ID, nil
	case domain.KindWatchLater:
		return "watch_later_id", sub.ID, nil
	default:
		return "", 0, fmt.Errorf("repository: unknown subscription kind %v", sub.Kind)
	}
}

// UpsertVideos inserts newly discovered videos or updates the mutable
// metadata (title, publisher, validity) of ones already on file, keyed
// on BVID. New rows start from statuscode.New(), so every field is
// eligible to run (spec.md §4.4's discovery-to-enrichment handoff).
// Never touches DownloadStatus for rows that already exist — discovery
// must not undo enrichment/materialization progress.
func (r *Repository) UpsertVideos(sub domain.Subscription, videos []domain.Video) error {
	if len(videos) == 0 {
		return nil
	}
	col, id, err := fkColumn(sub)
	if err != nil {
		return err
	}

	rows := make([]VideoRow, 0, len(videos))
	for _, v := range videos {
		row := VideoRow{
			BVID:               v.BVID,
			AID:                v.AID,
			Title:              v.Title,
			PublisherMid:       v.Publisher.Mid,
			PublisherName:      v.Publisher.Name,
			PublisherAvatarURL: v.Publisher.AvatarURL,
			PublishedAt:        v.PublishedAt,
			Valid:              v.Valid,
			Category:           int(v.Category),
			SeasonTitle:        v.SeasonTitle,
			CoverURL:           v.CoverURL,
			TagsRaw:            encodeURLs(v.Tags),
			DownloadStatus:     uint32(statuscode.New()),
		}
		switch col {
		case "favorite_id":
			row.FavoriteID = &id
		case "collection_id":
			row.CollectionID = &id
		case "submission_id":
			row.SubmissionID = &id
		case "watch_later_id":
			row.WatchLaterID = &id
		}
		rows = append(rows, row)
	}

	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "bvid"}},
		DoUpdates: clause.AssignmentColumns([]string{"title", "publisher_mid", "publisher_name", "publisher_avatar_url", "published_at", "valid", "season_title"}),
		// cover_url/tags_raw are deliberately excluded here: they arrive
		// from the detail endpoint, not the listing endpoint, so a
		// re-discovered row must not clobber what Enrichment already
		// wrote via SetVideoMeta.
	}).Create(&rows).Error
}

// SelectPending returns videos belonging to sub that are still valid and
// have at least one outstanding field, either on the video's own status
// word or on any page owned by it (spec.md §4.2's select_pending
// predicate: valid = true AND (should_run(video) OR any page
// should_run)), newest publication first and remote id ascending as a
// tie-break (spec.md §4.6's materialization ordering).
func (r *Repository) SelectPending(sub domain.Subscription) ([]domain.Video, error) {
	col, id, err := fkColumn(sub)
	if err != nil {
		return nil, err
	}

	var rows []VideoRow
	if err := r.db.Where(fmt.Sprintf("%s = ?", col), id).
		Where("valid = ?", true).
		Order("published_at DESC, aid ASC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("repository: select pending: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	videoIDs := make([]int64, len(rows))
	for i, row := range rows {
		videoIDs[i] = row.ID
	}
	var pages []PageRow
	if err := r.db.Where("video_id IN ?", videoIDs).Find(&pages).Error; err != nil {
		return nil, fmt.Errorf("repository: select pending: list pages: %w", err)
	}
	pagePending := make(map[int64]bool, len(rows))
	for _, p := range pages {
		if statuscode.AnyShouldRun(statuscode.Word(p.DownloadStatus)) {
			pagePending[p.VideoID] = true
		}
	}

	out := make([]domain.Video, 0, len(rows))
	for _, row := range rows {
		w := statuscode.Word(row.DownloadStatus)
		if !statuscode.AnyShouldRun(w) && !pagePending[row.ID] {
			continue
		}
		out = append(out, rowToVideo(row))
	}
	return out, nil
}

func rowToVideo(row VideoRow) domain.Video {
	var subID int64
	switch {
	case row.FavoriteID != nil:
		subID = *row.FavoriteID
	case row.CollectionID != nil:
		subID = *row.CollectionID
	case row.SubmissionID != nil:
		subID = *row.SubmissionID
	case row.WatchLaterID != nil:
		subID = *row.WatchLaterID
	}
	return domain.Video{
		ID:             row.ID,
		SubscriptionID: subID,
		BVID:           row.BVID,
		AID:            row.AID,
		Title:          row.Title,
		Publisher:      domain.Publisher{Mid: row.PublisherMid, Name: row.PublisherName, AvatarURL: row.PublisherAvatarURL},
		PublishedAt:    row.PublishedAt,
		Valid:          row.Valid,
		Status:         statuscode.Word(row.DownloadStatus),
		Category:       domain.VideoCategory(row.Category),
		SeasonTitle:    row.SeasonTitle,
		CoverURL:       row.CoverURL,
		Tags:           decodeURLs(row.TagsRaw),
	}
}

// SetVideoMeta persists the detail-only fields Enrichment discovers
// (cover image URL, tag list) that UpsertVideos deliberately never
// touches, since the listing endpoint that drives UpsertVideos doesn't
// carry them.
func (r *Repository) SetVideoMeta(videoID int64, coverURL string, tags []string) error {
	updates := map[string]any{
		"cover_url": coverURL,
		"tags_raw":  encodeURLs(tags),
	}
	if err := r.db.Model(&VideoRow{}).Where("id = ?", videoID).Updates(updates).Error; err != nil {
		return fmt.Errorf("repository: set video meta: video %d: %w", videoID, err)
	}
	return nil
}

// UpdateStatus advances the named field of video's status word via a
// compare-and-set loop: reread the committed word, compute the next
// value with statuscode.Advance, write back only if the row wasn't
// concurrently changed. Mirrors AVMC's cache package writing through a
// temp-file-then-rename instead of in place — here the analogous
// "never clobber a concurrent writer" guarantee comes from the WHERE
// download_status = ? on the UPDATE.
func (r *Repository) UpdateStatus(videoID int64, field int, succeeded bool) error {
	for attempt := 0; attempt < 8; attempt++ {
		var row VideoRow
		if err := r.db.Select("id", "download_status").First(&row, videoID).Error; err != nil {
			return fmt.Errorf("repository: update status: load video %d: %w", videoID, err)
		}
		next := statuscode.Advance(statuscode.Word(row.DownloadStatus), field, succeeded)
		res := r.db.Model(&VideoRow{}).
			Where("id = ? AND download_status = ?", videoID, row.DownloadStatus).
			Update("download_status", uint32(next))
		if res.Error != nil {
			return fmt.Errorf("repository: update status: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			return nil
		}
		// Lost the race against a concurrent writer; retry with a fresh read.
	}
	return fmt.Errorf("repository: update status: video %d: too much contention", videoID)
}

// RefreshPagesDownloaded recomputes the video-level VideoPagesDownloaded
// rollup from the terminal state of its pages (spec.md §4.6: a video's
// pages_downloaded field succeeds once every page's statuscode word is
// all-terminal). Written directly via setFieldDirect rather than through
// UpdateStatus/Advance: pages_downloaded mirrors derived state, it isn't
// an attempt in its own right, so a video whose pages are still
// legitimately downloading across many slow cycles must not have this
// field's retry counter climb and eventually saturate to Failed with
// nothing ever having failed.
func (r *Repository) RefreshPagesDownloaded(videoID int64) error {
	var pages []PageRow
	if err := r.db.Where("video_id = ?", videoID).Find(&pages).Error; err != nil {
		return fmt.Errorf("repository: refresh pages_downloaded: list pages: %w", err)
	}
	allDone := true
	for _, p := range pages {
		if !statuscode.AllTerminal(statuscode.Word(p.DownloadStatus)) {
			allDone = false
			break
		}
	}
	return r.setFieldDirect(videoID, statuscode.VideoPagesDownloaded, allDone)
}

// setFieldDirect writes field's raw value directly — 0 if done, else
// statuscode.Pending — via the same compare-and-set loop UpdateStatus
// uses, without routing through statuscode.Advance. Use this for rollup
// fields that mirror other state rather than count discrete attempts.
func (r *Repository) setFieldDirect(videoID int64, field int, done bool) error {
	value := statuscode.Pending
	if done {
		value = 0
	}
	for attempt := 0; attempt < 8; attempt++ {
		var row VideoRow
		if err := r.db.Select("id", "download_status").First(&row, videoID).Error; err != nil {
			return fmt.Errorf("repository: set field: load video %d: %w", videoID, err)
		}
		next := statuscode.Set(statuscode.Word(row.DownloadStatus), field, value)
		res := r.db.Model(&VideoRow{}).
			Where("id = ? AND download_status = ?", videoID, row.DownloadStatus).
			Update("download_status", uint32(next))
		if res.Error != nil {
			return fmt.Errorf("repository: set field: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			return nil
		}
	}
	return fmt.Errorf("repository: set field: video %d: too much contention", videoID)
}

// ResetStatus clears either the whole status word (fields == nil) or a
// named subset, for use by a user-initiated re-download (spec.md §9's
// "reset and re-run" escape hatch for permanently failed fields).
func (r *Repository) ResetStatus(videoID int64, fields []int) error {
	var row VideoRow
	if err := r.db.Select("id", "download_status").First(&row, videoID).Error; err != nil {
		return fmt.Errorf("repository: reset status: load video %d: %w", videoID, err)
	}
	w := statuscode.Word(row.DownloadStatus)
	if len(fields) == 0 {
		w = statuscode.Reset(w)
	} else {
		for _, f := range fields {
			w = statuscode.ResetField(w, f)
		}
	}
	return r.db.Model(&VideoRow{}).Where("id = ?", videoID).Update("download_status", uint32(w)).Error
}

// SetValid flips a video's validity flag (spec.md §4.5: a video whose
// detail fetch returns 404/-404 or carries the redirect-to-external
// marker is never materialized again). Never touches DownloadStatus —
// an invalidated video's fields simply stop being selected by
// SelectPending once Valid is false.
func (r *Repository) SetValid(videoID int64, valid bool) error {
	if err := r.db.Model(&VideoRow{}).Where("id = ?", videoID).Update("valid", valid).Error; err != nil {
		return fmt.Errorf("repository: set valid: video %d: %w", videoID, err)
	}
	return nil
}

// SelectUnenriched returns sub's valid videos that have no Page rows yet
// (spec.md §4.5: "for each video lacking page details"). A video that
// failed enrichment last cycle without ever getting a page row stays
// eligible here indefinitely, which is exactly the retry behavior the
// Enrichment Stage needs since it has no status-word field of its own.
func (r *Repository) SelectUnenriched(sub domain.Subscription) ([]domain.Video, error) {
	col, id, err := fkColumn(sub)
	if err != nil {
		return nil, err
	}

	var rows []VideoRow
	err = r.db.Where(fmt.Sprintf("%s = ?", col), id).
		Where("valid = ?", true).
		Where("id NOT IN (SELECT video_id FROM page)").
		Order("published_at DESC, aid ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("repository: select unenriched: %w", err)
	}

	out := make([]domain.Video, 0, len(rows))
	for _, row := range rows {
		out = append(out, rowToVideo(row))
	}
	return out, nil
}

// GetVideo loads one video row by id.
func (r *Repository) GetVideo(videoID int64) (domain.Video, error) {
	var row VideoRow
	if err := r.db.First(&row, videoID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Video{}, fmt.Errorf("repository: video %d not found: %w", videoID, err)
		}
		return domain.Video{}, fmt.Errorf("repository: get video %d: %w", videoID, err)
	}
	return rowToVideo(row), nil
}

// LatestPublishedAt returns the max PublishedAt among videos, used to
// compute the next watermark after a discovery pass (spec.md §4.4).
func LatestPublishedAt(videos []domain.Video, floor time.Time) time.Time {
	latest := floor
	for _, v := range videos {
		if v.PublishedAt.After(latest) {
			latest = v.PublishedAt
		}
	}
	return latest
}
