package repository

import (
	"encoding/json"
	"fmt"

	"gorm.io/gorm/clause"

	"github.com/bilisync/bilisync/internal/domain"
	"github.com/bilisync/bilisync/internal/statuscode"
)

func encodeURLs(urls []string) string {
	if len(urls) == 0 {
		return ""
	}
	b, _ := json.Marshal(urls)
	return string(b)
}

func decodeURLs(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

// UpsertPages inserts or refreshes the page list for videoID, keyed on
// (video_id, index). Mirrors UpsertVideos: mutable fields (title,
// duration, stream URLs) are refreshed, DownloadStatus is left alone
// for rows that already exist so re-enrichment of an already-partially-
// downloaded page doesn't reset its progress.
func (r *Repository) UpsertPages(videoID int64, pages []domain.Page) error {
	if len(pages) == 0 {
		return nil
	}
	rows := make([]PageRow, 0, len(pages))
	for _, p := range pages {
		rows = append(rows, PageRow{
			VideoID:            videoID,
			Index:              p.Index,
			Title:              p.Title,
			CID:                p.CID,
			DurationSeconds:    p.DurationSeconds,
			VideoStreamURL:     p.VideoStreamURL,
			VideoMirrorURLsRaw: encodeURLs(p.VideoMirrorURLs),
			AudioStreamURL:     p.AudioStreamURL,
			AudioMirrorURLsRaw: encodeURLs(p.AudioMirrorURLs),
			MuxRequired:        p.MuxRequired,
			ThumbnailURL:       p.ThumbnailURL,
			DownloadStatus:     uint32(statuscode.New()),
		})
	}
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "video_id"}, {Name: "index"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "cid", "duration_seconds",
			"video_stream_url", "video_mirror_urls_raw",
			"audio_stream_url", "audio_mirror_urls_raw",
			"mux_required", "thumbnail_url",
		}),
	}).Create(&rows).Error
}

// ListPages returns every page belonging to videoID, ordered by index.
func (r *Repository) ListPages(videoID int64) ([]domain.Page, error) {
	var rows []PageRow
	if err := r.db.Where("video_id = ?", videoID).Order("`index` ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("repository: list pages: %w", err)
	}
	out := make([]domain.Page, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.Page{
			ID:              row.ID,
			VideoID:         row.VideoID,
			Index:           row.Index,
			Title:           row.Title,
			CID:             row.CID,
			DurationSeconds: row.DurationSeconds,
			VideoStreamURL:  row.VideoStreamURL,
			VideoMirrorURLs: decodeURLs(row.VideoMirrorURLsRaw),
			AudioStreamURL:  row.AudioStreamURL,
			AudioMirrorURLs: decodeURLs(row.AudioMirrorURLsRaw),
			MuxRequired:     row.MuxRequired,
			ThumbnailURL:    row.ThumbnailURL,
			Status:          statuscode.Word(row.DownloadStatus),
		})
	}
	return out, nil
}

// UpdatePageStatus is UpdateStatus's page-level twin: same
// compare-and-set loop, scoped to the page table.
func (r *Repository) UpdatePageStatus(pageID int64, field int, succeeded bool) error {
	for attempt := 0; attempt < 8; attempt++ {
		var row PageRow
		if err := r.db.Select("id", "download_status").First(&row, pageID).Error; err != nil {
			return fmt.Errorf("repository: update page status: load page %d: %w", pageID, err)
		}
		next := statuscode.Advance(statuscode.Word(row.DownloadStatus), field, succeeded)
		res := r.db.Model(&PageRow{}).
			Where("id = ? AND download_status = ?", pageID, row.DownloadStatus).
			Update("download_status", uint32(next))
		if res.Error != nil {
			return fmt.Errorf("repository: update page status: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			return nil
		}
	}
	return fmt.Errorf("repository: update page status: page %d: too much contention", pageID)
}
