package repository

import (
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bilisync/bilisync/internal/config"
)

const configRowKey = "active"

// LoadConfig reads the persisted config.Snapshot, or returns
// (zero, false, nil) if none has ever been saved so the caller can fall
// back to config.DefaultSnapshot.
func (r *Repository) LoadConfig() (config.Snapshot, bool, error) {
	var row ConfigRow
	err := r.db.Where("key = ?", configRowKey).First(&row).Error
	if err == gorm.ErrRecordNotFound {
		return config.Snapshot{}, false, nil
	}
	if err != nil {
		return config.Snapshot{}, false, fmt.Errorf("repository: load config: %w", err)
	}
	var snap config.Snapshot
	if err := json.Unmarshal([]byte(row.ValueRaw), &snap); err != nil {
		return config.Snapshot{}, false, fmt.Errorf("repository: decode config: %w", err)
	}
	return snap, true, nil
}

// SaveConfig persists snap as the single active config row.
func (r *Repository) SaveConfig(snap config.Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("repository: encode config: %w", err)
	}
	row := ConfigRow{Key: configRowKey, ValueRaw: string(raw)}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value_raw"}),
	}).Create(&row).Error
}
