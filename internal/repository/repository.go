package repository

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Repository is the single persistence seam every other package talks
// through; nothing outside this package issues a GORM query directly,
// the same rule AVMC's cache package enforces for its flat JSON store.
type Repository struct {
	db *gorm.DB
}

// Open opens (creating if absent) the SQLite database at path and runs
// AutoMigrate for every table owned by this package. Uses
// github.com/glebarez/sqlite, a cgo-free driver, so the binary stays a
// single static executable — the same "no C toolchain at build time"
// property AVMC gets for free by having no database at all.
func Open(path string) (*Repository, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("repository: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(
		&FavoriteRow{}, &CollectionRow{}, &SubmissionRow{}, &WatchLaterRow{},
		&VideoRow{}, &PageRow{}, &ConfigRow{},
	); err != nil {
		return nil, fmt.Errorf("repository: migrate: %w", err)
	}
	return &Repository{db: db}, nil
}

// Close releases the underlying database handle.
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
