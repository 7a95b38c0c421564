package infrastructure

import (
	"context"
	"fmt"

	"github.com/yourusername/wistia-offline-go/internal/domain"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// SQLiteLedgerStore implements domain.LedgerStore using SQLite
type SQLiteLedgerStore struct {
	db *gorm.DB
}

// NewSQLiteLedgerStore opens (or creates) the ledger database
func NewSQLiteLedgerStore(dbPath string) (*SQLiteLedgerStore, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&domain.LedgerEntry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &SQLiteLedgerStore{db: db}, nil
}

// LoadAll returns every persisted entry
func (s *SQLiteLedgerStore) LoadAll(ctx context.Context) ([]*domain.LedgerEntry, error) {
	var entries []*domain.LedgerEntry
	err := s.db.WithContext(ctx).Order("hashed_id ASC").Find(&entries).Error
	return entries, err
}

// Save inserts or replaces the entry for a media
func (s *SQLiteLedgerStore) Save(ctx context.Context, entry *domain.LedgerEntry) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "hashed_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"state", "progress", "local_path", "failure_reason", "failure_detail",
				"task_handle", "manifest_url", "updated_at",
			}),
		}).
		Create(entry).Error
}

// Delete removes the entry for a media; missing rows are not an error
func (s *SQLiteLedgerStore) Delete(ctx context.Context, hashedID string) error {
	return s.db.WithContext(ctx).Delete(&domain.LedgerEntry{}, "hashed_id = ?", hashedID).Error
}

// Close closes the database connection
func (s *SQLiteLedgerStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
