package feedback

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// FeedbackEntry mirrors one log line into Postgres for querying.
type FeedbackEntry struct {
	ID           uint `gorm:"primaryKey"`
	CreatedAt    time.Time
	RecordedAt   time.Time `gorm:"index;not null"`
	PredictionID string    `gorm:"size:64;index"`
	Predicted    int       `gorm:"index;not null"`
	Correction   string    `gorm:"type:text;not null"`
	Confirmed    bool      `gorm:"default:false"`
}

// PostgresStore is an optional secondary sink; the text log stays the
// source of truth.
type PostgresStore struct {
	db *gorm.DB
}

func OpenPostgres(dsn string, autoMigrate bool) (*PostgresStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("connect feedback database: %w", err)
	}
	if autoMigrate {
		if err := db.AutoMigrate(&FeedbackEntry{}); err != nil {
			return nil, fmt.Errorf("migrate feedback_entries: %w", err)
		}
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Record(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	entry := FeedbackEntry{
		RecordedAt:   rec.Time,
		PredictionID: rec.PredictionID,
		Predicted:    rec.Predicted,
		Correction:   rec.Correction,
		Confirmed:    rec.IsConfirmation(),
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}

// Recent returns the newest entries, newest first.
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]FeedbackEntry, error) {
	var out []FeedbackEntry
	if err := s.db.WithContext(ctx).Order("id desc").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query feedback: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
