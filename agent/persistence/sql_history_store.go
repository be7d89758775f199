package persistence

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/BaSui01/autoheal/internal/database"
	"github.com/BaSui01/autoheal/types"
	"gorm.io/gorm"
)

// HistoryRecord is the GORM model of one sample.
type HistoryRecord struct {
	ID        string    `gorm:"primaryKey;size:26"`
	Key       string    `gorm:"column:history_key;size:512;not null;index:idx_history_key_id,priority:1"`
	Kind      string    `gorm:"size:32"`
	Duration  int64     `gorm:"not null"`
	Success   bool      `gorm:"not null"`
	Outcome   string    `gorm:"size:255"`
	Timestamp time.Time `gorm:"not null"`
}

// TableName implements gorm's tabler.
func (HistoryRecord) TableName() string { return "autoheal_history" }

func recordFromSample(s types.HistoricalSample) HistoryRecord {
	return HistoryRecord{
		ID:        s.ID,
		Key:       s.Key,
		Kind:      string(s.Kind),
		Duration:  int64(s.Duration),
		Success:   s.Success,
		Outcome:   s.Outcome,
		Timestamp: s.Timestamp,
	}
}

func (r HistoryRecord) sample() types.HistoricalSample {
	return types.HistoricalSample{
		ID:        r.ID,
		Key:       r.Key,
		Kind:      types.SampleKind(r.Kind),
		Duration:  time.Duration(r.Duration),
		Success:   r.Success,
		Outcome:   r.Outcome,
		Timestamp: r.Timestamp,
	}
}

// SQLHistoryStore is a GORM-backed implementation of HistoryStore.
// Works with postgres, mysql and sqlite.
type SQLHistoryStore struct {
	pool     *database.PoolManager
	capacity int
}

// NewSQLHistoryStore migrates the schema and creates the store.
func NewSQLHistoryStore(pool *database.PoolManager, capacity int) (*SQLHistoryStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: pool is required", ErrInvalidInput)
	}
	if err := pool.DB().AutoMigrate(&HistoryRecord{}); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}
	return &SQLHistoryStore{pool: pool, capacity: normalizeCapacity(capacity)}, nil
}

// Close closes the underlying pool
func (s *SQLHistoryStore) Close() error {
	return s.pool.Close()
}

// Ping checks if the store is healthy
func (s *SQLHistoryStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Append inserts a sample and deletes everything older than the window in
// the same transaction.
func (s *SQLHistoryStore) Append(ctx context.Context, sample types.HistoricalSample) error {
	sample, err := prepareSample(sample)
	if err != nil {
		return err
	}
	rec := recordFromSample(sample)

	return s.pool.WithTransactionRetry(ctx, 3, func(tx *gorm.DB) error {
		if err := tx.Create(&rec).Error; err != nil {
			return err
		}

		var cutoff HistoryRecord
		err := tx.Select("id").
			Where("history_key = ?", rec.Key).
			Order("id DESC").
			Offset(s.capacity).
			Limit(1).
			Take(&cutoff).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return tx.Where("history_key = ? AND id <= ?", rec.Key, cutoff.ID).
			Delete(&HistoryRecord{}).Error
	})
}

// Query returns the most recent samples for key, oldest first.
func (s *SQLHistoryStore) Query(ctx context.Context, key string, window int) ([]types.HistoricalSample, error) {
	limit := s.capacity
	if window > 0 && window < limit {
		limit = window
	}

	var recs []HistoryRecord
	err := s.pool.DB().WithContext(ctx).
		Where("history_key = ?", key).
		Order("id DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}

	slices.Reverse(recs)
	out := make([]types.HistoricalSample, len(recs))
	for i, r := range recs {
		out[i] = r.sample()
	}
	return out, nil
}
