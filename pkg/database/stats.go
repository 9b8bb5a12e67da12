package database

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// IndexCount is the number of stored documents in one index.
type IndexCount struct {
	Index string `json:"index"`
	Count int    `json:"count"`
}

// DocumentCounts returns the number of documents per index.
func (s *Store) DocumentCounts(ctx context.Context) ([]IndexCount, error) {
	counts := []IndexCount{}
	err := s.db.WithContext(ctx).Model(&StoredDocument{}).
		Select("index_name AS \"index\", COUNT(*) AS count").
		Group("index_name").
		Order("index_name").
		Scan(&counts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}
	return counts, nil
}

// RecordRun stores or replaces a run history entry.
func (s *Store) RecordRun(ctx context.Context, run *Run) error {
	if err := s.db.WithContext(ctx).Save(run).Error; err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.ID, err)
	}
	return nil
}

// LastRun returns the most recent complete run of a pipeline, or nil when
// it never completed.
func (s *Store) LastRun(ctx context.Context, pipeline string) (*Run, error) {
	var run Run
	err := s.db.WithContext(ctx).
		Where("pipeline = ? AND complete = ?", pipeline, true).
		Order("started_at DESC").
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns the latest runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit, offset int) ([]Run, int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&Run{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	runs := []Run{}
	if err := s.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Offset(offset).Find(&runs).Error; err != nil {
		return nil, 0, err
	}
	return runs, total, nil
}
