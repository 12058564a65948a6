// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository helpers for the
// ProcessedEvent ledger used to guarantee at-most-once event handling.
package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/social-credit/internal/domain"
)

// GetProcessedEvent returns the ledger entry for id or ErrNotFound.
func GetProcessedEvent(ctx context.Context, db *gorm.DB, id string) (*domain.ProcessedEvent, error) {
	var ev domain.ProcessedEvent
	err := db.WithContext(ctx).Where("id = ?", id).First(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// CreateProcessedEvent inserts a ledger entry and returns ErrDuplicate when
// the id has already been recorded.
func CreateProcessedEvent(ctx context.Context, db *gorm.DB, id string, kind domain.EventKind) error {
	ev := &domain.ProcessedEvent{ID: id, EventType: kind, Handled: true}
	return mapCreateErr(db.WithContext(ctx).Create(ev).Error)
}
