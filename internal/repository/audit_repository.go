package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"cleanerbot/internal/model"
)

// AuditRepository appends to and reads the audit log.
type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Append(ctx context.Context, entry model.AuditLog) error {
	if entry.Level == "" {
		entry.Level = model.LevelInfo
	}
	if err := r.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}
	return nil
}

// ListRecent returns up to limit entries of a guild, newest first.
func (r *AuditRepository) ListRecent(ctx context.Context, guildID string, limit int) ([]model.AuditLog, error) {
	if limit <= 0 {
		limit = 10
	}
	var entries []model.AuditLog
	if err := r.db.WithContext(ctx).Where("guild_id = ?", guildID).
		Order("id DESC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list audit log: %w", err)
	}
	return entries, nil
}

// ListByAction returns a guild's entries of one action, newest first. A
// non-positive limit returns all of them.
func (r *AuditRepository) ListByAction(ctx context.Context, guildID string, action model.ActionKind, limit int) ([]model.AuditLog, error) {
	q := r.db.WithContext(ctx).Where("guild_id = ? AND action = ?", guildID, action).Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var entries []model.AuditLog
	if err := q.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list audit log: %w", err)
	}
	return entries, nil
}
