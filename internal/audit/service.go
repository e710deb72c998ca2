package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"kasa-backend/internal/models"

	"gorm.io/gorm"
)

const (
	EntityCashSession  = "cash_session"
	EntityCashMovement = "cash_movement"
	EntitySettings     = "settings"
	EntityBranch       = "branch"
)

type LogOptions struct {
	BranchID    *uint
	UserID      uint // 0 = sistem
	UserName    string
	EntityType  string
	EntityID    string
	Action      models.AuditAction
	Description string
	Before      any
	After       any
}

func WriteLog(ctx context.Context, db *gorm.DB, opts LogOptions) error {
	// jsonb uyumu için boş string yerine "null"
	beforeStr := "null"
	afterStr := "null"

	if opts.Before != nil {
		if b, err := json.Marshal(opts.Before); err == nil {
			beforeStr = string(b)
		}
	}
	if opts.After != nil {
		if b, err := json.Marshal(opts.After); err == nil {
			afterStr = string(b)
		}
	}

	log := models.AuditLog{
		BranchID:    opts.BranchID,
		UserID:      opts.UserID,
		UserName:    opts.UserName,
		EntityType:  opts.EntityType,
		EntityID:    opts.EntityID,
		Action:      opts.Action,
		Description: opts.Description,
		BeforeData:  beforeStr,
		AfterData:   afterStr,
	}

	if err := db.WithContext(ctx).Create(&log).Error; err != nil {
		return fmt.Errorf("audit log kaydedilemedi: %w", err)
	}
	return nil
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	BranchID   *uint
	UserID     uint
	EntityType string
	EntityID   string
	Limit      int
}

func List(ctx context.Context, db *gorm.DB, f Filter) ([]models.AuditLog, error) {
	q := db.WithContext(ctx).Model(&models.AuditLog{})
	if f.BranchID != nil {
		q = q.Where("branch_id = ?", *f.BranchID)
	}
	if f.UserID > 0 {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.EntityType != "" {
		q = q.Where("entity_type = ?", f.EntityType)
	}
	if f.EntityID != "" {
		q = q.Where("entity_id = ?", f.EntityID)
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 200
	}

	var logs []models.AuditLog
	if err := q.Order("created_at DESC, id DESC").Limit(limit).Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}
