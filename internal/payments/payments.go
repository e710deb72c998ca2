// Package payments writes entries into the business's general cash ledger.
package payments

import (
	"context"
	"errors"
	"fmt"

	"kasa-backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("payment not found")

type Ledger struct {
	db *gorm.DB
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

// Upsert writes p under its id, replacing any earlier write with the same id.
// Callers derive the id from the originating record so retries converge on a
// single entry.
func (l *Ledger) Upsert(ctx context.Context, p models.Payment) error {
	if p.ID == "" {
		return errors.New("upsert payment: empty id")
	}
	err := l.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"type", "amount", "concept", "source", "source_id", "session_id", "recorded_by", "date", "updated_at"}),
	}).Create(&p).Error
	if err != nil {
		return fmt.Errorf("upsert payment %s: %w", p.ID, err)
	}
	return nil
}

func (l *Ledger) Get(ctx context.Context, id string) (models.Payment, error) {
	var p models.Payment
	err := l.db.WithContext(ctx).First(&p, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return p, ErrNotFound
	}
	return p, err
}

func (l *Ledger) ListBySession(ctx context.Context, sessionID string) ([]models.Payment, error) {
	var out []models.Payment
	err := l.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("date asc, id asc").
		Find(&out).Error
	return out, err
}

func (l *Ledger) ListBySource(ctx context.Context, source models.PaymentSource) ([]models.Payment, error) {
	var out []models.Payment
	err := l.db.WithContext(ctx).
		Where("source = ?", source).
		Order("date asc, id asc").
		Find(&out).Error
	return out, err
}
