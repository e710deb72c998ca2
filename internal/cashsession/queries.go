package cashsession

import (
	"context"
	"errors"
	"time"

	"kasa-backend/internal/models"

	"gorm.io/gorm"
)

func (c *Coordinator) Get(ctx context.Context, id string) (models.CashSession, error) {
	var s models.CashSession
	err := c.db.WithContext(ctx).First(&s, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return s, ErrSessionNotFound
	}
	return s, err
}

// Current returns the cashier's open session, or nil when there is none.
func (c *Coordinator) Current(ctx context.Context, cashierID uint) (*models.CashSession, error) {
	return c.current(ctx, c.db, cashierID)
}

// current follows the cashier's lock reference. A reference to a session that
// is not open counts as no session.
func (c *Coordinator) current(ctx context.Context, db *gorm.DB, cashierID uint) (*models.CashSession, error) {
	var lock models.SessionLock
	err := db.WithContext(ctx).First(&lock, "cashier_id = ?", cashierID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if lock.OpenSessionID == nil {
		return nil, nil
	}

	var s models.CashSession
	err = db.WithContext(ctx).First(&s, "id = ?", *lock.OpenSessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !s.IsOpen() {
		return nil, nil
	}
	return &s, nil
}

func (c *Coordinator) ListOpen(ctx context.Context) ([]models.CashSession, error) {
	var out []models.CashSession
	err := c.db.WithContext(ctx).
		Where("state = ?", models.SessionOpen).
		Order("opened_at asc").
		Find(&out).Error
	return out, err
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	CashierID uint
	State     models.SessionState
	From      *time.Time // openedAt >= From
	To        *time.Time // openedAt < To
	Limit     int
}

func (c *Coordinator) List(ctx context.Context, f Filter) ([]models.CashSession, error) {
	q := c.db.WithContext(ctx).Model(&models.CashSession{})
	if f.CashierID > 0 {
		q = q.Where("cashier_id = ?", f.CashierID)
	}
	if f.State != "" {
		q = q.Where("state = ?", f.State)
	}
	if f.From != nil {
		q = q.Where("opened_at >= ?", f.From.UTC())
	}
	if f.To != nil {
		q = q.Where("opened_at < ?", f.To.UTC())
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var out []models.CashSession
	err := q.Order("opened_at desc").Find(&out).Error
	return out, err
}
