// Package sales stores completed sales reported by the point-of-sale flow and
// answers the window queries the cash subsystem reconciles against.
package sales

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"kasa-backend/internal/feed"
	"kasa-backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrInvalidSale = errors.New("invalid sale")

type Store struct {
	db  *gorm.DB
	pub feed.Publisher
}

func NewStore(db *gorm.DB, pub feed.Publisher) *Store {
	return &Store{db: db, pub: pub}
}

// Record upserts s by id and tells the seller's devices to refresh their
// cash-sales figure. Re-sending a sale replaces the earlier copy, which is how
// status changes (pending to completed, completed to cancelled) arrive.
func (s *Store) Record(ctx context.Context, sale models.Sale) (models.Sale, error) {
	if err := Validate(sale); err != nil {
		return sale, err
	}
	sale.CompletedAt = sale.CompletedAt.UTC()

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"seller_id", "amount", "payment_method", "status", "completed_at", "updated_at"}),
	}).Create(&sale).Error
	if err != nil {
		return sale, fmt.Errorf("record sale %s: %w", sale.ID, err)
	}

	s.pub.Publish(feed.Event{
		Topic:    feed.CashierSalesTopic(sale.SellerID),
		Kind:     feed.KindSaleRecorded,
		EntityID: sale.ID,
	})
	return sale, nil
}

func Validate(sale models.Sale) error {
	switch {
	case strings.TrimSpace(sale.ID) == "":
		return fmt.Errorf("%w: id is required", ErrInvalidSale)
	case sale.SellerID == 0:
		return fmt.Errorf("%w: seller is required", ErrInvalidSale)
	case sale.Amount.IsNegative():
		return fmt.Errorf("%w: amount must not be negative", ErrInvalidSale)
	}
	switch sale.PaymentMethod {
	case models.PaymentMethodCash, models.PaymentMethodCard, models.PaymentMethodTransfer, models.PaymentMethodVoucher:
	default:
		return fmt.Errorf("%w: unknown payment method %q", ErrInvalidSale, sale.PaymentMethod)
	}
	switch sale.Status {
	case models.SaleStatusPending, models.SaleStatusCompleted, models.SaleStatusCancelled:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidSale, sale.Status)
	}
	if sale.Status == models.SaleStatusCompleted && sale.CompletedAt.IsZero() {
		return fmt.Errorf("%w: completed sale needs completed_at", ErrInvalidSale)
	}
	return nil
}

// InWindow returns the seller's completed sales with completedAt in
// [from, to]. db may be a transaction.
func InWindow(ctx context.Context, db *gorm.DB, sellerID uint, from, to time.Time) ([]models.Sale, error) {
	var out []models.Sale
	err := db.WithContext(ctx).
		Where("seller_id = ? AND status = ?", sellerID, models.SaleStatusCompleted).
		Where("completed_at >= ? AND completed_at <= ?", from.UTC(), to.UTC()).
		Order("completed_at asc, id asc").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("sales for seller %d: %w", sellerID, err)
	}
	return out, nil
}

func (s *Store) InWindow(ctx context.Context, sellerID uint, from, to time.Time) ([]models.Sale, error) {
	return InWindow(ctx, s.db, sellerID, from, to)
}
