// Package txn runs database transactions with the retry policy shared by the
// cash-session writers, and owns the per-cashier lock row they serialize on.
package txn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kasa-backend/internal/models"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MaxAttempts bounds how often a transaction that failed with a transient
// error is re-run.
const MaxAttempts = 3

var backoff = 25 * time.Millisecond

// Run executes fn in a transaction, re-running it from scratch when the
// database reports a serialization failure, deadlock or busy lock. fn must
// not have side effects outside tx.
func Run(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		err = db.WithContext(ctx).Transaction(fn)
		if err == nil || !IsTransient(err) {
			return err
		}
		if attempt == MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * backoff):
		}
	}
	return fmt.Errorf("transaction failed after %d attempts: %w", MaxAttempts, err)
}

// IsTransient reports errors that a retry of the whole transaction may fix.
func IsTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// serialization_failure, deadlock_detected
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	var sqErr sqlite3.Error
	if errors.As(err, &sqErr) {
		return sqErr.Code == sqlite3.ErrBusy || sqErr.Code == sqlite3.ErrLocked
	}
	return false
}

// LockCashier makes sure the cashier's lock row exists and locks it for the
// rest of tx. Every write that opens, closes or appends to a session of the
// cashier goes through here first, so those writes are serialized.
func LockCashier(tx *gorm.DB, cashierID uint, now time.Time) (models.SessionLock, error) {
	seed := models.SessionLock{CashierID: cashierID, LastUpdatedAt: now}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&seed).Error; err != nil {
		return models.SessionLock{}, fmt.Errorf("ensure lock row: %w", err)
	}

	var lock models.SessionLock
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&lock, "cashier_id = ?", cashierID).Error
	if err != nil {
		return models.SessionLock{}, fmt.Errorf("lock cashier %d: %w", cashierID, err)
	}
	return lock, nil
}

// PointLock sets the lock's open-session reference. sessionID nil clears it.
func PointLock(tx *gorm.DB, cashierID uint, sessionID *string, now time.Time) error {
	err := tx.Model(&models.SessionLock{}).
		Where("cashier_id = ?", cashierID).
		Updates(map[string]any{
			"open_session_id": sessionID,
			"last_updated_at": now,
		}).Error
	if err != nil {
		return fmt.Errorf("update lock %d: %w", cashierID, err)
	}
	return nil
}
