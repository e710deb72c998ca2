// Package ledger appends manual cash movements to an open session.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"kasa-backend/internal/audit"
	"kasa-backend/internal/clock"
	"kasa-backend/internal/feed"
	"kasa-backend/internal/models"
	"kasa-backend/internal/txn"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrInvalidAmount       = errors.New("amount must be greater than zero")
	ErrInvalidMovementType = errors.New("movement type must be income or expense")
	ErrSessionNotOpen      = errors.New("cash session is not open")
	ErrSessionNotFound     = errors.New("cash session not found")
)

type MovementInput struct {
	Type     models.MovementType `json:"type"`
	Concept  string              `json:"concept"`
	Amount   decimal.Decimal     `json:"amount"`
	Category string              `json:"category"`
	Notes    string              `json:"notes"`
}

type Ledger struct {
	db      *gorm.DB
	pub     feed.Publisher
	log     *zap.Logger
	clock   clock.Clock
	effects Effects
	newID   func() string
}

type Option func(*Ledger)

func WithClock(c clock.Clock) Option { return func(l *Ledger) { l.clock = c } }

func WithEffects(e Effects) Option { return func(l *Ledger) { l.effects = e } }

func WithIDGenerator(fn func() string) Option { return func(l *Ledger) { l.newID = fn } }

func New(db *gorm.DB, pub feed.Publisher, log *zap.Logger, opts ...Option) *Ledger {
	l := &Ledger{
		db:    db,
		pub:   pub,
		log:   log.Named("ledger"),
		clock: clock.Real{},
		newID: uuid.NewString,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func validate(in MovementInput) (MovementInput, error) {
	if !in.Amount.IsPositive() {
		return in, ErrInvalidAmount
	}
	if in.Type != models.MovementIncome && in.Type != models.MovementExpense {
		return in, ErrInvalidMovementType
	}
	in.Concept = strings.TrimSpace(in.Concept)
	in.Category = strings.TrimSpace(in.Category)
	if in.Category == "" {
		in.Category = CategoryGeneral
	}
	return in, nil
}

// AddMovementByID loads the session and appends to it.
func (l *Ledger) AddMovementByID(ctx context.Context, sessionID string, in MovementInput, actor models.Actor) (models.Movement, error) {
	var session models.CashSession
	err := l.db.WithContext(ctx).First(&session, "id = ?", sessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Movement{}, ErrSessionNotFound
	}
	if err != nil {
		return models.Movement{}, err
	}
	return l.AddMovement(ctx, &session, in, actor)
}

// AddMovement appends a movement to session. The handle is checked first, then
// the latest stored row is re-read under the cashier lock and the whole
// movement array is written back. On success session is refreshed to the
// written row.
func (l *Ledger) AddMovement(ctx context.Context, session *models.CashSession, in MovementInput, actor models.Actor) (models.Movement, error) {
	in, err := validate(in)
	if err != nil {
		return models.Movement{}, err
	}
	if !session.IsOpen() {
		return models.Movement{}, ErrSessionNotOpen
	}

	now := l.clock.Now().UTC()
	m := models.Movement{
		ID:         l.newID(),
		Type:       in.Type,
		Concept:    in.Concept,
		Amount:     in.Amount,
		Category:   in.Category,
		Notes:      strings.TrimSpace(in.Notes),
		RecordedAt: now,
		RecordedBy: actor.Name,
	}

	var latest models.CashSession
	err = txn.Run(ctx, l.db, func(tx *gorm.DB) error {
		if _, err := txn.LockCashier(tx, session.CashierID, now); err != nil {
			return err
		}
		latest = models.CashSession{}
		if err := tx.First(&latest, "id = ?", session.ID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSessionNotFound
			}
			return err
		}
		if !latest.IsOpen() {
			return ErrSessionNotOpen
		}

		latest.Movements = append(append([]models.Movement{}, latest.Movements...), m)
		return tx.Model(&latest).Select("movements", "updated_at").Updates(&latest).Error
	})
	if err != nil {
		if errors.Is(err, ErrSessionNotOpen) {
			l.log.Info("movement rejected, session closed meanwhile", zap.String("session_id", session.ID))
		}
		return models.Movement{}, fmt.Errorf("add movement: %w", err)
	}
	*session = latest

	l.pub.Publish(feed.Event{
		Topic:    feed.SessionTopic(session.ID),
		Kind:     feed.KindMovementAdded,
		EntityID: m.ID,
	})

	if err := audit.WriteLog(ctx, l.db, audit.LogOptions{
		BranchID:    actor.BranchID,
		UserID:      actor.ID,
		UserName:    actor.Name,
		EntityType:  audit.EntityCashMovement,
		EntityID:    m.ID,
		Action:      models.AuditActionCreate,
		Description: fmt.Sprintf("Kasa hareketi eklendi: %s %s (%s)", m.Type, m.Amount.StringFixed(2), session.ID),
		After:       m,
	}); err != nil {
		l.log.Warn("audit log failed", zap.Error(err))
	}

	l.applyEffects(ctx, session, m)
	return m, nil
}

// applyEffects runs the category side effects. They are written outside the
// append transaction; every effect is keyed on the movement id so re-running
// it converges on the same record.
func (l *Ledger) applyEffects(ctx context.Context, session *models.CashSession, m models.Movement) {
	for _, eff := range l.effects.For(m.Category) {
		if err := eff.Apply(ctx, session, m); err != nil {
			l.log.Error("movement effect failed",
				zap.String("session_id", session.ID),
				zap.String("movement_id", m.ID),
				zap.String("category", m.Category),
				zap.Error(err),
			)
		}
	}
}

// ReapplyEffects re-runs the side effects of an existing movement.
func (l *Ledger) ReapplyEffects(ctx context.Context, session *models.CashSession, movementID string) error {
	for _, m := range session.Movements {
		if m.ID != movementID {
			continue
		}
		for _, eff := range l.effects.For(m.Category) {
			if err := eff.Apply(ctx, session, m); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("movement %s not found in session %s", movementID, session.ID)
}
