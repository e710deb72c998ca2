// Package cashsession decides, per cashier, whether opening the register
// creates a new session or joins the one already open, and closes sessions
// with their reconciliation figures.
package cashsession

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"kasa-backend/internal/audit"
	"kasa-backend/internal/clock"
	"kasa-backend/internal/feed"
	"kasa-backend/internal/models"
	"kasa-backend/internal/notify"
	"kasa-backend/internal/reconcile"
	"kasa-backend/internal/sales"
	"kasa-backend/internal/txn"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SettingsSource supplies business hours and the open-session cap.
type SettingsSource interface {
	Load(ctx context.Context) (models.Settings, error)
}

type Coordinator struct {
	db       *gorm.DB
	settings SettingsSource
	pub      feed.Publisher
	notifier notify.Notifier
	log      *zap.Logger
	clock    clock.Clock
	newID    func() string
}

type Option func(*Coordinator)

func WithClock(c clock.Clock) Option { return func(co *Coordinator) { co.clock = c } }

func WithNotifier(n notify.Notifier) Option { return func(co *Coordinator) { co.notifier = n } }

func WithIDGenerator(fn func() string) Option { return func(co *Coordinator) { co.newID = fn } }

func NewCoordinator(db *gorm.DB, settings SettingsSource, pub feed.Publisher, log *zap.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		db:       db,
		settings: settings,
		pub:      pub,
		notifier: notify.Nop{},
		log:      log.Named("cashsession"),
		clock:    clock.Real{},
		newID:    uuid.NewString,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type OpenRequest struct {
	CashierID   uint
	CashierName string
	OpeningCash decimal.Decimal
	Notes       string
	Actor       models.Actor
}

type OpenResult struct {
	Session models.CashSession
	Joined  bool
}

// Open returns the cashier's open session, joining it when another device
// already opened one, or creates a new session. The decision is made inside a
// transaction that holds the cashier's lock row, so concurrent opens for one
// cashier resolve to a single session.
//
// The global capacity check is a plain read before the transaction and is
// therefore best effort: two cashiers opening at the same instant may both
// pass it.
func (c *Coordinator) Open(ctx context.Context, req OpenRequest) (OpenResult, error) {
	if req.CashierID == 0 {
		return OpenResult{}, ErrMissingCashier
	}
	if req.OpeningCash.IsNegative() {
		return OpenResult{}, ErrNegativeAmount
	}
	req.Notes = strings.TrimSpace(req.Notes)

	st, err := c.settings.Load(ctx)
	if err != nil {
		return OpenResult{}, c.openFailed(ctx, req, fmt.Errorf("load settings: %w", err))
	}

	existing, err := c.current(ctx, c.db, req.CashierID)
	if err != nil {
		return OpenResult{}, c.openFailed(ctx, req, err)
	}
	capacityChecked := false
	if existing == nil {
		if err := c.checkCapacity(ctx, c.db, st); err != nil {
			return OpenResult{}, c.openFailed(ctx, req, err)
		}
		capacityChecked = true
	}

	now := c.clock.Now().UTC()
	var res OpenResult
	err = txn.Run(ctx, c.db, func(tx *gorm.DB) error {
		res = OpenResult{}
		lock, err := txn.LockCashier(tx, req.CashierID, now)
		if err != nil {
			return err
		}

		if lock.OpenSessionID != nil {
			var s models.CashSession
			err := tx.First(&s, "id = ?", *lock.OpenSessionID).Error
			switch {
			case err == nil && s.IsOpen():
				res = OpenResult{Session: s, Joined: true}
				return nil
			case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
				return err
			}
			// Kilit kapanmış ya da silinmiş bir oturumu gösteriyor
			c.log.Warn("clearing stale session lock",
				zap.Uint("cashier_id", req.CashierID),
				zap.String("session_id", *lock.OpenSessionID),
			)
		}

		if !capacityChecked {
			if err := c.checkCapacity(ctx, tx, st); err != nil {
				return err
			}
		}

		s := models.CashSession{
			ID:                    c.newID(),
			CashierID:             req.CashierID,
			CashierName:           req.CashierName,
			State:                 models.SessionOpen,
			OpenedAt:              now,
			OpeningCash:           req.OpeningCash.Round(2),
			OpeningNotes:          req.Notes,
			OpenedFrom:            req.Actor.Device,
			BusinessHoursSnapshot: st.BusinessHours,
			Movements:             []models.Movement{},
		}
		if err := tx.Create(&s).Error; err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		if err := txn.PointLock(tx, req.CashierID, &s.ID, now); err != nil {
			return err
		}
		res = OpenResult{Session: s}
		return nil
	})
	if err != nil {
		return OpenResult{}, c.openFailed(ctx, req, err)
	}

	c.afterOpen(ctx, req, res)
	return res, nil
}

func (c *Coordinator) checkCapacity(ctx context.Context, db *gorm.DB, st models.Settings) error {
	var open int64
	if err := db.WithContext(ctx).Model(&models.CashSession{}).
		Where("state = ?", models.SessionOpen).
		Count(&open).Error; err != nil {
		return fmt.Errorf("count open sessions: %w", err)
	}
	if st.MaxConcurrentOpenSessions > 0 && open >= int64(st.MaxConcurrentOpenSessions) {
		return ErrCapacityExceeded
	}
	return nil
}

func (c *Coordinator) openFailed(ctx context.Context, req OpenRequest, err error) error {
	n := notify.Notice{
		Kind:      notify.OpenFailed,
		CashierID: req.CashierID,
		Device:    req.Actor.Device,
		Message:   "Kasa açılamadı",
		At:        c.clock.Now(),
	}
	if errors.Is(err, ErrCapacityExceeded) {
		n.Kind = notify.CapacityExceeded
		n.Message = "Açık kasa sınırına ulaşıldı"
		c.log.Info("open rejected, capacity reached", zap.Uint("cashier_id", req.CashierID))
	} else {
		c.log.Error("open failed", zap.Uint("cashier_id", req.CashierID), zap.Error(err))
	}
	c.notifier.Notify(ctx, n)
	return err
}

func (c *Coordinator) afterOpen(ctx context.Context, req OpenRequest, res OpenResult) {
	s := res.Session
	action := models.AuditActionCreate
	desc := fmt.Sprintf("Kasa açıldı: %s, açılış %s", s.CashierName, s.OpeningCash.StringFixed(2))
	kind := notify.SessionOpened
	msg := "Kasa açıldı"
	if res.Joined {
		action = models.AuditActionJoin
		desc = fmt.Sprintf("Açık kasaya katılındı: %s", s.CashierName)
		kind = notify.SessionJoined
		msg = "Bu kasiyerin açık kasasına bağlanıldı"
		c.log.Info("joined open session",
			zap.Uint("cashier_id", s.CashierID),
			zap.String("session_id", s.ID),
			zap.String("device", req.Actor.Device),
		)
	} else {
		c.log.Info("session opened",
			zap.Uint("cashier_id", s.CashierID),
			zap.String("session_id", s.ID),
			zap.String("device", req.Actor.Device),
		)
		c.pub.Publish(feed.Event{
			Topic:    feed.CashierSessionTopic(s.CashierID),
			Kind:     feed.KindSessionOpened,
			EntityID: s.ID,
		})
	}

	if err := audit.WriteLog(ctx, c.db, audit.LogOptions{
		BranchID:    req.Actor.BranchID,
		UserID:      req.Actor.ID,
		UserName:    req.Actor.Name,
		EntityType:  audit.EntityCashSession,
		EntityID:    s.ID,
		Action:      action,
		Description: desc,
		After:       s,
	}); err != nil {
		c.log.Warn("audit log failed", zap.Error(err))
	}

	c.notifier.Notify(ctx, notify.Notice{
		Kind:      kind,
		CashierID: s.CashierID,
		SessionID: s.ID,
		Device:    req.Actor.Device,
		Message:   msg,
		At:        c.clock.Now(),
	})
}

type CloseRequest struct {
	SessionID   string
	CountedCash decimal.Decimal
	Notes       string
	Actor       models.Actor
	// Auto closes with counted = expected; used by the scheduler.
	Auto bool
}

type CloseResult struct {
	Session models.CashSession
	Result  reconcile.Result
}

// Close reconciles and closes an open session. A session that is no longer
// open yields ErrSessionAlreadyClosed and nothing is written.
func (c *Coordinator) Close(ctx context.Context, req CloseRequest) (CloseResult, error) {
	if !req.Auto && req.CountedCash.IsNegative() {
		return CloseResult{}, ErrNegativeAmount
	}
	req.Notes = strings.TrimSpace(req.Notes)

	var head models.CashSession
	err := c.db.WithContext(ctx).Select("id", "cashier_id").First(&head, "id = ?", req.SessionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return CloseResult{}, ErrSessionNotFound
	}
	if err != nil {
		return CloseResult{}, err
	}

	now := c.clock.Now().UTC()
	var out CloseResult
	err = txn.Run(ctx, c.db, func(tx *gorm.DB) error {
		out = CloseResult{}
		lock, err := txn.LockCashier(tx, head.CashierID, now)
		if err != nil {
			return err
		}

		var s models.CashSession
		if err := tx.First(&s, "id = ?", req.SessionID).Error; err != nil {
			return err
		}
		if !s.IsOpen() {
			return ErrSessionAlreadyClosed
		}

		sold, err := sales.InWindow(ctx, tx, s.CashierID, s.OpenedAt, now)
		if err != nil {
			return err
		}
		counted := req.CountedCash.Round(2)
		if req.Auto {
			counted = reconcile.Compute(&s, sold, now).Expected()
		}
		r := reconcile.Reconcile(&s, sold, counted, now)

		closedAt := now
		s.State = models.SessionClosed
		s.ClosedAt = &closedAt
		s.ExpectedCash = decimal.NewNullDecimal(r.ExpectedCash)
		s.CountedCash = decimal.NewNullDecimal(r.CountedCash)
		s.Difference = decimal.NewNullDecimal(r.Difference)
		s.Outcome = r.Outcome
		s.AutoClosed = req.Auto
		s.ClosedBy = req.Actor.Name
		s.ClosedFrom = req.Actor.Device
		s.ClosingNotes = req.Notes
		if err := tx.Save(&s).Error; err != nil {
			return fmt.Errorf("close session: %w", err)
		}

		if lock.OpenSessionID != nil && *lock.OpenSessionID == s.ID {
			if err := txn.PointLock(tx, s.CashierID, nil, now); err != nil {
				return err
			}
		}
		out = CloseResult{Session: s, Result: r}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrSessionAlreadyClosed) {
			c.log.Info("close skipped, session already closed", zap.String("session_id", req.SessionID))
		}
		return CloseResult{}, err
	}

	c.afterClose(ctx, req, out)
	return out, nil
}

func (c *Coordinator) afterClose(ctx context.Context, req CloseRequest, out CloseResult) {
	s := out.Session
	c.log.Info("session closed",
		zap.Uint("cashier_id", s.CashierID),
		zap.String("session_id", s.ID),
		zap.Bool("auto", s.AutoClosed),
		zap.String("outcome", string(s.Outcome)),
		zap.String("difference", out.Result.Difference.StringFixed(2)),
		zap.String("device", req.Actor.Device),
	)

	c.pub.Publish(feed.Event{Topic: feed.CashierSessionTopic(s.CashierID), Kind: feed.KindSessionClosed, EntityID: s.ID})
	c.pub.Publish(feed.Event{Topic: feed.SessionTopic(s.ID), Kind: feed.KindSessionClosed, EntityID: s.ID})

	action := models.AuditActionClose
	desc := fmt.Sprintf("Kasa kapatıldı: %s, fark %s", s.CashierName, out.Result.Difference.StringFixed(2))
	kind := notify.SessionClosed
	msg := "Kasa kapatıldı"
	if s.AutoClosed {
		action = models.AuditActionAutoClose
		desc = fmt.Sprintf("Kasa otomatik kapatıldı: %s", s.CashierName)
		kind = notify.AutoClosed
		msg = "Kasa mesai bitiminden sonra otomatik kapatıldı"
	}
	if err := audit.WriteLog(ctx, c.db, audit.LogOptions{
		BranchID:    req.Actor.BranchID,
		UserID:      req.Actor.ID,
		UserName:    req.Actor.Name,
		EntityType:  audit.EntityCashSession,
		EntityID:    s.ID,
		Action:      action,
		Description: desc,
		After:       s,
	}); err != nil {
		c.log.Warn("audit log failed", zap.Error(err))
	}

	c.notifier.Notify(ctx, notify.Notice{
		Kind:      kind,
		CashierID: s.CashierID,
		SessionID: s.ID,
		Device:    req.Actor.Device,
		Message:   msg,
		At:        c.clock.Now(),
	})
}

// Preview computes the figures a close at the current instant would store,
// without writing anything.
func (c *Coordinator) Preview(ctx context.Context, sessionID string, counted decimal.Decimal) (models.CashSession, reconcile.Result, error) {
	s, err := c.Get(ctx, sessionID)
	if err != nil {
		return s, reconcile.Result{}, err
	}
	if !s.IsOpen() {
		if r, ok := reconcile.FromSession(&s); ok {
			return s, r, nil
		}
		return s, reconcile.Result{}, ErrSessionAlreadyClosed
	}
	now := c.clock.Now().UTC()
	sold, err := sales.InWindow(ctx, c.db, s.CashierID, s.OpenedAt, now)
	if err != nil {
		return s, reconcile.Result{}, err
	}
	return s, reconcile.Reconcile(&s, sold, counted, now), nil
}

func (c *Coordinator) Now() time.Time { return c.clock.Now() }
