// Package realtime keeps a device's view of a cashier's session in step with
// writes made anywhere: on this device, on other devices and by the
// auto-close scheduler of any process.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"kasa-backend/internal/clock"
	"kasa-backend/internal/feed"
	"kasa-backend/internal/models"
	"kasa-backend/internal/notify"
	"kasa-backend/internal/reconcile"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type SessionLoader interface {
	Current(ctx context.Context, cashierID uint) (*models.CashSession, error)
	Get(ctx context.Context, id string) (models.CashSession, error)
}

type SalesReader interface {
	InWindow(ctx context.Context, sellerID uint, from, to time.Time) ([]models.Sale, error)
}

// View is what a device renders for a cashier.
type View struct {
	CashierID uint
	Session   *models.CashSession // nil when the cashier has no open session
	Movements []models.Movement
	CashSales decimal.Decimal
	Preview   reconcile.Breakdown // expected cash if closed now
	LoadedAt  time.Time
}

func (v View) ExpectedCash() decimal.Decimal { return v.Preview.Expected() }

// Handlers run on the watch goroutine, one at a time. They must not call
// Watch.Close; cancel the context passed to Engine.Watch instead.
type Handlers struct {
	OnRender          func(View)
	OnClosedElsewhere func(models.CashSession)
	OnError           func(error)
}

type Engine struct {
	hub      *feed.Hub
	sessions SessionLoader
	sales    SalesReader
	notifier notify.Notifier
	clock    clock.Clock
	log      *zap.Logger
}

type Option func(*Engine)

func WithClock(c clock.Clock) Option { return func(e *Engine) { e.clock = c } }

func WithNotifier(n notify.Notifier) Option { return func(e *Engine) { e.notifier = n } }

func NewEngine(hub *feed.Hub, sessions SessionLoader, sales SalesReader, log *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		hub:      hub,
		sessions: sessions,
		sales:    sales,
		notifier: notify.Nop{},
		clock:    clock.Real{},
		log:      log.Named("realtime"),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Watch loads the cashier's current view, renders it, and keeps re-rendering
// on every change until ctx is done or Close is called. device names the
// watching terminal; closes written by any other device are reported through
// OnClosedElsewhere.
func (e *Engine) Watch(ctx context.Context, cashierID uint, device string, h Handlers) (*Watch, error) {
	ctx, cancel := context.WithCancel(ctx)
	w := &Watch{
		engine:    e,
		cashierID: cashierID,
		device:    device,
		h:         h,
		ctx:       ctx,
		cancel:    cancel,
		exited:    make(chan struct{}),
		// Önce abone ol, sonra yükle: arada gelen olay kaçmasın
		cashier: e.hub.Subscribe(8, feed.CashierSessionTopic(cashierID), feed.CashierSalesTopic(cashierID)),
	}

	if err := w.refresh(); err != nil {
		w.cashier.Close()
		cancel()
		close(w.exited)
		return nil, fmt.Errorf("initial load for cashier %d: %w", cashierID, err)
	}

	go w.loop()
	return w, nil
}

type Watch struct {
	engine    *Engine
	cashierID uint
	device    string
	h         Handlers

	ctx    context.Context
	cancel context.CancelFunc
	exited chan struct{}
	once   sync.Once

	// owned by the loop goroutine after Watch returns
	cashier *feed.Subscription
	session *feed.Subscription
	view    View

	mu   sync.Mutex
	last View
}

// View returns the most recently rendered view.
func (w *Watch) View() View {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

// Close unsubscribes everything and waits for the watch goroutine to exit; no
// handler runs after Close returns.
func (w *Watch) Close() {
	w.once.Do(w.cancel)
	<-w.exited
}

// Done is closed once the watch has stopped.
func (w *Watch) Done() <-chan struct{} { return w.exited }

func (w *Watch) loop() {
	defer close(w.exited)
	defer func() {
		w.cashier.Close()
		if w.session != nil {
			w.session.Close()
		}
	}()

	for {
		var sessionC <-chan feed.Event
		if w.session != nil {
			sessionC = w.session.C
		}

		select {
		case <-w.ctx.Done():
			return
		case _, ok := <-w.cashier.C:
			if !ok {
				return
			}
		case _, ok := <-sessionC:
			if !ok {
				w.session = nil
				continue
			}
		}

		if err := w.refresh(); err != nil && w.ctx.Err() == nil {
			w.engine.log.Warn("view reload failed", zap.Uint("cashier_id", w.cashierID), zap.Error(err))
			if w.h.OnError != nil {
				w.h.OnError(err)
			}
		}
	}
}

// refresh reloads the view wholesale and renders it.
func (w *Watch) refresh() error {
	e := w.engine
	cur, err := e.sessions.Current(w.ctx, w.cashierID)
	if err != nil {
		return err
	}

	prev := w.view.Session
	if prev != nil && (cur == nil || cur.ID != prev.ID) {
		w.checkClosedElsewhere(prev.ID)
	}
	w.bind(cur)

	view, err := w.build(cur)
	if err != nil {
		return err
	}
	w.view = view
	w.mu.Lock()
	w.last = view
	w.mu.Unlock()

	if w.ctx.Err() == nil && w.h.OnRender != nil {
		w.h.OnRender(view)
	}
	return nil
}

func (w *Watch) checkClosedElsewhere(sessionID string) {
	e := w.engine
	old, err := e.sessions.Get(w.ctx, sessionID)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			e.log.Warn("cannot load previous session", zap.String("session_id", sessionID), zap.Error(err))
		}
		return
	}
	if old.IsOpen() || old.ClosedFrom == w.device {
		return
	}

	e.log.Info("session closed on another device",
		zap.String("session_id", old.ID),
		zap.String("closed_from", old.ClosedFrom),
		zap.String("device", w.device),
	)
	e.notifier.Notify(w.ctx, notify.Notice{
		Kind:      notify.ClosedElsewhere,
		CashierID: w.cashierID,
		SessionID: old.ID,
		Device:    w.device,
		Message:   "Kasa başka bir cihazdan kapatıldı",
		At:        e.clock.Now(),
	})
	if w.ctx.Err() == nil && w.h.OnClosedElsewhere != nil {
		w.h.OnClosedElsewhere(old)
	}
}

// bind points the per-session subscription at cur.
func (w *Watch) bind(cur *models.CashSession) {
	var want string
	if cur != nil {
		want = cur.ID
	}
	var have string
	if w.view.Session != nil && w.session != nil {
		have = w.view.Session.ID
	}
	if want == have {
		return
	}
	if w.session != nil {
		w.session.Close()
		w.session = nil
	}
	if want != "" {
		w.session = w.engine.hub.Subscribe(8, feed.SessionTopic(want))
	}
}

func (w *Watch) build(cur *models.CashSession) (View, error) {
	e := w.engine
	now := e.clock.Now()
	v := View{CashierID: w.cashierID, Session: cur, LoadedAt: now, CashSales: decimal.Zero}
	if cur == nil {
		return v, nil
	}

	sold, err := e.sales.InWindow(w.ctx, cur.CashierID, cur.OpenedAt, now)
	if err != nil {
		return View{}, err
	}
	v.Movements = append([]models.Movement(nil), cur.Movements...)
	v.Preview = reconcile.Compute(cur, sold, now)
	v.CashSales = v.Preview.CashSales
	return v, nil
}
