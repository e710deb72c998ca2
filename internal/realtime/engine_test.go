package realtime

import (
	"context"
	"testing"
	"time"

	"kasa-backend/internal/cashsession"
	"kasa-backend/internal/clock"
	"kasa-backend/internal/feed"
	"kasa-backend/internal/ledger"
	"kasa-backend/internal/models"
	"kasa-backend/internal/notify"
	"kasa-backend/internal/sales"
	"kasa-backend/internal/settings"
	"kasa-backend/internal/testutil"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var start = time.Date(2025, 5, 10, 8, 0, 0, 0, time.UTC)

type fixture struct {
	hub     *feed.Hub
	clock   *clock.Fake
	coord   *cashsession.Coordinator
	ledger  *ledger.Ledger
	sales   *sales.Store
	engine  *Engine
	notices *notify.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	hub := feed.NewHub("srv-1")
	t.Cleanup(hub.Close)
	clk := clock.NewFake(start)
	log := zaptest.NewLogger(t)
	coord := cashsession.NewCoordinator(db, settings.NewStore(db, "UTC"), hub, log, cashsession.WithClock(clk))
	salesStore := sales.NewStore(db, hub)
	rec := notify.NewRecorder(16)
	return &fixture{
		hub:     hub,
		clock:   clk,
		coord:   coord,
		ledger:  ledger.New(db, hub, log, ledger.WithClock(clk)),
		sales:   salesStore,
		engine:  NewEngine(hub, coord, salesStore, log, WithClock(clk), WithNotifier(rec)),
		notices: rec,
	}
}

type recorder struct {
	views  chan View
	closed chan models.CashSession
}

func newRecorder() *recorder {
	return &recorder{views: make(chan View, 64), closed: make(chan models.CashSession, 4)}
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		OnRender:          func(v View) { r.views <- v },
		OnClosedElsewhere: func(s models.CashSession) { r.closed <- s },
	}
}

func (r *recorder) waitFor(t *testing.T, what string, pred func(View) bool) View {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case v := <-r.views:
			if pred(v) {
				return v
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
			return View{}
		}
	}
}

func device(id uint, name string) models.Actor {
	return models.Actor{ID: id, Name: "Ayşe", Role: models.RoleCashier, Device: name}
}

func (f *fixture) open(t *testing.T, dev string) models.CashSession {
	t.Helper()
	res, err := f.coord.Open(context.Background(), cashsession.OpenRequest{
		CashierID:   1,
		CashierName: "Ayşe",
		OpeningCash: decimal.NewFromInt(500),
		Actor:       device(1, dev),
	})
	require.NoError(t, err)
	return res.Session
}

func TestWatch_FollowsSessionAcrossDevices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := newRecorder()

	w, err := f.engine.Watch(ctx, 1, "till-1", rec.handlers())
	require.NoError(t, err)
	defer w.Close()

	initial := rec.waitFor(t, "initial render", func(View) bool { return true })
	assert.Nil(t, initial.Session)

	// another device opens: this view adopts the session
	s := f.open(t, "till-2")
	v := rec.waitFor(t, "adopted session", func(v View) bool { return v.Session != nil })
	assert.Equal(t, s.ID, v.Session.ID)
	assert.True(t, v.ExpectedCash().Equal(decimal.NewFromInt(500)))

	f.clock.Advance(time.Hour)
	_, err = f.ledger.AddMovement(ctx, &s, ledger.MovementInput{Type: models.MovementIncome, Amount: decimal.NewFromInt(200)}, device(1, "till-2"))
	require.NoError(t, err)
	v = rec.waitFor(t, "movement", func(v View) bool { return len(v.Movements) == 1 })
	assert.True(t, v.ExpectedCash().Equal(decimal.NewFromInt(700)))

	_, err = f.sales.Record(ctx, models.Sale{
		ID: "v1", SellerID: 1, Amount: decimal.NewFromInt(50),
		PaymentMethod: models.PaymentMethodCash, Status: models.SaleStatusCompleted, CompletedAt: f.clock.Now(),
	})
	require.NoError(t, err)
	v = rec.waitFor(t, "sale", func(v View) bool { return v.CashSales.Equal(decimal.NewFromInt(50)) })
	assert.True(t, v.ExpectedCash().Equal(decimal.NewFromInt(750)))
	assert.Equal(t, v.Session.ID, w.View().Session.ID)
}

func TestWatch_ClosedElsewhere(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := newRecorder()
	s := f.open(t, "till-1")

	w, err := f.engine.Watch(ctx, 1, "till-1", rec.handlers())
	require.NoError(t, err)
	defer w.Close()
	rec.waitFor(t, "initial render", func(v View) bool { return v.Session != nil })

	_, err = f.coord.Close(ctx, cashsession.CloseRequest{SessionID: s.ID, CountedCash: decimal.NewFromInt(500), Actor: device(1, "till-2")})
	require.NoError(t, err)

	select {
	case closed := <-rec.closed:
		assert.Equal(t, s.ID, closed.ID)
		assert.Equal(t, "till-2", closed.ClosedFrom)
	case <-time.After(2 * time.Second):
		t.Fatal("closed elsewhere not reported")
	}
	rec.waitFor(t, "empty view", func(v View) bool { return v.Session == nil })
	assert.Contains(t, notify.Kinds(f.notices.Drain()), notify.ClosedElsewhere)
}

func TestWatch_OwnCloseIsNotElsewhere(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := newRecorder()
	s := f.open(t, "till-1")

	w, err := f.engine.Watch(ctx, 1, "till-1", rec.handlers())
	require.NoError(t, err)
	defer w.Close()
	rec.waitFor(t, "initial render", func(v View) bool { return v.Session != nil })

	_, err = f.coord.Close(ctx, cashsession.CloseRequest{SessionID: s.ID, CountedCash: decimal.NewFromInt(500), Actor: device(1, "till-1")})
	require.NoError(t, err)
	rec.waitFor(t, "empty view", func(v View) bool { return v.Session == nil })

	select {
	case <-rec.closed:
		t.Fatal("own close reported as closed elsewhere")
	default:
	}
}

func TestWatch_CloseStopsEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rec := newRecorder()
	s := f.open(t, "till-1")

	w, err := f.engine.Watch(ctx, 1, "till-1", rec.handlers())
	require.NoError(t, err)
	rec.waitFor(t, "initial render", func(v View) bool { return v.Session != nil })
	assert.Equal(t, 1, f.hub.SubscriberCount(feed.SessionTopic(s.ID)))

	w.Close()
	w.Close()

	assert.Zero(t, f.hub.SubscriberCount(feed.CashierSessionTopic(1)))
	assert.Zero(t, f.hub.SubscriberCount(feed.CashierSalesTopic(1)))
	assert.Zero(t, f.hub.SubscriberCount(feed.SessionTopic(s.ID)))

	_, err = f.ledger.AddMovement(ctx, &s, ledger.MovementInput{Type: models.MovementIncome, Amount: decimal.NewFromInt(1)}, device(1, "till-1"))
	require.NoError(t, err)
	select {
	case <-rec.views:
		t.Fatal("render after Close")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatch_ContextCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	rec := newRecorder()

	w, err := f.engine.Watch(ctx, 1, "till-1", rec.handlers())
	require.NoError(t, err)
	cancel()

	select {
	case <-w.Done():
	case <-time.After(time.Second):
		t.Fatal("watch did not stop on cancel")
	}
}
