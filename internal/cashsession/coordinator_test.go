package cashsession

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

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
	"gorm.io/gorm"
)

var start = time.Date(2025, 5, 10, 8, 0, 0, 0, time.UTC)

type fixture struct {
	db       *gorm.DB
	hub      *feed.Hub
	clock    *clock.Fake
	settings *settings.Store
	notices  *notify.Recorder
	coord    *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	hub := feed.NewHub("test")
	t.Cleanup(hub.Close)
	clk := clock.NewFake(start)
	st := settings.NewStore(db, "UTC")
	rec := notify.NewRecorder(64)
	var n atomic.Int64
	coord := NewCoordinator(db, st, hub, zaptest.NewLogger(t),
		WithClock(clk),
		WithNotifier(rec),
		WithIDGenerator(func() string { return fmt.Sprintf("s%d", n.Add(1)) }),
	)
	return &fixture{db: db, hub: hub, clock: clk, settings: st, notices: rec, coord: coord}
}

func (f *fixture) setCapacity(t *testing.T, max int) {
	t.Helper()
	st := settings.Defaults("UTC")
	st.MaxConcurrentOpenSessions = max
	require.NoError(t, f.settings.Save(context.Background(), st))
}

func actor(id uint, device string) models.Actor {
	return models.Actor{ID: id, Name: fmt.Sprintf("kasiyer-%d", id), Role: models.RoleCashier, Device: device}
}

func openReq(cashierID uint, opening int64, device string) OpenRequest {
	return OpenRequest{
		CashierID:   cashierID,
		CashierName: fmt.Sprintf("kasiyer-%d", cashierID),
		OpeningCash: decimal.NewFromInt(opening),
		Actor:       actor(cashierID, device),
	}
}

func (f *fixture) lockOf(t *testing.T, cashierID uint) models.SessionLock {
	t.Helper()
	var lock models.SessionLock
	require.NoError(t, f.db.First(&lock, "cashier_id = ?", cashierID).Error)
	return lock
}

func TestOpen_CreatesThenJoins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.hub.Subscribe(4, feed.CashierSessionTopic(1))
	defer sub.Close()

	first, err := f.coord.Open(ctx, openReq(1, 500, "till-1"))
	require.NoError(t, err)
	assert.False(t, first.Joined)
	assert.Equal(t, models.SessionOpen, first.Session.State)
	assert.Equal(t, "till-1", first.Session.OpenedFrom)
	assert.Equal(t, "08:00", first.Session.BusinessHoursSnapshot.StartTime)

	second, err := f.coord.Open(ctx, openReq(1, 999, "till-2"))
	require.NoError(t, err)
	assert.True(t, second.Joined)
	assert.Equal(t, first.Session.ID, second.Session.ID)
	assert.True(t, second.Session.OpeningCash.Equal(decimal.NewFromInt(500)), "joining keeps the original opening cash")

	lock := f.lockOf(t, 1)
	require.NotNil(t, lock.OpenSessionID)
	assert.Equal(t, first.Session.ID, *lock.OpenSessionID)

	ev := <-sub.C
	assert.Equal(t, feed.KindSessionOpened, ev.Kind)
	assert.Equal(t, []notify.Kind{notify.SessionOpened, notify.SessionJoined}, notify.Kinds(f.notices.Drain()))
}

func TestOpen_ConcurrentDevicesShareOneSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const devices = 8
	ids := make([]string, devices)
	errs := make([]error, devices)
	var wg sync.WaitGroup
	for i := 0; i < devices; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.coord.Open(ctx, openReq(3, 100, fmt.Sprintf("till-%d", i)))
			errs[i] = err
			ids[i] = res.Session.ID
		}(i)
	}
	wg.Wait()

	for i := 0; i < devices; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}

	var open int64
	f.db.Model(&models.CashSession{}).Where("cashier_id = ? AND state = ?", 3, models.SessionOpen).Count(&open)
	assert.Equal(t, int64(1), open)
}

func TestOpen_CapacityExceeded(t *testing.T) {
	f := newFixture(t)
	f.setCapacity(t, 1)
	ctx := context.Background()

	a, err := f.coord.Open(ctx, openReq(1, 100, "till-1"))
	require.NoError(t, err)
	f.notices.Drain()

	_, err = f.coord.Open(ctx, openReq(2, 100, "till-2"))
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	var count int64
	f.db.Model(&models.CashSession{}).Where("cashier_id = ?", 2).Count(&count)
	assert.Zero(t, count, "rejected open must not write a session")
	assert.Equal(t, []notify.Kind{notify.CapacityExceeded}, notify.Kinds(f.notices.Drain()))

	// the cashier already holding the only slot can still join
	again, err := f.coord.Open(ctx, openReq(1, 100, "till-3"))
	require.NoError(t, err)
	assert.True(t, again.Joined)
	assert.Equal(t, a.Session.ID, again.Session.ID)

	// closing frees the slot
	_, err = f.coord.Close(ctx, CloseRequest{SessionID: a.Session.ID, CountedCash: decimal.NewFromInt(100), Actor: actor(1, "till-1")})
	require.NoError(t, err)
	_, err = f.coord.Open(ctx, openReq(2, 100, "till-2"))
	require.NoError(t, err)
}

func TestOpen_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.coord.Open(ctx, openReq(1, -1, "till-1"))
	assert.ErrorIs(t, err, ErrNegativeAmount)
	_, err = f.coord.Open(ctx, openReq(0, 10, "till-1"))
	assert.ErrorIs(t, err, ErrMissingCashier)
}

func TestOpen_ClearsStaleLock(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, f *fixture)
	}{
		{
			name: "points at closed session",
			setup: func(t *testing.T, f *fixture) {
				closedAt := start.Add(-time.Hour)
				require.NoError(t, f.db.Create(&models.CashSession{
					ID: "old", CashierID: 4, CashierName: "x", State: models.SessionClosed,
					OpenedAt: start.Add(-10 * time.Hour), ClosedAt: &closedAt, Movements: []models.Movement{},
				}).Error)
				id := "old"
				require.NoError(t, f.db.Create(&models.SessionLock{CashierID: 4, OpenSessionID: &id, LastUpdatedAt: start}).Error)
			},
		},
		{
			name: "points at missing session",
			setup: func(t *testing.T, f *fixture) {
				id := "gone"
				require.NoError(t, f.db.Create(&models.SessionLock{CashierID: 4, OpenSessionID: &id, LastUpdatedAt: start}).Error)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(t, f)

			res, err := f.coord.Open(context.Background(), openReq(4, 50, "till-1"))
			require.NoError(t, err)
			assert.False(t, res.Joined)

			lock := f.lockOf(t, 4)
			require.NotNil(t, lock.OpenSessionID)
			assert.Equal(t, res.Session.ID, *lock.OpenSessionID)
		})
	}
}

func TestClose_ReconcilesAndReleasesLock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	l := ledger.New(f.db, f.hub, zaptest.NewLogger(t), ledger.WithClock(f.clock))
	salesStore := sales.NewStore(f.db, f.hub)

	opened, err := f.coord.Open(ctx, openReq(1, 500, "till-1"))
	require.NoError(t, err)
	s := opened.Session

	f.clock.Advance(time.Hour)
	_, err = l.AddMovement(ctx, &s, ledger.MovementInput{Type: models.MovementIncome, Amount: decimal.NewFromInt(200), Concept: "bozuk para"}, actor(1, "till-1"))
	require.NoError(t, err)
	_, err = l.AddMovement(ctx, &s, ledger.MovementInput{Type: models.MovementExpense, Amount: decimal.NewFromInt(50), Concept: "malzeme"}, actor(1, "till-1"))
	require.NoError(t, err)
	_, err = salesStore.Record(ctx, models.Sale{
		ID: "v1", SellerID: 1, Amount: decimal.NewFromInt(100),
		PaymentMethod: models.PaymentMethodCash, Status: models.SaleStatusCompleted, CompletedAt: f.clock.Now(),
	})
	require.NoError(t, err)
	_, err = salesStore.Record(ctx, models.Sale{
		ID: "v2", SellerID: 1, Amount: decimal.NewFromInt(80),
		PaymentMethod: models.PaymentMethodCard, Status: models.SaleStatusCompleted, CompletedAt: f.clock.Now(),
	})
	require.NoError(t, err)

	f.clock.Advance(7 * time.Hour)
	out, err := f.coord.Close(ctx, CloseRequest{
		SessionID:   s.ID,
		CountedCash: decimal.NewFromInt(740),
		Notes:       " sayım ",
		Actor:       actor(1, "till-2"),
	})
	require.NoError(t, err)

	assert.True(t, out.Result.ExpectedCash.Equal(decimal.NewFromInt(750)))
	assert.True(t, out.Result.Difference.Equal(decimal.NewFromInt(-10)))
	assert.Equal(t, models.OutcomeShortfall, out.Result.Outcome)
	assert.True(t, out.Result.Breakdown.NonCashTotal.Equal(decimal.NewFromInt(80)))

	stored, err := f.coord.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionClosed, stored.State)
	require.NotNil(t, stored.ClosedAt)
	assert.True(t, stored.ExpectedCash.Decimal.Equal(decimal.NewFromInt(750)))
	assert.True(t, stored.CountedCash.Decimal.Equal(decimal.NewFromInt(740)))
	assert.Equal(t, "till-2", stored.ClosedFrom)
	assert.Equal(t, "kasiyer-1", stored.ClosedBy)
	assert.Equal(t, "sayım", stored.ClosingNotes)
	assert.False(t, stored.AutoClosed)

	assert.Nil(t, f.lockOf(t, 1).OpenSessionID)

	cur, err := f.coord.Current(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, cur)
}

func TestClose_Twice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	opened, err := f.coord.Open(ctx, openReq(1, 100, "till-1"))
	require.NoError(t, err)

	req := CloseRequest{SessionID: opened.Session.ID, CountedCash: decimal.NewFromInt(100), Actor: actor(1, "till-1")}
	_, err = f.coord.Close(ctx, req)
	require.NoError(t, err)
	first, err := f.coord.Get(ctx, opened.Session.ID)
	require.NoError(t, err)

	req.CountedCash = decimal.NewFromInt(1)
	req.Actor = actor(1, "till-2")
	f.clock.Advance(time.Minute)
	_, err = f.coord.Close(ctx, req)
	assert.ErrorIs(t, err, ErrSessionAlreadyClosed)

	second, err := f.coord.Get(ctx, opened.Session.ID)
	require.NoError(t, err)
	assert.True(t, first.CountedCash.Decimal.Equal(second.CountedCash.Decimal))
	assert.Equal(t, "till-1", second.ClosedFrom)
}

func TestClose_Auto(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	opened, err := f.coord.Open(ctx, openReq(1, 300, "till-1"))
	require.NoError(t, err)
	f.notices.Drain()

	f.clock.Advance(16 * time.Hour)
	out, err := f.coord.Close(ctx, CloseRequest{SessionID: opened.Session.ID, Auto: true, Actor: models.SystemActor("server-a")})
	require.NoError(t, err)

	assert.True(t, out.Session.AutoClosed)
	assert.True(t, out.Result.CountedCash.Equal(decimal.NewFromInt(300)))
	assert.True(t, out.Result.Difference.IsZero())
	assert.Equal(t, models.OutcomeBalanced, out.Session.Outcome)
	assert.Equal(t, []notify.Kind{notify.AutoClosed}, notify.Kinds(f.notices.Drain()))
}

func TestClose_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.coord.Close(ctx, CloseRequest{SessionID: "nope", CountedCash: decimal.Zero})
	assert.ErrorIs(t, err, ErrSessionNotFound)

	opened, err := f.coord.Open(ctx, openReq(1, 100, "till-1"))
	require.NoError(t, err)
	_, err = f.coord.Close(ctx, CloseRequest{SessionID: opened.Session.ID, CountedCash: decimal.NewFromInt(-3)})
	assert.ErrorIs(t, err, ErrNegativeAmount)
}

func TestReopenAfterClose_NewSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.coord.Open(ctx, openReq(1, 100, "till-1"))
	require.NoError(t, err)
	_, err = f.coord.Close(ctx, CloseRequest{SessionID: a.Session.ID, CountedCash: decimal.NewFromInt(100), Actor: actor(1, "till-1")})
	require.NoError(t, err)

	b, err := f.coord.Open(ctx, openReq(1, 100, "till-1"))
	require.NoError(t, err)
	assert.False(t, b.Joined)
	assert.NotEqual(t, a.Session.ID, b.Session.ID)
}

func TestPreview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.coord.Open(ctx, openReq(1, 100, "till-1"))
	require.NoError(t, err)

	_, r, err := f.coord.Preview(ctx, a.Session.ID, decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeBalanced, r.Outcome)

	_, err = f.coord.Close(ctx, CloseRequest{SessionID: a.Session.ID, CountedCash: decimal.NewFromInt(120), Actor: actor(1, "till-1")})
	require.NoError(t, err)

	_, r, err = f.coord.Preview(ctx, a.Session.ID, decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSurplus, r.Outcome, "closed sessions report the stored figures")
}

func TestListOpenAndList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.coord.Open(ctx, openReq(1, 100, "till-1"))
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	_, err = f.coord.Open(ctx, openReq(2, 100, "till-2"))
	require.NoError(t, err)
	_, err = f.coord.Close(ctx, CloseRequest{SessionID: a.Session.ID, CountedCash: decimal.NewFromInt(100), Actor: actor(1, "till-1")})
	require.NoError(t, err)

	open, err := f.coord.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, uint(2), open[0].CashierID)

	closed, err := f.coord.List(ctx, Filter{State: models.SessionClosed})
	require.NoError(t, err)
	require.Len(t, closed, 1)
	assert.Equal(t, a.Session.ID, closed[0].ID)

	mine, err := f.coord.List(ctx, Filter{CashierID: 2})
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}
