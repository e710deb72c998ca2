package reconcile

import (
	"testing"
	"time"

	"kasa-backend/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var opened = time.Date(2025, 5, 10, 8, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newSession(opening string, movements ...models.Movement) *models.CashSession {
	return &models.CashSession{
		ID:          "s1",
		CashierID:   7,
		CashierName: "Ayşe",
		State:       models.SessionOpen,
		OpenedAt:    opened,
		OpeningCash: d(opening),
		Movements:   movements,
	}
}

func movement(typ models.MovementType, amount string) models.Movement {
	return models.Movement{ID: "m-" + amount, Type: typ, Amount: d(amount), Concept: "test"}
}

func sale(id string, seller uint, amount string, method models.PaymentMethod, status models.SaleStatus, at time.Time) models.Sale {
	return models.Sale{ID: id, SellerID: seller, Amount: d(amount), PaymentMethod: method, Status: status, CompletedAt: at}
}

func TestReconcile_BalancedScenario(t *testing.T) {
	session := newSession("500", movement(models.MovementIncome, "50"))
	sales := []models.Sale{
		sale("v1", 7, "200", models.PaymentMethodCash, models.SaleStatusCompleted, opened.Add(time.Hour)),
	}

	r := Reconcile(session, sales, d("750"), opened.Add(8*time.Hour))

	assert.True(t, r.ExpectedCash.Equal(d("750")), "expected %s", r.ExpectedCash)
	assert.True(t, r.Difference.IsZero())
	assert.Equal(t, models.OutcomeBalanced, r.Outcome)
	assert.True(t, r.Breakdown.CashSales.Equal(d("200")))
	assert.True(t, r.Breakdown.Income.Equal(d("50")))
	assert.Equal(t, 1, r.Breakdown.CashSalesCount)
}

func TestReconcile_ShortfallScenario(t *testing.T) {
	session := newSession("500", movement(models.MovementIncome, "50"))
	sales := []models.Sale{
		sale("v1", 7, "200", models.PaymentMethodCash, models.SaleStatusCompleted, opened.Add(time.Hour)),
	}

	r := Reconcile(session, sales, d("700"), opened.Add(8*time.Hour))

	assert.True(t, r.Difference.Equal(d("-50")), "difference %s", r.Difference)
	assert.Equal(t, models.OutcomeShortfall, r.Outcome)
}

func TestReconcile_FiltersSales(t *testing.T) {
	session := newSession("100", movement(models.MovementExpense, "30"))
	closeAt := opened.Add(4 * time.Hour)
	sales := []models.Sale{
		sale("in-window", 7, "40", models.PaymentMethodCash, models.SaleStatusCompleted, opened.Add(time.Minute)),
		sale("at-open", 7, "5", models.PaymentMethodCash, models.SaleStatusCompleted, opened),
		sale("at-close", 7, "5", models.PaymentMethodCash, models.SaleStatusCompleted, closeAt),
		sale("before-open", 7, "1000", models.PaymentMethodCash, models.SaleStatusCompleted, opened.Add(-time.Second)),
		sale("after-close", 7, "1000", models.PaymentMethodCash, models.SaleStatusCompleted, closeAt.Add(time.Second)),
		sale("other-seller", 8, "1000", models.PaymentMethodCash, models.SaleStatusCompleted, opened.Add(time.Hour)),
		sale("pending", 7, "1000", models.PaymentMethodCash, models.SaleStatusPending, opened.Add(time.Hour)),
		sale("cancelled", 7, "1000", models.PaymentMethodCash, models.SaleStatusCancelled, opened.Add(time.Hour)),
		sale("card", 7, "80", models.PaymentMethodCard, models.SaleStatusCompleted, opened.Add(time.Hour)),
		sale("transfer", 7, "20", models.PaymentMethodTransfer, models.SaleStatusCompleted, opened.Add(time.Hour)),
	}

	b := Compute(session, sales, closeAt)

	assert.True(t, b.CashSales.Equal(d("50")), "cash sales %s", b.CashSales)
	assert.True(t, b.Expected().Equal(d("120")))
	assert.True(t, b.NonCashTotal.Equal(d("100")))
	assert.True(t, b.NonCashSales[models.PaymentMethodCard].Equal(d("80")))
	assert.True(t, b.TotalTurnover.Equal(d("220")))
	assert.Equal(t, 3, b.CashSalesCount)
}

func TestReconcile_IsPure(t *testing.T) {
	session := newSession("250.75",
		movement(models.MovementIncome, "10.10"),
		movement(models.MovementExpense, "3.33"),
	)
	sales := []models.Sale{
		sale("b", 7, "12.50", models.PaymentMethodCash, models.SaleStatusCompleted, opened.Add(2*time.Hour)),
		sale("a", 7, "7.25", models.PaymentMethodCash, models.SaleStatusCompleted, opened.Add(time.Hour)),
	}
	closeAt := opened.Add(6 * time.Hour)

	first := Reconcile(session, sales, d("280"), closeAt)
	for i := 0; i < 5; i++ {
		again := Reconcile(session, sales, d("280"), closeAt)
		assert.True(t, first.ExpectedCash.Equal(again.ExpectedCash))
		assert.True(t, first.Difference.Equal(again.Difference))
		assert.Equal(t, first.Outcome, again.Outcome)
	}
	assert.Equal(t, "b", sales[0].ID, "input slice must not be reordered")
	assert.True(t, first.ExpectedCash.Equal(d("277.27")))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		diff string
		want models.CountOutcome
	}{
		{"0", models.OutcomeBalanced},
		{"0.009", models.OutcomeBalanced},
		{"-0.009", models.OutcomeBalanced},
		{"0.01", models.OutcomeSurplus},
		{"12", models.OutcomeSurplus},
		{"-0.01", models.OutcomeShortfall},
		{"-50", models.OutcomeShortfall},
	}
	for _, tt := range tests {
		t.Run(tt.diff, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(d(tt.diff)))
		})
	}
}

func TestFromSession(t *testing.T) {
	closed := opened.Add(9 * time.Hour)
	s := newSession("500", movement(models.MovementIncome, "50"))
	_, ok := FromSession(s)
	assert.False(t, ok)

	s.State = models.SessionClosed
	s.ClosedAt = &closed
	s.ExpectedCash = decimal.NewNullDecimal(d("750"))
	s.CountedCash = decimal.NewNullDecimal(d("700"))
	s.Difference = decimal.NewNullDecimal(d("-50"))
	s.Outcome = models.OutcomeShortfall

	r, ok := FromSession(s)
	require.True(t, ok)
	assert.True(t, r.Difference.Equal(d("-50")))
	assert.Equal(t, closed, r.CloseAt)
	assert.True(t, r.Breakdown.Income.Equal(d("50")))
}
