// Package reconcile derives the cash a drawer should hold and classifies a
// physical count against it. Everything here is a pure function of its
// arguments: no database, no clock.
package reconcile

import (
	"sort"
	"time"

	"kasa-backend/internal/models"

	"github.com/shopspring/decimal"
)

// Tolerance below which a difference counts as balanced.
var Tolerance = decimal.New(1, -2)

type Breakdown struct {
	OpeningCash decimal.Decimal `json:"opening_cash"`
	CashSales   decimal.Decimal `json:"cash_sales"`
	Income      decimal.Decimal `json:"income"`
	Expense     decimal.Decimal `json:"expense"`

	// Control figures, not part of the drawer liability.
	NonCashSales  map[models.PaymentMethod]decimal.Decimal `json:"non_cash_sales"`
	NonCashTotal  decimal.Decimal                          `json:"non_cash_total"`
	TotalTurnover decimal.Decimal                          `json:"total_turnover"`

	CashSalesCount int `json:"cash_sales_count"`
	MovementCount  int `json:"movement_count"`
}

type Result struct {
	ExpectedCash decimal.Decimal     `json:"expected_cash"`
	CountedCash  decimal.Decimal     `json:"counted_cash"`
	Difference   decimal.Decimal     `json:"difference"`
	Outcome      models.CountOutcome `json:"outcome"`
	Breakdown    Breakdown           `json:"breakdown"`
	CloseAt      time.Time           `json:"close_at"`
}

// Reconcile computes expected cash for session at closeAt and compares it
// with countedCash. sales may contain records of other sellers or outside the
// session window; they are filtered here.
func Reconcile(session *models.CashSession, sales []models.Sale, countedCash decimal.Decimal, closeAt time.Time) Result {
	b := Compute(session, sales, closeAt)
	expected := b.Expected()
	diff := countedCash.Sub(expected)

	return Result{
		ExpectedCash: expected,
		CountedCash:  countedCash,
		Difference:   diff,
		Outcome:      Classify(diff),
		Breakdown:    b,
		CloseAt:      closeAt,
	}
}

// Compute builds the breakdown without a count, for live previews.
func Compute(session *models.CashSession, sales []models.Sale, closeAt time.Time) Breakdown {
	b := Breakdown{
		OpeningCash:  session.OpeningCash,
		CashSales:    decimal.Zero,
		Income:       decimal.Zero,
		Expense:      decimal.Zero,
		NonCashSales: make(map[models.PaymentMethod]decimal.Decimal),
		NonCashTotal: decimal.Zero,
	}

	for _, s := range InWindow(session, sales, closeAt) {
		if s.PaymentMethod == models.PaymentMethodCash {
			b.CashSales = b.CashSales.Add(s.Amount)
			b.CashSalesCount++
			continue
		}
		b.NonCashSales[s.PaymentMethod] = b.NonCashSales[s.PaymentMethod].Add(s.Amount)
		b.NonCashTotal = b.NonCashTotal.Add(s.Amount)
	}

	b.Income, b.Expense = MovementTotals(session.Movements)
	b.MovementCount = len(session.Movements)
	b.TotalTurnover = b.Expected().Add(b.NonCashTotal)
	return b
}

// Expected is opening + cash sales + income - expense.
func (b Breakdown) Expected() decimal.Decimal {
	return b.OpeningCash.Add(b.CashSales).Add(b.Income).Sub(b.Expense)
}

// InWindow returns the completed sales of the session's cashier between
// openedAt and closeAt inclusive, ordered by completion time.
func InWindow(session *models.CashSession, sales []models.Sale, closeAt time.Time) []models.Sale {
	out := make([]models.Sale, 0, len(sales))
	for _, s := range sales {
		if s.SellerID != session.CashierID || s.Status != models.SaleStatusCompleted {
			continue
		}
		if s.CompletedAt.Before(session.OpenedAt) || s.CompletedAt.After(closeAt) {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CompletedAt.Before(out[j].CompletedAt)
	})
	return out
}

func MovementTotals(movements []models.Movement) (income, expense decimal.Decimal) {
	income, expense = decimal.Zero, decimal.Zero
	for _, m := range movements {
		switch m.Type {
		case models.MovementIncome:
			income = income.Add(m.Amount)
		case models.MovementExpense:
			expense = expense.Add(m.Amount)
		}
	}
	return income, expense
}

func Classify(difference decimal.Decimal) models.CountOutcome {
	switch {
	case difference.Abs().LessThan(Tolerance):
		return models.OutcomeBalanced
	case difference.IsPositive():
		return models.OutcomeSurplus
	default:
		return models.OutcomeShortfall
	}
}

// FromSession rebuilds the stored figures of a closed session.
func FromSession(s *models.CashSession) (Result, bool) {
	if s.State != models.SessionClosed || !s.ExpectedCash.Valid {
		return Result{}, false
	}
	r := Result{
		ExpectedCash: s.ExpectedCash.Decimal,
		CountedCash:  s.CountedCash.Decimal,
		Difference:   s.Difference.Decimal,
		Outcome:      s.Outcome,
	}
	if s.ClosedAt != nil {
		r.CloseAt = *s.ClosedAt
	}
	r.Breakdown.OpeningCash = s.OpeningCash
	r.Breakdown.Income, r.Breakdown.Expense = MovementTotals(s.Movements)
	r.Breakdown.MovementCount = len(s.Movements)
	return r, true
}
