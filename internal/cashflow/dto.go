package cashflow

import (
	"time"

	"kasa-backend/internal/models"
	"kasa-backend/internal/realtime"

	"github.com/shopspring/decimal"
)

type SessionResponse struct {
	ID           string              `json:"id"`
	CashierID    uint                `json:"cashier_id"`
	CashierName  string              `json:"cashier_name"`
	State        models.SessionState `json:"state"`
	OpenedAt     time.Time           `json:"opened_at"`
	ClosedAt     *time.Time          `json:"closed_at"`
	OpeningCash  decimal.Decimal     `json:"opening_cash"`
	OpeningNotes string              `json:"opening_notes,omitempty"`
	ClosingNotes string              `json:"closing_notes,omitempty"`
	AutoClosed   bool                `json:"auto_closed"`
	ClosedBy     string              `json:"closed_by,omitempty"`
	ClosedFrom   string              `json:"closed_from,omitempty"`
	Movements    []models.Movement   `json:"movements"`

	BusinessHours models.BusinessHours `json:"business_hours"`

	// Sadece yöneticiler görür (kör sayım)
	ExpectedCash *decimal.Decimal    `json:"expected_cash,omitempty"`
	CountedCash  *decimal.Decimal    `json:"counted_cash,omitempty"`
	Difference   *decimal.Decimal    `json:"difference,omitempty"`
	Outcome      models.CountOutcome `json:"outcome,omitempty"`
}

func newSessionResponse(s models.CashSession, role models.UserRole) SessionResponse {
	movements := s.Movements
	if movements == nil {
		movements = []models.Movement{}
	}
	r := SessionResponse{
		ID:            s.ID,
		CashierID:     s.CashierID,
		CashierName:   s.CashierName,
		State:         s.State,
		OpenedAt:      s.OpenedAt,
		ClosedAt:      s.ClosedAt,
		OpeningCash:   s.OpeningCash.Round(2),
		OpeningNotes:  s.OpeningNotes,
		ClosingNotes:  s.ClosingNotes,
		AutoClosed:    s.AutoClosed,
		ClosedBy:      s.ClosedBy,
		ClosedFrom:    s.ClosedFrom,
		Movements:     movements,
		BusinessHours: s.BusinessHoursSnapshot,
	}
	if !role.Elevated() {
		return r
	}
	r.ExpectedCash = roundedPtr(s.ExpectedCash)
	r.CountedCash = roundedPtr(s.CountedCash)
	r.Difference = roundedPtr(s.Difference)
	r.Outcome = s.Outcome
	return r
}

func roundedPtr(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal.Round(2)
	return &v
}

// ViewResponse is one frame of the session stream.
type ViewResponse struct {
	CashierID uint             `json:"cashier_id"`
	Session   *SessionResponse `json:"session"`
	LoadedAt  time.Time        `json:"loaded_at"`

	CashSales    *decimal.Decimal `json:"cash_sales,omitempty"`
	ExpectedCash *decimal.Decimal `json:"expected_cash,omitempty"`
	NonCashTotal *decimal.Decimal `json:"non_cash_total,omitempty"`
}

func newViewResponse(v realtime.View, role models.UserRole) ViewResponse {
	r := ViewResponse{CashierID: v.CashierID, LoadedAt: v.LoadedAt}
	if v.Session == nil {
		return r
	}
	s := newSessionResponse(*v.Session, role)
	r.Session = &s
	if role.Elevated() {
		cash := v.CashSales.Round(2)
		expected := v.ExpectedCash().Round(2)
		nonCash := v.Preview.NonCashTotal.Round(2)
		r.CashSales, r.ExpectedCash, r.NonCashTotal = &cash, &expected, &nonCash
	}
	return r
}
