package reconcile

import (
	"kasa-backend/internal/models"

	"github.com/shopspring/decimal"
)

const countRecordedMessage = "Kasa sayımı kaydedildi"

// Presentation is what an operator is allowed to see about a closing.
// Cashiers get a blind count: the figures are stored but not shown.
type Presentation struct {
	Blind        bool                `json:"blind"`
	Message      string              `json:"message"`
	ExpectedCash *decimal.Decimal    `json:"expected_cash,omitempty"`
	CountedCash  *decimal.Decimal    `json:"counted_cash,omitempty"`
	Difference   *decimal.Decimal    `json:"difference,omitempty"`
	Outcome      models.CountOutcome `json:"outcome,omitempty"`
	Breakdown    *Breakdown          `json:"breakdown,omitempty"`
}

func Present(r Result, role models.UserRole) Presentation {
	if !role.Elevated() {
		return Presentation{Blind: true, Message: countRecordedMessage}
	}

	expected := r.ExpectedCash.Round(2)
	counted := r.CountedCash.Round(2)
	diff := r.Difference.Round(2)
	b := r.Breakdown

	return Presentation{
		Message:      outcomeMessage(r.Outcome),
		ExpectedCash: &expected,
		CountedCash:  &counted,
		Difference:   &diff,
		Outcome:      r.Outcome,
		Breakdown:    &b,
	}
}

func outcomeMessage(o models.CountOutcome) string {
	switch o {
	case models.OutcomeSurplus:
		return "Kasada fazla var"
	case models.OutcomeShortfall:
		return "Kasada eksik var"
	default:
		return "Kasa denk"
	}
}
