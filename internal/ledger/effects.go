package ledger

import (
	"context"

	"kasa-backend/internal/models"
	"kasa-backend/internal/payments"
)

const (
	CategoryGeneral    = "general"
	CategorySupplies   = "supplies"
	CategoryChangeFund = "change_fund"
	CategoryWithdrawal = "withdrawal"
	CategoryRefund     = "refund"
	CategoryTip        = "tip"
)

// Categories lists the categories offered to users. Movements may carry any
// category string; unknown ones simply have no effects.
var Categories = []string{
	CategoryGeneral,
	CategorySupplies,
	CategoryChangeFund,
	CategoryWithdrawal,
	CategoryRefund,
	CategoryTip,
}

// Effect is a side effect of appending a movement of some category.
type Effect interface {
	Apply(ctx context.Context, session *models.CashSession, m models.Movement) error
}

type EffectFunc func(ctx context.Context, session *models.CashSession, m models.Movement) error

func (f EffectFunc) Apply(ctx context.Context, session *models.CashSession, m models.Movement) error {
	return f(ctx, session, m)
}

// Effects maps a category to the effects it triggers.
type Effects map[string][]Effect

func (e Effects) For(category string) []Effect {
	if e == nil {
		return nil
	}
	return e[category]
}

func DefaultEffects(pay *payments.Ledger) Effects {
	return Effects{
		CategoryWithdrawal: {WithdrawalPayment(pay)},
	}
}

func WithdrawalPaymentID(movementID string) string {
	return "withdrawal_" + movementID
}

// WithdrawalPayment records cash taken out of the drawer as income of the
// general cash pool. Only expense movements move cash out.
func WithdrawalPayment(pay *payments.Ledger) Effect {
	return EffectFunc(func(ctx context.Context, session *models.CashSession, m models.Movement) error {
		if m.Type != models.MovementExpense {
			return nil
		}
		return pay.Upsert(ctx, models.Payment{
			ID:         WithdrawalPaymentID(m.ID),
			Type:       models.PaymentTypeIncome,
			Amount:     m.Amount,
			Concept:    m.Concept,
			Source:     models.PaymentSourceCashWithdrawal,
			SourceID:   m.ID,
			SessionID:  session.ID,
			RecordedBy: m.RecordedBy,
			Date:       m.RecordedAt,
		})
	})
}
