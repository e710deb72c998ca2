package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentType string

const (
	PaymentTypeIncome  PaymentType = "income"
	PaymentTypeExpense PaymentType = "expense"
)

// PaymentSource names the subsystem that produced a general-ledger entry.
type PaymentSource string

const (
	PaymentSourceCashWithdrawal PaymentSource = "cash_withdrawal" // kasadan çekilen nakit
)

// Payment is an entry in the business's general cash pool.
type Payment struct {
	ID         string          `gorm:"primaryKey;size:80" json:"id"`
	Type       PaymentType     `gorm:"size:20;not null" json:"type"`
	Amount     decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"amount"`
	Concept    string          `gorm:"size:255" json:"concept"`
	Source     PaymentSource   `gorm:"size:40;index" json:"source"`
	SourceID   string          `gorm:"size:64;index" json:"source_id"`
	SessionID  string          `gorm:"size:64;index" json:"session_id"`
	RecordedBy string          `gorm:"size:100" json:"recorded_by"`
	Date       time.Time       `gorm:"index;not null" json:"date"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}
