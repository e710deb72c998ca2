package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentMethodCash     PaymentMethod = "cash"
	PaymentMethodCard     PaymentMethod = "card"
	PaymentMethodTransfer PaymentMethod = "transfer"
	PaymentMethodVoucher  PaymentMethod = "voucher"
)

type SaleStatus string

const (
	SaleStatusPending   SaleStatus = "pending"
	SaleStatusCompleted SaleStatus = "completed"
	SaleStatusCancelled SaleStatus = "cancelled"
)

// Sale is written by the point-of-sale flow; the cash subsystem only reads it.
type Sale struct {
	ID            string          `gorm:"primaryKey;size:64" json:"id"`
	SellerID      uint            `gorm:"index;not null" json:"seller_id"`
	Amount        decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"amount"`
	PaymentMethod PaymentMethod   `gorm:"size:20;not null" json:"payment_method"`
	Status        SaleStatus      `gorm:"size:20;index;not null" json:"status"`
	CompletedAt   time.Time       `gorm:"index" json:"completed_at"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
