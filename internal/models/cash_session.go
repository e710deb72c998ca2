package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type SessionState string

const (
	SessionOpen   SessionState = "open"
	SessionClosed SessionState = "closed"
)

// CountOutcome classifies counted against expected cash.
type CountOutcome string

const (
	OutcomeBalanced  CountOutcome = "balanced"
	OutcomeSurplus   CountOutcome = "surplus"
	OutcomeShortfall CountOutcome = "shortfall"
)

type MovementType string

const (
	MovementIncome  MovementType = "income"
	MovementExpense MovementType = "expense"
)

// Movement is a manual cash adjustment inside a session. It is never edited
// after it has been appended.
type Movement struct {
	ID         string          `json:"id"`
	Type       MovementType    `json:"type"`
	Concept    string          `json:"concept"`
	Amount     decimal.Decimal `json:"amount"`
	Category   string          `json:"category"`
	Notes      string          `json:"notes,omitempty"`
	RecordedAt time.Time       `json:"recorded_at"`
	RecordedBy string          `json:"recorded_by"`
}

// BusinessHours is copied onto a session when it opens so later config edits
// do not move the schedule of a running shift.
type BusinessHours struct {
	StartTime    string `json:"start_time" yaml:"start_time"` // "08:00"
	EndTime      string `json:"end_time" yaml:"end_time"`     // "22:00"
	EndIsNextDay bool   `json:"end_is_next_day" yaml:"end_is_next_day"`
	TimeZone     string `json:"time_zone" yaml:"time_zone"`
}

// CashSession is one register shift, from open to close.
type CashSession struct {
	ID          string       `gorm:"primaryKey;size:64" json:"id"`
	CashierID   uint         `gorm:"index;not null" json:"cashier_id"`
	CashierName string       `gorm:"size:100;not null" json:"cashier_name"`
	State       SessionState `gorm:"size:10;index;not null" json:"state"`

	OpenedAt     time.Time       `gorm:"index;not null" json:"opened_at"`
	ClosedAt     *time.Time      `json:"closed_at"`
	OpeningCash  decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"opening_cash"`
	OpeningNotes string          `gorm:"size:500" json:"opening_notes,omitempty"`
	ClosingNotes string          `gorm:"size:500" json:"closing_notes,omitempty"`

	ExpectedCash decimal.NullDecimal `gorm:"type:numeric(14,2)" json:"expected_cash"`
	CountedCash  decimal.NullDecimal `gorm:"type:numeric(14,2)" json:"counted_cash"`
	Difference   decimal.NullDecimal `gorm:"type:numeric(14,2)" json:"difference"`
	Outcome      CountOutcome        `gorm:"size:20" json:"outcome,omitempty"`
	AutoClosed   bool                `gorm:"default:false" json:"auto_closed"`

	ClosedBy   string `gorm:"size:100" json:"closed_by,omitempty"`
	ClosedFrom string `gorm:"size:64" json:"closed_from,omitempty"` // device that wrote the close
	OpenedFrom string `gorm:"size:64" json:"opened_from,omitempty"`

	BusinessHoursSnapshot BusinessHours `gorm:"type:text;serializer:json" json:"business_hours_snapshot"`
	Movements             []Movement    `gorm:"type:text;serializer:json" json:"movements"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (s *CashSession) IsOpen() bool {
	return s != nil && s.State == SessionOpen
}

// SessionLock serializes "is a session open" decisions for one cashier.
// OpenSessionID is nil or points to a session in state open; it only changes
// inside the transaction that opens or closes that session.
type SessionLock struct {
	CashierID     uint      `gorm:"primaryKey;autoIncrement:false" json:"cashier_id"`
	OpenSessionID *string   `gorm:"size:64" json:"open_session_id"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

func (SessionLock) TableName() string { return "cash_session_locks" }

// Settings is the general configuration row (id "general").
type Settings struct {
	ID                        string        `gorm:"primaryKey;size:32" json:"id"`
	BusinessHours             BusinessHours `gorm:"type:text;serializer:json" json:"business_hours"`
	MaxConcurrentOpenSessions int           `gorm:"not null;default:1" json:"max_concurrent_open_sessions"`
	UpdatedAt                 time.Time     `json:"updated_at"`
}
