package models

import "time"

type AuditAction string

const (
	AuditActionCreate    AuditAction = "create"
	AuditActionUpdate    AuditAction = "update"
	AuditActionJoin      AuditAction = "join"
	AuditActionClose     AuditAction = "close"
	AuditActionAutoClose AuditAction = "auto_close"
)

type AuditLog struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`

	BranchID *uint `json:"branch_id"`

	// Hangi kullanıcı? (0 = sistem, ör. otomatik kapanış)
	UserID   uint   `json:"user_id"`
	UserName string `gorm:"size:100" json:"user_name"`

	// "cash_session" | "cash_movement" | "settings" | "branch"
	EntityType string `gorm:"size:50;index" json:"entity_type"`
	EntityID   string `gorm:"size:64;index" json:"entity_id"`

	Action      AuditAction `gorm:"size:20" json:"action"`
	Description string      `gorm:"size:255" json:"description"`

	// Önceki ve sonraki hal (JSON)
	BeforeData string `gorm:"type:text" json:"before_data"`
	AfterData  string `gorm:"type:text" json:"after_data"`
}
