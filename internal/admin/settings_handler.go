// Package admin serves the super-admin endpoints: branches and the general
// cash settings (business hours, open-session cap).
package admin

import (
	"strconv"

	"kasa-backend/internal/audit"
	"kasa-backend/internal/auth"
	"kasa-backend/internal/models"
	"kasa-backend/internal/settings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Handlers struct {
	db       *gorm.DB
	settings *settings.Store
	log      *zap.Logger
}

func NewHandlers(db *gorm.DB, st *settings.Store, log *zap.Logger) *Handlers {
	return &Handlers{db: db, settings: st, log: log}
}

// Register mounts the routes; callers restrict r to super admins.
func (h *Handlers) Register(r fiber.Router) {
	r.Post("/branches", h.CreateBranchHandler())
	r.Get("/branches", h.ListBranchesHandler())
	r.Put("/branches/:id", h.UpdateBranchHandler())

	r.Get("/settings", h.GetSettingsHandler())
	r.Put("/settings", h.UpdateSettingsHandler())
}

type SettingsRequest struct {
	BusinessHours             models.BusinessHours `json:"business_hours"`
	MaxConcurrentOpenSessions int                  `json:"max_concurrent_open_sessions"`
}

// -------------------------------------------------
// GET /api/admin/settings
// -------------------------------------------------
func (h *Handlers) GetSettingsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		st, err := h.settings.Load(c.UserContext())
		if err != nil {
			return err
		}
		return c.JSON(st)
	}
}

// -------------------------------------------------
// PUT /api/admin/settings
// Açık oturumlar açılıştaki saat bilgisini kullanmaya devam eder
// -------------------------------------------------
func (h *Handlers) UpdateSettingsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body SettingsRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Geçersiz veri gönderildi")
		}

		before, err := h.settings.Load(c.UserContext())
		if err != nil {
			return err
		}
		next := models.Settings{
			ID:                        settings.GeneralID,
			BusinessHours:             body.BusinessHours,
			MaxConcurrentOpenSessions: body.MaxConcurrentOpenSessions,
		}
		if next.BusinessHours.TimeZone == "" {
			next.BusinessHours.TimeZone = before.BusinessHours.TimeZone
		}
		if err := settings.Validate(next); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := h.settings.Save(c.UserContext(), next); err != nil {
			return err
		}

		op, _ := auth.CurrentOperator(c)
		err = audit.WriteLog(c.UserContext(), h.db, audit.LogOptions{
			UserID:      op.ID,
			UserName:    op.Name,
			EntityType:  audit.EntitySettings,
			EntityID:    settings.GeneralID,
			Action:      models.AuditActionUpdate,
			Description: "Kasa ayarları güncellendi",
			Before:      before,
			After:       next,
		})
		if err != nil {
			h.log.Warn("audit log failed", zap.String("entity", audit.EntitySettings), zap.Error(err))
		}
		return c.JSON(next)
	}
}

func strconvUint(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}
