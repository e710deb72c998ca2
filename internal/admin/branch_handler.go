package admin

import (
	"errors"
	"strings"

	"kasa-backend/internal/audit"
	"kasa-backend/internal/auth"
	"kasa-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type BranchResponse struct {
	ID        uint   `json:"id"`
	Name      string `json:"name"`
	Address   string `json:"address"`
	Phone     string `json:"phone"`
	CreatedAt string `json:"created_at"`
}

type BranchRequest struct {
	Name    *string `json:"name"`
	Address *string `json:"address"`
	Phone   *string `json:"phone"` // Opsiyonel
}

func newBranchResponse(b models.Branch) BranchResponse {
	return BranchResponse{
		ID:        b.ID,
		Name:      b.Name,
		Address:   b.Address,
		Phone:     b.Phone,
		CreatedAt: b.CreatedAt.Format("2006-01-02 15:04:05"),
	}
}

// apply copies the set fields of body onto b.
func (body BranchRequest) apply(b *models.Branch) error {
	if body.Name != nil {
		name := strings.TrimSpace(*body.Name)
		if name == "" {
			return fiber.NewError(fiber.StatusBadRequest, "Şube adı boş olamaz")
		}
		b.Name = name
	}
	if body.Address != nil {
		b.Address = strings.TrimSpace(*body.Address)
	}
	if body.Phone != nil {
		b.Phone = strings.TrimSpace(*body.Phone)
	}
	return nil
}

// ----------------------------------------
// ŞUBE CRUD
// ----------------------------------------

func (h *Handlers) CreateBranchHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body BranchRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Geçersiz veri gönderildi")
		}
		if body.Name == nil {
			return fiber.NewError(fiber.StatusBadRequest, "Şube adı boş olamaz")
		}

		var branch models.Branch
		if err := body.apply(&branch); err != nil {
			return err
		}
		if err := h.db.WithContext(c.UserContext()).Create(&branch).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fiber.NewError(fiber.StatusConflict, "Bu isimde bir şube zaten var")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "Şube oluşturulamadı")
		}

		h.audit(c, branch.ID, models.AuditActionCreate, "Şube oluşturuldu: "+branch.Name, nil, newBranchResponse(branch))
		return c.Status(fiber.StatusCreated).JSON(newBranchResponse(branch))
	}
}

func (h *Handlers) ListBranchesHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var branches []models.Branch
		if err := h.db.WithContext(c.UserContext()).Order("name").Find(&branches).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Şubeler listelenemedi")
		}

		res := make([]BranchResponse, 0, len(branches))
		for _, b := range branches {
			res = append(res, newBranchResponse(b))
		}
		return c.JSON(res)
	}
}

func (h *Handlers) UpdateBranchHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		var branch models.Branch
		if err := h.db.WithContext(c.UserContext()).First(&branch, "id = ?", c.Params("id")).Error; err != nil {
			return fiber.NewError(fiber.StatusNotFound, "Şube bulunamadı")
		}
		before := newBranchResponse(branch)

		var body BranchRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Geçersiz veri gönderildi")
		}
		if err := body.apply(&branch); err != nil {
			return err
		}
		if err := h.db.WithContext(c.UserContext()).Save(&branch).Error; err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Şube güncellenemedi")
		}

		after := newBranchResponse(branch)
		h.audit(c, branch.ID, models.AuditActionUpdate, "Şube güncellendi: "+branch.Name, before, after)
		return c.JSON(after)
	}
}

func (h *Handlers) audit(c *fiber.Ctx, branchID uint, action models.AuditAction, desc string, before, after any) {
	op, _ := auth.CurrentOperator(c)
	id := branchID
	err := audit.WriteLog(c.UserContext(), h.db, audit.LogOptions{
		BranchID:    &id,
		UserID:      op.ID,
		UserName:    op.Name,
		EntityType:  audit.EntityBranch,
		EntityID:    strconvUint(branchID),
		Action:      action,
		Description: desc,
		Before:      before,
		After:       after,
	})
	if err != nil {
		h.log.Warn("audit log failed", zap.Uint("branch_id", branchID), zap.Error(err))
	}
}
