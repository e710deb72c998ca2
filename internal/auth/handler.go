package auth

import (
	"strings"

	"kasa-backend/internal/config"
	"kasa-backend/internal/models"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type RegisterRequest struct {
	Name     string          `json:"name"`
	Email    string          `json:"email"`
	Password string          `json:"password"`
	Role     models.UserRole `json:"role"`
	BranchID *uint           `json:"branch_id"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func RegisterSuperAdminHandler(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body RegisterRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Geçersiz istek gövdesi")
		}

		var count int64
		db.Model(&models.User{}).
			Where("role = ?", models.RoleSuperAdmin).
			Count(&count)
		if count > 0 {
			return fiber.NewError(fiber.StatusForbidden, "Zaten bir super admin var")
		}

		body.Role = models.RoleSuperAdmin
		body.BranchID = nil
		user, err := createUser(db, body)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"id":    user.ID,
			"email": user.Email,
			"role":  user.Role,
		})
	}
}

// POST /api/users (super_admin, branch_admin)
func CreateUserHandler(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		op, ok := CurrentOperator(c)
		if !ok {
			return fiber.NewError(fiber.StatusForbidden, "Rol bilgisi alınamadı")
		}

		var body RegisterRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Geçersiz istek gövdesi")
		}

		switch body.Role {
		case models.RoleCashier, models.RoleBranchAdmin:
		case models.RoleSuperAdmin:
			return fiber.NewError(fiber.StatusForbidden, "Super admin bu uçtan oluşturulamaz")
		default:
			return fiber.NewError(fiber.StatusBadRequest, "Geçersiz rol")
		}

		// Şube yöneticisi sadece kendi şubesine kasiyer ekler
		if op.Role == models.RoleBranchAdmin {
			if body.Role != models.RoleCashier {
				return fiber.NewError(fiber.StatusForbidden, "Bu işlem için yetkiniz yok")
			}
			body.BranchID = op.BranchID
		}

		user, err := createUser(db, body)
		if err != nil {
			return err
		}
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"id":        user.ID,
			"name":      user.Name,
			"email":     user.Email,
			"role":      user.Role,
			"branch_id": user.BranchID,
		})
	}
}

func createUser(db *gorm.DB, body RegisterRequest) (*models.User, error) {
	body.Email = strings.TrimSpace(strings.ToLower(body.Email))
	body.Name = strings.TrimSpace(body.Name)
	if body.Email == "" || body.Password == "" || body.Name == "" {
		return nil, fiber.NewError(fiber.StatusBadRequest, "İsim, email ve şifre zorunlu")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(body.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusInternalServerError, "Şifre hashlenemedi")
	}

	user := models.User{
		Name:         body.Name,
		Email:        body.Email,
		PasswordHash: string(hash),
		Role:         body.Role,
		BranchID:     body.BranchID,
	}
	if err := db.Create(&user).Error; err != nil {
		return nil, fiber.NewError(fiber.StatusConflict, "Kullanıcı oluşturulamadı")
	}
	return &user, nil
}

func LoginHandler(cfg *config.Config, db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body LoginRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Geçersiz istek gövdesi")
		}

		body.Email = strings.TrimSpace(strings.ToLower(body.Email))

		var user models.User
		if err := db.Where("email = ?", body.Email).First(&user).Error; err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "Email veya şifre hatalı")
		}

		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(body.Password)); err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "Email veya şifre hatalı")
		}

		token, err := GenerateToken(cfg.JWTSecret, &user)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Token oluşturulamadı")
		}

		return c.JSON(fiber.Map{
			"token": token,
			"user": fiber.Map{
				"id":        user.ID,
				"name":      user.Name,
				"email":     user.Email,
				"role":      user.Role,
				"branch_id": user.BranchID,
			},
		})
	}
}

func MeHandler(db *gorm.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		op, ok := CurrentOperator(c)
		if !ok {
			return fiber.NewError(fiber.StatusForbidden, "Kullanıcı bilgisi alınamadı")
		}

		var user models.User
		if err := db.First(&user, op.ID).Error; err != nil {
			// Veritabanından çekilemezse token bilgisini döndür
			return c.JSON(fiber.Map{
				"user_id":   op.ID,
				"name":      op.Name,
				"role":      op.Role,
				"branch_id": op.BranchID,
				"device_id": op.Device,
			})
		}

		response := fiber.Map{
			"user_id":   user.ID,
			"name":      user.Name,
			"email":     user.Email,
			"role":      user.Role,
			"branch_id": user.BranchID,
			"device_id": op.Device,
		}
		if user.BranchID != nil {
			var branch models.Branch
			if err := db.First(&branch, *user.BranchID).Error; err == nil {
				response["branch"] = fiber.Map{
					"id":      branch.ID,
					"name":    branch.Name,
					"address": branch.Address,
					"phone":   branch.Phone,
				}
			}
		}
		return c.JSON(response)
	}
}
