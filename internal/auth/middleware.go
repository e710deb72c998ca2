package auth

import (
	"strings"

	"kasa-backend/internal/config"
	"kasa-backend/internal/models"

	"github.com/gofiber/fiber/v2"
)

const (
	CtxUserIDKey   = "user_id"
	CtxUserNameKey = "user_name"
	CtxUserRoleKey = "user_role"
	CtxBranchIDKey = "branch_id"
	CtxDeviceKey   = "device_id"
)

// DeviceHeader identifies the terminal a request comes from. Two tabs of the
// same cashier on the same machine share a device id.
const DeviceHeader = "X-Device-ID"

func JWTMiddleware(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenStr := bearerToken(c)
		if tokenStr == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "Authorization header eksik")
		}

		claims, err := ParseToken(cfg.JWTSecret, tokenStr)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "Geçersiz veya süresi dolmuş token")
		}

		c.Locals(CtxUserIDKey, claims.UserID)
		c.Locals(CtxUserNameKey, claims.Name)
		c.Locals(CtxUserRoleKey, claims.Role)
		c.Locals(CtxBranchIDKey, claims.BranchID)
		c.Locals(CtxDeviceKey, strings.TrimSpace(c.Get(DeviceHeader)))

		return c.Next()
	}
}

// bearerToken reads the Authorization header; EventSource clients cannot set
// headers, so the stream endpoint also accepts ?access_token=.
func bearerToken(c *fiber.Ctx) string {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return c.Query("access_token")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

func RequireRole(allowedRoles ...models.UserRole) fiber.Handler {
	return func(c *fiber.Ctx) error {
		roleVal := c.Locals(CtxUserRoleKey)
		role, ok := roleVal.(models.UserRole)
		if !ok {
			return fiber.NewError(fiber.StatusForbidden, "Rol bilgisi alınamadı")
		}

		for _, r := range allowedRoles {
			if r == role {
				return c.Next()
			}
		}
		return fiber.NewError(fiber.StatusForbidden, "Bu işlem için yetkiniz yok")
	}
}

// Operator is the authenticated user behind a request.
type Operator struct {
	ID       uint
	Name     string
	Role     models.UserRole
	BranchID *uint
	Device   string
}

func CurrentOperator(c *fiber.Ctx) (Operator, bool) {
	id, ok := c.Locals(CtxUserIDKey).(uint)
	if !ok {
		return Operator{}, false
	}
	role, ok := c.Locals(CtxUserRoleKey).(models.UserRole)
	if !ok {
		return Operator{}, false
	}
	name, _ := c.Locals(CtxUserNameKey).(string)
	branchID, _ := c.Locals(CtxBranchIDKey).(*uint)
	device, _ := c.Locals(CtxDeviceKey).(string)
	return Operator{ID: id, Name: name, Role: role, BranchID: branchID, Device: device}, true
}

func (o Operator) Actor() models.Actor {
	return models.Actor{ID: o.ID, Name: o.Name, Role: o.Role, BranchID: o.BranchID, Device: o.Device}
}
