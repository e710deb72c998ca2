package cashflow

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"kasa-backend/internal/auth"
	"kasa-backend/internal/autoclose"
	"kasa-backend/internal/cashsession"
	"kasa-backend/internal/feed"
	"kasa-backend/internal/ledger"
	"kasa-backend/internal/logger"
	"kasa-backend/internal/models"
	"kasa-backend/internal/realtime"
	"kasa-backend/internal/reconcile"
	"kasa-backend/internal/sales"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type Deps struct {
	Sessions  *cashsession.Coordinator
	Ledger    *ledger.Ledger
	Sales     *sales.Store
	Scheduler *autoclose.Scheduler
	Engine    *realtime.Engine
	Hub       *feed.Hub
	Log       *zap.Logger
	Location  *time.Location
	// SSE ping aralığı; kopan istemci bir sonraki ping'de fark edilir
	KeepAlive time.Duration
}

// Handlers serves the cash-session endpoints.
type Handlers struct {
	Deps
	// Aynı cihazdan gelen çift tıklamaları tek işleme indirger
	inflight singleflight.Group
}

func NewHandlers(d Deps) *Handlers {
	if d.Location == nil {
		d.Location = time.UTC
	}
	if d.KeepAlive <= 0 {
		d.KeepAlive = defaultKeepAlive
	}
	return &Handlers{Deps: d}
}

func (h *Handlers) Register(r fiber.Router) {
	elevated := auth.RequireRole(models.RoleSuperAdmin, models.RoleBranchAdmin)

	s := r.Group("/cash-sessions")
	s.Post("/", h.OpenSessionHandler())
	s.Get("/", h.ListSessionsHandler())
	s.Get("/current", h.CurrentSessionHandler())
	s.Get("/stream", h.StreamHandler())
	s.Get("/export", elevated, h.ExportHandler())
	s.Get("/summary", elevated, h.SummaryHandler())
	s.Get("/:id", h.GetSessionHandler())
	s.Get("/:id/preview", h.PreviewHandler())
	s.Post("/:id/movements", h.AddMovementHandler())
	s.Post("/:id/close", h.CloseSessionHandler())

	r.Post("/sales", h.RecordSaleHandler())
}

type OpenSessionRequest struct {
	OpeningCash decimal.Decimal `json:"opening_cash"`
	Notes       string          `json:"notes"`
	// yöneticiler başka bir kasiyer adına açabilir
	CashierID   *uint  `json:"cashier_id"`
	CashierName string `json:"cashier_name"`
}

type AddMovementRequest struct {
	Type     models.MovementType `json:"type"`
	Concept  string              `json:"concept"`
	Amount   decimal.Decimal     `json:"amount"`
	Category string              `json:"category"`
	Notes    string              `json:"notes"`
}

type CloseSessionRequest struct {
	CountedCash decimal.Decimal `json:"counted_cash"`
	Notes       string          `json:"notes"`
}

func operator(c *fiber.Ctx) (auth.Operator, error) {
	op, ok := auth.CurrentOperator(c)
	if !ok {
		return op, fiber.NewError(fiber.StatusForbidden, "Kullanıcı bilgisi alınamadı")
	}
	return op, nil
}

// targetCashier resolves whose session a request is about. Cashiers only ever
// act on their own; elevated roles may pass cashier_id.
func targetCashier(c *fiber.Ctx, op auth.Operator) (uint, error) {
	if !op.Role.Elevated() {
		return op.ID, nil
	}
	raw := c.Query("cashier_id")
	if raw == "" {
		return op.ID, nil
	}
	var id uint
	if _, err := fmt.Sscan(raw, &id); err != nil || id == 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "cashier_id geçersiz")
	}
	return id, nil
}

func canAccess(op auth.Operator, s models.CashSession) error {
	if op.Role.Elevated() || s.CashierID == op.ID {
		return nil
	}
	return fiber.NewError(fiber.StatusForbidden, "Bu kasa oturumuna erişim yetkiniz yok")
}

// -------------------------------------------------
// POST /api/cash-sessions
// -------------------------------------------------
func (h *Handlers) OpenSessionHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		op, err := operator(c)
		if err != nil {
			return err
		}
		var body OpenSessionRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Geçersiz istek gövdesi")
		}

		cashierID, cashierName := op.ID, op.Name
		if body.CashierID != nil && *body.CashierID != op.ID {
			if !op.Role.Elevated() {
				return fiber.NewError(fiber.StatusForbidden, "Sadece kendi kasanızı açabilirsiniz")
			}
			cashierID = *body.CashierID
			cashierName = strings.TrimSpace(body.CashierName)
			if cashierName == "" {
				return fiber.NewError(fiber.StatusBadRequest, "cashier_name zorunlu")
			}
		}

		key := fmt.Sprintf("open:%s:%d", op.Device, cashierID)
		v, err, _ := h.inflight.Do(key, func() (any, error) {
			return h.Sessions.Open(c.UserContext(), cashsession.OpenRequest{
				CashierID:   cashierID,
				CashierName: cashierName,
				OpeningCash: body.OpeningCash,
				Notes:       body.Notes,
				Actor:       op.Actor(),
			})
		})
		if err != nil {
			return httpError(err)
		}
		res := v.(cashsession.OpenResult)

		if err := h.Scheduler.Watch(res.Session); err != nil {
			logger.ForRequest(h.Log, c).Warn("auto-close not scheduled", zap.String("session_id", res.Session.ID), zap.Error(err))
		}

		status := fiber.StatusCreated
		if res.Joined {
			status = fiber.StatusOK
		}
		return c.Status(status).JSON(fiber.Map{
			"joined":  res.Joined,
			"session": newSessionResponse(res.Session, op.Role),
		})
	}
}

// -------------------------------------------------
// GET /api/cash-sessions/current
// -------------------------------------------------
func (h *Handlers) CurrentSessionHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		op, err := operator(c)
		if err != nil {
			return err
		}
		cashierID, err := targetCashier(c, op)
		if err != nil {
			return err
		}

		s, err := h.Sessions.Current(c.UserContext(), cashierID)
		if err != nil {
			return httpError(err)
		}
		if s == nil {
			return c.JSON(fiber.Map{"session": nil})
		}
		return c.JSON(fiber.Map{"session": newSessionResponse(*s, op.Role)})
	}
}

// -------------------------------------------------
// GET /api/cash-sessions?state=closed&from=2025-05-01&to=2025-05-31
// -------------------------------------------------
func (h *Handlers) ListSessionsHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		op, err := operator(c)
		if err != nil {
			return err
		}

		f := cashsession.Filter{Limit: c.QueryInt("limit", 100)}
		if !op.Role.Elevated() {
			f.CashierID = op.ID
		} else if c.Query("cashier_id") != "" {
			if f.CashierID, err = targetCashier(c, op); err != nil {
				return err
			}
		}
		switch st := models.SessionState(c.Query("state")); st {
		case "", models.SessionOpen, models.SessionClosed:
			f.State = st
		default:
			return fiber.NewError(fiber.StatusBadRequest, "state open|closed olmalı")
		}
		if f.From, f.To, err = h.dateRange(c, false); err != nil {
			return err
		}

		list, err := h.Sessions.List(c.UserContext(), f)
		if err != nil {
			return httpError(err)
		}
		resp := make([]SessionResponse, 0, len(list))
		for _, s := range list {
			resp = append(resp, newSessionResponse(s, op.Role))
		}
		return c.JSON(resp)
	}
}

// -------------------------------------------------
// GET /api/cash-sessions/:id
// -------------------------------------------------
func (h *Handlers) GetSessionHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		op, err := operator(c)
		if err != nil {
			return err
		}
		s, err := h.Sessions.Get(c.UserContext(), c.Params("id"))
		if err != nil {
			return httpError(err)
		}
		if err := canAccess(op, s); err != nil {
			return err
		}
		return c.JSON(newSessionResponse(s, op.Role))
	}
}

// -------------------------------------------------
// GET /api/cash-sessions/:id/preview?counted=740
// -------------------------------------------------
func (h *Handlers) PreviewHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		op, err := operator(c)
		if err != nil {
			return err
		}
		counted := decimal.Zero
		if raw := c.Query("counted"); raw != "" {
			if counted, err = decimal.NewFromString(raw); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "counted geçersiz")
			}
		}

		s, err := h.Sessions.Get(c.UserContext(), c.Params("id"))
		if err != nil {
			return httpError(err)
		}
		if err := canAccess(op, s); err != nil {
			return err
		}
		_, r, err := h.Sessions.Preview(c.UserContext(), s.ID, counted)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(reconcile.Present(r, op.Role))
	}
}

// -------------------------------------------------
// POST /api/cash-sessions/:id/movements
// -------------------------------------------------
func (h *Handlers) AddMovementHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		op, err := operator(c)
		if err != nil {
			return err
		}
		var body AddMovementRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Geçersiz istek gövdesi")
		}

		s, err := h.Sessions.Get(c.UserContext(), c.Params("id"))
		if err != nil {
			return httpError(err)
		}
		if err := canAccess(op, s); err != nil {
			return err
		}

		// Aynı cihazdan aynı hareket iki kez gelirse tek kayıt yazılır
		key := fmt.Sprintf("movement:%s:%s:%s:%s:%s:%s",
			op.Device, s.ID, body.Type, body.Amount.String(), body.Category, body.Concept)
		v, err, _ := h.inflight.Do(key, func() (any, error) {
			return h.Ledger.AddMovement(c.UserContext(), &s, ledger.MovementInput{
				Type:     body.Type,
				Concept:  body.Concept,
				Amount:   body.Amount,
				Category: body.Category,
				Notes:    body.Notes,
			}, op.Actor())
		})
		if err != nil {
			return httpError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(v.(models.Movement))
	}
}

// -------------------------------------------------
// POST /api/cash-sessions/:id/close
// -------------------------------------------------
func (h *Handlers) CloseSessionHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		op, err := operator(c)
		if err != nil {
			return err
		}
		var body CloseSessionRequest
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Geçersiz istek gövdesi")
		}

		id := c.Params("id")
		s, err := h.Sessions.Get(c.UserContext(), id)
		if err != nil {
			return httpError(err)
		}
		if err := canAccess(op, s); err != nil {
			return err
		}

		v, err, _ := h.inflight.Do("close:"+op.Device+":"+id, func() (any, error) {
			return h.Sessions.Close(c.UserContext(), cashsession.CloseRequest{
				SessionID:   id,
				CountedCash: body.CountedCash,
				Notes:       body.Notes,
				Actor:       op.Actor(),
			})
		})
		if err != nil {
			return httpError(err)
		}
		out := v.(cashsession.CloseResult)
		h.Scheduler.Forget(id)

		return c.JSON(fiber.Map{
			"session":        newSessionResponse(out.Session, op.Role),
			"reconciliation": reconcile.Present(out.Result, op.Role),
		})
	}
}

// -------------------------------------------------
// POST /api/sales
// -------------------------------------------------
func (h *Handlers) RecordSaleHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		op, err := operator(c)
		if err != nil {
			return err
		}
		var body models.Sale
		if err := c.BodyParser(&body); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Geçersiz istek gövdesi")
		}
		if body.SellerID == 0 {
			body.SellerID = op.ID
		}
		if !op.Role.Elevated() && body.SellerID != op.ID {
			return fiber.NewError(fiber.StatusForbidden, "Sadece kendi satışlarınızı kaydedebilirsiniz")
		}

		sale, err := h.Sales.Record(c.UserContext(), body)
		if err != nil {
			return httpError(err)
		}
		return c.Status(fiber.StatusCreated).JSON(sale)
	}
}

// dateRange parses from/to (YYYY-MM-DD, inclusive) in the configured zone.
func (h *Handlers) dateRange(c *fiber.Ctx, required bool) (*time.Time, *time.Time, error) {
	fromStr, toStr := c.Query("from"), c.Query("to")
	if fromStr == "" && toStr == "" && !required {
		return nil, nil, nil
	}
	if fromStr == "" || toStr == "" {
		return nil, nil, fiber.NewError(fiber.StatusBadRequest, "from ve to tarihleri zorunlu (YYYY-MM-DD)")
	}
	from, err := time.ParseInLocation("2006-01-02", fromStr, h.Location)
	if err != nil {
		return nil, nil, fiber.NewError(fiber.StatusBadRequest, "from tarihi geçersiz")
	}
	to, err := time.ParseInLocation("2006-01-02", toStr, h.Location)
	if err != nil {
		return nil, nil, fiber.NewError(fiber.StatusBadRequest, "to tarihi geçersiz")
	}
	if to.Before(from) {
		return nil, nil, fiber.NewError(fiber.StatusBadRequest, "to, from'dan önce olamaz")
	}
	end := to.AddDate(0, 0, 1)
	return &from, &end, nil
}

func httpError(err error) error {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe
	case errors.Is(err, cashsession.ErrCapacityExceeded):
		return fiber.NewError(fiber.StatusConflict, "Açık kasa sınırına ulaşıldı")
	case errors.Is(err, cashsession.ErrSessionAlreadyClosed):
		return fiber.NewError(fiber.StatusConflict, "Kasa oturumu zaten kapatılmış")
	case errors.Is(err, ledger.ErrSessionNotOpen):
		return fiber.NewError(fiber.StatusConflict, "Kasa oturumu açık değil")
	case errors.Is(err, cashsession.ErrSessionNotFound), errors.Is(err, ledger.ErrSessionNotFound):
		return fiber.NewError(fiber.StatusNotFound, "Kasa oturumu bulunamadı")
	case errors.Is(err, ledger.ErrInvalidAmount):
		return fiber.NewError(fiber.StatusBadRequest, "Tutar 0'dan büyük olmalı")
	case errors.Is(err, ledger.ErrInvalidMovementType):
		return fiber.NewError(fiber.StatusBadRequest, "Geçersiz hareket tipi (income|expense)")
	case errors.Is(err, cashsession.ErrNegativeAmount):
		return fiber.NewError(fiber.StatusBadRequest, "Tutar negatif olamaz")
	case errors.Is(err, cashsession.ErrMissingCashier):
		return fiber.NewError(fiber.StatusBadRequest, "Kasiyer zorunlu")
	case errors.Is(err, sales.ErrInvalidSale):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	default:
		return err
	}
}
