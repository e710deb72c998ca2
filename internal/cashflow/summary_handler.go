package cashflow

import (
	"bytes"
	"sort"
	"time"

	"kasa-backend/internal/cashsession"
	"kasa-backend/internal/models"
	"kasa-backend/internal/report"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type SessionSummaryResponse struct {
	StartDate       string         `json:"start_date"`
	EndDate         string         `json:"end_date"`
	SessionCount    int            `json:"session_count"`
	AutoClosedCount int            `json:"auto_closed_count"`
	ShortfallCount  int            `json:"shortfall_count"`
	TotalExpected   float64        `json:"total_expected"`
	TotalCounted    float64        `json:"total_counted"`
	TotalDifference float64        `json:"total_difference"`
	DailyBreakdown  []DailySummary `json:"daily_breakdown"`
}

type DailySummary struct {
	Date       string  `json:"date"`
	Sessions   int     `json:"sessions"`
	Expected   float64 `json:"expected"`
	Counted    float64 `json:"counted"`
	Difference float64 `json:"difference"`
}

type dayTotals struct {
	sessions   int
	expected   decimal.Decimal
	counted    decimal.Decimal
	difference decimal.Decimal
}

// -------------------------------------------------
// GET /api/cash-sessions/summary?from=2025-05-01&to=2025-05-31
// Kapanmış oturumların günlük özeti (açılış gününe göre)
// -------------------------------------------------
func (h *Handlers) SummaryHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		from, to, err := h.dateRange(c, true)
		if err != nil {
			return err
		}

		list, err := h.Sessions.List(c.UserContext(), cashsession.Filter{
			State: models.SessionClosed,
			From:  from,
			To:    to,
		})
		if err != nil {
			return httpError(err)
		}
		return c.JSON(summarize(list, *from, *to, h.Location))
	}
}

func summarize(list []models.CashSession, from, to time.Time, loc *time.Location) SessionSummaryResponse {
	days := make(map[string]*dayTotals)
	for d := from; d.Before(to); d = d.AddDate(0, 0, 1) {
		days[d.Format("2006-01-02")] = &dayTotals{}
	}

	resp := SessionSummaryResponse{
		StartDate: from.Format("2006-01-02"),
		EndDate:   to.AddDate(0, 0, -1).Format("2006-01-02"),
	}
	var expected, counted, difference decimal.Decimal
	for _, s := range list {
		key := s.OpenedAt.In(loc).Format("2006-01-02")
		t, ok := days[key]
		if !ok {
			continue
		}
		t.sessions++
		t.expected = t.expected.Add(s.ExpectedCash.Decimal)
		t.counted = t.counted.Add(s.CountedCash.Decimal)
		t.difference = t.difference.Add(s.Difference.Decimal)

		resp.SessionCount++
		if s.AutoClosed {
			resp.AutoClosedCount++
		}
		if s.Outcome == models.OutcomeShortfall {
			resp.ShortfallCount++
		}
		expected = expected.Add(s.ExpectedCash.Decimal)
		counted = counted.Add(s.CountedCash.Decimal)
		difference = difference.Add(s.Difference.Decimal)
	}
	resp.TotalExpected = amount(expected)
	resp.TotalCounted = amount(counted)
	resp.TotalDifference = amount(difference)

	resp.DailyBreakdown = make([]DailySummary, 0, len(days))
	for date, t := range days {
		resp.DailyBreakdown = append(resp.DailyBreakdown, DailySummary{
			Date:       date,
			Sessions:   t.sessions,
			Expected:   amount(t.expected),
			Counted:    amount(t.counted),
			Difference: amount(t.difference),
		})
	}
	sort.Slice(resp.DailyBreakdown, func(i, j int) bool {
		return resp.DailyBreakdown[i].Date < resp.DailyBreakdown[j].Date
	})
	return resp
}

func amount(d decimal.Decimal) float64 {
	v, _ := d.Round(2).Float64()
	return v
}

// -------------------------------------------------
// GET /api/cash-sessions/export?from=2025-05-01&to=2025-05-31
// -------------------------------------------------
func (h *Handlers) ExportHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		from, to, err := h.dateRange(c, true)
		if err != nil {
			return err
		}

		list, err := h.Sessions.List(c.UserContext(), cashsession.Filter{
			State: models.SessionClosed,
			From:  from,
			To:    to,
		})
		if err != nil {
			return httpError(err)
		}

		var buf bytes.Buffer
		if err := report.Write(&buf, list, h.Location); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "Excel dosyası oluşturulamadı")
		}

		c.Set(fiber.HeaderContentType, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		c.Attachment(report.Filename(*from, to.AddDate(0, 0, -1)))
		return c.Send(buf.Bytes())
	}
}
