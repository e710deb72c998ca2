package cashflow

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"kasa-backend/internal/feed"
	"kasa-backend/internal/models"
	"kasa-backend/internal/notify"
	"kasa-backend/internal/realtime"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

const defaultKeepAlive = 25 * time.Second

type frame struct {
	event string
	data  any
}

// -------------------------------------------------
// GET /api/cash-sessions/stream?device=till-1
// Server-sent events: "view" on every change, "closed_elsewhere" and "notice".
// -------------------------------------------------
func (h *Handlers) StreamHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		op, err := operator(c)
		if err != nil {
			return err
		}
		cashierID, err := targetCashier(c, op)
		if err != nil {
			return err
		}
		device := op.Device
		if device == "" {
			device = c.Query("device")
		}
		role := op.Role
		log := h.Log.With(zap.Uint("cashier_id", cashierID), zap.String("device", device))

		ctx, cancel := context.WithCancel(context.Background())
		frames := make(chan frame, 16)
		push := func(f frame) {
			select {
			case frames <- f:
			default:
				// İstemci yavaş: bir sonraki görünüm zaten tam hali taşıyacak
			}
		}

		w, err := h.Engine.Watch(ctx, cashierID, device, realtime.Handlers{
			OnRender: func(v realtime.View) {
				if v.Session != nil {
					if err := h.Scheduler.Watch(*v.Session); err != nil {
						log.Warn("auto-close not scheduled", zap.Error(err))
					}
				}
				push(frame{event: "view", data: newViewResponse(v, role)})
			},
			OnClosedElsewhere: func(s models.CashSession) {
				h.Scheduler.Forget(s.ID)
				push(frame{event: "closed_elsewhere", data: newSessionResponse(s, role)})
			},
		})
		if err != nil {
			cancel()
			return httpError(err)
		}
		notices := h.Hub.Subscribe(8, feed.CashierNoticeTopic(cashierID))

		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")
		c.Set("X-Accel-Buffering", "no")

		c.Context().SetBodyStreamWriter(func(bw *bufio.Writer) {
			defer cancel()
			defer notices.Close()
			defer w.Close()

			ticker := time.NewTicker(h.KeepAlive)
			defer ticker.Stop()

			for {
				var err error
				select {
				case f := <-frames:
					err = writeFrame(bw, f)
				case ev, ok := <-notices.C:
					if !ok {
						return
					}
					if n, ok := notify.Decode(ev); ok && (n.Device == "" || n.Device == device) {
						err = writeFrame(bw, frame{event: "notice", data: n})
					}
				case <-ticker.C:
					_, err = bw.WriteString(": ping\n\n")
					if err == nil {
						err = bw.Flush()
					}
				case <-w.Done():
					return
				}
				if err != nil {
					log.Debug("stream closed", zap.Error(err))
					return
				}
			}
		})
		return nil
	}
}

func writeFrame(bw *bufio.Writer, f frame) error {
	data, err := json.Marshal(f.data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(bw, "event: %s\ndata: %s\n\n", f.event, data); err != nil {
		return err
	}
	return bw.Flush()
}
