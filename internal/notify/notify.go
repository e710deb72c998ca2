// Package notify surfaces user-facing notices about session lifecycle events.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"kasa-backend/internal/feed"

	"go.uber.org/zap"
)

type Kind string

const (
	SessionOpened    Kind = "session_opened"
	SessionJoined    Kind = "session_joined"
	OpenFailed       Kind = "open_failed"
	CapacityExceeded Kind = "capacity_exceeded"
	SessionClosed    Kind = "session_closed"
	AutoClosed       Kind = "auto_closed"
	ClosedElsewhere  Kind = "closed_elsewhere"
)

type Notice struct {
	Kind      Kind      `json:"kind"`
	CashierID uint      `json:"cashier_id"`
	SessionID string    `json:"session_id,omitempty"`
	Device    string    `json:"device,omitempty"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// Notifier must not block the caller for long; implementations drop rather
// than wait.
type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

type Nop struct{}

func (Nop) Notify(context.Context, Notice) {}

// Log writes notices to the structured log.
type Log struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *Log {
	return &Log{log: log.Named("notify")}
}

func (l *Log) Notify(_ context.Context, n Notice) {
	l.log.Info(n.Message,
		zap.String("kind", string(n.Kind)),
		zap.Uint("cashier_id", n.CashierID),
		zap.String("session_id", n.SessionID),
		zap.String("device", n.Device),
	)
}

// Feed publishes notices on the cashier's notice topic, where the stream
// endpoint forwards them to open terminals.
type Feed struct {
	pub feed.Publisher
}

func NewFeed(pub feed.Publisher) *Feed {
	return &Feed{pub: pub}
}

func (f *Feed) Notify(_ context.Context, n Notice) {
	payload, err := json.Marshal(n)
	if err != nil {
		return
	}
	f.pub.Publish(feed.Event{
		Topic:    feed.CashierNoticeTopic(n.CashierID),
		Kind:     feed.KindNotice,
		EntityID: n.SessionID,
		Payload:  string(payload),
		At:       n.At,
	})
}

// Multi fans a notice out to every notifier in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notice) {
	for _, x := range m {
		x.Notify(ctx, n)
	}
}

// Decode reads a notice back out of a feed event payload.
func Decode(ev feed.Event) (Notice, bool) {
	if ev.Kind != feed.KindNotice || ev.Payload == "" {
		return Notice{}, false
	}
	var n Notice
	if err := json.Unmarshal([]byte(ev.Payload), &n); err != nil {
		return Notice{}, false
	}
	return n, true
}

// Recorder keeps notices in memory. Tests use it to assert what users saw.
type Recorder struct {
	ch chan Notice
}

func NewRecorder(size int) *Recorder {
	return &Recorder{ch: make(chan Notice, size)}
}

func (r *Recorder) Notify(_ context.Context, n Notice) {
	select {
	case r.ch <- n:
	default:
	}
}

// Drain returns every notice recorded so far.
func (r *Recorder) Drain() []Notice {
	var out []Notice
	for {
		select {
		case n := <-r.ch:
			out = append(out, n)
		default:
			return out
		}
	}
}

// Kinds lists the kinds of the drained notices.
func Kinds(ns []Notice) []Kind {
	out := make([]Kind, 0, len(ns))
	for _, n := range ns {
		out = append(out, n.Kind)
	}
	return out
}
