// Package feed carries change notifications from committed writes to the
// subscribers that keep device views in sync.
//
// Events are hints, not payloads: a subscriber that receives one re-reads the
// entity it names. Delivery is coalescing, so a slow subscriber may see one
// event where several were published, which is harmless for a re-read.
package feed

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

type Kind string

const (
	KindSessionOpened Kind = "session_opened"
	KindSessionClosed Kind = "session_closed"
	KindMovementAdded Kind = "movement_added"
	KindSaleRecorded  Kind = "sale_recorded"
	KindNotice        Kind = "notice"
)

type Event struct {
	Topic    string    `json:"topic"`
	Kind     Kind      `json:"kind"`
	EntityID string    `json:"entity_id"`
	Origin   string    `json:"origin"` // instance that committed the write
	Payload  string    `json:"payload,omitempty"`
	At       time.Time `json:"at"`
}

func CashierSessionTopic(cashierID uint) string {
	return fmt.Sprintf("cashier:%d:session", cashierID)
}

func CashierSalesTopic(cashierID uint) string {
	return fmt.Sprintf("cashier:%d:sales", cashierID)
}

func CashierNoticeTopic(cashierID uint) string {
	return fmt.Sprintf("cashier:%d:notices", cashierID)
}

func SessionTopic(sessionID string) string {
	return "session:" + sessionID
}

// Publisher is implemented by Hub; writers depend on this, not on Hub.
type Publisher interface {
	Publish(ev Event)
}

// Subscription delivers events for its topics on C until Close.
type Subscription struct {
	C <-chan Event

	ch     chan Event
	hub    *Hub
	topics []string
	once   sync.Once
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s)
	})
}

// Hub fans events out to subscribers by topic.
type Hub struct {
	origin string

	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	sinks  []func(Event)
	closed bool
}

func NewHub(origin string) *Hub {
	return &Hub{
		origin: origin,
		subs:   make(map[string]map[*Subscription]struct{}),
	}
}

func (h *Hub) Origin() string { return h.origin }

// Subscribe registers interest in topics. buffer < 1 is treated as 1.
func (h *Hub) Subscribe(buffer int, topics ...string) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	sub := &Subscription{C: ch, ch: ch, hub: h, topics: topics}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return sub
	}
	for _, t := range topics {
		if h.subs[t] == nil {
			h.subs[t] = make(map[*Subscription]struct{})
		}
		h.subs[t][sub] = struct{}{}
	}
	return sub
}

// AddSink registers fn to see every locally originated event, used to relay
// events to other processes.
func (h *Hub) AddSink(fn func(Event)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinks = append(h.sinks, fn)
}

// Publish stamps local events with this hub's origin and delivers them.
func (h *Hub) Publish(ev Event) {
	if ev.Origin == "" {
		ev.Origin = h.origin
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	h.deliver(ev)

	if ev.Origin != h.origin {
		return
	}
	h.mu.RLock()
	sinks := slices.Clone(h.sinks)
	h.mu.RUnlock()
	for _, fn := range sinks {
		fn(ev)
	}
}

func (h *Hub) deliver(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[ev.Topic] {
		select {
		case sub.ch <- ev:
		default:
			// Abonenin kuyruğu dolu: bekleyen olay zaten yeniden okumayı tetikleyecek
		}
	}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for _, t := range sub.topics {
		delete(h.subs[t], sub)
		if len(h.subs[t]) == 0 {
			delete(h.subs, t)
		}
	}
	close(sub.ch)
}

// Close closes every open subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	seen := make(map[*Subscription]struct{})
	for _, set := range h.subs {
		for sub := range set {
			if _, ok := seen[sub]; ok {
				continue
			}
			seen[sub] = struct{}{}
			close(sub.ch)
		}
	}
	h.subs = nil
}

// SubscriberCount reports how many subscriptions listen on topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}
