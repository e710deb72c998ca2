// Package autoclose force-closes sessions that outlive their business day.
// Every server process runs its own scheduler; a close that loses the race to
// another process is a no-op.
package autoclose

import (
	"context"
	"errors"
	"sync"
	"time"

	"kasa-backend/internal/cashsession"
	"kasa-backend/internal/clock"
	"kasa-backend/internal/models"

	"go.uber.org/zap"
)

const DefaultInterval = time.Minute

type Closer interface {
	Close(ctx context.Context, req cashsession.CloseRequest) (cashsession.CloseResult, error)
}

type OpenLister interface {
	ListOpen(ctx context.Context) ([]models.CashSession, error)
}

type entry struct {
	cashierID uint
	deadline  time.Time
}

type Scheduler struct {
	closer   Closer
	source   OpenLister
	log      *zap.Logger
	clock    clock.Clock
	actor    models.Actor
	interval time.Duration

	mu      sync.Mutex
	watched map[string]entry
	cancel  context.CancelFunc
}

type Option func(*Scheduler)

func WithClock(c clock.Clock) Option { return func(s *Scheduler) { s.clock = c } }

func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithSource lets Run and Sweep pick up sessions opened by other processes.
func WithSource(src OpenLister) Option { return func(s *Scheduler) { s.source = src } }

// New builds a scheduler that closes as actor (normally the system actor
// carrying this process's instance id as device).
func New(closer Closer, actor models.Actor, log *zap.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		closer:   closer,
		log:      log.Named("autoclose"),
		clock:    clock.Real{},
		actor:    actor,
		interval: DefaultInterval,
		watched:  make(map[string]entry),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Watch registers an open session. A closed session is deregistered instead.
func (s *Scheduler) Watch(session models.CashSession) error {
	if !session.IsOpen() {
		s.Forget(session.ID)
		return nil
	}
	deadline, err := Deadline(&session)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.watched[session.ID] = entry{cashierID: session.CashierID, deadline: deadline}
	return nil
}

func (s *Scheduler) Forget(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.watched, sessionID)
}

// Deadline reports when a watched session will be closed.
func (s *Scheduler) Deadline(sessionID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.watched[sessionID]
	return e.deadline, ok
}

func (s *Scheduler) Watching() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watched)
}

// Check closes every watched session whose deadline has passed and returns
// the ids this call closed.
func (s *Scheduler) Check(ctx context.Context) []string {
	now := s.clock.Now()

	s.mu.Lock()
	var due []string
	for id, e := range s.watched {
		if now.After(e.deadline) {
			due = append(due, id)
		}
	}
	s.mu.Unlock()

	var closed []string
	for _, id := range due {
		if ctx.Err() != nil {
			break
		}
		_, err := s.closer.Close(ctx, cashsession.CloseRequest{
			SessionID: id,
			Auto:      true,
			Notes:     "Mesai bitimi + tolerans aşıldı, otomatik kapatıldı",
			Actor:     s.actor,
		})
		switch {
		case err == nil:
			closed = append(closed, id)
			s.Forget(id)
		case errors.Is(err, cashsession.ErrSessionAlreadyClosed), errors.Is(err, cashsession.ErrSessionNotFound):
			// başka bir istemci önce kapattı
			s.Forget(id)
		default:
			s.log.Error("auto-close failed, will retry", zap.String("session_id", id), zap.Error(err))
		}
	}
	return closed
}

// Sweep registers every open session in the store, then runs Check.
func (s *Scheduler) Sweep(ctx context.Context) ([]string, error) {
	if s.source != nil {
		open, err := s.source.ListOpen(ctx)
		if err != nil {
			return nil, err
		}
		for _, sess := range open {
			if err := s.Watch(sess); err != nil {
				s.log.Warn("cannot schedule session", zap.String("session_id", sess.ID), zap.Error(err))
			}
		}
	}
	return s.Check(ctx), nil
}

// Run polls until ctx is done or Stop is called.
func (s *Scheduler) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	closed, err := s.Sweep(ctx)
	if err != nil {
		s.log.Warn("auto-close sweep failed", zap.Error(err))
		return
	}
	if len(closed) > 0 {
		s.log.Info("auto-closed sessions", zap.Strings("session_ids", closed))
	}
}

// Stop cancels Run and drops every registration.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.watched = make(map[string]entry)
}
