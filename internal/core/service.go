// Package core is the consistency engine of the tracker. It validates the
// task hierarchy and workflow statuses, keeps sprint aggregates in step with
// task mutations, appends the activity trail and derives read-only reports.
//
// Every mutation runs in a fixed order: hierarchy validation, status
// validation, persistence, sprint recomputation, activity logging. The last
// two are best-effort and never roll back the primary write.
package core

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"tracker/internal/metrics"
	"tracker/internal/notify"
)

// Service orchestrates the core components over a Store.
type Service struct {
	store    Store
	logger   *slog.Logger
	now      func() time.Time
	notifier notify.Sender
	metrics  *metrics.Collectors

	sprintLocks  keyedMutex
	projectLocks keyedMutex

	activity *ActivityLog
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithNotifier sets the notification sender.
func WithNotifier(n notify.Sender) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithMetrics sets the prometheus collectors.
func WithMetrics(m *metrics.Collectors) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New constructs a Service over store.
func New(store Store, opts ...Option) *Service {
	s := &Service{
		store:    store,
		logger:   slog.Default(),
		now:      time.Now,
		notifier: notify.Noop{},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.activity = NewActivityLog(store, func() time.Time { return s.now() })
	return s
}

// Activity exposes the activity log for read access.
func (s *Service) Activity() *ActivityLog {
	return s.activity
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// secondaryFailed logs and counts a best-effort write that did not succeed.
func (s *Service) secondaryFailed(ctx context.Context, op string, err error, attrs ...any) {
	s.metrics.SecondaryFailure(op)
	args := append([]any{slog.String("op", op), slog.String("error", err.Error())}, attrs...)
	s.logger.WarnContext(ctx, "secondary write failed", args...)
}

func (s *Service) notify(ctx context.Context, recipient, subject, body string) {
	if recipient == "" {
		return
	}
	if err := s.notifier.Send(ctx, recipient, subject, body); err != nil {
		s.secondaryFailed(ctx, metrics.OpNotify, err, slog.String("recipient", recipient))
	}
}

// keyedMutex serializes work per key while letting distinct keys proceed
// in parallel. Entries are dropped once no goroutine holds or waits on them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

// Lock acquires the lock for key and returns its release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
