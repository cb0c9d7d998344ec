// Package request runs network operations with duplicate suppression,
// bounded retry and cooperative cancellation.
//
// Per CallKey a call moves through
//
//	Idle -> Admitted -> (Retrying)* -> Succeeded | FailedTerminal | Cancelled
//
// and at most one InFlightCall exists per key at any instant. A Manager owns
// its registry; independent managers never share state.
package request

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"airdeck/internal/clock"
	appLog "airdeck/internal/log"
)

const (
	DefaultMaxRetries         = 3
	DefaultBaseDelay          = 1000 * time.Millisecond
	DefaultDuplicateThreshold = 1000 * time.Millisecond
	DefaultStatsWindow        = 10 * time.Second
)

// Config holds the manager knobs. Zero values are replaced by defaults.
type Config struct {
	// MaxRetries is the total number of attempts, including the first.
	MaxRetries int
	// BaseDelay is multiplied by the failed attempt number to get the
	// wait before the next attempt.
	BaseDelay time.Duration
	// DuplicateThreshold is how recent an in-flight call with the same key
	// must be for a new call to be suppressed.
	DuplicateThreshold time.Duration
	// StatsWindow is the sliding window for duplicate statistics.
	StatsWindow time.Duration
}

// Normalize fills in zero or negative values with defaults.
func (c *Config) Normalize() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.DuplicateThreshold <= 0 {
		c.DuplicateThreshold = DefaultDuplicateThreshold
	}
	if c.StatsWindow <= 0 {
		c.StatsWindow = DefaultStatsWindow
	}
}

// InFlightCall is the registry entry for an admitted call.
type InFlightCall struct {
	ID        string
	Key       CallKey
	StartedAt time.Time
	Attempt   int

	token *Token
}

// CallRecord is an immutable history entry kept for StatsWindow.
type CallRecord struct {
	Key        CallKey
	StartedAt  time.Time
	Suppressed bool
}

// Stats is read-only telemetry. It never influences scheduling.
type Stats struct {
	InFlight         int   `json:"in_flight"`
	TotalAdmitted    int64 `json:"total_admitted"`
	RecentDuplicates int   `json:"recent_duplicates"`
}

// Manager owns the active-call registry.
type Manager struct {
	cfg   Config
	clock clock.Clock

	mu       sync.Mutex
	active   map[CallKey]*InFlightCall
	history  []CallRecord
	admitted int64
}

type Option func(*Manager)

// WithClock injects the time source. Tests pass a fake clock.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// New constructs a Manager with its own empty registry.
func New(cfg Config, opts ...Option) *Manager {
	cfg.Normalize()
	m := &Manager{
		cfg:    cfg,
		clock:  clock.Real(),
		active: make(map[CallKey]*InFlightCall),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// Execute runs op under key.
//
// It returns the payload on success; the payload together with a
// *BusinessFailure when the payload's discriminator is false;
// ErrDuplicateSuppressed when an identical call started less than
// DuplicateThreshold ago is still running; ErrCancelled when tok fires; and
// a *TerminalFailure once MaxRetries attempts have failed with transport
// errors. A nil tok means the call cannot be cancelled by the caller.
func Execute[T any](m *Manager, tok *Token, key CallKey, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if tok == nil {
		tok = NewToken(context.Background())
	}
	if tok.Cancelled() {
		return zero, ErrCancelled
	}

	call, err := m.admit(key, tok)
	if err != nil {
		return zero, err
	}
	defer m.release(call)

	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			delay := m.cfg.BaseDelay * time.Duration(attempt-1)
			select {
			case <-call.token.Done():
				return zero, ErrCancelled
			case <-m.clock.After(delay):
			}
			m.setAttempt(call, attempt)
		}
		if call.token.Cancelled() {
			return zero, ErrCancelled
		}

		res, err := op(call.token.Context())
		if call.token.Cancelled() {
			// Whatever came back is stale.
			return zero, ErrCancelled
		}
		if err == nil {
			if o, ok := any(res).(Outcome); ok && !o.Succeeded() {
				appLog.Debug("request business failure", "id", call.ID, "key", key, "message", o.FailureMessage())
				return res, &BusinessFailure{Key: key, Message: o.FailureMessage()}
			}
			return res, nil
		}

		lastErr = err
		if attempt < m.cfg.MaxRetries {
			appLog.Warn("request transport failure, retrying",
				"id", call.ID,
				"key", key,
				"attempt", attempt,
				"error", err,
			)
		}
	}

	appLog.Error("request failed after retries", lastErr, "id", call.ID, "key", key, "attempts", m.cfg.MaxRetries)
	return zero, &TerminalFailure{Key: key, Attempts: m.cfg.MaxRetries, Err: lastErr}
}

func (m *Manager) admit(key CallKey, tok *Token) (*InFlightCall, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	m.pruneLocked(now)

	if cur, ok := m.active[key]; ok {
		switch {
		case cur.token.Cancelled():
			// On its way out; it can no longer deliver a result.
			delete(m.active, key)
		case now.Sub(cur.StartedAt) < m.cfg.DuplicateThreshold:
			m.history = append(m.history, CallRecord{Key: key, StartedAt: now, Suppressed: true})
			appLog.Debug("request duplicate suppressed", "key", key, "in_flight_id", cur.ID)
			return nil, ErrDuplicateSuppressed
		default:
			// Older than the threshold: the new call supersedes it.
			cur.token.Cancel()
			delete(m.active, key)
			appLog.Debug("request superseded", "key", key, "id", cur.ID)
		}
	}

	call := &InFlightCall{
		ID:        uuid.NewString(),
		Key:       key,
		StartedAt: now,
		Attempt:   1,
		token:     tok.child(),
	}
	m.active[key] = call
	m.admitted++
	m.history = append(m.history, CallRecord{Key: key, StartedAt: now})
	appLog.Debug("request admitted", "id", call.ID, "key", key)
	return call, nil
}

func (m *Manager) setAttempt(call *InFlightCall, attempt int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	call.Attempt = attempt
}

func (m *Manager) release(call *InFlightCall) {
	m.mu.Lock()
	if m.active[call.Key] == call {
		delete(m.active, call.Key)
	}
	m.mu.Unlock()
	call.token.Cancel()
}

// pruneLocked drops history older than StatsWindow. History is appended in
// clock order, so the expired entries form a prefix.
func (m *Manager) pruneLocked(now time.Time) {
	cutoff := now.Add(-m.cfg.StatsWindow)
	i := 0
	for i < len(m.history) && m.history[i].StartedAt.Before(cutoff) {
		i++
	}
	if i > 0 {
		m.history = append(m.history[:0], m.history[i:]...)
	}
}

// Stats returns a snapshot of the registry counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pruneLocked(m.clock.Now())
	dups := 0
	for _, r := range m.history {
		if r.Suppressed {
			dups++
		}
	}
	return Stats{
		InFlight:         len(m.active),
		TotalAdmitted:    m.admitted,
		RecentDuplicates: dups,
	}
}

// InFlight returns a copy of the registry entry for key, if any.
func (m *Manager) InFlight(key CallKey) (InFlightCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	call, ok := m.active[key]
	if !ok {
		return InFlightCall{}, false
	}
	return *call, true
}
