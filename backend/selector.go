// Package backend provides ranked backend selection with per-backend cooldowns.
// Selection is optimistic: the best eligible backend is promoted to at every
// opportunity, and a backend is only demoted on a verified failure.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// permanentCooldown is far enough in the future to outlive any process.
const permanentCooldown = 365 * 24 * time.Hour

// Backend is one interchangeable generation endpoint. Lower rank is preferred.
type Backend struct {
	Name string
	Rank int
}

// Probe reports the set of backend identifiers the remote service supports.
// It is best-effort: an error means the caller should skip filtering.
type Probe func(ctx context.Context) (map[string]bool, error)

// Status is a point-in-time view of one backend for observability.
type Status struct {
	Name          string
	Rank          int
	CooldownUntil time.Time
}

// Selector owns the ranked backend list and the cooldown map.
// It is passed by reference into the dispatcher; there is no ambient state.
// Not safe for concurrent use: the iteration controller is strictly sequential.
type Selector struct {
	backends      []Backend
	cooldownUntil map[string]time.Time

	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	logger *slog.Logger
}

// Option configures a Selector.
type Option func(*Selector)

// WithClock sets the time source. Used by tests to simulate cooldown expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Selector) {
		s.now = now
	}
}

// WithSleep sets the wait function used when every backend is cooling down.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Selector) {
		s.sleep = sleep
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Selector) {
		s.logger = logger
	}
}

// New creates a Selector from the configured name list. Rank is list position.
func New(names []string, opts ...Option) (*Selector, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("at least one backend is required")
	}

	s := &Selector{
		cooldownUntil: make(map[string]time.Time, len(names)),
		now:           time.Now,
		logger:        slog.Default(),
	}
	for i, name := range names {
		s.backends = append(s.backends, Backend{Name: name, Rank: i})
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.sleep == nil {
		s.sleep = defaultSleep
	}

	return s, nil
}

// NewFiltered creates a Selector with the configured list intersected against
// a capability probe. Probe failure skips filtering entirely, favoring
// availability over ranking correctness.
func NewFiltered(ctx context.Context, names []string, probe Probe, opts ...Option) (*Selector, error) {
	s, err := New(names, opts...)
	if err != nil {
		return nil, err
	}
	if probe == nil {
		return s, nil
	}

	supported, err := probe(ctx)
	if err != nil || len(supported) == 0 {
		s.logger.Warn("Capability probe failed, using configured backends unfiltered", "error", err)
		return s, nil
	}

	var kept []Backend
	for _, b := range s.backends {
		if supported[b.Name] {
			kept = append(kept, b)
		} else {
			s.logger.Info("Skipping unsupported backend", "backend", b.Name)
		}
	}
	if len(kept) == 0 {
		return nil, fmt.Errorf("no configured backend is supported by the service")
	}
	s.backends = kept

	return s, nil
}

func defaultSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// PickBest returns the lowest-rank backend whose cooldown has elapsed.
// If every backend is cooling down it blocks until the earliest cooldown
// expires, then returns that backend.
func (s *Selector) PickBest(ctx context.Context) (Backend, error) {
	now := s.now()

	for _, b := range s.backends {
		if !s.cooldownUntil[b.Name].After(now) {
			return b, nil
		}
	}

	// All cooling down: wait for the earliest to recover.
	earliest := s.backends[0]
	for _, b := range s.backends[1:] {
		if s.cooldownUntil[b.Name].Before(s.cooldownUntil[earliest.Name]) {
			earliest = b
		}
	}
	wait := s.cooldownUntil[earliest.Name].Sub(now)
	s.logger.Info("All backends cooling down, waiting for recovery",
		"backend", earliest.Name,
		"wait", wait)
	if err := s.sleep(ctx, wait); err != nil {
		return Backend{}, err
	}
	return earliest, nil
}

// MarkUnavailable excludes a backend from selection for the given duration.
func (s *Selector) MarkUnavailable(name string, d time.Duration) {
	until := s.now().Add(d)
	s.cooldownUntil[name] = until
	s.logger.Info("Backend cooling down",
		"backend", name,
		"until", until.Format(time.TimeOnly))
}

// MarkPermanentlyUnavailable excludes a backend for the process lifetime.
// The backend is never removed from the list, only pushed far into the future.
func (s *Selector) MarkPermanentlyUnavailable(name string) {
	s.cooldownUntil[name] = s.now().Add(permanentCooldown)
	s.logger.Warn("Backend permanently skipped", "backend", name)
}

// Refresh promotes to a now-eligible backend of strictly lower rank than
// current, if one exists. Otherwise the current selection is returned
// unchanged. Repeated calls with no state change are idempotent.
func (s *Selector) Refresh(current Backend) Backend {
	now := s.now()

	for _, b := range s.backends {
		if b.Rank >= current.Rank {
			break
		}
		if !s.cooldownUntil[b.Name].After(now) {
			s.logger.Info("Promoting to recovered backend",
				"from", current.Name,
				"to", b.Name)
			return b
		}
	}
	return current
}

// Snapshot returns the current backend statuses in rank order.
func (s *Selector) Snapshot() []Status {
	statuses := make([]Status, 0, len(s.backends))
	for _, b := range s.backends {
		statuses = append(statuses, Status{
			Name:          b.Name,
			Rank:          b.Rank,
			CooldownUntil: s.cooldownUntil[b.Name],
		})
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Rank < statuses[j].Rank })
	return statuses
}
