package usecase

import (
	"errors"
	"sync"
	"time"
)

const (
	defaultRateWindow = time.Hour
	defaultRateLimit  = 10
)

// RateStore holds per-user request timestamps. The in-memory default is an
// optimization, not a correctness mechanism: it can be swapped for a shared
// store if cross-instance consistency is ever needed.
type RateStore interface {
	Get(userID string) []time.Time
	Set(userID string, stamps []time.Time)
	// Prune drops entries older than cutoff for all tracked users.
	Prune(cutoff time.Time)
}

// MemoryRateStore is the process-local RateStore.
type MemoryRateStore struct {
	mu sync.Mutex
	m  map[string][]time.Time
}

func NewMemoryRateStore() *MemoryRateStore {
	return &MemoryRateStore{m: make(map[string][]time.Time)}
}

func (s *MemoryRateStore) Get(userID string) []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	stamps := s.m[userID]
	out := make([]time.Time, len(stamps))
	copy(out, stamps)
	return out
}

func (s *MemoryRateStore) Set(userID string, stamps []time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[userID] = stamps
}

func (s *MemoryRateStore) Prune(cutoff time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for userID, stamps := range s.m {
		kept := stamps[:0]
		for _, ts := range stamps {
			if !ts.Before(cutoff) {
				kept = append(kept, ts)
			}
		}
		if len(kept) == 0 {
			delete(s.m, userID)
			continue
		}
		s.m[userID] = kept
	}
}

// RateDecision is the outcome of one rate check.
type RateDecision struct {
	Allowed      bool
	RequestCount int
	Limit        int
	ResetTime    time.Time
}

// RateGovernor is a sliding-window per-user request limiter protecting the
// model API from cost overrun. Authenticated users get double the base quota.
type RateGovernor struct {
	store     RateStore
	now       func() time.Time
	window    time.Duration
	baseLimit int
}

type RateOption func(*RateGovernor)

// WithClock injects the time source; tests use a fake clock instead of
// relying on the process-local cache's lifetime.
func WithClock(now func() time.Time) RateOption {
	return func(g *RateGovernor) {
		g.now = now
	}
}

func WithRateWindow(w time.Duration) RateOption {
	return func(g *RateGovernor) {
		if w > 0 {
			g.window = w
		}
	}
}

func WithBaseLimit(n int) RateOption {
	return func(g *RateGovernor) {
		if n > 0 {
			g.baseLimit = n
		}
	}
}

func NewRateGovernor(store RateStore, opts ...RateOption) (*RateGovernor, error) {
	if store == nil {
		return nil, errors.New("usecase: rate store must not be nil")
	}
	g := &RateGovernor{
		store:     store,
		now:       time.Now,
		window:    defaultRateWindow,
		baseLimit: defaultRateLimit,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Check evaluates one request. Expired entries are pruned for all tracked
// users before every evaluation; when allowed, the request is recorded.
// ResetTime is when the oldest in-window request ages out.
func (g *RateGovernor) Check(userID string, authenticated bool) RateDecision {
	now := g.now()
	g.store.Prune(now.Add(-g.window))

	limit := g.baseLimit
	if authenticated {
		limit *= 2
	}

	stamps := g.store.Get(userID)
	if len(stamps) >= limit {
		return RateDecision{
			Allowed:      false,
			RequestCount: len(stamps),
			Limit:        limit,
			ResetTime:    stamps[0].Add(g.window),
		}
	}

	stamps = append(stamps, now)
	g.store.Set(userID, stamps)
	return RateDecision{
		Allowed:      true,
		RequestCount: len(stamps),
		Limit:        limit,
		ResetTime:    stamps[0].Add(g.window),
	}
}
