// Package ratelimit throttles how often a visitor may search the catalog or
// toggle likes.
//
// Limits are a courtesy throttle, not a security control: the memory backend
// is process local and forgets everything on restart. The Redis backend shares
// counts between instances when that matters.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Action identifies a class of rate-limited operation.
type Action string

const (
	ActionSearch Action = "search"
	ActionLike   Action = "like"
)

// Rule is the ceiling of allowed calls within a sliding window.
type Rule struct {
	Limit  int
	Window time.Duration
}

// DefaultRules are the limits applied when no override is configured.
var DefaultRules = map[Action]Rule{
	ActionSearch: {Limit: 15, Window: time.Minute},
	ActionLike:   {Limit: 15, Window: time.Minute},
}

// Limiter decides whether a call for key may proceed.
type Limiter interface {
	Allow(ctx context.Context, action Action, key string) (bool, error)
}

// Memory is a sliding-window-log limiter held in process memory.
type Memory struct {
	mu    sync.Mutex
	rules map[Action]Rule
	hits  map[string][]time.Time
	now   func() time.Time
}

// Option configures a Memory limiter.
type Option func(*Memory)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Memory) {
		m.now = now
	}
}

// WithRules replaces the rule set. Actions without a rule are never limited.
func WithRules(rules map[Action]Rule) Option {
	return func(m *Memory) {
		m.rules = rules
	}
}

// NewMemory creates an in-memory limiter using DefaultRules.
func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		rules: DefaultRules,
		hits:  make(map[string][]time.Time),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Allow records the call and reports true when fewer than Rule.Limit calls
// were accepted in the trailing window. Rejected calls are not recorded.
func (m *Memory) Allow(_ context.Context, action Action, key string) (bool, error) {
	rule, ok := m.rules[action]
	if !ok {
		return true, nil
	}

	now := m.now()
	k := string(action) + ":" + key

	m.mu.Lock()
	defer m.mu.Unlock()

	recent := prune(m.hits[k], now, rule.Window)
	if len(recent) >= rule.Limit {
		m.hits[k] = recent
		return false, nil
	}

	m.hits[k] = append(recent, now)
	return true, nil
}

// Sweep drops keys with no calls inside their window and returns how many
// were removed.
func (m *Memory) Sweep() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for k, stamps := range m.hits {
		window := m.windowFor(k)
		if len(prune(stamps, now, window)) == 0 {
			delete(m.hits, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.hits)
}

// windowFor finds the window of the action encoded in key.
func (m *Memory) windowFor(key string) time.Duration {
	var longest time.Duration
	for action, rule := range m.rules {
		prefix := string(action) + ":"
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			return rule.Window
		}
		longest = max(longest, rule.Window)
	}
	return longest
}

// prune drops timestamps that are window or more in the past. Timestamps are
// appended in order, so the survivors are a suffix of stamps.
func prune(stamps []time.Time, now time.Time, window time.Duration) []time.Time {
	i := 0
	for i < len(stamps) && now.Sub(stamps[i]) >= window {
		i++
	}
	return stamps[i:]
}

var _ Limiter = (*Memory)(nil)
