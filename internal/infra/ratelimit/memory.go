package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"certnode/internal/domain"
)

// ErrCapacity is returned when the in-memory limiter tracks too many keys
// and none have expired.
var ErrCapacity = errors.New("rate limiter capacity exceeded")

// Memory is a fixed-window limiter for single-process deployments.
type Memory struct {
	mu      sync.Mutex
	now     func() time.Time
	maxKeys int
	windows map[string]*window
}

type window struct {
	used int
	ends time.Time
}

type MemoryOptions struct {
	Now     func() time.Time
	MaxKeys int
}

var _ domain.RateLimiter = (*Memory)(nil)

func NewMemory(opts MemoryOptions) *Memory {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MaxKeys <= 0 {
		opts.MaxKeys = 10000
	}
	return &Memory{now: opts.Now, maxKeys: opts.MaxKeys, windows: map[string]*window{}}
}

func (m *Memory) Allow(_ context.Context, key string, limit int, period time.Duration) (domain.RateLimitDecision, error) {
	if limit <= 0 {
		return domain.RateLimitDecision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key]
	if ok && !now.Before(w.ends) {
		delete(m.windows, key)
		ok = false
	}
	if !ok {
		if len(m.windows) >= m.maxKeys {
			m.sweep(now)
			if len(m.windows) >= m.maxKeys {
				return domain.RateLimitDecision{}, ErrCapacity
			}
		}
		w = &window{ends: now.Add(period)}
		m.windows[key] = w
	}

	decision := domain.RateLimitDecision{Limit: limit, ResetAt: w.ends}
	if w.used >= limit {
		return decision, nil
	}
	w.used++
	decision.Allowed = true
	decision.Remaining = limit - w.used
	return decision, nil
}

func (m *Memory) sweep(now time.Time) {
	for key, w := range m.windows {
		if !now.Before(w.ends) {
			delete(m.windows, key)
		}
	}
}
