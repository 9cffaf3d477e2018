package limiter

import (
	"context"
	"sync"
	"time"
)

type record struct {
	fails        int
	windowStart  time.Time
	blockedUntil time.Time
}

// Memory applies the same Policy as PG in process. State is lost on restart.
type Memory struct {
	mu      sync.Mutex
	records map[string]*record
	policy  Policy
	now     func() time.Time
}

// NewMemory constructs an in-process limiter.
func NewMemory(p Policy) *Memory {
	return &Memory{records: map[string]*record{}, policy: p, now: time.Now}
}

// Check implements Limiter.
func (l *Memory) Check(_ context.Context, a Attempt) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[a.key()]
	if !ok {
		return nil
	}
	return blocked(r.blockedUntil, l.now())
}

// Fail implements Limiter.
func (l *Memory) Fail(_ context.Context, a Attempt) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	r, ok := l.records[a.key()]
	if !ok || !r.windowStart.After(now.Add(-l.policy.Window)) {
		r = &record{windowStart: now}
		l.records[a.key()] = r
	}
	r.fails++
	if r.fails >= l.policy.MaxFails {
		r.blockedUntil = now.Add(l.policy.Block)
	}
	return blocked(r.blockedUntil, now)
}

// Forget implements Limiter.
func (l *Memory) Forget(_ context.Context, a Attempt) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.records, a.key())
	return nil
}
