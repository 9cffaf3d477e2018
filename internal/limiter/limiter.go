// Package limiter throttles failed invite acceptances per (uid, client IP).
package limiter

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/and161185/event-ledger/internal/errs"
)

// Attempt identifies an acceptance caller. Raw IPs are never stored.
type Attempt struct {
	UID    string
	IPHash []byte
}

// NewAttempt hashes ip into an Attempt for uid.
func NewAttempt(uid, ip string) Attempt {
	return Attempt{UID: uid, IPHash: HashIP(ip)}
}

func (a Attempt) key() string { return a.UID + "\x00" + string(a.IPHash) }

// Policy is the throttle rule: MaxFails failures within Window block the
// caller for Block.
type Policy struct {
	Window   time.Duration
	MaxFails int
	Block    time.Duration
}

// BlockedError reports a blocked caller. It matches errs.ErrRateLimited.
type BlockedError struct {
	RetryAfter time.Duration
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("%s: retry in %s", errs.ErrRateLimited, e.RetryAfter.Round(time.Second))
}

func (e *BlockedError) Unwrap() error { return errs.ErrRateLimited }

func blocked(until, now time.Time) error {
	if until.After(now) {
		return &BlockedError{RetryAfter: until.Sub(now)}
	}
	return nil
}

// Limiter tracks failed invite acceptances.
type Limiter interface {
	// Check returns a *BlockedError while the caller is blocked.
	Check(ctx context.Context, a Attempt) error
	// Fail counts a failed acceptance and returns a *BlockedError when it
	// trips the block.
	Fail(ctx context.Context, a Attempt) error
	// Forget clears the caller's history after a successful acceptance.
	Forget(ctx context.Context, a Attempt) error
}

// HashIP returns a stable hash for an IP string.
func HashIP(ip string) []byte {
	h := sha256.Sum256([]byte(ip))
	return h[:]
}
