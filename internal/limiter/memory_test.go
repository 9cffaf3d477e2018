package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/and161185/event-ledger/internal/errs"
)

func newMemory(p Policy, now *time.Time) *Memory {
	l := NewMemory(p)
	l.now = func() time.Time { return *now }
	return l
}

func TestMemory_BlocksAfterMaxFailures(t *testing.T) {
	now := testNow
	l := newMemory(Policy{Window: 15 * time.Minute, MaxFails: 3, Block: 15 * time.Minute}, &now)
	ctx := context.Background()
	a := NewAttempt("u1", "10.0.0.1")

	require.NoError(t, l.Fail(ctx, a))
	require.NoError(t, l.Fail(ctx, a))
	err := l.Fail(ctx, a)
	var be *BlockedError
	require.ErrorAs(t, err, &be)
	require.Equal(t, 15*time.Minute, be.RetryAfter)

	now = now.Add(5 * time.Minute)
	err = l.Check(ctx, a)
	require.ErrorIs(t, err, errs.ErrRateLimited)
	require.ErrorAs(t, err, &be)
	require.Equal(t, 10*time.Minute, be.RetryAfter)

	// Other callers on the same IP are unaffected.
	require.NoError(t, l.Check(ctx, NewAttempt("u2", "10.0.0.1")))

	now = now.Add(11 * time.Minute)
	require.NoError(t, l.Check(ctx, a))
}

func TestMemory_WindowStartsAtFirstFailure(t *testing.T) {
	now := testNow
	l := newMemory(Policy{Window: time.Minute, MaxFails: 2, Block: time.Hour}, &now)
	ctx := context.Background()
	a := NewAttempt("u1", "10.0.0.1")

	require.NoError(t, l.Fail(ctx, a))
	now = now.Add(time.Minute)
	require.NoError(t, l.Fail(ctx, a))
	now = now.Add(30 * time.Second)
	require.ErrorIs(t, l.Fail(ctx, a), errs.ErrRateLimited)
}

func TestMemory_ForgetResets(t *testing.T) {
	now := testNow
	l := newMemory(Policy{Window: time.Hour, MaxFails: 2, Block: time.Hour}, &now)
	ctx := context.Background()
	a := NewAttempt("u1", "10.0.0.1")

	require.NoError(t, l.Fail(ctx, a))
	require.NoError(t, l.Forget(ctx, a))
	require.NoError(t, l.Fail(ctx, a))
}
