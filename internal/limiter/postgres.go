package limiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PG keeps invite acceptance failures in the invite_limiter table, so every
// server instance sees the same block.
type PG struct {
	db     querier
	policy Policy
	now    func() time.Time
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG constructs a limiter over the shared pool.
func NewPG(pool *pgxpool.Pool, p Policy) *PG {
	return NewPGWithQuerier(pool, p)
}

// NewPGWithQuerier constructs a limiter over any pgx querier.
func NewPGWithQuerier(q querier, p Policy) *PG {
	return &PG{db: q, policy: p, now: time.Now}
}

// Check implements Limiter.
func (l *PG) Check(ctx context.Context, a Attempt) error {
	const q = `SELECT blocked_until FROM invite_limiter WHERE uid = $1 AND ip_hash = $2`
	var until time.Time
	err := l.db.QueryRow(ctx, q, a.UID, a.IPHash).Scan(&until)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("invite limiter check: %w", err)
	}
	return blocked(until, l.now())
}

// failSQL counts one failure in a single upsert. A window older than $4
// restarts at $3; reaching $5 failures sets blocked_until to $6.
const failSQL = `
INSERT INTO invite_limiter AS l (uid, ip_hash, fail_count, window_start, blocked_until)
VALUES ($1, $2, 1, $3, CASE WHEN $5::int <= 1 THEN $6::timestamptz ELSE 'epoch'::timestamptz END)
ON CONFLICT (uid, ip_hash) DO UPDATE SET
  fail_count    = CASE WHEN l.window_start <= $4 THEN 1 ELSE l.fail_count + 1 END,
  window_start  = CASE WHEN l.window_start <= $4 THEN $3 ELSE l.window_start END,
  blocked_until = CASE
    WHEN (CASE WHEN l.window_start <= $4 THEN 1 ELSE l.fail_count + 1 END) >= $5::int THEN $6::timestamptz
    ELSE l.blocked_until
  END
RETURNING blocked_until`

// Fail implements Limiter.
func (l *PG) Fail(ctx context.Context, a Attempt) error {
	now := l.now().UTC()
	var until time.Time
	err := l.db.QueryRow(ctx, failSQL,
		a.UID, a.IPHash, now, now.Add(-l.policy.Window), l.policy.MaxFails, now.Add(l.policy.Block),
	).Scan(&until)
	if err != nil {
		return fmt.Errorf("invite limiter fail: %w", err)
	}
	return blocked(until, now)
}

// Forget implements Limiter.
func (l *PG) Forget(ctx context.Context, a Attempt) error {
	const q = `DELETE FROM invite_limiter WHERE uid = $1 AND ip_hash = $2`
	if _, err := l.db.Exec(ctx, q, a.UID, a.IPHash); err != nil {
		return fmt.Errorf("invite limiter forget: %w", err)
	}
	return nil
}
