package limiter

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the pool subset the limiter uses.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Policy bounds failed attempts: MaxFails within Window blocks for BlockFor.
type Policy struct {
	Window   time.Duration
	MaxFails int
	BlockFor time.Duration
}

// DefaultPolicy allows five failures in fifteen minutes.
var DefaultPolicy = Policy{Window: 15 * time.Minute, MaxFails: 5, BlockFor: 15 * time.Minute}

// PG keeps counters in the login_attempts table.
type PG struct {
	q   Querier
	p   Policy
	now func() time.Time
}

var _ Limiter = (*PG)(nil)

// NewPG constructs a PostgreSQL-backed limiter. now may be nil.
func NewPG(q Querier, p Policy, now func() time.Time) *PG {
	if now == nil {
		now = time.Now
	}
	return &PG{q: q, p: p, now: now}
}

// Allow reports whether login is currently allowed and a retry-after duration.
func (l *PG) Allow(ctx context.Context, k Key) (bool, time.Duration, error) {
	const q = `SELECT blocked_until FROM login_attempts WHERE role=$1 AND identity=$2`
	var blockedUntil time.Time
	err := l.q.QueryRow(ctx, q, string(k.Role), k.Identity).Scan(&blockedUntil)
	switch {
	case err == nil:
		if now := l.now(); blockedUntil.After(now) {
			return false, blockedUntil.Sub(now), nil
		}
		return true, 0, nil
	case errors.Is(err, pgx.ErrNoRows):
		return true, 0, nil
	default:
		return false, 0, err
	}
}

// Success resets counters for k.
func (l *PG) Success(ctx context.Context, k Key) error {
	const q = `
INSERT INTO login_attempts (role, identity, fail_count, blocked_until, updated_at)
VALUES ($1,$2,0,'epoch',$3)
ON CONFLICT (role, identity)
DO UPDATE SET fail_count=0, blocked_until='epoch', updated_at=$3`
	_, err := l.q.Exec(ctx, q, string(k.Role), k.Identity, l.now())
	return err
}

// Failure records a failed attempt; the counter restarts once Window has passed
// since the previous one.
func (l *PG) Failure(ctx context.Context, k Key) (bool, time.Duration, error) {
	now := l.now()
	const q = `
INSERT INTO login_attempts (role, identity, fail_count, blocked_until, updated_at)
VALUES ($1,$2,1,'epoch',$3)
ON CONFLICT (role, identity) DO UPDATE
SET
  fail_count = CASE WHEN EXCLUDED.updated_at - login_attempts.updated_at > $4::interval THEN 1 ELSE login_attempts.fail_count + 1 END,
  updated_at = EXCLUDED.updated_at
RETURNING fail_count`
	var fails int
	if err := l.q.QueryRow(ctx, q, string(k.Role), k.Identity, now, l.p.Window).Scan(&fails); err != nil {
		return false, 0, err
	}
	if fails < l.p.MaxFails {
		return false, 0, nil
	}
	const upd = `UPDATE login_attempts SET blocked_until=$3 WHERE role=$1 AND identity=$2`
	if _, err := l.q.Exec(ctx, upd, string(k.Role), k.Identity, now.Add(l.p.BlockFor)); err != nil {
		return false, 0, err
	}
	return true, l.p.BlockFor, nil
}
