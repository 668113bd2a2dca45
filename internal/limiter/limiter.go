// Package limiter throttles repeated failed logins per role and identity.
package limiter

import (
	"context"
	"time"

	"github.com/and161185/carecard/internal/model"
)

// Key identifies the account being logged into.
type Key struct {
	Role     model.Role
	Identity string
}

// Limiter controls login attempts and temporary lockouts.
type Limiter interface {
	// Allow reports whether a login may be attempted now, and if not, for how long it is blocked.
	Allow(ctx context.Context, k Key) (bool, time.Duration, error)
	// Success resets the failure counter.
	Success(ctx context.Context, k Key) error
	// Failure records a failed attempt and reports whether it triggered a block.
	Failure(ctx context.Context, k Key) (bool, time.Duration, error)
}

// Nop never blocks. It is used when no database is configured for attempts.
type Nop struct{}

func (Nop) Allow(context.Context, Key) (bool, time.Duration, error)   { return true, 0, nil }
func (Nop) Success(context.Context, Key) error                        { return nil }
func (Nop) Failure(context.Context, Key) (bool, time.Duration, error) { return false, 0, nil }
