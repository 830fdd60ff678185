// Package lock provides advisory locks for coordinating backfill runs.
//
// Locks are advisory with a TTL, not hard mutual exclusion: a holder that
// dies simply lets the lock expire. Callers that find a lock held are
// expected to no-op or retry later, never to interleave.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrHeld is returned when the lock is already held by another party.
var ErrHeld = errors.New("lock already held")

// Locker acquires advisory locks by key. On success it returns an unlock
// function that must be called to release the lock; the unlock function is
// safe to call multiple times.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}
