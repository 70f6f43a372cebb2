// Package lock serializes work on one document.
//
// Analyses of different documents run concurrently; a second analysis of
// the same document waits until the first one releases the lock.
package lock

import (
	"context"
	"errors"
)

// ErrLockTimeout is returned when a lock could not be acquired before the
// context was done.
var ErrLockTimeout = errors.New("lock acquisition timed out")

// Unlock releases a held lock. Calling it more than once is a no-op.
type Unlock func()

// Locker hands out mutually exclusive locks keyed by name.
type Locker interface {
	// Lock blocks until key is held or ctx is done.
	Lock(ctx context.Context, key string) (Unlock, error)
}
