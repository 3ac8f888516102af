// Package lock provides named mutual exclusion that holds across goroutines
// and across processes on one host.
package lock

import (
	"errors"
	"time"
)

var (
	// ErrTimeout is returned by TryAcquire when the lock stayed held for the
	// whole timeout.
	ErrTimeout = errors.New("lock: timed out")
	// ErrFailure wraps OS errors raised while creating or locking a lock file.
	ErrFailure = errors.New("lock: acquisition failed")
	// ErrReleased is returned when a Guard is released twice.
	ErrReleased = errors.New("lock: already released")
)

// Locker acquires named locks. Acquisitions are not reentrant: a caller
// holding a name must not acquire it again.
type Locker interface {
	// Acquire blocks until the named lock is held.
	Acquire(name string) (Guard, error)
	// TryAcquire waits at most timeout for the named lock. A timeout <= 0
	// makes a single attempt.
	TryAcquire(name string, timeout time.Duration) (Guard, error)
}

// Guard is a held lock.
type Guard interface {
	// Release gives the lock up.
	Release() error
	// Retire removes the lock's backing name, then releases it. Waiters
	// blocked on the retired name re-resolve it and continue.
	Retire() error
}
