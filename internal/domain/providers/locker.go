package providers

import (
	"context"
	"time"
)

// Locker provides mutual exclusion per key. Acquire blocks until the lock is
// held or ctx is done; ttl bounds how long a crashed holder can keep it.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}
