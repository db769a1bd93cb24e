package inputlock

import (
	"context"
	"time"
)

// Store is the shared atomic primitive behind the mutex: set-if-absent
// with expiry, plus idempotent delete. Any number of processes may call
// it concurrently.
type Store interface {
	// TryAcquire atomically installs a lease for key if no unexpired
	// lease exists. Returns false when the key is held.
	TryAcquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	// Renew extends the expiry of an unexpired lease still held by
	// token. Returns false once the lease has lapsed or been displaced;
	// a lapsed lease is never resurrected.
	Renew(ctx context.Context, key, token string, ttl time.Duration) (bool, error)

	// Release deletes the lease if it is still held by token. Releasing
	// an absent or foreign lease is a no-op.
	Release(ctx context.Context, key, token string) error

	// ReapExpired deletes all expired lease rows, returning the count.
	ReapExpired(ctx context.Context) (int64, error)
}
