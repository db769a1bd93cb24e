package inputlock

import (
	"context"
	"time"

	"github.com/hairizuanbinnoorazman/browser-relay/logger"
)

// Reaper periodically deletes expired lease rows so the lock table does
// not accumulate dead leases. Correctness never depends on it:
// TryAcquire reaps the contested key inline.
type Reaper struct {
	store  Store
	logger logger.Logger
	stopCh chan struct{}
}

// NewReaper creates a reaper over the lock store.
func NewReaper(store Store, log logger.Logger) *Reaper {
	return &Reaper{
		store:  store,
		logger: log,
		stopCh: make(chan struct{}),
	}
}

// Start launches the cleanup loop on the given interval.
func (r *Reaper) Start(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				ctx := context.Background()
				reaped, err := r.store.ReapExpired(ctx)
				if err != nil {
					r.logger.Error(ctx, "failed to reap expired locks", map[string]interface{}{
						"error": err.Error(),
					})
					continue
				}
				if reaped > 0 {
					r.logger.Info(ctx, "reaped expired locks", map[string]interface{}{
						"count": reaped,
					})
				}
			case <-r.stopCh:
				return
			}
		}
	}()
}

// Stop terminates the cleanup loop.
func (r *Reaper) Stop() {
	close(r.stopCh)
}
