package inputlock

import (
	"context"
	"time"

	"github.com/hairizuanbinnoorazman/browser-relay/internal/uuidutil"
	"github.com/hairizuanbinnoorazman/browser-relay/logger"
)

const (
	// DefaultTTL bounds how long a crashed holder can wedge the cluster.
	DefaultTTL = 30 * time.Second

	// DefaultRetryInterval is the spin-wait pause between acquisition
	// attempts on a contested lock.
	DefaultRetryInterval = 100 * time.Millisecond
)

// Mutex is the cluster-wide lock serializing every simulated input
// action system-wide. It is intentionally global rather than per-tab or
// per-service: the goal is a single total order over all keystrokes so
// concurrent agents look like one human.
type Mutex struct {
	store         Store
	key           string
	ttl           time.Duration
	retryInterval time.Duration
	logger        logger.Logger
}

// NewMutex creates a mutex over the given lease store.
func NewMutex(store Store, key string, ttl, retryInterval time.Duration, log logger.Logger) *Mutex {
	if key == "" {
		key = DefaultKey
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if retryInterval <= 0 {
		retryInterval = DefaultRetryInterval
	}
	if log == nil {
		log = logger.Nop{}
	}
	return &Mutex{
		store:         store,
		key:           key,
		ttl:           ttl,
		retryInterval: retryInterval,
		logger:        log,
	}
}

// Hold represents one successful acquisition. Release is idempotent.
type Hold struct {
	mutex    *Mutex
	token    string
	released bool
}

// Acquire attempts set-if-absent-with-expiry in a bounded spin-wait.
// Returns ErrLockTimeout once timeout elapses without success.
func (m *Mutex) Acquire(ctx context.Context, timeout time.Duration) (*Hold, error) {
	token := uuidutil.NewString()
	deadline := time.Now().Add(timeout)

	for {
		ok, err := m.store.TryAcquire(ctx, m.key, token, m.ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			m.logger.Debug(ctx, "input lock acquired", map[string]interface{}{
				"key":   m.key,
				"token": token,
			})
			return &Hold{mutex: m, token: token}, nil
		}

		if time.Now().Add(m.retryInterval).After(deadline) {
			m.logger.Warn(ctx, "input lock contested past timeout", map[string]interface{}{
				"key":     m.key,
				"timeout": timeout.String(),
			})
			return nil, ErrLockTimeout
		}

		select {
		case <-time.After(m.retryInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Release returns the lock. Safe to call more than once.
func (h *Hold) Release(ctx context.Context) error {
	if h == nil || h.released {
		return nil
	}
	h.released = true
	return h.mutex.store.Release(ctx, h.mutex.key, h.token)
}

// Renew extends the lease by the mutex TTL. Returns false once the
// lease has lapsed or been displaced.
func (h *Hold) Renew(ctx context.Context) (bool, error) {
	if h == nil || h.released {
		return false, nil
	}
	return h.mutex.store.Renew(ctx, h.mutex.key, h.token, h.mutex.ttl)
}

// WithHold runs action under the lock, renewing the lease in the
// background so a hold that outlives the TTL is never silently
// displaced mid-action. The action's context is cancelled the moment
// renewal fails and WithHold reports ErrLockLost; the lock is released
// on every exit path so a failing action cannot wedge the cluster.
func (m *Mutex) WithHold(ctx context.Context, timeout time.Duration, action func(ctx context.Context) error) error {
	hold, err := m.Acquire(ctx, timeout)
	if err != nil {
		return err
	}

	actionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	lost := make(chan struct{})
	renewStop := make(chan struct{})
	renewDone := make(chan struct{})
	go func() {
		defer close(renewDone)
		ticker := time.NewTicker(m.renewInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if ctx.Err() != nil {
					return
				}
				ok, err := hold.Renew(ctx)
				if err == nil && ok {
					continue
				}
				if err != nil {
					m.logger.Error(ctx, "failed to renew input lock", map[string]interface{}{
						"error": err.Error(),
						"key":   m.key,
					})
				} else {
					m.logger.Warn(ctx, "input lock lost mid-hold", map[string]interface{}{
						"key": m.key,
					})
				}
				close(lost)
				cancel()
				return
			case <-renewStop:
				return
			case <-actionCtx.Done():
				return
			}
		}
	}()

	actionErr := action(actionCtx)
	close(renewStop)
	<-renewDone

	if err := hold.Release(ctx); err != nil {
		m.logger.Error(ctx, "failed to release input lock", map[string]interface{}{
			"error": err.Error(),
			"key":   m.key,
		})
	}

	select {
	case <-lost:
		return ErrLockLost
	default:
	}

	return actionErr
}

// renewInterval spaces renewals so several land within one TTL.
func (m *Mutex) renewInterval() time.Duration {
	interval := m.ttl / 3
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	return interval
}
