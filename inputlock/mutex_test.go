package inputlock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hairizuanbinnoorazman/browser-relay/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestMutex(t *testing.T, ttl, retry time.Duration) (*Mutex, Store) {
	_, store := setupTestStore(t)
	return NewMutex(store, "human-input", ttl, retry, logger.NewTestLogger()), store
}

func TestMutex_Acquire(t *testing.T) {
	ctx := context.Background()

	t.Run("acquire and release", func(t *testing.T) {
		mutex, _ := setupTestMutex(t, time.Minute, 10*time.Millisecond)

		hold, err := mutex.Acquire(ctx, time.Second)
		require.NoError(t, err)
		require.NoError(t, hold.Release(ctx))

		// Released lock is immediately acquirable.
		again, err := mutex.Acquire(ctx, time.Second)
		require.NoError(t, err)
		require.NoError(t, again.Release(ctx))
	})

	t.Run("contested lock times out", func(t *testing.T) {
		mutex, _ := setupTestMutex(t, time.Minute, 10*time.Millisecond)

		hold, err := mutex.Acquire(ctx, time.Second)
		require.NoError(t, err)
		defer hold.Release(ctx)

		start := time.Now()
		_, err = mutex.Acquire(ctx, 50*time.Millisecond)
		assert.ErrorIs(t, err, ErrLockTimeout)
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("expired holder is displaced", func(t *testing.T) {
		mutex, _ := setupTestMutex(t, 20*time.Millisecond, 10*time.Millisecond)

		_, err := mutex.Acquire(ctx, time.Second)
		require.NoError(t, err)

		// Never released; the TTL lapses and the next caller wins.
		hold, err := mutex.Acquire(ctx, time.Second)
		require.NoError(t, err)
		require.NoError(t, hold.Release(ctx))
	})

	t.Run("release is idempotent", func(t *testing.T) {
		mutex, _ := setupTestMutex(t, time.Minute, 10*time.Millisecond)

		hold, err := mutex.Acquire(ctx, time.Second)
		require.NoError(t, err)
		require.NoError(t, hold.Release(ctx))
		require.NoError(t, hold.Release(ctx))
	})

	t.Run("cancelled context aborts the wait", func(t *testing.T) {
		mutex, _ := setupTestMutex(t, time.Minute, 10*time.Millisecond)

		hold, err := mutex.Acquire(ctx, time.Second)
		require.NoError(t, err)
		defer hold.Release(ctx)

		cancelCtx, cancel := context.WithCancel(ctx)
		go func() {
			time.Sleep(30 * time.Millisecond)
			cancel()
		}()

		_, err = mutex.Acquire(cancelCtx, 10*time.Second)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestMutex_WithHold(t *testing.T) {
	ctx := context.Background()

	t.Run("releases after successful action", func(t *testing.T) {
		mutex, _ := setupTestMutex(t, time.Minute, 10*time.Millisecond)

		ran := false
		err := mutex.WithHold(ctx, time.Second, func(ctx context.Context) error {
			ran = true
			return nil
		})
		require.NoError(t, err)
		assert.True(t, ran)

		hold, err := mutex.Acquire(ctx, 100*time.Millisecond)
		require.NoError(t, err)
		hold.Release(ctx)
	})

	t.Run("releases after failing action", func(t *testing.T) {
		mutex, _ := setupTestMutex(t, time.Minute, 10*time.Millisecond)

		wantErr := errors.New("action failed")
		err := mutex.WithHold(ctx, time.Second, func(ctx context.Context) error {
			return wantErr
		})
		assert.ErrorIs(t, err, wantErr)

		// The failure must not wedge the lock.
		hold, err := mutex.Acquire(ctx, 100*time.Millisecond)
		require.NoError(t, err)
		hold.Release(ctx)
	})
}

func TestMutex_MutualExclusion(t *testing.T) {
	ctx := context.Background()
	mutex, _ := setupTestMutex(t, time.Minute, time.Millisecond)

	// Holders append disjoint critical sections; overlap would interleave
	// the enter/exit pairs.
	var mu sync.Mutex
	var trace []string
	var wg sync.WaitGroup

	const workers = 5
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := mutex.WithHold(ctx, 10*time.Second, func(ctx context.Context) error {
				mu.Lock()
				trace = append(trace, "enter")
				mu.Unlock()

				time.Sleep(5 * time.Millisecond)

				mu.Lock()
				trace = append(trace, "exit")
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Len(t, trace, workers*2)
	for i := 0; i < len(trace); i += 2 {
		assert.Equal(t, "enter", trace[i])
		assert.Equal(t, "exit", trace[i+1])
	}
}

func TestMutex_HoldOutlivingTTL(t *testing.T) {
	ctx := context.Background()
	mutex, _ := setupTestMutex(t, 100*time.Millisecond, 10*time.Millisecond)

	// Both actions run far past the TTL; renewal must keep each holder's
	// lease alive so the critical sections never overlap.
	var inside, overlaps int32
	action := func(ctx context.Context) error {
		if atomic.AddInt32(&inside, 1) > 1 {
			atomic.AddInt32(&overlaps, 1)
		}
		defer atomic.AddInt32(&inside, -1)
		select {
		case <-time.After(250 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- mutex.WithHold(ctx, 5*time.Second, action)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Zero(t, atomic.LoadInt32(&overlaps))
}

func TestMutex_LostLeaseAbortsAction(t *testing.T) {
	ctx := context.Background()
	db, store := setupTestStore(t)
	mutex := NewMutex(store, "human-input", 90*time.Millisecond, 10*time.Millisecond, logger.NewTestLogger())

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- mutex.WithHold(ctx, time.Second, func(ctx context.Context) error {
			close(started)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(2 * time.Second):
				return errors.New("action outlived its lease unaborted")
			}
		})
	}()

	// Displace the lease out from under the holder; the next renewal
	// must notice and abort the action.
	<-started
	res := db.Where("lock_key = ?", "human-input").Delete(&Lock{})
	require.NoError(t, res.Error)
	require.EqualValues(t, 1, res.RowsAffected)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrLockLost)
	case <-time.After(2 * time.Second):
		t.Fatal("hold never concluded after losing the lease")
	}
}

func TestHumanType(t *testing.T) {
	ctx := context.Background()

	t.Run("emits one keystroke per character", func(t *testing.T) {
		var sent []string
		send := func(keys string) error {
			sent = append(sent, keys)
			return nil
		}

		err := HumanType(ctx, send, "héllo", time.Millisecond, 2*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, []string{"h", "é", "l", "l", "o"}, sent)
	})

	t.Run("sender error aborts typing", func(t *testing.T) {
		wantErr := errors.New("send failed")
		count := 0
		send := func(keys string) error {
			count++
			if count == 3 {
				return wantErr
			}
			return nil
		}

		err := HumanType(ctx, send, "abcdef", time.Millisecond, time.Millisecond)
		assert.ErrorIs(t, err, wantErr)
		assert.Equal(t, 3, count)
	})

	t.Run("cancelled context aborts typing", func(t *testing.T) {
		cancelCtx, cancel := context.WithCancel(ctx)
		count := 0
		send := func(keys string) error {
			count++
			if count == 2 {
				cancel()
			}
			return nil
		}

		err := HumanType(cancelCtx, send, "abcdef", 5*time.Millisecond, 10*time.Millisecond)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Less(t, count, 6)
	})
}
