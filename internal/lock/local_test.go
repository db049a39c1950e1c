package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_SerialisesSameKey(t *testing.T) {
	guard := NewLocal()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		counter int
		active  int
		maxSeen int
		mu      sync.Mutex
	)

	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := guard.Acquire(ctx, "user:42")
			if !assert.NoError(t, err) {
				return
			}
			defer release()

			mu.Lock()
			active++
			maxSeen = max(maxSeen, active)
			mu.Unlock()

			// Unsynchronised read-modify-write, protected only by the guard.
			v := counter
			time.Sleep(100 * time.Microsecond)
			counter = v + 1

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
	assert.Equal(t, 1, maxSeen)
	assert.Equal(t, 0, guard.size(), "slots should be dropped once released")
}

func TestLocal_DifferentKeysDoNotContend(t *testing.T) {
	guard := NewLocal()
	ctx := context.Background()

	release, err := guard.Acquire(ctx, "session:a")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()

	other, err := guard.Acquire(ctx, "session:b")
	require.NoError(t, err)
	other()
}

func TestLocal_ContextCancelledWhileWaiting(t *testing.T) {
	guard := NewLocal()

	release, err := guard.Acquire(context.Background(), "user:42")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = guard.Acquire(ctx, "user:42")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	assert.Equal(t, 0, guard.size())
}

func TestLocal_MultiKeyAllOrNothing(t *testing.T) {
	guard := NewLocal()

	held, err := guard.Acquire(context.Background(), "user:42")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// session:abc sorts first and is taken, then user:42 blocks; the partial
	// acquisition must be rolled back.
	_, err = guard.Acquire(ctx, "user:42", "session:abc")
	require.Error(t, err)

	free, err := guard.Acquire(context.Background(), "session:abc")
	require.NoError(t, err)
	free()
	held()
}

func TestLocal_OpposingOrderDoesNotDeadlock(t *testing.T) {
	guard := NewLocal()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			keys := []string{"session:abc", "user:42"}
			if i%2 == 0 {
				keys = []string{"user:42", "session:abc"}
			}
			release, err := guard.Acquire(ctx, keys...)
			if assert.NoError(t, err) {
				release()
			}
		}()
	}
	wg.Wait()
}

func TestLocal_ReleaseIsIdempotent(t *testing.T) {
	guard := NewLocal()

	release, err := guard.Acquire(context.Background(), "user:42", "user:42")
	require.NoError(t, err)
	release()
	release()

	again, err := guard.Acquire(context.Background(), "user:42")
	require.NoError(t, err)
	again()
}

func TestLocal_NoKeys(t *testing.T) {
	_, err := NewLocal().Acquire(context.Background())
	assert.ErrorIs(t, err, ErrNoKeys)
}
