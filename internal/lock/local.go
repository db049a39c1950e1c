package lock

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// slot is a one-token semaphore shared by every waiter on a key.
type slot struct {
	ch   chan struct{}
	refs int
}

// Local is an in-process Guard. Slots are reference counted and dropped as
// soon as nobody holds or waits for the key.
type Local struct {
	mu    sync.Mutex
	slots map[string]*slot
}

// NewLocal creates an in-process guard.
func NewLocal() *Local {
	return &Local{slots: make(map[string]*slot)}
}

var _ Guard = (*Local)(nil)

// Acquire locks every key or none. It waits until the keys are free or ctx is
// done.
func (l *Local) Acquire(ctx context.Context, keys ...string) (func(), error) {
	keys = normalizeKeys(keys)
	if len(keys) == 0 {
		return nil, ErrNoKeys
	}

	start := time.Now()
	held := make([]string, 0, len(keys))
	for _, key := range keys {
		if err := l.lock(ctx, key); err != nil {
			l.unlockAll(held)
			lockAcquireFailures.WithLabelValues("local").Inc()
			return nil, err
		}
		held = append(held, key)
	}
	lockWaitDuration.WithLabelValues("local").Observe(time.Since(start).Seconds())

	return releaseOnce(func() { l.unlockAll(held) }), nil
}

func (l *Local) lock(ctx context.Context, key string) error {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.mu.Lock()
		l.deref(key, s)
		l.mu.Unlock()
		return fmt.Errorf("acquire lock %s: %w", key, ctx.Err())
	}
}

func (l *Local) unlockAll(keys []string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := len(keys) - 1; i >= 0; i-- {
		s := l.slots[keys[i]]
		<-s.ch
		l.deref(keys[i], s)
	}
}

// deref must be called with l.mu held.
func (l *Local) deref(key string, s *slot) {
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// size returns the number of live slots.
func (l *Local) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}
