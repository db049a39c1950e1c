package lock

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "lock:"
	minPoll        = 5 * time.Millisecond
	maxPoll        = 100 * time.Millisecond
	releaseTimeout = 2 * time.Second
)

// unlockScript deletes the key only if it still holds our token.
var unlockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// Redis is a Guard shared by every replica. Each key is a SET NX PX entry
// holding a random token; the TTL bounds how long a crashed holder can block
// others.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a Redis-backed guard whose locks expire after ttl.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

var _ Guard = (*Redis)(nil)

type heldKey struct {
	key   string
	token string
}

// Acquire locks every key or none, polling with jittered backoff until the
// keys are free or ctx is done.
func (r *Redis) Acquire(ctx context.Context, keys ...string) (func(), error) {
	keys = normalizeKeys(keys)
	if len(keys) == 0 {
		return nil, ErrNoKeys
	}

	start := time.Now()
	held := make([]heldKey, 0, len(keys))
	for _, key := range keys {
		h, err := r.lock(ctx, key)
		if err != nil {
			r.unlockAll(held)
			lockAcquireFailures.WithLabelValues("redis").Inc()
			return nil, err
		}
		held = append(held, h)
	}
	lockWaitDuration.WithLabelValues("redis").Observe(time.Since(start).Seconds())

	return releaseOnce(func() { r.unlockAll(held) }), nil
}

func (r *Redis) lock(ctx context.Context, key string) (heldKey, error) {
	h := heldKey{key: redisKeyPrefix + key, token: uuid.New().String()}

	wait := minPoll
	for {
		ok, err := r.client.SetNX(ctx, h.key, h.token, r.ttl).Result()
		if err != nil {
			return heldKey{}, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return h, nil
		}

		timer := time.NewTimer(jitter(wait))
		select {
		case <-ctx.Done():
			timer.Stop()
			return heldKey{}, fmt.Errorf("acquire lock %s: %w", key, ctx.Err())
		case <-timer.C:
		}
		wait = min(wait*2, maxPoll)
	}
}

// unlockAll runs on a fresh context so locks are released even when the
// request context is already cancelled.
func (r *Redis) unlockAll(held []heldKey) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	for i := len(held) - 1; i >= 0; i-- {
		// A failed release expires on its own after the TTL.
		_ = unlockScript.Run(ctx, r.client, []string{held[i].key}, held[i].token).Err()
	}
}

// jitter returns d adjusted by up to +/-50%.
func jitter(d time.Duration) time.Duration {
	return d/2 + rand.N(d)
}
