// Package lock serialises read-modify-write sequences on a cart. A Guard hands
// out exclusive, keyed locks; callers hold them only around store operations.
package lock

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrNoKeys is returned when Acquire is called without keys.
var ErrNoKeys = errors.New("lock: no keys to acquire")

// Guard acquires exclusive locks on a set of keys. Keys are always taken in
// sorted order, so two callers locking overlapping sets cannot deadlock. The
// returned release func is safe to call more than once.
type Guard interface {
	Acquire(ctx context.Context, keys ...string) (release func(), err error)
}

var (
	lockWaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cart_lock_wait_duration_seconds",
			Help:    "Time spent waiting to acquire cart locks",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"backend"},
	)

	lockAcquireFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cart_lock_acquire_failures_total",
			Help: "Total number of cart lock acquisitions abandoned because the context ended",
		},
		[]string{"backend"},
	)
)

// normalizeKeys returns the distinct keys in ascending order.
func normalizeKeys(keys []string) []string {
	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	return slices.Compact(sorted)
}

// releaseOnce wraps fn so repeated calls run it once.
func releaseOnce(fn func()) func() {
	var once sync.Once
	return func() { once.Do(fn) }
}
