package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/utafrali/cartorder/internal/domain"
	"github.com/utafrali/cartorder/internal/lock"
	apperrors "github.com/utafrali/cartorder/pkg/errors"
)

// publishTimeout bounds a single event publish once detached from the request.
const publishTimeout = 5 * time.Second

// EventPublisher publishes domain events. *event.Producer satisfies it.
type EventPublisher interface {
	PublishCartUpdated(ctx context.Context, snapshot *domain.CartSnapshot, action, itemID string, quantity int) error
	PublishOrderCreated(ctx context.Context, order *domain.Order) error
	PublishPaymentRecorded(ctx context.Context, payment *domain.Payment) error
}

var checkoutsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "checkouts_total",
		Help: "Total number of checkout attempts by final state and reason",
	},
	[]string{"state", "reason"},
)

// publishAsync runs fn on its own goroutine with a context that outlives the
// request. Failures are logged, never returned.
func publishAsync(ctx context.Context, logger *slog.Logger, eventType string, fn func(ctx context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		ctx, cancel := context.WithTimeout(ctx, publishTimeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			logger.ErrorContext(ctx, "failed to publish event",
				slog.String("event_type", eventType),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// lockIdentities acquires the guard for every identity, waiting at most wait.
func lockIdentities(ctx context.Context, guard lock.Guard, wait time.Duration, logger *slog.Logger, ids ...domain.CartIdentity) (func(), error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = id.Key()
	}

	lockCtx := ctx
	if wait > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}

	release, err := guard.Acquire(lockCtx, keys...)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.WarnContext(ctx, "cart lock not acquired",
			slog.Any("keys", keys),
			slog.String("error", err.Error()),
		)
		return nil, apperrors.ServiceUnavailable("cart is busy, please retry")
	}
	return release, nil
}

// catalogError maps a catalog failure other than a missing item.
func catalogError(err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperrors.ServiceUnavailable("catalog is unavailable, please retry")
}
