package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/utafrali/cartorder/internal/catalog"
	"github.com/utafrali/cartorder/internal/domain"
	"github.com/utafrali/cartorder/internal/event"
	"github.com/utafrali/cartorder/internal/lock"
	"github.com/utafrali/cartorder/internal/repository"
	apperrors "github.com/utafrali/cartorder/pkg/errors"
	"github.com/utafrali/cartorder/pkg/tracing"
)

var checkoutTracer = tracing.Tracer("cartorder/checkout")

// CheckoutService turns a cart into an order. The identity lock is held for
// the whole checkout, and the order write plus the cart clear happen in a
// single storage transaction.
type CheckoutService struct {
	stores   repository.CartStores
	guard    lock.Guard
	catalog  catalog.Lookup
	events   EventPublisher
	logger   *slog.Logger
	currency string
	lockWait time.Duration
	timeout  time.Duration
}

// NewCheckoutService creates a new checkout service. A zero timeout leaves the
// request context as the only bound.
func NewCheckoutService(
	stores repository.CartStores,
	guard lock.Guard,
	lookup catalog.Lookup,
	events EventPublisher,
	logger *slog.Logger,
	currency string,
	lockWait, timeout time.Duration,
) *CheckoutService {
	return &CheckoutService{
		stores:   stores,
		guard:    guard,
		catalog:  lookup,
		events:   events,
		logger:   logger,
		currency: currency,
		lockWait: lockWait,
		timeout:  timeout,
	}
}

// checkoutRun tracks the state of one checkout.
type checkoutRun struct {
	logger *slog.Logger
	span   trace.Span
	id     domain.CartIdentity
	state  domain.CheckoutState
}

func (r *checkoutRun) advance(ctx context.Context, next domain.CheckoutState) {
	if !r.state.CanTransitionTo(next) {
		r.logger.ErrorContext(ctx, "invalid checkout state transition",
			slog.String("cart", r.id.Key()),
			slog.String("from", string(r.state)),
			slog.String("to", string(next)),
		)
		return
	}
	r.logger.DebugContext(ctx, "checkout state changed",
		slog.String("cart", r.id.Key()),
		slog.String("from", string(r.state)),
		slog.String("to", string(next)),
	)
	r.span.AddEvent("checkout."+string(next))
	r.state = next
}

func (r *checkoutRun) abort(ctx context.Context, reason string, err error) error {
	r.advance(ctx, domain.CheckoutAborted)
	checkoutsTotal.WithLabelValues(string(domain.CheckoutAborted), reason).Inc()
	r.span.RecordError(err)
	r.span.SetStatus(codes.Error, reason)
	r.logger.WarnContext(ctx, "checkout aborted",
		slog.String("cart", r.id.Key()),
		slog.String("reason", reason),
		slog.String("error", err.Error()),
	)
	return err
}

// Checkout validates the cart of id against the catalog, captures current
// prices and writes the order. On any failure the cart is left unchanged.
func (s *CheckoutService) Checkout(ctx context.Context, id domain.CartIdentity) (*domain.CheckoutResult, error) {
	if err := id.Validate(); err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}

	ctx, span := checkoutTracer.Start(ctx, "checkout",
		trace.WithAttributes(attribute.String("cart.identity", id.Key())),
	)
	defer span.End()

	store, err := s.stores.For(id)
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	materializer, ok := store.(repository.OrderMaterializer)
	if !ok || !id.IsUser() {
		return nil, apperrors.InvalidInput("sign in to check out")
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	release, err := lockIdentities(ctx, s.guard, s.lockWait, s.logger, id)
	if err != nil {
		return nil, err
	}
	defer release()

	run := &checkoutRun{logger: s.logger, span: span, id: id, state: domain.CheckoutActive}
	run.advance(ctx, domain.CheckoutValidating)

	lines, err := store.Lines(ctx, id)
	if err != nil {
		return nil, run.abort(ctx, "read_cart", apperrors.Transaction(err))
	}
	if len(lines) == 0 {
		return nil, run.abort(ctx, "empty_cart", apperrors.EmptyCart())
	}

	items, missing, err := catalog.GetAll(ctx, s.catalog, lineItemIDs(lines))
	if err != nil {
		return nil, run.abort(ctx, "catalog", catalogError(err))
	}
	if len(missing) > 0 {
		return nil, run.abort(ctx, "missing_item", apperrors.MissingItem(missing))
	}

	run.advance(ctx, domain.CheckoutPriceSnapshotting)
	orderLines := make([]domain.OrderLine, len(lines))
	for i, l := range lines {
		item := items[l.ItemID]
		orderLines[i] = domain.OrderLine{
			ItemID:              l.ItemID,
			Name:                item.Name,
			Quantity:            l.Quantity,
			UnitPriceAtPurchase: item.Price,
		}
	}

	run.advance(ctx, domain.CheckoutMaterializing)
	order, err := materializer.Materialize(ctx, repository.MaterializeRequest{
		Identity: id,
		Expected: lines,
		Lines:    orderLines,
		Currency: s.currency,
	})
	if err != nil {
		if errors.Is(err, repository.ErrCartChanged) {
			return nil, run.abort(ctx, "cart_changed", apperrors.Conflict("cart changed during checkout, please retry"))
		}
		if ctx.Err() != nil {
			return nil, run.abort(ctx, "canceled", ctx.Err())
		}
		return nil, run.abort(ctx, "transaction", apperrors.Transaction(err))
	}

	// Materialize clears the cart lines in the same transaction.
	run.advance(ctx, domain.CheckoutCommitted)
	run.advance(ctx, domain.CheckoutCartCleared)
	release()

	checkoutsTotal.WithLabelValues(string(run.state), "").Inc()
	span.SetAttributes(attribute.String("order.id", order.ID))
	s.logger.InfoContext(ctx, "checkout completed",
		slog.String("cart", id.Key()),
		slog.String("order_id", order.ID),
		slog.Int64("subtotal", order.Subtotal),
		slog.Int("lines", len(order.Lines)),
	)

	publishAsync(ctx, s.logger, event.TopicOrderCreated, func(ctx context.Context) error {
		return s.events.PublishOrderCreated(ctx, order)
	})

	return &domain.CheckoutResult{
		OrderID:  order.ID,
		Subtotal: order.Subtotal,
		Currency: order.Currency,
		State:    run.state,
		Order:    order,
	}, nil
}
