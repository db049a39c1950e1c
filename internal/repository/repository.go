package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/utafrali/cartorder/internal/domain"
)

// Errors returned by OrderMaterializer implementations. Both leave the cart
// and the order tables untouched.
var (
	// ErrCartChanged means the cart lines differ from the ones the caller priced.
	ErrCartChanged = errors.New("cart changed since it was read")
	// ErrSubtotalMismatch means the stored order subtotal disagrees with the
	// subtotal computed from the captured prices.
	ErrSubtotalMismatch = errors.New("order subtotal mismatch")
)

// CartStore persists the single active cart of an identity. All mutations are
// atomic on the storage side; callers serialise read-modify-write sequences
// with a lock.Guard.
type CartStore interface {
	// Resolve returns the cart of id, creating an empty one if none exists.
	Resolve(ctx context.Context, id domain.CartIdentity) (*domain.Cart, error)

	// Get returns the cart of id with its lines, or a NotFound error when the
	// identity has no cart yet.
	Get(ctx context.Context, id domain.CartIdentity) (*domain.Cart, error)

	// Lines returns the lines of the cart of id; empty when there is no cart.
	Lines(ctx context.Context, id domain.CartIdentity) ([]domain.CartLine, error)

	// UpsertLine applies qty to the line for itemID according to mode and
	// returns the resulting quantity. A result of 0 means the line was removed.
	// The cart is created if needed.
	UpsertLine(ctx context.Context, id domain.CartIdentity, itemID string, qty int, mode domain.UpsertMode) (int, error)

	// RemoveLine deletes the line for itemID and reports whether it existed.
	RemoveLine(ctx context.Context, id domain.CartIdentity, itemID string) (bool, error)

	// Clear deletes every line of the cart of id. The cart itself survives.
	Clear(ctx context.Context, id domain.CartIdentity) error
}

// MaterializeRequest describes an order to be written from a cart.
type MaterializeRequest struct {
	Identity domain.CartIdentity
	// Expected are the cart lines the order was priced from. The store
	// rejects the request with ErrCartChanged if the cart no longer matches.
	Expected []domain.CartLine
	// Lines carry the captured unit prices, one per expected line.
	Lines    []domain.OrderLine
	Currency string
}

// OrderMaterializer is implemented by cart stores that can turn a cart into an
// order in one transaction: the order and its lines are written and the cart
// is emptied, or nothing changes.
type OrderMaterializer interface {
	Materialize(ctx context.Context, req MaterializeRequest) (*domain.Order, error)
}

// OrderRepository reads orders written by an OrderMaterializer.
type OrderRepository interface {
	// GetByID returns the order with its lines. Paid is derived from the
	// payment ledger.
	GetByID(ctx context.Context, id string) (*domain.Order, error)

	// ListByUser returns a page of the user's orders, newest first, without
	// lines, plus the total count.
	ListByUser(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, int, error)
}

// PaymentRepository persists payment attempts and enforces that an order is
// paid at most once.
type PaymentRepository interface {
	// Create stores a new pending payment.
	Create(ctx context.Context, payment *domain.Payment) error

	// GetByID returns a payment or a NotFound error.
	GetByID(ctx context.Context, id string) (*domain.Payment, error)

	// ListByOrder returns every attempt for an order, oldest first.
	ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error)

	// FindPaid returns the paid payment of an order, or nil when there is none.
	FindPaid(ctx context.Context, orderID string) (*domain.Payment, error)

	// MarkPaid settles a pending payment. If the order is already paid, by this
	// payment or another, it returns an AlreadyPaid error carrying that payment.
	MarkPaid(ctx context.Context, paymentID string) (*domain.Payment, error)

	// MarkFailed records a pending payment as failed with the given reason.
	MarkFailed(ctx context.Context, paymentID, reason string) (*domain.Payment, error)
}

// CartStores selects the cart store for an identity: anonymous sessions live
// in the session store, users in the persistent store.
type CartStores struct {
	Session    CartStore
	Persistent CartStore
}

// For returns the store that holds carts of id.
func (s CartStores) For(id domain.CartIdentity) (CartStore, error) {
	switch id.Kind {
	case domain.IdentityUser:
		if s.Persistent == nil {
			return nil, fmt.Errorf("no persistent cart store configured")
		}
		return s.Persistent, nil
	case domain.IdentitySession:
		if s.Session == nil {
			return nil, fmt.Errorf("no session cart store configured")
		}
		return s.Session, nil
	default:
		return nil, fmt.Errorf("unknown identity kind %q", id.Kind)
	}
}
