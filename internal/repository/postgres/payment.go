package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/cartorder/internal/domain"
	"github.com/utafrali/cartorder/internal/repository"
	"github.com/utafrali/cartorder/pkg/database"
	apperrors "github.com/utafrali/cartorder/pkg/errors"
)

// onePaidPerOrder is the partial unique index on payments(order_id) WHERE
// status = 'paid'.
const onePaidPerOrder = "payments_one_paid_per_order"

const paymentColumns = `id, order_id, amount, currency, method, status, failure_reason, created_at, updated_at`

// rowQueryer is satisfied by both the pool and an open transaction.
type rowQueryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PaymentRepository implements repository.PaymentRepository using PostgreSQL.
type PaymentRepository struct {
	pool database.DBTX
}

// NewPaymentRepository creates a new PostgreSQL-backed payment repository.
func NewPaymentRepository(pool database.DBTX) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

var _ repository.PaymentRepository = (*PaymentRepository)(nil)

// Create inserts a new payment attempt.
func (r *PaymentRepository) Create(ctx context.Context, p *domain.Payment) error {
	query := `
		INSERT INTO payments (id, order_id, amount, currency, method, status, failure_reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.pool.Exec(ctx, query,
		p.ID,
		p.OrderID,
		p.Amount,
		p.Currency,
		p.Method,
		p.Status,
		p.FailureReason,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

// GetByID retrieves a payment by its ID.
func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	return getPayment(ctx, r.pool, id)
}

// ListByOrder returns every attempt for an order, oldest first.
func (r *PaymentRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE order_id = $1 ORDER BY created_at, id`

	rows, err := r.pool.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0)
	for rows.Next() {
		var p domain.Payment
		if err := scanPayment(rows, &p); err != nil {
			return nil, fmt.Errorf("scan payment row: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payment rows: %w", err)
	}
	return payments, nil
}

// FindPaid returns the paid payment of an order, or nil when there is none.
func (r *PaymentRepository) FindPaid(ctx context.Context, orderID string) (*domain.Payment, error) {
	return findPaid(ctx, r.pool, orderID)
}

// MarkPaid settles a pending payment. The order row is locked for the duration
// of the transaction so concurrent settlements of the same order serialise;
// the partial unique index catches anything that slips past the lock.
func (r *PaymentRepository) MarkPaid(ctx context.Context, paymentID string) (payment *domain.Payment, err error) {
	ctx, end := database.TraceQuery(ctx, "MarkPaymentPaid", "UPDATE payments SET status = 'paid'")
	defer func() { end(err) }()

	return r.markPaid(ctx, paymentID)
}

func (r *PaymentRepository) markPaid(ctx context.Context, paymentID string) (*domain.Payment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := lockPaymentOrder(ctx, tx, paymentID); err != nil {
		return nil, err
	}

	p, err := getPayment(ctx, tx, paymentID)
	if err != nil {
		return nil, err
	}

	switch p.Status {
	case domain.PaymentStatusPaid:
		return nil, apperrors.AlreadyPaid(p.OrderID, p)
	case domain.PaymentStatusFailed:
		return nil, apperrors.Conflict(fmt.Sprintf("payment %s has failed and cannot be marked paid", p.ID))
	}

	winner, err := findPaid(ctx, tx, p.OrderID)
	if err != nil {
		return nil, err
	}
	if winner != nil {
		return nil, apperrors.AlreadyPaid(p.OrderID, winner)
	}

	query := `
		UPDATE payments SET status = 'paid', updated_at = $2
		WHERE id = $1 AND status = 'pending'`

	now := time.Now().UTC()
	tag, err := tx.Exec(ctx, query, paymentID, now)
	if err != nil {
		if database.IsUniqueViolation(err, onePaidPerOrder) {
			_ = tx.Rollback(ctx)
			winner, findErr := findPaid(ctx, r.pool, p.OrderID)
			if findErr != nil {
				return nil, findErr
			}
			return nil, apperrors.AlreadyPaid(p.OrderID, winner)
		}
		return nil, fmt.Errorf("mark payment paid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, apperrors.Conflict(fmt.Sprintf("payment %s is no longer pending", p.ID))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	p.Status = domain.PaymentStatusPaid
	p.UpdatedAt = now
	return p, nil
}

// MarkFailed records a pending payment as failed. Failing an already failed
// payment is a no-op; failing a paid one is a conflict.
func (r *PaymentRepository) MarkFailed(ctx context.Context, paymentID, reason string) (*domain.Payment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := lockPaymentOrder(ctx, tx, paymentID); err != nil {
		return nil, err
	}

	p, err := getPayment(ctx, tx, paymentID)
	if err != nil {
		return nil, err
	}

	switch p.Status {
	case domain.PaymentStatusFailed:
		return p, nil
	case domain.PaymentStatusPaid:
		return nil, apperrors.Conflict(fmt.Sprintf("payment %s is already paid", p.ID))
	}

	query := `
		UPDATE payments SET status = 'failed', failure_reason = $2, updated_at = $3
		WHERE id = $1 AND status = 'pending'`

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, query, paymentID, reason, now); err != nil {
		return nil, fmt.Errorf("mark payment failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	p.Status = domain.PaymentStatusFailed
	p.FailureReason = reason
	p.UpdatedAt = now
	return p, nil
}

// lockPaymentOrder locks the order a payment belongs to and returns its ID.
func lockPaymentOrder(ctx context.Context, q rowQueryer, paymentID string) (string, error) {
	query := `
		SELECT o.id FROM orders o
		JOIN payments p ON p.order_id = o.id
		WHERE p.id = $1
		FOR UPDATE OF o`

	var orderID string
	if err := q.QueryRow(ctx, query, paymentID).Scan(&orderID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", apperrors.NotFound("payment", paymentID)
		}
		return "", fmt.Errorf("lock order: %w", err)
	}
	return orderID, nil
}

func getPayment(ctx context.Context, q rowQueryer, id string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`

	var p domain.Payment
	if err := scanPayment(q.QueryRow(ctx, query, id), &p); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("payment", id)
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return &p, nil
}

func findPaid(ctx context.Context, q rowQueryer, orderID string) (*domain.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE order_id = $1 AND status = 'paid'`

	var p domain.Payment
	if err := scanPayment(q.QueryRow(ctx, query, orderID), &p); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find paid payment: %w", err)
	}
	return &p, nil
}

func scanPayment(row pgx.Row, p *domain.Payment) error {
	return row.Scan(
		&p.ID,
		&p.OrderID,
		&p.Amount,
		&p.Currency,
		&p.Method,
		&p.Status,
		&p.FailureReason,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
}
