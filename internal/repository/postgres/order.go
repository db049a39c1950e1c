package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/cartorder/internal/domain"
	"github.com/utafrali/cartorder/internal/repository"
	"github.com/utafrali/cartorder/pkg/database"
	apperrors "github.com/utafrali/cartorder/pkg/errors"
)

// OrderRepository implements repository.OrderRepository using PostgreSQL.
type OrderRepository struct {
	pool database.DBTX
}

// NewOrderRepository creates a new PostgreSQL-backed order repository.
func NewOrderRepository(pool database.DBTX) *OrderRepository {
	return &OrderRepository{pool: pool}
}

var _ repository.OrderRepository = (*OrderRepository)(nil)

// GetByID retrieves an order by its ID, eagerly loading its lines.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	query := `
		SELECT o.id, o.user_id, o.cart_id, o.currency, o.subtotal, o.created_at,
			EXISTS (SELECT 1 FROM payments p WHERE p.order_id = o.id AND p.status = 'paid') AS paid
		FROM orders o
		WHERE o.id = $1`

	var o domain.Order
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&o.ID,
		&o.UserID,
		&o.CartID,
		&o.Currency,
		&o.Subtotal,
		&o.CreatedAt,
		&o.Paid,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("order", id)
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}

	linesQuery := `
		SELECT order_id, item_id, name, quantity, unit_price_at_purchase
		FROM order_lines
		WHERE order_id = $1
		ORDER BY item_id`

	rows, err := r.pool.Query(ctx, linesQuery, id)
	if err != nil {
		return nil, fmt.Errorf("load order lines: %w", err)
	}
	defer rows.Close()

	o.Lines = make([]domain.OrderLine, 0)
	for rows.Next() {
		var l domain.OrderLine
		if err := rows.Scan(&l.OrderID, &l.ItemID, &l.Name, &l.Quantity, &l.UnitPriceAtPurchase); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		o.Lines = append(o.Lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order lines: %w", err)
	}

	return &o, nil
}

// ListByUser returns a page of the user's orders, newest first, with the
// total count.
func (r *OrderRepository) ListByUser(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, int, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := max(filter.Offset, 0)

	// Use count(*) OVER() for total count in a single query.
	query := `
		SELECT o.id, o.user_id, o.cart_id, o.currency, o.subtotal, o.created_at,
			EXISTS (SELECT 1 FROM payments p WHERE p.order_id = o.id AND p.status = 'paid') AS paid,
			count(*) OVER() AS total_count
		FROM orders o
		WHERE o.user_id = $1
		ORDER BY o.created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.pool.Query(ctx, query, filter.UserID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var totalCount int
	orders := make([]domain.Order, 0)
	for rows.Next() {
		var o domain.Order
		if err := rows.Scan(
			&o.ID,
			&o.UserID,
			&o.CartID,
			&o.Currency,
			&o.Subtotal,
			&o.CreatedAt,
			&o.Paid,
			&totalCount,
		); err != nil {
			return nil, 0, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate order rows: %w", err)
	}

	return orders, totalCount, nil
}
