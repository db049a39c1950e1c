package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/utafrali/cartorder/internal/domain"
	"github.com/utafrali/cartorder/internal/repository"
	"github.com/utafrali/cartorder/pkg/database"
	apperrors "github.com/utafrali/cartorder/pkg/errors"
)

// queryer is satisfied by both the pool and an open transaction.
type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// orderLineColumns is the column list used to bulk copy captured order lines.
var orderLineColumns = []string{"order_id", "item_id", "name", "quantity", "unit_price_at_purchase"}

// CartStore implements repository.CartStore and repository.OrderMaterializer
// for authenticated users on PostgreSQL.
type CartStore struct {
	pool database.DBTX
}

// NewCartStore creates a new PostgreSQL-backed cart store.
func NewCartStore(pool database.DBTX) *CartStore {
	return &CartStore{pool: pool}
}

var (
	_ repository.CartStore         = (*CartStore)(nil)
	_ repository.OrderMaterializer = (*CartStore)(nil)
)

func requireUser(id domain.CartIdentity) error {
	if !id.IsUser() {
		return fmt.Errorf("persistent cart store holds user carts only, got %s", id)
	}
	return nil
}

// Resolve returns the user's cart, creating it on first use. Concurrent
// callers converge on the same row through the unique user_id constraint.
func (s *CartStore) Resolve(ctx context.Context, id domain.CartIdentity) (*domain.Cart, error) {
	if err := requireUser(id); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO carts (id, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING id, created_at, updated_at`

	cart := &domain.Cart{Identity: id}
	err := s.pool.QueryRow(ctx, query, uuid.New().String(), id.ID, time.Now().UTC()).
		Scan(&cart.ID, &cart.CreatedAt, &cart.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("resolve cart: %w", err)
	}

	cart.Lines, err = loadLines(ctx, s.pool, cart.ID)
	if err != nil {
		return nil, err
	}
	return cart, nil
}

// Get returns the user's cart with its lines.
func (s *CartStore) Get(ctx context.Context, id domain.CartIdentity) (*domain.Cart, error) {
	if err := requireUser(id); err != nil {
		return nil, err
	}

	query := `SELECT id, created_at, updated_at FROM carts WHERE user_id = $1`

	cart := &domain.Cart{Identity: id}
	err := s.pool.QueryRow(ctx, query, id.ID).Scan(&cart.ID, &cart.CreatedAt, &cart.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("cart", id.Key())
		}
		return nil, fmt.Errorf("get cart: %w", err)
	}

	cart.Lines, err = loadLines(ctx, s.pool, cart.ID)
	if err != nil {
		return nil, err
	}
	return cart, nil
}

// Lines returns the user's cart lines in the order they were added.
func (s *CartStore) Lines(ctx context.Context, id domain.CartIdentity) ([]domain.CartLine, error) {
	if err := requireUser(id); err != nil {
		return nil, err
	}

	query := `
		SELECT l.cart_id, l.item_id, l.quantity
		FROM cart_lines l
		JOIN carts c ON c.id = l.cart_id
		WHERE c.user_id = $1
		ORDER BY l.added_at, l.item_id`

	rows, err := s.pool.Query(ctx, query, id.ID)
	if err != nil {
		return nil, fmt.Errorf("list cart lines: %w", err)
	}
	return scanLines(rows)
}

// UpsertLine applies qty to a line in a single statement, so the arithmetic
// happens inside the database.
func (s *CartStore) UpsertLine(ctx context.Context, id domain.CartIdentity, itemID string, qty int, mode domain.UpsertMode) (int, error) {
	if err := requireUser(id); err != nil {
		return 0, err
	}

	switch {
	case mode == domain.UpsertAbsolute && qty <= 0:
		if _, err := s.RemoveLine(ctx, id, itemID); err != nil {
			return 0, err
		}
		return 0, nil
	case mode == domain.UpsertAbsolute:
		return s.insertLine(ctx, id, itemID, qty, "EXCLUDED.quantity")
	case qty > 0:
		return s.insertLine(ctx, id, itemID, qty, "cart_lines.quantity + EXCLUDED.quantity")
	case qty < 0:
		return s.decrementLine(ctx, id, itemID, qty)
	default:
		return s.lineQuantity(ctx, id, itemID)
	}
}

func (s *CartStore) insertLine(ctx context.Context, id domain.CartIdentity, itemID string, qty int, onConflict string) (int, error) {
	query := fmt.Sprintf(`
		WITH cart AS (
			INSERT INTO carts (id, user_id, created_at, updated_at)
			VALUES ($1, $2, NOW(), NOW())
			ON CONFLICT (user_id) DO UPDATE SET updated_at = NOW()
			RETURNING id
		)
		INSERT INTO cart_lines (cart_id, item_id, quantity)
		SELECT id, $3, $4 FROM cart
		ON CONFLICT (cart_id, item_id) DO UPDATE SET quantity = %s
		RETURNING quantity`, onConflict)

	var quantity int
	if err := s.pool.QueryRow(ctx, query, uuid.New().String(), id.ID, itemID, qty).Scan(&quantity); err != nil {
		return 0, fmt.Errorf("upsert cart line: %w", err)
	}
	return quantity, nil
}

// decrementLine lowers a quantity, deleting the line once it reaches zero.
// A missing line yields 0.
func (s *CartStore) decrementLine(ctx context.Context, id domain.CartIdentity, itemID string, qty int) (int, error) {
	query := `
		WITH updated AS (
			UPDATE cart_lines l SET quantity = l.quantity + $3
			FROM carts c
			WHERE c.id = l.cart_id AND c.user_id = $1 AND l.item_id = $2 AND l.quantity + $3 > 0
			RETURNING l.quantity
		), deleted AS (
			DELETE FROM cart_lines l USING carts c
			WHERE c.id = l.cart_id AND c.user_id = $1 AND l.item_id = $2 AND l.quantity + $3 <= 0
			RETURNING 0 AS quantity
		)
		SELECT quantity FROM updated
		UNION ALL
		SELECT quantity FROM deleted`

	var quantity int
	err := s.pool.QueryRow(ctx, query, id.ID, itemID, qty).Scan(&quantity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("decrement cart line: %w", err)
	}
	return quantity, nil
}

func (s *CartStore) lineQuantity(ctx context.Context, id domain.CartIdentity, itemID string) (int, error) {
	query := `
		SELECT l.quantity
		FROM cart_lines l
		JOIN carts c ON c.id = l.cart_id
		WHERE c.user_id = $1 AND l.item_id = $2`

	var quantity int
	err := s.pool.QueryRow(ctx, query, id.ID, itemID).Scan(&quantity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("get cart line: %w", err)
	}
	return quantity, nil
}

// RemoveLine deletes a line and reports whether it existed.
func (s *CartStore) RemoveLine(ctx context.Context, id domain.CartIdentity, itemID string) (bool, error) {
	if err := requireUser(id); err != nil {
		return false, err
	}

	query := `
		DELETE FROM cart_lines l USING carts c
		WHERE c.id = l.cart_id AND c.user_id = $1 AND l.item_id = $2`

	tag, err := s.pool.Exec(ctx, query, id.ID, itemID)
	if err != nil {
		return false, fmt.Errorf("remove cart line: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Clear deletes every line of the user's cart.
func (s *CartStore) Clear(ctx context.Context, id domain.CartIdentity) error {
	if err := requireUser(id); err != nil {
		return err
	}

	query := `
		DELETE FROM cart_lines l USING carts c
		WHERE c.id = l.cart_id AND c.user_id = $1`

	if _, err := s.pool.Exec(ctx, query, id.ID); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

// materializeAttempts bounds retries of a transaction aborted by a
// serialization failure or deadlock.
const materializeAttempts = 2

// Materialize writes the order and its lines and empties the cart in one
// transaction. The cart row is locked first, so a concurrent mutation either
// finishes before the lines are compared or waits for the commit.
func (s *CartStore) Materialize(ctx context.Context, req repository.MaterializeRequest) (order *domain.Order, err error) {
	ctx, end := database.TraceQuery(ctx, "MaterializeOrder", "INSERT INTO orders; COPY order_lines; DELETE FROM cart_lines")
	defer func() { end(err) }()

	for attempt := 1; ; attempt++ {
		order, err = s.materialize(ctx, req)
		if err == nil || attempt == materializeAttempts || !database.IsRetryableTxError(err) || ctx.Err() != nil {
			return order, err
		}
	}
}

func (s *CartStore) materialize(ctx context.Context, req repository.MaterializeRequest) (*domain.Order, error) {
	if err := requireUser(req.Identity); err != nil {
		return nil, err
	}
	if len(req.Lines) == 0 {
		return nil, fmt.Errorf("materialize order: no lines")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var cartID string
	err = tx.QueryRow(ctx, `SELECT id FROM carts WHERE user_id = $1 FOR UPDATE`, req.Identity.ID).Scan(&cartID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrCartChanged
		}
		return nil, fmt.Errorf("lock cart: %w", err)
	}

	current, err := loadLines(ctx, tx, cartID)
	if err != nil {
		return nil, err
	}
	if !domain.SameLines(req.Expected, current) {
		return nil, repository.ErrCartChanged
	}

	order := &domain.Order{
		ID:        uuid.New().String(),
		UserID:    req.Identity.ID,
		CartID:    cartID,
		Currency:  req.Currency,
		Lines:     make([]domain.OrderLine, len(req.Lines)),
		CreatedAt: time.Now().UTC(),
	}

	orderQuery := `
		INSERT INTO orders (id, user_id, cart_id, currency, subtotal, created_at)
		VALUES ($1, $2, $3, $4, 0, $5)`

	if _, err := tx.Exec(ctx, orderQuery, order.ID, order.UserID, order.CartID, order.Currency, order.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}

	rows := make([][]any, len(req.Lines))
	for i, line := range req.Lines {
		line.OrderID = order.ID
		order.Lines[i] = line
		rows[i] = []any{line.OrderID, line.ItemID, line.Name, line.Quantity, line.UnitPriceAtPurchase}
	}

	copied, err := tx.CopyFrom(ctx, pgx.Identifier{"order_lines"}, orderLineColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return nil, fmt.Errorf("copy order lines: %w", err)
	}
	if copied != int64(len(rows)) {
		return nil, fmt.Errorf("copy order lines: wrote %d of %d rows", copied, len(rows))
	}

	subtotalQuery := `
		UPDATE orders SET subtotal = (
			SELECT COALESCE(SUM(quantity * unit_price_at_purchase), 0)::BIGINT
			FROM order_lines WHERE order_id = $1
		)
		WHERE id = $1
		RETURNING subtotal`

	if err := tx.QueryRow(ctx, subtotalQuery, order.ID).Scan(&order.Subtotal); err != nil {
		return nil, fmt.Errorf("compute order subtotal: %w", err)
	}
	if want := domain.ComputeSubtotal(order.Lines); order.Subtotal != want {
		return nil, fmt.Errorf("%w: stored %d, computed %d", repository.ErrSubtotalMismatch, order.Subtotal, want)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM cart_lines WHERE cart_id = $1`, cartID); err != nil {
		return nil, fmt.Errorf("clear cart lines: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return order, nil
}

func loadLines(ctx context.Context, q queryer, cartID string) ([]domain.CartLine, error) {
	query := `
		SELECT cart_id, item_id, quantity
		FROM cart_lines
		WHERE cart_id = $1
		ORDER BY added_at, item_id`

	rows, err := q.Query(ctx, query, cartID)
	if err != nil {
		return nil, fmt.Errorf("load cart lines: %w", err)
	}
	return scanLines(rows)
}

func scanLines(rows pgx.Rows) ([]domain.CartLine, error) {
	defer rows.Close()

	lines := make([]domain.CartLine, 0)
	for rows.Next() {
		var l domain.CartLine
		if err := rows.Scan(&l.CartID, &l.ItemID, &l.Quantity); err != nil {
			return nil, fmt.Errorf("scan cart line: %w", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart lines: %w", err)
	}
	return lines, nil
}
