package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/cartorder/internal/domain"
	"github.com/utafrali/cartorder/pkg/database"
	apperrors "github.com/utafrali/cartorder/pkg/errors"
)

// --- Test Helpers ---

func newTestOrderRepo(t *testing.T) (*OrderRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	return NewOrderRepository(mock), mock
}

var orderCols = []string{"id", "user_id", "cart_id", "currency", "subtotal", "created_at", "paid"}

// --- GetByID Tests ---

func TestOrderRepository_GetByID_Success(t *testing.T) {
	repo, mock := newTestOrderRepo(t)
	defer mock.ExpectationsWereMet()

	now := time.Now().UTC().Truncate(time.Microsecond)
	mock.ExpectQuery("SELECT .+ FROM orders o").
		WithArgs("order-1").
		WillReturnRows(pgxmock.NewRows(orderCols).
			AddRow("order-1", "42", "cart-1", "USD", int64(7497), now, true))
	mock.ExpectQuery("SELECT .+ FROM order_lines").
		WithArgs("order-1").
		WillReturnRows(pgxmock.NewRows([]string{"order_id", "item_id", "name", "quantity", "unit_price_at_purchase"}).
			AddRow("order-1", "7", "Desk Lamp", 3, int64(2499)))

	o, err := repo.GetByID(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, "42", o.UserID)
	assert.Equal(t, int64(7497), o.Subtotal)
	assert.True(t, o.Paid)
	require.Len(t, o.Lines, 1)
	assert.Equal(t, domain.OrderLine{
		OrderID: "order-1", ItemID: "7", Name: "Desk Lamp", Quantity: 3, UnitPriceAtPurchase: 2499,
	}, o.Lines[0])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_GetByID_NotFound(t *testing.T) {
	repo, mock := newTestOrderRepo(t)
	defer mock.ExpectationsWereMet()

	mock.ExpectQuery("SELECT .+ FROM orders o").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	o, err := repo.GetByID(context.Background(), "missing")
	assert.Nil(t, o)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound), "expected ErrNotFound, got: %v", err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// --- ListByUser Tests ---

func TestOrderRepository_ListByUser_Paginates(t *testing.T) {
	repo, mock := newTestOrderRepo(t)
	defer mock.ExpectationsWereMet()

	now := time.Now().UTC().Truncate(time.Microsecond)
	cols := append(append([]string{}, orderCols...), "total_count")
	mock.ExpectQuery("SELECT .+ FROM orders o").
		WithArgs("42", 2, 2).
		WillReturnRows(pgxmock.NewRows(cols).
			AddRow("order-3", "42", "cart-1", "USD", int64(100), now, false, 5).
			AddRow("order-2", "42", "cart-1", "USD", int64(200), now.Add(-time.Hour), true, 5))

	orders, total, err := repo.ListByUser(context.Background(), domain.OrderFilter{UserID: "42", Offset: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, orders, 2)
	assert.Equal(t, "order-3", orders[0].ID)
	assert.True(t, orders[1].Paid)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_ListByUser_DefaultLimit(t *testing.T) {
	repo, mock := newTestOrderRepo(t)
	defer mock.ExpectationsWereMet()

	cols := append(append([]string{}, orderCols...), "total_count")
	mock.ExpectQuery("SELECT .+ FROM orders o").
		WithArgs("42", 20, 0).
		WillReturnRows(pgxmock.NewRows(cols))

	orders, total, err := repo.ListByUser(context.Background(), domain.OrderFilter{UserID: "42"})
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, orders)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_ListByUser_QueryError(t *testing.T) {
	repo, mock := newTestOrderRepo(t)
	defer mock.ExpectationsWereMet()

	mock.ExpectQuery("SELECT .+ FROM orders o").
		WithArgs("42", 20, 0).
		WillReturnError(errors.New("connection refused"))

	_, _, err := repo.ListByUser(context.Background(), domain.OrderFilter{UserID: "42"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list orders")
	assert.NoError(t, mock.ExpectationsWereMet())
}
