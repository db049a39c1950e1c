package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/cartorder/internal/domain"
	apperrors "github.com/utafrali/cartorder/pkg/errors"
)

// placeOrder checks out a cart holding three #7 lamps.
func placeOrder(t *testing.T, env *testEnv) *domain.CheckoutResult {
	t.Helper()
	ctx := context.Background()
	_, err := env.carts.AddItem(ctx, alice, "7", 3)
	require.NoError(t, err)
	result, err := env.checkout.Checkout(ctx, alice)
	require.NoError(t, err)
	return result
}

// --- RecordAttempt ---

func TestRecordAttempt_CreatesPending(t *testing.T) {
	env := newTestEnv()
	order := placeOrder(t, env)

	payment, err := env.payment.RecordAttempt(context.Background(), RecordAttemptInput{
		UserID:  alice.ID,
		OrderID: order.OrderID,
		Amount:  order.Subtotal,
		Method:  domain.PaymentMethodCreditCard,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, payment.ID)
	assert.Equal(t, domain.PaymentStatusPending, payment.Status)
	assert.Equal(t, "USD", payment.Currency)
	assert.Equal(t, int64(7497), payment.Amount)

	assert.Eventually(t, func() bool {
		return env.publisher.count("payment.pending") == 1
	}, time.Second, 10*time.Millisecond)
}

func TestRecordAttempt_Validation(t *testing.T) {
	env := newTestEnv()
	order := placeOrder(t, env)
	ctx := context.Background()

	tests := []struct {
		name  string
		input RecordAttemptInput
		code  string
	}{
		{"zero amount", RecordAttemptInput{UserID: alice.ID, OrderID: order.OrderID, Amount: 0, Method: "wallet"}, "INVALID_INPUT"},
		{"unknown method", RecordAttemptInput{UserID: alice.ID, OrderID: order.OrderID, Amount: 10, Method: "cash"}, "INVALID_INPUT"},
		{"unknown order", RecordAttemptInput{UserID: alice.ID, OrderID: "missing", Amount: 10, Method: "wallet"}, "NOT_FOUND"},
		{"not owner", RecordAttemptInput{UserID: "mallory", OrderID: order.OrderID, Amount: 10, Method: "wallet"}, "NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.payment.RecordAttempt(ctx, tt.input)
			requireAppError(t, err, tt.code)
		})
	}
}

func TestRecordAttempt_AlreadyPaid(t *testing.T) {
	env := newTestEnv()
	order := placeOrder(t, env)
	ctx := context.Background()

	first, err := env.payment.RecordAttempt(ctx, RecordAttemptInput{UserID: alice.ID, OrderID: order.OrderID, Amount: 7497, Method: "wallet"})
	require.NoError(t, err)
	_, err = env.payment.MarkPaid(ctx, alice.ID, first.ID)
	require.NoError(t, err)

	_, err = env.payment.RecordAttempt(ctx, RecordAttemptInput{UserID: alice.ID, OrderID: order.OrderID, Amount: 7497, Method: "wallet"})
	appErr := requireAppError(t, err, "ALREADY_PAID")
	winner, ok := appErr.Details.(*domain.Payment)
	require.True(t, ok)
	assert.Equal(t, first.ID, winner.ID)
}

// --- MarkPaid / MarkFailed ---

func TestMarkPaid_ConcurrentAttemptsOnlyOneWins(t *testing.T) {
	env := newTestEnv()
	order := placeOrder(t, env)
	ctx := context.Background()

	const attempts = 8
	ids := make([]string, attempts)
	for i := range ids {
		p, err := env.payment.RecordAttempt(ctx, RecordAttemptInput{UserID: alice.ID, OrderID: order.OrderID, Amount: 7497, Method: "debit_card"})
		require.NoError(t, err)
		ids[i] = p.ID
	}

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		paid       int
		alreadyErr int
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := env.payment.MarkPaid(ctx, alice.ID, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				paid++
			case errors.Is(err, apperrors.ErrAlreadyPaid):
				alreadyErr++
			default:
				assert.NoError(t, err)
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, paid)
	assert.Equal(t, attempts-1, alreadyErr)

	payments, err := env.payment.ListPayments(ctx, alice.ID, order.OrderID)
	require.NoError(t, err)
	var settled int
	for _, p := range payments {
		if p.IsPaid() {
			settled++
		}
	}
	assert.Equal(t, 1, settled)
}

func TestMarkPaid_SamePaymentTwiceIsAlreadyPaid(t *testing.T) {
	env := newTestEnv()
	order := placeOrder(t, env)
	ctx := context.Background()

	p, err := env.payment.RecordAttempt(ctx, RecordAttemptInput{UserID: alice.ID, OrderID: order.OrderID, Amount: 7497, Method: "wallet"})
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		errs = make([]error, 2)
	)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.payment.MarkPaid(ctx, alice.ID, p.ID)
		}(i)
	}
	wg.Wait()

	var succeeded int
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		appErr := requireAppError(t, err, "ALREADY_PAID")
		winner, ok := appErr.Details.(*domain.Payment)
		require.True(t, ok)
		assert.Equal(t, p.ID, winner.ID)
	}
	assert.Equal(t, 1, succeeded)

	_, err = env.payment.MarkPaid(ctx, alice.ID, p.ID)
	requireAppError(t, err, "ALREADY_PAID")
}

func TestMarkFailed(t *testing.T) {
	env := newTestEnv()
	order := placeOrder(t, env)
	ctx := context.Background()

	p, err := env.payment.RecordAttempt(ctx, RecordAttemptInput{UserID: alice.ID, OrderID: order.OrderID, Amount: 7497, Method: "wallet"})
	require.NoError(t, err)

	failed, err := env.payment.MarkFailed(ctx, alice.ID, p.ID, "card declined")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusFailed, failed.Status)
	assert.Equal(t, "card declined", failed.FailureReason)

	_, err = env.payment.MarkPaid(ctx, alice.ID, p.ID)
	requireAppError(t, err, "CONFLICT")
}

func TestMarkFailed_PaidIsConflict(t *testing.T) {
	env := newTestEnv()
	order := placeOrder(t, env)
	ctx := context.Background()

	p, err := env.payment.RecordAttempt(ctx, RecordAttemptInput{UserID: alice.ID, OrderID: order.OrderID, Amount: 7497, Method: "wallet"})
	require.NoError(t, err)
	_, err = env.payment.MarkPaid(ctx, alice.ID, p.ID)
	require.NoError(t, err)

	_, err = env.payment.MarkFailed(ctx, alice.ID, p.ID, "too late")
	requireAppError(t, err, "CONFLICT")
}

func TestPayment_NonOwnerCannotSee(t *testing.T) {
	env := newTestEnv()
	order := placeOrder(t, env)
	ctx := context.Background()

	p, err := env.payment.RecordAttempt(ctx, RecordAttemptInput{UserID: alice.ID, OrderID: order.OrderID, Amount: 7497, Method: "wallet"})
	require.NoError(t, err)

	_, err = env.payment.GetPayment(ctx, "mallory", p.ID)
	requireAppError(t, err, "NOT_FOUND")
	_, err = env.payment.MarkPaid(ctx, "mallory", p.ID)
	requireAppError(t, err, "NOT_FOUND")
	_, err = env.payment.ListPayments(ctx, "mallory", order.OrderID)
	requireAppError(t, err, "NOT_FOUND")

	got, err := env.payment.GetPayment(ctx, alice.ID, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPending, got.Status)
}
