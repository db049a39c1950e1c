package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// CartIdentity
// ============================================================================

func TestResolveIdentity_UserWins(t *testing.T) {
	id, err := ResolveIdentity("u-1", "s-1")
	require.NoError(t, err)
	assert.Equal(t, UserIdentity("u-1"), id)
	assert.True(t, id.IsUser())
	assert.Equal(t, "user:u-1", id.Key())
}

func TestResolveIdentity_SessionFallback(t *testing.T) {
	id, err := ResolveIdentity("  ", "s-1")
	require.NoError(t, err)
	assert.Equal(t, SessionIdentity("s-1"), id)
	assert.False(t, id.IsUser())
	assert.Equal(t, "session:s-1", id.Key())
}

func TestResolveIdentity_Neither(t *testing.T) {
	_, err := ResolveIdentity("", "")
	assert.Error(t, err)
}

func TestCartIdentity_Validate(t *testing.T) {
	assert.NoError(t, UserIdentity("42").Validate())
	assert.Error(t, UserIdentity("").Validate())
	assert.Error(t, CartIdentity{Kind: "robot", ID: "1"}.Validate())
}

// ============================================================================
// Cart
// ============================================================================

func TestCart_ItemCountAndFindLine(t *testing.T) {
	c := &Cart{Lines: []CartLine{
		{ItemID: "1", Quantity: 2},
		{ItemID: "2", Quantity: 3},
	}}
	assert.Equal(t, 5, c.ItemCount())
	require.NotNil(t, c.FindLine("2"))
	assert.Equal(t, 3, c.FindLine("2").Quantity)
	assert.Nil(t, c.FindLine("9"))
}

func TestSameLines(t *testing.T) {
	a := []CartLine{{ItemID: "1", Quantity: 2}, {ItemID: "2", Quantity: 3}}
	b := []CartLine{{ItemID: "2", Quantity: 3}, {ItemID: "1", Quantity: 2}}

	assert.True(t, SameLines(a, b))
	assert.False(t, SameLines(a, b[:1]))
	assert.False(t, SameLines(a, []CartLine{{ItemID: "1", Quantity: 2}, {ItemID: "2", Quantity: 4}}))
	assert.False(t, SameLines(a, []CartLine{{ItemID: "1", Quantity: 2}, {ItemID: "3", Quantity: 3}}))
	assert.True(t, SameLines(nil, []CartLine{}))
}

// ============================================================================
// Order
// ============================================================================

func TestComputeSubtotal(t *testing.T) {
	lines := []OrderLine{
		{ItemID: "7", Quantity: 3, UnitPriceAtPurchase: 2499},
		{ItemID: "8", Quantity: 1, UnitPriceAtPurchase: 1},
	}
	assert.Equal(t, int64(7497), lines[0].LineTotal())
	assert.Equal(t, int64(7498), ComputeSubtotal(lines))
	assert.Equal(t, int64(0), ComputeSubtotal(nil))
}

// ============================================================================
// Payment
// ============================================================================

func TestIsValidPaymentMethod(t *testing.T) {
	for _, m := range PaymentMethods {
		assert.True(t, IsValidPaymentMethod(m), m)
	}
	assert.False(t, IsValidPaymentMethod("cash"))
	assert.False(t, IsValidPaymentMethod(""))
}

// ============================================================================
// Checkout state machine
// ============================================================================

func TestCheckoutState_Transitions(t *testing.T) {
	tests := []struct {
		from, to CheckoutState
		allowed  bool
	}{
		{CheckoutActive, CheckoutValidating, true},
		{CheckoutValidating, CheckoutAborted, true},
		{CheckoutValidating, CheckoutPriceSnapshotting, true},
		{CheckoutPriceSnapshotting, CheckoutMaterializing, true},
		{CheckoutMaterializing, CheckoutCommitted, true},
		{CheckoutMaterializing, CheckoutAborted, true},
		{CheckoutCommitted, CheckoutCartCleared, true},
		{CheckoutActive, CheckoutCommitted, false},
		{CheckoutCommitted, CheckoutAborted, false},
		{CheckoutAborted, CheckoutValidating, false},
		{CheckoutCartCleared, CheckoutActive, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}
