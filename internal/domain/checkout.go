package domain

// CheckoutState is a step of the checkout state machine:
//
//	Active -> Validating -> (Aborted | PriceSnapshotting) -> Materializing -> Committed -> CartCleared
type CheckoutState string

const (
	CheckoutActive            CheckoutState = "active"
	CheckoutValidating        CheckoutState = "validating"
	CheckoutAborted           CheckoutState = "aborted"
	CheckoutPriceSnapshotting CheckoutState = "price_snapshotting"
	CheckoutMaterializing     CheckoutState = "materializing"
	CheckoutCommitted         CheckoutState = "committed"
	CheckoutCartCleared       CheckoutState = "cart_cleared"
)

var checkoutTransitions = map[CheckoutState][]CheckoutState{
	CheckoutActive:            {CheckoutValidating},
	CheckoutValidating:        {CheckoutAborted, CheckoutPriceSnapshotting},
	CheckoutPriceSnapshotting: {CheckoutMaterializing, CheckoutAborted},
	CheckoutMaterializing:     {CheckoutCommitted, CheckoutAborted},
	CheckoutCommitted:         {CheckoutCartCleared},
	CheckoutAborted:           {},
	CheckoutCartCleared:       {},
}

// CanTransitionTo checks if the checkout may move to the target state.
func (s CheckoutState) CanTransitionTo(target CheckoutState) bool {
	for _, next := range checkoutTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// CheckoutResult is returned by a successful checkout.
type CheckoutResult struct {
	OrderID  string        `json:"order_id"`
	Subtotal int64         `json:"subtotal"`
	Currency string        `json:"currency"`
	State    CheckoutState `json:"state"`
	Order    *Order        `json:"order,omitempty"`
}
