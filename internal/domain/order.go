package domain

import "time"

// Order is the immutable result of a successful checkout.
type Order struct {
	ID       string      `json:"id"`
	UserID   string      `json:"user_id"`
	CartID   string      `json:"cart_id"`
	Currency string      `json:"currency"`
	Subtotal int64       `json:"subtotal"`
	Lines    []OrderLine `json:"lines"`
	// Paid is derived from the payment ledger when the order is read.
	Paid      bool      `json:"paid"`
	CreatedAt time.Time `json:"created_at"`
}

// OrderLine captures the price of an item at the moment of purchase.
type OrderLine struct {
	OrderID             string `json:"order_id"`
	ItemID              string `json:"item_id"`
	Name                string `json:"name"`
	Quantity            int    `json:"quantity"`
	UnitPriceAtPurchase int64  `json:"unit_price_at_purchase"`
}

// LineTotal returns quantity times the captured unit price.
func (l OrderLine) LineTotal() int64 {
	return int64(l.Quantity) * l.UnitPriceAtPurchase
}

// ComputeSubtotal sums the line totals.
func ComputeSubtotal(lines []OrderLine) int64 {
	var total int64
	for _, l := range lines {
		total += l.LineTotal()
	}
	return total
}

// OrderFilter selects a page of a user's orders.
type OrderFilter struct {
	UserID string
	Offset int
	Limit  int
}
