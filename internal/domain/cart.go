package domain

import "time"

// Cart limits.
const (
	MaxQuantityPerLine = 100
	MaxLinesPerCart    = 50
)

// UpsertMode selects how a quantity is applied to an existing cart line.
type UpsertMode int

const (
	// UpsertDelta adds the quantity to the current one, creating the line if needed.
	UpsertDelta UpsertMode = iota
	// UpsertAbsolute replaces the current quantity.
	UpsertAbsolute
)

func (m UpsertMode) String() string {
	if m == UpsertAbsolute {
		return "absolute"
	}
	return "delta"
}

// Cart is the single active cart of an identity.
type Cart struct {
	ID        string       `json:"id"`
	Identity  CartIdentity `json:"identity"`
	Lines     []CartLine   `json:"lines"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// CartLine is one item in a cart. Quantity is always at least 1; a line whose
// quantity would drop to zero is removed instead.
type CartLine struct {
	CartID   string `json:"cart_id"`
	ItemID   string `json:"item_id"`
	Quantity int    `json:"quantity"`
}

// ItemCount returns the total number of units in the cart.
func (c *Cart) ItemCount() int {
	var count int
	for _, line := range c.Lines {
		count += line.Quantity
	}
	return count
}

// FindLine returns the line for itemID, or nil.
func (c *Cart) FindLine(itemID string) *CartLine {
	for i := range c.Lines {
		if c.Lines[i].ItemID == itemID {
			return &c.Lines[i]
		}
	}
	return nil
}

// SameLines reports whether a and b hold the same items with the same
// quantities, regardless of order.
func SameLines(a, b []CartLine) bool {
	if len(a) != len(b) {
		return false
	}
	want := make(map[string]int, len(a))
	for _, l := range a {
		want[l.ItemID] = l.Quantity
	}
	for _, l := range b {
		q, ok := want[l.ItemID]
		if !ok || q != l.Quantity {
			return false
		}
	}
	return true
}

// CartSnapshot is the display view of a cart priced at current catalog prices.
// It is informational only and never used to charge.
type CartSnapshot struct {
	CartID    string         `json:"cart_id,omitempty"`
	Identity  CartIdentity   `json:"identity"`
	Lines     []SnapshotLine `json:"lines"`
	ItemCount int            `json:"item_count"`
	Subtotal  int64          `json:"subtotal"`
	Currency  string         `json:"currency"`
}

// SnapshotLine is a cart line joined with its catalog entry. Unavailable lines
// reference items the catalog no longer carries and do not count towards the
// subtotal.
type SnapshotLine struct {
	ItemID      string `json:"item_id"`
	Name        string `json:"name,omitempty"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
	LineTotal   int64  `json:"line_total"`
	Unavailable bool   `json:"unavailable,omitempty"`
}
