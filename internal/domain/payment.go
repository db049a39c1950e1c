package domain

import (
	"slices"
	"time"
)

// A payment starts pending and ends either paid or failed; neither end state
// changes again.
const (
	PaymentStatusPending = "pending"
	PaymentStatusPaid    = "paid"
	PaymentStatusFailed  = "failed"
)

const (
	PaymentMethodCreditCard   = "credit_card"
	PaymentMethodDebitCard    = "debit_card"
	PaymentMethodBankTransfer = "bank_transfer"
	PaymentMethodWallet       = "wallet"
)

// PaymentMethods lists the accepted methods in display order.
var PaymentMethods = []string{
	PaymentMethodCreditCard,
	PaymentMethodDebitCard,
	PaymentMethodBankTransfer,
	PaymentMethodWallet,
}

// IsValidPaymentMethod reports whether method is one of PaymentMethods.
func IsValidPaymentMethod(method string) bool {
	return slices.Contains(PaymentMethods, method)
}

// Payment is one attempt to pay an order. The ledger lets at most one payment
// per order reach PaymentStatusPaid.
type Payment struct {
	ID            string    `json:"id"`
	OrderID       string    `json:"order_id"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	Method        string    `json:"method"`
	Status        string    `json:"status"`
	FailureReason string    `json:"failure_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (p *Payment) IsPaid() bool { return p.Status == PaymentStatusPaid }
