// Package errors defines AppError, the error type services return and
// httputil renders. Each constructor wraps a sentinel so callers can branch
// with errors.Is without inspecting codes.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound       = errors.New("resource not found")
	ErrInvalidInput   = errors.New("invalid input")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrConflict       = errors.New("conflict")
	ErrServiceUnavail = errors.New("service unavailable")

	ErrEmptyCart   = errors.New("cart is empty")
	ErrMissingItem = errors.New("item no longer available")
	ErrAlreadyPaid = errors.New("order already paid")
	ErrTransaction = errors.New("transaction failed")
)

// sentinelStatus is consulted in order when an error carries no AppError.
var sentinelStatus = []struct {
	err    error
	status int
}{
	{ErrNotFound, http.StatusNotFound},
	{ErrInvalidInput, http.StatusBadRequest},
	{ErrUnauthorized, http.StatusUnauthorized},
	{ErrEmptyCart, http.StatusConflict},
	{ErrAlreadyPaid, http.StatusConflict},
	{ErrConflict, http.StatusConflict},
	{ErrMissingItem, http.StatusUnprocessableEntity},
	{ErrTransaction, http.StatusServiceUnavailable},
	{ErrServiceUnavail, http.StatusServiceUnavailable},
}

// AppError is an error with a stable code and the HTTP status it maps to.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
	// Details is rendered next to the message, e.g. the ids of missing items.
	Details any `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Code + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
}

func (e *AppError) Unwrap() error { return e.Err }

// Retryable reports whether repeating the call may succeed.
func (e *AppError) Retryable() bool {
	return errors.Is(e.Err, ErrTransaction) || errors.Is(e.Err, ErrServiceUnavail)
}

func newError(status int, code string, err error, format string, args ...any) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Status:  status,
		Err:     err,
	}
}

func NotFound(resource, id string) *AppError {
	return newError(http.StatusNotFound, "NOT_FOUND", ErrNotFound, "%s with id %s not found", resource, id)
}

// ItemNotFound is a NotFound for an item id the catalog does not carry.
func ItemNotFound(itemID string) *AppError {
	return newError(http.StatusNotFound, "ITEM_NOT_FOUND", ErrNotFound, "item with id %s not found", itemID)
}

func InvalidInput(message string) *AppError {
	return newError(http.StatusBadRequest, "INVALID_INPUT", ErrInvalidInput, "%s", message)
}

func Unauthorized(message string) *AppError {
	return newError(http.StatusUnauthorized, "UNAUTHORIZED", ErrUnauthorized, "%s", message)
}

func Conflict(message string) *AppError {
	return newError(http.StatusConflict, "CONFLICT", ErrConflict, "%s", message)
}

func ServiceUnavailable(message string) *AppError {
	return newError(http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", ErrServiceUnavail, "%s", message)
}

// Internal hides err from the client; it is still reachable through Unwrap
// for logging.
func Internal(err error) *AppError {
	return newError(http.StatusInternalServerError, "INTERNAL_ERROR", err, "an internal error occurred")
}

// EmptyCart rejects a checkout of a cart with no lines.
func EmptyCart() *AppError {
	return newError(http.StatusConflict, "EMPTY_CART", ErrEmptyCart, "cart has no items to check out")
}

// MissingItem rejects a checkout whose cart holds items the catalog dropped.
// The ids are returned in Details.
func MissingItem(itemIDs []string) *AppError {
	e := newError(http.StatusUnprocessableEntity, "MISSING_ITEM", ErrMissingItem,
		"%d item(s) in the cart are no longer available", len(itemIDs))
	e.Details = map[string]any{"item_ids": itemIDs}
	return e
}

// AlreadyPaid carries the payment that settled the order, so a repeated
// request can be answered as if it had succeeded.
func AlreadyPaid(orderID string, paid any) *AppError {
	e := newError(http.StatusConflict, "ALREADY_PAID", fmt.Errorf("%w: %w", ErrAlreadyPaid, ErrConflict),
		"order %s is already paid", orderID)
	e.Details = paid
	return e
}

// Transaction reports a storage transaction that was rolled back.
func Transaction(err error) *AppError {
	return newError(http.StatusServiceUnavailable, "TRANSACTION_FAILED", fmt.Errorf("%w: %w", ErrTransaction, err),
		"the operation was rolled back, please retry")
}

// HTTPStatus returns the status of the first AppError in err's chain, falling
// back to its sentinel and then to 500.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	for _, s := range sentinelStatus {
		if errors.Is(err, s.err) {
			return s.status
		}
	}
	return http.StatusInternalServerError
}
