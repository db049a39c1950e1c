package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/cartorder/internal/domain"
	"github.com/utafrali/cartorder/internal/service"
	"github.com/utafrali/cartorder/pkg/httputil"
	"github.com/utafrali/cartorder/pkg/middleware"
	"github.com/utafrali/cartorder/pkg/validator"
)

// PaymentService records and settles payment attempts.
type PaymentService interface {
	RecordAttempt(ctx context.Context, input service.RecordAttemptInput) (*domain.Payment, error)
	MarkPaid(ctx context.Context, userID, paymentID string) (*domain.Payment, error)
	MarkFailed(ctx context.Context, userID, paymentID, reason string) (*domain.Payment, error)
	GetPayment(ctx context.Context, userID, paymentID string) (*domain.Payment, error)
	ListPayments(ctx context.Context, userID, orderID string) ([]domain.Payment, error)
}

// PaymentHandler handles HTTP requests for payment endpoints.
type PaymentHandler struct {
	service PaymentService
	logger  *slog.Logger
}

// NewPaymentHandler creates a new payment HTTP handler.
func NewPaymentHandler(svc PaymentService, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// RecordPaymentRequest is the JSON request body for a payment attempt.
type RecordPaymentRequest struct {
	Amount int64  `json:"amount" validate:"required,gt=0"`
	Method string `json:"method" validate:"required,oneof=credit_card debit_card bank_transfer wallet"`
}

// MarkFailedRequest is the JSON request body for failing a payment.
type MarkFailedRequest struct {
	Reason string `json:"reason" validate:"required,min=3,max=500"`
}

// RecordPaymentResponse is returned for a new payment attempt.
type RecordPaymentResponse struct {
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
	*domain.Payment
}

// --- Handlers ---

// RecordPayment handles POST /api/v1/orders/{id}/payments
func (h *PaymentHandler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	orderID, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req RecordPaymentRequest
	if err := validator.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	payment, err := h.service.RecordAttempt(r.Context(), service.RecordAttemptInput{
		UserID:  middleware.UserIDFromContext(r.Context()),
		OrderID: orderID.String(),
		Amount:  req.Amount,
		Method:  req.Method,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: RecordPaymentResponse{
		PaymentID: payment.ID,
		Status:    payment.Status,
		Payment:   payment,
	}})
}

// ListPayments handles GET /api/v1/orders/{id}/payments
func (h *PaymentHandler) ListPayments(w http.ResponseWriter, r *http.Request) {
	orderID, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	payments, err := h.service.ListPayments(r.Context(), middleware.UserIDFromContext(r.Context()), orderID.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: payments})
}

// GetPayment handles GET /api/v1/payments/{id}
func (h *PaymentHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	payment, err := h.service.GetPayment(r.Context(), middleware.UserIDFromContext(r.Context()), id.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: payment})
}

// MarkPaid handles POST /api/v1/payments/{id}/paid
func (h *PaymentHandler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	payment, err := h.service.MarkPaid(r.Context(), middleware.UserIDFromContext(r.Context()), id.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: payment})
}

// MarkFailed handles POST /api/v1/payments/{id}/failed
func (h *PaymentHandler) MarkFailed(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}

	var req MarkFailedRequest
	if err := validator.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	payment, err := h.service.MarkFailed(r.Context(), middleware.UserIDFromContext(r.Context()), id.String(), req.Reason)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: payment})
}
