package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/utafrali/cartorder/internal/domain"
	"github.com/utafrali/cartorder/pkg/httputil"
	"github.com/utafrali/cartorder/pkg/middleware"
)

// CheckoutService turns the caller's cart into an order.
type CheckoutService interface {
	Checkout(ctx context.Context, id domain.CartIdentity) (*domain.CheckoutResult, error)
}

// CheckoutHandler handles HTTP requests for checkout.
type CheckoutHandler struct {
	service CheckoutService
	logger  *slog.Logger
}

// NewCheckoutHandler creates a new checkout HTTP handler.
func NewCheckoutHandler(svc CheckoutService, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		service: svc,
		logger:  logger,
	}
}

// Checkout handles POST /api/v1/checkout. Mount behind RequireUser.
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	id := domain.UserIdentity(middleware.UserIDFromContext(r.Context()))

	result, err := h.service.Checkout(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.Response{Data: result})
}
