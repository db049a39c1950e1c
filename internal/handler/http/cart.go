package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/cartorder/internal/domain"
	apperrors "github.com/utafrali/cartorder/pkg/errors"
	"github.com/utafrali/cartorder/pkg/httputil"
	"github.com/utafrali/cartorder/pkg/middleware"
	"github.com/utafrali/cartorder/pkg/validator"
)

// CartService is the cart behaviour the handler needs.
type CartService interface {
	Snapshot(ctx context.Context, id domain.CartIdentity) (*domain.CartSnapshot, error)
	AddItem(ctx context.Context, id domain.CartIdentity, itemID string, qty int) (*domain.CartSnapshot, error)
	UpdateQuantity(ctx context.Context, id domain.CartIdentity, itemID string, qty int) (*domain.CartSnapshot, error)
	RemoveItem(ctx context.Context, id domain.CartIdentity, itemID string) (*domain.CartSnapshot, error)
	ClearCart(ctx context.Context, id domain.CartIdentity) (*domain.CartSnapshot, error)
	MergeGuestCartIntoUserCart(ctx context.Context, guest, user domain.CartIdentity) (*domain.CartSnapshot, error)
}

// CartHandler handles HTTP requests for cart endpoints.
type CartHandler struct {
	service CartService
	logger  *slog.Logger
}

// NewCartHandler creates a new cart HTTP handler.
func NewCartHandler(svc CartService, logger *slog.Logger) *CartHandler {
	return &CartHandler{
		service: svc,
		logger:  logger,
	}
}

// --- Request DTOs ---

// AddItemRequest is the JSON request body for adding an item to the cart.
type AddItemRequest struct {
	ItemID   string `json:"item_id" validate:"required,max=64"`
	Quantity int    `json:"quantity" validate:"required,gte=1,lte=100"`
}

// UpdateQuantityRequest is the JSON request body for setting a line quantity.
// Zero removes the line.
type UpdateQuantityRequest struct {
	Quantity int `json:"quantity" validate:"lte=100"`
}

// MergeRequest is the JSON request body for merging a guest cart. The guest
// cart is always the one of the request's X-Session-ID; SessionID, when sent,
// must name the same session.
type MergeRequest struct {
	SessionID string `json:"session_id" validate:"omitempty,max=128"`
}

// --- Handlers ---

// GetCart handles GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	id, ok := cartIdentity(w, r)
	if !ok {
		return
	}

	snapshot, err := h.service.Snapshot(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: snapshot})
}

// AddItem handles POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	id, ok := cartIdentity(w, r)
	if !ok {
		return
	}

	var req AddItemRequest
	if err := validator.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	snapshot, err := h.service.AddItem(r.Context(), id, req.ItemID, req.Quantity)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: snapshot})
}

// UpdateQuantity handles PUT /api/v1/cart/items/{itemId}
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	id, ok := cartIdentity(w, r)
	if !ok {
		return
	}

	var req UpdateQuantityRequest
	if err := validator.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	snapshot, err := h.service.UpdateQuantity(r.Context(), id, chi.URLParam(r, "itemId"), req.Quantity)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: snapshot})
}

// RemoveItem handles DELETE /api/v1/cart/items/{itemId}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	id, ok := cartIdentity(w, r)
	if !ok {
		return
	}

	snapshot, err := h.service.RemoveItem(r.Context(), id, chi.URLParam(r, "itemId"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: snapshot})
}

// ClearCart handles DELETE /api/v1/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	id, ok := cartIdentity(w, r)
	if !ok {
		return
	}

	snapshot, err := h.service.ClearCart(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: snapshot})
}

// MergeCart handles POST /api/v1/cart/merge. Mount behind RequireUser.
func (h *CartHandler) MergeCart(w http.ResponseWriter, r *http.Request) {
	var req MergeRequest
	if err := validator.DecodeOptionalJSON(w, r, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	sessionID := middleware.SessionIDFromContext(r.Context())
	if sessionID == "" {
		httputil.WriteError(w, r, apperrors.InvalidInput(middleware.HeaderSessionID+" header is required"), h.logger)
		return
	}
	if req.SessionID != "" && req.SessionID != sessionID {
		httputil.WriteError(w, r, apperrors.InvalidInput("session_id does not match the request session"), h.logger)
		return
	}

	guest := domain.SessionIdentity(sessionID)
	user := domain.UserIdentity(middleware.UserIDFromContext(r.Context()))

	snapshot, err := h.service.MergeGuestCartIntoUserCart(r.Context(), guest, user)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: snapshot})
}
