package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/utafrali/cartorder/internal/domain"
	"github.com/utafrali/cartorder/internal/repository"
	apperrors "github.com/utafrali/cartorder/pkg/errors"
	"github.com/utafrali/cartorder/pkg/pagination"
)

// OrderService reads orders written by checkout. Orders are visible to their
// owner only.
type OrderService struct {
	repo   repository.OrderRepository
	logger *slog.Logger
}

// NewOrderService creates a new order service.
func NewOrderService(repo repository.OrderRepository, logger *slog.Logger) *OrderService {
	return &OrderService{
		repo:   repo,
		logger: logger,
	}
}

// GetOrder returns the order with its lines. An order owned by someone else is
// reported as not found.
func (s *OrderService) GetOrder(ctx context.Context, userID, orderID string) (*domain.Order, error) {
	if userID == "" {
		return nil, apperrors.Unauthorized("sign in to view orders")
	}

	return requireOwnedOrder(ctx, s.repo, userID, orderID)
}

// ListOrders returns a page of the user's orders, newest first, and the total.
func (s *OrderService) ListOrders(ctx context.Context, userID string, page, perPage int) ([]domain.Order, int, error) {
	if userID == "" {
		return nil, 0, apperrors.Unauthorized("sign in to view orders")
	}
	p := pagination.Params{Page: page, PerPage: perPage}

	orders, total, err := s.repo.ListByUser(ctx, domain.OrderFilter{
		UserID: userID,
		Offset: p.Offset(),
		Limit:  p.Limit(),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	return orders, total, nil
}

// requireOwnedOrder loads an order and checks that userID owns it.
func requireOwnedOrder(ctx context.Context, repo repository.OrderRepository, userID, orderID string) (*domain.Order, error) {
	order, err := repo.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order.UserID != userID {
		return nil, apperrors.NotFound("order", orderID)
	}
	return order, nil
}
