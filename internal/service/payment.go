package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/cartorder/internal/domain"
	"github.com/utafrali/cartorder/internal/event"
	"github.com/utafrali/cartorder/internal/repository"
	apperrors "github.com/utafrali/cartorder/pkg/errors"
)

// PaymentService records payment attempts against orders and guarantees that
// an order is paid at most once.
type PaymentService struct {
	payments repository.PaymentRepository
	orders   repository.OrderRepository
	events   EventPublisher
	logger   *slog.Logger
}

// NewPaymentService creates a new payment service.
func NewPaymentService(
	payments repository.PaymentRepository,
	orders repository.OrderRepository,
	events EventPublisher,
	logger *slog.Logger,
) *PaymentService {
	return &PaymentService{
		payments: payments,
		orders:   orders,
		events:   events,
		logger:   logger,
	}
}

// RecordAttemptInput holds the parameters for a payment attempt.
type RecordAttemptInput struct {
	UserID  string
	OrderID string
	Amount  int64
	Method  string
}

// RecordAttempt stores a pending payment for an order the user owns. It fails
// with AlreadyPaid when the order is already settled.
func (s *PaymentService) RecordAttempt(ctx context.Context, input RecordAttemptInput) (*domain.Payment, error) {
	if input.Amount <= 0 {
		return nil, apperrors.InvalidInput("amount must be greater than zero")
	}
	if !domain.IsValidPaymentMethod(input.Method) {
		return nil, apperrors.InvalidInput(fmt.Sprintf(
			"invalid payment method %q; must be one of: %s",
			input.Method, strings.Join(domain.PaymentMethods, ", "),
		))
	}

	order, err := requireOwnedOrder(ctx, s.orders, input.UserID, input.OrderID)
	if err != nil {
		return nil, err
	}

	paid, err := s.payments.FindPaid(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("find paid payment: %w", err)
	}
	if paid != nil {
		return nil, apperrors.AlreadyPaid(order.ID, paid)
	}

	now := time.Now().UTC()
	payment := &domain.Payment{
		ID:        uuid.New().String(),
		OrderID:   order.ID,
		Amount:    input.Amount,
		Currency:  order.Currency,
		Method:    input.Method,
		Status:    domain.PaymentStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}

	s.logger.InfoContext(ctx, "payment attempt recorded",
		slog.String("payment_id", payment.ID),
		slog.String("order_id", payment.OrderID),
		slog.Int64("amount", payment.Amount),
		slog.String("method", payment.Method),
	)

	s.publish(ctx, payment)
	return payment, nil
}

// MarkPaid settles a pending payment. Once the order is settled, by this
// payment or another, the error carries the paid payment.
func (s *PaymentService) MarkPaid(ctx context.Context, userID, paymentID string) (*domain.Payment, error) {
	if _, err := s.ownedPayment(ctx, userID, paymentID); err != nil {
		return nil, err
	}

	payment, err := s.payments.MarkPaid(ctx, paymentID)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "payment marked paid",
		slog.String("payment_id", payment.ID),
		slog.String("order_id", payment.OrderID),
	)

	s.publish(ctx, payment)
	return payment, nil
}

// MarkFailed records a pending payment as failed.
func (s *PaymentService) MarkFailed(ctx context.Context, userID, paymentID, reason string) (*domain.Payment, error) {
	if _, err := s.ownedPayment(ctx, userID, paymentID); err != nil {
		return nil, err
	}

	payment, err := s.payments.MarkFailed(ctx, paymentID, reason)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "payment marked failed",
		slog.String("payment_id", payment.ID),
		slog.String("order_id", payment.OrderID),
		slog.String("reason", reason),
	)

	s.publish(ctx, payment)
	return payment, nil
}

// GetPayment returns a payment of an order the user owns.
func (s *PaymentService) GetPayment(ctx context.Context, userID, paymentID string) (*domain.Payment, error) {
	return s.ownedPayment(ctx, userID, paymentID)
}

// ListPayments returns every attempt for an order the user owns, oldest first.
func (s *PaymentService) ListPayments(ctx context.Context, userID, orderID string) ([]domain.Payment, error) {
	if _, err := requireOwnedOrder(ctx, s.orders, userID, orderID); err != nil {
		return nil, err
	}

	payments, err := s.payments.ListByOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return payments, nil
}

func (s *PaymentService) ownedPayment(ctx context.Context, userID, paymentID string) (*domain.Payment, error) {
	payment, err := s.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if _, err := requireOwnedOrder(ctx, s.orders, userID, payment.OrderID); err != nil {
		return nil, apperrors.NotFound("payment", paymentID)
	}
	return payment, nil
}

func (s *PaymentService) publish(ctx context.Context, payment *domain.Payment) {
	snapshot := *payment
	publishAsync(ctx, s.logger, event.TopicPaymentRecorded, func(ctx context.Context) error {
		return s.events.PublishPaymentRecorded(ctx, &snapshot)
	})
}
