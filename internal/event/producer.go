package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/utafrali/cartorder/internal/domain"
	pkgkafka "github.com/utafrali/cartorder/pkg/kafka"
	"github.com/utafrali/cartorder/pkg/logger"
)

// Kafka topics for cart, order and payment events.
var (
	TopicCartUpdated     = pkgkafka.Topic("cart", "updated")
	TopicOrderCreated    = pkgkafka.Topic("order", "created")
	TopicPaymentRecorded = pkgkafka.Topic("payment", "recorded")
)

// Aggregate type constants.
const (
	AggregateTypeCart    = "cart"
	AggregateTypeOrder   = "order"
	AggregateTypePayment = "payment"
)

// SourceCartOrderService identifies events originating from this service.
const SourceCartOrderService = "cartorder-service"

// Cart actions carried by cart.updated events.
const (
	CartActionItemAdded   = "item_added"
	CartActionItemUpdated = "item_updated"
	CartActionItemRemoved = "item_removed"
	CartActionCleared     = "cleared"
	CartActionMerged      = "merged"
)

// CartUpdatedData is the payload for a cart.updated event.
type CartUpdatedData struct {
	CartID       string `json:"cart_id,omitempty"`
	IdentityKind string `json:"identity_kind"`
	IdentityID   string `json:"identity_id"`
	Action       string `json:"action"`
	ItemID       string `json:"item_id,omitempty"`
	Quantity     int    `json:"quantity"`
	ItemCount    int    `json:"item_count"`
	Subtotal     int64  `json:"subtotal"`
}

// OrderCreatedData is the payload for an order.created event.
type OrderCreatedData struct {
	ID       string          `json:"id"`
	UserID   string          `json:"user_id"`
	Lines    []OrderLineData `json:"lines"`
	Subtotal int64           `json:"subtotal"`
	Currency string          `json:"currency"`
}

// OrderLineData is the event payload for an order line.
type OrderLineData struct {
	ItemID              string `json:"item_id"`
	Name                string `json:"name"`
	Quantity            int    `json:"quantity"`
	UnitPriceAtPurchase int64  `json:"unit_price_at_purchase"`
}

// PaymentRecordedData is the payload for a payment.recorded event.
type PaymentRecordedData struct {
	PaymentID     string `json:"payment_id"`
	OrderID       string `json:"order_id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Method        string `json:"method"`
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// Producer publishes cart, order and payment events to Kafka.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates a new event producer.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishCartUpdated publishes a cart.updated event.
func (p *Producer) PublishCartUpdated(ctx context.Context, snapshot *domain.CartSnapshot, action, itemID string, quantity int) error {
	event, err := NewCartUpdatedEvent(ctx, snapshot, action, itemID, quantity)
	if err != nil {
		return err
	}

	if err := p.kafka.Publish(ctx, TopicCartUpdated, event); err != nil {
		return fmt.Errorf("publish cart.updated event: %w", err)
	}

	p.logger.DebugContext(ctx, "published cart.updated event",
		slog.String("cart", snapshot.Identity.Key()),
		slog.String("action", action),
	)
	return nil
}

// PublishOrderCreated publishes an order.created event with the full order snapshot.
func (p *Producer) PublishOrderCreated(ctx context.Context, order *domain.Order) error {
	event, err := NewOrderCreatedEvent(ctx, order)
	if err != nil {
		return err
	}

	if err := p.kafka.Publish(ctx, TopicOrderCreated, event); err != nil {
		return fmt.Errorf("publish order.created event: %w", err)
	}

	p.logger.DebugContext(ctx, "published order.created event",
		slog.String("order_id", order.ID),
		slog.String("user_id", order.UserID),
	)
	return nil
}

// PublishPaymentRecorded publishes a payment.recorded event for any status
// change of a payment.
func (p *Producer) PublishPaymentRecorded(ctx context.Context, payment *domain.Payment) error {
	event, err := NewPaymentRecordedEvent(ctx, payment)
	if err != nil {
		return err
	}

	if err := p.kafka.Publish(ctx, TopicPaymentRecorded, event); err != nil {
		return fmt.Errorf("publish payment.recorded event: %w", err)
	}

	p.logger.DebugContext(ctx, "published payment.recorded event",
		slog.String("payment_id", payment.ID),
		slog.String("status", payment.Status),
	)
	return nil
}

// NewCartUpdatedEvent builds the envelope of a cart.updated event.
func NewCartUpdatedEvent(ctx context.Context, snapshot *domain.CartSnapshot, action, itemID string, quantity int) (*pkgkafka.Event, error) {
	data := CartUpdatedData{
		CartID:       snapshot.CartID,
		IdentityKind: string(snapshot.Identity.Kind),
		IdentityID:   snapshot.Identity.ID,
		Action:       action,
		ItemID:       itemID,
		Quantity:     quantity,
		ItemCount:    snapshot.ItemCount,
		Subtotal:     snapshot.Subtotal,
	}

	event, err := pkgkafka.NewEvent(TopicCartUpdated, AggregateTypeCart, snapshot.Identity.Key(), data, envelopeOptions(ctx)...)
	if err != nil {
		return nil, fmt.Errorf("create cart.updated event: %w", err)
	}
	return event, nil
}

// NewOrderCreatedEvent builds the envelope of an order.created event.
func NewOrderCreatedEvent(ctx context.Context, order *domain.Order) (*pkgkafka.Event, error) {
	lines := make([]OrderLineData, len(order.Lines))
	for i, l := range order.Lines {
		lines[i] = OrderLineData{
			ItemID:              l.ItemID,
			Name:                l.Name,
			Quantity:            l.Quantity,
			UnitPriceAtPurchase: l.UnitPriceAtPurchase,
		}
	}

	data := OrderCreatedData{
		ID:       order.ID,
		UserID:   order.UserID,
		Lines:    lines,
		Subtotal: order.Subtotal,
		Currency: order.Currency,
	}

	event, err := pkgkafka.NewEvent(TopicOrderCreated, AggregateTypeOrder, order.ID, data, envelopeOptions(ctx)...)
	if err != nil {
		return nil, fmt.Errorf("create order.created event: %w", err)
	}
	return event, nil
}

// NewPaymentRecordedEvent builds the envelope of a payment.recorded event.
func NewPaymentRecordedEvent(ctx context.Context, payment *domain.Payment) (*pkgkafka.Event, error) {
	data := PaymentRecordedData{
		PaymentID:     payment.ID,
		OrderID:       payment.OrderID,
		Amount:        payment.Amount,
		Currency:      payment.Currency,
		Method:        payment.Method,
		Status:        payment.Status,
		FailureReason: payment.FailureReason,
	}

	event, err := pkgkafka.NewEvent(TopicPaymentRecorded, AggregateTypePayment, payment.OrderID, data, envelopeOptions(ctx)...)
	if err != nil {
		return nil, fmt.Errorf("create payment.recorded event: %w", err)
	}
	return event, nil
}

func envelopeOptions(ctx context.Context) []pkgkafka.EventOption {
	return []pkgkafka.EventOption{
		pkgkafka.WithSource(SourceCartOrderService),
		pkgkafka.WithCorrelationID(logger.CorrelationIDFromContext(ctx)),
	}
}
