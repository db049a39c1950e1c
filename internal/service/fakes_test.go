package service

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/cartorder/internal/catalog/memory"
	"github.com/utafrali/cartorder/internal/domain"
	"github.com/utafrali/cartorder/internal/lock"
	"github.com/utafrali/cartorder/internal/repository"
	apperrors "github.com/utafrali/cartorder/pkg/errors"
)

// --- Test Helpers ---

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testEnv struct {
	session   *memCartStore
	persist   *memCartStore
	orders    *memOrders
	payments  *memPayments
	catalog   *memory.Catalog
	publisher *recordingPublisher

	carts    *CartService
	checkout *CheckoutService
	order    *OrderService
	payment  *PaymentService
}

func newTestEnv() *testEnv {
	logger := newTestLogger()
	orders := newMemOrders()
	env := &testEnv{
		session:   newMemCartStore(nil),
		persist:   newMemCartStore(orders),
		orders:    orders,
		catalog:   memory.New(memory.DefaultItems()...),
		publisher: &recordingPublisher{},
	}
	env.payments = newMemPayments()

	stores := repository.CartStores{Session: env.session, Persistent: env.persist}
	guard := lock.NewLocal()

	env.carts = NewCartService(stores, guard, env.catalog, env.publisher, logger, "USD", time.Second)
	env.checkout = NewCheckoutService(stores, guard, env.catalog, env.publisher, logger, "USD", time.Second, 5*time.Second)
	env.order = NewOrderService(orders, logger)
	env.payment = NewPaymentService(env.payments, orders, env.publisher, logger)
	return env
}

// --- In-memory cart store ---

type memCart struct {
	id        string
	lines     map[string]int
	createdAt time.Time
}

// memCartStore mirrors the storage-side semantics of the real cart stores.
// When orders is set it also materializes orders like the Postgres store.
type memCartStore struct {
	mu     sync.Mutex
	carts  map[string]*memCart
	orders *memOrders

	// materializeErr, when set, fails Materialize before anything changes.
	materializeErr error
	// beforeMaterialize runs inside Materialize before the cart is compared.
	beforeMaterialize func()
	// upsertErr, when set, is consulted before every UpsertLine.
	upsertErr func(itemID string) error
}

func newMemCartStore(orders *memOrders) *memCartStore {
	return &memCartStore{carts: make(map[string]*memCart), orders: orders}
}

func (s *memCartStore) resolveLocked(id domain.CartIdentity) *memCart {
	c, ok := s.carts[id.Key()]
	if !ok {
		c = &memCart{id: uuid.New().String(), lines: make(map[string]int), createdAt: time.Now().UTC()}
		s.carts[id.Key()] = c
	}
	return c
}

func (s *memCartStore) linesLocked(id domain.CartIdentity) []domain.CartLine {
	c, ok := s.carts[id.Key()]
	if !ok {
		return []domain.CartLine{}
	}
	lines := make([]domain.CartLine, 0, len(c.lines))
	for item, qty := range c.lines {
		lines = append(lines, domain.CartLine{CartID: c.id, ItemID: item, Quantity: qty})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ItemID < lines[j].ItemID })
	return lines
}

func (s *memCartStore) Resolve(_ context.Context, id domain.CartIdentity) (*domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.resolveLocked(id)
	return &domain.Cart{ID: c.id, Identity: id, Lines: s.linesLocked(id), CreatedAt: c.createdAt, UpdatedAt: c.createdAt}, nil
}

func (s *memCartStore) Get(_ context.Context, id domain.CartIdentity) (*domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[id.Key()]
	if !ok {
		return nil, apperrors.NotFound("cart", id.Key())
	}
	return &domain.Cart{ID: c.id, Identity: id, Lines: s.linesLocked(id), CreatedAt: c.createdAt, UpdatedAt: c.createdAt}, nil
}

func (s *memCartStore) Lines(_ context.Context, id domain.CartIdentity) ([]domain.CartLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.linesLocked(id), nil
}

// UpsertLine reads and writes in two critical sections so that unguarded
// callers can lose updates, like a store without atomic increments would.
func (s *memCartStore) UpsertLine(_ context.Context, id domain.CartIdentity, itemID string, qty int, mode domain.UpsertMode) (int, error) {
	if s.upsertErr != nil {
		if err := s.upsertErr(itemID); err != nil {
			return 0, err
		}
	}

	s.mu.Lock()
	c := s.resolveLocked(id)
	current := c.lines[itemID]
	s.mu.Unlock()

	next := qty
	if mode == domain.UpsertDelta {
		next = current + qty
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if next <= 0 {
		delete(c.lines, itemID)
		return 0, nil
	}
	c.lines[itemID] = next
	return next, nil
}

func (s *memCartStore) RemoveLine(_ context.Context, id domain.CartIdentity, itemID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[id.Key()]
	if !ok {
		return false, nil
	}
	_, existed := c.lines[itemID]
	delete(c.lines, itemID)
	return existed, nil
}

func (s *memCartStore) Clear(_ context.Context, id domain.CartIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.carts[id.Key()]; ok {
		c.lines = make(map[string]int)
	}
	return nil
}

func (s *memCartStore) Materialize(ctx context.Context, req repository.MaterializeRequest) (*domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.beforeMaterialize != nil {
		s.beforeMaterialize()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.materializeErr != nil {
		return nil, s.materializeErr
	}
	c, ok := s.carts[req.Identity.Key()]
	if !ok || !domain.SameLines(req.Expected, s.linesLocked(req.Identity)) {
		return nil, repository.ErrCartChanged
	}

	order := &domain.Order{
		ID:        uuid.New().String(),
		UserID:    req.Identity.ID,
		CartID:    c.id,
		Currency:  req.Currency,
		Lines:     make([]domain.OrderLine, len(req.Lines)),
		CreatedAt: time.Now().UTC(),
	}
	for i, l := range req.Lines {
		l.OrderID = order.ID
		order.Lines[i] = l
	}
	order.Subtotal = domain.ComputeSubtotal(order.Lines)

	s.orders.add(order)
	c.lines = make(map[string]int)
	return order, nil
}

// --- In-memory orders ---

type memOrders struct {
	mu     sync.Mutex
	orders []*domain.Order
}

func newMemOrders() *memOrders {
	return &memOrders{}
}

func (o *memOrders) add(order *domain.Order) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.orders = append(o.orders, order)
}

func (o *memOrders) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.orders)
}

func (o *memOrders) GetByID(_ context.Context, id string) (*domain.Order, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, order := range o.orders {
		if order.ID == id {
			cp := *order
			cp.Lines = append([]domain.OrderLine(nil), order.Lines...)
			return &cp, nil
		}
	}
	return nil, apperrors.NotFound("order", id)
}

func (o *memOrders) ListByUser(_ context.Context, filter domain.OrderFilter) ([]domain.Order, int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var owned []domain.Order
	for i := len(o.orders) - 1; i >= 0; i-- {
		if o.orders[i].UserID == filter.UserID {
			cp := *o.orders[i]
			cp.Lines = nil
			owned = append(owned, cp)
		}
	}
	total := len(owned)
	if filter.Offset >= total {
		return []domain.Order{}, total, nil
	}
	end := min(filter.Offset+filter.Limit, total)
	return owned[filter.Offset:end], total, nil
}

// --- In-memory payment ledger ---

type memPayments struct {
	mu       sync.Mutex
	payments map[string]*domain.Payment
	order    []string
}

func newMemPayments() *memPayments {
	return &memPayments{payments: make(map[string]*domain.Payment)}
}

func (p *memPayments) Create(_ context.Context, payment *domain.Payment) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := *payment
	p.payments[payment.ID] = &cp
	p.order = append(p.order, payment.ID)
	return nil
}

func (p *memPayments) GetByID(_ context.Context, id string) (*domain.Payment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	payment, ok := p.payments[id]
	if !ok {
		return nil, apperrors.NotFound("payment", id)
	}
	cp := *payment
	return &cp, nil
}

func (p *memPayments) ListByOrder(_ context.Context, orderID string) ([]domain.Payment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := []domain.Payment{}
	for _, id := range p.order {
		if p.payments[id].OrderID == orderID {
			out = append(out, *p.payments[id])
		}
	}
	return out, nil
}

func (p *memPayments) findPaidLocked(orderID string) *domain.Payment {
	for _, payment := range p.payments {
		if payment.OrderID == orderID && payment.IsPaid() {
			cp := *payment
			return &cp
		}
	}
	return nil
}

func (p *memPayments) FindPaid(_ context.Context, orderID string) (*domain.Payment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.findPaidLocked(orderID), nil
}

func (p *memPayments) MarkPaid(_ context.Context, paymentID string) (*domain.Payment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	payment, ok := p.payments[paymentID]
	if !ok {
		return nil, apperrors.NotFound("payment", paymentID)
	}
	switch payment.Status {
	case domain.PaymentStatusPaid:
		cp := *payment
		return nil, apperrors.AlreadyPaid(payment.OrderID, &cp)
	case domain.PaymentStatusFailed:
		return nil, apperrors.Conflict("payment has failed")
	}
	if winner := p.findPaidLocked(payment.OrderID); winner != nil {
		return nil, apperrors.AlreadyPaid(payment.OrderID, winner)
	}
	payment.Status = domain.PaymentStatusPaid
	payment.UpdatedAt = time.Now().UTC()
	cp := *payment
	return &cp, nil
}

func (p *memPayments) MarkFailed(_ context.Context, paymentID, reason string) (*domain.Payment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	payment, ok := p.payments[paymentID]
	if !ok {
		return nil, apperrors.NotFound("payment", paymentID)
	}
	switch payment.Status {
	case domain.PaymentStatusPaid:
		return nil, apperrors.Conflict("payment is already paid")
	case domain.PaymentStatusPending:
		payment.Status = domain.PaymentStatusFailed
		payment.FailureReason = reason
		payment.UpdatedAt = time.Now().UTC()
	}
	cp := *payment
	return &cp, nil
}

// --- Recording publisher ---

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) record(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, name)
}

func (p *recordingPublisher) count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e == name {
			n++
		}
	}
	return n
}

func (p *recordingPublisher) PublishCartUpdated(_ context.Context, _ *domain.CartSnapshot, action, _ string, _ int) error {
	p.record("cart." + action)
	return nil
}

func (p *recordingPublisher) PublishOrderCreated(_ context.Context, _ *domain.Order) error {
	p.record("order.created")
	return nil
}

func (p *recordingPublisher) PublishPaymentRecorded(_ context.Context, payment *domain.Payment) error {
	p.record("payment." + payment.Status)
	return nil
}
