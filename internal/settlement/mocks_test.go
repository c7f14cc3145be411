package settlement

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fjod/go_shop/internal/domain"
	"github.com/fjod/go_shop/internal/gateway"
	"github.com/fjod/go_shop/internal/inventory"
	"github.com/fjod/go_shop/internal/notify"
	"github.com/google/uuid"
)

// memoryStore runs one transaction at a time and restores a snapshot when
// the transaction function fails, which is what row locks plus rollback give
// the coordinator in Postgres.
type memoryStore struct {
	mu       sync.Mutex
	orders   map[uuid.UUID]*domain.Order
	payments []*domain.Payment
	stock    map[int64]int
	carts    map[string]*domain.Cart
	reserved map[uuid.UUID][]domain.StockReservation
	clock    time.Time
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		orders:   map[uuid.UUID]*domain.Order{},
		stock:    map[int64]int{},
		carts:    map[string]*domain.Cart{},
		reserved: map[uuid.UUID][]domain.StockReservation{},
		clock:  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (m *memoryStore) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *memoryStore) addOrder(o *domain.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.orders[o.ID] = &cp
}

func (m *memoryStore) setCart(userID string, items ...domain.CartItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[userID] = &domain.Cart{ID: int64(len(m.carts) + 1), UserID: userID, Items: items}
}

func (m *memoryStore) setStock(productID int64, stock int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stock[productID] = stock
}

func (m *memoryStore) stockOf(productID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stock[productID]
}

func (m *memoryStore) order(id uuid.UUID) domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.orders[id]
}

func (m *memoryStore) cartItems(userID string) []domain.CartItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[userID]
	if !ok {
		return nil
	}
	return append([]domain.CartItem(nil), c.Items...)
}

func (m *memoryStore) reservationsOf(orderID uuid.UUID) []domain.StockReservation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.StockReservation(nil), m.reserved[orderID]...)
}

func (m *memoryStore) paymentsOf(orderID uuid.UUID) []domain.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Payment
	for _, p := range m.payments {
		if p.OrderID == orderID {
			out = append(out, *p)
		}
	}
	return out
}

func (m *memoryStore) GetOrder(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %w", domain.ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

func (m *memoryStore) GetPaymentByTransactionID(_ context.Context, transactionID string) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.TransactionID == transactionID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("payment %w", domain.ErrNotFound)
}

func (m *memoryStore) StockLevel(_ context.Context, productID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stock[productID]
	if !ok {
		return 0, fmt.Errorf("product %w", domain.ErrNotFound)
	}
	return s, nil
}

func (m *memoryStore) InScope(ctx context.Context, fn func(inventory.Scope) error) error {
	return m.InTx(ctx, func(tx Tx) error { return fn(tx) })
}

func (m *memoryStore) InTx(_ context.Context, fn func(Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	orders := map[uuid.UUID]*domain.Order{}
	for k, o := range m.orders {
		cp := *o
		orders[k] = &cp
	}
	payments := make([]*domain.Payment, 0, len(m.payments))
	for _, p := range m.payments {
		cp := *p
		payments = append(payments, &cp)
	}
	stock := map[int64]int{}
	for k, v := range m.stock {
		stock[k] = v
	}
	carts := map[string]*domain.Cart{}
	for k, c := range m.carts {
		cp := *c
		cp.Items = append([]domain.CartItem(nil), c.Items...)
		carts[k] = &cp
	}
	reserved := map[uuid.UUID][]domain.StockReservation{}
	for k, lines := range m.reserved {
		reserved[k] = append([]domain.StockReservation(nil), lines...)
	}

	if err := fn(&memoryTx{m: m}); err != nil {
		m.orders, m.payments, m.stock, m.carts, m.reserved = orders, payments, stock, carts, reserved
		return err
	}
	return nil
}

type memoryTx struct {
	m *memoryStore
}

func (t *memoryTx) LockStock(_ context.Context, productID int64) (int, error) {
	s, ok := t.m.stock[productID]
	if !ok {
		return 0, fmt.Errorf("product %w", domain.ErrNotFound)
	}
	return s, nil
}

func (t *memoryTx) WriteStock(_ context.Context, productID int64, stock int) error {
	if stock < 0 {
		return fmt.Errorf("%w: stock would be negative", domain.ErrInsufficientStock)
	}
	t.m.stock[productID] = stock
	return nil
}

func (t *memoryTx) GetOrderForUpdate(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	o, ok := t.m.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %w", domain.ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

func (t *memoryTx) SetProviderOrderRef(_ context.Context, id uuid.UUID, ref string) error {
	o, ok := t.m.orders[id]
	if !ok {
		return fmt.Errorf("order %w", domain.ErrNotFound)
	}
	o.ProviderOrderRef = ref
	return nil
}

func (t *memoryTx) CompleteOrder(_ context.Context, id uuid.UUID, userID, ref string) (*domain.Order, error) {
	o, ok := t.m.orders[id]
	if !ok || o.UserID != userID ||
		o.PaymentStatus != domain.OrderPaymentPending || o.OrderStatus == domain.OrderStatusCancelled {
		return nil, fmt.Errorf("%w: order %s is not waiting for payment", domain.ErrConflict, id)
	}
	o.PaymentStatus = domain.OrderPaymentCompleted
	o.ProviderOrderRef = ref
	cp := *o
	return &cp, nil
}

func (t *memoryTx) CancelOrder(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	o, ok := t.m.orders[id]
	if !ok || o.OrderStatus == domain.OrderStatusDelivered || o.OrderStatus == domain.OrderStatusCancelled {
		return nil, fmt.Errorf("%w: order %s cannot be cancelled", domain.ErrInvalidState, id)
	}
	o.OrderStatus = domain.OrderStatusCancelled
	cp := *o
	return &cp, nil
}

func (t *memoryTx) InsertPayment(_ context.Context, p *domain.Payment) error {
	for _, existing := range t.m.payments {
		if existing.TransactionID == p.TransactionID {
			return fmt.Errorf("%w: payment intent already recorded", domain.ErrConflict)
		}
	}
	now := t.m.tick()
	p.CreatedAt, p.UpdatedAt = now, now
	cp := *p
	t.m.payments = append(t.m.payments, &cp)
	return nil
}

func (t *memoryTx) LockPayment(_ context.Context, transactionID string) (*domain.Payment, error) {
	for _, p := range t.m.payments {
		if p.TransactionID == transactionID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("payment %w", domain.ErrNotFound)
}

func (t *memoryTx) transition(match func(*domain.Payment) bool, from domain.PaymentStatus, apply func(*domain.Payment)) (*domain.Payment, error) {
	for _, p := range t.m.payments {
		if !match(p) {
			continue
		}
		if p.Status != from {
			return nil, fmt.Errorf("%w: payment is %s, expected %s", domain.ErrConflict, p.Status, from)
		}
		apply(p)
		p.UpdatedAt = t.m.tick()
		cp := *p
		return &cp, nil
	}
	return nil, fmt.Errorf("payment %w", domain.ErrNotFound)
}

func (t *memoryTx) CompletePayment(_ context.Context, transactionID, providerPaymentID string, capture *domain.CapturePayload) (*domain.Payment, error) {
	return t.transition(
		func(p *domain.Payment) bool { return p.TransactionID == transactionID },
		domain.PaymentStatusPending,
		func(p *domain.Payment) {
			p.Status = domain.PaymentStatusCompleted
			p.ProviderPaymentID = providerPaymentID
			p.Capture = capture
		})
}

func (t *memoryTx) FailPayment(_ context.Context, transactionID string) (*domain.Payment, error) {
	return t.transition(
		func(p *domain.Payment) bool { return p.TransactionID == transactionID },
		domain.PaymentStatusPending,
		func(p *domain.Payment) { p.Status = domain.PaymentStatusFailed })
}

func (t *memoryTx) RefundPayment(_ context.Context, id uuid.UUID, refund *domain.RefundPayload) (*domain.Payment, error) {
	return t.transition(
		func(p *domain.Payment) bool { return p.ID == id },
		domain.PaymentStatusCompleted,
		func(p *domain.Payment) {
			p.Status = domain.PaymentStatusRefunded
			p.Refund = refund
		})
}

func (t *memoryTx) RefundCapture(_ context.Context, id uuid.UUID, providerPaymentID string, capture *domain.CapturePayload, refund *domain.RefundPayload) (*domain.Payment, error) {
	for _, p := range t.m.payments {
		if p.ID != id {
			continue
		}
		if p.Status != domain.PaymentStatusPending && p.Status != domain.PaymentStatusFailed {
			return nil, fmt.Errorf("%w: payment %s is already settled", domain.ErrConflict, id)
		}
		p.Status = domain.PaymentStatusRefunded
		p.ProviderPaymentID = providerPaymentID
		p.Capture = capture
		p.Refund = refund
		p.UpdatedAt = t.m.tick()
		cp := *p
		return &cp, nil
	}
	return nil, fmt.Errorf("payment %w", domain.ErrNotFound)
}

func (t *memoryTx) RecordReservations(_ context.Context, orderID uuid.UUID, lines []domain.StockReservation) error {
	t.m.reserved[orderID] = append(t.m.reserved[orderID], lines...)
	return nil
}

func (t *memoryTx) TakeReservations(_ context.Context, orderID uuid.UUID) ([]domain.StockReservation, error) {
	lines := t.m.reserved[orderID]
	delete(t.m.reserved, orderID)
	return lines, nil
}

func (t *memoryTx) LockCart(_ context.Context, userID string) (*domain.Cart, error) {
	c, ok := t.m.carts[userID]
	if !ok {
		return nil, fmt.Errorf("cart %w", domain.ErrNotFound)
	}
	cp := *c
	cp.Items = append([]domain.CartItem(nil), c.Items...)
	return &cp, nil
}

func (t *memoryTx) ClearCart(_ context.Context, cartID int64) error {
	for _, c := range t.m.carts {
		if c.ID == cartID {
			c.Items = []domain.CartItem{}
			return nil
		}
	}
	return fmt.Errorf("cart %w", domain.ErrNotFound)
}

type fakeGateway struct {
	mu         sync.Mutex
	intents    []gateway.IntentRequest
	captures   map[string]*gateway.Capture
	refunds    []int64
	intentErr  error
	captureErr error
	refundErr  error
	sigErr     error
	next       int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{captures: map[string]*gateway.Capture{}}
}

func (g *fakeGateway) CreateIntent(_ context.Context, req gateway.IntentRequest) (*gateway.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.intentErr != nil {
		return nil, g.intentErr
	}
	g.intents = append(g.intents, req)
	g.next++
	return &gateway.Intent{
		ID:          fmt.Sprintf("order_%d", g.next),
		AmountMinor: req.AmountMinor,
		Currency:    req.Currency,
		Receipt:     req.Receipt,
		Status:      "created",
		Notes:       req.Notes,
	}, nil
}

// capture registers what FetchCapture reports for a provider payment id.
func (g *fakeGateway) capture(paymentID, orderRef, status string, amountMinor int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.captures[paymentID] = &gateway.Capture{
		PaymentID:   paymentID,
		OrderRef:    orderRef,
		Status:      status,
		AmountMinor: amountMinor,
		Currency:    "INR",
	}
}

func (g *fakeGateway) FetchCapture(_ context.Context, paymentID string) (*gateway.Capture, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.captureErr != nil {
		return nil, g.captureErr
	}
	c, ok := g.captures[paymentID]
	if !ok {
		return nil, fmt.Errorf("%w: BAD_REQUEST_ERROR: unknown payment", domain.ErrGatewayRejected)
	}
	cp := *c
	return &cp, nil
}

func (g *fakeGateway) Refund(_ context.Context, paymentID string, amountMinor int64) (*gateway.Refund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	g.refunds = append(g.refunds, amountMinor)
	return &gateway.Refund{
		ID:          fmt.Sprintf("rfnd_%d", len(g.refunds)),
		PaymentID:   paymentID,
		Status:      "processed",
		AmountMinor: amountMinor,
	}, nil
}

func (g *fakeGateway) VerifySignature(_, _, _ string) error {
	return g.sigErr
}

func (g *fakeGateway) refundCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.refunds)
}

type recordingSink struct {
	mu   sync.Mutex
	msgs []notify.Message
	err  error
}

func (s *recordingSink) Send(_ context.Context, msg notify.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *recordingSink) kinds() []notify.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]notify.Kind, 0, len(s.msgs))
	for _, m := range s.msgs {
		out = append(out, m.Kind)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type recordingInvalidator struct {
	mu    sync.Mutex
	users []string
}

func (r *recordingInvalidator) Invalidate(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users = append(r.users, userID)
}
