package order

import (
	"context"
	"fmt"
	"sync"

	"github.com/fjod/go_shop/internal/auth"
	"github.com/fjod/go_shop/internal/domain"
	"github.com/google/uuid"
)

type mockStore struct {
	mu       sync.Mutex
	products map[int64]*domain.Product
	orders   map[uuid.UUID]*domain.Order
	payments map[uuid.UUID][]domain.PaymentStatus
	created  int
}

func newMockStore(products ...*domain.Product) *mockStore {
	m := &mockStore{
		products: map[int64]*domain.Product{},
		orders:   map[uuid.UUID]*domain.Order{},
		payments: map[uuid.UUID][]domain.PaymentStatus{},
	}
	for _, p := range products {
		m.products[p.ID] = p
	}
	return m
}

func (m *mockStore) put(o *domain.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *o
	m.orders[o.ID] = &cp
}

func (m *mockStore) order(id uuid.UUID) *domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.orders[id]
	return &cp
}

func (m *mockStore) GetProducts(_ context.Context, ids []int64) (map[int64]*domain.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[int64]*domain.Product{}
	for _, id := range ids {
		if p, ok := m.products[id]; ok {
			cp := *p
			out[id] = &cp
		}
	}
	return out, nil
}

func (m *mockStore) CreateOrder(_ context.Context, o *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created++
	cp := *o
	cp.Items = append([]domain.OrderItem(nil), o.Items...)
	m.orders[o.ID] = &cp
	return nil
}

func (m *mockStore) GetOrder(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %w", domain.ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

func (m *mockStore) ListOrdersByUser(_ context.Context, userID string) ([]*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*domain.Order{}
	for _, o := range m.orders {
		if o.UserID == userID {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *mockStore) ListOrders(_ context.Context) ([]*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*domain.Order{}
	for _, o := range m.orders {
		cp := *o
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockStore) DeleteOrder(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[id]; !ok {
		return fmt.Errorf("order %w", domain.ErrNotFound)
	}
	delete(m.orders, id)
	return nil
}

func (m *mockStore) InTx(_ context.Context, fn func(Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	orders := map[uuid.UUID]*domain.Order{}
	for k, o := range m.orders {
		cp := *o
		orders[k] = &cp
	}
	payments := map[uuid.UUID][]domain.PaymentStatus{}
	for k, v := range m.payments {
		payments[k] = append([]domain.PaymentStatus(nil), v...)
	}

	if err := fn(&mockTx{m: m}); err != nil {
		m.orders = orders
		m.payments = payments
		return err
	}
	return nil
}

type mockTx struct {
	m *mockStore
}

func (t *mockTx) GetOrderForUpdate(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	o, ok := t.m.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %w", domain.ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

func (t *mockTx) SetOrderStatus(_ context.Context, id uuid.UUID, status domain.OrderStatus) (*domain.Order, error) {
	o, ok := t.m.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %w", domain.ErrNotFound)
	}
	o.OrderStatus = status
	cp := *o
	return &cp, nil
}

func (t *mockTx) CancelOrder(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	o, ok := t.m.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %w", domain.ErrNotFound)
	}
	if o.OrderStatus == domain.OrderStatusDelivered || o.OrderStatus == domain.OrderStatusCancelled {
		return nil, fmt.Errorf("%w: cannot cancel", domain.ErrInvalidState)
	}
	o.OrderStatus = domain.OrderStatusCancelled
	cp := *o
	return &cp, nil
}

func (t *mockTx) FailPendingPayments(_ context.Context, orderID uuid.UUID) (int64, error) {
	var n int64
	for i, s := range t.m.payments[orderID] {
		if s == domain.PaymentStatusPending {
			t.m.payments[orderID][i] = domain.PaymentStatusFailed
			n++
		}
	}
	return n, nil
}

type mockRefunder struct {
	calls []uuid.UUID
	err   error
	store *mockStore
}

func (r *mockRefunder) InitiateRefund(_ context.Context, _ auth.Identity, orderID uuid.UUID) (*domain.Order, *domain.Payment, error) {
	r.calls = append(r.calls, orderID)
	if r.err != nil {
		return nil, nil, r.err
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	o := r.store.orders[orderID]
	o.OrderStatus = domain.OrderStatusCancelled
	cp := *o
	return &cp, &domain.Payment{OrderID: orderID, Status: domain.PaymentStatusRefunded}, nil
}
