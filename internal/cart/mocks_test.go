package cart

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fjod/go_shop/internal/domain"
)

type mockStore struct {
	mu       sync.Mutex
	products map[int64]*domain.Product
	carts    map[string]*domain.Cart
	reads    int
	nextID   int64
	// onRead runs inside GetCart after the cart was copied
	onRead func()
}

func newMockStore(products ...*domain.Product) *mockStore {
	m := &mockStore{products: map[int64]*domain.Product{}, carts: map[string]*domain.Cart{}}
	for _, p := range products {
		m.products[p.ID] = p
	}
	return m
}

func (m *mockStore) GetCart(_ context.Context, userID string) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	c, ok := m.carts[userID]
	if !ok {
		return nil, fmt.Errorf("cart %w", domain.ErrNotFound)
	}
	cp := *c
	cp.Items = append([]domain.CartItem{}, c.Items...)
	if m.onRead != nil {
		m.onRead()
	}
	return &cp, nil
}

func (m *mockStore) readCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

func (m *mockStore) InTx(_ context.Context, fn func(Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := map[string]*domain.Cart{}
	for k, c := range m.carts {
		cp := *c
		cp.Items = append([]domain.CartItem{}, c.Items...)
		snapshot[k] = &cp
	}
	if err := fn(&mockTx{m: m}); err != nil {
		m.carts = snapshot
		return err
	}
	return nil
}

type mockTx struct {
	m *mockStore
}

func (t *mockTx) cartByID(id int64) *domain.Cart {
	for _, c := range t.m.carts {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (t *mockTx) EnsureCart(_ context.Context, userID string) (*domain.Cart, error) {
	c, ok := t.m.carts[userID]
	if !ok {
		t.m.nextID++
		c = &domain.Cart{ID: t.m.nextID, UserID: userID, Items: []domain.CartItem{}}
		t.m.carts[userID] = c
	}
	cp := *c
	cp.Items = append([]domain.CartItem{}, c.Items...)
	return &cp, nil
}

func (t *mockTx) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	p, ok := t.m.products[id]
	if !ok {
		return nil, fmt.Errorf("product %w", domain.ErrNotFound)
	}
	return p, nil
}

func (t *mockTx) UpsertCartItem(_ context.Context, cartID int64, item domain.CartItem) error {
	c := t.cartByID(cartID)
	for i := range c.Items {
		if c.Items[i].ProductID == item.ProductID {
			c.Items[i] = item
			return nil
		}
	}
	c.Items = append(c.Items, item)
	sort.Slice(c.Items, func(i, j int) bool { return c.Items[i].ProductID < c.Items[j].ProductID })
	return nil
}

func (t *mockTx) DeleteCartItem(_ context.Context, cartID, productID int64) error {
	c := t.cartByID(cartID)
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("cart item %d %w", productID, domain.ErrNotFound)
}

func (t *mockTx) ClearCart(_ context.Context, cartID int64) error {
	t.cartByID(cartID).Items = []domain.CartItem{}
	return nil
}
