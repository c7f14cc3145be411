package inventory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fjod/go_shop/internal/domain"
)

// memoryStore serializes scopes with one mutex and discards writes of a
// scope that returns an error.
type memoryStore struct {
	mu     sync.Mutex
	stocks map[int64]int
}

func newMemoryStore(stocks map[int64]int) *memoryStore {
	return &memoryStore{stocks: stocks}
}

func (m *memoryStore) StockLevel(_ context.Context, productID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stock, ok := m.stocks[productID]
	if !ok {
		return 0, fmt.Errorf("product %w", domain.ErrNotFound)
	}
	return stock, nil
}

func (m *memoryStore) InScope(_ context.Context, fn func(Scope) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	scope := &memoryScope{base: m.stocks, writes: map[int64]int{}}
	if err := fn(scope); err != nil {
		return err
	}
	for id, stock := range scope.writes {
		m.stocks[id] = stock
	}
	return nil
}

type memoryScope struct {
	base   map[int64]int
	writes map[int64]int
	failOn error
}

func (s *memoryScope) LockStock(_ context.Context, productID int64) (int, error) {
	if stock, ok := s.writes[productID]; ok {
		return stock, nil
	}
	stock, ok := s.base[productID]
	if !ok {
		return 0, fmt.Errorf("product %w", domain.ErrNotFound)
	}
	return stock, nil
}

func (s *memoryScope) WriteStock(_ context.Context, productID int64, stock int) error {
	if s.failOn != nil {
		return s.failOn
	}
	if stock < 0 {
		return errors.New("check constraint violated")
	}
	s.writes[productID] = stock
	return nil
}
