// Package inventory owns per-product stock counters. Stock only moves inside
// a caller-supplied transaction scope that holds the product row lock.
package inventory

import (
	"context"
	"fmt"

	"github.com/fjod/go_shop/internal/domain"
	"go.uber.org/zap"
)

// Scope is a transaction that can lock and rewrite a stock counter.
type Scope interface {
	LockStock(ctx context.Context, productID int64) (int, error)
	WriteStock(ctx context.Context, productID int64, stock int) error
}

// Store opens scopes for the admin stock operations.
type Store interface {
	StockLevel(ctx context.Context, productID int64) (int, error)
	InScope(ctx context.Context, fn func(Scope) error) error
}

type Ledger struct {
	store Store
	log   *zap.Logger
}

func NewLedger(store Store, log *zap.Logger) *Ledger {
	return &Ledger{store: store, log: log}
}

// Reserve takes qty units of a product out of stock.
func (l *Ledger) Reserve(ctx context.Context, scope Scope, productID int64, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %d", domain.ErrValidation, qty)
	}

	stock, err := scope.LockStock(ctx, productID)
	if err != nil {
		return err
	}
	if qty > stock {
		return fmt.Errorf("%w: product %d has %d, requested %d", domain.ErrInsufficientStock, productID, stock, qty)
	}

	if err := scope.WriteStock(ctx, productID, stock-qty); err != nil {
		return err
	}
	l.log.Debug("stock reserved",
		zap.Int64("product_id", productID),
		zap.Int("quantity", qty),
		zap.Int("remaining", stock-qty))
	return nil
}

// Release puts qty units back, e.g. after a refund of goods that never shipped.
func (l *Ledger) Release(ctx context.Context, scope Scope, productID int64, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %d", domain.ErrValidation, qty)
	}

	stock, err := scope.LockStock(ctx, productID)
	if err != nil {
		return err
	}
	if err := scope.WriteStock(ctx, productID, stock+qty); err != nil {
		return err
	}
	l.log.Debug("stock released",
		zap.Int64("product_id", productID),
		zap.Int("quantity", qty),
		zap.Int("remaining", stock+qty))
	return nil
}

func (l *Ledger) GetStock(ctx context.Context, productID int64) (int, error) {
	return l.store.StockLevel(ctx, productID)
}

// SetStock overwrites a counter. Admin restocking goes through here.
func (l *Ledger) SetStock(ctx context.Context, productID int64, stock int) error {
	if stock < 0 {
		return fmt.Errorf("%w: stock cannot be negative", domain.ErrValidation)
	}
	return l.store.InScope(ctx, func(scope Scope) error {
		previous, err := scope.LockStock(ctx, productID)
		if err != nil {
			return err
		}
		if err := scope.WriteStock(ctx, productID, stock); err != nil {
			return err
		}
		l.log.Info("stock set",
			zap.Int64("product_id", productID),
			zap.Int("previous", previous),
			zap.Int("stock", stock))
		return nil
	})
}
