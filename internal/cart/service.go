package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_shop/internal/cache"
	"github.com/fjod/go_shop/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type Store interface {
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
	InTx(ctx context.Context, fn func(Tx) error) error
}

// Tx is the slice of a repository transaction the cart mutations need.
type Tx interface {
	EnsureCart(ctx context.Context, userID string) (*domain.Cart, error)
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	UpsertCartItem(ctx context.Context, cartID int64, item domain.CartItem) error
	DeleteCartItem(ctx context.Context, cartID, productID int64) error
	ClearCart(ctx context.Context, cartID int64) error
}

type Service struct {
	store Store
	cache cache.CartCache
	log   *zap.Logger
	sfg   singleflight.Group
}

func NewService(store Store, c cache.CartCache, log *zap.Logger) *Service {
	return &Service{
		store: store,
		cache: c,
		log:   log,
	}
}

func (s *Service) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	// concurrent misses for one user share a single database read
	v, err, _ := s.sfg.Do(userID, func() (interface{}, error) {
		cart, err := s.cache.Get(ctx, userID)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.Warn("cache get error", zap.String("user_id", userID), zap.Error(err))
		}

		// read before the database so an invalidation during the load wins
		gen, genErr := s.cache.Generation(ctx, userID)

		cart, err = s.store.GetCart(ctx, userID)
		if errors.Is(err, domain.ErrNotFound) {
			now := time.Now()
			return &domain.Cart{UserID: userID, Items: []domain.CartItem{}, CreatedAt: now, UpdatedAt: now}, nil
		}
		if err != nil {
			return nil, err
		}

		if genErr == nil {
			go s.fill(userID, cart, gen)
		}
		return cart, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Cart), nil
}

func (s *Service) fill(userID string, cart *domain.Cart, gen int64) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.cache.Set(ctx, userID, cart, gen)
	switch {
	case errors.Is(err, cache.ErrStaleGeneration):
		s.log.Debug("cart changed while loading, not cached", zap.String("user_id", userID))
	case err != nil:
		s.log.Warn("cache set error", zap.String("user_id", userID), zap.Error(err))
	}
}

// AddItem adds quantity of a product, merging with an existing line. The
// line price is the product's current effective price.
func (s *Service) AddItem(ctx context.Context, userID string, productID int64, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", domain.ErrValidation)
	}
	return s.mutate(ctx, userID, func(tx Tx, cart *domain.Cart) error {
		product, err := tx.GetProduct(ctx, productID)
		if err != nil {
			return err
		}

		total := quantity
		for _, item := range cart.Items {
			if item.ProductID == productID {
				total += item.Quantity
			}
		}
		if err := checkStock(product, total); err != nil {
			return err
		}
		return tx.UpsertCartItem(ctx, cart.ID, domain.CartItem{
			ProductID: productID,
			Quantity:  total,
			Price:     product.EffectivePrice(),
		})
	})
}

func (s *Service) UpdateQuantity(ctx context.Context, userID string, productID int64, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive", domain.ErrValidation)
	}
	return s.mutate(ctx, userID, func(tx Tx, cart *domain.Cart) error {
		found := false
		for _, item := range cart.Items {
			if item.ProductID == productID {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("cart item %d %w", productID, domain.ErrNotFound)
		}

		product, err := tx.GetProduct(ctx, productID)
		if err != nil {
			return err
		}
		if err := checkStock(product, quantity); err != nil {
			return err
		}
		return tx.UpsertCartItem(ctx, cart.ID, domain.CartItem{
			ProductID: productID,
			Quantity:  quantity,
			Price:     product.EffectivePrice(),
		})
	})
}

func (s *Service) RemoveItem(ctx context.Context, userID string, productID int64) error {
	return s.mutate(ctx, userID, func(tx Tx, cart *domain.Cart) error {
		return tx.DeleteCartItem(ctx, cart.ID, productID)
	})
}

func (s *Service) ClearCart(ctx context.Context, userID string) error {
	return s.mutate(ctx, userID, func(tx Tx, cart *domain.Cart) error {
		return tx.ClearCart(ctx, cart.ID)
	})
}

// Invalidate drops the cached copy. Settlement calls it after it cleared the
// cart in its own transaction.
func (s *Service) Invalidate(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.log.Warn("cache invalidate error", zap.String("user_id", userID), zap.Error(err))
	}
}

// mutate locks the user's cart row for the whole change, which also orders
// it against a settlement clearing the same cart.
func (s *Service) mutate(ctx context.Context, userID string, fn func(Tx, *domain.Cart) error) error {
	err := s.store.InTx(ctx, func(tx Tx) error {
		cart, err := tx.EnsureCart(ctx, userID)
		if err != nil {
			return err
		}
		return fn(tx, cart)
	})
	if err != nil {
		return err
	}
	s.Invalidate(userID)
	return nil
}

// checkStock is a soft check; settlement validates stock again.
func checkStock(product *domain.Product, quantity int) error {
	if quantity > product.Stock {
		return fmt.Errorf("%w: only %d of product %d left", domain.ErrInsufficientStock, product.Stock, product.ID)
	}
	return nil
}
