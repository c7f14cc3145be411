package cache

import (
	"context"
	"errors"

	"github.com/fjod/go_shop/internal/domain"
)

// CartCache holds read copies of carts. Every Delete starts a new generation
// for the user; Set only stores a cart loaded under the current generation.
type CartCache interface {
	Get(ctx context.Context, userID string) (*domain.Cart, error)
	Generation(ctx context.Context, userID string) (int64, error)
	Set(ctx context.Context, userID string, cart *domain.Cart, generation int64) error
	Delete(ctx context.Context, userID string) error
}

var (
	ErrCacheMiss = errors.New("cache miss")
	// ErrStaleGeneration means the cart was invalidated after it was loaded.
	ErrStaleGeneration = errors.New("cart invalidated since it was loaded")
)

// Noop is used when no Redis is configured; every read misses.
type Noop struct{}

func (Noop) Get(context.Context, string) (*domain.Cart, error)      { return nil, ErrCacheMiss }
func (Noop) Generation(context.Context, string) (int64, error)      { return 0, nil }
func (Noop) Set(context.Context, string, *domain.Cart, int64) error { return nil }
func (Noop) Delete(context.Context, string) error                   { return nil }
