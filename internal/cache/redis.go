package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/fjod/go_shop/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	defaultTTL    = 15 * time.Minute
	maxJitter     = 5 // minutes
	generationTTL = 24 * time.Hour
)

// KEYS: cart, generation. ARGV: expected generation, payload, ttl seconds.
var setIfCurrent = redis.NewScript(`
local gen = redis.call('GET', KEYS[2]) or '0'
if gen ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'EX', ARGV[3])
return 1
`)

// KEYS: cart, generation. ARGV: generation ttl seconds.
var dropAndAdvance = redis.NewScript(`
redis.call('DEL', KEYS[1])
local gen = redis.call('INCR', KEYS[2])
redis.call('EXPIRE', KEYS[2], ARGV[1])
return gen
`)

// RedisCache stores each cart as JSON next to a generation counter. Both
// scripts run atomically on the server, so a Set racing a Delete either
// lands before the drop or is refused.
type RedisCache struct {
	client  redis.UniversalClient
	baseTTL time.Duration
}

func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client, baseTTL: defaultTTL}
}

func (r *RedisCache) Get(ctx context.Context, userID string) (*domain.Cart, error) {
	data, err := r.client.Get(ctx, cartKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get cart: %w", err)
	}

	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("decode cached cart: %w", err)
	}
	return &cart, nil
}

// Generation is the user's current cart generation; zero until the first
// invalidation.
func (r *RedisCache) Generation(ctx context.Context, userID string) (int64, error) {
	gen, err := r.client.Get(ctx, generationKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get cart generation: %w", err)
	}
	return gen, nil
}

// Set stores the cart with a jittered TTL, or returns ErrStaleGeneration when
// the user's carts were invalidated after generation was read.
func (r *RedisCache) Set(ctx context.Context, userID string, cart *domain.Cart, generation int64) error {
	data, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}

	ttl := r.baseTTL + time.Duration(rand.Intn(maxJitter))*time.Minute
	stored, err := setIfCurrent.Run(ctx, r.client,
		[]string{cartKey(userID), generationKey(userID)},
		strconv.FormatInt(generation, 10), data, int64(ttl/time.Second),
	).Int()
	if err != nil {
		return fmt.Errorf("redis set cart: %w", err)
	}
	if stored == 0 {
		return ErrStaleGeneration
	}
	return nil
}

// Delete drops the cached cart and advances the generation.
func (r *RedisCache) Delete(ctx context.Context, userID string) error {
	err := dropAndAdvance.Run(ctx, r.client,
		[]string{cartKey(userID), generationKey(userID)},
		int64(generationTTL/time.Second),
	).Err()
	if err != nil {
		return fmt.Errorf("redis invalidate cart: %w", err)
	}
	return nil
}

func cartKey(userID string) string {
	return "cart:" + userID
}

func generationKey(userID string) string {
	return "cart:" + userID + ":gen"
}
