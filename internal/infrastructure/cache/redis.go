package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	appinv "github.com/Zhima-Mochi/minishop-saga/internal/application/inventory"
	dominv "github.com/Zhima-Mochi/minishop-saga/internal/domain/inventory"
	"github.com/redis/go-redis/v9"
)

const (
	entityGenPrefix = "products:gen:id:"
	listingGenKey   = "products:gen:list"
)

// Redis stores catalog entries under generation-suffixed keys. Invalidation
// increments the generation, so entries written for an older generation are
// never read again and simply expire.
type Redis struct {
	client *redis.Client
}

func NewRedis(redisURL string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &Redis{client: client}, nil
}

func NewRedisFromClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) Get(ctx context.Context, key dominv.CacheKey) (appinv.Lookup, error) {
	gen, err := r.generation(ctx, key)
	if err != nil {
		return appinv.Lookup{}, err
	}
	value, err := r.client.Get(ctx, dataKey(key, gen)).Bytes()
	if errors.Is(err, redis.Nil) {
		return appinv.Lookup{Generation: gen}, nil
	}
	if err != nil {
		return appinv.Lookup{}, fmt.Errorf("redis get %s: %w", key.Name, err)
	}
	return appinv.Lookup{Value: value, Hit: true, Generation: gen}, nil
}

func (r *Redis) Put(ctx context.Context, key dominv.CacheKey, generation uint64, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, dataKey(key, generation), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key.Name, err)
	}
	return nil
}

func (r *Redis) InvalidateByEntity(ctx context.Context, productID string) error {
	if err := r.client.Incr(ctx, entityGenPrefix+productID).Err(); err != nil {
		return fmt.Errorf("redis invalidate %s: %w", productID, err)
	}
	return nil
}

func (r *Redis) InvalidateListings(ctx context.Context) error {
	if err := r.client.Incr(ctx, listingGenKey).Err(); err != nil {
		return fmt.Errorf("redis invalidate listings: %w", err)
	}
	return nil
}

func (r *Redis) generation(ctx context.Context, key dominv.CacheKey) (uint64, error) {
	genKey := listingGenKey
	if !key.IsListing() {
		genKey = entityGenPrefix + key.Entity
	}
	gen, err := r.client.Get(ctx, genKey).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis generation %s: %w", genKey, err)
	}
	return gen, nil
}
