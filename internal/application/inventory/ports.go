package inventory

import (
	"context"
	"time"

	dominv "github.com/Zhima-Mochi/minishop-saga/internal/domain/inventory"
)

// Lookup is the result of a cache read. Generation must be handed back to Put
// so that a value computed before an invalidation is never served after it.
type Lookup struct {
	Value      []byte
	Hit        bool
	Generation uint64
}

// Cache is the catalog read cache. Entries are derived state only.
type Cache interface {
	Get(ctx context.Context, key dominv.CacheKey) (Lookup, error)
	Put(ctx context.Context, key dominv.CacheKey, generation uint64, value []byte, ttl time.Duration) error
	// InvalidateByEntity drops every entry keyed on productID.
	InvalidateByEntity(ctx context.Context, productID string) error
	// InvalidateListings drops every listing entry.
	InvalidateListings(ctx context.Context) error
}

type IDGenerator interface {
	NewID() string
}

type noCache struct{}

func (noCache) Get(context.Context, dominv.CacheKey) (Lookup, error) { return Lookup{}, nil }
func (noCache) Put(context.Context, dominv.CacheKey, uint64, []byte, time.Duration) error {
	return nil
}
func (noCache) InvalidateByEntity(context.Context, string) error { return nil }
func (noCache) InvalidateListings(context.Context) error         { return nil }
