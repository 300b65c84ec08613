package inventory

import (
	"context"
	"errors"
	"sync"
	"time"

	dominv "github.com/Zhima-Mochi/minishop-saga/internal/domain/inventory"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability/logctx"
)

const invalidateTimeout = 500 * time.Millisecond

// CacheGuard invalidates catalog cache entries after stock, price or deletion
// changes. When an invalidation fails the affected keys are marked dirty and
// reads bypass the cache until a later invalidation succeeds.
type CacheGuard struct {
	cache Cache
	log   observability.Logger

	mu            sync.Mutex
	dirty         map[string]struct{}
	listingsDirty bool
}

func NewCacheGuard(cache Cache, tel observability.Observability) *CacheGuard {
	if tel == nil {
		tel = observability.Nop()
	}
	if cache == nil {
		cache = noCache{}
	}
	return &CacheGuard{
		cache: cache,
		log:   tel.Logger().With(observability.F("component", "catalog_cache")),
		dirty: make(map[string]struct{}),
	}
}

// Invalidate drops the entries of every product in productIDs plus all
// listings. It runs detached from ctx cancellation so a departing caller
// cannot leave stale entries behind.
func (g *CacheGuard) Invalidate(ctx context.Context, productIDs ...string) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), invalidateTimeout)
	defer cancel()
	logger := logctx.FromOr(ctx, g.log)

	var errs []error
	for _, id := range productIDs {
		if err := g.cache.InvalidateByEntity(ctx, id); err != nil {
			g.markDirty(id)
			logger.Warn("cache_invalidation_failed",
				observability.F("product_id", id),
				observability.F("error", err.Error()),
			)
			errs = append(errs, err)
			continue
		}
		g.clearDirty(id)
	}
	if err := g.cache.InvalidateListings(ctx); err != nil {
		g.markListingsDirty(true)
		logger.Warn("cache_invalidation_failed",
			observability.F("scope", "listings"),
			observability.F("error", err.Error()),
		)
		errs = append(errs, err)
	} else {
		g.markListingsDirty(false)
	}
	return errors.Join(errs...)
}

// Usable reports whether key may be served from the cache. A dirty key gets
// one more invalidation attempt first.
func (g *CacheGuard) Usable(ctx context.Context, key dominv.CacheKey) bool {
	g.mu.Lock()
	_, entityDirty := g.dirty[key.Entity]
	listingsDirty := g.listingsDirty
	g.mu.Unlock()

	if key.IsListing() {
		if !listingsDirty {
			return true
		}
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), invalidateTimeout)
		defer cancel()
		if err := g.cache.InvalidateListings(ctx); err != nil {
			return false
		}
		g.markListingsDirty(false)
		return true
	}

	if !entityDirty {
		return true
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), invalidateTimeout)
	defer cancel()
	if err := g.cache.InvalidateByEntity(ctx, key.Entity); err != nil {
		return false
	}
	g.clearDirty(key.Entity)
	return true
}

func (g *CacheGuard) markDirty(id string) {
	g.mu.Lock()
	g.dirty[id] = struct{}{}
	g.mu.Unlock()
}

func (g *CacheGuard) clearDirty(id string) {
	g.mu.Lock()
	delete(g.dirty, id)
	g.mu.Unlock()
}

func (g *CacheGuard) markListingsDirty(v bool) {
	g.mu.Lock()
	g.listingsDirty = v
	g.mu.Unlock()
}
