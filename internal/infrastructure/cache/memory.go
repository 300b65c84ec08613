package cache

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	appinv "github.com/Zhima-Mochi/minishop-saga/internal/application/inventory"
	dominv "github.com/Zhima-Mochi/minishop-saga/internal/domain/inventory"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is an in-process TTL cache with per-product and listing
// generations.
type Memory struct {
	mu          sync.Mutex
	entries     map[string]entry
	generations map[string]uint64
	listingGen  uint64
	now         func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		entries:     make(map[string]entry),
		generations: make(map[string]uint64),
		now:         time.Now,
	}
}

func (m *Memory) Get(ctx context.Context, key dominv.CacheKey) (appinv.Lookup, error) {
	_ = ctx

	m.mu.Lock()
	defer m.mu.Unlock()

	gen := m.generation(key)
	dk := dataKey(key, gen)
	e, ok := m.entries[dk]
	if !ok {
		return appinv.Lookup{Generation: gen}, nil
	}
	if !m.now().Before(e.expiresAt) {
		delete(m.entries, dk)
		return appinv.Lookup{Generation: gen}, nil
	}
	return appinv.Lookup{Value: append([]byte(nil), e.value...), Hit: true, Generation: gen}, nil
}

// Put stores value only when generation is still current; an older
// generation means the value was read before an invalidation.
func (m *Memory) Put(ctx context.Context, key dominv.CacheKey, generation uint64, value []byte, ttl time.Duration) error {
	_ = ctx

	m.mu.Lock()
	defer m.mu.Unlock()

	if generation != m.generation(key) {
		return nil
	}
	m.entries[dataKey(key, generation)] = entry{
		value:     append([]byte(nil), value...),
		expiresAt: m.now().Add(ttl),
	}
	return nil
}

func (m *Memory) InvalidateByEntity(ctx context.Context, productID string) error {
	_ = ctx

	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.generations[productID]
	delete(m.entries, dataKey(dominv.ProductKey(productID), old))
	m.generations[productID] = old + 1
	return nil
}

func (m *Memory) InvalidateListings(ctx context.Context) error {
	_ = ctx

	m.mu.Lock()
	defer m.mu.Unlock()

	m.listingGen++
	for k := range m.entries {
		if isListingData(k) {
			delete(m.entries, k)
		}
	}
	return nil
}

func (m *Memory) generation(key dominv.CacheKey) uint64 {
	if key.IsListing() {
		return m.listingGen
	}
	return m.generations[key.Entity]
}

func dataKey(key dominv.CacheKey, gen uint64) string {
	return key.Name + "@" + strconv.FormatUint(gen, 10)
}

func isListingData(k string) bool {
	return strings.HasPrefix(k, "products:list:")
}
