package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	domain "github.com/Zhima-Mochi/minishop-saga/internal/domain/inventory"
	"github.com/Zhima-Mochi/minishop-saga/internal/pkg/paging"
	"github.com/shopspring/decimal"
)

// InventoryRepository keeps products in a map. A single mutex makes every
// conditional decrement indivisible.
type InventoryRepository struct {
	mu    sync.RWMutex
	items map[string]*domain.Product
}

func NewInventoryRepository(seed ...*domain.Product) *InventoryRepository {
	r := &InventoryRepository{
		items: make(map[string]*domain.Product, len(seed)),
	}
	for _, p := range seed {
		if p != nil {
			r.items[p.ID] = cloneProduct(p)
		}
	}
	return r
}

func (r *InventoryRepository) Get(ctx context.Context, id string) (*domain.Product, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.live(id)
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneProduct(p), nil
}

func (r *InventoryRepository) GetMany(ctx context.Context, ids []string) (map[string]*domain.Product, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]*domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := r.live(id); ok {
			out[id] = cloneProduct(p)
		}
	}
	return out, nil
}

func (r *InventoryRepository) List(ctx context.Context, page paging.Page) ([]*domain.Product, int, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*domain.Product, 0, len(r.items))
	for _, p := range r.items {
		if !p.Deleted {
			all = append(all, p)
		}
	}
	slices.SortFunc(all, func(a, b *domain.Product) int { return strings.Compare(a.ID, b.ID) })

	window := paging.Slice(all, page)
	out := make([]*domain.Product, 0, len(window))
	for _, p := range window {
		out = append(out, cloneProduct(p))
	}
	return out, len(all), nil
}

func (r *InventoryRepository) GetBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	if p, ok := r.liveSKU(sku); ok {
		return cloneProduct(p), nil
	}
	return nil, domain.ErrNotFound
}

// Create keeps soft-deleted rows reserved: their ids are never reused.
func (r *InventoryRepository) Create(ctx context.Context, p *domain.Product) error {
	_ = ctx
	if p == nil || p.ID == "" {
		return domain.ErrInvalidProduct
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.items[p.ID]; taken {
		return fmt.Errorf("%w: id %s", domain.ErrDuplicate, p.ID)
	}
	if _, taken := r.liveSKU(p.SKU); taken {
		return fmt.Errorf("%w: sku %s", domain.ErrDuplicate, p.SKU)
	}
	r.items[p.ID] = cloneProduct(p)
	return nil
}

func (r *InventoryRepository) UpdatePrice(ctx context.Context, id string, price decimal.Decimal) (*domain.Product, error) {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.live(id)
	if !ok {
		return nil, domain.ErrNotFound
	}
	p.Price = price
	p.UpdatedAt = time.Now().UTC()
	return cloneProduct(p), nil
}

func (r *InventoryRepository) SetStock(ctx context.Context, id string, stock int) (*domain.Product, error) {
	_ = ctx
	if stock < 0 {
		return nil, domain.ErrInvalidStock
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.live(id)
	if !ok {
		return nil, domain.ErrNotFound
	}
	p.Stock = stock
	p.UpdatedAt = time.Now().UTC()
	return cloneProduct(p), nil
}

func (r *InventoryRepository) SoftDelete(ctx context.Context, id string) error {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.live(id)
	if !ok {
		return domain.ErrNotFound
	}
	p.Deleted = true
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *InventoryRepository) DeductIfAvailable(ctx context.Context, id string, quantity int) (int, error) {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.live(id)
	if !ok {
		return 0, domain.ErrNotFound
	}
	if err := p.Deduct(quantity); err != nil {
		return p.Stock, err
	}
	return p.Stock, nil
}

// Restock credits deleted products too, so compensation never loses units.
func (r *InventoryRepository) Restock(ctx context.Context, id string, quantity int) (int, error) {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.items[id]
	if !ok {
		return 0, domain.ErrNotFound
	}
	if err := p.Restock(quantity); err != nil {
		return p.Stock, err
	}
	return p.Stock, nil
}

func (r *InventoryRepository) live(id string) (*domain.Product, bool) {
	p, ok := r.items[id]
	if !ok || p.Deleted {
		return nil, false
	}
	return p, true
}

// liveSKU finds the live product holding sku. An empty sku matches nothing.
func (r *InventoryRepository) liveSKU(sku string) (*domain.Product, bool) {
	if sku == "" {
		return nil, false
	}
	for _, p := range r.items {
		if !p.Deleted && p.SKU == sku {
			return p, true
		}
	}
	return nil, false
}

func cloneProduct(p *domain.Product) *domain.Product {
	return p.Clone()
}
