package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	domain "github.com/Zhima-Mochi/minishop-saga/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-saga/internal/pkg/paging"
)

type OrderRepository struct {
	mu     sync.RWMutex
	orders map[string]*domain.Order
	now    func() time.Time
}

func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders: make(map[string]*domain.Order),
		now:    time.Now,
	}
}

func (r *OrderRepository) CreateWithItems(ctx context.Context, order *domain.Order) error {
	_ = ctx
	if order == nil || order.ID == "" {
		return fmt.Errorf("order repository: id is required")
	}
	if len(order.Items) == 0 {
		return domain.ErrNoItems
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.orders[order.ID]; exists {
		return domain.ErrConflict
	}
	r.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.live(id)
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneOrder(order), nil
}

func (r *OrderRepository) ListByBuyer(ctx context.Context, buyerID string, page paging.Page) (*domain.ListResult, error) {
	_ = ctx
	return r.list(page, func(o *domain.Order) bool { return o.BuyerID == buyerID }), nil
}

func (r *OrderRepository) ListAll(ctx context.Context, page paging.Page) (*domain.ListResult, error) {
	_ = ctx
	return r.list(page, func(*domain.Order) bool { return true }), nil
}

func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, to domain.Status) (*domain.Order, error) {
	_ = ctx
	if !to.Valid() {
		return nil, domain.ErrInvalidStatus
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.live(id)
	if !ok {
		return nil, domain.ErrNotFound
	}
	if _, err := order.TransitionTo(to, r.now()); err != nil {
		return nil, err
	}
	return cloneOrder(order), nil
}

func (r *OrderRepository) SoftDelete(ctx context.Context, id string) (*domain.Order, error) {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	order, ok := r.live(id)
	if !ok {
		return nil, domain.ErrNotFound
	}
	order.MarkDeleted(r.now())
	return cloneOrder(order), nil
}

func (r *OrderRepository) StatsInRange(ctx context.Context, start, end time.Time) (*domain.Stats, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	buckets := make(map[domain.Status]domain.StatusBucket)
	for _, o := range r.orders {
		if o.Deleted || o.CreatedAt.Before(start) || !o.CreatedAt.Before(end) {
			continue
		}
		b := buckets[o.Status]
		b.Count++
		b.Revenue = b.Revenue.Add(o.Total)
		buckets[o.Status] = b
	}
	return domain.NewStats(start, end, buckets), nil
}

func (r *OrderRepository) list(page paging.Page, keep func(*domain.Order) bool) *domain.ListResult {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]*domain.Order, 0)
	for _, o := range r.orders {
		if !o.Deleted && keep(o) {
			matched = append(matched, o)
		}
	}
	// Newest first, ties broken by id for a stable order.
	slices.SortFunc(matched, func(a, b *domain.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	window := paging.Slice(matched, page)
	out := make([]*domain.Order, 0, len(window))
	for _, o := range window {
		out = append(out, cloneOrder(o))
	}
	return &domain.ListResult{Orders: out, Total: len(matched)}
}

func (r *OrderRepository) live(id string) (*domain.Order, bool) {
	order, ok := r.orders[id]
	if !ok || order.Deleted {
		return nil, false
	}
	return order, true
}

func cloneOrder(order *domain.Order) *domain.Order {
	if order == nil {
		return nil
	}
	return order.Clone()
}
