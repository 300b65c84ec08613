package inventory

import (
	"context"

	"github.com/Zhima-Mochi/minishop-saga/internal/pkg/paging"
	"github.com/shopspring/decimal"
)

// Repository is the authoritative Inventory Store. Deleted products behave as
// missing for every operation.
type Repository interface {
	Get(ctx context.Context, id string) (*Product, error)
	// GetMany returns the non-deleted products among ids, keyed by id.
	// Missing ids are absent from the map.
	GetMany(ctx context.Context, ids []string) (map[string]*Product, error)
	// GetBySKU returns the live product holding sku.
	GetBySKU(ctx context.Context, sku string) (*Product, error)
	List(ctx context.Context, page paging.Page) ([]*Product, int, error)
	// Create inserts p. It never overwrites: an id already present, deleted
	// or not, and a sku held by another live product fail with ErrDuplicate.
	Create(ctx context.Context, p *Product) error
	UpdatePrice(ctx context.Context, id string, price decimal.Decimal) (*Product, error)
	SetStock(ctx context.Context, id string, stock int) (*Product, error)
	SoftDelete(ctx context.Context, id string) error

	// DeductIfAvailable decrements stock by quantity only when stock >=
	// quantity, as one indivisible operation. It returns the remaining stock.
	DeductIfAvailable(ctx context.Context, id string, quantity int) (int, error)
	// Restock credits quantity back and returns the new stock.
	Restock(ctx context.Context, id string, quantity int) (int, error)
}
