package inventory_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	appinv "github.com/Zhima-Mochi/minishop-saga/internal/application/inventory"
	dominv "github.com/Zhima-Mochi/minishop-saga/internal/domain/inventory"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/cache"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/memory"
	"github.com/Zhima-Mochi/minishop-saga/internal/pkg/apperr"
	"github.com/Zhima-Mochi/minishop-saga/internal/pkg/paging"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyCache serves stale entries while its invalidations are switched off.
type flakyCache struct {
	*cache.Memory
	failInvalidate atomic.Bool
}

var errCacheDown = errors.New("cache down")

func (c *flakyCache) InvalidateByEntity(ctx context.Context, id string) error {
	if c.failInvalidate.Load() {
		return errCacheDown
	}
	return c.Memory.InvalidateByEntity(ctx, id)
}

func (c *flakyCache) InvalidateListings(ctx context.Context) error {
	if c.failInvalidate.Load() {
		return errCacheDown
	}
	return c.Memory.InvalidateListings(ctx)
}

// countingRepo counts store reads so tests can tell hits from misses.
type countingRepo struct {
	*memory.InventoryRepository
	gets atomic.Int32
}

func (r *countingRepo) Get(ctx context.Context, id string) (*dominv.Product, error) {
	r.gets.Add(1)
	return r.InventoryRepository.Get(ctx, id)
}

func TestGetProductReadsThroughCache(t *testing.T) {
	repo := &countingRepo{InventoryRepository: memory.NewInventoryRepository(product(t, "P", "9.99", 4))}
	f := newFixture(repo, nil)
	ctx := context.Background()

	first, err := f.catalog.GetProduct(ctx, "P")
	require.NoError(t, err)
	second, err := f.catalog.GetProduct(ctx, "P")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, "9.99", second.Price)
	assert.EqualValues(t, 1, repo.gets.Load())
}

func TestMutationsAreVisibleToTheNextRead(t *testing.T) {
	repo := memory.NewInventoryRepository(product(t, "P", "10.00", 4))
	f := newFixture(repo, nil)
	ctx := context.Background()

	_, err := f.catalog.GetProduct(ctx, "P")
	require.NoError(t, err)
	_, err = f.catalog.ListProducts(ctx, paging.New(1, 10))
	require.NoError(t, err)

	_, err = f.catalog.SetStock(ctx, "P", 9)
	require.NoError(t, err)
	view, err := f.catalog.GetProduct(ctx, "P")
	require.NoError(t, err)
	assert.Equal(t, 9, view.Stock)

	_, err = f.catalog.UpdatePrice(ctx, "P", decimal.RequireFromString("12.50"))
	require.NoError(t, err)
	list, err := f.catalog.ListProducts(ctx, paging.New(1, 10))
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "12.50", list.Items[0].Price)

	require.NoError(t, f.catalog.DeleteProduct(ctx, "P"))
	_, err = f.catalog.GetProduct(ctx, "P")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	list, err = f.catalog.ListProducts(ctx, paging.New(1, 10))
	require.NoError(t, err)
	assert.Empty(t, list.Items)
}

func TestFailedInvalidationBypassesCacheUntilRepaired(t *testing.T) {
	repo := memory.NewInventoryRepository(product(t, "P", "10.00", 4))
	c := &flakyCache{Memory: cache.NewMemory()}
	f := newFixture(repo, c)
	ctx := context.Background()

	_, err := f.catalog.GetProduct(ctx, "P")
	require.NoError(t, err)

	c.failInvalidate.Store(true)
	_, err = f.catalog.SetStock(ctx, "P", 1)
	require.NoError(t, err)

	view, err := f.catalog.GetProduct(ctx, "P")
	require.NoError(t, err)
	assert.Equal(t, 1, view.Stock, "stale entry must not be served")

	c.failInvalidate.Store(false)
	view, err = f.catalog.GetProduct(ctx, "P")
	require.NoError(t, err)
	assert.Equal(t, 1, view.Stock)
	assert.True(t, f.guard.Usable(ctx, dominv.ProductKey("P")))
}

func TestCreateProductValidates(t *testing.T) {
	f := newFixture(memory.NewInventoryRepository(), nil)

	_, err := f.catalog.CreateProduct(context.Background(), appinv.CreateProductInput{ID: "x", Name: "", Price: decimal.NewFromInt(1)})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	view, err := f.catalog.CreateProduct(context.Background(), appinv.CreateProductInput{ID: "x", Name: "Thing", Price: decimal.NewFromInt(3), Stock: 2})
	require.NoError(t, err)
	assert.Equal(t, "3.00", view.Price)
}

func TestAvailabilityOmitsMissingAndDeleted(t *testing.T) {
	repo := memory.NewInventoryRepository(product(t, "A", "1.00", 1), product(t, "B", "2.00", 2))
	require.NoError(t, repo.SoftDelete(context.Background(), "B"))
	f := newFixture(repo, nil)

	got, err := f.catalog.Availability(context.Background(), []string{"A", "B", "C"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 1, got["A"].Stock)
}

func TestCreateProductNeverRevivesDeleted(t *testing.T) {
	f := newFixture(memory.NewInventoryRepository(), nil)
	ctx := context.Background()

	_, err := f.catalog.CreateProduct(ctx, appinv.CreateProductInput{ID: "P", Name: "Lamp", SKU: "L-1", Price: decimal.NewFromInt(5), Stock: 3})
	require.NoError(t, err)
	require.NoError(t, f.catalog.DeleteProduct(ctx, "P"))

	_, err = f.catalog.CreateProduct(ctx, appinv.CreateProductInput{ID: "P", Name: "Lamp", SKU: "L-2", Price: decimal.NewFromInt(5), Stock: 3})
	assert.ErrorIs(t, err, &apperr.Error{Kind: apperr.KindConflict, Code: apperr.CodeProductExists})

	_, err = f.catalog.GetProduct(ctx, "P")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestGetProductBySKUFollowsMutations(t *testing.T) {
	f := newFixture(memory.NewInventoryRepository(), nil)
	ctx := context.Background()

	_, err := f.catalog.CreateProduct(ctx, appinv.CreateProductInput{ID: "P", Name: "Lamp", SKU: "L-1", Price: decimal.NewFromInt(5), Stock: 3})
	require.NoError(t, err)

	_, err = f.catalog.CreateProduct(ctx, appinv.CreateProductInput{ID: "Q", Name: "Other", SKU: "L-1", Price: decimal.NewFromInt(1), Stock: 1})
	assert.ErrorIs(t, err, &apperr.Error{Kind: apperr.KindConflict, Code: apperr.CodeProductExists})

	view, err := f.catalog.GetProductBySKU(ctx, "L-1")
	require.NoError(t, err)
	assert.Equal(t, "P", view.ID)

	_, err = f.catalog.SetStock(ctx, "P", 8)
	require.NoError(t, err)
	view, err = f.catalog.GetProductBySKU(ctx, "L-1")
	require.NoError(t, err)
	assert.Equal(t, 8, view.Stock)

	require.NoError(t, f.catalog.DeleteProduct(ctx, "P"))
	_, err = f.catalog.GetProductBySKU(ctx, "L-1")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = f.catalog.GetProductBySKU(ctx, " ")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}
