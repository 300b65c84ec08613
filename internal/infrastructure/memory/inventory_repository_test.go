package memory_test

import (
	"context"
	"sync"
	"testing"

	domain "github.com/Zhima-Mochi/minishop-saga/internal/domain/inventory"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/memory"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func product(t *testing.T, id, sku string, stock int) *domain.Product {
	t.Helper()
	p, err := domain.NewProduct(id, "Lamp", sku, decimal.RequireFromString("50"), stock)
	require.NoError(t, err)
	return p
}

func TestInventoryCreateNeverReusesDeletedID(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewInventoryRepository()

	require.NoError(t, repo.Create(ctx, product(t, "p1", "L-1", 5)))
	require.NoError(t, repo.SoftDelete(ctx, "p1"))

	err := repo.Create(ctx, product(t, "p1", "L-2", 9))
	assert.ErrorIs(t, err, domain.ErrDuplicate)

	_, err = repo.Get(ctx, "p1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestInventoryCreateRejectsLiveSKU(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewInventoryRepository()

	require.NoError(t, repo.Create(ctx, product(t, "p1", "L-1", 5)))
	assert.ErrorIs(t, repo.Create(ctx, product(t, "p2", "L-1", 5)), domain.ErrDuplicate)

	// Empty skus never collide.
	require.NoError(t, repo.Create(ctx, product(t, "p3", "", 1)))
	require.NoError(t, repo.Create(ctx, product(t, "p4", "", 1)))

	// A deleted product releases its sku.
	require.NoError(t, repo.SoftDelete(ctx, "p1"))
	require.NoError(t, repo.Create(ctx, product(t, "p5", "L-1", 2)))

	got, err := repo.GetBySKU(ctx, "L-1")
	require.NoError(t, err)
	assert.Equal(t, "p5", got.ID)
}

func TestInventoryGetBySKUMissing(t *testing.T) {
	repo := memory.NewInventoryRepository(product(t, "p1", "L-1", 5))

	_, err := repo.GetBySKU(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = repo.GetBySKU(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestInventoryDeductNeverOversells(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewInventoryRepository(product(t, "p1", "L-1", 10))

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.DeductIfAvailable(ctx, "p1", 1); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, ok)
	p, err := repo.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Zero(t, p.Stock)
}
