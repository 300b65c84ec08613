package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/Zhima-Mochi/minishop-saga/internal/domain/inventory"
	"github.com/Zhima-Mochi/minishop-saga/internal/pkg/paging"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const productColumns = `id, name, sku, price::text, stock, deleted, updated_at`

type InventoryRepository struct {
	pool Pool
	now  func() time.Time
}

func NewInventoryRepository(pool Pool) *InventoryRepository {
	return &InventoryRepository{pool: pool, now: time.Now}
}

func (r *InventoryRepository) Get(ctx context.Context, id string) (*domain.Product, error) {
	p, err := scanProduct(r.pool.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1 AND NOT deleted`, id))
	if err != nil {
		return nil, r.notFound(id, err)
	}
	return p, nil
}

func (r *InventoryRepository) GetMany(ctx context.Context, ids []string) (map[string]*domain.Product, error) {
	out := make(map[string]*domain.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = ANY($1) AND NOT deleted`, ids)
	if err != nil {
		return nil, fmt.Errorf("inventory repository: get many: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("inventory repository: scan: %w", err)
		}
		out[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("inventory repository: get many: %w", err)
	}
	return out, nil
}

func (r *InventoryRepository) GetBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	if sku == "" {
		return nil, domain.ErrNotFound
	}
	p, err := scanProduct(r.pool.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE sku = $1 AND NOT deleted`, sku))
	if err != nil {
		return nil, r.notFound(sku, err)
	}
	return p, nil
}

func (r *InventoryRepository) List(ctx context.Context, page paging.Page) ([]*domain.Product, int, error) {
	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM products WHERE NOT deleted`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("inventory repository: count: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+productColumns+` FROM products WHERE NOT deleted ORDER BY id LIMIT $1 OFFSET $2`,
		page.Size, page.Offset())
	if err != nil {
		return nil, 0, fmt.Errorf("inventory repository: list: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.Product, 0, page.Size)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("inventory repository: scan: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("inventory repository: list: %w", err)
	}
	return out, int(total), nil
}

// Create is insert-only. Soft-deleted rows keep their id, so re-creating one
// is a duplicate rather than a revival. A live sku clash trips
// idx_products_sku_live.
func (r *InventoryRepository) Create(ctx context.Context, p *domain.Product) error {
	if p == nil || p.ID == "" {
		return domain.ErrInvalidProduct
	}
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO products (id, name, sku, price, stock, deleted, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5, false, $6)
		ON CONFLICT (id) DO NOTHING`,
		p.ID, p.Name, p.SKU, p.Price.String(), p.Stock, r.now().UTC(),
	)
	if err != nil {
		if pgCode(err) == codeUniqueViolation {
			return fmt.Errorf("%w: sku %s", domain.ErrDuplicate, p.SKU)
		}
		return fmt.Errorf("inventory repository: create %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %s", domain.ErrDuplicate, p.ID)
	}
	return nil
}

func (r *InventoryRepository) UpdatePrice(ctx context.Context, id string, price decimal.Decimal) (*domain.Product, error) {
	if price.IsNegative() {
		return nil, domain.ErrInvalidPrice
	}
	p, err := scanProduct(r.pool.QueryRow(ctx, `
		UPDATE products SET price = $2::numeric, updated_at = $3
		WHERE id = $1 AND NOT deleted
		RETURNING `+productColumns,
		id, price.String(), r.now().UTC()))
	if err != nil {
		return nil, r.notFound(id, err)
	}
	return p, nil
}

func (r *InventoryRepository) SetStock(ctx context.Context, id string, stock int) (*domain.Product, error) {
	if stock < 0 {
		return nil, domain.ErrInvalidStock
	}
	p, err := scanProduct(r.pool.QueryRow(ctx, `
		UPDATE products SET stock = $2, updated_at = $3
		WHERE id = $1 AND NOT deleted
		RETURNING `+productColumns,
		id, stock, r.now().UTC()))
	if err != nil {
		return nil, r.notFound(id, err)
	}
	return p, nil
}

func (r *InventoryRepository) SoftDelete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE products SET deleted = true, updated_at = $2 WHERE id = $1 AND NOT deleted`,
		id, r.now().UTC())
	if err != nil {
		return fmt.Errorf("inventory repository: delete %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// DeductIfAvailable is a single conditional UPDATE: the row changes only when
// enough stock remains, so concurrent callers can never drive it negative.
func (r *InventoryRepository) DeductIfAvailable(ctx context.Context, id string, quantity int) (int, error) {
	if quantity <= 0 {
		return 0, domain.ErrInvalidQuantity
	}

	var remaining int
	err := r.pool.QueryRow(ctx, `
		UPDATE products SET stock = stock - $2, updated_at = $3
		WHERE id = $1 AND NOT deleted AND stock >= $2
		RETURNING stock`,
		id, quantity, r.now().UTC(),
	).Scan(&remaining)
	switch {
	case err == nil:
		return remaining, nil
	case transient(err):
		return 0, fmt.Errorf("%w: %s: %v", domain.ErrConflict, id, err)
	case !errors.Is(err, pgx.ErrNoRows):
		return 0, fmt.Errorf("inventory repository: deduct %s: %w", id, err)
	}

	// No row matched: tell a missing product from a short one.
	var stock int
	err = r.pool.QueryRow(ctx, `SELECT stock FROM products WHERE id = $1 AND NOT deleted`, id).Scan(&stock)
	if err != nil {
		return 0, r.notFound(id, err)
	}
	return stock, domain.ErrInsufficientStock
}

// Restock credits deleted products too, so compensation never loses units.
func (r *InventoryRepository) Restock(ctx context.Context, id string, quantity int) (int, error) {
	if quantity <= 0 {
		return 0, domain.ErrInvalidQuantity
	}

	var stock int
	err := r.pool.QueryRow(ctx, `
		UPDATE products SET stock = stock + $2, updated_at = $3
		WHERE id = $1
		RETURNING stock`,
		id, quantity, r.now().UTC(),
	).Scan(&stock)
	if err != nil {
		if transient(err) {
			return 0, fmt.Errorf("%w: %s: %v", domain.ErrConflict, id, err)
		}
		return 0, r.notFound(id, err)
	}
	return stock, nil
}

func (r *InventoryRepository) notFound(id string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	return fmt.Errorf("inventory repository: %s: %w", id, err)
}

func scanProduct(row pgx.Row) (*domain.Product, error) {
	var (
		p     domain.Product
		price string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.SKU, &price, &p.Stock, &p.Deleted, &p.UpdatedAt); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("inventory repository: price %q: %w", price, err)
	}
	p.Price = d
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}
