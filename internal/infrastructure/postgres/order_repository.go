package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/Zhima-Mochi/minishop-saga/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-saga/internal/pkg/paging"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const orderColumns = `id, buyer_id, status, subtotal::text, tax_rate::text, tax_amount::text, total::text,
	ship_street, ship_city, ship_state, ship_zip, ship_country, contact_email, contact_phone,
	deleted, created_at, updated_at`

type OrderRepository struct {
	pool Pool
	now  func() time.Time
}

func NewOrderRepository(pool Pool) *OrderRepository {
	return &OrderRepository{pool: pool, now: time.Now}
}

// CreateWithItems inserts the order row and every item row in one
// transaction. Nothing is visible unless all rows are written.
func (r *OrderRepository) CreateWithItems(ctx context.Context, o *domain.Order) (err error) {
	if o == nil || o.ID == "" {
		return fmt.Errorf("order repository: id is required")
	}
	if len(o.Items) == 0 {
		return domain.ErrNoItems
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("order repository: begin: %w", err)
	}
	defer func() {
		if err != nil {
			rollback(ctx, tx)
		}
	}()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (id, buyer_id, status, subtotal, tax_rate, tax_amount, total,
			ship_street, ship_city, ship_state, ship_zip, ship_country, contact_email, contact_phone,
			deleted, created_at, updated_at)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric, $7::numeric,
			$8, $9, $10, $11, $12, $13, $14, false, $15, $16)`,
		o.ID, o.BuyerID, int16(o.Status),
		o.Subtotal.String(), o.TaxRate.String(), o.TaxAmount.String(), o.Total.String(),
		o.Shipping.Street, o.Shipping.City, o.Shipping.State, o.Shipping.Zip, o.Shipping.Country,
		o.Contact.Email, o.Contact.Phone,
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if pgCode(err) == codeUniqueViolation {
			return domain.ErrConflict
		}
		return fmt.Errorf("order repository: insert order %s: %w", o.ID, err)
	}

	for _, it := range o.Items {
		_, err = tx.Exec(ctx, `
			INSERT INTO order_items (id, order_id, product_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5::numeric)`,
			it.ID, o.ID, it.ProductID, it.Quantity, it.UnitPrice.String(),
		)
		if err != nil {
			return fmt.Errorf("order repository: insert item %s: %w", it.ID, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("order repository: commit: %w", err)
	}
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	return loadOrder(ctx, r.pool, id, false)
}

func (r *OrderRepository) ListByBuyer(ctx context.Context, buyerID string, page paging.Page) (*domain.ListResult, error) {
	return r.list(ctx, page, "AND buyer_id = $1", buyerID)
}

func (r *OrderRepository) ListAll(ctx context.Context, page paging.Page) (*domain.ListResult, error) {
	return r.list(ctx, page, "")
}

// UpdateStatus locks the row, checks the transition against the stored status
// and writes it inside one transaction.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, to domain.Status) (_ *domain.Order, err error) {
	if !to.Valid() {
		return nil, domain.ErrInvalidStatus
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("order repository: begin: %w", err)
	}
	defer func() {
		if err != nil {
			rollback(ctx, tx)
		}
	}()

	var current int16
	err = tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1 AND NOT deleted FOR UPDATE`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("order repository: lock %s: %w", id, err)
	}
	if err = domain.CheckTransition(domain.Status(current), to); err != nil {
		return nil, err
	}
	if domain.Status(current) != to {
		_, err = tx.Exec(ctx, `UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`,
			id, int16(to), r.now().UTC())
		if err != nil {
			return nil, fmt.Errorf("order repository: update status %s: %w", id, err)
		}
	}

	o, err := loadOrder(ctx, tx, id, false)
	if err != nil {
		return nil, err
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("order repository: commit: %w", err)
	}
	return o, nil
}

func (r *OrderRepository) SoftDelete(ctx context.Context, id string) (_ *domain.Order, err error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("order repository: begin: %w", err)
	}
	defer func() {
		if err != nil {
			rollback(ctx, tx)
		}
	}()

	tag, err := tx.Exec(ctx, `
		UPDATE orders SET deleted = true, status = $2, updated_at = $3
		WHERE id = $1 AND NOT deleted`,
		id, int16(domain.StatusCancelled), r.now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("order repository: delete %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, domain.ErrNotFound
	}

	o, err := loadOrder(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("order repository: commit: %w", err)
	}
	return o, nil
}

func (r *OrderRepository) StatsInRange(ctx context.Context, start, end time.Time) (*domain.Stats, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(total), 0)::text
		FROM orders
		WHERE NOT deleted AND created_at >= $1 AND created_at < $2
		GROUP BY status`,
		start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("order repository: stats: %w", err)
	}
	defer rows.Close()

	buckets := make(map[domain.Status]domain.StatusBucket)
	for rows.Next() {
		var (
			status  int16
			count   int64
			revenue string
		)
		if err := rows.Scan(&status, &count, &revenue); err != nil {
			return nil, fmt.Errorf("order repository: scan stats: %w", err)
		}
		sum, err := decimal.NewFromString(revenue)
		if err != nil {
			return nil, fmt.Errorf("order repository: stats revenue: %w", err)
		}
		buckets[domain.Status(status)] = domain.StatusBucket{Count: int(count), Revenue: sum}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("order repository: stats: %w", err)
	}
	return domain.NewStats(start, end, buckets), nil
}

func (r *OrderRepository) list(ctx context.Context, page paging.Page, filter string, args ...any) (*domain.ListResult, error) {
	var total int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM orders WHERE NOT deleted `+filter, args...).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("order repository: count: %w", err)
	}
	if total == 0 {
		return &domain.ListResult{Orders: []*domain.Order{}, Total: 0}, nil
	}

	n := len(args)
	query := fmt.Sprintf(`SELECT %s FROM orders WHERE NOT deleted %s
		ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`, orderColumns, filter, n+1, n+2)
	rows, err := r.pool.Query(ctx, query, append(args, page.Size, page.Offset())...)
	if err != nil {
		return nil, fmt.Errorf("order repository: list: %w", err)
	}
	orders, err := collectOrders(rows)
	if err != nil {
		return nil, err
	}

	if err := attachItems(ctx, r.pool, orders); err != nil {
		return nil, err
	}
	return &domain.ListResult{Orders: orders, Total: int(total)}, nil
}

func loadOrder(ctx context.Context, q querier, id string, includeDeleted bool) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if !includeDeleted {
		query += ` AND NOT deleted`
	}
	o, err := scanOrder(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("order repository: get %s: %w", id, err)
	}
	if err := attachItems(ctx, q, []*domain.Order{o}); err != nil {
		return nil, err
	}
	return o, nil
}

// attachItems loads the items of every order in one query.
func attachItems(ctx context.Context, q querier, orders []*domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	byID := make(map[string]*domain.Order, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		byID[o.ID] = o
		o.Items = nil
	}

	rows, err := q.Query(ctx, `
		SELECT id, order_id, product_id, quantity, unit_price::text
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, product_id, id`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("order repository: items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			it    domain.Item
			price string
		)
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &price); err != nil {
			return fmt.Errorf("order repository: scan item: %w", err)
		}
		if it.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return fmt.Errorf("order repository: item price: %w", err)
		}
		if o, ok := byID[it.OrderID]; ok {
			o.Items = append(o.Items, it)
		}
	}
	return rows.Err()
}

func collectOrders(rows pgx.Rows) ([]*domain.Order, error) {
	defer rows.Close()
	orders := make([]*domain.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("order repository: scan: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("order repository: list: %w", err)
	}
	return orders, nil
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var (
		o                                 domain.Order
		status                            int16
		subtotal, taxRate, taxAmount, tot string
	)
	err := row.Scan(
		&o.ID, &o.BuyerID, &status, &subtotal, &taxRate, &taxAmount, &tot,
		&o.Shipping.Street, &o.Shipping.City, &o.Shipping.State, &o.Shipping.Zip, &o.Shipping.Country,
		&o.Contact.Email, &o.Contact.Phone,
		&o.Deleted, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Status = domain.Status(status)

	amounts := []struct {
		raw string
		dst *decimal.Decimal
	}{
		{subtotal, &o.Subtotal},
		{taxRate, &o.TaxRate},
		{taxAmount, &o.TaxAmount},
		{tot, &o.Total},
	}
	for _, a := range amounts {
		d, err := decimal.NewFromString(a.raw)
		if err != nil {
			return nil, fmt.Errorf("order repository: amount %q: %w", a.raw, err)
		}
		*a.dst = d
	}
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return &o, nil
}
