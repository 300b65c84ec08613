package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	dominv "github.com/Zhima-Mochi/minishop-saga/internal/domain/inventory"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability/logctx"
	"github.com/Zhima-Mochi/minishop-saga/internal/pkg/apperr"
	"github.com/Zhima-Mochi/minishop-saga/internal/pkg/paging"
	"github.com/shopspring/decimal"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const defaultCacheTTL = time.Minute

// ProductView is the cached, client-facing form of a product.
type ProductView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	SKU       string    `json:"sku,omitempty"`
	Price     string    `json:"price"`
	Stock     int       `json:"stock"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func NewProductView(p *dominv.Product) ProductView {
	return ProductView{
		ID:        p.ID,
		Name:      p.Name,
		SKU:       p.SKU,
		Price:     p.Price.StringFixed(2),
		Stock:     p.Stock,
		UpdatedAt: p.UpdatedAt,
	}
}

type ProductPage struct {
	Items      []ProductView `json:"items"`
	Pagination paging.Meta   `json:"pagination"`
}

type CreateProductInput struct {
	ID    string
	Name  string
	SKU   string
	Price decimal.Decimal
	Stock int
}

// Catalog serves product reads through the cache and applies product
// mutations, invalidating the cache before reporting success.
type Catalog struct {
	repo  dominv.Repository
	cache Cache
	guard *CacheGuard
	ids   IDGenerator
	ttl   time.Duration

	log           observability.Logger
	tracer        observability.Tracer
	reqCounter    observability.Counter
	durHistogram  observability.Histogram
	lookupCounter observability.Counter
}

func NewCatalog(
	repo dominv.Repository,
	cache Cache,
	guard *CacheGuard,
	ids IDGenerator,
	ttl time.Duration,
	tel observability.Observability,
) *Catalog {
	if tel == nil {
		tel = observability.Nop()
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if cache == nil {
		cache = noCache{}
	}
	if guard == nil {
		guard = NewCacheGuard(cache, tel)
	}
	m := tel.Metrics()
	return &Catalog{
		repo:          repo,
		cache:         cache,
		guard:         guard,
		ids:           ids,
		ttl:           ttl,
		log:           tel.Logger().With(observability.F("service", inventoryService)),
		tracer:        tel.Tracer(),
		reqCounter:    m.Counter(observability.MUsecaseRequests),
		durHistogram:  m.Histogram(observability.MUsecaseDuration),
		lookupCounter: m.Counter(observability.MCatalogCacheLookups),
	}
}

func (c *Catalog) GetProduct(ctx context.Context, id string) (_ *ProductView, err error) {
	ctx, done := c.begin(ctx, "catalog.get_product", attribute.String("product.id", id))
	defer func() { done(err) }()

	if strings.TrimSpace(id) == "" {
		return nil, apperr.Validation("product id is required")
	}
	view, err := readThrough(ctx, c, dominv.ProductKey(id), func(ctx context.Context) (ProductView, error) {
		p, err := c.repo.Get(ctx, id)
		if err != nil {
			return ProductView{}, err
		}
		return NewProductView(p), nil
	})
	if err != nil {
		return nil, mapStoreError(err)
	}
	return &view, nil
}

func (c *Catalog) GetProductBySKU(ctx context.Context, sku string) (_ *ProductView, err error) {
	ctx, done := c.begin(ctx, "catalog.get_product_by_sku", attribute.String("product.sku", sku))
	defer func() { done(err) }()

	if strings.TrimSpace(sku) == "" {
		return nil, apperr.Validation("sku is required")
	}
	view, err := readThrough(ctx, c, dominv.SKUKey(sku), func(ctx context.Context) (ProductView, error) {
		p, err := c.repo.GetBySKU(ctx, sku)
		if err != nil {
			return ProductView{}, err
		}
		return NewProductView(p), nil
	})
	if err != nil {
		return nil, mapStoreError(err)
	}
	return &view, nil
}

func (c *Catalog) ListProducts(ctx context.Context, page paging.Page) (_ *ProductPage, err error) {
	ctx, done := c.begin(ctx, "catalog.list_products")
	defer func() { done(err) }()

	result, err := readThrough(ctx, c, dominv.ListingKey(page.Number, page.Size), func(ctx context.Context) (ProductPage, error) {
		products, total, err := c.repo.List(ctx, page)
		if err != nil {
			return ProductPage{}, err
		}
		items := make([]ProductView, 0, len(products))
		for _, p := range products {
			items = append(items, NewProductView(p))
		}
		return ProductPage{Items: items, Pagination: page.Meta(total)}, nil
	})
	if err != nil {
		return nil, mapStoreError(err)
	}
	return &result, nil
}

// Availability reads price and stock straight from the store. Missing and
// deleted products are absent from the result.
func (c *Catalog) Availability(ctx context.Context, ids []string) (_ map[string]dominv.Availability, err error) {
	ctx, done := c.begin(ctx, "catalog.availability", attribute.Int("product.count", len(ids)))
	defer func() { done(err) }()

	if len(ids) == 0 {
		return map[string]dominv.Availability{}, nil
	}
	products, err := c.repo.GetMany(ctx, ids)
	if err != nil {
		return nil, apperr.Upstream(apperr.CodeUpstreamUnavailable, "inventory store unavailable", err)
	}
	out := make(map[string]dominv.Availability, len(products))
	for id, p := range products {
		out[id] = dominv.Availability{ProductID: p.ID, Price: p.Price, Stock: p.Stock}
	}
	return out, nil
}

func (c *Catalog) CreateProduct(ctx context.Context, in CreateProductInput) (_ *ProductView, err error) {
	ctx, done := c.begin(ctx, "catalog.create_product")
	defer func() { done(err) }()

	id := strings.TrimSpace(in.ID)
	if id == "" && c.ids != nil {
		id = c.ids.NewID()
	}
	p, err := dominv.NewProduct(id, in.Name, in.SKU, in.Price, in.Stock)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, apperr.CodeValidationFailed, "invalid product", err)
	}
	if err := c.repo.Create(ctx, p); err != nil {
		return nil, mapStoreError(err)
	}
	c.invalidate(ctx, p.ID)
	view := NewProductView(p)
	return &view, nil
}

func (c *Catalog) UpdatePrice(ctx context.Context, id string, price decimal.Decimal) (_ *ProductView, err error) {
	ctx, done := c.begin(ctx, "catalog.update_price", attribute.String("product.id", id))
	defer func() { done(err) }()

	if price.IsNegative() {
		return nil, apperr.Wrap(apperr.KindValidation, apperr.CodeValidationFailed, "invalid price", dominv.ErrInvalidPrice)
	}
	p, err := c.repo.UpdatePrice(ctx, id, price)
	if err != nil {
		return nil, mapStoreError(err)
	}
	c.invalidate(ctx, id)
	view := NewProductView(p)
	return &view, nil
}

func (c *Catalog) SetStock(ctx context.Context, id string, stock int) (_ *ProductView, err error) {
	ctx, done := c.begin(ctx, "catalog.set_stock", attribute.String("product.id", id))
	defer func() { done(err) }()

	if stock < 0 {
		return nil, apperr.Wrap(apperr.KindValidation, apperr.CodeValidationFailed, "invalid stock", dominv.ErrInvalidStock)
	}
	p, err := c.repo.SetStock(ctx, id, stock)
	if err != nil {
		return nil, mapStoreError(err)
	}
	c.invalidate(ctx, id)
	view := NewProductView(p)
	return &view, nil
}

func (c *Catalog) DeleteProduct(ctx context.Context, id string) (err error) {
	ctx, done := c.begin(ctx, "catalog.delete_product", attribute.String("product.id", id))
	defer func() { done(err) }()

	if err := c.repo.SoftDelete(ctx, id); err != nil {
		return mapStoreError(err)
	}
	c.invalidate(ctx, id)
	return nil
}

// invalidate runs after a committed mutation; failures are tracked by the
// guard and do not fail the mutation.
func (c *Catalog) invalidate(ctx context.Context, id string) {
	if err := c.guard.Invalidate(ctx, id); err != nil {
		logctx.FromOr(ctx, c.log).Warn("catalog_cache_degraded",
			observability.F("product_id", id),
			observability.F("error", err.Error()),
		)
	}
}

// begin opens a span and returns a func that records RED metrics and the
// use_case_done line once the call finishes.
func (c *Catalog) begin(ctx context.Context, useCase string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	logger := logctx.FromOr(ctx, c.log).With(observability.F("use_case", useCase))
	ctx, span := c.tracer.Start(ctx, spanPrefix+useCase, append(attrs, attribute.String("use_case", useCase))...)
	start := time.Now()

	return ctx, func(err error) {
		outcome, status := observability.OutcomeSuccess, "OK"
		if err != nil {
			outcome, status = observability.OutcomeError, apperr.CodeOf(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, status)
		} else {
			span.SetStatus(codes.Ok, status)
		}
		span.End()

		latency := time.Since(start).Seconds()
		c.reqCounter.Add(1, observability.L("use_case", useCase), observability.L("outcome", outcome))
		c.durHistogram.Observe(latency, observability.L("use_case", useCase))

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", status),
			observability.F("latency_seconds", latency),
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
		}
		logger.Info("use_case_done", fields...)
	}
}

func (c *Catalog) countLookup(result string) {
	c.lookupCounter.Add(1, observability.L("result", result))
}

// readThrough serves key from the cache, falling back to load on a miss and
// storing the loaded value under the generation observed before loading.
func readThrough[T any](ctx context.Context, c *Catalog, key dominv.CacheKey, load func(context.Context) (T, error)) (T, error) {
	if !c.guard.Usable(ctx, key) {
		c.countLookup("bypass")
		return load(ctx)
	}

	logger := logctx.FromOr(ctx, c.log)
	lookup, err := c.cache.Get(ctx, key)
	if err != nil {
		c.countLookup("error")
		logger.Warn("catalog_cache_get_failed",
			observability.F("key", key.Name),
			observability.F("error", err.Error()),
		)
		return load(ctx)
	}
	if lookup.Hit {
		var cached T
		if uerr := json.Unmarshal(lookup.Value, &cached); uerr == nil {
			c.countLookup("hit")
			return cached, nil
		}
	}

	c.countLookup("miss")
	value, err := load(ctx)
	if err != nil {
		return value, err
	}
	if payload, merr := json.Marshal(value); merr == nil {
		if perr := c.cache.Put(ctx, key, lookup.Generation, payload, c.ttl); perr != nil {
			logger.Warn("catalog_cache_put_failed",
				observability.F("key", key.Name),
				observability.F("error", perr.Error()),
			)
		}
	}
	return value, nil
}

func mapStoreError(err error) error {
	var ae *apperr.Error
	switch {
	case errors.As(err, &ae):
		return ae
	case errors.Is(err, dominv.ErrNotFound):
		return apperr.Wrap(apperr.KindNotFound, apperr.CodeProductNotFound, "product not found", err)
	case errors.Is(err, dominv.ErrDuplicate):
		return apperr.Wrap(apperr.KindConflict, apperr.CodeProductExists, "product already exists", err)
	case errors.Is(err, dominv.ErrInvalidProduct),
		errors.Is(err, dominv.ErrInvalidPrice),
		errors.Is(err, dominv.ErrInvalidStock):
		return apperr.Wrap(apperr.KindValidation, apperr.CodeValidationFailed, "invalid product", err)
	default:
		return apperr.Upstream(apperr.CodeUpstreamUnavailable, "inventory store unavailable", err)
	}
}
