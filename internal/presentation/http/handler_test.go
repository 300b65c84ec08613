package httppresentation_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	appinv "github.com/Zhima-Mochi/minishop-saga/internal/application/inventory"
	apporder "github.com/Zhima-Mochi/minishop-saga/internal/application/order"
	domid "github.com/Zhima-Mochi/minishop-saga/internal/domain/identity"
	dominv "github.com/Zhima-Mochi/minishop-saga/internal/domain/inventory"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/cache"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/catalogclient"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/memory"
	httppresentation "github.com/Zhima-Mochi/minishop-saga/internal/presentation/http"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type seqIDs struct{ n atomic.Int64 }

func (s *seqIDs) NewID() string { return fmt.Sprintf("id-%d", s.n.Add(1)) }

type app struct {
	products *memory.InventoryRepository
	router   http.Handler
}

// newApp wires the whole binary in memory. When remote is set, the order saga
// reaches inventory over HTTP through the product routes of the same router.
func newApp(t *testing.T, remote bool) *app {
	t.Helper()
	p1, err := dominv.NewProduct("p1", "Lamp", "L-1", decimal.RequireFromString("50.00"), 5)
	require.NoError(t, err)
	products := memory.NewInventoryRepository(p1)

	dir := memory.NewIdentityDirectory()
	dir.AddBuyer(domid.Buyer{ID: "u1", Name: "Ada", Email: "ada@example.com"})
	dir.AddAddress(domid.Address{ID: "a1", Street: "1 Main St", City: "Springfield", Zip: "62701", Country: "US"})

	ids := &seqIDs{}
	c := cache.NewMemory()
	guard := appinv.NewCacheGuard(c, nil)
	retry := appinv.RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond}
	catalog := appinv.NewCatalog(products, c, guard, ids, time.Minute, nil)
	reserve := appinv.NewReserveStockUseCase(products, guard, nil, retry, nil)
	release := appinv.NewReleaseStockUseCase(products, guard, nil, retry, nil)

	a := &app{products: products}
	var inventory apporder.InventoryPort = appinv.NewLocal(catalog, reserve, release)
	remoteInv := &lateInventory{}
	if remote {
		inventory = remoteInv
	}

	orders := memory.NewOrderRepository()
	h := httppresentation.NewHandler(httppresentation.Services{
		CreateOrder: apporder.NewCreateOrderUseCase(orders, inventory, dir, ids, nil, apporder.SagaConfig{StepTimeout: time.Second}, nil),
		Orders:      apporder.NewService(orders, nil, nil),
		Catalog:     catalog,
		Reserve:     reserve,
		Release:     release,
	}, nil, nil)
	a.router = h.Router()

	if remote {
		srv := httptest.NewServer(a.router)
		t.Cleanup(srv.Close)
		remoteInv.Client = catalogclient.NewClient(srv.URL, time.Second, nil)
	}
	return a
}

// lateInventory lets the catalog client point at a server built after the
// saga that uses it.
type lateInventory struct {
	*catalogclient.Client
}

type envelope struct {
	Status                       string          `json:"status"`
	Kind                         string          `json:"kind"`
	Code                         string          `json:"code"`
	Message                      string          `json:"message"`
	ProductIDs                   []string        `json:"productIds"`
	ManualReconciliationRequired bool            `json:"manualReconciliationRequired"`
	Data                         json.RawMessage `json:"data"`
	Pagination                   *struct {
		CurrentPage int `json:"currentPage"`
		PageSize    int `json:"pageSize"`
		TotalItems  int `json:"totalItems"`
		TotalPages  int `json:"totalPages"`
	} `json:"pagination"`
}

func (a *app) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

func (a *app) stock(t *testing.T) int {
	t.Helper()
	p, err := a.products.Get(context.Background(), "p1")
	require.NoError(t, err)
	return p.Stock
}

func orderRequest(qty int) map[string]any {
	return map[string]any{
		"buyerId":           "u1",
		"items":             []map[string]any{{"productId": "p1", "quantity": qty}},
		"shippingAddressId": "a1",
		"taxRate":           10,
	}
}

type orderData struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	Subtotal   string `json:"subtotal"`
	TaxAmount  string `json:"taxAmount"`
	TotalPrice string `json:"totalPrice"`
	Items      []struct {
		ProductID string `json:"productId"`
		UnitPrice string `json:"unitPrice"`
	} `json:"items"`
}

func TestCreateOrderEndToEnd(t *testing.T) {
	for _, remote := range []bool{false, true} {
		t.Run(fmt.Sprintf("remote=%v", remote), func(t *testing.T) {
			a := newApp(t, remote)

			rec, env := a.do(t, http.MethodPost, "/orders", orderRequest(2))
			require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
			assert.Equal(t, "success", env.Status)
			assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

			var o orderData
			require.NoError(t, json.Unmarshal(env.Data, &o))
			assert.Equal(t, "Created", o.Status)
			assert.Equal(t, "100.00", o.Subtotal)
			assert.Equal(t, "10.00", o.TaxAmount)
			assert.Equal(t, "110.00", o.TotalPrice)
			assert.Equal(t, "50.00", o.Items[0].UnitPrice)
			assert.Equal(t, 3, a.stock(t))
			assert.Equal(t, "/orders/"+o.ID, rec.Header().Get("Location"))

			// reads are idempotent down to the byte
			first, env := a.do(t, http.MethodGet, "/orders/"+o.ID, nil)
			require.Equal(t, http.StatusOK, first.Code)
			var got orderData
			require.NoError(t, json.Unmarshal(env.Data, &got))
			assert.Equal(t, o, got)
			second, _ := a.do(t, http.MethodGet, "/orders/"+o.ID, nil)
			require.Equal(t, http.StatusOK, second.Code)
			assert.True(t, bytes.Equal(first.Body.Bytes(), second.Body.Bytes()),
				"%s\n%s", first.Body.String(), second.Body.String())
			assert.Equal(t, 3, a.stock(t))
		})
	}
}

func TestCreateOrderShortageIsConflict(t *testing.T) {
	for _, remote := range []bool{false, true} {
		t.Run(fmt.Sprintf("remote=%v", remote), func(t *testing.T) {
			a := newApp(t, remote)
			rec, env := a.do(t, http.MethodPost, "/orders", orderRequest(6))
			assert.Equal(t, http.StatusConflict, rec.Code)
			assert.Equal(t, "INSUFFICIENT_STOCK", env.Code)
			assert.Equal(t, []string{"p1"}, env.ProductIDs)
			assert.Equal(t, 5, a.stock(t))
		})
	}
}

func TestCreateOrderRejectsBadInput(t *testing.T) {
	a := newApp(t, false)
	both := orderRequest(1)
	both["shippingAddress"] = map[string]any{"street": "1", "city": "c", "zip": "z", "country": "US"}
	unknownBuyer := orderRequest(1)
	unknownBuyer["buyerId"] = "ghost"
	unknownAddress := orderRequest(1)
	unknownAddress["shippingAddressId"] = "nowhere"
	none := orderRequest(1)
	delete(none, "shippingAddressId")

	cases := []struct {
		name string
		body any
		code string
	}{
		{"both address forms", both, "VALIDATION_FAILED"},
		{"no address", none, "VALIDATION_FAILED"},
		{"unknown buyer", unknownBuyer, "INVALID_BUYER"},
		{"unknown address", unknownAddress, "INVALID_ADDRESS"},
		{"zero quantity", orderRequest(0), "VALIDATION_FAILED"},
		{"unknown field", map[string]any{"surprise": true}, "VALIDATION_FAILED"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, env := a.do(t, http.MethodPost, "/orders", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, "error", env.Status)
			assert.Equal(t, tc.code, env.Code)
		})
	}
	assert.Equal(t, 5, a.stock(t))
}

func TestOrderLifecycleRoutes(t *testing.T) {
	a := newApp(t, false)
	_, env := a.do(t, http.MethodPost, "/orders", orderRequest(1))
	var o orderData
	require.NoError(t, json.Unmarshal(env.Data, &o))

	rec, env := a.do(t, http.MethodPatch, "/orders/"+o.ID, map[string]any{"status": 3})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var moved orderData
	require.NoError(t, json.Unmarshal(env.Data, &moved))
	assert.Equal(t, "Shipped", moved.Status)

	rec, env = a.do(t, http.MethodPatch, "/orders/"+o.ID, map[string]any{"status": "Paid"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "INVALID_TRANSITION", env.Code)

	rec, env = a.do(t, http.MethodPatch, "/orders/"+o.ID, map[string]any{"status": "Lost"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_STATUS", env.Code)

	rec, env = a.do(t, http.MethodGet, "/orders/user/u1?offset=1&limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, env.Pagination)
	assert.Equal(t, 1, env.Pagination.TotalItems)
	assert.Equal(t, 5, env.Pagination.PageSize)

	rec, _ = a.do(t, http.MethodGet, "/orders/list?offset=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, env = a.do(t, http.MethodGet, "/orders/stats?startDate=2000-01-01&endDate=2100-01-01", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats struct {
		ByStatus map[string]int `json:"byStatus"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Equal(t, map[string]int{
		"Created": 0, "Paid": 0, "Shipped": 1, "Delivered": 0, "Cancelled": 0,
	}, stats.ByStatus)
	rec, _ = a.do(t, http.MethodGet, "/orders/stats", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = a.do(t, http.MethodDelete, "/orders/"+o.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, env = a.do(t, http.MethodGet, "/orders/"+o.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "ORDER_NOT_FOUND", env.Code)
}

func TestProductRoutesInvalidateReads(t *testing.T) {
	a := newApp(t, false)

	rec, _ := a.do(t, http.MethodGet, "/products/p1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = a.do(t, http.MethodPatch, "/products/p1/price", map[string]any{"price": "42.50"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	_, env := a.do(t, http.MethodGet, "/products/p1", nil)
	var p struct {
		Price string `json:"price"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, "42.50", p.Price)

	rec, _ = a.do(t, http.MethodDelete, "/products/p1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec, env = a.do(t, http.MethodGet, "/products/p1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "PRODUCT_NOT_FOUND", env.Code)
}

func TestCreateProductConflicts(t *testing.T) {
	a := newApp(t, false)

	rec, env := a.do(t, http.MethodPost, "/products", map[string]any{"id": "p2", "name": "Desk", "sku": "L-1", "price": "10", "stock": 1})
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	assert.Equal(t, "PRODUCT_ALREADY_EXISTS", env.Code)

	rec, _ = a.do(t, http.MethodDelete, "/products/p1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// A deleted id stays taken; its sku does not.
	rec, env = a.do(t, http.MethodPost, "/products", map[string]any{"id": "p1", "name": "Lamp", "sku": "L-9", "price": "50", "stock": 5})
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	assert.Equal(t, "PRODUCT_ALREADY_EXISTS", env.Code)
	rec, _ = a.do(t, http.MethodGet, "/products/p1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = a.do(t, http.MethodPost, "/products", map[string]any{"id": "p2", "name": "Desk", "sku": "L-1", "price": "10", "stock": 1})
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestGetProductBySKU(t *testing.T) {
	a := newApp(t, false)

	rec, env := a.do(t, http.MethodGet, "/products/sku/L-1", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var p struct {
		ID    string `json:"id"`
		Stock int    `json:"stock"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, "p1", p.ID)
	assert.Equal(t, 5, p.Stock)

	rec, _ = a.do(t, http.MethodPatch, "/products/p1/stock", map[string]any{"stock": 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	_, env = a.do(t, http.MethodGet, "/products/sku/L-1", nil)
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, 2, p.Stock)

	rec, env = a.do(t, http.MethodGet, "/products/sku/NOPE", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "PRODUCT_NOT_FOUND", env.Code)
}

func TestHealthAndUnknownRoutes(t *testing.T) {
	a := newApp(t, false)
	rec, env := a.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", env.Status)

	rec, _ = a.do(t, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
