package order_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	appinv "github.com/Zhima-Mochi/minishop-saga/internal/application/inventory"
	apporder "github.com/Zhima-Mochi/minishop-saga/internal/application/order"
	domid "github.com/Zhima-Mochi/minishop-saga/internal/domain/identity"
	dominv "github.com/Zhima-Mochi/minishop-saga/internal/domain/inventory"
	domorder "github.com/Zhima-Mochi/minishop-saga/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/minishop-saga/internal/domain/outbox"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/cache"
	"github.com/Zhima-Mochi/minishop-saga/internal/infrastructure/memory"
	"github.com/Zhima-Mochi/minishop-saga/internal/pkg/apperr"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type seqIDs struct{ n atomic.Int64 }

func (s *seqIDs) NewID() string { return fmt.Sprintf("id-%d", s.n.Add(1)) }

type recordingPublisher struct {
	mu     sync.Mutex
	events []domoutbox.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e domoutbox.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventName())
	}
	return out
}

type harness struct {
	products  *memory.InventoryRepository
	orders    domorder.Repository
	directory *memory.IdentityDirectory
	catalog   *appinv.Catalog
	inventory apporder.InventoryPort
	publisher *recordingPublisher
	create    *apporder.CreateOrderUseCase
	service   *apporder.Service
}

type option func(*harness)

func withOrders(repo domorder.Repository) option {
	return func(h *harness) { h.orders = repo }
}

func withInventory(wrap func(apporder.InventoryPort) apporder.InventoryPort) option {
	return func(h *harness) { h.inventory = wrap(h.inventory) }
}

func newHarness(t *testing.T, products []*dominv.Product, opts ...option) *harness {
	t.Helper()
	h := &harness{
		products:  memory.NewInventoryRepository(products...),
		orders:    memory.NewOrderRepository(),
		directory: memory.NewIdentityDirectory(),
		publisher: &recordingPublisher{},
	}
	h.directory.AddBuyer(domid.Buyer{ID: "u1", Name: "Ada", Email: "ada@example.com", Phone: "555-0100"})
	h.directory.AddAddress(domid.Address{ID: "a1", Street: "1 Main St", City: "Springfield", State: "IL", Zip: "62701", Country: "US"})

	c := cache.NewMemory()
	guard := appinv.NewCacheGuard(c, nil)
	retry := appinv.RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond}
	h.catalog = appinv.NewCatalog(h.products, c, guard, nil, time.Minute, nil)
	h.inventory = appinv.NewLocal(h.catalog,
		appinv.NewReserveStockUseCase(h.products, guard, nil, retry, nil),
		appinv.NewReleaseStockUseCase(h.products, guard, nil, retry, nil),
	)
	for _, opt := range opts {
		opt(h)
	}
	ids := &seqIDs{}
	h.create = apporder.NewCreateOrderUseCase(h.orders, h.inventory, h.directory, ids, h.publisher,
		apporder.SagaConfig{StepTimeout: 200 * time.Millisecond}, nil)
	h.service = apporder.NewService(h.orders, h.publisher, nil)
	return h
}

func product(t *testing.T, id, price string, stock int) *dominv.Product {
	t.Helper()
	p, err := dominv.NewProduct(id, "Product "+id, "", decimal.RequireFromString(price), stock)
	require.NoError(t, err)
	return p
}

func (h *harness) stock(t *testing.T, id string) int {
	t.Helper()
	p, err := h.products.Get(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func input(items ...apporder.ItemInput) apporder.CreateOrderInput {
	return apporder.CreateOrderInput{
		BuyerID:  "u1",
		Items:    items,
		Shipping: domid.ByReference("a1"),
		TaxRate:  decimal.NewFromInt(10),
	}
}

func item(id string, qty int) apporder.ItemInput {
	return apporder.ItemInput{ProductID: id, Quantity: qty}
}

func TestCreateOrderPricesReservesAndPersists(t *testing.T) {
	h := newHarness(t, []*dominv.Product{product(t, "p1", "50.00", 5)})

	res, err := h.create.Execute(context.Background(), input(item("p1", 2)))
	require.NoError(t, err)

	o := res.Order
	assert.Equal(t, domorder.StatusCreated, o.Status)
	assert.Equal(t, "100.00", o.Subtotal.StringFixed(2))
	assert.Equal(t, "10.00", o.TaxAmount.StringFixed(2))
	assert.Equal(t, "110.00", o.Total.StringFixed(2))
	assert.Equal(t, "Springfield", o.Shipping.City)
	assert.Equal(t, "ada@example.com", o.Contact.Email)
	assert.Equal(t, 3, h.stock(t, "p1"))

	stored, err := h.orders.Get(context.Background(), o.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 1)
	assert.Equal(t, "50.00", stored.Items[0].UnitPrice.StringFixed(2))
	assert.Equal(t, []string{domorder.EventCreated}, h.publisher.names())
}

func TestCreateOrderUsesInlineAddressVerbatim(t *testing.T) {
	h := newHarness(t, []*dominv.Product{product(t, "p1", "1.00", 5)})
	in := input(item("p1", 1))
	in.Shipping = domid.Inline(domid.Address{Street: "9 Elm", City: "Shelbyville", Zip: "1", Country: "US"})
	in.Contact = domorder.Contact{Email: "other@example.com"}

	res, err := h.create.Execute(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "Shelbyville", res.Order.Shipping.City)
	assert.Equal(t, "other@example.com", res.Order.Contact.Email)
	assert.Equal(t, "555-0100", res.Order.Contact.Phone)
}

func TestCreateOrderMergesDuplicateItems(t *testing.T) {
	h := newHarness(t, []*dominv.Product{product(t, "p1", "2.00", 5)})

	res, err := h.create.Execute(context.Background(), input(item("p1", 2), item("p1", 1)))
	require.NoError(t, err)
	require.Len(t, res.Order.Items, 1)
	assert.Equal(t, 3, res.Order.Items[0].Quantity)
	assert.Equal(t, 2, h.stock(t, "p1"))
}

func TestCreateOrderRejectsInvalidInput(t *testing.T) {
	h := newHarness(t, []*dominv.Product{product(t, "p1", "1.00", 5)})

	cases := map[string]func(*apporder.CreateOrderInput){
		"missing buyer":      func(in *apporder.CreateOrderInput) { in.BuyerID = "" },
		"no items":           func(in *apporder.CreateOrderInput) { in.Items = nil },
		"zero quantity":      func(in *apporder.CreateOrderInput) { in.Items = []apporder.ItemInput{item("p1", 0)} },
		"missing product id": func(in *apporder.CreateOrderInput) { in.Items = []apporder.ItemInput{item("", 1)} },
		"negative tax":       func(in *apporder.CreateOrderInput) { in.TaxRate = decimal.NewFromInt(-1) },
		"no destination":     func(in *apporder.CreateOrderInput) { in.Shipping = domid.ShippingDestination{} },
		"incomplete address": func(in *apporder.CreateOrderInput) { in.Shipping = domid.Inline(domid.Address{City: "x"}) },
		"blank address ref":  func(in *apporder.CreateOrderInput) { in.Shipping = domid.ByReference(" ") },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := input(item("p1", 1))
			mutate(&in)
			_, err := h.create.Execute(context.Background(), in)
			require.Error(t, err)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		})
	}
	assert.Equal(t, 5, h.stock(t, "p1"))
}

func TestCreateOrderRejectsUnknownBuyerAndAddress(t *testing.T) {
	h := newHarness(t, []*dominv.Product{product(t, "p1", "1.00", 5)})

	in := input(item("p1", 1))
	in.BuyerID = "ghost"
	_, err := h.create.Execute(context.Background(), in)
	assert.Equal(t, apperr.CodeInvalidBuyer, apperr.CodeOf(err))

	in = input(item("p1", 1))
	in.Shipping = domid.ByReference("nowhere")
	_, err = h.create.Execute(context.Background(), in)
	assert.Equal(t, apperr.CodeInvalidAddress, apperr.CodeOf(err))

	assert.Equal(t, 5, h.stock(t, "p1"))
	assert.Empty(t, h.publisher.names())
}

type downDirectory struct{}

func (downDirectory) GetBuyer(context.Context, string) (*domid.Buyer, error) {
	return nil, fmt.Errorf("dial: %w", domid.ErrUnavailable)
}

func (downDirectory) GetAddress(context.Context, string) (*domid.Address, error) {
	return nil, fmt.Errorf("dial: %w", domid.ErrUnavailable)
}

func TestCreateOrderReportsIdentityOutage(t *testing.T) {
	h := newHarness(t, []*dominv.Product{product(t, "p1", "1.00", 5)})
	uc := apporder.NewCreateOrderUseCase(h.orders, h.inventory, downDirectory{}, &seqIDs{}, nil, apporder.SagaConfig{}, nil)

	_, err := uc.Execute(context.Background(), input(item("p1", 1)))
	assert.Equal(t, apperr.KindUpstream, apperr.KindOf(err))
	assert.ErrorIs(t, err, domid.ErrUnavailable)
}

func TestCreateOrderFailsWholeOrderOnShortage(t *testing.T) {
	h := newHarness(t, []*dominv.Product{product(t, "A", "1.00", 10), product(t, "B", "1.00", 3)})

	_, err := h.create.Execute(context.Background(), input(item("A", 5), item("B", 999999)))
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInsufficientStock, apperr.CodeOf(err))
	e, _ := apperr.From(err)
	assert.Equal(t, []string{"B"}, e.ProductIDs)

	assert.Equal(t, 10, h.stock(t, "A"))
	assert.Equal(t, 3, h.stock(t, "B"))
	all, err := h.orders.ListAll(context.Background(), pageOne())
	require.NoError(t, err)
	assert.Zero(t, all.Total)
}

func TestCreateOrderMissingProductIsShortage(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.create.Execute(context.Background(), input(item("ghost", 1)))
	assert.Equal(t, apperr.CodeInsufficientStock, apperr.CodeOf(err))
}

// failingOrders refuses every write.
type failingOrders struct {
	domorder.Repository
}

var errDiskFull = errors.New("disk full")

func (failingOrders) CreateWithItems(context.Context, *domorder.Order) error { return errDiskFull }

func TestCreateOrderCompensatesWhenPersistenceFails(t *testing.T) {
	h := newHarness(t, []*dominv.Product{product(t, "P", "4.00", 10)},
		withOrders(failingOrders{memory.NewOrderRepository()}))

	_, err := h.create.Execute(context.Background(), input(item("P", 3)))
	require.Error(t, err)

	e, ok := apperr.From(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindPersistence, e.Kind)
	assert.True(t, e.Compensated)
	assert.ErrorIs(t, err, errDiskFull)
	assert.Equal(t, 10, h.stock(t, "P"))
}

type stuckRelease struct {
	apporder.InventoryPort
}

func (stuckRelease) Release(context.Context, []dominv.Line) error {
	return errors.New("inventory unreachable")
}

func TestCreateOrderEscalatesWhenCompensationFails(t *testing.T) {
	h := newHarness(t, []*dominv.Product{product(t, "P", "4.00", 10)},
		withOrders(failingOrders{memory.NewOrderRepository()}),
		withInventory(func(p apporder.InventoryPort) apporder.InventoryPort { return stuckRelease{p} }),
	)

	_, err := h.create.Execute(context.Background(), input(item("P", 3)))
	require.Error(t, err)
	assert.Equal(t, apperr.KindReconciliation, apperr.KindOf(err))
	assert.Equal(t, apperr.CodeManualReconciliation, apperr.CodeOf(err))
	assert.ErrorIs(t, err, errDiskFull)
	assert.Equal(t, 7, h.stock(t, "P"))
	assert.Contains(t, h.publisher.names(), domorder.EventReconciliationRequired)
}

// cancelAfterReserve simulates a client hanging up right after stock was
// taken.
type cancelAfterReserve struct {
	apporder.InventoryPort
	cancel context.CancelFunc
}

func (c cancelAfterReserve) Reserve(ctx context.Context, lines []dominv.Line) error {
	err := c.InventoryPort.Reserve(ctx, lines)
	c.cancel()
	return err
}

func TestCreateOrderCompletesAfterClientCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := newHarness(t, []*dominv.Product{product(t, "P", "1.00", 10)},
		withInventory(func(p apporder.InventoryPort) apporder.InventoryPort {
			return cancelAfterReserve{InventoryPort: p, cancel: cancel}
		}),
	)

	res, err := h.create.Execute(ctx, input(item("P", 4)))
	require.NoError(t, err)
	_, err = h.orders.Get(context.Background(), res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, h.stock(t, "P"))
}

type hangingReserve struct {
	apporder.InventoryPort
}

func (hangingReserve) Reserve(ctx context.Context, _ []dominv.Line) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestCreateOrderEscalatesUnknownReservationOutcome(t *testing.T) {
	h := newHarness(t, []*dominv.Product{product(t, "P", "1.00", 10)},
		withInventory(func(p apporder.InventoryPort) apporder.InventoryPort { return hangingReserve{p} }),
	)
	uc := apporder.NewCreateOrderUseCase(h.orders, h.inventory, h.directory, &seqIDs{}, h.publisher,
		apporder.SagaConfig{StepTimeout: 20 * time.Millisecond}, nil)

	_, err := uc.Execute(context.Background(), input(item("P", 1)))
	require.Error(t, err)
	assert.Equal(t, apperr.KindReconciliation, apperr.KindOf(err))
	assert.ErrorIs(t, err, dominv.ErrOutcomeUnknown)
}

func TestCreateOrderKeepsPriceSnapshot(t *testing.T) {
	h := newHarness(t, []*dominv.Product{product(t, "P", "10.00", 10)})
	ctx := context.Background()

	res, err := h.create.Execute(ctx, input(item("P", 1)))
	require.NoError(t, err)

	_, err = h.catalog.UpdatePrice(ctx, "P", decimal.RequireFromString("20.00"))
	require.NoError(t, err)

	got, err := h.service.Get(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, "10.00", got.Items[0].UnitPrice.StringFixed(2))
	assert.Equal(t, "11.00", got.Total.StringFixed(2))
}

func TestConcurrentOrdersNeverOversell(t *testing.T) {
	const stock = 20
	h := newHarness(t, []*dominv.Product{product(t, "P", "1.00", stock)})

	var wg sync.WaitGroup
	var sold atomic.Int64
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(q int) {
			defer wg.Done()
			if _, err := h.create.Execute(context.Background(), input(item("P", q))); err == nil {
				sold.Add(int64(q))
			}
		}(i%3 + 1)
	}
	wg.Wait()

	assert.LessOrEqual(t, sold.Load(), int64(stock))
	assert.Equal(t, stock-int(sold.Load()), h.stock(t, "P"))

	all, err := h.orders.ListAll(context.Background(), pageAll())
	require.NoError(t, err)
	var ordered int64
	for _, o := range all.Orders {
		ordered += int64(o.Items[0].Quantity)
	}
	assert.Equal(t, sold.Load(), ordered)
}
