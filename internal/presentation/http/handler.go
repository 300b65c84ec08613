package httppresentation

import (
	"net/http"

	"github.com/Zhima-Mochi/minishop-saga/internal/application"
	appinv "github.com/Zhima-Mochi/minishop-saga/internal/application/inventory"
	apporder "github.com/Zhima-Mochi/minishop-saga/internal/application/order"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	"github.com/gorilla/mux"
)

const (
	componentHTTPHandler = "http_server"
	headerRequestID      = "X-Request-ID"
)

// Services are the use cases the HTTP surface exposes. Catalog, Reserve and
// Release are optional: product routes are mounted only when the inventory
// runs in this process.
type Services struct {
	CreateOrder application.UseCase[apporder.CreateOrderInput, *apporder.CreateOrderResult]
	Orders      *apporder.Service
	Catalog     *appinv.Catalog
	Reserve     application.UseCase[appinv.ReserveStockInput, *appinv.ReserveStockResult]
	Release     application.UseCase[appinv.ReleaseStockInput, *appinv.ReleaseStockResult]
}

type Handler struct {
	svc     Services
	metrics http.Handler

	log          observability.Logger
	tracer       observability.Tracer
	reqCounter   observability.Counter   // http_requests_total{method,route,status}
	durHistogram observability.Histogram // http_request_duration_seconds{method,route}
}

// NewHandler builds the HTTP surface. metrics, when set, is served at
// /metrics.
func NewHandler(svc Services, tel observability.Observability, metrics http.Handler) *Handler {
	if tel == nil {
		tel = observability.Nop()
	}
	m := tel.Metrics()
	return &Handler{
		svc:          svc,
		metrics:      metrics,
		log:          tel.Logger().With(observability.F("component", componentHTTPHandler)),
		tracer:       tel.Tracer(),
		reqCounter:   m.Counter(observability.MHTTPRequests),
		durHistogram: m.Histogram(observability.MHTTPRequestDuration),
	}
}

func (h *Handler) Router() http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeFailure(w, http.StatusNotFound, "not_found", "NOT_FOUND", "route not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeFailure(w, http.StatusMethodNotAllowed, "validation_error", "METHOD_NOT_ALLOWED", "method not allowed")
	})

	// Fixed paths go before /orders/{id}.
	h.handle(r, http.MethodPost, "/orders", h.handleCreateOrder)
	h.handle(r, http.MethodGet, "/orders/list", h.handleListOrders)
	h.handle(r, http.MethodGet, "/orders/stats", h.handleOrderStats)
	h.handle(r, http.MethodGet, "/orders/user/{userId}", h.handleBuyerOrders)
	h.handle(r, http.MethodGet, "/orders/{id}", h.handleGetOrder)
	h.handle(r, http.MethodPatch, "/orders/{id}", h.handleUpdateOrderStatus)
	h.handle(r, http.MethodDelete, "/orders/{id}", h.handleDeleteOrder)

	if h.svc.Catalog != nil {
		h.handle(r, http.MethodGet, "/products", h.handleListProducts)
		h.handle(r, http.MethodPost, "/products", h.handleCreateProduct)
		h.handle(r, http.MethodPost, "/products/availability", h.handleAvailability)
		if h.svc.Reserve != nil && h.svc.Release != nil {
			h.handle(r, http.MethodPatch, "/products/deduct-stock", h.handleDeductStock)
			h.handle(r, http.MethodPatch, "/products/restock", h.handleRestock)
		}
		h.handle(r, http.MethodGet, "/products/sku/{sku}", h.handleGetProductBySKU)
		h.handle(r, http.MethodGet, "/products/{id}", h.handleGetProduct)
		h.handle(r, http.MethodPatch, "/products/{id}/price", h.handleUpdatePrice)
		h.handle(r, http.MethodPatch, "/products/{id}/stock", h.handleSetStock)
		h.handle(r, http.MethodDelete, "/products/{id}", h.handleDeleteProduct)
	}

	r.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics).Methods(http.MethodGet)
	}
	return r
}

// handle wires route with: route label, server span, request logger, access
// log, metrics.
func (h *Handler) handle(r *mux.Router, method, route string, fn http.HandlerFunc) {
	chain := h.withTrace(
		ObservabilityMiddleware(h.log, func(r *http.Request) string {
			return r.Header.Get(headerRequestID)
		})(
			h.withAccessLog(
				h.withHTTPMetrics(fn),
			),
		),
	)
	r.Handle(route, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		chain.ServeHTTP(w, req.WithContext(contextWithRoute(req.Context(), route)))
	})).Methods(method)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, "ok", nil, nil)
}
