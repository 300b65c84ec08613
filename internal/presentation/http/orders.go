package httppresentation

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	apporder "github.com/Zhima-Mochi/minishop-saga/internal/application/order"
	domid "github.com/Zhima-Mochi/minishop-saga/internal/domain/identity"
	domorder "github.com/Zhima-Mochi/minishop-saga/internal/domain/order"
	"github.com/Zhima-Mochi/minishop-saga/internal/pkg/apperr"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

type itemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type addressBody struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state,omitempty"`
	Zip     string `json:"zip"`
	Country string `json:"country"`
}

type contactBody struct {
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type createOrderRequest struct {
	BuyerID           string           `json:"buyerId"`
	UserID            string           `json:"userId"`
	Items             []itemRequest    `json:"items"`
	ShippingAddressID string           `json:"shippingAddressId"`
	ShippingAddress   *addressBody     `json:"shippingAddress"`
	Contact           contactBody      `json:"contact"`
	TaxRate           *decimal.Decimal `json:"taxRate"`
}

func (req createOrderRequest) toInput() (apporder.CreateOrderInput, error) {
	buyer := req.BuyerID
	if buyer == "" {
		buyer = req.UserID
	}

	var dest domid.ShippingDestination
	hasRef := strings.TrimSpace(req.ShippingAddressID) != ""
	switch {
	case hasRef && req.ShippingAddress != nil:
		return apporder.CreateOrderInput{}, apperr.Validation("give either shippingAddressId or shippingAddress, not both")
	case hasRef:
		dest = domid.ByReference(req.ShippingAddressID)
	case req.ShippingAddress != nil:
		a := req.ShippingAddress
		dest = domid.Inline(domid.Address{
			Street: a.Street, City: a.City, State: a.State, Zip: a.Zip, Country: a.Country,
		})
	default:
		return apporder.CreateOrderInput{}, apperr.Validation("shippingAddressId or shippingAddress is required")
	}

	items := make([]apporder.ItemInput, len(req.Items))
	for i, it := range req.Items {
		items[i] = apporder.ItemInput{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	rate := decimal.Zero
	if req.TaxRate != nil {
		rate = *req.TaxRate
	}
	return apporder.CreateOrderInput{
		BuyerID:  buyer,
		Items:    items,
		Shipping: dest,
		Contact:  domorder.Contact{Email: req.Contact.Email, Phone: req.Contact.Phone},
		TaxRate:  rate,
	}, nil
}

type orderItemBody struct {
	ID        string `json:"id"`
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
	LineTotal string `json:"lineTotal"`
}

type orderBody struct {
	ID              string          `json:"id"`
	BuyerID         string          `json:"buyerId"`
	Status          string          `json:"status"`
	StatusCode      int             `json:"statusCode"`
	Items           []orderItemBody `json:"items"`
	Subtotal        string          `json:"subtotal"`
	TaxRate         string          `json:"taxRate"`
	TaxAmount       string          `json:"taxAmount"`
	TotalPrice      string          `json:"totalPrice"`
	ShippingAddress addressBody     `json:"shippingAddress"`
	Contact         contactBody     `json:"contact"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

func newOrderBody(o *domorder.Order) orderBody {
	items := make([]orderItemBody, len(o.Items))
	for i, it := range o.Items {
		items[i] = orderItemBody{
			ID:        it.ID,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice.StringFixed(2),
			LineTotal: it.LineTotal().StringFixed(2),
		}
	}
	return orderBody{
		ID:         o.ID,
		BuyerID:    o.BuyerID,
		Status:     o.Status.String(),
		StatusCode: int(o.Status),
		Items:      items,
		Subtotal:   o.Subtotal.StringFixed(2),
		TaxRate:    o.TaxRate.String(),
		TaxAmount:  o.TaxAmount.StringFixed(2),
		TotalPrice: o.Total.StringFixed(2),
		ShippingAddress: addressBody{
			Street:  o.Shipping.Street,
			City:    o.Shipping.City,
			State:   o.Shipping.State,
			Zip:     o.Shipping.Zip,
			Country: o.Shipping.Country,
		},
		Contact:   contactBody{Email: o.Contact.Email, Phone: o.Contact.Phone},
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
}

func newOrderBodies(orders []*domorder.Order) []orderBody {
	out := make([]orderBody, len(orders))
	for i, o := range orders {
		out[i] = newOrderBody(o)
	}
	return out
}

func (h *Handler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	in, err := req.toInput()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.svc.CreateOrder.Execute(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/orders/"+res.Order.ID)
	writeSuccess(w, http.StatusCreated, "order created", newOrderBody(res.Order), nil)
}

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.svc.Orders.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "order retrieved", newOrderBody(o), nil)
}

func (h *Handler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	page, err := pageFrom(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.svc.Orders.ListAll(r.Context(), page)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "orders retrieved", newOrderBodies(res.Orders), &res.Pagination)
}

func (h *Handler) handleBuyerOrders(w http.ResponseWriter, r *http.Request) {
	page, err := pageFrom(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.svc.Orders.ListByBuyer(r.Context(), mux.Vars(r)["userId"], page)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "orders retrieved", newOrderBodies(res.Orders), &res.Pagination)
}

// statusValue accepts either a status name or its numeric code.
type statusValue string

func (s *statusValue) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err == nil {
		*s = statusValue(name)
		return nil
	}
	var code int
	if err := json.Unmarshal(b, &code); err != nil {
		return err
	}
	*s = statusValue(strconv.Itoa(code))
	return nil
}

type updateStatusRequest struct {
	Status statusValue `json:"status"`
}

func (h *Handler) handleUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Status == "" {
		h.writeError(w, r, apperr.Validation("status is required"))
		return
	}
	o, err := h.svc.Orders.UpdateStatus(r.Context(), mux.Vars(r)["id"], string(req.Status))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "order status updated", newOrderBody(o), nil)
}

func (h *Handler) handleDeleteOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.svc.Orders.Delete(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "order deleted", newOrderBody(o), nil)
}

type statsBody struct {
	StartDate         time.Time      `json:"startDate"`
	EndDate           time.Time      `json:"endDate"`
	TotalOrders       int            `json:"totalOrders"`
	TotalRevenue      string         `json:"totalRevenue"`
	AverageOrderValue string         `json:"averageOrderValue"`
	ByStatus          map[string]int `json:"byStatus"`
}

func (h *Handler) handleOrderStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := parseDate(q.Get("startDate"), "startDate")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	end, err := parseDate(q.Get("endDate"), "endDate")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	st, err := h.svc.Orders.Stats(r.Context(), start, end)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	byStatus := make(map[string]int, len(st.ByStatus))
	for s, n := range st.ByStatus {
		byStatus[s.String()] = n
	}
	writeSuccess(w, http.StatusOK, "order stats", statsBody{
		StartDate:         st.Start,
		EndDate:           st.End,
		TotalOrders:       st.TotalOrders,
		TotalRevenue:      st.Revenue.StringFixed(2),
		AverageOrderValue: st.AverageOrderValue.StringFixed(2),
		ByStatus:          byStatus,
	}, nil)
}

// parseDate accepts RFC 3339 timestamps and plain dates.
func parseDate(raw, name string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, apperr.Validationf("%s is required", name)
	}
	for _, layout := range []string{time.RFC3339Nano, time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, apperr.Validationf("%s must be RFC 3339 or YYYY-MM-DD", name)
}
