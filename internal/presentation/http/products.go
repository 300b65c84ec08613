package httppresentation

import (
	"net/http"
	"sort"

	appinv "github.com/Zhima-Mochi/minishop-saga/internal/application/inventory"
	dominv "github.com/Zhima-Mochi/minishop-saga/internal/domain/inventory"
	"github.com/Zhima-Mochi/minishop-saga/internal/pkg/apperr"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

func (h *Handler) handleListProducts(w http.ResponseWriter, r *http.Request) {
	page, err := pageFrom(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.svc.Catalog.ListProducts(r.Context(), page)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "products retrieved", res.Items, &res.Pagination)
}

func (h *Handler) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Catalog.GetProduct(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "product retrieved", p, nil)
}

func (h *Handler) handleGetProductBySKU(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Catalog.GetProductBySKU(r.Context(), mux.Vars(r)["sku"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "product retrieved", p, nil)
}

type createProductRequest struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	SKU   string          `json:"sku"`
	Price decimal.Decimal `json:"price"`
	Stock int             `json:"stock"`
}

func (h *Handler) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req createProductRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.svc.Catalog.CreateProduct(r.Context(), appinv.CreateProductInput{
		ID:    req.ID,
		Name:  req.Name,
		SKU:   req.SKU,
		Price: req.Price,
		Stock: req.Stock,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusCreated, "product created", p, nil)
}

type priceRequest struct {
	Price *decimal.Decimal `json:"price"`
}

func (h *Handler) handleUpdatePrice(w http.ResponseWriter, r *http.Request) {
	var req priceRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Price == nil {
		h.writeError(w, r, apperr.Validation("price is required"))
		return
	}
	p, err := h.svc.Catalog.UpdatePrice(r.Context(), mux.Vars(r)["id"], *req.Price)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "product price updated", p, nil)
}

type stockRequest struct {
	Stock *int `json:"stock"`
}

func (h *Handler) handleSetStock(w http.ResponseWriter, r *http.Request) {
	var req stockRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.Stock == nil {
		h.writeError(w, r, apperr.Validation("stock is required"))
		return
	}
	p, err := h.svc.Catalog.SetStock(r.Context(), mux.Vars(r)["id"], *req.Stock)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "product stock updated", p, nil)
}

func (h *Handler) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Catalog.DeleteProduct(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "product deleted", nil, nil)
}

type availabilityRequest struct {
	ProductIDs []string `json:"productIds"`
}

type availabilityBody struct {
	ProductID string `json:"productId"`
	Price     string `json:"price"`
	Stock     int    `json:"stock"`
}

func (h *Handler) handleAvailability(w http.ResponseWriter, r *http.Request) {
	var req availabilityRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	got, err := h.svc.Catalog.Availability(r.Context(), req.ProductIDs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]availabilityBody, 0, len(got))
	for _, a := range got {
		out = append(out, availabilityBody{ProductID: a.ProductID, Price: a.Price.StringFixed(2), Stock: a.Stock})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	writeSuccess(w, http.StatusOK, "availability", out, nil)
}

type stockLinesRequest struct {
	Items []itemRequest `json:"items"`
}

func (req stockLinesRequest) lines() []dominv.Line {
	out := make([]dominv.Line, len(req.Items))
	for i, it := range req.Items {
		out[i] = dominv.Line{ProductID: it.ProductID, Quantity: it.Quantity}
	}
	return out
}

// handleDeductStock reserves every line or none.
func (h *Handler) handleDeductStock(w http.ResponseWriter, r *http.Request) {
	var req stockLinesRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.svc.Reserve.Execute(r.Context(), appinv.ReserveStockInput{Lines: req.lines()})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "stock deducted", res.Remaining, nil)
}

func (h *Handler) handleRestock(w http.ResponseWriter, r *http.Request) {
	var req stockLinesRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, err := h.svc.Release.Execute(r.Context(), appinv.ReleaseStockInput{Lines: req.lines()}); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "stock restocked", nil, nil)
}
