package httppresentation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/Zhima-Mochi/minishop-saga/internal/observability"
	"github.com/Zhima-Mochi/minishop-saga/internal/observability/logctx"
	"github.com/Zhima-Mochi/minishop-saga/internal/pkg/apperr"
	"github.com/Zhima-Mochi/minishop-saga/internal/pkg/paging"
)

const maxBodyBytes = 1 << 20

type successBody struct {
	Status     string       `json:"status"`
	Message    string       `json:"message"`
	Data       any          `json:"data,omitempty"`
	Pagination *paging.Meta `json:"pagination,omitempty"`
}

type errorBody struct {
	Status                       string   `json:"status"`
	Kind                         string   `json:"kind"`
	Code                         string   `json:"code"`
	Message                      string   `json:"message"`
	ProductIDs                   []string `json:"productIds,omitempty"`
	Compensated                  *bool    `json:"compensated,omitempty"`
	ManualReconciliationRequired bool     `json:"manualReconciliationRequired,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeSuccess(w http.ResponseWriter, status int, msg string, data any, meta *paging.Meta) {
	writeJSON(w, status, successBody{Status: "success", Message: msg, Data: data, Pagination: meta})
}

func writeFailure(w http.ResponseWriter, status int, kind, code, msg string) {
	writeJSON(w, status, errorBody{Status: "error", Kind: kind, Code: code, Message: msg})
}

// writeError maps an application error onto a status code and error body.
// The wrapped cause is logged, never serialized.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e, ok := apperr.From(err)
	if !ok {
		e = apperr.Internal(err)
	}
	status := statusFor(e)

	logger := logctx.FromOr(r.Context(), h.log)
	fields := []observability.Field{
		observability.F("kind", string(e.Kind)),
		observability.F("code", e.Code),
		observability.F("status", status),
		observability.F("error", err.Error()),
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request_failed", fields...)
	} else {
		logger.Info("request_rejected", fields...)
	}

	body := errorBody{
		Status:     "error",
		Kind:       string(e.Kind),
		Code:       e.Code,
		Message:    e.Message,
		ProductIDs: e.ProductIDs,
	}
	switch e.Kind {
	case apperr.KindPersistence:
		compensated := e.Compensated
		body.Compensated = &compensated
	case apperr.KindReconciliation:
		body.ManualReconciliationRequired = true
	}
	writeJSON(w, status, body)
}

func statusFor(e *apperr.Error) int {
	switch e.Kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		// An unknown buyer or address is a bad request, not a missing resource.
		if e.Code == apperr.CodeInvalidBuyer || e.Code == apperr.CodeInvalidAddress {
			return http.StatusBadRequest
		}
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindUpstream:
		if e.Code == apperr.CodeReservationContended {
			return http.StatusServiceUnavailable
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads one JSON object, rejecting unknown fields and trailing
// data.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("request body is required")
		}
		return apperr.Wrap(apperr.KindValidation, apperr.CodeValidationFailed, "malformed request body", err)
	}
	if dec.More() {
		return apperr.Validation("request body must hold a single JSON object")
	}
	return nil
}

// pageFrom reads the 1-based page number from "offset" and the page size from
// "limit".
func pageFrom(r *http.Request) (paging.Page, error) {
	q := r.URL.Query()
	number, err := intParam(q.Get("offset"), "offset")
	if err != nil {
		return paging.Page{}, err
	}
	size, err := intParam(q.Get("limit"), "limit")
	if err != nil {
		return paging.Page{}, err
	}
	return paging.New(number, size), nil
}

func intParam(raw, name string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Validation(fmt.Sprintf("%s must be an integer", name))
	}
	return n, nil
}
