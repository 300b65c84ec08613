// Package apperr defines the error taxonomy surfaced to API callers.
//
// Every failure that leaves the application layer is an *Error carrying a
// stable Kind and Code. The wrapped cause is for logs only.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation     Kind = "validation_error"
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindUpstream       Kind = "upstream_unavailable"
	KindPersistence    Kind = "persistence_error"
	KindReconciliation Kind = "reconciliation_required"
	KindInternal       Kind = "internal_error"
)

const (
	CodeValidationFailed     = "VALIDATION_FAILED"
	CodeInvalidBuyer         = "INVALID_BUYER"
	CodeInvalidAddress       = "INVALID_ADDRESS"
	CodeInsufficientStock    = "INSUFFICIENT_STOCK"
	CodeInvalidStatus        = "INVALID_STATUS"
	CodeInvalidTransition    = "INVALID_TRANSITION"
	CodeOrderNotFound        = "ORDER_NOT_FOUND"
	CodeProductNotFound      = "PRODUCT_NOT_FOUND"
	CodeProductExists        = "PRODUCT_ALREADY_EXISTS"
	CodeUpstreamUnavailable  = "UPSTREAM_UNAVAILABLE"
	CodeReservationContended = "RESERVATION_CONTENDED"
	CodePersistenceFailed    = "ORDER_PERSISTENCE_FAILED"
	CodeManualReconciliation = "MANUAL_RECONCILIATION_REQUIRED"
	CodeInternal             = "INTERNAL_ERROR"
)

// Error is the application-level error returned by use cases.
type Error struct {
	Kind    Kind
	Code    string
	Message string

	// ProductIDs lists the offending products for stock conflicts.
	ProductIDs []string
	// Compensated reports whether reserved stock was re-credited after a
	// persistence failure. Only meaningful for KindPersistence.
	Compensated bool

	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, and by code when the target sets one.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

func New(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

func Wrap(kind Kind, code, msg string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: msg, Err: err}
}

func Validation(msg string) *Error {
	return New(KindValidation, CodeValidationFailed, msg)
}

func Validationf(format string, args ...any) *Error {
	return Validation(fmt.Sprintf(format, args...))
}

func NotFound(code, msg string) *Error {
	return New(KindNotFound, code, msg)
}

// InsufficientStock reports a stock conflict on the given products.
func InsufficientStock(productIDs ...string) *Error {
	e := New(KindConflict, CodeInsufficientStock, "insufficient stock")
	e.ProductIDs = append([]string(nil), productIDs...)
	if len(productIDs) > 0 {
		e.Message = fmt.Sprintf("insufficient stock for product %s", productIDs[0])
	}
	return e
}

func Upstream(code, msg string, err error) *Error {
	return Wrap(KindUpstream, code, msg, err)
}

// PersistenceFailed reports an order write failure after stock was reserved.
func PersistenceFailed(compensated bool, err error) *Error {
	e := Wrap(KindPersistence, CodePersistenceFailed, "order could not be persisted", err)
	e.Compensated = compensated
	if compensated {
		e.Message = "order could not be persisted; reserved stock was released"
	}
	return e
}

func ReconciliationRequired(msg string, productIDs []string, err error) *Error {
	e := Wrap(KindReconciliation, CodeManualReconciliation, msg, err)
	e.ProductIDs = append([]string(nil), productIDs...)
	return e
}

func Internal(err error) *Error {
	return Wrap(KindInternal, CodeInternal, "internal error", err)
}

// From extracts an *Error from err's chain.
func From(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal when err carries none.
func KindOf(err error) Kind {
	if e, ok := From(err); ok {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the code of err, or CodeInternal when err carries none.
func CodeOf(err error) string {
	if e, ok := From(err); ok {
		return e.Code
	}
	return CodeInternal
}
