package inventory

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound          = errors.New("inventory: product not found")
	ErrInvalidQuantity   = errors.New("inventory: quantity must be greater than zero")
	ErrInvalidStock      = errors.New("inventory: stock must not be negative")
	ErrInvalidPrice      = errors.New("inventory: price must not be negative")
	ErrInvalidProduct    = errors.New("inventory: product id and name are required")
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrDuplicate means the id was already used, even by a deleted
	// product, or the sku belongs to another live product.
	ErrDuplicate = errors.New("inventory: product already exists")
	// ErrConflict is a transient write conflict; the operation may be retried.
	ErrConflict = errors.New("inventory: concurrent update conflict")
	// ErrOutcomeUnknown means a stock mutation may or may not have applied.
	ErrOutcomeUnknown = errors.New("inventory: stock mutation outcome unknown")
	// ErrRollbackFailed means a partial reservation could not be undone.
	ErrRollbackFailed = errors.New("inventory: reservation rollback failed")
)

type Product struct {
	ID        string
	Name      string
	SKU       string
	Price     decimal.Decimal
	Stock     int
	Deleted   bool
	UpdatedAt time.Time
}

func NewProduct(id, name, sku string, price decimal.Decimal, stock int) (*Product, error) {
	if strings.TrimSpace(id) == "" || strings.TrimSpace(name) == "" {
		return nil, ErrInvalidProduct
	}
	if price.IsNegative() {
		return nil, ErrInvalidPrice
	}
	if stock < 0 {
		return nil, ErrInvalidStock
	}
	return &Product{
		ID:        id,
		Name:      name,
		SKU:       sku,
		Price:     price,
		Stock:     stock,
		UpdatedAt: time.Now().UTC(),
	}, nil
}

// Deduct removes quantity from stock only when enough is available.
func (p *Product) Deduct(quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	if quantity > p.Stock {
		return ErrInsufficientStock
	}
	p.Stock -= quantity
	p.touch()
	return nil
}

func (p *Product) Restock(quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}
	p.Stock += quantity
	p.touch()
	return nil
}

func (p *Product) Clone() *Product {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}

func (p *Product) touch() {
	p.UpdatedAt = time.Now().UTC()
}

// Line is one (product, quantity) pair of a reservation.
type Line struct {
	ProductID string
	Quantity  int
}

// MergeLines validates lines, sums quantities of repeated products and
// returns them ordered by product id. A stable order keeps concurrent
// reservations from interleaving row locks in opposite directions.
func MergeLines(lines []Line) ([]Line, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: no items", ErrInvalidQuantity)
	}
	sums := make(map[string]int, len(lines))
	for _, l := range lines {
		if strings.TrimSpace(l.ProductID) == "" {
			return nil, ErrInvalidProduct
		}
		if l.Quantity <= 0 {
			return nil, fmt.Errorf("%w: product %s", ErrInvalidQuantity, l.ProductID)
		}
		sums[l.ProductID] += l.Quantity
	}
	out := make([]Line, 0, len(sums))
	for id, q := range sums {
		out = append(out, Line{ProductID: id, Quantity: q})
	}
	slices.SortFunc(out, func(a, b Line) int { return strings.Compare(a.ProductID, b.ProductID) })
	return out, nil
}

// LineProductIDs returns the product ids of lines in order.
func LineProductIDs(lines []Line) []string {
	ids := make([]string, len(lines))
	for i, l := range lines {
		ids[i] = l.ProductID
	}
	return ids
}

// Availability is the price and stock of one product at lookup time.
type Availability struct {
	ProductID string
	Price     decimal.Decimal
	Stock     int
}

// ShortageError reports the products whose stock could not cover a request.
type ShortageError struct {
	ProductIDs []string
}

func (e *ShortageError) Error() string {
	return fmt.Sprintf("inventory: insufficient stock for %s", strings.Join(e.ProductIDs, ","))
}

func (e *ShortageError) Is(target error) bool { return target == ErrInsufficientStock }

func NewShortage(productIDs ...string) *ShortageError {
	return &ShortageError{ProductIDs: append([]string(nil), productIDs...)}
}
