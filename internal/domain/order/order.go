package order

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound          = errors.New("order: not found")
	ErrConflict          = errors.New("order: already exists")
	ErrNoItems           = errors.New("order: at least one item is required")
	ErrInvalidQuantity   = errors.New("order: quantity must be greater than zero")
	ErrInvalidPrice      = errors.New("order: unit price must not be negative")
	ErrInvalidTaxRate    = errors.New("order: tax rate must not be negative")
	ErrInvalidStatus     = errors.New("order: unknown status")
	ErrInvalidTransition = errors.New("order: status transition not allowed")
)

// Address is the shipping address snapshotted onto the order at creation.
type Address struct {
	Street  string
	City    string
	State   string
	Zip     string
	Country string
}

type Contact struct {
	Email string
	Phone string
}

// Item is one order line. UnitPrice is the product price at order time.
type Item struct {
	ID        string
	OrderID   string
	ProductID string
	Quantity  int
	UnitPrice decimal.Decimal
}

func (i Item) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type Order struct {
	ID        string
	BuyerID   string
	Status    Status
	Items     []Item
	Subtotal  decimal.Decimal
	TaxRate   decimal.Decimal
	TaxAmount decimal.Decimal
	Total     decimal.Decimal
	Shipping  Address
	Contact   Contact
	Deleted   bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// New builds a Created order and prices it. Item ids and order ids on items
// are filled from id.
func New(id, buyerID string, items []Item, taxRate decimal.Decimal, shipping Address, contact Contact, now time.Time) (*Order, error) {
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	if taxRate.IsNegative() {
		return nil, ErrInvalidTaxRate
	}
	lines := make([]Item, len(items))
	for i, it := range items {
		if it.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		if it.UnitPrice.IsNegative() {
			return nil, ErrInvalidPrice
		}
		it.OrderID = id
		lines[i] = it
	}

	subtotal, tax, total := Price(lines, taxRate)
	now = now.UTC()
	return &Order{
		ID:        id,
		BuyerID:   buyerID,
		Status:    StatusCreated,
		Items:     lines,
		Subtotal:  subtotal,
		TaxRate:   taxRate,
		TaxAmount: tax,
		Total:     total,
		Shipping:  shipping,
		Contact:   contact,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Price returns subtotal, tax and total for items. Tax is subtotal*rate/100
// rounded to cents.
func Price(items []Item, taxRate decimal.Decimal) (subtotal, tax, total decimal.Decimal) {
	subtotal = decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.LineTotal())
	}
	tax = subtotal.Mul(taxRate).Div(decimal.NewFromInt(100)).Round(2)
	total = subtotal.Add(tax)
	return subtotal, tax, total
}

// ProductIDs lists the distinct products on the order in item order.
func (o *Order) ProductIDs() []string {
	seen := make(map[string]struct{}, len(o.Items))
	ids := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		if _, ok := seen[it.ProductID]; ok {
			continue
		}
		seen[it.ProductID] = struct{}{}
		ids = append(ids, it.ProductID)
	}
	return ids
}

func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	clone.Items = append([]Item(nil), o.Items...)
	return &clone
}

func (o *Order) touch(now time.Time) {
	o.UpdatedAt = now.UTC()
}
