package order

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPricesOrder(t *testing.T) {
	items := []Item{
		{ProductID: "p1", Quantity: 2, UnitPrice: decimal.RequireFromString("50.00")},
		{ProductID: "p2", Quantity: 3, UnitPrice: decimal.RequireFromString("0.10")},
	}
	o, err := New("o1", "u1", items, decimal.NewFromInt(10), Address{City: "Austin"}, Contact{}, time.Now())
	require.NoError(t, err)

	assert.Equal(t, StatusCreated, o.Status)
	assert.Equal(t, "100.30", o.Subtotal.StringFixed(2))
	assert.Equal(t, "10.03", o.TaxAmount.StringFixed(2))
	assert.Equal(t, "110.33", o.Total.StringFixed(2))
	for _, it := range o.Items {
		assert.Equal(t, "o1", it.OrderID)
	}
}

func TestNewAvoidsBinaryFloatDrift(t *testing.T) {
	items := make([]Item, 0, 10)
	for i := 0; i < 10; i++ {
		items = append(items, Item{ProductID: "p", Quantity: 1, UnitPrice: decimal.RequireFromString("0.1")})
	}
	o, err := New("o1", "u1", items, decimal.Zero, Address{}, Contact{}, time.Now())
	require.NoError(t, err)
	assert.True(t, o.Total.Equal(decimal.NewFromInt(1)))
}

func TestNewRejectsInvalidInput(t *testing.T) {
	price := decimal.NewFromInt(1)
	tests := []struct {
		name  string
		items []Item
		rate  decimal.Decimal
		want  error
	}{
		{"no items", nil, decimal.Zero, ErrNoItems},
		{"zero quantity", []Item{{ProductID: "p", Quantity: 0, UnitPrice: price}}, decimal.Zero, ErrInvalidQuantity},
		{"negative price", []Item{{ProductID: "p", Quantity: 1, UnitPrice: price.Neg()}}, decimal.Zero, ErrInvalidPrice},
		{"negative tax", []Item{{ProductID: "p", Quantity: 1, UnitPrice: price}}, decimal.NewFromInt(-1), ErrInvalidTaxRate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New("o1", "u1", tt.items, tt.rate, Address{}, Contact{}, time.Now())
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCloneDoesNotShareItems(t *testing.T) {
	o, err := New("o1", "u1", []Item{{ProductID: "p", Quantity: 1, UnitPrice: decimal.NewFromInt(3)}}, decimal.Zero, Address{}, Contact{}, time.Now())
	require.NoError(t, err)

	c := o.Clone()
	c.Items[0].Quantity = 99
	assert.Equal(t, 1, o.Items[0].Quantity)
}

func TestProductIDsDeduplicates(t *testing.T) {
	o := &Order{Items: []Item{{ProductID: "b"}, {ProductID: "a"}, {ProductID: "b"}}}
	assert.Equal(t, []string{"b", "a"}, o.ProductIDs())
}

func TestNewStats(t *testing.T) {
	st := NewStats(time.Time{}, time.Time{}, map[Status]StatusBucket{
		StatusCreated:   {Count: 2, Revenue: decimal.RequireFromString("30.00")},
		StatusDelivered: {Count: 1, Revenue: decimal.RequireFromString("15.00")},
		StatusCancelled: {Count: 4, Revenue: decimal.RequireFromString("999.00")},
	})

	assert.Equal(t, 7, st.TotalOrders)
	assert.Equal(t, "45.00", st.Revenue.StringFixed(2))
	assert.Equal(t, "15.00", st.AverageOrderValue.StringFixed(2))
	assert.Equal(t, 4, st.ByStatus[StatusCancelled])
	assert.Equal(t, 0, st.ByStatus[StatusPaid])
}
