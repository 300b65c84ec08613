package inventory

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeduct(t *testing.T) {
	p, err := NewProduct("p1", "Widget", "W-1", decimal.NewFromInt(5), 3)
	require.NoError(t, err)

	assert.ErrorIs(t, p.Deduct(0), ErrInvalidQuantity)
	assert.ErrorIs(t, p.Deduct(4), ErrInsufficientStock)
	assert.Equal(t, 3, p.Stock)

	require.NoError(t, p.Deduct(3))
	assert.Equal(t, 0, p.Stock)
}

func TestNewProductValidates(t *testing.T) {
	_, err := NewProduct("", "x", "", decimal.Zero, 0)
	assert.ErrorIs(t, err, ErrInvalidProduct)
	_, err = NewProduct("p", "x", "", decimal.NewFromInt(-1), 0)
	assert.ErrorIs(t, err, ErrInvalidPrice)
	_, err = NewProduct("p", "x", "", decimal.Zero, -1)
	assert.ErrorIs(t, err, ErrInvalidStock)
}

func TestMergeLines(t *testing.T) {
	got, err := MergeLines([]Line{{"b", 1}, {"a", 2}, {"b", 4}})
	require.NoError(t, err)
	assert.Equal(t, []Line{{"a", 2}, {"b", 5}}, got)

	_, err = MergeLines(nil)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = MergeLines([]Line{{"a", 0}})
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = MergeLines([]Line{{" ", 1}})
	assert.ErrorIs(t, err, ErrInvalidProduct)
}

func TestShortageErrorMatchesSentinel(t *testing.T) {
	err := NewShortage("p9")
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Contains(t, err.Error(), "p9")
}

func TestCacheKeys(t *testing.T) {
	k := ProductKey("p1")
	assert.Equal(t, "products:id:p1", k.Name)
	assert.False(t, k.IsListing())

	s := SKUKey("L-1")
	assert.Equal(t, "products:sku:L-1", s.Name)
	assert.True(t, s.IsListing())

	l := ListingKey(2, 10)
	assert.Equal(t, "products:list:2:10", l.Name)
	assert.True(t, l.IsListing())
}
