package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIsMatchesKindAndCode(t *testing.T) {
	err := fmt.Errorf("create: %w", InsufficientStock("p1"))

	assert.ErrorIs(t, err, &Error{Kind: KindConflict})
	assert.ErrorIs(t, err, &Error{Kind: KindConflict, Code: CodeInsufficientStock})
	assert.NotErrorIs(t, err, &Error{Kind: KindConflict, Code: CodeInvalidTransition})
	assert.NotErrorIs(t, err, &Error{Kind: KindNotFound})
}

func TestFromWalksTheChain(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("outer: %w", PersistenceFailed(true, cause))

	e, ok := From(err)
	require.True(t, ok)
	assert.Equal(t, KindPersistence, e.Kind)
	assert.True(t, e.Compensated)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, e.Error(), "connection reset")
}

func TestKindOfDefaultsToInternal(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	assert.Equal(t, KindValidation, KindOf(Validation("bad")))
}

func TestInsufficientStockCopiesIDs(t *testing.T) {
	ids := []string{"a", "b"}
	e := InsufficientStock(ids...)
	ids[0] = "changed"

	assert.Equal(t, []string{"a", "b"}, e.ProductIDs)
	assert.Equal(t, "insufficient stock for product a", e.Message)
}
