package outbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type plain struct{}

func (plain) EventName() string { return "plain" }

type keyed struct{ id string }

func (keyed) EventName() string  { return "keyed" }
func (k keyed) EventKey() string { return k.id }

func TestKey(t *testing.T) {
	assert.Equal(t, "", Key(plain{}))
	assert.Equal(t, "o-1", Key(keyed{id: "o-1"}))
}
