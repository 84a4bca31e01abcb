package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrefixed(t *testing.T) {
	assert.Equal(t, "i.id, i.booking_id, i.amount", prefixed("i", "id, booking_id,\n\tamount"))
}
