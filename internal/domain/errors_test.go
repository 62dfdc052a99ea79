package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesKind(t *testing.T) {
	err := fmt.Errorf("update: %w", NewConflictError("booking is %s", BookingStatusCompleted))

	assert.True(t, errors.Is(err, ErrConflict))
	assert.False(t, errors.Is(err, ErrValidation))
	assert.Equal(t, KindConflict, KindOf(err))
	assert.Equal(t, "booking is completed", PublicMessage(err))
}

func TestError_GatewayHidesCause(t *testing.T) {
	cause := errors.New("dial tcp 10.0.0.1:443: i/o timeout")
	err := NewGatewayError("refund", cause)

	assert.True(t, errors.Is(err, ErrGateway))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "refund failed, please retry", PublicMessage(err))
}

func TestPublicMessage_Untyped(t *testing.T) {
	assert.Equal(t, "internal error", PublicMessage(errors.New("pq: relation does not exist")))
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("boom")))
}
