package errkind

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindMatching(t *testing.T) {
	err := GatewayRejected("Invalid email address")
	wrapped := fmt.Errorf("initialize: %w", err)

	assert.True(t, errors.Is(wrapped, ErrGatewayRejected))
	assert.False(t, errors.Is(wrapped, ErrConflict))
	assert.Equal(t, KindGatewayRejected, Of(wrapped))
	assert.Equal(t, "Invalid email address", err.Error())
}

func TestTransientKeepsCause(t *testing.T) {
	err := Transient("payment gateway timed out", context.DeadlineExceeded)

	assert.True(t, errors.Is(err, ErrTransient))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.True(t, Retryable(err))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(NotFound("transaction not found")))
	assert.False(t, Retryable(Conflict("transaction is not completed")))
	assert.False(t, Retryable(Config("PAYSTACK_SECRET_KEY is not set")))
	assert.False(t, Retryable(errors.New("plain")))
	assert.Equal(t, Kind(""), Of(errors.New("plain")))
}

func TestEmptyMessages(t *testing.T) {
	assert.Equal(t, "payment gateway rejected the request", GatewayRejected(" ").Error())
	assert.Equal(t, "conflict", (&Error{Kind: KindConflict}).Error())
}
