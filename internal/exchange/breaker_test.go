package exchange

import (
	"errors"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerOpensAfterFailureRatio(t *testing.T) {
	b := NewBreaker("test-trip")
	boom := errors.New("connection refused")

	for i := 0; i < 5; i++ {
		err := b.Do(func() error { return boom })
		require.ErrorIs(t, err, boom)
	}

	assert.Equal(t, gobreaker.StateOpen, b.State())

	err := b.Do(func() error { return nil })
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestBreakerStaysClosedOnSuccess(t *testing.T) {
	b := NewBreaker("test-closed")

	for i := 0; i < 10; i++ {
		require.NoError(t, b.Do(func() error { return nil }))
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreakerOpenErrorIsNotRetryable(t *testing.T) {
	// A fast-failing breaker must not be hammered by the retry loop.
	assert.False(t, IsRetryable(gobreaker.ErrOpenState))
}
