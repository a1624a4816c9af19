package exchange

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryConfig configures retry behavior for exchange calls.
type RetryConfig struct {
	MaxRetries     int           // Maximum number of retry attempts
	InitialBackoff time.Duration // Initial backoff duration
	MaxBackoff     time.Duration // Maximum backoff duration
	BackoffFactor  float64       // Multiplier for exponential backoff
}

// DefaultRetryConfig returns the retry configuration for read calls
// (market data, order status, balances).
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2.0,
	}
}

// PlacementRetryConfig returns the retry configuration for order
// placement. Placements get at most two retries, and only for failures
// that provably never reached the venue; see IsAmbiguous.
func PlacementRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     2,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     1 * time.Second,
		BackoffFactor:  2.0,
	}
}

// retryablePatterns are substrings of transient errors worth retrying.
// The numeric codes are Binance API errors: 1015/1003 and -1003 are
// rate limits, -1001 is an internal disconnect, -1021 is a recoverable
// timestamp drift.
var retryablePatterns = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"temporary failure",
	"too many requests",
	"rate limit",
	"EAPI:1015",
	"EAPI:1003",
	"-1001",
	"-1003",
	"-1021",
}

// IsRetryable reports whether an error is transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range retryablePatterns {
		if strings.Contains(msg, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

// IsAmbiguous reports whether an error leaves the request outcome
// unknown: the venue may have accepted the order even though the
// response never arrived. Ambiguous placement failures must not be
// retried blindly or the same intent can fill twice.
func IsAmbiguous(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "deadline exceeded", "unexpected eof", "connection reset"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// WithRetry executes operation with exponential backoff on retryable
// errors. Non-retryable errors and context cancellation return
// immediately.
func WithRetry(ctx context.Context, config RetryConfig, operation func() error) error {
	backoff := config.InitialBackoff
	var lastErr error

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}

		lastErr = operation()
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == config.MaxRetries {
			break
		}

		log.Warn().
			Err(lastErr).
			Int("attempt", attempt+1).
			Int("max_retries", config.MaxRetries).
			Dur("backoff", backoff).
			Msg("Retrying exchange call")

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * config.BackoffFactor)
		if backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}

	return fmt.Errorf("exhausted %d retries: %w", config.MaxRetries, lastErr)
}

// WithPlacementRetry executes an order placement with at most
// config.MaxRetries retries, skipping any failure whose outcome is
// ambiguous. Everything else behaves like WithRetry.
func WithPlacementRetry(ctx context.Context, config RetryConfig, operation func() error) error {
	backoff := config.InitialBackoff
	var lastErr error

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}

		lastErr = operation()
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) || IsAmbiguous(lastErr) {
			return lastErr
		}
		if attempt == config.MaxRetries {
			break
		}

		log.Warn().
			Err(lastErr).
			Int("attempt", attempt+1).
			Msg("Retrying order placement")

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * config.BackoffFactor)
		if backoff > config.MaxBackoff {
			backoff = config.MaxBackoff
		}
	}

	return fmt.Errorf("exhausted %d retries: %w", config.MaxRetries, lastErr)
}
