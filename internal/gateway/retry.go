package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryConfig configures the fixed exponential backoff used for idempotent
// gateway actions (spec §4.2: 1s/2s/4s).
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	BackoffFactor  float64
}

// DefaultRetryConfig implements the spec's 1s/2s/4s schedule over 3 retries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, InitialBackoff: time.Second, BackoffFactor: 2.0}
}

// isRetryable reports whether err is a transient transport failure worth
// retrying (connection reset/refused, deadline exceeded). Protocol-level
// ERROR replies are not retried here; only the caller that already decoded
// the reply can decide that.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// withRetry runs op, retrying with exponential backoff only when action is
// idempotent and the failure looks transient (spec §4.2).
func withRetry(ctx context.Context, action Action, cfg RetryConfig, op func() (*Reply, error)) (*Reply, error) {
	if !IsIdempotent(action) {
		return op()
	}

	backoff := cfg.InitialBackoff
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("gateway request cancelled: %w", ctx.Err())
		default:
		}

		reply, err := op()
		if err == nil {
			return reply, nil
		}
		lastErr = err

		if !isRetryable(err) {
			return nil, err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		log.Warn().Err(err).Str("action", string(action)).Int("attempt", attempt+1).
			Dur("backoff", backoff).Msg("gateway request failed, retrying")

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("gateway request cancelled during backoff: %w", ctx.Err())
		case <-time.After(backoff):
		}
		backoff = time.Duration(float64(backoff) * cfg.BackoffFactor)
	}

	return nil, fmt.Errorf("gateway %s failed after %d attempts: %w", action, cfg.MaxRetries+1, lastErr)
}
