package agent

import (
	"context"
	"time"

	"go.uber.org/zap"

	"vega-agent/backend/internal/adapter"
	"vega-agent/backend/internal/constants"
	apperrors "vega-agent/backend/pkg/errors"
)

// RetryPolicy is a bounded exponential backoff for backend calls
type RetryPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Factor    float64
}

// DefaultRetryPolicy waits 500ms then 1s between three attempts
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:  constants.DefaultBackendAttempts,
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  4 * time.Second,
		Factor:    2,
	}
}

// Delay returns the wait after the given failed attempt (1-based)
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= p.Factor
		if p.MaxDelay > 0 && time.Duration(d) >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && time.Duration(d) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// complete calls the backend under the retry policy
func (c *Controller) complete(ctx context.Context, history []adapter.Message, defs []adapter.Tool, log *zap.Logger) (*adapter.Response, error) {
	attempts := c.retry.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := c.backend.Complete(ctx, history, defs)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, apperrors.NewCancelled("model backend call", ctx.Err())
		}
		lastErr = err

		if !adapter.IsRetryable(err) {
			log.Error("Model backend call failed", zap.Error(err), zap.Int("attempt", attempt))
			return nil, apperrors.NewBackendUnavailable(c.model, attempt, err)
		}
		if attempt == attempts {
			break
		}

		delay := c.retry.Delay(attempt)
		log.Warn("Model backend call failed, retrying",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, apperrors.NewCancelled("model backend retry", ctx.Err())
		case <-timer.C:
		}
	}

	log.Error("Model backend unavailable", zap.Error(lastErr), zap.Int("attempts", attempts))
	return nil, apperrors.NewBackendUnavailable(c.model, attempts, lastErr)
}
