// Package retry wraps adapter calls with a bounded exponential-backoff
// policy keyed by error kind. Only transient network failures are retried;
// everything else propagates on the first attempt.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/paybridge/paybridge/payerr"
)

// Controller applies the retry policy. The sleep function is injectable so
// tests can observe the backoff schedule without waiting.
type Controller struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64

	sleep  func(ctx context.Context, d time.Duration) error
	logger *slog.Logger
}

// New returns a Controller with the given budget. maxAttempts must be at
// least 1; the defaults elsewhere use 3.
func New(maxAttempts int, baseDelay time.Duration, logger *slog.Logger) *Controller {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		MaxAttempts: maxAttempts,
		BaseDelay:   baseDelay,
		Multiplier:  2,
		sleep:       sleepCtx,
		logger:      logger,
	}
}

// SetSleep replaces the delay function. Tests use this to record the
// schedule instead of sleeping.
func (c *Controller) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	c.sleep = fn
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do runs op up to MaxAttempts times. Transient failures are retried with
// exponential backoff; exhausting the budget returns ErrRetriesExhausted
// wrapping the final transient error so callers can tell "gave up" from
// "failed immediately".
func (c *Controller) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	var lastErr error
	delay := c.BaseDelay
	for attempt := 1; attempt <= c.MaxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !payerr.IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == c.MaxAttempts {
			break
		}
		c.logger.Warn("transient failure, retrying", "op", name, "attempt", attempt, "delay", delay, "err", lastErr)
		if err := c.sleep(ctx, delay); err != nil {
			return fmt.Errorf("%w: %v", payerr.ErrNetworkFailure, err)
		}
		delay = time.Duration(float64(delay) * c.Multiplier)
	}
	return fmt.Errorf("%w after %d attempts: %v", payerr.ErrRetriesExhausted, c.MaxAttempts, lastErr)
}

// NewIdempotencyKey derives the stable token attached to a logical mutating
// request. It is generated once per request, not per attempt, so a retry
// after a partial success cannot create a duplicate resource.
func NewIdempotencyKey() string {
	return uuid.NewString()
}
