package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const maxRetryDelay = 30 * time.Second

// retrier re-runs chain reads with a doubling delay. Cancellation is never retried.
type retrier struct {
	attempts int
	base     time.Duration
	logger   *zap.Logger
}

func newRetrier(maxRetries int, base time.Duration, logger *zap.Logger) retrier {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return retrier{attempts: maxRetries + 1, base: base, logger: logger}
}

// do runs fn until it succeeds or every attempt is used. op names the read in logs and
// in the returned error.
func (r retrier) do(ctx context.Context, op string, fn func(context.Context) error) error {
	delay := r.base
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return err
		}
		if attempt >= r.attempts {
			return fmt.Errorf("%s failed after %d attempts: %w", op, attempt, err)
		}
		r.logger.Debug("chain read retry",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = min(delay*2, maxRetryDelay)
	}
}
