package connectivity

import (
	"context"
	"log/slog"
	"time"
)

// Retry runs fn up to maxRetries+1 times with exponential backoff,
// doubling baseBackoff after each failed attempt. It respects context
// cancellation between retries and gives up immediately when the error
// is ErrCircuitOpen — retrying won't help until the breaker resets.
//
// logger may be nil for silent retries.
func Retry(ctx context.Context, maxRetries int, baseBackoff time.Duration, logger *slog.Logger, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return lastErr
		}
		if _, ok := err.(*ErrCircuitOpen); ok {
			return err
		}

		if attempt < maxRetries {
			wait := baseBackoff * (1 << uint(attempt))
			if logger != nil {
				logger.WarnContext(ctx, "retrying call",
					"attempt", attempt+1,
					"max_retries", maxRetries,
					"backoff_ms", wait.Milliseconds(),
					"error", err)
			}
			select {
			case <-ctx.Done():
				return lastErr
			case <-time.After(wait):
			}
		}
	}
	return lastErr
}
