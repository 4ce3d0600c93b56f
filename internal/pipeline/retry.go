package pipeline

import (
	"context"
	"log/slog"
	"time"
)

// withRetry runs fn up to maxAttempts times with doubling backoff. It
// aborts immediately when the context is done, so no strategy retries past
// the document deadline.
func withRetry(ctx context.Context, maxAttempts int, initialBackoff time.Duration, logger *slog.Logger, label string, fn func() error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	backoff := initialBackoff
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
		if attempt == maxAttempts {
			break
		}
		logger.Warn("call failed, will retry",
			"call", label,
			"attempt", attempt,
			"maxAttempts", maxAttempts,
			"backoff", backoff.String(),
			"error", lastErr,
		)
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return lastErr
		}
	}
	return lastErr
}
