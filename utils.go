package secretary

import (
	"context"
	"log/slog"
	"time"
)

// retryable executes call with exponential backoff. It stops early when ctx
// is done and never retries once the context has an error.
func retryable(ctx context.Context, call func() error, max int, backoff time.Duration, log *slog.Logger) error {
	if max <= 0 {
		return call() // no retry
	}

	delay := backoff
	var err error
	for i := 0; i <= max; i++ {
		if err = call(); err == nil {
			if i > 0 {
				log.Debug("Attempt succeeded", "attempt", i+1)
			}
			return nil
		}
		if i == max || ctx.Err() != nil {
			log.Debug("Final attempt failed", "attempt", i+1, "error", err)
			return err
		}
		log.Debug("Attempt failed, retrying", "attempt", i+1, "error", err, "delay", delay)
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
		delay *= 2
	}
	return err
}

// preview shortens text for debug logs.
func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
