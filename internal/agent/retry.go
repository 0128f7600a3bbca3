package agent

import (
	"context"
	"math/rand"
	"time"
)

// withRetry runs fn up to maxRetries+1 times with exponential backoff and
// jitter. Context cancellation stops the loop immediately.
func withRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if attempt >= maxRetries {
			return err
		}
		delay := baseDelay << attempt
		if delay < time.Millisecond {
			delay = time.Millisecond
		}
		// Full jitter keeps simultaneous retries from synchronizing.
		delay = time.Duration(rand.Int63n(int64(delay)) + int64(baseDelay)/2)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
