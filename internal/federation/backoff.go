package federation

import (
	"context"
	"math/rand"
	"time"
)

const (
	backoffBase    = 1 * time.Second
	backoffCap     = 60 * time.Second
	backoffRetries = 3
)

// retryWithBackoff runs fn up to backoffRetries+1 times, sleeping an
// exponentially growing, jittered interval between attempts. It returns
// the last error when all attempts fail.
func retryWithBackoff(ctx context.Context, fn func() error) error {
	delay := backoffBase
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt >= backoffRetries {
			return err
		}

		// Full jitter: sleep a random fraction of the current delay.
		sleep := time.Duration(rand.Int63n(int64(delay)) + int64(delay)/2)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}

		delay *= 2
		if delay > backoffCap {
			delay = backoffCap
		}
	}
}
