package elaborate

import (
	"context"
	"math/rand"
	"time"
)

// Backoff returns the delay before retry number attempt (1-based): the base
// doubled per prior attempt, capped, plus up to 50% random jitter so parallel
// retries spread out.
func Backoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	shift := attempt - 1
	if shift > 16 {
		shift = 16
	}
	d := base << uint(shift)
	if d > cap || d <= 0 {
		d = cap
	}
	jitter := time.Duration(rand.Int63n(int64(d)/2 + 1))
	return d + jitter
}

// sleepFunc waits for d or until ctx is done. Swapped for a stub in tests so
// retry paths run without real delays.
type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
