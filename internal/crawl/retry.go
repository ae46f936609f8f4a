package crawl

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// ErrRateLimited marks a fetch that was rejected with HTTP 429. It is the
// only error class the retry policy retries; everything else fails the
// resource immediately.
var ErrRateLimited = errors.New("rate limited")

// RetryPolicy is an explicit, parameterized backoff policy. Delay for
// attempt n (zero-based) is BaseDelay * 2^n scaled by a random jitter factor
// in [JitterLow, JitterHigh), capped at MaxDelay.
//
// The sleep and random functions are injectable so tests can run the policy
// against a fake clock.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	JitterLow  float64
	JitterHigh float64

	Sleep func(ctx context.Context, d time.Duration) error
	Rand  func() float64
}

// DefaultRetryPolicy mirrors the limits blogs in the wild tolerate: five
// retries starting at two seconds, doubling each time.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 5,
		BaseDelay:  2 * time.Second,
		MaxDelay:   2 * time.Minute,
		JitterLow:  0.5,
		JitterHigh: 1.5,
	}
}

// Backoff returns the jittered delay before retry attempt n (zero-based).
// Doubling stops once the delay reaches MaxDelay or would overflow, so a
// large configured retry count cannot wrap into a zero or negative delay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			break
		}
		if delay > math.MaxInt64/2 {
			break
		}
		delay <<= 1
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	randFn := p.Rand
	if randFn == nil {
		randFn = rand.Float64
	}
	jitter := p.JitterLow + randFn()*(p.JitterHigh-p.JitterLow)
	return time.Duration(float64(delay) * jitter)
}

// Do runs op, retrying with backoff while it returns ErrRateLimited. Any
// other error, a cancelled context, or exhausted retries ends the loop with
// the last error.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var err error
	for attempt := 0; ; attempt++ {
		err = op(ctx)
		if err == nil || !errors.Is(err, ErrRateLimited) {
			return err
		}
		if attempt >= p.MaxRetries {
			return err
		}
		if serr := sleep(ctx, p.Backoff(attempt)); serr != nil {
			return serr
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
