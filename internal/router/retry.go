package router

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/af-corp/clinai/internal/config"
	"github.com/af-corp/clinai/internal/types"
)

// Backoff is an exponential schedule: Base doubles per retry, each delay is
// stretched by up to Jitter (a fraction below 1) and capped at Max.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
}

// Delay returns the wait before retry n (0-based). With Jitter below 1 the
// schedule is strictly increasing until it reaches Max.
func (b Backoff) Delay(n int, random func() float64) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	d := float64(b.Base) * float64(uint64(1)<<min(n, 32))
	if b.Jitter > 0 {
		d *= 1 + b.Jitter*random()
	}
	if b.Max > 0 && d > float64(b.Max) {
		return b.Max
	}
	return time.Duration(d)
}

// Classifier reports whether an error is worth another attempt.
type Classifier func(error) bool

// RetryPolicy is applied uniformly to chat calls and stream setup.
type RetryPolicy struct {
	// MaxRetries counts attempts after the first.
	MaxRetries int
	Backoff    Backoff
	Classify   Classifier

	random func() float64
	sleep  func(ctx context.Context, d time.Duration) error
}

// PolicyFromConfig builds the retry policy from the routing section.
func PolicyFromConfig(r config.RoutingConfig) RetryPolicy {
	return RetryPolicy{
		MaxRetries: r.MaxRetries,
		Backoff: Backoff{
			Base:   r.RetryBaseDelay,
			Max:    r.RetryMaxDelay,
			Jitter: r.RetryJitter,
		},
		Classify: IsTransient,
	}
}

// IsTransient retries transport failures and vendor rate limiting.
// Caller cancellation is never retried.
func IsTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	aiErr, ok := types.AsAIError(err)
	return ok && aiErr.Transient()
}

// RetryFunc is told about each retry before the backoff wait.
type RetryFunc func(retry int, delay time.Duration, err error)

// Retry runs op until it succeeds, fails terminally or the policy runs out
// of retries. The last error is returned as-is.
func Retry[T any](ctx context.Context, p RetryPolicy, op func(ctx context.Context, attempt int) (T, error), onRetry RetryFunc) (T, error) {
	classify := p.Classify
	if classify == nil {
		classify = IsTransient
	}
	random := p.random
	if random == nil {
		random = rand.Float64
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	for attempt := 0; ; attempt++ {
		result, err := op(ctx, attempt)
		if err == nil {
			return result, nil
		}
		if attempt >= p.MaxRetries || !classify(err) || ctx.Err() != nil {
			return result, err
		}

		delay := p.Backoff.Delay(attempt, random)
		if aiErr, ok := types.AsAIError(err); ok && aiErr.RetryAfter > 0 {
			if p.Backoff.Max > 0 && aiErr.RetryAfter > p.Backoff.Max {
				// the vendor asked for a longer pause than the policy allows
				return result, err
			}
			delay = max(delay, aiErr.RetryAfter)
		}
		if onRetry != nil {
			onRetry(attempt+1, delay, err)
		}
		if sleep(ctx, delay) != nil {
			return result, err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
