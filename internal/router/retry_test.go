package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/af-corp/clinai/internal/types"
)

// recordingSleep captures backoff delays without waiting.
type recordingSleep struct {
	delays []time.Duration
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func testPolicy(maxRetries int, rs *recordingSleep) RetryPolicy {
	return RetryPolicy{
		MaxRetries: maxRetries,
		Backoff:    Backoff{Base: 100 * time.Millisecond, Max: 10 * time.Second, Jitter: 0.5},
		random:     func() float64 { return 0.99 },
		sleep:      rs.sleep,
	}
}

func failing(errs ...error) (func(context.Context, int) (string, error), *int) {
	calls := 0
	return func(_ context.Context, attempt int) (string, error) {
		calls++
		if attempt < len(errs) {
			return "", errs[attempt]
		}
		return "ok", nil
	}, &calls
}

func TestRetry_AuthErrorIsNeverRetried(t *testing.T) {
	rs := &recordingSleep{}
	authErr := types.NewAuthError("primary", 401, "invalid key", "")
	op, calls := failing(authErr, authErr, authErr)

	_, err := Retry(t.Context(), testPolicy(5, rs), op, nil)

	if *calls != 1 {
		t.Errorf("expected a single attempt, got %d", *calls)
	}
	if err != authErr {
		t.Errorf("expected the auth error unchanged, got %v", err)
	}
	if len(rs.delays) != 0 {
		t.Errorf("expected no backoff, got %v", rs.delays)
	}
}

func TestRetry_TransientRetriedWithIncreasingDelay(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"transport", types.NewTransportError("primary", "connection reset", nil)},
		{"rate limit", types.NewRateLimitError("primary", 0, "")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := &recordingSleep{}
			op, calls := failing(tt.err, tt.err, tt.err, tt.err, tt.err)

			_, err := Retry(t.Context(), testPolicy(3, rs), op, nil)

			if *calls != 4 {
				t.Errorf("expected 1 attempt + 3 retries, got %d", *calls)
			}
			if err != tt.err {
				t.Errorf("expected last error unchanged, got %v", err)
			}
			if len(rs.delays) != 3 {
				t.Fatalf("expected 3 delays, got %v", rs.delays)
			}
			for i := 1; i < len(rs.delays); i++ {
				if rs.delays[i] <= rs.delays[i-1] {
					t.Errorf("delays not strictly increasing: %v", rs.delays)
				}
			}
		})
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	rs := &recordingSleep{}
	transient := types.NewTransportError("primary", "timeout", nil)
	op, calls := failing(transient, transient)

	var retries []int
	got, err := Retry(t.Context(), testPolicy(2, rs), op, func(retry int, _ time.Duration, _ error) {
		retries = append(retries, retry)
	})

	if err != nil || got != "ok" {
		t.Fatalf("expected success, got %q, %v", got, err)
	}
	if *calls != 3 {
		t.Errorf("expected 3 calls, got %d", *calls)
	}
	if len(retries) != 2 || retries[0] != 1 || retries[1] != 2 {
		t.Errorf("unexpected retry notifications %v", retries)
	}
}

func TestRetry_VendorAndValidationErrorsAreTerminal(t *testing.T) {
	for _, err := range []error{
		types.NewVendorError("primary", 400, "invalid_request_error", "bad model", ""),
		types.NewValidationError("primary", "messages must not be empty"),
		errors.New("plain error"),
	} {
		rs := &recordingSleep{}
		op, calls := failing(err, err)
		Retry(t.Context(), testPolicy(3, rs), op, nil)
		if *calls != 1 {
			t.Errorf("%v: expected no retry, got %d calls", err, *calls)
		}
	}
}

func TestRetry_HonorsRetryAfter(t *testing.T) {
	rs := &recordingSleep{}
	op, _ := failing(types.NewRateLimitError("primary", 3*time.Second, ""))

	if _, err := Retry(t.Context(), testPolicy(1, rs), op, nil); err != nil {
		t.Fatal(err)
	}
	if len(rs.delays) != 1 || rs.delays[0] != 3*time.Second {
		t.Errorf("expected Retry-After delay, got %v", rs.delays)
	}
}

func TestRetry_RetryAfterBeyondMaxStops(t *testing.T) {
	rs := &recordingSleep{}
	limited := types.NewRateLimitError("primary", time.Minute, "")
	op, calls := failing(limited)

	_, err := Retry(t.Context(), testPolicy(3, rs), op, nil)
	if err != limited || *calls != 1 {
		t.Errorf("expected immediate surface of the rate limit, got %v after %d calls", err, *calls)
	}
}

func TestRetry_CanceledContextStops(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	transient := types.NewTransportError("primary", "timeout", nil)
	calls := 0

	_, err := Retry(ctx, RetryPolicy{MaxRetries: 5, Backoff: Backoff{Base: time.Hour}}, func(context.Context, int) (int, error) {
		calls++
		cancel()
		return 0, transient
	}, nil)

	if err != transient {
		t.Errorf("expected last error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Max: time.Second}
	zero := func() float64 { return 0 }

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, time.Second, time.Second}
	for i, w := range want {
		if got := b.Delay(i, zero); got != w {
			t.Errorf("Delay(%d) = %v, want %v", i, got, w)
		}
	}

	b.Jitter = 0.5
	if got := b.Delay(0, func() float64 { return 1 }); got != 150*time.Millisecond {
		t.Errorf("expected jitter to stretch delay to 150ms, got %v", got)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{types.NewTransportError("p", "reset", nil), true},
		{types.NewRateLimitError("p", 0, ""), true},
		{types.NewAuthError("p", 401, "bad key", ""), false},
		{types.NewVendorError("p", 400, "", "bad", ""), false},
		{types.NewTransportError("p", "canceled", context.Canceled), false},
		{context.DeadlineExceeded, false},
	}
	for _, tt := range tests {
		if got := IsTransient(tt.err); got != tt.want {
			t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
