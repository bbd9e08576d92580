package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/af-corp/clinai/internal/auth"
	"github.com/af-corp/clinai/internal/httputil"
)

const (
	defaultRPM = 60

	headerRateLimitRequests          = "X-RateLimit-Limit-Requests"
	headerRateLimitRemainingRequests = "X-RateLimit-Remaining-Requests"
	headerRateLimitReset             = "X-RateLimit-Reset-Requests"
	headerRetryAfter                 = "Retry-After"
)

// RequestLimiter is satisfied by *Limiter.
type RequestLimiter interface {
	Check(ctx context.Context, key string, limit int64, window time.Duration) (LimitResult, error)
}

// SpendChecker is satisfied by *BudgetTracker.
type SpendChecker interface {
	CheckDailySpend(ctx context.Context, department string, limitCents int64) (BudgetResult, error)
}

// HitRecorder counts rejections; *telemetry.Metrics satisfies it.
type HitRecorder interface {
	RecordLimitHit(dimension, department string)
}

// Middleware enforces the caller's requests-per-minute limit and their
// department's daily spend limit. Requests without auth info pass through.
func Middleware(limiter RequestLimiter, budget SpendChecker, hits HitRecorder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := w.Header().Get("X-Request-ID")

			info, ok := auth.AuthFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}

			rpm := defaultRPM
			if info.RPMLimit != nil {
				rpm = *info.RPMLimit
			}

			result, _ := limiter.Check(r.Context(), "rpm:"+info.LimitKey(), int64(rpm), time.Minute)

			w.Header().Set(headerRateLimitRequests, strconv.Itoa(rpm))
			w.Header().Set(headerRateLimitRemainingRequests, strconv.FormatInt(result.Remaining, 10))
			w.Header().Set(headerRateLimitReset, result.ResetAt.UTC().Format(time.RFC3339))

			if !result.Allowed {
				slog.Warn("rate limit exceeded",
					"request_id", reqID,
					"staff_id", info.StaffID,
					"department", info.DepartmentID,
					"limit", rpm,
				)
				if hits != nil {
					hits.RecordLimitHit("rpm", info.DepartmentID)
				}
				w.Header().Set(headerRetryAfter, strconv.Itoa(int(result.RetryAfter.Round(time.Second).Seconds())))
				httputil.WriteRateLimitError(w, reqID,
					fmt.Sprintf("Rate limit exceeded: %d requests per minute", rpm))
				return
			}

			if info.DailySpendLimitCents != nil {
				spend, _ := budget.CheckDailySpend(r.Context(), info.DepartmentID, int64(*info.DailySpendLimitCents))
				if !spend.Allowed {
					slog.Warn("daily budget exceeded",
						"request_id", reqID,
						"department", info.DepartmentID,
						"spent_cents", spend.SpentCents,
						"limit_cents", spend.LimitCents,
					)
					if hits != nil {
						hits.RecordLimitHit("budget", info.DepartmentID)
					}
					httputil.WriteBudgetExceededError(w, reqID,
						fmt.Sprintf("Department daily budget exceeded: spent %d of %d cents", spend.SpentCents, spend.LimitCents))
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}
