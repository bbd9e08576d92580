package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// BudgetResult is the outcome of a budget check.
type BudgetResult struct {
	Allowed    bool
	SpentCents int64
	LimitCents int64
}

// BudgetTracker keeps per-department daily spend counters in Redis. A nil
// client admits everything and records nothing.
type BudgetTracker struct {
	rdb *redis.Client
	now func() time.Time
}

func NewBudgetTracker(rdb *redis.Client) *BudgetTracker {
	return &BudgetTracker{rdb: rdb, now: time.Now}
}

func (b *BudgetTracker) dailyKey(department string) string {
	return fmt.Sprintf("clinai:budget:%s:%s", department, b.now().UTC().Format(time.DateOnly))
}

// CheckDailySpend reports whether department has spent less than limitCents
// today (UTC).
func (b *BudgetTracker) CheckDailySpend(ctx context.Context, department string, limitCents int64) (BudgetResult, error) {
	if b.rdb == nil {
		return BudgetResult{Allowed: true, LimitCents: limitCents}, nil
	}

	spent, err := b.rdb.Get(ctx, b.dailyKey(department)).Int64()
	if err != nil && err != redis.Nil {
		slog.WarnContext(ctx, "budget check failed, admitting request", "department", department, "error", err)
		return BudgetResult{Allowed: true, LimitCents: limitCents}, nil
	}

	return BudgetResult{
		Allowed:    spent < limitCents,
		SpentCents: spent,
		LimitCents: limitCents,
	}, nil
}

// RecordSpend charges costCents to the department's counter for today.
func (b *BudgetTracker) RecordSpend(ctx context.Context, department string, costCents int64) error {
	if b.rdb == nil || costCents <= 0 {
		return nil
	}

	now := b.now().UTC()
	key := b.dailyKey(department)
	endOfDay := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)

	pipe := b.rdb.TxPipeline()
	pipe.IncrBy(ctx, key, costCents)
	pipe.Expire(ctx, key, endOfDay.Sub(now)+time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record spend for %s: %w", department, err)
	}
	return nil
}

// CostCents rounds a USD estimate up to whole cents so small calls still
// count against the budget.
func CostCents(usd float64) int64 {
	if usd <= 0 {
		return 0
	}
	cents := int64(usd * 100)
	if float64(cents) < usd*100 {
		cents++
	}
	return cents
}
