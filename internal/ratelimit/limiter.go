// Package ratelimit throttles MCP tool calls per tool.
package ratelimit

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// ToolLimiters maps tool names to their token buckets.
type ToolLimiters map[string]*rate.Limiter

// Every returns a limit of n events per interval.
func Every(n int, interval time.Duration) rate.Limit {
	if n <= 0 {
		return 0
	}
	return rate.Every(interval / time.Duration(n))
}

// NewToolLimiters creates the default per-tool limits. Planning is cheap
// and may be called often; ledger reads open the database on every call.
func NewToolLimiters() ToolLimiters {
	return ToolLimiters{
		"chaos_plan":   rate.NewLimiter(Every(60, time.Minute), 10),
		"chaos_runs":   rate.NewLimiter(Every(30, time.Minute), 5),
		"chaos_sweeps": rate.NewLimiter(Every(30, time.Minute), 5),
	}
}

// CheckLimit reports an error when toolName has used up its budget.
// Tools without a configured limiter are always allowed.
func CheckLimit(limiters ToolLimiters, toolName string) error {
	return checkAt(limiters, toolName, time.Now())
}

func checkAt(limiters ToolLimiters, toolName string, now time.Time) error {
	limiter, ok := limiters[toolName]
	if !ok {
		return nil
	}
	if !limiter.AllowN(now, 1) {
		return fmt.Errorf("rate limit exceeded for %s, please try again shortly", toolName)
	}
	return nil
}
