// Package ratelimit implements a fixed-window request counter on Redis.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"companion-auth/internal/model"
)

// Actions with their own counters.
const (
	ActionGuest   = "guest"
	ActionLogin   = "login"
	ActionClaim   = "claim"
	ActionRefresh = "refresh"
)

// Policy is a limit of Limit hits per Window. A zero Limit disables the check.
type Policy struct {
	Limit  int
	Window time.Duration
}

func (p Policy) Enabled() bool {
	return p.Limit > 0 && p.Window > 0
}

func (p Policy) String() string {
	return fmt.Sprintf("%d/%s", p.Limit, p.Window)
}

// ParsePolicy parses "limit/window", e.g. "20/60s" or "5/1m".
func ParsePolicy(raw string) (Policy, error) {
	limitPart, windowPart, ok := strings.Cut(strings.TrimSpace(raw), "/")
	if !ok {
		return Policy{}, fmt.Errorf("rate limit policy %q: expected limit/window", raw)
	}

	limit, err := strconv.Atoi(strings.TrimSpace(limitPart))
	if err != nil || limit < 0 {
		return Policy{}, fmt.Errorf("rate limit policy %q: invalid limit", raw)
	}

	window, err := time.ParseDuration(strings.TrimSpace(windowPart))
	if err != nil || window <= 0 {
		return Policy{}, fmt.Errorf("rate limit policy %q: invalid window", raw)
	}

	return Policy{Limit: limit, Window: window}, nil
}

// Result describes the counter after a check.
type Result struct {
	Count      int64
	Remaining  int64
	RetryAfter time.Duration
}

// Key builds the counter key rl:<action>:<discriminator>.
func Key(action string, discriminator string) string {
	if discriminator == "" {
		discriminator = "unknown"
	}
	return "rl:" + action + ":" + discriminator
}

// Limiter counts hits in Redis. The increment and the first-hit expiry run
// in one MULTI/EXEC so concurrent first hits cannot both open a window.
type Limiter struct {
	client redis.Cmdable
}

func New(client redis.Cmdable) *Limiter {
	return &Limiter{client: client}
}

// Check counts one hit against key and fails with a rate_limited error once
// the count exceeds limit within the window.
func (l *Limiter) Check(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	var (
		incr *redis.IntCmd
		ttl  *redis.DurationCmd
	)

	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.ExpireNX(ctx, key, window)
		ttl = pipe.TTL(ctx, key)
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("rate limit %s: %w", key, err)
	}

	count := incr.Val()
	retryAfter := ttl.Val()
	if retryAfter < 0 {
		retryAfter = window
	}

	result := Result{Count: count, RetryAfter: retryAfter}
	if remaining := int64(limit) - count; remaining > 0 {
		result.Remaining = remaining
	}

	if count > int64(limit) {
		return result, model.NewRateLimited(retryAfter)
	}
	return result, nil
}

// Allow applies policy to action/discriminator. Disabled policies always pass.
func (l *Limiter) Allow(ctx context.Context, action string, discriminator string, policy Policy) error {
	if !policy.Enabled() {
		return nil
	}

	_, err := l.Check(ctx, Key(action, discriminator), policy.Limit, policy.Window)
	return err
}

// Ping reports whether the backing store is reachable.
func (l *Limiter) Ping(ctx context.Context) error {
	if err := l.client.Ping(ctx).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}
