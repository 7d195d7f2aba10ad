// Package ratelimit implements fixed-window request throttling backed by
// the shared key-value store, with an in-process fallback when the shared
// store is unreachable.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/aminahq/amina-api/pkg/amina/kv"
	"github.com/rs/zerolog"
)

// skewBuffer is added to counter TTLs so windows survive clock skew
// between instances before self-expiring.
const skewBuffer = 60 * time.Second

// Policy describes how many requests a subject may make per window.
type Policy struct {
	Requests int // max requests per window
	Window   int // window length in seconds
}

// DefaultPolicy is applied to API keys issued without an explicit policy:
// 60 requests per minute.
var DefaultPolicy = Policy{Requests: 60, Window: 60}

// Result carries the outcome of a rate-limit check. Limit, Remaining and
// Reset are emitted as response headers regardless of outcome.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	Reset      int64 // unix seconds when the window rolls over
	RetryAfter int   // seconds until retry, 0 when allowed
}

// Limiter checks counters against the shared store. When the store
// errors, the same algorithm runs against a single-instance in-memory
// store; that fallback is best effort and never globally consistent.
type Limiter struct {
	store    kv.Store
	fallback *kv.MemoryStore
	log      zerolog.Logger

	now func() time.Time
}

// New returns a Limiter over the given shared store.
func New(store kv.Store, log zerolog.Logger) *Limiter {
	return &Limiter{
		store:    store,
		fallback: kv.NewMemoryStore(),
		log:      log,
		now:      time.Now,
	}
}

// Check consumes one request from the subject's current window.
// Counters are keyed ratelimit:<subject>:<windowStart> and incremented
// atomically where the backend supports it, so concurrent requests in the
// same window are counted exactly on the shared-store path.
func (l *Limiter) Check(ctx context.Context, subject string, policy Policy) Result {
	now := l.now().Unix()
	window := int64(policy.Window)
	windowStart := now - now%window
	resetAt := windowStart + window

	key := fmt.Sprintf("ratelimit:%s:%d", subject, windowStart)
	ttl := time.Duration(policy.Window)*time.Second + skewBuffer

	count, err := l.store.Incr(ctx, key, ttl)
	if err != nil {
		l.log.Warn().
			Err(err).
			Str("subject", subject).
			Msg("rate limit store unavailable, falling back to in-process counters")
		count, err = l.fallback.Incr(ctx, key, ttl)
		if err != nil {
			// The memory store cannot actually fail; fail open rather
			// than rejecting all traffic on a limiter fault.
			return Result{Allowed: true, Limit: policy.Requests, Remaining: policy.Requests - 1, Reset: resetAt}
		}
	}

	if count > int64(policy.Requests) {
		return Result{
			Allowed:    false,
			Limit:      policy.Requests,
			Remaining:  0,
			Reset:      resetAt,
			RetryAfter: int(resetAt - now),
		}
	}

	return Result{
		Allowed:   true,
		Limit:     policy.Requests,
		Remaining: policy.Requests - int(count),
		Reset:     resetAt,
	}
}
