// Package ratelimit implements the sliding-window request log behind the rate limiting
// interceptor. A Store remembers, per caller, the arrival times of recently admitted
// requests and decides whether the next one fits in the window.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

const (
	DefaultLimit  = 100
	DefaultWindow = 60 * time.Second
)

// Policy bounds how many requests a caller may make in a sliding window.
type Policy struct {
	Limit  int
	Window time.Duration
}

// DefaultPolicy is 100 requests per 60 seconds.
func DefaultPolicy() Policy {
	return Policy{Limit: DefaultLimit, Window: DefaultWindow}
}

func (p Policy) validate() error {
	if p.Limit <= 0 {
		return errors.New("rate limit must be positive")
	}
	if p.Window <= 0 {
		return errors.New("rate limit window must be positive")
	}
	return nil
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed bool
	// Count is the number of requests in the window after this decision.
	Count int
	Limit int
	// RetryAfter is how long until the oldest entry leaves the window. Zero when allowed.
	RetryAfter time.Duration
}

// Store is a per-caller sliding-window request log. Allow purges entries older than the
// window, rejects when the remaining count has reached the limit and otherwise records now.
// Rejected requests are not recorded.
type Store interface {
	Allow(ctx context.Context, key string, now time.Time) (Decision, error)
	Close() error
}

// decide applies the window to timestamps (unix nanoseconds, oldest first) and returns
// the kept entries, with now appended when the request is admitted.
func decide(p Policy, times []int64, now time.Time) ([]int64, Decision) {
	nowNs := now.UnixNano()
	windowNs := p.Window.Nanoseconds()
	kept := times[:0]
	for _, ts := range times {
		if nowNs-ts < windowNs {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= p.Limit {
		retry := time.Duration(kept[0] + windowNs - nowNs)
		if retry < 0 {
			retry = 0
		}
		return kept, Decision{Allowed: false, Count: len(kept), Limit: p.Limit, RetryAfter: retry}
	}
	kept = append(kept, nowNs)
	return kept, Decision{Allowed: true, Count: len(kept), Limit: p.Limit}
}
