// Package ratelimit provides a per-key token bucket combined with a
// concurrency gate, guarding the message-injection endpoint.
package ratelimit

import (
	"math"
	"sync"
	"time"
)

// Reason explains a rejection.
type Reason string

const (
	// ReasonConcurrent means too many in-flight acquisitions for the key.
	ReasonConcurrent Reason = "concurrent"
	// ReasonRate means the token bucket is empty.
	ReasonRate Reason = "rate"
)

// Rule configures limiting for one key.
type Rule struct {
	// MaxConcurrent caps in-flight acquisitions. Zero or negative disables the gate.
	MaxConcurrent int
	// RPS is the refill rate. Zero disables token consumption.
	RPS float64
	// Burst caps accumulated tokens. Defaults to max(RPS, 1) when unset.
	Burst float64
}

// Rejection carries why an acquire failed and when to retry.
type Rejection struct {
	Reason     Reason
	RetryAfter time.Duration
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
	concurrent int
	lastIdle   time.Time
}

// Limiter holds per-key buckets. Idle, empty buckets are evicted on release
// after a cooldown so high key cardinality does not grow the map unboundedly.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	cooldown time.Duration
	now      func() time.Time
}

// NewLimiter creates a limiter with the default idle cooldown.
func NewLimiter() *Limiter {
	return &Limiter{
		buckets:  make(map[string]*bucket),
		cooldown: time.Minute,
		now:      time.Now,
	}
}

// Acquire attempts to take a slot and a token for key under rule.
// On success it returns a release callback that must be called in every exit
// path. On rejection it returns the rejection and a nil release.
func (l *Limiter) Acquire(key string, rule Rule) (func(), *Rejection) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: burstOf(rule), lastRefill: now, lastIdle: now}
		l.buckets[key] = b
	}

	l.refill(b, rule, now)

	// Concurrency gate is checked before token consumption so a rejected
	// request never burns a token.
	if rule.MaxConcurrent > 0 && b.concurrent >= rule.MaxConcurrent {
		return nil, &Rejection{Reason: ReasonConcurrent, RetryAfter: 500 * time.Millisecond}
	}

	if rule.RPS > 0 {
		if b.tokens < 1 {
			deficit := 1 - b.tokens
			retry := time.Duration(math.Ceil(deficit/rule.RPS*1000)) * time.Millisecond
			return nil, &Rejection{Reason: ReasonRate, RetryAfter: retry}
		}
		b.tokens--
	}

	b.concurrent++

	released := false
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if released {
			return
		}
		released = true
		if b.concurrent > 0 {
			b.concurrent--
		}
		if b.concurrent == 0 {
			b.lastIdle = l.now()
		}
		l.evictIdle()
	}, nil
}

// refill adds tokens proportional to elapsed time, capped at burst.
func (l *Limiter) refill(b *bucket, rule Rule, now time.Time) {
	if rule.RPS <= 0 {
		b.lastRefill = now
		return
	}
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(b.tokens+elapsed*rule.RPS, burstOf(rule))
		b.lastRefill = now
	}
}

// evictIdle drops buckets that have been idle and empty past the cooldown.
// Called with the mutex held.
func (l *Limiter) evictIdle() {
	cutoff := l.now().Add(-l.cooldown)
	for key, b := range l.buckets {
		if b.concurrent == 0 && b.lastIdle.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}

// Len reports the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func burstOf(rule Rule) float64 {
	if rule.Burst > 0 {
		return rule.Burst
	}
	return math.Max(rule.RPS, 1)
}
