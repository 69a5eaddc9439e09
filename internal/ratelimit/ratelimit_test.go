package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrencyGate(t *testing.T) {
	l := NewLimiter()
	rule := Rule{MaxConcurrent: 2}

	release1, rej := l.Acquire("user-1", rule)
	require.Nil(t, rej)
	_, rej = l.Acquire("user-1", rule)
	require.Nil(t, rej)

	// Third concurrent acquire for the same key is rejected.
	_, rej = l.Acquire("user-1", rule)
	require.NotNil(t, rej)
	assert.Equal(t, ReasonConcurrent, rej.Reason)

	// Other keys are unaffected.
	_, rej = l.Acquire("user-2", rule)
	assert.Nil(t, rej)

	// After any one release, a subsequent acquire succeeds.
	release1()
	_, rej = l.Acquire("user-1", rule)
	assert.Nil(t, rej)
}

func TestTokenBucketBackToBack(t *testing.T) {
	l := NewLimiter()
	rule := Rule{RPS: 1, Burst: 1}

	_, rej := l.Acquire("user-1", rule)
	require.Nil(t, rej)

	_, rej = l.Acquire("user-1", rule)
	require.NotNil(t, rej)
	assert.Equal(t, ReasonRate, rej.Reason)
	assert.Greater(t, rej.RetryAfter, time.Duration(0))
}

func TestRefillProportionalToElapsed(t *testing.T) {
	now := time.Now()
	l := NewLimiter()
	l.now = func() time.Time { return now }

	rule := Rule{RPS: 2, Burst: 2}
	_, rej := l.Acquire("k", rule)
	require.Nil(t, rej)
	_, rej = l.Acquire("k", rule)
	require.Nil(t, rej)
	_, rej = l.Acquire("k", rule)
	require.NotNil(t, rej)

	// Half a second at 2 rps refills one token.
	now = now.Add(500 * time.Millisecond)
	_, rej = l.Acquire("k", rule)
	assert.Nil(t, rej)
}

func TestTokensCappedAtBurst(t *testing.T) {
	now := time.Now()
	l := NewLimiter()
	l.now = func() time.Time { return now }

	rule := Rule{RPS: 10, Burst: 2}
	// Long idle must not accumulate more than burst tokens.
	_, rej := l.Acquire("k", rule)
	require.Nil(t, rej)
	now = now.Add(time.Hour)

	for i := 0; i < 2; i++ {
		_, rej = l.Acquire("k", rule)
		require.Nil(t, rej, "acquire %d within burst", i)
	}
	_, rej = l.Acquire("k", rule)
	assert.NotNil(t, rej)
}

func TestReleaseIsIdempotent(t *testing.T) {
	l := NewLimiter()
	rule := Rule{MaxConcurrent: 1}

	release, rej := l.Acquire("k", rule)
	require.Nil(t, rej)
	release()
	release()

	_, rej = l.Acquire("k", rule)
	assert.Nil(t, rej)
}

func TestIdleBucketsEvicted(t *testing.T) {
	now := time.Now()
	l := NewLimiter()
	l.now = func() time.Time { return now }
	l.cooldown = time.Second

	release, rej := l.Acquire("k", Rule{MaxConcurrent: 1})
	require.Nil(t, rej)
	release()
	assert.Equal(t, 1, l.Len())

	// A release on another key past the cooldown sweeps the idle bucket.
	now = now.Add(2 * time.Second)
	release2, rej := l.Acquire("other", Rule{MaxConcurrent: 1})
	require.Nil(t, rej)
	release2()

	assert.Equal(t, 1, l.Len()) // only "other" remains
}
