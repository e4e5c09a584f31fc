package httpapi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSlidingWindowLimiter(t *testing.T) {
	now := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewSlidingWindowLimiter(time.Minute, 2, func() time.Time { return now })

	assert.True(t, limiter.Allow())
	assert.True(t, limiter.Allow())
	assert.False(t, limiter.Allow())
	assert.Equal(t, time.Minute, limiter.RetryAfter())

	now = now.Add(30 * time.Second)
	assert.False(t, limiter.Allow())
	assert.Equal(t, 30*time.Second, limiter.RetryAfter())

	now = now.Add(31 * time.Second)
	assert.Zero(t, limiter.RetryAfter())
	assert.True(t, limiter.Allow())
}

func TestSlidingWindowLimiterDisabled(t *testing.T) {
	limiter := NewSlidingWindowLimiter(0, 0, nil)
	assert.True(t, limiter.Allow())
	assert.Zero(t, limiter.RetryAfter())

	var missing *SlidingWindowLimiter
	assert.True(t, missing.Allow())
}
