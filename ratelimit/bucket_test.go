package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLimiterAllowsBurstCapacity(t *testing.T) {
	l := NewLimiter(DefaultConfig())

	// capacity = 10 + 3 burst = 13
	for i := 0; i < 13; i++ {
		assert.True(t, l.Allow("agent-a", BucketCreate), "request %d should be allowed", i+1)
	}
	assert.False(t, l.Allow("agent-a", BucketCreate), "14th request should be denied")
}

func TestLimiterTracksPerAgentIndependently(t *testing.T) {
	l := NewLimiter(DefaultConfig())

	for i := 0; i < 13; i++ {
		assert.True(t, l.Allow("agent-a", BucketCreate))
	}
	assert.False(t, l.Allow("agent-a", BucketCreate))
	assert.True(t, l.Allow("agent-b", BucketCreate))
}

func TestLimiterSeparateBucketsPerKind(t *testing.T) {
	l := NewLimiter(DefaultConfig())

	for i := 0; i < 13; i++ {
		assert.True(t, l.Allow("agent-a", BucketCreate))
	}
	assert.False(t, l.Allow("agent-a", BucketCreate))
	assert.True(t, l.Allow("agent-a", BucketRespond))
}

func TestLimiterViolationsIncrementAndBlock(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SuspiciousThreshold = 2
	cfg.CooldownDuration = time.Minute
	l := NewLimiter(cfg)

	for i := 0; i < 13; i++ {
		l.Allow("agent-a", BucketCreate)
	}
	l.Allow("agent-a", BucketCreate) // violation 1
	l.Allow("agent-a", BucketCreate) // violation 2 -> blocked

	assert.True(t, l.IsBlocked("agent-a"))
	assert.False(t, l.Allow("agent-a", BucketCreate))
}

func TestBucketRefillsOverTime(t *testing.T) {
	b := newBucket(10, 10) // 10 tokens/sec refill
	now := time.Now()

	assert.True(t, b.consume(10, now))
	assert.False(t, b.consume(1, now))

	later := now.Add(200 * time.Millisecond)
	assert.True(t, b.consume(1, later)) // ~2 tokens refilled
}

func TestRingPrunesOldEvents(t *testing.T) {
	r := newRing(60 * time.Second)
	now := time.Now()
	r.record(now.Add(-90 * time.Second))
	r.record(now)

	assert.Equal(t, 1, r.count(now))
}
