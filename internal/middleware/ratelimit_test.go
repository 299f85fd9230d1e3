package middleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_Blocked(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute, testLogger())
	defer rl.Stop()

	assert.False(t, rl.Blocked("10.0.0.1"))

	rl.RecordFailure("10.0.0.1")
	rl.RecordFailure("10.0.0.1")
	assert.False(t, rl.Blocked("10.0.0.1"))

	rl.RecordFailure("10.0.0.1")
	assert.True(t, rl.Blocked("10.0.0.1"))
	assert.False(t, rl.Blocked("10.0.0.2"), "keys are independent")

	remaining := rl.TimeUntilReset("10.0.0.1")
	assert.Greater(t, remaining, time.Duration(0))
	assert.LessOrEqual(t, remaining, time.Minute)

	rl.Reset("10.0.0.1")
	assert.False(t, rl.Blocked("10.0.0.1"))
	assert.Zero(t, rl.TimeUntilReset("10.0.0.1"))
}

func TestRateLimiter_WindowExpires(t *testing.T) {
	rl := NewRateLimiter(1, 20*time.Millisecond, testLogger())
	defer rl.Stop()

	rl.RecordFailure("10.0.0.1")
	assert.True(t, rl.Blocked("10.0.0.1"))

	time.Sleep(40 * time.Millisecond)
	assert.False(t, rl.Blocked("10.0.0.1"))

	rl.RecordFailure("10.0.0.1")
	assert.True(t, rl.Blocked("10.0.0.1"), "a failure after expiry starts a new window")
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute, testLogger())
	rl.Stop()
	rl.Stop()
}
