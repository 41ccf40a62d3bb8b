package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(threshold int, cooldown time.Duration) (*Breaker, *time.Time) {
	b := NewBreaker(threshold, cooldown)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, 30*time.Second)

	for i := 0; i < 2; i++ {
		b.RecordFailure(false)
		ok, _ := b.Allow()
		assert.True(t, ok)
	}
	assert.Equal(t, BreakerClosed, b.State())
	assert.Equal(t, 2, b.ConsecutiveFailures())

	b.RecordFailure(false)
	assert.Equal(t, BreakerOpen, b.State())

	ok, _ := b.Allow()
	assert.False(t, ok)
}

func TestBreakerSuccessResetsStreak(t *testing.T) {
	b, _ := newTestBreaker(3, 30*time.Second)

	b.RecordFailure(false)
	b.RecordFailure(false)
	b.RecordSuccess(false)
	assert.Zero(t, b.ConsecutiveFailures())

	// The streak starts over, so two more failures stay under the threshold.
	b.RecordFailure(false)
	b.RecordFailure(false)
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerHalfOpenSingleProbe(t *testing.T) {
	b, now := newTestBreaker(1, 30*time.Second)

	b.RecordFailure(false)
	ok, _ := b.Allow()
	require.False(t, ok)

	*now = now.Add(30 * time.Second)
	assert.Equal(t, BreakerHalfOpen, b.State())

	ok, probe := b.Allow()
	assert.True(t, ok)
	assert.True(t, probe)

	// Only one probe at a time.
	ok, _ = b.Allow()
	assert.False(t, ok)
}

func TestBreakerProbeSuccessCloses(t *testing.T) {
	b, now := newTestBreaker(1, 30*time.Second)

	b.RecordFailure(false)
	*now = now.Add(31 * time.Second)

	ok, probe := b.Allow()
	require.True(t, ok)
	require.True(t, probe)

	b.RecordSuccess(probe)
	assert.Equal(t, BreakerClosed, b.State())

	ok, probe = b.Allow()
	assert.True(t, ok)
	assert.False(t, probe)
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	b, now := newTestBreaker(1, 30*time.Second)

	b.RecordFailure(false)
	*now = now.Add(31 * time.Second)

	ok, probe := b.Allow()
	require.True(t, ok)
	require.True(t, probe)

	b.RecordFailure(probe)
	assert.Equal(t, BreakerOpen, b.State())

	// The cooldown restarted: still closed to traffic.
	ok, _ = b.Allow()
	assert.False(t, ok)

	// A fresh cooldown later the next probe goes through.
	*now = now.Add(30 * time.Second)
	ok, probe = b.Allow()
	assert.True(t, ok)
	assert.True(t, probe)
}

func TestBreakerInflightSuccessDoesNotClose(t *testing.T) {
	b, now := newTestBreaker(1, 30*time.Second)

	b.RecordFailure(false)
	require.Equal(t, BreakerOpen, b.State())

	// A job claimed before the breaker opened finishes successfully while
	// it is open. The breaker stays open until the probe handshake runs.
	b.RecordSuccess(false)
	assert.Equal(t, BreakerOpen, b.State())
	ok, _ := b.Allow()
	assert.False(t, ok)

	// Recovery still goes through cooldown and a probe.
	*now = now.Add(31 * time.Second)
	ok, probe := b.Allow()
	require.True(t, ok)
	require.True(t, probe)
	b.RecordSuccess(probe)
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerZeroThresholdClamped(t *testing.T) {
	b := NewBreaker(0, time.Second)
	b.RecordFailure(false)
	assert.Equal(t, BreakerOpen, b.State())
}
