package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_DefaultTable(t *testing.T) {
	p := DefaultRetryPolicy()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	want := []time.Duration{1 * time.Minute, 1440 * time.Minute, 2880 * time.Minute, 4320 * time.Minute}
	var prev time.Time
	for attempt := 1; attempt <= 4; attempt++ {
		next, ok := p.NextRetryAt(attempt, now)
		require.True(t, ok)
		assert.Equal(t, now.Add(want[attempt-1]), next)
		assert.True(t, next.After(prev), "attempt %d should retry later than attempt %d", attempt, attempt-1)
		prev = next
	}

	assert.Equal(t, 4320*time.Minute, p.Delay(5))
	assert.Equal(t, 4320*time.Minute, p.Delay(50))
	assert.Equal(t, time.Minute, p.Delay(0))
}

func TestRetryPolicy_Exhaustion(t *testing.T) {
	p := DefaultRetryPolicy()
	now := time.Now()

	_, ok := p.NextRetryAt(4, now)
	assert.True(t, ok)

	_, ok = p.NextRetryAt(5, now)
	assert.False(t, ok)
}

func TestRetryPolicy_ReusesLastEntryWhenMaxAttemptsExceedsTable(t *testing.T) {
	p, err := NewRetryPolicy([]time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, 5)
	require.NoError(t, err)
	now := time.Now()

	next, ok := p.NextRetryAt(5, now)
	require.True(t, ok)
	assert.Equal(t, now.Add(20*time.Millisecond), next)

	_, ok = p.NextRetryAt(6, now)
	assert.False(t, ok)
}

func TestNewRetryPolicy_CopiesTable(t *testing.T) {
	delays := []time.Duration{time.Second, 2 * time.Second}
	p, err := NewRetryPolicy(delays, 0)
	require.NoError(t, err)

	delays[0] = time.Hour
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2, p.MaxAttempts())
}

func TestNewRetryPolicy_Invalid(t *testing.T) {
	_, err := NewRetryPolicy(nil, 0)
	assert.Error(t, err)

	_, err = NewRetryPolicy([]time.Duration{time.Second, 0}, 0)
	assert.Error(t, err)
}
