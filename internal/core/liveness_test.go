package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLivenessNeverContacted(t *testing.T) {
	m := NewLivenessMonitor(time.Minute)

	state, last := m.State()
	assert.Equal(t, LivenessNever, state)
	assert.True(t, last.IsZero())
	assert.False(t, m.IsHealthy())
}

func TestLivenessHealthyWithinWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewLivenessMonitor(time.Minute)
	m.now = func() time.Time { return now }

	m.Touch()
	now = now.Add(59 * time.Second)

	state, last := m.State()
	assert.Equal(t, LivenessHealthy, state)
	assert.Equal(t, now.Add(-59*time.Second), last)
	assert.True(t, m.IsHealthy())
}

func TestLivenessStaleAfterWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewLivenessMonitor(time.Minute)
	m.now = func() time.Time { return now }

	m.Touch()
	now = now.Add(61 * time.Second)

	state, _ := m.State()
	assert.Equal(t, LivenessStale, state)
	assert.False(t, m.IsHealthy())
}

func TestLivenessRecoversOnTouch(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := NewLivenessMonitor(time.Minute)
	m.now = func() time.Time { return now }

	m.Touch()
	now = now.Add(10 * time.Minute)
	assert.False(t, m.IsHealthy())

	m.Touch()
	assert.True(t, m.IsHealthy())
}
