package core

import (
	"sync"
	"time"
)

type LivenessState string

const (
	LivenessNever   LivenessState = "never_contacted"
	LivenessStale   LivenessState = "stale"
	LivenessHealthy LivenessState = "healthy"
)

// LivenessMonitor tracks the most recent agent contact. The state is
// process-scoped and deliberately not persisted: after a restart nothing is
// known about the agent until it polls again.
type LivenessMonitor struct {
	mu     sync.Mutex
	last   time.Time
	window time.Duration
	now    func() time.Time
}

func NewLivenessMonitor(healthyWindow time.Duration) *LivenessMonitor {
	return &LivenessMonitor{
		window: healthyWindow,
		now:    time.Now,
	}
}

// Touch records agent contact. Called on every poll, whether or not a job
// was available.
func (m *LivenessMonitor) Touch() {
	m.mu.Lock()
	m.last = m.now()
	m.mu.Unlock()
}

func (m *LivenessMonitor) State() (LivenessState, time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.last.IsZero() {
		return LivenessNever, time.Time{}
	}
	if m.now().Sub(m.last) < m.window {
		return LivenessHealthy, m.last
	}
	return LivenessStale, m.last
}

func (m *LivenessMonitor) IsHealthy() bool {
	state, _ := m.State()
	return state == LivenessHealthy
}
