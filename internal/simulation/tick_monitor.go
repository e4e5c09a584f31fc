package simulation

import (
	"sync"
	"time"
)

// TickStats summarises how long kinematics ticks took to compute.
type TickStats struct {
	Ticks    uint64
	Overruns uint64
	Average  time.Duration
	Max      time.Duration
	Last     time.Duration
}

// Utilisation reports the average tick cost as a fraction of the tick budget.
func (s TickStats) Utilisation(budget time.Duration) float64 {
	if budget <= 0 {
		return 0
	}
	return float64(s.Average) / float64(budget)
}

// TickMonitor accumulates timing statistics for engine steps. A tick overruns when its
// computation takes longer than the budget.
type TickMonitor struct {
	mu       sync.Mutex
	budget   time.Duration
	ticks    uint64
	overruns uint64
	total    time.Duration
	max      time.Duration
	last     time.Duration
}

// NewTickMonitor constructs an empty monitor for the provided per-tick budget.
func NewTickMonitor(budget time.Duration) *TickMonitor {
	return &TickMonitor{budget: budget}
}

// Observe records the cost of a completed tick.
func (m *TickMonitor) Observe(cost time.Duration) {
	if m == nil || cost < 0 {
		return
	}
	m.mu.Lock()
	m.ticks++
	m.total += cost
	if cost > m.max {
		m.max = cost
	}
	if m.budget > 0 && cost > m.budget {
		m.overruns++
	}
	m.last = cost
	m.mu.Unlock()
}

// Snapshot returns a copy of the aggregated statistics.
func (m *TickMonitor) Snapshot() TickStats {
	if m == nil {
		return TickStats{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := TickStats{Ticks: m.ticks, Overruns: m.overruns, Max: m.max, Last: m.last}
	if m.ticks > 0 {
		stats.Average = m.total / time.Duration(m.ticks)
	}
	return stats
}

// Reset clears the accumulated statistics.
func (m *TickMonitor) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.ticks, m.overruns = 0, 0
	m.total, m.max, m.last = 0, 0, 0
	m.mu.Unlock()
}
