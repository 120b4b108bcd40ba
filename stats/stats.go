// Package stats computes sliding-window summary statistics over one
// channel's raw series, as delivered by the ring buffer's data updates.
package stats

import (
	"sync"
	"time"
)

// Summary holds the statistics for the most recent window.
type Summary struct {
	Mean  float64 // average voltage over the window
	Peak  float64 // maximum voltage over the window
	Rate  float64 // samples per second, measured between updates
	Count int     // samples inside the window
}

// Manager tracks one channel. Update is fed the full raw series and returns
// statistics over the trailing window.
type Manager struct {
	window float64
	now    func() time.Time

	mu        sync.Mutex
	lastCount int
	lastRate  time.Time
	rate      float64
}

// NewManager creates a manager with the given window in seconds
// (default 10s).
func NewManager(window float64) *Manager {
	if window <= 0 {
		window = 10
	}
	return &Manager{window: window, now: time.Now}
}

// SetClock replaces the wall clock, for tests.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// Update recomputes statistics from the full raw series.
func (m *Manager) Update(times, values []float64) Summary {
	n := len(values)
	if n == 0 || len(times) != n {
		return Summary{}
	}

	latest := times[n-1]
	start := latest - m.window

	var sum, peak float64
	count := 0
	for i := n - 1; i >= 0; i-- {
		if times[i] < start {
			break
		}
		v := values[i]
		sum += v
		if count == 0 || v > peak {
			peak = v
		}
		count++
	}
	if count == 0 {
		return Summary{}
	}

	m.mu.Lock()
	// Sample rate is refreshed at most once a second, from the growth of
	// the series between refreshes.
	now := m.now()
	if m.lastRate.IsZero() {
		m.lastRate = now
		m.lastCount = n
	} else if elapsed := now.Sub(m.lastRate).Seconds(); elapsed >= 1.0 {
		m.rate = float64(n-m.lastCount) / elapsed
		if m.rate < 0 {
			m.rate = 0
		}
		m.lastRate = now
		m.lastCount = n
	}
	rate := m.rate
	m.mu.Unlock()

	return Summary{
		Mean:  sum / float64(count),
		Peak:  peak,
		Rate:  rate,
		Count: count,
	}
}
