package stats

import (
	"math"
	"testing"
	"time"
)

func TestUpdateEmpty(t *testing.T) {
	m := NewManager(10)
	s := m.Update(nil, nil)
	if s.Count != 0 || s.Mean != 0 || s.Peak != 0 {
		t.Errorf("empty update = %+v, want zero summary", s)
	}
}

func TestWindowedMeanAndPeak(t *testing.T) {
	m := NewManager(10)

	// 20 seconds of data at 1Hz; only the last 10s may count.
	times := make([]float64, 21)
	values := make([]float64, 21)
	for i := range times {
		times[i] = float64(i)
		values[i] = float64(i) // 0..20
	}

	s := m.Update(times, values)
	// Window start is 20-10=10, so samples 10..20 are in scope.
	if s.Count != 11 {
		t.Fatalf("Count = %d, want 11", s.Count)
	}
	if s.Peak != 20 {
		t.Errorf("Peak = %v, want 20", s.Peak)
	}
	wantMean := 15.0 // mean of 10..20
	if math.Abs(s.Mean-wantMean) > 1e-12 {
		t.Errorf("Mean = %v, want %v", s.Mean, wantMean)
	}
}

func TestRateRefreshesOncePerSecond(t *testing.T) {
	m := NewManager(10)
	now := time.Unix(0, 0)
	m.SetClock(func() time.Time { return now })

	series := func(n int) ([]float64, []float64) {
		times := make([]float64, n)
		values := make([]float64, n)
		for i := range times {
			times[i] = float64(i) * 0.01
			values[i] = 1
		}
		return times, values
	}

	// Baseline update.
	s := m.Update(series(100))
	if s.Rate != 0 {
		t.Errorf("initial Rate = %v, want 0", s.Rate)
	}

	// Still within the same second: rate unchanged.
	now = now.Add(500 * time.Millisecond)
	s = m.Update(series(200))
	if s.Rate != 0 {
		t.Errorf("Rate before refresh = %v, want 0", s.Rate)
	}

	// Two seconds after the baseline: 300 new samples over 2s.
	now = now.Add(1500 * time.Millisecond)
	s = m.Update(series(400))
	if math.Abs(s.Rate-150) > 1e-9 {
		t.Errorf("Rate = %v, want 150", s.Rate)
	}
}
