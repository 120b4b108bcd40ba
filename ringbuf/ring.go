// Package ringbuf provides the fixed-memory, retention-windowed sample
// buffer that backs live display and statistics, plus view-dependent
// decimation with anti-alias smoothing.
package ringbuf

import (
	"sort"
	"sync"
	"time"
)

type entry struct {
	t float64
	v float64
}

// Config holds tunables for one channel's ring buffer.
type Config struct {
	// RetentionSeconds is the span of most-recent time kept. Defaults to 10.
	RetentionSeconds float64

	// ExpectedRate is the estimated sample rate used to size the fixed
	// allocation. Defaults to 1000 samples/sec.
	ExpectedRate float64

	// OnData, if set, receives the full raw series (not decimated) at a
	// bounded rate for statistics consumers.
	OnData func(times, values []float64)

	// MinEmitInterval bounds the OnData rate. Defaults to 10ms (100Hz).
	MinEmitInterval time.Duration

	// Now replaces time.Now in tests.
	Now func() time.Time
}

// Ring is a fixed-capacity buffer of recent samples for one channel.
// Entries are monotonically increasing in time. The underlying allocation
// never grows after construction.
type Ring struct {
	mu        sync.Mutex
	entries   []entry
	capacity  int
	retention float64

	onData   func(times, values []float64)
	emitGap  time.Duration
	lastEmit time.Time
	now      func() time.Time
}

// New creates a ring sized for retention * rate * 1.5 entries.
func New(cfg Config) *Ring {
	if cfg.RetentionSeconds <= 0 {
		cfg.RetentionSeconds = 10
	}
	if cfg.ExpectedRate <= 0 {
		cfg.ExpectedRate = 1000
	}
	if cfg.MinEmitInterval <= 0 {
		cfg.MinEmitInterval = 10 * time.Millisecond
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	capacity := int(cfg.RetentionSeconds * cfg.ExpectedRate * 1.5)
	if capacity < 16 {
		capacity = 16
	}

	return &Ring{
		entries:   make([]entry, 0, capacity),
		capacity:  capacity,
		retention: cfg.RetentionSeconds,
		onData:    cfg.OnData,
		emitGap:   cfg.MinEmitInterval,
		now:       cfg.Now,
	}
}

// Push appends one sample. Older entries are compacted out once utilization
// passes 75% of capacity; a completely full buffer makes room by dropping
// its oldest quarter rather than failing the write.
func (r *Ring) Push(t, v float64) {
	r.mu.Lock()

	if len(r.entries) == r.capacity {
		r.compactLocked(t)
		if len(r.entries) == r.capacity {
			drop := r.capacity / 4
			n := copy(r.entries, r.entries[drop:])
			r.entries = r.entries[:n]
		}
	} else if len(r.entries) >= r.capacity*3/4 {
		r.compactLocked(t)
	}

	r.entries = append(r.entries, entry{t: t, v: v})

	var times, values []float64
	if r.onData != nil {
		now := r.now()
		if now.Sub(r.lastEmit) >= r.emitGap {
			r.lastEmit = now
			times, values = r.seriesLocked(r.entries)
		}
	}
	cb := r.onData
	r.mu.Unlock()

	if times != nil {
		cb(times, values)
	}
}

// compactLocked shifts the suffix of entries newer than latest-retention to
// the buffer origin, evicting everything older.
func (r *Ring) compactLocked(latest float64) {
	cutoff := latest - r.retention
	idx := sort.Search(len(r.entries), func(i int) bool {
		return r.entries[i].t >= cutoff
	})
	if idx == 0 {
		return
	}
	n := copy(r.entries, r.entries[idx:])
	r.entries = r.entries[:n]
}

// Snapshot returns copies of the times and values within the retention
// window of the newest entry. Empty buffer yields empty slices.
func (r *Ring) Snapshot() (times, values []float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.entries) == 0 {
		return []float64{}, []float64{}
	}

	cutoff := r.entries[len(r.entries)-1].t - r.retention
	idx := sort.Search(len(r.entries), func(i int) bool {
		return r.entries[i].t >= cutoff
	})
	return r.seriesLocked(r.entries[idx:])
}

func (r *Ring) seriesLocked(src []entry) (times, values []float64) {
	times = make([]float64, len(src))
	values = make([]float64, len(src))
	for i, e := range src {
		times[i] = e.t
		values[i] = e.v
	}
	return times, values
}

// Reset discards all entries. The allocation is kept.
func (r *Ring) Reset() {
	r.mu.Lock()
	r.entries = r.entries[:0]
	r.mu.Unlock()
}

// SetRetention changes the retention window. Storage is never resized.
func (r *Ring) SetRetention(seconds float64) {
	if seconds <= 0 {
		return
	}
	r.mu.Lock()
	r.retention = seconds
	r.mu.Unlock()
}

// Len reports the number of buffered entries.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Latest returns the newest entry, if any.
func (r *Ring) Latest() (t, v float64, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == 0 {
		return 0, 0, false
	}
	e := r.entries[len(r.entries)-1]
	return e.t, e.v, true
}

// Capacity reports the fixed allocation size.
func (r *Ring) Capacity() int { return r.capacity }
