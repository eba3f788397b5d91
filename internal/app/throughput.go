package app

import (
	"sync"
	"time"
)

// ThroughputTracker computes rolling record and byte rates over a window.
// Safe for concurrent use.
type ThroughputTracker struct {
	mu      sync.Mutex
	window  time.Duration
	samples []throughputSample
	records int64
	bytes   int64
}

type throughputSample struct {
	ts    time.Time
	bytes int
}

// NewThroughputTracker creates a tracker with the given rolling window.
func NewThroughputTracker(window time.Duration) *ThroughputTracker {
	return &ThroughputTracker{window: window}
}

// Record counts one record of n field bytes at the current time.
func (t *ThroughputTracker) Record(n int) {
	t.RecordAt(time.Now(), n)
}

// RecordAt counts one record at a specific timestamp.
func (t *ThroughputTracker) RecordAt(ts time.Time, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.samples = append(t.samples, throughputSample{ts: ts, bytes: n})
	t.records++
	t.bytes += int64(n)
	t.evict(ts)
}

// PerMin returns the current records and bytes per minute.
func (t *ThroughputTracker) PerMin() (records, bytes float64) {
	return t.PerMinAt(time.Now())
}

// PerMinAt computes the rates as of the given time. Fewer than two samples
// in the window give zero.
func (t *ThroughputTracker) PerMinAt(now time.Time) (records, bytes float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.evict(now)
	if len(t.samples) < 2 {
		return 0, 0
	}
	span := now.Sub(t.samples[0].ts)
	if span <= 0 {
		return 0, 0
	}

	sum := 0
	for _, s := range t.samples {
		sum += s.bytes
	}
	return float64(len(t.samples)) / span.Minutes(), float64(sum) / span.Minutes()
}

// Totals returns the lifetime record and byte counts.
func (t *ThroughputTracker) Totals() (records, bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.records, t.bytes
}

// evict removes samples older than the window. Caller holds t.mu.
func (t *ThroughputTracker) evict(now time.Time) {
	cutoff := now.Add(-t.window)
	i := 0
	for i < len(t.samples) && t.samples[i].ts.Before(cutoff) {
		i++
	}
	if i > 0 {
		t.samples = t.samples[i:]
	}
}

