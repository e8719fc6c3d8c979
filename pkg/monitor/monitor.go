// Package monitor records per-processor and engine-level timing samples and
// exposes aggregate statistics.
//
// Samples are kept in a fixed-size ring buffer per processor (last N
// invocations), so memory stays bounded under long-running realtime use.
// Recording is O(1) and never blocks dispatch.
package monitor

import (
	"math"
	"sort"
	"sync"
	"time"
)

// DefaultWindow is the number of samples retained per processor when no
// window is configured.
const DefaultWindow = 100

// Stats aggregates the retained samples for one processor or for the
// engine's tick loop.
type Stats struct {
	Count     int
	Failures  int
	Mean      time.Duration
	Max       time.Duration
	StdDev    time.Duration
	P50       time.Duration
	P95       time.Duration
	P99       time.Duration
	ErrorRate float64 // failed fraction of retained samples, 0..1
}

type sample struct {
	duration time.Duration
	ok       bool
}

// ring is a fixed-capacity sample buffer that overwrites oldest entries.
type ring struct {
	buf  []sample
	next int
	full bool
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]sample, capacity)}
}

func (r *ring) add(s sample) {
	r.buf[r.next] = s
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

func (r *ring) len() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

func (r *ring) samples() []sample {
	if r.full {
		out := make([]sample, 0, len(r.buf))
		out = append(out, r.buf[r.next:]...)
		out = append(out, r.buf[:r.next]...)
		return out
	}
	out := make([]sample, r.next)
	copy(out, r.buf[:r.next])
	return out
}

// Monitor collects timing samples. The zero value is not usable; use New.
type Monitor struct {
	mu     sync.RWMutex
	window int
	procs  map[string]*ring
	ticks  *ring

	totalTicks       uint64
	totalInvocations map[string]uint64
	totalFailures    map[string]uint64
}

// New creates a Monitor retaining the last window samples per processor.
// A non-positive window falls back to DefaultWindow.
func New(window int) *Monitor {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Monitor{
		window:           window,
		procs:            make(map[string]*ring),
		ticks:            newRing(window),
		totalInvocations: make(map[string]uint64),
		totalFailures:    make(map[string]uint64),
	}
}

// Window returns the configured retention window.
func (m *Monitor) Window() int {
	return m.window
}

// Record appends an invocation sample for the given processor.
func (m *Monitor) Record(id string, d time.Duration, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, found := m.procs[id]
	if !found {
		r = newRing(m.window)
		m.procs[id] = r
	}
	r.add(sample{duration: d, ok: ok})
	m.totalInvocations[id]++
	if !ok {
		m.totalFailures[id]++
	}
}

// RecordTick appends an engine-level sample covering one full dispatch round.
func (m *Monitor) RecordTick(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticks.add(sample{duration: d, ok: true})
	m.totalTicks++
}

// StatsFor returns aggregate statistics for one processor.
// The second return is false when the processor has no samples.
func (m *Monitor) StatsFor(id string) (Stats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, found := m.procs[id]
	if !found || r.len() == 0 {
		return Stats{}, false
	}
	return aggregate(r.samples()), true
}

// TickStats returns aggregate statistics over retained tick durations.
func (m *Monitor) TickStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return aggregate(m.ticks.samples())
}

// Processors returns the IDs with recorded samples, sorted.
func (m *Monitor) Processors() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.procs))
	for id := range m.procs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// TotalTicks returns the number of dispatch rounds recorded since creation
// or the last Reset. Unlike Stats, totals are not windowed.
func (m *Monitor) TotalTicks() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalTicks
}

// Totals returns the unwindowed invocation and failure counts for a processor.
func (m *Monitor) Totals(id string) (invocations, failures uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalInvocations[id], m.totalFailures[id]
}

// Lagging returns the processors whose mean retained execution time exceeds
// the threshold, sorted by ID.
func (m *Monitor) Lagging(threshold time.Duration) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var lagging []string
	for id, r := range m.procs {
		if r.len() == 0 {
			continue
		}
		if aggregate(r.samples()).Mean > threshold {
			lagging = append(lagging, id)
		}
	}
	sort.Strings(lagging)
	return lagging
}

// Reset discards all samples and totals.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.procs = make(map[string]*ring)
	m.ticks = newRing(m.window)
	m.totalTicks = 0
	m.totalInvocations = make(map[string]uint64)
	m.totalFailures = make(map[string]uint64)
}

func aggregate(samples []sample) Stats {
	n := len(samples)
	if n == 0 {
		return Stats{}
	}

	durations := make([]time.Duration, n)
	var sum float64
	stats := Stats{Count: n}
	for i, s := range samples {
		durations[i] = s.duration
		sum += float64(s.duration)
		if s.duration > stats.Max {
			stats.Max = s.duration
		}
		if !s.ok {
			stats.Failures++
		}
	}
	mean := sum / float64(n)
	stats.Mean = time.Duration(mean)
	stats.ErrorRate = float64(stats.Failures) / float64(n)

	var variance float64
	for _, d := range durations {
		diff := float64(d) - mean
		variance += diff * diff
	}
	if n > 1 {
		// Sample standard deviation.
		stats.StdDev = time.Duration(math.Sqrt(variance / float64(n-1)))
	}

	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
	stats.P50 = percentile(durations, 50)
	stats.P95 = percentile(durations, 95)
	stats.P99 = percentile(durations, 99)

	return stats
}

// percentile reads the p-th percentile from sorted durations using
// nearest-rank interpolation over n-1 intervals.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Round(p / 100 * float64(len(sorted)-1)))
	return sorted[idx]
}
