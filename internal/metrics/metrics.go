// Package metrics aggregates task counters and latency percentiles for the
// manager's own stats surface. Prometheus export lives in pkg/telemetry; this
// collector backs the HTTP stats endpoint and tests.
package metrics

import (
	"sort"
	"sync"
	"time"
)

const defaultWindow = 512

// Collector records counters and a bounded ring of task duration samples.
// When the window is full the oldest samples are evicted first.
type Collector struct {
	mu           sync.Mutex
	submitted    uint64
	completed    uint64
	failed       uint64
	restarted    uint64
	deadLettered uint64
	cacheHits    uint64

	samples []time.Duration
	next    int
	count   int
}

// NewCollector creates a Collector with the given sample window size
// (defaultWindow if window <= 0).
func NewCollector(window int) *Collector {
	if window <= 0 {
		window = defaultWindow
	}
	return &Collector{samples: make([]time.Duration, window)}
}

func (c *Collector) IncSubmitted()    { c.inc(&c.submitted) }
func (c *Collector) IncCompleted()    { c.inc(&c.completed) }
func (c *Collector) IncFailed()       { c.inc(&c.failed) }
func (c *Collector) IncRestarted()    { c.inc(&c.restarted) }
func (c *Collector) IncDeadLettered() { c.inc(&c.deadLettered) }
func (c *Collector) IncCacheHit()     { c.inc(&c.cacheHits) }

func (c *Collector) inc(field *uint64) {
	c.mu.Lock()
	*field++
	c.mu.Unlock()
}

// Observe records one task execution duration.
func (c *Collector) Observe(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples[c.next] = d
	c.next = (c.next + 1) % len(c.samples)
	if c.count < len(c.samples) {
		c.count++
	}
}

// LatencyStats are aggregates over the current sample window.
type LatencyStats struct {
	Count int           `json:"count"`
	Mean  time.Duration `json:"mean"`
	Min   time.Duration `json:"min"`
	Max   time.Duration `json:"max"`
	P50   time.Duration `json:"p50"`
	P95   time.Duration `json:"p95"`
	P99   time.Duration `json:"p99"`
}

// Snapshot is a point-in-time view of all collected metrics.
type Snapshot struct {
	Submitted    uint64       `json:"submitted"`
	Completed    uint64       `json:"completed"`
	Failed       uint64       `json:"failed"`
	Restarted    uint64       `json:"restarted"`
	DeadLettered uint64       `json:"dead_lettered"`
	CacheHits    uint64       `json:"cache_hits"`
	Latency      LatencyStats `json:"latency"`
}

// Snapshot computes aggregates from the sample window. Percentiles use the
// nearest-rank method on a sorted copy.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		Submitted:    c.submitted,
		Completed:    c.completed,
		Failed:       c.failed,
		Restarted:    c.restarted,
		DeadLettered: c.deadLettered,
		CacheHits:    c.cacheHits,
	}
	if c.count == 0 {
		return snap
	}

	window := make([]time.Duration, c.count)
	if c.count < len(c.samples) {
		copy(window, c.samples[:c.count])
	} else {
		// Ring is full; order within the window does not matter for aggregates.
		copy(window, c.samples)
	}
	sort.Slice(window, func(i, j int) bool { return window[i] < window[j] })

	var total time.Duration
	for _, d := range window {
		total += d
	}

	snap.Latency = LatencyStats{
		Count: c.count,
		Mean:  total / time.Duration(c.count),
		Min:   window[0],
		Max:   window[len(window)-1],
		P50:   percentile(window, 0.50),
		P95:   percentile(window, 0.95),
		P99:   percentile(window, 0.99),
	}
	return snap
}

// percentile returns the nearest-rank percentile of a sorted window.
func percentile(sorted []time.Duration, q float64) time.Duration {
	rank := int(q*float64(len(sorted))+0.9999) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
