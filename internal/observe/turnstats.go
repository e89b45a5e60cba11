package observe

import (
	"math"
	"sort"
	"sync"
	"time"
)

// SlowTurnThreshold is the compute-time budget for a single conversational
// turn. Time spent waiting on outbound REST or LLM calls does not count
// against it.
const SlowTurnThreshold = 2 * time.Second

// TurnStats collects per-turn latency samples for the developer stats
// command. It maintains a bounded ring buffer of recent observations from
// which percentiles are computed on demand; samples older than the retention
// TTL are excluded from percentile computation.
//
// Thread-safe for concurrent use.
type TurnStats struct {
	mu sync.Mutex

	samples []turnSample
	size    int
	pos     int
	full    bool
	ttl     time.Duration

	turns int64
	slow  int64
}

type turnSample struct {
	total time.Duration
	at    time.Time
}

// NewTurnStats creates a TurnStats retaining at most maxEntries samples for
// at most ttl. Non-positive values fall back to the defaults (1000 entries,
// 24 hours).
func NewTurnStats(maxEntries int, ttl time.Duration) *TurnStats {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TurnStats{
		samples: make([]turnSample, maxEntries),
		size:    maxEntries,
		ttl:     ttl,
	}
}

// Record adds one turn observation. total is wall-clock turn time; network
// is the portion spent waiting on outbound REST and LLM calls. Reports
// whether the turn's compute time exceeded [SlowTurnThreshold] so the caller
// can log a warning.
func (ts *TurnStats) Record(total, network time.Duration) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.turns++
	ts.samples[ts.pos] = turnSample{total: total, at: time.Now()}
	ts.pos++
	if ts.pos >= ts.size {
		ts.pos = 0
		ts.full = true
	}

	slow := total-network > SlowTurnThreshold
	if slow {
		ts.slow++
	}
	return slow
}

// TurnSnapshot is a point-in-time view of turn latency statistics.
type TurnSnapshot struct {
	P50       time.Duration
	P95       time.Duration
	Samples   int
	Turns     int64
	SlowTurns int64
}

// Snapshot computes percentiles over the unexpired samples in the window.
func (ts *TurnStats) Snapshot() TurnSnapshot {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	n := ts.pos
	if ts.full {
		n = ts.size
	}

	cutoff := time.Now().Add(-ts.ttl)
	live := make([]time.Duration, 0, n)
	for i := 0; i < n; i++ {
		if ts.samples[i].at.After(cutoff) {
			live = append(live, ts.samples[i].total)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i] < live[j] })

	return TurnSnapshot{
		P50:       percentile(live, 0.50),
		P95:       percentile(live, 0.95),
		Samples:   len(live),
		Turns:     ts.turns,
		SlowTurns: ts.slow,
	}
}

// percentile returns the value at the given percentile (0.0-1.0) from a
// sorted slice of durations using nearest-rank.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
