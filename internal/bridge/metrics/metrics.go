// Package metrics aggregates per-request outcomes into monotonic counters
// and rolling latency percentiles.
package metrics

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	apibridge "github.com/tiger/persona-bridge/api/bridge"
)

// DefaultWindowSize bounds the rolling latency sample buffer.
const DefaultWindowSize = 1024

// PersonaUsage reports per-persona counters inside a snapshot.
type PersonaUsage struct {
	Requests  int64 `json:"requests"`
	Succeeded int64 `json:"succeeded"`
	Fallback  int64 `json:"fallback"`
}

// Snapshot is an immutable copy of the aggregator state.
type Snapshot struct {
	StartedAt        time.Time                              `json:"startedAt"`
	TotalRequests    int64                                  `json:"totalRequests"`
	Succeeded        int64                                  `json:"succeeded"`
	Failed           int64                                  `json:"failed"`
	FallbackServed   int64                                  `json:"fallbackServed"`
	SuccessRate      float64                                `json:"successRate"`
	LatencyP50Ms     int64                                  `json:"latencyP50Ms"`
	LatencyP95Ms     int64                                  `json:"latencyP95Ms"`
	LatencyP99Ms     int64                                  `json:"latencyP99Ms"`
	LatencySamples   int                                    `json:"latencySamples"`
	PerPersona       map[apibridge.PersonaID]PersonaUsage   `json:"perPersona"`
}

// Aggregator owns the process-wide request counters. Counter increments are
// atomic; only the bounded ring write takes a lock.
type Aggregator struct {
	startedAt time.Time

	total    atomic.Int64
	success  atomic.Int64
	failed   atomic.Int64
	fallback atomic.Int64

	mu         sync.Mutex
	window     []int64
	windowSize int
	next       int
	filled     bool
	perPersona map[apibridge.PersonaID]*personaCounters
}

type personaCounters struct {
	requests  atomic.Int64
	succeeded atomic.Int64
	fallback  atomic.Int64
}

// NewAggregator creates an aggregator with the given latency window size.
func NewAggregator(windowSize int) *Aggregator {
	if windowSize < 1 {
		windowSize = DefaultWindowSize
	}
	return &Aggregator{
		startedAt:  time.Now(),
		window:     make([]int64, windowSize),
		windowSize: windowSize,
		perPersona: map[apibridge.PersonaID]*personaCounters{},
	}
}

// Record ingests exactly one routed-request outcome, fallback included.
func (a *Aggregator) Record(outcome apibridge.AttemptOutcome) {
	a.total.Add(1)
	if outcome.Success {
		a.success.Add(1)
	} else {
		a.failed.Add(1)
	}
	if outcome.Source == apibridge.SourceFallback {
		a.fallback.Add(1)
	}

	latency := outcome.LatencyMs()
	if latency < 0 {
		latency = 0
	}

	a.mu.Lock()
	a.window[a.next] = latency
	a.next++
	if a.next == a.windowSize {
		a.next = 0
		a.filled = true
	}
	counters, ok := a.perPersona[outcome.PersonaID]
	if !ok {
		counters = &personaCounters{}
		a.perPersona[outcome.PersonaID] = counters
	}
	a.mu.Unlock()

	counters.requests.Add(1)
	if outcome.Success {
		counters.succeeded.Add(1)
	}
	if outcome.Source == apibridge.SourceFallback {
		counters.fallback.Add(1)
	}
}

// Snapshot returns an immutable copy for reporting.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	samples := a.samplesLocked()
	personas := make(map[apibridge.PersonaID]PersonaUsage, len(a.perPersona))
	for id, counters := range a.perPersona {
		personas[id] = PersonaUsage{
			Requests:  counters.requests.Load(),
			Succeeded: counters.succeeded.Load(),
			Fallback:  counters.fallback.Load(),
		}
	}
	a.mu.Unlock()

	total := a.total.Load()
	succeeded := a.success.Load()
	rate := 0.0
	if total > 0 {
		rate = float64(succeeded) / float64(total)
	}
	return Snapshot{
		StartedAt:      a.startedAt,
		TotalRequests:  total,
		Succeeded:      succeeded,
		Failed:         a.failed.Load(),
		FallbackServed: a.fallback.Load(),
		SuccessRate:    rate,
		LatencyP50Ms:   nearestRank(samples, 50),
		LatencyP95Ms:   nearestRank(samples, 95),
		LatencyP99Ms:   nearestRank(samples, 99),
		LatencySamples: len(samples),
		PerPersona:     personas,
	}
}

// Reset clears every counter and sample. Explicit operator action only.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.total.Store(0)
	a.success.Store(0)
	a.failed.Store(0)
	a.fallback.Store(0)
	a.window = make([]int64, a.windowSize)
	a.next = 0
	a.filled = false
	a.perPersona = map[apibridge.PersonaID]*personaCounters{}
	a.startedAt = time.Now()
}

// Uptime reports time since start or last reset.
func (a *Aggregator) Uptime() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return time.Since(a.startedAt)
}

func (a *Aggregator) samplesLocked() []int64 {
	if a.filled {
		out := make([]int64, a.windowSize)
		copy(out, a.window)
		return out
	}
	out := make([]int64, a.next)
	copy(out, a.window[:a.next])
	return out
}

// nearestRank computes the nearest-rank percentile over the sample set.
func nearestRank(samples []int64, percentile int) int64 {
	if len(samples) == 0 {
		return 0
	}
	if percentile < 1 || percentile > 100 {
		panic(fmt.Sprintf("percentile out of range: %d", percentile))
	}
	sorted := make([]int64, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	rank := (percentile*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}
