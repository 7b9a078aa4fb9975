package metrics

import (
	"sync"
	"testing"
	"time"

	apibridge "github.com/tiger/persona-bridge/api/bridge"
)

func outcome(persona apibridge.PersonaID, success bool, latencyMs int64, source apibridge.ResultSource) apibridge.AttemptOutcome {
	return apibridge.AttemptOutcome{
		PersonaID: persona,
		Success:   success,
		Latency:   time.Duration(latencyMs) * time.Millisecond,
		Source:    source,
	}
}

func TestAggregatorCounters(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(16)
	agg.Record(outcome("p1", true, 40, apibridge.SourceRuntime))
	agg.Record(outcome("p1", true, 60, apibridge.SourceRuntime))
	agg.Record(outcome("p2", false, 15000, apibridge.SourceFallback))

	snap := agg.Snapshot()
	if snap.TotalRequests != 3 || snap.Succeeded != 2 || snap.Failed != 1 || snap.FallbackServed != 1 {
		t.Fatalf("unexpected counters %+v", snap)
	}
	if snap.SuccessRate < 0.66 || snap.SuccessRate > 0.67 {
		t.Fatalf("unexpected success rate %v", snap.SuccessRate)
	}
	usage := snap.PerPersona["p1"]
	if usage.Requests != 2 || usage.Succeeded != 2 || usage.Fallback != 0 {
		t.Fatalf("unexpected p1 usage %+v", usage)
	}
	if snap.PerPersona["p2"].Fallback != 1 {
		t.Fatalf("unexpected p2 usage %+v", snap.PerPersona["p2"])
	}
}

func TestAggregatorNearestRankPercentiles(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(256)
	// Known distribution: 1..100ms once each.
	for i := 1; i <= 100; i++ {
		agg.Record(outcome("p1", true, int64(i), apibridge.SourceRuntime))
	}
	snap := agg.Snapshot()
	// Nearest-rank over 1..100: p50=50, p95=95, p99=99.
	if snap.LatencyP50Ms != 50 {
		t.Fatalf("expected p50=50, got %d", snap.LatencyP50Ms)
	}
	if snap.LatencyP95Ms != 95 {
		t.Fatalf("expected p95=95, got %d", snap.LatencyP95Ms)
	}
	if snap.LatencyP99Ms != 99 {
		t.Fatalf("expected p99=99, got %d", snap.LatencyP99Ms)
	}
	if snap.LatencySamples != 100 {
		t.Fatalf("expected 100 samples, got %d", snap.LatencySamples)
	}
}

func TestAggregatorWindowIsBounded(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(8)
	// First fill with slow samples, then overwrite the window with fast ones.
	for i := 0; i < 8; i++ {
		agg.Record(outcome("p1", true, 1000, apibridge.SourceRuntime))
	}
	for i := 0; i < 8; i++ {
		agg.Record(outcome("p1", true, 10, apibridge.SourceRuntime))
	}
	snap := agg.Snapshot()
	if snap.LatencySamples != 8 {
		t.Fatalf("expected bounded window of 8, got %d", snap.LatencySamples)
	}
	if snap.LatencyP99Ms != 10 {
		t.Fatalf("expected old samples evicted, p99 was %d", snap.LatencyP99Ms)
	}
}

func TestAggregatorReset(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(8)
	agg.Record(outcome("p1", true, 5, apibridge.SourceRuntime))
	agg.Reset()

	snap := agg.Snapshot()
	if snap.TotalRequests != 0 || snap.LatencySamples != 0 || len(snap.PerPersona) != 0 {
		t.Fatalf("expected clean state after reset, got %+v", snap)
	}
}

func TestAggregatorConcurrentRecord(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(64)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				agg.Record(outcome("p1", i%2 == 0, int64(i), apibridge.SourceRuntime))
			}
		}()
	}
	wg.Wait()

	snap := agg.Snapshot()
	if snap.TotalRequests != 800 {
		t.Fatalf("expected 800 total requests, got %d", snap.TotalRequests)
	}
	if snap.Succeeded+snap.Failed != 800 {
		t.Fatalf("success+failed must equal total, got %d", snap.Succeeded+snap.Failed)
	}
}
