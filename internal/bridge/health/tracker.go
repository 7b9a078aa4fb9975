// Package health maintains the per-persona liveness state machine consulted
// by the router before every routing decision.
package health

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	apibridge "github.com/tiger/persona-bridge/api/bridge"
)

// Status is the per-persona health state.
type Status int32

const (
	StatusHealthy Status = iota
	StatusDegraded
	StatusUnhealthy
)

// String returns the reporting form of a status.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Record is a copy of one persona's health state.
type Record struct {
	PersonaID   apibridge.PersonaID `json:"personaId"`
	Status      string              `json:"status"`
	ErrorCount  int                 `json:"errorCount"`
	LastError   string              `json:"lastError,omitempty"`
	LastLatency int64               `json:"lastLatencyMs"`
	LastChecked time.Time           `json:"lastChecked"`
}

// Prober issues the lightweight liveness call for one persona.
type Prober func(ctx context.Context, id apibridge.PersonaID) error

// Config controls thresholds and probe cadence. Thresholds are operator
// tunables; the defaults are starting points, not load-tested optima.
type Config struct {
	DegradedThreshold  int
	UnhealthyThreshold int
	ProbeInterval      time.Duration
	ProbeTimeout       time.Duration
	Now                func() time.Time
}

func (c Config) withDefaults() Config {
	if c.DegradedThreshold <= 0 {
		c.DegradedThreshold = 3
	}
	if c.UnhealthyThreshold <= c.DegradedThreshold {
		c.UnhealthyThreshold = c.DegradedThreshold * 2
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = time.Minute
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 10 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

type record struct {
	status atomic.Int32

	mu          sync.Mutex
	errorCount  int
	lastError   string
	lastLatency int64
	lastChecked time.Time
}

// Tracker owns every HealthRecord. Status reads are atomic loads so routing
// decisions never block behind an in-flight update; staleness up to one
// probe interval is accepted.
type Tracker struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.RWMutex
	records map[apibridge.PersonaID]*record
}

// NewTracker creates an empty tracker.
func NewTracker(cfg Config, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		cfg:     cfg.withDefaults(),
		logger:  logger,
		records: map[apibridge.PersonaID]*record{},
	}
}

// Register creates the record for a persona in Healthy state. Idempotent.
func (t *Tracker) Register(id apibridge.PersonaID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.records[id]; ok {
		return
	}
	rec := &record{lastChecked: t.cfg.Now()}
	rec.status.Store(int32(StatusHealthy))
	t.records[id] = rec
}

// MarkUnhealthy forces a persona straight to Unhealthy, used when its
// runtime could not be constructed at pool initialization.
func (t *Tracker) MarkUnhealthy(id apibridge.PersonaID, err error) {
	t.Register(id)
	rec := t.lookup(id)

	rec.mu.Lock()
	rec.errorCount = t.cfg.UnhealthyThreshold
	if err != nil {
		rec.lastError = err.Error()
	}
	rec.lastChecked = t.cfg.Now()
	rec.status.Store(int32(StatusUnhealthy))
	rec.mu.Unlock()
}

// RecordOutcome applies one call outcome to the state machine: any success
// resets the error count and restores Healthy; failures climb through
// Degraded to Unhealthy at the configured thresholds.
func (t *Tracker) RecordOutcome(outcome apibridge.AttemptOutcome) {
	rec := t.lookup(outcome.PersonaID)
	if rec == nil {
		return
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.lastLatency = outcome.LatencyMs()
	rec.lastChecked = t.cfg.Now()

	if outcome.Success {
		rec.errorCount = 0
		rec.lastError = ""
		rec.status.Store(int32(StatusHealthy))
		return
	}

	rec.errorCount++
	if outcome.Err != nil {
		rec.lastError = outcome.Err.Error()
	}
	switch {
	case rec.errorCount >= t.cfg.UnhealthyThreshold:
		rec.status.Store(int32(StatusUnhealthy))
	case rec.errorCount >= t.cfg.DegradedThreshold:
		rec.status.Store(int32(StatusDegraded))
	}
}

// Status returns the persona's current state without blocking behind
// record updates. The boolean reports whether the persona is known.
func (t *Tracker) Status(id apibridge.PersonaID) (Status, bool) {
	rec := t.lookup(id)
	if rec == nil {
		return StatusUnhealthy, false
	}
	return Status(rec.status.Load()), true
}

// Record returns a copy of one persona's full health record.
func (t *Tracker) Record(id apibridge.PersonaID) (Record, bool) {
	rec := t.lookup(id)
	if rec == nil {
		return Record{}, false
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return Record{
		PersonaID:   id,
		Status:      Status(rec.status.Load()).String(),
		ErrorCount:  rec.errorCount,
		LastError:   rec.lastError,
		LastLatency: rec.lastLatency,
		LastChecked: rec.lastChecked,
	}, true
}

// Records returns a copy of every record.
func (t *Tracker) Records() []Record {
	t.mu.RLock()
	ids := make([]apibridge.PersonaID, 0, len(t.records))
	for id := range t.records {
		ids = append(ids, id)
	}
	t.mu.RUnlock()

	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		if rec, ok := t.Record(id); ok {
			out = append(out, rec)
		}
	}
	return out
}

// Start runs the periodic probe loop until ctx is cancelled. Probe failures
// are logged, never raised.
func (t *Tracker) Start(ctx context.Context, probe Prober) {
	if probe == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(t.cfg.ProbeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.ProbeOnce(ctx, probe)
			}
		}
	}()
}

// ProbeOnce issues one liveness sweep over every Degraded/Unhealthy persona.
// A probe success follows the normal success transition; a probe failure
// refreshes the last error and timestamp without counting against the
// failure threshold again.
func (t *Tracker) ProbeOnce(ctx context.Context, probe Prober) {
	t.mu.RLock()
	ids := make([]apibridge.PersonaID, 0, len(t.records))
	for id, rec := range t.records {
		if Status(rec.status.Load()) != StatusHealthy {
			ids = append(ids, id)
		}
	}
	t.mu.RUnlock()

	for _, id := range ids {
		probeCtx, cancel := context.WithTimeout(ctx, t.cfg.ProbeTimeout)
		start := t.cfg.Now()
		err := probe(probeCtx, id)
		cancel()

		rec := t.lookup(id)
		if rec == nil {
			continue
		}
		if err == nil {
			t.RecordOutcome(apibridge.AttemptOutcome{
				PersonaID: id,
				Success:   true,
				Latency:   t.cfg.Now().Sub(start),
				Source:    apibridge.SourceRuntime,
			})
			t.logger.Info("probe recovered persona runtime", zap.String("persona", string(id)))
			continue
		}

		rec.mu.Lock()
		rec.lastError = err.Error()
		rec.lastChecked = t.cfg.Now()
		rec.mu.Unlock()
		t.logger.Warn("probe failed",
			zap.String("persona", string(id)),
			zap.Error(err))
	}
}

func (t *Tracker) lookup(id apibridge.PersonaID) *record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.records[id]
}
