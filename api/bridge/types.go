package bridge

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// PersonaID is the opaque stable identifier for one conversational persona.
// It is the map key for runtime handles, health records, and usage counters.
type PersonaID string

// Validate enforces the persona id shape shared across components.
func (id PersonaID) Validate() error {
	if strings.TrimSpace(string(id)) == "" {
		return fmt.Errorf("persona id is required")
	}
	return nil
}

// ResultSource identifies which path produced a ProcessingResult.
type ResultSource string

const (
	SourceRuntime  ResultSource = "runtime"
	SourceFallback ResultSource = "fallback"
)

// Validate enforces supported result sources.
func (s ResultSource) Validate() error {
	switch s {
	case SourceRuntime, SourceFallback:
		return nil
	default:
		return fmt.Errorf("unsupported result source: %q", s)
	}
}

// Taxonomy of routing failures. Everything except ErrInvalidRequest and
// ErrRateLimit is absorbed into the fallback path and never surfaced to the
// end user as a hard failure.
var (
	// ErrRuntimeNotFound means the persona id is not known to the pool.
	ErrRuntimeNotFound = errors.New("runtime not found")
	// ErrRuntimeUnhealthy means the persona id is known but its runtime is unusable.
	ErrRuntimeUnhealthy = errors.New("runtime unhealthy")
	// ErrTimeout means the reasoning backend missed the request deadline.
	ErrTimeout = errors.New("reasoning deadline exceeded")
	// ErrRateLimit means the admission ceiling rejected the request.
	ErrRateLimit = errors.New("concurrent request ceiling reached")
	// ErrInvalidRequest means the request was malformed; no fallback is attempted.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrUpstream means the reasoning or voice backend reported a failure.
	ErrUpstream = errors.New("upstream backend error")
)

// ErrorCode returns the machine-readable code for a routing error, used in
// HTTP bodies and realtime error frames.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrRuntimeNotFound):
		return "runtime_not_found"
	case errors.Is(err, ErrRuntimeUnhealthy):
		return "runtime_unhealthy"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrRateLimit):
		return "rate_limit"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrUpstream):
		return "upstream_error"
	default:
		return "internal_error"
	}
}

// RequestOptions carries per-request generation and enhancement knobs.
// Zero values defer to configured defaults.
type RequestOptions struct {
	MaxTokens     int     `json:"maxTokens,omitempty"`
	Temperature   float64 `json:"temperature,omitempty"`
	ContextWindow int     `json:"contextWindow,omitempty"`
	TimeoutMs     int     `json:"timeoutMs,omitempty"`
	WantVoice     bool    `json:"wantVoice,omitempty"`
	WantAnimation bool    `json:"wantAnimation,omitempty"`
}

// Validate enforces option bounds.
func (o RequestOptions) Validate() error {
	if o.MaxTokens < 0 {
		return fmt.Errorf("maxTokens must be >= 0")
	}
	if o.Temperature < 0 || o.Temperature > 2 {
		return fmt.Errorf("temperature must be within [0, 2]")
	}
	if o.ContextWindow < 0 {
		return fmt.Errorf("contextWindow must be >= 0")
	}
	if o.TimeoutMs < 0 {
		return fmt.Errorf("timeoutMs must be >= 0")
	}
	return nil
}

// ProcessingRequest is one routed conversational turn. Immutable once
// submitted.
type ProcessingRequest struct {
	UserID    string         `json:"userId"`
	PersonaID PersonaID      `json:"personaId"`
	Text      string         `json:"message"`
	Options   RequestOptions `json:"options,omitempty"`
}

// Validate enforces required request fields.
func (r ProcessingRequest) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return fmt.Errorf("userId is required")
	}
	if err := r.PersonaID.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(r.Text) == "" {
		return fmt.Errorf("message is required")
	}
	return r.Options.Validate()
}

// Animation is the presentation cue derived from a detected emotion.
type Animation struct {
	Type       string   `json:"type"`
	DurationMs int      `json:"durationMs"`
	Intensity  float64  `json:"intensity"`
	Triggers   []string `json:"triggers,omitempty"`
}

// ProcessingResult is the best-effort reply returned for every accepted
// request, whether the runtime or the fallback path produced it.
type ProcessingResult struct {
	Text           string       `json:"text"`
	PersonaID      PersonaID    `json:"personaId"`
	UserID         string       `json:"userId"`
	EmotionLabel   string       `json:"emotionLabel,omitempty"`
	Confidence     float64      `json:"confidence"`
	ResponseTimeMs int64        `json:"responseTimeMs"`
	Source         ResultSource `json:"source"`
	Animation      *Animation   `json:"animation,omitempty"`
	AudioRef       string       `json:"audioRef,omitempty"`
}

// Validate enforces result invariants shared across paths.
func (r ProcessingResult) Validate() error {
	if r.Text == "" {
		return fmt.Errorf("text is required")
	}
	if err := r.PersonaID.Validate(); err != nil {
		return err
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("confidence must be within [0, 1]")
	}
	if r.ResponseTimeMs < 0 {
		return fmt.Errorf("responseTimeMs must be >= 0")
	}
	return r.Source.Validate()
}

// AttemptOutcome is the unified record of one routed attempt, consumed by
// both the health tracker and the metrics aggregator regardless of whether
// the cause was a timeout, a backend error, or an unhealthy pre-check.
type AttemptOutcome struct {
	PersonaID PersonaID
	Success   bool
	Latency   time.Duration
	Source    ResultSource
	Err       error
}

// LatencyMs reports the attempt latency in milliseconds.
func (o AttemptOutcome) LatencyMs() int64 {
	return o.Latency.Milliseconds()
}
