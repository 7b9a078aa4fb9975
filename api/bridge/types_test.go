package bridge

import (
	"errors"
	"testing"
	"time"
)

func TestProcessingRequestValidate(t *testing.T) {
	t.Parallel()

	valid := ProcessingRequest{
		UserID:    "u1",
		PersonaID: "p1",
		Text:      "hi",
		Options: RequestOptions{
			MaxTokens:   256,
			Temperature: 0.7,
			TimeoutMs:   5000,
		},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid request, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*ProcessingRequest)
	}{
		{name: "missing user", mutate: func(r *ProcessingRequest) { r.UserID = " " }},
		{name: "missing persona", mutate: func(r *ProcessingRequest) { r.PersonaID = "" }},
		{name: "missing message", mutate: func(r *ProcessingRequest) { r.Text = "" }},
		{name: "negative max tokens", mutate: func(r *ProcessingRequest) { r.Options.MaxTokens = -1 }},
		{name: "temperature too high", mutate: func(r *ProcessingRequest) { r.Options.Temperature = 2.5 }},
		{name: "negative timeout", mutate: func(r *ProcessingRequest) { r.Options.TimeoutMs = -1 }},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			candidate := valid
			tc.mutate(&candidate)
			if err := candidate.Validate(); err == nil {
				t.Fatalf("expected validation error for %s", tc.name)
			}
		})
	}
}

func TestProcessingResultValidate(t *testing.T) {
	t.Parallel()

	valid := ProcessingResult{
		Text:           "hello",
		PersonaID:      "p1",
		UserID:         "u1",
		EmotionLabel:   "happy",
		Confidence:     0.9,
		ResponseTimeMs: 42,
		Source:         SourceRuntime,
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid result, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*ProcessingResult)
	}{
		{name: "missing text", mutate: func(r *ProcessingResult) { r.Text = "" }},
		{name: "missing persona", mutate: func(r *ProcessingResult) { r.PersonaID = "" }},
		{name: "confidence above one", mutate: func(r *ProcessingResult) { r.Confidence = 1.2 }},
		{name: "negative response time", mutate: func(r *ProcessingResult) { r.ResponseTimeMs = -1 }},
		{name: "unknown source", mutate: func(r *ProcessingResult) { r.Source = "cache" }},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			candidate := valid
			tc.mutate(&candidate)
			if err := candidate.Validate(); err == nil {
				t.Fatalf("expected validation error for %s", tc.name)
			}
		})
	}
}

func TestErrorCodeMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		code string
	}{
		{err: ErrRuntimeNotFound, code: "runtime_not_found"},
		{err: ErrRuntimeUnhealthy, code: "runtime_unhealthy"},
		{err: ErrTimeout, code: "timeout"},
		{err: ErrRateLimit, code: "rate_limit"},
		{err: ErrInvalidRequest, code: "invalid_request"},
		{err: ErrUpstream, code: "upstream_error"},
		{err: errors.New("boom"), code: "internal_error"},
	}
	for _, tc := range tests {
		if got := ErrorCode(tc.err); got != tc.code {
			t.Fatalf("expected code %q for %v, got %q", tc.code, tc.err, got)
		}
	}

	wrapped := errors.Join(ErrTimeout, errors.New("context deadline exceeded"))
	if got := ErrorCode(wrapped); got != "timeout" {
		t.Fatalf("expected wrapped timeout to map to timeout, got %q", got)
	}
}

func TestAttemptOutcomeLatencyMs(t *testing.T) {
	t.Parallel()

	outcome := AttemptOutcome{PersonaID: "p1", Success: true, Latency: 1500 * time.Millisecond, Source: SourceRuntime}
	if got := outcome.LatencyMs(); got != 1500 {
		t.Fatalf("expected 1500ms, got %d", got)
	}
}
