// Package router selects the runtime or fallback path for every
// conversational request and records the outcome of each attempt.
package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	apibridge "github.com/tiger/persona-bridge/api/bridge"
	"github.com/tiger/persona-bridge/internal/bridge/admission"
	"github.com/tiger/persona-bridge/internal/bridge/contracts"
	"github.com/tiger/persona-bridge/internal/bridge/enhance"
	"github.com/tiger/persona-bridge/internal/bridge/fallback"
	"github.com/tiger/persona-bridge/internal/bridge/health"
	"github.com/tiger/persona-bridge/internal/bridge/metrics"
	"github.com/tiger/persona-bridge/internal/bridge/pool"
)

// Config carries routing defaults.
type Config struct {
	DefaultTimeout time.Duration
	Now            func() time.Time
}

func (c Config) withDefaults() Config {
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 15 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Router routes requests to healthy runtimes and degrades to the fallback
// path when a runtime is unavailable, slow, or failing.
type Router struct {
	cfg       Config
	pool      *pool.Pool
	tracker   *health.Tracker
	metrics   *metrics.Aggregator
	admission *admission.Controller
	fallback  *fallback.Generator
	enhancer  *enhance.Enhancer
	logger    *zap.Logger
}

// New wires a router. enhancer may be nil, disabling decoration.
func New(cfg Config, p *pool.Pool, tracker *health.Tracker, agg *metrics.Aggregator, admit *admission.Controller, fb *fallback.Generator, enhancer *enhance.Enhancer, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		cfg:       cfg.withDefaults(),
		pool:      p,
		tracker:   tracker,
		metrics:   agg,
		admission: admit,
		fallback:  fb,
		enhancer:  enhancer,
		logger:    logger,
	}
}

// Route processes one request. Invalid requests, unknown personas, and
// admission rejections surface as errors; every other failure mode is
// absorbed into a fallback ProcessingResult so the caller always gets a
// best-effort reply.
func (r *Router) Route(ctx context.Context, req apibridge.ProcessingRequest) (apibridge.ProcessingResult, error) {
	if err := req.Validate(); err != nil {
		return apibridge.ProcessingResult{}, fmt.Errorf("%w: %s", apibridge.ErrInvalidRequest, err)
	}

	release, err := r.admission.Admit(req.PersonaID)
	if err != nil {
		return apibridge.ProcessingResult{}, fmt.Errorf("%w: %s", apibridge.ErrRateLimit, err)
	}
	defer release()

	start := r.cfg.Now()

	handle, err := r.pool.Get(req.PersonaID)
	if err != nil {
		if errors.Is(err, apibridge.ErrRuntimeUnhealthy) {
			return r.serveFallback(req, start, err), nil
		}
		return apibridge.ProcessingResult{}, err
	}

	if status, known := r.tracker.Status(req.PersonaID); !known || status == health.StatusUnhealthy {
		return r.serveFallback(req, start, apibridge.ErrRuntimeUnhealthy), nil
	}

	generated, err := r.invoke(ctx, handle, req)
	latency := r.cfg.Now().Sub(start)
	if err != nil {
		r.recordAttempt(apibridge.AttemptOutcome{
			PersonaID: req.PersonaID,
			Success:   false,
			Latency:   latency,
			Source:    apibridge.SourceFallback,
			Err:       err,
		}, true)
		r.logger.Warn("runtime attempt failed, serving fallback",
			zap.String("persona", string(req.PersonaID)),
			zap.String("user", req.UserID),
			zap.Error(err))
		return r.fallbackResult(req, latency), nil
	}

	result := apibridge.ProcessingResult{
		Text:           generated.Text,
		PersonaID:      req.PersonaID,
		UserID:         req.UserID,
		EmotionLabel:   generated.EmotionLabel,
		Confidence:     generated.Confidence,
		ResponseTimeMs: latency.Milliseconds(),
		Source:         apibridge.SourceRuntime,
	}
	r.recordAttempt(apibridge.AttemptOutcome{
		PersonaID: req.PersonaID,
		Success:   true,
		Latency:   latency,
		Source:    apibridge.SourceRuntime,
	}, true)

	if r.enhancer != nil {
		r.enhancer.Apply(ctx, req, handle.Config.VoiceRef, &result)
	}
	return result, nil
}

// Probe is the lightweight liveness call handed to the health tracker.
func (r *Router) Probe(ctx context.Context, id apibridge.PersonaID) error {
	handle, err := r.pool.Get(id)
	if err != nil {
		return err
	}
	return handle.Ping(ctx)
}

// invoke runs the backend call under the request deadline. The call runs in
// its own goroutine raced against the deadline so the caller never waits
// past the deadline even when the backend ignores cancellation.
func (r *Router) invoke(ctx context.Context, handle *pool.Handle, req apibridge.ProcessingRequest) (contracts.GenerateResult, error) {
	timeout := r.cfg.DefaultTimeout
	if req.Options.TimeoutMs > 0 {
		timeout = time.Duration(req.Options.TimeoutMs) * time.Millisecond
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type reply struct {
		result contracts.GenerateResult
		err    error
	}
	done := make(chan reply, 1)
	go func() {
		result, err := handle.Generate(callCtx, contracts.GenerateRequest{
			UserID:      req.UserID,
			Text:        req.Text,
			MaxTokens:   req.Options.MaxTokens,
			Temperature: req.Options.Temperature,
		})
		done <- reply{result: result, err: err}
	}()

	select {
	case <-callCtx.Done():
		return contracts.GenerateResult{}, fmt.Errorf("%w after %s", apibridge.ErrTimeout, timeout)
	case generated := <-done:
		if generated.err != nil {
			return contracts.GenerateResult{}, fmt.Errorf("%w: %s", apibridge.ErrUpstream, generated.err)
		}
		return generated.result, nil
	}
}

// serveFallback handles the unhealthy pre-check branch: the backend is never
// invoked, so the outcome is recorded against metrics but not against the
// health state machine.
func (r *Router) serveFallback(req apibridge.ProcessingRequest, start time.Time, cause error) apibridge.ProcessingResult {
	latency := r.cfg.Now().Sub(start)
	r.recordAttempt(apibridge.AttemptOutcome{
		PersonaID: req.PersonaID,
		Success:   false,
		Latency:   latency,
		Source:    apibridge.SourceFallback,
		Err:       cause,
	}, false)
	return r.fallbackResult(req, latency)
}

func (r *Router) fallbackResult(req apibridge.ProcessingRequest, latency time.Duration) apibridge.ProcessingResult {
	return r.fallback.Reply(req, latency.Milliseconds())
}

func (r *Router) recordAttempt(outcome apibridge.AttemptOutcome, touchedBackend bool) {
	if touchedBackend {
		r.tracker.RecordOutcome(outcome)
	}
	r.metrics.Record(outcome)
}
