// Package contracts defines the collaborator interfaces the bridge consumes.
// Reasoning backends, speech synthesis, and the vector memory store behind
// the backend are external systems; the bridge only ever sees these shapes.
package contracts

import (
	"context"
	"fmt"
	"strings"
)

// GenerateRequest is one reasoning-backend invocation.
type GenerateRequest struct {
	UserID      string
	Text        string
	MaxTokens   int
	Temperature float64
}

// Validate enforces required invocation fields.
func (r GenerateRequest) Validate() error {
	if strings.TrimSpace(r.UserID) == "" {
		return fmt.Errorf("user id is required")
	}
	if strings.TrimSpace(r.Text) == "" {
		return fmt.Errorf("text is required")
	}
	if r.MaxTokens < 0 {
		return fmt.Errorf("max tokens must be >= 0")
	}
	if r.Temperature < 0 || r.Temperature > 2 {
		return fmt.Errorf("temperature must be within [0, 2]")
	}
	return nil
}

// GenerateResult is the reasoning backend's reply.
type GenerateResult struct {
	Text         string
	EmotionLabel string
	Confidence   float64
}

// Backend is the single capability interface every persona runtime
// implements. Persona-specific behavior is carried as configuration handed
// to the backend at construction, never as a subtype.
type Backend interface {
	// Generate produces a reply under the caller's deadline.
	Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error)
	// Ping issues a lightweight liveness call used by the health probe.
	Ping(ctx context.Context) error
	// Close releases the backend session. Must tolerate repeated calls.
	Close() error
}

// Synthesizer produces a speech-audio reference for an already-generated
// reply. Invoked only to decorate; failures are never request failures.
type Synthesizer interface {
	Synthesize(ctx context.Context, voiceRef, text string) (string, error)
}
