package enhance

import (
	"context"
	"errors"
	"testing"
	"time"

	apibridge "github.com/tiger/persona-bridge/api/bridge"
)

type fakeSynth struct {
	audioRef string
	err      error
	delay    time.Duration
	calls    int
}

func (s *fakeSynth) Synthesize(ctx context.Context, voiceRef, text string) (string, error) {
	s.calls++
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if s.err != nil {
		return "", s.err
	}
	return s.audioRef, nil
}

func runtimeResult() apibridge.ProcessingResult {
	return apibridge.ProcessingResult{
		Text:         "hello",
		PersonaID:    "p1",
		UserID:       "u1",
		EmotionLabel: "happy",
		Confidence:   0.9,
		Source:       apibridge.SourceRuntime,
	}
}

func TestAnimationForKnownEmotion(t *testing.T) {
	t.Parallel()

	animation := AnimationFor("happy", 0.9)
	if animation.Type != "smile" {
		t.Fatalf("expected smile for happy, got %q", animation.Type)
	}
	if animation.DurationMs != 2000 {
		t.Fatalf("unexpected duration %d", animation.DurationMs)
	}
	// Intensity is the base (0.8) scaled by confidence (0.9).
	if animation.Intensity < 0.71 || animation.Intensity > 0.73 {
		t.Fatalf("unexpected intensity %v", animation.Intensity)
	}
}

func TestAnimationForUnknownEmotionFallsBackToNeutral(t *testing.T) {
	t.Parallel()

	animation := AnimationFor("bewildered", 1.0)
	if animation.Type != "idle" {
		t.Fatalf("expected idle for unknown emotion, got %q", animation.Type)
	}
}

func TestApplyAddsAnimationAndAudio(t *testing.T) {
	t.Parallel()

	synth := &fakeSynth{audioRef: "audio/p1/42.mp3"}
	enhancer := New(synth, Config{}, nil)

	req := apibridge.ProcessingRequest{
		UserID:    "u1",
		PersonaID: "p1",
		Text:      "hi",
		Options:   apibridge.RequestOptions{WantVoice: true, WantAnimation: true},
	}
	result := runtimeResult()
	enhancer.Apply(context.Background(), req, "Joanna", &result)

	if result.Animation == nil || result.Animation.Type != "smile" {
		t.Fatalf("expected animation, got %+v", result.Animation)
	}
	if result.AudioRef != "audio/p1/42.mp3" {
		t.Fatalf("expected audio ref, got %q", result.AudioRef)
	}
}

func TestApplySwallowsSynthesisFailure(t *testing.T) {
	t.Parallel()

	synth := &fakeSynth{err: errors.New("polly down")}
	enhancer := New(synth, Config{}, nil)

	req := apibridge.ProcessingRequest{
		UserID:    "u1",
		PersonaID: "p1",
		Text:      "hi",
		Options:   apibridge.RequestOptions{WantVoice: true},
	}
	plain := runtimeResult()
	enhanced := runtimeResult()
	enhancer.Apply(context.Background(), req, "Joanna", &enhanced)

	// Same text/confidence/source as the non-enhanced result, fields absent.
	if enhanced.Text != plain.Text || enhanced.Confidence != plain.Confidence || enhanced.Source != plain.Source {
		t.Fatalf("enhancement failure must not touch the primary result: %+v", enhanced)
	}
	if enhanced.AudioRef != "" || enhanced.Animation != nil {
		t.Fatalf("expected decoration omitted on failure, got %+v", enhanced)
	}
}

func TestApplyBoundsSynthesisTime(t *testing.T) {
	t.Parallel()

	synth := &fakeSynth{audioRef: "never", delay: 5 * time.Second}
	enhancer := New(synth, Config{Timeout: 50 * time.Millisecond}, nil)

	req := apibridge.ProcessingRequest{
		UserID:    "u1",
		PersonaID: "p1",
		Text:      "hi",
		Options:   apibridge.RequestOptions{WantVoice: true},
	}
	result := runtimeResult()

	start := time.Now()
	enhancer.Apply(context.Background(), req, "Joanna", &result)
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("enhancement exceeded its own timeout: %v", elapsed)
	}
	if result.AudioRef != "" {
		t.Fatalf("expected no audio ref after timeout, got %q", result.AudioRef)
	}
}

func TestApplyIgnoresFallbackResults(t *testing.T) {
	t.Parallel()

	synth := &fakeSynth{audioRef: "should-not-happen"}
	enhancer := New(synth, Config{}, nil)

	req := apibridge.ProcessingRequest{
		UserID:    "u1",
		PersonaID: "p1",
		Text:      "hi",
		Options:   apibridge.RequestOptions{WantVoice: true, WantAnimation: true},
	}
	result := runtimeResult()
	result.Source = apibridge.SourceFallback
	enhancer.Apply(context.Background(), req, "Joanna", &result)

	if synth.calls != 0 {
		t.Fatal("fallback results must not reach the synthesizer")
	}
	if result.Animation != nil || result.AudioRef != "" {
		t.Fatalf("fallback results must not be decorated: %+v", result)
	}
}
