// Package enhance decorates runtime-produced replies with presentation
// metadata. Enhancement is best-effort: failures are swallowed and the text
// reply goes out unchanged.
package enhance

import (
	"context"
	"time"

	"go.uber.org/zap"

	apibridge "github.com/tiger/persona-bridge/api/bridge"
	"github.com/tiger/persona-bridge/internal/bridge/contracts"
)

// animationSpec is one fixed emotion mapping entry.
type animationSpec struct {
	Type         string
	BaseDuration time.Duration
	Intensity    float64
	Triggers     []string
}

// animationTable maps detected emotion labels to avatar cues. Unknown labels
// fall through to the neutral entry.
var animationTable = map[string]animationSpec{
	"happy":     {Type: "smile", BaseDuration: 2 * time.Second, Intensity: 0.8, Triggers: []string{"mouth_smile", "eyes_soft"}},
	"excited":   {Type: "bounce", BaseDuration: 1500 * time.Millisecond, Intensity: 1.0, Triggers: []string{"mouth_open", "brows_up"}},
	"sad":       {Type: "slump", BaseDuration: 3 * time.Second, Intensity: 0.6, Triggers: []string{"mouth_frown", "eyes_down"}},
	"angry":     {Type: "scowl", BaseDuration: 2 * time.Second, Intensity: 0.9, Triggers: []string{"brows_furrow"}},
	"surprised": {Type: "startle", BaseDuration: time.Second, Intensity: 0.9, Triggers: []string{"brows_up", "mouth_open"}},
	"thinking":  {Type: "ponder", BaseDuration: 2500 * time.Millisecond, Intensity: 0.4, Triggers: []string{"eyes_up", "head_tilt"}},
	"neutral":   {Type: "idle", BaseDuration: 2 * time.Second, Intensity: 0.3, Triggers: nil},
}

// Config controls enhancement behavior.
type Config struct {
	Timeout time.Duration
}

// Enhancer applies animation and voice decoration to runtime results.
type Enhancer struct {
	synth   contracts.Synthesizer
	timeout time.Duration
	logger  *zap.Logger
}

// New creates an enhancer. synth may be nil, disabling voice decoration.
func New(synth contracts.Synthesizer, cfg Config, logger *zap.Logger) *Enhancer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enhancer{synth: synth, timeout: cfg.Timeout, logger: logger}
}

// AnimationFor derives the avatar cue for an emotion label, scaling
// intensity by the reply confidence.
func AnimationFor(emotion string, confidence float64) apibridge.Animation {
	spec, ok := animationTable[emotion]
	if !ok {
		spec = animationTable["neutral"]
	}
	intensity := spec.Intensity * clamp01(confidence)
	return apibridge.Animation{
		Type:       spec.Type,
		DurationMs: int(spec.BaseDuration.Milliseconds()),
		Intensity:  intensity,
		Triggers:   append([]string(nil), spec.Triggers...),
	}
}

// Apply decorates the result in place according to the request options.
// Runs under its own timeout, independent of the primary routing deadline,
// and never fails: on any collaborator error the field is simply omitted.
func (e *Enhancer) Apply(ctx context.Context, req apibridge.ProcessingRequest, voiceRef string, result *apibridge.ProcessingResult) {
	if result == nil || result.Source != apibridge.SourceRuntime {
		return
	}

	if req.Options.WantAnimation {
		animation := AnimationFor(result.EmotionLabel, result.Confidence)
		result.Animation = &animation
	}

	if !req.Options.WantVoice || e.synth == nil {
		return
	}
	synthCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	audioRef, err := e.synth.Synthesize(synthCtx, voiceRef, result.Text)
	if err != nil {
		e.logger.Warn("speech synthesis skipped",
			zap.String("persona", string(req.PersonaID)),
			zap.Error(err))
		return
	}
	result.AudioRef = audioRef
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
