// Package fallback produces the deterministic local reply served when a
// runtime is unavailable or too slow. This path must never fail.
package fallback

import (
	"fmt"
	"strings"

	apibridge "github.com/tiger/persona-bridge/api/bridge"
)

// Confidence is the fixed confidence attached to every fallback reply.
const Confidence = 0.1

// defaultReply is the hard floor: returned verbatim if template rendering
// goes wrong in any way.
const defaultReply = "I'm having a little trouble thinking right now. Give me a moment and ask again."

var templates = []string{
	"%s is gathering their thoughts. Could you say that again in a moment?",
	"Hmm, %s needs a second to catch up. Mind repeating that shortly?",
	"%s heard you, but needs a moment before answering properly.",
}

// Generator renders templated acknowledgements, keyed deterministically off
// the request so retries of the same message read the same.
type Generator struct {
	personaName func(apibridge.PersonaID) string
}

// NewGenerator creates a generator. nameFn resolves a persona's display
// name; nil (or an empty result) falls back to a neutral subject.
func NewGenerator(nameFn func(apibridge.PersonaID) string) *Generator {
	return &Generator{personaName: nameFn}
}

// Reply builds the fallback ProcessingResult for a request. It never
// returns an error and never panics outward.
func (g *Generator) Reply(req apibridge.ProcessingRequest, latencyMs int64) (result apibridge.ProcessingResult) {
	result = apibridge.ProcessingResult{
		Text:           defaultReply,
		PersonaID:      req.PersonaID,
		UserID:         req.UserID,
		EmotionLabel:   "neutral",
		Confidence:     Confidence,
		ResponseTimeMs: latencyMs,
		Source:         apibridge.SourceFallback,
	}
	defer func() {
		if recover() != nil {
			result.Text = defaultReply
		}
	}()

	name := ""
	if g.personaName != nil {
		name = strings.TrimSpace(g.personaName(req.PersonaID))
	}
	if name == "" {
		name = "Your companion"
	}

	idx := deterministicIndex(req, len(templates))
	result.Text = fmt.Sprintf(templates[idx], name)
	return result
}

func deterministicIndex(req apibridge.ProcessingRequest, n int) int {
	// FNV-1a over the identifying fields; cheap and stable across restarts.
	const offset, prime = 2166136261, 16777619
	hash := uint32(offset)
	for _, part := range []string{req.UserID, string(req.PersonaID), req.Text} {
		for i := 0; i < len(part); i++ {
			hash ^= uint32(part[i])
			hash *= prime
		}
	}
	return int(hash % uint32(n))
}
