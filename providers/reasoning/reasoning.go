// Package reasoning carries the pieces shared by every reasoning-backend
// adapter: the emotion-tag reply protocol and the persona-derived generation
// parameters.
package reasoning

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tiger/persona-bridge/internal/persona"
)

const (
	// DefaultMaxTokens bounds replies when neither the request nor the
	// persona sets a limit.
	DefaultMaxTokens = 1024

	// DefaultConfidence is assigned to replies that carry a tag without an
	// explicit confidence value.
	DefaultConfidence = 0.8

	// UntaggedConfidence is assigned when the model ignored the protocol.
	UntaggedConfidence = 0.5
)

// emotionInstruction teaches the model the reply protocol the bridge parses.
const emotionInstruction = `Begin every reply with an emotion tag of the form [emotion:<label> <confidence>] where <label> is one of: happy, excited, sad, angry, surprised, thinking, neutral, and <confidence> is a number between 0 and 1. Example: [emotion:happy 0.9] Glad you asked!`

var knownEmotions = map[string]struct{}{
	"happy":     {},
	"excited":   {},
	"sad":       {},
	"angry":     {},
	"surprised": {},
	"thinking":  {},
	"neutral":   {},
}

var emotionTag = regexp.MustCompile(`^\s*\[emotion:([a-z]+)(?:\s+([0-9]*\.?[0-9]+))?\]\s*`)

// SystemPrompt combines the persona's own prompt with the tag protocol.
func SystemPrompt(personaPrompt string) string {
	personaPrompt = strings.TrimSpace(personaPrompt)
	if personaPrompt == "" {
		return emotionInstruction
	}
	return personaPrompt + "\n\n" + emotionInstruction
}

// ParseEmotion strips the leading emotion tag from a model reply. Replies
// without a recognizable tag come back unchanged as neutral.
func ParseEmotion(raw string) (label string, confidence float64, text string) {
	match := emotionTag.FindStringSubmatch(raw)
	if match == nil {
		return "neutral", UntaggedConfidence, strings.TrimSpace(raw)
	}
	label = match[1]
	if _, ok := knownEmotions[label]; !ok {
		return "neutral", UntaggedConfidence, strings.TrimSpace(raw)
	}

	confidence = DefaultConfidence
	if match[2] != "" {
		if parsed, err := strconv.ParseFloat(match[2], 64); err == nil && parsed >= 0 && parsed <= 1 {
			confidence = parsed
		}
	}
	return label, confidence, strings.TrimSpace(raw[len(match[0]):])
}

// Params are the effective generation parameters for one call.
type Params struct {
	MaxTokens   int
	Temperature float64
	HasTemp     bool
}

// ResolveParams layers request options over persona behavior defaults.
func ResolveParams(cfg persona.Config, reqMaxTokens int, reqTemperature float64) Params {
	p := Params{MaxTokens: DefaultMaxTokens}
	if cfg.Behavior.MaxTokens > 0 {
		p.MaxTokens = cfg.Behavior.MaxTokens
	}
	if reqMaxTokens > 0 {
		p.MaxTokens = reqMaxTokens
	}
	if cfg.Behavior.Temperature > 0 {
		p.Temperature = cfg.Behavior.Temperature
		p.HasTemp = true
	}
	if reqTemperature > 0 {
		p.Temperature = reqTemperature
		p.HasTemp = true
	}
	return p
}

// ValidateReply rejects empty model output so callers can fail uniformly.
func ValidateReply(text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("model returned an empty reply")
	}
	return nil
}
