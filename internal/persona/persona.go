// Package persona exposes the persona store consumed by the runtime pool.
// The bridge never authors personas; it only reads static definitions.
package persona

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	apibridge "github.com/tiger/persona-bridge/api/bridge"
)

// Behavior carries the generation parameters a persona runs with.
// Persona-specific behavior is data, never subclassing.
type Behavior struct {
	Temperature   float64 `yaml:"temperature"`
	MaxTokens     int     `yaml:"maxTokens"`
	ContextWindow int     `yaml:"contextWindow"`
}

// Config is one static character definition.
type Config struct {
	ID           apibridge.PersonaID `yaml:"id"`
	Name         string              `yaml:"name"`
	VoiceRef     string              `yaml:"voiceRef"`
	SystemPrompt string              `yaml:"systemPrompt"`
	Behavior     Behavior            `yaml:"behavior"`
}

// Validate enforces the definition fields the bridge depends on.
func (c Config) Validate() error {
	if err := c.ID.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("persona %s: name is required", c.ID)
	}
	if c.Behavior.Temperature < 0 || c.Behavior.Temperature > 2 {
		return fmt.Errorf("persona %s: temperature must be within [0, 2]", c.ID)
	}
	if c.Behavior.MaxTokens < 0 || c.Behavior.ContextWindow < 0 {
		return fmt.Errorf("persona %s: token limits must be >= 0", c.ID)
	}
	return nil
}

// Store supplies static character definitions to the pool.
type Store interface {
	ListPersonaIDs() ([]apibridge.PersonaID, error)
	GetPersonaConfig(id apibridge.PersonaID) (Config, error)
}

// ErrNotFound formatting is shared by store implementations.
func notFoundError(id apibridge.PersonaID) error {
	return fmt.Errorf("persona %s: %w", id, apibridge.ErrRuntimeNotFound)
}

// StaticStore is an in-memory Store used in tests and single-binary demos.
type StaticStore struct {
	mu       sync.RWMutex
	personas map[apibridge.PersonaID]Config
}

// NewStaticStore builds a store from fixed definitions.
func NewStaticStore(configs ...Config) (*StaticStore, error) {
	store := &StaticStore{personas: make(map[apibridge.PersonaID]Config, len(configs))}
	for _, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if _, exists := store.personas[cfg.ID]; exists {
			return nil, fmt.Errorf("duplicate persona id %s", cfg.ID)
		}
		store.personas[cfg.ID] = cfg
	}
	return store, nil
}

// ListPersonaIDs returns all known ids in sorted order.
func (s *StaticStore) ListPersonaIDs() ([]apibridge.PersonaID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]apibridge.PersonaID, 0, len(s.personas))
	for id := range s.personas {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// GetPersonaConfig returns one definition.
func (s *StaticStore) GetPersonaConfig(id apibridge.PersonaID) (Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.personas[id]
	if !ok {
		return Config{}, notFoundError(id)
	}
	return cfg, nil
}
