package persona

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	apibridge "github.com/tiger/persona-bridge/api/bridge"
)

// FileStore reads persona definitions from a directory of YAML files, one
// persona per file. Definitions are loaded once at construction; persona
// authoring and hot-reload are out of scope for the bridge.
type FileStore struct {
	dir string

	mu       sync.RWMutex
	personas map[apibridge.PersonaID]Config
}

// NewFileStore loads every *.yaml / *.yml definition under dir.
func NewFileStore(dir string) (*FileStore, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("persona directory is required")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read persona directory %s: %w", dir, err)
	}

	store := &FileStore{dir: dir, personas: map[apibridge.PersonaID]Config{}}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(dir, name)
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read persona file %s: %w", path, err)
		}
		var cfg Config
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse persona file %s: %w", path, err)
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("persona file %s: %w", path, err)
		}
		if _, exists := store.personas[cfg.ID]; exists {
			return nil, fmt.Errorf("persona file %s: duplicate persona id %s", path, cfg.ID)
		}
		store.personas[cfg.ID] = cfg
	}
	if len(store.personas) == 0 {
		return nil, fmt.Errorf("no persona definitions found under %s", dir)
	}
	return store, nil
}

// ListPersonaIDs returns all loaded ids in sorted order.
func (s *FileStore) ListPersonaIDs() ([]apibridge.PersonaID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]apibridge.PersonaID, 0, len(s.personas))
	for id := range s.personas {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// GetPersonaConfig returns one loaded definition.
func (s *FileStore) GetPersonaConfig(id apibridge.PersonaID) (Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.personas[id]
	if !ok {
		return Config{}, notFoundError(id)
	}
	return cfg, nil
}
