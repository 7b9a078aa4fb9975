// Package pool owns one runtime handle per persona id, from construction at
// startup to release at shutdown.
package pool

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apibridge "github.com/tiger/persona-bridge/api/bridge"
	"github.com/tiger/persona-bridge/internal/bridge/contracts"
	"github.com/tiger/persona-bridge/internal/bridge/health"
	"github.com/tiger/persona-bridge/internal/persona"
)

// Factory constructs the reasoning backend for one persona. Persona-specific
// behavior arrives as config data.
type Factory func(cfg persona.Config) (contracts.Backend, error)

// Handle owns exclusive access to one persona's backend session. Handles are
// created during Initialize and never shared between personas.
type Handle struct {
	PersonaID apibridge.PersonaID
	Config    persona.Config
	backend   contracts.Backend
	closed    atomic.Bool
}

// Generate forwards to the persona's backend.
func (h *Handle) Generate(ctx context.Context, req contracts.GenerateRequest) (contracts.GenerateResult, error) {
	return h.backend.Generate(ctx, req)
}

// Ping forwards the liveness call to the persona's backend.
func (h *Handle) Ping(ctx context.Context) error {
	return h.backend.Ping(ctx)
}

func (h *Handle) close() {
	if h.closed.CompareAndSwap(false, true) {
		_ = h.backend.Close()
	}
}

// initParallelism bounds concurrent handle construction at startup.
const initParallelism = 8

// Pool holds every runtime handle, keyed by persona id. The handle map is
// written once during Initialize and read-only afterwards.
type Pool struct {
	store   persona.Store
	factory Factory
	tracker *health.Tracker
	logger  *zap.Logger

	mu          sync.RWMutex
	handles     map[apibridge.PersonaID]*Handle
	known       []apibridge.PersonaID
	initialized atomic.Bool
	shutdown    atomic.Bool
}

// New creates an uninitialized pool.
func New(store persona.Store, factory Factory, tracker *health.Tracker, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		store:   store,
		factory: factory,
		tracker: tracker,
		logger:  logger,
		handles: map[apibridge.PersonaID]*Handle{},
	}
}

// Initialize loads every known persona and constructs its runtime handle.
// One persona's construction failure marks it Unhealthy and does not abort
// the others; the pool comes up as long as the persona store is readable.
func (p *Pool) Initialize(ctx context.Context) error {
	ids, err := p.store.ListPersonaIDs()
	if err != nil {
		return fmt.Errorf("list personas: %w", err)
	}
	if len(ids) == 0 {
		return fmt.Errorf("persona store returned no personas")
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(initParallelism)

	var mu sync.Mutex
	built := map[apibridge.PersonaID]*Handle{}

	for _, id := range ids {
		id := id
		p.tracker.Register(id)
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			cfg, err := p.store.GetPersonaConfig(id)
			if err != nil {
				p.tracker.MarkUnhealthy(id, err)
				p.logger.Warn("persona config unavailable",
					zap.String("persona", string(id)),
					zap.Error(err))
				return nil
			}
			backend, err := p.factory(cfg)
			if err != nil {
				p.tracker.MarkUnhealthy(id, err)
				p.logger.Warn("runtime construction failed",
					zap.String("persona", string(id)),
					zap.Error(err))
				return nil
			}
			mu.Lock()
			built[id] = &Handle{PersonaID: id, Config: cfg, backend: backend}
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		// Context cancellation mid-initialize: release what was built.
		for _, handle := range built {
			handle.close()
		}
		return fmt.Errorf("initialize pool: %w", err)
	}

	known := make([]apibridge.PersonaID, len(ids))
	copy(known, ids)
	sort.Slice(known, func(i, j int) bool { return known[i] < known[j] })

	p.mu.Lock()
	p.handles = built
	p.known = known
	p.mu.Unlock()
	p.initialized.Store(true)

	p.logger.Info("runtime pool initialized",
		zap.Int("personas", len(ids)),
		zap.Int("runtimes", len(built)))
	return nil
}

// Initialized reports whether Initialize has completed.
func (p *Pool) Initialized() bool {
	return p.initialized.Load()
}

// Get returns the handle for a persona. An unknown id fails with
// ErrRuntimeNotFound; a known id whose construction failed reports
// ErrRuntimeUnhealthy instead.
func (p *Pool) Get(id apibridge.PersonaID) (*Handle, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if handle, ok := p.handles[id]; ok {
		return handle, nil
	}
	for _, known := range p.known {
		if known == id {
			return nil, fmt.Errorf("persona %s: %w", id, apibridge.ErrRuntimeUnhealthy)
		}
	}
	return nil, fmt.Errorf("persona %s: %w", id, apibridge.ErrRuntimeNotFound)
}

// Config returns the persona config for a known id, construction failures
// included.
func (p *Pool) Config(id apibridge.PersonaID) (persona.Config, error) {
	p.mu.RLock()
	if handle, ok := p.handles[id]; ok {
		cfg := handle.Config
		p.mu.RUnlock()
		return cfg, nil
	}
	p.mu.RUnlock()
	return p.store.GetPersonaConfig(id)
}

// Personas returns every known persona id in sorted order, including ids
// whose runtime failed construction.
func (p *Pool) Personas() []apibridge.PersonaID {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]apibridge.PersonaID, len(p.known))
	copy(out, p.known)
	return out
}

// Shutdown releases every handle. Idempotent and safe from signal-handler
// context; a handle already released is skipped silently.
func (p *Pool) Shutdown() {
	if !p.shutdown.CompareAndSwap(false, true) {
		return
	}
	p.mu.RLock()
	handles := make([]*Handle, 0, len(p.handles))
	for _, handle := range p.handles {
		handles = append(handles, handle)
	}
	p.mu.RUnlock()

	for _, handle := range handles {
		handle.close()
	}
	p.logger.Info("runtime pool shut down", zap.Int("runtimes", len(handles)))
}
