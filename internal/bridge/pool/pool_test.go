package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	apibridge "github.com/tiger/persona-bridge/api/bridge"
	"github.com/tiger/persona-bridge/internal/bridge/contracts"
	"github.com/tiger/persona-bridge/internal/bridge/health"
	"github.com/tiger/persona-bridge/internal/persona"
)

type fakeBackend struct {
	closes atomic.Int64
}

func (b *fakeBackend) Generate(context.Context, contracts.GenerateRequest) (contracts.GenerateResult, error) {
	return contracts.GenerateResult{Text: "ok", EmotionLabel: "neutral", Confidence: 0.5}, nil
}

func (b *fakeBackend) Ping(context.Context) error { return nil }

func (b *fakeBackend) Close() error {
	b.closes.Add(1)
	return nil
}

func newStore(t *testing.T, n int) *persona.StaticStore {
	t.Helper()
	configs := make([]persona.Config, 0, n)
	for i := 0; i < n; i++ {
		id := apibridge.PersonaID(fmt.Sprintf("p%02d", i))
		configs = append(configs, persona.Config{ID: id, Name: "Persona " + string(id)})
	}
	store, err := persona.NewStaticStore(configs...)
	if err != nil {
		t.Fatalf("build store: %v", err)
	}
	return store
}

func TestInitializePartialFailure(t *testing.T) {
	t.Parallel()

	store := newStore(t, 25)
	tracker := health.NewTracker(health.Config{}, nil)
	factory := func(cfg persona.Config) (contracts.Backend, error) {
		if cfg.ID == "p07" {
			return nil, errors.New("session refused")
		}
		return &fakeBackend{}, nil
	}

	p := New(store, factory, tracker, nil)
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize must survive one persona failing: %v", err)
	}
	if !p.Initialized() {
		t.Fatal("pool must report initialized")
	}
	if got := len(p.Personas()); got != 25 {
		t.Fatalf("expected 25 known personas, got %d", got)
	}

	// The failed persona starts Unhealthy and resolves to ErrRuntimeUnhealthy.
	if status, ok := tracker.Status("p07"); !ok || status != health.StatusUnhealthy {
		t.Fatalf("expected p07 unhealthy, got %v ok=%v", status, ok)
	}
	if _, err := p.Get("p07"); !errors.Is(err, apibridge.ErrRuntimeUnhealthy) {
		t.Fatalf("expected ErrRuntimeUnhealthy for p07, got %v", err)
	}

	// A healthy persona resolves normally.
	handle, err := p.Get("p01")
	if err != nil {
		t.Fatalf("unexpected get error: %v", err)
	}
	if handle.PersonaID != "p01" {
		t.Fatalf("unexpected handle %+v", handle.PersonaID)
	}
}

func TestGetUnknownPersona(t *testing.T) {
	t.Parallel()

	p := New(newStore(t, 2), func(persona.Config) (contracts.Backend, error) {
		return &fakeBackend{}, nil
	}, health.NewTracker(health.Config{}, nil), nil)
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	if _, err := p.Get("ghost"); !errors.Is(err, apibridge.ErrRuntimeNotFound) {
		t.Fatalf("expected ErrRuntimeNotFound, got %v", err)
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	backends := make([]*fakeBackend, 0, 4)
	p := New(newStore(t, 4), func(persona.Config) (contracts.Backend, error) {
		b := &fakeBackend{}
		mu.Lock()
		backends = append(backends, b)
		mu.Unlock()
		return b, nil
	}, health.NewTracker(health.Config{}, nil), nil)
	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	p.Shutdown()
	p.Shutdown()

	for i, b := range backends {
		if got := b.closes.Load(); got != 1 {
			t.Fatalf("backend %d closed %d times, want exactly once", i, got)
		}
	}
}

func TestInitializeFailsWhenStoreEmpty(t *testing.T) {
	t.Parallel()

	store, err := persona.NewStaticStore()
	if err != nil {
		t.Fatalf("build store: %v", err)
	}
	p := New(store, func(persona.Config) (contracts.Backend, error) {
		return &fakeBackend{}, nil
	}, health.NewTracker(health.Config{}, nil), nil)
	if err := p.Initialize(context.Background()); err == nil {
		t.Fatal("expected error for empty persona store")
	}
}
