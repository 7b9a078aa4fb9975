package admission

import (
	"errors"
	"testing"
)

func TestControllerGlobalCeiling(t *testing.T) {
	t.Parallel()

	ctrl := NewController(2, 0)
	release1, err := ctrl.Admit("p1")
	if err != nil {
		t.Fatalf("unexpected admit error: %v", err)
	}
	release2, err := ctrl.Admit("p2")
	if err != nil {
		t.Fatalf("unexpected admit error: %v", err)
	}

	if _, err := ctrl.Admit("p3"); !errors.Is(err, ErrSaturated) {
		t.Fatalf("expected ErrSaturated, got %v", err)
	}
	stats := ctrl.Stats()
	if stats.Admitted != 2 || stats.Rejected != 1 || stats.InFlight != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	release1()
	if _, err := ctrl.Admit("p3"); err != nil {
		t.Fatalf("expected slot after release, got %v", err)
	}
	release2()
}

func TestControllerPerPersonaLimit(t *testing.T) {
	t.Parallel()

	ctrl := NewController(8, 1)
	release, err := ctrl.Admit("p1")
	if err != nil {
		t.Fatalf("unexpected admit error: %v", err)
	}

	if _, err := ctrl.Admit("p1"); !errors.Is(err, ErrPersonaSaturated) {
		t.Fatalf("expected ErrPersonaSaturated, got %v", err)
	}
	// Another persona is unaffected by p1's saturation.
	releaseOther, err := ctrl.Admit("p2")
	if err != nil {
		t.Fatalf("expected p2 admission, got %v", err)
	}
	releaseOther()

	release()
	release() // double release must be a no-op
	if _, err := ctrl.Admit("p1"); err != nil {
		t.Fatalf("expected p1 slot after release, got %v", err)
	}

	stats := ctrl.Stats()
	if stats.RejectedByPersona != 1 {
		t.Fatalf("expected one per-persona rejection, got %+v", stats)
	}
}

func TestControllerDoubleReleaseDoesNotLeakSlots(t *testing.T) {
	t.Parallel()

	ctrl := NewController(1, 0)
	release, err := ctrl.Admit("p1")
	if err != nil {
		t.Fatalf("unexpected admit error: %v", err)
	}
	release()
	release()

	if stats := ctrl.Stats(); stats.InFlight != 0 {
		t.Fatalf("expected zero in-flight after release, got %+v", stats)
	}
	r2, err := ctrl.Admit("p1")
	if err != nil {
		t.Fatalf("unexpected admit error: %v", err)
	}
	defer r2()
	if _, err := ctrl.Admit("p1"); !errors.Is(err, ErrSaturated) {
		t.Fatalf("double release must not widen the ceiling, got %v", err)
	}
}
