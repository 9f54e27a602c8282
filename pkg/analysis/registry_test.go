package analysis

import (
	"context"
	"errors"
	"testing"
)

func noopTask(ctx context.Context, req AnalysisRequest, conv *ConversationContext, prior map[string]ModuleOutput) (ModuleOutput, error) {
	return NewModuleOutput("noop", 0, 1), nil
}

func TestRegistryRejectsDuplicateNames(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Task{Name: "scan", Phase: PhaseIndependent, Run: noopTask}); err != nil {
		t.Fatal(err)
	}
	err := r.Register(Task{Name: "scan", Phase: PhaseIndependent, Run: noopTask})
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("duplicate registration: got %v, want ErrConfiguration", err)
	}
}

func TestRegistryRejectsMissingFields(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Task{Phase: PhaseIndependent, Run: noopTask}); !errors.Is(err, ErrConfiguration) {
		t.Errorf("missing name: got %v, want ErrConfiguration", err)
	}
	if err := r.Register(Task{Name: "norun", Phase: PhaseIndependent}); !errors.Is(err, ErrConfiguration) {
		t.Errorf("missing run func: got %v, want ErrConfiguration", err)
	}
}

func TestRegistryRejectsIndependentWithDependencies(t *testing.T) {
	r := NewRegistry()
	err := r.Register(Task{Name: "scan", Phase: PhaseIndependent, Requires: []string{"other"}, Run: noopTask})
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("independent with requires: got %v, want ErrConfiguration", err)
	}
}

func TestRegistryValidateUnknownDependency(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Task{Name: "scan", Phase: PhaseIndependent, Run: noopTask})
	r.MustRegister(Task{Name: "combine", Phase: PhaseDependent, Requires: []string{"missing"}, Run: noopTask})
	if err := r.Validate(); !errors.Is(err, ErrConfiguration) {
		t.Errorf("unknown dependency: got %v, want ErrConfiguration", err)
	}
}

func TestRegistryValidateDependentChain(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Task{Name: "scan", Phase: PhaseIndependent, Run: noopTask})
	r.MustRegister(Task{Name: "combine", Phase: PhaseDependent, Requires: []string{"scan"}, Run: noopTask})
	r.MustRegister(Task{Name: "explain", Phase: PhaseDependent, Requires: []string{"combine"}, Run: noopTask})
	if err := r.Validate(); err != nil {
		t.Errorf("valid chain: unexpected error %v", err)
	}
}

func TestRegistryValidateRejectsForwardDependentReference(t *testing.T) {
	// "explain" runs before "combine" in declared order, so it must not be
	// able to require it.
	r := NewRegistry()
	r.MustRegister(Task{Name: "scan", Phase: PhaseIndependent, Run: noopTask})
	r.MustRegister(Task{Name: "explain", Phase: PhaseDependent, Requires: []string{"combine"}, Run: noopTask})
	r.MustRegister(Task{Name: "combine", Phase: PhaseDependent, Requires: []string{"scan"}, Run: noopTask})
	if err := r.Validate(); !errors.Is(err, ErrConfiguration) {
		t.Errorf("forward reference: got %v, want ErrConfiguration", err)
	}
}

func TestRegistryMustRegisterPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic from MustRegister on invalid task")
		}
	}()
	NewRegistry().MustRegister(Task{Name: ""})
}

func TestRegistryPhasePartition(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Task{Name: "a", Phase: PhaseIndependent, Run: noopTask})
	r.MustRegister(Task{Name: "b", Phase: PhaseDependent, Requires: []string{"a"}, Run: noopTask})
	r.MustRegister(Task{Name: "c", Phase: PhaseIndependent, Run: noopTask})

	if got := len(r.Independent()); got != 2 {
		t.Errorf("independent count = %d, want 2", got)
	}
	if got := len(r.Dependent()); got != 1 {
		t.Errorf("dependent count = %d, want 1", got)
	}
	if r.Len() != 3 {
		t.Errorf("Len = %d, want 3", r.Len())
	}
}
