package analysis

import (
	"context"
	"fmt"
)

// Phase determines when a task runs relative to its peers.
type Phase int

const (
	// PhaseIndependent tasks read only the request and conversation context
	// and run in parallel with each other on the worker pool.
	PhaseIndependent Phase = iota
	// PhaseDependent tasks consume the accumulated output map and run
	// sequentially, in declared order, after the independent barrier.
	PhaseDependent
)

func (p Phase) String() string {
	if p == PhaseDependent {
		return "dependent"
	}
	return "independent"
}

// TaskFunc is the uniform contract every analysis task implements. prior is
// nil for independent tasks; dependent tasks receive every output produced
// so far (independent outputs plus earlier dependent outputs). A task may
// call external services, but must fold failures into its error return
// rather than panic across the orchestrator boundary (the orchestrator
// recovers anyway, substituting a degraded output).
type TaskFunc func(ctx context.Context, req AnalysisRequest, conv *ConversationContext, prior map[string]ModuleOutput) (ModuleOutput, error)

// Task describes one registered analysis task.
type Task struct {
	Name     string
	Phase    Phase
	Requires []string // Module names a dependent task reads; empty for independent tasks
	Run      TaskFunc
	Disabled bool // Disabled tasks yield a Status=Disabled output without running
}

// Registry holds the ordered task list. Construct it at startup, call
// Validate, then treat it as read-only; it is not safe to register tasks
// while requests are in flight.
type Registry struct {
	tasks []Task
	byName map[string]int
}

// NewRegistry creates an empty task registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]int)}
}

// Register appends a task descriptor. Order matters for dependent tasks:
// they execute in registration order.
func (r *Registry) Register(t Task) error {
	if t.Name == "" {
		return fmt.Errorf("%w: task name is required", ErrConfiguration)
	}
	if t.Run == nil {
		return fmt.Errorf("%w: task %q has no run function", ErrConfiguration, t.Name)
	}
	if _, dup := r.byName[t.Name]; dup {
		return fmt.Errorf("%w: duplicate task %q", ErrConfiguration, t.Name)
	}
	if t.Phase == PhaseIndependent && len(t.Requires) > 0 {
		return fmt.Errorf("%w: independent task %q declares dependencies", ErrConfiguration, t.Name)
	}
	r.byName[t.Name] = len(r.tasks)
	r.tasks = append(r.tasks, t)
	return nil
}

// MustRegister registers a task and panics on configuration error. Intended
// for startup wiring where a bad registry should abort the process.
func (r *Registry) MustRegister(t Task) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Validate checks the dependency graph: every name a dependent task requires
// must be provided by the independent phase or by an earlier dependent task.
// This is a startup-time invariant; a registry that fails validation must
// never serve requests.
func (r *Registry) Validate() error {
	available := make(map[string]bool, len(r.tasks))
	for _, t := range r.tasks {
		if t.Phase == PhaseIndependent {
			available[t.Name] = true
		}
	}
	for _, t := range r.tasks {
		if t.Phase != PhaseDependent {
			continue
		}
		for _, dep := range t.Requires {
			if !available[dep] {
				return fmt.Errorf("%w: task %q requires %q which is not available before it",
					ErrConfiguration, t.Name, dep)
			}
		}
		// Later dependent tasks may read this one's output.
		available[t.Name] = true
	}
	return nil
}

// Independent returns the independent-phase tasks in registration order.
func (r *Registry) Independent() []Task {
	return r.phase(PhaseIndependent)
}

// Dependent returns the dependent-phase tasks in registration order.
func (r *Registry) Dependent() []Task {
	return r.phase(PhaseDependent)
}

func (r *Registry) phase(p Phase) []Task {
	out := make([]Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		if t.Phase == p {
			out = append(out, t)
		}
	}
	return out
}

// Len returns the total number of registered tasks.
func (r *Registry) Len() int {
	return len(r.tasks)
}
