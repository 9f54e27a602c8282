package analysis

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/vigilsec/vigil/pkg/httputil"
)

// Orchestrator runs registered analysis tasks against one request:
// independent tasks fan out on a bounded, process-wide worker pool; after
// the barrier, dependent tasks run sequentially on the calling goroutine in
// declared order. Partial phase-1 completion is never observable outside
// Run.
type Orchestrator struct {
	registry    *Registry
	pool        *httputil.Semaphore
	taskTimeout time.Duration
}

// NewOrchestrator wires a validated registry to a shared worker pool.
// The pool is shared across concurrent requests so total task concurrency
// stays bounded regardless of request fan-in.
func NewOrchestrator(registry *Registry, pool *httputil.Semaphore, taskTimeout time.Duration) (*Orchestrator, error) {
	if registry == nil {
		return nil, fmt.Errorf("%w: registry is required", ErrConfiguration)
	}
	if err := registry.Validate(); err != nil {
		return nil, err
	}
	if pool == nil {
		pool = httputil.NewSemaphore(8)
	}
	if taskTimeout <= 0 {
		taskTimeout = 10 * time.Second
	}
	return &Orchestrator{
		registry:    registry,
		pool:        pool,
		taskTimeout: taskTimeout,
	}, nil
}

// Run executes both phases and returns the full accumulated output map.
// Every registered task contributes exactly one ModuleOutput; failures and
// timeouts are folded into degraded outputs, never propagated.
func (o *Orchestrator) Run(ctx context.Context, req AnalysisRequest, conv *ConversationContext) map[string]ModuleOutput {
	independent := o.registry.Independent()
	dependent := o.registry.Dependent()
	outputs := make(map[string]ModuleOutput, len(independent)+len(dependent))

	// Phase 1: concurrent fan-out. Each task reports on its own channel so
	// a hung task is abandoned at its deadline without starving the barrier.
	results := make(chan ModuleOutput, len(independent))
	for _, t := range independent {
		go func(t Task) {
			results <- o.runIsolated(ctx, t, req, conv, nil)
		}(t)
	}

	// Barrier: every independent task returns a real or degraded output
	// before any dependent task may start. Hard contract, not an
	// optimization: dependent tasks read the full independent set.
	for range independent {
		out := <-results
		outputs[out.ModuleName] = out
	}

	// Phase 2: sequential, in declared order. Later dependent tasks see
	// earlier dependent outputs, not just the independent set.
	for _, t := range dependent {
		out := o.runIsolated(ctx, t, req, conv, outputs)
		outputs[out.ModuleName] = out
	}

	return outputs
}

// runIsolated executes one task under its own failure boundary: pool
// admission, deadline, and panic recovery. The returned output is always
// well-formed with score and confidence in [0,1].
func (o *Orchestrator) runIsolated(ctx context.Context, t Task, req AnalysisRequest, conv *ConversationContext, prior map[string]ModuleOutput) ModuleOutput {
	if t.Disabled {
		return ModuleOutput{
			ModuleName:        t.Name,
			Status:            StatusDisabled,
			RecommendedAction: ActionMonitor,
		}
	}

	taskCtx, cancel := context.WithTimeout(ctx, o.taskTimeout)
	defer cancel()

	if err := o.pool.Acquire(taskCtx); err != nil {
		return DegradedOutput(t.Name, "worker pool saturated: "+err.Error())
	}

	// The task runs on its own goroutine so that a hung network call can be
	// abandoned at the deadline. The worker slot is released only when the
	// task actually returns; an abandoned task keeps its slot occupied,
	// which is exactly the backpressure we want.
	done := make(chan ModuleOutput, 1)
	go func() {
		defer o.pool.Release()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[TASK] panic in %s: %v", t.Name, r)
				done <- DegradedOutput(t.Name, fmt.Sprintf("panic: %v", r))
			}
		}()

		out, err := t.Run(taskCtx, req, conv, prior)
		if err != nil {
			done <- DegradedOutput(t.Name, err.Error())
			return
		}
		done <- sanitize(t.Name, out)
	}()

	select {
	case out := <-done:
		return out
	case <-taskCtx.Done():
		// Late results are discarded; the buffered channel lets the
		// abandoned goroutine complete without leaking.
		return DegradedOutput(t.Name, "deadline exceeded after "+o.taskTimeout.String())
	}
}

// sanitize enforces the output contract regardless of what the task
// returned: stable name, clamped ranges, defaulted status and action.
func sanitize(name string, out ModuleOutput) ModuleOutput {
	out.ModuleName = name
	out.Score = clamp01(out.Score)
	out.Confidence = clamp01(out.Confidence)
	if out.Status == "" {
		out.Status = StatusOk
	}
	if out.RecommendedAction == "" {
		out.RecommendedAction = ActionMonitor
	}
	return out
}
