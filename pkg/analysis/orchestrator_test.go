package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vigilsec/vigil/pkg/httputil"
)

func scoreTask(name string, score float64) Task {
	return Task{
		Name:  name,
		Phase: PhaseIndependent,
		Run: func(ctx context.Context, req AnalysisRequest, conv *ConversationContext, prior map[string]ModuleOutput) (ModuleOutput, error) {
			return NewModuleOutput(name, score, 0.9), nil
		},
	}
}

func testRequest() AnalysisRequest {
	return AnalysisRequest{Text: "hello", SessionID: "s1"}
}

func TestOrchestratorCollectsAllOutputs(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(scoreTask("a", 0.2))
	r.MustRegister(scoreTask("b", 0.4))
	r.MustRegister(scoreTask("c", 0.6))

	o, err := NewOrchestrator(r, nil, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	outputs := o.Run(context.Background(), testRequest(), nil)
	if len(outputs) != 3 {
		t.Fatalf("outputs = %d, want 3", len(outputs))
	}
	for _, name := range []string{"a", "b", "c"} {
		out, ok := outputs[name]
		if !ok {
			t.Fatalf("missing output for %s", name)
		}
		if out.Status != StatusOk {
			t.Errorf("%s status = %s, want ok", name, out.Status)
		}
	}
}

func TestOrchestratorDegradesFailedTask(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(scoreTask("good", 0.5))
	r.MustRegister(Task{
		Name:  "bad",
		Phase: PhaseIndependent,
		Run: func(ctx context.Context, req AnalysisRequest, conv *ConversationContext, prior map[string]ModuleOutput) (ModuleOutput, error) {
			return ModuleOutput{}, errors.New("upstream unavailable")
		},
	})

	o, _ := NewOrchestrator(r, nil, time.Second)
	outputs := o.Run(context.Background(), testRequest(), nil)

	bad := outputs["bad"]
	if bad.Status != StatusDegraded {
		t.Errorf("status = %s, want degraded", bad.Status)
	}
	if bad.Score != 0 || bad.Confidence != 0 {
		t.Errorf("degraded output carries score=%v confidence=%v, want zeros", bad.Score, bad.Confidence)
	}
	if !bad.HasFlag("analysis_error") {
		t.Error("degraded output missing analysis_error flag")
	}
	if outputs["good"].Status != StatusOk {
		t.Error("failure of one task affected another")
	}
}

func TestOrchestratorRecoversPanic(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Task{
		Name:  "panicky",
		Phase: PhaseIndependent,
		Run: func(ctx context.Context, req AnalysisRequest, conv *ConversationContext, prior map[string]ModuleOutput) (ModuleOutput, error) {
			panic("boom")
		},
	})

	o, _ := NewOrchestrator(r, nil, time.Second)
	outputs := o.Run(context.Background(), testRequest(), nil)
	if outputs["panicky"].Status != StatusDegraded {
		t.Errorf("status = %s, want degraded", outputs["panicky"].Status)
	}
}

func TestOrchestratorEnforcesTaskDeadline(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Task{
		Name:  "slow",
		Phase: PhaseIndependent,
		Run: func(ctx context.Context, req AnalysisRequest, conv *ConversationContext, prior map[string]ModuleOutput) (ModuleOutput, error) {
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
			}
			return NewModuleOutput("slow", 0.9, 0.9), nil
		},
	})
	r.MustRegister(scoreTask("fast", 0.1))

	o, _ := NewOrchestrator(r, nil, 50*time.Millisecond)
	start := time.Now()
	outputs := o.Run(context.Background(), testRequest(), nil)
	elapsed := time.Since(start)

	if elapsed > time.Second {
		t.Errorf("Run took %v, slow task should be abandoned at its deadline", elapsed)
	}
	if outputs["slow"].Status != StatusDegraded {
		t.Errorf("slow status = %s, want degraded", outputs["slow"].Status)
	}
	if outputs["fast"].Status != StatusOk {
		t.Error("fast task should be unaffected by slow peer")
	}
}

func TestOrchestratorDisabledTask(t *testing.T) {
	r := NewRegistry()
	tsk := scoreTask("off", 0.9)
	tsk.Disabled = true
	r.MustRegister(tsk)

	o, _ := NewOrchestrator(r, nil, time.Second)
	outputs := o.Run(context.Background(), testRequest(), nil)
	if outputs["off"].Status != StatusDisabled {
		t.Errorf("status = %s, want disabled", outputs["off"].Status)
	}
}

func TestOrchestratorDependentSeesIndependentOutputs(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(scoreTask("a", 0.3))
	r.MustRegister(scoreTask("b", 0.7))
	r.MustRegister(Task{
		Name:     "combine",
		Phase:    PhaseDependent,
		Requires: []string{"a", "b"},
		Run: func(ctx context.Context, req AnalysisRequest, conv *ConversationContext, prior map[string]ModuleOutput) (ModuleOutput, error) {
			if len(prior) != 2 {
				return ModuleOutput{}, fmt.Errorf("prior has %d outputs, want 2", len(prior))
			}
			return NewModuleOutput("combine", (prior["a"].Score+prior["b"].Score)/2, 1), nil
		},
	})

	o, _ := NewOrchestrator(r, nil, time.Second)
	outputs := o.Run(context.Background(), testRequest(), nil)

	combine := outputs["combine"]
	if combine.Status != StatusOk {
		t.Fatalf("combine degraded: %s", combine.Notes)
	}
	if combine.Score != 0.5 {
		t.Errorf("combine score = %v, want 0.5", combine.Score)
	}
}

func TestOrchestratorDependentOrderAndVisibility(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	r := NewRegistry()
	r.MustRegister(scoreTask("scan", 0.2))
	r.MustRegister(Task{
		Name:     "first",
		Phase:    PhaseDependent,
		Requires: []string{"scan"},
		Run: func(ctx context.Context, req AnalysisRequest, conv *ConversationContext, prior map[string]ModuleOutput) (ModuleOutput, error) {
			record("first")
			return NewModuleOutput("first", 0.4, 1), nil
		},
	})
	r.MustRegister(Task{
		Name:     "second",
		Phase:    PhaseDependent,
		Requires: []string{"first"},
		Run: func(ctx context.Context, req AnalysisRequest, conv *ConversationContext, prior map[string]ModuleOutput) (ModuleOutput, error) {
			record("second")
			if _, ok := prior["first"]; !ok {
				return ModuleOutput{}, errors.New("earlier dependent output not visible")
			}
			return NewModuleOutput("second", 0, 1), nil
		},
	})

	o, _ := NewOrchestrator(r, nil, time.Second)
	outputs := o.Run(context.Background(), testRequest(), nil)
	if outputs["second"].Status != StatusOk {
		t.Fatalf("second degraded: %s", outputs["second"].Notes)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("dependent order = %v, want [first second]", order)
	}
}

func TestOrchestratorSanitizesOutOfRangeScores(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Task{
		Name:  "wild",
		Phase: PhaseIndependent,
		Run: func(ctx context.Context, req AnalysisRequest, conv *ConversationContext, prior map[string]ModuleOutput) (ModuleOutput, error) {
			return ModuleOutput{ModuleName: "imposter", Score: 42, Confidence: -3}, nil
		},
	})

	o, _ := NewOrchestrator(r, nil, time.Second)
	outputs := o.Run(context.Background(), testRequest(), nil)

	out, ok := outputs["wild"]
	if !ok {
		t.Fatal("output keyed by task name, not the name the task claimed")
	}
	if out.Score != 1 || out.Confidence != 0 {
		t.Errorf("score=%v confidence=%v, want clamped to 1 and 0", out.Score, out.Confidence)
	}
}

func TestOrchestratorSharedPoolBoundsConcurrency(t *testing.T) {
	pool := httputil.NewSemaphore(2)

	var mu sync.Mutex
	var running, peak int

	r := NewRegistry()
	for i := 0; i < 6; i++ {
		name := fmt.Sprintf("task%d", i)
		r.MustRegister(Task{
			Name:  name,
			Phase: PhaseIndependent,
			Run: func(ctx context.Context, req AnalysisRequest, conv *ConversationContext, prior map[string]ModuleOutput) (ModuleOutput, error) {
				mu.Lock()
				running++
				if running > peak {
					peak = running
				}
				mu.Unlock()

				time.Sleep(10 * time.Millisecond)

				mu.Lock()
				running--
				mu.Unlock()
				return NewModuleOutput(name, 0.1, 1), nil
			},
		})
	}

	o, _ := NewOrchestrator(r, pool, time.Second)
	o.Run(context.Background(), testRequest(), nil)

	if peak > 2 {
		t.Errorf("peak concurrency = %d, want at most pool size 2", peak)
	}
}
