// Package analysis implements the conversational risk analysis engine:
// task orchestration with dependency phases, a bounded TTL verdict cache,
// weighted risk aggregation, and baseline-driven false-positive reduction.
package analysis

import (
	"fmt"
	"strings"
	"time"
)

// Escalation is the ordinal severity classification assigned to a verdict.
type Escalation int

const (
	EscalationNone Escalation = iota
	EscalationLow
	EscalationMedium
	EscalationHigh
	EscalationCritical
)

var escalationNames = [...]string{"NONE", "LOW", "MEDIUM", "HIGH", "CRITICAL"}

func (e Escalation) String() string {
	if e < EscalationNone || e > EscalationCritical {
		return "UNKNOWN"
	}
	return escalationNames[e]
}

// StepDown lowers the escalation by exactly one band, floored at None.
// Applied when no counterpart response was present: one-sided interactions
// carry inherently lower confirmed risk.
func (e Escalation) StepDown() Escalation {
	if e <= EscalationNone {
		return EscalationNone
	}
	return e - 1
}

// Action is the recommended handling for a scored turn.
type Action string

const (
	ActionMonitor         Action = "monitor"
	ActionEnhancedMonitor Action = "enhanced_monitor"
	ActionAlertAndBlock   Action = "alert_and_block"
	ActionImmediateBlock  Action = "immediate_block"
)

// actionForEscalation maps a final escalation level to its default action.
func actionForEscalation(e Escalation) Action {
	switch e {
	case EscalationCritical:
		return ActionImmediateBlock
	case EscalationHigh:
		return ActionAlertAndBlock
	case EscalationMedium, EscalationLow:
		return ActionEnhancedMonitor
	default:
		return ActionMonitor
	}
}

// Status tags a module output so the orchestrator's barrier logic never
// needs error handling to detect normal degraded states.
type Status string

const (
	StatusOk       Status = "ok"
	StatusDisabled Status = "disabled"
	StatusDegraded Status = "degraded"
)

// Evidence is a single piece of supporting material attached to a module
// output, in the order the task produced it.
type Evidence struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// ModuleOutput is the uniform result shape every analysis task produces.
// It is created exactly once per task per request and never mutated after;
// downstream stages read-copy it. Module-specific detail belongs in Extra,
// never in new top-level fields.
type ModuleOutput struct {
	ModuleName        string         `json:"module_name"`
	Score             float64        `json:"score"`      // 0.0 = benign, 1.0 = confirmed threat
	Confidence        float64        `json:"confidence"` // How much the task trusts its own score
	Status            Status         `json:"status"`
	Flags             []string       `json:"flags,omitempty"`
	Evidence          []Evidence     `json:"evidence,omitempty"`
	Notes             string         `json:"notes,omitempty"`
	RecommendedAction Action         `json:"recommended_action"`
	Extra             map[string]any `json:"extra,omitempty"`
}

// NewModuleOutput creates an Ok output with score and confidence clamped
// to [0,1].
func NewModuleOutput(name string, score, confidence float64) ModuleOutput {
	return ModuleOutput{
		ModuleName:        name,
		Score:             clamp01(score),
		Confidence:        clamp01(confidence),
		Status:            StatusOk,
		RecommendedAction: ActionMonitor,
		Extra:             make(map[string]any),
	}
}

// DegradedOutput is the synthetic zero-confidence result substituted when a
// task fails, panics, or times out. It never aborts the request.
func DegradedOutput(name string, reason string) ModuleOutput {
	return ModuleOutput{
		ModuleName:        name,
		Score:             0,
		Confidence:        0,
		Status:            StatusDegraded,
		Flags:             []string{"analysis_error"},
		Notes:             reason,
		RecommendedAction: ActionMonitor,
	}
}

// HasFlag reports whether the output carries the given flag.
func (m ModuleOutput) HasFlag(flag string) bool {
	for _, f := range m.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// AnalysisRequest is one conversational turn to assess. Immutable once
// constructed.
type AnalysisRequest struct {
	Text            string    `json:"text"`
	CounterpartText string    `json:"counterpart_text,omitempty"`
	SessionID       string    `json:"session_id"`
	IdentityID      string    `json:"identity_id,omitempty"`
	Source          string    `json:"source,omitempty"` // Originating channel, e.g. "chat", "email"
	ReceivedAt      time.Time `json:"received_at"`
}

// Validate rejects malformed requests before orchestration begins. This is
// the only per-request failure surfaced to callers as an error.
func (r AnalysisRequest) Validate() error {
	var missing []string
	if strings.TrimSpace(r.Text) == "" {
		missing = append(missing, "text")
	}
	if strings.TrimSpace(r.SessionID) == "" {
		missing = append(missing, "session_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}
	return nil
}

// ConversationContext is a read-only snapshot of session history, built once
// per request and shared by reference across all concurrent tasks. Tasks
// must never write to it.
type ConversationContext struct {
	TotalMessages          int     `json:"total_messages"`
	UserMessages           int     `json:"user_messages"`
	CounterpartMessages    int     `json:"counterpart_messages"`
	RecentThreatCount      int     `json:"recent_threat_count"`
	SessionDurationSeconds float64 `json:"session_duration_seconds"`
}

// AnalysisVerdict is the single scored, explainable result for one request.
// Constructed only after every phase-1 task has returned (success or
// degraded); cached and immutable.
type AnalysisVerdict struct {
	ID                 string                  `json:"id"`
	RequestHash        uint64                  `json:"request_hash"`
	ModuleOutputs      map[string]ModuleOutput `json:"module_outputs"`
	AggregateScore     float64                 `json:"aggregate_score"`
	Escalation         Escalation              `json:"escalation"`
	AdjustedConfidence float64                 `json:"adjusted_confidence"`
	FinalAction        Action                  `json:"final_action"`
	Filtered           bool                    `json:"filtered"`     // Suppressed from alerting, not deleted
	NeedsReview        bool                    `json:"needs_review"` // Queued for human review
	ComputedAt         time.Time               `json:"computed_at"`
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
