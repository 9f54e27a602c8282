package analysis

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"gopkg.in/yaml.v3"

	"github.com/vigilsec/vigil/pkg/config"
)

// RuleAction is what a matching context filter rule asks for. Each action
// maps to a fixed dampening factor on the context factor.
type RuleAction string

const (
	RuleAllow  RuleAction = "allow"  // Operator vouches for this shape: strong dampening (x0.5)
	RuleReview RuleAction = "review" // Route to a human: mild dampening (x0.8)
	RuleBlock  RuleAction = "block"  // Known-noisy source: near-total dampening (x0.1)
)

var ruleFactors = map[RuleAction]float64{
	RuleAllow:  0.5,
	RuleReview: 0.8,
	RuleBlock:  0.1,
}

// FilterRule is one user-configurable context filter. Field selects a
// request attribute, Comparator how to match it.
type FilterRule struct {
	Field      string     `yaml:"field"`      // text, source, session_id, identity_id
	Comparator string     `yaml:"comparator"` // contains, equals, prefix
	Value      string     `yaml:"value"`
	Action     RuleAction `yaml:"action"`
}

// Matches reports whether the rule applies to the request.
func (r FilterRule) Matches(req AnalysisRequest) bool {
	var subject string
	switch r.Field {
	case "text":
		subject = req.Text
	case "source":
		subject = req.Source
	case "session_id":
		subject = req.SessionID
	case "identity_id":
		subject = req.IdentityID
	default:
		return false
	}

	switch r.Comparator {
	case "equals":
		return subject == r.Value
	case "prefix":
		return strings.HasPrefix(subject, r.Value)
	case "contains":
		return strings.Contains(subject, r.Value)
	default:
		return false
	}
}

// LoadFilterRules reads context filter rules from a YAML file. A missing
// path yields no rules; a malformed file is a configuration error.
func LoadFilterRules(path string) ([]FilterRule, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: filter rules: %v", ErrConfiguration, err)
	}
	var doc struct {
		Rules []FilterRule `yaml:"rules"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: filter rules: %v", ErrConfiguration, err)
	}
	for i, r := range doc.Rules {
		if _, ok := ruleFactors[r.Action]; !ok {
			return nil, fmt.Errorf("%w: filter rule %d has unknown action %q", ErrConfiguration, i, r.Action)
		}
	}
	return doc.Rules, nil
}

// PatternHistory memoizes confidence for previously confirmed-benign signal
// combinations. Each recurrence of the same (category, source, escalation)
// pattern adds a fixed increment, capped at 1.0, so repeated benign shapes
// are dampened progressively harder.
type PatternHistory struct {
	mu        sync.Mutex
	patterns  map[uint64]float64
	increment float64
}

// NewPatternHistory creates an empty history with the given per-recurrence
// increment.
func NewPatternHistory(increment float64) *PatternHistory {
	if increment <= 0 {
		increment = 0.05
	}
	return &PatternHistory{
		patterns:  make(map[uint64]float64),
		increment: increment,
	}
}

// PatternKey hashes the signal combination looked up against the history.
func PatternKey(category, source string, esc Escalation) uint64 {
	var d xxhash.Digest
	d.Reset()
	_, _ = d.WriteString(category)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(source)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(esc.String())
	return d.Sum64()
}

// Confidence returns the accumulated benign confidence for the pattern,
// zero if never seen.
func (p *PatternHistory) Confidence(key uint64) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.patterns[key]
}

// Mark records one more benign recurrence of the pattern.
func (p *PatternHistory) Mark(key uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := p.patterns[key] + p.increment
	if c > 1.0 {
		c = 1.0
	}
	p.patterns[key] = c
}

// Adjuster is the false-positive-reduction layer. It combines four
// dampening factors (context rules, baseline deviation, pattern history,
// module confidence) into an adjusted confidence, then marks the verdict
// filtered or review-bound accordingly.
type Adjuster struct {
	weights         config.AdjusterWeights
	filterThreshold float64
	reviewThreshold float64
	rules           []FilterRule
	baselines       *BaselineStore
	patterns        *PatternHistory
}

// NewAdjuster wires the adjuster to its stores. rules may be nil.
func NewAdjuster(cfg *config.Config, baselines *BaselineStore, patterns *PatternHistory, rules []FilterRule) *Adjuster {
	return &Adjuster{
		weights:         cfg.Weights,
		filterThreshold: cfg.FilterThreshold,
		reviewThreshold: cfg.ReviewThreshold,
		rules:           rules,
		baselines:       baselines,
		patterns:        patterns,
	}
}

// Adjust returns a new verdict with updated adjusted confidence, filtering
// marks, and final action. The input verdict is never mutated. After
// adjustment the identity baseline and pattern history are updated on
// every request, including filtered ones.
func (a *Adjuster) Adjust(verdict AnalysisVerdict, req AnalysisRequest) AnalysisVerdict {
	category := verdictCategory(verdict)

	contextFactor := a.contextFactor(req)
	baselineFactor := a.baselineFactor(req, verdict.Escalation)
	patternKey := PatternKey(category, req.Source, verdict.Escalation)
	patternFactor := a.patternFactor(patternKey)
	moduleFactor := moduleConfidenceFactor(verdict.ModuleOutputs)

	w := a.weights
	combined := w.Context*contextFactor +
		w.Baseline*baselineFactor +
		w.PatternHistory*patternFactor +
		w.ModuleConfidence*moduleFactor

	adjusted := verdict // Shallow copy; module outputs are immutable by contract
	adjusted.AdjustedConfidence = clamp01(combined)

	switch {
	case adjusted.AdjustedConfidence < a.filterThreshold:
		// Suppressed from alerting but retained for audit.
		adjusted.Filtered = true
		adjusted.FinalAction = ActionMonitor
	case adjusted.AdjustedConfidence < a.reviewThreshold:
		adjusted.NeedsReview = true
		if adjusted.Escalation > EscalationMedium {
			adjusted.Escalation = EscalationMedium
		}
		adjusted.FinalAction = actionForEscalation(adjusted.Escalation)
	default:
		adjusted.FinalAction = actionForEscalation(adjusted.Escalation)
	}

	a.recordOutcome(req, adjusted, patternKey)
	return adjusted
}

// contextFactor applies user-configured filter rules multiplicatively.
func (a *Adjuster) contextFactor(req AnalysisRequest) float64 {
	factor := 1.0
	for _, rule := range a.rules {
		if rule.Matches(req) {
			factor *= ruleFactors[rule.Action]
		}
	}
	return factor
}

// baselineFactor scales down when the request deviates strongly from the
// identity's baseline, or when the escalation level is historically rare
// (<5%) for that identity. No identity or no history means neutral 1.0.
func (a *Adjuster) baselineFactor(req AnalysisRequest, esc Escalation) float64 {
	if a.baselines == nil || req.IdentityID == "" {
		return 1.0
	}
	baseline, ok := a.baselines.Snapshot(req.IdentityID)
	if !ok || baseline.TotalObservations == 0 {
		return 1.0
	}

	factor := 1.0
	msgLen := float64(len(req.Text))
	if baseline.AvgMessageLength > 0 {
		ratio := msgLen / baseline.AvgMessageLength
		if ratio > 3.0 || ratio < 1.0/3.0 {
			factor *= 0.7
		}
	}
	if req.Source != "" && !baseline.SeenSources[req.Source] {
		factor *= 0.8
	}
	// Rare escalation levels for this identity need at least some history
	// to be meaningful.
	if baseline.TotalObservations >= 20 && baseline.frequency(esc) < 0.05 {
		factor *= 0.6
	}
	return factor
}

// patternFactor dampens proportionally to the pattern's accumulated benign
// confidence: a pattern confirmed benign many times approaches x0.5.
func (a *Adjuster) patternFactor(key uint64) float64 {
	if a.patterns == nil {
		return 1.0
	}
	return 1.0 - 0.5*a.patterns.Confidence(key)
}

// moduleConfidenceFactor is the mean self-reported confidence of the Ok
// outputs, neutral when nothing completed.
func moduleConfidenceFactor(outputs map[string]ModuleOutput) float64 {
	var sum float64
	var n int
	for _, out := range outputs {
		if out.Status != StatusOk {
			continue
		}
		sum += out.Confidence
		n++
	}
	if n == 0 {
		return 1.0
	}
	return sum / float64(n)
}

// recordOutcome performs the unconditional post-adjustment updates: baseline
// smoothing and, for benign outcomes, pattern-history reinforcement.
func (a *Adjuster) recordOutcome(req AnalysisRequest, verdict AnalysisVerdict, patternKey uint64) {
	if a.baselines != nil {
		a.baselines.Observe(req.IdentityID, len(req.Text), req.Source, verdict.Escalation)
	}
	if a.patterns != nil && verdict.Escalation <= EscalationLow {
		a.patterns.Mark(patternKey)
	}
}

// verdictCategory picks the category used for pattern-history lookups: the
// highest-scoring Ok module's first flag when it raised one, otherwise that
// module's name. Ties break on module name so keys stay stable.
func verdictCategory(verdict AnalysisVerdict) string {
	names := make([]string, 0, len(verdict.ModuleOutputs))
	for name := range verdict.ModuleOutputs {
		names = append(names, name)
	}
	sort.Strings(names)

	category := "none"
	bestScore := -1.0
	for _, name := range names {
		out := verdict.ModuleOutputs[name]
		if out.Status != StatusOk || out.Score <= bestScore {
			continue
		}
		bestScore = out.Score
		if len(out.Flags) > 0 {
			category = out.Flags[0]
		} else {
			category = name
		}
	}
	return category
}
