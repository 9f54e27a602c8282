package analysis

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/vigilsec/vigil/pkg/patterns"
)

// Reference task names. Dependent tasks refer to these in Requires.
const (
	TaskKeywordScan      = "keyword_scan"
	TaskObfuscationProbe = "obfuscation_probe"
	TaskCounterpartScan  = "counterpart_scan"
	TaskSynthesis        = "synthesis"
	TaskExplainability   = "explainability"
	TaskIntervention     = "intervention"
)

// DefaultRegistry returns a registry populated with the built-in analysis
// tasks: three independent scanners followed by three dependent passes that
// combine their outputs.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.MustRegister(Task{Name: TaskKeywordScan, Phase: PhaseIndependent, Run: runKeywordScan})
	r.MustRegister(Task{Name: TaskObfuscationProbe, Phase: PhaseIndependent, Run: runObfuscationProbe})
	r.MustRegister(Task{Name: TaskCounterpartScan, Phase: PhaseIndependent, Run: runCounterpartScan})
	r.MustRegister(Task{
		Name:     TaskSynthesis,
		Phase:    PhaseDependent,
		Requires: []string{TaskKeywordScan, TaskObfuscationProbe, TaskCounterpartScan},
		Run:      runSynthesis,
	})
	r.MustRegister(Task{
		Name:     TaskExplainability,
		Phase:    PhaseDependent,
		Requires: []string{TaskSynthesis},
		Run:      runExplainability,
	})
	r.MustRegister(Task{
		Name:     TaskIntervention,
		Phase:    PhaseDependent,
		Requires: []string{TaskSynthesis, TaskExplainability},
		Run:      runIntervention,
	})
	return r
}

// normalizeText applies NFKC so homoglyph and width tricks collapse to the
// canonical forms the pattern tables expect.
func normalizeText(s string) string {
	return norm.NFKC.String(s)
}

// scanCategories runs the pattern registry over text and folds the matches
// into a score, flags, and indicators. Score saturates via the complement
// product so many weak matches cannot exceed one strong one unboundedly.
func scanCategories(text string, cats ...patterns.Category) (score float64, flags []string, indicators []Indicator, evidence []Evidence) {
	matched := patterns.Get().MatchAll(text, cats...)
	if len(matched) == 0 {
		return 0, nil, nil, nil
	}

	seen := make(map[string]bool)
	miss := 1.0
	for _, p := range matched {
		miss *= 1.0 - p.Severity
		cat := string(p.Category)
		if !seen[cat] {
			seen[cat] = true
			flags = append(flags, cat)
		}
		indicators = append(indicators, Indicator{Category: cat, Severity: p.Severity})
		evidence = append(evidence, Evidence{
			Type: "pattern_match",
			Data: map[string]any{"pattern": p.Name, "category": cat, "severity": p.Severity},
		})
	}
	sort.Strings(flags)
	return 1.0 - miss, flags, indicators, evidence
}

// runKeywordScan is the primary text scanner: it normalizes the user turn
// and matches it against the content-risk categories.
func runKeywordScan(ctx context.Context, req AnalysisRequest, conv *ConversationContext, prior map[string]ModuleOutput) (ModuleOutput, error) {
	text := normalizeText(req.Text)
	score, flags, indicators, evidence := scanCategories(text,
		patterns.CategoryManipulation,
		patterns.CategorySafetyBypass,
		patterns.CategorySystemCompromise,
		patterns.CategoryCredentialLeak,
		patterns.CategoryDataExtraction,
		patterns.CategoryEscalation,
	)

	confidence := 0.9
	if len(flags) == 0 {
		confidence = 0.8
	}
	out := NewModuleOutput(TaskKeywordScan, score, confidence)
	out.Flags = flags
	out.Evidence = evidence
	if len(indicators) > 0 {
		out.Extra["indicators"] = indicators
	}
	return out, nil
}

// runObfuscationProbe looks for encoded or disguised content. Beyond the
// pattern table it checks whether NFKC normalization itself changed the
// text, which catches fullwidth and compatibility-form smuggling.
func runObfuscationProbe(ctx context.Context, req AnalysisRequest, conv *ConversationContext, prior map[string]ModuleOutput) (ModuleOutput, error) {
	normalized := normalizeText(req.Text)
	score, flags, indicators, evidence := scanCategories(normalized, patterns.CategoryObfuscation)

	if normalized != req.Text {
		score = clamp01(score + 0.3)
		flags = append(flags, "unicode_normalization_delta")
		indicators = append(indicators, Indicator{Category: string(patterns.CategoryObfuscation), Severity: 0.3})
		evidence = append(evidence, Evidence{
			Type: "normalization_delta",
			Data: map[string]any{"original_len": len(req.Text), "normalized_len": len(normalized)},
		})
	}

	out := NewModuleOutput(TaskObfuscationProbe, score, 0.75)
	out.Flags = flags
	out.Evidence = evidence
	if len(indicators) > 0 {
		out.Extra["indicators"] = indicators
	}
	return out, nil
}

// runCounterpartScan scans the counterpart's previous turn for signs it has
// already been steered: leaked credentials, bypass acknowledgements, or
// system-level disclosures. Disabled when no counterpart text is present;
// the aggregator steps the verdict down in that case.
func runCounterpartScan(ctx context.Context, req AnalysisRequest, conv *ConversationContext, prior map[string]ModuleOutput) (ModuleOutput, error) {
	if strings.TrimSpace(req.CounterpartText) == "" {
		out := NewModuleOutput(TaskCounterpartScan, 0, 0)
		out.Status = StatusDisabled
		out.Notes = "no counterpart text"
		return out, nil
	}

	text := normalizeText(req.CounterpartText)
	score, flags, indicators, evidence := scanCategories(text,
		patterns.CategoryCredentialLeak,
		patterns.CategorySafetyBypass,
		patterns.CategorySystemCompromise,
	)

	out := NewModuleOutput(TaskCounterpartScan, score, 0.85)
	out.Flags = flags
	out.Evidence = evidence
	if len(indicators) > 0 {
		out.Extra["indicators"] = indicators
	}
	return out, nil
}

// runSynthesis combines the independent scanner outputs. Agreement between
// scanners raises the score above the plain maximum; conversation history
// with recent threats adds a small boost.
func runSynthesis(ctx context.Context, req AnalysisRequest, conv *ConversationContext, prior map[string]ModuleOutput) (ModuleOutput, error) {
	var maxScore, sum float64
	var n int
	flagSet := make(map[string]bool)
	for _, name := range []string{TaskKeywordScan, TaskObfuscationProbe, TaskCounterpartScan} {
		out, ok := prior[name]
		if !ok || out.Status != StatusOk {
			continue
		}
		if out.Score > maxScore {
			maxScore = out.Score
		}
		sum += out.Score
		n++
		for _, f := range out.Flags {
			flagSet[f] = true
		}
	}

	score := maxScore
	if n > 1 {
		// Corroboration: pull a quarter of the way from max toward the sum.
		score = clamp01(maxScore + 0.25*(sum-maxScore))
	}
	if conv != nil && conv.RecentThreatCount > 0 && score > 0 {
		score = clamp01(score + 0.05*float64(conv.RecentThreatCount))
		flagSet["repeat_offender_session"] = true
	}

	flags := make([]string, 0, len(flagSet))
	for f := range flagSet {
		flags = append(flags, f)
	}
	sort.Strings(flags)

	out := NewModuleOutput(TaskSynthesis, score, 0.9)
	out.Flags = flags
	return out, nil
}

// runExplainability assembles a human-readable account of why the turn
// scored the way it did. It contributes no score of its own.
func runExplainability(ctx context.Context, req AnalysisRequest, conv *ConversationContext, prior map[string]ModuleOutput) (ModuleOutput, error) {
	synth, ok := prior[TaskSynthesis]
	if !ok {
		return ModuleOutput{}, fmt.Errorf("synthesis output missing")
	}

	reasons := make([]string, 0, 4)
	names := make([]string, 0, len(prior))
	for name := range prior {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		p := prior[name]
		if p.Status != StatusOk || p.Score == 0 {
			continue
		}
		if len(p.Flags) > 0 {
			reasons = append(reasons, fmt.Sprintf("%s scored %.2f (%s)", name, p.Score, strings.Join(p.Flags, ", ")))
		} else {
			reasons = append(reasons, fmt.Sprintf("%s scored %.2f", name, p.Score))
		}
	}
	if len(reasons) == 0 {
		reasons = append(reasons, "no risk signals detected")
	}

	out := NewModuleOutput(TaskExplainability, 0, 1.0)
	out.Extra["summary"] = fmt.Sprintf("combined risk %.2f across %d signals", synth.Score, len(reasons))
	out.Extra["reasons"] = reasons
	return out, nil
}

// runIntervention recommends a handling hint for downstream consumers based
// on the synthesized score. The hint is advisory; the authoritative action
// comes from the aggregation and adjustment stages.
func runIntervention(ctx context.Context, req AnalysisRequest, conv *ConversationContext, prior map[string]ModuleOutput) (ModuleOutput, error) {
	synth, ok := prior[TaskSynthesis]
	if !ok {
		return ModuleOutput{}, fmt.Errorf("synthesis output missing")
	}

	var hint string
	switch {
	case synth.Score >= 0.8:
		hint = "terminate_session"
	case synth.Score >= 0.6:
		hint = "block_turn"
	case synth.Score >= 0.4:
		hint = "inject_warning"
	case synth.Score >= 0.2:
		hint = "watch_closely"
	default:
		hint = "none"
	}

	out := NewModuleOutput(TaskIntervention, 0, 1.0)
	out.Extra["hint"] = hint
	if expl, ok := prior[TaskExplainability]; ok && expl.Status == StatusOk {
		if summary, ok := expl.Extra["summary"].(string); ok {
			out.Extra["context"] = summary
		}
	}
	return out, nil
}
