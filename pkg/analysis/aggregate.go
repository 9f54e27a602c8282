package analysis

import (
	"sort"

	"github.com/vigilsec/vigil/pkg/config"
)

// Indicator is one raw keyword-style hit reported by a task, carried in
// ModuleOutput.Extra under the "indicators" key.
type Indicator struct {
	Category string  `json:"category"`
	Severity float64 `json:"severity"` // 0.0-1.0 raw severity
}

// CollectIndicators gathers indicators from all Ok outputs, in stable
// module-name order.
func CollectIndicators(outputs map[string]ModuleOutput) []Indicator {
	names := make([]string, 0, len(outputs))
	for name := range outputs {
		names = append(names, name)
	}
	sort.Strings(names)

	var all []Indicator
	for _, name := range names {
		out := outputs[name]
		if out.Status != StatusOk {
			continue
		}
		if raw, ok := out.Extra["indicators"]; ok {
			if inds, ok := raw.([]Indicator); ok {
				all = append(all, inds...)
			}
		}
	}
	return all
}

// Aggregator combines module scores and flagged indicators into a single
// numeric score and escalation level.
type Aggregator struct {
	thresholds    config.EscalationThresholds
	categoryCap   float64
	totalCap      float64
	criticalFlags map[string]bool
}

// NewAggregator builds an aggregator from config. The threshold bands and
// the critical flag set are configuration defaults, not load-bearing
// constants; tune them against labeled data.
func NewAggregator(cfg *config.Config) *Aggregator {
	critical := make(map[string]bool, len(cfg.CriticalFlags))
	for _, f := range cfg.CriticalFlags {
		critical[f] = true
	}
	return &Aggregator{
		thresholds:    cfg.Escalation,
		categoryCap:   cfg.IndicatorCategory,
		totalCap:      cfg.IndicatorTotal,
		criticalFlags: critical,
	}
}

// Aggregate computes the verdict score and escalation for one request.
// counterpartPresent reflects whether the request carried a counterpart
// response; its absence steps the escalation down exactly one band.
func (a *Aggregator) Aggregate(outputs map[string]ModuleOutput, indicators []Indicator, counterpartPresent bool) (float64, Escalation) {
	// Mean over Ok outputs only. Degraded and disabled outputs are excluded
	// from the mean, not treated as zero, so partial failure does not
	// systematically suppress the aggregate.
	var sum float64
	var n int
	for _, out := range outputs {
		if out.Status != StatusOk {
			continue
		}
		sum += out.Score
		n++
	}
	score := 0.0
	if n > 0 {
		score = sum / float64(n)
	}

	score += a.indicatorContribution(indicators)
	score = clamp01(score)

	esc := a.band(score)
	if !counterpartPresent {
		esc = esc.StepDown()
	}

	// Hard override: a critical-category flag from any module raises the
	// escalation to at least High regardless of the numeric score.
	if a.hasCriticalFlag(outputs) && esc < EscalationHigh {
		esc = EscalationHigh
	}

	return score, esc
}

// indicatorContribution sums raw severities with a per-category cap so no
// single indicator category can dominate, and an overall cap on the
// additive term.
func (a *Aggregator) indicatorContribution(indicators []Indicator) float64 {
	perCategory := make(map[string]float64)
	for _, ind := range indicators {
		perCategory[ind.Category] += clamp01(ind.Severity) * a.categoryCap
	}

	var total float64
	for _, contrib := range perCategory {
		if contrib > a.categoryCap {
			contrib = a.categoryCap
		}
		total += contrib
	}
	if total > a.totalCap {
		total = a.totalCap
	}
	return total
}

func (a *Aggregator) band(score float64) Escalation {
	t := a.thresholds
	switch {
	case score >= t.Critical:
		return EscalationCritical
	case score >= t.High:
		return EscalationHigh
	case score >= t.Medium:
		return EscalationMedium
	case score >= t.Low:
		return EscalationLow
	default:
		return EscalationNone
	}
}

func (a *Aggregator) hasCriticalFlag(outputs map[string]ModuleOutput) bool {
	for _, out := range outputs {
		if out.Status != StatusOk {
			continue
		}
		for _, f := range out.Flags {
			if a.criticalFlags[f] {
				return true
			}
		}
	}
	return false
}
