// Package patterns holds the compiled signal patterns the reference
// analysis tasks scan conversational text against. All regexes are
// compiled once at first use and shared across tasks.
package patterns

import (
	"regexp"
	"sync"
)

// Category groups patterns by the kind of risk signal they indicate.
type Category string

const (
	CategoryManipulation     Category = "manipulation"
	CategorySafetyBypass     Category = "safety_bypass"
	CategorySystemCompromise Category = "system_compromise"
	CategoryCredentialLeak   Category = "credential_leak"
	CategoryDataExtraction   Category = "data_extraction"
	CategoryObfuscation      Category = "obfuscation"
	CategoryEscalation       Category = "escalation"
)

// Pattern is one compiled signal with its scoring metadata.
type Pattern struct {
	Name        string
	Regex       *regexp.Regexp
	Category    Category
	Severity    float64 // contribution weight in [0,1]
	Description string
}

// Registry holds all compiled patterns, organized by category.
type Registry struct {
	mu         sync.RWMutex
	byCategory map[Category][]*Pattern
	all        []*Pattern
}

var (
	globalRegistry *Registry
	initOnce       sync.Once
)

// Get returns the shared pattern registry, building it on first call.
func Get() *Registry {
	initOnce.Do(func() {
		globalRegistry = newRegistry()
	})
	return globalRegistry
}

func newRegistry() *Registry {
	r := &Registry{
		byCategory: make(map[Category][]*Pattern),
		all:        make([]*Pattern, 0, 64),
	}

	r.registerManipulationPatterns()
	r.registerSafetyBypassPatterns()
	r.registerSystemCompromisePatterns()
	r.registerCredentialLeakPatterns()
	r.registerDataExtractionPatterns()
	r.registerObfuscationPatterns()
	r.registerEscalationPatterns()

	return r
}

func (r *Registry) register(name string, pattern string, category Category, severity float64, description string) {
	p := &Pattern{
		Name:        name,
		Regex:       regexp.MustCompile(pattern),
		Category:    category,
		Severity:    severity,
		Description: description,
	}
	r.byCategory[category] = append(r.byCategory[category], p)
	r.all = append(r.all, p)
}

// GetByCategory returns all patterns for a category, empty slice if none.
func (r *Registry) GetByCategory(cat Category) []*Pattern {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if patterns, ok := r.byCategory[cat]; ok {
		return patterns
	}
	return []*Pattern{}
}

// MatchAny returns the first pattern in the given categories matching text,
// or nil. Optimized for early exit.
func (r *Registry) MatchAny(text string, cats ...Category) *Pattern {
	for _, cat := range cats {
		for _, p := range r.GetByCategory(cat) {
			if p.Regex.MatchString(text) {
				return p
			}
		}
	}
	return nil
}

// MatchAll returns every pattern in the given categories matching text.
func (r *Registry) MatchAll(text string, cats ...Category) []*Pattern {
	var matches []*Pattern
	for _, cat := range cats {
		for _, p := range r.GetByCategory(cat) {
			if p.Regex.MatchString(text) {
				matches = append(matches, p)
			}
		}
	}
	return matches
}

// Scan matches text against every registered pattern.
func (r *Registry) Scan(text string) []*Pattern {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matches []*Pattern
	for _, p := range r.all {
		if p.Regex.MatchString(text) {
			matches = append(matches, p)
		}
	}
	return matches
}

// TotalPatterns returns the count of registered patterns.
func (r *Registry) TotalPatterns() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.all)
}

// CategoryCount returns the number of patterns in a category.
func (r *Registry) CategoryCount(cat Category) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byCategory[cat])
}
