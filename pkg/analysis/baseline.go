package analysis

import (
	"sync"
	"time"
)

// IdentityBaseline holds per-identity rolling statistics used to detect
// deviation from typical behavior. Baselines are monotonically refined:
// exponentially smoothed on every update, never deleted within the process
// lifetime.
type IdentityBaseline struct {
	IdentityID          string             `json:"identity_id"`
	AvgMessageLength    float64            `json:"avg_message_length"`
	SeenSources         map[string]bool    `json:"seen_sources"`
	EscalationHistogram map[Escalation]int `json:"escalation_histogram"`
	TotalObservations   int                `json:"total_observations"`
	LastUpdated         time.Time          `json:"last_updated"`
	Confidence          float64            `json:"confidence"` // Trust in the baseline itself, grows with observations
}

// frequency returns the historical share of the given escalation level for
// this identity, or 1.0 when there is no history yet (no penalty on first
// contact).
func (b *IdentityBaseline) frequency(esc Escalation) float64 {
	if b.TotalObservations == 0 {
		return 1.0
	}
	return float64(b.EscalationHistogram[esc]) / float64(b.TotalObservations)
}

// BaselineStore keeps identity baselines behind a single coarse lock. All
// operations are O(1) map access; the lock is never held across a task
// invocation.
type BaselineStore struct {
	mu        sync.Mutex
	baselines map[string]*IdentityBaseline
	alpha     float64 // Exponential smoothing factor for message length
	now       func() time.Time
}

// NewBaselineStore creates an empty store. alpha is the smoothing factor
// applied to message length on each observation.
func NewBaselineStore(alpha float64) *BaselineStore {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.3
	}
	return &BaselineStore{
		baselines: make(map[string]*IdentityBaseline),
		alpha:     alpha,
		now:       time.Now,
	}
}

// Snapshot returns a copy of the identity's baseline. The copy is safe to
// read without holding the store lock.
func (s *BaselineStore) Snapshot(identityID string) (IdentityBaseline, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.baselines[identityID]
	if !ok {
		return IdentityBaseline{}, false
	}

	cp := *b
	cp.SeenSources = make(map[string]bool, len(b.SeenSources))
	for k, v := range b.SeenSources {
		cp.SeenSources[k] = v
	}
	cp.EscalationHistogram = make(map[Escalation]int, len(b.EscalationHistogram))
	for k, v := range b.EscalationHistogram {
		cp.EscalationHistogram[k] = v
	}
	return cp, true
}

// Observe folds one request outcome into the identity's baseline:
// exponential smoothing of message length, source set union, escalation
// histogram increment. Called unconditionally after every request for the
// identity, including filtered ones.
func (s *BaselineStore) Observe(identityID string, messageLength int, source string, esc Escalation) {
	if identityID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.baselines[identityID]
	if !ok {
		b = &IdentityBaseline{
			IdentityID:          identityID,
			AvgMessageLength:    float64(messageLength),
			SeenSources:         make(map[string]bool),
			EscalationHistogram: make(map[Escalation]int),
		}
		s.baselines[identityID] = b
	} else {
		b.AvgMessageLength = s.alpha*float64(messageLength) + (1-s.alpha)*b.AvgMessageLength
	}

	if source != "" {
		b.SeenSources[source] = true
	}
	b.EscalationHistogram[esc]++
	b.TotalObservations++
	b.LastUpdated = s.now()

	// Baseline trust ramps up over the first ~20 observations.
	b.Confidence = clamp01(float64(b.TotalObservations) / 20.0)
}

// Len returns the number of tracked identities.
func (s *BaselineStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.baselines)
}
