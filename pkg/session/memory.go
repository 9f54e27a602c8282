package session

import (
	"context"
	"sync"
	"time"
)

const (
	defaultMaxAge          = 1 * time.Hour
	defaultCleanupInterval = 5 * time.Minute
	maxTurnsPerSession     = 200
	recentThreatWindow     = 20
	threatScoreFloor       = 0.4
)

// MemoryStore is the in-process history backend. Sessions expire after
// maxAge of inactivity; a background loop reclaims them.
type MemoryStore struct {
	mu          sync.RWMutex
	sessions    map[string]*State
	maxAge      time.Duration
	cleanupTTL  time.Duration
	stopCleanup chan struct{}
	cleanupOnce sync.Once
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMaxAge overrides the session inactivity TTL.
func WithMaxAge(d time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		if d > 0 {
			s.maxAge = d
		}
	}
}

// WithCleanupInterval overrides how often expired sessions are reclaimed.
func WithCleanupInterval(d time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		if d > 0 {
			s.cleanupTTL = d
		}
	}
}

// NewMemoryStore creates the store and starts its cleanup loop.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		sessions:    make(map[string]*State),
		maxAge:      defaultMaxAge,
		cleanupTTL:  defaultCleanupInterval,
		stopCleanup: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.cleanupLoop()
	return s
}

// Get returns a copy of the session state, or (nil, nil) when the session
// is unknown or expired.
func (s *MemoryStore) Get(_ context.Context, sessionID string) (*State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.sessions[sessionID]
	if !ok || time.Since(state.LastTurnAt) > s.maxAge {
		return nil, nil
	}
	return copyState(state), nil
}

// RecordTurn appends a turn, creating the session on first sight. Old turns
// are trimmed so a session cannot grow without bound.
func (s *MemoryStore) RecordTurn(_ context.Context, sessionID, identityID string, turn TurnRecord) error {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.sessions[sessionID]
	if !ok {
		state = &State{
			SessionID: sessionID,
			CreatedAt: turn.Timestamp,
		}
		s.sessions[sessionID] = state
	}
	if identityID != "" {
		state.IdentityID = identityID
	}

	state.Turns = append(state.Turns, turn)
	if len(state.Turns) > maxTurnsPerSession {
		state.Turns = state.Turns[len(state.Turns)-maxTurnsPerSession:]
	}
	state.LastTurnAt = turn.Timestamp
	state.RecentThreatCount = countRecentThreats(state.Turns)
	return nil
}

// Delete removes the session.
func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// Close stops the cleanup loop.
func (s *MemoryStore) Close() error {
	s.cleanupOnce.Do(func() {
		close(s.stopCleanup)
	})
	return nil
}

// Len returns the number of live sessions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupTTL)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, state := range s.sessions {
		if now.Sub(state.LastTurnAt) > s.maxAge {
			delete(s.sessions, id)
		}
	}
}

// countRecentThreats counts threat-scored turns inside the trailing window.
func countRecentThreats(turns []TurnRecord) int {
	start := 0
	if len(turns) > recentThreatWindow {
		start = len(turns) - recentThreatWindow
	}
	count := 0
	for _, t := range turns[start:] {
		if !t.FromCounterpart && t.ThreatScore >= threatScoreFloor {
			count++
		}
	}
	return count
}

func copyState(state *State) *State {
	out := *state
	out.Turns = make([]TurnRecord, len(state.Turns))
	copy(out.Turns, state.Turns)
	return &out
}
