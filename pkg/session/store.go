// Package session tracks per-conversation history so the analysis engine
// can reason about a turn in the context of the turns before it.
package session

import (
	"context"
	"time"
)

// TurnRecord is one observed conversational turn.
type TurnRecord struct {
	Timestamp       time.Time `json:"timestamp"`
	FromCounterpart bool      `json:"from_counterpart"`
	Length          int       `json:"length"`
	ThreatScore     float64   `json:"threat_score"`
	Escalation      string    `json:"escalation"`
}

// State is the accumulated history of one session.
type State struct {
	SessionID         string       `json:"session_id"`
	IdentityID        string       `json:"identity_id,omitempty"`
	Turns             []TurnRecord `json:"turns"`
	RecentThreatCount int          `json:"recent_threat_count"`
	CreatedAt         time.Time    `json:"created_at"`
	LastTurnAt        time.Time    `json:"last_turn_at"`
}

// Context is the history summary handed to the analysis tasks.
type Context struct {
	TotalMessages          int     `json:"total_messages"`
	UserMessages           int     `json:"user_messages"`
	CounterpartMessages    int     `json:"counterpart_messages"`
	RecentThreatCount      int     `json:"recent_threat_count"`
	SessionDurationSeconds float64 `json:"session_duration_seconds"`
}

// Summarize condenses the session state into the task-facing context.
func (s *State) Summarize() *Context {
	c := &Context{
		TotalMessages:     len(s.Turns),
		RecentThreatCount: s.RecentThreatCount,
	}
	for _, t := range s.Turns {
		if t.FromCounterpart {
			c.CounterpartMessages++
		} else {
			c.UserMessages++
		}
	}
	if !s.CreatedAt.IsZero() && s.LastTurnAt.After(s.CreatedAt) {
		c.SessionDurationSeconds = s.LastTurnAt.Sub(s.CreatedAt).Seconds()
	}
	return c
}

// HistoryStore is the session history backend. Get returns (nil, nil) for
// an unknown session; callers treat that as an empty history.
type HistoryStore interface {
	Get(ctx context.Context, sessionID string) (*State, error)
	RecordTurn(ctx context.Context, sessionID, identityID string, turn TurnRecord) error
	Delete(ctx context.Context, sessionID string) error
	Close() error
}
