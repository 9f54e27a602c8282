// Package persist writes completed verdicts to durable audit storage.
// Persistence is fire-and-forget from the engine's point of view; a failed
// write never affects the verdict returned to the caller.
package persist

import (
	"context"
	"time"
)

// Record is the flattened audit row for one completed assessment. It
// carries only what an auditor needs; full module outputs stay in the
// serialized detail blob.
type Record struct {
	VerdictID          string
	RequestHash        uint64
	SessionID          string
	IdentityID         string
	Source             string
	AggregateScore     float64
	Escalation         string
	AdjustedConfidence float64
	FinalAction        string
	Filtered           bool
	NeedsReview        bool
	Detail             []byte // JSON-encoded module outputs
	ComputedAt         time.Time
}

// AuditStore is the audit trail backend.
type AuditStore interface {
	Save(ctx context.Context, rec Record) error
	Close() error
}

// NopStore discards every record. Used when auditing is disabled.
type NopStore struct{}

func (NopStore) Save(context.Context, Record) error { return nil }
func (NopStore) Close() error                       { return nil }
