package persist

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS verdict_audit (
	verdict_id          TEXT PRIMARY KEY,
	request_hash        BIGINT NOT NULL,
	session_id          TEXT NOT NULL DEFAULT '',
	identity_id         TEXT NOT NULL DEFAULT '',
	source              TEXT NOT NULL DEFAULT '',
	aggregate_score     DOUBLE PRECISION NOT NULL,
	escalation          TEXT NOT NULL,
	adjusted_confidence DOUBLE PRECISION NOT NULL,
	final_action        TEXT NOT NULL,
	filtered            BOOLEAN NOT NULL,
	needs_review        BOOLEAN NOT NULL,
	detail              JSONB,
	computed_at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS verdict_audit_session_idx ON verdict_audit (session_id, computed_at);
CREATE INDEX IF NOT EXISTS verdict_audit_identity_idx ON verdict_audit (identity_id, computed_at);
`

const insertAudit = `
INSERT INTO verdict_audit (
	verdict_id, request_hash, session_id, identity_id, source,
	aggregate_score, escalation, adjusted_confidence, final_action,
	filtered, needs_review, detail, computed_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (verdict_id) DO NOTHING`

// PostgresStore writes audit rows through a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects, verifies the connection, and ensures the audit
// table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("persist: connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("persist: ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, auditSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("persist: ensure audit schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Save inserts one audit row. Replays of the same verdict id are ignored.
func (s *PostgresStore) Save(ctx context.Context, rec Record) error {
	_, err := s.pool.Exec(ctx, insertAudit,
		rec.VerdictID,
		// Postgres BIGINT is signed; the hash round-trips through int64.
		int64(rec.RequestHash),
		rec.SessionID,
		rec.IdentityID,
		rec.Source,
		rec.AggregateScore,
		rec.Escalation,
		rec.AdjustedConfidence,
		rec.FinalAction,
		rec.Filtered,
		rec.NeedsReview,
		rec.Detail,
		rec.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("persist: save verdict %s: %w", rec.VerdictID, err)
	}
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
