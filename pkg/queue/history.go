package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/canonicalize"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/contracts"
)

// PostgresHistory is the append-only execution log rate-limit checks read.
type PostgresHistory struct {
	db *sql.DB
}

func NewPostgresHistory(db *sql.DB) *PostgresHistory {
	return &PostgresHistory{db: db}
}

const historySchema = `
CREATE TABLE IF NOT EXISTS rule_execution_history (
	id UUID PRIMARY KEY,
	rule_id TEXT NOT NULL,
	public_key TEXT NOT NULL,
	transaction_hash TEXT,
	result_summary JSONB,
	executed_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_history_rule_key ON rule_execution_history (rule_id, public_key, executed_at);
`

func (s *PostgresHistory) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, historySchema)
	return err
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Record appends one execution. The summary is stored in canonical form so
// identical outcomes hash identically.
func (s *PostgresHistory) Record(ctx context.Context, ruleID, publicKey, txHash string, summary map[string]any) error {
	return s.record(ctx, s.db, ruleID, publicKey, txHash, summary)
}

func (s *PostgresHistory) record(ctx context.Context, ex execer, ruleID, publicKey, txHash string, summary map[string]any) error {
	summaryJSON, err := canonicalize.JCS(summary)
	if err != nil {
		return fmt.Errorf("queue: canonicalizing summary: %w", err)
	}
	_, err = ex.ExecContext(ctx, `
		INSERT INTO rule_execution_history (id, rule_id, public_key, transaction_hash, result_summary, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		uuid.NewString(), ruleID, publicKey, nullableText(txHash), summaryJSON, time.Now().UTC())
	return err
}

// CountWithin returns how many executions (ruleID, publicKey) has in the
// trailing window. The dispatcher compares it to the rule's cap.
func (s *PostgresHistory) CountWithin(ctx context.Context, ruleID, publicKey string, window time.Duration) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM rule_execution_history
		WHERE rule_id = $1 AND public_key = $2 AND executed_at >= $3`,
		ruleID, publicKey, time.Now().UTC().Add(-window)).Scan(&n)
	return n, err
}

// RateLimitReached applies a rule's execution cap for one public key. Rules
// without a cap never limit.
func (s *PostgresHistory) RateLimitReached(ctx context.Context, rule *contracts.ExecutionRule, publicKey string) (bool, int, error) {
	if !rule.HasRateLimit() {
		return false, 0, nil
	}
	window := time.Duration(*rule.ExecutionTimeWindowSeconds) * time.Second
	n, err := s.CountWithin(ctx, rule.ID, publicKey, window)
	if err != nil {
		return false, 0, err
	}
	return n >= *rule.MaxExecutionsPerPublicKey, n, nil
}

func nullableText(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
