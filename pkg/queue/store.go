// Package queue owns the durable location-update queue: ingest rows, the
// positional execution-results state machine, completion and rejection
// transitions, cleanup of superseded rows, and the pending/completed/
// rejected projections.
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/contracts"
)

var ErrNotFound = errors.New("queue: update not found")

// PostgresQueue implements the execution queue with SQL persistence. The
// execution_results column is a JSONB array whose element order is part of
// identity; all mutations load, rewrite, and store it under row locks.
type PostgresQueue struct {
	db *sql.DB
}

func NewPostgresQueue(db *sql.DB) *PostgresQueue {
	return &PostgresQueue{db: db}
}

const queueSchema = `
CREATE TABLE IF NOT EXISTS location_update_queue (
	id UUID PRIMARY KEY,
	user_id TEXT NOT NULL,
	public_key TEXT NOT NULL,
	latitude DOUBLE PRECISION NOT NULL,
	longitude DOUBLE PRECISION NOT NULL,
	received_at TIMESTAMPTZ NOT NULL,
	processed_at TIMESTAMPTZ,
	status TEXT NOT NULL,
	matched_rule_ids JSONB NOT NULL DEFAULT '[]'::jsonb,
	execution_results JSONB NOT NULL DEFAULT '[]'::jsonb
);

CREATE INDEX IF NOT EXISTS idx_queue_user ON location_update_queue (user_id);
CREATE INDEX IF NOT EXISTS idx_queue_public_key ON location_update_queue (public_key);
CREATE INDEX IF NOT EXISTS idx_queue_received ON location_update_queue (received_at);
`

func (s *PostgresQueue) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, queueSchema)
	return err
}

const updateColumns = `id, user_id, public_key, latitude, longitude,
	received_at, processed_at, status, matched_rule_ids, execution_results`

// Insert creates the queue row produced by one ingest.
func (s *PostgresQueue) Insert(ctx context.Context, u *contracts.LocationUpdate) (*contracts.LocationUpdate, error) {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.ReceivedAt.IsZero() {
		u.ReceivedAt = time.Now().UTC()
	}
	if u.MatchedRuleIDs == nil {
		u.MatchedRuleIDs = []string{}
	}
	if u.ExecutionResults == nil {
		u.ExecutionResults = []contracts.ExecutionResult{}
	}

	ruleIDsJSON, err := json.Marshal(u.MatchedRuleIDs)
	if err != nil {
		return nil, fmt.Errorf("queue: marshalling rule ids: %w", err)
	}
	resultsJSON, err := json.Marshal(u.ExecutionResults)
	if err != nil {
		return nil, fmt.Errorf("queue: marshalling results: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO location_update_queue (`+updateColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		u.ID, u.UserID, u.PublicKey, u.Latitude, u.Longitude,
		u.ReceivedAt, u.ProcessedAt, string(u.Status), ruleIDsJSON, resultsJSON)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// Get returns one queue row by id.
func (s *PostgresQueue) Get(ctx context.Context, id string) (*contracts.LocationUpdate, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+updateColumns+` FROM location_update_queue WHERE id = $1`, id)
	return scanUpdate(row)
}

// MatchedPublicKeyFor resolves the matched_public_key recorded on the most
// recent pending placeholder for (userID, ruleID). The executor uses it when
// the caller supplied a rule but no explicit destination.
func (s *PostgresQueue) MatchedPublicKeyFor(ctx context.Context, userID, ruleID string) (string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT execution_results, public_key
		FROM location_update_queue
		WHERE user_id = $1 AND matched_rule_ids @> $2::jsonb
		ORDER BY received_at DESC
		LIMIT 10`, userID, mustJSON([]string{ruleID}))
	if err != nil {
		return "", err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			resultsJSON []byte
			publicKey   string
		)
		if err := rows.Scan(&resultsJSON, &publicKey); err != nil {
			return "", err
		}
		var results []contracts.ExecutionResult
		if err := json.Unmarshal(resultsJSON, &results); err != nil {
			return "", fmt.Errorf("queue: decoding results: %w", err)
		}
		for i := range results {
			if results[i].RuleID == ruleID && results[i].ActionablePending() {
				if results[i].MatchedPublicKey != "" {
					return results[i].MatchedPublicKey, nil
				}
				return publicKey, nil
			}
		}
	}
	return "", rows.Err()
}

// updateRow rewrites a row's mutable columns inside tx.
func updateRow(ctx context.Context, tx *sql.Tx, u *contracts.LocationUpdate) error {
	resultsJSON, err := json.Marshal(u.ExecutionResults)
	if err != nil {
		return fmt.Errorf("queue: marshalling results: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE location_update_queue
		SET status = $2, processed_at = $3, execution_results = $4
		WHERE id = $1`,
		u.ID, string(u.Status), u.ProcessedAt, resultsJSON)
	return err
}

// SaveDispatchOutcome persists the dispatcher's per-rule decisions made
// right after insert. It runs outside the completion transaction path.
func (s *PostgresQueue) SaveDispatchOutcome(ctx context.Context, u *contracts.LocationUpdate) error {
	resultsJSON, err := json.Marshal(u.ExecutionResults)
	if err != nil {
		return fmt.Errorf("queue: marshalling results: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE location_update_queue
		SET status = $2, processed_at = $3, execution_results = $4
		WHERE id = $1`,
		u.ID, string(u.Status), u.ProcessedAt, resultsJSON)
	return err
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUpdate(row rowScanner) (*contracts.LocationUpdate, error) {
	var (
		u                        contracts.LocationUpdate
		status                   string
		ruleIDsJSON, resultsJSON []byte
	)
	err := row.Scan(&u.ID, &u.UserID, &u.PublicKey, &u.Latitude, &u.Longitude,
		&u.ReceivedAt, &u.ProcessedAt, &status, &ruleIDsJSON, &resultsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Status = contracts.UpdateStatus(status)
	if err := json.Unmarshal(ruleIDsJSON, &u.MatchedRuleIDs); err != nil {
		return nil, fmt.Errorf("queue: decoding rule ids: %w", err)
	}
	if err := json.Unmarshal(resultsJSON, &u.ExecutionResults); err != nil {
		return nil, fmt.Errorf("queue: decoding results: %w", err)
	}
	return &u, nil
}

func scanUpdates(rows *sql.Rows) ([]*contracts.LocationUpdate, error) {
	defer func() { _ = rows.Close() }()
	var out []*contracts.LocationUpdate
	for rows.Next() {
		u, err := scanUpdate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
