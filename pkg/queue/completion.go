package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/contracts"
)

// Manager performs the completion and rejection transitions on queue rows.
// Every transition runs in a single transaction with the target row locked,
// so the cleanup guarantees hold alongside the target update.
type Manager struct {
	db      *sql.DB
	history *PostgresHistory
	logger  *slog.Logger
}

func NewManager(db *sql.DB, history *PostgresHistory, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{db: db, history: history, logger: logger}
}

// CompletionRequest identifies one pending placeholder and the terminal
// state to write into it. UpdateID and MatchedPublicKey narrow the target;
// the manager falls back to (userID, ruleID) when they are absent.
type CompletionRequest struct {
	RuleID              string
	UserID              string
	UpdateID            string
	MatchedPublicKey    string
	TransactionHash     string
	ExecutionParameters map[string]any
	PendingConfirmation bool
}

// MarkCompleted converts a pending placeholder into a terminal completion.
// Re-invocations with the same logical key are no-ops. Within the same
// transaction, older superseded rows are cleaned up and the execution is
// recorded in the rate-limit history.
func (m *Manager) MarkCompleted(ctx context.Context, req CompletionRequest) (*contracts.LocationUpdate, error) {
	if req.RuleID == "" || req.UserID == "" {
		return nil, errors.New("queue: rule id and user id are required")
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row, idx, err := m.lockTarget(ctx, tx, req)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if row == nil {
		// Append path: no placeholder anywhere. Direct executions without
		// a prior ingest land here.
		row, err = m.appendCompletion(ctx, tx, req, now)
		if err != nil {
			return nil, err
		}
		if row == nil {
			// Idempotent re-invocation detected during append.
			return m.latestRow(ctx, tx, req.UserID)
		}
	} else if idx == alreadyCompleted {
		// Same logical key already terminal.
		return row, tx.Commit()
	} else {
		m.completeElement(row, idx, req, now)
		if err := updateRow(ctx, tx, row); err != nil {
			return nil, err
		}
	}

	matchedPK := req.MatchedPublicKey
	if matchedPK == "" {
		matchedPK = row.PublicKey
	}
	if err := m.cleanup(ctx, tx, row, req.RuleID, matchedPK); err != nil {
		return nil, err
	}

	summary := map[string]any{
		"rule_id":            req.RuleID,
		"matched_public_key": matchedPK,
		"transaction_hash":   req.TransactionHash,
		"update_id":          row.ID,
	}
	if err := m.history.record(ctx, tx, req.RuleID, row.PublicKey, req.TransactionHash, summary); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	m.logger.Info("rule completed",
		"rule_id", req.RuleID, "update_id", row.ID, "tx_hash", req.TransactionHash,
		"pending_confirmation", req.PendingConfirmation)
	return row, nil
}

// alreadyCompleted marks an idempotent re-invocation found on the target row.
const alreadyCompleted = -2

// lockTarget finds and locks the row holding the pending placeholder, most
// specific key first: (userID, updateID), then (userID, matchedPublicKey),
// then (userID, ruleID). Returns (nil, _) when no placeholder exists.
func (m *Manager) lockTarget(ctx context.Context, tx *sql.Tx, req CompletionRequest) (*contracts.LocationUpdate, int, error) {
	if req.UpdateID != "" {
		row, err := lockRowByID(ctx, tx, req.UpdateID, req.UserID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, 0, err
		}
		if row != nil {
			if idx, ok := findTarget(row, req); ok {
				return row, idx, nil
			}
		}
	}

	// Most-recent matching pending row.
	for _, withMatched := range []bool{req.MatchedPublicKey != "", false} {
		if withMatched && req.MatchedPublicKey == "" {
			continue
		}
		row, err := lockRowByPlaceholder(ctx, tx, req.UserID, req.RuleID, matchedIf(withMatched, req.MatchedPublicKey))
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, 0, err
		}
		if row != nil {
			if idx, ok := findTarget(row, req); ok {
				return row, idx, nil
			}
		}
	}
	return nil, 0, nil
}

func matchedIf(cond bool, pk string) string {
	if cond {
		return pk
	}
	return ""
}

// findTarget locates the placeholder element, or reports an idempotent
// re-invocation when the same logical key is already terminal.
func findTarget(row *contracts.LocationUpdate, req CompletionRequest) (int, bool) {
	for i := range row.ExecutionResults {
		el := &row.ExecutionResults[i]
		if el.RuleID != req.RuleID || !el.Completed {
			continue
		}
		sameKey := req.MatchedPublicKey == "" || el.MatchedPublicKey == req.MatchedPublicKey
		sameTx := req.TransactionHash != "" && el.TransactionHash == req.TransactionHash
		if sameKey || sameTx {
			return alreadyCompleted, true
		}
	}
	for i := range row.ExecutionResults {
		el := &row.ExecutionResults[i]
		if el.RuleID != req.RuleID || !el.ActionablePending() {
			continue
		}
		if req.MatchedPublicKey != "" && el.MatchedPublicKey != "" && el.MatchedPublicKey != req.MatchedPublicKey {
			continue
		}
		return i, true
	}
	return 0, false
}

// completeElement rewrites the placeholder in place. The skip reason is
// dropped; position in the array is preserved.
func (m *Manager) completeElement(row *contracts.LocationUpdate, idx int, req CompletionRequest, now time.Time) {
	matchedPK := row.ExecutionResults[idx].MatchedPublicKey
	if req.MatchedPublicKey != "" {
		matchedPK = req.MatchedPublicKey
	}
	if matchedPK == "" {
		matchedPK = row.PublicKey
	}
	success := true
	row.ExecutionResults[idx] = contracts.ExecutionResult{
		RuleID:              req.RuleID,
		Completed:           true,
		CompletedAt:         &now,
		TransactionHash:     req.TransactionHash,
		Success:             &success,
		DirectExecution:     true,
		MatchedPublicKey:    matchedPK,
		ExecutionParameters: req.ExecutionParameters,
		PendingConfirmation: req.PendingConfirmation,
	}
	if row.Status == contracts.UpdateMatched || row.Status == contracts.UpdatePending || row.Status == contracts.UpdateProcessing {
		row.Status = contracts.UpdateExecuted
	}
	if row.ProcessedAt == nil {
		row.ProcessedAt = &now
	}
}

// appendCompletion handles the last-resort path: append a new terminal
// element to the user's latest queue row, creating one when the user has
// never ingested a location. Returns nil when an identical completion
// already exists.
func (m *Manager) appendCompletion(ctx context.Context, tx *sql.Tx, req CompletionRequest, now time.Time) (*contracts.LocationUpdate, error) {
	row, err := lockLatestRow(ctx, tx, req.UserID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	if row != nil {
		if idx, ok := findTarget(row, req); ok && idx == alreadyCompleted {
			return nil, nil
		}
	} else {
		row = &contracts.LocationUpdate{
			ID:             uuid.NewString(),
			UserID:         req.UserID,
			PublicKey:      req.MatchedPublicKey,
			ReceivedAt:     now,
			Status:         contracts.UpdateExecuted,
			MatchedRuleIDs: []string{req.RuleID},
		}
		ruleIDsJSON := mustJSON(row.MatchedRuleIDs)
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO location_update_queue (`+updateColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, '[]'::jsonb)`,
			row.ID, row.UserID, row.PublicKey, 0.0, 0.0,
			row.ReceivedAt, nil, string(row.Status), ruleIDsJSON); err != nil {
			return nil, err
		}
	}

	matchedPK := req.MatchedPublicKey
	if matchedPK == "" {
		matchedPK = row.PublicKey
	}
	success := true
	row.ExecutionResults = append(row.ExecutionResults, contracts.ExecutionResult{
		RuleID:              req.RuleID,
		Completed:           true,
		CompletedAt:         &now,
		TransactionHash:     req.TransactionHash,
		Success:             &success,
		DirectExecution:     true,
		MatchedPublicKey:    matchedPK,
		ExecutionParameters: req.ExecutionParameters,
		PendingConfirmation: req.PendingConfirmation,
	})
	if row.Status == contracts.UpdateMatched || row.Status == contracts.UpdatePending {
		row.Status = contracts.UpdateExecuted
	}
	if row.ProcessedAt == nil {
		row.ProcessedAt = &now
	}
	if err := updateRow(ctx, tx, row); err != nil {
		return nil, err
	}
	return row, nil
}

// cleanup deletes older rows superseded by this completion: same actor, same
// rule, a matching pending placeholder, received no later than the target,
// and carrying no completed result of their own. The target row and any row
// holding a completed element are never deleted.
func (m *Manager) cleanup(ctx context.Context, tx *sql.Tx, target *contracts.LocationUpdate, ruleID, matchedPK string) error {
	placeholder := pendingPlaceholderJSON(ruleID, matchedPK)
	res, err := tx.ExecContext(ctx, `
		DELETE FROM location_update_queue
		WHERE user_id = $1
		  AND public_key = $2
		  AND id <> $3
		  AND received_at <= $4
		  AND execution_results @> $5::jsonb
		  AND NOT (execution_results @> '[{"completed": true}]'::jsonb)`,
		target.UserID, target.PublicKey, target.ID, target.ReceivedAt, placeholder)
	if err != nil {
		return fmt.Errorf("queue: cleanup: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		m.logger.Info("superseded queue rows removed", "rule_id", ruleID, "count", n)
	}
	return nil
}

// MarkRejected flips every matching pending placeholder to rejected. The
// transition is idempotent: already-rejected elements keep their original
// rejectedAt. Returns how many elements changed.
func (m *Manager) MarkRejected(ctx context.Context, ruleID, userID, matchedPublicKey string) (int, error) {
	if ruleID == "" || userID == "" {
		return 0, errors.New("queue: rule id and user id are required")
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, `
		SELECT `+updateColumns+`
		FROM location_update_queue
		WHERE user_id = $1 AND execution_results @> $2::jsonb
		ORDER BY received_at DESC
		FOR UPDATE`, userID, pendingPlaceholderJSON(ruleID, matchedPublicKey))
	if err != nil {
		return 0, err
	}
	updates, err := scanUpdates(rows)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	changed := 0
	for _, u := range updates {
		dirty := false
		for i := range u.ExecutionResults {
			el := &u.ExecutionResults[i]
			if el.RuleID != ruleID || !el.ActionablePending() {
				continue
			}
			if matchedPublicKey != "" && el.MatchedPublicKey != "" && el.MatchedPublicKey != matchedPublicKey {
				continue
			}
			el.Rejected = true
			el.RejectedAt = &now
			dirty = true
			changed++
		}
		if dirty {
			if err := updateRow(ctx, tx, u); err != nil {
				return 0, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	if changed > 0 {
		m.logger.Info("rule rejected", "rule_id", ruleID, "elements", changed)
	}
	return changed, nil
}

// pendingPlaceholderJSON builds the JSONB containment probe for a pending
// placeholder of ruleID, optionally narrowed by matched public key.
func pendingPlaceholderJSON(ruleID, matchedPK string) []byte {
	el := map[string]any{
		"rule_id": ruleID,
		"skipped": true,
		"reason":  string(contracts.SkipRequiresWebauthn),
	}
	if matchedPK != "" {
		el["matched_public_key"] = matchedPK
	}
	return mustJSON([]any{el})
}

func lockRowByID(ctx context.Context, tx *sql.Tx, id, userID string) (*contracts.LocationUpdate, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+updateColumns+` FROM location_update_queue WHERE id = $1 AND user_id = $2 FOR UPDATE`,
		id, userID)
	return scanUpdate(row)
}

func lockRowByPlaceholder(ctx context.Context, tx *sql.Tx, userID, ruleID, matchedPK string) (*contracts.LocationUpdate, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+updateColumns+`
		FROM location_update_queue
		WHERE user_id = $1 AND execution_results @> $2::jsonb
		ORDER BY received_at DESC
		LIMIT 1
		FOR UPDATE`, userID, pendingPlaceholderJSON(ruleID, matchedPK))
	return scanUpdate(row)
}

func lockLatestRow(ctx context.Context, tx *sql.Tx, userID string) (*contracts.LocationUpdate, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT `+updateColumns+`
		FROM location_update_queue
		WHERE user_id = $1
		ORDER BY received_at DESC
		LIMIT 1
		FOR UPDATE`, userID)
	return scanUpdate(row)
}

func (m *Manager) latestRow(ctx context.Context, tx *sql.Tx, userID string) (*contracts.LocationUpdate, error) {
	row, err := lockLatestRow(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	return row, tx.Commit()
}
