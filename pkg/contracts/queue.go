package contracts

import (
	"encoding/json"
	"time"
)

// UpdateStatus is the lifecycle state of a queued location update.
type UpdateStatus string

const (
	UpdatePending    UpdateStatus = "pending"
	UpdateMatched    UpdateStatus = "matched"
	UpdateProcessing UpdateStatus = "processing"
	UpdateExecuted   UpdateStatus = "executed"
	UpdateFailed     UpdateStatus = "failed"
)

// SkipReason explains why a matched rule was not executed inline.
type SkipReason string

const (
	SkipRequiresWebauthn     SkipReason = "requires_webauthn"
	SkipRateLimited          SkipReason = "rate_limited"
	SkipQuorumUnmet          SkipReason = "quorum_unmet"
	SkipBalanceLow           SkipReason = "balance_low"
	SkipRequiresConfirmation SkipReason = "requires_confirmation"
	SkipContractInactive     SkipReason = "contract_inactive"
)

// ExecutionResult is one element of a LocationUpdate's positional results
// array. Position is part of identity: element i corresponds to
// MatchedRuleIDs[i] at insert time, and later append-path completions extend
// the array. Once Completed or Rejected is set the element is terminal.
type ExecutionResult struct {
	RuleID              string         `json:"rule_id"`
	Skipped             bool           `json:"skipped,omitempty"`
	Reason              SkipReason     `json:"reason,omitempty"`
	Rejected            bool           `json:"rejected,omitempty"`
	RejectedAt          *time.Time     `json:"rejected_at,omitempty"`
	Completed           bool           `json:"completed,omitempty"`
	CompletedAt         *time.Time     `json:"completed_at,omitempty"`
	TransactionHash     string         `json:"transaction_hash,omitempty"`
	Success             *bool          `json:"success,omitempty"`
	PendingConfirmation bool           `json:"pending_confirmation,omitempty"`
	MatchedPublicKey    string         `json:"matched_public_key,omitempty"`
	ExecutionParameters map[string]any `json:"execution_parameters,omitempty"`
	DirectExecution     bool           `json:"direct_execution,omitempty"`
	Error               string         `json:"error,omitempty"`
}

// Terminal reports whether the element may no longer change.
func (r *ExecutionResult) Terminal() bool {
	return r.Completed || r.Rejected
}

// ActionablePending reports whether the element is a WebAuthn placeholder a
// user can still complete or reject.
func (r *ExecutionResult) ActionablePending() bool {
	return r.Skipped && r.Reason == SkipRequiresWebauthn && !r.Completed && !r.Rejected
}

// LocationUpdate is a durable queue row created on ingest, carrying one
// ExecutionResult per matched rule.
type LocationUpdate struct {
	ID               string            `json:"id"`
	UserID           string            `json:"user_id"`
	PublicKey        string            `json:"public_key"`
	Latitude         float64           `json:"latitude"`
	Longitude        float64           `json:"longitude"`
	ReceivedAt       time.Time         `json:"received_at"`
	ProcessedAt      *time.Time        `json:"processed_at,omitempty"`
	Status           UpdateStatus      `json:"status"`
	MatchedRuleIDs   []string          `json:"matched_rule_ids"`
	ExecutionResults []ExecutionResult `json:"execution_results"`
}

// HasCompletedResult reports whether any element is completed. Cleanup must
// never delete such a row.
func (u *LocationUpdate) HasCompletedResult() bool {
	for i := range u.ExecutionResults {
		if u.ExecutionResults[i].Completed {
			return true
		}
	}
	return false
}

// ActorKey is the per-actor identity the queue and projections key on:
// publicKey when present, userId otherwise. Multiple users may share one
// public key (multi-role), so views keyed by userId alone would split them.
func ActorKey(userID, publicKey string) string {
	if publicKey != "" {
		return publicKey
	}
	return userID
}

// RuleExecutionRecord is one append-only row of the execution history
// consulted by rate-limit checks.
type RuleExecutionRecord struct {
	ID              string          `json:"id"`
	RuleID          string          `json:"rule_id"`
	PublicKey       string          `json:"public_key"`
	TransactionHash string          `json:"transaction_hash,omitempty"`
	ResultSummary   json.RawMessage `json:"result_summary,omitempty"`
	ExecutedAt      time.Time       `json:"executed_at"`
}
