package queue

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/contracts"
)

// RuleResolver and ContractResolver let projections enrich entries without
// binding to the concrete stores.
type RuleResolver interface {
	GetAnyOwner(ctx context.Context, id string) (*contracts.ExecutionRule, error)
}

type ContractResolver interface {
	GetAnyOwner(ctx context.Context, id string) (*contracts.CustomContract, error)
}

// Projections reads the pending/completed/rejected views over
// execution_results. The three views are pairwise disjoint for any
// (ruleId, matchedPublicKey).
type Projections struct {
	db           *sql.DB
	rules        RuleResolver
	contracts    ContractResolver
	nativeAsset  string
	logger       *slog.Logger
}

func NewProjections(db *sql.DB, rules RuleResolver, contractsSrc ContractResolver, nativeAsset string, logger *slog.Logger) *Projections {
	if logger == nil {
		logger = slog.Default()
	}
	return &Projections{db: db, rules: rules, contracts: contractsSrc, nativeAsset: nativeAsset, logger: logger}
}

// Entry is one projected execution in any of the three views.
type Entry struct {
	RuleID           string         `json:"rule_id"`
	RuleName         string         `json:"rule_name,omitempty"`
	ContractID       string         `json:"contract_id,omitempty"`
	FunctionName     string         `json:"function_name,omitempty"`
	UpdateID         string         `json:"update_id"`
	MatchedPublicKey string         `json:"matched_public_key"`
	Parameters       map[string]any `json:"parameters,omitempty"`
	TransactionHash  string         `json:"transaction_hash,omitempty"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	RejectedAt       *time.Time     `json:"rejected_at,omitempty"`
	ReceivedAt       time.Time      `json:"received_at"`
	PendingConfirmation bool        `json:"pending_confirmation,omitempty"`
}

// loadActorRows returns the actor's queue rows, newest first. OR-logic over
// (userID, publicKey) keeps multi-role users seeing one consistent view.
func (p *Projections) loadActorRows(ctx context.Context, userID, publicKey string) ([]*contracts.LocationUpdate, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+updateColumns+`
		FROM location_update_queue
		WHERE user_id = $1 OR ($2 <> '' AND public_key = $2)
		ORDER BY received_at DESC`, userID, publicKey)
	if err != nil {
		return nil, err
	}
	return scanUpdates(rows)
}

type dedupKey struct {
	ruleID string
	second string
}

// Pending lists actionable WebAuthn placeholders, de-duplicated by
// (ruleId, matchedPublicKey ?? publicKey), excluding keys that already have
// a terminal element anywhere. Count is taken over the full de-duplicated
// set independently of limit.
func (p *Projections) Pending(ctx context.Context, userID, publicKey string, limit int) ([]Entry, int, error) {
	updates, err := p.loadActorRows(ctx, userID, publicKey)
	if err != nil {
		return nil, 0, err
	}

	terminal := make(map[dedupKey]bool)
	for _, u := range updates {
		for i := range u.ExecutionResults {
			el := &u.ExecutionResults[i]
			if el.Terminal() {
				terminal[pendingKey(el, u)] = true
			}
		}
	}

	seen := make(map[dedupKey]bool)
	var entries []Entry
	for _, u := range updates {
		for i := range u.ExecutionResults {
			el := &u.ExecutionResults[i]
			if !el.ActionablePending() {
				continue
			}
			key := pendingKey(el, u)
			if terminal[key] || seen[key] {
				continue
			}
			seen[key] = true

			entry := Entry{
				RuleID:           el.RuleID,
				UpdateID:         u.ID,
				MatchedPublicKey: matchedOrSelf(el, u),
				ReceivedAt:       u.ReceivedAt,
			}
			p.enrichPending(ctx, &entry, u)
			entries = append(entries, entry)
		}
	}

	count := len(entries)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, count, nil
}

// enrichPending populates the entry's parameters from the rule's mapping:
// destination placeholders become the matched key, the signer becomes the
// actor, WebAuthn slots are marked system-generated.
func (p *Projections) enrichPending(ctx context.Context, entry *Entry, u *contracts.LocationUpdate) {
	rule, err := p.rules.GetAnyOwner(ctx, entry.RuleID)
	if err != nil {
		p.logger.Warn("pending enrichment: rule lookup failed", "rule_id", entry.RuleID, "error", err)
		return
	}
	entry.RuleName = rule.RuleName
	entry.ContractID = rule.ContractID
	entry.FunctionName = rule.FunctionName

	var mapping contracts.Mapping
	if c, err := p.contracts.GetAnyOwner(ctx, rule.ContractID); err == nil {
		if m, ok := c.FunctionMappings[rule.FunctionName]; ok {
			mapping = m
		} else if sig, ok := c.DiscoveredFunctions[rule.FunctionName]; ok {
			mapping = contracts.DeriveDefaultMapping(sig)
		}
	}

	params, err := contracts.CanonicalizeParameters(mapping, rule.FunctionParameters, contracts.ParamContext{
		UserPublicKey:          u.PublicKey,
		MatchedPublicKey:       entry.MatchedPublicKey,
		NativeAssetAddress:     p.nativeAsset,
		Latitude:               u.Latitude,
		Longitude:              u.Longitude,
		HasCoordinates:         true,
		FillSystemPlaceholders: true,
	})
	if err != nil {
		p.logger.Warn("pending enrichment: parameter canonicalization failed", "rule_id", entry.RuleID, "error", err)
		return
	}
	entry.Parameters = params
}

// Completed lists terminal completions, de-duplicated by
// (ruleId, transactionHash, updateId, matchedPublicKey, ordinality).
// Recorded execution parameters win over the rule template.
func (p *Projections) Completed(ctx context.Context, userID, publicKey string, limit int) ([]Entry, int, error) {
	updates, err := p.loadActorRows(ctx, userID, publicKey)
	if err != nil {
		return nil, 0, err
	}

	seen := make(map[string]bool)
	var entries []Entry
	for _, u := range updates {
		for i := range u.ExecutionResults {
			el := &u.ExecutionResults[i]
			if !el.Completed {
				continue
			}
			key := fmt.Sprintf("%s|%s|%s|%s|%d", el.RuleID, el.TransactionHash, u.ID, el.MatchedPublicKey, i)
			if seen[key] {
				continue
			}
			seen[key] = true

			entry := Entry{
				RuleID:              el.RuleID,
				UpdateID:            u.ID,
				MatchedPublicKey:    matchedOrSelf(el, u),
				TransactionHash:     el.TransactionHash,
				CompletedAt:         el.CompletedAt,
				ReceivedAt:          u.ReceivedAt,
				PendingConfirmation: el.PendingConfirmation,
			}
			if el.ExecutionParameters != nil {
				entry.Parameters = el.ExecutionParameters
			}
			if rule, err := p.rules.GetAnyOwner(ctx, el.RuleID); err == nil {
				entry.RuleName = rule.RuleName
				entry.ContractID = rule.ContractID
				entry.FunctionName = rule.FunctionName
				if entry.Parameters == nil {
					entry.Parameters = rule.FunctionParameters
				}
			}
			entries = append(entries, entry)
		}
	}

	count := len(entries)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, count, nil
}

// Rejected lists rejections, de-duplicated by (ruleId, rejectedAt), falling
// back to (ruleId, updateId) when rejectedAt is absent.
func (p *Projections) Rejected(ctx context.Context, userID, publicKey string, limit int) ([]Entry, int, error) {
	updates, err := p.loadActorRows(ctx, userID, publicKey)
	if err != nil {
		return nil, 0, err
	}

	seen := make(map[string]bool)
	var entries []Entry
	for _, u := range updates {
		for i := range u.ExecutionResults {
			el := &u.ExecutionResults[i]
			if !el.Skipped || !el.Rejected {
				continue
			}
			var key string
			if el.RejectedAt != nil {
				key = fmt.Sprintf("%s|%d", el.RuleID, el.RejectedAt.UnixNano())
			} else {
				key = fmt.Sprintf("%s|%s", el.RuleID, u.ID)
			}
			if seen[key] {
				continue
			}
			seen[key] = true

			entry := Entry{
				RuleID:           el.RuleID,
				UpdateID:         u.ID,
				MatchedPublicKey: matchedOrSelf(el, u),
				RejectedAt:       el.RejectedAt,
				ReceivedAt:       u.ReceivedAt,
			}
			if rule, err := p.rules.GetAnyOwner(ctx, el.RuleID); err == nil {
				entry.RuleName = rule.RuleName
				entry.ContractID = rule.ContractID
				entry.FunctionName = rule.FunctionName
			}
			entries = append(entries, entry)
		}
	}

	count := len(entries)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, count, nil
}

func matchedOrSelf(el *contracts.ExecutionResult, u *contracts.LocationUpdate) string {
	if el.MatchedPublicKey != "" {
		return el.MatchedPublicKey
	}
	return u.PublicKey
}

func pendingKey(el *contracts.ExecutionResult, u *contracts.LocationUpdate) dedupKey {
	return dedupKey{ruleID: el.RuleID, second: matchedOrSelf(el, u)}
}
