// Package dispatch turns ingested location updates into queue rows and
// per-rule decisions: execute inline, hold for WebAuthn, or skip.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/contracts"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/geomatch"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/observability"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/queue"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/rules"
)

// ContractSource resolves the contract a rule fires against.
type ContractSource interface {
	GetAnyOwner(ctx context.Context, id string) (*contracts.CustomContract, error)
}

// AutoExecutor runs one rule inline with the server-side credential. The
// returned result must be terminal on success.
type AutoExecutor interface {
	AutoExecute(ctx context.Context, rule *contracts.ExecutionRule, contract *contracts.CustomContract, update *contracts.LocationUpdate) (contracts.ExecutionResult, error)
}

// BalanceChecker reports whether a rule's monitored balance sits below its
// auto-deactivation threshold.
type BalanceChecker interface {
	BelowThreshold(ctx context.Context, rule *contracts.ExecutionRule, contract *contracts.CustomContract) (bool, error)
}

// Dispatcher wires the matcher, queue, and executor together for ingest.
type Dispatcher struct {
	matcher   *geomatch.Matcher
	queue     *queue.PostgresQueue
	history   *queue.PostgresHistory
	quorum    *rules.QuorumChecker
	ruleStore *rules.PostgresRules
	contracts ContractSource
	executor  AutoExecutor
	balances  BalanceChecker
	metrics   *observability.Provider
	logger    *slog.Logger

	// hasServerCredential reports whether a service signing key is
	// configured; without one, WebAuthn-bound rules always queue.
	hasServerCredential bool
}

func NewDispatcher(
	matcher *geomatch.Matcher,
	q *queue.PostgresQueue,
	history *queue.PostgresHistory,
	quorum *rules.QuorumChecker,
	ruleStore *rules.PostgresRules,
	contractSource ContractSource,
	executor AutoExecutor,
	balances BalanceChecker,
	metrics *observability.Provider,
	hasServerCredential bool,
	logger *slog.Logger,
) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		matcher:             matcher,
		queue:               q,
		history:             history,
		quorum:              quorum,
		ruleStore:           ruleStore,
		contracts:           contractSource,
		executor:            executor,
		balances:            balances,
		metrics:             metrics,
		hasServerCredential: hasServerCredential,
		logger:              logger,
	}
}

// Ingest matches one device position against active rules, persists the
// queue row, and dispatches every matched rule. The returned row carries
// one ExecutionResult per match, in match order.
func (d *Dispatcher) Ingest(ctx context.Context, userID, publicKey string, lat, lng float64) (*contracts.LocationUpdate, error) {
	matches, err := d.matcher.MatchPoint(ctx, lat, lng)
	if err != nil {
		return nil, fmt.Errorf("dispatch: matching: %w", err)
	}
	if d.metrics != nil {
		d.metrics.RecordMatch(ctx, len(matches))
	}

	update := &contracts.LocationUpdate{
		UserID:     userID,
		PublicKey:  publicKey,
		Latitude:   lat,
		Longitude:  lng,
		ReceivedAt: time.Now().UTC(),
		Status:     contracts.UpdateMatched,
	}
	for _, m := range matches {
		update.MatchedRuleIDs = append(update.MatchedRuleIDs, m.Rule.ID)
	}

	update, err = d.queue.Insert(ctx, update)
	if err != nil {
		return nil, fmt.Errorf("dispatch: inserting queue row: %w", err)
	}
	if len(matches) == 0 {
		return update, nil
	}

	anyTerminal := false
	for _, m := range matches {
		result := d.decide(ctx, m.Rule, update)
		update.ExecutionResults = append(update.ExecutionResults, result)
		if result.Terminal() {
			anyTerminal = true
		}
		if d.metrics != nil && result.Skipped {
			d.metrics.RecordSkip(ctx, string(result.Reason))
		}
	}

	now := time.Now().UTC()
	update.ProcessedAt = &now
	if anyTerminal {
		update.Status = contracts.UpdateExecuted
	}
	if err := d.queue.SaveDispatchOutcome(ctx, update); err != nil {
		return nil, fmt.Errorf("dispatch: saving outcome: %w", err)
	}
	return update, nil
}

// decide applies the dispatch gates in order: rate limit, quorum, balance
// auto-deactivation, WebAuthn, auto-execute, confirmation.
func (d *Dispatcher) decide(ctx context.Context, rule *contracts.ExecutionRule, update *contracts.LocationUpdate) contracts.ExecutionResult {
	matchedPK := update.PublicKey
	if rule.TargetWalletPublicKey != nil && *rule.TargetWalletPublicKey != "" {
		matchedPK = *rule.TargetWalletPublicKey
	}
	skip := func(reason contracts.SkipReason) contracts.ExecutionResult {
		return contracts.ExecutionResult{
			RuleID:           rule.ID,
			Skipped:          true,
			Reason:           reason,
			MatchedPublicKey: matchedPK,
		}
	}

	contract, err := d.contracts.GetAnyOwner(ctx, rule.ContractID)
	if err != nil || !contract.IsActive {
		return skip(contracts.SkipContractInactive)
	}

	if reached, count, err := d.history.RateLimitReached(ctx, rule, update.PublicKey); err != nil {
		d.logger.Warn("rate limit check failed", "rule_id", rule.ID, "error", err)
	} else if reached {
		d.logger.Info("rule rate limited", "rule_id", rule.ID, "count", count)
		return skip(contracts.SkipRateLimited)
	}

	if rule.HasQuorum() {
		report, err := d.quorum.Check(ctx, rule)
		if err != nil {
			d.logger.Warn("quorum check failed", "rule_id", rule.ID, "error", err)
			return skip(contracts.SkipQuorumUnmet)
		}
		if !report.QuorumMet {
			return skip(contracts.SkipQuorumUnmet)
		}
	}

	if rule.AutoDeactivateOnBalanceThreshold && d.balances != nil {
		below, err := d.balances.BelowThreshold(ctx, rule, contract)
		if err != nil {
			d.logger.Warn("balance check failed", "rule_id", rule.ID, "error", err)
		} else if below {
			if err := d.ruleStore.Deactivate(ctx, rule.ID); err != nil {
				d.logger.Warn("rule deactivation failed", "rule_id", rule.ID, "error", err)
			} else {
				d.logger.Info("rule deactivated on balance threshold", "rule_id", rule.ID)
			}
			return skip(contracts.SkipBalanceLow)
		}
	}

	if contract.RequiresWebauthn && !d.hasServerCredential {
		// Actionable: the user completes or rejects it later.
		return skip(contracts.SkipRequiresWebauthn)
	}

	if rule.AutoExecute {
		return d.autoExecute(ctx, rule, contract, update, matchedPK)
	}

	return skip(contracts.SkipRequiresConfirmation)
}

func (d *Dispatcher) autoExecute(ctx context.Context, rule *contracts.ExecutionRule, contract *contracts.CustomContract, update *contracts.LocationUpdate, matchedPK string) contracts.ExecutionResult {
	started := time.Now()
	result, err := d.executor.AutoExecute(ctx, rule, contract, update)
	elapsed := time.Since(started)

	if err != nil {
		d.logger.Error("auto-execution failed", "rule_id", rule.ID, "error", err)
		if d.metrics != nil {
			d.metrics.RecordExecution(ctx, "failed", elapsed)
		}
		success := false
		return contracts.ExecutionResult{
			RuleID:           rule.ID,
			Success:          &success,
			MatchedPublicKey: matchedPK,
			Error:            err.Error(),
		}
	}

	if d.metrics != nil {
		d.metrics.RecordExecution(ctx, "completed", elapsed)
	}
	if result.MatchedPublicKey == "" {
		result.MatchedPublicKey = matchedPK
	}

	if result.Completed && result.TransactionHash != "" {
		summary := map[string]any{
			"rule_id":          rule.ID,
			"transaction_hash": result.TransactionHash,
			"auto_execute":     true,
		}
		if err := d.history.Record(ctx, rule.ID, update.PublicKey, result.TransactionHash, summary); err != nil {
			d.logger.Warn("recording execution history failed", "rule_id", rule.ID, "error", err)
		}
	}
	return result
}
