// Package executor builds, signs, submits and records contract invocations.
// Two sub-paths exist: direct invocation of the target contract, and
// payments routed through a WebAuthn-gated smart-wallet contract.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/api"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/chain"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/contracts"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/queue"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/rules"
)

// paymentNameHints mark a function as payment-like by name.
var paymentNameHints = []string{"transfer", "payment", "send", "pay", "withdraw", "deposit"}

// readOnlyPrefixes mark a function as read-only by name.
var readOnlyPrefixes = []string{"get_", "is_", "has_", "check_", "query_", "view_", "read_", "fetch_"}

// destinationKeys and amountKeys make a parameter set payment-like when both
// families appear.
var destinationKeys = []string{"destination", "recipient", "to", "to_address"}
var amountKeys = []string{"amount", "amount_xlm", "value"}

// IsPaymentFunction reports whether a call moves value: the name carries a
// payment hint, or the parameters name both a destination and an amount.
func IsPaymentFunction(name string, params map[string]any) bool {
	lower := strings.ToLower(name)
	for _, hint := range paymentNameHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	hasDest, hasAmount := false, false
	for k := range params {
		lk := strings.ToLower(k)
		for _, d := range destinationKeys {
			if lk == d {
				hasDest = true
			}
		}
		for _, a := range amountKeys {
			if lk == a {
				hasAmount = true
			}
		}
	}
	return hasDest && hasAmount
}

// IsReadOnlyFunction applies the name-prefix heuristic for calls that do not
// change state.
func IsReadOnlyFunction(name string) bool {
	lower := strings.ToLower(name)
	for _, p := range readOnlyPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

// ContractSource is the registry surface the executor needs.
type ContractSource interface {
	GetAnyOwner(ctx context.Context, id string) (*contracts.CustomContract, error)
	SaveMapping(ctx context.Context, contractID, functionName string, m contracts.Mapping) error
}

// Request is one execution ask, as posted to /contracts/:id/execute.
type Request struct {
	ContractID   string         `json:"-"`
	FunctionName string         `json:"function_name"`
	Parameters   map[string]any `json:"parameters"`

	UserPublicKey string `json:"user_public_key"`
	UserSecretKey string `json:"user_secret_key,omitempty"`

	RuleID           string `json:"rule_id,omitempty"`
	UpdateID         string `json:"update_id,omitempty"`
	MatchedPublicKey string `json:"matched_public_key,omitempty"`
	PaymentSource    string `json:"payment_source,omitempty"`

	PasskeyPublicKeySPKI      string         `json:"passkeyPublicKeySPKI,omitempty"`
	WebauthnSignature         string         `json:"webauthnSignature,omitempty"`
	WebauthnAuthenticatorData string         `json:"webauthnAuthenticatorData,omitempty"`
	WebauthnClientData        string         `json:"webauthnClientData,omitempty"`
	SignaturePayload          map[string]any `json:"signaturePayload,omitempty"`

	SubmitToLedger bool `json:"submit_to_ledger,omitempty"`
	SimulateOnly   bool `json:"-"`
}

// Response is the execution outcome returned to the caller.
type Response struct {
	Success                  bool           `json:"success"`
	TransactionHash          string         `json:"transaction_hash,omitempty"`
	Ledger                   uint32         `json:"ledger,omitempty"`
	StellarExpertURL         string         `json:"stellar_expert_url,omitempty"`
	RoutedThroughSmartWallet bool           `json:"routed_through_smart_wallet,omitempty"`
	ContractReturnValue      any            `json:"contract_return_value,omitempty"`
	Simulated                bool           `json:"simulated,omitempty"`
	PendingConfirmation      bool           `json:"pending_confirmation,omitempty"`
	Parameters               map[string]any `json:"parameters,omitempty"`
	UpdateWarning            string         `json:"update_warning,omitempty"`
}

// Executor coordinates the full execution flow against one network.
type Executor struct {
	contracts ContractSource
	rules     *rules.PostgresRules
	queue     *queue.PostgresQueue
	quorum    *rules.QuorumChecker
	manager   *queue.Manager
	passkeys  *PasskeyCache
	invoker   *chain.Invoker
	network   contracts.Network
	// serviceSecret is the fee/source key for smart-wallet submissions and
	// auto-executions. In-memory only; never logged.
	serviceSecret string
	logger        *slog.Logger
}

func New(
	contractSource ContractSource,
	ruleStore *rules.PostgresRules,
	q *queue.PostgresQueue,
	quorum *rules.QuorumChecker,
	manager *queue.Manager,
	passkeys *PasskeyCache,
	invoker *chain.Invoker,
	network contracts.Network,
	serviceSecret string,
	logger *slog.Logger,
) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		contracts:     contractSource,
		rules:         ruleStore,
		queue:         q,
		quorum:        quorum,
		manager:       manager,
		passkeys:      passkeys,
		invoker:       invoker,
		network:       network,
		serviceSecret: serviceSecret,
		logger:        logger,
	}
}

// Execute runs one invocation end to end: resolve the contract and rule,
// enforce the quorum gate, choose the path, invoke, and record completion.
func (e *Executor) Execute(ctx context.Context, userID string, req *Request) (*Response, error) {
	if req.FunctionName == "" {
		return nil, api.NewError(api.CodeValidation, "function_name is required")
	}

	contract, err := e.contracts.GetAnyOwner(ctx, req.ContractID)
	if err != nil {
		return nil, api.NewError(api.CodeNotFound, "contract not found")
	}
	if !contract.IsActive {
		return nil, api.NewError(api.CodeNotFound, "contract not found")
	}

	var rule *contracts.ExecutionRule
	if req.RuleID != "" {
		rule, err = e.rules.GetAnyOwner(ctx, req.RuleID)
		if err != nil {
			return nil, api.NewError(api.CodeNotFound, "rule not found")
		}
		if rule.HasQuorum() {
			report, err := e.quorum.Check(ctx, rule)
			if err != nil {
				return nil, fmt.Errorf("executor: quorum check: %w", err)
			}
			if !report.QuorumMet {
				return nil, api.NewError(api.CodeQuorumUnmet, "required wallets are not in range").
					WithDetail("wallets_in_range", report.WalletsInRange).
					WithDetail("wallets_out_of_range", report.WalletsOutOfRange).
					WithDetail("minimum_required", report.MinimumRequired)
			}
		}
	}

	if e.routeSmartWallet(contract, req) {
		return e.executeSmartWallet(ctx, userID, contract, rule, req)
	}
	return e.executeDirect(ctx, userID, contract, rule, req, true)
}

// routeSmartWallet is the routing predicate: an explicit smart-wallet
// payment source, or a smart-wallet contract whose function moves value.
func (e *Executor) routeSmartWallet(c *contracts.CustomContract, req *Request) bool {
	if req.PaymentSource == "smart-wallet" {
		return true
	}
	return c.UseSmartWallet && c.SmartWalletContractID != "" &&
		IsPaymentFunction(req.FunctionName, req.Parameters)
}

// AutoExecute runs a rule inline during dispatch with the service
// credential, skipping the completion manager: the dispatcher writes the
// terminal result into the freshly inserted row itself.
func (e *Executor) AutoExecute(ctx context.Context, rule *contracts.ExecutionRule, contract *contracts.CustomContract, update *contracts.LocationUpdate) (contracts.ExecutionResult, error) {
	if e.serviceSecret == "" {
		return contracts.ExecutionResult{}, fmt.Errorf("executor: no service credential configured for auto-execution")
	}

	req := &Request{
		ContractID:       contract.ID,
		FunctionName:     rule.FunctionName,
		Parameters:       rule.FunctionParameters,
		UserPublicKey:    update.PublicKey,
		UserSecretKey:    e.serviceSecret,
		MatchedPublicKey: update.PublicKey,
		SubmitToLedger:   rule.SubmitReadonlyToLedger,
	}
	if rule.TargetWalletPublicKey != nil && *rule.TargetWalletPublicKey != "" {
		req.MatchedPublicKey = *rule.TargetWalletPublicKey
	}

	resp, err := e.executeDirect(ctx, rule.UserID, contract, rule, req, false)
	if err != nil {
		return contracts.ExecutionResult{}, err
	}

	now := time.Now().UTC()
	success := resp.Success
	return contracts.ExecutionResult{
		RuleID:              rule.ID,
		Completed:           true,
		CompletedAt:         &now,
		TransactionHash:     resp.TransactionHash,
		Success:             &success,
		PendingConfirmation: resp.PendingConfirmation,
		MatchedPublicKey:    req.MatchedPublicKey,
		ExecutionParameters: resp.Parameters,
		DirectExecution:     true,
	}, nil
}

// resolveMatchedPublicKey fills the destination identity from the queue when
// the caller referenced a rule without supplying one.
func (e *Executor) resolveMatchedPublicKey(ctx context.Context, userID string, req *Request) string {
	if req.MatchedPublicKey != "" {
		return req.MatchedPublicKey
	}
	if req.RuleID == "" {
		return ""
	}
	pk, err := e.queue.MatchedPublicKeyFor(ctx, userID, req.RuleID)
	if err != nil {
		e.logger.Warn("matched key lookup failed", "rule_id", req.RuleID, "error", err)
		return ""
	}
	return pk
}

// signingSecret picks the caller's key when supplied, otherwise the service
// key.
func (e *Executor) signingSecret(req *Request) (string, error) {
	if req.UserSecretKey != "" {
		return req.UserSecretKey, nil
	}
	if e.serviceSecret != "" {
		return e.serviceSecret, nil
	}
	return "", api.NewError(api.CodeValidation, "user_secret_key is required when no service signing key is configured")
}

// markCompleted records the completion through the manager, surfacing a
// warning instead of an error: a C7 failure must never mask a successful
// chain submission.
func (e *Executor) markCompleted(ctx context.Context, userID string, req *Request, resp *Response, matchedPK string) {
	if req.RuleID == "" {
		return
	}
	_, err := e.manager.MarkCompleted(ctx, queue.CompletionRequest{
		RuleID:              req.RuleID,
		UserID:              userID,
		UpdateID:            req.UpdateID,
		MatchedPublicKey:    matchedPK,
		TransactionHash:     resp.TransactionHash,
		ExecutionParameters: resp.Parameters,
		PendingConfirmation: resp.PendingConfirmation,
	})
	if err != nil {
		e.logger.Error("completion update failed after submission",
			"rule_id", req.RuleID, "tx_hash", resp.TransactionHash, "error", err)
		resp.UpdateWarning = "execution succeeded but recording completion failed; use the recovery endpoint to reconcile"
	}
}
