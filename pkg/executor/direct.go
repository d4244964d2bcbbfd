package executor

import (
	"context"
	"fmt"
	"strings"

	"github.com/stellar/go/xdr"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/api"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/chain"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/contracts"
)

// executeDirect invokes the target contract itself. recordCompletion is off
// for auto-execution, where the dispatcher owns the queue row.
func (e *Executor) executeDirect(ctx context.Context, userID string, contract *contracts.CustomContract, rule *contracts.ExecutionRule, req *Request, recordCompletion bool) (*Response, error) {
	sig, mapping, err := e.resolveMapping(ctx, contract, req.FunctionName)
	if err != nil {
		return nil, err
	}

	matchedPK := e.resolveMatchedPublicKey(ctx, userID, req)

	params, err := contracts.CanonicalizeParameters(mapping, req.Parameters, contracts.ParamContext{
		UserPublicKey:      req.UserPublicKey,
		MatchedPublicKey:   matchedPK,
		NativeAssetAddress: chain.NativeSAC(e.network),
	})
	if err != nil {
		return nil, api.NewError(api.CodeValidation, err.Error())
	}

	// WebAuthn inclusion gate: only contracts that verify WebAuthn or route
	// through a smart wallet receive the signature parameters.
	includeWebauthn := contract.RequiresWebauthn || contract.UseSmartWallet
	if !includeWebauthn {
		for name := range params {
			if contracts.IsWebauthnParameter(strings.ToLower(name)) {
				delete(params, name)
			}
		}
	}

	if err := validateAgainstSignature(sig, params, includeWebauthn); err != nil {
		return nil, err
	}

	args, err := encodeArgs(sig, params)
	if err != nil {
		return nil, api.NewError(api.CodeValidation, err.Error())
	}

	secret, err := e.signingSecret(req)
	if err != nil {
		return nil, err
	}

	readOnly := IsReadOnlyFunction(req.FunctionName)
	submitReadonly := req.SubmitToLedger || (rule != nil && rule.SubmitReadonlyToLedger)
	simulateOnly := req.SimulateOnly || (readOnly && !submitReadonly)

	outcome, err := e.invoker.Invoke(ctx, chain.InvokeRequest{
		Network:         e.network,
		SourceSecret:    secret,
		ContractAddress: contract.Address,
		Function:        req.FunctionName,
		Args:            args,
		SimulateOnly:    simulateOnly,
	})
	if err != nil {
		return nil, classifyChainError(err)
	}

	returnValue, err := chain.DecodeReturnValue(outcome.ReturnValueXDR)
	if err != nil {
		e.logger.Warn("return value decode failed", "function", req.FunctionName, "error", err)
	}

	resp := &Response{
		Success:             true,
		TransactionHash:     outcome.Hash,
		Ledger:              outcome.Ledger,
		ContractReturnValue: returnValue,
		Simulated:           simulateOnly,
		PendingConfirmation: outcome.PendingConfirmation,
		Parameters:          params,
	}
	if outcome.Hash != "" {
		resp.StellarExpertURL = chain.ExplorerURL(e.network, outcome.Hash)
	}

	// A boolean false from the contract is a domain failure, not a chain
	// failure.
	if isFalse, _ := chain.ReturnValueIsFalse(outcome.ReturnValueXDR); isFalse && !simulateOnly {
		return nil, api.NewError(api.CodeExecutionFailed, fmt.Sprintf("contract function %s returned false", req.FunctionName)).
			WithDetail("transaction_hash", outcome.Hash)
	}

	if recordCompletion && !simulateOnly {
		e.markCompleted(ctx, userID, req, resp, matchedPK)
	}
	return resp, nil
}

// resolveMapping returns the function signature and its invocation mapping,
// auto-generating and persisting a mapping when none exists.
func (e *Executor) resolveMapping(ctx context.Context, contract *contracts.CustomContract, functionName string) (contracts.FunctionSig, contracts.Mapping, error) {
	sig, haveSig := contract.DiscoveredFunctions[functionName]
	mapping, haveMapping := contract.FunctionMappings[functionName]

	if !haveSig && !haveMapping {
		return sig, mapping, api.NewError(api.CodeValidation,
			fmt.Sprintf("function %s is not discovered on this contract", functionName)).
			WithSuggestion("run POST /contracts/discover to refresh the interface")
	}
	if !haveMapping {
		mapping = contracts.DeriveDefaultMapping(sig)
		if err := e.contracts.SaveMapping(ctx, contract.ID, functionName, mapping); err != nil {
			e.logger.Warn("persisting generated mapping failed",
				"contract_id", contract.ID, "function", functionName, "error", err)
		}
	}
	if !haveSig {
		// Reconstruct a signature from the mapping for validation.
		sig.Name = functionName
		for _, p := range mapping.Parameters {
			sig.Parameters = append(sig.Parameters, contracts.FunctionParameter{Name: p.Name, Type: p.Type})
		}
		sig.ReturnType = mapping.ReturnType
	}
	return sig, mapping, nil
}

// validateAgainstSignature reports every violation at once: missing required
// parameters and unknown names.
func validateAgainstSignature(sig contracts.FunctionSig, params map[string]any, includeWebauthn bool) error {
	known := make(map[string]bool, len(sig.Parameters))
	var violations []string

	for _, p := range sig.Parameters {
		known[p.Name] = true
		if contracts.IsWebauthnParameter(strings.ToLower(p.Name)) && !includeWebauthn {
			continue
		}
		if _, ok := params[p.Name]; !ok {
			violations = append(violations, fmt.Sprintf("missing required parameter %s", p.Name))
		}
	}
	for name := range params {
		if !known[name] {
			violations = append(violations, fmt.Sprintf("unknown parameter %s", name))
		}
	}

	if len(violations) > 0 {
		return api.NewError(api.CodeValidation, "parameter validation failed").
			WithDetail("violations", violations)
	}
	return nil
}

// encodeArgs converts parameters to ScVals in declared signature order.
func encodeArgs(sig contracts.FunctionSig, params map[string]any) ([]xdr.ScVal, error) {
	var args []xdr.ScVal
	for _, p := range sig.Parameters {
		v, ok := params[p.Name]
		if !ok {
			continue
		}
		arg, err := chain.EncodeArg(p.Type, v)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", p.Name, err)
		}
		args = append(args, arg)
	}
	return args, nil
}

// classifyChainError separates contract-level failure from transport
// failure below the contract layer.
func classifyChainError(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "failed on ledger") {
		return api.NewError(api.CodeExecutionFailed, msg)
	}
	return api.NewError(api.CodeChainError, msg)
}
