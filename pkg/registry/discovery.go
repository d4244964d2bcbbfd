package registry

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/chain"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/contracts"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/wasmstore"
)

// Discoverer resolves a contract's public interface from the ledger.
type Discoverer struct {
	rpc    chain.RPCClient
	logger *slog.Logger
}

func NewDiscoverer(rpc chain.RPCClient, logger *slog.Logger) *Discoverer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discoverer{rpc: rpc, logger: logger}
}

// DiscoveryResult is what POST /contracts/discover returns: the interface
// plus conservative defaults the operator can edit before saving.
type DiscoveryResult struct {
	Functions               map[string]contracts.FunctionSig `json:"functions"`
	DefaultFunctionMappings map[string]contracts.Mapping     `json:"default_function_mappings"`
	DefaultRules            []contracts.ExecutionRule        `json:"default_rules"`
}

// sacFunctions is the token interface every Stellar Asset Contract exposes.
// SAC instances carry no WASM, so there is no spec section to read.
var sacFunctions = []contracts.FunctionSig{
	{Name: "balance", Parameters: []contracts.FunctionParameter{{Name: "id", Type: "address"}}, ReturnType: "i128"},
	{Name: "transfer", Parameters: []contracts.FunctionParameter{
		{Name: "from", Type: "address"}, {Name: "to", Type: "address"}, {Name: "amount", Type: "i128"},
	}},
	{Name: "decimals", ReturnType: "u32"},
	{Name: "name", ReturnType: "string"},
	{Name: "symbol", ReturnType: "string"},
}

// Discover verifies the contract exists on the ledger and derives its
// function signatures, default mappings, and proposed rules.
func (d *Discoverer) Discover(ctx context.Context, address string, net contracts.Network) (*DiscoveryResult, error) {
	if !contracts.ValidAddressShape(address) {
		return nil, ErrBadAddress
	}

	wasmHash, hasWasm, err := chain.ContractWasmHash(ctx, d.rpc, address)
	if err != nil {
		return nil, err
	}

	var sigs []contracts.FunctionSig
	if hasWasm {
		code, err := chain.ContractCode(ctx, d.rpc, wasmHash)
		if err != nil {
			return nil, err
		}
		sigs, err = wasmstore.ExtractFunctions(ctx, code)
		if err != nil {
			return nil, err
		}
	} else {
		sigs = sacFunctions
	}

	result := &DiscoveryResult{
		Functions:               make(map[string]contracts.FunctionSig, len(sigs)),
		DefaultFunctionMappings: make(map[string]contracts.Mapping, len(sigs)),
	}
	for _, sig := range sigs {
		result.Functions[sig.Name] = sig
		mapping := contracts.DeriveDefaultMapping(sig)
		result.DefaultFunctionMappings[sig.Name] = mapping
		if mapping.UsesLocation() {
			result.DefaultRules = append(result.DefaultRules, proposedLocationRule(sig.Name))
		}
	}

	d.logger.Info("contract discovered",
		"address", address, "network", string(net), "functions", len(sigs))
	return result, nil
}

// proposedLocationRule is the inactive starter rule offered for functions
// that consume coordinates. The operator supplies center and ownership on
// save.
func proposedLocationRule(functionName string) contracts.ExecutionRule {
	radius := 100.0
	return contracts.ExecutionRule{
		RuleName:             fmt.Sprintf("%s location trigger", functionName),
		RuleType:             contracts.RuleTypeLocation,
		RadiusMeters:         &radius,
		FunctionName:         functionName,
		TriggerOn:            contracts.TriggerEnter,
		AutoExecute:          false,
		RequiresConfirmation: true,
		IsActive:             false,
	}
}

// VerifyWasm compares an uploaded module against the code hash installed
// on-chain for address. Mismatches are reported, never blocking.
func (d *Discoverer) VerifyWasm(ctx context.Context, address string, code []byte) *contracts.WasmVerification {
	v := &contracts.WasmVerification{
		LocalHash: wasmstore.HashHex(code),
		CheckedAt: time.Now().UTC().Format(time.RFC3339),
	}

	wasmHash, hasWasm, err := chain.ContractWasmHash(ctx, d.rpc, address)
	if err != nil {
		v.FailureNote = err.Error()
		return v
	}
	if !hasWasm {
		v.FailureNote = "contract has no installed WASM (built-in executable)"
		return v
	}
	v.OnChainHash = hex.EncodeToString(wasmHash[:])
	v.Verified = v.OnChainHash == v.LocalHash
	return v
}
