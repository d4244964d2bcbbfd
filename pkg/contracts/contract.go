// Package contracts defines the domain types shared across the GeoLink
// engine: registered Soroban contracts, execution rules, and the durable
// location-update queue entries they produce.
package contracts

import (
	"regexp"
	"time"
)

// Network identifies which Stellar network a contract lives on.
type Network string

const (
	NetworkTestnet Network = "testnet"
	NetworkMainnet Network = "mainnet"
)

// addressPattern is the strkey shape shared by account (G...) and
// contract (C...) addresses.
var addressPattern = regexp.MustCompile(`^[A-Z0-9]{56}$`)

// ValidAddressShape reports whether s has the 56-char base32 strkey shape.
// It does not verify the strkey checksum; pkg/chain does that where it
// matters.
func ValidAddressShape(s string) bool {
	return addressPattern.MatchString(s)
}

// FunctionParameter is one parameter of a discovered contract function.
type FunctionParameter struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// FunctionSig is a public function signature discovered on-chain.
type FunctionSig struct {
	Name       string              `json:"name"`
	Parameters []FunctionParameter `json:"parameters"`
	ReturnType string              `json:"return_type,omitempty"`
}

// MappedFrom values are the known sources a function parameter can be
// auto-populated from at execution time.
const (
	MappedFromUserPublicKey    = "user_public_key"
	MappedFromMatchedPublicKey = "matched_public_key"
	MappedFromNativeAsset      = "native_asset"
	MappedFromAmountStroops    = "amount_stroops"
	MappedFromLatitude         = "latitude"
	MappedFromLongitude        = "longitude"
	MappedFromSystemGenerated  = "system_generated"
	MappedFromManual           = "manual"
)

// MappingParameter binds a function parameter to its population source.
type MappingParameter struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	MappedFrom string `json:"mapped_from"`
}

// Mapping describes how a contract function is invoked by the engine.
type Mapping struct {
	Parameters           []MappingParameter `json:"parameters"`
	ReturnType           string             `json:"return_type,omitempty"`
	AutoExecute          bool               `json:"auto_execute"`
	RequiresConfirmation bool               `json:"requires_confirmation"`
}

// WasmVerification records the outcome of comparing an uploaded module
// against the hash installed on-chain. A mismatch is reported, never
// blocking (the chain is authoritative at execution time anyway).
type WasmVerification struct {
	Verified     bool   `json:"verified"`
	LocalHash    string `json:"local_hash,omitempty"`
	OnChainHash  string `json:"on_chain_hash,omitempty"`
	CheckedAt    string `json:"checked_at,omitempty"`
	FailureNote  string `json:"failure_note,omitempty"`
}

// WasmMeta describes an uploaded WASM module attached to a contract.
type WasmMeta struct {
	Hash         string            `json:"hash"`
	Size         int64             `json:"size"`
	StorageKey   string            `json:"storage_key"`
	UploadedAt   time.Time         `json:"uploaded_at"`
	Verification *WasmVerification `json:"verification,omitempty"`
}

// CustomContract is an operator-registered external contract together with
// its discovered interface and invocation mappings.
type CustomContract struct {
	ID                         string                 `json:"id"`
	UserID                     string                 `json:"user_id"`
	Address                    string                 `json:"address"`
	Name                       string                 `json:"name,omitempty"`
	Network                    Network                `json:"network"`
	DiscoveredFunctions        map[string]FunctionSig `json:"discovered_functions,omitempty"`
	FunctionMappings           map[string]Mapping     `json:"function_mappings,omitempty"`
	UseSmartWallet             bool                   `json:"use_smart_wallet"`
	SmartWalletContractID      string                 `json:"smart_wallet_contract_id,omitempty"`
	PaymentFunctionName        string                 `json:"payment_function_name,omitempty"`
	RequiresWebauthn           bool                   `json:"requires_webauthn"`
	WebauthnVerifierContractID string                 `json:"webauthn_verifier_contract_id,omitempty"`
	WasmMeta                   *WasmMeta              `json:"wasm_meta,omitempty"`
	IsActive                   bool                   `json:"is_active"`
	CreatedAt                  time.Time              `json:"created_at"`
	UpdatedAt                  time.Time              `json:"updated_at"`
}

// NormalizeFunctions re-keys discovered functions by name and drops entries
// whose name is empty. Arrays arriving from older clients are normalized on
// every write so lookups stay keyed.
func NormalizeFunctions(fns map[string]FunctionSig) map[string]FunctionSig {
	if fns == nil {
		return nil
	}
	out := make(map[string]FunctionSig, len(fns))
	for key, sig := range fns {
		name := sig.Name
		if name == "" {
			name = key
			sig.Name = key
		}
		if name == "" {
			continue
		}
		out[name] = sig
	}
	return out
}

// WebauthnParameterNames are the parameter names the executor injects or
// strips depending on the contract's WebAuthn posture.
var WebauthnParameterNames = []string{
	"signature_payload",
	"webauthn_signature",
	"webauthn_authenticator_data",
	"webauthn_client_data",
}

// IsWebauthnParameter reports whether name is one of the WebAuthn-bound
// parameters (exact names plus the webauthn_ prefix family).
func IsWebauthnParameter(name string) bool {
	if name == "signature_payload" {
		return true
	}
	return len(name) > 9 && name[:9] == "webauthn_"
}
