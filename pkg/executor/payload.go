package executor

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/api"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/contracts"
)

// SignaturePayload is the object the WebAuthn signature commits to. Field
// order is part of the contract: exactly these six keys, in this order,
// amount in stroops as a string, asset as the SAC contract address.
type SignaturePayload struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Amount      string `json:"amount"`
	Asset       string `json:"asset"`
	Memo        string `json:"memo"`
	Timestamp   int64  `json:"timestamp"`
}

// Bytes renders the canonical JSON encoding fed to the contract.
func (p SignaturePayload) Bytes() ([]byte, error) {
	return json.Marshal(p)
}

// isLegacyPayload detects the older payload shape keyed by function and
// contract id.
func isLegacyPayload(raw map[string]any) bool {
	if raw == nil {
		return false
	}
	_, hasFunction := raw["function"]
	_, hasContractID := raw["contract_id"]
	return hasFunction || hasContractID
}

// buildSignaturePayload produces the canonical payload. When the caller
// supplied one, it is normalized into the six-key shape keeping the
// caller's timestamp; a payload is never regenerated while a WebAuthn
// signature is attached, except for unsigned legacy-shaped payloads.
func buildSignaturePayload(raw map[string]any, signatureAttached bool, source, destination, amount, asset string) (SignaturePayload, error) {
	if raw != nil && isLegacyPayload(raw) && signatureAttached {
		return SignaturePayload{}, api.NewError(api.CodeValidation,
			"legacy signature payloads cannot carry a WebAuthn signature").
			WithSuggestion("re-sign over the canonical {source,destination,amount,asset,memo,timestamp} payload")
	}

	p := SignaturePayload{
		Source:      source,
		Destination: destination,
		Amount:      amount,
		Asset:       asset,
		Timestamp:   time.Now().Unix(),
	}

	if raw == nil || isLegacyPayload(raw) {
		return p, nil
	}

	// Normalize the caller's payload, preserving its timestamp. When a
	// signature is attached the signed values win over derived ones.
	if v, ok := payloadString(raw, "source"); ok && (signatureAttached || v != "") {
		p.Source = v
	}
	if v, ok := payloadString(raw, "destination"); ok && (signatureAttached || v != "") {
		p.Destination = v
	}
	if v, ok := raw["amount"]; ok {
		canonical, err := contracts.CanonicalizeAmount(v)
		if err != nil {
			return SignaturePayload{}, api.NewError(api.CodeValidation, fmt.Sprintf("signature payload amount: %v", err))
		}
		p.Amount = canonical
	}
	if v, ok := payloadString(raw, "asset"); ok {
		if contracts.IsNativeAssetAlias(v) {
			p.Asset = asset
		} else {
			p.Asset = v
		}
	}
	if v, ok := payloadString(raw, "memo"); ok {
		p.Memo = v
	}
	if ts, ok := payloadTimestamp(raw); ok {
		p.Timestamp = ts
	}
	return p, nil
}

func payloadString(raw map[string]any, key string) (string, bool) {
	v, ok := raw[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func payloadTimestamp(raw map[string]any) (int64, bool) {
	v, ok := raw["timestamp"]
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return int64(t), true
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
