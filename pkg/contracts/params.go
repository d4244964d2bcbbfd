package contracts

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// SystemGeneratedPlaceholder marks WebAuthn-bound parameters in pending
// projections; the client replaces them with real authenticator output.
const SystemGeneratedPlaceholder = "system_generated"

// stroopsPerXLM converts lumens to the on-chain integer unit.
const stroopsPerXLM = 10_000_000

// xlmHeuristicCeiling is the boundary below which a bare number is read as
// XLM rather than stroops.
const xlmHeuristicCeiling = 1_000_000

// ParamContext carries the execution-time values parameters are populated
// from.
type ParamContext struct {
	UserPublicKey      string
	MatchedPublicKey   string
	NativeAssetAddress string
	Latitude           float64
	Longitude          float64
	HasCoordinates     bool
	// FillSystemPlaceholders writes the placeholder marker into missing
	// WebAuthn parameters instead of leaving them absent. Projections use
	// it; the executor injects real values itself.
	FillSystemPlaceholders bool
}

// CanonicalizeAmount normalizes an amount to integer stroops rendered as a
// string. Inputs with a decimal point, or bare numbers below 10^6, are read
// as XLM and multiplied by 10^7; anything else is already stroops. The
// function is idempotent: its outputs pass through unchanged.
func CanonicalizeAmount(v any) (string, error) {
	switch n := v.(type) {
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return "", fmt.Errorf("empty amount")
		}
		if strings.Contains(s, ".") {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return "", fmt.Errorf("amount %q is not numeric", s)
			}
			return strconv.FormatInt(int64(math.Round(f*stroopsPerXLM)), 10), nil
		}
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return "", fmt.Errorf("amount %q is not numeric", s)
		}
		if i < xlmHeuristicCeiling {
			return strconv.FormatInt(i*stroopsPerXLM, 10), nil
		}
		return strconv.FormatInt(i, 10), nil
	case float64:
		if n != math.Trunc(n) || n < xlmHeuristicCeiling {
			return strconv.FormatInt(int64(math.Round(n*stroopsPerXLM)), 10), nil
		}
		return strconv.FormatInt(int64(n), 10), nil
	case int:
		return CanonicalizeAmount(float64(n))
	case int64:
		return CanonicalizeAmount(float64(n))
	default:
		return "", fmt.Errorf("amount has unsupported type %T", v)
	}
}

// IsNativeAssetAlias reports whether a caller-supplied asset value names the
// native asset rather than a SAC address.
func IsNativeAssetAlias(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "xlm", "native":
		return true
	}
	return false
}

// CanonicalizeParameters applies a mapping to raw caller parameters,
// auto-populating from the context: destinations resolve to the matched
// public key, native asset aliases to the SAC address, small amounts to
// stroops, coordinates to the triggering update's position. Raw keys with
// no mapping entry pass through untouched. The input map is not mutated.
func CanonicalizeParameters(mapping Mapping, raw map[string]any, pctx ParamContext) (map[string]any, error) {
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		out[k] = v
	}

	for _, p := range mapping.Parameters {
		v, present := out[p.Name]
		switch p.MappedFrom {
		case MappedFromUserPublicKey:
			if isPlaceholderAddress(v, present) && pctx.UserPublicKey != "" {
				out[p.Name] = pctx.UserPublicKey
			}
		case MappedFromMatchedPublicKey:
			if isPlaceholderAddress(v, present) && pctx.MatchedPublicKey != "" {
				out[p.Name] = pctx.MatchedPublicKey
			}
		case MappedFromNativeAsset:
			s, _ := v.(string)
			if (!present || IsNativeAssetAlias(s)) && pctx.NativeAssetAddress != "" {
				out[p.Name] = pctx.NativeAssetAddress
			}
		case MappedFromAmountStroops:
			if present {
				canonical, err := CanonicalizeAmount(v)
				if err != nil {
					return nil, fmt.Errorf("parameter %s: %w", p.Name, err)
				}
				out[p.Name] = canonical
			}
		case MappedFromLatitude:
			if pctx.HasCoordinates {
				out[p.Name] = pctx.Latitude
			}
		case MappedFromLongitude:
			if pctx.HasCoordinates {
				out[p.Name] = pctx.Longitude
			}
		case MappedFromSystemGenerated:
			if !present && pctx.FillSystemPlaceholders {
				out[p.Name] = SystemGeneratedPlaceholder
			}
		}
	}
	return out, nil
}

// isPlaceholderAddress reports whether an address slot still needs
// population: absent, empty, a mapping-source echo, or not address-shaped.
func isPlaceholderAddress(v any, present bool) bool {
	if !present {
		return true
	}
	s, ok := v.(string)
	if !ok {
		return false
	}
	switch s {
	case "", MappedFromMatchedPublicKey, MappedFromUserPublicKey, SystemGeneratedPlaceholder:
		return true
	}
	return !ValidAddressShape(s)
}
