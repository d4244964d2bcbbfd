package contracts

import "strings"

// destinationNames are parameter names treated as the payment destination.
var destinationNames = map[string]bool{
	"destination": true,
	"recipient":   true,
	"to":          true,
	"to_address":  true,
}

func isAddressType(t string) bool {
	return strings.EqualFold(t, "address")
}

func isNumericType(t string) bool {
	switch strings.ToLower(t) {
	case "i32", "u32", "i64", "u64", "i128", "u128", "f64", "number":
		return true
	}
	return false
}

// InferMappedFrom derives the population source for a parameter from its
// name and declared type. Applied on discover, on save when a mapping is
// absent, and again at execution time as a fallback.
func InferMappedFrom(name, typ string) string {
	lower := strings.ToLower(name)
	switch {
	case IsWebauthnParameter(lower):
		return MappedFromSystemGenerated
	case lower == "signer_address" && isAddressType(typ):
		return MappedFromUserPublicKey
	case destinationNames[lower] && isAddressType(typ):
		return MappedFromMatchedPublicKey
	case lower == "asset" && isAddressType(typ):
		return MappedFromNativeAsset
	case lower == "amount" && strings.EqualFold(typ, "i128"):
		return MappedFromAmountStroops
	case strings.Contains(lower, "latitude") && isNumericType(typ):
		return MappedFromLatitude
	case strings.Contains(lower, "longitude") && isNumericType(typ):
		return MappedFromLongitude
	}
	return MappedFromManual
}

// DeriveDefaultMapping builds the conservative mapping for a discovered
// function: nothing auto-executes, everything asks for confirmation.
func DeriveDefaultMapping(sig FunctionSig) Mapping {
	m := Mapping{
		ReturnType:           sig.ReturnType,
		AutoExecute:          false,
		RequiresConfirmation: true,
	}
	for _, p := range sig.Parameters {
		m.Parameters = append(m.Parameters, MappingParameter{
			Name:       p.Name,
			Type:       p.Type,
			MappedFrom: InferMappedFrom(p.Name, p.Type),
		})
	}
	return m
}

// UsesLocation reports whether any parameter is populated from the current
// update's coordinates. Such functions get a default location rule proposed
// on discovery.
func (m Mapping) UsesLocation() bool {
	for _, p := range m.Parameters {
		if p.MappedFrom == MappedFromLatitude || p.MappedFrom == MappedFromLongitude {
			return true
		}
	}
	return false
}
