package chain

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/stellar/go/strkey"
	"github.com/stellar/go/xdr"
)

// ContractScAddress converts a C... strkey into an ScAddress.
func ContractScAddress(contractAddress string) (xdr.ScAddress, error) {
	raw, err := strkey.Decode(strkey.VersionByteContract, contractAddress)
	if err != nil {
		return xdr.ScAddress{}, fmt.Errorf("chain: invalid contract address %q: %w", contractAddress, err)
	}
	var id xdr.ContractId
	copy(id[:], raw)
	return xdr.ScAddress{
		Type:       xdr.ScAddressTypeScAddressTypeContract,
		ContractId: &id,
	}, nil
}

// AccountScAddress converts a G... strkey into an ScAddress.
func AccountScAddress(accountAddress string) (xdr.ScAddress, error) {
	if !strkey.IsValidEd25519PublicKey(accountAddress) {
		return xdr.ScAddress{}, fmt.Errorf("chain: invalid account address %q", accountAddress)
	}
	accountID := xdr.MustAddress(accountAddress)
	return xdr.ScAddress{
		Type:      xdr.ScAddressTypeScAddressTypeAccount,
		AccountId: &accountID,
	}, nil
}

// AddressScVal builds an ScVal from either address family.
func AddressScVal(address string) (xdr.ScVal, error) {
	var (
		sc  xdr.ScAddress
		err error
	)
	switch {
	case strings.HasPrefix(address, "C"):
		sc, err = ContractScAddress(address)
	case strings.HasPrefix(address, "G"):
		sc, err = AccountScAddress(address)
	default:
		err = fmt.Errorf("chain: address %q is neither account nor contract", address)
	}
	if err != nil {
		return xdr.ScVal{}, err
	}
	return xdr.ScVal{Type: xdr.ScValTypeScvAddress, Address: &sc}, nil
}

// Int128ScVal builds an i128 ScVal from a signed 64-bit value (stroop
// amounts fit comfortably).
func Int128ScVal(v int64) xdr.ScVal {
	var hi int64
	if v < 0 {
		hi = -1
	}
	parts := xdr.Int128Parts{Hi: xdr.Int64(hi), Lo: xdr.Uint64(v)}
	return xdr.ScVal{Type: xdr.ScValTypeScvI128, I128: &parts}
}

// BytesScVal wraps raw bytes.
func BytesScVal(b []byte) xdr.ScVal {
	sc := xdr.ScBytes(b)
	return xdr.ScVal{Type: xdr.ScValTypeScvBytes, Bytes: &sc}
}

// BoolScVal wraps a boolean.
func BoolScVal(v bool) xdr.ScVal {
	return xdr.ScVal{Type: xdr.ScValTypeScvBool, B: &v}
}

// StringScVal wraps a string.
func StringScVal(s string) xdr.ScVal {
	sc := xdr.ScString(s)
	return xdr.ScVal{Type: xdr.ScValTypeScvString, Str: &sc}
}

// SymbolScVal wraps a symbol.
func SymbolScVal(s string) xdr.ScVal {
	sc := xdr.ScSymbol(s)
	return xdr.ScVal{Type: xdr.ScValTypeScvSymbol, Sym: &sc}
}

// EncodeArg converts one auto-populated parameter value into an ScVal using
// the declared contract-side type. Numeric JSON values arrive as float64 or
// string; byte parameters as hex or already-raw []byte.
func EncodeArg(declaredType string, value any) (xdr.ScVal, error) {
	t := strings.ToLower(strings.TrimSpace(declaredType))
	switch t {
	case "address", "scaddress":
		s, ok := value.(string)
		if !ok {
			return xdr.ScVal{}, fmt.Errorf("chain: address parameter requires string, got %T", value)
		}
		return AddressScVal(s)

	case "i128", "u128", "amount":
		n, err := coerceInt64(value)
		if err != nil {
			return xdr.ScVal{}, err
		}
		return Int128ScVal(n), nil

	case "i64":
		n, err := coerceInt64(value)
		if err != nil {
			return xdr.ScVal{}, err
		}
		i := xdr.Int64(n)
		return xdr.ScVal{Type: xdr.ScValTypeScvI64, I64: &i}, nil

	case "u64", "timepoint":
		n, err := coerceInt64(value)
		if err != nil {
			return xdr.ScVal{}, err
		}
		u := xdr.Uint64(n)
		return xdr.ScVal{Type: xdr.ScValTypeScvU64, U64: &u}, nil

	case "i32":
		n, err := coerceInt64(value)
		if err != nil {
			return xdr.ScVal{}, err
		}
		i := xdr.Int32(n)
		return xdr.ScVal{Type: xdr.ScValTypeScvI32, I32: &i}, nil

	case "u32":
		n, err := coerceInt64(value)
		if err != nil {
			return xdr.ScVal{}, err
		}
		u := xdr.Uint32(n)
		return xdr.ScVal{Type: xdr.ScValTypeScvU32, U32: &u}, nil

	case "bool":
		b, ok := value.(bool)
		if !ok {
			return xdr.ScVal{}, fmt.Errorf("chain: bool parameter requires bool, got %T", value)
		}
		return BoolScVal(b), nil

	case "bytes", "bytesn":
		switch v := value.(type) {
		case []byte:
			return BytesScVal(v), nil
		case string:
			raw, err := hex.DecodeString(v)
			if err != nil {
				// Not hex: pass the raw string bytes through.
				return BytesScVal([]byte(v)), nil
			}
			return BytesScVal(raw), nil
		default:
			return xdr.ScVal{}, fmt.Errorf("chain: bytes parameter requires string or []byte, got %T", value)
		}

	case "symbol":
		s, ok := value.(string)
		if !ok {
			return xdr.ScVal{}, fmt.Errorf("chain: symbol parameter requires string, got %T", value)
		}
		return SymbolScVal(s), nil

	case "string", "":
		return StringScVal(fmt.Sprintf("%v", value)), nil

	default:
		return xdr.ScVal{}, fmt.Errorf("chain: unsupported parameter type %q", declaredType)
	}
}

func coerceInt64(value any) (int64, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, fmt.Errorf("chain: empty numeric parameter")
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("chain: parsing numeric parameter %q: %w", v, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("chain: numeric parameter requires number or string, got %T", value)
	}
}

// DecodeReturnValue unmarshals a base64 ScVal and converts it to a plain Go
// value suitable for JSON responses.
func DecodeReturnValue(b64 string) (any, error) {
	if b64 == "" {
		return nil, nil
	}
	var val xdr.ScVal
	if err := xdr.SafeUnmarshalBase64(b64, &val); err != nil {
		return nil, fmt.Errorf("chain: unmarshalling return value: %w", err)
	}
	return scValToGo(val), nil
}

// ReturnValueIsFalse reports whether a base64 return value decodes to the
// boolean false, the contract-level rejection signal.
func ReturnValueIsFalse(b64 string) (bool, error) {
	if b64 == "" {
		return false, nil
	}
	var val xdr.ScVal
	if err := xdr.SafeUnmarshalBase64(b64, &val); err != nil {
		return false, fmt.Errorf("chain: unmarshalling return value: %w", err)
	}
	if val.Type != xdr.ScValTypeScvBool || val.B == nil {
		return false, nil
	}
	return !*val.B, nil
}

func scValToGo(val xdr.ScVal) any {
	switch val.Type {
	case xdr.ScValTypeScvBool:
		if val.B != nil {
			return *val.B
		}
	case xdr.ScValTypeScvU32:
		if val.U32 != nil {
			return uint32(*val.U32)
		}
	case xdr.ScValTypeScvI32:
		if val.I32 != nil {
			return int32(*val.I32)
		}
	case xdr.ScValTypeScvU64:
		if val.U64 != nil {
			return uint64(*val.U64)
		}
	case xdr.ScValTypeScvI64:
		if val.I64 != nil {
			return int64(*val.I64)
		}
	case xdr.ScValTypeScvI128:
		if val.I128 != nil {
			hi := new(big.Int).Lsh(big.NewInt(int64(val.I128.Hi)), 64)
			return new(big.Int).Add(hi, new(big.Int).SetUint64(uint64(val.I128.Lo))).String()
		}
	case xdr.ScValTypeScvString:
		if val.Str != nil {
			return string(*val.Str)
		}
	case xdr.ScValTypeScvSymbol:
		if val.Sym != nil {
			return string(*val.Sym)
		}
	case xdr.ScValTypeScvBytes:
		if val.Bytes != nil {
			return hex.EncodeToString(*val.Bytes)
		}
	case xdr.ScValTypeScvAddress:
		if val.Address != nil {
			if s, err := val.Address.String(); err == nil {
				return s
			}
		}
	case xdr.ScValTypeScvVoid:
		return nil
	}
	// Fall back to the raw XDR text for exotic values.
	if b64, err := xdr.MarshalBase64(val); err == nil {
		return b64
	}
	return nil
}
