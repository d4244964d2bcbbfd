// Package wasmstore validates and stores uploaded contract WASM modules,
// and extracts the Soroban contract spec from their custom sections.
package wasmstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"

	"github.com/stellar/go/xdr"
	"github.com/tetratelabs/wazero"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/contracts"
)

// contractSpecSection is the custom section Soroban toolchains emit with the
// XDR-encoded contract spec.
const contractSpecSection = "contractspecv0"

// HashHex returns the lowercase hex sha256 of the module, the identity
// Soroban uses for installed code.
func HashHex(code []byte) string {
	sum := sha256.Sum256(code)
	return hex.EncodeToString(sum[:])
}

// CompileCheck compiles the module with wazero's interpreter, rejecting
// uploads that are not valid WebAssembly before they hit storage.
func CompileCheck(ctx context.Context, code []byte) error {
	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter())
	defer func() { _ = rt.Close(ctx) }()

	compiled, err := rt.CompileModule(ctx, code)
	if err != nil {
		return fmt.Errorf("wasmstore: module does not compile: %w", err)
	}
	return compiled.Close(ctx)
}

// ExtractFunctions decodes the contract spec custom section into public
// function signatures. Modules without a spec section yield an empty slice.
func ExtractFunctions(ctx context.Context, code []byte) ([]contracts.FunctionSig, error) {
	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter().WithCustomSections(true))
	defer func() { _ = rt.Close(ctx) }()

	compiled, err := rt.CompileModule(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("wasmstore: compiling module: %w", err)
	}
	defer func() { _ = compiled.Close(ctx) }()

	var specData []byte
	for _, sec := range compiled.CustomSections() {
		if sec.Name() == contractSpecSection {
			specData = sec.Data()
			break
		}
	}
	if specData == nil {
		return nil, nil
	}
	return decodeSpecFunctions(specData)
}

// decodeSpecFunctions reads consecutive XDR ScSpecEntry values and keeps the
// function entries.
func decodeSpecFunctions(data []byte) ([]contracts.FunctionSig, error) {
	r := bytes.NewReader(data)
	var sigs []contracts.FunctionSig
	for r.Len() > 0 {
		var entry xdr.ScSpecEntry
		if _, err := xdr.Unmarshal(r, &entry); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("wasmstore: decoding spec entry: %w", err)
		}
		fn, ok := entry.GetFunctionV0()
		if !ok {
			continue
		}
		sig := contracts.FunctionSig{Name: string(fn.Name)}
		for _, in := range fn.Inputs {
			sig.Parameters = append(sig.Parameters, contracts.FunctionParameter{
				Name: string(in.Name),
				Type: specTypeName(in.Type),
			})
		}
		if len(fn.Outputs) > 0 {
			sig.ReturnType = specTypeName(fn.Outputs[0])
		}
		sigs = append(sigs, sig)
	}
	sort.Slice(sigs, func(i, j int) bool { return sigs[i].Name < sigs[j].Name })
	return sigs, nil
}

func specTypeName(def xdr.ScSpecTypeDef) string {
	switch def.Type {
	case xdr.ScSpecTypeBool:
		return "bool"
	case xdr.ScSpecTypeVoid:
		return "void"
	case xdr.ScSpecTypeU32:
		return "u32"
	case xdr.ScSpecTypeI32:
		return "i32"
	case xdr.ScSpecTypeU64:
		return "u64"
	case xdr.ScSpecTypeI64:
		return "i64"
	case xdr.ScSpecTypeU128:
		return "u128"
	case xdr.ScSpecTypeI128:
		return "i128"
	case xdr.ScSpecTypeBytes, xdr.ScSpecTypeBytesN:
		return "bytes"
	case xdr.ScSpecTypeString:
		return "string"
	case xdr.ScSpecTypeSymbol:
		return "symbol"
	case xdr.ScSpecTypeAddress:
		return "address"
	default:
		return "val"
	}
}
