package contracts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInferMappedFrom(t *testing.T) {
	cases := []struct {
		name, typ, want string
	}{
		{"signer_address", "address", MappedFromUserPublicKey},
		{"destination", "address", MappedFromMatchedPublicKey},
		{"recipient", "address", MappedFromMatchedPublicKey},
		{"to", "address", MappedFromMatchedPublicKey},
		{"to_address", "address", MappedFromMatchedPublicKey},
		{"asset", "address", MappedFromNativeAsset},
		{"amount", "i128", MappedFromAmountStroops},
		{"latitude", "i64", MappedFromLatitude},
		{"center_latitude", "f64", MappedFromLatitude},
		{"longitude", "i64", MappedFromLongitude},
		{"webauthn_signature", "bytes", MappedFromSystemGenerated},
		{"signature_payload", "bytes", MappedFromSystemGenerated},

		// Name matches but type does not.
		{"destination", "string", MappedFromManual},
		{"amount", "u32", MappedFromManual},
		{"latitude", "string", MappedFromManual},

		{"memo", "string", MappedFromManual},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, InferMappedFrom(tc.name, tc.typ), "%s:%s", tc.name, tc.typ)
	}
}

func TestDeriveDefaultMapping(t *testing.T) {
	sig := FunctionSig{
		Name: "checkin",
		Parameters: []FunctionParameter{
			{Name: "signer_address", Type: "address"},
			{Name: "latitude", Type: "i64"},
			{Name: "longitude", Type: "i64"},
		},
		ReturnType: "bool",
	}
	m := DeriveDefaultMapping(sig)

	assert.False(t, m.AutoExecute)
	assert.True(t, m.RequiresConfirmation)
	assert.Equal(t, "bool", m.ReturnType)
	assert.Len(t, m.Parameters, 3)
	assert.Equal(t, MappedFromUserPublicKey, m.Parameters[0].MappedFrom)
	assert.True(t, m.UsesLocation())
}

func TestMappingUsesLocation(t *testing.T) {
	m := Mapping{Parameters: []MappingParameter{{Name: "x", MappedFrom: MappedFromManual}}}
	assert.False(t, m.UsesLocation())
}

func TestNormalizeFunctions(t *testing.T) {
	in := map[string]FunctionSig{
		"0":        {Name: "transfer"},
		"balance":  {},
		"":         {},
		"explicit": {Name: "explicit"},
	}
	out := NormalizeFunctions(in)

	assert.Contains(t, out, "transfer")
	assert.Contains(t, out, "balance")
	assert.Equal(t, "balance", out["balance"].Name, "map key backfills the name")
	assert.Contains(t, out, "explicit")
	assert.NotContains(t, out, "0")
	assert.NotContains(t, out, "")
}

func TestValidAddressShape(t *testing.T) {
	assert.True(t, ValidAddressShape(testAddrG))
	assert.True(t, ValidAddressShape(testSAC))
	assert.False(t, ValidAddressShape("G123"))
	assert.False(t, ValidAddressShape(""))
	assert.False(t, ValidAddressShape(testAddrG+"A"))
}
