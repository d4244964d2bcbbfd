package contracts

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAddrG = "GDQP2KPQGKIHYJGXNUIYOMHARUARCA7DJT5FO2FFOOKY3B2WSQHG4W37"
	testSAC   = "CDLZFC3SYJYDZT7K67VZ75HPJVIEUVNIXF47ZG2FB2RMQQVU2HHGCYSC"
)

func TestCanonicalizeAmount(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want string
	}{
		{"decimal string is XLM", "10.5", "105000000"},
		{"small integer string is XLM", "100", "1000000000"},
		{"large integer string is stroops", "10000000", "10000000"},
		{"already-canonical output passes through", "105000000", "105000000"},
		{"float with fraction is XLM", 2.5, "25000000"},
		{"small float is XLM", 100.0, "1000000000"},
		{"large whole float is stroops", 50000000.0, "50000000"},
		{"int is promoted like float", 3, "30000000"},
		{"one stroop below ceiling", "999999", "9999990000000"},
		{"exactly the ceiling is stroops", "1000000", "1000000"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := CanonicalizeAmount(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCanonicalizeAmountErrors(t *testing.T) {
	for _, in := range []any{"", "abc", "12.3.4", true, nil} {
		_, err := CanonicalizeAmount(in)
		assert.Error(t, err, "input %v", in)
	}
}

func TestCanonicalizeAmountIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("second pass is identity", prop.ForAll(
		func(xlm float64) bool {
			first, err := CanonicalizeAmount(xlm)
			if err != nil {
				return false
			}
			second, err := CanonicalizeAmount(first)
			if err != nil {
				return false
			}
			return first == second
		},
		gen.Float64Range(0.0000001, 900_000),
	))

	properties.TestingRun(t)
}

func TestCanonicalizeParameters(t *testing.T) {
	mapping := Mapping{
		Parameters: []MappingParameter{
			{Name: "destination", Type: "address", MappedFrom: MappedFromMatchedPublicKey},
			{Name: "signer", Type: "address", MappedFrom: MappedFromUserPublicKey},
			{Name: "asset", Type: "address", MappedFrom: MappedFromNativeAsset},
			{Name: "amount", Type: "i128", MappedFrom: MappedFromAmountStroops},
			{Name: "lat", Type: "i64", MappedFrom: MappedFromLatitude},
			{Name: "webauthn_signature", Type: "bytes", MappedFrom: MappedFromSystemGenerated},
		},
	}
	raw := map[string]any{
		"destination": "matched_public_key",
		"asset":       "XLM",
		"amount":      "5.5",
		"extra":       "untouched",
	}
	pctx := ParamContext{
		UserPublicKey:      testAddrG,
		MatchedPublicKey:   testAddrG,
		NativeAssetAddress: testSAC,
		Latitude:           40.7,
		Longitude:          -74.0,
		HasCoordinates:     true,
	}

	out, err := CanonicalizeParameters(mapping, raw, pctx)
	require.NoError(t, err)

	assert.Equal(t, testAddrG, out["destination"])
	assert.Equal(t, testAddrG, out["signer"])
	assert.Equal(t, testSAC, out["asset"])
	assert.Equal(t, "55000000", out["amount"])
	assert.Equal(t, 40.7, out["lat"])
	assert.Equal(t, "untouched", out["extra"])
	assert.NotContains(t, out, "webauthn_signature", "system slots stay absent without fill")

	// Input map untouched.
	assert.Equal(t, "matched_public_key", raw["destination"])
	assert.NotContains(t, raw, "signer")
}

func TestCanonicalizeParametersFillsSystemPlaceholders(t *testing.T) {
	mapping := Mapping{
		Parameters: []MappingParameter{
			{Name: "webauthn_signature", Type: "bytes", MappedFrom: MappedFromSystemGenerated},
		},
	}
	out, err := CanonicalizeParameters(mapping, nil, ParamContext{FillSystemPlaceholders: true})
	require.NoError(t, err)
	assert.Equal(t, SystemGeneratedPlaceholder, out["webauthn_signature"])
}

func TestCanonicalizeParametersKeepsRealAddress(t *testing.T) {
	other := "GBRPYHIL2CI3FNQ4BXLFMNDLFJUNPU2HY3ZMFSHONUCEOASW7QC7OX2H"
	mapping := Mapping{
		Parameters: []MappingParameter{
			{Name: "destination", Type: "address", MappedFrom: MappedFromMatchedPublicKey},
		},
	}
	out, err := CanonicalizeParameters(mapping, map[string]any{"destination": other},
		ParamContext{MatchedPublicKey: testAddrG})
	require.NoError(t, err)
	assert.Equal(t, other, out["destination"], "caller-supplied concrete address wins")
}
