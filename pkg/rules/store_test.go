package rules

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/contracts"
)

const (
	testWalletA = "GDQP2KPQGKIHYJGXNUIYOMHARUARCA7DJT5FO2FFOOKY3B2WSQHG4W37"
	testWalletB = "GBRPYHIL2CI3FNQ4BXLFMNDLFJUNPU2HY3ZMFSHONUCEOASW7QC7OX2H"
)

func validCircleRule() *contracts.ExecutionRule {
	lat, lng, radius := 40.7580, -73.9855, 500.0
	return &contracts.ExecutionRule{
		RuleName:        "times square checkin",
		RuleType:        contracts.RuleTypeLocation,
		CenterLatitude:  &lat,
		CenterLongitude: &lng,
		RadiusMeters:    &radius,
		FunctionName:    "checkin",
		TriggerOn:       contracts.TriggerEnter,
	}
}

func TestValidateAcceptsCircleRule(t *testing.T) {
	assert.NoError(t, Validate(validCircleRule()))
}

func TestValidateAcceptsGeofenceRule(t *testing.T) {
	fenceID := "f1"
	r := &contracts.ExecutionRule{
		RuleName:     "warehouse",
		RuleType:     contracts.RuleTypeGeofence,
		GeofenceID:   &fenceID,
		FunctionName: "log_entry",
		TriggerOn:    contracts.TriggerExit,
	}
	assert.NoError(t, Validate(r))
}

func TestValidateViolations(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*contracts.ExecutionRule)
		wantSub string
	}{
		{
			"missing center",
			func(r *contracts.ExecutionRule) { r.CenterLatitude = nil },
			"center_latitude",
		},
		{
			"zero radius",
			func(r *contracts.ExecutionRule) { zero := 0.0; r.RadiusMeters = &zero },
			"positive radius_meters",
		},
		{
			"negative radius",
			func(r *contracts.ExecutionRule) { neg := -10.0; r.RadiusMeters = &neg },
			"positive radius_meters",
		},
		{
			"geofence without id",
			func(r *contracts.ExecutionRule) { r.RuleType = contracts.RuleTypeGeofence },
			"geofence_id",
		},
		{
			"unknown rule type",
			func(r *contracts.ExecutionRule) { r.RuleType = "teleport" },
			`unknown rule_type "teleport"`,
		},
		{
			"unknown trigger",
			func(r *contracts.ExecutionRule) { r.TriggerOn = "hover" },
			`unknown trigger_on "hover"`,
		},
		{
			"missing rule name",
			func(r *contracts.ExecutionRule) { r.RuleName = "" },
			"rule_name is required",
		},
		{
			"missing function name",
			func(r *contracts.ExecutionRule) { r.FunctionName = "" },
			"function_name is required",
		},
		{
			"quorum without minimum",
			func(r *contracts.ExecutionRule) {
				r.RequiredWalletPublicKeys = []string{testWalletA}
			},
			"minimum_wallet_count is required",
		},
		{
			"quorum minimum too large",
			func(r *contracts.ExecutionRule) {
				three := 3
				r.RequiredWalletPublicKeys = []string{testWalletA, testWalletB}
				r.MinimumWalletCount = &three
			},
			"between 1 and 2",
		},
		{
			"quorum minimum below one",
			func(r *contracts.ExecutionRule) {
				zero := 0
				r.RequiredWalletPublicKeys = []string{testWalletA}
				r.MinimumWalletCount = &zero
			},
			"between 1 and 1",
		},
		{
			"quorum wallet bad shape",
			func(r *contracts.ExecutionRule) {
				one := 1
				r.RequiredWalletPublicKeys = []string{"not-an-address"}
				r.MinimumWalletCount = &one
			},
			"not a valid address",
		},
		{
			"armed threshold without value",
			func(r *contracts.ExecutionRule) { r.AutoDeactivateOnBalanceThreshold = true },
			"balance_threshold_xlm must be positive",
		},
		{
			"armed threshold non-positive",
			func(r *contracts.ExecutionRule) {
				zero := 0.0
				r.AutoDeactivateOnBalanceThreshold = true
				r.BalanceThresholdXLM = &zero
			},
			"balance_threshold_xlm must be positive",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := validCircleRule()
			tc.mutate(r)
			err := Validate(r)
			require.Error(t, err)

			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Contains(t, err.Error(), tc.wantSub)
		})
	}
}

func TestValidateAggregatesViolations(t *testing.T) {
	r := &contracts.ExecutionRule{RuleType: "bogus", TriggerOn: "bogus"}
	err := Validate(r)
	require.Error(t, err)

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.GreaterOrEqual(t, len(vErr.Violations), 4, strings.Join(vErr.Violations, "; "))
}

func TestPatchApplyOnlySetFields(t *testing.T) {
	r := validCircleRule()
	origLat := *r.CenterLatitude

	name := "renamed"
	radius := 750.0
	active := false
	p := &Patch{RuleName: &name, RadiusMeters: &radius, IsActive: &active}
	p.Apply(r)

	assert.Equal(t, "renamed", r.RuleName)
	assert.Equal(t, 750.0, *r.RadiusMeters)
	assert.False(t, r.IsActive)
	assert.Equal(t, origLat, *r.CenterLatitude, "unpatched fields untouched")
	assert.Equal(t, "checkin", r.FunctionName)
}

func TestMinimumRequired(t *testing.T) {
	two := 2
	wallets := []string{testWalletA, testWalletB, testWalletA}

	cases := []struct {
		name string
		rule contracts.ExecutionRule
		want int
	}{
		{"any", contracts.ExecutionRule{QuorumType: contracts.QuorumAny, RequiredWalletPublicKeys: wallets}, 1},
		{"all", contracts.ExecutionRule{QuorumType: contracts.QuorumAll, RequiredWalletPublicKeys: wallets}, 3},
		{"threshold", contracts.ExecutionRule{QuorumType: contracts.QuorumThreshold, RequiredWalletPublicKeys: wallets, MinimumWalletCount: &two}, 2},
		{"bare minimum count", contracts.ExecutionRule{RequiredWalletPublicKeys: wallets, MinimumWalletCount: &two}, 2},
		{"no configuration defaults to all", contracts.ExecutionRule{RequiredWalletPublicKeys: wallets}, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, minimumRequired(&tc.rule))
		})
	}
}
