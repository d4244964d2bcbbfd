package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/contracts"
)

func TestIsPaymentFunction(t *testing.T) {
	cases := []struct {
		name   string
		params map[string]any
		want   bool
	}{
		{"transfer", nil, true},
		{"make_payment", nil, true},
		{"send_tokens", nil, true},
		{"withdraw_all", nil, true},
		{"deposit", nil, true},
		{"PAY_OUT", nil, true},
		{"checkin", nil, false},
		{"checkin", map[string]any{"destination": "G...", "amount": 1}, true},
		{"checkin", map[string]any{"to": "G...", "value": 1}, true},
		{"checkin", map[string]any{"destination": "G..."}, false},
		{"checkin", map[string]any{"amount": 1}, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsPaymentFunction(tc.name, tc.params), "%s %v", tc.name, tc.params)
	}
}

func TestIsReadOnlyFunction(t *testing.T) {
	for name, want := range map[string]bool{
		"get_balance":  true,
		"is_active":    true,
		"has_access":   true,
		"check_quorum": true,
		"query_state":  true,
		"view_config":  true,
		"read_entry":   true,
		"fetch_data":   true,
		"GET_BALANCE":  true,
		"transfer":     false,
		"register":     false,
		"getter":       false,
	} {
		assert.Equal(t, want, IsReadOnlyFunction(name), name)
	}
}

func TestRouteSmartWallet(t *testing.T) {
	e := &Executor{}
	walletContract := &contracts.CustomContract{
		UseSmartWallet:        true,
		SmartWalletContractID: testAsset,
	}
	plain := &contracts.CustomContract{}

	// Explicit source always routes.
	assert.True(t, e.routeSmartWallet(plain, &Request{PaymentSource: "smart-wallet"}))

	// Smart-wallet contract plus a payment-shaped call.
	assert.True(t, e.routeSmartWallet(walletContract, &Request{FunctionName: "transfer"}))
	assert.True(t, e.routeSmartWallet(walletContract, &Request{
		FunctionName: "checkin",
		Parameters:   map[string]any{"destination": testDest, "amount": "1"},
	}))

	// Payment call on a non-wallet contract stays direct.
	assert.False(t, e.routeSmartWallet(plain, &Request{FunctionName: "transfer"}))

	// Wallet contract, non-payment call stays direct.
	assert.False(t, e.routeSmartWallet(walletContract, &Request{FunctionName: "checkin"}))

	// UseSmartWallet without a wallet contract id never routes.
	noID := &contracts.CustomContract{UseSmartWallet: true}
	assert.False(t, e.routeSmartWallet(noID, &Request{FunctionName: "transfer"}))
}

func TestValidateAgainstSignature(t *testing.T) {
	sig := contracts.FunctionSig{
		Name: "checkin",
		Parameters: []contracts.FunctionParameter{
			{Name: "signer_address", Type: "address"},
			{Name: "latitude", Type: "i64"},
			{Name: "webauthn_signature", Type: "bytes"},
		},
	}

	err := validateAgainstSignature(sig, map[string]any{
		"signer_address": testSigner,
		"latitude":       40.7,
	}, false)
	assert.NoError(t, err, "webauthn parameters exempt when excluded")

	err = validateAgainstSignature(sig, map[string]any{
		"signer_address": testSigner,
	}, true)
	assert.Error(t, err, "webauthn parameter required when included")

	err = validateAgainstSignature(sig, map[string]any{
		"signer_address": testSigner,
		"latitude":       40.7,
		"bogus":          1,
	}, false)
	assert.Error(t, err, "unknown parameter rejected")
}

func TestClassifyChainError(t *testing.T) {
	failed := classifyChainError(assertErr("chain: transaction abc failed on ledger"))
	assert.Contains(t, failed.Error(), "ExecutionFailed")

	transport := classifyChainError(assertErr("chain: sending transaction: connection refused"))
	assert.Contains(t, transport.Error(), "ChainError")
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
