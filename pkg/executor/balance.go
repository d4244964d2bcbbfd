package executor

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/stellar/go/xdr"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/chain"
	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/contracts"
)

// ChainBalances answers balance-threshold questions for rule
// auto-deactivation. Unable-to-check never deactivates.
type ChainBalances struct {
	rpc     chain.RPCClient
	invoker *chain.Invoker
	network contracts.Network
	// sourceSecret funds simulation source accounts only. In-memory only;
	// never logged.
	sourceSecret string
	logger       *slog.Logger
}

func NewChainBalances(rpc chain.RPCClient, invoker *chain.Invoker, network contracts.Network, sourceSecret string, logger *slog.Logger) *ChainBalances {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChainBalances{
		rpc:          rpc,
		invoker:      invoker,
		network:      network,
		sourceSecret: sourceSecret,
		logger:       logger,
	}
}

// BelowThreshold reports whether the monitored balance sits below the rule's
// deactivation threshold. The threshold is expressed in XLM; balances are
// compared in stroops.
func (b *ChainBalances) BelowThreshold(ctx context.Context, rule *contracts.ExecutionRule, contract *contracts.CustomContract) (bool, error) {
	if rule.BalanceThresholdXLM == nil || *rule.BalanceThresholdXLM <= 0 {
		return false, nil
	}
	monitored := ""
	if rule.TargetWalletPublicKey != nil {
		monitored = *rule.TargetWalletPublicKey
	}
	if monitored == "" {
		return false, nil
	}
	threshold := int64(*rule.BalanceThresholdXLM * 10_000_000)

	var balance int64
	var err error
	if rule.UseSmartWalletBalance && contract.SmartWalletContractID != "" {
		balance, err = b.smartWalletBalance(ctx, contract.SmartWalletContractID, monitored, rule)
	} else {
		balance, err = chain.AccountBalance(ctx, b.rpc, monitored)
	}
	if err != nil {
		return false, err
	}
	return balance < threshold, nil
}

// smartWalletBalance simulates get_balance(owner, asset) on the smart wallet.
func (b *ChainBalances) smartWalletBalance(ctx context.Context, walletContract, owner string, rule *contracts.ExecutionRule) (int64, error) {
	if b.invoker == nil || b.sourceSecret == "" {
		return 0, errNoSimulationSource
	}
	asset := chain.NativeSAC(b.network)
	if rule.BalanceCheckAssetAddress != nil && *rule.BalanceCheckAssetAddress != "" {
		asset = *rule.BalanceCheckAssetAddress
	}

	ownerVal, err := chain.AddressScVal(owner)
	if err != nil {
		return 0, err
	}
	assetVal, err := chain.AddressScVal(asset)
	if err != nil {
		return 0, err
	}

	simResp, err := b.invoker.Simulate(ctx, chain.InvokeRequest{
		Network:         b.network,
		SourceSecret:    b.sourceSecret,
		ContractAddress: walletContract,
		Function:        "get_balance",
		Args:            []xdr.ScVal{ownerVal, assetVal},
	})
	if err != nil {
		return 0, err
	}
	if len(simResp.Results) == 0 || simResp.Results[0].ReturnValueXDR == nil {
		return 0, errNoBalanceReturn
	}
	decoded, err := chain.DecodeReturnValue(*simResp.Results[0].ReturnValueXDR)
	if err != nil {
		return 0, err
	}
	switch v := decoded.(type) {
	case string:
		return strconv.ParseInt(v, 10, 64)
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	}
	return 0, errNoBalanceReturn
}

var (
	errNoSimulationSource = balanceError("no simulation source account configured")
	errNoBalanceReturn    = balanceError("get_balance returned no value")
)

type balanceError string

func (e balanceError) Error() string { return string(e) }
