package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/txnbuild"
	"github.com/stellar/go/xdr"
	"github.com/stellar/stellar-rpc/protocol"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/contracts"
)

// Poll bounds for confirmation. A transaction not confirmed within
// maxPollAttempts*pollInterval is surfaced as pending, not failed.
const (
	maxPollAttempts = 30
	pollInterval    = 2 * time.Second
)

const defaultMaxBaseFee = 1_000_000

// InvokeRequest describes one contract invocation.
type InvokeRequest struct {
	Network         contracts.Network
	SourceSecret    string
	ContractAddress string
	Function        string
	Args            []xdr.ScVal
	SimulateOnly    bool
}

// InvokeOutcome is the result of an invocation.
type InvokeOutcome struct {
	Hash                string
	ReturnValueXDR      string
	Simulated           bool
	Submitted           bool
	Confirmed           bool
	PendingConfirmation bool
	Ledger              uint32
}

// Invoker builds, simulates, signs, submits and polls contract invocations
// against one RPC endpoint.
type Invoker struct {
	rpc        RPCClient
	maxBaseFee int64
	logger     *slog.Logger
	// pollSleep is swappable in tests.
	pollSleep func(time.Duration)
}

func NewInvoker(rpc RPCClient, logger *slog.Logger) *Invoker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invoker{
		rpc:        rpc,
		maxBaseFee: defaultMaxBaseFee,
		logger:     logger,
		pollSleep:  time.Sleep,
	}
}

// Simulate builds the invocation transaction and runs simulation only,
// returning the decoded return-value XDR. No key material is required
// beyond the source account address for sequence purposes, but we accept
// the secret for uniformity: read-only calls without submission never sign.
func (inv *Invoker) Simulate(ctx context.Context, req InvokeRequest) (protocol.SimulateTransactionResponse, error) {
	kp, err := keypair.ParseFull(req.SourceSecret)
	if err != nil {
		return protocol.SimulateTransactionResponse{}, fmt.Errorf("chain: parsing source secret: %w", err)
	}

	_, _, simResp, err := inv.buildAndSimulate(ctx, req, kp)
	return simResp, err
}

// Invoke runs the full flow: build, simulate, (optionally) sign, submit,
// and poll for confirmation.
func (inv *Invoker) Invoke(ctx context.Context, req InvokeRequest) (InvokeOutcome, error) {
	kp, err := keypair.ParseFull(req.SourceSecret)
	if err != nil {
		return InvokeOutcome{}, fmt.Errorf("chain: parsing source secret: %w", err)
	}

	txParams, op, simResp, err := inv.buildAndSimulate(ctx, req, kp)
	if err != nil {
		return InvokeOutcome{}, err
	}

	outcome := InvokeOutcome{Simulated: true}
	if len(simResp.Results) > 0 && simResp.Results[0].ReturnValueXDR != nil {
		outcome.ReturnValueXDR = *simResp.Results[0].ReturnValueXDR
	}
	if req.SimulateOnly {
		return outcome, nil
	}

	// Re-assemble with simulation data applied.
	op.Auth, err = extractAuthEntries(simResp)
	if err != nil {
		return outcome, err
	}
	if err := applyTransactionData(op, simResp); err != nil {
		return outcome, err
	}
	txParams.BaseFee = inv.adjustedBaseFee(simResp)

	tx, err := txnbuild.NewTransaction(*txParams)
	if err != nil {
		return outcome, fmt.Errorf("chain: building final transaction: %w", err)
	}

	signed, err := tx.Sign(Passphrase(req.Network), kp)
	if err != nil {
		return outcome, fmt.Errorf("chain: signing transaction: %w", err)
	}
	envelope, err := signed.Base64()
	if err != nil {
		return outcome, fmt.Errorf("chain: encoding signed envelope: %w", err)
	}

	sendResp, err := inv.rpc.SendTransaction(ctx, protocol.SendTransactionRequest{Transaction: envelope})
	if err != nil {
		return outcome, fmt.Errorf("chain: sending transaction: %w", err)
	}
	if sendResp.Status == StatusError {
		return outcome, fmt.Errorf("chain: transaction rejected at submission: %s", sendResp.ErrorResultXDR)
	}
	outcome.Submitted = true
	outcome.Hash = sendResp.Hash
	inv.logger.Info("transaction submitted", "hash", sendResp.Hash, "function", req.Function)

	return inv.poll(ctx, outcome)
}

func (inv *Invoker) poll(ctx context.Context, outcome InvokeOutcome) (InvokeOutcome, error) {
	for attempt := 0; attempt < maxPollAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			outcome.PendingConfirmation = true
			return outcome, nil
		}

		getResp, err := inv.rpc.GetTransaction(ctx, protocol.GetTransactionRequest{Hash: outcome.Hash})
		if err != nil {
			inv.logger.Warn("confirmation poll failed", "hash", outcome.Hash, "attempt", attempt, "error", err)
		} else {
			switch getResp.Status {
			case StatusSuccess:
				outcome.Confirmed = true
				outcome.Ledger = uint32(getResp.Ledger)
				if getResp.ResultMetaXDR != "" {
					if rv, metaErr := returnValueFromMeta(getResp.ResultMetaXDR); metaErr == nil && rv != "" {
						outcome.ReturnValueXDR = rv
					}
				}
				return outcome, nil
			case StatusFailed:
				return outcome, fmt.Errorf("chain: transaction %s failed on ledger", outcome.Hash)
			}
		}
		inv.pollSleep(pollInterval)
	}

	// Exhausted: submitted but unconfirmed. The caller marks the rule
	// completed with pendingConfirmation=true; reconciliation is external.
	outcome.PendingConfirmation = true
	return outcome, nil
}

func (inv *Invoker) buildAndSimulate(ctx context.Context, req InvokeRequest, kp *keypair.Full) (*txnbuild.TransactionParams, *txnbuild.InvokeHostFunction, protocol.SimulateTransactionResponse, error) {
	contractAddr, err := ContractScAddress(req.ContractAddress)
	if err != nil {
		return nil, nil, protocol.SimulateTransactionResponse{}, err
	}

	seq, err := inv.accountSequence(ctx, kp.Address())
	if err != nil {
		return nil, nil, protocol.SimulateTransactionResponse{}, err
	}

	op := &txnbuild.InvokeHostFunction{
		SourceAccount: kp.Address(),
		HostFunction: xdr.HostFunction{
			Type: xdr.HostFunctionTypeHostFunctionTypeInvokeContract,
			InvokeContract: &xdr.InvokeContractArgs{
				ContractAddress: contractAddr,
				FunctionName:    xdr.ScSymbol(req.Function),
				Args:            req.Args,
			},
		},
		Auth: []xdr.SorobanAuthorizationEntry{},
	}

	txParams := &txnbuild.TransactionParams{
		SourceAccount: &txnbuild.SimpleAccount{
			AccountID: kp.Address(),
			Sequence:  seq,
		},
		Operations: []txnbuild.Operation{op},
		BaseFee:    inv.maxBaseFee,
		Preconditions: txnbuild.Preconditions{
			TimeBounds: txnbuild.NewTimeout(300),
		},
		IncrementSequenceNum: true,
	}

	tx, err := txnbuild.NewTransaction(*txParams)
	if err != nil {
		return nil, nil, protocol.SimulateTransactionResponse{}, fmt.Errorf("chain: building transaction: %w", err)
	}
	envelope, err := tx.Base64()
	if err != nil {
		return nil, nil, protocol.SimulateTransactionResponse{}, fmt.Errorf("chain: encoding envelope: %w", err)
	}

	simResp, err := inv.rpc.SimulateTransaction(ctx, protocol.SimulateTransactionRequest{Transaction: envelope})
	if err != nil {
		return nil, nil, protocol.SimulateTransactionResponse{}, fmt.Errorf("chain: simulating transaction: %w", err)
	}
	if simResp.Error != "" {
		return nil, nil, simResp, fmt.Errorf("chain: simulation error: %s", simResp.Error)
	}

	return txParams, op, simResp, nil
}

// accountSequence reads the source account's sequence number from the
// ledger via getLedgerEntries.
func (inv *Invoker) accountSequence(ctx context.Context, address string) (int64, error) {
	accountID := xdr.MustAddress(address)
	key := xdr.LedgerKey{
		Type:    xdr.LedgerEntryTypeAccount,
		Account: &xdr.LedgerKeyAccount{AccountId: accountID},
	}
	keyB64, err := xdr.MarshalBase64(key)
	if err != nil {
		return 0, fmt.Errorf("chain: encoding account ledger key: %w", err)
	}

	resp, err := inv.rpc.GetLedgerEntries(ctx, protocol.GetLedgerEntriesRequest{Keys: []string{keyB64}})
	if err != nil {
		return 0, fmt.Errorf("chain: loading account entry: %w", err)
	}
	if len(resp.Entries) == 0 {
		return 0, fmt.Errorf("chain: account %s not found on ledger", address)
	}

	var data xdr.LedgerEntryData
	if err := xdr.SafeUnmarshalBase64(resp.Entries[0].DataXDR, &data); err != nil {
		return 0, fmt.Errorf("chain: unmarshalling account entry: %w", err)
	}
	if data.Type != xdr.LedgerEntryTypeAccount || data.Account == nil {
		return 0, fmt.Errorf("chain: unexpected ledger entry type for account %s", address)
	}
	return int64(data.Account.SeqNum), nil
}

func extractAuthEntries(simResp protocol.SimulateTransactionResponse) ([]xdr.SorobanAuthorizationEntry, error) {
	var auth []xdr.SorobanAuthorizationEntry
	if len(simResp.Results) > 0 && simResp.Results[0].AuthXDR != nil {
		for _, b64 := range *simResp.Results[0].AuthXDR {
			var entry xdr.SorobanAuthorizationEntry
			if err := xdr.SafeUnmarshalBase64(b64, &entry); err != nil {
				return nil, fmt.Errorf("chain: unmarshalling authorization entry: %w", err)
			}
			auth = append(auth, entry)
		}
	}
	return auth, nil
}

func applyTransactionData(op *txnbuild.InvokeHostFunction, simResp protocol.SimulateTransactionResponse) error {
	if simResp.TransactionDataXDR == "" {
		return nil
	}
	var txData xdr.SorobanTransactionData
	if err := xdr.SafeUnmarshalBase64(simResp.TransactionDataXDR, &txData); err != nil {
		return fmt.Errorf("chain: unmarshalling transaction data: %w", err)
	}
	op.Ext = xdr.TransactionExt{V: 1, SorobanData: &txData}
	return nil
}

func (inv *Invoker) adjustedBaseFee(simResp protocol.SimulateTransactionResponse) int64 {
	if simResp.MinResourceFee <= 0 {
		return inv.maxBaseFee
	}
	adjusted := inv.maxBaseFee - simResp.MinResourceFee
	return int64(math.Max(float64(adjusted), float64(txnbuild.MinBaseFee)))
}

// returnValueFromMeta extracts the Soroban return value from transaction
// meta, when present.
func returnValueFromMeta(metaB64 string) (string, error) {
	var meta xdr.TransactionMeta
	if err := xdr.SafeUnmarshalBase64(metaB64, &meta); err != nil {
		return "", err
	}
	if meta.V3 != nil && meta.V3.SorobanMeta != nil {
		return xdr.MarshalBase64(meta.V3.SorobanMeta.ReturnValue)
	}
	return "", nil
}
