package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/stellar/go/xdr"
	"github.com/stellar/stellar-rpc/protocol"
)

// ErrContractNotFound is returned when no instance entry exists for a
// contract address on the queried network.
var ErrContractNotFound = errors.New("chain: contract not found on ledger")

// ContractWasmHash reads the contract instance entry and returns the hash of
// its installed WASM executable. Stellar Asset Contracts have no WASM; they
// return hasWasm=false.
func ContractWasmHash(ctx context.Context, rpc RPCClient, contractAddress string) (hash xdr.Hash, hasWasm bool, err error) {
	addr, err := ContractScAddress(contractAddress)
	if err != nil {
		return hash, false, err
	}

	key := xdr.LedgerKey{
		Type: xdr.LedgerEntryTypeContractData,
		ContractData: &xdr.LedgerKeyContractData{
			Contract:   addr,
			Key:        xdr.ScVal{Type: xdr.ScValTypeScvLedgerKeyContractInstance},
			Durability: xdr.ContractDataDurabilityPersistent,
		},
	}
	keyB64, err := xdr.MarshalBase64(key)
	if err != nil {
		return hash, false, fmt.Errorf("chain: encoding instance ledger key: %w", err)
	}

	resp, err := rpc.GetLedgerEntries(ctx, protocol.GetLedgerEntriesRequest{Keys: []string{keyB64}})
	if err != nil {
		return hash, false, fmt.Errorf("chain: loading contract instance: %w", err)
	}
	if len(resp.Entries) == 0 {
		return hash, false, ErrContractNotFound
	}

	var data xdr.LedgerEntryData
	if err := xdr.SafeUnmarshalBase64(resp.Entries[0].DataXDR, &data); err != nil {
		return hash, false, fmt.Errorf("chain: unmarshalling contract instance: %w", err)
	}
	if data.Type != xdr.LedgerEntryTypeContractData || data.ContractData == nil {
		return hash, false, fmt.Errorf("chain: unexpected ledger entry type for contract %s", contractAddress)
	}

	instance, ok := data.ContractData.Val.GetInstance()
	if !ok {
		return hash, false, fmt.Errorf("chain: contract %s entry holds no instance", contractAddress)
	}
	wasmHash, ok := instance.Executable.GetWasmHash()
	if !ok {
		// Built-in executable (Stellar Asset Contract).
		return hash, false, nil
	}
	return wasmHash, true, nil
}

// AccountBalance reads the native balance of a classic account, in stroops.
func AccountBalance(ctx context.Context, rpc RPCClient, address string) (int64, error) {
	accountID := xdr.MustAddress(address)
	key := xdr.LedgerKey{
		Type:    xdr.LedgerEntryTypeAccount,
		Account: &xdr.LedgerKeyAccount{AccountId: accountID},
	}
	keyB64, err := xdr.MarshalBase64(key)
	if err != nil {
		return 0, fmt.Errorf("chain: encoding account ledger key: %w", err)
	}

	resp, err := rpc.GetLedgerEntries(ctx, protocol.GetLedgerEntriesRequest{Keys: []string{keyB64}})
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
	return int64(data.Account.Balance), nil
}

// ContractCode fetches the WASM bytecode installed under wasmHash.
func ContractCode(ctx context.Context, rpc RPCClient, wasmHash xdr.Hash) ([]byte, error) {
	key := xdr.LedgerKey{
		Type:         xdr.LedgerEntryTypeContractCode,
		ContractCode: &xdr.LedgerKeyContractCode{Hash: wasmHash},
	}
	keyB64, err := xdr.MarshalBase64(key)
	if err != nil {
		return nil, fmt.Errorf("chain: encoding code ledger key: %w", err)
	}

	resp, err := rpc.GetLedgerEntries(ctx, protocol.GetLedgerEntriesRequest{Keys: []string{keyB64}})
	if err != nil {
		return nil, fmt.Errorf("chain: loading contract code: %w", err)
	}
	if len(resp.Entries) == 0 {
		return nil, fmt.Errorf("chain: code entry %x not found", wasmHash)
	}

	var data xdr.LedgerEntryData
	if err := xdr.SafeUnmarshalBase64(resp.Entries[0].DataXDR, &data); err != nil {
		return nil, fmt.Errorf("chain: unmarshalling code entry: %w", err)
	}
	if data.Type != xdr.LedgerEntryTypeContractCode || data.ContractCode == nil {
		return nil, fmt.Errorf("chain: unexpected ledger entry type for code %x", wasmHash)
	}
	return data.ContractCode.Code, nil
}
