package chain

import (
	"fmt"

	"github.com/stellar/go/network"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/contracts"
)

// Native-XLM Stellar Asset Contract addresses. The SAC address is
// deterministic per network, so these are constants rather than lookups.
const (
	NativeSACTestnet = "CDLZFC3SYJYDZT7K67VZ75HPJVIEUVNIXF47ZG2FB2RMQQVU2HHGCYSC"
	NativeSACMainnet = "CAS3J7GYLGXMF6TDJBBYYSE3HQ6BBSMLNUQ34T6TZMYMW2EVH34XOWMA"
)

// NativeSAC returns the native asset contract address for the network.
func NativeSAC(net contracts.Network) string {
	if net == contracts.NetworkMainnet {
		return NativeSACMainnet
	}
	return NativeSACTestnet
}

// Passphrase returns the network passphrase used for transaction signing.
func Passphrase(net contracts.Network) string {
	if net == contracts.NetworkMainnet {
		return network.PublicNetworkPassphrase
	}
	return network.TestNetworkPassphrase
}

// ExplorerURL builds the stellar.expert link for a submitted transaction.
func ExplorerURL(net contracts.Network, txHash string) string {
	segment := "testnet"
	if net == contracts.NetworkMainnet {
		segment = "public"
	}
	return fmt.Sprintf("https://stellar.expert/explorer/%s/tx/%s", segment, txHash)
}
