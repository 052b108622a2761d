package chain

import "strings"

// DefaultExplorerURL is the Hoodi testnet block explorer.
const DefaultExplorerURL = "https://hoodi.etherscan.io"

// TxExplorerURL links a transaction hash on the explorer.
func TxExplorerURL(base, txHash string) string {
	return explorerBase(base) + "/tx/" + txHash
}

// AddressExplorerURL links an address on the explorer.
func AddressExplorerURL(base, address string) string {
	return explorerBase(base) + "/address/" + address
}

func explorerBase(base string) string {
	if base == "" {
		base = DefaultExplorerURL
	}
	return strings.TrimRight(base, "/")
}
