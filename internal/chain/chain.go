// Package chain describes the target network and owns the RPC clients and
// signing identity shared by the chat pipelines.
package chain

import (
	"github.com/ethereum/go-ethereum/common"
)

// Network is a static description of an EVM network.
type Network struct {
	ChainID int64
	Name    string
	HTTPURL string
	WSURL   string

	// StreamsProtocol is the address of the data streams protocol contract.
	StreamsProtocol common.Address
}

// SomniaTestnet is the default network.
var SomniaTestnet = Network{
	ChainID: 50312,
	Name:    "Somnia Testnet",
	HTTPURL: "https://dream-rpc.somnia.network",
	WSURL:   "wss://dream-rpc.somnia.network/ws",
}

// HasProtocol reports whether the streams protocol address is known.
func (n Network) HasProtocol() bool {
	return n.StreamsProtocol != (common.Address{})
}
