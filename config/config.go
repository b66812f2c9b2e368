// Package config handles signer configuration.
//
// Configuration is split into two categories:
//   - Protocol rules: chain IDs, immutable, must
//     match across all signers
//   - Operator settings: runtime configuration, can vary per signer
package config

import (
	"time"
)

// NetworkType identifies mainnet or testnet.
type NetworkType string

// Networks.
const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
)

// Chain IDs by network.
const (
	MainnetChainID uint32 = 0x00000001
	TestnetChainID uint32 = 0x80000000
)

// ChainID returns the transaction chain ID for a network.
func (n NetworkType) ChainID() uint32 {
	if n == Mainnet {
		return MainnetChainID
	}
	return TestnetChainID
}

// Config holds signer-operator runtime configuration.
type Config struct {
	// Core
	Network NetworkType `conf:"network"`
	DataDir string      `conf:"datadir"`

	// Node is the local chain node's RPC endpoint.
	Node NodeConfig

	// Bus networking
	Bus BusConfig

	// Signer identity and round timeouts
	Signer SignerConfig

	// Logging
	Log LogConfig
}

// NodeConfig points the signer at its local chain node.
type NodeConfig struct {
	Endpoint string
	Timeout  time.Duration

	// EventsAddr is where this signer listens for the node's event
	// pushes (validation verdicts, proposed blocks).
	EventsAddr string
}

// BusConfig configures the signer bus node.
type BusConfig struct {
	ListenAddr string
	Port       int
	Seeds      []string
	NetworkID  string
	NoDiscover bool
	DHTServer  bool
}

// SignerConfig configures this operator's signer identity and the
// threshold-round timeouts.
type SignerConfig struct {
	// KeystorePath is the encrypted seed file; Account selects the
	// BIP-44 account the message key derives from.
	KeystorePath string
	Account      uint32

	// Slot is this signer's bus slot.
	Slot uint32

	// TxFee is attached to vote transactions before epoch 3.0, in
	// base units.
	TxFee uint64

	// Threshold round timeouts.
	DkgPublicTimeout  time.Duration
	DkgPrivateTimeout time.Duration
	DkgEndTimeout     time.Duration
	NonceTimeout      time.Duration
	SignTimeout       time.Duration
}

// LogConfig configures logging output.
type LogConfig struct {
	Level string
	JSON  bool
	File  string
}
