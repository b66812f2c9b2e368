package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// DefaultMainnet returns the default signer configuration for mainnet.
func DefaultMainnet() *Config {
	return &Config{
		Network: Mainnet,
		DataDir: DefaultDataDir(),
		Node: NodeConfig{
			Endpoint:   "http://127.0.0.1:20443",
			Timeout:    10 * time.Second,
			EventsAddr: "127.0.0.1:30445",
		},
		Bus: BusConfig{
			ListenAddr: "0.0.0.0",
			Port:       30444,
			NetworkID:  "embernet-mainnet-1",
			// Seeds are bus bootstrap nodes, as multiaddr strings, e.g.:
			//   "/dns4/seed1.embernet.io/tcp/30444/p2p/12D3KooW..."
			// Run seed nodes with --dht-server for optimal DHT performance.
			Seeds: []string{},
		},
		Signer: SignerConfig{
			TxFee:             10_000,
			DkgPublicTimeout:  2 * time.Minute,
			DkgPrivateTimeout: 2 * time.Minute,
			DkgEndTimeout:     time.Minute,
			NonceTimeout:      time.Minute,
			SignTimeout:       2 * time.Minute,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultTestnet returns the default signer configuration for testnet.
func DefaultTestnet() *Config {
	cfg := DefaultMainnet()
	cfg.Network = Testnet
	cfg.DataDir = filepath.Join(DefaultDataDir(), "testnet")
	cfg.Bus.Port = 31444
	cfg.Bus.NetworkID = "embernet-testnet-1"
	cfg.Node.Endpoint = "http://127.0.0.1:21443"
	cfg.Node.EventsAddr = "127.0.0.1:31445"
	return cfg
}

// Default returns the default configuration for a network.
func Default(network NetworkType) *Config {
	if network == Testnet {
		return DefaultTestnet()
	}
	return DefaultMainnet()
}

// DefaultDataDir returns the platform-appropriate data directory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".embersigner"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "Embersigner")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "Embersigner")
		}
		return filepath.Join(home, "AppData", "Roaming", "Embersigner")
	default:
		return filepath.Join(home, ".embersigner")
	}
}

// SignerDBPath returns the signer database location under the data dir.
func (c *Config) SignerDBPath() string {
	return filepath.Join(c.DataDir, "signerdb")
}
