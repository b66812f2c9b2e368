package config

import (
	"fmt"
	"strings"

	"github.com/multiformats/go-multiaddr"
)

// Validate checks runtime signer config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Network != Mainnet && cfg.Network != Testnet {
		return fmt.Errorf("network must be %q or %q", Mainnet, Testnet)
	}
	if cfg.Bus.Port < 0 || cfg.Bus.Port > 65535 {
		return fmt.Errorf("bus.port must be in range [0, 65535]")
	}
	if cfg.Node.Endpoint == "" {
		return fmt.Errorf("node.endpoint is required")
	}
	if !strings.HasPrefix(cfg.Node.Endpoint, "http://") && !strings.HasPrefix(cfg.Node.Endpoint, "https://") {
		return fmt.Errorf("node.endpoint must be an http(s) URL")
	}
	if cfg.Signer.KeystorePath == "" {
		return fmt.Errorf("signer.keystore is required")
	}
	if cfg.Node.EventsAddr == "" {
		return fmt.Errorf("node.events is required")
	}

	for _, seed := range cfg.Bus.Seeds {
		if _, err := multiaddr.NewMultiaddr(seed); err != nil {
			return fmt.Errorf("bus.seeds entry %q is not a valid multiaddr: %w", seed, err)
		}
	}

	switch cfg.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn, or error")
	}

	for _, d := range []struct {
		name  string
		value int64
	}{
		{"signer.dkg_public_timeout", int64(cfg.Signer.DkgPublicTimeout)},
		{"signer.dkg_private_timeout", int64(cfg.Signer.DkgPrivateTimeout)},
		{"signer.dkg_end_timeout", int64(cfg.Signer.DkgEndTimeout)},
		{"signer.nonce_timeout", int64(cfg.Signer.NonceTimeout)},
		{"signer.sign_timeout", int64(cfg.Signer.SignTimeout)},
	} {
		if d.value < 0 {
			return fmt.Errorf("%s must not be negative", d.name)
		}
	}

	return nil
}
