package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// LoadFile loads signer configuration from a .conf file.
// Format: key = value (one per line, # for comments)
func LoadFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse key = value
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: invalid format (expected key = value)", lineNum)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Remove quotes if present
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		values[key] = value
	}

	return values, scanner.Err()
}

// ApplyFileConfig applies file configuration to a Config struct.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	for key, value := range values {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

// setConfigValue sets an operator config value by key.
// Only operator settings, NOT protocol rules.
func setConfigValue(cfg *Config, key, value string) error {
	switch key {
	// Core
	case "network":
		cfg.Network = NetworkType(value)
	case "datadir":
		cfg.DataDir = value

	// Node
	case "node.endpoint":
		cfg.Node.Endpoint = value
	case "node.timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		cfg.Node.Timeout = d
	case "node.events":
		cfg.Node.EventsAddr = value

	// Bus
	case "bus.listen":
		cfg.Bus.ListenAddr = value
	case "bus.port":
		port, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Bus.Port = port
	case "bus.seeds":
		cfg.Bus.Seeds = parseStringList(value)
	case "bus.network":
		cfg.Bus.NetworkID = value
	case "bus.nodiscover":
		cfg.Bus.NoDiscover = parseBool(value)
	case "bus.dhtserver":
		cfg.Bus.DHTServer = parseBool(value)

	// Signer
	case "signer.keystore":
		cfg.Signer.KeystorePath = value
	case "signer.account":
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return err
		}
		cfg.Signer.Account = uint32(n)
	case "signer.slot":
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil {
			return err
		}
		cfg.Signer.Slot = uint32(n)
	case "signer.txfee":
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		cfg.Signer.TxFee = n
	case "signer.dkg_public_timeout":
		return setDuration(&cfg.Signer.DkgPublicTimeout, value)
	case "signer.dkg_private_timeout":
		return setDuration(&cfg.Signer.DkgPrivateTimeout, value)
	case "signer.dkg_end_timeout":
		return setDuration(&cfg.Signer.DkgEndTimeout, value)
	case "signer.nonce_timeout":
		return setDuration(&cfg.Signer.NonceTimeout, value)
	case "signer.sign_timeout":
		return setDuration(&cfg.Signer.SignTimeout, value)

	// Logging
	case "log.level":
		cfg.Log.Level = value
	case "log.json":
		cfg.Log.JSON = parseBool(value)
	case "log.file":
		cfg.Log.File = value

	default:
		return fmt.Errorf("unknown key")
	}
	return nil
}

// setDuration parses a duration into dst.
func setDuration(dst *time.Duration, value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

// parseBool accepts 1/0, true/false, yes/no.
func parseBool(value string) bool {
	switch strings.ToLower(value) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// parseStringList splits a comma-separated list, trimming whitespace.
func parseStringList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
