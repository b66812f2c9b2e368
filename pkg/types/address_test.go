package types

import (
	"encoding/json"
	"strings"
	"testing"
)

func testAddr(version byte) Address {
	var h Hash160
	for i := range h {
		h[i] = byte(i + 1)
	}
	return Address{Version: version, Hash: h}
}

func TestAddress_StringRoundtrip(t *testing.T) {
	for _, version := range []byte{
		AddressVersionMainnetSinglesig,
		AddressVersionMainnetMultisig,
		AddressVersionTestnetSinglesig,
		AddressVersionTestnetMultisig,
	} {
		a := testAddr(version)
		parsed, err := ParseAddress(a.String())
		if err != nil {
			t.Fatalf("ParseAddress(%q): %v", a.String(), err)
		}
		if parsed != a {
			t.Errorf("roundtrip = %+v, want %+v", parsed, a)
		}
	}
}

func TestAddress_HRPByNetwork(t *testing.T) {
	mainnet := testAddr(AddressVersionMainnetSinglesig)
	if !strings.HasPrefix(mainnet.String(), MainnetHRP+"1") {
		t.Errorf("mainnet address %q should start with %q", mainnet.String(), MainnetHRP+"1")
	}
	testnet := testAddr(AddressVersionTestnetMultisig)
	if !strings.HasPrefix(testnet.String(), TestnetHRP+"1") {
		t.Errorf("testnet address %q should start with %q", testnet.String(), TestnetHRP+"1")
	}
}

func TestParseAddress_RawHex(t *testing.T) {
	a := testAddr(AddressVersionMainnetMultisig)
	raw := "14" + a.Hash.String() // 0x14 == 20
	parsed, err := ParseAddress(raw)
	if err != nil {
		t.Fatalf("ParseAddress: %v", err)
	}
	if parsed != a {
		t.Errorf("parsed = %+v, want %+v", parsed, a)
	}
}

func TestParseAddress_Invalid(t *testing.T) {
	for _, s := range []string{"", "em1qqqq", "not-an-address", "ffff"} {
		if _, err := ParseAddress(s); err == nil {
			t.Errorf("ParseAddress(%q): expected error", s)
		}
	}
}

func TestAddress_JSONRoundtrip(t *testing.T) {
	a := testAddr(AddressVersionTestnetSinglesig)
	data, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got Address
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != a {
		t.Errorf("roundtrip = %+v, want %+v", got, a)
	}
}
