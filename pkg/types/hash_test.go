package types

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestHash_HexRoundtrip(t *testing.T) {
	hexStr := strings.Repeat("ab", HashSize)
	h, err := HexToHash(hexStr)
	if err != nil {
		t.Fatalf("HexToHash: %v", err)
	}
	if h.String() != hexStr {
		t.Errorf("String() = %q, want %q", h.String(), hexStr)
	}
}

func TestHexToHash_WrongLength(t *testing.T) {
	if _, err := HexToHash("abcd"); err == nil {
		t.Error("expected error for short hex")
	}
	if _, err := HexToHash(strings.Repeat("ab", HashSize+1)); err == nil {
		t.Error("expected error for long hex")
	}
}

func TestHash_JSONRoundtrip(t *testing.T) {
	h := Hash{0x01, 0x02, 0x03}
	data, err := json.Marshal(h)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got Hash
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != h {
		t.Errorf("roundtrip = %v, want %v", got, h)
	}
}

func TestHash160_JSONRoundtrip(t *testing.T) {
	h := Hash160{0xde, 0xad, 0xbe, 0xef}
	data, err := json.Marshal(h)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got Hash160
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != h {
		t.Errorf("roundtrip = %v, want %v", got, h)
	}
}

func TestHash_IsZero(t *testing.T) {
	var h Hash
	if !h.IsZero() {
		t.Error("zero hash should report IsZero")
	}
	h[0] = 1
	if h.IsZero() {
		t.Error("non-zero hash should not report IsZero")
	}
}

func TestVRFPublicKey_HexRoundtrip(t *testing.T) {
	hexStr := "a366b51292bef4edd64063d9145c617fec373bceb0758e98cd72becd84d54c7a"
	k, err := HexToVRFPublicKey(hexStr)
	if err != nil {
		t.Fatalf("HexToVRFPublicKey: %v", err)
	}
	if k.String() != hexStr {
		t.Errorf("String() = %q, want %q", k.String(), hexStr)
	}
}
