package crypto

import (
	"encoding/json"
	"testing"
)

func TestSignAndRecover_Compressed(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	digest := Hash([]byte("sign me"))

	sig, err := key.Sign(digest[:])
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if sig.IsEmpty() {
		t.Fatal("signature should not be empty")
	}

	recovered, err := RecoverPublicKey(digest[:], sig)
	if err != nil {
		t.Fatalf("RecoverPublicKey: %v", err)
	}
	if !recovered.Equal(key.PublicKey()) {
		t.Error("recovered key should equal the signing key")
	}
	if !recovered.Compressed() {
		t.Error("recovered key should carry the compressed flag")
	}
}

func TestSignAndRecover_Uncompressed(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	key.SetCompressPublicKey(false)
	digest := Hash([]byte("uncompressed signer"))

	sig, err := key.Sign(digest[:])
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	recovered, err := RecoverPublicKey(digest[:], sig)
	if err != nil {
		t.Fatalf("RecoverPublicKey: %v", err)
	}
	if recovered.Compressed() {
		t.Error("recovered key should carry the uncompressed flag")
	}
	if len(recovered.Serialize()) != 65 {
		t.Errorf("uncompressed key should serialize to 65 bytes, got %d", len(recovered.Serialize()))
	}
	if !recovered.Equal(key.PublicKey()) {
		t.Error("recovered key should equal the signing key")
	}
}

func TestRecover_WrongHash(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	digest := Hash([]byte("original"))
	sig, err := key.Sign(digest[:])
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	other := Hash([]byte("tampered"))
	recovered, err := RecoverPublicKey(other[:], sig)
	if err == nil && recovered.Equal(key.PublicKey()) {
		t.Error("recovery over a different hash must not yield the signing key")
	}
}

func TestParsePublicKey_Encodings(t *testing.T) {
	key, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	pub := key.PublicKey()

	compressed, err := ParsePublicKey(pub.Serialize())
	if err != nil {
		t.Fatalf("ParsePublicKey compressed: %v", err)
	}
	if !compressed.Compressed() {
		t.Error("33-byte key should parse as compressed")
	}

	pub.SetCompressed(false)
	uncompressed, err := ParsePublicKey(pub.Serialize())
	if err != nil {
		t.Fatalf("ParsePublicKey uncompressed: %v", err)
	}
	if uncompressed.Compressed() {
		t.Error("65-byte key should parse as uncompressed")
	}
}

func TestSignature_JSONRoundtrip(t *testing.T) {
	var sig Signature
	for i := range sig {
		sig[i] = byte(i)
	}
	data, err := json.Marshal(sig)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got Signature
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != sig {
		t.Error("signature JSON roundtrip mismatch")
	}
}

func TestPrivateKeyFromBytes_Invalid(t *testing.T) {
	if _, err := PrivateKeyFromBytes([]byte{0x01}); err == nil {
		t.Error("expected error for short key")
	}
}
