package crypto

import (
	"bytes"
	"strings"
	"testing"
)

func TestAddressRoundTrip(t *testing.T) {
	raw := bytes.Repeat([]byte{0xAB}, 20)
	addr := NewAddress(ClawPrefix, raw)
	encoded := addr.String()
	if !strings.HasPrefix(encoded, string(ClawPrefix)+"1") {
		t.Fatalf("expected claw-prefixed bech32, got %q", encoded)
	}

	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(decoded.Bytes(), raw) {
		t.Fatalf("round trip mismatch: %x != %x", decoded.Bytes(), raw)
	}
	if decoded.Prefix() != ClawPrefix {
		t.Fatalf("unexpected prefix %q", decoded.Prefix())
	}
}

func TestDecodeAddressRejectsGarbage(t *testing.T) {
	for _, input := range []string{
		"",
		"not-bech32",
		"claw1qqqq", // truncated payload
	} {
		if _, err := DecodeAddress(input); err == nil {
			t.Fatalf("expected error for %q", input)
		}
	}
}

func TestDecodeAddressRejectsForeignPrefix(t *testing.T) {
	raw := bytes.Repeat([]byte{0x01}, 20)
	foreign := Address{prefix: "cosmos", bytes: raw}
	if _, err := DecodeAddress(foreign.String()); err == nil {
		t.Fatalf("expected prefix rejection")
	}
}

func TestAddressArrayAndZero(t *testing.T) {
	zero := NewAddress(ClawPrefix, make([]byte, 20))
	if !zero.IsZero() {
		t.Fatalf("all-zero address must report zero")
	}
	raw := bytes.Repeat([]byte{0x07}, 20)
	addr := NewAddress(ClawPrefix, raw)
	if addr.IsZero() {
		t.Fatalf("non-zero address must not report zero")
	}
	arr := addr.Array()
	if !bytes.Equal(arr[:], raw) {
		t.Fatalf("array mismatch")
	}
}

func TestGeneratedKeyDerivesAddress(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	addr := key.PubKey().Address()
	if addr.IsZero() {
		t.Fatalf("derived address must not be zero")
	}

	restored, err := PrivateKeyFromBytes(key.Bytes())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.PubKey().Address().String() != addr.String() {
		t.Fatalf("restored key must derive the same address")
	}
}
