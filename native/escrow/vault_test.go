package escrow

import "testing"

func TestVaultAddressDeterministic(t *testing.T) {
	first := VaultAddress(42)
	second := VaultAddress(42)
	if first != second {
		t.Fatalf("vault address must be stable for an id")
	}
	if first == ([20]byte{}) {
		t.Fatalf("vault address must not be zero")
	}
	if VaultAddress(42) == VaultAddress(43) {
		t.Fatalf("distinct ids must derive distinct vault addresses")
	}
}

func TestVaultAuthorityBoundToID(t *testing.T) {
	auth := mintVaultAuthority(7)
	if !auth.authorizes(7) {
		t.Fatalf("authority must debit its own vault")
	}
	if auth.authorizes(8) {
		t.Fatalf("authority must not debit another vault")
	}
	if (vaultAuthority{id: 7}).authorizes(7) {
		t.Fatalf("authority without proof must be rejected")
	}
	forged := vaultAuthority{id: 7, proof: [32]byte{0x01}}
	if forged.authorizes(7) {
		t.Fatalf("forged proof must be rejected")
	}
}
