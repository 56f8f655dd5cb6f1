package escrow

import (
	"crypto/subtle"
	"encoding/binary"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Domain separators keep vault addresses and debit authorities from
// colliding with any other derived value in the system.
const (
	vaultAddressDomain   = "clawscrow/vault/v1"
	vaultAuthorityDomain = "clawscrow/vault-authority/v1"
)

func escrowIDBytes(id uint64) [8]byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], id)
	return buf
}

// VaultAddress derives the custodial address holding the funds in flight for
// the escrow with the given id. The derivation is deterministic, so repeated
// calls for the same id always resolve to the same address, and the address
// corresponds to no known private key.
func VaultAddress(id uint64) [20]byte {
	idBytes := escrowIDBytes(id)
	digest := ethcrypto.Keccak256([]byte(vaultAddressDomain), idBytes[:])
	var addr [20]byte
	copy(addr[:], digest[12:])
	return addr
}

// vaultAuthority is the capability required to debit a vault. It is minted
// only inside the engine's settlement paths and carries a proof bound to the
// escrow id, so no code outside this package can construct a value that
// authorizes a debit.
type vaultAuthority struct {
	id    uint64
	proof [32]byte
}

func mintVaultAuthority(id uint64) vaultAuthority {
	idBytes := escrowIDBytes(id)
	digest := ethcrypto.Keccak256([]byte(vaultAuthorityDomain), idBytes[:])
	var proof [32]byte
	copy(proof[:], digest)
	return vaultAuthority{id: id, proof: proof}
}

// authorizes reports whether the capability permits debiting the vault of the
// escrow with the given id.
func (a vaultAuthority) authorizes(id uint64) bool {
	if a.id != id {
		return false
	}
	expected := mintVaultAuthority(id)
	return subtle.ConstantTimeCompare(a.proof[:], expected.proof[:]) == 1
}
