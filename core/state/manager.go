package state

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"sort"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"clawscrow/native/escrow"
	"clawscrow/storage"
)

// Manager provides keccak-keyed, RLP-encoded access to the escrow state on
// top of a key-value database. Record and vault locations derive
// deterministically from the escrow id, so repeated calls referencing the
// same id always resolve to the same storage.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// TokenMetadata describes a registered fungible token.
type TokenMetadata struct {
	Symbol   string
	Name     string
	Decimals uint8
}

var (
	escrowPrefix  = []byte("escrow:")
	tokenPrefix   = []byte("token:")
	tokenListKey  = ethcrypto.Keccak256([]byte("token-list"))
	balancePrefix = []byte("balance:")
	vaultPrefix   = []byte("vault-ledger:")
)

func escrowKey(id uint64) []byte {
	buf := make([]byte, len(escrowPrefix)+8)
	copy(buf, escrowPrefix)
	binary.BigEndian.PutUint64(buf[len(escrowPrefix):], id)
	return ethcrypto.Keccak256(buf)
}

func tokenMetadataKey(symbol string) []byte {
	buf := make([]byte, len(tokenPrefix)+len(symbol))
	copy(buf, tokenPrefix)
	copy(buf[len(tokenPrefix):], symbol)
	return ethcrypto.Keccak256(buf)
}

func balanceKey(addr []byte, symbol string) []byte {
	buf := make([]byte, len(balancePrefix)+len(symbol)+1+len(addr))
	copy(buf, balancePrefix)
	copy(buf[len(balancePrefix):], symbol)
	buf[len(balancePrefix)+len(symbol)] = ':'
	copy(buf[len(balancePrefix)+len(symbol)+1:], addr)
	return ethcrypto.Keccak256(buf)
}

func vaultLedgerKey(id uint64, symbol string) []byte {
	buf := make([]byte, len(vaultPrefix)+len(symbol)+1+8)
	copy(buf, vaultPrefix)
	copy(buf[len(vaultPrefix):], symbol)
	buf[len(vaultPrefix)+len(symbol)] = ':'
	binary.BigEndian.PutUint64(buf[len(vaultPrefix)+len(symbol)+1:], id)
	return ethcrypto.Keccak256(buf)
}

func (m *Manager) read(key []byte) ([]byte, error) {
	ok, err := m.db.Has(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return m.db.Get(key)
}

// storedEscrow is the RLP wire form of an escrow record. Timestamps are
// stored unsigned because RLP has no signed integer encoding.
type storedEscrow struct {
	ID               uint64
	Buyer            [20]byte
	Seller           [20]byte
	Arbitrator       [20]byte
	Token            string
	PaymentAmount    uint64
	BuyerCollateral  uint64
	SellerCollateral uint64
	FeeBps           uint32
	Deadline         uint64
	CreatedAt        uint64
	DeliveredAt      uint64
	MetaHash         [32]byte
	DeliveryHash     [32]byte
	State            uint8
	Ruling           uint8
}

// EscrowPut sanitizes and persists an escrow record under its id.
func (m *Manager) EscrowPut(e *escrow.Escrow) error {
	sanitized, err := escrow.SanitizeEscrow(e)
	if err != nil {
		return err
	}
	stored := &storedEscrow{
		ID:               sanitized.ID,
		Buyer:            sanitized.Buyer,
		Seller:           sanitized.Seller,
		Arbitrator:       sanitized.Arbitrator,
		Token:            sanitized.Token,
		PaymentAmount:    sanitized.PaymentAmount,
		BuyerCollateral:  sanitized.BuyerCollateral,
		SellerCollateral: sanitized.SellerCollateral,
		FeeBps:           sanitized.FeeBps,
		Deadline:         uint64(sanitized.Deadline),
		CreatedAt:        uint64(sanitized.CreatedAt),
		DeliveredAt:      uint64(sanitized.DeliveredAt),
		MetaHash:         sanitized.MetaHash,
		DeliveryHash:     sanitized.DeliveryHash,
		State:            uint8(sanitized.State),
		Ruling:           uint8(sanitized.Ruling),
	}
	encoded, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return err
	}
	return m.db.Put(escrowKey(sanitized.ID), encoded)
}

// EscrowGet loads the escrow stored under the supplied id. The boolean return
// reports whether the record exists.
func (m *Manager) EscrowGet(id uint64) (*escrow.Escrow, bool) {
	data, err := m.read(escrowKey(id))
	if err != nil || len(data) == 0 {
		return nil, false
	}
	stored := new(storedEscrow)
	if err := rlp.DecodeBytes(data, stored); err != nil {
		return nil, false
	}
	return &escrow.Escrow{
		ID:               stored.ID,
		Buyer:            stored.Buyer,
		Seller:           stored.Seller,
		Arbitrator:       stored.Arbitrator,
		Token:            stored.Token,
		PaymentAmount:    stored.PaymentAmount,
		BuyerCollateral:  stored.BuyerCollateral,
		SellerCollateral: stored.SellerCollateral,
		FeeBps:           stored.FeeBps,
		Deadline:         int64(stored.Deadline),
		CreatedAt:        int64(stored.CreatedAt),
		DeliveredAt:      int64(stored.DeliveredAt),
		MetaHash:         stored.MetaHash,
		DeliveryHash:     stored.DeliveryHash,
		State:            escrow.EscrowState(stored.State),
		Ruling:           escrow.Ruling(stored.Ruling),
	}, true
}

func (m *Manager) loadTokenList() ([]string, error) {
	data, err := m.read(tokenListKey)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return []string{}, nil
	}
	var list []string
	if err := rlp.DecodeBytes(data, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (m *Manager) loadTokenMetadata(symbol string) (*TokenMetadata, error) {
	data, err := m.read(tokenMetadataKey(symbol))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	meta := new(TokenMetadata)
	if err := rlp.DecodeBytes(data, meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// RegisterToken stores the metadata for a token and records it in the token
// index. Registering the same symbol twice fails.
func (m *Manager) RegisterToken(symbol, name string, decimals uint8) error {
	normalized, err := escrow.NormalizeToken(symbol)
	if err != nil {
		return err
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("token %s: name must not be empty", normalized)
	}
	if existing, err := m.loadTokenMetadata(normalized); err != nil {
		return err
	} else if existing != nil {
		return fmt.Errorf("token %s already registered", normalized)
	}
	list, err := m.loadTokenList()
	if err != nil {
		return err
	}
	list = append(list, normalized)
	sort.Strings(list)
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	if err := m.db.Put(tokenListKey, encoded); err != nil {
		return err
	}
	meta := &TokenMetadata{Symbol: normalized, Name: name, Decimals: decimals}
	encodedMeta, err := rlp.EncodeToBytes(meta)
	if err != nil {
		return err
	}
	return m.db.Put(tokenMetadataKey(normalized), encodedMeta)
}

// Token retrieves metadata for a registered token.
func (m *Manager) Token(symbol string) (*TokenMetadata, error) {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	return m.loadTokenMetadata(normalized)
}

// TokenList returns all registered token symbols in sorted order.
func (m *Manager) TokenList() ([]string, error) {
	return m.loadTokenList()
}

// TokenExists reports whether the provided token symbol is registered.
func (m *Manager) TokenExists(symbol string) bool {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if normalized == "" {
		return false
	}
	meta, err := m.loadTokenMetadata(normalized)
	return err == nil && meta != nil
}

// SetBalance stores an account balance for the provided token.
func (m *Manager) SetBalance(addr []byte, symbol string, amount *big.Int) error {
	if len(addr) == 0 {
		return fmt.Errorf("address must not be empty")
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative balance not allowed")
	}
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if !m.TokenExists(normalized) {
		return fmt.Errorf("token %s not registered", normalized)
	}
	encoded, err := rlp.EncodeToBytes(amount)
	if err != nil {
		return err
	}
	return m.db.Put(balanceKey(addr, normalized), encoded)
}

// Balance retrieves a token balance for the provided account and token. An
// absent balance reads as zero.
func (m *Manager) Balance(addr []byte, symbol string) (*big.Int, error) {
	data, err := m.read(balanceKey(addr, strings.ToUpper(strings.TrimSpace(symbol))))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return big.NewInt(0), nil
	}
	amount := new(big.Int)
	if err := rlp.DecodeBytes(data, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

func (m *Manager) vaultLedger(id uint64, symbol string) (*big.Int, error) {
	data, err := m.read(vaultLedgerKey(id, symbol))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return big.NewInt(0), nil
	}
	amount := new(big.Int)
	if err := rlp.DecodeBytes(data, amount); err != nil {
		return nil, err
	}
	return amount, nil
}

func (m *Manager) writeVaultLedger(id uint64, symbol string, amount *big.Int) error {
	encoded, err := rlp.EncodeToBytes(amount)
	if err != nil {
		return err
	}
	return m.db.Put(vaultLedgerKey(id, symbol), encoded)
}

// VaultCredit records funds entering the escrow's vault.
func (m *Manager) VaultCredit(id uint64, symbol string, amt *big.Int) error {
	normalized, err := escrow.NormalizeToken(symbol)
	if err != nil {
		return err
	}
	if amt == nil || amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("negative vault credit")
	}
	current, err := m.vaultLedger(id, normalized)
	if err != nil {
		return err
	}
	return m.writeVaultLedger(id, normalized, new(big.Int).Add(current, amt))
}

// VaultDebit records funds leaving the escrow's vault, failing when the
// ledger balance is insufficient.
func (m *Manager) VaultDebit(id uint64, symbol string, amt *big.Int) error {
	normalized, err := escrow.NormalizeToken(symbol)
	if err != nil {
		return err
	}
	if amt == nil || amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("negative vault debit")
	}
	current, err := m.vaultLedger(id, normalized)
	if err != nil {
		return err
	}
	if current.Cmp(amt) < 0 {
		return fmt.Errorf("insufficient vault balance")
	}
	return m.writeVaultLedger(id, normalized, new(big.Int).Sub(current, amt))
}

// VaultBalance reports the ledger balance held for the escrow id and token.
func (m *Manager) VaultBalance(id uint64, symbol string) (*big.Int, error) {
	normalized, err := escrow.NormalizeToken(symbol)
	if err != nil {
		return nil, err
	}
	return m.vaultLedger(id, normalized)
}
