package state_test

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"clawscrow/core/state"
	"clawscrow/native/escrow"
	"clawscrow/storage"
)

func newTestManager(t *testing.T) (*state.Manager, storage.Database) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	return state.NewManager(db), db
}

func testAddr(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func TestRegisterToken(t *testing.T) {
	mgr, _ := newTestManager(t)

	require.NoError(t, mgr.RegisterToken("usdc", "USD Coin", 6))
	require.True(t, mgr.TokenExists("USDC"))
	require.True(t, mgr.TokenExists("usdc"))

	meta, err := mgr.Token("usdc")
	require.NoError(t, err)
	require.NotNil(t, meta)
	require.Equal(t, "USDC", meta.Symbol)
	require.Equal(t, "USD Coin", meta.Name)
	require.Equal(t, uint8(6), meta.Decimals)

	require.Error(t, mgr.RegisterToken("USDC", "Duplicate", 6))
	require.Error(t, mgr.RegisterToken("bad token", "Spaces", 6))
	require.Error(t, mgr.RegisterToken("DAI", "  ", 18))
}

func TestTokenListSorted(t *testing.T) {
	mgr, _ := newTestManager(t)
	require.NoError(t, mgr.RegisterToken("ZUSD", "Z Dollar", 6))
	require.NoError(t, mgr.RegisterToken("DAI", "Dai", 18))
	require.NoError(t, mgr.RegisterToken("USDC", "USD Coin", 6))

	list, err := mgr.TokenList()
	require.NoError(t, err)
	require.Equal(t, []string{"DAI", "USDC", "ZUSD"}, list)
}

func TestBalances(t *testing.T) {
	mgr, _ := newTestManager(t)
	addr := testAddr(0x01)

	require.Error(t, mgr.SetBalance(addr[:], "USDC", big.NewInt(100)), "unregistered token must be rejected")

	require.NoError(t, mgr.RegisterToken("USDC", "USD Coin", 6))

	bal, err := mgr.Balance(addr[:], "USDC")
	require.NoError(t, err)
	require.Zero(t, bal.Sign(), "absent balance reads as zero")

	require.NoError(t, mgr.SetBalance(addr[:], "usdc", big.NewInt(1234)))
	bal, err = mgr.Balance(addr[:], "USDC")
	require.NoError(t, err)
	require.Equal(t, int64(1234), bal.Int64())

	require.Error(t, mgr.SetBalance(addr[:], "USDC", big.NewInt(-1)))
	require.Error(t, mgr.SetBalance(nil, "USDC", big.NewInt(1)))

	require.NoError(t, mgr.SetBalance(addr[:], "USDC", big.NewInt(0)))
	bal, err = mgr.Balance(addr[:], "USDC")
	require.NoError(t, err)
	require.Zero(t, bal.Sign())
}

func TestEscrowRoundTrip(t *testing.T) {
	mgr, db := newTestManager(t)

	esc := &escrow.Escrow{
		ID:               9,
		Buyer:            testAddr(0x01),
		Seller:           testAddr(0x02),
		Arbitrator:       testAddr(0x03),
		Token:            "usdc",
		PaymentAmount:    1000,
		BuyerCollateral:  100,
		SellerCollateral: 100,
		FeeBps:           100,
		Deadline:         1_700_086_400,
		CreatedAt:        1_700_000_000,
		DeliveredAt:      1_700_000_600,
		MetaHash:         [32]byte{0xAA},
		DeliveryHash:     [32]byte{0xDD},
		State:            escrow.StateDelivered,
	}
	require.NoError(t, mgr.EscrowPut(esc))

	// Records survive manager reconstruction over the same database.
	stored, ok := state.NewManager(db).EscrowGet(9)
	require.True(t, ok)
	require.Equal(t, esc.ID, stored.ID)
	require.Equal(t, esc.Buyer, stored.Buyer)
	require.Equal(t, esc.Seller, stored.Seller)
	require.Equal(t, "USDC", stored.Token, "token casing is canonical on read")
	require.Equal(t, esc.PaymentAmount, stored.PaymentAmount)
	require.Equal(t, esc.Deadline, stored.Deadline)
	require.Equal(t, esc.CreatedAt, stored.CreatedAt)
	require.Equal(t, esc.DeliveredAt, stored.DeliveredAt)
	require.Equal(t, esc.MetaHash, stored.MetaHash)
	require.Equal(t, esc.DeliveryHash, stored.DeliveryHash)
	require.Equal(t, escrow.StateDelivered, stored.State)
	require.Equal(t, escrow.RulingNone, stored.Ruling)

	_, ok = mgr.EscrowGet(10)
	require.False(t, ok)
}

func TestEscrowPutRejectsInvalid(t *testing.T) {
	mgr, _ := newTestManager(t)

	require.Error(t, mgr.EscrowPut(nil))
	require.Error(t, mgr.EscrowPut(&escrow.Escrow{
		ID:            1,
		Token:         "USDC",
		PaymentAmount: 0,
		State:         escrow.StateOpen,
	}))
	// A seller on an open escrow violates the state discriminant.
	require.Error(t, mgr.EscrowPut(&escrow.Escrow{
		ID:            1,
		Seller:        testAddr(0x02),
		Token:         "USDC",
		PaymentAmount: 100,
		State:         escrow.StateOpen,
	}))
	_, ok := mgr.EscrowGet(1)
	require.False(t, ok, "rejected records must not persist")
}

func TestVaultLedger(t *testing.T) {
	mgr, _ := newTestManager(t)

	bal, err := mgr.VaultBalance(1, "USDC")
	require.NoError(t, err)
	require.Zero(t, bal.Sign())

	require.NoError(t, mgr.VaultCredit(1, "usdc", big.NewInt(1100)))
	require.NoError(t, mgr.VaultCredit(1, "USDC", big.NewInt(100)))
	bal, err = mgr.VaultBalance(1, "USDC")
	require.NoError(t, err)
	require.Equal(t, int64(1200), bal.Int64())

	require.Error(t, mgr.VaultDebit(1, "USDC", big.NewInt(1300)), "overdraft must fail")
	require.NoError(t, mgr.VaultDebit(1, "USDC", big.NewInt(1200)))
	bal, err = mgr.VaultBalance(1, "USDC")
	require.NoError(t, err)
	require.Zero(t, bal.Sign())

	// Ledgers are scoped per escrow id.
	require.NoError(t, mgr.VaultCredit(2, "USDC", big.NewInt(50)))
	bal, err = mgr.VaultBalance(1, "USDC")
	require.NoError(t, err)
	require.Zero(t, bal.Sign())

	require.Error(t, mgr.VaultCredit(1, "USDC", big.NewInt(-5)))
	require.Error(t, mgr.VaultDebit(1, "USDC", big.NewInt(-5)))
	require.NoError(t, mgr.VaultCredit(1, "USDC", nil))
}
