package core

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"clawscrow/core/events"
	"clawscrow/core/state"
	"clawscrow/native/escrow"
	"clawscrow/storage"
)

// ErrEscrowNotFound is returned by read paths when no escrow exists under the
// requested id.
var ErrEscrowNotFound = escrow.ErrNotFound

// Node owns the database and serializes every escrow transition behind a
// single mutex, giving the engine the linearizable read-modify-write
// semantics it requires. Operations on different escrow ids share the mutex
// for simplicity; each transition is bounded by at most two transfers, so
// contention stays negligible.
type Node struct {
	stateMu sync.Mutex
	db      storage.Database

	events       *events.Ring
	reviewPeriod int64
	feeBps       uint32
	nowFn        func() int64
}

// NodeOption customises node construction.
type NodeOption func(*Node)

// WithReviewPeriod overrides the post-delivery review window in seconds.
func WithReviewPeriod(seconds int64) NodeOption {
	return func(n *Node) { n.reviewPeriod = seconds }
}

// WithArbitrationFeeBps overrides the arbitration fee in basis points.
func WithArbitrationFeeBps(bps uint32) NodeOption {
	return func(n *Node) { n.feeBps = bps }
}

// WithEventCapacity sizes the in-memory ring of recent events.
func WithEventCapacity(capacity int) NodeOption {
	return func(n *Node) { n.events = events.NewRing(capacity) }
}

// WithNowFunc overrides the time source, primarily used in tests.
func WithNowFunc(now func() int64) NodeOption {
	return func(n *Node) { n.nowFn = now }
}

// NewNode creates a node on top of the provided database.
func NewNode(db storage.Database, opts ...NodeOption) (*Node, error) {
	if db == nil {
		return nil, errors.New("node: database required")
	}
	n := &Node{
		db:           db,
		events:       events.NewRing(0),
		reviewPeriod: escrow.DefaultReviewPeriod,
		feeBps:       escrow.DefaultArbitrationFeeBps,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.feeBps > 10_000 {
		return nil, fmt.Errorf("node: arbitration fee bps out of range: %d", n.feeBps)
	}
	return n, nil
}

func (n *Node) newEscrowEngine(manager *state.Manager) *escrow.Engine {
	engine := escrow.NewEngine()
	engine.SetState(manager)
	engine.SetEmitter(n.events)
	engine.SetReviewPeriod(n.reviewPeriod)
	if n.nowFn != nil {
		engine.SetNowFunc(n.nowFn)
	}
	if err := engine.SetArbitrationFeeBps(n.feeBps); err != nil {
		// Range-checked in NewNode.
		panic(err)
	}
	return engine
}

// Bootstrapped reports whether the database already carries registered
// tokens. Daemons use this to apply genesis allocations exactly once.
func (n *Node) Bootstrapped() (bool, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	manager := state.NewManager(n.db)
	list, err := manager.TokenList()
	if err != nil {
		return false, err
	}
	return len(list) > 0, nil
}

// RegisterToken registers a fungible token for use by escrows. Typically
// called once at genesis.
func (n *Node) RegisterToken(symbol, name string, decimals uint8) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	manager := state.NewManager(n.db)
	return manager.RegisterToken(symbol, name, decimals)
}

// Mint adds amount to an account's token balance. Only intended for genesis
// allocation and tests; the escrow core never mints.
func (n *Node) Mint(addr [20]byte, symbol string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("node: mint amount must be positive")
	}
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	manager := state.NewManager(n.db)
	current, err := manager.Balance(addr[:], symbol)
	if err != nil {
		return err
	}
	return manager.SetBalance(addr[:], symbol, new(big.Int).Add(current, amount))
}

// TokenBalance reads an account's balance for the given token.
func (n *Node) TokenBalance(addr [20]byte, symbol string) (*big.Int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	manager := state.NewManager(n.db)
	return manager.Balance(addr[:], symbol)
}

// EscrowCreate allocates a new escrow and pulls the buyer funding leg into
// its vault.
func (n *Node) EscrowCreate(id uint64, buyer, arbitrator [20]byte, token string, payment, buyerCollateral, sellerCollateral uint64, description string, deadline int64) (*escrow.Escrow, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	engine := n.newEscrowEngine(state.NewManager(n.db))
	return engine.Create(id, buyer, arbitrator, token, payment, buyerCollateral, sellerCollateral, description, deadline)
}

// EscrowAccept binds the caller as seller and pulls the seller collateral.
func (n *Node) EscrowAccept(id uint64, caller [20]byte) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	engine := n.newEscrowEngine(state.NewManager(n.db))
	return engine.Accept(id, caller)
}

// EscrowDeliver records the delivery fingerprint.
func (n *Node) EscrowDeliver(id uint64, caller [20]byte, deliveryHash [32]byte) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	engine := n.newEscrowEngine(state.NewManager(n.db))
	return engine.Deliver(id, caller, deliveryHash)
}

// EscrowApprove releases the escrow in favour of the seller.
func (n *Node) EscrowApprove(id uint64, caller [20]byte) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	engine := n.newEscrowEngine(state.NewManager(n.db))
	return engine.Approve(id, caller)
}

// EscrowAutoApprove releases the escrow once the review period has elapsed.
func (n *Node) EscrowAutoApprove(id uint64) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	engine := n.newEscrowEngine(state.NewManager(n.db))
	return engine.AutoApprove(id)
}

// EscrowDispute routes a delivered escrow to arbitration.
func (n *Node) EscrowDispute(id uint64, caller [20]byte) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	engine := n.newEscrowEngine(state.NewManager(n.db))
	return engine.Dispute(id, caller)
}

// EscrowArbitrate settles a disputed escrow according to the ruling.
func (n *Node) EscrowArbitrate(id uint64, caller [20]byte, ruling escrow.Ruling) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	engine := n.newEscrowEngine(state.NewManager(n.db))
	return engine.Arbitrate(id, caller, ruling)
}

// EscrowCancel withdraws an open escrow back to the buyer.
func (n *Node) EscrowCancel(id uint64, caller [20]byte) error {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	engine := n.newEscrowEngine(state.NewManager(n.db))
	return engine.Cancel(id, caller)
}

// EscrowGet returns a copy of the stored escrow record.
func (n *Node) EscrowGet(id uint64) (*escrow.Escrow, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	manager := state.NewManager(n.db)
	esc, ok := manager.EscrowGet(id)
	if !ok {
		return nil, ErrEscrowNotFound
	}
	return esc, nil
}

// EscrowVaultBalance reports the funds currently held for the escrow.
func (n *Node) EscrowVaultBalance(id uint64) (*big.Int, error) {
	n.stateMu.Lock()
	defer n.stateMu.Unlock()
	manager := state.NewManager(n.db)
	esc, ok := manager.EscrowGet(id)
	if !ok {
		return nil, ErrEscrowNotFound
	}
	return manager.VaultBalance(esc.ID, esc.Token)
}

// Events lists recently emitted events whose type carries the given prefix.
func (n *Node) Events(prefix string, limit int) []events.Entry {
	return n.events.List(prefix, limit)
}
