package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"clawscrow/core/events"
	"clawscrow/core/types"
)

var errNilState = errors.New("escrow engine: state not configured")

// engineState is the narrow view of the state backend the engine needs. The
// host must serialize calls per escrow id; the engine re-validates the
// precondition state on every call and performs no internal locking.
type engineState interface {
	EscrowPut(*Escrow) error
	EscrowGet(id uint64) (*Escrow, bool)
	VaultCredit(id uint64, token string, amt *big.Int) error
	VaultDebit(id uint64, token string, amt *big.Int) error
	VaultBalance(id uint64, token string) (*big.Int, error)
	Balance(addr []byte, token string) (*big.Int, error)
	SetBalance(addr []byte, token string, amt *big.Int) error
	TokenExists(token string) bool
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine wires the escrow transition logic with external state and event
// emitters. Each operation validates the caller and the exact precondition
// state, applies the transition, and moves funds between funding accounts and
// the per-escrow vault; any violation aborts with no partial mutation and no
// partial transfer.
type Engine struct {
	state        engineState
	emitter      events.Emitter
	nowFn        func() int64
	reviewPeriod int64
	feeBps       uint32
}

// NewEngine creates an escrow engine with a no-op emitter and the default
// review period and arbitration fee. Callers can override via the setters.
func NewEngine() *Engine {
	return &Engine{
		emitter:      events.NoopEmitter{},
		nowFn:        func() int64 { return time.Now().Unix() },
		reviewPeriod: DefaultReviewPeriod,
		feeBps:       DefaultArbitrationFeeBps,
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetReviewPeriod overrides the post-delivery review window in seconds.
// Non-positive values restore the default.
func (e *Engine) SetReviewPeriod(seconds int64) {
	if seconds <= 0 {
		e.reviewPeriod = DefaultReviewPeriod
		return
	}
	e.reviewPeriod = seconds
}

// SetArbitrationFeeBps overrides the arbitration fee, in basis points of the
// pooled funds, frozen onto escrows created afterwards.
func (e *Engine) SetArbitrationFeeBps(bps uint32) error {
	if bps > feeDenominator {
		return fmt.Errorf("escrow: fee bps out of range: %d", bps)
	}
	e.feeBps = bps
	return nil
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) loadEscrow(id uint64) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	esc, ok := e.state.EscrowGet(id)
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return esc, nil
}

func (e *Engine) storeEscrow(esc *Escrow) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.EscrowPut(esc)
}

// transferToken is the value-transfer primitive: it moves amount between two
// account balances and fails without partial application when the source
// balance is insufficient.
func (e *Engine) transferToken(from, to [20]byte, token string, amount uint64) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if amount == 0 {
		return nil
	}
	if !e.state.TokenExists(token) {
		return fmt.Errorf("escrow: unsupported token %s", token)
	}
	amt := new(big.Int).SetUint64(amount)
	fromBal, err := e.state.Balance(from[:], token)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amt) < 0 {
		return fmt.Errorf("escrow: insufficient %s balance", token)
	}
	toBal, err := e.state.Balance(to[:], token)
	if err != nil {
		return err
	}
	if err := e.state.SetBalance(from[:], token, new(big.Int).Sub(fromBal, amt)); err != nil {
		return err
	}
	return e.state.SetBalance(to[:], token, new(big.Int).Add(toBal, amt))
}

// fundVault moves amount from a party's funding account into the escrow's
// vault and records the credit on the vault ledger.
func (e *Engine) fundVault(esc *Escrow, from [20]byte, amount uint64) error {
	if amount == 0 {
		return nil
	}
	if err := e.transferToken(from, VaultAddress(esc.ID), esc.Token, amount); err != nil {
		return err
	}
	return e.state.VaultCredit(esc.ID, esc.Token, new(big.Int).SetUint64(amount))
}

// payFromVault releases amount from the escrow's vault to a stored party. The
// debit requires a capability minted for this exact escrow id; settlement is
// the only place such a capability exists.
func (e *Engine) payFromVault(esc *Escrow, auth vaultAuthority, to [20]byte, amount uint64) error {
	if !auth.authorizes(esc.ID) {
		return fmt.Errorf("%w: vault debit without authority", ErrUnauthorized)
	}
	if amount == 0 {
		return nil
	}
	if err := e.transferToken(VaultAddress(esc.ID), to, esc.Token, amount); err != nil {
		return err
	}
	return e.state.VaultDebit(esc.ID, esc.Token, new(big.Int).SetUint64(amount))
}

// Create allocates a new escrow record and pulls the buyer's funding leg
// (payment + buyer collateral) into the vault. The id is caller-supplied and
// must be unused; the description is bound to the record by its keccak256
// fingerprint rather than stored verbatim.
func (e *Engine) Create(id uint64, buyer, arbitrator [20]byte, token string, payment, buyerCollateral, sellerCollateral uint64, description string, deadline int64) (*Escrow, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	normalizedToken, err := NormalizeToken(token)
	if err != nil {
		return nil, err
	}
	if payment == 0 {
		return nil, ErrInvalidAmount
	}
	if len(description) > MaxDescriptionLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrDescriptionTooLong, len(description))
	}
	now := e.now()
	if deadline <= now {
		return nil, ErrInvalidDeadline
	}
	if _, ok := e.state.EscrowGet(id); ok {
		return nil, fmt.Errorf("%w: id %d already exists", ErrInvalidState, id)
	}
	esc := &Escrow{
		ID:               id,
		Buyer:            buyer,
		Arbitrator:       arbitrator,
		Token:            normalizedToken,
		PaymentAmount:    payment,
		BuyerCollateral:  buyerCollateral,
		SellerCollateral: sellerCollateral,
		FeeBps:           e.feeBps,
		Deadline:         deadline,
		CreatedAt:        now,
		State:            StateOpen,
	}
	copy(esc.MetaHash[:], ethcrypto.Keccak256([]byte(description)))
	// Reject pools that cannot settle before any funds move.
	if _, err := esc.TotalPool(); err != nil {
		return nil, err
	}
	funding, err := checkedAdd(payment, buyerCollateral)
	if err != nil {
		return nil, err
	}
	if err := e.fundVault(esc, buyer, funding); err != nil {
		return nil, err
	}
	if err := e.storeEscrow(esc); err != nil {
		return nil, err
	}
	e.emit(NewCreatedEvent(esc))
	return esc.Clone(), nil
}

// Accept binds the caller as the seller of an open escrow and pulls the
// seller collateral into the vault. Exactly one accept can win; later calls
// observe StateActive and fail.
func (e *Engine) Accept(id uint64, caller [20]byte) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.State != StateOpen {
		return fmt.Errorf("%w: accept in state %s", ErrInvalidState, esc.State)
	}
	if caller == ([20]byte{}) {
		return fmt.Errorf("%w: zero seller address", ErrUnauthorized)
	}
	if err := e.fundVault(esc, caller, esc.SellerCollateral); err != nil {
		return err
	}
	esc.Seller = caller
	esc.State = StateActive
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewAcceptedEvent(esc))
	return nil
}

// Deliver records the delivery fingerprint and timestamp. Only the stored
// seller may deliver, and only from StateActive.
func (e *Engine) Deliver(id uint64, caller [20]byte, deliveryHash [32]byte) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.State != StateActive {
		return fmt.Errorf("%w: deliver in state %s", ErrInvalidState, esc.State)
	}
	if caller != esc.Seller {
		return fmt.Errorf("%w: deliver requires seller", ErrUnauthorized)
	}
	esc.DeliveryHash = deliveryHash
	esc.DeliveredAt = e.now()
	esc.State = StateDelivered
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewDeliveredEvent(esc))
	return nil
}

// Approve releases the escrow in favour of the seller: payment plus seller
// collateral to the seller, buyer collateral back to the buyer. Only the
// stored buyer may approve.
func (e *Engine) Approve(id uint64, caller [20]byte) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.State != StateDelivered {
		return fmt.Errorf("%w: approve in state %s", ErrInvalidState, esc.State)
	}
	if caller != esc.Buyer {
		return fmt.Errorf("%w: approve requires buyer", ErrUnauthorized)
	}
	return e.settleApproval(esc, false)
}

// AutoApprove performs the same settlement as Approve once the review period
// after delivery has elapsed. Any caller may trigger it.
func (e *Engine) AutoApprove(id uint64) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.State != StateDelivered {
		return fmt.Errorf("%w: auto-approve in state %s", ErrInvalidState, esc.State)
	}
	if e.now() < esc.DeliveredAt+e.reviewPeriod {
		return ErrReviewPeriodActive
	}
	return e.settleApproval(esc, true)
}

// settleApproval is the single settlement routine shared by Approve and
// AutoApprove; the callers differ only in authorization and time gating.
func (e *Engine) settleApproval(esc *Escrow, auto bool) error {
	auth := mintVaultAuthority(esc.ID)
	sellerTotal, err := checkedAdd(esc.PaymentAmount, esc.SellerCollateral)
	if err != nil {
		return err
	}
	if err := e.payFromVault(esc, auth, esc.Seller, sellerTotal); err != nil {
		return err
	}
	if err := e.payFromVault(esc, auth, esc.Buyer, esc.BuyerCollateral); err != nil {
		return err
	}
	esc.State = StateApproved
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewApprovedEvent(esc, auto))
	return nil
}

// Dispute routes a delivered escrow to arbitration. Only the stored buyer may
// dispute, and only while the review window is open; afterwards the escrow
// can only auto-approve.
func (e *Engine) Dispute(id uint64, caller [20]byte) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.State != StateDelivered {
		return fmt.Errorf("%w: dispute in state %s", ErrInvalidState, esc.State)
	}
	if caller != esc.Buyer {
		return fmt.Errorf("%w: dispute requires buyer", ErrUnauthorized)
	}
	if e.now() >= esc.DeliveredAt+e.reviewPeriod {
		return ErrReviewPeriodExpired
	}
	esc.State = StateDisputed
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewDisputedEvent(esc))
	return nil
}

// Arbitrate settles a disputed escrow according to the arbitrator's ruling.
// The winner receives the whole pool minus the arbitration fee; the fee goes
// to the arbitrator. The vault drains to exactly zero.
func (e *Engine) Arbitrate(id uint64, caller [20]byte, ruling Ruling) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.State != StateDisputed {
		return fmt.Errorf("%w: arbitrate in state %s", ErrInvalidState, esc.State)
	}
	if caller != esc.Arbitrator {
		return fmt.Errorf("%w: arbitrate requires arbitrator", ErrUnauthorized)
	}
	var winner [20]byte
	switch ruling {
	case RulingBuyerWins:
		winner = esc.Buyer
	case RulingSellerWins:
		winner = esc.Seller
	default:
		return fmt.Errorf("escrow: invalid ruling %d", ruling)
	}
	pool, err := esc.TotalPool()
	if err != nil {
		return err
	}
	fee := feeFromPool(pool, esc.FeeBps)
	payout, err := checkedSub(pool, fee)
	if err != nil {
		return err
	}
	auth := mintVaultAuthority(esc.ID)
	if err := e.payFromVault(esc, auth, winner, payout); err != nil {
		return err
	}
	if err := e.payFromVault(esc, auth, esc.Arbitrator, fee); err != nil {
		return err
	}
	esc.State = StateResolved
	esc.Ruling = ruling
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewResolvedEvent(esc, fee))
	return nil
}

// Cancel is the pre-acceptance escape path: the buyer withdraws an open
// escrow and the vault returns payment + buyer collateral. Once a seller has
// accepted, cancellation is no longer possible.
func (e *Engine) Cancel(id uint64, caller [20]byte) error {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if esc.State != StateOpen {
		return fmt.Errorf("%w: cancel in state %s", ErrInvalidState, esc.State)
	}
	if caller != esc.Buyer {
		return fmt.Errorf("%w: cancel requires buyer", ErrUnauthorized)
	}
	refund, err := checkedAdd(esc.PaymentAmount, esc.BuyerCollateral)
	if err != nil {
		return err
	}
	auth := mintVaultAuthority(esc.ID)
	if err := e.payFromVault(esc, auth, esc.Buyer, refund); err != nil {
		return err
	}
	esc.State = StateCancelled
	if err := e.storeEscrow(esc); err != nil {
		return err
	}
	e.emit(NewCancelledEvent(esc))
	return nil
}

// Get returns a copy of the stored escrow record.
func (e *Engine) Get(id uint64) (*Escrow, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	return esc.Clone(), nil
}

// VaultBalance reports the funds currently held in flight for the escrow.
func (e *Engine) VaultBalance(id uint64) (*big.Int, error) {
	esc, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	return e.state.VaultBalance(esc.ID, esc.Token)
}
