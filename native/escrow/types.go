package escrow

import (
	"fmt"
	"strings"
)

// EscrowState represents the lifecycle states of a single escrow job. The
// machine only ever moves forward: Open -> Active -> Delivered ->
// {Approved | Disputed}, Disputed -> Resolved, with Cancelled reachable only
// from Open. Approved, Resolved and Cancelled are terminal.
type EscrowState uint8

const (
	StateOpen EscrowState = iota
	StateActive
	StateDelivered
	StateApproved
	StateDisputed
	StateResolved
	StateCancelled
)

// Ruling captures the arbitrator's decision on a disputed escrow.
type Ruling uint8

const (
	RulingNone Ruling = iota
	RulingBuyerWins
	RulingSellerWins
)

const (
	// MaxDescriptionLen bounds the job description accepted at creation.
	MaxDescriptionLen = 500
	// DefaultReviewPeriod is the window after delivery during which the
	// buyer may approve or dispute before anyone can trigger auto-approval.
	DefaultReviewPeriod int64 = 3 * 24 * 60 * 60
	// DefaultArbitrationFeeBps is the share of the pooled funds, in basis
	// points, paid to the arbitrator when a dispute is resolved.
	DefaultArbitrationFeeBps uint32 = 100
)

// Escrow captures the durable state of one buyer/seller job. Parties and
// amounts are fixed at creation; Seller is the zero address until a seller
// accepts, DeliveryHash and DeliveredAt are unset until delivery, and Ruling
// is unset until a dispute is resolved.
type Escrow struct {
	ID               uint64
	Buyer            [20]byte
	Seller           [20]byte
	Arbitrator       [20]byte
	Token            string
	PaymentAmount    uint64
	BuyerCollateral  uint64
	SellerCollateral uint64
	FeeBps           uint32
	Deadline         int64
	CreatedAt        int64
	DeliveredAt      int64
	MetaHash         [32]byte
	DeliveryHash     [32]byte
	State            EscrowState
	Ruling           Ruling
}

// Clone returns a copy of the escrow so callers can safely mutate the result
// without affecting the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	return &clone
}

// TotalPool returns payment + buyer collateral + seller collateral with
// overflow checking.
func (e *Escrow) TotalPool() (uint64, error) {
	pool, err := checkedAdd(e.PaymentAmount, e.BuyerCollateral)
	if err != nil {
		return 0, err
	}
	return checkedAdd(pool, e.SellerCollateral)
}

// Valid reports whether the state value is within the supported range.
func (s EscrowState) Valid() bool {
	return s <= StateCancelled
}

// Terminal reports whether the state admits no further transitions.
func (s EscrowState) Terminal() bool {
	switch s {
	case StateApproved, StateResolved, StateCancelled:
		return true
	default:
		return false
	}
}

func (s EscrowState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateActive:
		return "active"
	case StateDelivered:
		return "delivered"
	case StateApproved:
		return "approved"
	case StateDisputed:
		return "disputed"
	case StateResolved:
		return "resolved"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Valid reports whether the ruling value is within the supported range.
func (r Ruling) Valid() bool {
	return r <= RulingSellerWins
}

func (r Ruling) String() string {
	switch r {
	case RulingNone:
		return "none"
	case RulingBuyerWins:
		return "buyer_wins"
	case RulingSellerWins:
		return "seller_wins"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(r))
	}
}

// NormalizeToken canonicalises a token symbol to its uppercase form. Symbols
// are one to eight uppercase letters or digits; whether the token is actually
// registered is decided by the state backend at transfer time.
func NormalizeToken(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if len(trimmed) == 0 || len(trimmed) > 8 {
		return "", fmt.Errorf("escrow: invalid token symbol %q", symbol)
	}
	for _, r := range trimmed {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return "", fmt.Errorf("escrow: invalid token symbol %q", symbol)
		}
	}
	return trimmed, nil
}

// SanitizeEscrow validates and normalises the supplied escrow, returning a
// cloned instance with canonical token casing. Field validity is checked
// against the state discriminant: the seller is unset exactly while the
// escrow is Open or Cancelled, delivery fields are set exactly from Delivered
// onward, and a ruling exists only on Resolved escrows. The function does not
// mutate the original value.
func SanitizeEscrow(e *Escrow) (*Escrow, error) {
	if e == nil {
		return nil, fmt.Errorf("escrow: nil escrow")
	}
	clone := e.Clone()
	token, err := NormalizeToken(clone.Token)
	if err != nil {
		return nil, err
	}
	clone.Token = token
	if clone.PaymentAmount == 0 {
		return nil, fmt.Errorf("escrow: payment amount must be positive")
	}
	if _, err := clone.TotalPool(); err != nil {
		return nil, err
	}
	if clone.FeeBps > feeDenominator {
		return nil, fmt.Errorf("escrow: fee bps out of range: %d", clone.FeeBps)
	}
	if !clone.State.Valid() {
		return nil, fmt.Errorf("escrow: invalid state: %d", clone.State)
	}
	if !clone.Ruling.Valid() {
		return nil, fmt.Errorf("escrow: invalid ruling: %d", clone.Ruling)
	}
	sellerSet := clone.Seller != ([20]byte{})
	switch clone.State {
	case StateOpen, StateCancelled:
		if sellerSet {
			return nil, fmt.Errorf("escrow: seller set before acceptance")
		}
	default:
		if !sellerSet {
			return nil, fmt.Errorf("escrow: seller unset in state %s", clone.State)
		}
	}
	delivered := clone.State == StateDelivered || clone.State == StateApproved ||
		clone.State == StateDisputed || clone.State == StateResolved
	if delivered {
		if clone.DeliveredAt < clone.CreatedAt {
			return nil, fmt.Errorf("escrow: delivery timestamp precedes creation")
		}
	} else if clone.DeliveredAt != 0 || clone.DeliveryHash != ([32]byte{}) {
		return nil, fmt.Errorf("escrow: delivery fields set in state %s", clone.State)
	}
	if clone.State == StateResolved {
		if clone.Ruling == RulingNone {
			return nil, fmt.Errorf("escrow: resolved escrow missing ruling")
		}
	} else if clone.Ruling != RulingNone {
		return nil, fmt.Errorf("escrow: ruling set in state %s", clone.State)
	}
	return clone, nil
}
