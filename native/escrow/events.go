package escrow

import (
	"encoding/hex"
	"strconv"

	"clawscrow/core/types"
)

const (
	EventTypeEscrowCreated   = "escrow.created"
	EventTypeEscrowAccepted  = "escrow.accepted"
	EventTypeEscrowDelivered = "escrow.delivered"
	EventTypeEscrowApproved  = "escrow.approved"
	EventTypeEscrowDisputed  = "escrow.disputed"
	EventTypeEscrowResolved  = "escrow.resolved"
	EventTypeEscrowCancelled = "escrow.cancelled"
)

// NewCreatedEvent returns the canonical event payload for a newly created
// escrow.
func NewCreatedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeEscrowCreated, e) }

// NewAcceptedEvent returns the canonical event payload emitted when a seller
// accepts the job and posts collateral.
func NewAcceptedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeEscrowAccepted, e) }

// NewDeliveredEvent returns the canonical event payload emitted when the
// seller attests delivery with a content fingerprint.
func NewDeliveredEvent(e *Escrow) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowDelivered, e)
	if e != nil {
		evt.Attributes["deliveryHash"] = hex.EncodeToString(e.DeliveryHash[:])
	}
	return evt
}

// NewApprovedEvent returns the canonical event payload for a released escrow.
// The auto flag distinguishes a timeout-triggered release from buyer approval.
func NewApprovedEvent(e *Escrow, auto bool) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowApproved, e)
	evt.Attributes["auto"] = strconv.FormatBool(auto)
	return evt
}

// NewDisputedEvent returns the canonical event payload emitted when the buyer
// routes the escrow to arbitration.
func NewDisputedEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeEscrowDisputed, e) }

// NewResolvedEvent returns the canonical event payload emitted when the
// arbitrator settles a dispute.
func NewResolvedEvent(e *Escrow, fee uint64) *types.Event {
	evt := newEscrowEvent(EventTypeEscrowResolved, e)
	if e != nil {
		evt.Attributes["ruling"] = e.Ruling.String()
	}
	evt.Attributes["fee"] = strconv.FormatUint(fee, 10)
	return evt
}

// NewCancelledEvent returns the canonical event payload for a pre-acceptance
// buyer withdrawal.
func NewCancelledEvent(e *Escrow) *types.Event { return newEscrowEvent(EventTypeEscrowCancelled, e) }

func newEscrowEvent(eventType string, e *Escrow) *types.Event {
	attrs := make(map[string]string)
	if e == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	sanitized, err := SanitizeEscrow(e)
	if err != nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = strconv.FormatUint(sanitized.ID, 10)
	attrs["buyer"] = hex.EncodeToString(sanitized.Buyer[:])
	attrs["arbitrator"] = hex.EncodeToString(sanitized.Arbitrator[:])
	attrs["token"] = sanitized.Token
	attrs["payment"] = strconv.FormatUint(sanitized.PaymentAmount, 10)
	attrs["buyerCollateral"] = strconv.FormatUint(sanitized.BuyerCollateral, 10)
	attrs["sellerCollateral"] = strconv.FormatUint(sanitized.SellerCollateral, 10)
	attrs["feeBps"] = strconv.FormatUint(uint64(sanitized.FeeBps), 10)
	attrs["state"] = sanitized.State.String()
	attrs["createdAt"] = strconv.FormatInt(sanitized.CreatedAt, 10)
	if sanitized.Seller != ([20]byte{}) {
		attrs["seller"] = hex.EncodeToString(sanitized.Seller[:])
	}
	if sanitized.DeliveredAt != 0 {
		attrs["deliveredAt"] = strconv.FormatInt(sanitized.DeliveredAt, 10)
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
