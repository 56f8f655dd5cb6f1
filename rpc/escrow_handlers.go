package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"clawscrow/core/events"
	"clawscrow/core/types"
	"clawscrow/crypto"
	"clawscrow/native/escrow"
	"clawscrow/observability"
)

const (
	codeEscrowInvalidParams = -32021
	codeEscrowNotFound      = -32022
	codeEscrowForbidden     = -32023
	codeEscrowConflict      = -32024
	codeEscrowInternal      = -32025
)

type escrowCreateParams struct {
	ID               string `json:"id"`
	Buyer            string `json:"buyer"`
	Arbitrator       string `json:"arbitrator"`
	Token            string `json:"token"`
	Payment          string `json:"payment"`
	BuyerCollateral  string `json:"buyerCollateral"`
	SellerCollateral string `json:"sellerCollateral"`
	Description      string `json:"description"`
	Deadline         int64  `json:"deadline"`
}

type escrowIDParams struct {
	ID string `json:"id"`
}

type escrowActorParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
}

type escrowDeliverParams struct {
	ID           string `json:"id"`
	Caller       string `json:"caller"`
	DeliveryHash string `json:"deliveryHash"`
}

type escrowArbitrateParams struct {
	ID     string `json:"id"`
	Caller string `json:"caller"`
	Ruling string `json:"ruling"`
}

type listEventsParams struct {
	Prefix string `json:"prefix,omitempty"`
	Limit  int    `json:"limit,omitempty"`
}

type tokenBalanceParams struct {
	Address string `json:"address"`
	Token   string `json:"token"`
}

type escrowJSON struct {
	ID               string  `json:"id"`
	Buyer            string  `json:"buyer"`
	Seller           *string `json:"seller,omitempty"`
	Arbitrator       string  `json:"arbitrator"`
	Token            string  `json:"token"`
	Payment          string  `json:"payment"`
	BuyerCollateral  string  `json:"buyerCollateral"`
	SellerCollateral string  `json:"sellerCollateral"`
	FeeBps           uint32  `json:"feeBps"`
	Deadline         int64   `json:"deadline"`
	CreatedAt        int64   `json:"createdAt"`
	DeliveredAt      *int64  `json:"deliveredAt,omitempty"`
	MetaHash         string  `json:"metaHash"`
	DeliveryHash     *string `json:"deliveryHash,omitempty"`
	State            string  `json:"state"`
	Ruling           *string `json:"ruling,omitempty"`
	VaultAddress     string  `json:"vaultAddress"`
}

type eventJSON struct {
	Sequence   int64             `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

func parseEscrowID(value string) (uint64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, errors.New("id is required")
	}
	return strconv.ParseUint(trimmed, 10, 64)
}

func parseAmount(value, field string) (uint64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	amount, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return 0, errors.New(field + " must be an unsigned decimal")
	}
	return amount, nil
}

func parseAddress(value, field string) ([20]byte, error) {
	addr, err := crypto.DecodeAddress(strings.TrimSpace(value))
	if err != nil {
		return [20]byte{}, errors.New(field + ": " + err.Error())
	}
	return addr.Array(), nil
}

func parseHash32(value, field string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return out, errors.New(field + " must be hex")
	}
	if len(decoded) != 32 {
		return out, errors.New(field + " must be 32 bytes")
	}
	copy(out[:], decoded)
	return out, nil
}

func formatAddress(addr [20]byte) string {
	return crypto.NewAddress(crypto.ClawPrefix, addr[:]).String()
}

func formatEscrowJSON(esc *escrow.Escrow) escrowJSON {
	vault := escrow.VaultAddress(esc.ID)
	out := escrowJSON{
		ID:               strconv.FormatUint(esc.ID, 10),
		Buyer:            formatAddress(esc.Buyer),
		Arbitrator:       formatAddress(esc.Arbitrator),
		Token:            esc.Token,
		Payment:          strconv.FormatUint(esc.PaymentAmount, 10),
		BuyerCollateral:  strconv.FormatUint(esc.BuyerCollateral, 10),
		SellerCollateral: strconv.FormatUint(esc.SellerCollateral, 10),
		FeeBps:           esc.FeeBps,
		Deadline:         esc.Deadline,
		CreatedAt:        esc.CreatedAt,
		MetaHash:         hex.EncodeToString(esc.MetaHash[:]),
		State:            esc.State.String(),
		VaultAddress:     formatAddress(vault),
	}
	if esc.Seller != ([20]byte{}) {
		seller := formatAddress(esc.Seller)
		out.Seller = &seller
	}
	if esc.DeliveredAt != 0 {
		deliveredAt := esc.DeliveredAt
		out.DeliveredAt = &deliveredAt
		deliveryHash := hex.EncodeToString(esc.DeliveryHash[:])
		out.DeliveryHash = &deliveryHash
	}
	if esc.Ruling != escrow.RulingNone {
		ruling := esc.Ruling.String()
		out.Ruling = &ruling
	}
	return out
}

// writeEscrowError maps engine failure kinds onto stable RPC error codes.
func writeEscrowError(w http.ResponseWriter, req *RPCRequest, err error) {
	var status, code int
	var message string
	switch {
	case errors.Is(err, escrow.ErrNotFound):
		status, code, message = http.StatusNotFound, codeEscrowNotFound, "not_found"
	case errors.Is(err, escrow.ErrUnauthorized):
		status, code, message = http.StatusForbidden, codeEscrowForbidden, "forbidden"
	case errors.Is(err, escrow.ErrInvalidState),
		errors.Is(err, escrow.ErrReviewPeriodActive),
		errors.Is(err, escrow.ErrReviewPeriodExpired):
		status, code, message = http.StatusConflict, codeEscrowConflict, "conflict"
	case errors.Is(err, escrow.ErrInvalidAmount),
		errors.Is(err, escrow.ErrInvalidDeadline),
		errors.Is(err, escrow.ErrDescriptionTooLong),
		errors.Is(err, escrow.ErrOverflow):
		status, code, message = http.StatusBadRequest, codeEscrowInvalidParams, "invalid_params"
	default:
		status, code, message = http.StatusInternalServerError, codeEscrowInternal, "internal_error"
	}
	observability.ModuleMetrics().ObserveError(req.Method, strconv.Itoa(code))
	writeError(w, status, req.ID, code, message, err.Error())
}

func decodeSingleParam(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return errors.New("exactly one parameter object expected")
	}
	return json.Unmarshal(req.Params[0], out)
}

func (s *Server) handleEscrowCreate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params escrowCreateParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	buyer, err := parseAddress(params.Buyer, "buyer")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	arbitrator, err := parseAddress(params.Arbitrator, "arbitrator")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	payment, err := parseAmount(params.Payment, "payment")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	buyerCollateral, err := parseAmount(params.BuyerCollateral, "buyerCollateral")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	sellerCollateral, err := parseAmount(params.SellerCollateral, "sellerCollateral")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	esc, err := s.node.EscrowCreate(id, buyer, arbitrator, params.Token, payment, buyerCollateral, sellerCollateral, params.Description, params.Deadline)
	if err != nil {
		writeEscrowError(w, req, err)
		return
	}
	writeResult(w, req.ID, formatEscrowJSON(esc))
}

func (s *Server) actorCall(w http.ResponseWriter, r *http.Request, req *RPCRequest, call func(id uint64, caller [20]byte) error) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params escrowActorParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller, "caller")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := call(id, caller); err != nil {
		writeEscrowError(w, req, err)
		return
	}
	esc, err := s.node.EscrowGet(id)
	if err != nil {
		writeEscrowError(w, req, err)
		return
	}
	writeResult(w, req.ID, formatEscrowJSON(esc))
}

func (s *Server) handleEscrowAccept(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.actorCall(w, r, req, s.node.EscrowAccept)
}

func (s *Server) handleEscrowApprove(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.actorCall(w, r, req, s.node.EscrowApprove)
}

func (s *Server) handleEscrowDispute(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.actorCall(w, r, req, s.node.EscrowDispute)
}

func (s *Server) handleEscrowCancel(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	s.actorCall(w, r, req, s.node.EscrowCancel)
}

func (s *Server) handleEscrowDeliver(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params escrowDeliverParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller, "caller")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	deliveryHash, err := parseHash32(params.DeliveryHash, "deliveryHash")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.EscrowDeliver(id, caller, deliveryHash); err != nil {
		writeEscrowError(w, req, err)
		return
	}
	esc, err := s.node.EscrowGet(id)
	if err != nil {
		writeEscrowError(w, req, err)
		return
	}
	writeResult(w, req.ID, formatEscrowJSON(esc))
}

func (s *Server) handleEscrowAutoApprove(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params escrowIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	if err := s.node.EscrowAutoApprove(id); err != nil {
		writeEscrowError(w, req, err)
		return
	}
	esc, err := s.node.EscrowGet(id)
	if err != nil {
		writeEscrowError(w, req, err)
		return
	}
	writeResult(w, req.ID, formatEscrowJSON(esc))
}

func (s *Server) handleEscrowArbitrate(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	if authErr := s.requireAuth(r); authErr != nil {
		writeError(w, http.StatusUnauthorized, req.ID, authErr.Code, authErr.Message, authErr.Data)
		return
	}
	var params escrowArbitrateParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	caller, err := parseAddress(params.Caller, "caller")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	var ruling escrow.Ruling
	switch strings.ToLower(strings.TrimSpace(params.Ruling)) {
	case "buyer", "buyer_wins":
		ruling = escrow.RulingBuyerWins
	case "seller", "seller_wins":
		ruling = escrow.RulingSellerWins
	default:
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", "ruling must be buyer or seller")
		return
	}
	if err := s.node.EscrowArbitrate(id, caller, ruling); err != nil {
		writeEscrowError(w, req, err)
		return
	}
	esc, err := s.node.EscrowGet(id)
	if err != nil {
		writeEscrowError(w, req, err)
		return
	}
	writeResult(w, req.ID, formatEscrowJSON(esc))
}

func (s *Server) handleEscrowGet(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params escrowIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	esc, err := s.node.EscrowGet(id)
	if err != nil {
		writeEscrowError(w, req, err)
		return
	}
	writeResult(w, req.ID, formatEscrowJSON(esc))
}

func (s *Server) handleEscrowVaultBalance(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params escrowIDParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	id, err := parseEscrowID(params.ID)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	balance, err := s.node.EscrowVaultBalance(id)
	if err != nil {
		writeEscrowError(w, req, err)
		return
	}
	writeResult(w, req.ID, map[string]string{
		"id":      strconv.FormatUint(id, 10),
		"balance": balance.String(),
	})
}

func (s *Server) handleEscrowListEvents(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	params := listEventsParams{Prefix: "escrow."}
	if len(req.Params) == 1 {
		if err := json.Unmarshal(req.Params[0], &params); err != nil {
			writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
			return
		}
	}
	entries := s.node.Events(params.Prefix, params.Limit)
	out := make([]eventJSON, 0, len(entries))
	for _, entry := range entries {
		out = append(out, eventJSON{
			Sequence:   entry.Sequence,
			Type:       entry.Event.EventType(),
			Attributes: eventAttributes(entry.Event),
		})
	}
	writeResult(w, req.ID, out)
}

// eventAttributes unwraps the attribute payload carried by module events.
// Events without a payload render with an empty attribute set.
func eventAttributes(evt events.Event) map[string]string {
	if carrier, ok := evt.(interface{ Event() *types.Event }); ok {
		return carrier.Event().CloneAttributes()
	}
	return map[string]string{}
}

func (s *Server) handleTokenBalance(w http.ResponseWriter, r *http.Request, req *RPCRequest) {
	var params tokenBalanceParams
	if err := decodeSingleParam(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	addr, err := parseAddress(params.Address, "address")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeEscrowInvalidParams, "invalid_params", err.Error())
		return
	}
	balance, err := s.node.TokenBalance(addr, params.Token)
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeEscrowInternal, "internal_error", err.Error())
		return
	}
	writeResult(w, req.ID, map[string]string{
		"address": params.Address,
		"token":   strings.ToUpper(strings.TrimSpace(params.Token)),
		"balance": balance.String(),
	})
}
