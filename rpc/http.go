package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"clawscrow/core"
	"clawscrow/observability"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeUnauthorized   = -32001
)

// Server exposes the escrow operations over JSON-RPC 2.0 on a single
// endpoint. Mutating methods require the bearer token from
// CLAWSCROW_RPC_TOKEN when one is configured.
type Server struct {
	node      *core.Node
	authToken string
}

func NewServer(node *core.Node) *Server {
	token := strings.TrimSpace(os.Getenv("CLAWSCROW_RPC_TOKEN"))
	return &Server{node: node, authToken: token}
}

// Handler returns the HTTP handler serving the RPC endpoint. Exposed so tests
// and embedding daemons can mount it themselves.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	return mux
}

func (s *Server) Start(addr string) error {
	return http.ListenAndServe(addr, s.Handler())
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type handlerFunc func(w http.ResponseWriter, r *http.Request, req *RPCRequest)

func (s *Server) handlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		"escrow_create":       s.handleEscrowCreate,
		"escrow_accept":       s.handleEscrowAccept,
		"escrow_deliver":      s.handleEscrowDeliver,
		"escrow_approve":      s.handleEscrowApprove,
		"escrow_autoApprove":  s.handleEscrowAutoApprove,
		"escrow_dispute":      s.handleEscrowDispute,
		"escrow_arbitrate":    s.handleEscrowArbitrate,
		"escrow_cancel":       s.handleEscrowCancel,
		"escrow_get":          s.handleEscrowGet,
		"escrow_vaultBalance": s.handleEscrowVaultBalance,
		"escrow_listEvents":   s.handleEscrowListEvents,
		"token_balance":       s.handleTokenBalance,
	}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, nil, codeInvalidRequest, "invalid_request", "POST required")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "parse_error", err.Error())
		return
	}
	var req RPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "parse_error", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "invalid_request", "jsonrpc must be 2.0")
		return
	}
	handler, ok := s.handlers()[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method_not_found", req.Method)
		return
	}
	start := time.Now()
	handler(w, r, &req)
	observability.ModuleMetrics().ObserveRequest(req.Method, "handled", start)
}

func (s *Server) requireAuth(r *http.Request) *RPCError {
	if s.authToken == "" {
		return nil
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return &RPCError{Code: codeUnauthorized, Message: "unauthorized", Data: "missing bearer token"}
	}
	supplied := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if subtle.ConstantTimeCompare([]byte(supplied), []byte(s.authToken)) != 1 {
		return &RPCError{Code: codeUnauthorized, Message: "unauthorized", Data: "invalid bearer token"}
	}
	return nil
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(RPCResponse{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Error:   &RPCError{Code: code, Message: message, Data: data},
	})
}
