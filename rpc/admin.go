package rpc

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"brokerfund/native/brokerage"
	"brokerfund/observability"
)

func urlParam(r *http.Request, name string) string { return chi.URLParam(r, name) }

func observeThrottle() {
	observability.ModuleMetrics().RecordThrottle("api", "quota_exceeded")
}

type managementFeeResponse struct {
	RateBps     uint64 `json:"rateBps"`
	LastAccrual uint64 `json:"lastAccrual"`
}

func (s *Server) handleGetManagementFee(w http.ResponseWriter, r *http.Request) {
	fee, err := s.engine.ManagementFee()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, managementFeeResponse{RateBps: fee.RateBps, LastAccrual: fee.LastAccrual})
}

type skimResponse struct {
	Shares string `json:"shares"`
}

func (s *Server) handleSkim(w http.ResponseWriter, r *http.Request) {
	shares, err := s.engine.SkimManagementFee(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, skimResponse{Shares: formatAmount(shares)})
}

type rateRequest struct {
	RateBps uint64 `json:"rateBps"`
}

func (s *Server) handleSetManagementFeeRate(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req rateRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.SetManagementFeeRateInBps(r.Context(), caller, req.RateBps); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.handleGetManagementFee(w, r)
}

func (s *Server) handleGetProtocolRecipient(w http.ResponseWriter, r *http.Request) {
	recipient, err := s.engine.ProtocolFeeRecipient()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, addressRequest{Address: fundAddr(recipient)})
}

func (s *Server) handleSetProtocolRecipient(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req addressRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	recipient, err := parseOptionalAddr("address", req.Address)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.engine.SetProtocolFeeRecipient(r.Context(), caller, recipient); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.handleGetProtocolRecipient(w, r)
}

type balanceResponse struct {
	Token   string `json:"token"`
	Holder  string `json:"holder"`
	Balance string `json:"balance"`
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	if s.tokens == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "token ledger disabled"})
		return
	}
	token, err := parseAddr("token", urlParam(r, "token"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	holder, err := parseAddr("holder", urlParam(r, "holder"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	bal, err := s.tokens.BalanceOf(token, holder)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Token: assetAddr(token), Holder: fundAddr(holder), Balance: bal.String()})
}

type approveRequest struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type allowanceResponse struct {
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
	Token   string `json:"token"`
	Amount  string `json:"amount"`
}

// handleApprove lets the caller grant the engine an allowance.
func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	if s.tokens == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "token ledger disabled"})
		return
	}
	caller, err := s.caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req approveRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	token, err := parseAddr("token", req.Token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	spender := s.engine.Address()
	err = s.engine.Atomically(r.Context(), func(context.Context) error {
		return s.tokens.Approve(caller, spender, token, amount)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	remaining, err := s.tokens.Allowance(caller, spender, token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, allowanceResponse{
		Owner:   fundAddr(caller),
		Spender: fundAddr(spender),
		Token:   assetAddr(token),
		Amount:  formatAmount(remaining),
	})
}

type mintRequest struct {
	Token  string `json:"token"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

// handleMint credits reference tokens. Admin only.
func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	if s.tokens == nil || s.roles == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "token ledger disabled"})
		return
	}
	caller, err := s.caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req mintRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	token, err := parseAddr("token", req.Token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	to, err := parseAddr("to", req.To)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	err = s.engine.Atomically(r.Context(), func(context.Context) error {
		if !s.roles.HasRole(brokerage.RoleAdmin, caller) {
			return brokerage.ErrNotAuthorized
		}
		return s.tokens.Mint(token, to, amount)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	bal, err := s.tokens.BalanceOf(token, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Token: assetAddr(token), Holder: fundAddr(to), Balance: bal.String()})
}

type roleRequest struct {
	Role    string `json:"role"`
	Address string `json:"address"`
	Granted bool   `json:"granted"`
}

// handleSetRole grants or revokes an engine role. Admin only.
func (s *Server) handleSetRole(w http.ResponseWriter, r *http.Request) {
	if s.roles == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "role store disabled"})
		return
	}
	caller, err := s.caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req roleRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Role != brokerage.RoleAdmin && req.Role != brokerage.RoleManager {
		s.writeError(w, r, badRequest("unknown role %q", req.Role))
		return
	}
	addr, err := parseAddr("address", req.Address)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if caller == addr && req.Role == brokerage.RoleAdmin && !req.Granted {
		s.writeError(w, r, badRequest("admins cannot revoke their own role"))
		return
	}
	err = s.engine.Atomically(r.Context(), func(context.Context) error {
		if !s.roles.HasRole(brokerage.RoleAdmin, caller) {
			return brokerage.ErrNotAuthorized
		}
		return s.roles.SetRole(req.Role, addr, req.Granted)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

type delegateRequest struct {
	Signer   string `json:"signer"`
	Delegate string `json:"delegate"`
	Allowed  bool   `json:"allowed"`
}

// handleSetDelegate marks signer as a contract signer and authorises or
// revokes one of its delegate keys. Admin only.
func (s *Server) handleSetDelegate(w http.ResponseWriter, r *http.Request) {
	if s.signers == nil || s.roles == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "signer registry disabled"})
		return
	}
	caller, err := s.caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req delegateRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	signer, err := parseAddr("signer", req.Signer)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	delegate, err := parseAddr("delegate", req.Delegate)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	err = s.engine.Atomically(r.Context(), func(context.Context) error {
		if !s.roles.HasRole(brokerage.RoleAdmin, caller) {
			return brokerage.ErrNotAuthorized
		}
		if !req.Allowed {
			return s.signers.SetDelegate(signer, delegate, false)
		}
		return s.signers.RegisterContractSigner(signer, delegate)
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

type stateRootResponse struct {
	Root string `json:"root"`
}

func (s *Server) handleStateRoot(w http.ResponseWriter, r *http.Request) {
	if s.commit == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "state commitment disabled"})
		return
	}
	root, err := s.commit.StateRoot()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stateRootResponse{Root: root.Hex()})
}
