package rpc

import (
	"math/big"
	"net/http"
)

func (s *Server) chargeQuota(caller [20]byte, amount *big.Int) error {
	return s.quota.Charge(caller, s.nowFn().Unix(), quotaVolume(amount))
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body DepositOrderBody
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	order, err := body.Order()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.chargeQuota(caller, order.Amount); err != nil {
		observeThrottle()
		s.writeError(w, r, err)
		return
	}
	res, err := s.engine.Deposit(r.Context(), caller, order)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, depositView(res))
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body WithdrawOrderBody
	if err := decodeBody(r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	order, err := body.Order()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.chargeQuota(caller, order.Shares); err != nil {
		observeThrottle()
		s.writeError(w, r, err)
		return
	}
	res, err := s.engine.Withdraw(r.Context(), caller, order)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, withdrawView(res))
}

func (s *Server) handleIntentDeposit(w http.ResponseWriter, r *http.Request) {
	relayer, err := s.caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req DepositIntentRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	signed, err := req.signed()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.chargeQuota(relayer, signed.Intent.Order.Amount); err != nil {
		observeThrottle()
		s.writeError(w, r, err)
		return
	}
	res, err := s.engine.IntentDeposit(r.Context(), relayer, signed)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, depositView(res))
}

func (s *Server) handleIntentWithdraw(w http.ResponseWriter, r *http.Request) {
	relayer, err := s.caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req WithdrawIntentRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	signed, err := req.signed()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.chargeQuota(relayer, signed.Intent.Order.Shares); err != nil {
		observeThrottle()
		s.writeError(w, r, err)
		return
	}
	res, err := s.engine.IntentWithdraw(r.Context(), relayer, signed)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, withdrawView(res))
}

type nonceResponse struct {
	Signer    string `json:"signer"`
	AccountID uint64 `json:"accountId"`
	Nonce     uint64 `json:"nonce"`
}

func (s *Server) handleNonce(w http.ResponseWriter, r *http.Request) {
	signer, err := parseAddr("signer", urlParam(r, "signer"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	accountID, err := urlUint(r, "accountID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	nonce, err := s.engine.AccountNonce(signer, accountID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonceResponse{Signer: fundAddr(signer), AccountID: accountID, Nonce: nonce})
}
