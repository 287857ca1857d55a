package rpc

import (
	"net/http"

	"brokerfund/native/brokerage"
)

type openAccountRequest struct {
	Owner          string          `json:"owner"`
	TTL            uint64          `json:"ttl"`
	IsPublic       bool            `json:"isPublic"`
	Transferable   bool            `json:"transferable"`
	FeeRecipient   string          `json:"feeRecipient,omitempty"`
	ShareMintLimit string          `json:"shareMintLimit,omitempty"`
	Fees           feeScheduleJSON `json:"fees"`
}

func (s *Server) handleOpenAccount(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req openAccountRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	owner, err := parseAddr("owner", req.Owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	feeRecipient, err := parseOptionalAddr("feeRecipient", req.FeeRecipient)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := parseOptionalAmount("shareMintLimit", req.ShareMintLimit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := s.engine.OpenAccount(r.Context(), caller, brokerage.OpenAccountParams{
		Owner:          owner,
		TTL:            req.TTL,
		IsPublic:       req.IsPublic,
		Transferable:   req.Transferable,
		FeeRecipient:   feeRecipient,
		ShareMintLimit: limit,
		Fees:           req.Fees.schedule(),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	acc, err := s.engine.GetAccountInfo(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, accountView(acc))
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.engine.ListAccounts()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	views := make([]accountJSON, 0, len(accounts))
	for _, acc := range accounts {
		views = append(views, accountView(acc))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	id, err := urlUint(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	acc, err := s.engine.GetAccountInfo(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountView(acc))
}

type lifecycleOp int

const (
	lifecycleClose lifecycleOp = iota
	lifecyclePause
	lifecycleUnpause
)

func (s *Server) handleLifecycle(op lifecycleOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, err := s.caller(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		id, err := urlUint(r, "id")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		switch op {
		case lifecycleClose:
			err = s.engine.CloseAccount(r.Context(), caller, id)
		case lifecyclePause:
			err = s.engine.PauseAccount(r.Context(), caller, id)
		default:
			err = s.engine.UnpauseAccount(r.Context(), caller, id)
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.respondAccount(w, r, id)
	}
}

type addressRequest struct {
	Address string `json:"address"`
}

func (s *Server) handleTransferAccount(w http.ResponseWriter, r *http.Request) {
	s.withAddress(w, r, func(caller [20]byte, id uint64, addr [20]byte) error {
		return s.engine.TransferAccount(r.Context(), caller, id, addr)
	})
}

func (s *Server) handleSetFeeRecipient(w http.ResponseWriter, r *http.Request) {
	s.withAddress(w, r, func(caller [20]byte, id uint64, addr [20]byte) error {
		return s.engine.SetBrokerFeeRecipient(r.Context(), caller, id, addr)
	})
}

func (s *Server) withAddress(w http.ResponseWriter, r *http.Request, apply func(caller [20]byte, id uint64, addr [20]byte) error) {
	caller, err := s.caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := urlUint(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req addressRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	addr, err := parseOptionalAddr("address", req.Address)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := apply(caller, id, addr); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.respondAccount(w, r, id)
}

type policyRequest struct {
	Asset     string `json:"asset"`
	Direction string `json:"direction"`
}

type policyResponse struct {
	AccountID uint64 `json:"accountId"`
	Asset     string `json:"asset"`
	Direction string `json:"direction"`
	Enabled   bool   `json:"enabled"`
}

func (s *Server) handleSetPolicy(enable bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, err := s.caller(r)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		id, err := urlUint(r, "id")
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		var req policyRequest
		if err := decodeBody(r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		asset, err := parseAddr("asset", req.Asset)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		dir, err := parseDirection(req.Direction)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if enable {
			err = s.engine.EnableBrokerAssetPolicy(r.Context(), caller, id, asset, dir)
		} else {
			err = s.engine.DisableBrokerAssetPolicy(r.Context(), caller, id, asset, dir)
		}
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, policyResponse{AccountID: id, Asset: assetAddr(asset), Direction: dir.String(), Enabled: enable})
	}
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	id, err := urlUint(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	asset, err := parseAddr("asset", r.URL.Query().Get("asset"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	dir, err := parseDirection(r.URL.Query().Get("direction"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	enabled, err := s.engine.AssetPolicy(id, asset, dir)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, policyResponse{AccountID: id, Asset: assetAddr(asset), Direction: dir.String(), Enabled: enabled})
}

func (s *Server) handleAccountEvents(w http.ResponseWriter, r *http.Request) {
	id, err := urlUint(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.archive == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "event archive disabled"})
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := parseAmount("limit", raw)
		if err != nil || !parsed.IsInt64() {
			s.writeError(w, r, badRequest("limit must be a small integer"))
			return
		}
		limit = int(parsed.Int64())
	}
	records, err := s.archive.ByAccount(r.Context(), id, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) respondAccount(w http.ResponseWriter, r *http.Request, id uint64) {
	acc, err := s.engine.GetAccountInfo(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accountView(acc))
}
