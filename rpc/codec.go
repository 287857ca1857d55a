package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"brokerfund/crypto"
	"brokerfund/native/brokerage"
	nativecommon "brokerfund/native/common"
	"brokerfund/native/vault"
	"brokerfund/rpc/middleware"
)

var errBadRequest = errors.New("bad request")

type errorResponse struct {
	Error     string `json:"error"`
	Class     string `json:"class,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, class := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err, "path", r.URL.Path, "requestId", middleware.RequestIDFrom(r.Context()))
	}
	writeJSON(w, status, errorResponse{
		Error:     err.Error(),
		Class:     class,
		RequestID: middleware.RequestIDFrom(r.Context()),
	})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "request"
	case errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable, string(brokerage.ClassSecurity)
	case errors.Is(err, nativecommon.ErrReentrantCall):
		return http.StatusConflict, string(brokerage.ClassSecurity)
	case errors.Is(err, nativecommon.ErrQuotaRequestsExceeded), errors.Is(err, nativecommon.ErrQuotaVolumeExceeded),
		errors.Is(err, nativecommon.ErrQuotaCounterOverflow):
		return http.StatusTooManyRequests, "quota"
	case errors.Is(err, brokerage.ErrAccountNotFound):
		return http.StatusNotFound, string(brokerage.ClassLifecycle)
	case errors.Is(err, vault.ErrInsufficientBalance), errors.Is(err, vault.ErrInsufficientAllowance),
		errors.Is(err, vault.ErrUnsupportedAsset), errors.Is(err, vault.ErrZeroOutput),
		errors.Is(err, vault.ErrInsufficientLiquidity), errors.Is(err, vault.ErrEmptyVault),
		errors.Is(err, vault.ErrInvalidAmount), errors.Is(err, vault.ErrInvalidAddress):
		return http.StatusUnprocessableEntity, string(brokerage.ClassEconomic)
	}
	class := brokerage.Classify(err)
	switch class {
	case brokerage.ClassAuthorization:
		return http.StatusForbidden, string(class)
	case brokerage.ClassSecurity:
		return http.StatusUnauthorized, string(class)
	case brokerage.ClassLifecycle:
		return http.StatusConflict, string(class)
	case brokerage.ClassPolicy, brokerage.ClassLimit, brokerage.ClassEconomic, brokerage.ClassTemporal:
		return http.StatusUnprocessableEntity, string(class)
	default:
		return http.StatusInternalServerError, string(brokerage.ClassInternal)
	}
}

func badRequest(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

func decodeBody(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return badRequest("decode body: %v", err)
	}
	return nil
}

func (s *Server) caller(r *http.Request) ([20]byte, error) {
	caller, ok := middleware.Caller(r.Context())
	if !ok {
		return [20]byte{}, badRequest("authenticated caller required")
	}
	return caller, nil
}

func parseAddr(field, value string) ([20]byte, error) {
	addr, err := crypto.ParseAddress(value)
	if err != nil {
		return [20]byte{}, badRequest("%s: %v", field, err)
	}
	return addr, nil
}

// parseOptionalAddr returns the zero address for an empty value.
func parseOptionalAddr(field, value string) ([20]byte, error) {
	if strings.TrimSpace(value) == "" {
		return [20]byte{}, nil
	}
	return parseAddr(field, value)
}

// parseAmount accepts a base-10 integer or "max" for the MAX sentinel.
func parseAmount(field, value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if strings.EqualFold(trimmed, "max") {
		return brokerage.MaxAmount(), nil
	}
	parsed, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || parsed.Sign() < 0 {
		return nil, badRequest("%s: %q is not a non-negative integer", field, value)
	}
	return parsed, nil
}

func parseOptionalAmount(field, value string) (*big.Int, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	return parseAmount(field, value)
}

func parseDirection(value string) (brokerage.Direction, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "deposit":
		return brokerage.DirectionDeposit, nil
	case "withdraw":
		return brokerage.DirectionWithdraw, nil
	default:
		return 0, badRequest("direction must be deposit or withdraw")
	}
}

func parseSignature(value string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	sig, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, badRequest("signature: %v", err)
	}
	return sig, nil
}

func urlUint(r *http.Request, name string) (uint64, error) {
	raw := chi.URLParam(r, name)
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, badRequest("%s: %q is not an unsigned integer", name, raw)
	}
	return v, nil
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	if brokerage.IsMaxAmount(v) {
		return "max"
	}
	return v.String()
}

func fundAddr(raw [20]byte) string { return crypto.FormatAddress(crypto.FundPrefix, raw) }

func assetAddr(raw [20]byte) string { return crypto.FormatAddress(crypto.AssetPrefix, raw) }

// quotaVolume converts an order amount into quota volume. MAX orders count
// as a request only because their size is unknown until settlement.
func quotaVolume(amount *big.Int) uint64 {
	if amount == nil || amount.Sign() <= 0 || brokerage.IsMaxAmount(amount) {
		return 0
	}
	if !amount.IsUint64() {
		return ^uint64(0)
	}
	return amount.Uint64()
}

// Wire shapes.

type feeScheduleJSON struct {
	BrokerEntranceFeeBps      uint64 `json:"brokerEntranceFeeBps"`
	ProtocolEntranceFeeBps    uint64 `json:"protocolEntranceFeeBps"`
	BrokerExitFeeBps          uint64 `json:"brokerExitFeeBps"`
	ProtocolExitFeeBps        uint64 `json:"protocolExitFeeBps"`
	BrokerPerformanceFeeBps   uint64 `json:"brokerPerformanceFeeBps"`
	ProtocolPerformanceFeeBps uint64 `json:"protocolPerformanceFeeBps"`
}

func (f feeScheduleJSON) schedule() brokerage.FeeSchedule {
	return brokerage.FeeSchedule{
		BrokerEntranceFeeBps:      f.BrokerEntranceFeeBps,
		ProtocolEntranceFeeBps:    f.ProtocolEntranceFeeBps,
		BrokerExitFeeBps:          f.BrokerExitFeeBps,
		ProtocolExitFeeBps:        f.ProtocolExitFeeBps,
		BrokerPerformanceFeeBps:   f.BrokerPerformanceFeeBps,
		ProtocolPerformanceFeeBps: f.ProtocolPerformanceFeeBps,
	}
}

func scheduleJSON(f brokerage.FeeSchedule) feeScheduleJSON {
	return feeScheduleJSON{
		BrokerEntranceFeeBps:      f.BrokerEntranceFeeBps,
		ProtocolEntranceFeeBps:    f.ProtocolEntranceFeeBps,
		BrokerExitFeeBps:          f.BrokerExitFeeBps,
		ProtocolExitFeeBps:        f.ProtocolExitFeeBps,
		BrokerPerformanceFeeBps:   f.BrokerPerformanceFeeBps,
		ProtocolPerformanceFeeBps: f.ProtocolPerformanceFeeBps,
	}
}

type accountJSON struct {
	ID                       uint64          `json:"id"`
	Owner                    string          `json:"owner"`
	State                    string          `json:"state"`
	ExpirationTimestamp      uint64          `json:"expirationTimestamp"`
	IsPublic                 bool            `json:"isPublic"`
	Transferable             bool            `json:"transferable"`
	FeeRecipient             string          `json:"feeRecipient"`
	ShareMintLimit           string          `json:"shareMintLimit"`
	TotalSharesOutstanding   string          `json:"totalSharesOutstanding"`
	CumulativeSharesMinted   string          `json:"cumulativeSharesMinted"`
	CumulativeUnitsDeposited string          `json:"cumulativeUnitsDeposited"`
	AverageEntryPrice        string          `json:"averageEntryPrice"`
	Fees                     feeScheduleJSON `json:"fees"`
}

func accountView(acc *brokerage.Account) accountJSON {
	return accountJSON{
		ID:                       acc.ID,
		Owner:                    fundAddr(acc.Owner),
		State:                    acc.State.String(),
		ExpirationTimestamp:      acc.ExpirationTimestamp,
		IsPublic:                 acc.IsPublic,
		Transferable:             acc.Transferable,
		FeeRecipient:             fundAddr(acc.FeeRecipient),
		ShareMintLimit:           formatAmount(acc.ShareMintLimit),
		TotalSharesOutstanding:   formatAmount(acc.TotalSharesOutstanding),
		CumulativeSharesMinted:   formatAmount(acc.CumulativeSharesMinted),
		CumulativeUnitsDeposited: formatAmount(acc.CumulativeUnitsDeposited),
		AverageEntryPrice:        brokerage.AverageEntryPrice(acc).String(),
		Fees:                     scheduleJSON(acc.Fees),
	}
}

// DepositOrderBody is the wire form of a deposit order. Amounts are base-10
// strings and "max" selects the payer's whole balance.
type DepositOrderBody struct {
	AccountID    uint64 `json:"accountId"`
	Recipient    string `json:"recipient"`
	Asset        string `json:"asset"`
	Amount       string `json:"amount"`
	MinSharesOut string `json:"minSharesOut,omitempty"`
	Deadline     uint64 `json:"deadline"`
}

// Order parses the body into an engine order.
func (o DepositOrderBody) Order() (brokerage.DepositOrder, error) {
	recipient, err := parseOptionalAddr("recipient", o.Recipient)
	if err != nil {
		return brokerage.DepositOrder{}, err
	}
	asset, err := parseAddr("asset", o.Asset)
	if err != nil {
		return brokerage.DepositOrder{}, err
	}
	amount, err := parseAmount("amount", o.Amount)
	if err != nil {
		return brokerage.DepositOrder{}, err
	}
	minShares, err := parseOptionalAmount("minSharesOut", o.MinSharesOut)
	if err != nil {
		return brokerage.DepositOrder{}, err
	}
	return brokerage.DepositOrder{
		AccountID:    o.AccountID,
		Recipient:    recipient,
		Asset:        asset,
		Amount:       amount,
		MinSharesOut: minShares,
		Deadline:     o.Deadline,
	}, nil
}

// WithdrawOrderBody is the wire form of a withdraw order.
type WithdrawOrderBody struct {
	AccountID    uint64 `json:"accountId"`
	Receiver     string `json:"receiver"`
	Asset        string `json:"asset"`
	Shares       string `json:"shares"`
	MinAmountOut string `json:"minAmountOut,omitempty"`
	Deadline     uint64 `json:"deadline"`
}

// Order parses the body into an engine order.
func (o WithdrawOrderBody) Order() (brokerage.WithdrawOrder, error) {
	receiver, err := parseOptionalAddr("receiver", o.Receiver)
	if err != nil {
		return brokerage.WithdrawOrder{}, err
	}
	asset, err := parseAddr("asset", o.Asset)
	if err != nil {
		return brokerage.WithdrawOrder{}, err
	}
	shares, err := parseAmount("shares", o.Shares)
	if err != nil {
		return brokerage.WithdrawOrder{}, err
	}
	minOut, err := parseOptionalAmount("minAmountOut", o.MinAmountOut)
	if err != nil {
		return brokerage.WithdrawOrder{}, err
	}
	return brokerage.WithdrawOrder{
		AccountID:    o.AccountID,
		Receiver:     receiver,
		Asset:        asset,
		Shares:       shares,
		MinAmountOut: minOut,
		Deadline:     o.Deadline,
	}, nil
}

// IntentEnvelope carries the fields shared by both intent kinds. Signature
// is the 65-byte hex encoded secp256k1 signature over the typed digest.
type IntentEnvelope struct {
	ChainID    uint64 `json:"chainId"`
	Nonce      uint64 `json:"nonce"`
	RelayerTip string `json:"relayerTip,omitempty"`
	Bribe      string `json:"bribe,omitempty"`
	Signer     string `json:"signer"`
	Signature  string `json:"signature"`
}

func (e IntentEnvelope) parse() (tip, bribe *big.Int, signer [20]byte, sig []byte, err error) {
	if tip, err = parseOptionalAmount("relayerTip", e.RelayerTip); err != nil {
		return
	}
	if bribe, err = parseOptionalAmount("bribe", e.Bribe); err != nil {
		return
	}
	if signer, err = parseAddr("signer", e.Signer); err != nil {
		return
	}
	sig, err = parseSignature(e.Signature)
	return
}

// DepositIntentRequest is the body of POST /v1/intents/deposits.
type DepositIntentRequest struct {
	Order DepositOrderBody `json:"order"`
	IntentEnvelope
}

// WithdrawIntentRequest is the body of POST /v1/intents/withdrawals.
type WithdrawIntentRequest struct {
	Order WithdrawOrderBody `json:"order"`
	IntentEnvelope
}

func (req DepositIntentRequest) signed() (brokerage.SignedDepositIntent, error) {
	order, err := req.Order.Order()
	if err != nil {
		return brokerage.SignedDepositIntent{}, err
	}
	tip, bribe, signer, sig, err := req.parse()
	if err != nil {
		return brokerage.SignedDepositIntent{}, err
	}
	return brokerage.SignedDepositIntent{
		Intent:    brokerage.DepositIntent{Order: order, ChainID: req.ChainID, Nonce: req.Nonce, RelayerTip: tip, Bribe: bribe},
		Signer:    signer,
		Signature: sig,
	}, nil
}

func (req WithdrawIntentRequest) signed() (brokerage.SignedWithdrawIntent, error) {
	order, err := req.Order.Order()
	if err != nil {
		return brokerage.SignedWithdrawIntent{}, err
	}
	tip, bribe, signer, sig, err := req.parse()
	if err != nil {
		return brokerage.SignedWithdrawIntent{}, err
	}
	return brokerage.SignedWithdrawIntent{
		Intent:    brokerage.WithdrawIntent{Order: order, ChainID: req.ChainID, Nonce: req.Nonce, RelayerTip: tip, Bribe: bribe},
		Signer:    signer,
		Signature: sig,
	}, nil
}

type depositResultJSON struct {
	AccountID   uint64 `json:"accountId"`
	Payer       string `json:"payer"`
	AmountIn    string `json:"amountIn"`
	SharesOut   string `json:"sharesOut"`
	Liquidity   string `json:"liquidity"`
	UserShares  string `json:"userShares"`
	BrokerFee   string `json:"brokerFee"`
	ProtocolFee string `json:"protocolFee"`
	RelayerTip  string `json:"relayerTip"`
	Bribe       string `json:"bribe"`
}

func depositView(res *brokerage.DepositResult) depositResultJSON {
	return depositResultJSON{
		AccountID:   res.AccountID,
		Payer:       fundAddr(res.Payer),
		AmountIn:    formatAmount(res.AmountIn),
		SharesOut:   formatAmount(res.SharesOut),
		Liquidity:   formatAmount(res.Liquidity),
		UserShares:  formatAmount(res.UserShares),
		BrokerFee:   formatAmount(res.BrokerFee),
		ProtocolFee: formatAmount(res.ProtocolFee),
		RelayerTip:  formatAmount(res.RelayerTip),
		Bribe:       formatAmount(res.Bribe),
	}
}

type withdrawResultJSON struct {
	AccountID   uint64 `json:"accountId"`
	Payer       string `json:"payer"`
	SharesBurnt string `json:"sharesBurnt"`
	AssetOut    string `json:"assetOut"`
	Liquidity   string `json:"liquidity"`
	UserAmount  string `json:"userAmount"`
	BrokerFee   string `json:"brokerFee"`
	ProtocolFee string `json:"protocolFee"`
	RelayerTip  string `json:"relayerTip"`
	Bribe       string `json:"bribe"`
}

func withdrawView(res *brokerage.WithdrawResult) withdrawResultJSON {
	return withdrawResultJSON{
		AccountID:   res.AccountID,
		Payer:       fundAddr(res.Payer),
		SharesBurnt: formatAmount(res.SharesBurnt),
		AssetOut:    formatAmount(res.AssetOut),
		Liquidity:   formatAmount(res.Liquidity),
		UserAmount:  formatAmount(res.UserAmount),
		BrokerFee:   formatAmount(res.BrokerFee),
		ProtocolFee: formatAmount(res.ProtocolFee),
		RelayerTip:  formatAmount(res.RelayerTip),
		Bribe:       formatAmount(res.Bribe),
	}
}
