package rpc_test

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"brokerfund/core/state"
	"brokerfund/crypto"
	"brokerfund/native/brokerage"
	nativecommon "brokerfund/native/common"
	"brokerfund/native/intent"
	"brokerfund/native/vault"
	"brokerfund/rpc"
	"brokerfund/rpc/middleware"
	"brokerfund/storage"
	"brokerfund/storage/eventlog"
)

const (
	testSecret  = "test-secret"
	testChainID = 31337
	startTime   = int64(1_700_000_000)
)

var wad = big.NewInt(1_000_000_000_000_000_000)

type apiHarness struct {
	t      *testing.T
	server *rpc.Server
	engine *brokerage.Engine
	state  *state.Manager
	now    int64

	engineAddr [20]byte
	admin      [20]byte
	manager    [20]byte
	owner      [20]byte
	relayer    [20]byte
	asset      [20]byte
	shareToken [20]byte
}

type harnessOption func(*rpc.Config)

func newAPIHarness(t *testing.T, opts ...harnessOption) *apiHarness {
	t.Helper()
	h := &apiHarness{
		t:          t,
		state:      state.NewManager(storage.NewMemDB()),
		now:        startTime,
		engineAddr: [20]byte{0xE0},
		admin:      [20]byte{0xA1},
		manager:    [20]byte{0xA2},
		owner:      [20]byte{0xB1},
		relayer:    [20]byte{0xC2},
		asset:      [20]byte{0x11},
		shareToken: [20]byte{0x22},
	}
	require.NoError(t, h.state.SetRole(state.RoleAdmin, h.admin, true))

	v, err := vault.New(h.state, vault.Config{
		ShareToken: h.shareToken,
		Fund:       [20]byte{0xF0},
		Operator:   h.engineAddr,
		Prices:     map[[20]byte]*big.Int{h.asset: new(big.Int).Set(wad)},
	})
	require.NoError(t, err)
	authority := vault.NewAuthority(v.Ledger(), h.engineAddr)

	archive, err := eventlog.Open(filepath.Join(t.TempDir(), "events.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { archive.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.engine = brokerage.NewEngine()
	h.engine.SetState(h.state)
	h.engine.SetDepositModule(v)
	h.engine.SetTransferAuthority(authority)
	h.engine.SetTokenLedger(v.Ledger())
	h.engine.SetAddress(h.engineAddr)
	h.engine.SetDefaultProtocolFeeRecipient([20]byte{0xC1})
	h.engine.SetIntentValidator(intent.NewValidator(brokerage.IntentDomain(testChainID, h.engineAddr), intent.NewMultiVerifier(h.state)))
	h.engine.SetEmitter(archive)
	h.engine.SetNowFunc(func() int64 { return h.now })
	h.engine.SetLogger(logger)
	require.NoError(t, h.state.Commit())

	cfg := rpc.Config{
		Engine:     h.engine,
		Archive:    archive,
		Tokens:     vault.NewBook(v.Ledger(), authority).WithView(h.state.Committed()),
		Roles:      h.state,
		Signers:    h.state,
		Commitment: h.state.Committed(),
		Auth:       middleware.AuthConfig{HMACSecret: testSecret, Issuer: "brokerfund"},
		RateLimit:  middleware.RateLimit{RequestsPerMinute: 6000, Burst: 1000},
		Logger:     logger,
		Now:        func() time.Time { return time.Unix(h.now, 0) },
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	server, err := rpc.NewServer(cfg)
	require.NoError(t, err)
	h.server = server
	return h
}

func (h *apiHarness) token(caller [20]byte) string {
	h.t.Helper()
	token, err := middleware.IssueToken(testSecret, "brokerfund", "", caller, time.Hour)
	require.NoError(h.t, err)
	return token
}

func (h *apiHarness) do(method, path string, caller *[20]byte, body interface{}) (int, map[string]interface{}) {
	h.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(h.t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if caller != nil {
		req.Header.Set("Authorization", "Bearer "+h.token(*caller))
	}
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	var out map[string]interface{}
	if rec.Body.Len() > 0 && rec.Body.Bytes()[0] == '{' {
		require.NoError(h.t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out
}

func hexAddr(a [20]byte) string { return "0x" + hex.EncodeToString(a[:]) }

// setupAccount grants the manager role, opens an account for the owner,
// enables the test asset both ways, funds owner and approves the engine.
func (h *apiHarness) setupAccount(owner [20]byte, public bool) uint64 {
	h.t.Helper()
	status, _ := h.do(http.MethodPost, "/v1/admin/roles", &h.admin, map[string]interface{}{
		"role": brokerage.RoleManager, "address": hexAddr(h.manager), "granted": true,
	})
	require.Equal(h.t, http.StatusOK, status)

	status, body := h.do(http.MethodPost, "/v1/accounts", &h.manager, map[string]interface{}{
		"owner": hexAddr(owner), "ttl": 86_400, "isPublic": public,
		"feeRecipient": hexAddr([20]byte{0xB3}),
		"fees": map[string]uint64{"brokerEntranceFeeBps": 100, "protocolEntranceFeeBps": 50},
	})
	require.Equal(h.t, http.StatusCreated, status, body)
	id := uint64(body["id"].(float64))

	for _, dir := range []string{"deposit", "withdraw"} {
		status, body = h.do(http.MethodPost, "/v1/accounts/"+itoa(id)+"/policies", &owner, map[string]string{
			"asset": hexAddr(h.asset), "direction": dir,
		})
		require.Equal(h.t, http.StatusOK, status, body)
	}
	h.fund(owner, "1000")
	return id
}

func (h *apiHarness) fund(holder [20]byte, amount string) {
	h.t.Helper()
	status, body := h.do(http.MethodPost, "/v1/admin/mint", &h.admin, map[string]string{
		"token": hexAddr(h.asset), "to": hexAddr(holder), "amount": amount,
	})
	require.Equal(h.t, http.StatusOK, status, body)
	for _, token := range [][20]byte{h.asset, h.shareToken} {
		status, body = h.do(http.MethodPost, "/v1/allowances", &holder, map[string]string{
			"token": hexAddr(token), "amount": "max",
		})
		require.Equal(h.t, http.StatusOK, status, body)
		require.Equal(h.t, "max", body["amount"])
	}
}

func itoa(v uint64) string { return new(big.Int).SetUint64(v).String() }

func TestHealthAndAuthentication(t *testing.T) {
	h := newAPIHarness(t)
	status, body := h.do(http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ok", body["status"])

	status, _ = h.do(http.MethodGet, "/v1/accounts", nil, nil)
	require.Equal(t, http.StatusUnauthorized, status)

	req := httptest.NewRequest(http.MethodGet, "/v1/accounts", nil)
	forged, err := middleware.IssueToken("other-secret", "brokerfund", "", h.owner, time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+forged)
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))
}

func TestDepositAndWithdrawOverHTTP(t *testing.T) {
	h := newAPIHarness(t)
	id := h.setupAccount(h.owner, false)

	status, body := h.do(http.MethodPost, "/v1/deposits", &h.owner, map[string]interface{}{
		"accountId": id,
		"recipient": hexAddr(h.owner),
		"asset":     hexAddr(h.asset),
		"amount":    "1000",
		"deadline":  uint64(h.now) + 600,
	})
	require.Equal(t, http.StatusOK, status, body)
	require.Equal(t, "1000", body["sharesOut"])
	require.Equal(t, "985", body["userShares"])
	require.Equal(t, "10", body["brokerFee"])
	require.Equal(t, "5", body["protocolFee"])

	status, body = h.do(http.MethodGet, "/v1/accounts/"+itoa(id), &h.owner, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "1000", body["totalSharesOutstanding"])
	require.Equal(t, "active", body["state"])

	status, body = h.do(http.MethodPost, "/v1/withdrawals", &h.owner, map[string]interface{}{
		"accountId": id,
		"asset":     hexAddr(h.asset),
		"shares":    "max",
		"deadline":  uint64(h.now) + 600,
	})
	require.Equal(t, http.StatusOK, status, body)
	require.Equal(t, "985", body["sharesBurnt"])
	require.Equal(t, "985", body["userAmount"])

	req := httptest.NewRequest(http.MethodGet, "/v1/accounts/"+itoa(id)+"/events?limit=50", nil)
	req.Header.Set("Authorization", "Bearer "+h.token(h.owner))
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var records []eventlog.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &records))
	require.NotEmpty(t, records)
	require.Equal(t, "brokerage.withdraw", records[0].Type)
}

func TestErrorStatusMapping(t *testing.T) {
	h := newAPIHarness(t)

	status, body := h.do(http.MethodPost, "/v1/accounts", &h.owner, map[string]interface{}{
		"owner": hexAddr(h.owner), "ttl": 60,
	})
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, "authorization", body["class"])

	status, body = h.do(http.MethodGet, "/v1/accounts/99", &h.owner, nil)
	require.Equal(t, http.StatusNotFound, status)
	require.NotEmpty(t, body["requestId"])

	id := h.setupAccount(h.owner, false)
	stranger := [20]byte{0x5A}
	status, body = h.do(http.MethodPost, "/v1/deposits", &stranger, map[string]interface{}{
		"accountId": id, "recipient": hexAddr(stranger), "asset": hexAddr(h.asset),
		"amount": "10", "deadline": uint64(h.now) + 600,
	})
	require.Equal(t, http.StatusForbidden, status, body)

	status, body = h.do(http.MethodPost, "/v1/deposits", &h.owner, map[string]interface{}{
		"accountId": id, "recipient": hexAddr(h.owner), "asset": hexAddr(h.asset),
		"amount": "10", "deadline": uint64(h.now),
	})
	require.Equal(t, http.StatusUnprocessableEntity, status)
	require.Equal(t, "temporal", body["class"])

	status, _ = h.do(http.MethodPost, "/v1/deposits", &h.owner, map[string]interface{}{
		"accountId": id, "asset": "not-an-address", "amount": "10",
	})
	require.Equal(t, http.StatusBadRequest, status)

	status, body = h.do(http.MethodPost, "/v1/accounts/"+itoa(id)+"/close", &h.owner, nil)
	require.Equal(t, http.StatusOK, status, body)
	require.Equal(t, "closed", body["state"])
	status, body = h.do(http.MethodPost, "/v1/accounts/"+itoa(id)+"/pause", &h.owner, nil)
	require.Equal(t, http.StatusConflict, status, body)
}

func TestIntentDepositOverHTTP(t *testing.T) {
	h := newAPIHarness(t)
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	signer := [20]byte(ethcrypto.PubkeyToAddress(key.PublicKey))
	id := h.setupAccount(signer, true)

	order := rpc.DepositOrderBody{
		AccountID: id,
		Recipient: hexAddr(signer),
		Asset:     hexAddr(h.asset),
		Amount:    "400",
		Deadline:  uint64(h.now) + 600,
	}
	req := h.signDeposit(key, signer, order, 0)

	status, body := h.do(http.MethodPost, "/v1/intents/deposits", &h.relayer, req)
	require.Equal(t, http.StatusOK, status, body)
	require.Equal(t, "390", body["sharesOut"])
	require.Equal(t, "10", body["relayerTip"])

	status, body = h.do(http.MethodGet, "/v1/nonces/"+hexAddr(signer)+"/"+itoa(id), &h.relayer, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, float64(1), body["nonce"])

	status, body = h.do(http.MethodPost, "/v1/intents/deposits", &h.relayer, req)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "security", body["class"])

	status, body = h.do(http.MethodGet, "/v1/balances/"+hexAddr(h.asset)+"/"+hexAddr(h.relayer), &h.relayer, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "10", body["balance"])
}

func TestContractSignerDelegateOverHTTP(t *testing.T) {
	h := newAPIHarness(t)
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	delegate := [20]byte(ethcrypto.PubkeyToAddress(key.PublicKey))
	contract := [20]byte{0x5C, 0x01}
	id := h.setupAccount(contract, true)

	register := map[string]interface{}{"signer": hexAddr(contract), "delegate": hexAddr(delegate), "allowed": true}
	status, body := h.do(http.MethodPost, "/v1/admin/contract-signers", &h.owner, register)
	require.Equal(t, http.StatusForbidden, status, body)

	order := rpc.DepositOrderBody{AccountID: id, Recipient: hexAddr(contract), Asset: hexAddr(h.asset), Amount: "400", Deadline: uint64(h.now) + 600}
	status, body = h.do(http.MethodPost, "/v1/intents/deposits", &h.relayer, h.signDeposit(key, contract, order, 0))
	require.Equal(t, http.StatusUnauthorized, status, body)

	status, body = h.do(http.MethodPost, "/v1/admin/contract-signers", &h.admin, register)
	require.Equal(t, http.StatusOK, status, body)

	// the rejected signature above still consumed nonce 0
	status, body = h.do(http.MethodPost, "/v1/intents/deposits", &h.relayer, h.signDeposit(key, contract, order, 1))
	require.Equal(t, http.StatusOK, status, body)
	require.Equal(t, "390", body["sharesOut"])

	register["allowed"] = false
	status, body = h.do(http.MethodPost, "/v1/admin/contract-signers", &h.admin, register)
	require.Equal(t, http.StatusOK, status, body)

	status, body = h.do(http.MethodPost, "/v1/intents/deposits", &h.relayer, h.signDeposit(key, contract, order, 2))
	require.Equal(t, http.StatusUnauthorized, status, body)
	require.Equal(t, "security", body["class"])
}

func TestConcurrentDepositsAreQueued(t *testing.T) {
	h := newAPIHarness(t)
	id := h.setupAccount(h.owner, false)
	token := h.token(h.owner)
	raw, err := json.Marshal(rpc.DepositOrderBody{AccountID: id, Asset: hexAddr(h.asset), Amount: "100", Deadline: uint64(h.now) + 600})
	require.NoError(t, err)

	const callers = 8
	codes := make(chan int, callers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			req := httptest.NewRequest(http.MethodPost, "/v1/deposits", bytes.NewReader(raw))
			req.Header.Set("Authorization", "Bearer "+token)
			rec := httptest.NewRecorder()
			h.server.Handler().ServeHTTP(rec, req)
			codes <- rec.Code
		}()
	}
	close(start)
	wg.Wait()
	close(codes)
	for code := range codes {
		require.Equal(t, http.StatusOK, code)
	}

	status, body := h.do(http.MethodGet, "/v1/accounts/"+itoa(id), &h.owner, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "800", body["totalSharesOutstanding"])
}

func (h *apiHarness) signDeposit(key *ecdsa.PrivateKey, signer [20]byte, body rpc.DepositOrderBody, nonce uint64) rpc.DepositIntentRequest {
	h.t.Helper()
	in := brokerage.DepositIntent{
		Order: brokerage.DepositOrder{
			AccountID: body.AccountID,
			Recipient: signer,
			Asset:     h.asset,
			Amount:    big.NewInt(400),
			Deadline:  body.Deadline,
		},
		ChainID:    testChainID,
		Nonce:      nonce,
		RelayerTip: big.NewInt(10),
	}
	sep := brokerage.IntentDomain(testChainID, h.engineAddr).Separator()
	sig, err := intent.Sign(key, sep, in.StructHash())
	require.NoError(h.t, err)
	return rpc.DepositIntentRequest{
		Order: body,
		IntentEnvelope: rpc.IntentEnvelope{
			ChainID:    testChainID,
			Nonce:      nonce,
			RelayerTip: "10",
			Signer:     crypto.FormatAddress(crypto.FundPrefix, signer),
			Signature:  hex.EncodeToString(sig),
		},
	}
}

func TestManagementFeeEndpoints(t *testing.T) {
	h := newAPIHarness(t)
	status, body := h.do(http.MethodPut, "/v1/management-fee/rate", &h.owner, map[string]uint64{"rateBps": 100})
	require.Equal(t, http.StatusForbidden, status, body)

	status, body = h.do(http.MethodPut, "/v1/management-fee/rate", &h.admin, map[string]uint64{"rateBps": 100})
	require.Equal(t, http.StatusOK, status, body)
	require.Equal(t, float64(100), body["rateBps"])
	require.Equal(t, float64(startTime), body["lastAccrual"])

	status, body = h.do(http.MethodPost, "/v1/management-fee/skim", &h.owner, nil)
	require.Equal(t, http.StatusOK, status, body)
	require.Equal(t, "0", body["shares"])

	status, body = h.do(http.MethodPut, "/v1/protocol-fee-recipient", &h.admin, map[string]string{"address": hexAddr([20]byte{0xC9})})
	require.Equal(t, http.StatusOK, status, body)
	require.Equal(t, crypto.FormatAddress(crypto.FundPrefix, [20]byte{0xC9}), body["address"])
}

func TestStateRootMovesWithSettlement(t *testing.T) {
	h := newAPIHarness(t)
	status, body := h.do(http.MethodGet, "/v1/state-root", &h.owner, nil)
	require.Equal(t, http.StatusOK, status, body)
	before := body["root"].(string)
	require.Len(t, before, 66)

	id := h.setupAccount(h.owner, false)
	status, body = h.do(http.MethodPost, "/v1/deposits", &h.owner, rpc.DepositOrderBody{AccountID: id, Asset: hexAddr(h.asset), Amount: "100", Deadline: uint64(h.now) + 60})
	require.Equal(t, http.StatusOK, status, body)

	status, body = h.do(http.MethodGet, "/v1/state-root", &h.owner, nil)
	require.Equal(t, http.StatusOK, status, body)
	require.NotEqual(t, before, body["root"])

	root, err := h.state.StateRoot()
	require.NoError(t, err)
	require.Equal(t, root.Hex(), body["root"])
}

func TestQuotaAndRateLimit(t *testing.T) {
	h := newAPIHarness(t, func(cfg *rpc.Config) {
		cfg.Quota = nativecommon.Quota{MaxVolumePerEpoch: 1500, EpochSeconds: 60}
	})
	id := h.setupAccount(h.owner, false)
	deposit := func(amount string) (int, map[string]interface{}) {
		return h.do(http.MethodPost, "/v1/deposits", &h.owner, map[string]interface{}{
			"accountId": id, "recipient": hexAddr(h.owner), "asset": hexAddr(h.asset),
			"amount": amount, "deadline": uint64(h.now) + 600,
		})
	}
	status, body := deposit("1000")
	require.Equal(t, http.StatusOK, status, body)
	status, body = deposit("600")
	require.Equal(t, http.StatusTooManyRequests, status, body)
	require.Equal(t, "quota", body["class"])

	limited := newAPIHarness(t, func(cfg *rpc.Config) {
		cfg.RateLimit = middleware.RateLimit{RequestsPerMinute: 1, Burst: 1}
	})
	status, _ = limited.do(http.MethodGet, "/v1/accounts", &limited.owner, nil)
	require.Equal(t, http.StatusOK, status)
	status, _ = limited.do(http.MethodGet, "/v1/accounts", &limited.owner, nil)
	require.Equal(t, http.StatusTooManyRequests, status)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	h := newAPIHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.server.Serve(ctx, "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
