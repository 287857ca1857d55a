// Package rpc exposes the settlement engine over a JSON HTTP API.
package rpc

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"brokerfund/native/brokerage"
	nativecommon "brokerfund/native/common"
	"brokerfund/rpc/middleware"
	"brokerfund/storage/eventlog"
)

const (
	maxRequestBytes = 1 << 20
	serviceName     = "brokerd"
)

// Engine is the settlement surface served by the API.
type Engine interface {
	OpenAccount(ctx context.Context, caller [20]byte, params brokerage.OpenAccountParams) (uint64, error)
	CloseAccount(ctx context.Context, caller [20]byte, id uint64) error
	PauseAccount(ctx context.Context, caller [20]byte, id uint64) error
	UnpauseAccount(ctx context.Context, caller [20]byte, id uint64) error
	TransferAccount(ctx context.Context, caller [20]byte, id uint64, newOwner [20]byte) error
	SetBrokerFeeRecipient(ctx context.Context, caller [20]byte, id uint64, recipient [20]byte) error
	EnableBrokerAssetPolicy(ctx context.Context, caller [20]byte, id uint64, asset [20]byte, dir brokerage.Direction) error
	DisableBrokerAssetPolicy(ctx context.Context, caller [20]byte, id uint64, asset [20]byte, dir brokerage.Direction) error
	AssetPolicy(id uint64, asset [20]byte, dir brokerage.Direction) (bool, error)
	GetAccountInfo(id uint64) (*brokerage.Account, error)
	ListAccounts() ([]*brokerage.Account, error)
	AccountNonce(signer [20]byte, accountID uint64) (uint64, error)
	Deposit(ctx context.Context, caller [20]byte, order brokerage.DepositOrder) (*brokerage.DepositResult, error)
	Withdraw(ctx context.Context, caller [20]byte, order brokerage.WithdrawOrder) (*brokerage.WithdrawResult, error)
	IntentDeposit(ctx context.Context, relayer [20]byte, signed brokerage.SignedDepositIntent) (*brokerage.DepositResult, error)
	IntentWithdraw(ctx context.Context, relayer [20]byte, signed brokerage.SignedWithdrawIntent) (*brokerage.WithdrawResult, error)
	SkimManagementFee(ctx context.Context) (*big.Int, error)
	SetManagementFeeRateInBps(ctx context.Context, caller [20]byte, bps uint64) error
	ManagementFee() (brokerage.ManagementFeeState, error)
	SetProtocolFeeRecipient(ctx context.Context, caller [20]byte, recipient [20]byte) error
	ProtocolFeeRecipient() ([20]byte, error)
	Atomically(ctx context.Context, fn func(ctx context.Context) error) error
	Address() [20]byte
}

// EventArchive serves archived events.
type EventArchive interface {
	ByAccount(ctx context.Context, accountID uint64, limit int) ([]eventlog.Record, error)
}

// Tokens is the reference token ledger and allowance book.
type Tokens interface {
	BalanceOf(token, holder [20]byte) (*big.Int, error)
	Mint(token, holder [20]byte, amount *big.Int) error
	Approve(owner, spender, token [20]byte, amount *big.Int) error
	Allowance(owner, spender, token [20]byte) (*big.Int, error)
}

// Roles grants and checks engine roles.
type Roles interface {
	SetRole(role string, addr [20]byte, granted bool) error
	HasRole(role string, addr [20]byte) bool
}

// Signers registers contract signers and their delegate keys.
type Signers interface {
	RegisterContractSigner(signer [20]byte, keys ...[20]byte) error
	SetDelegate(signer, key [20]byte, allowed bool) error
}

// Commitment reports the Merkle root of settlement state.
type Commitment interface {
	StateRoot() (common.Hash, error)
}

// Config wires the server's collaborators.
type Config struct {
	Engine     Engine
	Archive    EventArchive
	Tokens     Tokens
	Roles      Roles
	Signers    Signers
	Commitment Commitment
	Auth       middleware.AuthConfig
	RateLimit  middleware.RateLimit
	Quota      nativecommon.Quota
	Logger     *slog.Logger
	Now        func() time.Time
}

// Server is the HTTP API.
type Server struct {
	engine  Engine
	archive EventArchive
	tokens  Tokens
	roles   Roles
	signers Signers
	commit  Commitment
	quota   *nativecommon.QuotaTracker
	logger  *slog.Logger
	nowFn   func() time.Time
	handler http.Handler

	// dispatch serialises requests that can reach the engine's write path.
	dispatch sync.Mutex
}

// NewServer builds the router for cfg.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, errors.New("rpc: engine required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:  cfg.Engine,
		archive: cfg.Archive,
		tokens:  cfg.Tokens,
		roles:   cfg.Roles,
		signers: cfg.Signers,
		commit:  cfg.Commitment,
		quota:   nativecommon.NewQuotaTracker(cfg.Quota),
		logger:  logger.With("component", "rpc"),
		nowFn:   cfg.Now,
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	auth := cfg.Auth
	auth.OptionalPaths = append(auth.OptionalPaths, "/healthz", "/metrics")
	authenticator := middleware.NewAuthenticator(auth, s.logger)
	limiter := middleware.NewRateLimiter(cfg.RateLimit)
	obs := middleware.NewObservability(serviceName, s.logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(obs.Middleware)
	r.Use(authenticator.Middleware)
	r.Use(limiter.Middleware)
	r.Use(s.serialise)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/accounts", s.handleOpenAccount)
		r.Get("/accounts", s.handleListAccounts)
		r.Route("/accounts/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetAccount)
			r.Post("/close", s.handleLifecycle(lifecycleClose))
			r.Post("/pause", s.handleLifecycle(lifecyclePause))
			r.Post("/unpause", s.handleLifecycle(lifecycleUnpause))
			r.Post("/transfer", s.handleTransferAccount)
			r.Post("/fee-recipient", s.handleSetFeeRecipient)
			r.Get("/policies", s.handleGetPolicy)
			r.Post("/policies", s.handleSetPolicy(true))
			r.Delete("/policies", s.handleSetPolicy(false))
			r.Get("/events", s.handleAccountEvents)
		})
		r.Post("/deposits", s.handleDeposit)
		r.Post("/withdrawals", s.handleWithdraw)
		r.Post("/intents/deposits", s.handleIntentDeposit)
		r.Post("/intents/withdrawals", s.handleIntentWithdraw)
		r.Get("/nonces/{signer}/{accountID}", s.handleNonce)

		r.Get("/management-fee", s.handleGetManagementFee)
		r.Post("/management-fee/skim", s.handleSkim)
		r.Put("/management-fee/rate", s.handleSetManagementFeeRate)
		r.Get("/protocol-fee-recipient", s.handleGetProtocolRecipient)
		r.Put("/protocol-fee-recipient", s.handleSetProtocolRecipient)

		r.Get("/state-root", s.handleStateRoot)
		r.Get("/balances/{token}/{holder}", s.handleBalance)
		r.Post("/allowances", s.handleApprove)
		r.Post("/admin/mint", s.handleMint)
		r.Post("/admin/roles", s.handleSetRole)
		r.Post("/admin/contract-signers", s.handleSetDelegate)
	})

	s.handler = otelhttp.NewHandler(r, serviceName)
	return s, nil
}

// serialise admits one mutating request at a time. The engine rejects a
// second settlement entering while one is in flight, so concurrent clients
// queue here instead of failing. Reads are served from committed state and
// pass straight through.
func (s *Server) serialise(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
		default:
			s.dispatch.Lock()
			defer s.dispatch.Unlock()
		}
		next.ServeHTTP(w, r)
	})
}

// Handler returns the instrumented root handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
