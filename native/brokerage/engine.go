package brokerage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"brokerfund/core/events"
	nativecommon "brokerfund/native/common"
	"brokerfund/native/intent"
)

const moduleName = "brokerage"

const (
	// RoleAdmin may change the management fee rate and protocol recipient.
	RoleAdmin = "admin"
	// RoleManager may open accounts and administer any account.
	RoleManager = "manager"
)

// IntentDomainName and IntentDomainVersion identify the signing domain of
// deposit and withdraw intents.
const (
	IntentDomainName    = "BrokerSettlement"
	IntentDomainVersion = "1"
)

// StateReader is the read side of the engine's state backend.
type StateReader interface {
	BrokerGetAccount(id uint64) (*Account, bool, error)
	BrokerAccountIDs() ([]uint64, error)
	BrokerAssetPolicy(id uint64, asset [20]byte, dir Direction) (bool, error)
	BrokerManagementFee() (*ManagementFeeState, error)
	BrokerProtocolFeeRecipient() ([20]byte, bool, error)
	Nonce(signer [20]byte, key uint64) (uint64, error)
	HasRole(role string, addr [20]byte) bool
}

// CommittedReader is implemented by state backends that can serve reads
// from their last commit, ignoring the writes of a call still in flight.
type CommittedReader interface {
	CommittedView() StateReader
}

type engineState interface {
	StateReader
	BrokerNextAccountID() (uint64, error)
	BrokerPutAccount(*Account) error
	BrokerSetAssetPolicy(id uint64, asset [20]byte, dir Direction, enabled bool) error
	BrokerPutManagementFee(*ManagementFeeState) error
	BrokerPutProtocolFeeRecipient([20]byte) error
	intent.NonceStore
	Snapshot() int
	RevertToSnapshot(id int)
	Commit() error
}

// DepositModule prices assets, mints and burns internal liquidity and holds
// the fund's internal share vault.
type DepositModule interface {
	// Deposit converts amount of asset already held by the caller into
	// shares minted to recipient.
	Deposit(ctx context.Context, asset [20]byte, amount, minSharesOut *big.Int, recipient [20]byte) (sharesOut, liquidity *big.Int, err error)
	// Withdraw burns shares held by the caller and pays asset to recipient.
	Withdraw(ctx context.Context, asset [20]byte, shares, minAmountOut *big.Int, recipient [20]byte) (assetOut, liquidity *big.Int, err error)
	Fund() [20]byte
	ShareToken() [20]byte
	InternalVault() (VaultSnapshot, error)
	// Dilute mints unbacked shares to recipient.
	Dilute(ctx context.Context, shares *big.Int, recipient [20]byte) error
}

// TransferAuthority moves tokens the owner has authorised out of band. It
// must fail without effect when the owner has not authorised the transfer.
type TransferAuthority interface {
	TransferFrom(ctx context.Context, owner, to [20]byte, amount *big.Int, token [20]byte) error
}

// TokenLedger reads balances and moves tokens held by the engine.
type TokenLedger interface {
	BalanceOf(token, holder [20]byte) (*big.Int, error)
	Transfer(ctx context.Context, token [20]byte, from, to [20]byte, amount *big.Int) error
}

// Metrics receives settlement outcomes. observability.Settlement satisfies
// it.
type Metrics interface {
	ObserveOperation(operation string, class string, duration time.Duration)
	RecordManagementFee(shares *big.Int)
}

// Engine settles deposits and withdrawals through broker accounts and
// accrues management fees.
//
// Every exported mutation runs under a re-entrancy guard and against a state
// snapshot: a failed call reverts all of its writes, collaborator effects
// included when collaborators share the same state. The single exception is
// an intent that fails verification, whose consumed nonce is committed.
type Engine struct {
	state     engineState
	view      StateReader
	deposits  DepositModule
	authority TransferAuthority
	ledger    TokenLedger
	validator *intent.Validator
	emitter   events.Emitter
	pauses    nativecommon.PauseView
	metrics   Metrics
	logger    *slog.Logger
	guard     nativecommon.ReentrancyGuard

	self              [20]byte
	protocolRecipient [20]byte
	nowFn             func() int64
}

// NewEngine creates an engine with a no-op emitter and the wall clock.
// Callers wire state and collaborators through the setters.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine. Read-only
// accessors use the backend's committed view when it offers one, so they
// never observe a settlement that may still revert.
func (e *Engine) SetState(state engineState) {
	e.state = state
	e.view = state
	if committed, ok := state.(CommittedReader); ok {
		e.view = committed.CommittedView()
	}
}

// SetDepositModule configures the Deposit Module collaborator.
func (e *Engine) SetDepositModule(module DepositModule) { e.deposits = module }

// SetTransferAuthority configures the service used to pull tokens from payers.
func (e *Engine) SetTransferAuthority(authority TransferAuthority) { e.authority = authority }

// SetTokenLedger configures the ledger used to pay out tokens held by the
// engine.
func (e *Engine) SetTokenLedger(ledger TokenLedger) { e.ledger = ledger }

// SetIntentValidator configures signed intent verification.
func (e *Engine) SetIntentValidator(v *intent.Validator) { e.validator = v }

// SetAddress configures the address under which the engine holds tokens in
// transit.
func (e *Engine) SetAddress(addr [20]byte) { e.self = addr }

// Address returns the engine's own address.
func (e *Engine) Address() [20]byte { return e.self }

// SetDefaultProtocolFeeRecipient configures the protocol fee recipient used
// until one is persisted through SetProtocolFeeRecipient.
func (e *Engine) SetDefaultProtocolFeeRecipient(addr [20]byte) { e.protocolRecipient = addr }

// SetPauses configures the module pause view.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetMetrics configures the metrics sink. Nil disables metrics.
func (e *Engine) SetMetrics(m Metrics) { e.metrics = m }

// SetLogger configures the structured logger. Nil restores slog.Default.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger.With("module", moduleName)
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// IntentDomain returns the signing domain for intents settled by an engine at
// verifying on chainID.
func IntentDomain(chainID uint64, verifying [20]byte) intent.Domain {
	return intent.Domain{
		Name:              IntentDomainName,
		Version:           IntentDomainVersion,
		ChainID:           chainID,
		VerifyingContract: verifying,
	}
}

func (e *Engine) now() uint64 {
	if e.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	ts := e.nowFn()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

// nonceBurned marks a verification failure whose nonce consumption must be
// committed rather than reverted.
type nonceBurned struct{ err error }

func (n *nonceBurned) Error() string { return n.err.Error() }
func (n *nonceBurned) Unwrap() error { return n.err }

// execute runs fn under the re-entrancy guard against a state snapshot.
// Effects are committed on success and reverted on failure; queued events are
// emitted only once the commit succeeded.
func (e *Engine) execute(ctx context.Context, operation string, fn func(ctx context.Context, pending *[]events.Event) error) (err error) {
	release, err := e.guard.Enter()
	if err != nil {
		return err
	}
	defer release()
	start := time.Now()
	defer func() {
		e.observe(operation, err, time.Since(start))
	}()
	if e.state == nil {
		return errNilState
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	var queued []events.Event
	snapshot := e.state.Snapshot()
	if err := fn(ctx, &queued); err != nil {
		var burned *nonceBurned
		if errors.As(err, &burned) {
			if commitErr := e.state.Commit(); commitErr != nil {
				e.state.RevertToSnapshot(snapshot)
				return fmt.Errorf("brokerage: commit consumed nonce: %w", commitErr)
			}
			return burned.err
		}
		e.state.RevertToSnapshot(snapshot)
		return err
	}
	if err := e.state.Commit(); err != nil {
		e.state.RevertToSnapshot(snapshot)
		return fmt.Errorf("brokerage: commit: %w", err)
	}
	for _, evt := range queued {
		if accrued, ok := evt.(events.ManagementFeeAccrued); ok && e.metrics != nil {
			e.metrics.RecordManagementFee(accrued.Shares)
		}
		e.emitter.Emit(evt)
	}
	return nil
}

func (e *Engine) observe(operation string, err error, elapsed time.Duration) {
	class := "ok"
	if err != nil {
		class = string(Classify(err))
		if errors.Is(err, nativecommon.ErrReentrantCall) || errors.Is(err, nativecommon.ErrModulePaused) {
			class = string(ClassSecurity)
		}
	}
	if e.metrics != nil {
		e.metrics.ObserveOperation(operation, class, elapsed)
	}
	if e.logger == nil {
		return
	}
	if err != nil {
		e.logger.Warn("brokerage operation failed", "operation", operation, "class", class, "error", err)
		return
	}
	e.logger.Debug("brokerage operation settled", "operation", operation, "duration", elapsed)
}

// Atomically runs fn under the engine's guard with the same snapshot and
// commit semantics as engine operations. Administrative writes to shared
// state (allowances, roles) go through here so they never interleave with a
// settlement in flight.
func (e *Engine) Atomically(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return nil
	}
	return e.execute(ctx, "atomic", func(ctx context.Context, _ *[]events.Event) error {
		return fn(ctx)
	})
}

func (e *Engine) loadAccount(id uint64) (*Account, error) {
	return loadAccountFrom(e.state, id)
}

func loadAccountFrom(r StateReader, id uint64) (*Account, error) {
	account, ok, err := r.BrokerGetAccount(id)
	if err != nil {
		return nil, fmt.Errorf("brokerage: load account %d: %w", id, err)
	}
	if !ok {
		return nil, ErrAccountNotFound
	}
	account.normalize()
	return account, nil
}

func (e *Engine) storeAccount(account *Account) error {
	if err := e.state.BrokerPutAccount(account); err != nil {
		return fmt.Errorf("brokerage: store account %d: %w", account.ID, err)
	}
	return nil
}

// protocolFeeRecipient returns the persisted recipient, falling back to the
// configured default.
func (e *Engine) protocolFeeRecipient() ([20]byte, error) {
	return e.protocolFeeRecipientFrom(e.state)
}

func (e *Engine) protocolFeeRecipientFrom(r StateReader) ([20]byte, error) {
	addr, ok, err := r.BrokerProtocolFeeRecipient()
	if err != nil {
		return [20]byte{}, err
	}
	if ok {
		return addr, nil
	}
	return e.protocolRecipient, nil
}

func (e *Engine) requireCollaborators() error {
	if e.deposits == nil || e.authority == nil || e.ledger == nil {
		return errNilDepositModule
	}
	return nil
}

func (e *Engine) isManager(addr [20]byte) bool {
	return e.state.HasRole(RoleManager, addr)
}

func (e *Engine) isAdmin(addr [20]byte) bool {
	return e.state.HasRole(RoleAdmin, addr)
}

// pay transfers amount of token from the engine to recipient, skipping zero
// amounts.
func (e *Engine) pay(ctx context.Context, token, recipient [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if recipient == ([20]byte{}) {
		return ErrInvalidRecipient
	}
	if err := e.ledger.Transfer(ctx, token, e.self, recipient, amount); err != nil {
		return fmt.Errorf("brokerage: pay %s: %w", amount, err)
	}
	return nil
}

// checkOrderAmount validates a caller supplied amount.
func checkOrderAmount(v *big.Int) error {
	if v == nil || v.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if !fitsUint256(v) {
		return ErrAmountOverflow
	}
	return nil
}

// checkOptional validates an optional non-negative amount such as a tip.
func checkOptional(v *big.Int) error {
	if v == nil {
		return nil
	}
	if v.Sign() < 0 {
		return ErrInvalidAmount
	}
	if !fitsUint256(v) {
		return ErrAmountOverflow
	}
	return nil
}
