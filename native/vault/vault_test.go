package vault

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"brokerfund/core/state"
	"brokerfund/native/brokerage"
	"brokerfund/storage"
)

var (
	testShare    = [20]byte{0x22}
	testFund     = [20]byte{0xF0}
	testOperator = [20]byte{0xE0}
	testAsset    = [20]byte{0x11}
	testUser     = [20]byte{0xB2}
)

func newTestVault(t *testing.T, price *big.Int) (*Vault, *state.Manager) {
	t.Helper()
	mgr := state.NewManager(storage.NewMemDB())
	v, err := New(mgr, Config{
		ShareToken: testShare,
		Fund:       testFund,
		Operator:   testOperator,
		Prices:     map[[20]byte]*big.Int{testAsset: price},
	})
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}
	return v, mgr
}

func mustBalance(t *testing.T, l *Ledger, token, holder [20]byte) *big.Int {
	t.Helper()
	bal, err := l.BalanceOf(token, holder)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal
}

func TestVaultDepositAndWithdraw(t *testing.T) {
	v, _ := newTestVault(t, big.NewInt(2_000_000_000_000_000_000))
	ctx := context.Background()
	if err := v.Ledger().Mint(testAsset, testOperator, big.NewInt(500)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	shares, liquidity, err := v.Deposit(ctx, testAsset, big.NewInt(500), nil, testOperator)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if shares.Int64() != 1000 || liquidity.Int64() != 1000 {
		t.Fatalf("expected 1000 shares and liquidity, got %s/%s", shares, liquidity)
	}
	if got := mustBalance(t, v.Ledger(), testAsset, testFund); got.Int64() != 500 {
		t.Fatalf("fund should hold 500, got %s", got)
	}

	out, redeemed, err := v.Withdraw(ctx, testAsset, big.NewInt(400), big.NewInt(200), testUser)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if out.Int64() != 200 || redeemed.Int64() != 400 {
		t.Fatalf("expected 200 asset for 400 liquidity, got %s/%s", out, redeemed)
	}
	if got := mustBalance(t, v.Ledger(), testAsset, testUser); got.Int64() != 200 {
		t.Fatalf("user should hold 200, got %s", got)
	}
	snapshot, err := v.InternalVault()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snapshot.TotalSupply.Int64() != 600 || snapshot.TotalAssets.Int64() != 600 {
		t.Fatalf("unexpected totals %s/%s", snapshot.TotalSupply, snapshot.TotalAssets)
	}
}

func TestVaultDilutionLowersSharePrice(t *testing.T) {
	v, _ := newTestVault(t, big.NewInt(1_000_000_000_000_000_000))
	ctx := context.Background()
	if err := v.Ledger().Mint(testAsset, testOperator, big.NewInt(2000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, _, err := v.Deposit(ctx, testAsset, big.NewInt(1000), nil, testOperator); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := v.Dilute(ctx, big.NewInt(1000), testUser); err != nil {
		t.Fatalf("dilute: %v", err)
	}
	shares, _, err := v.Deposit(ctx, testAsset, big.NewInt(1000), nil, testOperator)
	if err != nil {
		t.Fatalf("second deposit: %v", err)
	}
	if shares.Int64() != 2000 {
		t.Fatalf("expected 2000 shares after dilution, got %s", shares)
	}
}

func TestVaultSlippageWrapsEngineError(t *testing.T) {
	v, _ := newTestVault(t, big.NewInt(1_000_000_000_000_000_000))
	if err := v.Ledger().Mint(testAsset, testOperator, big.NewInt(10)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	_, _, err := v.Deposit(context.Background(), testAsset, big.NewInt(10), big.NewInt(11), testOperator)
	if !errors.Is(err, brokerage.ErrSlippage) {
		t.Fatalf("expected ErrSlippage, got %v", err)
	}
	if got := mustBalance(t, v.Ledger(), testAsset, testOperator); got.Int64() != 10 {
		t.Fatalf("slippage must not move funds, operator holds %s", got)
	}
}

func TestVaultRejectsUnknownAsset(t *testing.T) {
	v, _ := newTestVault(t, big.NewInt(1))
	if _, _, err := v.Deposit(context.Background(), [20]byte{0x99}, big.NewInt(1), nil, testUser); !errors.Is(err, ErrUnsupportedAsset) {
		t.Fatalf("expected ErrUnsupportedAsset, got %v", err)
	}
	if err := v.SetPrice(testShare, big.NewInt(1)); err == nil {
		t.Fatalf("expected share token price to be rejected")
	}
}

func TestAuthorityRequiresAllowance(t *testing.T) {
	_, mgr := newTestVault(t, big.NewInt(1))
	ledger := NewLedger(mgr)
	authority := NewAuthority(ledger, testOperator)
	ctx := context.Background()
	if err := ledger.Mint(testAsset, testUser, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	if err := authority.TransferFrom(ctx, testUser, testOperator, big.NewInt(10), testAsset); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}
	if err := authority.Approve(testUser, testOperator, testAsset, big.NewInt(60)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := authority.TransferFrom(ctx, testUser, testOperator, big.NewInt(40), testAsset); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	remaining, err := authority.Allowance(testUser, testOperator, testAsset)
	if err != nil {
		t.Fatalf("allowance: %v", err)
	}
	if remaining.Int64() != 20 {
		t.Fatalf("expected 20 remaining, got %s", remaining)
	}
	if err := authority.TransferFrom(ctx, testUser, testOperator, big.NewInt(30), testAsset); !errors.Is(err, ErrInsufficientAllowance) {
		t.Fatalf("expected ErrInsufficientAllowance, got %v", err)
	}

	if err := authority.Approve(testUser, testOperator, testAsset, brokerage.MaxAmount()); err != nil {
		t.Fatalf("approve max: %v", err)
	}
	if err := authority.TransferFrom(ctx, testUser, testOperator, big.NewInt(61), testAsset); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := authority.TransferFrom(ctx, testUser, testOperator, big.NewInt(60), testAsset); err != nil {
		t.Fatalf("transfer with max allowance: %v", err)
	}
	remaining, err = authority.Allowance(testUser, testOperator, testAsset)
	if err != nil {
		t.Fatalf("allowance: %v", err)
	}
	if !brokerage.IsMaxAmount(remaining) {
		t.Fatalf("max allowance must not decrease, got %s", remaining)
	}
}

func TestVaultYieldRaisesSharePrice(t *testing.T) {
	v, _ := newTestVault(t, big.NewInt(1_000_000_000_000_000_000))
	ctx := context.Background()
	if _, err := v.AccrueYield(ctx, testAsset, testUser, big.NewInt(10)); !errors.Is(err, ErrEmptyVault) {
		t.Fatalf("expected ErrEmptyVault, got %v", err)
	}
	if err := v.Ledger().Mint(testAsset, testOperator, big.NewInt(1000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := v.Ledger().Mint(testAsset, testUser, big.NewInt(500)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, _, err := v.Deposit(ctx, testAsset, big.NewInt(1000), nil, testOperator); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	liquidity, err := v.AccrueYield(ctx, testAsset, testUser, big.NewInt(500))
	if err != nil {
		t.Fatalf("yield: %v", err)
	}
	if liquidity.Int64() != 500 {
		t.Fatalf("expected 500 liquidity, got %s", liquidity)
	}
	snap, err := v.InternalVault()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.TotalSupply.Int64() != 1000 || snap.TotalAssets.Int64() != 1500 {
		t.Fatalf("unexpected vault record %s/%s", snap.TotalSupply, snap.TotalAssets)
	}
	if got := mustBalance(t, v.Ledger(), testAsset, testFund); got.Int64() != 1500 {
		t.Fatalf("expected fund to hold 1500, got %s", got)
	}
	if got := mustBalance(t, v.Ledger(), testAsset, testUser); got.Sign() != 0 {
		t.Fatalf("expected source drained, got %s", got)
	}
}

func TestBookViewReportsCommittedBalances(t *testing.T) {
	v, mgr := newTestVault(t, big.NewInt(1_000_000_000_000_000_000))
	authority := NewAuthority(v.Ledger(), testOperator)
	book := NewBook(v.Ledger(), authority).WithView(mgr.Committed())
	if err := book.Mint(testAsset, testUser, big.NewInt(70)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := book.Approve(testUser, testOperator, testAsset, big.NewInt(30)); err != nil {
		t.Fatalf("approve: %v", err)
	}
	bal, err := book.BalanceOf(testAsset, testUser)
	if err != nil || bal.Sign() != 0 {
		t.Fatalf("expected uncommitted balance hidden, got %v %v", bal, err)
	}
	if err := mgr.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	bal, err = book.BalanceOf(testAsset, testUser)
	if err != nil || bal.Int64() != 70 {
		t.Fatalf("expected committed balance 70, got %v %v", bal, err)
	}
	allowance, err := book.Allowance(testUser, testOperator, testAsset)
	if err != nil || allowance.Int64() != 30 {
		t.Fatalf("expected committed allowance 30, got %v %v", allowance, err)
	}
}
