package vault

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"brokerfund/native/brokerage"
)

var (
	ErrInsufficientBalance   = errors.New("vault: insufficient balance")
	ErrInsufficientAllowance = errors.New("vault: insufficient allowance")
	ErrInvalidAmount         = errors.New("vault: amount must be positive")
	ErrInvalidAddress        = errors.New("vault: address required")
)

type ledgerState interface {
	TokenBalance(token, holder [20]byte) (*big.Int, error)
	SetTokenBalance(token, holder [20]byte, amount *big.Int) error
	TokenAllowance(owner, spender, token [20]byte) (*big.Int, error)
	SetTokenAllowance(owner, spender, token [20]byte, amount *big.Int) error
}

// Ledger keeps token balances in state. It implements brokerage.TokenLedger.
type Ledger struct {
	state ledgerState
}

// NewLedger returns a ledger backed by state.
func NewLedger(state ledgerState) *Ledger {
	return &Ledger{state: state}
}

// BalanceOf returns holder's balance of token.
func (l *Ledger) BalanceOf(token, holder [20]byte) (*big.Int, error) {
	return l.state.TokenBalance(token, holder)
}

// Transfer moves amount of token between holders.
func (l *Ledger) Transfer(_ context.Context, token [20]byte, from, to [20]byte, amount *big.Int) error {
	return l.move(token, from, to, amount)
}

func (l *Ledger) move(token, from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if to == ([20]byte{}) {
		return ErrInvalidAddress
	}
	if from == to {
		return nil
	}
	if err := l.Burn(token, from, amount); err != nil {
		return err
	}
	return l.Mint(token, to, amount)
}

// Mint credits amount of token to holder.
func (l *Ledger) Mint(token, holder [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if holder == ([20]byte{}) {
		return ErrInvalidAddress
	}
	balance, err := l.state.TokenBalance(token, holder)
	if err != nil {
		return err
	}
	if err := l.state.SetTokenBalance(token, holder, new(big.Int).Add(balance, amount)); err != nil {
		return fmt.Errorf("vault: credit: %w", err)
	}
	return nil
}

// Burn debits amount of token from holder.
func (l *Ledger) Burn(token, holder [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	balance, err := l.state.TokenBalance(token, holder)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	return l.state.SetTokenBalance(token, holder, new(big.Int).Sub(balance, amount))
}

// Authority moves tokens on behalf of owners who approved a spender
// beforehand. It implements brokerage.TransferAuthority for a single
// spender, the settlement engine.
type Authority struct {
	ledger  *Ledger
	spender [20]byte
}

// NewAuthority returns an authority pulling funds for spender.
func NewAuthority(ledger *Ledger, spender [20]byte) *Authority {
	return &Authority{ledger: ledger, spender: spender}
}

// Approve sets how much of token spender may pull from owner. An allowance
// of brokerage.MaxAmount is never decremented.
func (a *Authority) Approve(owner, spender, token [20]byte, amount *big.Int) error {
	if owner == ([20]byte{}) || spender == ([20]byte{}) {
		return ErrInvalidAddress
	}
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return a.ledger.state.SetTokenAllowance(owner, spender, token, amount)
}

// Allowance returns the remaining allowance.
func (a *Authority) Allowance(owner, spender, token [20]byte) (*big.Int, error) {
	return a.ledger.state.TokenAllowance(owner, spender, token)
}

// TransferFrom pulls amount of token from owner to to. Nothing moves unless
// the allowance and the balance both cover the amount.
func (a *Authority) TransferFrom(_ context.Context, owner, to [20]byte, amount *big.Int, token [20]byte) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	allowance, err := a.ledger.state.TokenAllowance(owner, a.spender, token)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return ErrInsufficientAllowance
	}
	balance, err := a.ledger.BalanceOf(token, owner)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if !brokerage.IsMaxAmount(allowance) {
		if err := a.ledger.state.SetTokenAllowance(owner, a.spender, token, new(big.Int).Sub(allowance, amount)); err != nil {
			return err
		}
	}
	return a.ledger.move(token, owner, to, amount)
}

// Book pairs a ledger with the authority that spends from it. Reads go
// through view when one is set, so balances and allowances reported to
// callers only reflect committed settlements.
type Book struct {
	*Ledger
	*Authority
	view ledgerState
}

// NewBook returns a Book for ledger and authority.
func NewBook(ledger *Ledger, authority *Authority) Book {
	return Book{Ledger: ledger, Authority: authority}
}

// WithView returns a copy of b reading balances and allowances from view.
func (b Book) WithView(view ledgerState) Book {
	b.view = view
	return b
}

// BalanceOf returns holder's balance of token.
func (b Book) BalanceOf(token, holder [20]byte) (*big.Int, error) {
	if b.view != nil {
		return b.view.TokenBalance(token, holder)
	}
	return b.Ledger.BalanceOf(token, holder)
}

// Allowance returns the allowance owner granted spender.
func (b Book) Allowance(owner, spender, token [20]byte) (*big.Int, error) {
	if b.view != nil {
		return b.view.TokenAllowance(owner, spender, token)
	}
	return b.Authority.Allowance(owner, spender, token)
}
