package vault

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"brokerfund/native/brokerage"
)

var (
	ErrUnsupportedAsset      = errors.New("vault: asset has no configured price")
	ErrZeroOutput            = errors.New("vault: conversion rounds to zero")
	ErrInsufficientLiquidity = errors.New("vault: fund cannot cover redemption")
	ErrEmptyVault            = errors.New("vault: no shares outstanding")
)

var wad = big.NewInt(1_000_000_000_000_000_000)

type vaultState interface {
	ledgerState
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// record is the persisted vault accounting. TotalAssets is denominated in
// liquidity units.
type record struct {
	TotalSupply *big.Int
	TotalAssets *big.Int
}

// Config describes a reference vault.
type Config struct {
	ShareToken [20]byte
	// Fund is the custody address holding deposited assets.
	Fund [20]byte
	// Operator is the only address whose tokens the vault moves, normally the
	// settlement engine.
	Operator [20]byte
	// Prices maps an asset to the liquidity units one asset unit is worth,
	// scaled by 1e18.
	Prices map[[20]byte]*big.Int
}

// Vault is a reference Deposit Module with static prices. It keeps its
// accounting in the same state as the ledger, so a reverted settlement
// reverts the vault as well.
type Vault struct {
	state  vaultState
	ledger *Ledger
	cfg    Config

	mu     sync.RWMutex
	prices map[[20]byte]*big.Int
}

var _ brokerage.DepositModule = (*Vault)(nil)

// New returns a vault over state.
func New(state vaultState, cfg Config) (*Vault, error) {
	if state == nil {
		return nil, errors.New("vault: state required")
	}
	if cfg.ShareToken == ([20]byte{}) || cfg.Fund == ([20]byte{}) || cfg.Operator == ([20]byte{}) {
		return nil, ErrInvalidAddress
	}
	v := &Vault{state: state, ledger: NewLedger(state), cfg: cfg, prices: make(map[[20]byte]*big.Int)}
	for asset, price := range cfg.Prices {
		if err := v.SetPrice(asset, price); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// Ledger returns the token ledger the vault settles against.
func (v *Vault) Ledger() *Ledger { return v.ledger }

// SetPrice configures the WAD price of asset.
func (v *Vault) SetPrice(asset [20]byte, priceWad *big.Int) error {
	if priceWad == nil || priceWad.Sign() <= 0 {
		return fmt.Errorf("vault: price for %s must be positive", hex.EncodeToString(asset[:]))
	}
	if asset == v.cfg.ShareToken {
		return fmt.Errorf("vault: share token cannot be a deposit asset")
	}
	v.mu.Lock()
	v.prices[asset] = new(big.Int).Set(priceWad)
	v.mu.Unlock()
	return nil
}

func (v *Vault) price(asset [20]byte) (*big.Int, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	price, ok := v.prices[asset]
	if !ok {
		return nil, ErrUnsupportedAsset
	}
	return price, nil
}

func (v *Vault) key() []byte {
	return []byte("vault/" + hex.EncodeToString(v.cfg.ShareToken[:]))
}

func (v *Vault) load() (*record, error) {
	rec := new(record)
	if _, err := v.state.KVGet(v.key(), rec); err != nil {
		return nil, err
	}
	if rec.TotalSupply == nil {
		rec.TotalSupply = big.NewInt(0)
	}
	if rec.TotalAssets == nil {
		rec.TotalAssets = big.NewInt(0)
	}
	return rec, nil
}

func (v *Vault) store(rec *record) error {
	return v.state.KVPut(v.key(), rec)
}

// Fund implements brokerage.DepositModule.
func (v *Vault) Fund() [20]byte { return v.cfg.Fund }

// ShareToken implements brokerage.DepositModule.
func (v *Vault) ShareToken() [20]byte { return v.cfg.ShareToken }

// InternalVault implements brokerage.DepositModule.
func (v *Vault) InternalVault() (brokerage.VaultSnapshot, error) {
	rec, err := v.load()
	if err != nil {
		return brokerage.VaultSnapshot{}, err
	}
	return brokerage.VaultSnapshot{TotalSupply: rec.TotalSupply, TotalAssets: rec.TotalAssets}, nil
}

// Deposit moves amount of asset from the operator into the fund and mints
// shares to recipient. The first deposit mints one share per liquidity unit.
func (v *Vault) Deposit(_ context.Context, asset [20]byte, amount, minSharesOut *big.Int, recipient [20]byte) (*big.Int, *big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	price, err := v.price(asset)
	if err != nil {
		return nil, nil, err
	}
	rec, err := v.load()
	if err != nil {
		return nil, nil, err
	}
	liquidity := new(big.Int).Mul(amount, price)
	liquidity.Quo(liquidity, wad)
	if liquidity.Sign() == 0 {
		return nil, nil, ErrZeroOutput
	}
	shares := new(big.Int).Set(liquidity)
	if rec.TotalSupply.Sign() > 0 && rec.TotalAssets.Sign() > 0 {
		shares.Mul(liquidity, rec.TotalSupply)
		shares.Quo(shares, rec.TotalAssets)
	}
	if shares.Sign() == 0 {
		return nil, nil, ErrZeroOutput
	}
	if minSharesOut != nil && shares.Cmp(minSharesOut) < 0 {
		return nil, nil, fmt.Errorf("vault: %s shares below minimum %s: %w", shares, minSharesOut, brokerage.ErrSlippage)
	}
	if err := v.ledger.move(asset, v.cfg.Operator, v.cfg.Fund, amount); err != nil {
		return nil, nil, err
	}
	if err := v.ledger.Mint(v.cfg.ShareToken, recipient, shares); err != nil {
		return nil, nil, err
	}
	rec.TotalSupply.Add(rec.TotalSupply, shares)
	rec.TotalAssets.Add(rec.TotalAssets, liquidity)
	if err := v.store(rec); err != nil {
		return nil, nil, err
	}
	return shares, liquidity, nil
}

// Withdraw burns shares held by the operator and pays the matching amount of
// asset from the fund to recipient.
func (v *Vault) Withdraw(_ context.Context, asset [20]byte, shares, minAmountOut *big.Int, recipient [20]byte) (*big.Int, *big.Int, error) {
	if shares == nil || shares.Sign() <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	price, err := v.price(asset)
	if err != nil {
		return nil, nil, err
	}
	rec, err := v.load()
	if err != nil {
		return nil, nil, err
	}
	if rec.TotalSupply.Sign() == 0 || shares.Cmp(rec.TotalSupply) > 0 {
		return nil, nil, ErrEmptyVault
	}
	liquidity := new(big.Int).Mul(shares, rec.TotalAssets)
	liquidity.Quo(liquidity, rec.TotalSupply)
	assetOut := new(big.Int).Mul(liquidity, wad)
	assetOut.Quo(assetOut, price)
	if minAmountOut != nil && assetOut.Cmp(minAmountOut) < 0 {
		return nil, nil, fmt.Errorf("vault: %s out below minimum %s: %w", assetOut, minAmountOut, brokerage.ErrSlippage)
	}
	if err := v.ledger.Burn(v.cfg.ShareToken, v.cfg.Operator, shares); err != nil {
		return nil, nil, err
	}
	if assetOut.Sign() > 0 {
		held, err := v.ledger.BalanceOf(asset, v.cfg.Fund)
		if err != nil {
			return nil, nil, err
		}
		if held.Cmp(assetOut) < 0 {
			return nil, nil, ErrInsufficientLiquidity
		}
		if err := v.ledger.move(asset, v.cfg.Fund, recipient, assetOut); err != nil {
			return nil, nil, err
		}
	}
	rec.TotalSupply.Sub(rec.TotalSupply, shares)
	rec.TotalAssets.Sub(rec.TotalAssets, liquidity)
	if err := v.store(rec); err != nil {
		return nil, nil, err
	}
	return assetOut, liquidity, nil
}

// Dilute mints shares to recipient without adding assets.
func (v *Vault) Dilute(_ context.Context, shares *big.Int, recipient [20]byte) error {
	if shares == nil || shares.Sign() <= 0 {
		return ErrInvalidAmount
	}
	rec, err := v.load()
	if err != nil {
		return err
	}
	if err := v.ledger.Mint(v.cfg.ShareToken, recipient, shares); err != nil {
		return err
	}
	rec.TotalSupply.Add(rec.TotalSupply, shares)
	return v.store(rec)
}

// AccrueYield moves amount of asset from source into the fund and books its
// liquidity as vault assets without minting shares, raising the share price
// for every holder.
func (v *Vault) AccrueYield(_ context.Context, asset, source [20]byte, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	price, err := v.price(asset)
	if err != nil {
		return nil, err
	}
	rec, err := v.load()
	if err != nil {
		return nil, err
	}
	if rec.TotalSupply.Sign() == 0 {
		return nil, ErrEmptyVault
	}
	liquidity := new(big.Int).Mul(amount, price)
	liquidity.Quo(liquidity, wad)
	if liquidity.Sign() == 0 {
		return nil, ErrZeroOutput
	}
	if err := v.ledger.move(asset, source, v.cfg.Fund, amount); err != nil {
		return nil, err
	}
	rec.TotalAssets.Add(rec.TotalAssets, liquidity)
	if err := v.store(rec); err != nil {
		return nil, err
	}
	return liquidity, nil
}
