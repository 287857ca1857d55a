package brokerage

import (
	"context"
	"fmt"
	"math/big"

	"brokerfund/core/events"
)

// accrueManagementFee charges the management fee for the time elapsed since
// the last accrual by diluting the share supply to the protocol fee
// recipient. It returns the number of shares minted.
func (e *Engine) accrueManagementFee(ctx context.Context, pending *[]events.Event) (*big.Int, error) {
	minted := big.NewInt(0)
	fee, err := e.state.BrokerManagementFee()
	if err != nil {
		return nil, fmt.Errorf("brokerage: load management fee: %w", err)
	}
	now := e.now()
	if fee.LastAccrual == 0 {
		fee.LastAccrual = now
		return minted, e.state.BrokerPutManagementFee(fee)
	}
	if now <= fee.LastAccrual {
		return minted, nil
	}
	elapsed := now - fee.LastAccrual
	fee.LastAccrual = now
	if fee.RateBps > 0 {
		if e.deposits == nil {
			return nil, errNilDepositModule
		}
		vault, err := e.deposits.InternalVault()
		if err != nil {
			return nil, fmt.Errorf("brokerage: read vault: %w", err)
		}
		supply, assets := zeroIfNil(vault.TotalSupply), zeroIfNil(vault.TotalAssets)
		if supply.Sign() > 0 && assets.Sign() > 0 {
			minted = ManagementFeeShares(supply, fee.RateBps, elapsed)
		}
		if minted.Sign() > 0 {
			recipient, err := e.protocolFeeRecipient()
			if err != nil {
				return nil, err
			}
			if recipient == ([20]byte{}) {
				return nil, ErrInvalidRecipient
			}
			if err := e.deposits.Dilute(ctx, minted, recipient); err != nil {
				return nil, fmt.Errorf("brokerage: dilute: %w", err)
			}
			*pending = append(*pending, events.ManagementFeeAccrued{
				Shares:    new(big.Int).Set(minted),
				Recipient: recipient,
				RateBps:   fee.RateBps,
				Elapsed:   elapsed,
				Timestamp: now,
			})
		}
	}
	if err := e.state.BrokerPutManagementFee(fee); err != nil {
		return nil, err
	}
	return minted, nil
}

// SkimManagementFee accrues the management fee owed so far. Anyone may call
// it.
func (e *Engine) SkimManagementFee(ctx context.Context) (*big.Int, error) {
	var minted *big.Int
	err := e.execute(ctx, "skim_management_fee", func(ctx context.Context, pending *[]events.Event) error {
		shares, err := e.accrueManagementFee(ctx, pending)
		if err != nil {
			return err
		}
		minted = shares
		return nil
	})
	if err != nil {
		return nil, err
	}
	return minted, nil
}

// SetManagementFeeRateInBps changes the annual management fee rate. Fees
// owed at the previous rate are accrued first. Admin only.
func (e *Engine) SetManagementFeeRateInBps(ctx context.Context, caller [20]byte, bps uint64) error {
	return e.execute(ctx, "set_management_fee_rate", func(ctx context.Context, pending *[]events.Event) error {
		if !e.isAdmin(caller) {
			return ErrNotAuthorized
		}
		if bps >= 10_000 {
			return ErrInvalidFeeRate
		}
		if _, err := e.accrueManagementFee(ctx, pending); err != nil {
			return err
		}
		fee, err := e.state.BrokerManagementFee()
		if err != nil {
			return err
		}
		previous := fee.RateBps
		fee.RateBps = bps
		if err := e.state.BrokerPutManagementFee(fee); err != nil {
			return err
		}
		*pending = append(*pending, events.ManagementFeeRateUpdated{PreviousBps: previous, RateBps: bps})
		return nil
	})
}

// ManagementFee returns the current management fee configuration.
func (e *Engine) ManagementFee() (ManagementFeeState, error) {
	if e.state == nil {
		return ManagementFeeState{}, errNilState
	}
	fee, err := e.view.BrokerManagementFee()
	if err != nil {
		return ManagementFeeState{}, err
	}
	return *fee, nil
}
