package brokerage

import (
	"context"
	"fmt"
	"math/big"

	"brokerfund/core/events"
	nativecommon "brokerfund/native/common"
)

// Withdraw redeems the caller's shares through the account.
func (e *Engine) Withdraw(ctx context.Context, caller [20]byte, order WithdrawOrder) (*WithdrawResult, error) {
	var result *WithdrawResult
	err := e.execute(ctx, "withdraw", func(ctx context.Context, pending *[]events.Event) error {
		res, err := e.settleWithdraw(ctx, pending, caller, [20]byte{}, order, nil, nil)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// IntentWithdraw settles a withdrawal the signer authorised off-path. Tip and
// bribe are paid out of the net proceeds.
func (e *Engine) IntentWithdraw(ctx context.Context, relayer [20]byte, signed SignedWithdrawIntent) (*WithdrawResult, error) {
	var result *WithdrawResult
	err := e.execute(ctx, "intent_withdraw", func(ctx context.Context, pending *[]events.Event) error {
		in := signed.Intent
		if err := e.checkDeadline(in.Order.Deadline); err != nil {
			return err
		}
		if err := e.verifyIntent(signed.Signer, in.Order.AccountID, in.StructHash(), signed.Signature, in.ChainID, in.Nonce); err != nil {
			return err
		}
		if err := checkOptional(in.RelayerTip); err != nil {
			return err
		}
		if err := checkOptional(in.Bribe); err != nil {
			return err
		}
		res, err := e.settleWithdraw(ctx, pending, signed.Signer, relayer, in.Order, in.RelayerTip, in.Bribe)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// assetFee converts a fee denominated in liquidity units into the withdrawn
// asset, rounding up.
func assetFee(feeUnits, assetOut, liquidity *big.Int) *big.Int {
	if feeUnits.Sign() == 0 || liquidity.Sign() == 0 {
		return big.NewInt(0)
	}
	return mulDivUp(feeUnits, assetOut, liquidity)
}

func (e *Engine) settleWithdraw(ctx context.Context, pending *[]events.Event, payer, relayer [20]byte, order WithdrawOrder, tip, bribe *big.Int) (*WithdrawResult, error) {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := e.requireCollaborators(); err != nil {
		return nil, err
	}
	if err := e.checkDeadline(order.Deadline); err != nil {
		return nil, err
	}
	account, err := e.loadSettlementAccount(payer, order.AccountID, order.Asset, DirectionWithdraw)
	if err != nil {
		return nil, err
	}
	if order.Receiver == ([20]byte{}) {
		return nil, ErrInvalidRecipient
	}
	if !IsMaxAmount(order.Shares) {
		if err := checkOrderAmount(order.Shares); err != nil {
			return nil, err
		}
	}
	if err := checkOptional(order.MinAmountOut); err != nil {
		return nil, err
	}
	if _, err := e.accrueManagementFee(ctx, pending); err != nil {
		return nil, err
	}

	shareToken := e.deposits.ShareToken()
	shares := new(big.Int).Set(order.Shares)
	if IsMaxAmount(shares) {
		balance, err := e.ledger.BalanceOf(shareToken, payer)
		if err != nil {
			return nil, fmt.Errorf("brokerage: payer shares: %w", err)
		}
		if balance.Sign() == 0 {
			return nil, ErrInvalidAmount
		}
		shares.Set(balance)
	}

	if shares.Cmp(account.TotalSharesOutstanding) > 0 {
		if account.Limited() {
			return nil, ErrBurnExceedsOutstanding
		}
		account.TotalSharesOutstanding = big.NewInt(0)
	} else {
		account.TotalSharesOutstanding = new(big.Int).Sub(account.TotalSharesOutstanding, shares)
	}

	if err := e.authority.TransferFrom(ctx, payer, e.self, shares, shareToken); err != nil {
		return nil, fmt.Errorf("brokerage: pull shares: %w", err)
	}
	assetOut, liquidity, err := e.deposits.Withdraw(ctx, order.Asset, shares, zeroIfNil(order.MinAmountOut), e.self)
	if err != nil {
		return nil, fmt.Errorf("brokerage: deposit module: %w", err)
	}
	assetOut, liquidity = zeroIfNil(assetOut), zeroIfNil(liquidity)
	if order.MinAmountOut != nil && assetOut.Cmp(order.MinAmountOut) < 0 {
		return nil, ErrSlippage
	}

	brokerUnits, protocolUnits := CalculateWithdrawalFees(account, shares, liquidity)
	brokerFee := assetFee(brokerUnits, assetOut, liquidity)
	protocolFee := assetFee(protocolUnits, assetOut, liquidity)
	capFees(assetOut, brokerFee, protocolFee)
	net := new(big.Int).Sub(assetOut, brokerFee)
	net.Sub(net, protocolFee)

	tip, bribe = zeroIfNil(tip), zeroIfNil(bribe)
	extras := new(big.Int).Add(tip, bribe)
	if net.Cmp(extras) < 0 {
		return nil, ErrInsufficientForBribeTip
	}
	userAmount := new(big.Int).Sub(net, extras)

	protocolRecipient, err := e.protocolFeeRecipient()
	if err != nil {
		return nil, err
	}
	if err := e.pay(ctx, order.Asset, order.Receiver, userAmount); err != nil {
		return nil, err
	}
	if err := e.pay(ctx, order.Asset, account.FeeRecipient, brokerFee); err != nil {
		return nil, err
	}
	if err := e.pay(ctx, order.Asset, protocolRecipient, protocolFee); err != nil {
		return nil, err
	}
	if err := e.pay(ctx, order.Asset, relayer, tip); err != nil {
		return nil, err
	}
	if err := e.pay(ctx, order.Asset, e.deposits.Fund(), bribe); err != nil {
		return nil, err
	}

	if account.TotalSharesOutstanding.Sign() == 0 {
		account.CumulativeSharesMinted = big.NewInt(0)
		account.CumulativeUnitsDeposited = big.NewInt(0)
	}
	if err := e.storeAccount(account); err != nil {
		return nil, err
	}

	result := &WithdrawResult{
		AccountID:   account.ID,
		Payer:       payer,
		SharesBurnt: shares,
		AssetOut:    new(big.Int).Set(assetOut),
		Liquidity:   new(big.Int).Set(liquidity),
		UserAmount:  userAmount,
		BrokerFee:   brokerFee,
		ProtocolFee: protocolFee,
		RelayerTip:  new(big.Int).Set(tip),
		Bribe:       new(big.Int).Set(bribe),
	}
	*pending = append(*pending, events.BrokerWithdraw{
		AccountID:   account.ID,
		Payer:       payer,
		Receiver:    order.Receiver,
		Relayer:     relayer,
		Asset:       order.Asset,
		SharesBurnt: copyInt(shares),
		Liquidity:   copyInt(result.Liquidity),
		AssetOut:    copyInt(result.AssetOut),
		UserAmount:  copyInt(userAmount),
		BrokerFee:   copyInt(brokerFee),
		ProtocolFee: copyInt(protocolFee),
		RelayerTip:  copyInt(result.RelayerTip),
		Bribe:       copyInt(result.Bribe),
	})
	return result, nil
}
