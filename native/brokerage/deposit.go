package brokerage

import (
	"context"
	"fmt"
	"math/big"

	"brokerfund/core/events"
	nativecommon "brokerfund/native/common"
)

// Deposit settles order on behalf of caller, who pays the asset.
func (e *Engine) Deposit(ctx context.Context, caller [20]byte, order DepositOrder) (*DepositResult, error) {
	var result *DepositResult
	err := e.execute(ctx, "deposit", func(ctx context.Context, pending *[]events.Event) error {
		res, err := e.settleDeposit(ctx, pending, caller, [20]byte{}, order, nil, nil)
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

// IntentDeposit settles a deposit the signer authorised off-path. The
// relayer submitting it receives the intent's tip.
func (e *Engine) IntentDeposit(ctx context.Context, relayer [20]byte, signed SignedDepositIntent) (*DepositResult, error) {
	var result *DepositResult
	err := e.execute(ctx, "intent_deposit", func(ctx context.Context, pending *[]events.Event) error {
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
		res, err := e.settleDeposit(ctx, pending, signed.Signer, relayer, in.Order, in.RelayerTip, in.Bribe)
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

func (e *Engine) checkDeadline(deadline uint64) error {
	if e.now() >= deadline {
		return ErrOrderExpired
	}
	return nil
}

// verifyIntent consumes the signer's nonce for the account and validates the
// intent against it. Verification failures keep the nonce consumed.
func (e *Engine) verifyIntent(signer [20]byte, accountID uint64, structHash [32]byte, signature []byte, chainID, nonce uint64) error {
	if e.validator == nil {
		return errNilValidator
	}
	consumed, err := e.state.ConsumeNonce(signer, accountID)
	if err != nil {
		return fmt.Errorf("brokerage: consume nonce: %w", err)
	}
	if err := e.validator.ValidateIntent(signer, structHash, signature, chainID, consumed, nonce); err != nil {
		return &nonceBurned{err: err}
	}
	return nil
}

// loadSettlementAccount resolves the account for payer and applies the
// ownership and policy checks shared by both settlement directions.
func (e *Engine) loadSettlementAccount(payer [20]byte, id uint64, asset [20]byte, dir Direction) (*Account, error) {
	account, err := e.loadAccount(id)
	if err != nil {
		return nil, err
	}
	if account.State == AccountStateClosed {
		return nil, ErrAccountClosed
	}
	if !account.IsPublic && account.Owner != payer {
		return nil, ErrNotAccountOwner
	}
	if account.State != AccountStateActive {
		return nil, ErrAccountNotActive
	}
	if dir == DirectionDeposit && account.Expired(e.now()) {
		return nil, ErrAccountExpired
	}
	allowed, err := e.state.BrokerAssetPolicy(id, asset, dir)
	if err != nil {
		return nil, fmt.Errorf("brokerage: load policy: %w", err)
	}
	if !allowed {
		return nil, ErrAssetNotPermitted
	}
	return account, nil
}

func (e *Engine) settleDeposit(ctx context.Context, pending *[]events.Event, payer, relayer [20]byte, order DepositOrder, tip, bribe *big.Int) (*DepositResult, error) {
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := e.requireCollaborators(); err != nil {
		return nil, err
	}
	if err := e.checkDeadline(order.Deadline); err != nil {
		return nil, err
	}
	account, err := e.loadSettlementAccount(payer, order.AccountID, order.Asset, DirectionDeposit)
	if err != nil {
		return nil, err
	}
	if order.Recipient == ([20]byte{}) {
		return nil, ErrInvalidRecipient
	}
	if !IsMaxAmount(order.Amount) {
		if err := checkOrderAmount(order.Amount); err != nil {
			return nil, err
		}
	}
	if err := checkOptional(order.MinSharesOut); err != nil {
		return nil, err
	}
	if _, err := e.accrueManagementFee(ctx, pending); err != nil {
		return nil, err
	}

	amount := new(big.Int).Set(order.Amount)
	if IsMaxAmount(amount) {
		balance, err := e.ledger.BalanceOf(order.Asset, payer)
		if err != nil {
			return nil, fmt.Errorf("brokerage: payer balance: %w", err)
		}
		if balance.Sign() == 0 {
			return nil, ErrInvalidAmount
		}
		amount.Set(balance)
	}
	tip, bribe = zeroIfNil(tip), zeroIfNil(bribe)
	extras := new(big.Int).Add(tip, bribe)
	if amount.Cmp(extras) < 0 {
		return nil, ErrInsufficientForBribeTip
	}
	net := new(big.Int).Sub(amount, extras)
	if net.Sign() == 0 {
		return nil, ErrInvalidAmount
	}

	if err := e.authority.TransferFrom(ctx, payer, e.self, amount, order.Asset); err != nil {
		return nil, fmt.Errorf("brokerage: pull deposit: %w", err)
	}
	if err := e.pay(ctx, order.Asset, relayer, tip); err != nil {
		return nil, err
	}
	if err := e.pay(ctx, order.Asset, e.deposits.Fund(), bribe); err != nil {
		return nil, err
	}

	sharesOut, liquidity, err := e.deposits.Deposit(ctx, order.Asset, net, zeroIfNil(order.MinSharesOut), e.self)
	if err != nil {
		return nil, fmt.Errorf("brokerage: deposit module: %w", err)
	}
	if sharesOut == nil || sharesOut.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if order.MinSharesOut != nil && sharesOut.Cmp(order.MinSharesOut) < 0 {
		return nil, ErrSlippage
	}
	liquidity = zeroIfNil(liquidity)

	outstanding := new(big.Int).Add(account.TotalSharesOutstanding, sharesOut)
	if account.Limited() && outstanding.Cmp(account.ShareMintLimit) > 0 {
		return nil, ErrMintLimitExceeded
	}
	account.TotalSharesOutstanding = outstanding
	account.CumulativeSharesMinted = new(big.Int).Add(account.CumulativeSharesMinted, sharesOut)
	account.CumulativeUnitsDeposited = new(big.Int).Add(account.CumulativeUnitsDeposited, liquidity)

	userShares, brokerFee, protocolFee := SplitEntranceFees(sharesOut, account.Fees)
	protocolRecipient, err := e.protocolFeeRecipient()
	if err != nil {
		return nil, err
	}
	shareToken := e.deposits.ShareToken()
	if err := e.pay(ctx, shareToken, order.Recipient, userShares); err != nil {
		return nil, err
	}
	if err := e.pay(ctx, shareToken, account.FeeRecipient, brokerFee); err != nil {
		return nil, err
	}
	if err := e.pay(ctx, shareToken, protocolRecipient, protocolFee); err != nil {
		return nil, err
	}
	if err := e.storeAccount(account); err != nil {
		return nil, err
	}

	result := &DepositResult{
		AccountID:   account.ID,
		Payer:       payer,
		AmountIn:    amount,
		SharesOut:   new(big.Int).Set(sharesOut),
		Liquidity:   new(big.Int).Set(liquidity),
		UserShares:  userShares,
		BrokerFee:   brokerFee,
		ProtocolFee: protocolFee,
		RelayerTip:  new(big.Int).Set(tip),
		Bribe:       new(big.Int).Set(bribe),
	}
	*pending = append(*pending, events.BrokerDeposit{
		AccountID:   account.ID,
		Payer:       payer,
		Recipient:   order.Recipient,
		Relayer:     relayer,
		Asset:       order.Asset,
		AmountIn:    copyInt(result.AmountIn),
		Liquidity:   copyInt(result.Liquidity),
		SharesOut:   copyInt(result.SharesOut),
		UserShares:  copyInt(userShares),
		BrokerFee:   copyInt(brokerFee),
		ProtocolFee: copyInt(protocolFee),
		RelayerTip:  copyInt(result.RelayerTip),
		Bribe:       copyInt(result.Bribe),
	})
	return result, nil
}
