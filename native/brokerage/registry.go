package brokerage

import (
	"context"
	"math/big"

	"brokerfund/core/events"
)

// OpenAccount creates a broker account owned by params.Owner and returns its
// identifier. Only managers may open accounts since the opener sets the
// protocol fee rates.
func (e *Engine) OpenAccount(ctx context.Context, caller [20]byte, params OpenAccountParams) (uint64, error) {
	var id uint64
	err := e.execute(ctx, "open_account", func(ctx context.Context, pending *[]events.Event) error {
		if !e.isManager(caller) {
			return ErrNotAuthorized
		}
		if params.Owner == ([20]byte{}) {
			return ErrInvalidOwner
		}
		if !params.Fees.valid() {
			return ErrInvalidFeeSchedule
		}
		if params.TTL == 0 {
			return ErrInvalidTTL
		}
		limit := params.ShareMintLimit
		if limit == nil {
			limit = MaxAmount()
		}
		if limit.Sign() <= 0 {
			return ErrInvalidMintLimit
		}
		if !fitsUint256(limit) {
			return ErrAmountOverflow
		}
		now := e.now()
		expiration := now + params.TTL
		if expiration < now {
			return ErrInvalidTTL
		}
		next, err := e.state.BrokerNextAccountID()
		if err != nil {
			return err
		}
		account := &Account{
			ID:                  next,
			Owner:               params.Owner,
			State:               AccountStateActive,
			ExpirationTimestamp: expiration,
			IsPublic:            params.IsPublic,
			Transferable:        params.Transferable,
			FeeRecipient:        params.FeeRecipient,
			ShareMintLimit:      new(big.Int).Set(limit),
			Fees:                params.Fees,
		}
		if account.FeeRecipient == ([20]byte{}) {
			account.FeeRecipient = params.Owner
		}
		account.normalize()
		if err := e.storeAccount(account); err != nil {
			return err
		}
		id = next
		*pending = append(*pending, events.BrokerAccountOpened{
			AccountID:           account.ID,
			Owner:               account.Owner,
			FeeRecipient:        account.FeeRecipient,
			ExpirationTimestamp: account.ExpirationTimestamp,
			IsPublic:            account.IsPublic,
			Transferable:        account.Transferable,
			ShareMintLimit:      copyInt(account.ShareMintLimit),
		})
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// authorizeAdmin loads the account and checks caller is its owner or a
// manager.
func (e *Engine) authorizeAdmin(caller [20]byte, id uint64) (*Account, error) {
	account, err := e.loadAccount(id)
	if err != nil {
		return nil, err
	}
	if account.State == AccountStateClosed {
		return nil, ErrAccountClosed
	}
	if account.Owner != caller && !e.isManager(caller) {
		return nil, ErrNotAccountOwner
	}
	return account, nil
}

// authorizeConfig is authorizeAdmin for configuration changes, which are
// rejected while the account is not active or has expired.
func (e *Engine) authorizeConfig(caller [20]byte, id uint64) (*Account, error) {
	account, err := e.authorizeAdmin(caller, id)
	if err != nil {
		return nil, err
	}
	if account.State != AccountStateActive {
		return nil, ErrAccountNotActive
	}
	if account.Expired(e.now()) {
		return nil, ErrAccountExpired
	}
	return account, nil
}

// CloseAccount permanently closes an account without outstanding shares.
func (e *Engine) CloseAccount(ctx context.Context, caller [20]byte, id uint64) error {
	return e.execute(ctx, "close_account", func(ctx context.Context, pending *[]events.Event) error {
		account, err := e.authorizeAdmin(caller, id)
		if err != nil {
			return err
		}
		if account.TotalSharesOutstanding.Sign() != 0 {
			return ErrSharesOutstanding
		}
		account.Owner = [20]byte{}
		account.State = AccountStateClosed
		if err := e.storeAccount(account); err != nil {
			return err
		}
		*pending = append(*pending, events.BrokerAccountLifecycle{Kind: events.TypeBrokerAccountClosed, AccountID: id, Caller: caller})
		return nil
	})
}

// PauseAccount moves an active account to paused.
func (e *Engine) PauseAccount(ctx context.Context, caller [20]byte, id uint64) error {
	return e.execute(ctx, "pause_account", func(ctx context.Context, pending *[]events.Event) error {
		account, err := e.authorizeAdmin(caller, id)
		if err != nil {
			return err
		}
		if account.State != AccountStateActive {
			return ErrAccountNotActive
		}
		account.State = AccountStatePaused
		if err := e.storeAccount(account); err != nil {
			return err
		}
		*pending = append(*pending, events.BrokerAccountLifecycle{Kind: events.TypeBrokerAccountPaused, AccountID: id, Caller: caller})
		return nil
	})
}

// UnpauseAccount moves a paused account back to active.
func (e *Engine) UnpauseAccount(ctx context.Context, caller [20]byte, id uint64) error {
	return e.execute(ctx, "unpause_account", func(ctx context.Context, pending *[]events.Event) error {
		account, err := e.authorizeAdmin(caller, id)
		if err != nil {
			return err
		}
		if account.State != AccountStatePaused {
			return ErrAccountNotPaused
		}
		account.State = AccountStateActive
		if err := e.storeAccount(account); err != nil {
			return err
		}
		*pending = append(*pending, events.BrokerAccountLifecycle{Kind: events.TypeBrokerAccountUnpaused, AccountID: id, Caller: caller})
		return nil
	})
}

// TransferAccount hands a transferable account to a new owner. Only the
// current owner may transfer.
func (e *Engine) TransferAccount(ctx context.Context, caller [20]byte, id uint64, newOwner [20]byte) error {
	return e.execute(ctx, "transfer_account", func(ctx context.Context, pending *[]events.Event) error {
		account, err := e.loadAccount(id)
		if err != nil {
			return err
		}
		if account.State == AccountStateClosed {
			return ErrAccountClosed
		}
		if account.Owner != caller {
			return ErrNotAccountOwner
		}
		if !account.Transferable {
			return ErrNotTransferable
		}
		if newOwner == ([20]byte{}) {
			return ErrInvalidOwner
		}
		previous := account.Owner
		account.Owner = newOwner
		if err := e.storeAccount(account); err != nil {
			return err
		}
		*pending = append(*pending, events.BrokerAccountTransferred{AccountID: id, PreviousOwner: previous, NewOwner: newOwner})
		return nil
	})
}

// SetBrokerFeeRecipient changes where broker fees are paid.
func (e *Engine) SetBrokerFeeRecipient(ctx context.Context, caller [20]byte, id uint64, recipient [20]byte) error {
	return e.execute(ctx, "set_fee_recipient", func(ctx context.Context, pending *[]events.Event) error {
		account, err := e.authorizeConfig(caller, id)
		if err != nil {
			return err
		}
		if recipient == ([20]byte{}) {
			return ErrInvalidRecipient
		}
		account.FeeRecipient = recipient
		if err := e.storeAccount(account); err != nil {
			return err
		}
		*pending = append(*pending, events.BrokerFeeRecipientUpdated{AccountID: id, FeeRecipient: recipient})
		return nil
	})
}

// EnableBrokerAssetPolicy permits asset to move in dir through the account.
func (e *Engine) EnableBrokerAssetPolicy(ctx context.Context, caller [20]byte, id uint64, asset [20]byte, dir Direction) error {
	return e.setAssetPolicy(ctx, caller, id, asset, dir, true)
}

// DisableBrokerAssetPolicy revokes a previously enabled asset direction.
func (e *Engine) DisableBrokerAssetPolicy(ctx context.Context, caller [20]byte, id uint64, asset [20]byte, dir Direction) error {
	return e.setAssetPolicy(ctx, caller, id, asset, dir, false)
}

func (e *Engine) setAssetPolicy(ctx context.Context, caller [20]byte, id uint64, asset [20]byte, dir Direction, enabled bool) error {
	return e.execute(ctx, "set_asset_policy", func(ctx context.Context, pending *[]events.Event) error {
		if !dir.Valid() {
			return ErrInvalidDirection
		}
		if _, err := e.authorizeConfig(caller, id); err != nil {
			return err
		}
		if err := e.state.BrokerSetAssetPolicy(id, asset, dir, enabled); err != nil {
			return err
		}
		*pending = append(*pending, events.BrokerAssetPolicyUpdated{AccountID: id, Asset: asset, Direction: dir.String(), Enabled: enabled})
		return nil
	})
}

// AssetPolicy reports whether asset may move in dir through the account.
func (e *Engine) AssetPolicy(id uint64, asset [20]byte, dir Direction) (bool, error) {
	if e.state == nil {
		return false, errNilState
	}
	if !dir.Valid() {
		return false, ErrInvalidDirection
	}
	return e.view.BrokerAssetPolicy(id, asset, dir)
}

// GetAccountInfo returns a copy of the account record.
func (e *Engine) GetAccountInfo(id uint64) (*Account, error) {
	if e.state == nil {
		return nil, errNilState
	}
	account, err := loadAccountFrom(e.view, id)
	if err != nil {
		return nil, err
	}
	return account.Clone(), nil
}

// ListAccounts returns copies of every account record in identifier order.
func (e *Engine) ListAccounts() ([]*Account, error) {
	if e.state == nil {
		return nil, errNilState
	}
	ids, err := e.view.BrokerAccountIDs()
	if err != nil {
		return nil, err
	}
	accounts := make([]*Account, 0, len(ids))
	for _, id := range ids {
		account, err := loadAccountFrom(e.view, id)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

// AccountNonce returns the next nonce signer must use for intents against
// the account.
func (e *Engine) AccountNonce(signer [20]byte, accountID uint64) (uint64, error) {
	if e.state == nil {
		return 0, errNilState
	}
	return e.view.Nonce(signer, accountID)
}

// SetProtocolFeeRecipient changes where protocol fees and management fee
// dilution are paid. Admin only.
func (e *Engine) SetProtocolFeeRecipient(ctx context.Context, caller [20]byte, recipient [20]byte) error {
	return e.execute(ctx, "set_protocol_recipient", func(ctx context.Context, pending *[]events.Event) error {
		if !e.isAdmin(caller) {
			return ErrNotAuthorized
		}
		if recipient == ([20]byte{}) {
			return ErrInvalidRecipient
		}
		if err := e.state.BrokerPutProtocolFeeRecipient(recipient); err != nil {
			return err
		}
		*pending = append(*pending, events.ProtocolRecipientUpdated{Recipient: recipient})
		return nil
	})
}

// ProtocolFeeRecipient returns the effective protocol fee recipient.
func (e *Engine) ProtocolFeeRecipient() ([20]byte, error) {
	if e.state == nil {
		return [20]byte{}, errNilState
	}
	return e.protocolFeeRecipientFrom(e.view)
}
