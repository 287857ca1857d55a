package events

import (
	"math/big"
	"strconv"

	"brokerfund/core/types"
	"brokerfund/crypto"
)

const (
	TypeBrokerAccountOpened       = "brokerage.account.opened"
	TypeBrokerAccountClosed       = "brokerage.account.closed"
	TypeBrokerAccountPaused       = "brokerage.account.paused"
	TypeBrokerAccountUnpaused     = "brokerage.account.unpaused"
	TypeBrokerAccountTransferred  = "brokerage.account.transferred"
	TypeBrokerFeeRecipientUpdated = "brokerage.fee_recipient.updated"
	TypeBrokerAssetPolicyUpdated  = "brokerage.policy.updated"
	TypeBrokerDeposit             = "brokerage.deposit"
	TypeBrokerWithdraw            = "brokerage.withdraw"
	TypeManagementFeeAccrued      = "brokerage.management_fee.accrued"
	TypeManagementFeeRateUpdated  = "brokerage.management_fee.rate_updated"
	TypeProtocolRecipientUpdated  = "brokerage.protocol_recipient.updated"
)

// AccountScoped is implemented by events that belong to one broker account.
type AccountScoped interface {
	BrokerAccountID() uint64
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func participant(addr [20]byte) string {
	return crypto.FormatAddress(crypto.FundPrefix, addr)
}

func asset(addr [20]byte) string {
	return crypto.FormatAddress(crypto.AssetPrefix, addr)
}

func idString(id uint64) string {
	return strconv.FormatUint(id, 10)
}

// BrokerAccountOpened records the creation of a broker account.
type BrokerAccountOpened struct {
	AccountID           uint64
	Owner               [20]byte
	FeeRecipient        [20]byte
	ExpirationTimestamp uint64
	IsPublic            bool
	Transferable        bool
	ShareMintLimit      *big.Int
}

func (BrokerAccountOpened) EventType() string { return TypeBrokerAccountOpened }
func (e BrokerAccountOpened) BrokerAccountID() uint64 { return e.AccountID }

func (e BrokerAccountOpened) Event() *types.Event {
	return &types.Event{
		Type: TypeBrokerAccountOpened,
		Attributes: map[string]string{
			"accountId":    idString(e.AccountID),
			"owner":        participant(e.Owner),
			"feeRecipient": participant(e.FeeRecipient),
			"expiration":   strconv.FormatUint(e.ExpirationTimestamp, 10),
			"public":       strconv.FormatBool(e.IsPublic),
			"transferable": strconv.FormatBool(e.Transferable),
			"mintLimit":    amountString(e.ShareMintLimit),
		},
	}
}

// BrokerAccountLifecycle records a pause, unpause or close transition.
type BrokerAccountLifecycle struct {
	Kind      string
	AccountID uint64
	Caller    [20]byte
}

func (e BrokerAccountLifecycle) EventType() string { return e.Kind }
func (e BrokerAccountLifecycle) BrokerAccountID() uint64 { return e.AccountID }

func (e BrokerAccountLifecycle) Event() *types.Event {
	return &types.Event{
		Type: e.Kind,
		Attributes: map[string]string{
			"accountId": idString(e.AccountID),
			"caller":    participant(e.Caller),
		},
	}
}

// BrokerAccountTransferred records an ownership change.
type BrokerAccountTransferred struct {
	AccountID     uint64
	PreviousOwner [20]byte
	NewOwner      [20]byte
}

func (BrokerAccountTransferred) EventType() string { return TypeBrokerAccountTransferred }
func (e BrokerAccountTransferred) BrokerAccountID() uint64 { return e.AccountID }

func (e BrokerAccountTransferred) Event() *types.Event {
	return &types.Event{
		Type: TypeBrokerAccountTransferred,
		Attributes: map[string]string{
			"accountId":     idString(e.AccountID),
			"previousOwner": participant(e.PreviousOwner),
			"newOwner":      participant(e.NewOwner),
		},
	}
}

// BrokerFeeRecipientUpdated records a new broker fee recipient.
type BrokerFeeRecipientUpdated struct {
	AccountID    uint64
	FeeRecipient [20]byte
}

func (BrokerFeeRecipientUpdated) EventType() string { return TypeBrokerFeeRecipientUpdated }
func (e BrokerFeeRecipientUpdated) BrokerAccountID() uint64 { return e.AccountID }

func (e BrokerFeeRecipientUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeBrokerFeeRecipientUpdated,
		Attributes: map[string]string{
			"accountId":    idString(e.AccountID),
			"feeRecipient": participant(e.FeeRecipient),
		},
	}
}

// BrokerAssetPolicyUpdated records an enabled or disabled asset direction.
type BrokerAssetPolicyUpdated struct {
	AccountID uint64
	Asset     [20]byte
	Direction string
	Enabled   bool
}

func (BrokerAssetPolicyUpdated) EventType() string { return TypeBrokerAssetPolicyUpdated }
func (e BrokerAssetPolicyUpdated) BrokerAccountID() uint64 { return e.AccountID }

func (e BrokerAssetPolicyUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeBrokerAssetPolicyUpdated,
		Attributes: map[string]string{
			"accountId": idString(e.AccountID),
			"asset":     asset(e.Asset),
			"direction": e.Direction,
			"enabled":   strconv.FormatBool(e.Enabled),
		},
	}
}

// BrokerDeposit is the authoritative record of a settled deposit.
type BrokerDeposit struct {
	AccountID   uint64
	Payer       [20]byte
	Recipient   [20]byte
	Relayer     [20]byte
	Asset       [20]byte
	AmountIn    *big.Int
	Liquidity   *big.Int
	SharesOut   *big.Int
	UserShares  *big.Int
	BrokerFee   *big.Int
	ProtocolFee *big.Int
	RelayerTip  *big.Int
	Bribe       *big.Int
}

func (BrokerDeposit) EventType() string { return TypeBrokerDeposit }
func (e BrokerDeposit) BrokerAccountID() uint64 { return e.AccountID }

func (e BrokerDeposit) Event() *types.Event {
	return &types.Event{
		Type: TypeBrokerDeposit,
		Attributes: map[string]string{
			"accountId":   idString(e.AccountID),
			"payer":       participant(e.Payer),
			"recipient":   participant(e.Recipient),
			"relayer":     participant(e.Relayer),
			"asset":       asset(e.Asset),
			"amountIn":    amountString(e.AmountIn),
			"liquidity":   amountString(e.Liquidity),
			"sharesOut":   amountString(e.SharesOut),
			"userShares":  amountString(e.UserShares),
			"brokerFee":   amountString(e.BrokerFee),
			"protocolFee": amountString(e.ProtocolFee),
			"relayerTip":  amountString(e.RelayerTip),
			"bribe":       amountString(e.Bribe),
		},
	}
}

// BrokerWithdraw is the authoritative record of a settled withdrawal. Fee
// amounts are denominated in the withdrawn asset.
type BrokerWithdraw struct {
	AccountID   uint64
	Payer       [20]byte
	Receiver    [20]byte
	Relayer     [20]byte
	Asset       [20]byte
	SharesBurnt *big.Int
	Liquidity   *big.Int
	AssetOut    *big.Int
	UserAmount  *big.Int
	BrokerFee   *big.Int
	ProtocolFee *big.Int
	RelayerTip  *big.Int
	Bribe       *big.Int
}

func (BrokerWithdraw) EventType() string { return TypeBrokerWithdraw }
func (e BrokerWithdraw) BrokerAccountID() uint64 { return e.AccountID }

func (e BrokerWithdraw) Event() *types.Event {
	return &types.Event{
		Type: TypeBrokerWithdraw,
		Attributes: map[string]string{
			"accountId":   idString(e.AccountID),
			"payer":       participant(e.Payer),
			"receiver":    participant(e.Receiver),
			"relayer":     participant(e.Relayer),
			"asset":       asset(e.Asset),
			"sharesBurnt": amountString(e.SharesBurnt),
			"liquidity":   amountString(e.Liquidity),
			"assetOut":    amountString(e.AssetOut),
			"userAmount":  amountString(e.UserAmount),
			"brokerFee":   amountString(e.BrokerFee),
			"protocolFee": amountString(e.ProtocolFee),
			"relayerTip":  amountString(e.RelayerTip),
			"bribe":       amountString(e.Bribe),
		},
	}
}

// ManagementFeeAccrued records a dilution of the share supply.
type ManagementFeeAccrued struct {
	Shares    *big.Int
	Recipient [20]byte
	RateBps   uint64
	Elapsed   uint64
	Timestamp uint64
}

func (ManagementFeeAccrued) EventType() string { return TypeManagementFeeAccrued }

func (e ManagementFeeAccrued) Event() *types.Event {
	return &types.Event{
		Type: TypeManagementFeeAccrued,
		Attributes: map[string]string{
			"shares":    amountString(e.Shares),
			"recipient": participant(e.Recipient),
			"rateBps":   strconv.FormatUint(e.RateBps, 10),
			"elapsed":   strconv.FormatUint(e.Elapsed, 10),
			"timestamp": strconv.FormatUint(e.Timestamp, 10),
		},
	}
}

// ManagementFeeRateUpdated records an admin rate change.
type ManagementFeeRateUpdated struct {
	PreviousBps uint64
	RateBps     uint64
}

func (ManagementFeeRateUpdated) EventType() string { return TypeManagementFeeRateUpdated }

func (e ManagementFeeRateUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeManagementFeeRateUpdated,
		Attributes: map[string]string{
			"previousBps": strconv.FormatUint(e.PreviousBps, 10),
			"rateBps":     strconv.FormatUint(e.RateBps, 10),
		},
	}
}

// ProtocolRecipientUpdated records a new protocol fee recipient.
type ProtocolRecipientUpdated struct {
	Recipient [20]byte
}

func (ProtocolRecipientUpdated) EventType() string { return TypeProtocolRecipientUpdated }

func (e ProtocolRecipientUpdated) Event() *types.Event {
	return &types.Event{
		Type: TypeProtocolRecipientUpdated,
		Attributes: map[string]string{
			"recipient": participant(e.Recipient),
		},
	}
}
