package brokerage

import (
	"math/big"

	"github.com/holiman/uint256"
)

// AccountState captures the lifecycle stage of a broker account.
type AccountState uint8

const (
	// AccountStateUnknown is the zero value and never persisted.
	AccountStateUnknown AccountState = iota
	// AccountStateActive accepts deposits and withdrawals.
	AccountStateActive
	// AccountStatePaused blocks settlement until the owner unpauses.
	AccountStatePaused
	// AccountStateClosed is terminal. The owner binding has been cleared.
	AccountStateClosed
)

func (s AccountState) String() string {
	switch s {
	case AccountStateActive:
		return "active"
	case AccountStatePaused:
		return "paused"
	case AccountStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Direction distinguishes the two settlement flows an asset policy can allow.
type Direction uint8

const (
	DirectionDeposit Direction = iota + 1
	DirectionWithdraw
)

func (d Direction) String() string {
	switch d {
	case DirectionDeposit:
		return "deposit"
	case DirectionWithdraw:
		return "withdraw"
	default:
		return "unknown"
	}
}

// Valid reports whether the direction is one of the known values.
func (d Direction) Valid() bool {
	return d == DirectionDeposit || d == DirectionWithdraw
}

var maxAmount = new(uint256.Int).SetAllOne().ToBig()

// MaxAmount returns 2^256-1. Orders carrying this value settle the payer's
// entire balance; as a mint limit it means unlimited.
func MaxAmount() *big.Int {
	return new(big.Int).Set(maxAmount)
}

// IsMaxAmount reports whether v equals the MAX sentinel.
func IsMaxAmount(v *big.Int) bool {
	return v != nil && v.Cmp(maxAmount) == 0
}

// FeeSchedule lists the per-account fee rates in basis points.
type FeeSchedule struct {
	BrokerEntranceFeeBps      uint64
	ProtocolEntranceFeeBps    uint64
	BrokerExitFeeBps          uint64
	ProtocolExitFeeBps        uint64
	BrokerPerformanceFeeBps   uint64
	ProtocolPerformanceFeeBps uint64
}

// Account is the persisted record of a broker account.
type Account struct {
	ID    uint64
	Owner [20]byte
	State AccountState
	// ExpirationTimestamp is a UNIX timestamp in seconds, zero meaning the
	// account never expires.
	ExpirationTimestamp uint64
	IsPublic            bool
	Transferable        bool
	FeeRecipient        [20]byte
	ShareMintLimit      *big.Int

	TotalSharesOutstanding   *big.Int
	CumulativeSharesMinted   *big.Int
	CumulativeUnitsDeposited *big.Int

	Fees FeeSchedule
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := *a
	clone.ShareMintLimit = copyInt(a.ShareMintLimit)
	clone.TotalSharesOutstanding = copyInt(a.TotalSharesOutstanding)
	clone.CumulativeSharesMinted = copyInt(a.CumulativeSharesMinted)
	clone.CumulativeUnitsDeposited = copyInt(a.CumulativeUnitsDeposited)
	return &clone
}

// Limited reports whether the account enforces a finite share mint limit.
func (a *Account) Limited() bool {
	return a.ShareMintLimit != nil && !IsMaxAmount(a.ShareMintLimit)
}

// Expired reports whether the account has passed its expiration timestamp.
func (a *Account) Expired(now uint64) bool {
	return a.ExpirationTimestamp != 0 && now >= a.ExpirationTimestamp
}

func (a *Account) normalize() {
	if a.ShareMintLimit == nil {
		a.ShareMintLimit = MaxAmount()
	}
	if a.TotalSharesOutstanding == nil {
		a.TotalSharesOutstanding = big.NewInt(0)
	}
	if a.CumulativeSharesMinted == nil {
		a.CumulativeSharesMinted = big.NewInt(0)
	}
	if a.CumulativeUnitsDeposited == nil {
		a.CumulativeUnitsDeposited = big.NewInt(0)
	}
}

// OpenAccountParams carries the inputs of OpenAccount.
type OpenAccountParams struct {
	Owner          [20]byte
	TTL            uint64
	IsPublic       bool
	Transferable   bool
	FeeRecipient   [20]byte
	ShareMintLimit *big.Int
	Fees           FeeSchedule
}

// ManagementFeeState is the persisted global management fee configuration.
type ManagementFeeState struct {
	RateBps     uint64
	LastAccrual uint64
}

// VaultSnapshot reports the Deposit Module's internal vault totals.
type VaultSnapshot struct {
	TotalSupply *big.Int
	TotalAssets *big.Int
}

// DepositOrder asks the engine to convert Amount of Asset into fund shares
// delivered to Recipient.
type DepositOrder struct {
	AccountID    uint64
	Recipient    [20]byte
	Asset        [20]byte
	Amount       *big.Int
	MinSharesOut *big.Int
	Deadline     uint64
}

// WithdrawOrder asks the engine to redeem Shares for Asset delivered to
// Receiver.
type WithdrawOrder struct {
	AccountID    uint64
	Receiver     [20]byte
	Asset        [20]byte
	Shares       *big.Int
	MinAmountOut *big.Int
	Deadline     uint64
}

// DepositResult summarises a completed deposit.
type DepositResult struct {
	AccountID   uint64
	Payer       [20]byte
	AmountIn    *big.Int
	SharesOut   *big.Int
	Liquidity   *big.Int
	UserShares  *big.Int
	BrokerFee   *big.Int
	ProtocolFee *big.Int
	RelayerTip  *big.Int
	Bribe       *big.Int
}

// WithdrawResult summarises a completed withdrawal. Fee amounts are
// denominated in the withdrawn asset.
type WithdrawResult struct {
	AccountID   uint64
	Payer       [20]byte
	SharesBurnt *big.Int
	AssetOut    *big.Int
	Liquidity   *big.Int
	UserAmount  *big.Int
	BrokerFee   *big.Int
	ProtocolFee *big.Int
	RelayerTip  *big.Int
	Bribe       *big.Int
}

func copyInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func zeroIfNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

func fitsUint256(v *big.Int) bool {
	if v == nil {
		return true
	}
	if v.Sign() < 0 {
		return false
	}
	_, overflow := uint256.FromBig(v)
	return !overflow
}
