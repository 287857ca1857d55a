package brokerage

import (
	"math/big"

	"brokerfund/native/intent"
)

const (
	depositIntentType = "DepositIntent(uint256 accountId,address recipient,address asset,uint256 amount," +
		"uint256 minSharesOut,uint256 deadline,uint256 chainId,uint256 nonce,uint256 relayerTip,uint256 bribe)"
	withdrawIntentType = "WithdrawIntent(uint256 accountId,address receiver,address asset,uint256 shares," +
		"uint256 minAmountOut,uint256 deadline,uint256 chainId,uint256 nonce,uint256 relayerTip,uint256 bribe)"
)

var (
	depositIntentTypeHash  = intent.TypeHash(depositIntentType)
	withdrawIntentTypeHash = intent.TypeHash(withdrawIntentType)
)

// DepositIntent is the payload a depositor signs so a relayer can settle the
// deposit on their behalf. RelayerTip and Bribe are paid in the deposit asset.
type DepositIntent struct {
	Order      DepositOrder
	ChainID    uint64
	Nonce      uint64
	RelayerTip *big.Int
	Bribe      *big.Int
}

// StructHash returns the EIP-712 struct hash of the intent.
func (i DepositIntent) StructHash() [32]byte {
	h := intent.NewStructHasher(depositIntentTypeHash)
	h.Uint64(i.Order.AccountID)
	h.Address(i.Order.Recipient)
	h.Address(i.Order.Asset)
	h.BigInt(i.Order.Amount)
	h.BigInt(i.Order.MinSharesOut)
	h.Uint64(i.Order.Deadline)
	h.Uint64(i.ChainID)
	h.Uint64(i.Nonce)
	h.BigInt(i.RelayerTip)
	h.BigInt(i.Bribe)
	return h.Sum()
}

// WithdrawIntent is the payload a shareholder signs so a relayer can settle
// the withdrawal on their behalf. RelayerTip and Bribe are paid in the
// withdrawn asset out of the net proceeds.
type WithdrawIntent struct {
	Order      WithdrawOrder
	ChainID    uint64
	Nonce      uint64
	RelayerTip *big.Int
	Bribe      *big.Int
}

// StructHash returns the EIP-712 struct hash of the intent.
func (i WithdrawIntent) StructHash() [32]byte {
	h := intent.NewStructHasher(withdrawIntentTypeHash)
	h.Uint64(i.Order.AccountID)
	h.Address(i.Order.Receiver)
	h.Address(i.Order.Asset)
	h.BigInt(i.Order.Shares)
	h.BigInt(i.Order.MinAmountOut)
	h.Uint64(i.Order.Deadline)
	h.Uint64(i.ChainID)
	h.Uint64(i.Nonce)
	h.BigInt(i.RelayerTip)
	h.BigInt(i.Bribe)
	return h.Sum()
}

// SignedDepositIntent wraps a deposit intent with its signer and signature.
type SignedDepositIntent struct {
	Intent    DepositIntent
	Signer    [20]byte
	Signature []byte
}

// SignedWithdrawIntent wraps a withdraw intent with its signer and signature.
type SignedWithdrawIntent struct {
	Intent    WithdrawIntent
	Signer    [20]byte
	Signature []byte
}
