package state

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

var (
	tokenBalancePrefix   = []byte("token/balance/")
	tokenAllowancePrefix = []byte("token/allowance/")
)

func tokenBalanceKey(token, holder [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%s/%s", tokenBalancePrefix, hex.EncodeToString(token[:]), hex.EncodeToString(holder[:])))
}

func tokenAllowanceKey(owner, spender, token [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%s/%s/%s", tokenAllowancePrefix,
		hex.EncodeToString(owner[:]), hex.EncodeToString(spender[:]), hex.EncodeToString(token[:])))
}

func checkAmount(amount *big.Int) (*big.Int, error) {
	if amount == nil {
		return big.NewInt(0), nil
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("negative balance not allowed")
	}
	if _, overflow := uint256.FromBig(amount); overflow {
		return nil, fmt.Errorf("balance exceeds 256 bits")
	}
	return amount, nil
}

// TokenBalance returns the balance of holder in token.
func (m *Manager) TokenBalance(token, holder [20]byte) (*big.Int, error) {
	balance := new(big.Int)
	if _, err := m.KVGet(tokenBalanceKey(token, holder), balance); err != nil {
		return nil, err
	}
	return balance, nil
}

// SetTokenBalance overwrites the balance of holder in token.
func (m *Manager) SetTokenBalance(token, holder [20]byte, amount *big.Int) error {
	amount, err := checkAmount(amount)
	if err != nil {
		return err
	}
	key := tokenBalanceKey(token, holder)
	if amount.Sign() == 0 {
		return m.KVDelete(key)
	}
	return m.KVPut(key, amount)
}

// TokenAllowance returns how much of token spender may pull from owner.
func (m *Manager) TokenAllowance(owner, spender, token [20]byte) (*big.Int, error) {
	allowance := new(big.Int)
	if _, err := m.KVGet(tokenAllowanceKey(owner, spender, token), allowance); err != nil {
		return nil, err
	}
	return allowance, nil
}

// SetTokenAllowance overwrites the allowance of spender over owner's token.
func (m *Manager) SetTokenAllowance(owner, spender, token [20]byte, amount *big.Int) error {
	amount, err := checkAmount(amount)
	if err != nil {
		return err
	}
	key := tokenAllowanceKey(owner, spender, token)
	if amount.Sign() == 0 {
		return m.KVDelete(key)
	}
	return m.KVPut(key, amount)
}
