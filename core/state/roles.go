package state

import (
	"encoding/hex"
	"fmt"
	"strings"

	"brokerfund/native/brokerage"
)

const (
	RoleAdmin   = brokerage.RoleAdmin
	RoleManager = brokerage.RoleManager
)

var (
	rolePrefix     = []byte("role/")
	delegatePrefix = []byte("intent/delegate/")
	contractPrefix = []byte("intent/contract/")
)

func roleKey(role string, addr [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%s/%s", rolePrefix, strings.ToLower(strings.TrimSpace(role)), hex.EncodeToString(addr[:])))
}

// SetRole grants or revokes role for addr.
func (m *Manager) SetRole(role string, addr [20]byte, granted bool) error {
	if strings.TrimSpace(role) == "" {
		return fmt.Errorf("role must not be empty")
	}
	if addr == ([20]byte{}) {
		return fmt.Errorf("address must not be empty")
	}
	if !granted {
		return m.KVDelete(roleKey(role, addr))
	}
	return m.KVPut(roleKey(role, addr), true)
}

// HasRole reports whether addr holds role. Read errors are treated as a
// missing role.
func (m *Manager) HasRole(role string, addr [20]byte) bool {
	var granted bool
	ok, err := m.KVGet(roleKey(role, addr), &granted)
	return err == nil && ok && granted
}

// RoleMembers lists every address holding role.
func (m *Manager) RoleMembers(role string) ([][20]byte, error) {
	prefix := fmt.Sprintf("%s%s/", rolePrefix, strings.ToLower(strings.TrimSpace(role)))
	keys, err := m.KVKeys([]byte(prefix))
	if err != nil {
		return nil, err
	}
	members := make([][20]byte, 0, len(keys))
	for _, key := range keys {
		raw, err := hex.DecodeString(strings.TrimPrefix(string(key), prefix))
		if err != nil || len(raw) != 20 {
			return nil, fmt.Errorf("role: malformed key %q", key)
		}
		var addr [20]byte
		copy(addr[:], raw)
		members = append(members, addr)
	}
	return members, nil
}

func delegateKey(signer, key [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%s/%s", delegatePrefix, hex.EncodeToString(signer[:]), hex.EncodeToString(key[:])))
}

func contractKey(signer [20]byte) []byte {
	return []byte(fmt.Sprintf("%s%s", contractPrefix, hex.EncodeToString(signer[:])))
}

// RegisterContractSigner marks signer as an account that signs through
// delegate keys and authorises the supplied keys.
func (m *Manager) RegisterContractSigner(signer [20]byte, keys ...[20]byte) error {
	if signer == ([20]byte{}) {
		return fmt.Errorf("signer must not be empty")
	}
	if err := m.KVPut(contractKey(signer), true); err != nil {
		return err
	}
	for _, key := range keys {
		if err := m.SetDelegate(signer, key, true); err != nil {
			return err
		}
	}
	return nil
}

// SetDelegate authorises or revokes key for signer.
func (m *Manager) SetDelegate(signer, key [20]byte, allowed bool) error {
	if !allowed {
		return m.KVDelete(delegateKey(signer, key))
	}
	return m.KVPut(delegateKey(signer, key), true)
}

// IsContractSigner implements intent.DelegateStore.
func (m *Manager) IsContractSigner(signer [20]byte) (bool, error) {
	var flag bool
	ok, err := m.KVGet(contractKey(signer), &flag)
	return ok && flag, err
}

// IsDelegate implements intent.DelegateStore.
func (m *Manager) IsDelegate(signer, key [20]byte) (bool, error) {
	var flag bool
	ok, err := m.KVGet(delegateKey(signer, key), &flag)
	return ok && flag, err
}
