package state

import (
	"encoding/hex"
	"fmt"
)

var noncePrefix = []byte("nonce/")

func nonceKey(signer [20]byte, key uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%d", noncePrefix, hex.EncodeToString(signer[:]), key))
}

// Nonce returns the next expected nonce for the (signer, key) pair.
func (m *Manager) Nonce(signer [20]byte, key uint64) (uint64, error) {
	var next uint64
	if _, err := m.KVGet(nonceKey(signer, key), &next); err != nil {
		return 0, err
	}
	return next, nil
}

// ConsumeNonce increments the counter for (signer, key) and returns the
// value it held before the increment.
func (m *Manager) ConsumeNonce(signer [20]byte, key uint64) (uint64, error) {
	m.nonceMu.Lock()
	defer m.nonceMu.Unlock()
	current, err := m.Nonce(signer, key)
	if err != nil {
		return 0, err
	}
	if current == ^uint64(0) {
		return 0, fmt.Errorf("nonce: counter exhausted")
	}
	if err := m.KVPut(nonceKey(signer, key), current+1); err != nil {
		return 0, err
	}
	return current, nil
}
