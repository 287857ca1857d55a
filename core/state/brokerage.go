package state

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"brokerfund/native/brokerage"
)

var (
	brokerAccountPrefix = []byte("brokerage/account/")
	brokerNextIDKey     = []byte("brokerage/next-id")
	brokerPolicyPrefix  = []byte("brokerage/policy/")
	brokerMgmtFeeKey    = []byte("brokerage/mgmt-fee")
)

func brokerAccountKey(id uint64) []byte {
	// Zero padded so lexical order matches numeric order when listing.
	return []byte(fmt.Sprintf("%s%020d", brokerAccountPrefix, id))
}

func brokerPolicyKey(id uint64, asset [20]byte, dir brokerage.Direction) []byte {
	return []byte(fmt.Sprintf("%s%020d/%s/%d", brokerPolicyPrefix, id, hex.EncodeToString(asset[:]), dir))
}

// CommittedView implements brokerage.CommittedReader.
func (m *Manager) CommittedView() brokerage.StateReader { return m.Committed() }

// BrokerNextAccountID allocates the next broker account identifier. The
// first identifier handed out is 1.
func (m *Manager) BrokerNextAccountID() (uint64, error) {
	var last uint64
	if _, err := m.KVGet(brokerNextIDKey, &last); err != nil {
		return 0, err
	}
	next := last + 1
	if err := m.KVPut(brokerNextIDKey, next); err != nil {
		return 0, err
	}
	return next, nil
}

// BrokerGetAccount loads the account record for id.
func (m *Manager) BrokerGetAccount(id uint64) (*brokerage.Account, bool, error) {
	account := new(brokerage.Account)
	ok, err := m.KVGet(brokerAccountKey(id), account)
	if err != nil || !ok {
		return nil, false, err
	}
	return account, true, nil
}

// BrokerPutAccount persists the account record.
func (m *Manager) BrokerPutAccount(account *brokerage.Account) error {
	if account == nil {
		return fmt.Errorf("brokerage: nil account")
	}
	return m.KVPut(brokerAccountKey(account.ID), account)
}

// BrokerAccountIDs lists every stored account identifier in ascending order.
func (m *Manager) BrokerAccountIDs() ([]uint64, error) {
	keys, err := m.KVKeys(brokerAccountPrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(keys))
	for _, key := range keys {
		raw := strings.TrimPrefix(string(key), string(brokerAccountPrefix))
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("brokerage: malformed account key %q", key)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// BrokerAssetPolicy reports whether asset may move in dir for the account.
func (m *Manager) BrokerAssetPolicy(id uint64, asset [20]byte, dir brokerage.Direction) (bool, error) {
	var enabled bool
	if _, err := m.KVGet(brokerPolicyKey(id, asset, dir), &enabled); err != nil {
		return false, err
	}
	return enabled, nil
}

// BrokerSetAssetPolicy stores the policy bit. Disabling removes the record.
func (m *Manager) BrokerSetAssetPolicy(id uint64, asset [20]byte, dir brokerage.Direction, enabled bool) error {
	key := brokerPolicyKey(id, asset, dir)
	if !enabled {
		return m.KVDelete(key)
	}
	return m.KVPut(key, true)
}

// BrokerManagementFee returns the global management fee state.
func (m *Manager) BrokerManagementFee() (*brokerage.ManagementFeeState, error) {
	fee := new(brokerage.ManagementFeeState)
	if _, err := m.KVGet(brokerMgmtFeeKey, fee); err != nil {
		return nil, err
	}
	return fee, nil
}

// BrokerPutManagementFee persists the global management fee state.
func (m *Manager) BrokerPutManagementFee(fee *brokerage.ManagementFeeState) error {
	if fee == nil {
		return fmt.Errorf("brokerage: nil management fee state")
	}
	return m.KVPut(brokerMgmtFeeKey, fee)
}

var brokerProtocolRecipientKey = []byte("brokerage/protocol-recipient")

// BrokerProtocolFeeRecipient returns the persisted protocol fee recipient.
func (m *Manager) BrokerProtocolFeeRecipient() ([20]byte, bool, error) {
	var raw []byte
	ok, err := m.KVGet(brokerProtocolRecipientKey, &raw)
	if err != nil || !ok {
		return [20]byte{}, false, err
	}
	if len(raw) != 20 {
		return [20]byte{}, false, fmt.Errorf("brokerage: malformed protocol recipient")
	}
	var addr [20]byte
	copy(addr[:], raw)
	return addr, true, nil
}

// BrokerPutProtocolFeeRecipient persists the protocol fee recipient.
func (m *Manager) BrokerPutProtocolFeeRecipient(addr [20]byte) error {
	return m.KVPut(brokerProtocolRecipientKey, addr[:])
}
