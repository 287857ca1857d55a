package intent

import (
	"crypto/ecdsa"
	"errors"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

type mockDelegates struct {
	contracts map[[20]byte]bool
	delegates map[[20]byte]map[[20]byte]bool
	err       error
}

func (m *mockDelegates) IsContractSigner(signer [20]byte) (bool, error) {
	return m.contracts[signer], m.err
}

func (m *mockDelegates) IsDelegate(signer, key [20]byte) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	return m.delegates[signer][key], nil
}

func testDomain() Domain {
	return Domain{Name: "BrokerSettlement", Version: "1", ChainID: 7, VerifyingContract: [20]byte{0xEE}}
}

func testMessage(amount uint64) [32]byte {
	h := NewStructHasher(TypeHash("Test(uint256 amount)"))
	h.Uint64(amount)
	return h.Sum()
}

func TestValidateIntentAcceptsKeySignature(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	signer := ethcrypto.PubkeyToAddress(key.PublicKey)
	domain := testDomain()
	msg := testMessage(42)
	sig, err := Sign(key, domain.Separator(), msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	v := NewValidator(domain, nil)
	if err := v.ValidateIntent(signer, msg, sig, 7, 3, 3); err != nil {
		t.Fatalf("expected valid intent, got %v", err)
	}

	legacy := append([]byte(nil), sig...)
	legacy[64] += 27
	if err := v.ValidateIntent(signer, msg, legacy, 7, 3, 3); err != nil {
		t.Fatalf("expected 27/28 recovery id to be accepted, got %v", err)
	}
}

func TestValidateIntentCheckOrder(t *testing.T) {
	key, _ := ethcrypto.GenerateKey()
	signer := ethcrypto.PubkeyToAddress(key.PublicKey)
	domain := testDomain()
	msg := testMessage(1)
	sig, _ := Sign(key, domain.Separator(), msg)
	v := NewValidator(domain, KeyVerifier{})

	cases := []struct {
		name     string
		chainID  uint64
		consumed uint64
		claimed  uint64
		sig      []byte
		want     error
	}{
		{"wrong chain beats everything", 8, 0, 5, nil, ErrChainIDMismatch},
		{"nonce mismatch before signature", 7, 1, 0, nil, ErrNonceMismatch},
		{"malformed signature", 7, 0, 0, []byte{1, 2, 3}, ErrInvalidSignature},
		{"signature over other message", 7, 0, 0, mustSign(t, key, domain, testMessage(2)), ErrInvalidSignature},
		{"valid", 7, 0, 0, sig, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.ValidateIntent(signer, msg, tc.sig, tc.chainID, tc.consumed, tc.claimed)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestDomainSeparatorBindsChainAndContract(t *testing.T) {
	base := testDomain()
	otherChain := base
	otherChain.ChainID = 8
	otherContract := base
	otherContract.VerifyingContract = [20]byte{0x01}
	if base.Separator() == otherChain.Separator() || base.Separator() == otherContract.Separator() {
		t.Fatalf("domain separator must change with chain id and contract")
	}
}

func TestMultiVerifierDelegates(t *testing.T) {
	delegateKey, _ := ethcrypto.GenerateKey()
	delegate := [20]byte(ethcrypto.PubkeyToAddress(delegateKey.PublicKey))
	contract := [20]byte{0xC0}
	store := &mockDelegates{
		contracts: map[[20]byte]bool{contract: true},
		delegates: map[[20]byte]map[[20]byte]bool{contract: {delegate: true}},
	}
	domain := testDomain()
	msg := testMessage(9)
	sig := mustSign(t, delegateKey, domain, msg)
	v := NewMultiVerifier(store)

	if !v.Verify(contract, domain.Separator(), msg, sig) {
		t.Fatalf("expected delegate signature to verify for contract signer")
	}
	if !v.Verify(delegate, domain.Separator(), msg, sig) {
		t.Fatalf("expected plain key signature to verify for the key itself")
	}
	stranger := [20]byte{0xC1}
	store.contracts[stranger] = true
	if v.Verify(stranger, domain.Separator(), msg, sig) {
		t.Fatalf("unregistered delegate must not verify")
	}
	store.err = errors.New("boom")
	if v.Verify(contract, domain.Separator(), msg, sig) {
		t.Fatalf("store failures must fail closed")
	}
}

func mustSign(t *testing.T, key *ecdsa.PrivateKey, domain Domain, msg [32]byte) []byte {
	t.Helper()
	sig, err := Sign(key, domain.Separator(), msg)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return sig
}
