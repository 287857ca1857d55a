package intent

import (
	"crypto/ecdsa"
	"errors"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// SignatureVerifier checks that signature authorises message for signer
// within the supplied domain.
type SignatureVerifier interface {
	Verify(signer [20]byte, domain [32]byte, message [32]byte, signature []byte) bool
}

// KeyVerifier accepts signatures produced directly by the signer's secp256k1
// key.
type KeyVerifier struct{}

// Verify implements SignatureVerifier.
func (KeyVerifier) Verify(signer [20]byte, domain [32]byte, message [32]byte, signature []byte) bool {
	recovered, ok := Recover(domain, message, signature)
	return ok && recovered == signer
}

// Recover returns the address of the key that produced signature over the
// typed digest. Both 0/1 and 27/28 recovery ids are accepted; high-S
// signatures are rejected.
func Recover(domain [32]byte, message [32]byte, signature []byte) ([20]byte, bool) {
	if len(signature) != 65 {
		return [20]byte{}, false
	}
	sig := append([]byte(nil), signature...)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if !ethcrypto.ValidateSignatureValues(sig[64], r, s, true) {
		return [20]byte{}, false
	}
	digest := TypedDigest(domain, message)
	pub, err := ethcrypto.SigToPub(digest[:], sig)
	if err != nil {
		return [20]byte{}, false
	}
	return ethcrypto.PubkeyToAddress(*pub), true
}

// DelegateStore exposes the registry of contract-style signers, accounts
// that sign through delegated keys rather than a key of their own.
type DelegateStore interface {
	IsContractSigner(signer [20]byte) (bool, error)
	IsDelegate(signer, key [20]byte) (bool, error)
}

// DelegateVerifier accepts signatures made by any key the signer has
// registered as a delegate.
type DelegateVerifier struct {
	Store DelegateStore
}

// Verify implements SignatureVerifier.
func (v DelegateVerifier) Verify(signer [20]byte, domain [32]byte, message [32]byte, signature []byte) bool {
	if v.Store == nil {
		return false
	}
	key, ok := Recover(domain, message, signature)
	if !ok {
		return false
	}
	allowed, err := v.Store.IsDelegate(signer, key)
	return err == nil && allowed
}

// MultiVerifier routes registered contract signers to the delegate variant
// and everyone else to plain key recovery.
type MultiVerifier struct {
	Keys      KeyVerifier
	Delegates DelegateVerifier
}

// NewMultiVerifier builds a verifier backed by the supplied delegate registry.
func NewMultiVerifier(store DelegateStore) MultiVerifier {
	return MultiVerifier{Delegates: DelegateVerifier{Store: store}}
}

// Verify implements SignatureVerifier.
func (v MultiVerifier) Verify(signer [20]byte, domain [32]byte, message [32]byte, signature []byte) bool {
	if v.Delegates.Store != nil {
		contract, err := v.Delegates.Store.IsContractSigner(signer)
		if err != nil {
			return false
		}
		if contract {
			return v.Delegates.Verify(signer, domain, message, signature)
		}
	}
	return v.Keys.Verify(signer, domain, message, signature)
}

// Sign produces a 65-byte [R || S || V] signature over the typed digest.
func Sign(key *ecdsa.PrivateKey, domain [32]byte, message [32]byte) ([]byte, error) {
	if key == nil {
		return nil, errors.New("intent: nil signing key")
	}
	digest := TypedDigest(domain, message)
	return ethcrypto.Sign(digest[:], key)
}
