package intent

import "errors"

var (
	// ErrChainIDMismatch indicates the intent was signed for another chain.
	ErrChainIDMismatch = errors.New("intent: chain id mismatch")
	// ErrNonceMismatch indicates the claimed nonce differs from the nonce that
	// was consumed for this call, i.e. a replay or an out-of-order intent.
	ErrNonceMismatch = errors.New("intent: nonce mismatch")
	// ErrInvalidSignature indicates the signature does not authorise the
	// intent for the claimed signer.
	ErrInvalidSignature = errors.New("intent: invalid signature")
)

// NonceStore tracks the next expected nonce per (signer, key).
type NonceStore interface {
	// ConsumeNonce increments the counter and returns the value it held
	// before the increment.
	ConsumeNonce(signer [20]byte, key uint64) (uint64, error)
	Nonce(signer [20]byte, key uint64) (uint64, error)
}

// Validator checks signed intents against the execution chain.
type Validator struct {
	chainID  uint64
	domain   Domain
	verifier SignatureVerifier
}

// NewValidator returns a validator for the supplied domain. A nil verifier
// falls back to plain key recovery.
func NewValidator(domain Domain, verifier SignatureVerifier) *Validator {
	if verifier == nil {
		verifier = KeyVerifier{}
	}
	return &Validator{chainID: domain.ChainID, domain: domain, verifier: verifier}
}

// Domain returns the signing domain.
func (v *Validator) Domain() Domain { return v.domain }

// ValidateIntent runs the chain, nonce and signature checks in that order.
// consumedNonce must be the value returned by NonceStore.ConsumeNonce for
// this call, so two intents racing on the same nonce cannot both pass.
func (v *Validator) ValidateIntent(signer [20]byte, message [32]byte, signature []byte, chainID, consumedNonce, claimedNonce uint64) error {
	if chainID != v.chainID {
		return ErrChainIDMismatch
	}
	if claimedNonce != consumedNonce {
		return ErrNonceMismatch
	}
	if !v.verifier.Verify(signer, v.domain.Separator(), message, signature) {
		return ErrInvalidSignature
	}
	return nil
}
