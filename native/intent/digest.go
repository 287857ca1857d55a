package intent

import (
	"math/big"

	ethcommon "github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const domainTypeSignature = "EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"

var domainTypeHash = ethcrypto.Keccak256Hash([]byte(domainTypeSignature))

// Domain scopes signatures to one deployment of the settlement engine.
type Domain struct {
	Name              string
	Version           string
	ChainID           uint64
	VerifyingContract [20]byte
}

// Separator returns the EIP-712 domain separator.
func (d Domain) Separator() [32]byte {
	h := NewStructHasher(domainTypeHash)
	h.String(d.Name)
	h.String(d.Version)
	h.Uint64(d.ChainID)
	h.Address(d.VerifyingContract)
	return h.Sum()
}

// TypedDigest combines a domain separator and a struct hash into the digest
// that signers sign.
func TypedDigest(domain, message [32]byte) [32]byte {
	buf := make([]byte, 0, 66)
	buf = append(buf, 0x19, 0x01)
	buf = append(buf, domain[:]...)
	buf = append(buf, message[:]...)
	return ethcrypto.Keccak256Hash(buf)
}

// TypeHash hashes a struct type signature such as
// "Order(uint256 amount,address to)".
func TypeHash(signature string) [32]byte {
	return ethcrypto.Keccak256Hash([]byte(signature))
}

// StructHasher accumulates 32-byte words of an EIP-712 struct encoding.
type StructHasher struct {
	buf []byte
}

// NewStructHasher starts an encoding with the supplied type hash.
func NewStructHasher(typeHash [32]byte) *StructHasher {
	h := &StructHasher{buf: make([]byte, 0, 32*8)}
	h.buf = append(h.buf, typeHash[:]...)
	return h
}

// Uint64 appends an unsigned integer word.
func (h *StructHasher) Uint64(v uint64) {
	h.BigInt(new(big.Int).SetUint64(v))
}

// BigInt appends a uint256 word. Nil encodes as zero.
func (h *StructHasher) BigInt(v *big.Int) {
	if v == nil {
		v = new(big.Int)
	}
	h.buf = append(h.buf, ethcommon.LeftPadBytes(v.Bytes(), 32)...)
}

// Address appends a left padded address word.
func (h *StructHasher) Address(addr [20]byte) {
	h.buf = append(h.buf, ethcommon.LeftPadBytes(addr[:], 32)...)
}

// String appends the keccak hash of a dynamic string.
func (h *StructHasher) String(s string) {
	h.buf = append(h.buf, ethcrypto.Keccak256([]byte(s))...)
}

// Sum returns the struct hash.
func (h *StructHasher) Sum() [32]byte {
	return ethcrypto.Keccak256Hash(h.buf)
}
