package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix is the human-readable part of a bech32 address.
type AddressPrefix string

const (
	// FundPrefix tags participant addresses: owners, recipients, relayers.
	FundPrefix AddressPrefix = "fund"
	// AssetPrefix tags token addresses: deposit assets and the share token.
	AssetPrefix AddressPrefix = "asset"
)

var errEmptyAddress = errors.New("crypto: empty address")

// Address is a 20-byte account identifier rendered under a prefix.
type Address struct {
	prefix AddressPrefix
	raw    [20]byte
}

func (a Address) String() string {
	conv, err := bech32.ConvertBits(a.raw[:], 8, 5, true)
	if err != nil {
		return ""
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		return ""
	}
	return encoded
}

// Raw returns the address bytes.
func (a Address) Raw() [20]byte {
	return a.raw
}

func decodeBech32(s string) ([20]byte, error) {
	_, data, err := bech32.Decode(s)
	if err != nil {
		return [20]byte{}, fmt.Errorf("crypto: invalid bech32 address: %w", err)
	}
	conv, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return [20]byte{}, fmt.Errorf("crypto: convert address bits: %w", err)
	}
	if len(conv) != 20 {
		return [20]byte{}, fmt.Errorf("crypto: address must be 20 bytes, got %d", len(conv))
	}
	return [20]byte(conv), nil
}

func decodeHex(s string) ([20]byte, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return [20]byte{}, fmt.Errorf("crypto: invalid hex address: %w", err)
	}
	if len(raw) != 20 {
		return [20]byte{}, fmt.Errorf("crypto: address must be 20 bytes, got %d", len(raw))
	}
	return [20]byte(raw), nil
}

// ParseAddress accepts a bech32 address under any prefix or a 0x-prefixed
// hex string.
func ParseAddress(s string) ([20]byte, error) {
	trimmed := strings.TrimSpace(s)
	switch {
	case trimmed == "":
		return [20]byte{}, errEmptyAddress
	case strings.HasPrefix(trimmed, "0x"), strings.HasPrefix(trimmed, "0X"):
		return decodeHex(trimmed[2:])
	default:
		return decodeBech32(trimmed)
	}
}

// FormatAddress renders raw under prefix. The zero address renders empty.
func FormatAddress(prefix AddressPrefix, raw [20]byte) string {
	if raw == ([20]byte{}) {
		return ""
	}
	return Address{prefix: prefix, raw: raw}.String()
}

// PrivateKey is a secp256k1 signing key.
type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the 32-byte scalar of the key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

// Address derives the participant address of the key.
func (k *PublicKey) Address() Address {
	return Address{prefix: FundPrefix, raw: [20]byte(crypto.PubkeyToAddress(*k.PublicKey))}
}
