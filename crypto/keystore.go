package crypto

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// Scrypt cost parameters for new keystore files.
var (
	keystoreScryptN = keystore.StandardScryptN
	keystoreScryptP = keystore.StandardScryptP
)

var (
	errNilKey      = errors.New("crypto: nil private key")
	errEmptyPath   = errors.New("crypto: empty keystore path")
	errKeyMismatch = errors.New("crypto: keystore address does not match key")
)

// SaveToKeystore encrypts key into an Ethereum v3 keystore file at path.
// The file is written beside its destination and renamed into place, so a
// reader never observes a partial keystore.
func SaveToKeystore(path string, key *PrivateKey, passphrase string) error {
	if key == nil || key.PrivateKey == nil {
		return errNilKey
	}
	if path == "" {
		return errEmptyPath
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return err
	}
	blob, err := keystore.EncryptKey(&keystore.Key{
		Id:         id,
		Address:    crypto.PubkeyToAddress(key.PublicKey),
		PrivateKey: key.PrivateKey,
	}, passphrase, keystoreScryptN, keystoreScryptP)
	if err != nil {
		return fmt.Errorf("crypto: encrypt key: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".keystore-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// LoadFromKeystore decrypts the keystore at path and checks that the
// plaintext address header matches the decrypted key.
func LoadFromKeystore(path, passphrase string) (*PrivateKey, error) {
	if path == "" {
		return nil, errEmptyPath
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	decrypted, err := keystore.DecryptKey(blob, passphrase)
	if err != nil {
		return nil, err
	}
	declared, err := keystoreHeader(blob)
	if err != nil {
		return nil, err
	}
	if declared != [20]byte(decrypted.Address) {
		return nil, errKeyMismatch
	}
	return &PrivateKey{PrivateKey: decrypted.PrivateKey}, nil
}

// KeystoreAddress reads the plaintext address of a keystore file without
// decrypting it.
func KeystoreAddress(path string) ([20]byte, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return [20]byte{}, err
	}
	return keystoreHeader(blob)
}

func keystoreHeader(blob []byte) ([20]byte, error) {
	var header struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(blob, &header); err != nil {
		return [20]byte{}, fmt.Errorf("crypto: decode keystore: %w", err)
	}
	decoded, err := hex.DecodeString(header.Address)
	if err != nil || len(decoded) != 20 {
		return [20]byte{}, fmt.Errorf("crypto: keystore address %q invalid", header.Address)
	}
	return [20]byte(decoded), nil
}
