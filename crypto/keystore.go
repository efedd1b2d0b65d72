package crypto

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/google/uuid"
)

// ScryptParams selects the key derivation cost of a keystore file.
type ScryptParams struct {
	N int
	P int
}

var (
	StandardScrypt = ScryptParams{N: keystore.StandardScryptN, P: keystore.StandardScryptP}
	// LightScrypt decrypts in milliseconds; use it for throwaway keys only.
	LightScrypt = ScryptParams{N: keystore.LightScryptN, P: keystore.LightScryptP}
)

var (
	ErrKeystorePath     = errors.New("crypto: empty keystore path")
	ErrKeystoreMismatch = errors.New("crypto: keystore address does not match key")
)

func (p ScryptParams) validate() error {
	// scrypt requires N to be a power of two greater than one
	if p.N <= 1 || p.N&(p.N-1) != 0 {
		return fmt.Errorf("crypto: scrypt N %d is not a power of two", p.N)
	}
	if p.P <= 0 {
		return fmt.Errorf("crypto: scrypt P must be positive")
	}
	return nil
}

// SaveToKeystore writes key to a v3 keystore file using the standard scrypt
// cost.
func SaveToKeystore(path string, key *PrivateKey, passphrase string) error {
	return SaveToKeystoreWithParams(path, key, passphrase, StandardScrypt)
}

// SaveToKeystoreWithParams encrypts key under passphrase and writes it to
// path with 0600 permissions, creating the parent directory as 0700. An
// existing file is only replaced once the new one is fully written.
func SaveToKeystoreWithParams(path string, key *PrivateKey, passphrase string, params ScryptParams) error {
	if key == nil || key.PrivateKey == nil {
		return errors.New("crypto: nil private key")
	}
	if strings.TrimSpace(path) == "" {
		return ErrKeystorePath
	}
	if err := params.validate(); err != nil {
		return err
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return fmt.Errorf("crypto: keystore id: %w", err)
	}
	blob, err := keystore.EncryptKey(&keystore.Key{
		Id:         id,
		Address:    key.PubKey().Address().Array(),
		PrivateKey: key.PrivateKey,
	}, passphrase, params.N, params.P)
	if err != nil {
		return fmt.Errorf("crypto: encrypt keystore: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".keystore-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// KeystoreAddress reads the address recorded in a keystore file without
// decrypting it.
func KeystoreAddress(path string) (Address, error) {
	if strings.TrimSpace(path) == "" {
		return Address{}, ErrKeystorePath
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Address{}, err
	}
	var header struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return Address{}, fmt.Errorf("crypto: parse keystore: %w", err)
	}
	decoded, err := hex.DecodeString(strings.TrimPrefix(header.Address, "0x"))
	if err != nil || len(decoded) != 20 {
		return Address{}, fmt.Errorf("crypto: keystore has no valid address")
	}
	var addr [20]byte
	copy(addr[:], decoded)
	return AddressFromArray(addr), nil
}

// LoadFromKeystore decrypts a keystore file using passphrase. A file whose
// recorded address differs from the decrypted key is rejected.
func LoadFromKeystore(path, passphrase string) (*PrivateKey, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrKeystorePath
	}
	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	decrypted, err := keystore.DecryptKey(keyJSON, passphrase)
	if err != nil {
		return nil, err
	}
	key := &PrivateKey{PrivateKey: decrypted.PrivateKey}
	recorded, err := KeystoreAddress(path)
	if err != nil {
		return nil, err
	}
	if recorded.Array() != key.PubKey().Address().Array() {
		return nil, ErrKeystoreMismatch
	}
	return key, nil
}
