package crypto

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

var ErrInvalidSignature = errors.New("crypto: invalid signature")

// Sign produces a 65-byte recoverable signature over keccak256(message).
func Sign(key *PrivateKey, message []byte) ([]byte, error) {
	if key == nil || key.PrivateKey == nil {
		return nil, errors.New("crypto: nil private key")
	}
	return crypto.Sign(crypto.Keccak256(message), key.PrivateKey)
}

// RecoverAddress returns the address whose key produced sig over message.
func RecoverAddress(message, sig []byte) (Address, error) {
	if len(sig) != crypto.SignatureLength {
		return Address{}, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidSignature, crypto.SignatureLength, len(sig))
	}
	pub, err := crypto.SigToPub(crypto.Keccak256(message), sig)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	return AddressFromArray(crypto.PubkeyToAddress(*pub)), nil
}
