package state

import (
	"fmt"
	"math/big"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var balancePrefix = []byte("balance/")

func balanceKey(addr [20]byte, symbol string) []byte {
	return prefixedKey(balancePrefix, []byte(symbol), addr[:])
}

func normalizeSymbol(symbol string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	if normalized == "" {
		return "", fmt.Errorf("token symbol must not be empty")
	}
	return normalized, nil
}

// ModuleAddress derives the deterministic account owned by a named module.
func ModuleAddress(name string) [20]byte {
	var addr [20]byte
	hash := ethcrypto.Keccak256([]byte("module/" + name))
	copy(addr[:], hash[len(hash)-20:])
	return addr
}

// SetBalance stores an account balance for the provided token.
func (m *Manager) SetBalance(addr [20]byte, symbol string, amount *big.Int) error {
	if addr == ([20]byte{}) {
		return fmt.Errorf("address must not be empty")
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative balance not allowed")
	}
	normalized, err := normalizeSymbol(symbol)
	if err != nil {
		return err
	}
	return m.putEncoded(balanceKey(addr, normalized), amount)
}

// Balance retrieves a token balance; unknown accounts hold zero.
func (m *Manager) Balance(addr [20]byte, symbol string) (*big.Int, error) {
	normalized, err := normalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	amount := new(big.Int)
	ok, err := m.getDecoded(balanceKey(addr, normalized), amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}
