package config

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"sorosusu/crypto"
)

// GenesisBalance is one parsed genesis allocation.
type GenesisBalance struct {
	Address [20]byte
	Token   string
	Amount  *big.Int
}

// Validate checks the fields susud cannot start without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("config: ListenAddress must not be empty")
	}
	if _, _, err := c.Custody(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Auth.HMACSecret) == "" {
		return fmt.Errorf("config: Auth.HMACSecret must be set")
	}
	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("config: RateLimit values must not be negative")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("config: Telemetry.SampleRatio must be within [0,1]")
	}
	if c.Telemetry.Endpoint == "" && (c.Telemetry.Traces || c.Telemetry.Metrics) {
		return fmt.Errorf("config: Telemetry.Endpoint required when exporting")
	}
	if strings.TrimSpace(c.Webhook.URL) != "" && strings.TrimSpace(c.Webhook.Secret) == "" {
		return fmt.Errorf("config: Webhook.Secret required when Webhook.URL is set")
	}
	if _, err := c.GenesisBalances(); err != nil {
		return err
	}
	return nil
}

// Custody parses the configured custody account. The boolean is false when
// none is configured.
func (c *Config) Custody() ([20]byte, bool, error) {
	raw := strings.TrimSpace(c.CustodyAddress)
	if raw == "" {
		return [20]byte{}, false, nil
	}
	addr, err := crypto.ParseAddress(raw)
	if err != nil {
		return [20]byte{}, false, fmt.Errorf("config: CustodyAddress: %w", err)
	}
	return addr.Array(), true, nil
}

// GenesisBalances parses the genesis allocations in a deterministic order.
func (c *Config) GenesisBalances() ([]GenesisBalance, error) {
	addrs := make([]string, 0, len(c.Genesis))
	for addr := range c.Genesis {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	var out []GenesisBalance
	for _, rawAddr := range addrs {
		addr, err := crypto.ParseAddress(rawAddr)
		if err != nil {
			return nil, fmt.Errorf("config: genesis address %q: %w", rawAddr, err)
		}
		tokens := make([]string, 0, len(c.Genesis[rawAddr]))
		for token := range c.Genesis[rawAddr] {
			tokens = append(tokens, token)
		}
		sort.Strings(tokens)
		for _, token := range tokens {
			symbol := strings.ToUpper(strings.TrimSpace(token))
			if symbol == "" {
				return nil, fmt.Errorf("config: genesis token for %s must not be empty", rawAddr)
			}
			amount, ok := new(big.Int).SetString(strings.TrimSpace(c.Genesis[rawAddr][token]), 10)
			if !ok || amount.Sign() <= 0 {
				return nil, fmt.Errorf("config: genesis amount %q for %s/%s must be a positive integer", c.Genesis[rawAddr][token], rawAddr, symbol)
			}
			out = append(out, GenesisBalance{Address: addr.Array(), Token: symbol, Amount: amount})
		}
	}
	return out, nil
}
