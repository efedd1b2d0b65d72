package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sorosusu/crypto"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "susud.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, DefaultListenAddress, cfg.ListenAddress)
	require.Equal(t, "SUSU_JWT_SECRET", cfg.Auth.HMACSecretEnv)
	require.Equal(t, 30*time.Second, cfg.Auth.ClockSkew.Duration)

	_, err = os.Stat(path)
	require.NoError(t, err)

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.DataDir, reloaded.DataDir)
	require.Equal(t, cfg.Auth.ClockSkew, reloaded.Auth.ClockSkew)
}

func TestLoadTOML(t *testing.T) {
	member := crypto.AddressFromArray([20]byte{1}).String()
	path := filepath.Join(t.TempDir(), "susud.toml")
	body := `
ListenAddress = "127.0.0.1:9000"
DataDir = "/var/lib/susu"
SettlePayouts = true

[Auth]
HMACSecret = "` + testSecret + `"
ClockSkew = "5s"

[RateLimit]
RequestsPerMinute = 60

[Genesis."` + member + `"]
usdc = "1000"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9000", cfg.ListenAddress)
	require.True(t, cfg.SettlePayouts)
	require.Equal(t, 5*time.Second, cfg.Auth.ClockSkew.Duration)
	require.Equal(t, 60, cfg.RateLimit.RequestsPerMinute)
	require.Equal(t, 20, cfg.RateLimit.Burst)
	require.NoError(t, cfg.Validate())

	balances, err := cfg.GenesisBalances()
	require.NoError(t, err)
	require.Len(t, balances, 1)
	require.Equal(t, "USDC", balances[0].Token)
	require.Equal(t, int64(1000), balances[0].Amount.Int64())
	require.Equal(t, [20]byte{1}, balances[0].Address)
}

func TestLoadTOMLRejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "susud.toml")
	require.NoError(t, os.WriteFile(path, []byte("Bogus = 1\n"), 0o600))
	_, err := Load(path)
	require.ErrorContains(t, err, "unknown field")
}

func TestLoadYAML(t *testing.T) {
	custody := crypto.AddressFromArray([20]byte{0xCC}).String()
	path := filepath.Join(t.TempDir(), "susud.yaml")
	body := strings.Join([]string{
		"listen: \":7000\"",
		"custody_address: " + custody,
		"archive_dsn: file:archive.db",
		"auth:",
		"  hmac_secret: " + testSecret,
		"  clock_skew: 1m",
		"telemetry:",
		"  endpoint: localhost:4318",
		"  traces: true",
		"  sample_ratio: 0.5",
		"log_level: debug",
	}, "\n")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, ":7000", cfg.ListenAddress)
	require.Equal(t, "file:archive.db", cfg.ArchiveDSN)
	require.Equal(t, time.Minute, cfg.Auth.ClockSkew.Duration)
	require.True(t, cfg.Telemetry.Traces)
	require.Equal(t, 0.5, cfg.Telemetry.SampleRatio)
	require.Equal(t, "debug", cfg.LogLevel)
	require.NoError(t, cfg.Validate())

	cfg.Telemetry.SampleRatio = 1.5
	require.ErrorContains(t, cfg.Validate(), "SampleRatio")

	addr, ok, err := cfg.Custody()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, [20]byte{0xCC}, addr)
}

func TestSecretFromEnvironment(t *testing.T) {
	t.Setenv("TEST_SUSU_SECRET", testSecret)
	path := filepath.Join(t.TempDir(), "susud.yml")
	require.NoError(t, os.WriteFile(path, []byte("auth:\n  hmac_secret_env: TEST_SUSU_SECRET\n"), 0o600))
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, testSecret, cfg.Auth.HMACSecret)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := Default()
		cfg.Auth.HMACSecret = testSecret
		return cfg
	}
	require.NoError(t, base().Validate())

	cfg := base()
	cfg.Auth.HMACSecret = ""
	require.ErrorContains(t, cfg.Validate(), "HMACSecret")

	cfg = base()
	cfg.CustodyAddress = "susu1bogus"
	require.ErrorContains(t, cfg.Validate(), "CustodyAddress")

	cfg = base()
	cfg.Genesis = map[string]map[string]string{
		crypto.AddressFromArray([20]byte{1}).String(): {"USDC": "-4"},
	}
	require.ErrorContains(t, cfg.Validate(), "positive integer")

	cfg = base()
	cfg.Genesis = map[string]map[string]string{"nope": {"USDC": "4"}}
	require.ErrorContains(t, cfg.Validate(), "genesis address")

	cfg = base()
	cfg.Telemetry.Metrics = true
	require.ErrorContains(t, cfg.Validate(), "Telemetry.Endpoint")

	cfg = base()
	cfg.Webhook.URL = "https://hooks.example/susu"
	require.ErrorContains(t, cfg.Validate(), "Webhook.Secret")
	cfg.Webhook.Secret = "hook-secret"
	require.NoError(t, cfg.Validate())
}
