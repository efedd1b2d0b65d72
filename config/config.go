package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	DefaultListenAddress = ":8080"
	DefaultDataDir       = "./susu-data"
	DefaultEnvironment   = "dev"
)

// Config is the susud runtime configuration. Files ending in .yaml or .yml are
// decoded as YAML, everything else as TOML.
type Config struct {
	ListenAddress  string                       `toml:"ListenAddress" yaml:"listen"`
	DataDir        string                       `toml:"DataDir" yaml:"data_dir"`
	ArchiveDSN     string                       `toml:"ArchiveDSN" yaml:"archive_dsn"`
	Environment    string                       `toml:"Environment" yaml:"environment"`
	LogFile        string                       `toml:"LogFile" yaml:"log_file"`
	LogLevel       string                       `toml:"LogLevel" yaml:"log_level"`
	CustodyAddress string                       `toml:"CustodyAddress" yaml:"custody_address"`
	SettlePayouts  bool                         `toml:"SettlePayouts" yaml:"settle_payouts"`
	Auth           AuthConfig                   `toml:"Auth" yaml:"auth"`
	RateLimit      RateLimitConfig              `toml:"RateLimit" yaml:"rate_limit"`
	Telemetry      TelemetryConfig              `toml:"Telemetry" yaml:"telemetry"`
	Webhook        WebhookConfig                `toml:"Webhook" yaml:"webhook"`
	CORSOrigins    []string                     `toml:"CORSOrigins" yaml:"cors_origins"`
	Genesis        map[string]map[string]string `toml:"Genesis" yaml:"genesis"`
}

// AuthConfig controls bearer token verification for the HTTP API.
type AuthConfig struct {
	HMACSecret    string   `toml:"HMACSecret" yaml:"hmac_secret"`
	HMACSecretEnv string   `toml:"HMACSecretEnv" yaml:"hmac_secret_env"`
	Issuer        string   `toml:"Issuer" yaml:"issuer"`
	Audience      string   `toml:"Audience" yaml:"audience"`
	ClockSkew     Duration `toml:"ClockSkew" yaml:"clock_skew"`
}

// RateLimitConfig bounds requests per client.
type RateLimitConfig struct {
	RequestsPerMinute int `toml:"RequestsPerMinute" yaml:"requests_per_minute"`
	Burst             int `toml:"Burst" yaml:"burst"`
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	Endpoint string `toml:"Endpoint" yaml:"endpoint"`
	Insecure bool   `toml:"Insecure" yaml:"insecure"`
	Traces   bool   `toml:"Traces" yaml:"traces"`
	Metrics  bool   `toml:"Metrics" yaml:"metrics"`
	Headers  string `toml:"Headers" yaml:"headers"`

	// SampleRatio is the fraction of root spans kept; zero keeps all.
	SampleRatio float64 `toml:"SampleRatio" yaml:"sample_ratio"`
}

// WebhookConfig enables signed event deliveries to an external endpoint.
type WebhookConfig struct {
	URL       string   `toml:"URL" yaml:"url"`
	Secret    string   `toml:"Secret" yaml:"secret"`
	SecretEnv string   `toml:"SecretEnv" yaml:"secret_env"`
	Events    []string `toml:"Events" yaml:"events"`
}

// Duration wraps time.Duration to decode human readable strings from both
// TOML and YAML.
type Duration struct {
	time.Duration
}

// UnmarshalText parses strings such as "30s".
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText renders the duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	return d.UnmarshalText([]byte(value.Value))
}

// Load loads the configuration from path, writing a default TOML file when
// none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	} else if err != nil {
		return nil, err
	}

	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
	default:
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s has unknown field %s", path, undecoded[0])
		}
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = DefaultListenAddress
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = DefaultDataDir
	}
	if strings.TrimSpace(c.Environment) == "" {
		c.Environment = DefaultEnvironment
	}
	if c.Auth.HMACSecret == "" && c.Auth.HMACSecretEnv != "" {
		c.Auth.HMACSecret = os.Getenv(c.Auth.HMACSecretEnv)
	}
	if c.Webhook.Secret == "" && c.Webhook.SecretEnv != "" {
		c.Webhook.Secret = os.Getenv(c.Webhook.SecretEnv)
	}
	if c.Auth.ClockSkew.Duration == 0 {
		c.Auth.ClockSkew = Duration{Duration: 30 * time.Second}
	}
	if c.RateLimit.RequestsPerMinute == 0 {
		c.RateLimit.RequestsPerMinute = 120
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 20
	}
	if c.Genesis == nil {
		c.Genesis = map[string]map[string]string{}
	}
}

// Default returns the configuration written for a fresh deployment.
func Default() *Config {
	cfg := &Config{
		Auth: AuthConfig{
			HMACSecretEnv: "SUSU_JWT_SECRET",
			Issuer:        "susud",
			Audience:      "susu-api",
		},
	}
	cfg.applyDefaults()
	return cfg
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := Persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Persist writes cfg to path as TOML.
func Persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
