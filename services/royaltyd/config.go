package royaltyd

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"royaltysync/crypto"
	"royaltysync/engine"
	"royaltysync/ledger/evm"
	"royaltysync/observability/logging"
)

// Duration wraps time.Duration to support YAML and TOML unmarshalling.
type Duration struct {
	time.Duration
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

// UnmarshalText parses human readable duration strings.
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

// MarshalText renders the duration in time.Duration notation.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config captures the runtime configuration for royaltyd.
type Config struct {
	ListenAddress string          `yaml:"listen" toml:"listen"`
	Environment   string          `yaml:"env" toml:"env"`
	Log           LogConfig       `yaml:"log" toml:"log"`
	Ledger        LedgerConfig    `yaml:"ledger" toml:"ledger"`
	Signer        SignerConfig    `yaml:"signer" toml:"signer"`
	Engine        EngineConfig    `yaml:"engine" toml:"engine"`
	Admin         AdminConfig     `yaml:"admin" toml:"admin"`
	Telemetry     TelemetryConfig `yaml:"telemetry" toml:"telemetry"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level      string `yaml:"level" toml:"level"`
	File       string `yaml:"file" toml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
	Compress   bool   `yaml:"compress" toml:"compress"`
}

// LedgerConfig locates the ledger endpoint and contracts.
type LedgerConfig struct {
	Endpoint          string   `yaml:"endpoint" toml:"endpoint"`
	ChainID           string   `yaml:"chain_id" toml:"chain_id"`
	PaymentToken      string   `yaml:"payment_token" toml:"payment_token"`
	RoyaltyToken      string   `yaml:"royalty_token" toml:"royalty_token"`
	BadgeRegistry     string   `yaml:"badge_registry" toml:"badge_registry"`
	PaymentABI        string   `yaml:"payment_abi" toml:"payment_abi"`
	RoyaltyABI        string   `yaml:"royalty_abi" toml:"royalty_abi"`
	BadgeABI          string   `yaml:"badge_abi" toml:"badge_abi"`
	ConfirmPoll       Duration `yaml:"confirm_poll" toml:"confirm_poll"`
	GasLimit          uint64   `yaml:"gas_limit" toml:"gas_limit"`
	RequestsPerSecond float64  `yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int      `yaml:"burst" toml:"burst"`
}

// SignerConfig selects the signing key: inline hex, an environment variable
// holding hex, or an Ethereum v3 keystore file.
type SignerConfig struct {
	Key           string `yaml:"key" toml:"key"`
	KeyEnv        string `yaml:"key_env" toml:"key_env"`
	Keystore      string `yaml:"keystore" toml:"keystore"`
	PassphraseEnv string `yaml:"passphrase_env" toml:"passphrase_env"`
}

// EngineConfig tunes the sync engine.
type EngineConfig struct {
	Distributor       string   `yaml:"distributor" toml:"distributor"`
	PollInterval      Duration `yaml:"poll_interval" toml:"poll_interval"`
	FeedbackTTL       Duration `yaml:"feedback_ttl" toml:"feedback_ttl"`
	LogCapacity       int      `yaml:"log_capacity" toml:"log_capacity"`
	AccrualCheckpoint *bool    `yaml:"accrual_checkpoint" toml:"accrual_checkpoint"`
	ConnectOnStart    bool     `yaml:"connect_on_start" toml:"connect_on_start"`
}

// AdminConfig captures security settings for the admin API.
type AdminConfig struct {
	BearerToken     string          `yaml:"bearer_token" toml:"bearer_token"`
	BearerTokenFile string          `yaml:"bearer_token_file" toml:"bearer_token_file"`
	JWT             JWTConfig       `yaml:"jwt" toml:"jwt"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
}

// JWTConfig enables HS256 bearer tokens as an alternative to the static token.
type JWTConfig struct {
	HMACSecret    string   `yaml:"hmac_secret" toml:"hmac_secret"`
	HMACSecretEnv string   `yaml:"hmac_secret_env" toml:"hmac_secret_env"`
	Issuer        string   `yaml:"issuer" toml:"issuer"`
	Audience      string   `yaml:"audience" toml:"audience"`
	ClockSkew     Duration `yaml:"clock_skew" toml:"clock_skew"`
}

// RateLimitConfig bounds admin requests per client.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute" toml:"requests_per_minute"`
	Burst             int     `yaml:"burst" toml:"burst"`
}

// TelemetryConfig configures the OTLP exporters.
type TelemetryConfig struct {
	Endpoint    string  `yaml:"endpoint" toml:"endpoint"`
	Headers     string  `yaml:"headers" toml:"headers"`
	Insecure    bool    `yaml:"insecure" toml:"insecure"`
	Traces      bool    `yaml:"traces" toml:"traces"`
	Metrics     bool    `yaml:"metrics" toml:"metrics"`
	SampleRatio float64 `yaml:"sample_ratio" toml:"sample_ratio"`
}

// LoadConfig reads configuration from path. Files ending in .toml are decoded
// as TOML, everything else as YAML.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	default:
		file, err := os.Open(path)
		if err != nil {
			return cfg, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()
		dec := yaml.NewDecoder(file)
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return cfg, fmt.Errorf("decode config: %w", err)
		}
	}
	applyDefaults(&cfg)
	if err := cfg.Signer.normalise(); err != nil {
		return cfg, fmt.Errorf("signer: %w", err)
	}
	if err := cfg.Admin.normalise(); err != nil {
		return cfg, fmt.Errorf("admin security: %w", err)
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	if cfg.Ledger.ConfirmPoll.Duration == 0 {
		cfg.Ledger.ConfirmPoll.Duration = 2 * time.Second
	}
	if cfg.Ledger.Burst <= 0 {
		cfg.Ledger.Burst = 10
	}
	if cfg.Engine.PollInterval.Duration == 0 {
		cfg.Engine.PollInterval.Duration = engine.DefaultPollInterval
	}
	if cfg.Engine.FeedbackTTL.Duration == 0 {
		cfg.Engine.FeedbackTTL.Duration = 3 * time.Second
	}
	if cfg.Engine.LogCapacity <= 0 {
		cfg.Engine.LogCapacity = 20
	}
	if cfg.Engine.AccrualCheckpoint == nil {
		enabled := true
		cfg.Engine.AccrualCheckpoint = &enabled
	}
	if cfg.Admin.RateLimit.RequestsPerMinute <= 0 {
		cfg.Admin.RateLimit.RequestsPerMinute = 120
	}
	if cfg.Admin.RateLimit.Burst <= 0 {
		cfg.Admin.RateLimit.Burst = 20
	}
	if cfg.Admin.JWT.ClockSkew.Duration == 0 {
		cfg.Admin.JWT.ClockSkew.Duration = 2 * time.Minute
	}
	if cfg.Signer.PassphraseEnv == "" {
		cfg.Signer.PassphraseEnv = "ROYALTYD_KEYSTORE_PASSPHRASE"
	}
}

func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.Ledger.Endpoint) == "" {
		return fmt.Errorf("ledger endpoint must be configured")
	}
	if id := strings.TrimSpace(cfg.Ledger.ChainID); id != "" {
		if _, ok := new(big.Int).SetString(id, 10); !ok {
			return fmt.Errorf("ledger chain_id %q is not a decimal integer", id)
		}
	}
	for name, addr := range map[string]string{
		"payment_token":  cfg.Ledger.PaymentToken,
		"royalty_token":  cfg.Ledger.RoyaltyToken,
		"badge_registry": cfg.Ledger.BadgeRegistry,
	} {
		if !common.IsHexAddress(strings.TrimSpace(addr)) {
			return fmt.Errorf("ledger %s must be a hex address", name)
		}
	}
	if d := strings.TrimSpace(cfg.Engine.Distributor); d != "" && !common.IsHexAddress(d) {
		return fmt.Errorf("engine distributor must be a hex address")
	}
	if cfg.Signer.Key == "" && cfg.Signer.Keystore == "" {
		return fmt.Errorf("signer key or keystore must be configured")
	}
	if cfg.Admin.BearerToken == "" && cfg.Admin.JWT.HMACSecret == "" {
		return fmt.Errorf("configure either admin bearer_token or jwt.hmac_secret")
	}
	if r := cfg.Telemetry.SampleRatio; r < 0 || r > 1 {
		return fmt.Errorf("telemetry sample_ratio must be within [0, 1]")
	}
	return nil
}

func (s *SignerConfig) normalise() error {
	s.Key = strings.TrimSpace(s.Key)
	s.KeyEnv = strings.TrimSpace(s.KeyEnv)
	s.Keystore = strings.TrimSpace(s.Keystore)
	s.PassphraseEnv = strings.TrimSpace(s.PassphraseEnv)
	if s.Key != "" || s.Keystore != "" {
		return nil
	}
	if s.KeyEnv != "" {
		value := strings.TrimSpace(os.Getenv(s.KeyEnv))
		if value == "" {
			return fmt.Errorf("key_env %s is empty", s.KeyEnv)
		}
		s.Key = value
	}
	return nil
}

func (a *AdminConfig) normalise() error {
	token := strings.TrimSpace(a.BearerToken)
	if path := strings.TrimSpace(a.BearerTokenFile); path != "" {
		contents, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read bearer_token_file: %w", err)
		}
		token = strings.TrimSpace(string(contents))
	}
	a.BearerToken = token
	secret := strings.TrimSpace(a.JWT.HMACSecret)
	if env := strings.TrimSpace(a.JWT.HMACSecretEnv); env != "" && secret == "" {
		secret = strings.TrimSpace(os.Getenv(env))
		if secret == "" {
			return fmt.Errorf("jwt hmac_secret_env %s is empty", env)
		}
	}
	a.JWT.HMACSecret = secret
	return nil
}

// SignerSource converts the signer settings into a key source. passphrase is
// consulted only for keystore files.
func (s SignerConfig) SignerSource(passphrase func() (string, error)) crypto.SignerSource {
	return crypto.SignerSource{Hex: s.Key, Keystore: s.Keystore, Passphrase: passphrase}
}

// EVM converts the ledger settings into gateway configuration.
func (l LedgerConfig) EVM() evm.Config {
	cfg := evm.Config{
		Endpoint: strings.TrimSpace(l.Endpoint),
		Contracts: evm.Addresses{
			PaymentToken:  common.HexToAddress(l.PaymentToken),
			RoyaltyToken:  common.HexToAddress(l.RoyaltyToken),
			BadgeRegistry: common.HexToAddress(l.BadgeRegistry),
		},
		ABIs: evm.ABIPaths{
			Payment: strings.TrimSpace(l.PaymentABI),
			Royalty: strings.TrimSpace(l.RoyaltyABI),
			Badge:   strings.TrimSpace(l.BadgeABI),
		},
		ConfirmPoll:       l.ConfirmPoll.Duration,
		GasLimit:          l.GasLimit,
		RequestsPerSecond: l.RequestsPerSecond,
		Burst:             l.Burst,
	}
	if id, ok := new(big.Int).SetString(strings.TrimSpace(l.ChainID), 10); ok {
		cfg.ChainID = id
	}
	return cfg
}

// EngineSettings converts the engine settings into engine configuration.
func (c Config) EngineSettings() engine.Config {
	return engine.Config{
		Distributor:       c.Engine.Distributor,
		PollInterval:      c.Engine.PollInterval.Duration,
		LogCapacity:       c.Engine.LogCapacity,
		FeedbackTTL:       c.Engine.FeedbackTTL.Duration,
		AccrualCheckpoint: c.Engine.AccrualCheckpoint == nil || *c.Engine.AccrualCheckpoint,
	}
}

// LoggingOptions converts the log settings into logging options.
func (l LogConfig) LoggingOptions() logging.Options {
	opts := logging.Options{Level: logging.ParseLevel(l.Level)}
	if path := strings.TrimSpace(l.File); path != "" {
		opts.File = &logging.FileOptions{
			Path:       path,
			MaxSizeMB:  l.MaxSizeMB,
			MaxBackups: l.MaxBackups,
			MaxAgeDays: l.MaxAgeDays,
			Compress:   l.Compress,
		}
	}
	return opts
}
