// Package config defines the top-level configuration for the marketplace
// daemon and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by MARKETD_* environment variables.
type Config struct {
	Market   MarketConfig   `toml:"market"`
	Operator OperatorConfig `toml:"operator"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Relay    RelayConfig    `toml:"relay"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// MarketConfig holds the marketplace constants. Fees are decimal wei strings.
type MarketConfig struct {
	ListingFee   string   `toml:"listing_fee"`
	MintingFee   string   `toml:"minting_fee"`
	Address      string   `toml:"address"`
	FeeCollector string   `toml:"fee_collector"`
	GuardTTL     duration `toml:"guard_ttl"`
	// SeedFunds credits native balances at startup (address -> wei). Intended
	// for development deployments without an external funds ledger.
	SeedFunds map[string]string `toml:"seed_funds"`
}

// OperatorConfig holds the key used to sign emitted events and the EIP-712
// domain callers sign requests under.
type OperatorConfig struct {
	PrivateKey        string `toml:"private_key"`
	EncryptedKeyPath  string `toml:"encrypted_key_path"`
	KeyPassword       string `toml:"key_password"`
	ChainID           int    `toml:"chain_id"`
	VerifyingContract string `toml:"verifying_contract"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// WriterLease is how long the single-writer lease lives between renewals.
	WriterLease duration `toml:"writer_lease"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls periodic ledger snapshots to object storage.
type ArchiveConfig struct {
	Enabled        bool     `toml:"enabled"`
	Interval       duration `toml:"interval"`
	RestoreOnStart bool     `toml:"restore_on_start"`
}

// RelayConfig controls event fan-out.
type RelayConfig struct {
	BufferSize int    `toml:"buffer_size"`
	Channel    string `toml:"channel"`
	Stream     string `toml:"stream"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// RequireSignatures makes every mutating request carry an EIP-712
	// signature. When false the X-Caller header is trusted.
	RequireSignatures bool `toml:"require_signatures"`
	// EnableMint exposes POST /api/assets.
	EnableMint bool   `toml:"enable_mint"`
	APIKey     string `toml:"api_key"`
	// RateLimit is the request budget per client per RateWindow. Zero
	// disables limiting.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	WebhookURL        string   `toml:"webhook_url"`
	WebhookSecret     string   `toml:"webhook_secret"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Market: MarketConfig{
			ListingFee:   "25000000000000000",
			MintingFee:   "10000000000000000",
			Address:      "0x000000000000000000000000000000000000dEaD",
			FeeCollector: "0x000000000000000000000000000000000000fEEd",
			GuardTTL:     duration{30 * time.Second},
		},
		Operator: OperatorConfig{
			ChainID: 137,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "marketledger",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			PoolSize:    20,
			MaxRetries:  3,
			WriterLease: duration{15 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "marketledger",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Interval: duration{time.Hour},
		},
		Relay: RelayConfig{
			BufferSize: 1024,
			Channel:    "market:events",
			Stream:     "market:events:log",
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"ItemSold", "CollectionCreated"},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":    true,
	"snapshot": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// ListingFeeWei parses the listing fee.
func (m MarketConfig) ListingFeeWei() (uint256.Int, error) {
	return parseWei(m.ListingFee)
}

// MintingFeeWei parses the minting fee.
func (m MarketConfig) MintingFeeWei() (uint256.Int, error) {
	return parseWei(m.MintingFee)
}

func parseWei(s string) (uint256.Int, error) {
	v, err := uint256.FromDecimal(strings.TrimSpace(s))
	if err != nil {
		return uint256.Int{}, err
	}
	return *v, nil
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, snapshot)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Market
	if _, err := c.Market.ListingFeeWei(); err != nil {
		errs = append(errs, fmt.Sprintf("market: listing_fee %q is not a decimal wei amount", c.Market.ListingFee))
	}
	if _, err := c.Market.MintingFeeWei(); err != nil {
		errs = append(errs, fmt.Sprintf("market: minting_fee %q is not a decimal wei amount", c.Market.MintingFee))
	}
	if !isNonZeroAddress(c.Market.Address) {
		errs = append(errs, fmt.Sprintf("market: address %q must be a non-zero hex address", c.Market.Address))
	}
	if !isNonZeroAddress(c.Market.FeeCollector) {
		errs = append(errs, fmt.Sprintf("market: fee_collector %q must be a non-zero hex address", c.Market.FeeCollector))
	}
	if c.Market.GuardTTL.Duration <= 0 {
		errs = append(errs, "market: guard_ttl must be > 0")
	}
	for addr, amt := range c.Market.SeedFunds {
		if !isNonZeroAddress(addr) {
			errs = append(errs, fmt.Sprintf("market: seed_funds key %q is not a hex address", addr))
		}
		if _, err := parseWei(amt); err != nil {
			errs = append(errs, fmt.Sprintf("market: seed_funds[%s] %q is not a decimal wei amount", addr, amt))
		}
	}

	// Operator
	if c.Operator.EncryptedKeyPath != "" && c.Operator.KeyPassword == "" {
		errs = append(errs, "operator: key_password is required when encrypted_key_path is set")
	}
	if c.Operator.ChainID <= 0 {
		errs = append(errs, "operator: chain_id must be positive")
	}
	if v := c.Operator.VerifyingContract; v != "" && !common.IsHexAddress(v) {
		errs = append(errs, fmt.Sprintf("operator: verifying_contract %q is not a hex address", v))
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.WriterLease.Duration < time.Second {
			errs = append(errs, "redis: writer_lease must be at least 1s")
		}
	}

	// S3 is only needed for archival.
	if c.Archive.Enabled || c.Mode == "snapshot" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.Archive.Enabled && c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
	}

	// Relay
	if c.Relay.BufferSize < 1 {
		errs = append(errs, "relay: buffer_size must be >= 1")
	}
	if c.Redis.Enabled && (c.Relay.Channel == "" || c.Relay.Stream == "") {
		errs = append(errs, "relay: channel and stream must be set when redis is enabled")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	// Notify
	if c.Notify.WebhookURL != "" && c.Notify.WebhookSecret == "" {
		errs = append(errs, "notify: webhook_secret is required when webhook_url is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func isNonZeroAddress(s string) bool {
	return common.IsHexAddress(s) && common.HexToAddress(s) != (common.Address{})
}
