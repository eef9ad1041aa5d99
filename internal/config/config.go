// Package config defines the top-level configuration for the perpdesk
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PERPDESK_* environment variables.
type Config struct {
	Passkey  PasskeyConfig  `toml:"passkey"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Oracle   OracleConfig   `toml:"oracle"`
	Sim      SimConfig      `toml:"sim"`
	Markets  []MarketConfig `toml:"markets"`
	Store    StoreConfig    `toml:"store"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	Cache    CacheConfig    `toml:"cache"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// PasskeyConfig holds relying-party parameters for credential ceremonies.
type PasskeyConfig struct {
	RPID    string   `toml:"rp_id"`
	RPName  string   `toml:"rp_name"`
	Origin  string   `toml:"origin"`
	Mode    string   `toml:"mode"` // "local" (built-in software authenticator) or "remote" (browser)
	Timeout duration `toml:"timeout"`
}

// LedgerConfig holds RPC endpoints and contract parameters for the venue
// ledger.
type LedgerConfig struct {
	RPCURL            string   `toml:"rpc_url"`
	NetworkPassphrase string   `toml:"network_passphrase"`
	ContractID        string   `toml:"contract_id"`
	FaucetURL         string   `toml:"faucet_url"`
	BaseFee           int64    `toml:"base_fee"`
	PriceFunction     string   `toml:"price_function"`
	MaxPolls          int      `toml:"max_polls"`
	PollInterval      duration `toml:"poll_interval"`
	RequestTimeout    duration `toml:"request_timeout"`
}

// OracleConfig holds quote-feed parameters.
type OracleConfig struct {
	// Source selects where Quote reads from: "feed" (external quote API)
	// or "contract" (the venue contract's price function).
	Source          string   `toml:"source"`
	QuoteURL        string   `toml:"quote_url"`
	RequestTimeout  duration `toml:"request_timeout"`
	RateLimit       int      `toml:"rate_limit"`
	RateWindow      duration `toml:"rate_window"`
	RefreshInterval duration `toml:"refresh_interval"`
	// Jitter is the maximum fractional swing of the synthetic fallback
	// walk, e.g. 0.02 keeps synthetic prices within ±2% per step.
	Jitter float64 `toml:"jitter"`
}

// SimConfig holds demo-ledger parameters.
type SimConfig struct {
	// Forced routes every trade and vault operation through the local
	// demo ledger, skipping the real path entirely.
	Forced bool     `toml:"forced"`
	Delay  duration `toml:"delay"`
}

// MarketConfig declares one allow-listed perp market.
type MarketConfig struct {
	Symbol    string  `toml:"symbol"`
	Display   string  `toml:"display"`
	QuoteID   string  `toml:"quote_id"` // identifier the quote API knows this market by
	BasePrice float64 `toml:"base_price"`
}

// StoreConfig selects and parameterizes the session state store.
type StoreConfig struct {
	Backend string `toml:"backend"` // "file", "memory", "postgres"
	Path    string `toml:"path"`
	Key     string `toml:"key"`
	// Passphrase enables at-rest encryption of the signing seed when
	// non-empty.
	Passphrase string `toml:"passphrase"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// CacheConfig selects the price-cache and rate-limiter backend.
type CacheConfig struct {
	Backend string `toml:"backend"` // "memory" or "redis"
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

// ArchiveConfig holds audit-journal archival parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit caps requests per minute per client IP; 0 disables the
	// limiter.
	RateLimit int `toml:"rate_limit"`
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

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Passkey: PasskeyConfig{
			RPID:    "localhost",
			RPName:  "Perpdesk",
			Origin:  "http://localhost:8000",
			Mode:    "local",
			Timeout: duration{60 * time.Second},
		},
		Ledger: LedgerConfig{
			RPCURL:            "https://soroban-testnet.stellar.org",
			NetworkPassphrase: "Test SDF Network ; September 2015",
			ContractID:        "",
			FaucetURL:         "https://friendbot.stellar.org",
			BaseFee:           100,
			PriceFunction:     "lastprice",
			MaxPolls:          10,
			PollInterval:      duration{2 * time.Second},
			RequestTimeout:    duration{30 * time.Second},
		},
		Oracle: OracleConfig{
			Source:          "feed",
			QuoteURL:        "https://api.coingecko.com/api/v3/simple/price",
			RequestTimeout:  duration{10 * time.Second},
			RateLimit:       1,
			RateWindow:      duration{5 * time.Second},
			RefreshInterval: duration{15 * time.Second},
			Jitter:          0.02,
		},
		Sim: SimConfig{
			Forced: false,
			Delay:  duration{1500 * time.Millisecond},
		},
		Markets: []MarketConfig{
			{Symbol: "XLM-PERP", Display: "Stellar Lumens", QuoteID: "stellar", BasePrice: 0.39},
			{Symbol: "BTC-PERP", Display: "Bitcoin", QuoteID: "bitcoin", BasePrice: 97000},
			{Symbol: "ETH-PERP", Display: "Ethereum", QuoteID: "ethereum", BasePrice: 3500},
		},
		Store: StoreConfig{
			Backend: "file",
			Path:    "perpdesk-state.json",
			Key:     "perpdesk:session",
		},
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "perpdesk",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		Cache: CacheConfig{
			Backend: "memory",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "perpdesk-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":    true,
	"simulate": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, simulate)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Passkey
	if c.Passkey.Mode != "local" && c.Passkey.Mode != "remote" {
		errs = append(errs, fmt.Sprintf("passkey: mode must be \"local\" or \"remote\", got %q", c.Passkey.Mode))
	}
	if c.Passkey.RPID == "" {
		errs = append(errs, "passkey: rp_id must not be empty")
	}
	if c.Passkey.Timeout.Duration <= 0 {
		errs = append(errs, "passkey: timeout must be positive")
	}

	// Ledger: the real path needs an endpoint and a contract unless every
	// operation is forced through the demo ledger.
	simulatedOnly := c.Sim.Forced || strings.ToLower(c.Mode) == "simulate"
	if !simulatedOnly {
		if c.Ledger.RPCURL == "" {
			errs = append(errs, "ledger: rpc_url must not be empty")
		}
		if c.Ledger.ContractID == "" {
			errs = append(errs, "ledger: contract_id must not be empty (or run with sim.forced)")
		}
		if c.Ledger.NetworkPassphrase == "" {
			errs = append(errs, "ledger: network_passphrase must not be empty")
		}
	}
	if c.Ledger.BaseFee <= 0 {
		errs = append(errs, "ledger: base_fee must be positive")
	}
	if c.Ledger.PriceFunction == "" {
		errs = append(errs, "ledger: price_function must not be empty")
	}
	if c.Ledger.MaxPolls < 1 {
		errs = append(errs, "ledger: max_polls must be >= 1")
	}
	if c.Ledger.PollInterval.Duration <= 0 {
		errs = append(errs, "ledger: poll_interval must be positive")
	}

	// Oracle
	if c.Oracle.Source != "feed" && c.Oracle.Source != "contract" {
		errs = append(errs, fmt.Sprintf("oracle: source must be \"feed\" or \"contract\", got %q", c.Oracle.Source))
	}
	if c.Oracle.Source == "feed" && c.Oracle.QuoteURL == "" {
		errs = append(errs, "oracle: quote_url must not be empty when source is \"feed\"")
	}
	if c.Oracle.RateLimit < 1 {
		errs = append(errs, "oracle: rate_limit must be >= 1")
	}
	if c.Oracle.RateWindow.Duration <= 0 {
		errs = append(errs, "oracle: rate_window must be positive")
	}
	if c.Oracle.Jitter < 0 || c.Oracle.Jitter > 1 {
		errs = append(errs, fmt.Sprintf("oracle: jitter must be in [0,1], got %v", c.Oracle.Jitter))
	}

	// Sim
	if c.Sim.Delay.Duration < 0 {
		errs = append(errs, "sim: delay must not be negative")
	}

	// Markets
	if len(c.Markets) == 0 {
		errs = append(errs, "markets: at least one market must be configured")
	}
	seen := make(map[string]bool, len(c.Markets))
	for i, m := range c.Markets {
		if m.Symbol == "" {
			errs = append(errs, fmt.Sprintf("markets[%d]: symbol must not be empty", i))
			continue
		}
		if seen[m.Symbol] {
			errs = append(errs, fmt.Sprintf("markets[%d]: duplicate symbol %q", i, m.Symbol))
		}
		seen[m.Symbol] = true
		if m.BasePrice <= 0 {
			errs = append(errs, fmt.Sprintf("markets[%d]: base_price must be positive for %s", i, m.Symbol))
		}
	}

	// Store
	switch c.Store.Backend {
	case "file":
		if c.Store.Path == "" {
			errs = append(errs, "store: path must not be empty for the file backend")
		}
	case "memory":
	case "postgres":
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
	default:
		errs = append(errs, fmt.Sprintf("store: unknown backend %q (valid: file, memory, postgres)", c.Store.Backend))
	}
	if c.Store.Key == "" {
		errs = append(errs, "store: key must not be empty")
	}

	// Cache
	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when cache backend is redis")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	default:
		errs = append(errs, fmt.Sprintf("cache: unknown backend %q (valid: memory, redis)", c.Cache.Backend))
	}

	// Archive
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archive is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be positive")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must not be negative")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
