package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PERPDESK_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PERPDESK_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Passkey ──
	setStr(&cfg.Passkey.RPID, "PERPDESK_PASSKEY_RP_ID")
	setStr(&cfg.Passkey.RPName, "PERPDESK_PASSKEY_RP_NAME")
	setStr(&cfg.Passkey.Origin, "PERPDESK_PASSKEY_ORIGIN")
	setStr(&cfg.Passkey.Mode, "PERPDESK_PASSKEY_MODE")
	setDuration(&cfg.Passkey.Timeout, "PERPDESK_PASSKEY_TIMEOUT")

	// ── Ledger ──
	setStr(&cfg.Ledger.RPCURL, "PERPDESK_LEDGER_RPC_URL")
	setStr(&cfg.Ledger.NetworkPassphrase, "PERPDESK_LEDGER_NETWORK_PASSPHRASE")
	setStr(&cfg.Ledger.ContractID, "PERPDESK_LEDGER_CONTRACT_ID")
	setStr(&cfg.Ledger.FaucetURL, "PERPDESK_LEDGER_FAUCET_URL")
	setInt64(&cfg.Ledger.BaseFee, "PERPDESK_LEDGER_BASE_FEE")
	setStr(&cfg.Ledger.PriceFunction, "PERPDESK_LEDGER_PRICE_FUNCTION")
	setInt(&cfg.Ledger.MaxPolls, "PERPDESK_LEDGER_MAX_POLLS")
	setDuration(&cfg.Ledger.PollInterval, "PERPDESK_LEDGER_POLL_INTERVAL")
	setDuration(&cfg.Ledger.RequestTimeout, "PERPDESK_LEDGER_REQUEST_TIMEOUT")

	// ── Oracle ──
	setStr(&cfg.Oracle.Source, "PERPDESK_ORACLE_SOURCE")
	setStr(&cfg.Oracle.QuoteURL, "PERPDESK_ORACLE_QUOTE_URL")
	setDuration(&cfg.Oracle.RequestTimeout, "PERPDESK_ORACLE_REQUEST_TIMEOUT")
	setInt(&cfg.Oracle.RateLimit, "PERPDESK_ORACLE_RATE_LIMIT")
	setDuration(&cfg.Oracle.RateWindow, "PERPDESK_ORACLE_RATE_WINDOW")
	setDuration(&cfg.Oracle.RefreshInterval, "PERPDESK_ORACLE_REFRESH_INTERVAL")
	setFloat64(&cfg.Oracle.Jitter, "PERPDESK_ORACLE_JITTER")

	// ── Sim ──
	setBool(&cfg.Sim.Forced, "PERPDESK_SIM_FORCED")
	setDuration(&cfg.Sim.Delay, "PERPDESK_SIM_DELAY")

	// ── Store ──
	setStr(&cfg.Store.Backend, "PERPDESK_STORE_BACKEND")
	setStr(&cfg.Store.Path, "PERPDESK_STORE_PATH")
	setStr(&cfg.Store.Key, "PERPDESK_STORE_KEY")
	setStr(&cfg.Store.Passphrase, "PERPDESK_STORE_PASSPHRASE")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "PERPDESK_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "PERPDESK_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PERPDESK_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PERPDESK_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PERPDESK_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PERPDESK_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PERPDESK_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PERPDESK_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PERPDESK_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PERPDESK_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "PERPDESK_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PERPDESK_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PERPDESK_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PERPDESK_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PERPDESK_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PERPDESK_REDIS_TLS_ENABLED")

	// ── Cache ──
	setStr(&cfg.Cache.Backend, "PERPDESK_CACHE_BACKEND")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "PERPDESK_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PERPDESK_S3_REGION")
	setStr(&cfg.S3.Bucket, "PERPDESK_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PERPDESK_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PERPDESK_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PERPDESK_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PERPDESK_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "PERPDESK_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "PERPDESK_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "PERPDESK_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "PERPDESK_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PERPDESK_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PERPDESK_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "PERPDESK_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "PERPDESK_SERVER_RATE_LIMIT")

	// ── Top-level ──
	setStr(&cfg.Mode, "PERPDESK_MODE")
	setStr(&cfg.LogLevel, "PERPDESK_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
