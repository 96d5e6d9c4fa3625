// Package config defines the swapmarket configuration and its validation.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration. Fields come from a TOML file and are
// then overridden by SWAPMARKET_* environment variables.
type Config struct {
	Wallet   WalletConfig   `toml:"wallet"`
	Chain    ChainConfig    `toml:"chain"`
	Indexer  IndexerConfig  `toml:"indexer"`
	Orders   OrdersConfig   `toml:"orders"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// WalletConfig holds the buying account's key source.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// HasKey reports whether a key source is configured.
func (w WalletConfig) HasKey() bool {
	return w.PrivateKey != "" || w.EncryptedKeyPath != ""
}

// ChainConfig describes the node and contracts.
type ChainConfig struct {
	RPCURL            string `toml:"rpc_url"`
	ChainID           int64  `toml:"chain_id"`
	SwapContract      string `toml:"swap_contract"`
	BatchCallContract string `toml:"batch_call_contract"`
	// CurrencyToken is the ERC20 buyers pay with; orders asking for any
	// other sender token are rejected.
	CurrencyToken    string `toml:"currency_token"`
	CurrencyDecimals int32  `toml:"currency_decimals"`
	// ConfirmTransactions asks before each submission. Serve mode can only
	// submit when this is off.
	ConfirmTransactions   bool     `toml:"confirm_transactions"`
	RequestTimeout        duration `toml:"request_timeout"`
	TxPollInterval        duration `toml:"tx_poll_interval"`
	AllowancePollInterval duration `toml:"allowance_poll_interval"`
}

// IndexerConfig lists the order indexers to poll.
type IndexerConfig struct {
	URLs           []string `toml:"urls"`
	PageSize       int      `toml:"page_size"`
	PollInterval   duration `toml:"poll_interval"`
	RequestTimeout duration `toml:"request_timeout"`
}

// OrdersConfig tunes order state derivation.
type OrdersConfig struct {
	EnableValidityCheck bool     `toml:"enable_validity_check"`
	NewlyListedWindow   duration `toml:"newly_listed_window"`
	// CollectionToken restricts syncing to one NFT collection when set.
	CollectionToken string `toml:"collection_token"`
}

// PostgresConfig holds connection parameters. DSN wins over the parts.
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

// RedisConfig holds Redis connection and cache parameters.
type RedisConfig struct {
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	KeyPrefix    string   `toml:"key_prefix"`
	FactTTL      duration `toml:"fact_ttl"`
	StreamMaxLen int64    `toml:"stream_max_len"`
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

// ArchiveConfig schedules the S3 archive job.
type ArchiveConfig struct {
	Enabled   bool     `toml:"enabled"`
	Retention duration `toml:"retention"`
	Interval  duration `toml:"interval"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled            bool     `toml:"enabled"`
	Port               int      `toml:"port"`
	CORSOrigins        []string `toml:"cors_origins"`
	APIKey             string   `toml:"api_key"`
	RateLimitPerMinute int      `toml:"rate_limit_per_minute"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration decodes TOML strings such as "30s" or "24h".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the built-in configuration. config.example.toml mirrors
// these values.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:                "http://localhost:8545",
			ChainID:               11155111,
			CurrencyDecimals:      18,
			ConfirmTransactions:   true,
			RequestTimeout:        duration{15 * time.Second},
			TxPollInterval:        duration{3 * time.Second},
			AllowancePollInterval: duration{15 * time.Second},
		},
		Indexer: IndexerConfig{
			PageSize:       100,
			PollInterval:   duration{30 * time.Second},
			RequestTimeout: duration{10 * time.Second},
		},
		Orders: OrdersConfig{
			NewlyListedWindow: duration{24 * time.Hour},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "swapmarket",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			KeyPrefix:    "swapmarket",
			FactTTL:      duration{5 * time.Minute},
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "swapmarket-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Retention: duration{30 * 24 * time.Hour},
			Interval:  duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:            true,
			Port:               8000,
			CORSOrigins:        []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitPerMinute: 120,
		},
		Notify: NotifyConfig{
			Events: []string{"purchase_succeeded", "purchase_failed", "order_taken"},
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// Run modes.
const (
	ModeServe = "serve"
	ModeIndex = "index"
	ModeBuy   = "buy"
	ModeFull  = "full"
)

var validModes = map[string]bool{
	ModeServe: true,
	ModeIndex: true,
	ModeBuy:   true,
	ModeFull:  true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate reports every invalid or missing value in one error.
func (c *Config) Validate() error {
	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		add("unknown mode %q (valid: serve, index, buy, full)", c.Mode)
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		add("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel)
	}

	if mode == ModeBuy && !c.Wallet.HasKey() {
		add("wallet: private_key or encrypted_key_path is required for mode buy")
	}
	if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
		add("wallet: key_password is required when encrypted_key_path is set")
	}

	if c.Chain.RPCURL == "" {
		add("chain: rpc_url must not be empty")
	}
	if c.Chain.ChainID <= 0 {
		add("chain: chain_id must be positive")
	}
	for _, f := range [...]struct{ name, addr string }{
		{"swap_contract", c.Chain.SwapContract},
		{"batch_call_contract", c.Chain.BatchCallContract},
		{"currency_token", c.Chain.CurrencyToken},
	} {
		if !common.IsHexAddress(f.addr) {
			add("chain: %s must be a hex address, got %q", f.name, f.addr)
		}
	}
	if c.Chain.CurrencyDecimals < 0 || c.Chain.CurrencyDecimals > 36 {
		add("chain: currency_decimals must be 0-36, got %d", c.Chain.CurrencyDecimals)
	}
	if c.Chain.TxPollInterval.Duration <= 0 || c.Chain.AllowancePollInterval.Duration <= 0 {
		add("chain: poll intervals must be positive")
	}
	if c.Orders.CollectionToken != "" && !common.IsHexAddress(c.Orders.CollectionToken) {
		add("orders: collection_token must be a hex address, got %q", c.Orders.CollectionToken)
	}

	if mode == ModeIndex || mode == ModeFull || mode == ModeServe {
		if len(c.Indexer.URLs) == 0 {
			add("indexer: at least one url is required for mode %s", mode)
		}
		for _, u := range c.Indexer.URLs {
			if p, err := url.Parse(u); err != nil || p.Scheme == "" || p.Host == "" {
				add("indexer: invalid url %q", u)
			}
		}
	}
	if c.Indexer.PageSize < 1 {
		add("indexer: page_size must be >= 1")
	}
	if c.Indexer.PollInterval.Duration <= 0 {
		add("indexer: poll_interval must be positive")
	}

	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			add("postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			add("postgres: port must be 1-65535, got %d", c.Postgres.Port)
		}
		if c.Postgres.Database == "" {
			add("postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		add("postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		add("postgres: pool_min_conns must be between 0 and pool_max_conns")
	}

	if c.Redis.Addr == "" {
		add("redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		add("redis: pool_size must be >= 1")
	}

	if c.Archive.Enabled {
		if c.S3.Bucket == "" || c.S3.Region == "" {
			add("s3: bucket and region are required when archive is enabled")
		}
		if c.Archive.Retention.Duration <= 0 || c.Archive.Interval.Duration <= 0 {
			add("archive: retention and interval must be positive")
		}
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			add("server: port must be 1-65535, got %d", c.Server.Port)
		}
		if c.Server.RateLimitPerMinute < 0 {
			add("server: rate_limit_per_minute must be >= 0")
		}
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		add("notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
