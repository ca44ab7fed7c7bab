// Package config defines the top-level configuration for the trading engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLYRUNNER_* environment variables.
type Config struct {
	Wallet     WalletConfig     `toml:"wallet"`
	Polymarket PolymarketConfig `toml:"polymarket"`
	Oracle     OracleConfig     `toml:"oracle"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Scanner    ScannerConfig    `toml:"scanner"`
	Trading    TradingConfig    `toml:"trading"`
	Monitor    MonitorConfig    `toml:"monitor"`
	Risk       RiskConfig       `toml:"risk"`
	Pipeline   PipelineConfig   `toml:"pipeline"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// WalletConfig holds Ethereum wallet credentials.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	FunderAddress    string `toml:"funder_address"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// PolymarketConfig holds Polymarket API endpoints and chain parameters.
type PolymarketConfig struct {
	ClobHost      string `toml:"clob_host"`
	GammaHost     string `toml:"gamma_host"`
	WsHost        string `toml:"ws_host"`
	ChainID       int    `toml:"chain_id"`
	SignatureType int    `toml:"signature_type"`
}

// OracleConfig holds the decision-oracle service endpoint and timeouts.
type OracleConfig struct {
	BaseURL           string   `toml:"base_url"`
	ApiKey            string   `toml:"api_key"`
	GatekeeperTimeout duration `toml:"gatekeeper_timeout"`
	EvaluateTimeout   duration `toml:"evaluate_timeout"`
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

// S3Config holds S3-compatible object storage parameters for archival.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ScannerConfig holds candidate-discovery parameters.
type ScannerConfig struct {
	Strategies        []string `toml:"strategies"`         // discovery strategies to run each round
	EventLimit        int      `toml:"event_limit"`        // max events fetched per round
	RoundSleep        duration `toml:"round_sleep"`        // pause between rounds
	DedupTTL          duration `toml:"dedup_ttl"`          // suppression window per candidate key
	DedupBackend      string   `toml:"dedup_backend"`      // "memory" or "redis"
	QueueCapacity     int      `toml:"queue_capacity"`     // bounded candidate queue size
	SkipTitlePatterns []string `toml:"skip_title_patterns"`
	MinPrice          float64  `toml:"min_price"`          // lower entry price band
	MaxEntryPrice     float64  `toml:"max_entry_price"`    // upper entry price band
	MinBidLiquidity   float64  `toml:"min_bid_liquidity"`  // USDC on the bid side
	MinRangePct       float64  `toml:"min_range_pct"`      // historical volatility floor
	MinChange1h       float64  `toml:"min_change_1h"`      // optional |1h change| floor, 0 disables
	DiscoveryRateMax  int      `toml:"discovery_rate_max"` // API calls per window
	DiscoveryRateWin  duration `toml:"discovery_rate_win"`
}

// TradingConfig holds trade-consumer sizing and gate parameters.
type TradingConfig struct {
	MinBalance         float64  `toml:"min_balance"`       // idle below this
	IdleSleep          duration `toml:"idle_sleep"`        // pause when balance too low
	BatchSize          int      `toml:"batch_size"`        // candidates evaluated per cycle
	QueueGetTimeout    duration `toml:"queue_get_timeout"` // blocking dequeue timeout
	MaxOpenPositions   int      `toml:"max_open_positions"`
	MaxBetUSDC         float64  `toml:"max_bet_usdc"`
	MinBetUSDC         float64  `toml:"min_bet_usdc"`
	MaxBalanceFraction float64  `toml:"max_balance_fraction"` // cap per bet as share of balance
	MinEdge            float64  `toml:"min_edge"`             // base edge requirement
	MinDaysDefault     float64  `toml:"min_days_default"`     // days-to-resolution floors per tier
	MinDaysPreferred   float64  `toml:"min_days_preferred"`
	MinDaysHighRisk    float64  `toml:"min_days_high_risk"`
	MinDaysPriceEvent  float64  `toml:"min_days_price_event"`
	HypeThreshold      int      `toml:"hype_threshold"` // hype score overriding the lower-half gate
	KellyFracDefault   float64  `toml:"kelly_frac_default"`
	KellyFracPreferred float64  `toml:"kelly_frac_preferred"`
	KellyFracHighRisk  float64  `toml:"kelly_frac_high_risk"`
	StopLossPct        float64  `toml:"stop_loss_pct"`
	MinHold            duration `toml:"min_hold"`       // grace period before stop-loss applies
	ProfitTarget       float64  `toml:"profit_target"`  // base target fraction
	ProfitTargetHigh   float64  `toml:"profit_target_high"`
	PriceHighThreshold float64  `toml:"price_high_threshold"` // fills below this use the high target
	MaxPerEvent        int      `toml:"max_per_event"`        // positions per event, non-balanced categories
}

// MonitorConfig holds position-observer parameters.
type MonitorConfig struct {
	PingInterval     duration `toml:"ping_interval"`
	ReconnectDelay   duration `toml:"reconnect_delay"`
	TargetCooldown   duration `toml:"target_cooldown"`
	StopLossCooldown duration `toml:"stop_loss_cooldown"`
	TrailingCooldown duration `toml:"trailing_cooldown"`
	BreakEvenArmPct  float64  `toml:"break_even_arm_pct"` // rise over entry that arms the trailing exit
	TrailingBandPct  float64  `toml:"trailing_band_pct"`  // retrace band over entry that fires it
	MinSellValueUSDC float64  `toml:"min_sell_value_usdc"`
	TickSize         float64  `toml:"tick_size"`
	SyncInterval     duration `toml:"sync_interval"`
}

// RiskConfig holds portfolio-governor parameters.
type RiskConfig struct {
	MaxDrawdownPct     float64  `toml:"max_drawdown_pct"`
	DrawdownPause      duration `toml:"drawdown_pause"`
	BalanceLogInterval duration `toml:"balance_log_interval"`
	BalanceHistoryPath string   `toml:"balance_history_path"`
	MaxCorrelated      int      `toml:"max_correlated"`
}

// PipelineConfig holds the archival job parameters.
type PipelineConfig struct {
	Enabled         bool     `toml:"enabled"`
	ArchiveInterval duration `toml:"archive_interval"`
	AnalysesLimit   int      `toml:"analyses_limit"`
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

// ServerConfig holds status HTTP server parameters.
type ServerConfig struct {
	Enabled bool   `toml:"enabled"`
	Port    int    `toml:"port"`
	ApiKey  string `toml:"api_key"` // optional bearer key for non-health endpoints
}

// NotifyConfig holds notification channel credentials. A channel is enabled
// by filling in its credentials; empty channels are skipped.
type NotifyConfig struct {
	TelegramToken  string   `toml:"telegram_token"`
	TelegramChatID string   `toml:"telegram_chat_id"`
	DiscordWebhook string   `toml:"discord_webhook"`
	Events         []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			ClobHost:      "https://clob.polymarket.com",
			GammaHost:     "https://gamma-api.polymarket.com",
			WsHost:        "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			ChainID:       137,
			SignatureType: 2,
		},
		Oracle: OracleConfig{
			GatekeeperTimeout: duration{10 * time.Second},
			EvaluateTimeout:   duration{60 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "polyrunner-data",
			ForcePathStyle: true,
		},
		Scanner: ScannerConfig{
			Strategies:       []string{"trending"},
			EventLimit:       1500,
			RoundSleep:       duration{25 * time.Second},
			DedupTTL:         duration{5 * time.Minute},
			DedupBackend:     "memory",
			QueueCapacity:    500,
			MinPrice:         0.10,
			MaxEntryPrice:    0.75,
			MinBidLiquidity:  20.0,
			MinRangePct:      8.0,
			MinChange1h:      0,
			DiscoveryRateMax: 60,
			DiscoveryRateWin: duration{time.Minute},
		},
		Trading: TradingConfig{
			MinBalance:         2.0,
			IdleSleep:          duration{2 * time.Minute},
			BatchSize:          2,
			QueueGetTimeout:    duration{5 * time.Second},
			MaxOpenPositions:   15,
			MaxBetUSDC:         100.0,
			MinBetUSDC:         2.0,
			MaxBalanceFraction: 0.70,
			MinEdge:            0.03,
			MinDaysDefault:     1.0,
			MinDaysPreferred:   0.5,
			MinDaysHighRisk:    1.2,
			MinDaysPriceEvent:  1.5,
			HypeThreshold:      8,
			KellyFracDefault:   0.5,
			KellyFracPreferred: 0.6,
			KellyFracHighRisk:  0.25,
			StopLossPct:        0.20,
			MinHold:            duration{2 * time.Hour},
			ProfitTarget:       0.07,
			ProfitTargetHigh:   0.10,
			PriceHighThreshold: 0.30,
			MaxPerEvent:        2,
		},
		Monitor: MonitorConfig{
			PingInterval:     duration{20 * time.Second},
			ReconnectDelay:   duration{5 * time.Second},
			TargetCooldown:   duration{45 * time.Second},
			StopLossCooldown: duration{60 * time.Second},
			TrailingCooldown: duration{45 * time.Second},
			BreakEvenArmPct:  0.08,
			TrailingBandPct:  0.03,
			MinSellValueUSDC: 5.0,
			TickSize:         0.001,
			SyncInterval:     duration{5 * time.Minute},
		},
		Risk: RiskConfig{
			MaxDrawdownPct:     30.0,
			DrawdownPause:      duration{5 * time.Minute},
			BalanceLogInterval: duration{5 * time.Minute},
			BalanceHistoryPath: "data/balance_history.jsonl",
			MaxCorrelated:      3,
		},
		Pipeline: PipelineConfig{
			Enabled:         false,
			ArchiveInterval: duration{6 * time.Hour},
			AnalysesLimit:   5000,
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8000,
		},
		Notify: NotifyConfig{
			Events: []string{"trade_executed", "exit_placed", "position_closed", "drawdown_pause"},
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"scan":    true,
	"monitor": true,
	"archive": true,
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
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, scan, monitor, archive)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet — at least one credential source must be specified when orders
	// can be placed.
	needsWallet := c.Mode == "trade" || c.Mode == "monitor"
	if needsWallet {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Polymarket endpoints
	if c.Polymarket.ClobHost == "" {
		errs = append(errs, "polymarket: clob_host must not be empty")
	}
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.ChainID <= 0 {
		errs = append(errs, "polymarket: chain_id must be positive")
	}
	if c.Polymarket.SignatureType != 1 && c.Polymarket.SignatureType != 2 {
		errs = append(errs, fmt.Sprintf("polymarket: signature_type must be 1 (EOA) or 2 (Safe), got %d", c.Polymarket.SignatureType))
	}

	// Oracle — required whenever candidates are scored.
	if c.Mode == "trade" || c.Mode == "scan" {
		if c.Oracle.BaseURL == "" {
			errs = append(errs, "oracle: base_url is required for mode "+c.Mode)
		}
	}

	// Postgres
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

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 — only required when archival runs.
	if c.Pipeline.Enabled || c.Mode == "archive" {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archival is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archival is enabled")
		}
	}

	// Scanner
	if len(c.Scanner.Strategies) == 0 {
		errs = append(errs, "scanner: at least one discovery strategy is required")
	}
	if c.Scanner.EventLimit <= 0 {
		errs = append(errs, "scanner: event_limit must be > 0")
	}
	if c.Scanner.QueueCapacity < 1 {
		errs = append(errs, "scanner: queue_capacity must be >= 1")
	}
	if c.Scanner.DedupTTL.Duration <= 0 {
		errs = append(errs, "scanner: dedup_ttl must be > 0")
	}
	if b := c.Scanner.DedupBackend; b != "memory" && b != "redis" {
		errs = append(errs, fmt.Sprintf("scanner: dedup_backend must be \"memory\" or \"redis\", got %q", b))
	}
	if c.Scanner.MinPrice < 0 || c.Scanner.MaxEntryPrice >= 1 || c.Scanner.MinPrice >= c.Scanner.MaxEntryPrice {
		errs = append(errs, fmt.Sprintf("scanner: price band [%.2f, %.2f] is not a valid sub-range of (0,1)", c.Scanner.MinPrice, c.Scanner.MaxEntryPrice))
	}

	// Trading
	if c.Trading.BatchSize < 1 {
		errs = append(errs, "trading: batch_size must be >= 1")
	}
	if c.Trading.MaxOpenPositions < 1 {
		errs = append(errs, "trading: max_open_positions must be >= 1")
	}
	if c.Trading.MaxBetUSDC <= 0 {
		errs = append(errs, "trading: max_bet_usdc must be > 0")
	}
	if c.Trading.MaxBalanceFraction <= 0 || c.Trading.MaxBalanceFraction > 1 {
		errs = append(errs, "trading: max_balance_fraction must be in (0,1]")
	}
	if c.Trading.StopLossPct <= 0 || c.Trading.StopLossPct >= 1 {
		errs = append(errs, "trading: stop_loss_pct must be in (0,1)")
	}
	if c.Trading.MinEdge < 0 {
		errs = append(errs, "trading: min_edge must be >= 0")
	}

	// Monitor
	if c.Monitor.TickSize <= 0 {
		errs = append(errs, "monitor: tick_size must be > 0")
	}
	if c.Monitor.BreakEvenArmPct <= 0 {
		errs = append(errs, "monitor: break_even_arm_pct must be > 0")
	}

	// Risk
	if c.Risk.MaxDrawdownPct <= 0 || c.Risk.MaxDrawdownPct >= 100 {
		errs = append(errs, "risk: max_drawdown_pct must be in (0,100)")
	}
	if c.Risk.MaxCorrelated < 1 {
		errs = append(errs, "risk: max_correlated must be >= 1")
	}
	if c.Risk.BalanceHistoryPath == "" {
		errs = append(errs, "risk: balance_history_path must not be empty")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
