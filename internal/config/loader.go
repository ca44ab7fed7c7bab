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
// built-in defaults, applies POLYRUNNER_* environment variable overrides, and
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

// applyEnvOverrides reads well-known POLYRUNNER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "POLYRUNNER_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.FunderAddress, "POLYRUNNER_WALLET_FUNDER_ADDRESS")
	setStr(&cfg.Wallet.EncryptedKeyPath, "POLYRUNNER_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "POLYRUNNER_WALLET_KEY_PASSWORD")

	// ── Polymarket ──
	setStr(&cfg.Polymarket.ClobHost, "POLYRUNNER_POLYMARKET_CLOB_HOST")
	setStr(&cfg.Polymarket.GammaHost, "POLYRUNNER_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsHost, "POLYRUNNER_POLYMARKET_WS_HOST")
	setInt(&cfg.Polymarket.ChainID, "POLYRUNNER_POLYMARKET_CHAIN_ID")
	setInt(&cfg.Polymarket.SignatureType, "POLYRUNNER_POLYMARKET_SIGNATURE_TYPE")

	// ── Oracle ──
	setStr(&cfg.Oracle.BaseURL, "POLYRUNNER_ORACLE_BASE_URL")
	setStr(&cfg.Oracle.ApiKey, "POLYRUNNER_ORACLE_API_KEY")
	setDuration(&cfg.Oracle.GatekeeperTimeout, "POLYRUNNER_ORACLE_GATEKEEPER_TIMEOUT")
	setDuration(&cfg.Oracle.EvaluateTimeout, "POLYRUNNER_ORACLE_EVALUATE_TIMEOUT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "POLYRUNNER_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "POLYRUNNER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "POLYRUNNER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "POLYRUNNER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "POLYRUNNER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "POLYRUNNER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "POLYRUNNER_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "POLYRUNNER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "POLYRUNNER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "POLYRUNNER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "POLYRUNNER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "POLYRUNNER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "POLYRUNNER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "POLYRUNNER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "POLYRUNNER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "POLYRUNNER_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "POLYRUNNER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "POLYRUNNER_S3_REGION")
	setStr(&cfg.S3.Bucket, "POLYRUNNER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "POLYRUNNER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "POLYRUNNER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "POLYRUNNER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "POLYRUNNER_S3_FORCE_PATH_STYLE")

	// ── Scanner ──
	setStringSlice(&cfg.Scanner.Strategies, "POLYRUNNER_SCANNER_STRATEGIES")
	setInt(&cfg.Scanner.EventLimit, "POLYRUNNER_SCANNER_EVENT_LIMIT")
	setDuration(&cfg.Scanner.RoundSleep, "POLYRUNNER_SCANNER_ROUND_SLEEP")
	setDuration(&cfg.Scanner.DedupTTL, "POLYRUNNER_SCANNER_DEDUP_TTL")
	setStr(&cfg.Scanner.DedupBackend, "POLYRUNNER_SCANNER_DEDUP_BACKEND")
	setInt(&cfg.Scanner.QueueCapacity, "POLYRUNNER_SCANNER_QUEUE_CAPACITY")
	setStringSlice(&cfg.Scanner.SkipTitlePatterns, "POLYRUNNER_SCANNER_SKIP_TITLE_PATTERNS")
	setFloat64(&cfg.Scanner.MinPrice, "POLYRUNNER_SCANNER_MIN_PRICE")
	setFloat64(&cfg.Scanner.MaxEntryPrice, "POLYRUNNER_SCANNER_MAX_ENTRY_PRICE")
	setFloat64(&cfg.Scanner.MinBidLiquidity, "POLYRUNNER_SCANNER_MIN_BID_LIQUIDITY")
	setFloat64(&cfg.Scanner.MinRangePct, "POLYRUNNER_SCANNER_MIN_RANGE_PCT")
	setFloat64(&cfg.Scanner.MinChange1h, "POLYRUNNER_SCANNER_MIN_CHANGE_1H")

	// ── Trading ──
	setFloat64(&cfg.Trading.MinBalance, "POLYRUNNER_TRADING_MIN_BALANCE")
	setInt(&cfg.Trading.BatchSize, "POLYRUNNER_TRADING_BATCH_SIZE")
	setInt(&cfg.Trading.MaxOpenPositions, "POLYRUNNER_TRADING_MAX_OPEN_POSITIONS")
	setFloat64(&cfg.Trading.MaxBetUSDC, "POLYRUNNER_TRADING_MAX_BET_USDC")
	setFloat64(&cfg.Trading.MinBetUSDC, "POLYRUNNER_TRADING_MIN_BET_USDC")
	setFloat64(&cfg.Trading.MaxBalanceFraction, "POLYRUNNER_TRADING_MAX_BALANCE_FRACTION")
	setFloat64(&cfg.Trading.MinEdge, "POLYRUNNER_TRADING_MIN_EDGE")
	setInt(&cfg.Trading.HypeThreshold, "POLYRUNNER_TRADING_HYPE_THRESHOLD")
	setFloat64(&cfg.Trading.StopLossPct, "POLYRUNNER_TRADING_STOP_LOSS_PCT")
	setDuration(&cfg.Trading.MinHold, "POLYRUNNER_TRADING_MIN_HOLD")
	setInt(&cfg.Trading.MaxPerEvent, "POLYRUNNER_TRADING_MAX_PER_EVENT")

	// ── Monitor ──
	setDuration(&cfg.Monitor.PingInterval, "POLYRUNNER_MONITOR_PING_INTERVAL")
	setDuration(&cfg.Monitor.ReconnectDelay, "POLYRUNNER_MONITOR_RECONNECT_DELAY")
	setDuration(&cfg.Monitor.SyncInterval, "POLYRUNNER_MONITOR_SYNC_INTERVAL")
	setFloat64(&cfg.Monitor.TickSize, "POLYRUNNER_MONITOR_TICK_SIZE")

	// ── Risk ──
	setFloat64(&cfg.Risk.MaxDrawdownPct, "POLYRUNNER_RISK_MAX_DRAWDOWN_PCT")
	setDuration(&cfg.Risk.DrawdownPause, "POLYRUNNER_RISK_DRAWDOWN_PAUSE")
	setDuration(&cfg.Risk.BalanceLogInterval, "POLYRUNNER_RISK_BALANCE_LOG_INTERVAL")
	setStr(&cfg.Risk.BalanceHistoryPath, "POLYRUNNER_RISK_BALANCE_HISTORY_PATH")
	setInt(&cfg.Risk.MaxCorrelated, "POLYRUNNER_RISK_MAX_CORRELATED")

	// ── Pipeline ──
	setBool(&cfg.Pipeline.Enabled, "POLYRUNNER_PIPELINE_ENABLED")
	setDuration(&cfg.Pipeline.ArchiveInterval, "POLYRUNNER_PIPELINE_ARCHIVE_INTERVAL")
	setInt(&cfg.Pipeline.AnalysesLimit, "POLYRUNNER_PIPELINE_ANALYSES_LIMIT")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "POLYRUNNER_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "POLYRUNNER_SERVER_PORT")
	setStr(&cfg.Server.ApiKey, "POLYRUNNER_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "POLYRUNNER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "POLYRUNNER_NOTIFY_TELEGRAM_CHAT_ID")
	setStringSlice(&cfg.Notify.Events, "POLYRUNNER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "POLYRUNNER_MODE")
	setStr(&cfg.LogLevel, "POLYRUNNER_LOG_LEVEL")
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
