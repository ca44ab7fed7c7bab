package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/quantleap/polyrunner/internal/blob/s3"
	"github.com/quantleap/polyrunner/internal/cache/redis"
	"github.com/quantleap/polyrunner/internal/config"
	"github.com/quantleap/polyrunner/internal/crypto"
	"github.com/quantleap/polyrunner/internal/domain"
	"github.com/quantleap/polyrunner/internal/executor"
	"github.com/quantleap/polyrunner/internal/feed"
	"github.com/quantleap/polyrunner/internal/monitor"
	"github.com/quantleap/polyrunner/internal/notify"
	"github.com/quantleap/polyrunner/internal/oracle"
	"github.com/quantleap/polyrunner/internal/pipeline"
	"github.com/quantleap/polyrunner/internal/platform/polymarket"
	"github.com/quantleap/polyrunner/internal/queue"
	"github.com/quantleap/polyrunner/internal/scanner"
	"github.com/quantleap/polyrunner/internal/service"
	"github.com/quantleap/polyrunner/internal/store/jsonl"
	"github.com/quantleap/polyrunner/internal/store/postgres"
)

// Dependencies bundles every constructed component the run modes draw from.
// Fields not needed by the active mode stay nil; Wire only builds what the
// mode requires.
type Dependencies struct {
	// Stores
	Positions domain.PositionStore
	Orders    domain.OrderStore
	Analyses  domain.AnalysisStore
	History   domain.BalanceHistory

	// Caches
	Prices  domain.PriceCache
	Limiter domain.RateLimiter
	Dedup   domain.DedupCache

	// Platform clients
	Gamma *polymarket.GammaClient
	Clob  *polymarket.ClobClient
	WS    *polymarket.WSClient

	// Services
	Oracle       domain.Oracle
	Governor     *service.PortfolioGovernor
	OrderSvc     *service.OrderService
	RiskSvc      *service.RiskService
	PositionSvc  *service.PositionService
	TargetParams service.TargetParams

	// Loops
	Queue    *queue.Queue
	Scanner  *scanner.Scanner
	Feed     *feed.Feed
	Monitor  *monitor.Monitor
	Executor *executor.Executor

	// Archival
	Archiver *pipeline.Archiver

	Notifier *notify.Notifier
}

// needsWallet reports whether the mode places orders and therefore needs
// signing credentials and authenticated CLOB access.
func needsWallet(mode string) bool {
	return mode == "trade" || mode == "monitor"
}

// needsRedis reports whether the mode uses the shared caches.
func needsRedis(mode string) bool {
	return mode != "archive"
}

// needsS3 reports whether the mode archives to object storage.
func needsS3(cfg *config.Config) bool {
	return cfg.Mode == "archive" || cfg.Pipeline.Enabled
}

// Wire constructs the dependency graph for the configured mode and returns
// it with a cleanup function that releases resources in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	mode := strings.ToLower(cfg.Mode)

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// Postgres is the system of record in every mode.
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.Positions = postgres.NewPositionStore(pool)
	deps.Orders = postgres.NewOrderStore(pool)
	deps.Analyses = postgres.NewAnalysisStore(pool)

	history, err := jsonl.NewBalanceHistory(cfg.Risk.BalanceHistoryPath)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: balance history: %w", err)
	}
	deps.History = history

	governor, err := service.NewPortfolioGovernor(ctx, history,
		cfg.Risk.MaxDrawdownPct, cfg.Risk.MaxCorrelated,
		cfg.Risk.BalanceLogInterval.Duration, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: portfolio governor: %w", err)
	}
	deps.Governor = governor

	// Redis caches.
	if needsRedis(mode) {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Prices = redis.NewPriceCache(redisClient)
		deps.Limiter = redis.NewRateLimiter(redisClient)

		switch cfg.Scanner.DedupBackend {
		case "redis":
			deps.Dedup = redis.NewDedupCache(redisClient, cfg.Scanner.DedupTTL.Duration)
		default:
			deps.Dedup = scanner.NewDedup(cfg.Scanner.DedupTTL.Duration)
		}
	}

	// Platform clients. The CLOB client is unsigned unless the mode places
	// orders; public book and history endpoints work without credentials.
	deps.Gamma = polymarket.NewGammaClient(cfg.Polymarket.GammaHost)

	var signer *crypto.Signer
	if needsWallet(mode) {
		key, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: wallet key: %w", err)
		}
		signer, err = crypto.NewSigner(key, cfg.Polymarket.ChainID)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: signer: %w", err)
		}
	}
	deps.Clob = polymarket.NewClobClient(cfg.Polymarket.ClobHost, signer, cfg.Polymarket.SignatureType)
	if signer != nil {
		if err := deps.Clob.DeriveAPIKey(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: derive api key: %w", err)
		}
	}

	if mode == "trade" || mode == "monitor" {
		deps.WS = polymarket.NewWSClient(cfg.Polymarket.WsHost,
			cfg.Monitor.PingInterval.Duration, cfg.Monitor.ReconnectDelay.Duration)
	}

	if mode == "trade" || mode == "scan" {
		deps.Oracle = oracle.NewClient(cfg.Oracle.BaseURL, cfg.Oracle.ApiKey,
			cfg.Oracle.GatekeeperTimeout.Duration, cfg.Oracle.EvaluateTimeout.Duration)
	}

	// Services and loops.
	deps.TargetParams = service.TargetParams{
		BasePct:        cfg.Trading.ProfitTarget,
		HighPct:        cfg.Trading.ProfitTargetHigh,
		CheapThreshold: cfg.Trading.PriceHighThreshold,
	}

	if needsWallet(mode) {
		deps.OrderSvc = service.NewOrderService(deps.Clob, deps.Orders, logger)
		deps.PositionSvc = service.NewPositionService(deps.Positions, deps.Clob, logger)

		f := feed.New(deps.WS, logger)
		deps.Feed = f
		deps.Monitor = monitor.New(monitor.Config{
			TargetCooldown:   cfg.Monitor.TargetCooldown.Duration,
			StopLossCooldown: cfg.Monitor.StopLossCooldown.Duration,
			TrailingCooldown: cfg.Monitor.TrailingCooldown.Duration,
			BreakEvenArmPct:  cfg.Monitor.BreakEvenArmPct,
			TrailingBandPct:  cfg.Monitor.TrailingBandPct,
			StopLossPct:      cfg.Trading.StopLossPct,
			MinHold:          cfg.Trading.MinHold.Duration,
			MinSellValueUSDC: cfg.Monitor.MinSellValueUSDC,
			TickSize:         cfg.Monitor.TickSize,
			SyncInterval:     cfg.Monitor.SyncInterval.Duration,
		}, f, deps.OrderSvc, deps.PositionSvc, deps.Prices, logger)
	}

	deps.RiskSvc = service.NewRiskService(cfg.Trading, governor, logger)
	deps.Queue = queue.New(cfg.Scanner.QueueCapacity)

	if mode == "trade" || mode == "scan" {
		deps.Scanner = scanner.New(scanner.Config{
			Strategies: cfg.Scanner.Strategies,
			EventLimit: cfg.Scanner.EventLimit,
			RoundSleep: cfg.Scanner.RoundSleep.Duration,
			Filters: scanner.FilterConfig{
				SkipTitlePatterns: cfg.Scanner.SkipTitlePatterns,
				MinPrice:          cfg.Scanner.MinPrice,
				MaxEntryPrice:     cfg.Scanner.MaxEntryPrice,
				MinBidLiquidity:   cfg.Scanner.MinBidLiquidity,
				MinRangePct:       cfg.Scanner.MinRangePct,
				MinChange1h:       cfg.Scanner.MinChange1h,
				MinDaysDefault:    cfg.Trading.MinDaysDefault,
				MinDaysPreferred:  cfg.Trading.MinDaysPreferred,
				MinDaysHighRisk:   cfg.Trading.MinDaysHighRisk,
				MinDaysPriceEvent: cfg.Trading.MinDaysPriceEvent,
			},
			MaxPerEvent: cfg.Trading.MaxPerEvent,
			RateKey:     "scanner:discovery",
			RateLimit:   cfg.Scanner.DiscoveryRateMax,
			RateWindow:  cfg.Scanner.DiscoveryRateWin.Duration,
		}, deps.Gamma, deps.Clob, deps.Oracle, deps.Dedup, deps.Positions, deps.Limiter, deps.Queue, logger)
	}

	// Notifications: a channel is enabled by filling in its credentials.
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhook != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhook))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	if mode == "trade" {
		deps.Executor = executor.New(
			cfg.Trading,
			cfg.Risk.DrawdownPause.Duration,
			deps.OrderSvc,
			deps.RiskSvc,
			governor,
			deps.PositionSvc,
			deps.Positions,
			deps.Analyses,
			deps.Oracle,
			deps.Queue,
			deps.Monitor,
			deps.Notifier,
			deps.TargetParams,
			logger,
		)
	}

	// Object storage and the archival job.
	if needsS3(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		if err := s3Client.Health(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}

		blobArchiver := s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			deps.Positions,
			deps.Analyses,
			cfg.Risk.BalanceHistoryPath,
		)
		deps.Archiver = pipeline.NewArchiver(blobArchiver, s3blob.NewReader(s3Client),
			cfg.Pipeline.ArchiveInterval.Duration, cfg.Pipeline.AnalysesLimit, logger)
	}

	return deps, cleanup, nil
}
