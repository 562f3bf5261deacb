package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/marketledger/internal/asset"
	s3blob "github.com/alanyoungcy/marketledger/internal/blob/s3"
	"github.com/alanyoungcy/marketledger/internal/cache/redis"
	"github.com/alanyoungcy/marketledger/internal/config"
	"github.com/alanyoungcy/marketledger/internal/crypto"
	"github.com/alanyoungcy/marketledger/internal/domain"
	"github.com/alanyoungcy/marketledger/internal/ledger"
	"github.com/alanyoungcy/marketledger/internal/metrics"
	"github.com/alanyoungcy/marketledger/internal/notify"
	"github.com/alanyoungcy/marketledger/internal/server/handler"
	"github.com/alanyoungcy/marketledger/internal/service"
	"github.com/alanyoungcy/marketledger/internal/store/postgres"
)

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Ledger and its in-process collaborators.
	Marketplace *ledger.Marketplace
	Allocator   *ledger.Allocator
	Registry    *asset.Registry
	Bank        *asset.Bank

	// Stores. Nil when PostgreSQL is disabled.
	LedgerStore domain.LedgerStore
	AuditStore  domain.AuditStore

	// Coordination. Leases and RateLimiter are nil without Redis.
	SignalBus   domain.SignalBus
	Leases      service.LeaseAcquirer
	RateLimiter domain.RateLimiter

	// Archiver is nil unless object storage is configured.
	Archiver domain.Archiver

	Relay    *service.EventRelay
	Notifier *notify.Notifier
	Metrics  *metrics.Metrics
	Signer   *crypto.Signer
	Domain   crypto.Domain

	// Checks are the dependency probes served by /api/health.
	Checks map[string]handler.Check
}

// needsS3 reports whether object storage must be wired.
func needsS3(cfg *config.Config) bool {
	return cfg.Archive.Enabled || strings.EqualFold(cfg.Mode, "snapshot")
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{
		Metrics: metrics.New(),
		Checks:  make(map[string]handler.Check),
	}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
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
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pg.Close)

		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		deps.LedgerStore = postgres.NewLedgerStore(pg.Pool())
		deps.AuditStore = postgres.NewAuditStore(pg.Pool())
		deps.Checks["postgres"] = pg.Ping
	}

	// --- Redis, or the in-process fallbacks ---
	var locks domain.LockManager
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = rc.Close() })

		lm := redis.NewLockManager(rc)
		locks = lm
		deps.Leases = lm
		deps.RateLimiter = redis.NewRateLimiter(rc)
		deps.SignalBus = redis.NewSignalBus(rc)
		deps.Checks["redis"] = rc.Ping
	} else {
		deps.SignalBus = service.NewLocalBus()
	}

	// --- S3 ---
	if needsS3(cfg) {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(sc), s3blob.NewReader(sc))
		deps.Checks["s3"] = sc.Health
	}

	// --- Operator signing key ---
	deps.Domain = crypto.Domain{
		ChainID:           int64(cfg.Operator.ChainID),
		VerifyingContract: common.HexToAddress(cfg.Operator.VerifyingContract),
	}
	keyCfg := crypto.KeyConfig{
		RawPrivateKey:    cfg.Operator.PrivateKey,
		EncryptedKeyPath: cfg.Operator.EncryptedKeyPath,
		KeyPassword:      cfg.Operator.KeyPassword,
	}
	if keyCfg.Configured() {
		key, err := crypto.LoadKey(keyCfg)
		if err != nil {
			return fail(fmt.Errorf("wire: operator key: %w", err))
		}
		signer, err := crypto.NewSigner(key, deps.Domain)
		if err != nil {
			return fail(fmt.Errorf("wire: operator signer: %w", err))
		}
		deps.Signer = signer
		logger.InfoContext(ctx, "wire: event signing enabled", slog.String("signer", signer.Address().Hex()))
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if cfg.Notify.WebhookURL != "" {
		senders = append(senders, notify.NewWebhookSender(cfg.Notify.WebhookURL, cfg.Notify.WebhookSecret))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Event relay ---
	relayOpts := []service.RelayOption{
		service.WithBus(deps.SignalBus),
		service.WithNotifier(deps.Notifier),
		service.WithRelayMetrics(deps.Metrics),
	}
	if deps.Signer != nil {
		relayOpts = append(relayOpts, service.WithSigner(deps.Signer))
	}
	if deps.AuditStore != nil {
		relayOpts = append(relayOpts, service.WithAudit(deps.AuditStore))
	}
	deps.Relay = service.NewEventRelay(service.RelayConfig{
		BufferSize: cfg.Relay.BufferSize,
		Channel:    cfg.Relay.Channel,
		Stream:     cfg.Relay.Stream,
	}, logger, relayOpts...)

	// --- Ledger ---
	m, err := newMarketplace(cfg, deps, locks, logger)
	if err != nil {
		return fail(err)
	}
	deps.Marketplace = m

	return deps, cleanup, nil
}

func newMarketplace(cfg *config.Config, deps *Dependencies, locks domain.LockManager, logger *slog.Logger) (*ledger.Marketplace, error) {
	listing, err := cfg.Market.ListingFeeWei()
	if err != nil {
		return nil, fmt.Errorf("wire: listing fee: %w", err)
	}
	minting, err := cfg.Market.MintingFeeWei()
	if err != nil {
		return nil, fmt.Errorf("wire: minting fee: %w", err)
	}

	deps.Allocator = ledger.NewAllocator()
	deps.Registry = asset.NewRegistry(deps.Allocator.Assets)
	deps.Bank = asset.NewBank()

	opts := []ledger.Option{
		ledger.WithSinks(deps.Relay),
		ledger.WithObserver(deps.Metrics),
		ledger.WithLogger(logger),
	}
	if deps.LedgerStore != nil {
		opts = append(opts, ledger.WithStore(deps.LedgerStore))
	}
	if locks != nil {
		opts = append(opts, ledger.WithLocks(locks))
	}
	return ledger.New(ledger.Config{
		Address:      common.HexToAddress(cfg.Market.Address),
		FeeCollector: common.HexToAddress(cfg.Market.FeeCollector),
		ListingFee:   listing,
		MintingFee:   minting,
		GuardTTL:     cfg.Market.GuardTTL.Duration,
	}, deps.Allocator, deps.Registry, deps.Bank, opts...), nil
}

// seedFunds credits the configured development balances.
func seedFunds(bank *asset.Bank, seeds map[string]string) error {
	for addr, amt := range seeds {
		v, err := uint256.FromDecimal(strings.TrimSpace(amt))
		if err != nil {
			return fmt.Errorf("seed funds %s: %w", addr, err)
		}
		if err := bank.Credit(common.HexToAddress(addr), *v); err != nil {
			return fmt.Errorf("seed funds %s: %w", addr, err)
		}
	}
	return nil
}
