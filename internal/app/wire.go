package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/swapmarket/internal/blob/s3"
	"github.com/alanyoungcy/swapmarket/internal/cache/redis"
	"github.com/alanyoungcy/swapmarket/internal/chain"
	"github.com/alanyoungcy/swapmarket/internal/config"
	"github.com/alanyoungcy/swapmarket/internal/crypto"
	"github.com/alanyoungcy/swapmarket/internal/notify"
	"github.com/alanyoungcy/swapmarket/internal/orderstate"
	"github.com/alanyoungcy/swapmarket/internal/platform/indexer"
	"github.com/alanyoungcy/swapmarket/internal/store/postgres"
)

// Dependencies bundles the concrete clients and adapters the modes run on.
// Wallet is nil when no key is configured; Blobs and Archiver are nil when
// archiving is disabled.
type Dependencies struct {
	Postgres *postgres.Client
	Redis    *redis.Client
	S3       *s3blob.Client

	Orders    *postgres.OrderStore
	Purchases *postgres.PurchaseStore
	Audit     *postgres.AuditStore

	Facts       *redis.FactCache
	Marks       *redis.ListingMarks
	Locks       *redis.LockManager
	RateLimiter *redis.RateLimiter
	SignalBus   *redis.SignalBus

	Chain   *chain.Client
	Tracker *chain.Tracker
	Wallet  *crypto.Wallet
	Indexer *indexer.Client
	Deriver *orderstate.Deriver

	Blobs    *s3blob.Reader
	Archiver *s3blob.Archiver

	Notifier *notify.Notifier
}

// Wire builds every dependency from cfg. The returned cleanup releases them
// in reverse order and must be called even when later steps fail.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(step string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", step, err)
	}

	deps := &Dependencies{}

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
		return fail("postgres", err)
	}
	closers = append(closers, pg.Close)
	if cfg.Postgres.RunMigrations {
		if err := pg.RunMigrations(ctx); err != nil {
			return fail("postgres migrations", err)
		}
	}
	deps.Postgres = pg
	deps.Orders = postgres.NewOrderStore(pg.Pool())
	deps.Purchases = postgres.NewPurchaseStore(pg.Pool())
	deps.Audit = postgres.NewAuditStore(pg.Pool())

	// Keys are namespaced per chain so one Redis can serve several
	// deployments.
	prefix := cfg.Redis.KeyPrefix
	if prefix != "" {
		prefix = fmt.Sprintf("%s:%d", prefix, cfg.Chain.ChainID)
	}
	rc, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
		KeyPrefix:  prefix,
	})
	if err != nil {
		return fail("redis", err)
	}
	closers = append(closers, func() { _ = rc.Close() })
	deps.Redis = rc
	deps.Facts = redis.NewFactCache(rc, cfg.Redis.FactTTL.Duration)
	deps.Marks = redis.NewListingMarks(rc, cfg.Orders.NewlyListedWindow.Duration)
	deps.Locks = redis.NewLockManager(rc)
	deps.RateLimiter = redis.NewRateLimiter(rc)
	deps.SignalBus = redis.NewSignalBus(rc, cfg.Redis.StreamMaxLen)

	cc, closeChain, err := chain.Dial(ctx, chain.Config{
		RPCURL:            cfg.Chain.RPCURL,
		ChainID:           cfg.Chain.ChainID,
		SwapContract:      cfg.Chain.SwapContract,
		BatchCallContract: cfg.Chain.BatchCallContract,
		RequestTimeout:    cfg.Chain.RequestTimeout.Duration,
	}, logger)
	if err != nil {
		return fail("chain", err)
	}
	closers = append(closers, closeChain)
	deps.Chain = cc
	deps.Tracker = chain.NewTracker(cc, deps.SignalBus, cfg.Chain.TxPollInterval.Duration, logger)

	if cfg.Wallet.HasKey() {
		key, err := crypto.LoadKey(crypto.KeySource{
			RawPrivateKey:    cfg.Wallet.PrivateKey,
			EncryptedKeyPath: cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      cfg.Wallet.KeyPassword,
		})
		if err != nil {
			return fail("wallet", err)
		}
		w, err := crypto.NewWallet(key, cfg.Chain.ChainID)
		if err != nil {
			return fail("wallet", err)
		}
		deps.Wallet = w
	}

	deps.Indexer = indexer.NewClient(cfg.Indexer.URLs, cfg.Indexer.PageSize, cfg.Indexer.RequestTimeout.Duration, logger)
	deps.Deriver = orderstate.NewDeriver(orderstate.Policy{
		EnableValidityCheck: cfg.Orders.EnableValidityCheck,
	}, nil)

	if cfg.Archive.Enabled {
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
			return fail("s3", err)
		}
		deps.S3 = sc
		deps.Blobs = s3blob.NewReader(sc)
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(sc), deps.Orders, deps.Purchases, deps.Audit)
	}

	deps.Notifier = newNotifier(cfg.Notify, logger)

	logger.Info("dependencies wired",
		slog.Int64("chain_id", cfg.Chain.ChainID),
		slog.Bool("wallet", deps.Wallet != nil),
		slog.Bool("archive", deps.Archiver != nil),
		slog.Bool("notify", deps.Notifier.Enabled()),
		slog.String("indexers", strings.Join(config.Redacted(cfg).Indexer.URLs, ",")),
	)
	return deps, cleanup, nil
}

func newNotifier(cfg config.NotifyConfig, logger *slog.Logger) *notify.Notifier {
	var senders []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	return notify.NewNotifier(senders, cfg.Events, logger)
}
