// Package app wires the cppay engine together and serves its HTTP API.
package app

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/backend"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/backup"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/builder"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/chainio/aa"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/config"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/gateway"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/migrator"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/orchestrator"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/settlement"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/sponsorship"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/core/txstore"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/metrics"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/migrations"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/pkg/erc4337/bundler"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/pkg/logger"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/storage"
	"github.com/Sobilo34/hedera-hack-cppay-sub000/version"
)

type Status string

const (
	initStatus     Status = "init"
	runningStatus  Status = "running"
	shutdownStatus Status = "shutdown"
)

const shutdownTimeout = 10 * time.Second

func RunWithConfig(configPath string) error {
	c, err := config.NewConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	a, err := New(c)
	if err != nil {
		return fmt.Errorf("cannot initialize cppay from config: %w", err)
	}

	return a.Start(context.Background())
}

type App struct {
	config *config.Config
	logger logger.Logger

	db    storage.Storage
	store txstore.Store

	ethRpcClient *ethclient.Client
	bundler      *bundler.BundlerClient
	cache        *bigcache.BigCache

	sponsor      *sponsorship.Evaluator
	orchestrator *orchestrator.Orchestrator
	processor    *settlement.Processor
	confirmer    *confirmer

	backup   *backup.Service
	migrator *migrator.Migrator

	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	keys       *keyring
	http       *echo.Echo
	httpServer *server

	mu     sync.RWMutex
	status Status
}

func New(c *config.Config) (*App, error) {
	cache, err := bigcache.New(context.Background(), bigcache.Config{
		Shards: 256,
		// sponsorship entries live for the configured TTL, the life window only bounds memory
		LifeWindow:         c.Sponsorship.CacheTTL,
		CleanWindow:        time.Minute,
		MaxEntriesInWindow: 10 * 60 * 1000,
		MaxEntrySize:       512,
		HardMaxCacheSize:   256,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot initialize cache storage: %w", err)
	}

	keys, err := keyringFromMnemonic(c.SmartWallet.SignerMnemonic)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &App{
		config:   c,
		logger:   logger.EnsureLogger(c.Logger),
		cache:    cache,
		keys:     keys,
		registry: registry,
		metrics:  metrics.New(registry),
		status:   initStatus,
	}, nil
}

func (a *App) setStatus(s Status) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.status = s
}

func (a *App) Status() Status {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.status
}

func (a *App) initChain(ctx context.Context) error {
	var err error
	a.ethRpcClient, err = ethclient.DialContext(ctx, a.config.SmartWallet.EthRpcUrl)
	if err != nil {
		return fmt.Errorf("dial %s: %w", a.config.SmartWallet.EthRpcUrl, err)
	}

	chainID, err := a.ethRpcClient.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("read chain id: %w", err)
	}
	if chainID.Int64() != a.config.SmartWallet.ChainID {
		return fmt.Errorf("rpc serves chain %s but smart_wallet.chain_id is %d", chainID, a.config.SmartWallet.ChainID)
	}

	aa.Configure(a.config.SmartWallet.FactoryAddress, a.config.SmartWallet.EntrypointAddress)

	a.bundler, err = bundler.NewBundlerClient(
		a.config.SmartWallet.BundlerUrl,
		a.config.SmartWallet.EntrypointAddress,
		bundler.WithLogger(a.logger),
	)
	return err
}

func (a *App) initDB() error {
	var err error
	a.db, err = storage.NewWithPath(a.config.DbPath)
	if err != nil {
		return err
	}
	if err := a.db.Setup(); err != nil {
		return err
	}

	a.store, err = txstore.Open(a.config.Storage, a.db)
	return err
}

func (a *App) migrate(ctx context.Context) error {
	if a.config.BackupDir != "" {
		a.backup = backup.NewService(a.logger, a.db, a.config.BackupDir)
	}
	a.migrator = migrator.NewMigrator(a.db, a.backup, migrations.Migrations, a.logger)
	return a.migrator.Run(ctx)
}

func (a *App) initEngine(ctx context.Context) error {
	c := a.config
	chainID := c.SmartWallet.ChainID

	readers := sponsorship.NewReaders(c.Sponsorship.Paymasters, map[int64]bind.ContractCaller{
		chainID: a.ethRpcClient,
	})
	var err error
	a.sponsor, err = sponsorship.NewEvaluator(readers, a.cache, sponsorship.Config{
		CacheTTL:            c.Sponsorship.CacheTTL,
		LowBalanceThreshold: c.Sponsorship.LowBalanceThreshold,
		Policy:              c.Sponsorship.Policy,
	}, sponsorship.WithLogger(a.logger), sponsorship.WithMetrics(a.metrics))
	if err != nil {
		return err
	}

	deposits := make(map[int64]metrics.DepositReader, len(readers))
	for id, r := range readers {
		deposits[id] = r
	}
	a.registry.MustRegister(metrics.NewSponsorDepositCollector(deposits, a.logger))

	b := builder.New(a.ethRpcClient, a.bundler, c.SmartWallet.EntrypointAddress,
		builder.WithLogger(a.logger),
		builder.WithFactory(c.SmartWallet.FactoryAddress),
		builder.WithMinOutPolicy(builder.SlippagePolicy{Bps: c.Orchestrator.SlippageBps}),
	)
	payouts := gateway.NewClient(c.Gateway, c.Orchestrator.FiatCurrency, a.logger)

	a.orchestrator, err = orchestrator.New(c.Orchestrator, chainID, c.SmartWallet.TreasuryAddress, orchestrator.Deps{
		Store:   a.store,
		Builder: b,
		Sponsor: a.sponsor,
		Relay:   a.bundler,
		Gateway: payouts,
		Backend: backend.NewClient(c.Backend, a.logger),
	},
		orchestrator.WithLogger(a.logger),
		orchestrator.WithMetrics(a.metrics),
		orchestrator.WithSenderResolver(func(ctx context.Context, owner common.Address) (common.Address, error) {
			return aa.GetSenderAddress(ctx, a.ethRpcClient, owner, big.NewInt(0))
		}),
	)
	if err != nil {
		return err
	}

	a.confirmer = newConfirmer(ctx, a.orchestrator, a.keys, a.logger)

	a.processor, err = settlement.NewProcessor(c.Settlement, a.store, payouts,
		settlement.WithLogger(a.logger),
		settlement.WithFunder(a.confirmer),
		settlement.WithMetrics(a.metrics),
		settlement.WithCompaction(a.db.Vacuum),
	)
	return err
}

func (a *App) trackUptime(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.metrics.AddUptime(1000)
		}
	}
}

// Start brings every component up and blocks until SIGINT, SIGTERM or ctx is done.
func (a *App) Start(ctx context.Context) error {
	a.logger.Info("starting cppay", "version", version.Get(), "revision", version.Commit())

	if err := initSentry(a.config); err != nil {
		a.logger.Error("sentry disabled", "error", err)
	}
	defer sentryFlushSafely(2 * time.Second)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.initChain(ctx); err != nil {
		return fmt.Errorf("failed to initialize chain clients: %w", err)
	}

	a.logger.Info("initialize storage", "path", a.config.DbPath, "driver", a.config.Storage.Driver)
	if err := a.initDB(); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer a.closeStorage()

	if err := a.migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	if err := a.initEngine(ctx); err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	a.logger.Info("starting settlement processor", "sweep_interval", a.config.Settlement.SweepInterval)
	if err := a.processor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start settlement processor: %w", err)
	}
	a.confirmer.resume()

	if a.backup != nil && a.config.BackupInterval > 0 {
		if err := a.backup.StartPeriodicBackup(a.config.BackupInterval); err != nil {
			a.logger.Error("periodic backup disabled", "error", err)
		}
	}

	goSafe(func() { a.trackUptime(ctx) })

	a.logger.Info("starting http server", "address", a.config.HttpBindAddress, "signers", a.keys.len())
	a.startHttpServer(ctx)
	a.setStatus(runningStatus)

	<-ctx.Done()
	a.logger.Info("shutting down...")
	a.setStatus(shutdownStatus)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.stopHttpServer(shutdownCtx)

	if err := a.processor.Stop(); err != nil {
		a.logger.Error("failed to stop settlement processor", "error", err)
	}
	a.confirmer.wait()
	if a.backup != nil {
		a.backup.StopPeriodicBackup()
	}
	a.bundler.Close()
	a.ethRpcClient.Close()

	return nil
}

func (a *App) closeStorage() {
	if closer, ok := a.store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			a.logger.Error("failed to close transaction store", "error", err)
		}
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close database", "error", err)
	}
}
