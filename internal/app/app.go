// Package app wires configuration, storage, services and workers into the
// runnable custody ledger.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ayo6706/custody-ledger/internal/api"
	"github.com/ayo6706/custody-ledger/internal/api/middleware"
	"github.com/ayo6706/custody-ledger/internal/chain"
	"github.com/ayo6706/custody-ledger/internal/config"
	"github.com/ayo6706/custody-ledger/internal/db"
	"github.com/ayo6706/custody-ledger/internal/domain"
	"github.com/ayo6706/custody-ledger/internal/events"
	"github.com/ayo6706/custody-ledger/internal/observability"
	"github.com/ayo6706/custody-ledger/internal/price"
	"github.com/ayo6706/custody-ledger/internal/repository"
	"github.com/ayo6706/custody-ledger/internal/service"
	"github.com/ayo6706/custody-ledger/internal/settlement"
	"github.com/ayo6706/custody-ledger/internal/worker"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// App holds the long lived dependencies of one process.
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	pool   *pgxpool.Pool
	redis  *redis.Client

	publisher events.Publisher
	closers   []func() error

	Wallets        *service.WalletService
	Ledger         *service.LedgerService
	Deposits       *service.DepositPipeline
	Withdraws      *service.WithdrawService
	Reconciliation *service.ReconciliationService
}

// New connects to postgres and redis and builds every service.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	observability.Init()
	middleware.SetJWTSecret(cfg.JWTSecret)
	middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)

	a := &App{cfg: cfg, logger: logger}

	a.pool, err = db.Connect(ctx, cfg.DatabaseURL, db.PoolOptions{
		MaxConns:         cfg.DBMaxConns,
		MinConns:         cfg.DBMinConns,
		StatementTimeout: cfg.DBStatementTimeout,
		ApplicationName:  "custody-ledger",
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	a.closers = append(a.closers, func() error { a.pool.Close(); return nil })

	a.redis, err = newRedisClient(cfg.RedisURL)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	a.closers = append(a.closers, a.redis.Close)

	a.publisher = a.newPublisher()

	catalog := domain.DefaultCatalog()
	catalog.DepositMinEnabled = cfg.DepositMinEnabled
	catalog.DepositFeeEnabled = cfg.DepositFeeEnabled
	if err := catalog.Apply(cfg.NetworkOverrides); err != nil {
		a.Close()
		return nil, fmt.Errorf("apply network overrides: %w", err)
	}

	var giftUser uuid.UUID
	if cfg.GiftUserID != "" {
		giftUser, err = uuid.Parse(cfg.GiftUserID)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("parse gift user id: %w", err)
		}
	}

	store := repository.NewStore(a.pool)
	repo := repository.NewRepository(a.pool)
	chainClient := chain.NewHTTPClient(cfg.ChainAPIURL, cfg.ChainAPIToken, cfg.ChainTimeout)

	rates := price.DefaultRates()
	for code, rate := range cfg.FairRates {
		rates[strings.ToLower(code)] = rate
	}
	prices := price.NewCachedEstimator(price.NewRateTable(rates), a.redis, cfg.PriceCacheTTL)

	a.Ledger = service.NewLedgerService(store)
	a.Wallets = service.NewWalletService(repo, a.Ledger)
	a.Deposits = service.NewDepositPipeline(service.DepositDeps{
		Store:     store,
		Ledger:    a.Ledger,
		Catalog:   catalog,
		Chain:     chainClient,
		Invoices:  chainClient,
		Prices:    prices,
		Publisher: a.publisher,
	})

	defaultMethod, err := settlement.ParseMethod(cfg.DefaultSettlementMethod)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Withdraws = service.NewWithdrawService(service.WithdrawDeps{
		Store:      store,
		Ledger:     a.Ledger,
		Catalog:    catalog,
		Settlement: a.settlementRegistry(),
		Resolver:   service.NewInternalResolver(catalog, giftUser),
		Publisher:  a.publisher,
		Window: service.DispatchWindow{
			Location:        cfg.Dispatch.Location(),
			StartHour:       cfg.Dispatch.StartHour,
			EndHour:         cfg.Dispatch.EndHour,
			StartMinute:     cfg.Dispatch.StartMinute,
			EndMinute:       cfg.Dispatch.EndMinute,
			ProcessingGrace: cfg.Dispatch.ProcessingGrace,
		},
		Split:             service.SplitPolicy(cfg.Split),
		VandarSplit:       service.SplitPolicy(cfg.VandarSplit),
		DefaultMethod:     defaultMethod,
		ProcessingDelay:   cfg.WithdrawProcessingDelay,
		CodeTTL:           cfg.VerificationCodeTTL,
		MaxNewRequests:    cfg.MaxNewRequests,
		NewRequestsWindow: cfg.NewRequestsWindow,
		MaxVerifiedPerDay: cfg.MaxVerifiedPerDay,
		GiftUserID:        giftUser,
	})
	a.Reconciliation = service.NewReconciliationService(store, a.publisher)
	return a, nil
}

func (a *App) newPublisher() events.Publisher {
	switch a.cfg.EventsBackend {
	case "kafka":
		p := events.NewKafkaPublisher(a.cfg.KafkaBrokers, a.logger)
		a.closers = append(a.closers, p.Close)
		return p
	case "none":
		return events.NopPublisher{}
	default:
		return events.NewRedisPublisher(a.redis, a.logger)
	}
}

// settlementRegistry registers a backend per configured provider. With mock
// settlement enabled every method, the hot wallet included, is simulated.
func (a *App) settlementRegistry() *settlement.Registry {
	registry := settlement.NewRegistry()
	mock := settlement.NewMockBackend()
	if a.cfg.MockSettlement {
		for _, m := range []settlement.Method{settlement.PayIR, settlement.Vandar, settlement.Jibit, settlement.JibitV2, settlement.Toman} {
			registry.Register(mock.As(m))
		}
	}
	for name, p := range a.cfg.Providers {
		m, err := settlement.ParseMethod(name)
		if err != nil {
			a.logger.Warn("skipping unknown settlement provider", zap.String("provider", name))
			continue
		}
		registry.Register(settlement.NewHTTPProvider(settlement.ProviderConfig{
			Method:  m,
			BaseURL: p.BaseURL,
			Token:   p.Token,
			Timeout: a.cfg.ChainTimeout,
		}))
	}
	registry.Register(mock.As(settlement.HotWallet))
	registry.Register(mock)
	a.logger.Info("settlement backends registered", zap.Any("methods", registry.Methods()))
	return registry
}

// DatabaseURL is the configured postgres URL.
func (a *App) DatabaseURL() string { return a.cfg.DatabaseURL }

// Logger returns the process logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Close releases connections in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
}

// Serve runs the HTTP server and the background workers until a shutdown
// signal arrives.
func (a *App) Serve(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	depositWorker := worker.NewDepositWorker(a.Deposits).
		WithPollInterval(cfg.DepositPollInterval).
		WithRecheck(cfg.DepositCheckInterval).
		WithBatchSize(cfg.DepositBatchSize)
	withdrawWorker := worker.NewWithdrawWorker(a.Withdraws).
		WithPollInterval(cfg.WithdrawPollInterval).
		WithBatchSize(cfg.WithdrawBatchSize)
	reconciliationWorker := worker.NewReconciliationWorker(a.Reconciliation).
		WithInterval(cfg.ReconciliationInterval)

	stops := []func(){
		depositWorker.Run(ctx),
		withdrawWorker.Run(ctx),
		reconciliationWorker.Run(ctx),
	}
	logger.Info("workers started",
		zap.Stringer("deposit", depositWorker),
		zap.Stringer("withdraw", withdrawWorker),
		zap.Duration("reconciliation_interval", cfg.ReconciliationInterval))

	router := api.NewRouter(cfg, logger, a.pool, a.redis, api.Services{
		Wallets:   a.Wallets,
		Ledger:    a.Ledger,
		Deposits:  a.Deposits,
		Withdraws: a.Withdraws,
	})
	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("stopping workers")
	for _, stop := range stops {
		stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return runErr
}

// ObserveOnce checks one batch of deposit addresses due for a scan.
func (a *App) ObserveOnce(ctx context.Context, limit int32) (checked, credited int, err error) {
	return a.Deposits.ObserveDue(ctx, limit, a.cfg.DepositCheckInterval)
}

// ReconcileOnce runs a single ledger integrity pass.
func (a *App) ReconcileOnce(ctx context.Context) (service.ReconciliationReport, error) {
	return a.Reconciliation.Run(ctx)
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
