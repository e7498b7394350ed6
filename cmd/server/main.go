package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"splitpay/internal/events"
	"splitpay/internal/fx"
	"splitpay/internal/groupcheckout"
	grouphandler "splitpay/internal/groupcheckout/handler"
	"splitpay/internal/health"
	"splitpay/internal/openpayments"
	"splitpay/internal/platform/config"
	"splitpay/internal/platform/httpserver"
	"splitpay/internal/platform/kafka"
	"splitpay/internal/platform/logger"
	"splitpay/internal/platform/metrics"
	"splitpay/internal/platform/middleware"
	"splitpay/internal/platform/postgres"
	"splitpay/internal/platform/redis"
	"splitpay/internal/splitpayment/cache"
	splithandler "splitpay/internal/splitpayment/handler"
	splitmetrics "splitpay/internal/splitpayment/metrics"
	"splitpay/internal/splitpayment/orchestrator"
	"splitpay/internal/splitpayment/service"
	"splitpay/internal/splitpayment/store"
	httptransport "splitpay/internal/transport/http"
	"splitpay/internal/wallet"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	hc := health.NewHandler(0)

	var splitStore service.Store = store.NewInMemory()
	db, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
		if err := db.RunMigrations(ctx); err != nil {
			return err
		}
		splitStore = store.NewPostgres(db.Pool)
		hc.Add("postgres", db)
		log.Info("using postgres split-payment store")
	} else {
		hc.Add("postgres", nil)
		log.Warn("DATABASE_URL not set, split payments are kept in memory")
	}

	rdb, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	var (
		snapshots   service.Cache
		correlation groupcheckout.CorrelationStore = groupcheckout.NewInMemoryStore(cfg.Group.CorrelationTTL)
		wallets     wallet.Cache                   = wallet.NewMemoryCache(cfg.HTTP.WalletCacheTTL)
	)
	if rdb != nil {
		defer rdb.Close()
		snapshots = cache.NewRedis(rdb.Client, cfg.Split.SnapshotTTL)
		correlation = groupcheckout.NewRedisStore(rdb.Client, cfg.Group.CorrelationTTL)
		wallets = wallet.NewRedisCache(rdb.Client, cfg.HTTP.WalletCacheTTL)
		hc.Add("redis", rdb)
	} else {
		hc.Add("redis", nil)
		log.Warn("REDIS_URL not set, caches and correlation entries are in-process")
	}

	publisher := events.NewPublisher(0, log)
	var sink events.Sink = events.NewLogSink(log)
	producer, err := kafka.New(ctx, cfg.Kafka)
	if err != nil {
		return err
	}
	if producer != nil {
		defer producer.Close()
		sink = events.NewKafkaSink(producer)
		hc.Add("kafka", producer)
	} else {
		hc.Add("kafka", nil)
	}

	clientOpts := []openpayments.Option{
		openpayments.WithWalletTimeout(cfg.OpenPayments.WalletTimeout),
		openpayments.WithHTTPClient(&http.Client{Timeout: cfg.OpenPayments.RequestTimeout}),
		openpayments.WithLogger(log),
	}
	if cfg.OpenPayments.PrivateKeyPath != "" {
		signer, err := openpayments.LoadSigner(cfg.OpenPayments.KeyID, cfg.OpenPayments.PrivateKeyPath)
		if err != nil {
			return err
		}
		clientOpts = append(clientOpts, openpayments.WithSigner(signer))
	} else {
		log.Warn("PRIVATE_KEY_PATH not set, protocol requests are unsigned")
	}
	protocol := openpayments.NewClient(cfg.OpenPayments.WalletAddressURL, clientOpts...)

	omission, err := orchestrator.ParseOmissionPolicy(cfg.Split.OmissionPolicy)
	if err != nil {
		return err
	}
	engine := orchestrator.New(protocol,
		orchestrator.WithCallbackBaseURL(cfg.Split.CallbackBaseURL),
		orchestrator.WithFanOutLimit(cfg.Split.FanOutLimit),
		orchestrator.WithOmissionPolicy(omission),
		orchestrator.WithLogger(log),
		orchestrator.WithMetrics(splitmetrics.New()),
	)
	svcOpts := []service.Option{service.WithEvents(publisher), service.WithLogger(log)}
	if snapshots != nil {
		svcOpts = append(svcOpts, service.WithCache(snapshots))
	}
	splitSvc := service.New(splitStore, engine, svcOpts...)

	groupSvc := groupcheckout.New(protocol, correlation, cfg.Split.CallbackBaseURL,
		groupcheckout.WithFanOutLimit(cfg.Split.FanOutLimit),
		groupcheckout.WithEvents(publisher),
		groupcheckout.WithLogger(log),
	)

	rateClient := &http.Client{}
	market := fx.NewChain(log,
		fx.NewExchangeRateHost(cfg.FX.ExchangeRateURL, rateClient, cfg.FX.ProviderTimeout, log),
		fx.NewFrankfurter(cfg.FX.FrankfurterURL, rateClient, cfg.FX.ProviderTimeout, log),
		fx.NewOpenER(cfg.FX.OpenERURL, rateClient, cfg.FX.ProviderTimeout, log),
	)
	fxSvc := fx.NewService(protocol, market, cfg.FX.DemoWallets, log)

	limiter := middleware.NewRateLimiter(cfg.HTTP.RateLimitPerMin, cfg.HTTP.RateLimitBurst, log)
	router := httptransport.NewRouter(httptransport.Deps{
		Config:  cfg.HTTP,
		Logger:  log,
		Metrics: metrics.New(),
		Limiter: limiter,
		Health:  hc,
		Routes: []httptransport.Registrar{
			splithandler.New(splitSvc, log),
			grouphandler.New(groupSvc, log),
			fx.NewHandler(fxSvc, log),
			wallet.NewHandler(wallet.NewService(protocol, wallets, log), log),
		},
	})
	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := events.NewWorker(sink, publisher.Inbox(), log).Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		limiter.Run(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info("starting splitpay", "addr", cfg.Addr, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
