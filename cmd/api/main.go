package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/reserve/db/postgres/migrations"
	"example.com/reserve/internal/api"
	"example.com/reserve/internal/auth"
	"example.com/reserve/internal/config"
	"example.com/reserve/internal/domain"
	"example.com/reserve/internal/observability"
	"example.com/reserve/internal/outbox"
	"example.com/reserve/internal/persistence/memory"
	persistence "example.com/reserve/internal/persistence/postgres"
	httptransport "example.com/reserve/internal/transport/http"
	"example.com/reserve/internal/treasury"
	"example.com/reserve/pkg/events"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.ServiceName+"-api", cfg.Level())
	if _, err := observability.AdjustMaxProcs(logger); err != nil {
		logger.Warn("could not adjust GOMAXPROCS", "error", err)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("reserve api stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, observability.TracingConfig{
		ServiceName: cfg.ServiceName,
		Endpoint:    cfg.OTLPEndpoint,
		Stdout:      cfg.TraceStdout,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	var (
		store      domain.Store
		reserve    *domain.Reserve
		dispatcher *outbox.Dispatcher
	)
	if cfg.PostgresURL == "" {
		logger.Warn("no postgres url configured, ledger is kept in memory only")
		store = memory.NewStore()
	} else {
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return err
		}
		defer pool.Close()

		if cfg.RunMigrations {
			if err := migrations.Migrate(ctx, pool); err != nil {
				return err
			}
		}

		repo := persistence.NewRepository(pool)
		snapshot, err := repo.Load(ctx)
		if err != nil {
			return err
		}
		if reserve, err = domain.Restore(snapshot); err != nil {
			return err
		}
		store = repo

		producer := outbox.NewKafkaProducer(cfg.KafkaBrokers, events.Topics())
		defer producer.Close()
		registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
		dispatcher = outbox.NewDispatcher(pool, producer, registry, cfg.OutboxPollInterval, cfg.OutboxBatchSize,
			outbox.WithDispatcherLogger(logger))
	}

	service := domain.NewService(reserve,
		domain.WithStore(store),
		domain.WithTreasury(treasury.NewBook(treasury.WithLogger(logger))),
		domain.WithGuard(cfg.Guard()),
		domain.WithLogger(logger),
	)
	if err := bootstrap(ctx, service, cfg.Bootstrap, logger); err != nil {
		return err
	}

	dispatchCtx, cancelDispatch := context.WithCancel(context.Background())
	defer cancelDispatch()
	if dispatcher != nil {
		go dispatcher.Start(dispatchCtx)
	}

	mux := http.NewServeMux()
	api.NewHandler(service, logger).RegisterRoutes(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}, api.WriteAuthError)
	limiter := httptransport.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, 10*time.Minute)
	caller := func(r *http.Request) (string, bool) { return auth.Caller(r.Context()) }

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, httptransport.Chain(mux,
		httptransport.RequestLogger(logger),
		authMiddleware.Wrap,
		httptransport.RateLimit(limiter, caller),
	))

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("reserve api listening", "address", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}

	cancelDispatch()
	if dispatcher != nil {
		dispatcher.Wait()
	}
	return nil
}

// bootstrap initializes an empty ledger from configuration. An already
// initialized ledger is left as is.
func bootstrap(ctx context.Context, service *domain.Service, b config.Bootstrap, logger *slog.Logger) error {
	if b.AdminIdentity == "" {
		return nil
	}
	err := service.Initialize(ctx, b.AdminIdentity, b.MinCapitalContribution, b.MaxParticipants)
	switch {
	case err == nil:
		logger.Info("reserve initialized", "admin", b.AdminIdentity, "min_contribution", b.MinCapitalContribution, "max_participants", b.MaxParticipants)
		return nil
	case errors.Is(err, domain.ErrAlreadyInitialized):
		return nil
	default:
		return err
	}
}
