package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"orderpay/internal/app"
	"orderpay/internal/config"
	"orderpay/internal/gateway"
	"orderpay/internal/handler"
	"orderpay/internal/metrics"
	"orderpay/internal/rabbitmq"
	internalRedis "orderpay/internal/redis"
	"orderpay/internal/repository/postgres"
	"orderpay/internal/service"
	"orderpay/internal/worker"
)

func main() {
	// Load configuration.
	cfg := config.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize New Relic FIRST (before database so we can instrument DB).
	var nrApp *newrelic.Application
	var err error
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			log.Printf("failed to initialize New Relic: %v", err)
		} else {
			log.Printf("New Relic enabled: app=%s (with DB instrumentation)", cfg.NewRelic.AppName)
		}
	}

	db, err := app.NewDatabase(ctx, cfg.Database, nrApp)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Connected to PostgreSQL")

	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			log.Fatalf("failed to migrate database: %v", err)
		}
		log.Println("Database schema is up to date")
	}

	redisClient, err := app.NewRedisClient(ctx, cfg.Redis, nrApp)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Connected to Redis")

	if cfg.Payment.ServiceToken == "" {
		log.Println("WARNING: PAYMENT_SERVICE_TOKEN is empty; background retries will be rejected by the provider")
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := wire(db, redisClient, nrApp, cfg)
	if err != nil {
		log.Fatalf("failed to wire dependencies: %v", err)
	}
	defer srv.close()

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		log.Printf("Starting server on port %s", cfg.Server.Port)
		if err := srv.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		log.Printf("Starting %s retry worker", cfg.Worker.Backend)
		return srv.runRetries(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Println("Shutting down server...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.http.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Printf("server stopped with error: %v", err)
	}

	if nrApp != nil {
		nrApp.Shutdown(5 * time.Second)
	}
	log.Println("Server exited")
}

// server bundles the HTTP server with the background retry loop.
type server struct {
	http       *http.Server
	runRetries func(ctx context.Context) error
	closers    []func() error
}

func (s *server) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			log.Printf("close: %v", err)
		}
	}
}

// wire wires all dependencies and returns the HTTP server and retry loop.
func wire(db *sql.DB, redisClient *redis.Client, nrApp *newrelic.Application, cfg *config.Config) (*server, error) {
	srv := &server{}

	// Metrics.
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	serverMetrics := metrics.NewServerMetrics(registry)
	paymentMetrics := metrics.NewPaymentMetrics(registry)

	// Redis stores.
	lockStore := internalRedis.NewLockStore(redisClient)
	cacheStore := internalRedis.NewCacheStore(redisClient)
	rateLimiter := internalRedis.NewRateLimiter(redisClient)
	pendingRetries := internalRedis.NewPendingRetryStore(redisClient)

	store := postgres.NewStore(db)

	// Payment gateway. Interactive calls get a long timeout with few
	// attempts; background retries get a short timeout with more.
	simulator := gateway.NewSimulator(gateway.DeciderForMode(cfg.Payment.SimulatorMode))
	var interactive, background service.PaymentGateway
	if cfg.Payment.GatewayURL == "" {
		log.Printf("[GATEWAY] No gateway URL configured; charging through the in-process simulator (mode=%s)", cfg.Payment.SimulatorMode)
		interactive, background = simulator, simulator
	} else {
		interactive = gateway.NewClient(gatewayClientConfig(cfg.Payment.GatewayURL, cfg.Payment.Interactive))
		background = gateway.NewClient(gatewayClientConfig(cfg.Payment.GatewayURL, cfg.Payment.Background))
	}

	// Retry scheduling backend.
	var scheduler service.RetryScheduler
	var paymentService *service.PaymentService

	switch cfg.Worker.Backend {
	case "rabbitmq":
		conn, publishCh, err := rabbitmq.SetupConn(cfg.RabbitMQ.URL, 5)
		if err != nil {
			return nil, err
		}
		srv.closers = append(srv.closers, conn.Close)

		rmqScheduler, err := rabbitmq.NewScheduler(publishCh)
		if err != nil {
			return nil, err
		}
		consumeCh, err := conn.Channel()
		if err != nil {
			return nil, err
		}
		scheduler = rmqScheduler
		srv.runRetries = func(ctx context.Context) error {
			consumer := rabbitmq.NewConsumer(consumeCh, rmqScheduler, paymentService, nrApp, int(cfg.Worker.BatchSize), 0)
			return consumer.Run(ctx)
		}
		log.Println("Connected to RabbitMQ")

	case "redis", "":
		queue := internalRedis.NewRetryQueue(redisClient)
		queue.SetVisibilityTimeout(cfg.Worker.VisibilityTimeout)
		scheduler = queue
		srv.runRetries = func(ctx context.Context) error {
			w := worker.NewRetryWorker(queue, paymentService, nrApp, worker.RetryWorkerConfig{
				Interval:  cfg.Worker.PollInterval,
				BatchSize: cfg.Worker.BatchSize,
			})
			return w.Run(ctx)
		}

	default:
		return nil, errors.New("unknown RETRY_BACKEND " + cfg.Worker.Backend + `; use "redis" or "rabbitmq"`)
	}

	// Services.
	orderService := service.NewOrderService(store, cacheStore, cfg.Payment.Provider)
	paymentService = service.NewPaymentService(service.PaymentDeps{
		Store:        store,
		Gateway:      interactive,
		RetryGateway: background,
		Scheduler:    scheduler,
		Locker:       lockStore,
		Cache:        cacheStore,
		Pending:      pendingRetries,
		Reporter:     service.NewOutcomeReporter(nrApp, paymentMetrics),
		Config: service.PaymentConfig{
			Method:       cfg.Payment.Method,
			RetryDelay:   cfg.Payment.RetryDelay,
			MaxRetries:   cfg.Payment.MaxRetries,
			LockTTL:      cfg.Payment.LockTTL,
			ServiceToken: cfg.Payment.ServiceToken,
		},
	})

	// Handlers.
	orderHandler := handler.NewOrderHandler(orderService)
	paymentHandler := handler.NewPaymentHandler(paymentService)
	mockProviderHandler := handler.NewMockProviderHandler(orderService, simulator)

	router := app.NewRouter(app.RouterDeps{
		OrderHandler:        orderHandler,
		PaymentHandler:      paymentHandler,
		MockProviderHandler: mockProviderHandler,
		RedisClient:         redisClient,
		RateLimiter:         rateLimiter,
		ServerMetrics:       serverMetrics,
		Gatherer:            registry,
		NewRelicApp:         nrApp,
		HTTP:                cfg.HTTP,
	})

	srv.http = &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return srv, nil
}

func gatewayClientConfig(url string, p config.GatewayProfile) gateway.ClientConfig {
	return gateway.ClientConfig{
		URL:      url,
		Timeout:  p.Timeout,
		Attempts: p.Attempts,
		Backoff:  p.Backoff,
	}
}
