package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/utafrali/cartorder/internal/catalog"
	cataloghttp "github.com/utafrali/cartorder/internal/catalog/http"
	"github.com/utafrali/cartorder/internal/catalog/memory"
	"github.com/utafrali/cartorder/internal/config"
	"github.com/utafrali/cartorder/internal/event"
	handler "github.com/utafrali/cartorder/internal/handler/http"
	"github.com/utafrali/cartorder/internal/lock"
	"github.com/utafrali/cartorder/internal/repository"
	"github.com/utafrali/cartorder/internal/repository/postgres"
	redisrepo "github.com/utafrali/cartorder/internal/repository/redis"
	"github.com/utafrali/cartorder/internal/service"
	"github.com/utafrali/cartorder/migrations"
	"github.com/utafrali/cartorder/pkg/database"
	"github.com/utafrali/cartorder/pkg/health"
	"github.com/utafrali/cartorder/pkg/httpclient"
	pkgkafka "github.com/utafrali/cartorder/pkg/kafka"
	"github.com/utafrali/cartorder/pkg/middleware"
	"github.com/utafrali/cartorder/pkg/tracing"
)

const (
	serviceName    = "cartorder"
	serviceVersion = "0.1.0"

	startupTimeout  = 10 * time.Second
	drainTimeout    = 5 * time.Second
	releaseTimeout  = 3 * time.Second
	writeTimeoutPad = 15 * time.Second
)

// resource is something the app must release on shutdown.
type resource struct {
	name  string
	close func(context.Context) error
}

// App runs the cart-order HTTP service.
type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	httpServer *http.Server
	// resources are released in reverse order of acquisition.
	resources []resource
}

func (a *App) acquired(name string, closeFn func(context.Context) error) {
	a.resources = append(a.resources, resource{name: name, close: closeFn})
}

// NewApp connects to every backing service and builds the HTTP server. Any
// resource acquired before a failure is released before returning.
func NewApp(cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.release()
		}
	}()

	tracerShutdown, err := tracing.InitTracer(ctx, cfg.Tracing(serviceName, serviceVersion))
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	a.acquired("tracer", tracerShutdown)

	pgCfg := cfg.Postgres()
	pool, err := database.NewPostgresPoolWithLogger(ctx, &pgCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	a.acquired("postgres", func(context.Context) error {
		pool.Close()
		return nil
	})
	logger.Info("connected to PostgreSQL",
		slog.String("host", pgCfg.Host),
		slog.String("database", pgCfg.DBName),
	)
	database.RegisterPoolMetrics(pool, serviceName)
	database.SetSlowQueryLogging(cfg.SlowQueryThreshold(), logger)

	if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	redisClient, err := database.NewRedisClient(ctx, cfg.Redis())
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	a.acquired("redis", func(context.Context) error { return redisClient.Close() })
	logger.Info("connected to Redis", slog.String("addr", cfg.RedisAddr))

	producer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
	a.acquired("kafka producer", func(context.Context) error { return producer.Close() })

	stores := repository.CartStores{
		Session:    redisrepo.NewSessionCartStore(redisClient, cfg.SessionCartTTL()),
		Persistent: postgres.NewCartStore(pool),
	}
	orders := postgres.NewOrderRepository(pool)
	events := event.NewProducer(producer, logger)
	guard := newGuard(cfg, redisClient)
	lookup := newCatalog(cfg, redisClient, logger)
	logger.Info("cart backends ready",
		slog.String("lock_backend", cfg.LockBackend),
		slog.String("catalog_backend", cfg.CatalogBackend),
	)

	svcs := handler.Services{
		Cart:     service.NewCartService(stores, guard, lookup, events, logger, cfg.Currency, cfg.LockWait),
		Checkout: service.NewCheckoutService(stores, guard, lookup, events, logger, cfg.Currency, cfg.LockWait, cfg.CheckoutTimeout),
		Orders:   service.NewOrderService(orders, logger),
		Payments: service.NewPaymentService(postgres.NewPaymentRepository(pool), orders, events, logger),
	}

	checks := health.NewHandler()
	checks.RegisterCritical("postgres", pool.Ping)
	checks.RegisterCritical("redis", func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	checks.RegisterNonCritical("kafka", producer.Ping)

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.CORSAllowedOrigins
	corsCfg.Environment = cfg.Environment

	router := handler.NewRouter(svcs, checks, logger, handler.RouterConfig{
		CORS:           corsCfg,
		PprofCIDRs:     cfg.PprofAllowedCIDRs,
		RequestTimeout: cfg.RequestBudget() + drainTimeout,
	})

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.RequestBudget() + writeTimeoutPad,
		IdleTimeout:       60 * time.Second,
	}
	return a, nil
}

// newGuard picks the cart lock. The local guard only serializes requests
// inside this process.
func newGuard(cfg *config.Config, client *redis.Client) lock.Guard {
	if cfg.LockBackend == config.LockBackendRedis {
		return lock.NewRedis(client, cfg.LockTTL)
	}
	return lock.NewLocal()
}

// newCatalog picks the catalog. The HTTP catalog reaches the product service
// through a retrying client behind a circuit breaker and caches hits in Redis.
func newCatalog(cfg *config.Config, cache *redis.Client, logger *slog.Logger) catalog.Lookup {
	if cfg.CatalogBackend == config.CatalogBackendMemory {
		return memory.New(memory.DefaultItems()...)
	}

	breaker := cfg.CatalogBreaker()
	doer := httpclient.NewCircuitBreakerClient(httpclient.New(httpclient.DefaultConfig()), breaker, logger)
	logger.Info("catalog circuit breaker configured",
		slog.String("name", breaker.Name),
		slog.Duration("open_timeout", breaker.Timeout),
		slog.Float64("failure_ratio", breaker.FailureRatio),
		slog.Uint64("min_requests", uint64(breaker.MinRequests)),
	)
	return cataloghttp.NewClient(doer, cfg.ProductServiceURL, cache, cfg.CatalogCacheTTL, logger)
}

// Run serves HTTP until ctx is canceled or the listener fails, then shuts down.
func (a *App) Run(ctx context.Context) error {
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("starting HTTP server", slog.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
		return a.Shutdown()
	case err := <-serveErr:
		return errors.Join(err, a.release())
	}
}

// Shutdown drains in-flight requests, checkouts included, and then releases
// every backing resource.
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	var errs []error
	if err := a.httpServer.Shutdown(drainCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	errs = append(errs, a.release())

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// release closes resources newest first, so the producer is flushed before
// the tracer exports its last spans.
func (a *App) release() error {
	var errs []error
	for _, r := range slices.Backward(a.resources) {
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		if err := r.close(ctx); err != nil {
			a.logger.Error("release failed", slog.String("resource", r.name), slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("close %s: %w", r.name, err))
		}
		cancel()
	}
	a.resources = nil
	return errors.Join(errs...)
}
