package config

import (
	"fmt"
	"net/url"
	"time"

	pkgconfig "github.com/utafrali/cartorder/pkg/config"
	"github.com/utafrali/cartorder/pkg/database"
	"github.com/utafrali/cartorder/pkg/httpclient"
	"github.com/utafrali/cartorder/pkg/tracing"
)

// Lock backends.
const (
	LockBackendLocal = "local"
	LockBackendRedis = "redis"
)

// Catalog backends.
const (
	CatalogBackendHTTP   = "http"
	CatalogBackendMemory = "memory"
)

// Config holds all configuration for the cart-order service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"CARTORDER_HTTP_PORT" envDefault:"8003"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"ecommerce"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"ecommerce_secret"`
	PostgresDB   string `env:"CARTORDER_DB_NAME" envDefault:"cartorder_db"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Database pool
	DBMaxConns            int32 `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns            int32 `env:"DB_MIN_CONNS" envDefault:"5"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"60"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINUTES" envDefault:"30"`

	// Redis
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// Session carts live in Redis and expire after this many idle hours.
	SessionCartTTLHours int `env:"SESSION_CART_TTL_HOURS" envDefault:"72"`

	// Cart locking
	LockBackend string        `env:"LOCK_BACKEND" envDefault:"local"`
	LockTTL     time.Duration `env:"LOCK_TTL" envDefault:"30s"`
	LockWait    time.Duration `env:"LOCK_WAIT" envDefault:"5s"`

	// Checkout
	CheckoutTimeout time.Duration `env:"CHECKOUT_TIMEOUT" envDefault:"10s"`
	Currency        string        `env:"CURRENCY" envDefault:"USD"`

	// Catalog
	CatalogBackend    string        `env:"CATALOG_BACKEND" envDefault:"http"`
	ProductServiceURL string        `env:"PRODUCT_SERVICE_URL" envDefault:"http://localhost:8001"`
	CatalogCacheTTL   time.Duration `env:"CATALOG_CACHE_TTL" envDefault:"30s"`

	// Circuit breaker for catalog calls
	CBMaxRequests  uint32  `env:"CB_MAX_REQUESTS" envDefault:"1"`
	CBInterval     int     `env:"CB_INTERVAL_SECONDS" envDefault:"60"`
	CBTimeout      int     `env:"CB_TIMEOUT_SECONDS" envDefault:"30"`
	CBFailureRatio float64 `env:"CB_FAILURE_RATIO" envDefault:"0.5"`
	CBMinRequests  uint32  `env:"CB_MIN_REQUESTS" envDefault:"5"`

	// Kafka
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// Pprof debug endpoints (IP allowlist in CIDR notation)
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"10.0.0.0/8,172.16.0.0/12,192.168.0.0/16,127.0.0.0/8,::1/128" envSeparator:","`

	// Slow query logging
	SlowQueryThresholdMs int `env:"LOG_SLOW_QUERY_MS" envDefault:"500"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	return load(pkgconfig.Load)
}

// LoadFrom reads configuration from environ instead of the process environment.
func LoadFrom(environ map[string]string) (*Config, error) {
	return load(func(cfg any) error {
		return pkgconfig.LoadFrom(cfg, environ)
	})
}

func load(parse func(cfg any) error) (*Config, error) {
	cfg := &Config{}
	if err := parse(cfg); err != nil {
		return nil, fmt.Errorf("load cartorder config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.PostgresHost == "" {
		return fmt.Errorf("POSTGRES_HOST is required")
	}
	if c.PostgresUser == "" {
		return fmt.Errorf("POSTGRES_USER is required")
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR is required")
	}
	if c.SessionCartTTLHours < 1 {
		return fmt.Errorf("SESSION_CART_TTL_HOURS must be at least 1, got %d", c.SessionCartTTLHours)
	}
	switch c.LockBackend {
	case LockBackendLocal, LockBackendRedis:
	default:
		return fmt.Errorf("LOCK_BACKEND must be %q or %q, got %q", LockBackendLocal, LockBackendRedis, c.LockBackend)
	}
	if c.LockTTL <= 0 {
		return fmt.Errorf("LOCK_TTL must be positive")
	}
	if c.LockWait <= 0 {
		return fmt.Errorf("LOCK_WAIT must be positive")
	}
	// The lock must outlive a checkout, otherwise a slow transaction could lose it.
	if c.LockBackend == LockBackendRedis && c.LockTTL <= c.CheckoutTimeout {
		return fmt.Errorf("LOCK_TTL (%s) must exceed CHECKOUT_TIMEOUT (%s)", c.LockTTL, c.CheckoutTimeout)
	}
	if c.CheckoutTimeout <= 0 {
		return fmt.Errorf("CHECKOUT_TIMEOUT must be positive")
	}
	if len(c.Currency) != 3 {
		return fmt.Errorf("CURRENCY must be a 3-letter ISO code, got %q", c.Currency)
	}
	switch c.CatalogBackend {
	case CatalogBackendMemory:
	case CatalogBackendHTTP:
		if _, err := url.ParseRequestURI(c.ProductServiceURL); err != nil {
			return fmt.Errorf("invalid PRODUCT_SERVICE_URL %q: %w", c.ProductServiceURL, err)
		}
	default:
		return fmt.Errorf("CATALOG_BACKEND must be %q or %q, got %q", CatalogBackendHTTP, CatalogBackendMemory, c.CatalogBackend)
	}
	if len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	return nil
}

// SessionCartTTL returns the idle lifetime of a session cart.
func (c *Config) SessionCartTTL() time.Duration {
	return time.Duration(c.SessionCartTTLHours) * time.Hour
}

// Postgres returns the connection pool settings.
func (c *Config) Postgres() database.PostgresConfig {
	return database.PostgresConfig{
		Host:            c.PostgresHost,
		Port:            c.PostgresPort,
		User:            c.PostgresUser,
		Password:        c.PostgresPass,
		DBName:          c.PostgresDB,
		SSLMode:         c.PostgresSSL,
		MaxConns:        c.DBMaxConns,
		MinConns:        c.DBMinConns,
		MaxConnLifetime: time.Duration(c.DBMaxConnLifetimeMins) * time.Minute,
		MaxConnIdleTime: time.Duration(c.DBMaxConnIdleTimeMins) * time.Minute,
	}
}

// Redis returns the client settings shared by session carts, locks and the
// catalog cache.
func (c *Config) Redis() database.RedisConfig {
	return database.RedisConfig{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB}
}

// Tracing returns the tracer settings for serviceName.
func (c *Config) Tracing(serviceName, version string) tracing.Config {
	return tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Environment:    c.Environment,
		OTLPEndpoint:   c.OTELEndpoint,
		SampleRate:     c.OTELSampleRate,
		Enabled:        c.OTELEnabled,
	}
}

// CatalogBreaker returns the circuit breaker guarding catalog calls.
func (c *Config) CatalogBreaker() httpclient.CircuitBreakerConfig {
	return httpclient.CircuitBreakerConfig{
		Name:         "catalog",
		MaxRequests:  c.CBMaxRequests,
		Interval:     time.Duration(c.CBInterval) * time.Second,
		Timeout:      time.Duration(c.CBTimeout) * time.Second,
		FailureRatio: c.CBFailureRatio,
		MinRequests:  c.CBMinRequests,
	}
}

// SlowQueryThreshold is zero when slow query logging is off.
func (c *Config) SlowQueryThreshold() time.Duration {
	return time.Duration(c.SlowQueryThresholdMs) * time.Millisecond
}

// RequestBudget is the longest a request may run: a checkout that waits the
// full LockWait and then runs to CheckoutTimeout.
func (c *Config) RequestBudget() time.Duration {
	return c.LockWait + c.CheckoutTimeout
}
