package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		HTTPPort:            8003,
		PostgresHost:        "localhost",
		PostgresUser:        "ecommerce",
		RedisAddr:           "localhost:6379",
		SessionCartTTLHours: 72,
		LockBackend:         LockBackendLocal,
		LockTTL:             30 * time.Second,
		LockWait:            5 * time.Second,
		CheckoutTimeout:     10 * time.Second,
		Currency:            "USD",
		CatalogBackend:      CatalogBackendHTTP,
		ProductServiceURL:   "http://localhost:8001",
		KafkaBrokers:        []string{"localhost:9092"},
		OTELSampleRate:      1.0,
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadFrom(nil)

	require.NoError(t, err)
	assert.Equal(t, 8003, cfg.HTTPPort)
	assert.Equal(t, "cartorder_db", cfg.PostgresDB)
	assert.Equal(t, LockBackendLocal, cfg.LockBackend)
	assert.Equal(t, 30*time.Second, cfg.LockTTL)
	assert.Equal(t, 5*time.Second, cfg.LockWait)
	assert.Equal(t, 10*time.Second, cfg.CheckoutTimeout)
	assert.Equal(t, "USD", cfg.Currency)
	assert.Equal(t, CatalogBackendHTTP, cfg.CatalogBackend)
	assert.Equal(t, 72*time.Hour, cfg.SessionCartTTL())
	assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
}

func TestLoadFrom(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"CARTORDER_HTTP_PORT":    "9100",
		"LOCK_BACKEND":           "redis",
		"LOCK_TTL":               "1m",
		"CATALOG_BACKEND":        "memory",
		"KAFKA_BROKERS":          "k1:9092,k2:9092",
		"SESSION_CART_TTL_HOURS": "24",
	})

	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.HTTPPort)
	assert.Equal(t, LockBackendRedis, cfg.LockBackend)
	assert.Equal(t, time.Minute, cfg.LockTTL)
	assert.Equal(t, CatalogBackendMemory, cfg.CatalogBackend)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 24*time.Hour, cfg.SessionCartTTL())
}

func TestLoad_FromProcessEnv(t *testing.T) {
	t.Setenv("CURRENCY", "EUR")

	cfg, err := Load()

	require.NoError(t, err)
	assert.Equal(t, "EUR", cfg.Currency)
}

func TestLoadFrom_InvalidDuration(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{"LOCK_WAIT": "soon"})

	assert.Error(t, err)
	assert.Nil(t, cfg)
}

func TestLoadFrom_FailsValidation(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{"LOCK_BACKEND": "redis", "LOCK_TTL": "5s"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "LOCK_TTL")
	assert.Nil(t, cfg)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"port too high", func(c *Config) { c.HTTPPort = 70000 }, "invalid HTTP port"},
		{"no redis", func(c *Config) { c.RedisAddr = "" }, "REDIS_ADDR"},
		{"zero session ttl", func(c *Config) { c.SessionCartTTLHours = 0 }, "SESSION_CART_TTL_HOURS"},
		{"unknown lock backend", func(c *Config) { c.LockBackend = "etcd" }, "LOCK_BACKEND"},
		{"redis lock ttl shorter than checkout", func(c *Config) {
			c.LockBackend = LockBackendRedis
			c.LockTTL = 5 * time.Second
		}, "LOCK_TTL"},
		{"zero lock wait", func(c *Config) { c.LockWait = 0 }, "LOCK_WAIT"},
		{"zero checkout timeout", func(c *Config) { c.CheckoutTimeout = 0 }, "CHECKOUT_TIMEOUT"},
		{"bad currency", func(c *Config) { c.Currency = "DOLLAR" }, "CURRENCY"},
		{"unknown catalog backend", func(c *Config) { c.CatalogBackend = "grpc" }, "CATALOG_BACKEND"},
		{"bad product url", func(c *Config) { c.ProductServiceURL = "not a url" }, "PRODUCT_SERVICE_URL"},
		{"memory catalog ignores url", func(c *Config) {
			c.CatalogBackend = CatalogBackendMemory
			c.ProductServiceURL = ""
		}, ""},
		{"no kafka", func(c *Config) { c.KafkaBrokers = nil }, "KAFKA_BROKERS"},
		{"sample rate", func(c *Config) { c.OTELSampleRate = 1.5 }, "OTEL_SAMPLE_RATE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDerivedSettings(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"POSTGRES_HOST":                "db",
		"DB_MAX_CONN_LIFETIME_MINUTES": "15",
		"REDIS_DB":                     "2",
		"CB_TIMEOUT_SECONDS":           "9",
		"LOG_SLOW_QUERY_MS":            "250",
		"OTEL_ENABLED":                 "true",
	})
	require.NoError(t, err)

	pg := cfg.Postgres()
	assert.Equal(t, "db", pg.Host)
	assert.Equal(t, 15*time.Minute, pg.MaxConnLifetime)
	assert.Equal(t, "cartorder_db", pg.DBName)

	assert.Equal(t, 2, cfg.Redis().DB)

	tr := cfg.Tracing("cartorder", "1.2.3")
	assert.True(t, tr.Enabled)
	assert.Equal(t, "1.2.3", tr.ServiceVersion)
	assert.Equal(t, "localhost:4318", tr.OTLPEndpoint)

	cb := cfg.CatalogBreaker()
	assert.Equal(t, "catalog", cb.Name)
	assert.Equal(t, 9*time.Second, cb.Timeout)
	assert.Equal(t, time.Minute, cb.Interval)

	assert.Equal(t, 250*time.Millisecond, cfg.SlowQueryThreshold())
	assert.Equal(t, 15*time.Second, cfg.RequestBudget())
}
