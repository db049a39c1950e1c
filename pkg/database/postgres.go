package database

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig holds PostgreSQL connection and pool settings.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string

	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// DSN returns the connection URL. User and password are escaped.
func (c *PostgresConfig) DSN() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.DBName,
		RawQuery: url.Values{"sslmode": {c.SSLMode}}.Encode(),
	}
	return u.String()
}

const (
	connectAttempts     = 3
	connectBaseWait     = time.Second
	retryJitterFraction = 0.25
)

// retryBackoff returns the wait before retry number attempt (0-indexed):
// 1s, 2s, 4s, each spread by ±25%.
func retryBackoff(attempt int) time.Duration {
	base := connectBaseWait << max(attempt, 0)
	jitter := time.Duration(float64(base) * retryJitterFraction * (2*rand.Float64() - 1)) // #nosec G404 -- jitter only
	return base + jitter
}

// NewPostgresPoolWithLogger connects to PostgreSQL, retrying startup failures
// and logging each retry on logger, which may be nil. A pool is returned only
// once it answers a ping.
func NewPostgresPoolWithLogger(ctx context.Context, cfg *PostgresConfig, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	connect := func() (*pgxpool.Pool, error) {
		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, fmt.Errorf("create pool: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping: %w", err)
		}
		return pool, nil
	}

	return withRetry(ctx, connectPolicy, logger, connect)
}

// retryPolicy bounds how often an operation is retried.
type retryPolicy struct {
	op        string
	attempts  int
	wait      func(attempt int) time.Duration
	retryable func(error) bool // nil retries every error
}

var connectPolicy = retryPolicy{
	op:       "connect to postgres",
	attempts: connectAttempts,
	wait:     retryBackoff,
}

// withRetry calls fn up to p.attempts times, sleeping p.wait(i) after the
// i-th failure. Errors p.retryable rejects are returned unwrapped.
func withRetry[T any](ctx context.Context, p retryPolicy, logger *slog.Logger, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt < p.attempts; attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if p.retryable != nil && !p.retryable(err) {
			return zero, err
		}
		lastErr = err
		if attempt == p.attempts-1 {
			break
		}

		d := p.wait(attempt)
		if logger != nil {
			logger.Warn(p.op+" failed, retrying",
				slog.Int("attempt", attempt+1),
				slog.Int("max_attempts", p.attempts),
				slog.Duration("backoff", d),
				slog.String("error", err.Error()),
			)
		}
		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("%s: %w", p.op, ctx.Err())
		case <-time.After(d):
		}
	}
	return zero, fmt.Errorf("%s after %d attempts: %w", p.op, p.attempts, lastErr)
}
