package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/lbwatch/internal/logger"
	"github.com/MrSnakeDoc/lbwatch/internal/resilience"
)

// ConnectOptions defines Redis connection retry behavior.
type ConnectOptions struct {
	Addr           string        // Redis address (ex: "localhost:6379")
	User           string        // Optional username
	Password       string        // Optional password
	RedisDB        int           // Redis DB number
	DialTimeout    time.Duration // Redis dial timeout
	ReadTimeout    time.Duration // Redis read timeout
	WriteTimeout   time.Duration // Redis write timeout
	PoolSize       int           // Redis connection pool size
	ConnectTimeout time.Duration // Total time allowed for connection attempts (ex: 30s)
	RetryInterval  time.Duration // Initial wait between retries (ex: 2s, grows exponentially)
	MaxWait        time.Duration // max wait between retries (ex: 10s)
	PingTimeout    time.Duration // timeout for each ping attempt (ex: 2s)
	WarnThreshold  int           // warn after this many attempts
}

// validate ensures all required configuration values are valid.
func (opts ConnectOptions) validate() error {
	switch {
	case opts.Addr == "":
		return fmt.Errorf("Addr must be set")
	case opts.ConnectTimeout <= 0:
		return fmt.Errorf("ConnectTimeout must be > 0, got %v", opts.ConnectTimeout)
	case opts.RetryInterval <= 0:
		return fmt.Errorf("RetryInterval must be > 0, got %v", opts.RetryInterval)
	case opts.MaxWait <= 0:
		return fmt.Errorf("MaxWait must be > 0, got %v", opts.MaxWait)
	case opts.PingTimeout <= 0:
		return fmt.Errorf("PingTimeout must be > 0, got %v", opts.PingTimeout)
	case opts.WarnThreshold < 0:
		return fmt.Errorf("WarnThreshold must be >= 0, got %d", opts.WarnThreshold)
	}
	return nil
}

// New creates a Redis client and pings it until it answers or
// ConnectTimeout is reached. Failed pings are retried with exponential
// backoff through a resilience.Runner.
func New(ctx context.Context, opts ConnectOptions, log logger.Logger) (*redis.Client, error) {
	if err := opts.validate(); err != nil {
		log.Error("invalid redis options", logger.Error(err))
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Username:     opts.User,
		Password:     opts.Password,
		DB:           opts.RedisDB,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		PoolSize:     opts.PoolSize,
	})

	log.Info("connecting to redis",
		logger.String("addr", opts.Addr),
		logger.Duration("timeout", opts.ConnectTimeout))

	ctx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	runner := resilience.NewRunner(
		resilience.Backoff{Initial: opts.RetryInterval, Max: opts.MaxWait, Factor: 2},
		opts.WarnThreshold,
		log.With(logger.String("component", "redis")),
	)

	start := time.Now()
	err := runner.Retry(ctx, "redis "+opts.Addr, func(ctx context.Context) error {
		pingCtx, pingCancel := context.WithTimeout(ctx, opts.PingTimeout)
		defer pingCancel()
		return client.Ping(pingCtx).Err()
	})
	if err != nil {
		_ = client.Close()
		log.Error("redis unavailable - failed to connect after timeout",
			logger.String("addr", opts.Addr),
			logger.Duration("timeout", opts.ConnectTimeout),
			logger.Error(err))
		return nil, fmt.Errorf("redis unavailable at %s (timeout: %v): %w", opts.Addr, opts.ConnectTimeout, err)
	}

	log.Info("connected to redis",
		logger.String("addr", opts.Addr),
		logger.Duration("elapsed", time.Since(start)))
	return client, nil
}
