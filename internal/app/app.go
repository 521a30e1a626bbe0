package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrSnakeDoc/lbwatch/internal/config"
	"github.com/MrSnakeDoc/lbwatch/internal/httpserver"
	"github.com/MrSnakeDoc/lbwatch/internal/httpserver/deps"
	"github.com/MrSnakeDoc/lbwatch/internal/index"
	"github.com/MrSnakeDoc/lbwatch/internal/logger"
	"github.com/MrSnakeDoc/lbwatch/internal/metrics"
	"github.com/MrSnakeDoc/lbwatch/internal/redis"
	"github.com/MrSnakeDoc/lbwatch/internal/registrator"
	"github.com/MrSnakeDoc/lbwatch/internal/registry/dial"
	"github.com/MrSnakeDoc/lbwatch/internal/resilience"
	"github.com/MrSnakeDoc/lbwatch/internal/resolver"
	"github.com/MrSnakeDoc/lbwatch/internal/scheduler"
	redisstore "github.com/MrSnakeDoc/lbwatch/internal/store/redis"
	"github.com/MrSnakeDoc/lbwatch/internal/telemetry"
	"github.com/MrSnakeDoc/lbwatch/internal/utils"
	"github.com/MrSnakeDoc/lbwatch/internal/version"
	"github.com/MrSnakeDoc/lbwatch/internal/watcher"
)

type App struct {
	cfg               *config.Config
	logger            logger.Logger
	server            *httpserver.Server
	redisClient       *goredis.Client
	memIndex          *index.MemoryIndex
	clients           []dial.Client
	watchers          []*watcher.Watcher
	publisher         *scheduler.Publisher         // nil without Redis
	reloader          *scheduler.OverridesReloader // nil without an overrides file
	shutdownTelemetry telemetry.ShutdownFunc
}

func New(ctx context.Context) (*App, error) {
	cfg := config.Load()

	loggerClient := logger.New(cfg.LogLevel, cfg.PrettyLog)

	metricReader := sdkmetric.NewManualReader()
	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Options{
		Mode:         cfg.TracingMode,
		Endpoint:     cfg.OTLPEndpoint,
		ServiceName:  cfg.ServiceName,
		MetricReader: metricReader,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}

	a := &App{
		cfg:               cfg,
		logger:            loggerClient,
		shutdownTelemetry: shutdownTelemetry,
	}

	reg, err := metrics.NewRegistry(metricReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}
	a.memIndex = index.NewMemoryIndex(loggerClient, reg)

	var res resolver.Resolver = resolver.NewNetResolver(cfg.DNSTimeout)

	// Redis is optional: it persists the inventory across restarts and
	// caches DNS resolutions.
	if cfg.RedisAddr != "" {
		loggerClient.Infof("Connecting to Redis at %s", cfg.RedisAddr)
		a.redisClient, err = redis.New(ctx, redis.ConnectOptions{
			Addr:           cfg.RedisAddr,
			User:           cfg.RedisUser,
			Password:       cfg.RedisPassword,
			RedisDB:        cfg.RedisDB,
			DialTimeout:    cfg.RedisDT,
			ReadTimeout:    cfg.RedisRT,
			WriteTimeout:   cfg.RedisWT,
			PoolSize:       cfg.RedisPoolSize,
			ConnectTimeout: cfg.RedisConnectTimeout,
			RetryInterval:  cfg.RedisRetryInterval,
			MaxWait:        cfg.RedisMaxWait,
			PingTimeout:    cfg.RedisPingTimeout,
			WarnThreshold:  cfg.RedisWarnThreshold,
		}, loggerClient)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		loggerClient.Info("Redis initialized successfully")

		store := redisstore.NewStore(a.redisClient)

		syncer := scheduler.NewRedisSyncer(store, a.memIndex, loggerClient)
		if err := syncer.Sync(ctx); err != nil {
			loggerClient.Warn("failed to sync from redis on startup, waiting for the registries",
				logger.Error(err))
		}

		a.publisher = scheduler.NewPublisher(store, a.memIndex, loggerClient, cfg.PublishInterval)

		if cfg.DNSCacheTTL > 0 {
			res = resolver.NewCachingResolver(res, store, cfg.DNSCacheTTL, loggerClient)
		}
	} else {
		loggerClient.Info("redis not configured, inventory persistence disabled")
	}

	backoff := resilience.Backoff{Initial: cfg.RetryInitial, Max: cfg.RetryMax, Factor: 2}
	for _, rawURL := range cfg.Registries {
		client, err := dial.Open(rawURL, dial.Options{
			FetchTimeout: cfg.FetchTimeout,
			DialTimeout:  cfg.EtcdDialTimeout,
		})
		if err != nil {
			a.closeClients()
			return nil, fmt.Errorf("failed to open registry: %w", err)
		}
		a.clients = append(a.clients, client)

		w := watcher.New(
			client,
			registrator.NewParser(client.Address(), res, loggerClient),
			a.memIndex,
			resilience.NewRunner(backoff, cfg.RetryWarnThreshold, loggerClient),
			watcher.Options{Priority: cfg.RegistryPriority, Metrics: reg},
			loggerClient,
		)
		a.memIndex.Register(w)
		a.watchers = append(a.watchers, w)
	}

	var reloadTrigger chan struct{}
	if cfg.OverridesFile != "" {
		loggerClient.Info("overrides file configured",
			logger.String("file", cfg.OverridesFile))
		reloadTrigger = make(chan struct{}, 1)
		a.reloader = scheduler.NewOverridesReloader(
			cfg.OverridesFile,
			a.memIndex,
			loggerClient,
			cfg.OverridesReload,
			reloadTrigger,
		)
	}

	sources := make([]deps.SourceStatus, len(a.watchers))
	for i, w := range a.watchers {
		sources[i] = w
	}

	d := deps.Deps{
		Logger:         loggerClient,
		StartTime:      time.Now(),
		Version:        version.Version,
		Commit:         version.Commit,
		BuildDate:      version.BuildDate,
		GoVersion:      version.GoVersion,
		AllowedHosts:   cfg.AllowedHosts,
		AllowedCIDRS:   cfg.AllowedCIDRS,
		TrustProxy:     cfg.TrustProxy,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		MemoryIndex:    a.memIndex,
		Sources:        sources,
		Metrics:        reg,
		ReloadTrigger:  reloadTrigger,
	}

	a.server = httpserver.New(cfg.ListenPort, d)

	return a, nil
}

func (a *App) Run() error {
	a.logger.Infof("🚀 Starting lbwatch %s on %s", version.String(), a.cfg.ListenPort)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Overrides are loaded before the first registry read so the first
	// publication already carries them.
	if a.reloader != nil {
		if err := a.reloader.Start(ctx); err != nil {
			return fmt.Errorf("failed to start overrides reloader: %w", err)
		}
		a.logger.Info("overrides reloader started",
			logger.Duration("interval", a.cfg.OverridesReload))
	}

	if a.publisher != nil {
		a.publisher.Start(ctx)
		a.logger.Info("redis publisher started",
			logger.Duration("interval", a.cfg.PublishInterval))
	}

	done := make([]<-chan struct{}, 0, len(a.watchers))
	for _, w := range a.watchers {
		done = append(done, w.Start(ctx))
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.server.Start(); err != nil {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("⏳ Shutting down gracefully...")
	case runErr = <-errCh:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if a.reloader != nil {
		a.reloader.Stop()
	}

	if err := a.server.Stop(shutdownCtx); err != nil {
		a.logger.Warn("failed to stop http server", logger.Error(err))
	}

wait:
	for _, ch := range done {
		select {
		case <-ch:
		case <-shutdownCtx.Done():
			a.logger.Warn("registry watchers did not stop in time")
			break wait
		}
	}
	a.closeClients()

	if a.publisher != nil {
		a.publisher.Stop()
		// Last write so the persisted copy matches what was served.
		if err := a.publisher.Publish(shutdownCtx); err != nil {
			a.logger.Warn("final redis publish failed", logger.Error(err))
		}
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warnf("failed to close redis: %v", err)
		} else {
			a.logger.Info("✅ Redis closed cleanly")
		}
	}

	if err := a.shutdownTelemetry(shutdownCtx); err != nil {
		a.logger.Warn("failed to flush telemetry", logger.Error(err))
	}

	a.logger.Info("✅ lbwatch stopped cleanly")
	_ = a.logger.Sync()
	return runErr
}

func (a *App) closeClients() {
	for _, c := range a.clients {
		utils.Close(c)
	}
}
