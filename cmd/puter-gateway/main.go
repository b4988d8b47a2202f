package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/felipepmaragno/puter-gateway/internal/api"
	"github.com/felipepmaragno/puter-gateway/internal/cache"
	"github.com/felipepmaragno/puter-gateway/internal/config"
	"github.com/felipepmaragno/puter-gateway/internal/crypto"
	"github.com/felipepmaragno/puter-gateway/internal/domain"
	"github.com/felipepmaragno/puter-gateway/internal/executor"
	"github.com/felipepmaragno/puter-gateway/internal/keypool"
	"github.com/felipepmaragno/puter-gateway/internal/metrics"
	"github.com/felipepmaragno/puter-gateway/internal/notifications"
	"github.com/felipepmaragno/puter-gateway/internal/provider/puter"
	"github.com/felipepmaragno/puter-gateway/internal/queue"
	"github.com/felipepmaragno/puter-gateway/internal/quota"
	"github.com/felipepmaragno/puter-gateway/internal/repository"
	"github.com/felipepmaragno/puter-gateway/internal/router"
	"github.com/felipepmaragno/puter-gateway/internal/secrets"
	"github.com/felipepmaragno/puter-gateway/internal/telemetry"
	"github.com/felipepmaragno/puter-gateway/internal/tokenizer"
	"github.com/felipepmaragno/puter-gateway/internal/usage"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		slog.Error("gateway exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	setupLogger(cfg.LogLevel)

	slog.Info("starting Puter gateway", "addr", cfg.Addr, "version", api.Version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	metrics.InitInstanceMetrics(cfg.PodName, cfg.PodNamespace, api.Version)

	var healthCheckers []api.HealthChecker

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
		healthCheckers = append(healthCheckers, api.NewRedisHealthChecker(redisClient))
		slog.Info("using redis", "addr", opts.Addr)
	}

	var db *sql.DB
	if cfg.DatabaseURL != "" {
		db, err = openDatabase(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		healthCheckers = append(healthCheckers, api.NewPostgresHealthChecker(db))
		slog.Info("using postgres")
	}

	var awsCfg aws.Config
	if cfg.UsesAWS() {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			return fmt.Errorf("load aws config: %w", err)
		}
	}

	// Tenants and their daily counters.
	var (
		tenantStore interface {
			cache.TenantLookup
			repository.CounterStore
		}
		usageSinks usage.Fanout
	)
	if db != nil {
		var enc *crypto.Encryptor
		if cfg.EncryptionKey != "" {
			enc, err = crypto.NewEncryptor(cfg.EncryptionKey)
			if err != nil {
				return fmt.Errorf("init encryptor: %w", err)
			}
		}
		tenantStore = repository.NewPostgresTenantRepository(db, enc)
		usageSinks = append(usageSinks, repository.NewPostgresUsageRepository(db))
	} else {
		tenantStore = repository.NewInMemoryTenantRepository()
		slog.Warn("no DATABASE_URL, tenants are in-memory")
	}
	usageSinks = append(usageSinks, usage.NewTenantTotals(tenantStore))
	if cfg.UsageQueueURL != "" {
		usageSinks = append(usageSinks, queue.NewSQSUsagePublisherWithConfig(awsCfg, cfg.UsageQueueURL))
		slog.Info("publishing usage to sqs", "queue", cfg.UsageQueueURL)
	}

	tenants, err := cache.NewTenantCache(tenantStore, cfg.TenantCacheTTL)
	if err != nil {
		return fmt.Errorf("init tenant cache: %w", err)
	}
	defer tenants.Close()

	// System credentials.
	var systemSource repository.SystemConfigSource
	switch {
	case cfg.SystemCredentialsSecret != "":
		store := secrets.NewAWSSecretsManagerWithConfig(awsCfg)
		systemSource = secrets.NewCredentialSource(store, cfg.SystemCredentialsSecret)
		slog.Info("system credentials from secrets manager", "secret", cfg.SystemCredentialsSecret)
	case db != nil:
		systemSource = repository.NewPostgresSystemConfig(db)
	}
	systemSource = repository.WithEnvFallback(systemSource, cfg.PuterAuthToken)
	healthCheckers = append(healthCheckers, api.NewSystemCredentialsChecker(systemSource))

	// Notifications.
	var notifier notifications.Notifier = notifications.LogNotifier{}
	if cfg.SNSTopicARN != "" {
		notifier = notifications.NewSNSNotifierWithConfig(awsCfg, cfg.SNSTopicARN)
		slog.Info("sending notifications to sns", "topic", cfg.SNSTopicARN)
	}
	var dedup notifications.Deduplicator = notifications.NewInMemoryDeduplicator()
	if redisClient != nil {
		dedup = notifications.NewRedisDeduplicator(redisClient, 24*time.Hour)
	}
	dispatcher := notifications.NewDispatcher(notifier, dedup)

	// Key pool.
	var poolStore keypool.PoolStore
	switch {
	case redisClient != nil:
		poolStore = repository.NewRedisPoolStore(redisClient)
	case db != nil:
		poolStore = repository.NewPostgresPoolStore(db)
	default:
		poolStore = repository.NewInMemoryPoolStore()
	}
	pool := keypool.New(keypool.Config{
		Store:    poolStore,
		Cooldown: cfg.ShortBlockDuration,
		OnDailyLimited: func(fingerprint, reason string) {
			dispatcher.Notify(notifications.CredentialDayBlocked(fingerprint, reason, domain.Today(time.Now())))
		},
	})

	var counter quota.Counter = quota.NewRepositoryCounter(tenantStore)
	if redisClient != nil {
		counter = quota.NewRedisCounter(redisClient)
	}

	recorder := usage.NewAsyncRecorder(usageSinks, usage.AsyncConfig{
		BufferSize:    cfg.UsageBufferSize,
		FlushInterval: cfg.UsageFlushInterval,
	})

	r := router.New()
	exec := executor.New(executor.Config{
		Tenants:        tenants,
		System:         systemSource,
		Pool:           pool,
		Quota:          quota.NewLimiter(counter),
		FreeDailyLimit: cfg.FreeDailyLimit,
		Router:         r,
		Upstream: puter.New(puter.Config{
			URL:            cfg.PuterAPIURL,
			Origin:         cfg.PuterOrigin,
			RequestTimeout: cfg.RequestTimeout,
			StreamTimeout:  cfg.StreamTimeout,
		}),
		Usage:     recorder,
		Estimator: tokenizer.New(cfg.TokenEstimator),
		Notifier:  dispatcher,
	})

	handler := api.NewHandler(api.HandlerConfig{
		Executor:       exec,
		Router:         r,
		Pool:           pool,
		HealthCheckers: healthCheckers,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// The recorder outlives the server so records from draining requests
	// are still flushed.
	recorderCtx, stopRecorder := context.WithCancel(context.Background())
	defer stopRecorder()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return recorder.Run(recorderCtx)
	})

	g.Go(func() error {
		slog.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}
		stopRecorder()
		if err := pool.Wait(shutdownCtx); err != nil {
			slog.Warn("pending key pool writes abandoned", "error", err)
		}
		if err := dispatcher.Wait(shutdownCtx); err != nil {
			slog.Warn("pending notifications abandoned", "error", err)
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			slog.Warn("tracer shutdown failed", "error", err)
		}
		return nil
	})

	err = g.Wait()
	slog.Info("server stopped")
	return err
}

func openDatabase(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := repository.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
