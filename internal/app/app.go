// Package app wires configuration, storage, services, and the HTTP server
// into a runnable application.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/nanami404/meeting-assistant/internal/config"
	"github.com/nanami404/meeting-assistant/internal/event"
	handlerhttp "github.com/nanami404/meeting-assistant/internal/handler/http"
	"github.com/nanami404/meeting-assistant/internal/migrations"
	"github.com/nanami404/meeting-assistant/internal/push"
	repopg "github.com/nanami404/meeting-assistant/internal/repository/postgres"
	"github.com/nanami404/meeting-assistant/internal/service"
	"github.com/nanami404/meeting-assistant/internal/token"
	"github.com/nanami404/meeting-assistant/pkg/database"
	"github.com/nanami404/meeting-assistant/pkg/health"
	pkgkafka "github.com/nanami404/meeting-assistant/pkg/kafka"
	"github.com/nanami404/meeting-assistant/pkg/logger"
)

// App holds the wired application and its owned resources.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	pool          *pgxpool.Pool
	redis         *redis.Client
	kafkaProducer *pkgkafka.Producer
	revocation    token.RevocationStore
	consumers     []*pkgkafka.Consumer

	server *http.Server
}

// New loads configuration, connects to all backing stores, and wires the
// full service graph.
func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg.ServiceName, cfg.LogLevel)
	slog.SetDefault(log)

	pool, err := database.NewPostgresPoolWithLogger(ctx, cfg.PostgresPoolConfig(), log)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := database.RunMigrations(ctx, pool, migrations.FS, log); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	a := &App{cfg: cfg, logger: log, pool: pool}

	// Token revocation: Redis-backed when available so revocations survive
	// restarts and are shared across replicas, in-memory otherwise.
	var revocation token.RevocationStore
	if cfg.Redis.Enabled {
		client, err := database.NewRedisClient(ctx, cfg.RedisClientConfig())
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.redis = client
		revocation = token.NewRedisRevocationStore(client)
		log.Info("token revocation backed by redis")
	} else {
		store := token.NewMemoryRevocationStore()
		revocation = store
		log.Info("token revocation backed by memory store")
	}
	a.revocation = revocation

	users := repopg.NewUserRepository(pool)
	messages := repopg.NewMessageRepository(pool)

	tokens := token.NewManager(token.Config{
		Secret:     cfg.JWT.Secret,
		AccessTTL:  cfg.JWT.AccessTTL,
		RefreshTTL: cfg.JWT.RefreshTTL,
	}, users, revocation, log)

	registry := push.NewRegistry()

	if cfg.Kafka.Enabled {
		a.kafkaProducer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.Kafka.Brokers), log)
	}
	producer := event.NewProducer(a.kafkaProducer, log)

	authSvc := service.NewAuthService(users, tokens, registry, log)
	messageSvc := service.NewMessageService(messages, users, registry, producer, log)

	if cfg.Kafka.Enabled {
		handler := event.NewConsumerHandler(messageSvc, log)
		a.consumers = event.NewConsumers(cfg.Kafka.Brokers, handler, log)
	}

	healthHandler := health.NewHandler()
	healthHandler.Register("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	if a.redis != nil {
		healthHandler.Register("redis", func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		})
	}
	if cfg.Kafka.Enabled {
		healthHandler.Register("kafka", func(ctx context.Context) error {
			return pkgkafka.PingBrokers(ctx, cfg.Kafka.Brokers)
		})
	}

	router := handlerhttp.NewRouter(handlerhttp.RouterConfig{
		Auth:               authSvc,
		Messages:           messageSvc,
		Health:             healthHandler,
		Logger:             log,
		CORSAllowedOrigins: cfg.HTTP.CORSAllowedOrigins,
		Environment:        cfg.Environment,
		AuthRateRPS:        cfg.HTTP.AuthRateRPS,
		AuthRateBurst:      cfg.HTTP.AuthRateBurst,
		PprofEnabled:       cfg.Pprof.Enabled,
		PprofAllowedCIDRs:  cfg.Pprof.AllowedCIDRs,
	})

	a.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:     router,
		ReadTimeout: cfg.HTTP.ReadTimeout,
		// WriteTimeout stays 0 by default: a deadline would sever
		// long-lived event streams.
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	return a, nil
}

// Run starts the HTTP server and Kafka consumers, then blocks until the
// context is canceled or SIGINT/SIGTERM arrives. Shutdown is graceful with
// a bounded deadline.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	for _, c := range a.consumers {
		wg.Add(1)
		go func(c *pkgkafka.Consumer) {
			defer wg.Done()
			if err := c.Start(ctx); err != nil {
				a.logger.Error("consumer stopped with error", slog.String("error", err.Error()))
			}
		}(c)
	}

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", slog.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		stop()
		wg.Wait()
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http shutdown failed", slog.String("error", err.Error()))
	}

	wg.Wait()
	a.Close()
	a.logger.Info("shutdown complete")
	return nil
}

// Close releases all owned resources. Safe to call after a partial New.
func (a *App) Close() {
	if a.kafkaProducer != nil {
		if err := a.kafkaProducer.Close(); err != nil {
			a.logger.Error("close kafka producer", slog.String("error", err.Error()))
		}
	}
	if store, ok := a.revocation.(*token.MemoryRevocationStore); ok {
		store.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("close redis client", slog.String("error", err.Error()))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
