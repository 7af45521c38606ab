// Worker sweeps stale refresh tokens and session indexes on CLEANUP_INTERVAL. When
// KAFKA_BROKERS is set it also consumes auth events from EVENTS_KAFKA_TOPIC and logs them.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"credential-lifecycle/backend/internal/cache"
	"credential-lifecycle/backend/internal/config"
	"credential-lifecycle/backend/internal/db"
	"credential-lifecycle/backend/internal/identity/service"
	"credential-lifecycle/backend/internal/logger"
	"credential-lifecycle/backend/internal/notify"
	refreshrepo "credential-lifecycle/backend/internal/refreshtoken/repository"
	sessionrepo "credential-lifecycle/backend/internal/session/repository"
)

const startupTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	zl := logger.New(cfg.LogLevel, cfg.Env).Named("worker")
	defer func() { _ = zl.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()
	pool, err := db.Open(startCtx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.DBMaxConns})
	if err != nil {
		zl.Fatal("open database", zap.Error(err))
	}
	defer pool.Close()
	rdb, err := cache.Open(startCtx, cfg.RedisURL)
	if err != nil {
		zl.Fatal("open redis", zap.Error(err))
	}
	defer func() { _ = rdb.Close() }()

	sweeper := service.NewSweeper(
		refreshrepo.NewPostgresRepository(pool),
		sessionrepo.NewRedisRepository(rdb),
		cfg.RevokedRetention(),
		zl,
		nil,
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Run(ctx, cfg.CleanupEvery())
	}()

	consumer := notify.NewKafkaConsumer(cfg.EventsKafkaBrokersList(), cfg.EventsKafkaTopic, cfg.EventsKafkaGroupID,
		notify.LogHandler(zl.Named("events")), zl)
	if consumer != nil {
		defer func() { _ = consumer.Close() }()
		wg.Add(1)
		go func() {
			defer wg.Done()
			consumer.Run(ctx)
		}()
		zl.Info("consuming auth events",
			zap.String("topic", cfg.EventsKafkaTopic),
			zap.String("group", cfg.EventsKafkaGroupID))
	}

	zl.Info("worker started", zap.Duration("cleanup_interval", cfg.CleanupEvery()))
	wg.Wait()
	zl.Info("worker stopped")
}
