// Server runs the credential lifecycle HTTP API.
package main

import (
	"context"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"credential-lifecycle/backend/internal/audit"
	auditrepo "credential-lifecycle/backend/internal/audit/repository"
	"credential-lifecycle/backend/internal/blacklist"
	"credential-lifecycle/backend/internal/cache"
	"credential-lifecycle/backend/internal/config"
	"credential-lifecycle/backend/internal/db"
	healthhandler "credential-lifecycle/backend/internal/health/handler"
	identityhandler "credential-lifecycle/backend/internal/identity/handler"
	"credential-lifecycle/backend/internal/identity/service"
	"credential-lifecycle/backend/internal/lockout"
	"credential-lifecycle/backend/internal/logger"
	"credential-lifecycle/backend/internal/notify"
	"credential-lifecycle/backend/internal/password"
	"credential-lifecycle/backend/internal/passwordreset"
	refreshrepo "credential-lifecycle/backend/internal/refreshtoken/repository"
	"credential-lifecycle/backend/internal/security"
	"credential-lifecycle/backend/internal/server"
	"credential-lifecycle/backend/internal/server/middleware"
	sessionrepo "credential-lifecycle/backend/internal/session/repository"
	telemetryotel "credential-lifecycle/backend/internal/telemetry/otel"
	userrepo "credential-lifecycle/backend/internal/user/repository"
)

// version is stamped onto published events; override with -ldflags "-X main.version=...".
var version = "dev"

const (
	startupTimeout  = 10 * time.Second
	shutdownTimeout = 10 * time.Second
	healthTimeout   = 2 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	zl := logger.New(cfg.LogLevel, cfg.Env)
	defer func() { _ = zl.Sync() }()

	if err := run(cfg, zl); err != nil {
		zl.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, zl *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	providers, err := telemetryotel.NewProviders(startCtx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.OTLPInsecure)
	if err != nil {
		return err
	}
	providers.SetGlobal()
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		if err := providers.Shutdown(sctx); err != nil {
			zl.Warn("otel shutdown failed", zap.Error(err))
		}
	}()

	pool, err := db.Open(startCtx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.DBMaxConns})
	if err != nil {
		return err
	}
	defer pool.Close()

	rdb, err := cache.Open(startCtx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()

	secret, err := security.LoadSigningSecret(cfg.JWTSecret)
	if err != nil {
		return err
	}
	codec, err := security.NewTokenCodec(secret, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL(), nil)
	if err != nil {
		return err
	}
	lockPolicy, err := lockout.NewPolicy(cfg.MaxLoginAttempts, cfg.LockDuration())
	if err != nil {
		return err
	}

	kafkaPub := notify.NewKafkaPublisher(cfg.EventsKafkaBrokersList(), cfg.EventsKafkaTopic)
	defer func() { _ = kafkaPub.Close() }()
	sinks := notify.Multi{notify.NewOTelPublisher(providers.LoggerProvider)}
	if kafkaPub != nil {
		sinks = append(sinks, kafkaPub)
	}
	events := notify.NewAsync(sinks, notify.Source{Service: cfg.ServiceName, Version: version}, zl.Named("notify"))
	defer func() {
		dctx, dcancel := context.WithTimeout(context.Background(), notify.ShutdownDrainDuration)
		defer dcancel()
		if err := events.Close(dctx); err != nil {
			zl.Warn("event drain incomplete", zap.Error(err))
		}
	}()

	meter := otel.Meter("credential-lifecycle/auth")
	metrics, err := service.NewMetrics(meter)
	if err != nil {
		return err
	}

	auth, err := service.NewAuthService(service.Deps{
		Users:         userrepo.NewPostgresRepository(pool),
		RefreshTokens: refreshrepo.NewPostgresRepository(pool),
		Sessions:      sessionrepo.NewRedisRepository(rdb),
		Blacklist:     blacklist.NewStore(rdb),
		Resets:        passwordreset.NewStore(rdb),
		Hasher:        security.NewHasher(cfg.BcryptCost, cfg.HashConcurrency()),
		Tokens:        codec,
		Passwords:     password.NewPolicy(cfg.CommonPasswordList()),
		Notifier:      events,
		Audit:         audit.NewLogger(auditrepo.NewPostgresRepository(pool), middleware.ClientFromContext, zl),
		Logger:        zl,
		Metrics:       metrics,
		Client:        middleware.ClientFromContext,
	}, service.Config{
		RefreshTTL:   cfg.RefreshTTL(),
		SessionTTL:   cfg.NamedSessionTTL(),
		ResetTTL:     cfg.ResetTTL(),
		StoreTimeout: cfg.StoreCallTimeout(),
		ReuseGrace:   cfg.ReuseGrace(),
		Lockout:      lockPolicy,
	})
	if err != nil {
		return err
	}

	health := healthhandler.NewHandler(map[string]healthhandler.Pinger{
		"postgres": pool,
		"redis":    healthhandler.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
	}, healthTimeout)

	router := server.NewRouter(server.Deps{
		Auth:     identityhandler.NewHandler(auth, zl),
		Verifier: auth,
		Health:   health,
		Logger:   zl,
		Tracer:   otel.Tracer("credential-lifecycle/http"),
		Meter:    otel.Meter("credential-lifecycle/http"),
	})

	lis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return err
	}
	zl.Info("http server listening", zap.String("addr", cfg.HTTPAddr), zap.String("version", version))
	err = server.Serve(ctx, lis, router, shutdownTimeout, zl)
	zl.Info("http server stopped")
	return err
}
