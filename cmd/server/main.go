// credcore-server is the session and token lifecycle service. All
// collaborators are constructed here, once, and passed by reference; nothing
// in the tree reaches for globals.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	appservice "github.com/turtacn/credcore/internal/application/service"
	"github.com/turtacn/credcore/internal/config"
	"github.com/turtacn/credcore/internal/domain/repository"
	"github.com/turtacn/credcore/internal/infrastructure/audit"
	"github.com/turtacn/credcore/internal/infrastructure/crypto"
	"github.com/turtacn/credcore/internal/infrastructure/kms"
	"github.com/turtacn/credcore/internal/infrastructure/monitoring"
	"github.com/turtacn/credcore/internal/infrastructure/persistence/postgres"
	redisinfra "github.com/turtacn/credcore/internal/infrastructure/persistence/redis"
	"github.com/turtacn/credcore/internal/infrastructure/ratelimit"
	httpiface "github.com/turtacn/credcore/internal/interfaces/http"
	"github.com/turtacn/credcore/internal/interfaces/http/handlers"
	"github.com/turtacn/credcore/pkg/logger"
)

func main() {
	startupLog, err := monitoring.NewLogger(config.LogConfig{Level: "info", Format: "json"})
	if err != nil {
		log.Fatalf("failed to build startup logger: %v", err)
	}

	cfg, err := config.Load(startupLog)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	appLog, err := monitoring.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = appLog.Sync() }()

	if err := run(cfg, appLog); err != nil {
		appLog.Error(context.Background(), "fatal", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, appLog *monitoring.ZapLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := monitoring.InitTracing(cfg.Tracing, appLog)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			appLog.Warn(context.Background(), "tracing shutdown failed")
		}
	}()

	// Configuration errors are fatal by contract: refuse to start rather
	// than run degraded.
	masterPassword, err := kms.ResolveMasterPassword(ctx, cfg, appLog)
	if err != nil {
		return err
	}

	ring, err := crypto.NewKeyRing(cfg.KeyRing, masterPassword, appLog)
	if err != nil {
		return err
	}
	defer func() {
		if err := ring.Close(); err != nil {
			appLog.Warn(context.Background(), "key ring close failed")
		}
	}()
	cipher := crypto.NewFieldCipher(ring)
	signer := crypto.NewTokenSigner(cfg.Token)

	redisClient, err := redisinfra.NewClient(ctx, cfg.Redis, appLog)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	db, err := postgres.NewDB(ctx, cfg.Database, appLog)
	if err != nil {
		return err
	}
	if err := postgres.Migrate(db); err != nil {
		return err
	}

	var producer *audit.KafkaProducer
	if cfg.Kafka.Enabled {
		producer = audit.NewKafkaProducer(cfg.Kafka, appLog)
		defer func() {
			if err := producer.Close(); err != nil {
				appLog.Warn(context.Background(), "kafka producer close failed")
			}
		}()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := monitoring.NewMetrics(registry)
	ring.SetRotationHook(func(string) { metrics.KeyRotationsTotal.Inc() })

	cacheStore := redisinfra.NewCacheStore(redisClient, cipher, cfg.Session.TTL, cfg.Session.DeviceMemoryTTL, appLog)
	blacklist := redisinfra.NewTokenBlacklist(redisClient, cfg.Session.BlacklistTTL, appLog)
	limiter := ratelimit.NewSlidingWindowLimiter(redisClient,
		cfg.RateLimit.SessionCreationLimit, cfg.RateLimit.SessionCreationWindow, appLog)

	sessionRepo := postgres.NewSessionRepository(db, appLog)
	tokenRepo := postgres.NewTokenRepository(db, appLog)
	userRepo := postgres.NewUserRepository(db, cipher, appLog)

	authService := appservice.NewAuthAppService(
		cacheStore,
		blacklist,
		limiter,
		sessionRepo,
		tokenRepo,
		userRepo,
		signer,
		cipher,
		audit.NewService(db, producer, appLog),
		metrics,
		cfg.Session,
		appLog,
	)

	go runMaintenance(ctx, ring, sessionRepo, tokenRepo, appLog)

	router := httpiface.NewRouter(
		cfg.Server,
		handlers.NewAuthHandler(authService, appLog),
		handlers.NewHealthHandler(cacheStore, db, ring, appLog),
		handlers.NewMiddleware(appLog),
		registry,
		appLog,
	)

	serverErr := make(chan error, 1)
	go func() { serverErr <- router.Start() }()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	appLog.Info(context.Background(), "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return router.Shutdown(shutdownCtx)
}

// runMaintenance periodically removes expired durable rows and retired ring
// keys past retention.
func runMaintenance(ctx context.Context, ring *crypto.KeyRing, sessions repository.SessionRepository, tokens repository.TokenRepository, appLog logger.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UTC()
			if n, err := sessions.DeleteExpired(ctx, now); err != nil {
				appLog.Warn(ctx, "expired session cleanup failed")
			} else if n > 0 {
				appLog.Info(ctx, "expired sessions removed", logger.Int64("removed", n))
			}
			if n, err := tokens.DeleteExpired(ctx, now); err != nil {
				appLog.Warn(ctx, "expired token cleanup failed")
			} else if n > 0 {
				appLog.Info(ctx, "expired refresh tokens removed", logger.Int64("removed", n))
			}
			if removed, err := ring.Cleanup(); err != nil {
				appLog.Warn(ctx, "key ring cleanup failed")
			} else if removed > 0 {
				appLog.Info(ctx, "retired keys removed", logger.Int("removed", removed))
			}
		}
	}
}
