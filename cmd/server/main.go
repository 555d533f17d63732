package main

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/openclub/kudos/internal/api"
	"github.com/openclub/kudos/internal/config"
	"github.com/openclub/kudos/internal/db"
	"github.com/openclub/kudos/internal/events"
	"github.com/openclub/kudos/internal/ledger"
	"github.com/openclub/kudos/internal/observ"
	"github.com/openclub/kudos/internal/ratelimit"
	"github.com/openclub/kudos/internal/repository/postgres"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	// Startup has no request deadline — Background() is fine here.
	database, err := db.New(context.Background(), cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	// Redis is optional: without it the limiter enforces per-process and
	// rank notifications are skipped, but the service stays up.
	var sharedStore ratelimit.Store
	var notifier events.RankNotifier = nopNotifier{}
	redisClient, err := db.NewRedis(context.Background(), cfg.RedisURL, logger)
	if err != nil {
		logger.Warn("redis unavailable, running with local-only rate limiting", zap.Error(err))
	} else {
		defer redisClient.Close()
		sharedStore = ratelimit.NewRedisStore(redisClient, "")
		notifier = events.NewRedisNotifier(redisClient)
	}

	pool := database.Pool()
	ledgerRepo := postgres.NewLedgerStore(pool)
	tenantRepo := postgres.NewTenantStore(pool)
	userRepo := postgres.NewUserStore(pool)

	limiter := ratelimit.New(sharedStore, ratelimit.NewLocalStore(), logger)
	svc := ledger.NewService(ledgerRepo, notifier, events.NewZapAuditSink(logger), logger)

	authHandler := api.NewAuthHandler(userRepo, tenantRepo, cfg.JWTSecret, logger)
	xpHandler := api.NewXPHandler(svc, tenantRepo, logger)

	srv := gin.New()
	srv.Use(gin.Logger(), gin.Recovery())
	api.RegisterRoutes(srv, authHandler, xpHandler, limiter, cfg.JWTSecret)

	logger.Info("starting kudos",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
	)

	return srv.Run(":" + cfg.Port)
}

// nopNotifier stands in when no Redis is configured. Rank changes are
// still committed; only the outbound notification is dropped.
type nopNotifier struct{}

func (nopNotifier) NotifyRankChanged(context.Context, events.RankChangedEvent) error { return nil }
