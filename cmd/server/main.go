package main

import (
	"context"
	"log"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	apiHandler "github.com/promorang/maturity/api/handler"
	"github.com/promorang/maturity/domain"
	"github.com/promorang/maturity/internal/config"
	"github.com/promorang/maturity/internal/infrastructure/buffer"
	"github.com/promorang/maturity/internal/infrastructure/monitor"
	pgInfra "github.com/promorang/maturity/internal/infrastructure/postgres"
	redisInfra "github.com/promorang/maturity/internal/infrastructure/redis"
	"github.com/promorang/maturity/internal/middleware"
	"github.com/promorang/maturity/internal/router"
	"github.com/promorang/maturity/internal/services"
	"github.com/promorang/maturity/internal/services/lifecycle"
	"github.com/promorang/maturity/pkg/httpcontext"
	"github.com/promorang/maturity/pkg/logger"
	"github.com/promorang/maturity/pkg/maturity"
	"github.com/promorang/maturity/repository/postgres"
	redisRepo "github.com/promorang/maturity/repository/redis"
	authUC "github.com/promorang/maturity/usecase/auth"
	maturityUC "github.com/promorang/maturity/usecase/maturity"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	zapLogger, err := logger.New(logger.Config{
		Level:    cfg.Logger.Level,
		Encoding: cfg.Logger.Encoding,
	})
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer zapLogger.Sync()

	policy := buildPolicy(cfg.Maturity)
	if err := policy.Validate(); err != nil {
		zapLogger.Fatal("feature policy is not monotonic", zap.Error(err))
	}

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager := lifecycle.New(cfg.Context.ShutdownTimeout, zapLogger)

	if err := pgInfra.RunMigrations(cfg, zapLogger); err != nil {
		zapLogger.Fatal("migrations failed", zap.Error(err))
	}

	pool, err := pgInfra.NewPool(appCtx, cfg.Database, zapLogger)
	if err != nil {
		zapLogger.Fatal("postgres connection failed", zap.Error(err))
	}
	manager.Register("postgres", func(ctx context.Context) error {
		pool.Close()
		return nil
	})

	redisClient, err := redisInfra.NewClient(appCtx, cfg.Redis)
	if err != nil {
		zapLogger.Fatal("redis connection failed", zap.Error(err))
	}
	manager.Register("redis", func(ctx context.Context) error {
		return redisClient.Close()
	})

	bufferStore, err := buffer.Open(cfg.Buffer.Path, "maturity_actions")
	if err != nil {
		zapLogger.Fatal("failed to open buffer store", zap.Error(err))
	}
	manager.Register("buffer", func(ctx context.Context) error {
		return bufferStore.Close()
	})

	mon := monitor.New(bufferStore, 10*time.Second, zapLogger,
		monitor.PostgresProbe(pool),
		monitor.RedisProbe(redisClient),
	)
	mon.Start()
	manager.Register("monitor", func(ctx context.Context) error {
		mon.Stop()
		return nil
	})

	userRepo := postgres.NewUserRepository(pool)
	stateRepo := postgres.NewMaturityRepository(pool)
	sessionRepo := redisRepo.NewSessionRepository(redisClient, cfg.Auth.SessionTTL)
	stateCache := redisRepo.NewStateCache(redisClient, cfg.Maturity.StateCacheTTL)

	rules := domain.PromotionRules{
		RewardedThreshold:  cfg.Maturity.RewardedThreshold,
		PowerUserThreshold: cfg.Maturity.PowerUserThreshold,
	}

	bufferProcessor := services.NewBufferProcessor(
		bufferStore,
		mon,
		stateRepo,
		stateCache,
		rules,
		zapLogger,
		services.ProcessorConfig{
			Interval:   cfg.Buffer.SyncInterval,
			BatchSize:  cfg.Buffer.BatchSize,
			MaxRetries: cfg.Buffer.MaxRetry,
			Retention:  time.Duration(cfg.Buffer.RetentionHours) * time.Hour,
		},
	)
	bufferProcessor.Start()
	manager.Register("buffer_processor", func(ctx context.Context) error {
		bufferProcessor.Stop(ctx)
		return nil
	})

	bufferBridge := services.NewBufferBridge(bufferProcessor)

	authUseCase := authUC.New(userRepo, sessionRepo, authUC.Config{
		Secret: cfg.JWT.Secret,
		Issuer: cfg.JWT.Issuer,
	}, zapLogger)
	maturityUseCase := maturityUC.New(stateRepo, stateCache, userRepo, bufferBridge, maturityUC.Config{
		Policy: policy,
		Rules:  rules,
	}, zapLogger)

	ctxAdapter := httpcontext.NewAdapter(cfg.Context.RequestTimeout)

	handlers := router.Handlers{
		Auth:     apiHandler.NewAuthHandler(authUseCase, ctxAdapter, zapLogger, cfg.Auth.SessionTTL),
		Maturity: apiHandler.NewMaturityHandler(maturityUseCase, ctxAdapter, zapLogger),
		Health:   apiHandler.NewHealthHandler(mon, ctxAdapter, zapLogger),
	}

	authMiddleware := middleware.JWTAuth(cfg.JWT.Secret, authUseCase, zapLogger)
	r := router.New(handlers, authMiddleware)

	server := &fasthttp.Server{
		Handler:            r.Handler,
		ReadTimeout:        cfg.HTTP.ReadTimeout,
		WriteTimeout:       cfg.HTTP.WriteTimeout,
		IdleTimeout:        cfg.HTTP.IdleTimeout,
		Concurrency:        cfg.HTTP.MaxConn,
		Name:               cfg.AppName,
		MaxRequestBodySize: 64 * 1024,
	}

	manager.Add(lifecycle.Component{
		Name: "http_server",
		Run: func(ctx context.Context) error {
			zapLogger.Info("server started",
				zap.String("address", cfg.Address()),
				zap.Bool("fail_closed", cfg.Maturity.FailClosed))
			return server.ListenAndServe(cfg.Address())
		},
		Stop: func(ctx context.Context) error {
			return server.ShutdownWithContext(ctx)
		},
	})

	if err := manager.Run(appCtx); err != nil {
		zapLogger.Error("graceful shutdown error", zap.Error(err))
	}
}

func buildPolicy(cfg config.MaturityConfig) *maturity.Policy {
	opts := []maturity.Option{
		maturity.WithRedirectTarget(cfg.RedirectTarget),
		maturity.WithActionsRoute(cfg.ActionsRoute),
	}
	if cfg.FailClosed {
		opts = append(opts, maturity.WithUnknownFeatureMode(maturity.Hidden))
	}
	return maturity.DefaultPolicy(opts...)
}
