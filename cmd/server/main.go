package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mkucukkoc/google-auth-sub004/internal/audit"
	"github.com/mkucukkoc/google-auth-sub004/internal/auth"
	"github.com/mkucukkoc/google-auth-sub004/internal/config"
	"github.com/mkucukkoc/google-auth-sub004/internal/httpapi"
	"github.com/mkucukkoc/google-auth-sub004/internal/limiters"
	"github.com/mkucukkoc/google-auth-sub004/internal/password"
	"github.com/mkucukkoc/google-auth-sub004/internal/reset"
	"github.com/mkucukkoc/google-auth-sub004/internal/retention"
	"github.com/mkucukkoc/google-auth-sub004/internal/session"
	"github.com/mkucukkoc/google-auth-sub004/internal/store"
	"github.com/mkucukkoc/google-auth-sub004/internal/token"
	"github.com/mkucukkoc/google-auth-sub004/internal/user"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, continuing with process environment")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := config.NewLogger(cfg.Env)
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close(context.Background()) }()
	logger.Info("document store ready", zap.String("backend", cfg.Store.Backend))

	hasher, err := password.NewHasher(password.DefaultPasswordParams(), password.DefaultTokenParams())
	if err != nil {
		return err
	}

	tokens, err := token.NewService(token.Config{
		Secret:    []byte(cfg.Auth.JWTSecret),
		Issuer:    cfg.Auth.Issuer,
		Audience:  cfg.Auth.Audience,
		AccessTTL: cfg.Auth.AccessTTL,
	})
	if err != nil {
		return err
	}

	auditor := audit.NewRecorder(audit.Config{
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, audit.NewJSONWriterSink(os.Stdout))
	defer auditor.Close()

	var loginLimiter, resetLimiter *limiters.Limiter
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()

		loginLimiter = limiters.New(rdb, "login", logger, limiters.Config{
			EnableIdentifierThrottle: true,
			EnableIPThrottle:         true,
			MaxAttempts:              cfg.Auth.LoginMaxAttempts,
			Cooldown:                 cfg.Auth.LoginCooldown,
		})
		resetLimiter = limiters.New(rdb, "reset", logger, limiters.Config{
			EnableIdentifierThrottle: true,
			EnableIPThrottle:         true,
			MaxAttempts:              cfg.Reset.MaxRequests,
			Cooldown:                 cfg.Reset.Cooldown,
		})
		logger.Info("rate limiting enabled", zap.String("redis", cfg.Redis.Addr))
	}

	users := user.NewDirectory(st, user.NoopMirror{}, logger, user.Config{
		LockoutThreshold: cfg.Auth.LockoutThreshold,
		LockoutDuration:  cfg.Auth.LockoutDuration,
	})
	sessions := session.NewStore(st, cfg.Auth.SessionTTL)

	resetSvc := reset.NewService(st, users, sessions, hasher, auditor, logger, reset.Config{
		TokenTTL:          cfg.Reset.TokenTTL,
		MinPasswordLength: cfg.Auth.MinPasswordLength,
	})
	authSvc := auth.NewService(users, sessions, tokens, hasher, loginLimiter, auditor, logger, auth.Config{
		MinPasswordLength: cfg.Auth.MinPasswordLength,
	})

	authMW := httpapi.NewAuthMiddleware(tokens, users, sessions, logger, cfg.Auth.LookupTimeout)
	handlersSet := httpapi.NewHandlers(authSvc, resetSvc, resetLimiter, httpapi.Collaborators{}, logger)
	router := httpapi.NewRouter(handlersSet, authMW, logger)

	server := httpapi.NewServer(router, logger, httpapi.ServerConfig{
		Addr:            cfg.HTTP.Addr,
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		WriteTimeout:    cfg.HTTP.WriteTimeout,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
		AllowedOrigins:  cfg.HTTP.AllowedOrigins,
	})

	sweeper := retention.NewSweeper(sessions, resetSvc, logger, cfg.Sweep.Interval)
	go sweeper.Run(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		return server.Shutdown(context.Background())
	}
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Store.Backend == config.BackendMemory {
		return store.NewMemoryStore(), nil
	}
	return store.NewMongoStore(ctx, store.MongoConfig{
		URI:       cfg.Store.URI,
		Database:  cfg.Store.Database,
		OpTimeout: cfg.Store.Timeout,
	})
}
