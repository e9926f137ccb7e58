package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tradegate/client"
	"tradegate/internal/api"
	"tradegate/internal/config"
	"tradegate/internal/middleware"
	"tradegate/internal/proxy"
	"tradegate/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger.InitLogger(cfg.Server.Environment)
	defer logger.Sync()

	if err := run(cfg); err != nil {
		logger.Error("gateway startup failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	rdb, err := initRedis(cfg.Redis)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	} else {
		logger.Warn("redis not configured, rate limiting is per instance")
	}

	guard := middleware.NewGuard(middleware.GuardConfig{
		Bypass:    cfg.Guard.Bypass,
		Protected: cfg.Guard.Protected,
		AuthOnly:  cfg.Guard.AuthOnly,
		LoginPath: cfg.Guard.LoginPath,
		HomePath:  cfg.Guard.HomePath,
	})

	var verifier middleware.SessionVerifier
	if cfg.Session.Verify {
		verifier = client.NewSessionProber(cfg.Proxy.Upstream, cfg.Session.Timeout)
	}

	r := api.RegisterRoutes(api.Deps{
		Proxy:    proxy.New(cfg.Proxy.Upstream, cfg.Proxy.Timeout),
		Guard:    guard,
		Verifier: verifier,
		Redis:    rdb,
		RateLimit: middleware.RateLimitOptions{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
			KeyPrefix:         cfg.RateLimit.KeyPrefix,
			RedisTimeout:      cfg.RateLimit.RedisTimeout,
		},
		Origins:   cfg.CORS.AllowedOrigins,
		StaticDir: cfg.Server.StaticDir,
	})

	srv := &http.Server{
		Addr:    cfg.Server.Port,
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway starting",
			zap.String("addr", cfg.Server.Port),
			zap.String("env", cfg.Server.Environment),
			zap.String("upstream", cfg.Proxy.Upstream),
			zap.Bool("session_verify", cfg.Session.Verify))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("gateway listen: %w", err)
	}
	logger.Info("shutting down gateway...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("gateway forced to shutdown: %w", err)
	}

	logger.Info("gateway exited properly")
	return nil
}

// initRedis returns nil when no address is configured.
func initRedis(cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, nil
}
