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

	"tradegate/internal/config"
	"tradegate/internal/devbackend"
	"tradegate/internal/middleware"
	v1 "tradegate/pkg/api/v1"
	"tradegate/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	demoEmail := flag.String("demo-email", "demo@tradegate.local", "seeded account email")
	demoPassword := flag.String("demo-password", "demo-password", "seeded account password")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger.InitLogger(cfg.Server.Environment)
	defer logger.Sync()

	if err := run(cfg, *demoEmail, *demoPassword); err != nil {
		logger.Error("devbackend startup failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, demoEmail, demoPassword string) error {
	rdb, cleanup, err := initRedis(cfg.Redis)
	if err != nil {
		return err
	}
	defer cleanup()

	users := devbackend.NewUserStore()
	if _, err := users.Create(v1.RegisterRequest{Email: demoEmail, Password: demoPassword, FirstName: "Demo"}); err != nil {
		return fmt.Errorf("seed demo account: %w", err)
	}

	svc := devbackend.NewAuthService(rdb, users,
		cfg.DevBackend.SigningKey, cfg.DevBackend.AccessTokenTTL, cfg.DevBackend.RefreshTokenTTL)

	r := gin.New()
	r.Use(middleware.RequestID(), middleware.GinZapLogger(), middleware.GinZapRecovery())
	devbackend.NewHandler(svc, cfg.DevBackend.SecureCookies).RegisterRoutes(r)

	srv := &http.Server{Addr: cfg.DevBackend.Port, Handler: r}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("devbackend starting",
			zap.String("addr", cfg.DevBackend.Port),
			zap.String("demo_email", demoEmail))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("devbackend listen: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// initRedis connects to the configured redis, or starts an in-process one
// when no address is set.
func initRedis(cfg config.RedisConfig) (*redis.Client, func(), error) {
	addr := cfg.Addr
	var embedded *miniredis.Miniredis
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("start embedded redis: %w", err)
		}
		embedded = mr
		addr = mr.Addr()
		logger.Info("using embedded redis", zap.String("addr", addr))
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password, DB: cfg.DB})
	cleanup := func() {
		_ = rdb.Close()
		if embedded != nil {
			embedded.Close()
		}
	}
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return rdb, cleanup, nil
}
