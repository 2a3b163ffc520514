package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"gorm.io/gorm"

	httpadp "lending-pool/internal/adapter/http"
	idemp "lending-pool/internal/adapter/middleware"
	"lending-pool/internal/adapter/repository/mysql"
	"lending-pool/internal/config"
	"lending-pool/internal/infrastructure/asset"
	"lending-pool/internal/infrastructure/cache"
	"lending-pool/internal/infrastructure/compliance"
	"lending-pool/internal/infrastructure/db"
	"lending-pool/internal/infrastructure/metrics"
	pooluc "lending-pool/internal/usecase/pool"
)

func main() {
	// optional .env for local runs
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}
	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	gdb, err := openDB(cfg)
	if err != nil {
		logger.Error("open database", "driver", cfg.DBDriver, "error", err)
		os.Exit(1)
	}
	if err := db.Migrate(gdb, mysql.Models()...); err != nil {
		logger.Error("migrate", "error", err)
		os.Exit(1)
	}

	rdb, err := cache.OpenRedis(cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.Error("open redis", "addr", cfg.RedisAddr, "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New(cfg.MetricsNamespace)
	}

	uc := pooluc.NewUsecase(pooluc.Deps{
		Pools:   mysql.NewPoolRepository(gdb),
		Events:  mysql.NewEventRepository(gdb),
		UoW:     mysql.NewGormUoW(gdb),
		Assets:  asset.NewLedger(rdb),
		Oracle:  compliance.NewRegistry(rdb),
		Metrics: m,
		Logger:  logger,
	})
	h := httpadp.NewHandler(map[string]httpadp.Check{
		"db": func(ctx context.Context) error {
			sqlDB, err := gdb.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
		"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	})
	ph := httpadp.NewPoolHandler(uc)

	e := echo.New()
	e.HideBanner = true
	e.Validator = httpadp.NewValidator()
	e.Use(middleware.Logger(), middleware.Recover())

	// routes
	e.GET("/health", h.Health)
	if m != nil {
		e.GET("/metrics", echo.WrapHandler(m.Handler()))
	}
	ph.Register(e.Group("/pools", idemp.IdempotencyMiddleware(rdb, cfg.IdempTTL())))

	addr := ":" + cfg.AppPort
	go func() {
		logger.Info("listening", "addr", addr)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}

func openDB(cfg *config.Config) (*gorm.DB, error) {
	if cfg.DBDriver == config.DriverSQLite {
		return db.OpenSQLite(cfg.SQLitePath)
	}
	return db.OpenGorm(cfg.MySQLDSN())
}
