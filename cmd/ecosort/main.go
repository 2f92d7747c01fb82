// Package main boots the EcoSort disposal advice service: config, stores,
// the advisor pipeline, and the HTTP surface.
package main

import (
	"context"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yiwugan/sort-smart/internal/app"
	"github.com/yiwugan/sort-smart/internal/app/httpapi"
	"github.com/yiwugan/sort-smart/internal/app/storage/postgres"
	"github.com/yiwugan/sort-smart/internal/cache"
	"github.com/yiwugan/sort-smart/internal/config"
	"github.com/yiwugan/sort-smart/pkg/logger"
)

// Build metadata, set by the linker.
var version = "dev"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		stdlog.Fatalf("load configuration: %v", err)
	}

	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	}).Named("ecosort")

	stores := app.Stores{}
	if cfg.Database.Enabled() {
		db, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			log.WithError(err).Fatal("open database")
		}
		defer db.Close()
		if err := postgres.Migrate(db); err != nil {
			log.WithError(err).Fatal("run database migrations")
		}
		store := postgres.New(db)
		stores.Guides = store
		stores.Advice = store
		log.Info("postgres store ready")
	} else {
		log.Warn("DATABASE_DSN not set; using in-memory stores")
	}

	var adviceCache cache.Cache
	if cfg.Redis.Enabled() {
		redisCache := cache.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisCache.Ping(pingCtx)
		pingCancel()
		if err != nil {
			log.WithError(err).Warn("redis unreachable; falling back to in-memory advice cache")
			_ = redisCache.Close()
			adviceCache = cache.NewMemory()
		} else {
			defer redisCache.Close()
			adviceCache = redisCache
			log.Info("redis advice cache ready")
		}
	} else {
		adviceCache = cache.NewMemory()
	}

	application, err := app.New(cfg, stores, adviceCache, log)
	if err != nil {
		log.WithError(err).Fatal("build application")
	}
	if err := application.Start(ctx); err != nil {
		log.WithError(err).Fatal("start application")
	}

	handler := httpapi.NewHandler(application, httpapi.Config{
		Version:        version,
		AllowedOrigins: cfg.Origins(),
		AdminJWTSecret: cfg.Auth.AdminJWTSecret,
		AuditLogPath:   cfg.Auth.AuditLogPath,
		RateLimitRPS:   cfg.RateLimit.RPS,
		RateLimitBurst: cfg.RateLimit.Burst,
	}, log)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.WithField("addr", server.Addr).Info("listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server error")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("application stop")
	}

	log.Info("service stopped")
}
