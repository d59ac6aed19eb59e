// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

// Command callcore is the service entrypoint: it loads configuration, wires
// every collaborator (Postgres, Redis, S3, the realtime model, telephony),
// and serves the telephony/browser routes over gin.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/rapidaai/callcore/internal/callstore"
	"github.com/rapidaai/callcore/internal/config"
	"github.com/rapidaai/callcore/internal/documents"
	"github.com/rapidaai/callcore/internal/knowledge"
	"github.com/rapidaai/callcore/internal/logging"
	"github.com/rapidaai/callcore/internal/router"
	"github.com/rapidaai/callcore/internal/storage"
	"github.com/rapidaai/callcore/internal/telephony/twilio"
	"github.com/rapidaai/callcore/internal/transport"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("callcore: %v", err)
	}
}

func run() error {
	v, err := config.InitConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg, err := config.GetApplicationConfig(v)
	if err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger, err := logging.New(logging.Options{
		Level:      cfg.Logging.Level,
		FilePath:   cfg.Logging.FilePath,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}

	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN: fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.User, cfg.Postgres.Password,
			cfg.Postgres.DBName, cfg.Postgres.SSLMode),
	}), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("unwrapping postgres handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.Postgres.MaxOpenConnection)
	sqlDB.SetMaxIdleConns(cfg.Postgres.MaxIdleConnection)

	store := callstore.New(db, logger)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s3Store, err := storage.New(ctx, storage.Config{
		Region: cfg.S3.Region,
		Bucket: cfg.S3.Bucket,
		Prefix: cfg.S3.Prefix,
	})
	if err != nil {
		return fmt.Errorf("connecting to s3: %w", err)
	}

	kb, err := knowledge.New(
		documents.New(db),
		knowledge.NewRedisCache(redisClient),
		knowledge.NewOpenAICompleter(cfg.KnowledgeBase.APIKey, cfg.KnowledgeBase.Model),
		logger.With("component", "knowledge"),
		cfg.KnowledgeBase.MaxGroupTokens,
		0,
	)
	if err != nil {
		return fmt.Errorf("building knowledge base: %w", err)
	}

	logDir := os.Getenv("CALLCORE_LOG_DIR")
	if logDir == "" {
		logDir = "/tmp/callcore-sessions"
	}

	deps := transport.Deps{
		Cfg:     cfg,
		Logger:  logger,
		Store:   store,
		KB:      kb,
		Objects: s3Store,
		LogDir:  logDir,
	}
	// deps.Telephony stays a nil interface (not a nil *twilio.Client boxed in
	// one) when no account is configured, so transport.Run's nil checks work.
	if cfg.Telephony.AccountSID != "" {
		deps.Telephony = twilio.New(cfg.Telephony.AccountSID, cfg.Telephony.AuthToken)
	}

	engine := router.New(cfg, deps, store)
	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: engine,
	}

	go func() {
		logger.Infof("callcore: listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("callcore: server exited: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
