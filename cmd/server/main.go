package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gridops/internal/config"
	apphttp "gridops/internal/http"
	"gridops/internal/integrations/telegram"
	"gridops/internal/integrations/webhook"
	"gridops/internal/logging"
	storepkg "gridops/internal/store"
	"gridops/internal/store/memory"
	"gridops/internal/store/postgres"
	"gridops/internal/store/sqlite"
)

func main() {
	loaded, envErr := config.LoadDotEnv(".env")
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	if envErr != nil {
		logger.Warn("failed to load .env", zap.Error(envErr))
	} else if loaded > 0 {
		logger.Debug("loaded .env", zap.Int("keys", loaded))
	}

	st := openStore(cfg, logger)
	publisher := webhook.NewPublisher(
		cfg.EventWebhookURL,
		cfg.EventWebhookTimeout,
		cfg.EventWebhookMaxRetries,
		cfg.EventWebhookRetryBase,
		cfg.EventWebhookRetryMax,
		logger.Named("webhook"),
	)

	notifier := telegram.NewNotifier(cfg.TelegramAPIBase, cfg.TelegramBotToken, cfg.TelegramChatID, logger.Named("telegram"))

	srv := apphttp.NewServer(cfg, st, publisher, notifier, logger)

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("gridops API listening", zap.String("addr", cfg.ListenAddr), zap.String("store", cfg.StoreMode))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
	}

	if closer, ok := st.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Warn("close store", zap.Error(err))
		}
	}
}

func openStore(cfg config.Config, logger *zap.Logger) storepkg.Store {
	switch cfg.StoreMode {
	case "postgres":
		if cfg.DatabaseURL == "" {
			logger.Warn("STORE_MODE=postgres without DATABASE_URL, using memory store")
			break
		}
		pgStore, err := postgres.NewStore(cfg.DatabaseURL, cfg.RefreshTokenTTL)
		if err != nil {
			logger.Warn("postgres store unavailable, falling back to memory store", zap.Error(err))
			break
		}
		return pgStore
	case "sqlite":
		sqliteStore, err := sqlite.NewStore(cfg.SQLitePath, cfg.RefreshTokenTTL)
		if err != nil {
			logger.Warn("sqlite store unavailable, falling back to memory store", zap.Error(err))
			break
		}
		return sqliteStore
	}
	return memory.NewStore(cfg.RefreshTokenTTL)
}
