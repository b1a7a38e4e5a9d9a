package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"logistics/api/internal/app"
	"logistics/api/internal/config"
	"logistics/api/internal/logger"
	"logistics/api/internal/search"
	"logistics/api/internal/session"
	"logistics/api/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat, "logistics-api")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx := context.Background()

	docs, err := openDocumentStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("document store unavailable", zap.String("backend", cfg.StoreBackend), zap.Error(err))
	}
	defer docs.Close()

	sessions, err := openSessionStore(cfg)
	if err != nil {
		log.Fatal("view state store unavailable", zap.String("backend", cfg.ViewStateBackend), zap.Error(err))
	}
	defer sessions.Close()

	var index search.Index
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log.Named("meili"))
		defer meiliClient.Close()
		index = meiliClient
	}

	service, err := app.New(cfg, docs, sessions, index, log)
	if err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}
	if err := service.Start(ctx); err != nil {
		log.Fatal("sync start failed", zap.Error(err))
	}
	defer service.Close()

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, log.Named("http"))
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("logistics API listening", zap.String("addr", cfg.Addr), zap.String("store", cfg.StoreBackend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", zap.Error(err))
	}
}

func openDocumentStore(ctx context.Context, cfg config.Config, log *zap.Logger) (store.DocumentStore, error) {
	switch cfg.StoreBackend {
	case config.BackendRedis:
		return store.NewRedisStore(cfg.RedisURL, cfg.RedisPrefix, cfg.StoreTimeout, log.Named("store"))
	case config.BackendPostgres:
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := store.ApplyMigrations(ctx, db, os.DirFS(cfg.MigrationsDir)); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		return store.NewPostgresStore(db, cfg.StoreTimeout, log.Named("store")), nil
	case config.BackendMemory:
		log.Warn("using in-memory document store, data is lost on restart")
		return store.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func openSessionStore(cfg config.Config) (session.Store, error) {
	switch cfg.ViewStateBackend {
	case config.BackendRedis:
		return session.NewRedisStore(cfg.RedisURL, cfg.RedisPrefix, cfg.SessionTTL)
	case config.BackendMemory:
		return session.NewMemoryStore(cfg.SessionTTL), nil
	default:
		return nil, fmt.Errorf("unknown view state backend %q", cfg.ViewStateBackend)
	}
}
