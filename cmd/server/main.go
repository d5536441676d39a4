package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/example/corridor-matching/internal/auth"
	"github.com/example/corridor-matching/internal/config"
	"github.com/example/corridor-matching/internal/engine"
	"github.com/example/corridor-matching/internal/geo"
	"github.com/example/corridor-matching/internal/httpapi"
	"github.com/example/corridor-matching/internal/ingest"
	"github.com/example/corridor-matching/internal/logging"
	"github.com/example/corridor-matching/internal/match"
	"github.com/example/corridor-matching/internal/presence"
	"github.com/example/corridor-matching/internal/session"
	"github.com/example/corridor-matching/internal/storage"
	"github.com/example/corridor-matching/internal/sweeper"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.NewLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	var index geo.Geo
	if cfg.RedisAddr != "" {
		index = geo.NewRedisGeo(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		logger.Info("using redis geo index", "addr", cfg.RedisAddr, "key", cfg.RedisGeoKey)
	} else {
		index = geo.NewIndex()
	}

	store := presence.NewStore(index, cfg.SeatCapacity)
	registry := session.NewRegistry()
	verifier := auth.NewJWTVerifier(cfg.JWTSecret)

	var users storage.UserStore
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Warn("postgres unavailable, falling back to memory user store", "error", err)
		} else {
			users = ps
			defer ps.Close()
		}
	}
	if users == nil {
		users = storage.NewMemoryStore()
	}

	eng := &engine.Engine{
		Store:           store,
		Registry:        registry,
		Verifier:        verifier,
		Users:           users,
		Log:             logger,
		WaitingTTL:      cfg.WaitingTTL,
		BroadcastBuffer: cfg.BroadcastBuffer,
	}
	if len(cfg.KafkaBrokers) > 0 {
		producer := ingest.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer producer.Close()
		eng.Publisher = producer
	}

	srv := httpapi.NewServer(cfg, logger, store, match.NewService(store, index), registry, eng, verifier)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go sweeper.New(store, registry, cfg.SweepInterval, logger).Run(ctx)

	// no WriteTimeout: it would tear down long-lived live connections
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv,
		ReadHeaderTimeout: cfg.ReadTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	go func() {
		logger.Info("corridor-matching listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
	}
}
