package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"minimal-sessions/configs"
	"minimal-sessions/server"
	"minimal-sessions/session"
	"minimal-sessions/store"
)

var (
	logger = logrus.New()
)

// Main function to start the server
func main() {
	cfg, err := configs.Load(".env")
	if err != nil {
		logger.Fatalf("Error loading configuration: %v", err)
	}
	configureLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		keys        session.KeyRegistry
		records     session.RecordStore
		redisClient *redis.Client
	)
	switch cfg.StoreBackend {
	case configs.StoreMemory:
		mem := store.NewMemoryStore()
		keys, records = mem, mem
	default:
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatalf("Error connecting to Redis at %s: %v", cfg.RedisAddress, err)
		}
		keys = store.NewRedisIdentityStore(redisClient)
		records = store.NewRedisRecordStore(redisClient)
	}

	hub := server.NewHub(logger)
	negotiator := session.NewNegotiator(keys, records, session.Options{
		TTL:                 cfg.SessionTTL,
		Arbitration:         session.ArbitrationPolicy(cfg.Arbitration),
		StrictEphemeralKeys: cfg.StrictEphemeralKeys,
		Events:              session.MultiSink{session.LogSink{Logger: logger}, hub},
	})

	s := server.NewServer(server.Deps{
		Negotiator: negotiator,
		Keys:       keys,
		Hub:        hub,
		Auth:       server.HeaderAuthenticator{Header: cfg.AuthHeader},
		Redis:      redisClient,
		DevRoutes:  !cfg.IsProduction(),
	}, logger)
	defer s.Close()

	reaper := session.NewReaper(negotiator, cfg.CleanupInterval, logger)
	go runReaper(ctx, reaper)

	httpServer := &http.Server{
		Addr:              cfg.ServerAddress,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go shutdownOnDone(ctx, httpServer, 5*time.Second)

	logger.WithFields(logrus.Fields{
		"address":     cfg.ServerAddress,
		"store":       cfg.StoreBackend,
		"arbitration": cfg.Arbitration,
		"environment": cfg.Environment,
	}).Info("Session server running")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("Error starting server: %v", err)
	}

	logger.Info("Closing server...")
}

func configureLogger(cfg configs.Config) {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logger.Warnf("Unknown LOG_LEVEL %q, using info", cfg.LogLevel)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
}

type runner interface {
	Run(ctx context.Context) error
}

// runReaper blocks until ctx is done. Cancellation is the normal exit.
func runReaper(ctx context.Context, r runner) {
	if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Error("Session reaper exited")
	}
}

type shutdowner interface {
	Shutdown(ctx context.Context) error
}

// shutdownOnDone drains srv once ctx is done, waiting at most timeout.
func shutdownOnDone(ctx context.Context, srv shutdowner, timeout time.Duration) {
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Error shutting down server")
	}
}
