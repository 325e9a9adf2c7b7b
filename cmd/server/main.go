package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/carpool-matching/internal/config"
	"github.com/example/carpool-matching/internal/events"
	httpapi "github.com/example/carpool-matching/internal/http"
	"github.com/example/carpool-matching/internal/logging"
	"github.com/example/carpool-matching/internal/matcher"
	"github.com/example/carpool-matching/internal/notify"
	"github.com/example/carpool-matching/internal/routing"
	"github.com/example/carpool-matching/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// storage backend: mongo when configured, postgres as the SQL option,
	// in-memory for local runs
	var rides storage.RideStore
	var notes storage.NotificationStore
	switch {
	case cfg.MongoURI != "":
		ms, err := storage.NewMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			logger.Error("mongo unavailable", "error", err)
			os.Exit(1)
		}
		rides, notes = ms, ms
		logger.Info("using mongo ride store", "database", cfg.MongoDatabase)
	case cfg.PGDSN != "":
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres unavailable", "error", err)
			os.Exit(1)
		}
		rides = ps
		mem := storage.NewMemoryStore()
		notes = mem
		logger.Info("using postgres ride store")
	default:
		mem := storage.NewMemoryStore()
		rides, notes = mem, mem
		logger.Warn("no database configured, rides are held in memory")
	}

	var oracle routing.Oracle = routing.NewORSClient(cfg.ORSEndpoint, cfg.ORSAPIKey, cfg.OracleTimeout)
	if cfg.RedisAddr != "" {
		oracle = routing.NewCachedOracle(oracle, cfg.RedisAddr, cfg.RedisPassword, cfg.RouteCacheTTL)
		logger.Info("route cache enabled", "redis", cfg.RedisAddr)
	}

	var pub events.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		pub = kp
		logger.Info("ride events enabled", "topic", cfg.KafkaTopic)
	}

	m := &matcher.Service{
		Rides:         rides,
		Oracle:        oracle,
		Logger:        logger,
		ThresholdKm:   cfg.MatchThresholdKm,
		MaxInFlight:   cfg.MatchMaxInFlight,
		OracleTimeout: cfg.OracleTimeout,
	}

	srv := httpapi.NewServer(rides, notes, m, oracle, pub, notify.NewRegistry(), logger)

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("carpool matching listening", "addr", cfg.HTTPAddr)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
