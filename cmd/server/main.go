// Package main provides the flags/capture edge service HTTP server.
//
// Application Startup Flow:
//
//  1. Load configuration from environment variables (config.Load)
//  2. Build the structured logger (config.NewLogger) and Prometheus registry
//     (telemetry.Init)
//  3. Connect the follower Postgres pool and the shared/dedicated Redis
//     clients
//  4. Wire the Flag State Loader, Cohort Resolver, and group-type cache on
//     top of the follower DB and Redis
//  5. Wire the capture pipeline: bus sink (Redis Streams) with a local-disk
//     fallback sink
//  6. Start the API server on cfg.HTTPAddr and the metrics/pprof server on
//     cfg.MetricsAddr
//  7. Wait for SIGINT/SIGTERM for graceful shutdown
package main

import (
	"context"
	"errors"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/TimurManjosov/goflagship/internal/cohorts"
	"github.com/TimurManjosov/goflagship/internal/config"
	"github.com/TimurManjosov/goflagship/internal/db"
	"github.com/TimurManjosov/goflagship/internal/flagscache"
	"github.com/TimurManjosov/goflagship/internal/httpapi"
	"github.com/TimurManjosov/goflagship/internal/pgstore"
	"github.com/TimurManjosov/goflagship/internal/remoteconfig"
	"github.com/TimurManjosov/goflagship/internal/sinks"
	"github.com/TimurManjosov/goflagship/internal/telemetry"
)

// redisHealth adapts a *redis.Client's Ping into sinks.HealthRegistry.
type redisHealth struct{ client *redis.Client }

func (h redisHealth) PrimaryHealthy(ctx context.Context) bool {
	return h.client.Ping(ctx).Err() == nil
}

func main() {
	logger := log.Logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	logger = config.NewLogger(cfg)

	telemetry.Init()

	ctx := context.Background()

	pool, err := db.NewPool(ctx, cfg.DatabaseDSN, db.PoolConfig{
		MaxConns:          cfg.DBMaxConns,
		MinConns:          cfg.DBMinConns,
		HealthCheckPeriod: time.Duration(cfg.DBHealthCheckPeriodSecs) * time.Second,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to follower database")
	}
	defer pool.Close()

	store := pgstore.New(pool)

	sharedRedis := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer sharedRedis.Close()

	var dedicatedClient flagscache.RedisClient
	mode := flagscache.ModeSharedOnly
	if cfg.FlagsRedisEnabled && cfg.DedicatedRedisAddr != "" {
		dedicatedRedis := redis.NewClient(&redis.Options{Addr: cfg.DedicatedRedisAddr})
		defer dedicatedRedis.Close()
		dedicatedClient = dedicatedRedis
		mode = flagscache.ModeDualWrite
	}

	flagsLoader := flagscache.New(sharedRedis, dedicatedClient, mode, store,
		time.Duration(cfg.FlagsCacheTTLSeconds)*time.Second)
	flagsLoader.OnResult = func(result string) {
		telemetry.FlagsCacheHits.WithLabelValues(result).Inc()
	}

	cohortResolver := cohorts.NewResolver(store, time.Duration(cfg.CohortCacheTTLSeconds)*time.Second)

	remoteConfigResolver := remoteconfig.NewResolver(
		remoteconfig.NewRedisStore(sharedRedis),
		remoteconfig.NewRedisStore(sharedRedis),
	)

	busSink := sinks.NewBusSink(sharedRedis, sinks.BusConfig{
		MaxMessageBytes: cfg.BusMaxMessageBytes,
		StreamPrefix:    cfg.BusStreamPrefix,
		ShardCount:      cfg.BusShardCount,
	})

	hostname, _ := os.Hostname()
	diskPutter := sinks.FileObjectPutter{BaseDir: "./capture-dlq"}
	objectSink := sinks.NewObjectStoreSink(diskPutter, hostname, time.Minute, 8<<20)
	bufferedSecondary := sinks.NewBufferedSink(objectSink, 500, 5*time.Second)
	defer bufferedSecondary.Close()
	defer objectSink.Close()

	fallback := sinks.NewFallbackSink(busSink, bufferedSecondary, redisHealth{sharedRedis}, 10*time.Second)
	defer fallback.Close()

	srv := httpapi.NewServer(httpapi.Deps{
		Logger:           logger,
		Teams:            store,
		FlagsLoader:      flagsLoader,
		PropsStore:       store,
		GroupTypeLoader:  store,
		GroupTypeTTL:     time.Duration(cfg.FlagsCacheTTLSeconds) * time.Second,
		Cohorts:          cohortResolver,
		Restrictions:     nil,
		Bus:              fallback,
		RemoteConfig:     remoteConfigResolver,
		PayloadSizeLimit: cfg.PayloadSizeLimitBytes,
		BodyReadTimeout:  time.Duration(cfg.BodyChunkTimeoutMillis) * time.Millisecond,
	})

	apiSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("api server failed")
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsMux.HandleFunc("/debug/pprof/", http.DefaultServeMux.ServeHTTP)

	metricsSrv := &http.Server{
		Addr:         cfg.MetricsAddr,
		Handler:      metricsMux,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics/pprof server listening")
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("metrics server failed")
		}
	}()

	shutdownSignal := make(chan os.Signal, 1)
	signal.Notify(shutdownSignal, syscall.SIGINT, syscall.SIGTERM)
	<-shutdownSignal

	logger.Info().Msg("shutdown signal received, stopping servers")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("error during API server shutdown")
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("error during metrics server shutdown")
	}

	logger.Info().Msg("servers stopped successfully")
}
