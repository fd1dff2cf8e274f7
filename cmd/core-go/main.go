package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"printfarm/core-go/internal/db"
	"printfarm/core-go/internal/fleet"
	"printfarm/core-go/internal/httpapi"
	"printfarm/core-go/internal/mdns"
	"printfarm/core-go/internal/metrics"
	"printfarm/core-go/internal/moonraker"
	"printfarm/core-go/internal/pollworker"
	"printfarm/core-go/internal/registry"
)

func main() {
	addr := envOr("HTTP_ADDR", ":8081")
	logLevel := envOr("LOG_LEVEL", "info")
	logFormat := envOr("LOG_FORMAT", "json")
	databaseURL := envOr("DATABASE_URL", "")
	printersFile := envOr("PRINTERS_FILE", "")

	logger := httpapi.NewLogger(os.Stdout, "core-go", logLevel, logFormat)

	pollInterval := envDuration(logger, "POLL_INTERVAL", 5*time.Second)
	requestTimeout := envDuration(logger, "REQUEST_TIMEOUT", 5*time.Second)
	settleDelay := envDuration(logger, "AFC_SETTLE_DELAY", fleet.DefaultSettleDelay)
	mdnsEnabled := envBool(logger, "MDNS_ENABLED", true)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		pool  *db.Pool
		store registry.Store
	)
	if databaseURL != "" {
		p, err := db.Open(ctx, databaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer p.Close()
		pool = p
		store = registry.NewPostgres(p)
	} else {
		store = registry.NewMemory()
	}

	if printersFile != "" {
		entries, err := registry.LoadSeedFile(printersFile)
		if err != nil {
			logger.Fatal().Err(err).Str("path", printersFile).Msg("failed to read printers file")
		}
		n, err := registry.Seed(ctx, store, entries)
		if err != nil {
			logger.Fatal().Err(err).Str("path", printersFile).Msg("failed to seed registry")
		}
		logger.Info().Int("added", n).Int("entries", len(entries)).Msg("registry seeded")
	}

	gwOpts := moonraker.Options{Timeout: requestTimeout}
	if mdnsEnabled {
		gwOpts.Resolver = &mdns.Resolver{}
	}
	gateway := moonraker.NewClient(logger, gwOpts)

	m := metrics.New()
	hub := httpapi.NewHub(logger)
	defer hub.Close()

	fleetSync := fleet.New(logger, gateway, store, fleet.Options{
		Notifier:    hub,
		Metrics:     m,
		SettleDelay: settleDelay,
	})
	defer fleetSync.Close()

	n, err := fleetSync.Load(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load printers")
	}
	logger.Info().Int("printers", n).Msg("fleet loaded")

	worker := pollworker.New(logger, fleetSync, pollworker.Options{Interval: pollInterval})
	go worker.Run(ctx)

	opts := httpapi.Options{Metrics: m, Events: hub}
	if pool != nil {
		opts.DB = pool
	}
	h := httpapi.NewHandler(logger, fleetSync, opts)
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", addr).Msg("core-go listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info().Msg("shutdown complete")
}

func envOr(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envDuration(log zerolog.Logger, key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Warn().Str("key", key).Str("value", v).Dur("default", fallback).Msg("invalid duration, using default")
		return fallback
	}
	return d
}

func envBool(log zerolog.Logger, key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Bool("default", fallback).Msg("invalid bool, using default")
		return fallback
	}
	return b
}
