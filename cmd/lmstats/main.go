// main is the entry point of the LMStats application.
// It wires configuration, logging, storage, the query cache, the statistics engine,
// GeoIP, the scheduler and the HTTP server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/woozymasta/lmstats/internal/cache"
	"github.com/woozymasta/lmstats/internal/config"
	"github.com/woozymasta/lmstats/internal/fake"
	"github.com/woozymasta/lmstats/internal/geoip"
	"github.com/woozymasta/lmstats/internal/ingest"
	"github.com/woozymasta/lmstats/internal/jobs"
	"github.com/woozymasta/lmstats/internal/logger"
	"github.com/woozymasta/lmstats/internal/maintenance"
	"github.com/woozymasta/lmstats/internal/metrics"
	"github.com/woozymasta/lmstats/internal/server"
	"github.com/woozymasta/lmstats/internal/stats"
	"github.com/woozymasta/lmstats/internal/storage"
	"github.com/woozymasta/lmstats/internal/vars"
)

func main() {
	cfg := config.Parse()

	closeLog := logger.Setup(cfg.Logger)
	defer func() { _ = closeLog() }()

	log.Info().
		Str("version", vars.Version).
		Str("commit", vars.CommitShort()).
		Msg("Starting lmstats service...")

	if err := run(cfg); err != nil {
		log.Error().Err(err).Msg("Exiting with error")
		_ = closeLog()
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	store, err := storage.New(ctx, cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database")
		}
	}()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.NewMetrics(reg)
	if err != nil {
		return err
	}

	// Query cache
	qc, err := cache.New(ctx, cfg.Cache)
	if err != nil {
		return err
	}
	defer func() { _ = qc.Close() }()

	engine := stats.New(store, qc, stats.Options{
		ActiveWindow: cfg.Stats.ActiveWindow,
		Retention:    cfg.Stats.Retention,
		HistoryBins:  cfg.Stats.HistoryBins,
		TTL:          cfg.Cache.TTL,
		PluginsTTL:   cfg.Cache.PluginsTTL,
		DisableCache: cfg.Cache.Backend == config.CacheNone,
	}, stats.WithRecorder(m))

	// data generation or database maintenance
	if cfg.Storage.GenerateCount > 0 {
		_, err := fake.GenerateData(ctx, store, cfg.Storage.GenerateCount, 0)
		return err
	}
	if ran, err := maintenance.Run(ctx, cfg, engine); ran {
		return err
	}

	deps := server.Deps{
		Engine:   engine,
		Ingester: ingest.New(store),
		Recorder: m,
		Metrics:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
	}

	// GeoIP
	log.Info().Msg("Checking GeoIP database...")
	geo, err := geoip.Open(ctx, cfg.GeoIP.Path, cfg.GeoIP.URL, cfg.GeoIP.Interval)
	if err != nil {
		log.Error().Err(err).Msg("Failed to open GeoIP database, country detection disabled")
	} else {
		deps.GeoIP = geo
		defer func() {
			if err := geo.Close(); err != nil {
				log.Error().Err(err).Msg("Error closing GeoIP provider")
			}
		}()
	}

	// Scheduler
	var scheduler *jobs.Scheduler
	if cfg.Jobs.Enabled {
		scheduler = jobs.New(m)
		for _, job := range jobs.Standard(cfg.Jobs, engine) {
			if err := scheduler.Add(job); err != nil {
				return err
			}
		}
		if geo != nil {
			err := scheduler.Add(jobs.Job{
				Name:     jobs.JobGeoIP,
				Schedule: "@every " + cfg.GeoIP.Interval.String(),
				Run:      geo.Refresh,
			})
			if err != nil {
				return err
			}
		}
		scheduler.Start()
	}

	// Init server
	srv := server.New(deps, cfg)
	srv.StartWorkers()

	httpServer := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      srv.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("address", cfg.Server.Address).Msg("Server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Graceful Shutdown
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return err
	}

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop workers (wait queue done)
	srv.StopWorkers()

	if scheduler != nil {
		if err := scheduler.Stop(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Scheduled jobs did not finish in time")
		}
	}

	log.Info().Msg("Server exited")

	return nil
}
