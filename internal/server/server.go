// Package server implements the HTTP server, middleware, and request handlers for the application.
package server

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/lmstats/internal/config"
)

// jobTimeout bounds the storage of a single report.
const jobTimeout = 10 * time.Second

// New creates a new Server from its collaborators and configuration.
func New(deps Deps, cfg *config.Config) *Server {
	return &Server{
		engine:         deps.Engine,
		ingester:       deps.Ingester,
		geoip:          deps.GeoIP,
		recorder:       deps.Recorder,
		metrics:        deps.Metrics,
		userAgent:      regexp.MustCompile(cfg.Server.UserAgent),
		redirectURL:    cfg.Server.RedirectURL,
		maxBody:        cfg.Server.MaxBodySize,
		workers:        max(cfg.Server.Workers, 1),
		trustProxy:     cfg.Server.TrustProxy,
		hardLimitCount: cfg.RateLimit.HardLimitCount,
		hardLimitWin:   cfg.RateLimit.HardLimitWin,
		softLimitDur:   cfg.RateLimit.SoftLimitDur,

		queue:    make(chan reportJob, max(cfg.Server.QueueSize, 1)),
		shutdown: make(chan struct{}),
	}
}

// StartWorkers initializes the background worker pool for storing reports
// and the soft limit cleanup routine.
func (s *Server) StartWorkers() {
	for range s.workers {
		s.wg.Add(1)
		go s.worker()
	}

	go s.gcSoftLimitCache()
}

// StopWorkers stops accepting background work and waits until the queue is drained.
func (s *Server) StopWorkers() {
	close(s.shutdown)
	close(s.queue)
	s.wg.Wait()
}

// Handler configures the HTTP routes and returns the main handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /api/instance/{id}/", s.RateLimitMiddleware(http.HandlerFunc(s.handleInstance)))
	mux.Handle("GET /api/stats", CORSMiddleware(http.HandlerFunc(s.handleSummary)))
	mux.Handle("GET /api/stats/{dataset}", CORSMiddleware(http.HandlerFunc(s.handleDataset)))
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	mux.HandleFunc("GET /{$}", s.handleIndex)

	return s.LoggingMiddleware(mux)
}

// worker stores queued reports until the queue is closed.
func (s *Server) worker() {
	defer s.wg.Done()

	for job := range s.queue {
		s.processJob(job)
	}
}

// processJob resolves the country of a report and stores it.
func (s *Server) processJob(job reportJob) {
	if job.Data.Country == "" && s.geoip != nil {
		job.Data.Country = s.geoip.CountryCode(job.IP)
	}

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if err := s.ingester.Ingest(ctx, job.ID, job.Data); err != nil {
		s.record(reportFailed)
		log.Error().
			Err(err).
			Str("id", job.ID).
			Msg("Failed to store instance report")
		return
	}

	s.record(reportStored)
	log.Debug().
		Str("id", job.ID).
		Str("version", job.Data.Version).
		Str("country", job.Data.Country).
		Msg("Instance report stored")
}

// gcSoftLimitCache periodically removes expired entries from the soft limit cache.
func (s *Server) gcSoftLimitCache() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case now := <-ticker.C:
			s.seenCache.Range(func(key, value any) bool {
				if t, ok := value.(time.Time); !ok || now.Sub(t) > s.softLimitDur {
					s.seenCache.Delete(key)
				}
				return true
			})
		}
	}
}

func (s *Server) record(result string) {
	if s.recorder != nil {
		s.recorder.Report(result)
	}
}
