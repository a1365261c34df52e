package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/lmstats/internal/ingest"
	"github.com/woozymasta/lmstats/internal/models"
)

// Report outcomes, used as metric labels.
const (
	reportQueued  = "queued"
	reportInvalid = "invalid"
	reportSkipped = "skipped"
	reportDropped = "dropped"
	reportStored  = "stored"
	reportFailed  = "failed"
)

const (
	idHeader      = "x-lms-id"
	countryHeader = "CF-IPCountry"

	// unknownCountry is what Cloudflare sends when it cannot locate the client.
	unknownCountry = "XX"
)

var countryPattern = regexp.MustCompile(`^[A-Z]{2}$`)

// handleInstance accepts an instance report. Every report that passes the rate
// limit is answered 201 with an empty body, accepted or not, so clients never retry.
func (s *Server) handleInstance(w http.ResponseWriter, r *http.Request) {
	ip := GetRealIP(r, s.trustProxy)
	id := r.PathValue("id")

	if header := r.Header.Get(idHeader); header != id {
		s.reject(w, ip, id, errors.New("id header does not match path"))
		return
	}

	if !s.userAgent.MatchString(r.UserAgent()) {
		s.reject(w, ip, id, errors.New("unexpected user agent "+r.UserAgent()))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)

	var report models.InstanceReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		s.reject(w, ip, id, err)
		return
	}

	data, err := ingest.Validate(id, report)
	if err != nil {
		s.reject(w, ip, id, err)
		return
	}

	if s.trustProxy {
		if c := r.Header.Get(countryHeader); c != unknownCountry && countryPattern.MatchString(c) {
			data.Country = c
		}
	}

	// Soft limit
	if val, ok := s.seenCache.Load(id); ok {
		if lastSeen, ok := val.(time.Time); ok && time.Since(lastSeen) < s.softLimitDur {
			s.record(reportSkipped)
			log.Trace().
				Str("ip", ip).
				Str("id", id).
				Msg("Dropped by soft limit hit")

			respondCreated(w)
			return
		}
	}

	select {
	case s.queue <- reportJob{ID: id, IP: ip, Data: data}:
		s.seenCache.Store(id, time.Now())
		s.record(reportQueued)
		log.Trace().
			Str("ip", ip).
			Str("id", id).
			Str("version", data.Version).
			Msg("Instance report queued")
	default:
		s.record(reportDropped)
		log.Warn().
			Str("ip", ip).
			Str("id", id).
			Msg("Queue full, instance report dropped")
	}

	respondCreated(w)
}

// reject logs why a report was not accounted and answers it like an accepted one.
func (s *Server) reject(w http.ResponseWriter, ip, id string, err error) {
	s.record(reportInvalid)

	var verr *ingest.ValidationError
	event := log.Debug()
	if errors.As(err, &verr) {
		event = event.Str("field", verr.Field)
	}
	event.
		Err(err).
		Str("ip", ip).
		Str("id", id).
		Msg("Instance report rejected")

	respondCreated(w)
}

func respondCreated(w http.ResponseWriter) {
	w.WriteHeader(http.StatusCreated)
}
