package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"
	"github.com/woozymasta/lmstats/internal/stats"
	"github.com/woozymasta/lmstats/internal/vars"
)

const secondsPerDay = 86400

// filterPatterns validate filter query parameters. Values that do not match are ignored.
var filterPatterns = map[stats.Dimension]*regexp.Regexp{
	stats.DimensionOS:      regexp.MustCompile(`(?i)^[a-z0-9-_]+$`),
	stats.DimensionOSName:  regexp.MustCompile(`(?i)^[a-z0-9-_ ()]+$`),
	stats.DimensionVersion: regexp.MustCompile(`^\d+\.\d+\.\d+$`),
	stats.DimensionCountry: regexp.MustCompile(`(?i)^[A-Z]{2}$`),
}

// ParseQuery reads days, filters and fast from the URL query.
// A missing or non-positive days leaves the window unbounded.
func ParseQuery(r *http.Request) stats.Query {
	params := r.URL.Query()

	var q stats.Query
	if days, err := strconv.Atoi(params.Get("days")); err == nil && days > 0 {
		q.Secs = int64(days) * secondsPerDay
	}

	for _, d := range stats.Dimensions {
		v := params.Get(string(d))
		if v != "" && filterPatterns[d].MatchString(v) {
			q.Filters = append(q.Filters, stats.Filter{Dimension: d, Value: v})
		}
	}

	switch params.Get("fast") {
	case "1", "true":
		q.Fast = true
	}

	return q
}

// handleSummary returns the dashboard bundle; the window defaults to the active window.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.engine.Summary(r.Context(), ParseQuery(r))
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, r, summary)
}

// handleDataset returns a single dataset.
func (s *Server) handleDataset(w http.ResponseWriter, r *http.Request) {
	result, err := s.engine.Dataset(r.Context(), r.PathValue("dataset"), ParseQuery(r))
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, r, result)
}

// handleHealth reports liveness and build info.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, r, map[string]any{
		"status": "ok",
		"build":  vars.Info(),
	})
}

// handleIndex sends visitors to the public analytics page.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, s.redirectURL, http.StatusMovedPermanently)
}

// respondJSON writes v with an ETag and answers 304 when the client already has it.
func respondJSON(w http.ResponseWriter, r *http.Request, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Failed to encode response")
		respondError(w, err)
		return
	}

	etag := fmt.Sprintf(`"%016x"`, xxhash.Sum64(body))
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

// respondError maps engine errors to status codes. Details never reach the client.
func respondError(w http.ResponseWriter, err error) {
	var unknown *stats.UnknownDatasetError
	switch {
	case errors.As(err, &unknown):
		http.Error(w, "404 Not Found", http.StatusNotFound)
		return
	case errors.Is(err, stats.ErrInvalidFilter):
		writeErrorJSON(w, http.StatusBadRequest, stats.ErrInvalidFilter.Error())
		return
	}

	writeErrorJSON(w, http.StatusInternalServerError, stats.ErrComputationFailed.Error())
}

func writeErrorJSON(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
