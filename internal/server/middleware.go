package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// limiterIdle is how long an IP keeps its limiter without requests.
const limiterIdle = 10 * time.Minute

// GetRealIP attempts to determine the client's real IP address, trusting
// headers like CF-Connecting-IP or X-Forwarded-For if configured to do so.
func GetRealIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if cf := r.Header.Get("CF-Connecting-IP"); cf != "" {
			return cf
		}
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			return strings.TrimSpace(first)
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return ip
}

// RateLimitMiddleware applies a hard per-IP limit of hardLimitCount requests per hardLimitWin.
// It rejects requests with "429 Too Many Requests" if the limit is exceeded.
func (s *Server) RateLimitMiddleware(next http.Handler) http.Handler {
	type client struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}

	var (
		mu      sync.Mutex
		clients = make(map[string]*client)
	)

	go func() {
		ticker := time.NewTicker(limiterIdle / 2)
		defer ticker.Stop()

		for {
			select {
			case <-s.shutdown:
				return
			case now := <-ticker.C:
				mu.Lock()
				for ip, c := range clients {
					if now.Sub(c.lastSeen) > limiterIdle {
						delete(clients, ip)
					}
				}
				mu.Unlock()
			}
		}
	}()

	limit := rate.Limit(float64(s.hardLimitCount) / s.hardLimitWin.Seconds())

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := GetRealIP(r, s.trustProxy)

		mu.Lock()
		cli, found := clients[ip]
		if !found {
			cli = &client{limiter: rate.NewLimiter(limit, s.hardLimitCount)}
			clients[ip] = cli
		}
		cli.lastSeen = time.Now()
		limiter := cli.limiter
		mu.Unlock()

		if !limiter.Allow() {
			http.Error(w, "429 Failure - rate limit exceeded, try again in a few minutes", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// statusRecorder remembers the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware logs the details of each HTTP request, including method, path, status, IP, and duration.
func (s *Server) LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Str("ip", GetRealIP(r, s.trustProxy)).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}

// CORSMiddleware lets dashboards on other origins read the public statistics.
func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}
