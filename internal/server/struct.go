package server

import (
	"context"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/woozymasta/lmstats/internal/models"
	"github.com/woozymasta/lmstats/internal/stats"
)

// Engine answers statistics queries.
type Engine interface {
	Summary(ctx context.Context, q stats.Query) (*stats.Summary, error)
	Dataset(ctx context.Context, name string, q stats.Query) (any, error)
}

// Ingester stores validated instance reports.
type Ingester interface {
	Ingest(ctx context.Context, id string, data models.InstallationData) error
}

// CountryResolver maps a client IP to an ISO country code.
type CountryResolver interface {
	CountryCode(ip string) string
}

// Recorder counts instance report outcomes.
type Recorder interface {
	Report(result string)
}

// Deps are the collaborators of the Server. GeoIP, Recorder and Metrics may be nil.
type Deps struct {
	Engine   Engine
	Ingester Ingester
	GeoIP    CountryResolver
	Recorder Recorder

	// Metrics serves /metrics.
	Metrics http.Handler
}

// Server holds the dependencies, configuration, and runtime state required
// to handle HTTP requests and background report processing.
type Server struct {
	engine   Engine
	ingester Ingester

	// geoip resolves countries when no trusted proxy supplied one.
	geoip    CountryResolver
	recorder Recorder
	metrics  http.Handler

	// userAgent must match the User-Agent of every instance report.
	userAgent *regexp.Regexp

	// queue passes accepted reports from HTTP handlers to background workers.
	queue chan reportJob

	// shutdown is closed to stop background goroutines.
	shutdown chan struct{}

	// seenCache maps installation id to the time its last report was queued.
	// It backs the soft limit that drops reports repeated within softLimitDur.
	seenCache sync.Map

	redirectURL string

	wg sync.WaitGroup

	// maxBody specifies the maximum allowed size (in bytes) for report bodies.
	maxBody int64

	workers int

	// hardLimitCount is the maximum number of reports allowed per IP address
	// within the hardLimitWin duration.
	hardLimitCount int
	hardLimitWin   time.Duration

	softLimitDur time.Duration

	// trustProxy indicates whether CF-Connecting-IP, CF-IPCountry and
	// X-Forwarded-For are trusted.
	trustProxy bool
}

// reportJob is a validated report waiting for storage.
type reportJob struct {
	ID string

	// IP is the resolved client address, used for the GeoIP lookup.
	IP string

	Data models.InstallationData
}
