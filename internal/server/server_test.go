package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/woozymasta/lmstats/internal/config"
	"github.com/woozymasta/lmstats/internal/models"
	"github.com/woozymasta/lmstats/internal/stats"
)

const (
	testID = "AbCdEfGhIjKlMnOpQrStUvWxYz0"
	testUA = "iTunes/4.7.1 (Linux; N; Debian; x86_64-linux; EN; utf8) Squeezebox/9.0.1/1733212345 (Lyrion Music Server)"
)

type fakeEngine struct {
	err     error
	dataset any
	last    stats.Query
}

func (f *fakeEngine) Summary(_ context.Context, q stats.Query) (*stats.Summary, error) {
	f.last = q
	if f.err != nil {
		return nil, f.err
	}
	return &stats.Summary{Versions: models.ValueCounts{{Value: "9.0.0", Count: 3}}}, nil
}

func (f *fakeEngine) Dataset(_ context.Context, name string, q stats.Query) (any, error) {
	f.last = q
	if f.err != nil {
		return nil, f.err
	}
	if name == "nope" {
		return nil, &stats.UnknownDatasetError{Name: name}
	}
	return f.dataset, nil
}

type fakeIngester struct {
	err    error
	stored map[string]models.InstallationData
	mu     sync.Mutex
}

func (f *fakeIngester) Ingest(_ context.Context, id string, data models.InstallationData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.stored[id] = data
	return nil
}

type fixedCountry string

func (c fixedCountry) CountryCode(string) string { return string(c) }

type outcomes struct {
	counts map[string]int
	mu     sync.Mutex
}

func (o *outcomes) Report(result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.counts[result]++
}

func (o *outcomes) get(result string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counts[result]
}

type testServer struct {
	*Server
	engine   *fakeEngine
	ingester *fakeIngester
	outcomes *outcomes
	handler  http.Handler
}

func newTestServer(t *testing.T, mutate func(*config.Config), deps Deps) *testServer {
	t.Helper()

	cfg, err := config.ParseArgs(nil)
	require.NoError(t, err)
	if mutate != nil {
		mutate(cfg)
	}

	ts := &testServer{
		engine:   &fakeEngine{dataset: models.ValueCounts{{Value: "en", Count: 2}}},
		ingester: &fakeIngester{stored: map[string]models.InstallationData{}},
		outcomes: &outcomes{counts: map[string]int{}},
	}
	deps.Engine = ts.engine
	deps.Ingester = ts.ingester
	deps.Recorder = ts.outcomes

	ts.Server = New(deps, cfg)
	ts.handler = ts.Handler()
	t.Cleanup(func() {
		// Close the queue only once; StopWorkers may have run already.
		select {
		case <-ts.shutdown:
		default:
			ts.StopWorkers()
		}
	})

	return ts
}

func (ts *testServer) report(body string, mutate func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/instance/"+testID+"/", strings.NewReader(body))
	req.Header.Set(idHeader, testID)
	req.Header.Set("User-Agent", testUA)
	req.RemoteAddr = "203.0.113.7:5555"
	if mutate != nil {
		mutate(req)
	}

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) get(target string, mutate func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if mutate != nil {
		mutate(req)
	}

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func TestInstanceQueued(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) { c.Server.TrustProxy = true }, Deps{})

	rec := ts.report(`{"version":"9.0.0","os":"Debian","players":2,"plugins":["Spotty"]}`, func(r *http.Request) {
		r.Header.Set(countryHeader, "NL")
	})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, 1, ts.outcomes.get(reportQueued))

	require.Len(t, ts.queue, 1)
	job := <-ts.queue
	assert.Equal(t, testID, job.ID)
	assert.Equal(t, "203.0.113.7", job.IP)
	assert.Equal(t, models.InstallationData{
		Version: "9.0.0",
		OS:      "Debian",
		Players: 2,
		Plugins: []string{"Spotty"},
		Country: "NL",
	}, job.Data)
}

func TestInstanceCountryHeader(t *testing.T) {
	for name, tc := range map[string]struct {
		header string
		trust  bool
		want   string
	}{
		"untrusted proxy": {header: "NL", trust: false, want: ""},
		"unknown country": {header: "XX", trust: true, want: ""},
		"garbage":         {header: "Netherlands", trust: true, want: ""},
		"trusted":         {header: "FR", trust: true, want: "FR"},
	} {
		t.Run(name, func(t *testing.T) {
			ts := newTestServer(t, func(c *config.Config) { c.Server.TrustProxy = tc.trust }, Deps{})

			ts.report(`{"version":"9.0.0"}`, func(r *http.Request) { r.Header.Set(countryHeader, tc.header) })

			require.Len(t, ts.queue, 1)
			assert.Equal(t, tc.want, (<-ts.queue).Data.Country)
		})
	}
}

func TestInstanceRejected(t *testing.T) {
	for name, tc := range map[string]struct {
		body   string
		mutate func(*http.Request)
	}{
		"id header mismatch": {
			body:   `{}`,
			mutate: func(r *http.Request) { r.Header.Set(idHeader, "other") },
		},
		"missing id header": {
			body:   `{}`,
			mutate: func(r *http.Request) { r.Header.Del(idHeader) },
		},
		"foreign user agent": {
			body:   `{}`,
			mutate: func(r *http.Request) { r.Header.Set("User-Agent", "curl/8.0") },
		},
		"server name without squeezebox": {
			body:   `{}`,
			mutate: func(r *http.Request) { r.Header.Set("User-Agent", "Lyrion Music Server/9.0.1") },
		},
		"not json":      {body: `players=2`},
		"bad version":   {body: `{"version":"nine"}`},
		"float players": {body: `{"players":1.5}`},
		"too large":     {body: `{"revision":"` + strings.Repeat("x", 40000) + `"}`},
	} {
		t.Run(name, func(t *testing.T) {
			ts := newTestServer(t, nil, Deps{})

			rec := ts.report(tc.body, tc.mutate)

			assert.Equal(t, http.StatusCreated, rec.Code, "rejections look like success")
			assert.Empty(t, ts.queue)
			assert.Equal(t, 1, ts.outcomes.get(reportInvalid))
		})
	}
}

func TestInstanceSoftLimit(t *testing.T) {
	ts := newTestServer(t, nil, Deps{})

	assert.Equal(t, http.StatusCreated, ts.report(`{"version":"9.0.0"}`, nil).Code)
	assert.Equal(t, http.StatusCreated, ts.report(`{"version":"9.0.0"}`, nil).Code)

	assert.Len(t, ts.queue, 1)
	assert.Equal(t, 1, ts.outcomes.get(reportQueued))
	assert.Equal(t, 1, ts.outcomes.get(reportSkipped))
}

func TestInstanceQueueFull(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) {
		c.Server.QueueSize = 1
		c.RateLimit.SoftLimitDur = 0
	}, Deps{})

	ts.report(`{}`, nil)
	rec := ts.report(`{}`, nil)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, ts.outcomes.get(reportDropped))
}

func TestInstanceDroppedReportIsNotSoftLimited(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) { c.Server.QueueSize = 1 }, Deps{})

	// Fill the queue with another installation.
	ts.queue <- reportJob{ID: "other"}

	ts.report(`{"version":"9.0.0"}`, nil)
	assert.Equal(t, 1, ts.outcomes.get(reportDropped))

	<-ts.queue
	ts.report(`{"version":"9.0.0"}`, nil)

	assert.Equal(t, 1, ts.outcomes.get(reportQueued), "retry after a drop is accepted")
	assert.Zero(t, ts.outcomes.get(reportSkipped))
	require.Len(t, ts.queue, 1)
	assert.Equal(t, testID, (<-ts.queue).ID)
}

func TestInstanceRateLimit(t *testing.T) {
	ts := newTestServer(t, func(c *config.Config) {
		c.RateLimit.HardLimitCount = 2
		c.RateLimit.SoftLimitDur = 0
	}, Deps{})

	assert.Equal(t, http.StatusCreated, ts.report(`{}`, nil).Code)
	assert.Equal(t, http.StatusCreated, ts.report(`{}`, nil).Code)

	rec := ts.report(`{}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	other := ts.report(`{}`, func(r *http.Request) { r.RemoteAddr = "198.51.100.1:1234" })
	assert.Equal(t, http.StatusCreated, other.Code, "limit is per IP")
}

func TestWorkersStoreReports(t *testing.T) {
	ts := newTestServer(t, nil, Deps{GeoIP: fixedCountry("SE")})
	ts.StartWorkers()

	ts.report(`{"version":"9.0.0","players":1}`, nil)
	ts.StopWorkers()

	ts.ingester.mu.Lock()
	defer ts.ingester.mu.Unlock()
	require.Contains(t, ts.ingester.stored, testID)
	assert.Equal(t, "SE", ts.ingester.stored[testID].Country)
	assert.Equal(t, int64(1), ts.ingester.stored[testID].Players)
	assert.Equal(t, 1, ts.outcomes.get(reportStored))
}

func TestProcessJobKeepsProxyCountry(t *testing.T) {
	ts := newTestServer(t, nil, Deps{GeoIP: fixedCountry("SE")})

	ts.processJob(reportJob{ID: "a", IP: "192.0.2.1", Data: models.InstallationData{Country: "NL"}})
	assert.Equal(t, "NL", ts.ingester.stored["a"].Country)
}

func TestProcessJobFailure(t *testing.T) {
	ts := newTestServer(t, nil, Deps{})
	ts.ingester.err = errors.New("database is locked")

	ts.processJob(reportJob{ID: "a"})
	assert.Equal(t, 1, ts.outcomes.get(reportFailed))
}

func TestSummary(t *testing.T) {
	ts := newTestServer(t, nil, Deps{})

	rec := ts.get("/api/stats?days=7&os=linux&version=bogus", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, rec.Header().Get("ETag"))

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.JSONEq(t, `[{"9.0.0":3}]`, string(body["versions"]))

	assert.Equal(t, int64(7*86400), ts.engine.last.Secs)
	assert.Equal(t, []stats.Filter{{Dimension: stats.DimensionOS, Value: "linux"}}, ts.engine.last.Filters)
}

func TestDataset(t *testing.T) {
	ts := newTestServer(t, nil, Deps{})

	rec := ts.get("/api/stats/language", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"en":2}]`, rec.Body.String())
	assert.Zero(t, ts.engine.last.Secs, "no days means all time")
}

func TestDatasetNotModified(t *testing.T) {
	ts := newTestServer(t, nil, Deps{})

	first := ts.get("/api/stats/language", nil)
	etag := first.Header().Get("ETag")
	require.NotEmpty(t, etag)

	second := ts.get("/api/stats/language", func(r *http.Request) { r.Header.Set("If-None-Match", etag) })
	assert.Equal(t, http.StatusNotModified, second.Code)
	assert.Empty(t, second.Body.String())
}

func TestDatasetErrors(t *testing.T) {
	ts := newTestServer(t, nil, Deps{})

	rec := ts.get("/api/stats/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	ts.engine.err = stats.ErrInvalidFilter
	rec = ts.get("/api/stats/os", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"invalid filter"}`, rec.Body.String())

	ts.engine.err = errors.New("no such table: installations")
	rec = ts.get("/api/stats/os", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"computation failed"}`, rec.Body.String(), "store details stay in the log")

	rec = ts.get("/api/stats", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestParseQuery(t *testing.T) {
	for name, tc := range map[string]struct {
		target string
		want   stats.Query
	}{
		"empty":        {target: "/", want: stats.Query{}},
		"days":         {target: "/?days=30", want: stats.Query{Secs: 30 * 86400}},
		"bad days":     {target: "/?days=-4", want: stats.Query{}},
		"not a number": {target: "/?days=week", want: stats.Query{}},
		"fast":         {target: "/?fast=true", want: stats.Query{Fast: true}},
		"fast one":     {target: "/?fast=1", want: stats.Query{Fast: true}},
		"fast other":   {target: "/?fast=yes", want: stats.Query{}},
		"filters in order": {
			target: "/?country=DE&os=linux&osname=Debian+12+(bookworm)&version=9.0.0",
			want: stats.Query{Filters: []stats.Filter{
				{Dimension: stats.DimensionOS, Value: "linux"},
				{Dimension: stats.DimensionOSName, Value: "Debian 12 (bookworm)"},
				{Dimension: stats.DimensionVersion, Value: "9.0.0"},
				{Dimension: stats.DimensionCountry, Value: "DE"},
			}},
		},
		"invalid filters ignored": {target: "/?os=a;b&country=DEU&version=9", want: stats.Query{}},
	} {
		t.Run(name, func(t *testing.T) {
			got := ParseQuery(httptest.NewRequest(http.MethodGet, tc.target, nil))
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestHealthAndIndex(t *testing.T) {
	ts := newTestServer(t, nil, Deps{})

	rec := ts.get("/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = ts.get("/", nil)
	assert.Equal(t, http.StatusMovedPermanently, rec.Code)
	assert.Equal(t, "https://lyrion.org/analytics/", rec.Header().Get("Location"))

	rec = ts.get("/metrics", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "metrics only with a handler")
}

func TestMetricsRoute(t *testing.T) {
	ts := newTestServer(t, nil, Deps{Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("lmstats_reports_total 1\n"))
	})})

	rec := ts.get("/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "lmstats_reports_total")
}

func TestGetRealIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:4000"
	req.Header.Set("X-Forwarded-For", "198.51.100.9, 10.0.0.2")

	assert.Equal(t, "10.0.0.1", GetRealIP(req, false))
	assert.Equal(t, "198.51.100.9", GetRealIP(req, true))

	req.Header.Set("CF-Connecting-IP", "192.0.2.44")
	assert.Equal(t, "192.0.2.44", GetRealIP(req, true))
}
