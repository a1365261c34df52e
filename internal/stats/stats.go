// Package stats turns the installations table into ranked dimension counts,
// normalizes messy categorical fields, maintains the daily snapshot history
// and fronts every aggregation with a cache-aside layer.
package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/woozymasta/lmstats/internal/models"
)

// Defaults used when Options leave a field zero.
const (
	DefaultActiveWindow = 30 * 24 * time.Hour
	DefaultRetention    = 90 * 24 * time.Hour
	DefaultHistoryBins  = 90
	DefaultTTL          = 2 * time.Hour
	DefaultPluginsTTL   = 20 * time.Hour
)

// ErrComputationFailed is returned when the store cannot produce an aggregation.
// Details are logged, never returned.
var ErrComputationFailed = errors.New("computation failed")

// ErrInvalidFilter is returned for a filter dimension outside the allow-list.
var ErrInvalidFilter = errors.New("invalid filter")

// UnknownDatasetError is returned by Engine.Dataset for a name with no operation.
type UnknownDatasetError struct {
	Name string
}

func (e *UnknownDatasetError) Error() string {
	return fmt.Sprintf("unknown dataset %q", e.Name)
}

// Store is the relational store the engine reads from.
type Store interface {
	Select(ctx context.Context, dest any, query string, args ...any) error
	Get(ctx context.Context, dest any, query string, args ...any) error
	Snapshots(ctx context.Context, secs int64) ([]models.Snapshot, error)
	UpsertSnapshot(ctx context.Context, date string, data []byte) error
	PluginCounts(ctx context.Context, minCount int64) ([]models.PluginCount, error)
	ReplacePluginCounts(ctx context.Context, counts []models.PluginCount) error
	DeleteStaleInstallations(ctx context.Context, maxAge time.Duration) (int64, error)
}

// Cache is a key-value store with expiring entries. It is never authoritative.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Recorder receives engine measurements; see internal/metrics.
type Recorder interface {
	CacheLookup(op, result string)
	Computation(op string, took time.Duration, err error)
}

// Options tune windows and cache lifetimes.
type Options struct {
	ActiveWindow time.Duration
	Retention    time.Duration
	HistoryBins  int
	TTL          time.Duration
	PluginsTTL   time.Duration
	DisableCache bool
}

// Query is the sanitized request handed over by the ingress layer.
type Query struct {
	Filters []Filter
	Secs    int64

	// Fast selects the precomputed plugin census. Other datasets ignore it.
	Fast bool
}

// Engine computes all statistics. It is safe for concurrent use.
type Engine struct {
	store    Store
	cache    Cache
	recorder Recorder
	now      func() time.Time
	datasets map[Dataset]datasetFunc
	opts     Options
}

// Option configures an Engine.
type Option func(*Engine)

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithClock overrides the time source used for snapshot dates.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New builds an Engine. A nil cache disables caching.
func New(store Store, cache Cache, opts Options, options ...Option) *Engine {
	if opts.ActiveWindow <= 0 {
		opts.ActiveWindow = DefaultActiveWindow
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.HistoryBins <= 0 {
		opts.HistoryBins = DefaultHistoryBins
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.PluginsTTL <= 0 {
		opts.PluginsTTL = DefaultPluginsTTL
	}
	if cache == nil {
		opts.DisableCache = true
	}

	e := &Engine{
		store:    store,
		cache:    cache,
		recorder: nopRecorder{},
		now:      time.Now,
		opts:     opts,
	}
	for _, o := range options {
		o(e)
	}
	e.datasets = e.buildDatasets()

	return e
}

// ActiveSecs is the active window in seconds, the default for dashboard queries.
func (e *Engine) ActiveSecs() int64 {
	return int64(e.opts.ActiveWindow.Seconds())
}

type nopRecorder struct{}

func (nopRecorder) CacheLookup(string, string)               {}
func (nopRecorder) Computation(string, time.Duration, error) {}
