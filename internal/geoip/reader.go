package geoip

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/oschwald/geoip2-golang"
	"github.com/rs/zerolog/log"
)

// Provider resolves IP addresses to ISO country codes. The database can be
// swapped by Refresh while lookups are running.
type Provider struct {
	db     *geoip2.Reader
	path   string
	url    string
	maxAge time.Duration
	mu     sync.RWMutex
}

// Open ensures the database at path is present and fresh, then opens it.
func Open(ctx context.Context, path, url string, maxAge time.Duration) (*Provider, error) {
	if err := EnsureDB(ctx, path, url, maxAge); err != nil {
		return nil, err
	}

	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database %s: %w", path, err)
	}

	return &Provider{db: db, path: path, url: url, maxAge: maxAge}, nil
}

// Refresh downloads a newer database when the current one is older than
// maxAge and swaps it in.
func (p *Provider) Refresh(ctx context.Context) error {
	updated, err := ensureDB(ctx, p.path, p.url, p.maxAge)
	if err != nil || !updated {
		return err
	}

	db, err := geoip2.Open(p.path)
	if err != nil {
		return fmt.Errorf("reopen geoip database %s: %w", p.path, err)
	}

	p.mu.Lock()
	old := p.db
	p.db = db
	p.mu.Unlock()

	if err := old.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close previous GeoIP database")
	}
	log.Info().Str("path", p.path).Msg("GeoIP database reloaded")

	return nil
}

// Close closes the underlying database reader.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.db.Close()
}

// CountryCode returns the ISO country code (e.g. "US", "DE") of ip,
// or an empty string if it cannot be determined.
func (p *Provider) CountryCode(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}

	p.mu.RLock()
	record, err := p.db.Country(parsed)
	p.mu.RUnlock()
	if err != nil {
		return ""
	}

	return record.Country.IsoCode
}
