// Package geoip handles downloading, updating, and reading MaxMind GeoLite2 databases.
package geoip

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/lmstats/internal/vars"
)

var httpClient = &http.Client{Timeout: 2 * time.Minute}

// EnsureDB downloads the database from url when the file at path is missing
// or older than maxAge.
func EnsureDB(ctx context.Context, path, url string, maxAge time.Duration) error {
	_, err := ensureDB(ctx, path, url, maxAge)
	return err
}

// ensureDB reports whether a new file was written.
func ensureDB(ctx context.Context, path, url string, maxAge time.Duration) (bool, error) {
	info, err := os.Stat(path)
	switch {
	case err == nil && time.Since(info.ModTime()) < maxAge:
		log.Debug().Str("path", path).Msg("GeoIP database is up to date")
		return false, nil
	case err == nil:
		log.Info().Str("path", path).Time("modified", info.ModTime()).Msg("GeoIP database is outdated, updating")
	case os.IsNotExist(err):
		log.Info().Str("path", path).Msg("GeoIP database missing, downloading")
	default:
		return false, err
	}

	if err := download(ctx, path, url); err != nil {
		return false, fmt.Errorf("download geoip database: %w", err)
	}

	return true, nil
}

// download writes url to path through a temporary file so readers never see a partial file.
func download(ctx context.Context, path, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", vars.UserAgent())

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	tmpPath := path + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return err
	}

	n, err := io.Copy(out, resp.Body)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	log.Debug().Int64("bytes", n).Str("url", url).Msg("GeoIP database downloaded")

	return os.Rename(tmpPath, path)
}
