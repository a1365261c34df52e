// Package config handles the parsing and validation of application configuration
// from command-line arguments and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/woozymasta/lmstats/internal/logger"
	"github.com/woozymasta/lmstats/internal/vars"
)

// Cache backends
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
	CacheNone   = "none"
)

// Config represents the complete application flags configuration.
type Config struct {
	// betteralign:ignore

	Server    Server        `group:"Server Options" env-namespace:"LMSTATS"`
	Storage   Storage       `group:"Storage Options" namespace:"db" env-namespace:"LMSTATS_DB"`
	Cache     Cache         `group:"Cache Options" namespace:"cache" env-namespace:"LMSTATS_CACHE"`
	Stats     Stats         `group:"Stats Options" namespace:"stats" env-namespace:"LMSTATS_STATS"`
	Jobs      Jobs          `group:"Scheduler Options" namespace:"jobs" env-namespace:"LMSTATS_JOBS"`
	GeoIP     GeoIP         `group:"GeoIP Options" namespace:"geoip" env-namespace:"LMSTATS_GEOIP"`
	RateLimit RateLimit     `group:"Rate Limit Options" namespace:"rate-limit" env-namespace:"LMSTATS_RATE_LIMIT"`
	Logger    logger.Config `group:"Logger Options" namespace:"log" env-namespace:"LMSTATS_LOG"`

	Version bool `short:"v" long:"version" description:"Print version and build info"`
}

// Server holds web server configuration.
type Server struct {
	// betteralign:ignore

	Address     string `short:"l" long:"address" env:"LISTEN_ADDRESS" description:"Server listen address" default:":8080"`
	RedirectURL string `long:"redirect-url" env:"REDIRECT_URL" description:"Where the root path redirects to" default:"https://lyrion.org/analytics/"`
	UserAgent   string `long:"expect-user-agent" env:"EXPECT_USER_AGENT" description:"Regular expression the reporting User-Agent must match" default:"Squeezebox.*L(?:yrion|ogitech) M(?:usic|edia) Server"`
	MaxBodySize int64  `long:"max-body-size" env:"MAX_BODY_SIZE" description:"Max body size for incoming reports" default:"32768"`
	Workers     int    `long:"workers" env:"WORKERS" description:"Number of ingestion workers" default:"4"`
	QueueSize   int    `long:"queue-size" env:"QUEUE_SIZE" description:"Ingestion queue capacity" default:"1000"`
	TrustProxy  bool   `long:"trust-proxy" env:"TRUST_PROXY" description:"Trust CF-Connecting-IP, CF-IPCountry and X-Forwarded-For headers"`
}

// Storage holds database configuration and one-shot maintenance tasks.
type Storage struct {
	// betteralign:ignore

	Path           string `short:"d" long:"path" env:"PATH" description:"Path to SQLite database" default:"lmstats.db"`
	Snapshot       bool   `long:"snapshot" description:"Write today's snapshot and exit"`
	RefreshPlugins bool   `long:"refresh-plugins" description:"Rebuild the plugin count table and exit"`
	Cleanup        bool   `long:"cleanup" description:"Delete stale installations and exit"`
	GenerateCount  int    `long:"gen-fake-data" hidden:"true"`
}

// Cache holds query cache configuration.
type Cache struct {
	// betteralign:ignore

	Backend       string        `long:"backend" env:"BACKEND" description:"Query cache backend" choice:"memory" choice:"redis" choice:"none" default:"memory"`
	RedisAddr     string        `long:"redis-addr" env:"REDIS_ADDR" description:"Redis address" default:"localhost:6379"`
	RedisPassword string        `long:"redis-password" env:"REDIS_PASSWORD" description:"Redis password"`
	RedisDB       int           `long:"redis-db" env:"REDIS_DB" description:"Redis database number" default:"0"`
	MaxBytes      int64         `long:"max-bytes" env:"MAX_BYTES" description:"Memory cache size limit in bytes" default:"67108864"`
	TTL           time.Duration `long:"ttl" env:"TTL" description:"Default TTL of cached aggregations" default:"2h"`
	PluginsTTL    time.Duration `long:"plugins-ttl" env:"PLUGINS_TTL" description:"TTL of the plugin census, keep below 24h" default:"20h"`
}

// Stats holds aggregation windows.
type Stats struct {
	// betteralign:ignore

	ActiveWindow time.Duration `long:"active-window" env:"ACTIVE_WINDOW" description:"How recently an installation must report to count as active" default:"720h"`
	Retention    time.Duration `long:"retention" env:"RETENTION" description:"Delete installations not seen for this long" default:"2160h"`
	HistoryBins  int           `long:"history-bins" env:"HISTORY_BINS" description:"Maximum number of points in the history series" default:"90"`
}

// Jobs holds in-process scheduler configuration (cron expressions).
type Jobs struct {
	// betteralign:ignore

	Enabled  bool   `long:"enabled" env:"ENABLED" description:"Run scheduled jobs inside the server process"`
	Snapshot string `long:"snapshot" env:"SNAPSHOT" description:"Snapshot schedule" default:"30 0 * * *"`
	Plugins  string `long:"plugins" env:"PLUGINS" description:"Plugin count refresh schedule" default:"15 */6 * * *"`
	Cleanup  string `long:"cleanup" env:"CLEANUP" description:"Retention sweep schedule" default:"45 3 * * *"`
}

// GeoIP holds MaxMind GeoIP configuration.
type GeoIP struct {
	// betteralign:ignore

	Path     string        `short:"g" long:"path" env:"PATH" description:"Path to MMDB file" default:"lmstats.mmdb"`
	URL      string        `long:"url" env:"URL" description:"URL to download MMDB" default:"https://git.io/GeoLite2-Country.mmdb"`
	Interval time.Duration `long:"interval" env:"INTERVAL" description:"Update interval check" default:"24h"`
}

// RateLimit holds ingestion rate limiting configuration.
type RateLimit struct {
	// betteralign:ignore

	HardLimitCount int           `long:"hard-count" env:"HARD_COUNT" description:"Hard IP limit: requests count" default:"8"`
	HardLimitWin   time.Duration `long:"hard-window" env:"HARD_WINDOW" description:"Hard IP limit: window duration" default:"1m"`
	SoftLimitDur   time.Duration `long:"soft" env:"SOFT" description:"Soft limit: ignore a report if the same installation was seen within duration" default:"5m"`
}

// Parse reads the configuration from flags and environment variables.
// It terminates the application if the configuration is invalid or if the help flag is invoked.
func Parse() *Config {
	cfg, err := ParseArgs(os.Args[1:])
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}

	if cfg.Version {
		vars.Print(os.Stdout)
		os.Exit(0)
	}

	return cfg
}

// ParseArgs parses args into a validated Config.
func ParseArgs(args []string) (*Config, error) {
	var cfg Config
	parser := flags.NewParser(&cfg, flags.Default)
	parser.NamespaceDelimiter = "-"

	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values that struct tags cannot express.
func (c *Config) Validate() error {
	if _, err := regexp.Compile(c.Server.UserAgent); err != nil {
		return fmt.Errorf("invalid --expect-user-agent: %w", err)
	}
	if c.Server.Workers < 1 {
		return fmt.Errorf("--workers must be positive, got %d", c.Server.Workers)
	}
	if c.Stats.HistoryBins < 1 {
		return fmt.Errorf("--stats-history-bins must be positive, got %d", c.Stats.HistoryBins)
	}
	if c.Stats.ActiveWindow <= 0 || c.Stats.Retention <= 0 {
		return errors.New("--stats-active-window and --stats-retention must be positive")
	}
	if c.Cache.PluginsTTL >= 24*time.Hour {
		return fmt.Errorf("--cache-plugins-ttl must stay below 24h, got %s", c.Cache.PluginsTTL)
	}

	return nil
}
