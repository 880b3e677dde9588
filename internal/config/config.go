// Package config loads schemasync configuration.
//
// Configuration comes from a YAML file with environment variable overrides.
// Environment variables always win for fields that declare one. Secrets
// (the database password, the Datadog API key) are env-only.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"go.uber.org/zap/zapcore"

	"schemasync/internal/engine"
	"schemasync/internal/feed"
)

// Config holds all configuration for schemasync.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Sync     SyncConfig     `yaml:"sync"`
	Resolver ResolverConfig `yaml:"resolver"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`

	// Feeds binds each source to the export it is fetched from.
	Feeds []feed.Spec `yaml:"feeds"`

	// SeedFile is applied by `schemasync seed` when -f is not given.
	SeedFile string `yaml:"seed_file" env:"SCHEMASYNC_SEED_FILE"`
}

// DatabaseConfig selects the target store.
type DatabaseConfig struct {
	// Backend is a registered storage backend: mssql, postgres or sqlite.
	Backend string `yaml:"backend" env:"SCHEMASYNC_DB_BACKEND" env-default:"mssql"`
	DSN     string `yaml:"dsn" env:"SCHEMASYNC_DB_DSN"`
	// Password is injected into URL-style DSNs. Secret - not in YAML.
	Password     string `yaml:"-" env:"SCHEMASYNC_DB_PASSWORD"`
	MaxOpenConns int    `yaml:"max_open_conns" env:"SCHEMASYNC_DB_MAX_OPEN_CONNS" env-default:"16"`
}

// SyncConfig tunes the orchestrator.
type SyncConfig struct {
	// SampleRows bounds how many rows are sampled to infer a column type.
	SampleRows int `yaml:"sample_rows" env:"SCHEMASYNC_SAMPLE_ROWS" env-default:"20"`
	// Mode is the default sync mode: full or incremental.
	Mode            string `yaml:"mode" env:"SCHEMASYNC_SYNC_MODE" env-default:"full"`
	ParallelSources int    `yaml:"parallel_sources" env:"SCHEMASYNC_PARALLEL_SOURCES" env-default:"1"`
	InitiatedBy     string `yaml:"initiated_by" env:"SCHEMASYNC_INITIATED_BY" env-default:"schemasync"`
}

// ResolverConfig tunes reference resolution.
type ResolverConfig struct {
	CacheTTL time.Duration `yaml:"cache_ttl" env:"SCHEMASYNC_RESOLVER_CACHE_TTL" env-default:"5m"`
	// AutoDetect proposes mappings from column names for sources that have
	// none before each sync.
	AutoDetect bool `yaml:"auto_detect" env:"SCHEMASYNC_RESOLVER_AUTO_DETECT" env-default:"false"`
}

// MetricsConfig selects the metrics backend. The Datadog client reads
// DD_API_KEY and DD_SITE itself.
type MetricsConfig struct {
	Backend       string        `yaml:"backend" env:"SCHEMASYNC_METRICS_BACKEND" env-default:"none"`
	JobName       string        `yaml:"job_name" env:"SCHEMASYNC_METRICS_JOB" env-default:"schemasync"`
	FlushInterval time.Duration `yaml:"flush_interval" env:"SCHEMASYNC_METRICS_FLUSH_INTERVAL" env-default:"60s"`
	// Tags is a comma-separated list, e.g. "env:prod,team:data".
	Tags string `yaml:"tags" env:"SCHEMASYNC_METRICS_TAGS"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level" env:"SCHEMASYNC_LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"SCHEMASYNC_LOG_FORMAT" env-default:"json"`
}

var backends = []string{"mssql", "postgres", "sqlite"}

// Load reads path (YAML) with environment overrides and validates the
// result. An empty path reads the environment only.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path == "" {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("read environment: %w", err)
		}
	} else if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.Database.Backend = strings.ToLower(strings.TrimSpace(c.Database.Backend))
	c.Metrics.Backend = strings.ToLower(strings.TrimSpace(c.Metrics.Backend))
	c.Sync.Mode = strings.ToLower(strings.TrimSpace(c.Sync.Mode))
	for i := range c.Feeds {
		c.Feeds[i].Kind = strings.ToLower(strings.TrimSpace(c.Feeds[i].Kind))
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if !contains(backends, c.Database.Backend) {
		add("database.backend %q: want one of %s", c.Database.Backend, strings.Join(backends, ", "))
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		add("database.dsn is required")
	}
	if c.Database.MaxOpenConns < 0 {
		add("database.max_open_conns must not be negative")
	}

	if c.Sync.SampleRows <= 0 {
		add("sync.sample_rows must be positive")
	}
	if _, err := engine.ParseMode(c.Sync.Mode); err != nil {
		add("sync.mode: %w", err)
	}
	if c.Sync.ParallelSources < 1 {
		add("sync.parallel_sources must be at least 1")
	}

	if c.Resolver.CacheTTL < 0 {
		add("resolver.cache_ttl must not be negative")
	}

	switch c.Metrics.Backend {
	case "none", "datadog":
	default:
		add("metrics.backend %q: want none or datadog", c.Metrics.Backend)
	}
	if c.Metrics.Backend == "datadog" && c.Metrics.FlushInterval <= 0 {
		add("metrics.flush_interval must be positive")
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		add("log.level: %w", err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "console":
	default:
		add("log.format %q: want json or console", c.Log.Format)
	}

	seen := make(map[int]bool, len(c.Feeds))
	for i, f := range c.Feeds {
		switch {
		case f.SourceID <= 0:
			add("feeds[%d]: source_id must be positive", i)
		case seen[f.SourceID]:
			add("feeds[%d]: duplicate feed for source %d", i, f.SourceID)
		}
		seen[f.SourceID] = true
		if f.Kind != "csv" && f.Kind != "json" && f.Kind != "html" {
			add("feeds[%d]: kind %q: want csv, json or html", i, f.Kind)
		}
		if strings.TrimSpace(f.Location) == "" {
			add("feeds[%d]: location is required", i)
		}
		if strings.TrimSpace(f.Fields.Key) == "" {
			add("feeds[%d]: fields.key is required", i)
		}
	}
	return errors.Join(errs...)
}

// DSNWithPassword returns the DSN with Password injected into the user info of
// URL-style DSNs. Key=value DSNs are returned unchanged.
func (d DatabaseConfig) DSNWithPassword() string {
	if d.Password == "" {
		return d.DSN
	}
	u, err := url.Parse(d.DSN)
	if err != nil || u.Scheme == "" || u.Host == "" || u.User == nil {
		return d.DSN
	}
	u.User = url.UserPassword(u.User.Username(), d.Password)
	return u.String()
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
