// Package config loads runtime settings from UOW_* environment variables.
//
//	UOW_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	UOW_SQLITE_PATH: sqlite file (default ./unitofwork.db)
//	UOW_POSTGRES_DSN: postgres DSN when the driver is postgres
//	UOW_JOURNAL_DRIVER: none|memory|fs|s3 (default none)
//	UOW_JOURNAL_DIR: journal root for the fs driver
//	UOW_JOURNAL_S3_BUCKET, UOW_JOURNAL_S3_REGION, UOW_JOURNAL_S3_ENDPOINT,
//	UOW_JOURNAL_S3_PATH_STYLE: s3 journal settings
//	UOW_MAX_COMMIT_RETRIES: bound on untracked-reference retries (default 32)
//	UOW_LOG_LEVEL: debug|info|warn|error (default info)
//	UOW_METRICS: none|expvar|prometheus (default none)
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Prefix is prepended to every variable name.
const Prefix = "UOW_"

// StorageDriver identifies a Mapper backend.
type StorageDriver string

// Supported storage drivers.
const (
	StorageMemory   StorageDriver = "memory"
	StorageSQLite   StorageDriver = "sqlite"
	StoragePostgres StorageDriver = "postgres"
)

// JournalDriver identifies where commit change sets are written.
type JournalDriver string

// Supported journal drivers.
const (
	JournalNone   JournalDriver = "none"
	JournalMemory JournalDriver = "memory"
	JournalFS     JournalDriver = "fs"
	JournalS3     JournalDriver = "s3"
)

// Metrics selects the MetricsRecorder implementation.
type Metrics string

// Supported metrics exporters.
const (
	MetricsNone       Metrics = "none"
	MetricsExpvar     Metrics = "expvar"
	MetricsPrometheus Metrics = "prometheus"
)

// Config is the parsed environment.
type Config struct {
	StorageDriver StorageDriver `env:"STORAGE_DRIVER" envDefault:"sqlite"`
	SQLitePath    string        `env:"SQLITE_PATH" envDefault:"unitofwork.db"`
	PostgresDSN   string        `env:"POSTGRES_DSN"`

	JournalDriver JournalDriver `env:"JOURNAL_DRIVER" envDefault:"none"`
	JournalDir    string        `env:"JOURNAL_DIR" envDefault:"./journal"`
	JournalS3     S3            `envPrefix:"JOURNAL_S3_"`

	MaxCommitRetries int        `env:"MAX_COMMIT_RETRIES" envDefault:"32"`
	LogLevel         slog.Level `env:"LOG_LEVEL" envDefault:"info"`
	Metrics          Metrics    `env:"METRICS" envDefault:"none"`
}

// S3 holds the s3 journal settings. Credentials come from the AWS default
// chain.
type S3 struct {
	Bucket    string `env:"BUCKET"`
	Region    string `env:"REGION" envDefault:"us-east-1"`
	Endpoint  string `env:"ENDPOINT"`
	PathStyle bool   `env:"PATH_STYLE"`
}

// Load parses the process environment.
func Load() (Config, error) {
	return parse(env.Options{Prefix: Prefix})
}

// LoadFrom parses vars instead of the process environment. Keys carry the
// UOW_ prefix.
func LoadFrom(vars map[string]string) (Config, error) {
	if vars == nil {
		vars = map[string]string{}
	}
	return parse(env.Options{Prefix: Prefix, Environment: vars})
}

func parse(opts env.Options) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.StorageDriver = StorageDriver(strings.ToLower(string(cfg.StorageDriver)))
	cfg.JournalDriver = JournalDriver(strings.ToLower(string(cfg.JournalDriver)))
	cfg.Metrics = Metrics(strings.ToLower(string(cfg.Metrics)))
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports inconsistent settings.
func (c Config) Validate() error {
	var errs []error
	switch c.StorageDriver {
	case StorageMemory, StorageSQLite:
	case StoragePostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres storage requires UOW_POSTGRES_DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.StorageDriver))
	}
	switch c.JournalDriver {
	case JournalNone, JournalMemory, JournalFS:
	case JournalS3:
		if c.JournalS3.Bucket == "" {
			errs = append(errs, errors.New("s3 journal requires UOW_JOURNAL_S3_BUCKET"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown journal driver %q", c.JournalDriver))
	}
	switch c.Metrics {
	case MetricsNone, MetricsExpvar, MetricsPrometheus:
	default:
		errs = append(errs, fmt.Errorf("unknown metrics exporter %q", c.Metrics))
	}
	if c.MaxCommitRetries < 0 {
		errs = append(errs, fmt.Errorf("max commit retries must not be negative, got %d", c.MaxCommitRetries))
	}
	return errors.Join(errs...)
}
