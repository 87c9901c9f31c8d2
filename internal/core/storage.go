package core

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"unitofwork/internal/blob"
	"unitofwork/internal/config"
	"unitofwork/internal/infra/persistence/memory"
	"unitofwork/internal/infra/persistence/postgres"
	"unitofwork/internal/infra/persistence/sqlite"
	"unitofwork/internal/journal"
	"unitofwork/internal/observability"
	"unitofwork/pkg/domain"
)

// OpenBackend selects a backend from cfg. SQL backends create the tables for
// classes before returning.
func OpenBackend(ctx context.Context, cfg config.Config, classes ...*domain.Class) (domain.Backend, error) {
	switch cfg.StorageDriver {
	case config.StorageMemory:
		return memory.NewStore(), nil
	case config.StorageSQLite, "":
		store, err := sqlite.NewStore(ctx, cfg.SQLitePath, classes...)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StoragePostgres:
		store, err := postgres.NewStore(ctx, cfg.PostgresDSN, classes...)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.StorageDriver)
	}
}

// OpenJournal returns the commit journal named by cfg, or nil when journaling
// is disabled.
func OpenJournal(ctx context.Context, cfg config.Config) (Journal, error) {
	var bc blob.Config
	switch cfg.JournalDriver {
	case config.JournalNone, "":
		return nil, nil
	case config.JournalMemory:
		bc = blob.Config{Driver: blob.DriverMemory}
	case config.JournalFS:
		bc = blob.Config{Driver: blob.DriverFilesystem, FSRoot: cfg.JournalDir}
	case config.JournalS3:
		bc = blob.Config{Driver: blob.DriverS3, S3: blob.S3Config{
			Bucket:    cfg.JournalS3.Bucket,
			Region:    cfg.JournalS3.Region,
			Endpoint:  cfg.JournalS3.Endpoint,
			PathStyle: cfg.JournalS3.PathStyle,
		}}
	default:
		return nil, fmt.Errorf("unknown journal driver %s", cfg.JournalDriver)
	}
	store, err := blob.Open(ctx, bc)
	if err != nil {
		return nil, fmt.Errorf("open journal store: %w", err)
	}
	j, err := journal.New(store)
	if err != nil {
		return nil, err
	}
	return j, nil
}

// OpenMetrics returns the recorder named by cfg. Prometheus collectors are
// registered on reg (nil selects the default registerer).
func OpenMetrics(cfg config.Config, reg prometheus.Registerer) (MetricsRecorder, error) {
	switch cfg.Metrics {
	case config.MetricsNone, "":
		return noopMetrics{}, nil
	case config.MetricsExpvar:
		return observability.NewExpvarRecorder(""), nil
	case config.MetricsPrometheus:
		rec, err := observability.NewPrometheusRecorder(reg)
		if err != nil {
			return nil, err
		}
		return rec, nil
	default:
		return nil, fmt.Errorf("unknown metrics exporter %s", cfg.Metrics)
	}
}

// OptionsFrom translates cfg into transaction options. A nil journal or
// metrics recorder leaves the corresponding default in place.
func OptionsFrom(cfg config.Config, logger Logger, metrics MetricsRecorder, j Journal) []Option {
	opts := []Option{
		WithMaxCommitRetries(cfg.MaxCommitRetries),
		WithLogger(logger),
		WithMetrics(metrics),
	}
	if j != nil {
		opts = append(opts, WithJournal(j))
	}
	return opts
}
