package core

import (
	"context"
	"time"

	"unitofwork/pkg/domain"
)

// Logger is the structured logging seam. *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// MetricsRecorder observes the outcome and duration of transaction operations.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Journal receives the change set of every successful commit.
type Journal interface {
	Record(ctx context.Context, changes domain.ChangeSet) error
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration) {}

// Operation names reported to MetricsRecorder.
const (
	OpCommit      = "commit"
	OpCommitRetry = "commit_retry"
	OpRollback    = "rollback"
	OpComplete    = "complete"
	OpAbort       = "abort"
)
