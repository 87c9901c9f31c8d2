package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"unitofwork/internal/infra/persistence/memory"
	"unitofwork/pkg/domain"
)

type metricsCall struct {
	op      string
	success bool
}

type captureMetrics struct {
	mu    sync.Mutex
	calls []metricsCall
}

func (c *captureMetrics) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, metricsCall{op: op, success: success})
}

func (c *captureMetrics) count(op string, success bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			n++
		}
	}
	return n
}

type captureJournal struct {
	sets []domain.ChangeSet
	err  error
}

func (c *captureJournal) Record(_ context.Context, set domain.ChangeSet) error {
	c.sets = append(c.sets, set)
	return c.err
}

// logBuffer collects slog JSON lines for assertions on emitted messages.
type logBuffer struct {
	buf bytes.Buffer
}

func (l *logBuffer) logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(&l.buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func (l *logBuffer) messages(level string) []string {
	var out []string
	for _, line := range strings.Split(strings.TrimSpace(l.buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry struct {
			Level string `json:"level"`
			Msg   string `json:"msg"`
		}
		if err := json.Unmarshal([]byte(line), &entry); err == nil && entry.Level == level {
			out = append(out, entry.Msg)
		}
	}
	return out
}

func (l *logBuffer) has(level, msg string) bool {
	for _, m := range l.messages(level) {
		if m == msg {
			return true
		}
	}
	return false
}

// newTx builds a transaction on a private registry so tests never share state.
func newTx(t *testing.T, mapper domain.Mapper, opts ...Option) *Transaction {
	t.Helper()
	opts = append([]Option{WithRegistry(NewRegistry())}, opts...)
	tx, err := NewTransaction(mapper, opts...)
	if err != nil {
		t.Fatalf("new transaction: %v", err)
	}
	return tx
}

// flakyMapper wraps the memory store and can inject failures per class.
type flakyMapper struct {
	*memory.Store
	insertErr func(obj *domain.Object) error
	onDelete  func(obj *domain.Object)
	updates   int
}

func (f *flakyMapper) Insert(ctx context.Context, obj *domain.Object) error {
	if f.insertErr != nil {
		if err := f.insertErr(obj); err != nil {
			return err
		}
	}
	return f.Store.Insert(ctx, obj)
}

func (f *flakyMapper) Update(ctx context.Context, current *domain.Object, previous *domain.Snapshot) error {
	f.updates++
	return f.Store.Update(ctx, current, previous)
}

func (f *flakyMapper) Delete(ctx context.Context, obj *domain.Object) error {
	if f.onDelete != nil {
		f.onDelete(obj)
	}
	return f.Store.Delete(ctx, obj)
}

func mustCommit(t *testing.T, tx *Transaction) {
	t.Helper()
	if err := tx.Commit(context.Background()); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func expectRegistrationError(t *testing.T, err, want error) {
	t.Helper()
	var regErr *domain.RegistrationError
	if !errors.As(err, &regErr) {
		t.Fatalf("expected RegistrationError, got %v", err)
	}
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}
