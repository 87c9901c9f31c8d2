package core

import (
	"context"
	"errors"

	"unitofwork/pkg/domain"
)

// RunInTransaction creates a transaction on mapper, runs fn, commits and
// completes it. When fn or the commit fails, the in-memory graph is rolled
// back, the transaction is aborted and the original error is returned joined
// with any rollback failure.
func RunInTransaction(ctx context.Context, mapper domain.Mapper, fn func(*Transaction) error, opts ...Option) error {
	if fn == nil {
		return errors.New("transaction body required")
	}
	tx, err := NewTransaction(mapper, opts...)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return tx.fail(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return tx.fail(err)
	}
	return tx.Complete()
}

func (t *Transaction) fail(cause error) error {
	if !t.Valid() {
		return cause
	}
	rbErr := t.Rollback()
	abortErr := t.Abort()
	return errors.Join(cause, rbErr, abortErr)
}

// Service starts transactions against one backend with shared options.
type Service struct {
	backend domain.Backend
	opts    []Option
}

// NewService binds backend and the options applied to every transaction.
func NewService(backend domain.Backend, opts ...Option) (*Service, error) {
	if backend == nil {
		return nil, errors.New("service requires a backend")
	}
	return &Service{backend: backend, opts: opts}, nil
}

// Backend returns the underlying backend.
func (s *Service) Backend() domain.Backend { return s.backend }

// Begin starts a transaction that the caller commits and releases.
func (s *Service) Begin(opts ...Option) (*Transaction, error) {
	return NewTransaction(s.backend, s.with(opts)...)
}

// Run wraps RunInTransaction with the service's backend and options.
func (s *Service) Run(ctx context.Context, fn func(*Transaction) error, opts ...Option) error {
	return RunInTransaction(ctx, s.backend, fn, s.with(opts)...)
}

// Fetch reads a persisted row through the backend.
func (s *Service) Fetch(ctx context.Context, class *domain.Class, id int64) (domain.Record, error) {
	return s.backend.Fetch(ctx, class, id)
}

// Lock takes the optimistic lock on an aggregate's shared version.
func (s *Service) Lock(ctx context.Context, version *domain.SharedVersion, holder string) error {
	if version == nil {
		return errors.New("lock: nil shared version")
	}
	return version.Lock(ctx, s.backend, holder)
}

// Unlock releases a lock taken with Lock.
func (s *Service) Unlock(ctx context.Context, version *domain.SharedVersion, holder string) error {
	if version == nil {
		return errors.New("unlock: nil shared version")
	}
	return version.Unlock(ctx, s.backend, holder)
}

// Close closes the backend.
func (s *Service) Close() error { return s.backend.Close() }

func (s *Service) with(extra []Option) []Option {
	out := make([]Option, 0, len(s.opts)+len(extra))
	out = append(out, s.opts...)
	return append(out, extra...)
}
