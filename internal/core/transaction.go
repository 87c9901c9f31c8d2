package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"unitofwork/internal/history"
	"unitofwork/internal/tracker"
	"unitofwork/pkg/domain"
)

// Transaction is a unit of work over an in-memory object graph. Objects are
// registered as new, clean, dirty or deleted, mutated freely, then written by
// Commit in one backend transaction, or restored by Rollback.
//
// A Transaction belongs to one goroutine. The only cross-goroutine access
// supported is the read-only state lookup used by Registry.FindTransactions.
type Transaction struct {
	id uuid.UUID

	// mu guards valid, committed and tracker writes against concurrent
	// readers from the registry. The owning goroutine reads without it.
	mu        sync.RWMutex
	valid     bool
	committed bool
	tracker   *tracker.Tracker
	history   *history.History

	mapper   domain.Mapper
	opts     options
	sequence int
}

// NewTransaction creates a transaction bound to mapper and registers it.
func NewTransaction(mapper domain.Mapper, opts ...Option) (*Transaction, error) {
	if mapper == nil {
		return nil, errors.New("core: transaction requires a mapper")
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	tx := &Transaction{
		id:      uuid.New(),
		valid:   true,
		tracker: tracker.New(),
		history: history.New(),
		mapper:  mapper,
		opts:    o,
	}
	o.registry.Register(tx)
	o.logger.Debug("transaction started", "transaction", tx.id.String())
	return tx, nil
}

// ID returns the transaction's identifier.
func (t *Transaction) ID() uuid.UUID { return t.id }

// Valid reports whether the transaction is still usable.
func (t *Transaction) Valid() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.valid
}

// Committed reports whether every registration has since been committed or
// rolled back.
func (t *Transaction) Committed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.committed
}

// StateOf returns the state obj is tracked under in this transaction.
func (t *Transaction) StateOf(obj *domain.Object) (domain.State, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tracker.StateOf(obj)
}

// Objects lists the objects tracked under state in registration order.
func (t *Transaction) Objects(state domain.State) []*domain.Object {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tracker.FetchByState(state)
}

// OrderedObjects lists the objects tracked under state in dependency order.
func (t *Transaction) OrderedObjects(state domain.State) ([]*domain.Object, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tracker.FetchInDependencyOrder(state)
}

// FetchByClass lists tracked objects of exactly class.
func (t *Transaction) FetchByClass(class *domain.Class) []*domain.Object {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tracker.FetchByClass(class)
}

// FetchByClassID returns the tracked object of class with id, or nil.
func (t *Transaction) FetchByClassID(class *domain.Class, id int64) (*domain.Object, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.tracker.FetchByClassID(class, id)
}

// History returns the snapshots recorded for obj, oldest first.
func (t *Transaction) History(obj *domain.Object) []*domain.Snapshot {
	return t.history.Snapshots(obj)
}

// RegisterNew tracks an unpersisted object for insertion.
func (t *Transaction) RegisterNew(obj *domain.Object) error {
	return t.register("register_new", obj, domain.StateNew, func(current domain.State, tracked bool) error {
		if obj.HasID() {
			return domain.ErrHasIdentity
		}
		if tracked {
			if current == domain.StateNew {
				return domain.ErrAlreadyRegistered
			}
			return domain.ErrInvalidTransition
		}
		return nil
	})
}

// RegisterClean tracks a persisted object that is not expected to change.
func (t *Transaction) RegisterClean(obj *domain.Object) error {
	return t.register("register_clean", obj, domain.StateClean, func(current domain.State, tracked bool) error {
		if !obj.HasID() {
			return domain.ErrMissingIdentity
		}
		if !tracked {
			return nil
		}
		if current == domain.StateClean {
			return domain.ErrAlreadyRegistered
		}
		return domain.ErrInvalidTransition
	})
}

// RegisterDirty tracks a persisted object for update. Clean and deleted
// objects move to dirty.
func (t *Transaction) RegisterDirty(obj *domain.Object) error {
	return t.register("register_dirty", obj, domain.StateDirty, func(current domain.State, tracked bool) error {
		if !obj.HasID() {
			return domain.ErrMissingIdentity
		}
		if !tracked {
			return nil
		}
		switch current {
		case domain.StateDirty:
			return domain.ErrAlreadyRegistered
		case domain.StateNew:
			return domain.ErrInvalidTransition
		}
		return nil
	})
}

// RegisterDeleted tracks a persisted object for deletion. Clean and dirty
// objects move to deleted.
func (t *Transaction) RegisterDeleted(obj *domain.Object) error {
	return t.register("register_deleted", obj, domain.StateDeleted, func(current domain.State, tracked bool) error {
		if !obj.HasID() {
			return domain.ErrMissingIdentity
		}
		if !tracked {
			return nil
		}
		switch current {
		case domain.StateDeleted:
			return domain.ErrAlreadyRegistered
		case domain.StateNew:
			return domain.ErrInvalidTransition
		}
		return nil
	})
}

func (t *Transaction) register(op string, obj *domain.Object, target domain.State, check func(domain.State, bool) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.valid {
		return t.invalid()
	}
	if obj == nil {
		return &domain.RegistrationError{Op: op, Err: domain.ErrNilObject}
	}
	if !obj.Attached() {
		return &domain.RegistrationError{Op: op, Object: obj, Err: domain.ErrDetachedChild}
	}
	current, tracked := t.tracker.StateOf(obj)
	if err := check(current, tracked); err != nil {
		return &domain.RegistrationError{Op: op, Object: obj, Err: err}
	}
	if tracked {
		if err := t.tracker.ChangeState(obj, target); err != nil {
			return err
		}
	} else if _, err := t.tracker.Track(obj, target); err != nil {
		return err
	}
	t.history.Push(obj)
	t.committed = false
	t.opts.logger.Debug("object registered",
		"transaction", t.id.String(), "object", obj.String(), "state", target.String())
	return nil
}

// Commit writes every registered change inside one backend transaction: new
// objects in dependency order, then dirty objects whose state differs from
// their latest snapshot, then deleted objects. When a new object references an
// object that is neither tracked nor persisted, that object is registered as
// new and the commit is retried, up to the configured bound.
func (t *Transaction) Commit(ctx context.Context) error {
	start := time.Now()
	err := t.commit(ctx)
	t.opts.metrics.Observe(ctx, OpCommit, err == nil, time.Since(start))
	return err
}

func (t *Transaction) commit(ctx context.Context) error {
	if !t.Valid() {
		return t.invalid()
	}
	seen := make(map[*domain.Object]struct{})
	for attempt := 1; ; attempt++ {
		res, err := t.attempt(ctx)
		if err == nil {
			t.finish(ctx, res, attempt)
			return nil
		}
		var untracked *domain.UntrackedReferenceError
		if !errors.As(err, &untracked) {
			t.opts.logger.Error("commit failed", "transaction", t.id.String(), "attempt", attempt, "error", err)
			return err
		}
		ref := untracked.Reference
		if _, dup := seen[ref]; dup {
			return fmt.Errorf("commit %s: %s: %w", t.id, ref, domain.ErrCommitNoProgress)
		}
		if attempt > t.opts.maxRetries {
			return fmt.Errorf("commit %s after %d attempts: %w: %v", t.id, attempt, domain.ErrRetryLimit, err)
		}
		seen[ref] = struct{}{}
		before := t.tracker.Len()
		if err := t.RegisterNew(ref); err != nil {
			return fmt.Errorf("commit %s: register untracked reference: %w", t.id, err)
		}
		if t.tracker.Len() <= before {
			return fmt.Errorf("commit %s: %s: %w", t.id, ref, domain.ErrCommitNoProgress)
		}
		t.opts.metrics.Observe(ctx, OpCommitRetry, true, 0)
		t.opts.logger.Warn("registered untracked reference, retrying commit",
			"transaction", t.id.String(), "referrer", untracked.Referrer.String(),
			"field", untracked.Field, "reference", ref.String(), "attempt", attempt)
	}
}

type attemptResult struct {
	inserted []*domain.Object
	updated  []*domain.Object
	deleted  []*domain.Object
	changes  []domain.Change
}

func (t *Transaction) attempt(ctx context.Context) (*attemptResult, error) {
	for _, obj := range t.tracker.FetchByState(domain.StateNew) {
		if !obj.Attached() {
			return nil, &domain.RegistrationError{Op: "commit", Object: obj, Err: domain.ErrDetachedChild}
		}
	}
	versions := t.captureVersions()
	res := &attemptResult{}
	err := t.mapper.InTransaction(ctx, func(ctx context.Context) error {
		created, err := t.tracker.FetchInDependencyOrder(domain.StateNew)
		if err != nil {
			return err
		}
		for _, obj := range created {
			if err := t.mapper.Insert(ctx, obj); err != nil {
				return fmt.Errorf("insert %s: %w", obj, err)
			}
			res.inserted = append(res.inserted, obj)
			res.changes = append(res.changes, domain.Change{Action: domain.ActionInsert, Record: obj.Record()})
		}
		for _, obj := range t.tracker.FetchByState(domain.StateDirty) {
			previous := t.history.Latest(obj)
			if previous == nil {
				return &domain.HistoryMissingError{Object: obj}
			}
			diff := domain.Diff(previous, obj)
			if diff.Empty() {
				continue
			}
			if err := t.mapper.Update(ctx, obj, previous); err != nil {
				return fmt.Errorf("update %s: %w", obj, err)
			}
			res.updated = append(res.updated, obj)
			res.changes = append(res.changes, domain.Change{Action: domain.ActionUpdate, Record: obj.Record(), Fields: diff.Fields()})
		}
		for _, obj := range t.tracker.FetchByState(domain.StateDeleted) {
			if err := t.mapper.Delete(ctx, obj); err != nil {
				return fmt.Errorf("delete %s: %w", obj, err)
			}
			res.deleted = append(res.deleted, obj)
			record := obj.Record()
			record.Active = false
			res.changes = append(res.changes, domain.Change{Action: domain.ActionDelete, Record: record})
		}
		return nil
	})
	if err != nil {
		t.undoAttempt(versions)
		return nil, err
	}
	return res, nil
}

// captureVersions records the shared versions of every tracked aggregate so a
// failed attempt can rewind the increments the backend rolled back.
func (t *Transaction) captureVersions() map[*domain.SharedVersion]domain.VersionState {
	out := make(map[*domain.SharedVersion]domain.VersionState)
	for _, obj := range t.tracker.Objects() {
		v := obj.Version()
		if v == nil {
			continue
		}
		if _, ok := out[v]; !ok {
			out[v] = v.State()
		}
	}
	return out
}

func (t *Transaction) undoAttempt(versions map[*domain.SharedVersion]domain.VersionState) {
	for _, obj := range t.tracker.FetchByState(domain.StateNew) {
		if id, ok := obj.ID(); ok {
			if err := obj.RevokeID(id); err != nil {
				t.opts.logger.Error("revoke id after failed commit", "object", obj.String(), "error", err)
			}
		}
	}
	for v, state := range versions {
		if err := v.Rewind(state); err != nil {
			t.opts.logger.Error("rewind shared version after failed commit", "error", err)
		}
	}
}

func (t *Transaction) finish(ctx context.Context, res *attemptResult, attempts int) {
	t.mu.Lock()
	for _, obj := range res.deleted {
		if err := t.tracker.Untrack(obj); err != nil {
			t.opts.logger.Error("untrack deleted object after commit",
				"transaction", t.id.String(), "object", obj.String(), "error", err)
		}
	}
	for _, obj := range t.tracker.FetchByState(domain.StateNew) {
		if err := t.tracker.ChangeState(obj, domain.StateDirty); err != nil {
			t.opts.logger.Error("mark inserted object dirty after commit",
				"transaction", t.id.String(), "object", obj.String(), "error", err)
		}
	}
	// every dirty object gets a post-commit snapshot, changed or not, so a
	// later rollback never reaches behind this commit
	for _, obj := range t.tracker.FetchByState(domain.StateDirty) {
		t.history.Push(obj)
	}
	t.committed = true
	if len(res.changes) > 0 {
		t.sequence++
	}
	seq := t.sequence
	t.mu.Unlock()

	t.opts.logger.Info("transaction committed",
		"transaction", t.id.String(), "attempts", attempts,
		"inserted", len(res.inserted), "updated", len(res.updated), "deleted", len(res.deleted))

	if t.opts.journal == nil || len(res.changes) == 0 {
		return
	}
	set := domain.ChangeSet{
		TransactionID: t.id.String(),
		Sequence:      seq,
		CommittedAt:   t.opts.now(),
		Attempts:      attempts,
		Changes:       res.changes,
	}
	if err := t.opts.journal.Record(ctx, set); err != nil {
		t.opts.logger.Warn("journal write failed", "transaction", t.id.String(), "sequence", seq, "error", err)
	}
}

// Rollback restores every dirty or deleted object from its latest snapshot and
// moves deleted objects back to dirty. New and clean objects are left as they
// are. A tracked child is only relinked by its parent's restore; its own
// snapshot decides its fields. Rolling back twice in a row is a no-op the
// second time.
func (t *Transaction) Rollback() error {
	start := time.Now()
	err := t.rollback()
	t.opts.metrics.Observe(context.Background(), OpRollback, err == nil, time.Since(start))
	return err
}

func (t *Transaction) rollback() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.valid {
		return t.invalid()
	}
	type restore struct {
		obj  *domain.Object
		snap *domain.Snapshot
	}
	var plan []restore
	for _, obj := range t.tracker.Objects() {
		state, _ := t.tracker.StateOf(obj)
		if state == domain.StateNew || state == domain.StateClean {
			continue
		}
		snap := t.history.Latest(obj)
		if snap == nil {
			err := &domain.HistoryMissingError{Object: obj}
			t.opts.logger.Error("rollback found tracked object without history", "transaction", t.id.String(), "error", err)
			return err
		}
		plan = append(plan, restore{obj: obj, snap: snap})
	}
	tracked := func(obj *domain.Object) bool {
		_, ok := t.tracker.StateOf(obj)
		return ok
	}
	for _, r := range plan {
		if err := r.obj.RestoreExcept(r.snap, tracked); err != nil {
			return fmt.Errorf("rollback %s: %w", t.id, err)
		}
	}
	for _, obj := range t.tracker.FetchByState(domain.StateDeleted) {
		if err := t.tracker.ChangeState(obj, domain.StateDirty); err != nil {
			return err
		}
	}
	t.committed = true
	t.opts.logger.Info("transaction rolled back", "transaction", t.id.String(), "restored", len(plan))
	return nil
}

// Complete releases a committed or rolled back transaction. Afterwards every
// operation fails with ErrInvalidTransaction.
func (t *Transaction) Complete() error {
	start := time.Now()
	err := t.release(true)
	t.opts.metrics.Observe(context.Background(), OpComplete, err == nil, time.Since(start))
	return err
}

// Abort releases the transaction without requiring a commit, discarding its
// registrations.
func (t *Transaction) Abort() error {
	start := time.Now()
	err := t.release(false)
	t.opts.metrics.Observe(context.Background(), OpAbort, err == nil, time.Since(start))
	return err
}

func (t *Transaction) release(requireCommitted bool) error {
	t.mu.Lock()
	if !t.valid {
		t.mu.Unlock()
		return t.invalid()
	}
	if requireCommitted && !t.committed {
		t.mu.Unlock()
		return fmt.Errorf("complete %s: %w", t.id, domain.ErrUncommitted)
	}
	discarded := t.tracker.Len()
	t.tracker.Clear()
	t.valid = false
	t.mu.Unlock()

	t.opts.registry.Unregister(t.id)
	if requireCommitted {
		t.opts.logger.Info("transaction completed", "transaction", t.id.String())
	} else {
		t.opts.logger.Info("transaction aborted", "transaction", t.id.String(), "discarded", discarded)
	}
	return nil
}

func (t *Transaction) invalid() error {
	return fmt.Errorf("transaction %s: %w", t.id, domain.ErrInvalidTransaction)
}
