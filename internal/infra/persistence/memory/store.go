// Package memory provides an in-memory backend used for tests and ephemeral
// environments. Rows are keyed by class and id and never hard-deleted.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"unitofwork/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain backend interface.
var _ domain.Backend = (*Store)(nil)

type memoryState struct {
	tables    map[string]map[int64]domain.Record
	versions  map[int64]domain.VersionState
	sequences map[string]int64
}

// versionSequence is the sequences key used for shared version rows.
const versionSequence = "_versions"

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Tables    map[string]map[int64]domain.Record `json:"tables"`
	Versions  map[int64]domain.VersionState      `json:"versions"`
	Sequences map[string]int64                   `json:"sequences"`
}

func newMemoryState() memoryState {
	return memoryState{
		tables:    make(map[string]map[int64]domain.Record),
		versions:  make(map[int64]domain.VersionState),
		sequences: make(map[string]int64),
	}
}

func (s memoryState) clone() memoryState {
	out := memoryState{
		tables:    make(map[string]map[int64]domain.Record, len(s.tables)),
		versions:  make(map[int64]domain.VersionState, len(s.versions)),
		sequences: make(map[string]int64, len(s.sequences)),
	}
	for class, rows := range s.tables {
		cloned := make(map[int64]domain.Record, len(rows))
		for id, rec := range rows {
			cloned[id] = cloneRecord(rec)
		}
		out.tables[class] = cloned
	}
	for id, v := range s.versions {
		out.versions[id] = v
	}
	for k, v := range s.sequences {
		out.sequences[k] = v
	}
	return out
}

func cloneRecord(r domain.Record) domain.Record {
	out := r
	if r.Values != nil {
		out.Values = make(map[string]any, len(r.Values))
		for k, v := range r.Values {
			if b, ok := v.([]byte); ok {
				v = append([]byte(nil), b...)
			}
			out.Values[k] = v
		}
	}
	if r.Refs != nil {
		out.Refs = make(map[string]int64, len(r.Refs))
		for k, v := range r.Refs {
			out.Refs[k] = v
		}
	}
	if r.RefLists != nil {
		out.RefLists = make(map[string][]int64, len(r.RefLists))
		for k, v := range r.RefLists {
			out.RefLists[k] = append([]int64(nil), v...)
		}
	}
	return out
}

func (s *memoryState) nextID(key string) int64 {
	s.sequences[key]++
	return s.sequences[key]
}

func (s *memoryState) table(class string) map[int64]domain.Record {
	rows, ok := s.tables[class]
	if !ok {
		rows = make(map[int64]domain.Record)
		s.tables[class] = rows
	}
	return rows
}

// Store provides an in-memory transactional backend. InTransaction works on
// a clone of the state and swaps it in only when fn succeeds.
type Store struct {
	mu    sync.RWMutex
	state memoryState
}

// NewStore constructs an empty in-memory store.
func NewStore() *Store {
	return &Store{state: newMemoryState()}
}

type txKey struct{}

type txState struct {
	store *Store
	state *memoryState
}

func (s *Store) active(ctx context.Context) *memoryState {
	tx, ok := ctx.Value(txKey{}).(*txState)
	if !ok || tx.store != s {
		return nil
	}
	return tx.state
}

// InTransaction executes fn within a transactional copy of the store state.
// Calls made with a context from an enclosing InTransaction join it.
func (s *Store) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.active(ctx) != nil {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.state.clone()
	if err := fn(context.WithValue(ctx, txKey{}, &txState{store: s, state: &working})); err != nil {
		return err
	}
	s.state = working
	return nil
}

// write runs fn against the active transaction state, opening a single-call
// transaction when ctx carries none.
func (s *Store) write(ctx context.Context, fn func(*memoryState) error) error {
	if st := s.active(ctx); st != nil {
		return fn(st)
	}
	return s.InTransaction(ctx, func(ctx context.Context) error {
		return fn(s.active(ctx))
	})
}

func (s *Store) read(ctx context.Context, fn func(*memoryState) error) error {
	if st := s.active(ctx); st != nil {
		return fn(st)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&s.state)
}

// Insert stores a new row for obj and assigns its id. Roots persist their
// shared version first.
func (s *Store) Insert(ctx context.Context, obj *domain.Object) error {
	if obj == nil {
		return domain.ErrNilObject
	}
	if obj.HasID() {
		return fmt.Errorf("insert %s: %w", obj, domain.ErrHasIdentity)
	}
	return s.write(ctx, func(st *memoryState) error {
		if v := obj.Version(); obj.IsRoot() && v != nil {
			if err := v.Persist(ctx, s); err != nil {
				return err
			}
		}
		rec := obj.Record()
		rec.ID = st.nextID(rec.Class)
		st.table(rec.Class)[rec.ID] = cloneRecord(rec)
		return obj.SetID(rec.ID)
	})
}

// Update rewrites the row for current when it differs from previous and
// advances the aggregate's shared version.
func (s *Store) Update(ctx context.Context, current *domain.Object, previous *domain.Snapshot) error {
	if current == nil {
		return domain.ErrNilObject
	}
	id, ok := current.ID()
	if !ok {
		return fmt.Errorf("update %s: %w", current, domain.ErrMissingIdentity)
	}
	if domain.Diff(previous, current).Empty() {
		return nil
	}
	return s.write(ctx, func(st *memoryState) error {
		rows := st.table(current.Class().Name())
		existing, ok := rows[id]
		if !ok || !existing.Active {
			return &domain.NotFoundError{Class: current.Class().Name(), ID: id}
		}
		if err := s.advance(ctx, current); err != nil {
			return err
		}
		rows[id] = cloneRecord(current.Record())
		return nil
	})
}

// Delete marks the row for obj inactive and advances the shared version.
func (s *Store) Delete(ctx context.Context, obj *domain.Object) error {
	if obj == nil {
		return domain.ErrNilObject
	}
	id, ok := obj.ID()
	if !ok {
		return fmt.Errorf("delete %s: %w", obj, domain.ErrMissingIdentity)
	}
	return s.write(ctx, func(st *memoryState) error {
		rows := st.table(obj.Class().Name())
		existing, ok := rows[id]
		if !ok || !existing.Active {
			return &domain.NotFoundError{Class: obj.Class().Name(), ID: id}
		}
		if err := s.advance(ctx, obj); err != nil {
			return err
		}
		existing.Active = false
		rows[id] = existing
		return nil
	})
}

func (s *Store) advance(ctx context.Context, obj *domain.Object) error {
	v := obj.Version()
	if v == nil {
		return fmt.Errorf("%s: no shared version", obj)
	}
	return v.IncrementPersisted(ctx, s)
}

// Fetch returns the active row of class with id.
func (s *Store) Fetch(ctx context.Context, class *domain.Class, id int64) (domain.Record, error) {
	var out domain.Record
	err := s.read(ctx, func(st *memoryState) error {
		rec, ok := st.tables[class.Name()][id]
		if !ok || !rec.Active {
			return &domain.NotFoundError{Class: class.Name(), ID: id}
		}
		out = cloneRecord(rec)
		return nil
	})
	return out, err
}

// InsertVersion stores a new shared version row.
func (s *Store) InsertVersion(ctx context.Context, state domain.VersionState) (int64, error) {
	var id int64
	err := s.write(ctx, func(st *memoryState) error {
		id = st.nextID(versionSequence)
		state.ID = id
		st.versions[id] = state
		return nil
	})
	return id, err
}

// AdvanceVersion writes next when the row is still at expected and is not
// locked by anyone other than holder.
func (s *Store) AdvanceVersion(ctx context.Context, id, expected int64, next domain.VersionState, holder string) (bool, error) {
	var ok bool
	err := s.write(ctx, func(st *memoryState) error {
		row, found := st.versions[id]
		if !found || row.Version != expected {
			return nil
		}
		if row.LockedBy != "" && row.LockedBy != holder {
			return nil
		}
		row.Version = next.Version
		row.CreatedAt = next.CreatedAt
		st.versions[id] = row
		ok = true
		return nil
	})
	return ok, err
}

// LockVersion sets holder on an unlocked row or one already held by holder.
func (s *Store) LockVersion(ctx context.Context, id int64, holder string, at time.Time) (bool, error) {
	var ok bool
	err := s.write(ctx, func(st *memoryState) error {
		row, found := st.versions[id]
		if !found || (row.LockedBy != "" && row.LockedBy != holder) {
			return nil
		}
		row.LockedBy = holder
		row.LockedAt = at
		st.versions[id] = row
		ok = true
		return nil
	})
	return ok, err
}

// UnlockVersion clears the holder when it matches.
func (s *Store) UnlockVersion(ctx context.Context, id int64, holder string) (bool, error) {
	var ok bool
	err := s.write(ctx, func(st *memoryState) error {
		row, found := st.versions[id]
		if !found || row.LockedBy != holder {
			return nil
		}
		row.LockedBy = ""
		row.LockedAt = time.Time{}
		st.versions[id] = row
		ok = true
		return nil
	})
	return ok, err
}

// LoadVersion returns the stored state of a shared version row.
func (s *Store) LoadVersion(ctx context.Context, id int64) (domain.VersionState, error) {
	var out domain.VersionState
	err := s.read(ctx, func(st *memoryState) error {
		row, ok := st.versions[id]
		if !ok {
			return &domain.NotFoundError{Class: "shared_version", ID: id}
		}
		out = row
		return nil
	})
	return out, err
}

// Rows lists every row of class, inactive ones included, ordered by id.
func (s *Store) Rows(class *domain.Class) []domain.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.state.tables[class.Name()]
	out := make([]domain.Record, 0, len(rows))
	for _, rec := range rows {
		out = append(out, cloneRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.state.clone()
	return Snapshot{Tables: st.tables, Versions: st.versions, Sequences: st.sequences}
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	st := memoryState{
		tables:    snapshot.Tables,
		versions:  snapshot.Versions,
		sequences: snapshot.Sequences,
	}
	if st.tables == nil {
		st.tables = make(map[string]map[int64]domain.Record)
	}
	if st.versions == nil {
		st.versions = make(map[int64]domain.VersionState)
	}
	if st.sequences == nil {
		st.sequences = make(map[string]int64)
	}
	cloned := st.clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = cloned
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error { return nil }
