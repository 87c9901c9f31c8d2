package domain

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeVersionStore struct {
	nextID  int64
	rows    map[int64]VersionState
	failErr error
}

func newFakeVersionStore() *fakeVersionStore {
	return &fakeVersionStore{rows: make(map[int64]VersionState)}
}

func (f *fakeVersionStore) InsertVersion(_ context.Context, state VersionState) (int64, error) {
	if f.failErr != nil {
		return 0, f.failErr
	}
	f.nextID++
	state.ID = f.nextID
	f.rows[f.nextID] = state
	return f.nextID, nil
}

func (f *fakeVersionStore) AdvanceVersion(_ context.Context, id, expected int64, next VersionState, holder string) (bool, error) {
	row, ok := f.rows[id]
	if !ok || row.Version != expected || (row.LockedBy != "" && row.LockedBy != holder) {
		return false, nil
	}
	row.Version, row.CreatedAt = next.Version, next.CreatedAt
	f.rows[id] = row
	return true, nil
}

func (f *fakeVersionStore) LockVersion(_ context.Context, id int64, holder string, at time.Time) (bool, error) {
	row, ok := f.rows[id]
	if !ok || (row.LockedBy != "" && row.LockedBy != holder) {
		return false, nil
	}
	row.LockedBy, row.LockedAt = holder, at
	f.rows[id] = row
	return true, nil
}

func (f *fakeVersionStore) UnlockVersion(_ context.Context, id int64, holder string) (bool, error) {
	row, ok := f.rows[id]
	if !ok || row.LockedBy != holder {
		return false, nil
	}
	row.LockedBy, row.LockedAt = "", time.Time{}
	f.rows[id] = row
	return true, nil
}

func (f *fakeVersionStore) LoadVersion(_ context.Context, id int64) (VersionState, error) {
	row, ok := f.rows[id]
	if !ok {
		return VersionState{}, &NotFoundError{Class: "shared_version", ID: id}
	}
	return row, nil
}

func fixedClock(t *testing.T) *time.Time {
	t.Helper()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	prev := versionClock
	versionClock = func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	t.Cleanup(func() { versionClock = prev })
	return &now
}

func TestSharedVersionPersistAndIncrement(t *testing.T) {
	fixedClock(t)
	ctx := context.Background()
	store := newFakeVersionStore()
	v := NewSharedVersion()
	if v.Version() != 0 {
		t.Fatalf("new versions start at 0")
	}
	if err := v.IncrementPersisted(ctx, store); !errors.Is(err, ErrMissingIdentity) {
		t.Fatalf("expected ErrMissingIdentity before persist, got %v", err)
	}
	if err := v.Persist(ctx, store); err != nil {
		t.Fatalf("persist: %v", err)
	}
	id, ok := v.ID()
	if !ok || id != 1 {
		t.Fatalf("expected id 1, got %d", id)
	}
	if err := v.Persist(ctx, store); err != nil || store.nextID != 1 {
		t.Fatalf("second persist must be a no-op")
	}
	created := v.CreatedAt()
	if err := v.IncrementPersisted(ctx, store); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if v.Version() != 1 || !v.CreatedAt().After(created) {
		t.Fatalf("expected counter and timestamp to advance together")
	}
	if store.rows[1].Version != 1 {
		t.Fatalf("expected stored version 1, got %d", store.rows[1].Version)
	}
}

func TestSharedVersionConflictLeavesStateUntouched(t *testing.T) {
	fixedClock(t)
	ctx := context.Background()
	store := newFakeVersionStore()
	v := NewSharedVersion()
	if err := v.Persist(ctx, store); err != nil {
		t.Fatalf("persist: %v", err)
	}
	row := store.rows[1]
	row.Version = 5
	store.rows[1] = row

	before := v.State()
	err := v.IncrementPersisted(ctx, store)
	if !IsVersionConflict(err) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	if v.State() != before {
		t.Fatalf("conflict must not change in-memory state")
	}
}

func TestSharedVersionPersistErrors(t *testing.T) {
	store := newFakeVersionStore()
	store.failErr = errors.New("disk full")
	v := NewSharedVersion()
	if err := v.Persist(context.Background(), store); !errors.Is(err, store.failErr) {
		t.Fatalf("expected wrapped store error, got %v", err)
	}
	if v.State().ID != 0 {
		t.Fatalf("failed persist must not assign an id")
	}
}

func TestSharedVersionLocking(t *testing.T) {
	fixedClock(t)
	ctx := context.Background()
	store := newFakeVersionStore()
	v := NewSharedVersion()
	if err := v.Lock(ctx, store, "alice"); !errors.Is(err, ErrMissingIdentity) {
		t.Fatalf("expected ErrMissingIdentity, got %v", err)
	}
	if err := v.Persist(ctx, store); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if err := v.Lock(ctx, store, ""); err == nil {
		t.Fatalf("expected holder required")
	}
	if err := v.Lock(ctx, store, "alice"); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := v.Lock(ctx, store, "alice"); err != nil {
		t.Fatalf("re-lock by holder: %v", err)
	}
	if holder, ok := v.LockedBy(); !ok || holder != "alice" || v.LockedAt().IsZero() {
		t.Fatalf("expected alice to hold the lock")
	}
	var conflict *VersionAlreadyLockedError
	if err := v.Lock(ctx, store, "bob"); !errors.As(err, &conflict) || conflict.Holder != "alice" {
		t.Fatalf("expected conflict naming alice, got %v", err)
	}
	if err := v.IncrementPersisted(ctx, store); err != nil {
		t.Fatalf("holder may still advance: %v", err)
	}
	if err := v.Unlock(ctx, store, "bob"); !IsVersionConflict(err) {
		t.Fatalf("expected unlock by non-holder to fail, got %v", err)
	}
	if err := v.Unlock(ctx, store, "alice"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if _, ok := v.LockedBy(); ok || store.rows[1].Locked() {
		t.Fatalf("expected lock released")
	}
}

func TestSharedVersionLockedInStoreByOther(t *testing.T) {
	ctx := context.Background()
	store := newFakeVersionStore()
	v := NewSharedVersion()
	if err := v.Persist(ctx, store); err != nil {
		t.Fatalf("persist: %v", err)
	}
	row := store.rows[1]
	row.LockedBy = "other"
	store.rows[1] = row
	if err := v.Lock(ctx, store, "alice"); !IsVersionConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := v.IncrementPersisted(ctx, store); !IsVersionConflict(err) {
		t.Fatalf("expected conflict while another holder has the row, got %v", err)
	}
}

func TestSharedVersionUnlockRequiresHolder(t *testing.T) {
	ctx := context.Background()
	store := newFakeVersionStore()
	v := NewSharedVersion()
	if err := v.Persist(ctx, store); err != nil {
		t.Fatalf("persist: %v", err)
	}
	err := v.Unlock(ctx, store, "")
	if err == nil || IsVersionConflict(err) {
		t.Fatalf("expected holder required on an unlocked version, got %v", err)
	}
	if err := v.Lock(ctx, store, "alice"); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := v.Unlock(ctx, store, ""); err == nil {
		t.Fatalf("expected holder required on a locked version")
	}
	if holder, ok := v.LockedBy(); !ok || holder != "alice" || store.rows[1].LockedBy != "alice" {
		t.Fatalf("expected alice to keep the lock")
	}
}

func TestSharedVersionRewind(t *testing.T) {
	fixedClock(t)
	ctx := context.Background()
	store := newFakeVersionStore()
	v := NewSharedVersion()
	fresh := v.State()
	if err := v.Persist(ctx, store); err != nil {
		t.Fatalf("persist: %v", err)
	}
	persisted := v.State()
	if err := v.IncrementPersisted(ctx, store); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if err := v.Rewind(persisted); err != nil {
		t.Fatalf("rewind to persisted: %v", err)
	}
	if v.Version() != 0 || v.CreatedAt() != persisted.CreatedAt {
		t.Fatalf("expected rewound counter and timestamp")
	}
	if err := v.Rewind(VersionState{ID: 9}); !errors.Is(err, ErrIdentityImmutable) {
		t.Fatalf("expected foreign row rejected, got %v", err)
	}
	if err := v.Rewind(VersionState{ID: 1, Version: 3}); err == nil {
		t.Fatalf("expected forward rewind rejected")
	}
	if err := v.Rewind(fresh); err != nil {
		t.Fatalf("rewind to unpersisted: %v", err)
	}
	if _, ok := v.ID(); ok {
		t.Fatalf("expected id cleared")
	}
}

func TestLoadSharedVersion(t *testing.T) {
	at := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	v := LoadSharedVersion(VersionState{ID: 4, Version: 7, CreatedAt: at, LockedBy: "x", LockedAt: at})
	if id, _ := v.ID(); id != 4 || v.Version() != 7 || !v.State().Locked() {
		t.Fatalf("unexpected loaded state %+v", v.State())
	}
	v.Increment()
	if v.Version() != 8 {
		t.Fatalf("expected in-memory increment")
	}
}
