package domain

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// VersionState is a point-in-time copy of a SharedVersion.
type VersionState struct {
	ID        int64     `json:"id,omitempty"`
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	LockedBy  string    `json:"locked_by,omitempty"`
	LockedAt  time.Time `json:"locked_at,omitempty"`
}

// Locked reports whether a holder owns the version.
func (s VersionState) Locked() bool { return s.LockedBy != "" }

// SharedVersion is the optimistic-lock token shared by every object of one
// aggregate. Version and timestamp only ever change together, through
// Increment, IncrementPersisted or Rewind.
type SharedVersion struct {
	mu        sync.Mutex
	id        int64
	version   int64
	createdAt time.Time
	lockedBy  string
	lockedAt  time.Time
}

// versionClock is swapped by tests needing deterministic timestamps.
var versionClock = func() time.Time { return time.Now().UTC() }

// NewSharedVersion returns an unpersisted version at 0.
func NewSharedVersion() *SharedVersion {
	return &SharedVersion{createdAt: versionClock()}
}

// LoadSharedVersion rebuilds a persisted version from its stored state.
func LoadSharedVersion(state VersionState) *SharedVersion {
	return &SharedVersion{
		id:        state.ID,
		version:   state.Version,
		createdAt: state.CreatedAt,
		lockedBy:  state.LockedBy,
		lockedAt:  state.LockedAt,
	}
}

// ID returns the persisted version row id; false until the root is inserted.
func (v *SharedVersion) ID() (int64, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.id, v.id != 0
}

// Version returns the current counter value.
func (v *SharedVersion) Version() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.version
}

// CreatedAt returns when the current counter value was set.
func (v *SharedVersion) CreatedAt() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.createdAt
}

// LockedBy returns the current holder, if any.
func (v *SharedVersion) LockedBy() (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lockedBy, v.lockedBy != ""
}

// LockedAt returns when the current holder acquired the lock.
func (v *SharedVersion) LockedAt() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lockedAt
}

// State returns a copy of the version's fields.
func (v *SharedVersion) State() VersionState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stateLocked()
}

func (v *SharedVersion) stateLocked() VersionState {
	return VersionState{
		ID:        v.id,
		Version:   v.version,
		CreatedAt: v.createdAt,
		LockedBy:  v.lockedBy,
		LockedAt:  v.lockedAt,
	}
}

// Increment advances the counter by one in memory only.
func (v *SharedVersion) Increment() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.version++
	v.createdAt = versionClock()
}

// Persist inserts the version row and records its id. It is a no-op for a
// version that already has an id.
func (v *SharedVersion) Persist(ctx context.Context, store VersionStore) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.id != 0 {
		return nil
	}
	id, err := store.InsertVersion(ctx, v.stateLocked())
	if err != nil {
		return fmt.Errorf("insert shared version: %w", err)
	}
	if id <= 0 {
		return fmt.Errorf("insert shared version: store returned id %d", id)
	}
	v.id = id
	return nil
}

// IncrementPersisted advances the counter and writes it with a conditional
// update. A conflict (row changed or locked by another holder) returns
// VersionAlreadyLockedError and leaves the in-memory state untouched.
func (v *SharedVersion) IncrementPersisted(ctx context.Context, store VersionStore) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.id == 0 {
		return fmt.Errorf("increment shared version: %w", ErrMissingIdentity)
	}
	next := v.stateLocked()
	next.Version++
	next.CreatedAt = versionClock()
	ok, err := store.AdvanceVersion(ctx, v.id, v.version, next, v.lockedBy)
	if err != nil {
		return fmt.Errorf("advance shared version %d: %w", v.id, err)
	}
	if !ok {
		return &VersionAlreadyLockedError{VersionID: v.id, Holder: v.lockedBy}
	}
	v.version = next.Version
	v.createdAt = next.CreatedAt
	return nil
}

// Lock acquires the exclusive lock for holder. Re-locking by the same holder
// succeeds; any other holder gets VersionAlreadyLockedError.
func (v *SharedVersion) Lock(ctx context.Context, store VersionStore, holder string) error {
	if holder == "" {
		return fmt.Errorf("lock shared version: holder required")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.id == 0 {
		return fmt.Errorf("lock shared version: %w", ErrMissingIdentity)
	}
	if v.lockedBy != "" && v.lockedBy != holder {
		return &VersionAlreadyLockedError{VersionID: v.id, Holder: v.lockedBy}
	}
	at := versionClock()
	ok, err := store.LockVersion(ctx, v.id, holder, at)
	if err != nil {
		return fmt.Errorf("lock shared version %d: %w", v.id, err)
	}
	if !ok {
		return &VersionAlreadyLockedError{VersionID: v.id, Holder: holder}
	}
	v.lockedBy = holder
	v.lockedAt = at
	return nil
}

// Unlock releases the lock held by holder.
func (v *SharedVersion) Unlock(ctx context.Context, store VersionStore, holder string) error {
	if holder == "" {
		return fmt.Errorf("unlock shared version: holder required")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.id == 0 {
		return fmt.Errorf("unlock shared version: %w", ErrMissingIdentity)
	}
	if v.lockedBy != holder {
		return &VersionAlreadyLockedError{VersionID: v.id, Holder: v.lockedBy}
	}
	ok, err := store.UnlockVersion(ctx, v.id, holder)
	if err != nil {
		return fmt.Errorf("unlock shared version %d: %w", v.id, err)
	}
	if !ok {
		return &VersionAlreadyLockedError{VersionID: v.id, Holder: holder}
	}
	v.lockedBy = ""
	v.lockedAt = time.Time{}
	return nil
}

// Rewind restores an earlier state after the backend rolled back the writes
// that produced the current one. The id may only go back to unset or stay the
// same, and the counter may not move forward.
func (v *SharedVersion) Rewind(to VersionState) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if to.ID != 0 && to.ID != v.id {
		return fmt.Errorf("rewind shared version %d to row %d: %w", v.id, to.ID, ErrIdentityImmutable)
	}
	if to.Version > v.version {
		return fmt.Errorf("rewind shared version %d forward from %d to %d", v.id, v.version, to.Version)
	}
	v.id = to.ID
	v.version = to.Version
	v.createdAt = to.CreatedAt
	v.lockedBy = to.LockedBy
	v.lockedAt = to.LockedAt
	return nil
}
