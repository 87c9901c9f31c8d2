package domain

import (
	"context"
	"time"
)

// Mapper performs the actual writes for single objects. Transactions call it
// inside InTransaction so that a failed commit leaves the backend untouched.
type Mapper interface {
	// InTransaction runs fn inside a backend transactional boundary. An error
	// returned by fn rolls the boundary back and is propagated. Nested calls
	// with a context produced by the boundary join the outer one.
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	// Insert writes a new object, persisting a root's shared version first,
	// and assigns the object's id.
	Insert(ctx context.Context, obj *Object) error
	// Update writes the fields that differ from previous and advances the
	// aggregate's shared version. An empty diff writes nothing.
	Update(ctx context.Context, current *Object, previous *Snapshot) error
	// Delete marks the object inactive and advances the shared version.
	Delete(ctx context.Context, obj *Object) error
}

// VersionStore persists shared versions. The conditional methods report false
// when no row matched, which callers turn into VersionAlreadyLockedError.
type VersionStore interface {
	InsertVersion(ctx context.Context, state VersionState) (int64, error)
	// AdvanceVersion writes next if the row is still at expected and not
	// locked by anyone other than holder.
	AdvanceVersion(ctx context.Context, id, expected int64, next VersionState, holder string) (bool, error)
	// LockVersion sets the holder if the row is unlocked or already held by holder.
	LockVersion(ctx context.Context, id int64, holder string, at time.Time) (bool, error)
	// UnlockVersion clears the holder if it matches.
	UnlockVersion(ctx context.Context, id int64, holder string) (bool, error)
	LoadVersion(ctx context.Context, id int64) (VersionState, error)
}

// Fetcher reads persisted rows back. Inactive rows are reported as NotFoundError.
type Fetcher interface {
	Fetch(ctx context.Context, class *Class, id int64) (Record, error)
}

// Backend bundles everything a storage implementation provides.
type Backend interface {
	Mapper
	VersionStore
	Fetcher
	Close() error
}
