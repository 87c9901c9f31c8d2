package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors usable with errors.Is.
var (
	ErrAlreadyRegistered  = errors.New("object already registered")
	ErrMissingIdentity    = errors.New("object has no identity")
	ErrHasIdentity        = errors.New("object already has an identity")
	ErrInvalidTransition  = errors.New("invalid state transition")
	ErrDetachedChild      = errors.New("child object is not attached to a parent")
	ErrNilObject          = errors.New("object is nil")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrIdentityImmutable  = errors.New("identity is immutable once assigned")
	ErrCommitNoProgress   = errors.New("commit retry made no progress")
	ErrRetryLimit         = errors.New("commit retry limit exceeded")
	ErrUnknownField       = errors.New("unknown field")
	ErrFieldKind          = errors.New("field kind mismatch")
	ErrValueType          = errors.New("value type mismatch")
	ErrInvalidState       = errors.New("invalid tracked state")
	ErrUncommitted        = errors.New("transaction has uncommitted changes")
)

// RegistrationError reports a rejected register_* call.
type RegistrationError struct {
	Op     string
	Object *Object
	Err    error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Object, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// UntrackedObjectError is returned when the tracker is asked about an object it
// does not hold.
type UntrackedObjectError struct {
	Object *Object
}

func (e *UntrackedObjectError) Error() string {
	return fmt.Sprintf("object %s is not tracked", e.Object)
}

// MultipleTrackedObjectsError is returned by single-result lookups that match
// more than one tracked object.
type MultipleTrackedObjectsError struct {
	Class string
	ID    int64
	Count int
}

func (e *MultipleTrackedObjectsError) Error() string {
	return fmt.Sprintf("%d tracked objects match %s#%d", e.Count, e.Class, e.ID)
}

// UntrackedReferenceError is returned by dependency ordering when an object
// references an object that is neither tracked in the same state nor persisted.
// Reference is the offending object; registering it and retrying resolves it.
type UntrackedReferenceError struct {
	Referrer  *Object
	Field     string
	Reference *Object
}

func (e *UntrackedReferenceError) Error() string {
	return fmt.Sprintf("%s.%s references untracked unpersisted object %s", e.Referrer, e.Field, e.Reference)
}

// CyclicDependencyError is returned when objects in one state reference each
// other in a cycle and cannot be ordered.
type CyclicDependencyError struct {
	Object *Object
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("dependency cycle through %s", e.Object)
}

// VersionAlreadyLockedError signals an optimistic concurrency conflict: the
// persisted version row changed or is held by another holder.
type VersionAlreadyLockedError struct {
	VersionID int64
	Holder    string
}

func (e *VersionAlreadyLockedError) Error() string {
	if e.Holder == "" {
		return fmt.Sprintf("shared version %d was modified concurrently", e.VersionID)
	}
	return fmt.Sprintf("shared version %d is locked or was modified concurrently (holder %s)", e.VersionID, e.Holder)
}

// TransactionNotFoundError is returned by registry lookups of unknown ids.
type TransactionNotFoundError struct {
	ID string
}

func (e *TransactionNotFoundError) Error() string {
	return fmt.Sprintf("transaction %s not found", e.ID)
}

// HistoryMissingError indicates the tracker holds an object the history has
// never seen. It is a desynchronisation bug and never retried.
type HistoryMissingError struct {
	Object *Object
}

func (e *HistoryMissingError) Error() string {
	return fmt.Sprintf("no history snapshot for %s", e.Object)
}

// NotFoundError is returned by fetchers when no active row exists.
type NotFoundError struct {
	Class string
	ID    int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Class, e.ID)
}

// IsVersionConflict reports whether err is an optimistic concurrency conflict.
func IsVersionConflict(err error) bool {
	var conflict *VersionAlreadyLockedError
	return errors.As(err, &conflict)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
