// Package history keeps per-object snapshots used to restore in-memory state
// when a transaction rolls back.
package history

import "unitofwork/pkg/domain"

// History is an append-only store of snapshots keyed by object identity, so
// objects without a domain id can be recorded too. It has no locking of its
// own; the owning transaction serialises access.
type History struct {
	entries map[*domain.Object][]*domain.Snapshot
}

// New returns an empty history.
func New() *History {
	return &History{entries: make(map[*domain.Object][]*domain.Snapshot)}
}

// Push records a deep snapshot of obj's current state and returns it.
func (h *History) Push(obj *domain.Object) *domain.Snapshot {
	snap := obj.Snapshot()
	h.entries[obj] = append(h.entries[obj], snap)
	return snap
}

// Latest returns the most recent snapshot of obj, or nil.
func (h *History) Latest(obj *domain.Object) *domain.Snapshot {
	snaps := h.entries[obj]
	if len(snaps) == 0 {
		return nil
	}
	return snaps[len(snaps)-1]
}

// Snapshots returns every snapshot of obj, oldest first.
func (h *History) Snapshots(obj *domain.Object) []*domain.Snapshot {
	return append([]*domain.Snapshot(nil), h.entries[obj]...)
}

// Delete forgets obj.
func (h *History) Delete(obj *domain.Object) {
	delete(h.entries, obj)
}

// Len returns how many objects have history.
func (h *History) Len() int { return len(h.entries) }
