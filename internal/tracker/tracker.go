// Package tracker indexes the objects registered with one transaction by
// identity and lifecycle state, and orders them by reference dependencies.
//
// A Tracker is not safe for concurrent use; its owning transaction
// serialises access.
package tracker

import (
	"fmt"

	"unitofwork/pkg/domain"
)

type entry struct {
	object *domain.Object
	state  domain.State
}

// Tracker holds {object, state} pairs. Objects are compared by identity and
// kept in registration order, which makes every listing deterministic.
type Tracker struct {
	entries []*entry
	index   map[*domain.Object]*entry
}

// New returns an empty tracker.
func New() *Tracker {
	return &Tracker{index: make(map[*domain.Object]*entry)}
}

// Track adds obj under state unless it is already tracked, in which case the
// existing state is kept. It reports whether the object was added.
func (t *Tracker) Track(obj *domain.Object, state domain.State) (bool, error) {
	if obj == nil {
		return false, domain.ErrNilObject
	}
	if !state.Valid() {
		return false, fmt.Errorf("track %s as %s: %w", obj, state, domain.ErrInvalidState)
	}
	if _, ok := t.index[obj]; ok {
		return false, nil
	}
	e := &entry{object: obj, state: state}
	t.entries = append(t.entries, e)
	t.index[obj] = e
	return true, nil
}

// Untrack removes obj.
func (t *Tracker) Untrack(obj *domain.Object) error {
	if _, ok := t.index[obj]; !ok {
		return &domain.UntrackedObjectError{Object: obj}
	}
	delete(t.index, obj)
	kept := t.entries[:0]
	for _, e := range t.entries {
		if e.object != obj {
			kept = append(kept, e)
		}
	}
	for i := len(kept); i < len(t.entries); i++ {
		t.entries[i] = nil
	}
	t.entries = kept
	return nil
}

// ChangeState moves a tracked object to state. Transition rules are the
// caller's responsibility.
func (t *Tracker) ChangeState(obj *domain.Object, state domain.State) error {
	if !state.Valid() {
		return fmt.Errorf("change %s to %s: %w", obj, state, domain.ErrInvalidState)
	}
	e, ok := t.index[obj]
	if !ok {
		return &domain.UntrackedObjectError{Object: obj}
	}
	e.state = state
	return nil
}

// StateOf returns the state obj is tracked under.
func (t *Tracker) StateOf(obj *domain.Object) (domain.State, bool) {
	e, ok := t.index[obj]
	if !ok {
		return 0, false
	}
	return e.state, true
}

// FetchObject returns obj if it is tracked, nil otherwise.
func (t *Tracker) FetchObject(obj *domain.Object) *domain.Object {
	if e, ok := t.index[obj]; ok {
		return e.object
	}
	return nil
}

// FetchByState lists the objects tracked under state in registration order.
func (t *Tracker) FetchByState(state domain.State) []*domain.Object {
	var out []*domain.Object
	for _, e := range t.entries {
		if e.state == state {
			out = append(out, e.object)
		}
	}
	return out
}

// FetchByClass lists the tracked objects whose class is exactly class.
func (t *Tracker) FetchByClass(class *domain.Class) []*domain.Object {
	var out []*domain.Object
	for _, e := range t.entries {
		if e.object.Class() == class {
			out = append(out, e.object)
		}
	}
	return out
}

// FetchByClassID returns the tracked object of class with the given id, or
// nil when none matches.
func (t *Tracker) FetchByClassID(class *domain.Class, id int64) (*domain.Object, error) {
	var found []*domain.Object
	for _, obj := range t.FetchByClass(class) {
		if oid, ok := obj.ID(); ok && oid == id {
			found = append(found, obj)
		}
	}
	switch len(found) {
	case 0:
		return nil, nil
	case 1:
		return found[0], nil
	default:
		return nil, &domain.MultipleTrackedObjectsError{Class: class.Name(), ID: id, Count: len(found)}
	}
}

// Objects lists every tracked object in registration order.
func (t *Tracker) Objects() []*domain.Object {
	out := make([]*domain.Object, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e.object)
	}
	return out
}

// Len returns the number of tracked objects.
func (t *Tracker) Len() int { return len(t.entries) }

// Clear forgets every tracked object.
func (t *Tracker) Clear() {
	t.entries = nil
	t.index = make(map[*domain.Object]*entry)
}

const (
	unvisited = iota
	visiting
	visited
)

// FetchInDependencyOrder lists the objects tracked under state so that every
// object comes after the objects it references through its parent link,
// single references and multi-valued references. References leaving the
// partition are assumed persisted; one without an id yields an
// UntrackedReferenceError naming it. Unrelated objects keep registration order.
func (t *Tracker) FetchInDependencyOrder(state domain.State) ([]*domain.Object, error) {
	partition := t.FetchByState(state)
	member := make(map[*domain.Object]struct{}, len(partition))
	for _, obj := range partition {
		member[obj] = struct{}{}
	}
	marks := make(map[*domain.Object]int, len(partition))
	ordered := make([]*domain.Object, 0, len(partition))

	var visit func(obj *domain.Object) error
	visit = func(obj *domain.Object) error {
		switch marks[obj] {
		case visiting:
			return &domain.CyclicDependencyError{Object: obj}
		case visited:
			return nil
		}
		marks[obj] = visiting
		for _, dep := range obj.Dependencies() {
			if _, ok := member[dep.Target]; ok {
				if err := visit(dep.Target); err != nil {
					return err
				}
				continue
			}
			if !dep.Target.HasID() {
				return &domain.UntrackedReferenceError{Referrer: obj, Field: dep.Field, Reference: dep.Target}
			}
		}
		marks[obj] = visited
		ordered = append(ordered, obj)
		return nil
	}

	for _, obj := range partition {
		if err := visit(obj); err != nil {
			return nil, err
		}
	}
	return ordered, nil
}
