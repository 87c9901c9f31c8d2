package domain

import (
	"bytes"
	"fmt"
	"sort"
	"time"
)

// Snapshot is a deep copy of an object's state. Attribute values are copied;
// links to parents and references keep pointing at the live objects so that
// identity comparisons stay valid; owned children are snapshotted recursively.
type Snapshot struct {
	object   *Object
	id       int64
	hasID    bool
	values   map[string]any
	parent   *Object
	refs     map[string]*Object
	lists    map[string][]*Object
	children map[string][]*Snapshot
	version  *SharedVersion
}

// Snapshot captures the object's current state.
func (o *Object) Snapshot() *Snapshot {
	s := &Snapshot{
		object:   o,
		id:       o.id,
		hasID:    o.hasID,
		values:   cloneValues(o.values),
		parent:   o.parent,
		refs:     make(map[string]*Object, len(o.refs)),
		lists:    make(map[string][]*Object, len(o.lists)),
		children: make(map[string][]*Snapshot, len(o.children)),
		version:  o.version,
	}
	for k, v := range o.refs {
		s.refs[k] = v
	}
	for k, v := range o.lists {
		s.lists[k] = append([]*Object(nil), v...)
	}
	for k, list := range o.children {
		snaps := make([]*Snapshot, 0, len(list))
		for _, child := range list {
			snaps = append(snaps, child.Snapshot())
		}
		s.children[k] = snaps
	}
	return s
}

// Object returns the live object the snapshot was taken from.
func (s *Snapshot) Object() *Object { return s.object }

// ID returns the identity recorded in the snapshot.
func (s *Snapshot) ID() (int64, bool) { return s.id, s.hasID }

// Get returns a recorded attribute value.
func (s *Snapshot) Get(name string) any { return s.values[name] }

// Parent returns the recorded parent link.
func (s *Snapshot) Parent() *Object { return s.parent }

// Reference returns a recorded single reference.
func (s *Snapshot) Reference(name string) *Object { return s.refs[name] }

// References returns a recorded multi-valued reference.
func (s *Snapshot) References(name string) []*Object {
	return append([]*Object(nil), s.lists[name]...)
}

// Restore writes the snapshot back into its live object, and recursively into
// the live children it recorded. A persisted id is never cleared. The shared
// version's counter is left alone since it belongs to the whole aggregate.
func (o *Object) Restore(s *Snapshot) error {
	return o.RestoreExcept(s, nil)
}

// RestoreExcept is Restore, but children for which skip reports true are only
// relinked into the recorded child lists. Their own fields are left for their
// own snapshots to restore.
func (o *Object) RestoreExcept(s *Snapshot, skip func(*Object) bool) error {
	if s == nil {
		return fmt.Errorf("restore %s: nil snapshot", o)
	}
	if s.object != o {
		return fmt.Errorf("restore %s: snapshot belongs to %s", o, s.object)
	}
	if s.hasID {
		if err := o.SetID(s.id); err != nil {
			return fmt.Errorf("restore %s: %w", o, err)
		}
	}
	o.values = cloneValues(s.values)
	o.parent = s.parent
	o.refs = make(map[string]*Object, len(s.refs))
	for k, v := range s.refs {
		o.refs[k] = v
	}
	o.lists = make(map[string][]*Object, len(s.lists))
	for k, v := range s.lists {
		o.lists[k] = append([]*Object(nil), v...)
	}
	previous := o.children
	o.children = make(map[string][]*Object, len(s.children))
	kept := make(map[*Object]struct{})
	for k, snaps := range s.children {
		list := make([]*Object, 0, len(snaps))
		for _, cs := range snaps {
			if skip == nil || !skip(cs.object) {
				if err := cs.object.RestoreExcept(cs, skip); err != nil {
					return err
				}
			}
			list = append(list, cs.object)
			kept[cs.object] = struct{}{}
		}
		o.children[k] = list
	}
	// children attached after the snapshot are detached again
	for _, list := range previous {
		for _, child := range list {
			if _, ok := kept[child]; !ok && child.parent == o {
				child.parent = nil
			}
		}
	}
	if s.version != nil {
		o.version = s.version
	}
	return nil
}

// Changes lists what differs between a snapshot and the live object. Keys are
// field names. Links hold the parent and single references; a nil value means
// the link was cleared.
type Changes struct {
	Values map[string]any
	Links  map[string]*Object
	Lists  map[string][]*Object
}

// Empty reports whether nothing changed.
func (c Changes) Empty() bool {
	return len(c.Values) == 0 && len(c.Links) == 0 && len(c.Lists) == 0
}

// Fields returns the sorted names of all changed fields.
func (c Changes) Fields() []string {
	names := make([]string, 0, len(c.Values)+len(c.Links)+len(c.Lists))
	for k := range c.Values {
		names = append(names, k)
	}
	for k := range c.Links {
		names = append(names, k)
	}
	for k := range c.Lists {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Diff compares the live object against an earlier snapshot of it. A nil
// previous snapshot reports every set field as changed.
func Diff(previous *Snapshot, current *Object) Changes {
	changes := Changes{
		Values: map[string]any{},
		Links:  map[string]*Object{},
		Lists:  map[string][]*Object{},
	}
	if previous == nil {
		previous = &Snapshot{}
	}
	for _, f := range current.class.fields {
		switch f.Kind {
		case FieldValue:
			before, after := previous.values[f.Name], current.values[f.Name]
			if !valuesEqual(before, after) {
				changes.Values[f.Name] = cloneValue(after)
			}
		case FieldParent:
			if previous.parent != current.parent {
				changes.Links[f.Name] = current.parent
			}
		case FieldReference:
			if previous.refs[f.Name] != current.refs[f.Name] {
				changes.Links[f.Name] = current.refs[f.Name]
			}
		case FieldReferenceList:
			if !sameObjects(previous.lists[f.Name], current.lists[f.Name]) {
				changes.Lists[f.Name] = append([]*Object(nil), current.lists[f.Name]...)
			}
		}
	}
	return changes
}

func cloneValues(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	if b, ok := v.([]byte); ok {
		return append([]byte(nil), b...)
	}
	return v
}

func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	switch av := a.(type) {
	case []byte:
		bv, ok := b.([]byte)
		return ok && bytes.Equal(av, bv)
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	default:
		return a == b
	}
}

func sameObjects(a, b []*Object) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
