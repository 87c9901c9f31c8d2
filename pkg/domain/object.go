package domain

import (
	"fmt"
	"time"
)

// Object is an entity instance described by a Class. Its in-memory identity
// (the pointer) is stable for its whole life and is what trackers and
// histories key on; the domain id is assigned on first insert.
//
// Objects are not safe for concurrent mutation.
type Object struct {
	class    *Class
	id       int64
	hasID    bool
	values   map[string]any
	parent   *Object
	refs     map[string]*Object
	lists    map[string][]*Object
	children map[string][]*Object
	version  *SharedVersion
}

// Dependency is one outgoing edge of the reference graph.
type Dependency struct {
	Field  string
	Target *Object
}

// New creates an unpersisted object. Root objects get a fresh SharedVersion;
// child objects adopt their parent's version when attached.
func New(class *Class) *Object {
	if class == nil {
		panic("domain: New with nil class")
	}
	o := &Object{
		class:    class,
		values:   make(map[string]any),
		refs:     make(map[string]*Object),
		lists:    make(map[string][]*Object),
		children: make(map[string][]*Object),
	}
	if class.IsRoot() {
		o.version = NewSharedVersion()
	}
	return o
}

// Load builds an object for an already persisted row. It is meant for mappers
// and fetchers hydrating objects; version may be nil for child objects that
// will be attached later.
func Load(class *Class, id int64, version *SharedVersion) *Object {
	o := New(class)
	o.id, o.hasID = id, true
	if version != nil {
		o.version = version
	}
	return o
}

// Class returns the object's class descriptor.
func (o *Object) Class() *Class { return o.class }

// ID returns the persisted identity, if any.
func (o *Object) ID() (int64, bool) { return o.id, o.hasID }

// HasID reports whether the object has been persisted.
func (o *Object) HasID() bool { return o.hasID }

// SetID assigns the persisted identity. Assigning the same id again is a
// no-op; assigning a different one fails with ErrIdentityImmutable.
func (o *Object) SetID(id int64) error {
	if id <= 0 {
		return fmt.Errorf("%s: invalid id %d", o.class.name, id)
	}
	if o.hasID {
		if o.id == id {
			return nil
		}
		return fmt.Errorf("%s already has id %d, cannot assign %d: %w", o.class.name, o.id, id, ErrIdentityImmutable)
	}
	o.id, o.hasID = id, true
	return nil
}

// RevokeID clears an id whose insert the backend rolled back. The id given
// must match the current one.
func (o *Object) RevokeID(id int64) error {
	if !o.hasID || o.id != id {
		return fmt.Errorf("%s: cannot revoke id %d: %w", o, id, ErrIdentityImmutable)
	}
	o.id, o.hasID = 0, false
	return nil
}

// Version returns the shared version of the object's aggregate. It is nil for
// child objects not yet attached to a parent.
func (o *Object) Version() *SharedVersion { return o.version }

// IsRoot reports whether the object is an aggregate root.
func (o *Object) IsRoot() bool { return o.class.IsRoot() }

// Attached reports whether a child object has a parent. Roots are always attached.
func (o *Object) Attached() bool { return o.class.IsRoot() || o.parent != nil }

// Get returns a scalar attribute; nil when unset.
func (o *Object) Get(name string) any {
	return o.values[name]
}

// Set assigns a scalar attribute after checking the declared type. A nil value
// clears the attribute.
func (o *Object) Set(name string, value any) error {
	f, err := o.class.field(name, FieldValue)
	if err != nil {
		return err
	}
	if value == nil {
		delete(o.values, name)
		return nil
	}
	normalized, err := normalizeValue(f.Type, value)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", o.class.name, name, err)
	}
	o.values[name] = normalized
	return nil
}

// MustSet is Set that panics on schema violations.
func (o *Object) MustSet(name string, value any) *Object {
	if err := o.Set(name, value); err != nil {
		panic(err)
	}
	return o
}

// Parent returns the owning object of a child.
func (o *Object) Parent() *Object { return o.parent }

// Children returns a copy of a child collection.
func (o *Object) Children(name string) []*Object {
	return append([]*Object(nil), o.children[name]...)
}

// AddChild attaches child to the named collection. The child's parent link is
// set and it adopts this aggregate's shared version.
func (o *Object) AddChild(name string, child *Object) error {
	f, err := o.class.field(name, FieldChildren)
	if err != nil {
		return err
	}
	if child == nil {
		return ErrNilObject
	}
	if err := checkTarget(f, child); err != nil {
		return err
	}
	if _, ok := child.class.ParentField(); !ok {
		return fmt.Errorf("%s cannot be a child: class declares no parent field: %w", child, ErrFieldKind)
	}
	if child.parent != nil && child.parent != o {
		return fmt.Errorf("%s is already attached to %s", child, child.parent)
	}
	for _, existing := range o.children[name] {
		if existing == child {
			return nil
		}
	}
	child.parent = o
	o.children[name] = append(o.children[name], child)
	child.adoptVersion(o.version)
	return nil
}

// RemoveChild detaches child from the named collection.
func (o *Object) RemoveChild(name string, child *Object) error {
	if _, err := o.class.field(name, FieldChildren); err != nil {
		return err
	}
	list := o.children[name]
	for i, existing := range list {
		if existing == child {
			o.children[name] = append(list[:i:i], list[i+1:]...)
			child.parent = nil
			return nil
		}
	}
	return fmt.Errorf("%s is not a child of %s.%s", child, o, name)
}

// Reference returns a single-valued reference.
func (o *Object) Reference(name string) *Object { return o.refs[name] }

// SetReference points a single-valued reference at target; nil clears it.
func (o *Object) SetReference(name string, target *Object) error {
	f, err := o.class.field(name, FieldReference)
	if err != nil {
		return err
	}
	if target == nil {
		delete(o.refs, name)
		return nil
	}
	if err := checkTarget(f, target); err != nil {
		return err
	}
	o.refs[name] = target
	return nil
}

// References returns a copy of a multi-valued reference.
func (o *Object) References(name string) []*Object {
	return append([]*Object(nil), o.lists[name]...)
}

// SetReferences replaces a multi-valued reference.
func (o *Object) SetReferences(name string, targets ...*Object) error {
	f, err := o.class.field(name, FieldReferenceList)
	if err != nil {
		return err
	}
	for _, t := range targets {
		if t == nil {
			return fmt.Errorf("%s.%s: %w", o.class.name, name, ErrNilObject)
		}
		if err := checkTarget(f, t); err != nil {
			return err
		}
	}
	if len(targets) == 0 {
		delete(o.lists, name)
		return nil
	}
	o.lists[name] = append([]*Object(nil), targets...)
	return nil
}

// AppendReference adds target to a multi-valued reference.
func (o *Object) AppendReference(name string, target *Object) error {
	return o.SetReferences(name, append(o.References(name), target)...)
}

// Dependencies enumerates the objects this one references through its parent
// link, single references and each entry of its multi-valued references, in
// field declaration order.
func (o *Object) Dependencies() []Dependency {
	var deps []Dependency
	for _, f := range o.class.fields {
		switch f.Kind {
		case FieldParent:
			if o.parent != nil {
				deps = append(deps, Dependency{Field: f.Name, Target: o.parent})
			}
		case FieldReference:
			if target := o.refs[f.Name]; target != nil {
				deps = append(deps, Dependency{Field: f.Name, Target: target})
			}
		case FieldReferenceList:
			for _, target := range o.lists[f.Name] {
				deps = append(deps, Dependency{Field: f.Name, Target: target})
			}
		}
	}
	return deps
}

func (o *Object) String() string {
	if o == nil {
		return "<nil>"
	}
	if o.hasID {
		return fmt.Sprintf("%s#%d", o.class.name, o.id)
	}
	return fmt.Sprintf("%s#new(%p)", o.class.name, o)
}

func (o *Object) adoptVersion(v *SharedVersion) {
	o.version = v
	for _, list := range o.children {
		for _, child := range list {
			child.adoptVersion(v)
		}
	}
}

func checkTarget(f Field, target *Object) error {
	if f.Target != "" && target.class.name != f.Target {
		return fmt.Errorf("field %s expects %s, got %s: %w", f.Name, f.Target, target.class.name, ErrFieldKind)
	}
	return nil
}

func normalizeValue(t ValueType, v any) (any, error) {
	switch t {
	case TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case TypeInt:
		switch n := v.(type) {
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		}
	case TypeFloat:
		switch n := v.(type) {
		case float32:
			return float64(n), nil
		case float64:
			return n, nil
		}
	case TypeBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case TypeTime:
		if ts, ok := v.(time.Time); ok {
			return ts, nil
		}
	case TypeBytes:
		if b, ok := v.([]byte); ok {
			return append([]byte(nil), b...), nil
		}
	}
	return nil, fmt.Errorf("expected %s, got %T: %w", t, v, ErrValueType)
}

// NormalizeValue converts a raw value read from storage into the canonical Go
// type for t.
func NormalizeValue(t ValueType, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	return normalizeValue(t, v)
}
