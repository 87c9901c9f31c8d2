package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// FieldKind classifies how a field participates in the object graph. The set is
// closed and resolved once per class.
type FieldKind uint8

const (
	// FieldValue holds a scalar attribute.
	FieldValue FieldKind = iota + 1
	// FieldParent links a child object to the object that owns it.
	FieldParent
	// FieldReference points at a single object, usually in another aggregate.
	FieldReference
	// FieldReferenceList points at several objects.
	FieldReferenceList
	// FieldChildren holds objects owned by this one.
	FieldChildren
)

func (k FieldKind) String() string {
	switch k {
	case FieldValue:
		return "value"
	case FieldParent:
		return "parent"
	case FieldReference:
		return "reference"
	case FieldReferenceList:
		return "reference_list"
	case FieldChildren:
		return "children"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ValueType is the scalar type of a FieldValue field.
type ValueType uint8

// Supported scalar types. Set converts plain ints to int64.
const (
	TypeString ValueType = iota + 1 // string
	TypeInt                         // int64
	TypeFloat                       // float64
	TypeBool                        // bool
	TypeTime                        // time.Time
	TypeBytes                       // []byte
)

func (t ValueType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	case TypeTime:
		return "time"
	case TypeBytes:
		return "bytes"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Field describes one declared field of a class.
type Field struct {
	Name string
	Kind FieldKind
	// Type is set for FieldValue only.
	Type ValueType
	// Target optionally restricts linked objects to a class name.
	Target string
}

// Value declares a scalar attribute.
func Value(name string, t ValueType) Field { return Field{Name: name, Kind: FieldValue, Type: t} }

// Parent declares the link to the owning object.
func Parent(name, target string) Field { return Field{Name: name, Kind: FieldParent, Target: target} }

// Reference declares a single-valued reference.
func Reference(name, target string) Field {
	return Field{Name: name, Kind: FieldReference, Target: target}
}

// ReferenceList declares a multi-valued reference.
func ReferenceList(name, target string) Field {
	return Field{Name: name, Kind: FieldReferenceList, Target: target}
}

// Children declares an owned child collection.
func Children(name, target string) Field {
	return Field{Name: name, Kind: FieldChildren, Target: target}
}

var identifierPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

var reservedColumns = map[string]struct{}{
	"id": {}, "version_id": {}, "parent_id": {}, "active": {},
}

// Class is the per-type descriptor produced by the schema layer. It is
// immutable after construction.
type Class struct {
	name   string
	table  string
	fields []Field
	index  map[string]int
	parent int
}

// NewClass validates and builds a class descriptor. Field names must be lower
// snake case since the SQL stores derive column names from them.
func NewClass(name string, fields ...Field) (*Class, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("class name required")
	}
	c := &Class{
		name:   name,
		table:  tableName(name),
		fields: make([]Field, 0, len(fields)),
		index:  make(map[string]int, len(fields)),
		parent: -1,
	}
	for _, f := range fields {
		if !identifierPattern.MatchString(f.Name) {
			return nil, fmt.Errorf("class %s: invalid field name %q", name, f.Name)
		}
		if _, reserved := reservedColumns[f.Name]; reserved {
			return nil, fmt.Errorf("class %s: field name %q is reserved", name, f.Name)
		}
		if _, dup := c.index[f.Name]; dup {
			return nil, fmt.Errorf("class %s: duplicate field %q", name, f.Name)
		}
		switch f.Kind {
		case FieldValue:
			if f.Type < TypeString || f.Type > TypeBytes {
				return nil, fmt.Errorf("class %s: field %s has no value type", name, f.Name)
			}
		case FieldParent:
			if c.parent >= 0 {
				return nil, fmt.Errorf("class %s: more than one parent field", name)
			}
			c.parent = len(c.fields)
		case FieldReference, FieldReferenceList, FieldChildren:
		default:
			return nil, fmt.Errorf("class %s: field %s has unknown kind %d", name, f.Name, f.Kind)
		}
		c.index[f.Name] = len(c.fields)
		c.fields = append(c.fields, f)
	}
	return c, nil
}

// MustClass is NewClass that panics on invalid declarations. Intended for
// package-level class variables.
func MustClass(name string, fields ...Field) *Class {
	c, err := NewClass(name, fields...)
	if err != nil {
		panic(err)
	}
	return c
}

// Name returns the class name.
func (c *Class) Name() string { return c.name }

// Table returns the table name used by SQL stores.
func (c *Class) Table() string { return c.table }

// Fields returns the declared fields in declaration order.
func (c *Class) Fields() []Field {
	return append([]Field(nil), c.fields...)
}

// FieldsOf returns the fields of the given kind in declaration order.
func (c *Class) FieldsOf(kind FieldKind) []Field {
	var out []Field
	for _, f := range c.fields {
		if f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}

// Field looks up a field by name.
func (c *Class) Field(name string) (Field, bool) {
	i, ok := c.index[name]
	if !ok {
		return Field{}, false
	}
	return c.fields[i], true
}

// ParentField returns the parent field of a child class.
func (c *Class) ParentField() (Field, bool) {
	if c.parent < 0 {
		return Field{}, false
	}
	return c.fields[c.parent], true
}

// IsRoot reports whether objects of this class are aggregate roots.
func (c *Class) IsRoot() bool { return c.parent < 0 }

func (c *Class) String() string { return c.name }

func (c *Class) field(name string, kind FieldKind) (Field, error) {
	f, ok := c.Field(name)
	if !ok {
		return Field{}, fmt.Errorf("%s.%s: %w", c.name, name, ErrUnknownField)
	}
	if f.Kind != kind {
		return Field{}, fmt.Errorf("%s.%s is %s, not %s: %w", c.name, name, f.Kind, kind, ErrFieldKind)
	}
	return f, nil
}

func tableName(name string) string {
	var b strings.Builder
	for i, r := range name {
		switch {
		case r >= 'A' && r <= 'Z':
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r + ('a' - 'A'))
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String() + "s"
}
