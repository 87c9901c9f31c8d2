package domain

import (
	"strings"
	"testing"
)

func TestNewClassValidation(t *testing.T) {
	cases := []struct {
		name   string
		class  string
		fields []Field
		want   string
	}{
		{"empty name", " ", nil, "class name required"},
		{"bad field name", "Thing", []Field{Value("Title", TypeString)}, "invalid field name"},
		{"reserved column", "Thing", []Field{Value("active", TypeBool)}, "reserved"},
		{"duplicate", "Thing", []Field{Value("a", TypeString), Value("a", TypeInt)}, "duplicate field"},
		{"missing type", "Thing", []Field{{Name: "a", Kind: FieldValue}}, "no value type"},
		{"two parents", "Thing", []Field{Parent("a", "X"), Parent("b", "Y")}, "more than one parent"},
		{"unknown kind", "Thing", []Field{{Name: "a", Kind: 42}}, "unknown kind"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewClass(tc.class, tc.fields...)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestClassDescriptor(t *testing.T) {
	c := MustClass("LineItem",
		Parent("order", "Order"),
		Value("sku", TypeString),
		Reference("product", "Product"),
		ReferenceList("tags", "Tag"),
		Children("notes", "Note"),
	)
	if c.Name() != "LineItem" || c.Table() != "line_items" || c.String() != "LineItem" {
		t.Fatalf("unexpected naming %s / %s", c.Name(), c.Table())
	}
	if c.IsRoot() {
		t.Fatalf("class with a parent field is not a root")
	}
	if f, ok := c.ParentField(); !ok || f.Name != "order" {
		t.Fatalf("unexpected parent field %+v", f)
	}
	if got := c.FieldsOf(FieldValue); len(got) != 1 || got[0].Name != "sku" {
		t.Fatalf("unexpected value fields %+v", got)
	}
	fields := c.Fields()
	fields[0].Name = "mutated"
	if f, _ := c.Field("order"); f.Kind != FieldParent {
		t.Fatalf("Fields must return a copy")
	}
	if _, err := c.field("sku", FieldReference); err == nil {
		t.Fatalf("expected kind mismatch")
	}
	if _, err := c.field("nope", FieldValue); err == nil {
		t.Fatalf("expected unknown field")
	}
	defer func() {
		if recover() == nil {
			t.Fatalf("expected MustClass to panic")
		}
	}()
	MustClass("")
}

func TestEnumStrings(t *testing.T) {
	if FieldReferenceList.String() != "reference_list" || FieldKind(99).String() != "kind(99)" {
		t.Fatalf("unexpected field kind strings")
	}
	if TypeTime.String() != "time" || ValueType(0).String() != "type(0)" {
		t.Fatalf("unexpected value type strings")
	}
	for _, s := range States {
		if !s.Valid() || strings.HasPrefix(s.String(), "state(") {
			t.Fatalf("state %d should be valid and named", s)
		}
	}
	if State(0).Valid() || State(9).String() != "state(9)" {
		t.Fatalf("unexpected invalid state handling")
	}
}
