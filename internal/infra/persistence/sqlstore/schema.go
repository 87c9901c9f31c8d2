package sqlstore

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"unitofwork/pkg/domain"
)

const versionTable = "shared_versions"

// column maps one non-parent field of a class to its table column.
type column struct {
	name  string
	field domain.Field
}

type layout struct {
	class   *domain.Class
	columns []column
}

func layoutOf(class *domain.Class) layout {
	l := layout{class: class}
	for _, f := range class.Fields() {
		switch f.Kind {
		case domain.FieldValue:
			l.columns = append(l.columns, column{name: f.Name, field: f})
		case domain.FieldReference:
			l.columns = append(l.columns, column{name: f.Name + "_id", field: f})
		case domain.FieldReferenceList:
			l.columns = append(l.columns, column{name: f.Name + "_ids", field: f})
		}
	}
	return l
}

func (l layout) column(field string) (column, bool) {
	for _, c := range l.columns {
		if c.field.Name == field {
			return c, true
		}
	}
	return column{}, false
}

// selectList is the column list used by Fetch, fixed columns first.
func (l layout) selectList() string {
	names := []string{"id", "version_id", "parent_id", "active"}
	for _, c := range l.columns {
		names = append(names, c.name)
	}
	return strings.Join(names, ", ")
}

func versionTableDDL(d Dialect) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	%s,
	version BIGINT NOT NULL,
	created_at BIGINT NOT NULL,
	locked_by TEXT NOT NULL DEFAULT '',
	locked_at BIGINT NOT NULL DEFAULT 0
)`, versionTable, d.IDColumn)
}

func classTableDDL(d Dialect, l layout) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n\t%s,\n", l.class.Table(), d.IDColumn)
	b.WriteString("\tversion_id BIGINT,\n\tparent_id BIGINT,\n")
	fmt.Fprintf(&b, "\tactive %s NOT NULL", d.boolean)
	for _, c := range l.columns {
		switch c.field.Kind {
		case domain.FieldValue:
			fmt.Fprintf(&b, ",\n\t%s %s", c.name, d.ColumnType(c.field.Type))
		case domain.FieldReference:
			fmt.Fprintf(&b, ",\n\t%s BIGINT", c.name)
		case domain.FieldReferenceList:
			fmt.Fprintf(&b, ",\n\t%s TEXT", c.name)
		}
	}
	b.WriteString("\n)")
	return b.String()
}

// Statements returns the DDL that EnsureSchema applies for classes.
func Statements(d Dialect, classes ...*domain.Class) []string {
	out := []string{versionTableDDL(d)}
	for _, class := range classes {
		out = append(out, classTableDDL(d, layoutOf(class)))
	}
	return out
}

func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}

func encodeTime(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func decodeTime(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// encode converts the value stored in a Record for column c into a driver
// argument.
func encode(c column, rec domain.Record) (any, error) {
	switch c.field.Kind {
	case domain.FieldReference:
		return nullableID(rec.Refs[c.field.Name]), nil
	case domain.FieldReferenceList:
		ids := rec.RefLists[c.field.Name]
		if len(ids) == 0 {
			return nil, nil
		}
		raw, err := json.Marshal(ids)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", c.name, err)
		}
		return string(raw), nil
	}
	v := rec.Values[c.field.Name]
	switch tv := v.(type) {
	case nil:
		return nil, nil
	case time.Time:
		return encodeTime(tv), nil
	default:
		return v, nil
	}
}

// decode stores a scanned column value into rec.
func decode(c column, raw any, rec *domain.Record) error {
	if raw == nil {
		return nil
	}
	switch c.field.Kind {
	case domain.FieldReference:
		id, err := asInt(raw)
		if err != nil {
			return fmt.Errorf("decode %s: %w", c.name, err)
		}
		if id != 0 {
			if rec.Refs == nil {
				rec.Refs = make(map[string]int64)
			}
			rec.Refs[c.field.Name] = id
		}
		return nil
	case domain.FieldReferenceList:
		var ids []int64
		if err := json.Unmarshal(asBytes(raw), &ids); err != nil {
			return fmt.Errorf("decode %s: %w", c.name, err)
		}
		if len(ids) > 0 {
			if rec.RefLists == nil {
				rec.RefLists = make(map[string][]int64)
			}
			rec.RefLists[c.field.Name] = ids
		}
		return nil
	}
	v, err := decodeValue(c.field.Type, raw)
	if err != nil {
		return fmt.Errorf("decode %s: %w", c.name, err)
	}
	if rec.Values == nil {
		rec.Values = make(map[string]any)
	}
	rec.Values[c.field.Name] = v
	return nil
}

func decodeValue(t domain.ValueType, raw any) (any, error) {
	switch t {
	case domain.TypeString:
		return string(asBytes(raw)), nil
	case domain.TypeBytes:
		return append([]byte(nil), asBytes(raw)...), nil
	case domain.TypeBool:
		return asBool(raw)
	case domain.TypeTime:
		n, err := asInt(raw)
		if err != nil {
			return nil, err
		}
		return decodeTime(n), nil
	case domain.TypeFloat:
		switch n := raw.(type) {
		case float64:
			return n, nil
		case int64:
			return float64(n), nil
		}
	}
	return domain.NormalizeValue(t, raw)
}

func asInt(raw any) (int64, error) {
	switch n := raw.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	}
	return 0, fmt.Errorf("unexpected integer column type %T", raw)
}

func asBool(raw any) (bool, error) {
	switch b := raw.(type) {
	case bool:
		return b, nil
	case int64:
		return b != 0, nil
	}
	return false, fmt.Errorf("unexpected boolean column type %T", raw)
}

func asBytes(raw any) []byte {
	switch v := raw.(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	}
	return []byte(fmt.Sprint(raw))
}
