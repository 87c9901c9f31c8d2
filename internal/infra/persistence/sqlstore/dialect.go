// Package sqlstore implements the domain backend on database/sql. Each class
// maps to one table; shared versions live in their own table. Driver specifics
// are isolated in Dialect so the sqlite and postgres packages only differ in
// how they open the database.
package sqlstore

import (
	"strconv"
	"strings"

	"unitofwork/pkg/domain"
)

// Dialect captures the SQL differences between supported engines.
type Dialect struct {
	Name string
	// IDColumn is the full column definition of an auto-assigned primary key.
	IDColumn string
	// Numbered placeholders ($1, $2) instead of ?.
	Numbered bool
	// RowLock is appended to reads that must hold the row until commit.
	RowLock string
	types   map[domain.ValueType]string
	boolean string
}

// SQLite is the dialect for modernc.org/sqlite.
var SQLite = Dialect{
	Name:     "sqlite",
	IDColumn: "id INTEGER PRIMARY KEY AUTOINCREMENT",
	types: map[domain.ValueType]string{
		domain.TypeString: "TEXT",
		domain.TypeInt:    "INTEGER",
		domain.TypeFloat:  "REAL",
		domain.TypeBool:   "INTEGER",
		domain.TypeTime:   "INTEGER",
		domain.TypeBytes:  "BLOB",
	},
	boolean: "INTEGER",
}

// Postgres is the dialect for the pgx database/sql driver.
var Postgres = Dialect{
	Name:     "postgres",
	IDColumn: "id BIGSERIAL PRIMARY KEY",
	Numbered: true,
	RowLock:  " FOR UPDATE",
	types: map[domain.ValueType]string{
		domain.TypeString: "TEXT",
		domain.TypeInt:    "BIGINT",
		domain.TypeFloat:  "DOUBLE PRECISION",
		domain.TypeBool:   "BOOLEAN",
		domain.TypeTime:   "BIGINT",
		domain.TypeBytes:  "BYTEA",
	},
	boolean: "BOOLEAN",
}

// ColumnType returns the column type used for values of t.
func (d Dialect) ColumnType(t domain.ValueType) string {
	if ct, ok := d.types[t]; ok {
		return ct
	}
	return "TEXT"
}

// Rebind rewrites ? placeholders for dialects with numbered parameters.
func (d Dialect) Rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
