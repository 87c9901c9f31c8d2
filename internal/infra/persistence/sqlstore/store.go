package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"unitofwork/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain backend.
var _ domain.Backend = (*Store)(nil)

// Store maps objects onto per-class tables through database/sql.
type Store struct {
	db      *sql.DB
	dialect Dialect
	classes []*domain.Class
	layouts map[string]layout
}

// New wraps db for the given classes. It does not touch the database; call
// EnsureSchema to create missing tables.
func New(db *sql.DB, dialect Dialect, classes ...*domain.Class) (*Store, error) {
	if db == nil {
		return nil, errors.New("sqlstore: nil database")
	}
	s := &Store{db: db, dialect: dialect, layouts: make(map[string]layout, len(classes))}
	for _, class := range classes {
		if class == nil {
			return nil, errors.New("sqlstore: nil class")
		}
		if _, dup := s.layouts[class.Name()]; dup {
			return nil, fmt.Errorf("sqlstore: class %s registered twice", class.Name())
		}
		s.layouts[class.Name()] = layoutOf(class)
		s.classes = append(s.classes, class)
	}
	return s, nil
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect returns the dialect the store was built with.
func (s *Store) Dialect() Dialect { return s.dialect }

// Classes lists the mapped classes in registration order.
func (s *Store) Classes() []*domain.Class {
	return append([]*domain.Class(nil), s.classes...)
}

// EnsureSchema creates the version table and one table per class when absent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.InTransaction(ctx, func(ctx context.Context) error {
		q := s.conn(ctx)
		for _, stmt := range Statements(s.dialect, s.classes...) {
			if _, err := q.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("execute ddl: %w", err)
			}
		}
		return nil
	})
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

type txState struct {
	store *Store
	tx    *sql.Tx
}

func (s *Store) active(ctx context.Context) *sql.Tx {
	st, ok := ctx.Value(txKey{}).(*txState)
	if !ok || st.store != s {
		return nil
	}
	return st.tx
}

func (s *Store) conn(ctx context.Context) querier {
	if tx := s.active(ctx); tx != nil {
		return tx
	}
	return s.db
}

// InTransaction runs fn inside a database transaction carried by the context
// passed to fn. Nested calls with that context join the outer transaction.
func (s *Store) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.active(ctx) != nil {
		return fn(ctx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(context.WithValue(ctx, txKey{}, &txState{store: s, tx: tx})); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// write runs fn inside the active transaction or a fresh one.
func (s *Store) write(ctx context.Context, fn func(ctx context.Context, q querier) error) error {
	return s.InTransaction(ctx, func(ctx context.Context) error {
		return fn(ctx, s.conn(ctx))
	})
}

func (s *Store) layout(class *domain.Class) (layout, error) {
	l, ok := s.layouts[class.Name()]
	if !ok || l.class != class {
		return layout{}, fmt.Errorf("sqlstore: class %s is not mapped", class.Name())
	}
	return l, nil
}

// Insert writes a new row for obj and assigns the generated id. Roots persist
// their shared version first.
func (s *Store) Insert(ctx context.Context, obj *domain.Object) error {
	if obj == nil {
		return domain.ErrNilObject
	}
	if obj.HasID() {
		return fmt.Errorf("insert %s: %w", obj, domain.ErrHasIdentity)
	}
	l, err := s.layout(obj.Class())
	if err != nil {
		return err
	}
	return s.write(ctx, func(ctx context.Context, q querier) error {
		if v := obj.Version(); obj.IsRoot() && v != nil {
			if err := v.Persist(ctx, s); err != nil {
				return err
			}
		}
		rec := obj.Record()
		cols := []string{"version_id", "parent_id", "active"}
		args := []any{nullableID(rec.VersionID), nullableID(rec.ParentID), true}
		for _, c := range l.columns {
			arg, err := encode(c, rec)
			if err != nil {
				return err
			}
			if arg == nil {
				continue
			}
			cols = append(cols, c.name)
			args = append(args, arg)
		}
		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
			l.class.Table(), strings.Join(cols, ", "), placeholders(len(cols)))
		var id int64
		if err := q.QueryRowContext(ctx, s.dialect.Rebind(query), args...).Scan(&id); err != nil {
			return fmt.Errorf("insert %s: %w", l.class.Table(), err)
		}
		return obj.SetID(id)
	})
}

// Update writes the columns whose fields differ from previous and advances
// the aggregate's shared version.
func (s *Store) Update(ctx context.Context, current *domain.Object, previous *domain.Snapshot) error {
	if current == nil {
		return domain.ErrNilObject
	}
	id, ok := current.ID()
	if !ok {
		return fmt.Errorf("update %s: %w", current, domain.ErrMissingIdentity)
	}
	l, err := s.layout(current.Class())
	if err != nil {
		return err
	}
	diff := domain.Diff(previous, current)
	if diff.Empty() {
		return nil
	}
	rec := current.Record()
	var sets []string
	var args []any
	parent, _ := l.class.ParentField()
	for _, name := range diff.Fields() {
		if name == parent.Name && parent.Kind == domain.FieldParent {
			sets = append(sets, "parent_id = ?")
			args = append(args, nullableID(rec.ParentID))
			continue
		}
		c, ok := l.column(name)
		if !ok {
			continue
		}
		arg, err := encode(c, rec)
		if err != nil {
			return err
		}
		sets = append(sets, c.name+" = ?")
		args = append(args, arg)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id, true)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ? AND active = ?", l.class.Table(), strings.Join(sets, ", "))
	return s.write(ctx, func(ctx context.Context, q querier) error {
		if err := s.execOne(ctx, q, query, args, l.class, id); err != nil {
			return err
		}
		return s.advance(ctx, current)
	})
}

// Delete marks the row for obj inactive and advances the shared version.
func (s *Store) Delete(ctx context.Context, obj *domain.Object) error {
	if obj == nil {
		return domain.ErrNilObject
	}
	id, ok := obj.ID()
	if !ok {
		return fmt.Errorf("delete %s: %w", obj, domain.ErrMissingIdentity)
	}
	l, err := s.layout(obj.Class())
	if err != nil {
		return err
	}
	query := fmt.Sprintf("UPDATE %s SET active = ? WHERE id = ? AND active = ?", l.class.Table())
	return s.write(ctx, func(ctx context.Context, q querier) error {
		if err := s.execOne(ctx, q, query, []any{false, id, true}, l.class, id); err != nil {
			return err
		}
		return s.advance(ctx, obj)
	})
}

func (s *Store) execOne(ctx context.Context, q querier, query string, args []any, class *domain.Class, id int64) error {
	res, err := q.ExecContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("write %s %d: %w", class.Table(), id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("write %s %d: %w", class.Table(), id, err)
	}
	if n == 0 {
		return &domain.NotFoundError{Class: class.Name(), ID: id}
	}
	return nil
}

func (s *Store) advance(ctx context.Context, obj *domain.Object) error {
	v := obj.Version()
	if v == nil {
		return fmt.Errorf("%s: no shared version", obj)
	}
	return v.IncrementPersisted(ctx, s)
}

// Fetch returns the active row of class with id.
func (s *Store) Fetch(ctx context.Context, class *domain.Class, id int64) (domain.Record, error) {
	l, err := s.layout(class)
	if err != nil {
		return domain.Record{}, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", l.selectList(), class.Table())
	raw := make([]any, 4+len(l.columns))
	dest := make([]any, len(raw))
	for i := range raw {
		dest[i] = &raw[i]
	}
	err = s.conn(ctx).QueryRowContext(ctx, s.dialect.Rebind(query), id).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Record{}, &domain.NotFoundError{Class: class.Name(), ID: id}
	}
	if err != nil {
		return domain.Record{}, fmt.Errorf("fetch %s %d: %w", class.Table(), id, err)
	}
	active, err := asBool(raw[3])
	if err != nil {
		return domain.Record{}, fmt.Errorf("fetch %s %d: %w", class.Table(), id, err)
	}
	if !active {
		return domain.Record{}, &domain.NotFoundError{Class: class.Name(), ID: id}
	}
	rec := domain.Record{Class: class.Name(), ID: id, Active: true}
	if raw[1] != nil {
		if rec.VersionID, err = asInt(raw[1]); err != nil {
			return domain.Record{}, err
		}
	}
	if raw[2] != nil {
		if rec.ParentID, err = asInt(raw[2]); err != nil {
			return domain.Record{}, err
		}
	}
	for i, c := range l.columns {
		if err := decode(c, raw[4+i], &rec); err != nil {
			return domain.Record{}, err
		}
	}
	return rec, nil
}

// InsertVersion stores a new shared version row.
func (s *Store) InsertVersion(ctx context.Context, state domain.VersionState) (int64, error) {
	var id int64
	err := s.write(ctx, func(ctx context.Context, q querier) error {
		query := "INSERT INTO " + versionTable + " (version, created_at, locked_by, locked_at) VALUES (?, ?, ?, ?) RETURNING id"
		return q.QueryRowContext(ctx, s.dialect.Rebind(query),
			state.Version, encodeTime(state.CreatedAt), state.LockedBy, encodeTime(state.LockedAt)).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("insert %s: %w", versionTable, err)
	}
	return id, nil
}

// AdvanceVersion writes next when the row is still at expected and is not
// locked by anyone other than holder.
func (s *Store) AdvanceVersion(ctx context.Context, id, expected int64, next domain.VersionState, holder string) (bool, error) {
	query := "UPDATE " + versionTable + " SET version = ?, created_at = ? WHERE id = ? AND version = ? AND (locked_by = '' OR locked_by = ?)"
	return s.conditional(ctx, id, query, next.Version, encodeTime(next.CreatedAt), id, expected, holder)
}

// LockVersion sets holder on an unlocked row or one already held by holder.
func (s *Store) LockVersion(ctx context.Context, id int64, holder string, at time.Time) (bool, error) {
	query := "UPDATE " + versionTable + " SET locked_by = ?, locked_at = ? WHERE id = ? AND (locked_by = '' OR locked_by = ?)"
	return s.conditional(ctx, id, query, holder, encodeTime(at), id, holder)
}

// UnlockVersion clears the holder when it matches.
func (s *Store) UnlockVersion(ctx context.Context, id int64, holder string) (bool, error) {
	query := "UPDATE " + versionTable + " SET locked_by = '', locked_at = 0 WHERE id = ? AND locked_by = ?"
	return s.conditional(ctx, id, query, id, holder)
}

// conditional locks the version row with LoadVersion, then runs the gated
// UPDATE in the same database transaction. A missing row reports false.
func (s *Store) conditional(ctx context.Context, id int64, query string, args ...any) (bool, error) {
	var n int64
	err := s.write(ctx, func(ctx context.Context, q querier) error {
		if _, err := s.LoadVersion(ctx, id); err != nil {
			if domain.IsNotFound(err) {
				return nil
			}
			return err
		}
		res, err := q.ExecContext(ctx, s.dialect.Rebind(query), args...)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return false, fmt.Errorf("update %s: %w", versionTable, err)
	}
	return n == 1, nil
}

// LoadVersion reads a shared version row. Inside a transaction the row stays
// locked until commit on dialects that support it.
func (s *Store) LoadVersion(ctx context.Context, id int64) (domain.VersionState, error) {
	query := "SELECT id, version, created_at, locked_by, locked_at FROM " + versionTable + " WHERE id = ?"
	if s.active(ctx) != nil {
		query += s.dialect.RowLock
	}
	var (
		state             domain.VersionState
		created, lockedAt int64
	)
	err := s.conn(ctx).QueryRowContext(ctx, s.dialect.Rebind(query), id).
		Scan(&state.ID, &state.Version, &created, &state.LockedBy, &lockedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.VersionState{}, &domain.NotFoundError{Class: versionTable, ID: id}
	}
	if err != nil {
		return domain.VersionState{}, fmt.Errorf("load %s %d: %w", versionTable, id, err)
	}
	state.CreatedAt = decodeTime(created)
	state.LockedAt = decodeTime(lockedAt)
	return state, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
