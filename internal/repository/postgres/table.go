package postgres

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/carecard/internal/errs"
	"github.com/and161185/carecard/internal/repository"
)

// schema describes how rows of one table map onto T.
type schema[T any] struct {
	table string
	// columns in scan order; columns[0] is the id.
	columns []string
	// generated columns are filled by the database on insert.
	generated map[string]bool
	// writable columns accepted by Update.
	writable map[string]bool
	// hidden columns may not appear in filters.
	hidden map[string]bool
	// order is the column Select sorts by, descending.
	order string

	scan   func(row pgx.Row) (T, error)
	values func(rec T) []any // values for columns, in order
	id     func(rec *T) *string
}

// Table implements repository.Table for one collection.
type Table[T any] struct {
	db    *DB
	s     schema[T]
	newID func() (string, error)
}

var _ repository.Table[struct{}] = (*Table[struct{}])(nil)

func newTable[T any](db *DB, s schema[T]) *Table[T] {
	return &Table[T]{db: db, s: s, newID: newUUID}
}

func newUUID() (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Select returns rows matching f, newest first.
func (t *Table[T]) Select(ctx context.Context, f repository.Filter) ([]T, error) {
	keys, err := t.checkColumns(f, func(c string) bool { return t.has(c) && !t.s.hidden[c] })
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", strings.Join(t.s.columns, ", "), t.s.table)
	args := make([]any, 0, len(keys))
	for i, k := range keys {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		args = append(args, f[k])
		fmt.Fprintf(&b, "%s=$%d", k, len(args))
	}
	fmt.Fprintf(&b, " ORDER BY %s DESC", t.s.order)

	rows, err := t.db.Pool.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		rec, err := t.s.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Insert stores rec and returns the row as the database holds it.
func (t *Table[T]) Insert(ctx context.Context, rec T) (T, error) {
	var zero T
	if id := t.s.id(&rec); *id == "" {
		gen, err := t.newID()
		if err != nil {
			return zero, err
		}
		*id = gen
	}

	vals := t.s.values(rec)
	cols := make([]string, 0, len(t.s.columns))
	args := make([]any, 0, len(t.s.columns))
	marks := make([]string, 0, len(t.s.columns))
	for i, c := range t.s.columns {
		if t.s.generated[c] {
			continue
		}
		cols = append(cols, c)
		args = append(args, vals[i])
		marks = append(marks, fmt.Sprintf("$%d", len(args)))
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		t.s.table, strings.Join(cols, ", "), strings.Join(marks, ", "), strings.Join(t.s.columns, ", "))

	out, err := t.s.scan(t.db.Pool.QueryRow(ctx, q, args...))
	if err != nil {
		if isUniqueViolation(err) {
			return zero, fmt.Errorf("%s: %w", t.s.table, errs.ErrAlreadyExists)
		}
		return zero, err
	}
	return out, nil
}

// Update sets the columns in partial on the row with id.
func (t *Table[T]) Update(ctx context.Context, id string, partial map[string]any) error {
	if id == "" || len(partial) == 0 {
		return fmt.Errorf("update %s: empty id or no columns: %w", t.s.table, errs.ErrInvalidArgument)
	}
	keys, err := t.checkColumns(partial, func(c string) bool { return t.s.writable[c] })
	if err != nil {
		return err
	}
	sets := make([]string, 0, len(keys))
	args := []any{id}
	for _, k := range keys {
		args = append(args, partial[k])
		sets = append(sets, fmt.Sprintf("%s=$%d", k, len(args)))
	}
	q := fmt.Sprintf("UPDATE %s SET %s WHERE %s=$1", t.s.table, strings.Join(sets, ", "), t.s.columns[0])

	tag, err := t.db.Pool.Exec(ctx, q, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", t.s.table, errs.ErrAlreadyExists)
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Delete removes the row with id.
func (t *Table[T]) Delete(ctx context.Context, id string) error {
	q := fmt.Sprintf("DELETE FROM %s WHERE %s=$1", t.s.table, t.s.columns[0])
	tag, err := t.db.Pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

func (t *Table[T]) has(col string) bool {
	for _, c := range t.s.columns {
		if c == col {
			return true
		}
	}
	return false
}

// checkColumns returns the keys of m sorted, or ErrInvalidArgument naming the first rejected one.
func (t *Table[T]) checkColumns(m map[string]any, ok func(string) bool) ([]string, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !ok(k) {
			return nil, fmt.Errorf("%s.%s: %w", t.s.table, k, errs.ErrInvalidArgument)
		}
	}
	return keys, nil
}
