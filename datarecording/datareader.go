package datarecording

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"reflect"
	"strings"
)

// QueryParams narrows a read of one table.
type QueryParams struct {
	// Where is a condition without the WHERE keyword, e.g. "Cycle > ?".
	Where string
	Args  []any

	// OrderBy lists the sort columns without the ORDER BY keywords.
	OrderBy string

	// Limit caps the number of rows. Zero reads all of them.
	Limit  int
	Offset int
}

func (q QueryParams) filter() string {
	if q.Where == "" {
		return ""
	}

	return " WHERE " + q.Where
}

func (q QueryParams) window() string {
	var b strings.Builder

	if q.OrderBy != "" {
		b.WriteString(" ORDER BY " + q.OrderBy)
	}

	if q.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d OFFSET %d", q.Limit, q.Offset)
	}

	return b.String()
}

// Reader opens a trace database read-only.
type Reader struct {
	db *sql.DB
}

// OpenReader opens the trace database at path, including its .sqlite3
// suffix.
func OpenReader(path string) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("datarecording: %w", err)
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, err
	}

	return &Reader{db: db}, nil
}

// Close releases the database.
func (r *Reader) Close() error {
	return r.db.Close()
}

// Select reads rows of table into values of T. Columns are matched to the
// fields of T by name and columns without a field are skipped. The count is
// the number of rows that satisfy q.Where, regardless of q.Limit.
func Select[T any](
	ctx context.Context,
	r *Reader,
	table string,
	q QueryParams,
) ([]T, int, error) {
	rowType := reflect.TypeOf((*T)(nil)).Elem()
	if rowType.Kind() != reflect.Struct {
		return nil, 0, fmt.Errorf("datarecording: cannot read rows into %s", rowType)
	}

	var count int

	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM "+table+q.filter(), q.Args...).Scan(&count)
	if err != nil {
		return nil, 0, fmt.Errorf("datarecording: counting %s: %w", table, err)
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT * FROM "+table+q.filter()+q.window(), q.Args...)
	if err != nil {
		return nil, 0, fmt.Errorf("datarecording: reading %s: %w", table, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, 0, err
	}

	var out []T

	for rows.Next() {
		var row T

		v := reflect.ValueOf(&row).Elem()
		dest := make([]any, len(columns))

		for i, c := range columns {
			if f := v.FieldByName(c); f.IsValid() && f.CanSet() {
				dest[i] = f.Addr().Interface()
			} else {
				dest[i] = new(any)
			}
		}

		if err := rows.Scan(dest...); err != nil {
			return nil, 0, fmt.Errorf("datarecording: reading %s: %w", table, err)
		}

		out = append(out, row)
	}

	return out, count, rows.Err()
}

// EventFilter selects exchange events. Zero fields match every event.
type EventFilter struct {
	Role  string
	Event string
	Cycle int

	Limit  int
	Offset int
}

func (f EventFilter) params() QueryParams {
	var (
		conds []string
		args  []any
	)

	if f.Role != "" {
		conds = append(conds, "Role = ?")
		args = append(args, f.Role)
	}

	if f.Event != "" {
		conds = append(conds, "Event = ?")
		args = append(args, f.Event)
	}

	if f.Cycle > 0 {
		conds = append(conds, "Cycle = ?")
		args = append(args, f.Cycle)
	}

	return QueryParams{
		Where:   strings.Join(conds, " AND "),
		Args:    args,
		OrderBy: "Seq",
		Limit:   f.Limit,
		Offset:  f.Offset,
	}
}

// Events returns the recorded exchange events in the order they happened,
// and how many events match f in total.
func (r *Reader) Events(ctx context.Context, f EventFilter) ([]Event, int, error) {
	return Select[Event](ctx, r, eventTable, f.params())
}

// BoundaryPoints returns the points of a recorded boundary in canonical
// order.
func (r *Reader) BoundaryPoints(
	ctx context.Context,
	boundaryID string,
) ([]BoundaryPoint, error) {
	points, _, err := Select[BoundaryPoint](ctx, r, boundaryTable, QueryParams{
		Where:   "BoundaryID = ?",
		Args:    []any{boundaryID},
		OrderBy: "Idx",
	})

	return points, err
}

// Properties returns what the exec recorder noted about the run.
func (r *Reader) Properties(ctx context.Context) ([]ExecProperty, error) {
	props, _, err := Select[ExecProperty](ctx, r, execTable, QueryParams{
		OrderBy: "rowid",
	})

	return props, err
}
