package query

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Abd0M0hamed/jsdb/internal/jsondb"
)

// DefaultLimit is the limit recorded on a new Query.
const DefaultLimit = 100

// Policy reports which tables the query layer refuses to touch.
type Policy interface {
	IsReadProtected(table string) bool
	IsWriteProtected(table string) bool
}

// DB runs queries against a store.
type DB struct {
	store  *jsondb.Store
	policy Policy
	eval   Evaluator
}

// New returns a DB. policy may be nil, in which case only the metadata table
// is protected.
func New(store *jsondb.Store, policy Policy, eval Evaluator) *DB {
	return &DB{store: store, policy: policy, eval: eval}
}

// Store returns the underlying store.
func (db *DB) Store() *jsondb.Store {
	return db.store
}

// Table starts a new query on table.
func (db *DB) Table(name string) *Query {
	return &Query{db: db, table: name, limit: DefaultLimit}
}

func (db *DB) readProtected(table string) bool {
	return table == jsondb.CoreTable || (db.policy != nil && db.policy.IsReadProtected(table))
}

func (db *DB) writeProtected(table string) bool {
	return table == jsondb.CoreTable || (db.policy != nil && db.policy.IsWriteProtected(table))
}

// Query is a single-use builder. Errors raised while building are reported
// by the terminal method (Select, Insert, Update or Delete).
type Query struct {
	db      *DB
	table   string
	columns []string
	where   []WhereClause
	limit   int
	err     error
}

// Result is the output of Select.
type Result struct {
	// Items is the single matching row when exactly one row matched, else the
	// list of rows.
	Items      any `json:"items"`
	ItemsCount int `json:"itemsCount"`

	rows []jsondb.Row
}

// Rows returns the matching rows as a list regardless of the unwrap.
func (r *Result) Rows() []jsondb.Row {
	return r.rows
}

func newResult(rows []jsondb.Row) *Result {
	if rows == nil {
		rows = []jsondb.Row{}
	}
	r := &Result{ItemsCount: len(rows), rows: rows}
	if len(rows) == 1 {
		r.Items = rows[0]
	} else {
		r.Items = rows
	}
	return r
}

// Columns restricts the columns returned by Select.
func (q *Query) Columns(cols ...string) *Query {
	q.columns = append(q.columns, cols...)
	return q
}

// Where adds a clause. It takes (column, operator, value) or
// (join, column, operator, value). The first clause must use the three
// argument form; later three argument clauses are joined with "and".
func (q *Query) Where(args ...any) *Query {
	if q.err != nil {
		return q
	}
	first := len(q.where) == 0
	if first && len(args) != 3 {
		q.err = fmt.Errorf("%w: first clause takes 3 arguments, got %d", ErrInvalidClause, len(args))
		return q
	}
	c := WhereClause{Join: JoinAnd}
	switch len(args) {
	case 3:
	case 4:
		j, ok := args[0].(string)
		if !ok {
			q.err = fmt.Errorf("%w: join must be a string, got %T", ErrInvalidClause, args[0])
			return q
		}
		c.Join = Join(strings.ToLower(strings.TrimSpace(j)))
		if c.Join != JoinAnd && c.Join != JoinOr {
			q.err = fmt.Errorf("%w: unknown join %q", ErrInvalidClause, j)
			return q
		}
		args = args[1:]
	default:
		q.err = fmt.Errorf("%w: takes 3 or 4 arguments, got %d", ErrInvalidClause, len(args))
		return q
	}
	col, ok := args[0].(string)
	if !ok {
		q.err = fmt.Errorf("%w: column must be a string, got %T", ErrInvalidClause, args[0])
		return q
	}
	op, ok := args[1].(string)
	if !ok {
		q.err = fmt.Errorf("%w: operator must be a string, got %T", ErrInvalidOperator, args[1])
		return q
	}
	c.Column = strings.TrimSpace(col)
	c.Operator = Operator(strings.TrimSpace(op))
	c.Value = args[2]
	if first {
		c.Join = JoinNone
	}
	q.where = append(q.where, c)
	return q
}

// Limit records the maximum number of rows. It is not enforced.
func (q *Query) Limit(n int) *Query {
	q.limit = n
	return q
}

// Clauses returns the clauses added so far.
func (q *Query) Clauses() []WhereClause {
	return q.where
}

func (q *Query) match(row jsondb.Row) (bool, error) {
	if len(q.where) == 0 {
		return true, nil
	}
	return q.db.eval.Evaluate(row, q.where)
}

func (q *Query) project(row jsondb.Row) jsondb.Row {
	if len(q.columns) == 0 {
		return row
	}
	out := make(jsondb.Row, len(q.columns))
	for _, c := range q.columns {
		if v, ok := row[c]; ok {
			out[c] = v
		}
	}
	return out
}

func (q *Query) checkWrite() error {
	if q.err != nil {
		return q.err
	}
	if q.db.writeProtected(q.table) {
		return fmt.Errorf("%w: %s is write protected", ErrProtectedTable, q.table)
	}
	return nil
}

// Select returns the matching rows.
func (q *Query) Select(ctx context.Context) (*Result, error) {
	if q.err != nil {
		return nil, q.err
	}
	if q.db.readProtected(q.table) {
		return nil, fmt.Errorf("%w: %s is read protected", ErrProtectedTable, q.table)
	}
	db, err := q.db.store.Load()
	if err != nil {
		return nil, err
	}
	rows, ok := db[q.table]
	if !ok {
		return newResult(nil), nil
	}
	out := make([]jsondb.Row, 0, len(rows))
	for _, row := range rows {
		ok, err := q.match(row)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, q.project(row))
		}
	}
	slog.DebugContext(ctx, "Selected", "table", q.table, "clauses", len(q.where), "rows", len(out), "limit", q.limit)
	return newResult(out), nil
}

// Insert appends values as a new row, creating the table when needed.
func (q *Query) Insert(ctx context.Context, values jsondb.Row) error {
	if err := q.checkWrite(); err != nil {
		return err
	}
	row := values.Clone()
	if row == nil {
		row = jsondb.Row{}
	}
	ctx = jsondb.WithReason(ctx, "insert "+q.table)
	return q.db.store.Update(ctx, func(db jsondb.Database) (bool, error) {
		db[q.table] = append(db[q.table], row)
		return true, nil
	})
}

// Update merges values into every matching row. It returns false when the
// table does not exist.
func (q *Query) Update(ctx context.Context, values jsondb.Row) (bool, error) {
	if err := q.checkWrite(); err != nil {
		return false, err
	}
	found := false
	ctx = jsondb.WithReason(ctx, "update "+q.table)
	err := q.db.store.Update(ctx, func(db jsondb.Database) (bool, error) {
		rows, ok := db[q.table]
		if !ok {
			return false, nil
		}
		found = true
		for _, row := range rows {
			ok, err := q.match(row)
			if err != nil {
				return false, err
			}
			if !ok {
				continue
			}
			for k, v := range values {
				row[k] = v
			}
		}
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// Delete removes every matching row. It returns false when the table does
// not exist.
func (q *Query) Delete(ctx context.Context) (bool, error) {
	if err := q.checkWrite(); err != nil {
		return false, err
	}
	found := false
	ctx = jsondb.WithReason(ctx, "delete "+q.table)
	err := q.db.store.Update(ctx, func(db jsondb.Database) (bool, error) {
		rows, ok := db[q.table]
		if !ok {
			return false, nil
		}
		found = true
		kept := make(jsondb.Table, 0, len(rows))
		for _, row := range rows {
			ok, err := q.match(row)
			if err != nil {
				return false, err
			}
			if !ok {
				kept = append(kept, row)
			}
		}
		db[q.table] = kept
		return true, nil
	})
	if err != nil {
		return false, err
	}
	return found, nil
}
