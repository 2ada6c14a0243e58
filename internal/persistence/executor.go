package persistence

import "context"

// Dialect identifies the SQL flavour behind an Executor. Both dialects accept
// $n positional placeholders, JSONB columns and ON CONFLICT upserts; they only
// differ in catalog queries.
type Dialect string

// Supported dialects.
const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Rows is a forward-only result set.
type Rows interface {
	Columns() []string
	Next() bool
	// Values returns the current row decoded to driver-native Go values.
	Values() ([]any, error)
	Err() error
	Close()
}

// Executor runs statements against the relational store. Implementations
// must be safe for concurrent use.
type Executor interface {
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
	// InTx runs fn inside a transaction. fn must only use the Executor it is
	// given; the transaction commits when fn returns nil.
	InTx(ctx context.Context, fn func(Executor) error) error
	Dialect() Dialect
	Ping(ctx context.Context) error
	Close() error
}

// Connector opens an Executor. It is invoked by Context.Connect, possibly
// several times while retrying.
type Connector func(ctx context.Context) (Executor, error)

// collectRows drains rows into memory so the underlying connection is
// released before rows are converted into entities. Status hooks fired during
// conversion may issue their own statements.
func collectRows(rows Rows) ([]string, [][]any, error) {
	defer rows.Close()

	cols := rows.Columns()
	var out [][]any
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, nil, err
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return cols, out, nil
}
