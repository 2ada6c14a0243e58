package persistence

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cast"
	"go.uber.org/zap"
)

// RefreshMode selects what happens to the previous table when a schema is
// refreshed.
type RefreshMode int

const (
	// RefreshKeepOld renames the previous table to <name>_old, replacing
	// any earlier backup.
	RefreshKeepOld RefreshMode = iota
	// RefreshDropOld drops the previous table.
	RefreshDropOld
)

func (m RefreshMode) String() string {
	if m == RefreshDropOld {
		return "drop-old"
	}
	return "keep-old"
}

// ParseRefreshMode accepts "keep-old" and "drop-old".
func ParseRefreshMode(s string) (RefreshMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "keep-old", "keep":
		return RefreshKeepOld, nil
	case "drop-old", "drop":
		return RefreshDropOld, nil
	}
	return 0, fmt.Errorf("unknown refresh mode %q", s)
}

// RefreshSchema rebuilds the table from the current schema. Columns present
// in both the stored and the current schema are copied; dropped columns are
// discarded and new columns start NULL (their defaults on load). The swap
// runs in one transaction and the identity cache is cleared.
func (r *Repository[E]) RefreshSchema(ctx context.Context, mode RefreshMode) error {
	exec, err := r.executor(ctx)
	if err != nil {
		return err
	}
	existing, err := r.existingColumns(ctx, exec, r.typ.Name)
	if err != nil {
		return err
	}
	var shared []string
	for _, col := range r.schema.Columns() {
		if slices.Contains(existing, col) {
			shared = append(shared, col)
		}
	}

	table := r.typ.Name
	tmp := table + "_new"
	old := table + "_old"
	cols := strings.Join(shared, ", ")

	err = exec.InTx(ctx, func(tx Executor) error {
		stmts := make([]string, 0, 8+2*len(r.typ.Indexes))
		for _, idx := range r.typ.Indexes {
			stmts = append(stmts, fmt.Sprintf("DROP INDEX IF EXISTS %s", idx.Name))
		}
		stmts = append(stmts,
			fmt.Sprintf(`DROP TABLE IF EXISTS "%s"`, tmp),
			r.schema.createTableSQL(tmp),
			fmt.Sprintf(`INSERT INTO "%s" (%s) SELECT %s FROM "%s"`, tmp, cols, cols, table),
		)
		pg := tx.Dialect() == DialectPostgres
		if mode == RefreshKeepOld {
			stmts = append(stmts,
				fmt.Sprintf(`DROP TABLE IF EXISTS "%s"`, old),
				fmt.Sprintf(`ALTER TABLE "%s" RENAME TO "%s"`, table, old),
			)
			if pg {
				// Primary key indexes keep their name across a table rename.
				stmts = append(stmts, fmt.Sprintf(`ALTER INDEX IF EXISTS "%s_pkey" RENAME TO "%s_pkey"`, table, old))
			}
		} else {
			stmts = append(stmts, fmt.Sprintf(`DROP TABLE "%s"`, table))
		}
		stmts = append(stmts, fmt.Sprintf(`ALTER TABLE "%s" RENAME TO "%s"`, tmp, table))
		if pg {
			stmts = append(stmts, fmt.Sprintf(`ALTER INDEX IF EXISTS "%s_pkey" RENAME TO "%s_pkey"`, tmp, table))
		}
		for _, idx := range r.typ.Indexes {
			stmts = append(stmts, r.schema.CreateIndexSQL(idx))
		}

		for _, stmt := range stmts {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("%s: %w", stmt, err)
			}
		}
		return nil
	})
	if err != nil {
		return r.persistErr(err, "refresh", table)
	}

	r.cache.clear()
	r.dirty.Store(true)
	r.log.Warn("Table refreshed",
		zap.String("mode", mode.String()),
		zap.Strings("copied_columns", shared),
	)
	return nil
}

// existingColumns lists the stored columns of table.
func (r *Repository[E]) existingColumns(ctx context.Context, exec Executor, table string) ([]string, error) {
	sql, args := columnsSQL(exec.Dialect(), table)
	rows, err := exec.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s columns: %w", table, err)
	}
	_, data, err := collectRows(rows)
	if err != nil {
		return nil, fmt.Errorf("list %s columns: %w", table, err)
	}
	cols := make([]string, 0, len(data))
	for _, row := range data {
		cols = append(cols, cast.ToString(row[0]))
	}
	return cols, nil
}

// TableColumns lists the stored columns of the table, or of its _old backup
// when backup is true.
func (r *Repository[E]) TableColumns(ctx context.Context, backup bool) ([]string, error) {
	exec, err := r.executor(ctx)
	if err != nil {
		return nil, err
	}
	table := r.typ.Name
	if backup {
		table += "_old"
	}
	return r.existingColumns(ctx, exec, table)
}
