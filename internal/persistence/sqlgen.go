package persistence

import (
	"fmt"
	"strings"
)

// Index is a secondary index declared by an entity type.
type Index struct {
	Name    string
	Columns []string
}

// CreateTableSQL renders the idempotent DDL for the schema's table.
func (s *Schema) CreateTableSQL() string {
	return s.createTableSQL(s.Table)
}

func (s *Schema) createTableSQL(table string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS \"%s\" (\n    id TEXT PRIMARY KEY", table)
	for _, f := range s.Fields {
		fmt.Fprintf(&b, ",\n    %s %s", f.Name, f.Type.SQLType())
	}
	b.WriteString("\n);")
	return b.String()
}

// CreateIndexSQL renders the idempotent DDL for idx.
func (s *Schema) CreateIndexSQL(idx Index) string {
	return fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON "%s" (%s);`, idx.Name, s.Table, strings.Join(idx.Columns, ", "))
}

// UpsertSQL renders a multi-row insert-or-update for rows records. Every row
// shares the column list; on id conflict every non-id column takes the
// incoming value.
func (s *Schema) UpsertSQL(rows int) string {
	cols := s.Columns()
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO \"%s\" (%s)\nVALUES ", s.Table, strings.Join(cols, ", "))
	n := 0
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(",\n       ")
		}
		b.WriteByte('(')
		for c := range cols {
			if c > 0 {
				b.WriteString(", ")
			}
			n++
			fmt.Fprintf(&b, "$%d", n)
		}
		b.WriteByte(')')
	}
	b.WriteString("\nON CONFLICT(id) DO UPDATE SET")
	for i, f := range s.Fields {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "\n    %s = excluded.%s", f.Name, f.Name)
	}
	return b.String()
}

// rowArgs encodes e in column order.
func (s *Schema) rowArgs(e Entity) ([]any, error) {
	args := make([]any, 0, len(s.Fields)+1)
	args = append(args, e.record().id)
	for _, f := range s.Fields {
		v, err := encodeField(f, fieldValue(e, f))
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}
	return args, nil
}

func placeholders(start, n int) string {
	ph := make([]string, n)
	for i := range ph {
		ph[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(ph, ", ")
}

// ArchiveSQL renders the tombstone update for n ids: every non-id column is
// set to NULL and the row stays keyed by id.
func (s *Schema) ArchiveSQL(n int) string {
	sets := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		sets[i] = f.Name + " = NULL"
	}
	return fmt.Sprintf(`UPDATE "%s" SET %s WHERE id IN (%s)`, s.Table, strings.Join(sets, ", "), placeholders(1, n))
}

// DeleteSQL renders the delete for n ids.
func (s *Schema) DeleteSQL(n int) string {
	return fmt.Sprintf(`DELETE FROM "%s" WHERE id IN (%s)`, s.Table, placeholders(1, n))
}

// purgeSQL removes tombstones, optionally restricted to n ids.
func (s *Schema) purgeSQL(n int) string {
	q := fmt.Sprintf(`DELETE FROM "%s" WHERE status IS NULL`, s.Table)
	if n > 0 {
		q += fmt.Sprintf(" AND id IN (%s)", placeholders(1, n))
	}
	return q
}

// columnsSQL lists the existing columns of table in the given dialect.
func columnsSQL(d Dialect, table string) (string, []any) {
	if d == DialectSQLite {
		return "SELECT name FROM pragma_table_info($1)", []any{table}
	}
	return `SELECT column_name FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name = $1
ORDER BY ordinal_position`, []any{table}
}
