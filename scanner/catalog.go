package scanner

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/doug-martin/goqu/v9"
)

// Column describes one table column
type Column struct {
	Name     string
	DataType string // lower-cased base type, e.g. "varchar", "datetime"
	Primary  bool
}

// Table describes one base table
type Table struct {
	Name       string
	Columns    []Column
	PrimaryKey []string // In key order
}

// LoadCatalog lists the base tables of the current schema with their columns
func LoadCatalog(ctx context.Context, q Querier, dialect, schema string) ([]Table, error) {
	switch dialect {
	case DialectMySQL:
		return loadMySQLCatalog(ctx, q, schema)
	case DialectSQLite:
		return loadSQLiteCatalog(ctx, q)
	default:
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}
}

func loadMySQLCatalog(ctx context.Context, q Querier, schema string) ([]Table, error) {
	d := goqu.Dialect(DialectMySQL)

	query, args, err := d.
		From(goqu.S("information_schema").Table("columns").As("c")).
		Join(
			goqu.S("information_schema").Table("tables").As("t"),
			goqu.On(goqu.Ex{
				"t.table_schema": goqu.I("c.table_schema"),
				"t.table_name":   goqu.I("c.table_name"),
			}),
		).
		Select("c.table_name", "c.column_name", "c.data_type", "c.column_key").
		Where(goqu.Ex{
			"c.table_schema": schema,
			"t.table_type":   "BASE TABLE",
		}).
		Order(goqu.I("c.table_name").Asc(), goqu.I("c.ordinal_position").Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build catalog query: %w", err)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query catalog: %w", err)
	}
	defer rows.Close()

	var tables []Table
	for rows.Next() {
		var table, column, dataType, key string
		if err := rows.Scan(&table, &column, &dataType, &key); err != nil {
			return nil, fmt.Errorf("scan catalog row: %w", err)
		}

		if len(tables) == 0 || tables[len(tables)-1].Name != table {
			tables = append(tables, Table{Name: table})
		}
		t := &tables[len(tables)-1]

		col := Column{Name: column, DataType: baseType(dataType), Primary: key == "PRI"}
		t.Columns = append(t.Columns, col)
		if col.Primary {
			t.PrimaryKey = append(t.PrimaryKey, column)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	return tables, nil
}

func loadSQLiteCatalog(ctx context.Context, q Querier) ([]Table, error) {
	query, args, err := goqu.Dialect(DialectSQLite).
		From("sqlite_master").
		Select("name").
		Where(
			goqu.C("type").Eq("table"),
			goqu.C("name").NotLike("sqlite_%"),
		).
		Order(goqu.C("name").Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build catalog query: %w", err)
	}

	names, err := queryStrings(ctx, q, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query catalog: %w", err)
	}

	// Table info is read after the name cursor is closed; a single
	// connection cannot hold two open result sets.
	tables := make([]Table, 0, len(names))
	for _, name := range names {
		t, err := sqliteTableInfo(ctx, q, name)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, nil
}

func sqliteTableInfo(ctx context.Context, q Querier, name string) (Table, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteSQLite(name)))
	if err != nil {
		return Table{}, fmt.Errorf("table info %s: %w", name, err)
	}
	defer rows.Close()

	t := Table{Name: name}
	type keyCol struct {
		name string
		pos  int
	}
	var keys []keyCol

	for rows.Next() {
		var (
			cid     int
			col     string
			typ     string
			notNull int
			dflt    any
			pk      int
		)
		if err := rows.Scan(&cid, &col, &typ, &notNull, &dflt, &pk); err != nil {
			return Table{}, fmt.Errorf("scan table info %s: %w", name, err)
		}
		t.Columns = append(t.Columns, Column{Name: col, DataType: baseType(typ), Primary: pk > 0})
		if pk > 0 {
			keys = append(keys, keyCol{name: col, pos: pk})
		}
	}
	if err := rows.Err(); err != nil {
		return Table{}, fmt.Errorf("read table info %s: %w", name, err)
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i].pos < keys[j].pos })
	for _, k := range keys {
		t.PrimaryKey = append(t.PrimaryKey, k.name)
	}
	return t, nil
}

func queryStrings(ctx context.Context, q Querier, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// baseType strips size and modifiers: "VARCHAR(255)" -> "varchar"
func baseType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	if i := strings.IndexAny(t, "( "); i >= 0 {
		t = t[:i]
	}
	return t
}

func quoteSQLite(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
